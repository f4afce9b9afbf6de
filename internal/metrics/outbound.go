package metrics

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// Outbound records requests the harvester makes to museum hosts.
type Outbound struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewOutbound registers the outbound collectors with reg. A nil reg uses the
// default registerer.
func NewOutbound(reg prometheus.Registerer) (*Outbound, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Outbound{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_outbound_requests_total",
				Help: "Requests sent to remote hosts, labeled by host and code (0 on transport error).",
			},
			[]string{"host", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_outbound_request_duration_seconds",
				Help:    "Latency of requests sent to remote hosts.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"host"},
		),
	}
	for _, c := range []prometheus.Collector{m.requests, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register outbound metrics: %w", err)
		}
	}
	return m, nil
}

// Instrument hooks client so every response and transport error is counted.
func (m *Outbound) Instrument(client *resty.Client) {
	client.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		host := hostOf(resp.Request.URL)
		m.requests.WithLabelValues(host, strconv.Itoa(resp.StatusCode())).Inc()
		m.duration.WithLabelValues(host).Observe(resp.Time().Seconds())
		return nil
	})
	client.OnError(func(req *resty.Request, err error) {
		var respErr *resty.ResponseError
		if errors.As(err, &respErr) && respErr.Response != nil {
			return
		}
		m.requests.WithLabelValues(hostOf(req.URL), "0").Inc()
	})
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}
