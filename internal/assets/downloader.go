package assets

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/JakeFAU/heritage-harvester/internal/harvest"
)

// Waiter throttles outbound requests.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// HTTPDownloader fetches asset bytes over HTTP.
type HTTPDownloader struct {
	client  *resty.Client
	limiter Waiter
}

// NewHTTPDownloader builds a downloader on client. limiter may be nil.
func NewHTTPDownloader(client *resty.Client, limiter Waiter) *HTTPDownloader {
	if client == nil {
		client = resty.New()
	}
	return &HTTPDownloader{client: client, limiter: limiter}
}

// Download returns the response body for url. Non-2xx responses become
// *harvest.StatusError.
func (d *HTTPDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx, url); err != nil {
			return nil, err
		}
	}
	resp, err := d.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &harvest.StatusError{Code: resp.StatusCode(), URL: url}
	}
	return resp.Body(), nil
}
