package vanda

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/heritage-harvester/internal/harvest"
	"github.com/JakeFAU/heritage-harvester/internal/input"
)

const teapot = `[{"model":"collection.museumobject","pk":1,"fields":{
	"object_number":"O12345",
	"title":"Teapot",
	"object":"teapot",
	"date_text":"ca. 1750",
	"primary_image_id":"2006AM1234",
	"image_set":[
		{"fields":{"image_id":"2006AM1234"}},
		{"fields":{"image_id":"2010EW5678"}}
	]}}]`

func TestFetchBuildsRecord(t *testing.T) {
	t.Parallel()

	srv := newServer(t, map[string]response{"/O12345": {http.StatusOK, teapot}})
	catalog := input.NewCatalog([]input.Entry{{ID: "O12345", Title: "Zotero title", Tag: "ceramics"}})
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f := New(Config{APIURL: srv.URL, MediaURL: "http://media.test/images"}, resty.New(), catalog, nil, fixedClock{now}, nil)

	out := f.Fetch(context.Background(), "O12345")
	require.NoError(t, out.Validate())
	require.Equal(t, harvest.OutcomeSuccess, out.Kind)

	rec := out.Record
	require.Equal(t, Site, rec.Site)
	require.Equal(t, "Zotero title", rec.Title)
	require.Equal(t, "ceramics", rec.Tag)
	require.Equal(t, now, rec.FetchedAt)
	require.Equal(t, "ca. 1750", rec.Fields["date_text"])
	require.True(t, rec.Enriched())
	require.Equal(t, []harvest.Asset{
		{Name: "O12345_0.jpg", URL: "http://media.test/images/2006AM/2006AM1234.jpg"},
		{Name: "O12345_1.jpg", URL: "http://media.test/images/2010EW/2010EW5678.jpg"},
	}, rec.Assets)
}

func TestFetchClassifiesFailures(t *testing.T) {
	t.Parallel()

	srv := newServer(t, map[string]response{
		"/O1": {http.StatusNotFound, ""},
		"/O2": {http.StatusServiceUnavailable, ""},
		"/O3": {http.StatusOK, `[{"fields":{"object_number":"O999"}}]`},
		"/O4": {http.StatusOK, `not json`},
		"/O5": {http.StatusOK, `[]`},
		"/O6": {http.StatusTooManyRequests, ""},
		"/O7": {http.StatusForbidden, ""},
	})
	f := New(Config{APIURL: srv.URL}, resty.New(), nil, nil, nil, nil)

	cases := map[string]harvest.OutcomeKind{
		"O1": harvest.OutcomePermanent,
		"O2": harvest.OutcomeTransient,
		"O3": harvest.OutcomePermanent,
		"O4": harvest.OutcomeTransient,
		"O5": harvest.OutcomePermanent,
		"O6": harvest.OutcomeTransient,
		"O7": harvest.OutcomePermanent,
	}
	for id, want := range cases {
		out := f.Fetch(context.Background(), id)
		require.NoError(t, out.Validate(), id)
		require.Equal(t, want, out.Kind, id)
	}

	out := f.Fetch(context.Background(), "O3")
	require.ErrorIs(t, out.Reason, ErrIDMismatch)
}

func TestFetchHonorsLimiter(t *testing.T) {
	t.Parallel()

	srv := newServer(t, map[string]response{"/O12345": {http.StatusOK, teapot}})
	lim := &countingWaiter{}
	f := New(Config{APIURL: srv.URL}, resty.New(), nil, lim, nil, nil)

	require.Equal(t, harvest.OutcomeSuccess, f.Fetch(context.Background(), "O12345").Kind)
	require.Equal(t, 1, lim.calls)
}

func TestIDPattern(t *testing.T) {
	t.Parallel()

	m := IDPattern.FindStringSubmatch("http://collections.vam.ac.uk/item/O98765/a-chair/")
	require.Equal(t, "O98765", m[IDPattern.SubexpIndex("objectId")])
	require.Nil(t, IDPattern.FindStringSubmatch("http://collections.vam.ac.uk/search/"))
}

// --- fakes ---

type response struct {
	code int
	body string
}

func newServer(t *testing.T, routes map[string]response) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.code)
		_, _ = w.Write([]byte(resp.body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type countingWaiter struct{ calls int }

func (w *countingWaiter) Wait(context.Context, string) error {
	w.calls++
	return nil
}
