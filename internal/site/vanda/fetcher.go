// Package vanda resolves Victoria and Albert Museum objects through the
// collections JSON API.
package vanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/heritage-harvester/internal/harvest"
	"github.com/JakeFAU/heritage-harvester/internal/input"
)

// Site is the registry name of this fetcher.
const Site = "vanda"

// Defaults for the public V&A endpoints.
const (
	DefaultAPIURL   = "http://www.vam.ac.uk/api/json/museumobject/"
	DefaultMediaURL = "http://media.vam.ac.uk/media/thira/collection_images/"
)

// IDPattern extracts object numbers from collection page URLs.
var IDPattern = regexp.MustCompile(`item/(?P<objectId>O[0-9]+)`)

// ErrIDMismatch is returned when the API answers with a different object.
var ErrIDMismatch = errors.New("object number mismatch")

// Waiter throttles outbound requests.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config points the fetcher at the API.
type Config struct {
	APIURL   string
	MediaURL string
}

// Fetcher implements harvest.ItemFetcher for the V&A API.
type Fetcher struct {
	cfg     Config
	client  *resty.Client
	catalog *input.Catalog
	limiter Waiter
	clock   harvest.Clock
	logger  *zap.Logger
}

// New builds a Fetcher. catalog supplies titles and tags from the input and may be nil.
func New(cfg Config, client *resty.Client, catalog *input.Catalog, limiter Waiter, clock harvest.Clock, logger *zap.Logger) *Fetcher {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.MediaURL == "" {
		cfg.MediaURL = DefaultMediaURL
	}
	if client == nil {
		client = resty.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:     cfg,
		client:  client,
		catalog: catalog,
		limiter: limiter,
		clock:   clock,
		logger:  logger.Named("vanda"),
	}
}

// Fetch resolves id into a record listing the object's images.
func (f *Fetcher) Fetch(ctx context.Context, id string) harvest.Outcome {
	url := strings.TrimRight(f.cfg.APIURL, "/") + "/" + id
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, url); err != nil {
			return harvest.Transient(err)
		}
	}
	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return harvest.Transient(fmt.Errorf("GET %s: %w", url, err))
	}
	if resp.StatusCode() != http.StatusOK {
		return harvest.Classify(&harvest.StatusError{Code: resp.StatusCode(), URL: url})
	}

	var objects []apiObject
	if err := json.Unmarshal(resp.Body(), &objects); err != nil {
		return harvest.Transientf("decode %s: %w", url, err)
	}
	if len(objects) == 0 {
		return harvest.Permanent(fmt.Errorf("%s: %w", id, harvest.ErrNotFound))
	}

	var fields objectFields
	if err := json.Unmarshal(objects[0].Fields, &fields); err != nil {
		return harvest.Transientf("decode fields of %s: %w", id, err)
	}
	if fields.ObjectNumber != id {
		return harvest.Permanent(fmt.Errorf("%w: asked %s, got %q", ErrIDMismatch, id, fields.ObjectNumber))
	}

	rec := &harvest.Record{
		ID:      id,
		Site:    Site,
		Title:   fields.Title,
		Fields:  fields.strings(),
		Verbose: objects[0].Fields,
	}
	if entry, ok := f.catalog.Lookup(id); ok {
		rec.Tag = entry.Tag
		if entry.Title != "" {
			rec.Title = entry.Title
		}
	}
	if f.clock != nil {
		rec.FetchedAt = f.clock.Now()
	}
	for n, imageID := range fields.imageIDs() {
		rec.Assets = append(rec.Assets, harvest.Asset{
			Name: harvest.AssetFileName(id, n),
			URL:  f.imageURL(imageID),
		})
	}
	f.logger.Debug("object described", zap.String("object_id", id), zap.Int("images", len(rec.Assets)))
	return harvest.Success(rec)
}

// imageURL shards images by the first six characters of their id.
func (f *Fetcher) imageURL(imageID string) string {
	shard := imageID
	if len(shard) > 6 {
		shard = shard[:6]
	}
	return strings.TrimRight(f.cfg.MediaURL, "/") + "/" + shard + "/" + imageID + harvest.ImageExt
}

type apiObject struct {
	Fields json.RawMessage `json:"fields"`
}

type objectFields struct {
	ObjectNumber   string `json:"object_number"`
	Title          string `json:"title"`
	ObjectName     string `json:"object"`
	Artist         string `json:"artist"`
	Date           string `json:"date_text"`
	Place          string `json:"place"`
	Materials      string `json:"materials_techniques"`
	Dimensions     string `json:"dimensions"`
	Location       string `json:"location"`
	PrimaryImageID string `json:"primary_image_id"`
	ImageSet       []struct {
		Fields struct {
			ImageID string `json:"image_id"`
		} `json:"fields"`
	} `json:"image_set"`
}

func (o objectFields) strings() map[string]string {
	out := map[string]string{}
	for k, v := range map[string]string{
		"object_number":        o.ObjectNumber,
		"title":                o.Title,
		"object":               o.ObjectName,
		"artist":               o.Artist,
		"date_text":            o.Date,
		"place":                o.Place,
		"materials_techniques": o.Materials,
		"dimensions":           o.Dimensions,
		"location":             o.Location,
	} {
		if v = strings.TrimSpace(v); v != "" {
			out[k] = v
		}
	}
	return out
}

// imageIDs lists the primary image first, then the rest of the image set, without repeats.
func (o objectFields) imageIDs() []string {
	seen := map[string]struct{}{}
	var ids []string
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	add(o.PrimaryImageID)
	for _, img := range o.ImageSet {
		add(img.Fields.ImageID)
	}
	return ids
}
