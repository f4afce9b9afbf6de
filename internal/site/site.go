// Package site resolves a museum name and its input into the identifiers to
// harvest and the fetcher that resolves them.
package site

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/heritage-harvester/internal/harvest"
	"github.com/JakeFAU/heritage-harvester/internal/input"
	"github.com/JakeFAU/heritage-harvester/internal/input/zotero"
	"github.com/JakeFAU/heritage-harvester/internal/site/hermitage"
	"github.com/JakeFAU/heritage-harvester/internal/site/page"
	"github.com/JakeFAU/heritage-harvester/internal/site/vanda"
	"github.com/JakeFAU/heritage-harvester/internal/site/wallace"
)

// Config carries per-site endpoints. Empty values select the public defaults.
type Config struct {
	VandaAPIURL   string
	VandaMediaURL string
	WallaceURL    string
	HermitageURL  string
}

// Discoverer lists the objects behind a search URL.
type Discoverer interface {
	Discover(ctx context.Context, searchURL string) ([]input.Entry, error)
}

// Waiter throttles outbound requests.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Deps are the shared clients fetchers are built on.
type Deps struct {
	Pages   *page.Client
	API     *resty.Client
	Limiter Waiter
	Clock   harvest.Clock
	// Discoverer is only required for sites whose input is a search URL.
	Discoverer Discoverer
}

// Source is a ready-to-run harvest input.
type Source struct {
	Site    string
	IDs     []string
	Catalog *input.Catalog
	Fetcher harvest.ItemFetcher
}

type opener func(ctx context.Context, in string, cfg Config, deps Deps, logger *zap.Logger) (Source, error)

var registry = map[string]opener{
	vanda.Site:     openVanda,
	wallace.Site:   openWallace,
	hermitage.Site: openHermitage,
}

// Names lists the supported sites.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open reads the input for name and builds its fetcher. in is a file path
// for the Zotero based sites and a search URL for the Hermitage.
func Open(ctx context.Context, name, in string, cfg Config, deps Deps, logger *zap.Logger) (Source, error) {
	open, ok := registry[name]
	if !ok {
		return Source{}, fmt.Errorf("unknown site %q (want one of %s)", name, strings.Join(Names(), ", "))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	src, err := open(ctx, in, cfg, deps, logger)
	if err != nil {
		return Source{}, fmt.Errorf("open %s input: %w", name, err)
	}
	src.Site = name
	src.IDs = src.Catalog.IDs()
	logger.Info("input loaded", zap.String("site", name), zap.Int("objects", len(src.IDs)))
	return src, nil
}

func openVanda(_ context.Context, in string, cfg Config, deps Deps, logger *zap.Logger) (Source, error) {
	f, err := os.Open(in)
	if err != nil {
		return Source{}, err
	}
	defer f.Close()
	entries, err := zotero.ReadEntries(f, zotero.Options{
		Pattern:              vanda.IDPattern,
		IgnoreTagsContaining: []string{";"},
	})
	if err != nil {
		return Source{}, err
	}
	catalog := input.NewCatalog(entries)
	fetcher := vanda.New(vanda.Config{APIURL: cfg.VandaAPIURL, MediaURL: cfg.VandaMediaURL},
		deps.API, catalog, deps.Limiter, deps.Clock, logger)
	return Source{Catalog: catalog, Fetcher: fetcher}, nil
}

func openWallace(_ context.Context, in string, cfg Config, deps Deps, logger *zap.Logger) (Source, error) {
	if deps.Pages == nil {
		return Source{}, fmt.Errorf("page client is required")
	}
	f, err := os.Open(in)
	if err != nil {
		return Source{}, err
	}
	defer f.Close()
	ids, err := zotero.ScanIDs(f, wallace.IDPattern)
	if err != nil {
		return Source{}, err
	}
	entries := make([]input.Entry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, input.Entry{ID: id})
	}
	return Source{
		Catalog: input.NewCatalog(entries),
		Fetcher: wallace.New(cfg.WallaceURL, deps.Pages, deps.Clock, logger),
	}, nil
}

func openHermitage(ctx context.Context, in string, cfg Config, deps Deps, logger *zap.Logger) (Source, error) {
	if deps.Pages == nil || deps.Discoverer == nil {
		return Source{}, fmt.Errorf("page client and discoverer are required")
	}
	entries, err := deps.Discoverer.Discover(ctx, in)
	if err != nil {
		return Source{}, err
	}
	catalog := input.NewCatalog(entries)
	return Source{
		Catalog: catalog,
		Fetcher: hermitage.New(cfg.HermitageURL, deps.Pages, catalog, deps.Clock, logger),
	}, nil
}
