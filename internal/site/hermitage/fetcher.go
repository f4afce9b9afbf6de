// Package hermitage scrapes work-of-art pages of the State Hermitage Museum
// digital collection.
package hermitage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/JakeFAU/heritage-harvester/internal/harvest"
	"github.com/JakeFAU/heritage-harvester/internal/input"
	"github.com/JakeFAU/heritage-harvester/internal/site/page"
)

// Site is the registry name of this fetcher.
const Site = "hermitage"

// DefaultBaseURL prefixes relative image sources.
const DefaultBaseURL = "https://www.hermitagemuseum.org/"

const (
	tableXPath = "//section[@class='her-data-table']"
	imageXPath = "/html/body/div/div[2]/div[3]/div[2]/div/div/section/div[2]/div[3]/div[1]/section/div/div[1]/div/div/div/img/@src"

	collectionMarker = "/digital-collection/"
)

var (
	// ErrUnknownObject is returned for ids that were not discovered in this run.
	ErrUnknownObject = errors.New("object not in catalog")
	// ErrMalformedPage is returned when the data table or image is missing.
	ErrMalformedPage = errors.New("malformed object page")
)

// fieldKeys maps data table labels to record fields.
var fieldKeys = map[string]string{
	"Author:":                      "author",
	"Authors:":                     "authors",
	"Title:":                       "title",
	"Place:":                       "place",
	"Place of creation:":           "place",
	"Manufacture, workshop, firm:": "workshop",
	"Date:":                        "date",
	"School:":                      "school",
	"Material:":                    "material",
	"Technique:":                   "technique",
	"Dimensions:":                  "dimensions",
	"Inventory Number:":            "inventory_nr",
	"Category:":                    "category",
	"Collection:":                  "collection",
	"Subcollection:":               "sub_collection",
}

// PageGetter fetches and parses HTML pages.
type PageGetter interface {
	Get(ctx context.Context, url string) (*html.Node, error)
}

// IDFromURL derives the object id from a digital collection URL.
func IDFromURL(rawURL string) (string, error) {
	_, rest, ok := strings.Cut(rawURL, collectionMarker)
	rest = strings.Trim(rest, "/")
	if !ok || rest == "" {
		return "", fmt.Errorf("no %q segment in %q", collectionMarker, rawURL)
	}
	return strings.ReplaceAll(rest, "/", "_"), nil
}

// Fetcher implements harvest.ItemFetcher for discovered Hermitage objects.
type Fetcher struct {
	baseURL string
	pages   PageGetter
	catalog *input.Catalog
	clock   harvest.Clock
	logger  *zap.Logger
}

// New builds a Fetcher resolving ids through catalog.
func New(baseURL string, pages PageGetter, catalog *input.Catalog, clock harvest.Clock, logger *zap.Logger) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		baseURL: baseURL,
		pages:   pages,
		catalog: catalog,
		clock:   clock,
		logger:  logger.Named("hermitage"),
	}
}

// Fetch scrapes the page discovered for id.
func (f *Fetcher) Fetch(ctx context.Context, id string) harvest.Outcome {
	entry, ok := f.catalog.Lookup(id)
	if !ok || entry.URL == "" {
		return harvest.Permanent(fmt.Errorf("%s: %w", id, ErrUnknownObject))
	}
	doc, err := f.pages.Get(ctx, entry.URL)
	if err != nil {
		return harvest.Classify(err)
	}

	table := htmlquery.FindOne(doc, tableXPath)
	if table == nil {
		return harvest.Transient(fmt.Errorf("%s: %w: no data table", id, ErrMalformedPage))
	}
	fields := readTable(table)
	src := page.Text(doc, imageXPath)
	if src == "" {
		return harvest.Transient(fmt.Errorf("%s: %w: no image", id, ErrMalformedPage))
	}
	imageURL := f.absolute(src)
	fields["image_url"] = imageURL

	verbose, err := json.Marshal(fields)
	if err != nil {
		return harvest.Permanent(fmt.Errorf("encode fields of %s: %w", id, err))
	}
	rec := &harvest.Record{
		ID:      id,
		Site:    Site,
		Title:   fields["title"],
		Tag:     entry.Tag,
		Fields:  fields,
		Assets:  []harvest.Asset{{Name: harvest.PrimaryAssetFileName(id), URL: imageURL}},
		Verbose: verbose,
	}
	if f.clock != nil {
		rec.FetchedAt = f.clock.Now()
	}
	f.logger.Debug("object described", zap.String("object_id", id), zap.Int("fields", len(fields)))
	return harvest.Success(rec)
}

// readTable walks the label/value rows of the data table until a row has no label.
func readTable(table *html.Node) map[string]string {
	fields := map[string]string{}
	for i := 1; ; i++ {
		label := htmlquery.FindOne(table, fmt.Sprintf("div[%d]/div[1]/p", i))
		if label == nil {
			return fields
		}
		key, ok := fieldKeys[strings.TrimRight(strings.ReplaceAll(htmlquery.InnerText(label), "\n", ""), " ")]
		if !ok {
			continue
		}
		value := page.Text(table, fmt.Sprintf("div[%d]/div[2]/a", i))
		if value == "" {
			value = page.Text(table, fmt.Sprintf("div[%d]/div[2]/p", i))
		}
		if value != "" {
			fields[key] = value
		}
	}
}

func (f *Fetcher) absolute(src string) string {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return src
	}
	return strings.TrimRight(f.baseURL, "/") + "/" + strings.TrimLeft(src, "/")
}
