// Package wallace scrapes object pages of the Wallace Collection eMuseumPlus site.
package wallace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/JakeFAU/heritage-harvester/internal/harvest"
	"github.com/JakeFAU/heritage-harvester/internal/site/page"
)

// Site is the registry name of this fetcher.
const Site = "wallace"

// DefaultBaseURL is the public eMuseumPlus host.
const DefaultBaseURL = "http://wallacelive.wallacecollection.org"

const detailPath = "/eMuseumPlus?service=ExternalInterface&module=collection&viewType=detailView&objectId="

// IDPattern finds object ids anywhere in an input file.
var IDPattern = regexp.MustCompile(`objectId=([0-9]+)`)

var popupPattern = regexp.MustCompile(`(/eMuseumPlus.*=F)`)

// ErrNoImage is returned when a page does not link to its image popup.
var ErrNoImage = errors.New("no image link")

const detailList = "/html/body/div[1]/div[4]/div[2]/div[2]/dl[1]/dd[1]/ul[1]"

// fieldXPaths maps record fields to their location on a detail page.
var fieldXPaths = map[string]string{
	"object_name":    detailList + "/li[1]/span[1]/text()",
	"title":          detailList + "/li[2]/span[1]/text()",
	"reference":      detailList + "/li[3]/span/span/a/span/text()",
	"reference_data": detailList + "/li[4]/span[1]/text()",
	"place_artist":   detailList + "/li[5]/span[1]/text()",
	"dates_all":      detailList + "/li[6]/span[1]/text()",
	"material":       detailList + "/li[7]/span[1]/text()",
	"dimensions":     detailList + "/li[8]/span[1]/text()",
	"marks":          detailList + "/li[9]/span[1]/text()",
	"museum_number":  detailList + "/li[10]/span[1]/text()",
	"commentary":     "/html/body/div[1]/div[4]/div[2]/div[2]/dl[2]/dd/div/ul/li/span[1]/text()",
}

const (
	imageLinkXPath = "/html/body/div[1]/div[4]/div[2]/div[2]/dl[1]/dt[1]/a/@href"
	// The HTML parser inserts tbody, so rows are matched at any depth.
	popupImageXPath = "/html/body/div/table//tr/td/img/@src"
)

// PageGetter fetches and parses HTML pages.
type PageGetter interface {
	Get(ctx context.Context, url string) (*html.Node, error)
}

// Fetcher implements harvest.ItemFetcher for the Wallace Collection.
type Fetcher struct {
	baseURL string
	pages   PageGetter
	clock   harvest.Clock
	logger  *zap.Logger
}

// New builds a Fetcher. An empty baseURL selects DefaultBaseURL.
func New(baseURL string, pages PageGetter, clock harvest.Clock, logger *zap.Logger) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		pages:   pages,
		clock:   clock,
		logger:  logger.Named("wallace"),
	}
}

// Fetch scrapes the detail page of id and follows its image popup to find
// the full size image.
func (f *Fetcher) Fetch(ctx context.Context, id string) harvest.Outcome {
	doc, err := f.pages.Get(ctx, f.baseURL+detailPath+id)
	if err != nil {
		return harvest.Classify(err)
	}

	fields := make(map[string]string, len(fieldXPaths))
	for key, expr := range fieldXPaths {
		if v := page.Text(doc, expr); v != "" {
			fields[key] = v
		}
	}

	link := page.Text(doc, imageLinkXPath)
	m := popupPattern.FindStringSubmatch(link)
	if m == nil {
		return harvest.Transient(fmt.Errorf("object %s: %w", id, ErrNoImage))
	}
	popup, err := f.pages.Get(ctx, f.baseURL+m[1])
	if err != nil {
		return harvest.Classify(err)
	}
	src := page.Text(popup, popupImageXPath)
	if src == "" {
		return harvest.Transient(fmt.Errorf("object %s popup: %w", id, ErrNoImage))
	}
	imageURL := f.baseURL + src
	fields["image_url"] = imageURL

	verbose, err := json.Marshal(fields)
	if err != nil {
		return harvest.Permanent(fmt.Errorf("encode fields of %s: %w", id, err))
	}
	rec := &harvest.Record{
		ID:      id,
		Site:    Site,
		Title:   fields["title"],
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
