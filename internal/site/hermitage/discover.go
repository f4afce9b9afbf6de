package hermitage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/heritage-harvester/internal/input"
)

const (
	paginationSelector = ".her-pagination"
	resultLinksJS      = `Array.from(document.querySelectorAll('.her-search-results-row a')).map(a => a.href)`
	pageLabelsJS       = `Array.from(document.querySelectorAll('.her-pagination li')).map(li => li.innerText.trim())`
)

// DiscoverConfig controls the headless browser used for search pagination.
type DiscoverConfig struct {
	UserAgent string
	// PageTimeout bounds each navigation and page turn.
	PageTimeout time.Duration
}

// Discoverer walks a search result list whose pagination only works with JavaScript.
type Discoverer struct {
	cfg         DiscoverConfig
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewDiscoverer starts a headless Chrome allocator.
func NewDiscoverer(cfg DiscoverConfig, logger *zap.Logger) *Discoverer {
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Discoverer{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger.Named("hermitage_discover"),
	}
}

// Close shuts the browser down.
func (d *Discoverer) Close() {
	d.allocCancel()
}

// Discover returns one entry per object linked from every page of searchURL,
// in result order without duplicates.
func (d *Discoverer) Discover(ctx context.Context, searchURL string) ([]input.Entry, error) {
	taskCtx, taskCancel := chromedp.NewContext(d.allocator)
	defer taskCancel()
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	var labels []string
	if err := d.step(taskCtx,
		d.userAgent(),
		chromedp.Navigate(searchURL),
		chromedp.WaitVisible(paginationSelector, chromedp.ByQuery),
		chromedp.Evaluate(pageLabelsJS, &labels),
	); err != nil {
		return nil, fmt.Errorf("open search %s: %w", searchURL, err)
	}
	pages := MaxPage(labels)
	d.logger.Info("search opened", zap.String("url", searchURL), zap.Int("pages", pages))

	var links []string
	for p := 1; p <= pages; p++ {
		var pageLinks []string
		if err := d.step(taskCtx, chromedp.Evaluate(resultLinksJS, &pageLinks)); err != nil {
			return nil, fmt.Errorf("read results page %d: %w", p, err)
		}
		links = append(links, pageLinks...)
		if p == pages {
			break
		}
		if err := d.turnPage(taskCtx, p+1, first(pageLinks)); err != nil {
			return nil, fmt.Errorf("open results page %d: %w", p+1, err)
		}
	}

	entries := EntriesFromLinks(links, d.logger)
	if len(entries) == 0 {
		d.logger.Warn("no objects discovered", zap.String("url", searchURL))
	}
	return entries, nil
}

// turnPage clicks the pagination item labelled target and waits for the
// result list to change.
func (d *Discoverer) turnPage(ctx context.Context, target int, previousFirst string) error {
	var clicked, ready bool
	click := fmt.Sprintf(`(() => {
		const li = Array.from(document.querySelectorAll('.her-pagination li')).find(li => li.innerText.trim() === %q);
		if (!li) { return false; }
		(li.querySelector('a') || li).click();
		return true;
	})()`, strconv.Itoa(target))
	changed := fmt.Sprintf(`(() => {
		const a = document.querySelector('.her-search-results-row a');
		return a !== null && a.href !== %s;
	})()`, strconv.Quote(previousFirst))

	if err := d.step(ctx, chromedp.Evaluate(click, &clicked)); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("no pagination item %d", target)
	}
	return d.step(ctx,
		chromedp.Poll(changed, &ready, chromedp.WithPollingTimeout(d.cfg.PageTimeout)),
		chromedp.WaitVisible(paginationSelector, chromedp.ByQuery),
	)
}

func (d *Discoverer) step(ctx context.Context, actions ...chromedp.Action) error {
	stepCtx, cancel := context.WithTimeout(ctx, d.cfg.PageTimeout)
	defer cancel()
	if err := chromedp.Run(stepCtx, actions...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func (d *Discoverer) userAgent() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if d.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(d.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

// MaxPage returns the highest numeric pagination label, at least 1.
func MaxPage(labels []string) int {
	maxPage := 1
	for _, l := range labels {
		if n, err := strconv.Atoi(strings.TrimSpace(l)); err == nil && n > maxPage {
			maxPage = n
		}
	}
	return maxPage
}

// EntriesFromLinks converts result links into catalog entries, skipping
// links that are not collection objects and repeated ids.
func EntriesFromLinks(links []string, logger *zap.Logger) []input.Entry {
	if logger == nil {
		logger = zap.NewNop()
	}
	seen := map[string]struct{}{}
	var entries []input.Entry
	for _, link := range links {
		id, err := IDFromURL(link)
		if err != nil {
			logger.Debug("skipping link", zap.String("url", link), zap.Error(err))
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		entries = append(entries, input.Entry{ID: id, URL: link})
	}
	return entries
}

func first(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}
