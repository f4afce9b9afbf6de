// Package app builds the long-lived services of a harvest run and tears them
// down in order.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/heritage-harvester/internal/api"
	"github.com/JakeFAU/heritage-harvester/internal/assets"
	"github.com/JakeFAU/heritage-harvester/internal/clock/system"
	"github.com/JakeFAU/heritage-harvester/internal/config"
	"github.com/JakeFAU/heritage-harvester/internal/harvest"
	"github.com/JakeFAU/heritage-harvester/internal/hash/sha256"
	"github.com/JakeFAU/heritage-harvester/internal/id/uuid"
	"github.com/JakeFAU/heritage-harvester/internal/ledger"
	fileledger "github.com/JakeFAU/heritage-harvester/internal/ledger/file"
	memoryledger "github.com/JakeFAU/heritage-harvester/internal/ledger/memory"
	pgledger "github.com/JakeFAU/heritage-harvester/internal/ledger/postgres"
	"github.com/JakeFAU/heritage-harvester/internal/metrics"
	"github.com/JakeFAU/heritage-harvester/internal/pipeline"
	"github.com/JakeFAU/heritage-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/heritage-harvester/internal/progress"
	progresssinks "github.com/JakeFAU/heritage-harvester/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/heritage-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/heritage-harvester/internal/site"
	"github.com/JakeFAU/heritage-harvester/internal/site/hermitage"
	"github.com/JakeFAU/heritage-harvester/internal/site/page"
	gcsstorage "github.com/JakeFAU/heritage-harvester/internal/storage/gcs"
	localstorage "github.com/JakeFAU/heritage-harvester/internal/storage/local"
	memorystorage "github.com/JakeFAU/heritage-harvester/internal/storage/memory"
)

// Ledger file names inside the output directory.
const (
	ResolvedLedgerFile = "downloaded.txt"
	FailedLedgerFile   = "failed.txt"
)

// App contains the dependencies of one harvest run.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store     harvest.BlobStore
	resolved  harvest.Ledger
	failed    harvest.Ledger
	publisher harvest.Publisher
	hub       *progress.Hub
	snapshots *progresssinks.SnapshotSink
	registry  *prometheus.Registry
	limiter   *ratelimit.Limiter
	api       *resty.Client
	pages     *page.Client
	clock     harvest.Clock

	gcsClient    *storage.Client
	pubsubClient *pubsub.Client
	gcpPublisher *gcppublisher.Publisher
	ledgerStore  *pgledger.Store
	discoverer   *hermitage.Discoverer
	opsServer    *http.Server
}

// Build creates the application's dependencies. On error everything built so
// far is closed.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, clock: system.New()}
	defer func() {
		if err != nil {
			a.Close(context.WithoutCancel(ctx))
		}
	}()

	if err = a.prepareOutput(); err != nil {
		return nil, err
	}
	if err = a.setupStorage(ctx); err != nil {
		return nil, err
	}
	if err = a.setupLedgers(ctx); err != nil {
		return nil, err
	}
	if err = a.setupPublisher(ctx); err != nil {
		return nil, err
	}
	if err = a.setupProgress(); err != nil {
		return nil, err
	}
	if err = a.setupClients(); err != nil {
		return nil, err
	}
	if err = a.setupOpsServer(); err != nil {
		return nil, err
	}
	return a, nil
}

// Run reads the configured input and harvests it.
func (a *App) Run(ctx context.Context) (harvest.Summary, error) {
	if a.cfg.Harvest.Site == hermitage.Site && a.cfg.Headless.Enabled {
		a.discoverer = hermitage.NewDiscoverer(hermitage.DiscoverConfig{
			UserAgent:   a.cfg.HTTP.UserAgent,
			PageTimeout: a.cfg.NavigationTimeout(),
		}, a.logger)
	}
	deps := site.Deps{Pages: a.pages, API: a.api, Limiter: a.limiter, Clock: a.clock}
	if a.discoverer != nil {
		deps.Discoverer = a.discoverer
	}
	src, err := site.Open(ctx, a.cfg.Harvest.Site, a.cfg.Harvest.Input, site.Config{
		VandaAPIURL:   a.cfg.Sites.Vanda.APIURL,
		VandaMediaURL: a.cfg.Sites.Vanda.MediaURL,
		WallaceURL:    a.cfg.Sites.Wallace.BaseURL,
		HermitageURL:  a.cfg.Sites.Hermitage.BaseURL,
	}, deps, a.logger)
	if err != nil {
		return harvest.Summary{}, err
	}

	downloader := assets.NewHTTPDownloader(a.api, a.limiter)
	fetcher := assets.NewResolver(src.Fetcher, a.store, downloader, sha256.New(), a.logger)

	p, err := pipeline.New(pipeline.Config{
		Site:           src.Site,
		MaxConcurrency: a.cfg.Harvest.MaxConcurrency,
		RetryCeiling:   a.cfg.Harvest.RetryCeiling,
		Resume:         a.cfg.Harvest.Resume,
		RetryFailed:    a.cfg.Harvest.RetryFailed,
		AggregateFile:  a.cfg.Harvest.AggregateFile,
		Topic:          a.cfg.PubSub.TopicName,
		SinkBuffer:     a.cfg.Harvest.SinkBuffer,
	}, pipeline.Deps{
		Fetcher:   fetcher,
		Store:     a.store,
		Resolved:  a.resolved,
		Failed:    a.failed,
		Publisher: a.publisher,
		Emitter:   a.hub,
		Clock:     a.clock,
		IDs:       uuid.NewGenerator(),
	}, a.logger)
	if err != nil {
		return harvest.Summary{}, err
	}
	return p.Run(ctx, src.IDs)
}

// Snapshots exposes live run progress.
func (a *App) Snapshots() *progresssinks.SnapshotSink {
	return a.snapshots
}

// Close gracefully shuts the application down. It is safe on a partially built App.
func (a *App) Close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if a.opsServer != nil {
		if err := a.opsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("ops server shutdown failed", zap.Error(err))
		}
	}
	if a.discoverer != nil {
		a.discoverer.Close()
	}
	if a.hub != nil {
		if err := a.hub.Close(shutdownCtx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	for _, l := range []harvest.Ledger{a.resolved, a.failed} {
		if l == nil {
			continue
		}
		if err := l.Close(); err != nil {
			a.logger.Warn("ledger close failed", zap.Error(err))
		}
	}
	if a.ledgerStore != nil {
		a.ledgerStore.Close()
	}
	if a.gcpPublisher != nil {
		a.gcpPublisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
}

// prepareOutput clears the output directory when overwrite is requested.
func (a *App) prepareOutput() error {
	if !a.cfg.Harvest.Overwrite || a.cfg.Harvest.OutputDir == "" {
		return nil
	}
	dir := filepath.Clean(a.cfg.Harvest.OutputDir)
	if dir == "." || dir == string(filepath.Separator) {
		return fmt.Errorf("refusing to overwrite output directory %q", a.cfg.Harvest.OutputDir)
	}
	a.logger.Warn("removing output directory", zap.String("path", dir))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove output directory: %w", err)
	}
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	var err error
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		a.gcsClient, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.store, err = gcsstorage.New(a.gcsClient, gcsstorage.Config{
			Bucket: a.cfg.Storage.GCSBucket,
			Prefix: a.cfg.Storage.Prefix,
		})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
	case config.BackendMemory:
		a.logger.Info("using in-memory storage backend, output is discarded on exit")
		a.store = memorystorage.NewBlobStore()
	default:
		base := a.cfg.Harvest.OutputDir
		if a.cfg.Storage.Prefix != "" {
			base = filepath.Join(base, a.cfg.Storage.Prefix)
		}
		a.logger.Info("using local storage backend", zap.String("path", base))
		a.store, err = localstorage.New(localstorage.Config{BaseDir: base})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
	}
	return nil
}

func (a *App) setupLedgers(ctx context.Context) error {
	switch a.cfg.Ledger.Backend {
	case config.BackendPostgres:
		var err error
		a.ledgerStore, err = pgledger.Open(ctx, pgledger.Config{
			DSN:      a.cfg.Ledger.DSN,
			Table:    a.cfg.Ledger.Table,
			MaxConns: int32(a.cfg.Ledger.MaxConns), //nolint:gosec // validated small pool size
		})
		if err != nil {
			return fmt.Errorf("ledger store init failed: %w", err)
		}
		if err := a.ledgerStore.EnsureSchema(ctx); err != nil {
			return err
		}
		a.resolved = a.ledgerStore.Ledger(a.cfg.Harvest.Site, ledger.KindResolved)
		a.failed = a.ledgerStore.Ledger(a.cfg.Harvest.Site, ledger.KindFailed)
		a.logger.Info("using postgres ledger", zap.String("table", a.cfg.Ledger.Table))
	case config.BackendMemory:
		a.resolved = memoryledger.New()
		a.failed = memoryledger.New()
		a.logger.Info("using in-memory ledger, runs will not resume")
	default:
		a.resolved = fileledger.New(filepath.Join(a.cfg.Harvest.OutputDir, ResolvedLedgerFile))
		a.failed = fileledger.New(filepath.Join(a.cfg.Harvest.OutputDir, FailedLedgerFile))
		a.logger.Info("using file ledger", zap.String("dir", a.cfg.Harvest.OutputDir))
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Debug("no Pub/Sub project configured, notifications disabled")
		return nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.gcpPublisher, err = gcppublisher.New(a.pubsubClient, a.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.publisher = a.gcpPublisher
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupProgress() error {
	a.registry = prometheus.NewRegistry()
	promSink, err := progresssinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	a.snapshots = progresssinks.NewSnapshotSink()
	a.hub = progress.NewHub(progress.Config{Logger: a.logger.Named("progress_hub")},
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
		a.snapshots,
	)
	return nil
}

func (a *App) setupClients() error {
	timeout := a.cfg.RequestTimeout()
	a.limiter = ratelimit.New(ratelimit.Config{
		RequestsPerSecond: a.cfg.HTTP.RequestsPerSecond,
		Burst:             a.cfg.HTTP.Burst,
	})
	a.api = resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", a.cfg.HTTP.UserAgent).
		SetHeader("Accept", "application/json, image/*")
	outbound, err := metrics.NewOutbound(a.registry)
	if err != nil {
		return err
	}
	outbound.Instrument(a.api)
	a.pages = page.New(page.Config{UserAgent: a.cfg.HTTP.UserAgent, Timeout: timeout}, a.limiter)
	return nil
}

func (a *App) setupOpsServer() error {
	if a.cfg.Metrics.Addr == "" {
		return nil
	}
	httpMetrics, err := metrics.NewHTTP(a.registry)
	if err != nil {
		return err
	}
	srv := api.NewServer(api.Options{
		Runs:        a.snapshots,
		Gatherer:    a.registry,
		HTTPMetrics: httpMetrics,
		Logger:      a.logger.Named("api"),
	})
	a.opsServer = &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("ops server started", zap.String("addr", a.cfg.Metrics.Addr))
		if err := a.opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("ops server error", zap.Error(err))
		}
	}()
	return nil
}
