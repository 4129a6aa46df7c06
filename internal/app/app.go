// Package app builds the long-lived services of one crawl from Config and
// tears them down again.
package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/directory-crawler/internal/api"
	"github.com/JakeFAU/directory-crawler/internal/browser"
	"github.com/JakeFAU/directory-crawler/internal/browser/chrome"
	"github.com/JakeFAU/directory-crawler/internal/browser/static"
	"github.com/JakeFAU/directory-crawler/internal/clock/system"
	"github.com/JakeFAU/directory-crawler/internal/config"
	"github.com/JakeFAU/directory-crawler/internal/dataset"
	"github.com/JakeFAU/directory-crawler/internal/detail"
	"github.com/JakeFAU/directory-crawler/internal/export"
	"github.com/JakeFAU/directory-crawler/internal/extract"
	"github.com/JakeFAU/directory-crawler/internal/hash/sha256"
	idgen "github.com/JakeFAU/directory-crawler/internal/id/uuid"
	"github.com/JakeFAU/directory-crawler/internal/listing"
	"github.com/JakeFAU/directory-crawler/internal/metrics"
	"github.com/JakeFAU/directory-crawler/internal/pager"
	"github.com/JakeFAU/directory-crawler/internal/pipeline"
	"github.com/JakeFAU/directory-crawler/internal/progress"
	"github.com/JakeFAU/directory-crawler/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/directory-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/directory-crawler/internal/schema"
	"github.com/JakeFAU/directory-crawler/internal/storage/gcs"
	"github.com/JakeFAU/directory-crawler/internal/storage/local"
	"github.com/JakeFAU/directory-crawler/internal/storage/memory"
	"github.com/JakeFAU/directory-crawler/internal/storage/postgres"
	"github.com/JakeFAU/directory-crawler/internal/store"
	"github.com/JakeFAU/directory-crawler/internal/throttle"
)

// App holds the services of one crawl process.
type App struct {
	Config config.Config
	Logger *zap.Logger
	Runner *pipeline.Runner
	// Runs records run lifecycle: Postgres when configured, memory otherwise.
	Runs store.RunRepository
	// Clock stamps runs.
	Clock *system.Clock
	// IDs issues run IDs.
	IDs *idgen.Generator

	engine   browser.Engine
	hub      *progress.Hub
	pool     *pgxpool.Pool
	bucket   *gcs.BlobStore
	psClient *pubsub.Client
	notifier *pubsubpublisher.Publisher
	server   *metrics.Server
}

type options struct {
	engine     browser.Engine
	registerer prometheus.Registerer
}

// Option customizes New.
type Option func(*options)

// WithEngine uses engine instead of building one from Config.Browser. The
// App still closes it.
func WithEngine(engine browser.Engine) Option {
	return func(o *options) { o.engine = engine }
}

// WithRegisterer registers progress collectors with reg instead of the
// default registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// New builds every service cfg asks for. On error anything already started
// is closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: logger, Clock: system.New(), IDs: idgen.New()}
	defer func() {
		if err != nil {
			if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil {
				logger.Warn("cleanup after failed start", zap.Error(cerr))
			}
		}
	}()

	catalog := schema.Default()
	if cfg.Schema.Path != "" {
		if catalog, err = schema.LoadFile(cfg.Schema.Path); err != nil {
			return nil, fmt.Errorf("load schema: %w", err)
		}
		logger.Info("selector catalog loaded", zap.String("path", cfg.Schema.Path))
	}

	a.engine = o.engine
	if a.engine == nil {
		if a.engine, err = newEngine(cfg.Browser, logger); err != nil {
			return nil, err
		}
	}

	if cfg.Postgres.DSN != "" {
		if err = a.openPostgres(ctx); err != nil {
			return nil, err
		}
	} else {
		a.Runs = memory.NewRunStore()
	}

	promSink, err := sinks.NewPrometheusSink(o.registerer)
	if err != nil {
		return nil, err
	}
	a.hub = progress.NewHub(progress.Config{Logger: logger},
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
		sinks.NewStoreSink(a.Runs, logger.Named("runs")),
	)

	exporter, err := a.newExporter(ctx)
	if err != nil {
		return nil, err
	}

	if cfg.Metrics.ListenAddr != "" {
		runs := api.NewRunHandler(a.Runs, logger.Named("api"))
		a.server = metrics.NewServer(cfg.Metrics.ListenAddr, logger.Named("metrics"), runs.Routes)
		a.server.Start()
	}

	a.Runner, err = a.newRunner(catalog, exporter)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func newEngine(cfg config.BrowserConfig, logger *zap.Logger) (browser.Engine, error) {
	switch cfg.Engine {
	case config.EngineStatic:
		limiter := throttle.NewHostLimiter(throttle.LimiterConfig{
			RPS:     cfg.RequestsPerSecond,
			Burst:   cfg.Burst,
			Observe: metrics.ObserveRateLimitDelay,
		})
		loader := static.NewCollyLoader(static.CollyConfig{
			UserAgent:     cfg.UserAgent,
			RespectRobots: cfg.RespectRobots,
			Timeout:       cfg.NavigationTimeout,
		})
		return static.New(loader, static.WithLimiter(limiter), static.WithLogger(logger.Named("static"))), nil
	default:
		session, err := chrome.New(chrome.Config{
			Headless:          cfg.Headless,
			UserAgent:         cfg.UserAgent,
			ExecPath:          cfg.ExecPath,
			WindowWidth:       cfg.WindowWidth,
			WindowHeight:      cfg.WindowHeight,
			NavigationTimeout: cfg.NavigationTimeout,
			QueryTimeout:      cfg.QueryTimeout,
		}, logger.Named("chrome"))
		if err != nil {
			return nil, fmt.Errorf("start browser: %w", err)
		}
		return session, nil
	}
}

func (a *App) openPostgres(ctx context.Context) error {
	pool, err := postgres.Connect(ctx, a.Config.Postgres)
	if err != nil {
		return err
	}
	a.pool = pool
	runs, err := postgres.NewRunStore(pool, a.Config.Postgres.RunsTable)
	if err != nil {
		return err
	}
	if a.Config.Postgres.AutoMigrate {
		if err := runs.EnsureSchema(ctx); err != nil {
			return err
		}
	}
	a.Runs = runs
	a.Logger.Info("postgres connected", zap.String("runs_table", a.Config.Postgres.RunsTable))
	return nil
}

func (a *App) newExporter(ctx context.Context) (*export.Exporter, error) {
	cfg := a.Config
	var list []export.Sink

	if cfg.Export.Local.BaseDir != "" {
		dir, err := local.New(cfg.Export.Local)
		if err != nil {
			return nil, fmt.Errorf("local export: %w", err)
		}
		list = append(list, export.NewBlobSink("local", dir))
	}
	if cfg.Export.GCS.Bucket != "" {
		bucket, err := gcs.Dial(ctx, cfg.Export.GCS)
		if err != nil {
			return nil, fmt.Errorf("gcs export: %w", err)
		}
		a.bucket = bucket
		list = append(list, export.NewBlobSink("gcs", bucket))
	}
	if a.pool != nil {
		records, err := postgres.NewRecordStore(a.pool, cfg.Postgres.RecordsTable)
		if err != nil {
			return nil, err
		}
		if cfg.Postgres.AutoMigrate {
			if err := records.EnsureSchema(ctx); err != nil {
				return nil, err
			}
		}
		list = append(list, export.NewMirrorSink(records))
	}
	if cfg.PubSub.Topic != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		a.psClient = client
		a.notifier = pubsubpublisher.New(client)
		list = append(list, export.NewNotifySink(a.notifier, cfg.PubSub.Topic))
	}

	names := make([]string, 0, len(list))
	for _, s := range list {
		names = append(names, s.Name())
	}
	a.Logger.Info("exporters configured", zap.Strings("sinks", names))
	return export.New(a.Logger, cfg.Export.Timeout, list...), nil
}

func (a *App) newRunner(catalog schema.Catalog, exporter *export.Exporter) (*pipeline.Runner, error) {
	cfg := a.Config
	mode, err := pipeline.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	pattern, err := cfg.Site.LinkPattern()
	if err != nil {
		return nil, err
	}

	pauser := throttle.Timer{}
	extractor := extract.New(a.Logger.Named("extract"))
	scroller := pager.New(a.engine, pauser, pager.Config{
		ResetToTop:    cfg.Pager.ResetToTop,
		ResetPause:    cfg.Pager.ResetPause,
		MaxIterations: cfg.Pager.MaxIterations,
	}, a.Logger.Named("pager"))
	collector := listing.New(a.engine, scroller, extractor, pauser, catalog.Listing, listing.Config{
		URL:          cfg.Site.ListingURL,
		LinkPattern:  pattern,
		SettleDelay:  cfg.Listing.SettleDelay,
		ScrollPause:  cfg.Pager.Pause,
		LoadTimeout:  cfg.Listing.LoadTimeout,
		DisablePager: cfg.Pager.Disabled,
	}, a.Logger.Named("listing"))
	crawler := detail.New(a.engine, extractor, pauser, catalog.Detail, detail.Config{
		NameWaitTimeout:     cfg.Detail.NameWaitTimeout,
		ServicesMode:        detail.ServicesMode(cfg.Detail.ServicesMode),
		ServicesSuffix:      cfg.Detail.ServicesSuffix,
		ServicesWaitTimeout: cfg.Detail.ServicesWaitTimeout,
		ServicesSettle:      cfg.Detail.ServicesSettle,
	}, a.Logger.Named("detail"))

	template := catalog.Detail.Template()
	if mode == pipeline.ModeListing {
		template = catalog.Listing.Template()
	}

	return pipeline.New(pipeline.Config{
		Mode:             mode,
		OutputPath:       cfg.DatasetPath(),
		EntityURL:        cfg.Site.EntityURL,
		InterEntityDelay: cfg.Crawler.InterEntityDelay,
		CheckpointEvery:  cfg.Crawler.CheckpointEvery,
		MaxEntities:      cfg.Crawler.MaxEntities,
	}, pipeline.Deps{
		Collector: collector,
		Detail:    crawler,
		Merger:    dataset.New(sha256.New(), a.Logger.Named("dataset"), dataset.WithDefaults(template)),
		Exporter:  exporter,
		Pauser:    pauser,
		Events:    a.hub,
		Clock:     a.Clock,
		Logger:    a.Logger,
	})
}

// Close releases everything New started, in reverse order. The progress hub
// is drained before the run store's pool is closed.
func (a *App) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	if a.notifier != nil {
		a.notifier.Close()
	}
	if a.psClient != nil {
		if err := a.psClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pubsub client: %w", err))
		}
	}
	if a.bucket != nil {
		if err := a.bucket.Close(); err != nil {
			errs = append(errs, fmt.Errorf("gcs client: %w", err))
		}
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("progress hub: %w", err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("browser: %w", err))
		}
	}
	if len(errs) > 0 {
		a.Logger.Warn("shutdown finished with errors", zap.Int("errors", len(errs)))
	}
	return errors.Join(errs...)
}
