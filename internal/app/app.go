// Package app builds and owns the long-lived crawler services: storage
// backends, the record store, the publisher, the engine and the status server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/ycrawler/internal/api"
	"github.com/JakeFAU/ycrawler/internal/config"
	"github.com/JakeFAU/ycrawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/ycrawler/internal/fetcher/colly"
	"github.com/JakeFAU/ycrawler/internal/frontier"
	"github.com/JakeFAU/ycrawler/internal/metrics"
	"github.com/JakeFAU/ycrawler/internal/persist"
	"github.com/JakeFAU/ycrawler/internal/policy/concurrency"
	"github.com/JakeFAU/ycrawler/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/ycrawler/internal/publisher/pubsub"
	"github.com/JakeFAU/ycrawler/internal/scanner"
	gcsstorage "github.com/JakeFAU/ycrawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/ycrawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/ycrawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/ycrawler/internal/storage/postgres"
	"github.com/JakeFAU/ycrawler/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

type closer struct {
	name  string
	close func() error
}

// App holds every service needed to run the crawler.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	limiter   *concurrency.Limiter
	frontier  *frontier.Frontier
	engine    *crawler.Engine
	apiServer *api.Server
	closers   []closer
}

// Build wires the application from cfg. On error every service opened so far
// is closed before returning.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}
	if err := a.build(ctx); err != nil {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("cleanup after failed build", zap.Error(cerr))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	a.logger.Info("building application dependencies",
		zap.String("storage_backend", a.cfg.Storage.Backend),
		zap.Bool("postgres", a.cfg.DB.DSN != ""),
		zap.Bool("pubsub", a.cfg.PubSub.Topic != ""),
		zap.Int("server_port", a.cfg.Server.Port),
	)

	tp, err := a.setupTracing(ctx)
	if err != nil {
		return err
	}

	blobs, err := a.setupStorage(ctx)
	if err != nil {
		return err
	}
	opts := []persist.Option{persist.WithLogger(a.logger.Named("persist"))}

	records, err := a.setupDatabase(ctx)
	if err != nil {
		return err
	}
	if records != nil {
		opts = append(opts, persist.WithRecordStore(records))
	}

	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	if publisher != nil {
		opts = append(opts, persist.WithPublisher(publisher))
	}

	persister, err := persist.New(persist.Config{
		Prefix:      a.cfg.Storage.Prefix,
		ContentType: a.cfg.Storage.ContentType,
		Topic:       a.cfg.PubSub.Topic,
	}, blobs, opts...)
	if err != nil {
		return fmt.Errorf("persister init failed: %w", err)
	}

	if err := a.setupEngine(persister, tp); err != nil {
		return err
	}

	apiOpts := []api.Option{api.WithLimiter(a.limiter)}
	if records != nil {
		apiOpts = append(apiOpts, api.WithReadyCheck("postgres", records.Ping))
	}
	a.apiServer = api.NewServer(a.engine, a.frontier, a.logger.Named("api"), apiOpts...)
	return nil
}

func (a *App) setupTracing(ctx context.Context) (trace.TracerProvider, error) {
	if !a.cfg.Telemetry.Tracing {
		return nil, nil
	}
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: a.cfg.Telemetry.ServiceName,
		SampleRatio: a.cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	a.closers = append(a.closers, closer{name: "tracer", close: func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return tp.Shutdown(ctx)
	}})
	a.logger.Info("tracing enabled", zap.Float64("sample_ratio", a.cfg.Telemetry.SampleRatio))
	return tp, nil
}

func (a *App) setupStorage(ctx context.Context) (persist.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Storage.GCS.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.closers = append(a.closers, closer{name: "gcs", close: store.Close})
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCS.Bucket))
		return store, nil
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", store.BaseDir()))
		return store, nil
	default:
		a.logger.Warn("using in-memory storage backend; pages are discarded on exit")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupDatabase(ctx context.Context) (*pgstore.ItemStore, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("no db.dsn configured; item records are not saved")
		return nil, nil
	}
	store, err := pgstore.NewItemStore(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		Table:           a.cfg.DB.Table,
		MaxConns:        a.cfg.DB.MaxConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("item store init failed: %w", err)
	}
	a.closers = append(a.closers, closer{name: "postgres", close: func() error {
		store.Close()
		return nil
	}})
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("item store schema: %w", err)
	}
	a.logger.Info("item store initialized", zap.String("table", a.cfg.DB.Table))
	return store, nil
}

func (a *App) setupPublisher(ctx context.Context) (persist.Publisher, error) {
	if a.cfg.PubSub.Topic == "" {
		return nil, nil
	}
	pub, err := gcppublisher.Open(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.Topic)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.closers = append(a.closers, closer{name: "pubsub", close: pub.Close})
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return pub, nil
}

func (a *App) setupEngine(persister crawler.Persister, tp trace.TracerProvider) error {
	header := make(http.Header, len(a.cfg.Crawler.Headers))
	for k, v := range a.cfg.Crawler.Headers {
		header.Set(k, v)
	}

	a.limiter = concurrency.New(a.cfg.Crawler.Concurrency)
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   header.Get("User-Agent"),
		Timeout:     a.cfg.Crawler.RequestTimeout,
		Limiter:     a.limiter,
		RateLimiter: ratelimit.New(ratelimit.Config{RPS: a.cfg.Crawler.RatePerHost}),
	}, a.logger.Named("fetcher"))

	a.frontier = frontier.New()
	engine, err := crawler.NewEngine(crawler.Config{
		BaseURL:            a.cfg.Crawler.BaseURL,
		SeedURL:            a.cfg.Crawler.SeedURL,
		ItemRule:           a.cfg.ItemPattern(),
		Header:             header,
		Concurrency:        a.cfg.Crawler.Concurrency,
		PollInterval:       a.cfg.Crawler.PollInterval,
		CommentParallelism: a.cfg.Crawler.CommentParallelism,
		FetchStory:         a.cfg.Crawler.FetchStory,
		RecheckEachPoll:    a.cfg.Crawler.RecheckEachPoll,
		BackoffBase:        a.cfg.Retry.BackoffBase,
		BackoffMax:         a.cfg.Retry.BackoffMax,
		TracerProvider:     tp,
	},
		fetcher,
		scanner.NewRegexScanner(),
		scanner.NewHTMLItemParser(scanner.Selectors{
			ItemID:  a.cfg.Scanner.ItemIDSelector,
			Link:    a.cfg.Scanner.LinkSelector,
			Comment: a.cfg.Scanner.CommentSelector,
		}),
		persister,
		a.frontier,
		a.logger.Named("crawler"),
	)
	if err != nil {
		return fmt.Errorf("engine init failed: %w", err)
	}
	a.engine = engine
	return nil
}

// Engine returns the crawl engine.
func (a *App) Engine() *crawler.Engine {
	return a.engine
}

// FrontierStats reports the frontier collection sizes.
func (a *App) FrontierStats() frontier.Stats {
	return a.frontier.Stats()
}

// Handler returns the status server's router.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves the status API (unless server.port is 0) and polls until ctx is
// canceled. Cancellation is a clean exit; a frontier invariant violation or a
// status server failure is returned.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	serverErr := make(chan error, 1)
	var srv *http.Server
	if a.cfg.Server.Port > 0 {
		srv = &http.Server{
			Addr:              net.JoinHostPort("", strconv.Itoa(a.cfg.Server.Port)),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
				serverErr <- fmt.Errorf("status server: %w", err)
				stop()
			}
		}()
	}

	err := a.engine.Run(ctx)

	if srv != nil {
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			a.logger.Error("server shutdown error", zap.Error(serr))
		}
	}

	select {
	case serr := <-serverErr:
		return serr
	default:
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// RunOnce performs a single poll and drains the frontier.
func (a *App) RunOnce(ctx context.Context) (crawler.PassResult, error) {
	res, err := a.engine.RunPass(ctx)
	if err != nil {
		return res, fmt.Errorf("run pass: %w", err)
	}
	return res, nil
}

// Close releases every opened service in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("close failed", zap.String("service", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
