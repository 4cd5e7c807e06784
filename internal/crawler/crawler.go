package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/ycrawler/internal/metrics"
)

// Config holds the settings for a crawl session.
// It is decoupled from Viper so the engine can be built directly in tests.
type Config struct {
	BaseURL            string
	SeedURL            string
	ItemRule           *regexp.Regexp
	Header             http.Header
	Concurrency        int
	PollInterval       time.Duration
	CommentParallelism int
	FetchStory         bool
	RecheckEachPoll    bool
	BackoffBase        time.Duration
	BackoffMax         time.Duration
	// TracerProvider receives pass and item spans. Nil uses the global provider.
	TracerProvider trace.TracerProvider
}

const tracerName = "github.com/JakeFAU/ycrawler/internal/crawler"

// Crawler defines the interface for a polling crawler.
type Crawler interface {
	Run(ctx context.Context) error
}

// State is the scheduler phase reported by Engine.State.
type State int32

// Scheduler phases.
const (
	StateIdle State = iota
	StatePolling
	StateDispatching
	StateSleeping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateDispatching:
		return "dispatching"
	case StateSleeping:
		return "sleeping"
	case StateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// PassResult summarizes one poll-and-drain cycle.
type PassResult struct {
	// Added counts item URLs the frontier accepted from the seed page.
	Added int
	// SeedErr is set when the seed page could not be fetched.
	SeedErr error
}

// Engine polls the seed page and drains the frontier with a fixed worker pool.
type Engine struct {
	cfg       Config
	base      *url.URL
	fetcher   Fetcher
	scanner   Scanner
	parser    ItemParser
	persister Persister
	frontier  Frontier
	logger    *zap.Logger
	pauser    pauseController
	retry     *ExponentialRetryPolicy
	tracer    trace.Tracer
	state     atomic.Int32
	passes    atomic.Int64
}

var _ Crawler = (*Engine)(nil)

// NewEngine wires the engine. Every collaborator is required.
func NewEngine(
	cfg Config,
	fetcher Fetcher,
	scanner Scanner,
	parser ItemParser,
	persister Persister,
	frontier Frontier,
	logger *zap.Logger,
) (*Engine, error) {
	if fetcher == nil || scanner == nil || parser == nil || persister == nil || frontier == nil {
		return nil, errors.New("engine: fetcher, scanner, parser, persister and frontier are required")
	}
	if cfg.ItemRule == nil {
		return nil, errors.New("engine: item rule is required")
	}
	if cfg.SeedURL == "" {
		return nil, errors.New("engine: seed url is required")
	}
	baseRaw := cfg.BaseURL
	if baseRaw == "" {
		baseRaw = cfg.SeedURL
	}
	base, err := url.Parse(baseRaw)
	if err != nil {
		return nil, fmt.Errorf("engine: parse base url: %w", err)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.CommentParallelism <= 0 {
		cfg.CommentParallelism = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Engine{
		cfg:       cfg,
		base:      base,
		fetcher:   fetcher,
		scanner:   scanner,
		parser:    parser,
		persister: persister,
		frontier:  frontier,
		logger:    logger,
		pauser:    &timerPauseController{},
		retry:     NewExponentialRetryPolicy(cfg.BackoffBase, cfg.BackoffMax),
		tracer:    tp.Tracer(tracerName),
	}, nil
}

// State returns the current scheduler phase.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Passes returns how many poll cycles have finished.
func (e *Engine) Passes() int64 {
	return e.passes.Load()
}

// Frontier exposes the work queue, mostly for status reporting.
func (e *Engine) Frontier() Frontier {
	return e.frontier
}

// Run polls forever until ctx is canceled or the frontier reports an
// invariant violation. It returns ctx.Err() on cancellation.
func (e *Engine) Run(ctx context.Context) error {
	defer e.setState(StateStopped)
	e.logger.Info("crawler started",
		zap.String("seed_url", e.cfg.SeedURL),
		zap.Int("concurrency", e.cfg.Concurrency),
		zap.Duration("poll_interval", e.cfg.PollInterval),
	)
	for {
		if _, err := e.RunPass(ctx); err != nil {
			return err
		}
		e.setState(StateSleeping)
		e.pauser.Pause(ctx, e.cfg.PollInterval)
		if err := ctx.Err(); err != nil {
			e.logger.Info("crawler stopping", zap.Error(err))
			return err
		}
	}
}

// RunPass performs one Polling then Dispatching cycle and returns once the
// frontier has drained. A seed failure is not an error; it is reported in
// the result and the pass ends early.
func (e *Engine) RunPass(ctx context.Context) (PassResult, error) {
	ctx, span := e.tracer.Start(ctx, "crawler.pass",
		trace.WithAttributes(attribute.String("crawler.seed_url", e.cfg.SeedURL)),
	)
	defer span.End()
	e.setState(StatePolling)
	start := time.Now()

	added, err := e.poll(ctx)
	span.SetAttributes(attribute.Int("crawler.added", added))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return PassResult{}, ctxErr
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "seed fetch failed")
		e.logger.Warn("seed fetch failed; skipping pass",
			zap.String("seed_url", e.cfg.SeedURL),
			zap.Error(err),
		)
		metrics.ObservePass("seed_failed")
		e.passes.Add(1)
		return PassResult{SeedErr: err}, nil
	}

	e.setState(StateDispatching)
	if err := e.dispatch(ctx); err != nil {
		if errors.Is(err, ErrInvariant) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "frontier invariant violated")
			e.logger.Error("frontier invariant violated", zap.Error(err))
			return PassResult{Added: added}, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return PassResult{Added: added}, ctxErr
		}
		return PassResult{Added: added}, err
	}

	metrics.ObservePass("drained")
	e.passes.Add(1)
	e.logger.Info("pass drained",
		zap.Int("added", added),
		zap.Duration("duration", time.Since(start)),
	)
	return PassResult{Added: added}, nil
}

func (e *Engine) poll(ctx context.Context) (int, error) {
	seed, err := e.fetcher.Fetch(WithRole(ctx, RoleSeed), e.cfg.SeedURL, e.cfg.Header)
	if err != nil {
		return 0, err
	}
	text, ok := seed.Text()
	if !ok {
		text = string(seed.Body)
	}

	if e.cfg.RecheckEachPoll {
		e.frontier.Reset()
	}

	matches := e.scanner.Scan(text, e.cfg.ItemRule)
	added := 0
	for _, match := range matches {
		link, err := ResolveURL(e.base, match)
		if err != nil {
			e.logger.Debug("skipping unresolvable link", zap.String("link", match), zap.Error(err))
			continue
		}
		if e.frontier.Add(link) {
			added++
		}
	}
	e.logger.Info("seed polled",
		zap.Int("matches", len(matches)),
		zap.Int("added", added),
	)
	return added, nil
}

// dispatch runs Concurrency workers until the frontier drains. Workers only
// hold a limiter slot during a fetch, so they cannot starve each other.
func (e *Engine) dispatch(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < e.cfg.Concurrency; i++ {
		g.Go(func() error {
			return e.work(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	return nil
}

func (e *Engine) work(ctx context.Context, worker int) error {
	logger := e.logger.With(zap.Int("worker", worker))
	for {
		link, ok, err := e.frontier.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := e.processItem(ctx, logger, link); err != nil {
			return err
		}
	}
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}
