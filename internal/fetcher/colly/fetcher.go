// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/ycrawler/internal/crawler"
	"github.com/JakeFAU/ycrawler/internal/metrics"
	"github.com/JakeFAU/ycrawler/internal/policy/concurrency"
	"github.com/JakeFAU/ycrawler/internal/policy/ratelimit"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Limiter caps outstanding fetches across the process. Nil means a
	// limiter of concurrency.DefaultSize.
	Limiter *concurrency.Limiter
	// RateLimiter spaces requests per host. Nil disables it.
	RateLimiter *ratelimit.Limiter
	// Transport overrides the HTTP transport, mostly for tests.
	Transport http.RoundTripper
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	limiter       *concurrency.Limiter
	baseCollector *colly.Collector
	logger        *zap.Logger
}

var _ crawler.Fetcher = (*Fetcher)(nil)

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// fetchResult is filled in by collector callbacks.
type fetchResult struct {
	content crawler.Content
	err     error
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = concurrency.New(concurrency.DefaultSize)
	}

	// Failed items are fetched again on the next dispatch, so revisits must be
	// allowed, and non-2xx responses must reach OnResponse to be classified.
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	)
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c.WithTransport(transport)
	// The backend is shared by every clone, so the timeout is set once here.
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		limiter:       limiter,
		baseCollector: c,
		logger:        logger,
	}
}

// Fetch executes a single HTTP GET while holding one limiter slot.
func (f *Fetcher) Fetch(ctx context.Context, url string, header http.Header) (crawler.Content, error) {
	release, err := f.limiter.Acquire(ctx)
	if err != nil {
		return crawler.Content{}, err
	}
	defer release()

	if err := f.cfg.RateLimiter.Wait(ctx, url); err != nil {
		return crawler.Content{}, err
	}

	role := string(crawler.RoleFrom(ctx))
	metrics.IncFetchesInFlight()
	defer metrics.DecFetchesInFlight()

	start := time.Now()
	result := &fetchResult{}
	collector := f.buildCollector(ctx, url, result)
	if err := f.runCollector(collector, url, header, result); err != nil {
		var fe *crawler.FetchError
		outcome := crawler.FetchTransport.String()
		if errors.As(err, &fe) {
			outcome = fe.Kind.String()
		}
		metrics.ObserveFetch(role, outcome, 0)
		f.logger.Debug("fetch failed",
			zap.String("url", url),
			zap.String("role", role),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return crawler.Content{}, err
	}

	metrics.ObserveFetch(role, "ok", len(result.content.Body))
	f.logger.Debug("fetched",
		zap.String("url", url),
		zap.String("role", role),
		zap.Int("status", result.content.StatusCode),
		zap.Int("bytes", len(result.content.Body)),
		zap.Duration("duration", time.Since(start)),
	)
	return result.content, nil
}

func (f *Fetcher) buildCollector(ctx context.Context, url string, result *fetchResult) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	configureCollectorHooks(collector, url, result)
	return collector
}

func configureCollectorHooks(hooks collectorHooks, url string, result *fetchResult) {
	hooks.OnResponse(func(r *colly.Response) {
		if r.StatusCode < 200 || r.StatusCode > 299 {
			result.err = crawler.NewBadStatusError(url, r.StatusCode)
			return
		}
		var header http.Header
		if r.Headers != nil {
			header = r.Headers.Clone()
		}
		result.content = crawler.Content{
			URL:        url,
			StatusCode: r.StatusCode,
			Header:     header,
			Body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if result.err != nil {
			return
		}
		if r != nil && r.StatusCode != 0 && (r.StatusCode < 200 || r.StatusCode > 299) {
			result.err = crawler.NewBadStatusError(url, r.StatusCode)
			return
		}
		result.err = crawler.NewTransportError(url, err)
	})
}

func (f *Fetcher) runCollector(collector *colly.Collector, url string, header http.Header, result *fetchResult) error {
	hdr := header.Clone()
	if hdr == nil {
		hdr = http.Header{}
	}
	if err := collector.Request(http.MethodGet, url, nil, nil, hdr); err != nil {
		if result.err != nil {
			return result.err
		}
		if collector.Context != nil && collector.Context.Err() != nil {
			return fmt.Errorf("colly fetch canceled: %w", collector.Context.Err())
		}
		return crawler.NewTransportError(url, err)
	}
	if result.err != nil {
		return result.err
	}
	if result.content.StatusCode == 0 {
		return crawler.NewTransportError(url, errors.New("no response received"))
	}
	return nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
