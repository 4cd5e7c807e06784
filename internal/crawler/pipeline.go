package crawler

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/ycrawler/internal/metrics"
)

// Item outcomes recorded in metrics.
const (
	itemPersisted     = "persisted"
	itemRetried       = "retried"
	itemParseFailed   = "parse_failed"
	itemUndecodable   = "undecodable"
	itemPersistFailed = "persist_failed"
	itemAbandoned     = "abandoned"
)

// processItem runs the item pipeline for one dispatched URL and settles it in
// the frontier. Only frontier invariant violations and cancellation are
// returned; every other failure is logged and absorbed.
func (e *Engine) processItem(ctx context.Context, logger *zap.Logger, link string) error {
	ctx, span := e.tracer.Start(ctx, "crawler.item",
		trace.WithAttributes(attribute.String("url.full", link)),
	)
	defer span.End()
	logger = logger.With(zap.String("url", link))
	if sc := span.SpanContext(); sc.IsValid() {
		logger = logger.With(zap.String("trace_id", sc.TraceID().String()))
	}

	page, err := e.fetcher.Fetch(WithRole(ctx, RoleItem), link, e.cfg.Header)
	if err != nil {
		if ctx.Err() != nil {
			return e.abandon(ctx, logger, link)
		}
		return e.retryLater(ctx, logger, link, err)
	}

	text, ok := page.Text()
	if !ok {
		logger.Warn("item page is not decodable text; dropping")
		recordOutcome(ctx, itemUndecodable)
		return e.frontier.Complete(link)
	}
	item, err := e.parser.ParseItem(link, text)
	if err != nil {
		logger.Warn("item page could not be parsed; dropping", zap.Error(err))
		span.RecordError(err)
		recordOutcome(ctx, itemParseFailed)
		return e.frontier.Complete(link)
	}

	doc := Document{Item: item, Page: page}
	doc.Comments = e.fetchComments(ctx, logger, item.CommentURLs)
	if ctx.Err() != nil {
		return e.abandon(ctx, logger, link)
	}

	if e.cfg.FetchStory && item.LinkURL != "" {
		story, err := e.fetcher.Fetch(WithRole(ctx, RoleStory), item.LinkURL, e.cfg.Header)
		switch {
		case ctx.Err() != nil:
			return e.abandon(ctx, logger, link)
		case err != nil:
			logger.Warn("story fetch failed; persisting without it",
				zap.String("story_url", item.LinkURL),
				zap.Error(err),
			)
		default:
			doc.Story = &story
		}
	}

	if err := e.persister.Persist(ctx, doc); err != nil {
		if ctx.Err() != nil {
			return e.abandon(ctx, logger, link)
		}
		logger.Error("persist failed; item will not be retried",
			zap.String("item_id", item.ID),
			zap.Error(err),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		recordOutcome(ctx, itemPersistFailed)
		return e.frontier.Complete(link)
	}

	span.SetAttributes(attribute.String("crawler.item_id", item.ID))
	logger.Info("item persisted",
		zap.String("item_id", item.ID),
		zap.Int("comments", len(doc.Comments)),
		zap.Int("comment_links", len(item.CommentURLs)),
		zap.Bool("story", doc.Story != nil),
	)
	recordOutcome(ctx, itemPersisted)
	return e.frontier.Complete(link)
}

// recordOutcome counts an item outcome and tags the current item span with it.
func recordOutcome(ctx context.Context, outcome string) {
	metrics.ObserveItem(outcome)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("crawler.outcome", outcome))
}

// retryLater waits out the configured backoff and hands the URL back to the
// frontier. The URL stays in flight while waiting, so the pass cannot drain.
func (e *Engine) retryLater(ctx context.Context, logger *zap.Logger, link string, cause error) error {
	attempt := e.frontier.Attempts(link)
	delay := e.retry.Backoff(attempt)
	logger.Warn("item fetch failed; re-enqueueing",
		zap.Int("attempt", attempt+1),
		zap.Duration("backoff", delay),
		zap.Error(cause),
	)
	trace.SpanFromContext(ctx).RecordError(cause)
	recordOutcome(ctx, itemRetried)
	e.pauser.Pause(ctx, delay)
	if ctx.Err() != nil {
		return e.abandon(ctx, logger, link)
	}
	return e.frontier.Fail(link)
}

// abandon returns link to pending and reports the cancellation.
func (e *Engine) abandon(ctx context.Context, logger *zap.Logger, link string) error {
	if err := e.frontier.Abandon(link); err != nil {
		return err
	}
	logger.Debug("item abandoned", zap.Error(ctx.Err()))
	recordOutcome(ctx, itemAbandoned)
	return ctx.Err()
}

// fetchComments retrieves comment pages with at most CommentParallelism
// requests per item. Failed comments are dropped; the rest keep link order.
func (e *Engine) fetchComments(ctx context.Context, logger *zap.Logger, links []string) []Content {
	if len(links) == 0 {
		return nil
	}
	results := make([]*Content, len(links))
	var g errgroup.Group
	g.SetLimit(e.cfg.CommentParallelism)
	for i, link := range links {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			content, err := e.fetcher.Fetch(WithRole(ctx, RoleComment), link, e.cfg.Header)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("comment fetch failed; skipping",
						zap.String("comment_url", link),
						zap.Bool("bad_status", errors.Is(err, ErrBadStatus)),
						zap.Error(err),
					)
				}
				return nil
			}
			results[i] = &content
			return nil
		})
	}
	_ = g.Wait()

	comments := make([]Content, 0, len(links))
	for _, c := range results {
		if c != nil {
			comments = append(comments, *c)
		}
	}
	return comments
}
