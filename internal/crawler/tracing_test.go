package crawler_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/ycrawler/internal/crawler"
	"github.com/JakeFAU/ycrawler/internal/frontier"
)

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) string {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value.Emit()
		}
	}
	return ""
}

// parentCapture records the span context active when Persist is called.
type parentCapture struct {
	recordingPersister
	spans []trace.SpanContext
}

func (p *parentCapture) Persist(ctx context.Context, doc crawler.Document) error {
	p.mu.Lock()
	p.spans = append(p.spans, trace.SpanContextFromContext(ctx))
	p.mu.Unlock()
	return p.recordingPersister.Persist(ctx, doc)
}

func TestRunPassRecordsPassAndItemSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	f := newScriptedFetcher()
	f.on(testSeed, response{body: seedPage(1, 2, 3)})
	f.on(itemURL(1), response{body: itemPage(1, "")})
	f.on(itemURL(2), response{body: "<html>gone</html>"})
	f.on(itemURL(3), response{status: http.StatusServiceUnavailable}, response{body: itemPage(3, "")})

	cfg := testConfig()
	cfg.TracerProvider = tp
	p := &parentCapture{}
	e := newEngine(t, cfg, f, p, frontier.New())

	_, err := e.RunPass(context.Background())
	require.NoError(t, err)

	var pass sdktrace.ReadOnlySpan
	outcomes := map[string][]string{}
	for _, span := range recorder.Ended() {
		switch span.Name() {
		case "crawler.pass":
			pass = span
		case "crawler.item":
			url := spanAttr(span, "url.full")
			outcomes[url] = append(outcomes[url], spanAttr(span, "crawler.outcome"))
		}
	}
	require.NotNil(t, pass)
	require.Equal(t, "3", spanAttr(pass, "crawler.added"))

	require.Equal(t, []string{"persisted"}, outcomes[itemURL(1)])
	require.Equal(t, []string{"parse_failed"}, outcomes[itemURL(2)])
	require.ElementsMatch(t, []string{"retried", "persisted"}, outcomes[itemURL(3)])

	for _, span := range recorder.Ended() {
		if span.Name() == "crawler.item" {
			require.Equal(t, pass.SpanContext().TraceID(), span.Parent().TraceID())
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.spans, 2)
	for _, sc := range p.spans {
		require.True(t, sc.IsValid(), "persist runs inside the item span")
		require.Equal(t, pass.SpanContext().TraceID(), sc.TraceID())
	}
}
