package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newFakeTopic(t *testing.T) (*pstest.Server, *pubsub.Client, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "items")
	require.NoError(t, err)
	return srv, client, topic
}

func TestPublishSendsJSON(t *testing.T) {
	srv, _, topic := newFakeTopic(t)
	pub := New(topic)
	t.Cleanup(func() { _ = pub.Close() })

	id, err := pub.Publish(context.Background(), "item.persisted", map[string]string{"item_id": "42"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "item.persisted", msgs[0].Attributes["event"])

	var payload map[string]string
	require.NoError(t, json.Unmarshal(msgs[0].Data, &payload))
	require.Equal(t, "42", payload["item_id"])
}

func TestPublishRejectsUnmarshalablePayload(t *testing.T) {
	_, _, topic := newFakeTopic(t)
	pub := New(topic)
	t.Cleanup(func() { _ = pub.Close() })

	_, err := pub.Publish(context.Background(), "", make(chan int))
	require.Error(t, err)
}

func TestUnconfiguredPublisher(t *testing.T) {
	var pub *Publisher
	_, err := pub.Publish(context.Background(), "x", "y")
	require.Error(t, err)
	require.NoError(t, pub.Close())
}

func TestCarrierKeys(t *testing.T) {
	c := &pubsubCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc")
	require.Equal(t, "00-abc", c.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, c.Keys())
}

func TestPublishPropagatesTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "crawler.item")
	defer span.End()

	srv, _, topic := newFakeTopic(t)
	pub := New(topic)
	t.Cleanup(func() { _ = pub.Close() })

	_, err := pub.Publish(ctx, "item.persisted", map[string]string{"item_id": "7"})
	require.NoError(t, err)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0].Attributes["traceparent"], span.SpanContext().TraceID().String())
}
