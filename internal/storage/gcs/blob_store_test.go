package gcs

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	buf          bytes.Buffer
	contentType  string
	cacheControl string
	writeErr     error
	closeErr     error
	closed       bool
}

func (w *fakeWriter) Write(p []byte) (int, error) {
	if w.writeErr != nil {
		return 0, w.writeErr
	}
	return w.buf.Write(p)
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return w.closeErr
}

func (w *fakeWriter) SetAttrs(contentType, cacheControl string) {
	w.contentType = contentType
	w.cacheControl = cacheControl
}

func newTestStore(cfg Config, w *fakeWriter, gotObject *string) *BlobStore {
	return &BlobStore{
		cfg: cfg,
		newWriter: func(_ context.Context, bucket, object string) objectWriter {
			*gotObject = bucket + "/" + object
			return w
		},
	}
}

func TestNewRequiresClientAndBucket(t *testing.T) {
	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
}

func TestPutObjectUploads(t *testing.T) {
	w := &fakeWriter{}
	var object string
	store := newTestStore(Config{Bucket: "crawl", CacheControl: "no-cache"}, w, &object)

	uri, err := store.PutObject(context.Background(), "/items/42/post_42.html", "text/html", strings.NewReader("<p>42</p>"))
	require.NoError(t, err)
	require.Equal(t, "gs://crawl/items/42/post_42.html", uri)
	require.Equal(t, "crawl/items/42/post_42.html", object)
	require.Equal(t, "<p>42</p>", w.buf.String())
	require.Equal(t, "text/html", w.contentType)
	require.Equal(t, "no-cache", w.cacheControl)
	require.True(t, w.closed)
}

func TestPutObjectErrors(t *testing.T) {
	var object string

	store := newTestStore(Config{Bucket: "crawl"}, &fakeWriter{}, &object)
	_, err := store.PutObject(context.Background(), " ", "", strings.NewReader("x"))
	require.Error(t, err)

	w := &fakeWriter{writeErr: errors.New("quota")}
	store = newTestStore(Config{Bucket: "crawl"}, w, &object)
	_, err = store.PutObject(context.Background(), "a.html", "", strings.NewReader("x"))
	require.ErrorContains(t, err, "quota")
	require.True(t, w.closed)

	w = &fakeWriter{closeErr: errors.New("precondition failed")}
	store = newTestStore(Config{Bucket: "crawl"}, w, &object)
	_, err = store.PutObject(context.Background(), "a.html", "", strings.NewReader("x"))
	require.ErrorContains(t, err, "precondition failed")
}

func TestCloseNilStore(t *testing.T) {
	var store *BlobStore
	require.NoError(t, store.Close())
}
