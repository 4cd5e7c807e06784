package memory

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "path/page.html", "text/html", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://path/page.html" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'C'

	obj, ok := store.Get("path/page.html")
	if !ok {
		t.Fatal("expected object to be stored")
	}
	if string(obj.Data) != "content" || obj.ContentType != "text/html" {
		t.Fatalf("unexpected object %+v", obj)
	}

	obj.Data[0] = 'X'
	again, _ := store.Get("path/page.html")
	if string(again.Data) != "content" {
		t.Fatalf("expected Get to return a copy, got %q", again.Data)
	}
}

func TestBlobStorePaths(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	for _, p := range []string{"b/2.html", "a/1.html"} {
		if _, err := store.PutObject(context.Background(), p, "", strings.NewReader(p)); err != nil {
			t.Fatalf("PutObject(%s) error = %v", p, err)
		}
	}
	got := store.Paths()
	if len(got) != 2 || got[0] != "a/1.html" || got[1] != "b/2.html" {
		t.Fatalf("unexpected paths %v", got)
	}
	if _, err := store.PutObject(context.Background(), "", "", strings.NewReader("x")); err == nil {
		t.Fatal("expected error for empty path")
	}
}
