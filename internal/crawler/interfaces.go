package crawler

import (
	"context"
	"net/http"
	"regexp"
)

// Fetcher retrieves one URL under the global concurrency limit.
// Failures are returned as *FetchError values, never panics.
type Fetcher interface {
	Fetch(ctx context.Context, url string, header http.Header) (Content, error)
}

// Scanner extracts candidate URLs matching rule from raw page content.
type Scanner interface {
	Scan(content string, rule *regexp.Regexp) []string
}

// ItemParser extracts item identity and comment links from an item page.
type ItemParser interface {
	ParseItem(pageURL string, content string) (Item, error)
}

// Persister writes a fetched item and its comments to durable storage.
type Persister interface {
	Persist(ctx context.Context, doc Document) error
}

// Frontier is the de-duplicating work queue shared by the scheduler and its workers.
type Frontier interface {
	Add(url string) bool
	Next(ctx context.Context) (string, bool, error)
	Complete(url string) error
	Fail(url string) error
	Abandon(url string) error
	Draining() bool
	Attempts(url string) int
	Reset()
}
