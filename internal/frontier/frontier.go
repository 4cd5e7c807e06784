// Package frontier implements the crawl-wide de-duplicating URL queue.
//
// Every URL accepted by Add lives in exactly one of pending, in-flight or done.
// A URL whose last fetch failed is also marked errored until its retry is
// dispatched. The filtered and done sets only grow, except through Reset.
package frontier

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/ycrawler/internal/crawler"
	"github.com/JakeFAU/ycrawler/internal/metrics"
)

// Stats is a point-in-time view of the frontier collections.
type Stats struct {
	Filtered int `json:"filtered"`
	Pending  int `json:"pending"`
	InFlight int `json:"in_flight"`
	Done     int `json:"done"`
	Errored  int `json:"errored"`
}

// Frontier is safe for concurrent use by the scheduler and all workers.
type Frontier struct {
	mu       sync.Mutex
	filtered map[string]struct{}
	pending  []string
	inFlight map[string]struct{}
	done     map[string]struct{}
	errored  map[string]struct{}
	attempts map[string]int
	// changed is closed and replaced on every transition, waking all goroutines
	// blocked in Next.
	changed chan struct{}
}

var _ crawler.Frontier = (*Frontier)(nil)

// New returns an empty Frontier.
func New() *Frontier {
	return &Frontier{
		filtered: make(map[string]struct{}),
		inFlight: make(map[string]struct{}),
		done:     make(map[string]struct{}),
		errored:  make(map[string]struct{}),
		attempts: make(map[string]int),
		changed:  make(chan struct{}),
	}
}

// Add enqueues url unless it was accepted before. It reports whether url is new.
func (f *Frontier) Add(url string) bool {
	if url == "" {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, seen := f.filtered[url]; seen {
		return false
	}
	f.filtered[url] = struct{}{}
	f.pending = append(f.pending, url)
	f.broadcastLocked()
	return true
}

// Next pops the oldest pending URL and marks it in flight. It blocks while
// nothing is pending but other URLs are still in flight, since those may fail
// and come back. ok is false once both pending and in-flight are empty.
func (f *Frontier) Next(ctx context.Context) (string, bool, error) {
	for {
		f.mu.Lock()
		if len(f.pending) > 0 {
			url := f.pending[0]
			f.pending[0] = ""
			f.pending = f.pending[1:]
			delete(f.errored, url)
			f.inFlight[url] = struct{}{}
			f.reportLocked()
			f.mu.Unlock()
			return url, true, nil
		}
		if len(f.inFlight) == 0 {
			f.mu.Unlock()
			return "", false, nil
		}
		wait := f.changed
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", false, fmt.Errorf("frontier next: %w", ctx.Err())
		case <-wait:
		}
	}
}

// Complete moves url from in-flight to done.
func (f *Frontier) Complete(url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeInFlightLocked(url, "complete"); err != nil {
		return err
	}
	f.done[url] = struct{}{}
	f.broadcastLocked()
	return nil
}

// Fail records a failed attempt for url and re-enqueues it at the tail of pending.
func (f *Frontier) Fail(url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeInFlightLocked(url, "fail"); err != nil {
		return err
	}
	f.attempts[url]++
	// errored stays marked until the retry is dispatched again.
	f.errored[url] = struct{}{}
	f.pending = append(f.pending, url)
	f.broadcastLocked()
	return nil
}

// Abandon returns an in-flight url to pending without counting an attempt.
// Workers call it when they are canceled mid-item.
func (f *Frontier) Abandon(url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeInFlightLocked(url, "abandon"); err != nil {
		return err
	}
	f.pending = append(f.pending, url)
	f.broadcastLocked()
	return nil
}

// Draining reports whether any URL is pending or in flight.
func (f *Frontier) Draining() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending) > 0 || len(f.inFlight) > 0
}

// Attempts returns how many times url has failed.
func (f *Frontier) Attempts(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[url]
}

// Reset forgets every accepted URL so the next poll can accept them again.
// It is a no-op while draining.
func (f *Frontier) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) > 0 || len(f.inFlight) > 0 {
		return
	}
	f.filtered = make(map[string]struct{})
	f.done = make(map[string]struct{})
	f.attempts = make(map[string]int)
	f.reportLocked()
}

// Stats returns the size of each collection.
func (f *Frontier) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		Filtered: len(f.filtered),
		Pending:  len(f.pending),
		InFlight: len(f.inFlight),
		Done:     len(f.done),
		Errored:  len(f.errored),
	}
}

func (f *Frontier) takeInFlightLocked(url, op string) error {
	if _, ok := f.inFlight[url]; !ok {
		return fmt.Errorf("%s %q: not in flight: %w", op, url, crawler.ErrInvariant)
	}
	delete(f.inFlight, url)
	return nil
}

func (f *Frontier) broadcastLocked() {
	close(f.changed)
	f.changed = make(chan struct{})
	f.reportLocked()
}

func (f *Frontier) reportLocked() {
	metrics.SetFrontier(len(f.pending), len(f.inFlight), len(f.done), len(f.errored))
}
