package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport marks timeouts, refused connections, DNS failures and the like.
	ErrTransport = errors.New("transport error")
	// ErrBadStatus marks a response outside the 2xx range.
	ErrBadStatus = errors.New("bad status")
	// ErrParse marks a page missing the structure the parser expects.
	ErrParse = errors.New("parse error")
	// ErrPersist marks a storage-side failure.
	ErrPersist = errors.New("persist error")
	// ErrInvariant marks corrupted frontier state. It is the only fatal error.
	ErrInvariant = errors.New("frontier invariant violated")
)

// FetchKind classifies a failed fetch.
type FetchKind int

// Fetch failure kinds.
const (
	FetchTransport FetchKind = iota
	FetchBadStatus
)

func (k FetchKind) String() string {
	switch k {
	case FetchBadStatus:
		return "bad_status"
	default:
		return "transport"
	}
}

// FetchError is returned by Fetcher implementations for every failed retrieval.
type FetchError struct {
	URL        string
	Kind       FetchKind
	StatusCode int
	Err        error
}

// NewTransportError wraps err as a transport failure for url.
func NewTransportError(url string, err error) *FetchError {
	return &FetchError{URL: url, Kind: FetchTransport, Err: err}
}

// NewBadStatusError reports a non-2xx response for url.
func NewBadStatusError(url string, code int) *FetchError {
	return &FetchError{URL: url, Kind: FetchBadStatus, StatusCode: code}
}

func (e *FetchError) Error() string {
	if e.Kind == FetchBadStatus {
		return fmt.Sprintf("fetch %s: bad status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

// Unwrap exposes the underlying transport error.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the ErrTransport and ErrBadStatus sentinels.
func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrTransport:
		return e.Kind == FetchTransport
	case ErrBadStatus:
		return e.Kind == FetchBadStatus
	}
	return false
}
