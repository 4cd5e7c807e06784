package crawler

import (
	"bytes"
	"io"
	"net/http"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
)

// Content is one successfully fetched page.
type Content struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ContentType returns the response Content-Type header, if any.
func (c Content) ContentType() string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get("Content-Type")
}

// Text decodes the body to UTF-8 using the charset announced by the response
// (or sniffed from the document). The boolean is false when the body cannot be
// decoded, in which case callers should fall back to Body.
func (c Content) Text() (string, bool) {
	if len(c.Body) == 0 {
		return "", true
	}
	reader, err := charset.NewReader(bytes.NewReader(c.Body), c.ContentType())
	if err != nil {
		return "", false
	}
	decoded, err := io.ReadAll(reader)
	if err != nil || !utf8.Valid(decoded) {
		return "", false
	}
	return string(decoded), true
}

// Item is derived from a successfully parsed item page.
type Item struct {
	ID  string
	URL string
	// LinkURL is the external story the item points at, if any.
	LinkURL     string
	CommentURLs []string
}

// Document bundles everything the Persister receives for one item.
type Document struct {
	Item     Item
	Page     Content
	Story    *Content
	Comments []Content
}
