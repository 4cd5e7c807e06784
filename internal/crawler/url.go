package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// ResolveURL joins a scanned link against base. The result keeps the link's
// query, fragment and host spelling exactly as scanned.
func ResolveURL(base *url.URL, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("resolve url: empty reference")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("resolve url %q: not absolute", ref)
	}
	return u.String(), nil
}
