// Package scanner extracts links and item structure from fetched pages.
package scanner

import (
	"html"
	"regexp"

	"github.com/JakeFAU/ycrawler/internal/crawler"
)

// RegexScanner returns every substring of a page matching the rule.
// Duplicates are kept in order of appearance; the frontier collapses them.
type RegexScanner struct{}

var _ crawler.Scanner = RegexScanner{}

// NewRegexScanner returns a RegexScanner.
func NewRegexScanner() RegexScanner {
	return RegexScanner{}
}

// Scan finds all matches of rule in content. Entity-escaped matches such as
// "item?id=1&amp;p=2" are unescaped.
func (RegexScanner) Scan(content string, rule *regexp.Regexp) []string {
	if rule == nil || content == "" {
		return nil
	}
	matches := rule.FindAllString(content, -1)
	for i, m := range matches {
		matches[i] = html.UnescapeString(m)
	}
	return matches
}
