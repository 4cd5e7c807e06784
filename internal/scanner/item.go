package scanner

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/ycrawler/internal/crawler"
)

// Default selectors match the Hacker News item page layout.
const (
	DefaultItemIDSelector  = "table.fatitem tr.athing"
	DefaultLinkSelector    = "table.fatitem .titleline > a, table.fatitem a.storylink"
	DefaultCommentSelector = "div.comment a[rel=nofollow]"
)

// Selectors locate item structure inside an item page.
type Selectors struct {
	// ItemID selects the element whose id attribute is the item identifier.
	ItemID string
	// Link selects the anchor pointing at the item's story. Optional.
	Link string
	// Comment selects the anchors linked from comments.
	Comment string
}

// HTMLItemParser parses item pages with goquery.
type HTMLItemParser struct {
	sel Selectors
}

var _ crawler.ItemParser = (*HTMLItemParser)(nil)

// NewHTMLItemParser returns a parser; empty selectors fall back to the defaults.
func NewHTMLItemParser(sel Selectors) *HTMLItemParser {
	if sel.ItemID == "" {
		sel.ItemID = DefaultItemIDSelector
	}
	if sel.Link == "" {
		sel.Link = DefaultLinkSelector
	}
	if sel.Comment == "" {
		sel.Comment = DefaultCommentSelector
	}
	return &HTMLItemParser{sel: sel}
}

// ParseItem extracts the item id, its story link and the ordered, de-duplicated
// comment links. A page without an item id is reported as crawler.ErrParse.
func (p *HTMLItemParser) ParseItem(pageURL string, content string) (crawler.Item, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return crawler.Item{}, fmt.Errorf("parse item %s: %v: %w", pageURL, err, crawler.ErrParse)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return crawler.Item{}, fmt.Errorf("parse item url %s: %v: %w", pageURL, err, crawler.ErrParse)
	}

	id, _ := doc.Find(p.sel.ItemID).First().Attr("id")
	id = strings.TrimSpace(id)
	if id == "" {
		return crawler.Item{}, fmt.Errorf("item %s: no element matches %q: %w", pageURL, p.sel.ItemID, crawler.ErrParse)
	}

	item := crawler.Item{ID: id, URL: pageURL}
	if href, ok := doc.Find(p.sel.Link).First().Attr("href"); ok {
		item.LinkURL = resolve(base, href)
	}

	seen := make(map[string]struct{})
	doc.Find(p.sel.Comment).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		link := resolve(base, href)
		if link == "" {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		item.CommentURLs = append(item.CommentURLs, link)
	})
	return item, nil
}

// resolve joins href against base. goquery has already unescaped entities.
func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
