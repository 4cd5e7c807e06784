// Package persist stores crawled items: page bodies go to a BlobStore, an
// ItemRecord goes to an optional RecordStore, and a notification goes to an
// optional Publisher.
package persist

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/ycrawler/internal/crawler"
)

const defaultContentType = "text/html; charset=utf-8"

var validItemID = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9_.-]*$`)

// BlobStore persists raw page bodies and returns a URI for each.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// RecordStore saves one row per persisted item.
type RecordStore interface {
	SaveItem(ctx context.Context, record ItemRecord) error
}

// Publisher announces persisted items.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// ItemRecord describes one persisted item.
type ItemRecord struct {
	ID           string    `json:"id"`
	ItemID       string    `json:"item_id"`
	URL          string    `json:"url"`
	LinkURL      string    `json:"link_url,omitempty"`
	PageURI      string    `json:"page_uri"`
	StoryURI     string    `json:"story_uri,omitempty"`
	CommentURIs  []string  `json:"comment_uris"`
	CommentLinks int       `json:"comment_links"`
	Hash         string    `json:"hash"`
	PersistedAt  time.Time `json:"persisted_at"`
}

// Config controls blob layout and notifications.
type Config struct {
	// Prefix is prepended to every blob path.
	Prefix string
	// ContentType is used when a fetched page did not announce one.
	ContentType string
	// Topic is passed to the Publisher.
	Topic string
}

// Option customizes a BlobPersister.
type Option func(*BlobPersister)

// WithRecordStore saves an ItemRecord for every item.
func WithRecordStore(rs RecordStore) Option {
	return func(p *BlobPersister) { p.records = rs }
}

// WithPublisher publishes an ItemRecord for every item.
func WithPublisher(pub Publisher) Option {
	return func(p *BlobPersister) { p.publisher = pub }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *BlobPersister) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *BlobPersister) {
		if now != nil {
			p.now = now
		}
	}
}

// BlobPersister implements crawler.Persister.
type BlobPersister struct {
	cfg       Config
	blobs     BlobStore
	records   RecordStore
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
	newID     func() (uuid.UUID, error)
}

var _ crawler.Persister = (*BlobPersister)(nil)

// New builds a BlobPersister. The blob store is required.
func New(cfg Config, blobs BlobStore, opts ...Option) (*BlobPersister, error) {
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if cfg.ContentType == "" {
		cfg.ContentType = defaultContentType
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	p := &BlobPersister{
		cfg:    cfg,
		blobs:  blobs,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewV7,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Persist writes the item page, the optional story and every fetched comment,
// then records and announces the item. Any failure wraps crawler.ErrPersist.
func (p *BlobPersister) Persist(ctx context.Context, doc crawler.Document) error {
	itemID := doc.Item.ID
	if !validItemID.MatchString(itemID) {
		return fmt.Errorf("invalid item id %q: %w", itemID, crawler.ErrPersist)
	}
	dir := path.Join(p.cfg.Prefix, itemID)

	pageURI, err := p.put(ctx, path.Join(dir, fmt.Sprintf("post_%s.html", itemID)), doc.Page)
	if err != nil {
		return err
	}

	record := ItemRecord{
		ItemID:       itemID,
		URL:          doc.Item.URL,
		LinkURL:      doc.Item.LinkURL,
		PageURI:      pageURI,
		CommentURIs:  make([]string, 0, len(doc.Comments)),
		CommentLinks: len(doc.Item.CommentURLs),
		Hash:         hashBody(doc.Page.Body),
	}

	if doc.Story != nil {
		storyURI, err := p.put(ctx, path.Join(dir, fmt.Sprintf("story_%s.html", itemID)), *doc.Story)
		if err != nil {
			return err
		}
		record.StoryURI = storyURI
	}

	for i, n := range commentNumbers(doc) {
		name := fmt.Sprintf("comment_%d_%s.html", n, itemID)
		uri, err := p.put(ctx, path.Join(dir, name), doc.Comments[i])
		if err != nil {
			return err
		}
		record.CommentURIs = append(record.CommentURIs, uri)
	}

	id, err := p.newID()
	if err != nil {
		return fmt.Errorf("generate record id: %w: %w", crawler.ErrPersist, err)
	}
	record.ID = id.String()
	record.PersistedAt = p.now()

	if p.records != nil {
		if err := p.records.SaveItem(ctx, record); err != nil {
			return fmt.Errorf("save item record %s: %w: %w", itemID, crawler.ErrPersist, err)
		}
	}
	if p.publisher != nil {
		msgID, err := p.publisher.Publish(ctx, p.cfg.Topic, record)
		if err != nil {
			return fmt.Errorf("publish item %s: %w: %w", itemID, crawler.ErrPersist, err)
		}
		p.logger.Debug("item published", zap.String("item_id", itemID), zap.String("message_id", msgID))
	}
	return nil
}

func (p *BlobPersister) put(ctx context.Context, name string, content crawler.Content) (string, error) {
	contentType := content.ContentType()
	if contentType == "" {
		contentType = p.cfg.ContentType
	}
	uri, err := p.blobs.PutObject(ctx, name, contentType, bytes.NewReader(content.Body))
	if err != nil {
		return "", fmt.Errorf("store %s: %w: %w", name, crawler.ErrPersist, err)
	}
	return uri, nil
}

// commentNumbers numbers each fetched comment by the 1-based position of its
// link on the item page, so gaps mark comments that failed to fetch.
func commentNumbers(doc crawler.Document) []int {
	position := make(map[string]int, len(doc.Item.CommentURLs))
	for i, link := range doc.Item.CommentURLs {
		if _, dup := position[link]; !dup {
			position[link] = i + 1
		}
	}
	numbers := make([]int, len(doc.Comments))
	next := 1
	for i, c := range doc.Comments {
		if n, ok := position[c.URL]; ok {
			numbers[i] = n
			if n >= next {
				next = n + 1
			}
			continue
		}
		numbers[i] = next
		next++
	}
	return numbers
}

func hashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
