// Package postgres provides the Postgres-backed item record store.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/ycrawler/internal/persist"
)

const defaultTable = "items"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for item rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

// ItemStore writes one row per persisted item.
type ItemStore struct {
	pool  execCloser
	table string
}

var _ persist.RecordStore = (*ItemStore)(nil)

// NewItemStore connects to Postgres using the provided config.
func NewItemStore(ctx context.Context, cfg Config) (*ItemStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ItemStore{pool: pool, table: table}, nil
}

// NewItemStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewItemStoreWithPool(pool execCloser, table string) (*ItemStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ItemStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ItemStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *ItemStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the items table and its item_id index when missing.
func (s *ItemStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id            uuid PRIMARY KEY,
	item_id       text NOT NULL,
	url           text NOT NULL,
	link_url      text,
	page_uri      text NOT NULL,
	story_uri     text,
	comment_uris  jsonb NOT NULL,
	comment_links integer NOT NULL,
	page_hash     text NOT NULL,
	persisted_at  timestamptz NOT NULL
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_item_id_idx ON %[1]s (item_id, persisted_at DESC)`, s.table),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure %s schema: %w", s.table, err)
		}
	}
	return nil
}

// SaveItem inserts an item row.
func (s *ItemStore) SaveItem(ctx context.Context, record persist.ItemRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("item store is not configured")
	}
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	uris := record.CommentURIs
	if uris == nil {
		uris = []string{}
	}
	urisJSON, err := json.Marshal(uris)
	if err != nil {
		return fmt.Errorf("marshal comment uris: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	item_id,
	url,
	link_url,
	page_uri,
	story_uri,
	comment_uris,
	comment_links,
	page_hash,
	persisted_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`, s.table)

	args := []any{
		record.ID,
		record.ItemID,
		record.URL,
		nullable(record.LinkURL),
		record.PageURI,
		nullable(record.StoryURI),
		urisJSON,
		record.CommentLinks,
		record.Hash,
		record.PersistedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
