package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ycrawler/internal/persist"
)

func TestSaveItemInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewItemStoreWithPool(mock, "items")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rec := persist.ItemRecord{
		ID:           "0190b6a4-0000-7000-8000-000000000001",
		ItemID:       "42",
		URL:          "https://news.ycombinator.com/item?id=42",
		PageURI:      "file:///data/42/post_42.html",
		CommentURIs:  []string{"file:///data/42/comment_1_42.html"},
		CommentLinks: 2,
		Hash:         "abc123",
		PersistedAt:  now,
	}

	mock.ExpectExec("INSERT INTO items").
		WithArgs(
			rec.ID,
			rec.ItemID,
			rec.URL,
			(*string)(nil),
			rec.PageURI,
			(*string)(nil),
			[]byte(`["file:///data/42/comment_1_42.html"]`),
			rec.CommentLinks,
			rec.Hash,
			rec.PersistedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveItem(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveItemPropagatesErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewItemStoreWithPool(mock, "")
	require.NoError(t, err)

	require.Error(t, store.SaveItem(context.Background(), persist.ItemRecord{}))

	mock.ExpectExec("INSERT INTO items").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnError(errors.New("connection refused"))
	err = store.SaveItem(context.Background(), persist.ItemRecord{ID: "id", ItemID: "1"})
	require.ErrorContains(t, err, "connection refused")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewItemStoreWithPool(mock, "hn_items")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS hn_items").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS hn_items_item_id_idx").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTableNameValidation(t *testing.T) {
	t.Parallel()

	_, err := NewItemStoreWithPool(nil, "items")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewItemStoreWithPool(mock, "items; DROP TABLE x")
	require.Error(t, err)

	_, err = NewItemStore(context.Background(), Config{})
	require.Error(t, err)
}

func TestCloseNilStore(t *testing.T) {
	t.Parallel()

	var store *ItemStore
	store.Close()
}

func TestPingWrapsError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewItemStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	err = store.Ping(context.Background())
	require.ErrorContains(t, err, "ping postgres")
	require.NoError(t, mock.ExpectationsWereMet())
}
