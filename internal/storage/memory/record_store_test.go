package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ycrawler/internal/persist"
)

func TestRecordStoreSaveItem(t *testing.T) {
	t.Parallel()

	store := NewRecordStore()
	ctx := context.Background()

	require.Error(t, store.SaveItem(ctx, persist.ItemRecord{ItemID: "1"}))

	require.NoError(t, store.SaveItem(ctx, persist.ItemRecord{ID: "a", ItemID: "1"}))
	require.NoError(t, store.SaveItem(ctx, persist.ItemRecord{ID: "b", ItemID: "2"}))
	require.NoError(t, store.SaveItem(ctx, persist.ItemRecord{ID: "c", ItemID: "1"}))

	require.Len(t, store.Records(), 3)
	forOne := store.ForItem("1")
	require.Len(t, forOne, 2)
	require.Equal(t, "a", forOne[0].ID)
	require.Equal(t, "c", forOne[1].ID)
	require.Empty(t, store.ForItem("missing"))
}
