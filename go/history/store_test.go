package history

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/nsf/jsondiff"
	"github.com/stretchr/testify/require"

	"github.com/riptidelabs/orderflow/go/order"
)

func openTestStore(t *testing.T) *Store {
	var path = filepath.Join(t.TempDir(), "history.db")
	store, err := Open(context.Background(), DriverSQLite, "file:"+path+"?_loc=UTC", 4, time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	// Schema creation is idempotent.
	require.NoError(t, store.EnsureSchema(context.Background()))
	return store
}

func testJob(id string, at time.Time) *order.Job {
	return &order.Job{
		Request: order.Request{
			TokenIn:   "So11111111111111111111111111111111111111112",
			TokenOut:  "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			Amount:    2_500_000,
			OrderType: order.TypeMarket,
		},
		OrderID:    id,
		ReceivedAt: at,
	}
}

func TestInsertIsIdempotent(t *testing.T) {
	var store = openTestStore(t)
	var ctx = context.Background()
	var t0 = time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC)
	var job = testJob("ORDER1111111", t0)

	require.NoError(t, store.Insert(ctx, job, "Order accepted"))
	// A second insert of the same order changes nothing.
	require.NoError(t, store.Insert(ctx, job, "Order accepted twice"))

	rec, err := store.Get(ctx, job.OrderID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, order.StatusPending, rec.Status)
	require.Equal(t, int64(2_500_000), rec.Amount)
	require.True(t, rec.ReceivedAt.Equal(t0))
	require.True(t, rec.UpdatedAt.Equal(t0))
	require.Nil(t, rec.Venue)
	require.Nil(t, rec.TxHash)

	var entries []Entry
	require.NoError(t, json.Unmarshal(rec.StatusHistory, &entries))
	require.Len(t, entries, 1)
	require.Equal(t, order.StatusPending, entries[0].Status)
	require.Equal(t, "Order accepted", entries[0].Detail)
}

func TestAppendStatusAdvancesTheRecord(t *testing.T) {
	var store = openTestStore(t)
	var ctx = context.Background()
	var t0 = time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC)
	var job = testJob("ORDER2222222", t0)
	require.NoError(t, store.Insert(ctx, job, "Order accepted"))

	require.NoError(t, store.AppendStatus(ctx, Update{
		OrderID: job.OrderID, Status: order.StatusQueued, At: t0.Add(time.Second),
	}))
	require.NoError(t, store.AppendStatus(ctx, Update{
		OrderID: job.OrderID, Status: order.StatusRouting,
		Detail: "fetching venue quotes", At: t0.Add(2 * time.Second),
	}))
	require.NoError(t, store.AppendStatus(ctx, Update{
		OrderID: job.OrderID, Status: order.StatusSubmitted,
		Detail:       "transaction submitted",
		Link:         "https://explorer.solana.com/tx/abc?cluster=devnet",
		Venue:        "raydium",
		TxHash:       "abc",
		ExplorerLink: "https://explorer.solana.com/tx/abc?cluster=devnet",
		At:           t0.Add(3 * time.Second),
	}))

	rec, err := store.Get(ctx, job.OrderID)
	require.NoError(t, err)
	require.Equal(t, order.StatusSubmitted, rec.Status)
	require.NotNil(t, rec.TxHash)
	require.Equal(t, "abc", *rec.TxHash)
	require.NotNil(t, rec.Venue)
	require.Equal(t, "raydium", *rec.Venue)
	require.True(t, rec.UpdatedAt.Equal(t0.Add(3*time.Second)))

	var entries []Entry
	require.NoError(t, json.Unmarshal(rec.StatusHistory, &entries))
	require.Len(t, entries, 4)
	require.Equal(t, order.StatusPending, entries[0].Status)
	require.Equal(t, order.StatusSubmitted, entries[3].Status)
	require.NotEmpty(t, entries[3].Link)

	// A later failure keeps previously recorded side fields.
	require.NoError(t, store.AppendStatus(ctx, Update{
		OrderID: job.OrderID, Status: order.StatusFailed,
		Detail: "confirmation timed out", LastError: "confirmation timed out",
		At: t0.Add(4 * time.Second),
	}))
	rec, err = store.Get(ctx, job.OrderID)
	require.NoError(t, err)
	require.Equal(t, order.StatusFailed, rec.Status)
	require.Equal(t, "raydium", *rec.Venue)
	require.Equal(t, "abc", *rec.TxHash)
	require.Equal(t, "confirmation timed out", *rec.LastError)
}

func TestAppendStatusForUnknownOrderIsANoOp(t *testing.T) {
	var store = openTestStore(t)
	require.NoError(t, store.AppendStatus(context.Background(), Update{
		OrderID: "MISSING00000", Status: order.StatusQueued,
	}))
}

func TestRecordRoutingDecision(t *testing.T) {
	var store = openTestStore(t)
	var ctx = context.Background()
	var t0 = time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC)
	var job = testJob("ORDER3333333", t0)
	require.NoError(t, store.Insert(ctx, job, "Order accepted"))

	rec, err := store.Get(ctx, job.OrderID)
	require.NoError(t, err)
	require.Equal(t, "null", string(rec.QuoteResponse))

	var quote = map[string]any{
		"venue":        "orca",
		"estimatedOut": 123456,
		"minOut":       122221,
	}
	require.NoError(t, store.RecordRoutingDecision(ctx, job.OrderID, "orca", quote))

	rec, err = store.Get(ctx, job.OrderID)
	require.NoError(t, err)
	require.NotNil(t, rec.Venue)
	require.Equal(t, "orca", *rec.Venue)

	var opts = jsondiff.DefaultConsoleOptions()
	var wantJSON, _ = json.Marshal(quote)
	diff, report := jsondiff.Compare([]byte(rec.QuoteResponse), wantJSON, &opts)
	require.Equal(t, jsondiff.FullMatch, diff, report)

	// Routing decisions don't reorder history pages.
	require.True(t, rec.UpdatedAt.Equal(t0))
}

func TestListPaginatesNewestFirst(t *testing.T) {
	var store = openTestStore(t)
	var ctx = context.Background()
	var t0 = time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC)

	var ids = []string{"ORDERAAAAAAA", "ORDERBBBBBBB", "ORDERCCCCCCC", "ORDERDDDDDDD", "ORDEREEEEEEE"}
	for i, id := range ids {
		var at = t0.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Insert(ctx, testJob(id, at), "Order accepted"))
	}

	// Page one: the two newest orders.
	page, err := store.List(ctx, Query{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	require.Equal(t, "ORDEREEEEEEE", page.Data[0].OrderID)
	require.Equal(t, "ORDERDDDDDDD", page.Data[1].OrderID)
	require.True(t, page.HasMore)
	require.NotNil(t, page.NextCursor)
	require.True(t, page.NextCursor.Equal(page.Data[1].UpdatedAt))

	// Page two resumes strictly before the cursor.
	page, err = store.List(ctx, Query{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	require.Equal(t, "ORDERCCCCCCC", page.Data[0].OrderID)
	require.Equal(t, "ORDERBBBBBBB", page.Data[1].OrderID)
	require.True(t, page.HasMore)

	// Final page comes back short, with no cursor.
	page, err = store.List(ctx, Query{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	require.Equal(t, "ORDERAAAAAAA", page.Data[0].OrderID)
	require.False(t, page.HasMore)
	require.Nil(t, page.NextCursor)
}

func TestListClampsLimits(t *testing.T) {
	var store = openTestStore(t)
	var ctx = context.Background()

	page, err := store.List(ctx, Query{})
	require.NoError(t, err)
	require.Equal(t, 50, page.Limit)
	require.Empty(t, page.Data)
	require.False(t, page.HasMore)

	page, err = store.List(ctx, Query{Limit: 100_000})
	require.NoError(t, err)
	require.Equal(t, 200, page.Limit)
}
