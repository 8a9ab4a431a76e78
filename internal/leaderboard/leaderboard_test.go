package leaderboard

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockpick/trade-engine/internal/model"
	"github.com/stockpick/trade-engine/internal/pricecache"
	"github.com/stockpick/trade-engine/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var t0 = time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)

func seed(t *testing.T, st *store.MemoryStore, user, cash string, disabled bool, lots ...model.Lot) {
	t.Helper()
	ctx := context.Background()
	_, err := st.CreateAccount(ctx, &model.Account{SeasonID: "s1", UserID: user, Cash: d(cash)})
	require.NoError(t, err)
	for i := range lots {
		lots[i].SeasonID, lots[i].UserID = "s1", user
	}
	require.NoError(t, st.CommitAccount(ctx, &store.Commit{
		SeasonID: "s1", UserID: user, Cash: d(cash), Disabled: disabled, UpsertLots: lots, At: t0,
	}))
}

func newBoard(t *testing.T) (*Aggregator, *store.MemoryStore, *pricecache.Cache) {
	t.Helper()
	st := store.NewMemoryStore()
	require.NoError(t, st.PutSeason(context.Background(), &model.Season{ID: "s1", StartingCash: d("100000")}))
	cache := pricecache.New(pricecache.NewMemoryBackend(), nil, pricecache.Options{Now: func() time.Time { return t0 }})
	return New(st, cache), st, cache
}

func TestTop_RanksByValue(t *testing.T) {
	board, st, cache := newBoard(t)
	ctx := context.Background()

	require.NoError(t, st.PutUser(ctx, &model.User{ID: "alice", DisplayName: "Alice"}))
	seed(t, st, "alice", "90000", false,
		model.Lot{OrderID: "a1", Symbol: "AAPL", Quantity: d("100"), UnitCost: d("100"), AcquiredAt: t0})
	seed(t, st, "bob", "101000", false)
	seed(t, st, "carol", "101000", false)
	seed(t, st, "dave", "500000", true)

	_, err := cache.Refresh(ctx, "AAPL", d("125"), t0, "test")
	require.NoError(t, err)

	top, err := board.Top(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, top, 3)

	assert.Equal(t, "alice", top[0].UserID)
	assert.Equal(t, "Alice", top[0].Name)
	assert.True(t, top[0].Value.Equal(d("102500")))
	assert.True(t, top[0].Return.Equal(d("2.5")))

	assert.Equal(t, "bob", top[1].UserID)
	assert.Equal(t, "bob", top[1].Name, "name falls back to user id")
	assert.Equal(t, "carol", top[2].UserID)
	for i, s := range top {
		assert.Equal(t, i+1, s.Rank)
	}

	top, err = board.Top(ctx, "s1", 2)
	require.NoError(t, err)
	assert.Len(t, top, 2)
}

func TestTop_UnpricedHoldingsAtCost(t *testing.T) {
	board, st, _ := newBoard(t)
	seed(t, st, "alice", "99000", false,
		model.Lot{OrderID: "a1", Symbol: "MSFT", Quantity: d("2.5"), UnitCost: d("400"), AcquiredAt: t0})

	top, err := board.Top(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.True(t, top[0].Value.Equal(d("100000")))
	assert.True(t, top[0].Return.IsZero())
}

func TestTop_UnknownSeason(t *testing.T) {
	board, _, _ := newBoard(t)
	_, err := board.Top(context.Background(), "nope", 10)
	assert.Error(t, err)
}

func TestReturnPct(t *testing.T) {
	assert.True(t, ReturnPct(d("98765.4321"), d("100000")).Equal(d("-1.23")))
	assert.True(t, ReturnPct(d("1"), decimal.Zero).IsZero())
}
