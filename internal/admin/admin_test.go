package admin

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockpick/trade-engine/internal/apperr"
	"github.com/stockpick/trade-engine/internal/ledger"
	"github.com/stockpick/trade-engine/internal/model"
	"github.com/stockpick/trade-engine/internal/pricecache"
	"github.com/stockpick/trade-engine/internal/season"
	"github.com/stockpick/trade-engine/internal/store"
	"github.com/stockpick/trade-engine/internal/symbols"
	"github.com/stockpick/trade-engine/internal/txlog"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var t0 = time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)

type storeOrders struct{ st store.Store }

func (o storeOrders) ListOrders(ctx context.Context, seasonID, userID string) ([]model.Order, error) {
	return o.st.ListOrders(ctx, seasonID, userID)
}

type env struct {
	svc    *Service
	store  *store.MemoryStore
	ledger *ledger.Ledger
	gate   *season.Gate
	cache  *pricecache.Cache
}

func newEnv(t *testing.T, users ...string) *env {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	ssn := model.Season{ID: "s1", StartingCash: d("100000"), StartedAt: t0}
	require.NoError(t, st.PutSeason(ctx, &ssn))

	now := func() time.Time { return t0 }
	l := ledger.New(st, ledger.Options{Now: now})
	for _, u := range users {
		_, err := l.EnsureAccount(ctx, ssn, u)
		require.NoError(t, err)
	}
	gate := season.NewGate()
	cache := pricecache.New(pricecache.NewMemoryBackend(), nil, pricecache.Options{Now: now})
	svc := New(st, l, gate, symbols.NewDirectory(st), txlog.New(st), storeOrders{st}, cache, "s1", Options{Now: now})
	return &env{svc: svc, store: st, ledger: l, gate: gate, cache: cache}
}

func TestFund(t *testing.T) {
	e := newEnv(t, "alice")
	ctx := context.Background()

	txn, err := e.svc.Fund(ctx, "root", "alice", d("2500.50"), "prize")
	require.NoError(t, err)
	assert.Equal(t, model.TxnFund, txn.Type)
	assert.Equal(t, "alice", txn.UserID)
	assert.Equal(t, "prize", txn.Note)

	state, err := e.ledger.Load(ctx, "s1", "alice")
	require.NoError(t, err)
	assert.True(t, state.Account.Cash.Equal(d("102500.50")))

	entries, err := e.svc.Audit(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ActionFund, entries[0].Action)
	assert.Equal(t, "root", entries[0].ActorID)
	assert.Equal(t, "alice", entries[0].TargetUserID)

	diffs, err := e.svc.Verify(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, diffs)
}

func TestFund_Rejects(t *testing.T) {
	e := newEnv(t, "alice")
	ctx := context.Background()

	_, err := e.svc.Fund(ctx, "root", "alice", decimal.Zero, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = e.svc.Fund(ctx, "root", "alice", d("-5"), "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = e.svc.Fund(ctx, "root", "ghost", d("5"), "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	entries, _ := e.svc.Audit(ctx, 0)
	assert.Empty(t, entries)
}

func TestFund_DisabledAccount(t *testing.T) {
	e := newEnv(t, "alice")
	ctx := context.Background()

	acct, err := e.svc.Disable(ctx, "root", "alice")
	require.NoError(t, err)
	assert.True(t, acct.Disabled)

	_, err = e.svc.Fund(ctx, "root", "alice", d("10"), "")
	require.NoError(t, err)

	acct, err = e.svc.Enable(ctx, "root", "alice")
	require.NoError(t, err)
	assert.False(t, acct.Disabled)
	assert.True(t, acct.Cash.Equal(d("100010")))

	entries, _ := e.svc.Audit(ctx, 2)
	require.Len(t, entries, 2)
	assert.Equal(t, ActionEnable, entries[0].Action)
	assert.Equal(t, ActionFund, entries[1].Action)
}

func TestResetSeason(t *testing.T) {
	e := newEnv(t, "alice", "bob")
	ctx := context.Background()

	_, err := e.ledger.Mutate(ctx, "s1", "alice", func(tx *ledger.Tx) error {
		if err := tx.ApplyCashDelta(d("-1000")); err != nil {
			return err
		}
		if err := tx.CreateLot(model.Lot{OrderID: "o-1", Symbol: "AAPL", Quantity: d("10"), UnitCost: d("100")}); err != nil {
			return err
		}
		tx.PutOrder(model.Order{ID: "o-1", Symbol: "AAPL", Side: model.SideBuy, Status: model.StatusFilled})
		tx.Append(model.Transaction{Type: model.TxnTrade, Amount: d("-1000")})
		return nil
	})
	require.NoError(t, err)
	_, err = e.svc.Disable(ctx, "root", "bob")
	require.NoError(t, err)

	require.NoError(t, e.svc.ResetSeason(ctx, "root"))

	alice, err := e.ledger.Load(ctx, "s1", "alice")
	require.NoError(t, err)
	assert.True(t, alice.Account.Cash.Equal(d("100000")))
	assert.Empty(t, alice.Lots)

	orders, err := e.svc.UserOrders(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, orders)
	txns, err := e.svc.UserTransactions(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, txns)

	bob, _ := e.ledger.Load(ctx, "s1", "bob")
	assert.True(t, bob.Account.Disabled, "reset keeps disabled flags")

	entries, _ := e.svc.Audit(ctx, 1)
	require.Len(t, entries, 1)
	assert.Equal(t, ActionResetSeason, entries[0].Action)
}

func TestResetSeason_WaitsForGate(t *testing.T) {
	e := newEnv(t, "alice")
	release, err := e.gate.Shared(context.Background(), "s1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.svc.ResetSeason(ctx, "root"), apperr.ErrConflict)
}

func TestListUsers(t *testing.T) {
	e := newEnv(t, "alice", "bob")
	ctx := context.Background()
	require.NoError(t, e.store.PutUser(ctx, &model.User{ID: "alice", DisplayName: "Alice", Email: "a@example.com"}))

	_, err := e.ledger.Mutate(ctx, "s1", "alice", func(tx *ledger.Tx) error {
		if err := tx.ApplyCashDelta(d("-1000")); err != nil {
			return err
		}
		return tx.CreateLot(model.Lot{OrderID: "o-1", Symbol: "AAPL", Quantity: d("10"), UnitCost: d("100")})
	})
	require.NoError(t, err)
	_, err = e.cache.Refresh(ctx, "AAPL", d("110"), t0, "test")
	require.NoError(t, err)
	_, err = e.svc.Disable(ctx, "root", "bob")
	require.NoError(t, err)

	users, err := e.svc.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)

	assert.Equal(t, "Alice", users[0].DisplayName)
	assert.True(t, users[0].Cash.Equal(d("99000")))
	assert.True(t, users[0].PnL.Equal(d("100")))
	assert.Equal(t, "bob", users[1].DisplayName)
	assert.True(t, users[1].Disabled)
	assert.True(t, users[1].PnL.IsZero())
}

func TestUpsertSymbol(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	sym, err := e.svc.UpsertSymbol(ctx, "root", model.Symbol{Symbol: "brk.b", Name: "Berkshire", Exchange: "nyse", IsActive: true})
	require.NoError(t, err)
	assert.Equal(t, "BRK.B", sym.Symbol)
	assert.Len(t, e.svc.ListSymbols(), 1)

	_, err = e.svc.UpsertSymbol(ctx, "root", model.Symbol{Symbol: "??", Name: "x"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	entries, _ := e.svc.Audit(ctx, 0)
	assert.Len(t, entries, 1)
}

func TestUserHistory_UnknownUser(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.UserOrders(context.Background(), "ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = e.svc.UserTransactions(context.Background(), "ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = e.svc.Verify(context.Background(), "ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
