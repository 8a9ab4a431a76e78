package txlog

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockpick/trade-engine/internal/model"
	"github.com/stockpick/trade-engine/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr(v decimal.Decimal) *decimal.Decimal { return &v }

var t0 = time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)

func sampleLog() []model.Transaction {
	return []model.Transaction{
		{ID: "t1", Type: model.TxnTrade, Side: model.SideBuy, Symbol: "AAPL", OrderID: "o-1",
			Amount: d("-1874.20"), Quantity: ptr(d("10")), Price: ptr(d("187.42")), CreatedAt: t0},
		{ID: "t2", Type: model.TxnTrade, Side: model.SideBuy, Symbol: "AAPL", OrderID: "o-2",
			Amount: d("-950"), Quantity: ptr(d("5")), Price: ptr(d("190")), CreatedAt: t0.Add(time.Minute)},
		{ID: "t3", Type: model.TxnFund, Amount: d("500"), CreatedAt: t0.Add(2 * time.Minute)},
		{ID: "t4", Type: model.TxnTrade, Side: model.SideSell, Symbol: "AAPL", OrderID: "o-3",
			Amount: d("2288"), Quantity: ptr(d("12")), Price: ptr(d("190.6666")),
			Allocations: []model.Allocation{{LotID: "o-1", Quantity: d("10")}, {LotID: "o-2", Quantity: d("2")}},
			CreatedAt:   t0.Add(3 * time.Minute)},
	}
}

func TestReplay(t *testing.T) {
	st, err := Replay(d("100000"), sampleLog())
	require.NoError(t, err)

	assert.True(t, st.Cash.Equal(d("99963.80")))
	require.Len(t, st.Lots, 1)
	lot := st.Lots["o-2"]
	assert.True(t, lot.Quantity.Equal(d("3")))
	assert.True(t, lot.UnitCost.Equal(d("190")))
	assert.Equal(t, t0.Add(time.Minute), lot.AcquiredAt)
}

func TestReplay_RejectsInconsistentLog(t *testing.T) {
	cases := map[string][]model.Transaction{
		"unknown lot": {
			{ID: "t1", Type: model.TxnTrade, Side: model.SideSell, Amount: d("1"),
				Allocations: []model.Allocation{{LotID: "nope", Quantity: d("1")}}},
		},
		"oversell": append(sampleLog()[:1], model.Transaction{
			ID: "t9", Type: model.TxnTrade, Side: model.SideSell, Amount: d("1"),
			Allocations: []model.Allocation{{LotID: "o-1", Quantity: d("11")}},
		}),
		"negative cash": {
			{ID: "t1", Type: model.TxnFund, Amount: d("-100001")},
		},
		"buy without price": {
			{ID: "t1", Type: model.TxnTrade, Side: model.SideBuy, OrderID: "o-1", Amount: d("-1")},
		},
	}
	for name, txns := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Replay(d("100000"), txns)
			assert.Error(t, err)
		})
	}
}

func TestCompare(t *testing.T) {
	replayed := State{
		Cash: d("100"),
		Lots: map[string]model.Lot{
			"a": {OrderID: "a", Symbol: "AAPL", Quantity: d("1"), UnitCost: d("10")},
			"b": {OrderID: "b", Symbol: "AAPL", Quantity: d("2"), UnitCost: d("10")},
		},
	}
	actual := model.AccountState{
		Account: model.Account{Cash: d("100.00")},
		Lots: []model.Lot{
			{OrderID: "a", Symbol: "AAPL", Quantity: d("1.0"), UnitCost: d("10")},
		},
	}
	diffs := Compare(replayed, actual)
	require.Len(t, diffs, 1)
	assert.Equal(t, "b", diffs[0].LotID)
	assert.Equal(t, "absent", diffs[0].Actual)

	actual.Account.Cash = d("99")
	actual.Lots = append(actual.Lots,
		model.Lot{OrderID: "b", Symbol: "AAPL", Quantity: d("1"), UnitCost: d("10")},
		model.Lot{OrderID: "c", Symbol: "MSFT", Quantity: d("1"), UnitCost: d("10")})
	diffs = Compare(replayed, actual)
	require.Len(t, diffs, 3)
	assert.Equal(t, "cash", diffs[0].Field)
	assert.Equal(t, "b", diffs[1].LotID)
	assert.Equal(t, "c", diffs[2].LotID)
	assert.Equal(t, "absent", diffs[2].Expected)
}

func TestVerify_AgreesWithLedger(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.PutSeason(ctx, &model.Season{ID: "s1", StartingCash: d("100000")}))
	_, err := st.CreateAccount(ctx, &model.Account{SeasonID: "s1", UserID: "alice", Cash: d("100000")})
	require.NoError(t, err)

	txns := sampleLog()
	for i := range txns {
		txns[i].SeasonID, txns[i].UserID = "s1", "alice"
	}
	require.NoError(t, st.CommitAccount(ctx, &store.Commit{
		SeasonID: "s1", UserID: "alice", Cash: d("99963.80"),
		UpsertLots: []model.Lot{{OrderID: "o-2", SeasonID: "s1", UserID: "alice", Symbol: "AAPL",
			Quantity: d("3"), UnitCost: d("190"), AcquiredAt: t0.Add(time.Minute)}},
		Transactions: txns,
	}))

	log := New(st)
	diffs, err := log.Verify(ctx, "s1", "alice")
	require.NoError(t, err)
	assert.Empty(t, diffs)

	listed, err := log.List(ctx, "s1", "alice")
	require.NoError(t, err)
	assert.Len(t, listed, 4)
}

func TestVerify_ReportsDrift(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.PutSeason(ctx, &model.Season{ID: "s1", StartingCash: d("100000")}))
	_, err := st.CreateAccount(ctx, &model.Account{SeasonID: "s1", UserID: "alice", Cash: d("123")})
	require.NoError(t, err)

	diffs, err := New(st).Verify(ctx, "s1", "alice")
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, "cash", diffs[0].Field)
	assert.Equal(t, "100000", diffs[0].Expected)
}

// commitBetweenReads lands a FUND commit right after any separate account
// read, the way a concurrent writer can between two statements.
type commitBetweenReads struct {
	store.Store
}

func (s *commitBetweenReads) LoadAccount(ctx context.Context, seasonID, userID string) (*model.AccountState, error) {
	state, err := s.Store.LoadAccount(ctx, seasonID, userID)
	if err != nil {
		return nil, err
	}
	err = s.Store.CommitAccount(ctx, &store.Commit{
		SeasonID: seasonID, UserID: userID, ExpectedVersion: state.Account.Version,
		Cash: state.Account.Cash.Add(d("500")),
		Transactions: []model.Transaction{{ID: "late", SeasonID: seasonID, UserID: userID,
			Type: model.TxnFund, Amount: d("500"), CreatedAt: t0}},
	})
	return state, err
}

func TestVerify_ReadsAccountAndLogTogether(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, mem.PutSeason(ctx, &model.Season{ID: "s1", StartingCash: d("100000")}))
	_, err := mem.CreateAccount(ctx, &model.Account{SeasonID: "s1", UserID: "alice", Cash: d("100000")})
	require.NoError(t, err)

	diffs, err := New(&commitBetweenReads{Store: mem}).Verify(ctx, "s1", "alice")
	require.NoError(t, err)
	assert.Empty(t, diffs)
}
