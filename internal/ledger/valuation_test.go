package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockpick/trade-engine/internal/apperr"
	"github.com/stockpick/trade-engine/internal/model"
	"github.com/stockpick/trade-engine/internal/store"
)

type staticQuoter map[string]model.Quote

func (q staticQuoter) Quote(_ context.Context, symbol string) (model.Quote, error) {
	quote, ok := q[symbol]
	if !ok {
		return model.Quote{}, apperr.ErrPriceUnavailable
	}
	return quote, nil
}

func TestValuate(t *testing.T) {
	state := model.AccountState{
		Account: model.Account{UserID: "alice", SeasonID: "s1", Cash: d("1000")},
		Lots: []model.Lot{
			{OrderID: "o-1", Symbol: "AAPL", Quantity: d("10"), UnitCost: d("100"), AcquiredAt: t0},
			{OrderID: "o-2", Symbol: "AAPL", Quantity: d("5"), UnitCost: d("130"), AcquiredAt: t0.Add(time.Minute)},
			{OrderID: "o-3", Symbol: "IPO", Quantity: d("2"), UnitCost: d("50"), AcquiredAt: t0},
		},
	}
	quotes := map[string]model.Quote{
		"AAPL": {Symbol: "AAPL", LastPrice: d("120"), AsOf: t0, IsRealtime: true},
	}

	p := Valuate(state, quotes)
	require.Len(t, p.Holdings, 2)

	aapl := p.Holdings[0]
	assert.Equal(t, "AAPL", aapl.Symbol)
	assert.True(t, aapl.Quantity.Equal(d("15")))
	assert.True(t, aapl.AvgCost.Equal(d("110")))
	assert.True(t, aapl.MarketValue.Equal(d("1800")))
	// (120-100)*10 + (120-130)*5
	assert.True(t, aapl.UnrealizedPnL.Equal(d("150")))
	assert.True(t, aapl.IsRealtime)
	assert.Len(t, aapl.Lots, 2)

	ipo := p.Holdings[1]
	assert.True(t, ipo.MarketValue.Equal(d("100")), "unpriced symbol valued at cost")
	assert.True(t, ipo.UnrealizedPnL.IsZero())
	assert.True(t, ipo.LastPrice.Equal(d("50")))
	assert.False(t, ipo.IsRealtime)

	assert.True(t, p.PortfolioValue.Equal(d("2900")))
	assert.True(t, p.UnrealizedPnL.Equal(d("150")))
}

func TestValuate_HoldingQuantityEqualsLotSum(t *testing.T) {
	state := model.AccountState{
		Account: model.Account{Cash: d("0")},
		Lots: []model.Lot{
			{OrderID: "a", Symbol: "X", Quantity: d("0.25"), UnitCost: d("1")},
			{OrderID: "b", Symbol: "X", Quantity: d("1.5"), UnitCost: d("3")},
		},
	}
	p := Valuate(state, nil)
	require.Len(t, p.Holdings, 1)
	assert.True(t, p.Holdings[0].Quantity.Equal(d("1.75")))
}

func TestLedger_Portfolio(t *testing.T) {
	l := newLedger(t, store.NewMemoryStore(), "alice")
	ctx := context.Background()
	_, err := l.Mutate(ctx, "s1", "alice", buy("AAPL", "o-1", d("10"), d("187.42")))
	require.NoError(t, err)

	p, err := l.Portfolio(ctx, "s1", "alice", staticQuoter{
		"AAPL": {Symbol: "AAPL", LastPrice: d("190"), AsOf: t0, IsRealtime: true},
	})
	require.NoError(t, err)
	assert.True(t, p.Cash.Equal(d("98125.80")))
	assert.True(t, p.PortfolioValue.Equal(d("100025.80")))
	assert.True(t, p.UnrealizedPnL.Equal(d("25.80")))

	p, err = l.Portfolio(ctx, "s1", "alice", staticQuoter{})
	require.NoError(t, err)
	assert.True(t, p.PortfolioValue.Equal(d("100000")))
}
