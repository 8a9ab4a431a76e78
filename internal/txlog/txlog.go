// Package txlog reads the append-only transaction log and replays it to
// check that the ledger still agrees with its own history.
package txlog

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/stockpick/trade-engine/internal/model"
	"github.com/stockpick/trade-engine/internal/store"
)

// Log is a read-only view over the stored transactions.
type Log struct {
	store store.Store
}

// New creates a Log over st.
func New(st store.Store) *Log {
	return &Log{store: st}
}

// List returns a user's transactions in commit order.
func (l *Log) List(ctx context.Context, seasonID, userID string) ([]model.Transaction, error) {
	txns, err := l.store.ListTransactions(ctx, seasonID, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions of %s: %w", userID, err)
	}
	return txns, nil
}

// State is an account reconstructed from its transactions.
type State struct {
	Cash decimal.Decimal
	Lots map[string]model.Lot // by lot id
}

// Replay rebuilds cash and lots from startingCash by applying txns in
// order. Buys create a lot keyed by their order id; sells shrink the lots
// named in their allocations.
func Replay(startingCash decimal.Decimal, txns []model.Transaction) (State, error) {
	st := State{Cash: startingCash, Lots: make(map[string]model.Lot)}
	for _, t := range txns {
		st.Cash = st.Cash.Add(t.Amount)
		if st.Cash.IsNegative() {
			return st, fmt.Errorf("transaction %s drives cash negative (%s)", t.ID, st.Cash)
		}
		if t.Type != model.TxnTrade {
			continue
		}

		switch t.Side {
		case model.SideBuy:
			if t.Quantity == nil || t.Price == nil {
				return st, fmt.Errorf("buy transaction %s lacks quantity or price", t.ID)
			}
			if _, dup := st.Lots[t.OrderID]; dup {
				return st, fmt.Errorf("buy transaction %s reuses lot %s", t.ID, t.OrderID)
			}
			st.Lots[t.OrderID] = model.Lot{
				OrderID:    t.OrderID,
				UserID:     t.UserID,
				SeasonID:   t.SeasonID,
				Symbol:     t.Symbol,
				Quantity:   *t.Quantity,
				UnitCost:   *t.Price,
				AcquiredAt: t.CreatedAt,
			}
		case model.SideSell:
			for _, a := range t.Allocations {
				lot, ok := st.Lots[a.LotID]
				if !ok {
					return st, fmt.Errorf("sell transaction %s consumes unknown lot %s", t.ID, a.LotID)
				}
				left := lot.Quantity.Sub(a.Quantity)
				switch {
				case left.IsNegative():
					return st, fmt.Errorf("sell transaction %s oversells lot %s", t.ID, a.LotID)
				case left.IsZero():
					delete(st.Lots, a.LotID)
				default:
					lot.Quantity = left
					st.Lots[a.LotID] = lot
				}
			}
		default:
			return st, fmt.Errorf("trade transaction %s has no side", t.ID)
		}
	}
	return st, nil
}

// Discrepancy is one difference between the ledger and its replay.
type Discrepancy struct {
	Field    string `json:"field"` // "cash", "lot" or "replay"
	LotID    string `json:"lotId,omitempty"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// Verify replays a user's log from the season's starting cash and compares
// the result with the stored account. An empty slice means they agree.
func (l *Log) Verify(ctx context.Context, seasonID, userID string) ([]Discrepancy, error) {
	season, err := l.store.GetSeason(ctx, seasonID)
	if err != nil {
		return nil, err
	}
	state, txns, err := l.store.LoadAccountLog(ctx, seasonID, userID)
	if err != nil {
		return nil, fmt.Errorf("load %s with its log: %w", userID, err)
	}

	replayed, err := Replay(season.StartingCash, txns)
	if err != nil {
		return []Discrepancy{{Field: "replay", Expected: "consistent log", Actual: err.Error()}}, nil
	}
	return Compare(replayed, *state), nil
}

// Compare lists every difference between a replayed state and the ledger.
func Compare(replayed State, actual model.AccountState) []Discrepancy {
	out := []Discrepancy{}
	if !replayed.Cash.Equal(actual.Account.Cash) {
		out = append(out, Discrepancy{Field: "cash", Expected: replayed.Cash.String(), Actual: actual.Account.Cash.String()})
	}

	seen := make(map[string]bool)
	for _, lot := range actual.Lots {
		seen[lot.OrderID] = true
		want, ok := replayed.Lots[lot.OrderID]
		switch {
		case !ok:
			out = append(out, Discrepancy{Field: "lot", LotID: lot.OrderID, Expected: "absent", Actual: describe(lot)})
		case want.Symbol != lot.Symbol || !want.Quantity.Equal(lot.Quantity) || !want.UnitCost.Equal(lot.UnitCost):
			out = append(out, Discrepancy{Field: "lot", LotID: lot.OrderID, Expected: describe(want), Actual: describe(lot)})
		}
	}

	var missing []string
	for id := range replayed.Lots {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	for _, id := range missing {
		out = append(out, Discrepancy{Field: "lot", LotID: id, Expected: describe(replayed.Lots[id]), Actual: "absent"})
	}
	return out
}

func describe(l model.Lot) string {
	return fmt.Sprintf("%s %s @ %s", l.Quantity, l.Symbol, l.UnitCost)
}
