package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockpick/trade-engine/internal/apperr"
	"github.com/stockpick/trade-engine/internal/model"
	"github.com/stockpick/trade-engine/internal/store"
)

// Tx is the working copy of one account inside Mutate. Nothing it does is
// visible to anyone until the commit succeeds.
type Tx struct {
	ctx   context.Context
	store store.Store
	now   time.Time

	account model.Account
	lots    []model.Lot // oldest first

	touched map[string]bool // lot ids changed or created
	deleted map[string]bool

	orders   []model.Order
	orderIdx map[string]int
	txns     []model.Transaction
}

func newTx(ctx context.Context, st store.Store, state *model.AccountState, now time.Time) *Tx {
	lots := make([]model.Lot, len(state.Lots))
	copy(lots, state.Lots)
	return &Tx{
		ctx:      ctx,
		store:    st,
		now:      now,
		account:  state.Account,
		lots:     lots,
		touched:  make(map[string]bool),
		deleted:  make(map[string]bool),
		orderIdx: make(map[string]int),
	}
}

// Now is the timestamp every record of this mutation carries.
func (tx *Tx) Now() time.Time { return tx.now }

// Account returns the account as mutated so far.
func (tx *Tx) Account() model.Account { return tx.account }

// Lots returns the current lots of symbol, oldest first. An empty symbol
// returns every lot.
func (tx *Tx) Lots(symbol string) []model.Lot {
	var out []model.Lot
	for _, l := range tx.lots {
		if symbol == "" || l.Symbol == symbol {
			out = append(out, l)
		}
	}
	return out
}

// Holding returns the total quantity held in symbol.
func (tx *Tx) Holding(symbol string) decimal.Decimal {
	total := decimal.Zero
	for _, l := range tx.lots {
		if l.Symbol == symbol {
			total = total.Add(l.Quantity)
		}
	}
	return total
}

// ApplyCashDelta adds delta to cash. A result below zero fails with
// apperr.ErrInsufficientFunds and leaves cash unchanged.
func (tx *Tx) ApplyCashDelta(delta decimal.Decimal) error {
	next := tx.account.Cash.Add(delta)
	if next.IsNegative() {
		return fmt.Errorf("%w: need %s, have %s",
			apperr.ErrInsufficientFunds, delta.Neg().String(), tx.account.Cash.String())
	}
	tx.account.Cash = next
	return nil
}

// SetDisabled sets the account's disabled flag.
func (tx *Tx) SetDisabled(disabled bool) {
	tx.account.Disabled = disabled
}

// CreateLot adds a lot. Its id must be new and its quantity positive.
func (tx *Tx) CreateLot(l model.Lot) error {
	if !l.Quantity.IsPositive() {
		return fmt.Errorf("%w: lot quantity must be positive", apperr.ErrValidation)
	}
	if tx.findLot(l.OrderID) >= 0 {
		return fmt.Errorf("%w: lot %s already exists", apperr.ErrInvalidState, l.OrderID)
	}
	l.UserID = tx.account.UserID
	l.SeasonID = tx.account.SeasonID
	if l.AcquiredAt.IsZero() {
		l.AcquiredAt = tx.now
	}
	tx.lots = append(tx.lots, l)
	sort.SliceStable(tx.lots, func(i, j int) bool { return tx.lots[i].OlderThan(tx.lots[j]) })
	tx.touched[l.OrderID] = true
	delete(tx.deleted, l.OrderID)
	return nil
}

// ConsumeLot removes qty from exactly one lot of symbol. A missing lot, a
// lot of another symbol or too little quantity fail with
// apperr.ErrInsufficientHoldings and consume nothing.
func (tx *Tx) ConsumeLot(lotID, symbol string, qty decimal.Decimal) (model.Allocation, error) {
	if !qty.IsPositive() {
		return model.Allocation{}, fmt.Errorf("%w: quantity must be positive", apperr.ErrValidation)
	}
	i := tx.findLot(lotID)
	if i < 0 || tx.lots[i].Symbol != symbol {
		return model.Allocation{}, fmt.Errorf("%w: no %s lot %s", apperr.ErrInsufficientHoldings, symbol, lotID)
	}
	if tx.lots[i].Quantity.LessThan(qty) {
		return model.Allocation{}, fmt.Errorf("%w: lot %s holds %s, requested %s",
			apperr.ErrInsufficientHoldings, lotID, tx.lots[i].Quantity.String(), qty.String())
	}
	tx.shrink(i, qty)
	return model.Allocation{LotID: lotID, Quantity: qty}, nil
}

// ConsumeFIFO removes qty from the lots of symbol oldest first, splitting
// the last lot touched. If the total held is short nothing is consumed.
func (tx *Tx) ConsumeFIFO(symbol string, qty decimal.Decimal) ([]model.Allocation, error) {
	if !qty.IsPositive() {
		return nil, fmt.Errorf("%w: quantity must be positive", apperr.ErrValidation)
	}
	if held := tx.Holding(symbol); held.LessThan(qty) {
		return nil, fmt.Errorf("%w: hold %s %s, requested %s",
			apperr.ErrInsufficientHoldings, held.String(), symbol, qty.String())
	}

	var allocs []model.Allocation
	remaining := qty
	for i := 0; i < len(tx.lots) && remaining.IsPositive(); {
		l := tx.lots[i]
		if l.Symbol != symbol {
			i++
			continue
		}
		take := decimal.Min(l.Quantity, remaining)
		allocs = append(allocs, model.Allocation{LotID: l.OrderID, Quantity: take})
		remaining = remaining.Sub(take)
		if tx.shrink(i, take) {
			continue // lot removed, i now points at the next one
		}
		i++
	}
	return allocs, nil
}

// shrink reduces lot i by qty and reports whether the lot was removed.
func (tx *Tx) shrink(i int, qty decimal.Decimal) bool {
	id := tx.lots[i].OrderID
	left := tx.lots[i].Quantity.Sub(qty)
	if left.IsZero() {
		tx.lots = append(tx.lots[:i], tx.lots[i+1:]...)
		tx.deleted[id] = true
		delete(tx.touched, id)
		return true
	}
	tx.lots[i].Quantity = left
	tx.touched[id] = true
	return false
}

func (tx *Tx) findLot(id string) int {
	for i, l := range tx.lots {
		if l.OrderID == id {
			return i
		}
	}
	return -1
}

// Order returns an order of this account, preferring one written earlier
// in the same mutation. Orders of other accounts are apperr.ErrNotFound.
func (tx *Tx) Order(id string) (model.Order, error) {
	if i, ok := tx.orderIdx[id]; ok {
		return tx.orders[i], nil
	}
	o, err := tx.store.GetOrder(tx.ctx, tx.account.SeasonID, id)
	if err != nil {
		return model.Order{}, err
	}
	if o.UserID != tx.account.UserID {
		return model.Order{}, fmt.Errorf("order %s: %w", id, apperr.ErrNotFound)
	}
	return *o, nil
}

// PutOrder inserts or replaces an order in this mutation.
func (tx *Tx) PutOrder(o model.Order) {
	o.UserID = tx.account.UserID
	o.SeasonID = tx.account.SeasonID
	if i, ok := tx.orderIdx[o.ID]; ok {
		tx.orders[i] = o
		return
	}
	tx.orderIdx[o.ID] = len(tx.orders)
	tx.orders = append(tx.orders, o)
}

// Append records a transaction. Missing ids and timestamps are filled in.
func (tx *Tx) Append(t model.Transaction) model.Transaction {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.UserID = tx.account.UserID
	t.SeasonID = tx.account.SeasonID
	if t.CreatedAt.IsZero() {
		t.CreatedAt = tx.now
	}
	tx.txns = append(tx.txns, t)
	return t
}

func (tx *Tx) commit(expected int64) *store.Commit {
	c := &store.Commit{
		SeasonID:        tx.account.SeasonID,
		UserID:          tx.account.UserID,
		ExpectedVersion: expected,
		Cash:            tx.account.Cash,
		Disabled:        tx.account.Disabled,
		Orders:          tx.orders,
		Transactions:    tx.txns,
		At:              tx.now,
	}
	for _, l := range tx.lots {
		if tx.touched[l.OrderID] {
			c.UpsertLots = append(c.UpsertLots, l)
		}
	}
	for id := range tx.deleted {
		c.DeleteLots = append(c.DeleteLots, id)
	}
	sort.Strings(c.DeleteLots)
	return c
}
