// Package order validates and executes orders against the price cache and
// the account ledger, and owns the order state machine.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockpick/trade-engine/internal/apperr"
	"github.com/stockpick/trade-engine/internal/ledger"
	"github.com/stockpick/trade-engine/internal/metrics"
	"github.com/stockpick/trade-engine/internal/model"
	"github.com/stockpick/trade-engine/internal/season"
	"github.com/stockpick/trade-engine/internal/store"
)

// Prices resolves reference prices. *pricecache.Cache satisfies it.
type Prices interface {
	Quote(ctx context.Context, symbol string) (model.Quote, error)
}

// Symbols checks that a ticker may be traded. *symbols.Directory
// satisfies it.
type Symbols interface {
	Tradable(ticker string) (string, error)
}

// PlaceRequest is one order as submitted by a player.
type PlaceRequest struct {
	SeasonID    string
	UserID      string
	Symbol      string
	Side        model.Side
	Type        model.OrderType
	Qty         decimal.Decimal
	LimitPrice  *decimal.Decimal
	TargetLotID string
}

// Options configures an Engine.
type Options struct {
	Logger *slog.Logger
	Now    func() time.Time
	// OnFill is called after every committed fill.
	OnFill func(model.Order)
}

// Engine is safe for concurrent use.
type Engine struct {
	ledger  *ledger.Ledger
	store   store.Store
	prices  Prices
	symbols Symbols
	gate    *season.Gate
	logger  *slog.Logger
	now     func() time.Time
	onFill  func(model.Order)
}

// NewEngine wires an order engine.
func NewEngine(l *ledger.Ledger, st store.Store, prices Prices, syms Symbols, gate *season.Gate, opts Options) *Engine {
	e := &Engine{
		ledger:  l,
		store:   st,
		prices:  prices,
		symbols: syms,
		gate:    gate,
		logger:  opts.Logger,
		now:     opts.Now,
		onFill:  opts.OnFill,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// PlaceOrder validates req, resolves the reference price and either fills
// the order immediately or leaves a non-crossing limit order Pending.
// A fill that fails for lack of cash or shares returns the error and
// persists nothing.
func (e *Engine) PlaceOrder(ctx context.Context, req PlaceRequest) (*model.Order, error) {
	start := time.Now()
	o, err := e.place(ctx, req)

	status := "failed"
	if err == nil {
		status = string(o.Status)
	}
	metrics.OrdersTotal.WithLabelValues(string(req.Side), string(req.Type), status).Inc()
	metrics.OrderLatency.WithLabelValues(string(req.Side)).Observe(time.Since(start).Seconds())

	if err != nil {
		e.logger.Info("order refused", "user", req.UserID, "symbol", req.Symbol,
			"side", req.Side, "kind", apperr.Kind(err), "error", err)
		return nil, err
	}
	e.logger.Info("order placed", "user", o.UserID, "order_id", o.ID, "symbol", o.Symbol,
		"side", o.Side, "type", o.Type, "qty", o.Quantity.String(), "status", o.Status)
	return o, nil
}

func (e *Engine) place(ctx context.Context, req PlaceRequest) (*model.Order, error) {
	if err := e.validate(&req); err != nil {
		return nil, err
	}

	release, err := e.gate.Shared(ctx, req.SeasonID)
	if err != nil {
		return nil, err
	}
	defer release()

	state, err := e.ledger.Load(ctx, req.SeasonID, req.UserID)
	if err != nil {
		return nil, err
	}
	if state.Account.Disabled {
		return nil, fmt.Errorf("%w: account %s", apperr.ErrAccountDisabled, req.UserID)
	}

	quote, err := e.prices.Quote(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	o := model.Order{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		SeasonID:     req.SeasonID,
		Symbol:       req.Symbol,
		Side:         req.Side,
		Type:         req.Type,
		Quantity:     req.Qty,
		LimitPrice:   req.LimitPrice,
		TargetLotID:  req.TargetLotID,
		Status:       model.StatusPending,
		CreatedAt:    e.now().UTC(),
		RemainingQty: req.Qty,
	}

	crossing := Crosses(o, quote.LastPrice)
	res, err := e.ledger.Mutate(ctx, req.SeasonID, req.UserID, func(tx *ledger.Tx) error {
		if tx.Account().Disabled {
			return fmt.Errorf("%w: account %s", apperr.ErrAccountDisabled, req.UserID)
		}
		pending := o
		if !crossing {
			tx.PutOrder(pending)
			return nil
		}
		return e.fill(tx, &pending, quote.LastPrice)
	})
	if err != nil {
		return nil, err
	}

	placed := res.Orders[0]
	if placed.Status == model.StatusFilled {
		e.filled(placed)
	}
	return &placed, nil
}

// validate normalizes req and rejects malformed orders before any ledger
// read. Every failure wraps apperr.ErrValidation.
func (e *Engine) validate(req *PlaceRequest) error {
	if req.UserID == "" || req.SeasonID == "" {
		return fmt.Errorf("%w: missing user or season", apperr.ErrValidation)
	}
	if !req.Qty.IsPositive() {
		return fmt.Errorf("%w: qty must be positive", apperr.ErrValidation)
	}
	if req.Side != model.SideBuy && req.Side != model.SideSell {
		return fmt.Errorf("%w: unknown side %q", apperr.ErrValidation, req.Side)
	}
	switch req.Type {
	case model.OrderMarket:
		req.LimitPrice = nil
	case model.OrderLimit:
		if req.LimitPrice == nil || !req.LimitPrice.IsPositive() {
			return fmt.Errorf("%w: limit orders need a positive limitPrice", apperr.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown order type %q", apperr.ErrValidation, req.Type)
	}
	if req.TargetLotID != "" && req.Side != model.SideSell {
		return fmt.Errorf("%w: targetLotId applies to sells only", apperr.ErrValidation)
	}

	sym, err := e.symbols.Tradable(req.Symbol)
	if err != nil {
		return err
	}
	req.Symbol = sym
	return nil
}

// Crosses reports whether o may execute at the reference price ref.
// Market orders always cross.
func Crosses(o model.Order, ref decimal.Decimal) bool {
	if o.Type == model.OrderMarket || o.LimitPrice == nil {
		return true
	}
	if o.Side == model.SideBuy {
		return ref.LessThanOrEqual(*o.LimitPrice)
	}
	return ref.GreaterThanOrEqual(*o.LimitPrice)
}

// fill executes o at price inside tx and records the trade.
func (e *Engine) fill(tx *ledger.Tx, o *model.Order, price decimal.Decimal) error {
	qty := o.Quantity
	amount := qty.Mul(price)
	trade := model.Transaction{
		Type:     model.TxnTrade,
		Symbol:   o.Symbol,
		Side:     o.Side,
		Quantity: &qty,
		Price:    &price,
		OrderID:  o.ID,
	}

	switch o.Side {
	case model.SideBuy:
		if err := tx.ApplyCashDelta(amount.Neg()); err != nil {
			return err
		}
		err := tx.CreateLot(model.Lot{
			OrderID:    o.ID,
			Symbol:     o.Symbol,
			Quantity:   o.Quantity,
			UnitCost:   price,
			AcquiredAt: o.CreatedAt,
		})
		if err != nil {
			return err
		}
		trade.Amount = amount.Neg()
		o.RemainingQty = o.Quantity

	case model.SideSell:
		var allocs []model.Allocation
		if o.TargetLotID != "" {
			a, err := tx.ConsumeLot(o.TargetLotID, o.Symbol, o.Quantity)
			if err != nil {
				return err
			}
			allocs = []model.Allocation{a}
		} else {
			var err error
			if allocs, err = tx.ConsumeFIFO(o.Symbol, o.Quantity); err != nil {
				return err
			}
		}
		if err := tx.ApplyCashDelta(amount); err != nil {
			return err
		}
		trade.Amount = amount
		trade.Allocations = allocs
		o.RemainingQty = decimal.Zero
	}

	if err := transition(o, model.StatusFilled, ""); err != nil {
		return err
	}
	now := tx.Now()
	o.FilledAt = &now
	o.FillPrice = &price
	tx.PutOrder(*o)
	tx.Append(trade)
	return nil
}

// transition moves o to next, refusing anything but Pending → terminal.
func transition(o *model.Order, next model.OrderStatus, reason string) error {
	if !o.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: order %s is %s, cannot become %s",
			apperr.ErrInvalidState, o.ID, o.Status, next)
	}
	o.Status = next
	o.Reason = reason
	return nil
}

// CancelOrder moves one of the user's Pending orders to Cancelled. It has
// no ledger effect beyond the order itself.
func (e *Engine) CancelOrder(ctx context.Context, seasonID, userID, orderID string) (*model.Order, error) {
	if orderID == "" {
		return nil, fmt.Errorf("%w: orderId is required", apperr.ErrValidation)
	}
	release, err := e.gate.Shared(ctx, seasonID)
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := e.ledger.Mutate(ctx, seasonID, userID, func(tx *ledger.Tx) error {
		o, err := tx.Order(orderID)
		if err != nil {
			return err
		}
		if err := transition(&o, model.StatusCancelled, ""); err != nil {
			return err
		}
		tx.PutOrder(o)
		return nil
	})
	if err != nil {
		return nil, err
	}
	o := res.Orders[0]
	e.logger.Info("order cancelled", "user", userID, "order_id", orderID)
	return &o, nil
}

// ListOrders returns the user's orders newest first. A filled buy reports
// as remaining whatever is still held in the lot it created.
func (e *Engine) ListOrders(ctx context.Context, seasonID, userID string) ([]model.Order, error) {
	orders, err := e.store.ListOrders(ctx, seasonID, userID)
	if err != nil {
		return nil, err
	}
	state, err := e.ledger.Load(ctx, seasonID, userID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	held := make(map[string]decimal.Decimal)
	if state != nil {
		for _, l := range state.Lots {
			held[l.OrderID] = l.Quantity
		}
	}
	for i, o := range orders {
		if o.Status == model.StatusFilled && o.Side == model.SideBuy {
			if q, ok := held[o.ID]; ok {
				orders[i].RemainingQty = q
			} else {
				orders[i].RemainingQty = decimal.Zero
			}
		}
	}
	if orders == nil {
		orders = []model.Order{}
	}
	return orders, nil
}

func (e *Engine) filled(o model.Order) {
	if e.onFill != nil {
		e.onFill(o)
	}
}
