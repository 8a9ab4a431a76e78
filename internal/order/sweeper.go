package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stockpick/trade-engine/internal/apperr"
	"github.com/stockpick/trade-engine/internal/ledger"
	"github.com/stockpick/trade-engine/internal/metrics"
	"github.com/stockpick/trade-engine/internal/model"
)

var errNotPending = errors.New("order no longer pending")

// SweepResult counts what one sweep did.
type SweepResult struct {
	Scanned  int
	Filled   int
	Rejected int
}

// Sweep re-evaluates every resting limit order of a season against the
// current reference price, oldest first. Crossing orders are filled; an
// order that crosses but can no longer be paid for or covered is Rejected.
// Orders of disabled accounts and orders without a price stay Pending.
func (e *Engine) Sweep(ctx context.Context, seasonID string) (SweepResult, error) {
	var res SweepResult
	pending, err := e.store.ListPendingOrders(ctx, seasonID)
	if err != nil {
		return res, fmt.Errorf("list pending orders: %w", err)
	}
	metrics.PendingOrders.Set(float64(len(pending)))

	for _, o := range pending {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Scanned++

		quote, err := e.prices.Quote(ctx, o.Symbol)
		if err != nil {
			if !errors.Is(err, apperr.ErrPriceUnavailable) {
				e.logger.Warn("sweep quote failed", "symbol", o.Symbol, "error", err)
			}
			continue
		}
		if !Crosses(o, quote.LastPrice) {
			continue
		}

		switch outcome := e.sweepOne(ctx, o, quote); outcome {
		case model.StatusFilled:
			res.Filled++
		case model.StatusRejected:
			res.Rejected++
		}
	}
	return res, nil
}

func (e *Engine) sweepOne(ctx context.Context, o model.Order, quote model.Quote) model.OrderStatus {
	release, err := e.gate.Shared(ctx, o.SeasonID)
	if err != nil {
		return model.StatusPending
	}
	defer release()

	res, err := e.ledger.Mutate(ctx, o.SeasonID, o.UserID, func(tx *ledger.Tx) error {
		cur, err := tx.Order(o.ID)
		if err != nil {
			return err
		}
		if cur.Status != model.StatusPending {
			return errNotPending
		}
		if tx.Account().Disabled {
			return apperr.ErrAccountDisabled
		}
		return e.fill(tx, &cur, quote.LastPrice)
	})

	switch {
	case err == nil:
		filled := res.Orders[0]
		metrics.SweepFills.WithLabelValues(string(model.StatusFilled)).Inc()
		e.logger.Info("resting order filled", "user", o.UserID, "order_id", o.ID,
			"symbol", o.Symbol, "price", quote.LastPrice.String())
		e.filled(filled)
		return model.StatusFilled

	case errors.Is(err, apperr.ErrInsufficientFunds), errors.Is(err, apperr.ErrInsufficientHoldings):
		if rerr := e.reject(ctx, o, err.Error()); rerr != nil {
			e.logger.Warn("reject resting order failed", "order_id", o.ID, "error", rerr)
			return model.StatusPending
		}
		metrics.SweepFills.WithLabelValues(string(model.StatusRejected)).Inc()
		e.logger.Info("resting order rejected", "user", o.UserID, "order_id", o.ID, "reason", err.Error())
		return model.StatusRejected

	case errors.Is(err, errNotPending), errors.Is(err, apperr.ErrAccountDisabled), errors.Is(err, apperr.ErrNotFound):
		return model.StatusPending

	default:
		e.logger.Warn("sweep fill failed", "order_id", o.ID, "kind", apperr.Kind(err), "error", err)
		return model.StatusPending
	}
}

// reject marks o Rejected in its own mutation so nothing a failed fill
// touched is committed with it.
func (e *Engine) reject(ctx context.Context, o model.Order, reason string) error {
	_, err := e.ledger.Mutate(ctx, o.SeasonID, o.UserID, func(tx *ledger.Tx) error {
		cur, err := tx.Order(o.ID)
		if err != nil {
			return err
		}
		if err := transition(&cur, model.StatusRejected, reason); err != nil {
			return err
		}
		tx.PutOrder(cur)
		return nil
	})
	return err
}

// Sweeper runs Sweep for one season on a fixed interval.
type Sweeper struct {
	engine   *Engine
	seasonID string
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper; a non-positive interval means 5s.
func NewSweeper(e *Engine, seasonID string, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{engine: e, seasonID: seasonID, interval: interval, logger: logger}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("order sweeper started", "season", s.seasonID, "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("order sweeper stopped")
			return
		case <-ticker.C:
			res, err := s.engine.Sweep(ctx, s.seasonID)
			if err != nil && ctx.Err() == nil {
				s.logger.Error("sweep failed", "error", err)
				continue
			}
			if res.Filled > 0 || res.Rejected > 0 {
				s.logger.Info("sweep complete", "scanned", res.Scanned,
					"filled", res.Filled, "rejected", res.Rejected)
			}
		}
	}
}
