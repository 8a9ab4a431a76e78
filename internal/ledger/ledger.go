// Package ledger owns account state: cash, lots and the version that guards
// every mutation. All writes go through Mutate, which runs a
// read-compute-commit cycle and retries it when another writer got there
// first.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stockpick/trade-engine/internal/apperr"
	"github.com/stockpick/trade-engine/internal/metrics"
	"github.com/stockpick/trade-engine/internal/model"
	"github.com/stockpick/trade-engine/internal/store"
)

// Options configures a Ledger.
type Options struct {
	Retry  RetryConfig
	Logger *slog.Logger
	Now    func() time.Time
}

// Ledger is safe for concurrent use; it holds no account state itself.
type Ledger struct {
	store  store.Store
	retry  RetryConfig
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Ledger over st.
func New(st store.Store, opts Options) *Ledger {
	l := &Ledger{
		store:  st,
		retry:  opts.Retry,
		logger: opts.Logger,
		now:    opts.Now,
	}
	l.retry.validate()
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// Result is what a successful Mutate committed.
type Result struct {
	Account      model.Account
	Lots         []model.Lot
	Orders       []model.Order
	Transactions []model.Transaction
}

// Mutate loads the account, runs fn against a working copy and commits the
// outcome only if no other commit landed in between. Version conflicts are
// retried with backoff and surface as apperr.ErrConflict once the attempts
// run out. An error from fn aborts immediately and nothing is written.
func (l *Ledger) Mutate(ctx context.Context, seasonID, userID string, fn func(*Tx) error) (*Result, error) {
	for attempt := 0; attempt < l.retry.MaxAttempts; attempt++ {
		state, err := l.store.LoadAccount(ctx, seasonID, userID)
		if err != nil {
			return nil, err
		}

		tx := newTx(ctx, l.store, state, l.now().UTC())
		if err := fn(tx); err != nil {
			return nil, err
		}

		c := tx.commit(state.Account.Version)
		err = l.store.CommitAccount(ctx, c)
		if err == nil {
			acct := tx.account
			acct.Version = state.Account.Version + 1
			acct.UpdatedAt = c.At
			return &Result{
				Account:      acct,
				Lots:         tx.lots,
				Orders:       tx.orders,
				Transactions: tx.txns,
			}, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, fmt.Errorf("commit account %s: %w", userID, err)
		}

		metrics.LedgerConflicts.Inc()
		if attempt == l.retry.MaxAttempts-1 {
			break
		}
		wait := l.retry.delay(attempt)
		l.logger.Debug("account version conflict, retrying",
			"user", userID, "attempt", attempt+1, "delay", wait)
		if err := sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("%w: account %s: gave up retrying: %w", apperr.ErrConflict, userID, err)
		}
	}

	metrics.LedgerExhausted.Inc()
	l.logger.Warn("account mutation gave up", "user", userID, "attempts", l.retry.MaxAttempts)
	return nil, fmt.Errorf("%w: account %s changed concurrently %d times",
		apperr.ErrConflict, userID, l.retry.MaxAttempts)
}

// Load returns a snapshot of one account.
func (l *Ledger) Load(ctx context.Context, seasonID, userID string) (*model.AccountState, error) {
	return l.store.LoadAccount(ctx, seasonID, userID)
}

// EnsureAccount provisions the season's starting cash for a user on first
// use and reports whether it created the account.
func (l *Ledger) EnsureAccount(ctx context.Context, season model.Season, userID string) (bool, error) {
	now := l.now().UTC()
	created, err := l.store.CreateAccount(ctx, &model.Account{
		UserID:    userID,
		SeasonID:  season.ID,
		Cash:      season.StartingCash,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return false, fmt.Errorf("create account %s: %w", userID, err)
	}
	if created {
		l.logger.Info("account provisioned", "user", userID, "season", season.ID,
			"starting_cash", season.StartingCash.String())
	}
	return created, nil
}
