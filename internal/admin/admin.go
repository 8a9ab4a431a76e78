// Package admin implements privileged operations: funding, enabling and
// disabling accounts, season resets, symbol maintenance and the audit
// trail every one of them leaves.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockpick/trade-engine/internal/apperr"
	"github.com/stockpick/trade-engine/internal/ledger"
	"github.com/stockpick/trade-engine/internal/model"
	"github.com/stockpick/trade-engine/internal/season"
	"github.com/stockpick/trade-engine/internal/store"
	"github.com/stockpick/trade-engine/internal/symbols"
	"github.com/stockpick/trade-engine/internal/txlog"
)

// Audit actions.
const (
	ActionFund         = "fund"
	ActionDisable      = "disable"
	ActionEnable       = "enable"
	ActionResetSeason  = "reset_season"
	ActionUpsertSymbol = "upsert_symbol"
)

// Orders lists a user's orders. *order.Engine satisfies it.
type Orders interface {
	ListOrders(ctx context.Context, seasonID, userID string) ([]model.Order, error)
}

// Prices returns cached quotes without fetching.
type Prices interface {
	Peek(ctx context.Context, symbols ...string) (map[string]model.Quote, error)
}

// UserSummary is one row of the admin user list.
type UserSummary struct {
	UserID         string          `json:"userId"`
	DisplayName    string          `json:"displayName"`
	Email          string          `json:"email,omitempty"`
	Cash           decimal.Decimal `json:"cash"`
	PortfolioValue decimal.Decimal `json:"portfolioValue"`
	PnL            decimal.Decimal `json:"pnl"`
	Disabled       bool            `json:"disabled"`
}

// Options configures a Service.
type Options struct {
	Logger *slog.Logger
	Now    func() time.Time
}

// Service runs admin operations against one season.
type Service struct {
	store    store.Store
	ledger   *ledger.Ledger
	gate     *season.Gate
	symbols  *symbols.Directory
	log      *txlog.Log
	orders   Orders
	prices   Prices
	seasonID string
	logger   *slog.Logger
	now      func() time.Time
}

// New wires an admin Service for seasonID.
func New(st store.Store, l *ledger.Ledger, gate *season.Gate, dir *symbols.Directory,
	log *txlog.Log, orders Orders, prices Prices, seasonID string, opts Options) *Service {
	s := &Service{
		store:    st,
		ledger:   l,
		gate:     gate,
		symbols:  dir,
		log:      log,
		orders:   orders,
		prices:   prices,
		seasonID: seasonID,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Fund credits amount to a user's cash and records a FUND transaction.
// Disabled accounts can be funded.
func (s *Service) Fund(ctx context.Context, actor, userID string, amount decimal.Decimal, note string) (*model.Transaction, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", apperr.ErrValidation)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", apperr.ErrValidation)
	}

	release, err := s.gate.Shared(ctx, s.seasonID)
	if err != nil {
		return nil, err
	}
	defer release()

	var txn model.Transaction
	_, err = s.ledger.Mutate(ctx, s.seasonID, userID, func(tx *ledger.Tx) error {
		if err := tx.ApplyCashDelta(amount); err != nil {
			return err
		}
		txn = tx.Append(model.Transaction{Type: model.TxnFund, Amount: amount, Note: note})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, actor, ActionFund, userID, fmt.Sprintf("amount=%s note=%q", amount, note))
	return &txn, nil
}

// Disable stops a user from placing orders. Their resting orders stay
// Pending and are not swept until the account is enabled again.
func (s *Service) Disable(ctx context.Context, actor, userID string) (*model.Account, error) {
	return s.setDisabled(ctx, actor, userID, true)
}

// Enable re-allows trading for a user.
func (s *Service) Enable(ctx context.Context, actor, userID string) (*model.Account, error) {
	return s.setDisabled(ctx, actor, userID, false)
}

func (s *Service) setDisabled(ctx context.Context, actor, userID string, disabled bool) (*model.Account, error) {
	release, err := s.gate.Shared(ctx, s.seasonID)
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := s.ledger.Mutate(ctx, s.seasonID, userID, func(tx *ledger.Tx) error {
		tx.SetDisabled(disabled)
		return nil
	})
	if err != nil {
		return nil, err
	}

	action := ActionEnable
	if disabled {
		action = ActionDisable
	}
	s.audit(ctx, actor, action, userID, "")
	return &res.Account, nil
}

// ResetSeason waits for every in-flight mutation of the season, then
// restores all accounts to the starting cash and clears lots, orders and
// transactions. Disabled flags survive.
func (s *Service) ResetSeason(ctx context.Context, actor string) error {
	release, err := s.gate.Exclusive(ctx, s.seasonID)
	if err != nil {
		return err
	}
	defer release()

	ssn, err := s.store.GetSeason(ctx, s.seasonID)
	if err != nil {
		return err
	}
	if err := s.store.ResetSeason(ctx, ssn.ID, ssn.StartingCash, s.now().UTC()); err != nil {
		return fmt.Errorf("reset season %s: %w", ssn.ID, err)
	}

	s.logger.Warn("season reset", "season", ssn.ID, "actor", actor,
		"starting_cash", ssn.StartingCash.String())
	s.audit(ctx, actor, ActionResetSeason, "", "season="+ssn.ID)
	return nil
}

// UpsertSymbol adds or updates a directory entry.
func (s *Service) UpsertSymbol(ctx context.Context, actor string, sym model.Symbol) (*model.Symbol, error) {
	saved, err := s.symbols.Upsert(ctx, sym)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, actor, ActionUpsertSymbol, "",
		fmt.Sprintf("symbol=%s active=%t", saved.Symbol, saved.IsActive))
	return &saved, nil
}

// ListSymbols returns every directory entry, inactive ones included.
func (s *Service) ListSymbols() []model.Symbol {
	return s.symbols.List()
}

// ListUsers summarizes every account of the season, valued with cached
// prices only.
func (s *Service) ListUsers(ctx context.Context) ([]UserSummary, error) {
	ssn, err := s.store.GetSeason(ctx, s.seasonID)
	if err != nil {
		return nil, err
	}
	accounts, err := s.store.ListAccounts(ctx, s.seasonID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	byID := make(map[string]model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	var symbols []string
	seen := make(map[string]bool)
	for _, a := range accounts {
		for _, l := range a.Lots {
			if !seen[l.Symbol] {
				seen[l.Symbol] = true
				symbols = append(symbols, l.Symbol)
			}
		}
	}
	quotes, err := s.prices.Peek(ctx, symbols...)
	if err != nil {
		return nil, fmt.Errorf("peek prices: %w", err)
	}

	out := make([]UserSummary, 0, len(accounts))
	for _, a := range accounts {
		u, ok := byID[a.Account.UserID]
		if !ok {
			u = model.User{ID: a.Account.UserID}
		}
		value := ledger.Valuate(a, quotes).PortfolioValue
		out = append(out, UserSummary{
			UserID:         a.Account.UserID,
			DisplayName:    u.Name(),
			Email:          u.Email,
			Cash:           a.Account.Cash,
			PortfolioValue: value,
			PnL:            value.Sub(ssn.StartingCash),
			Disabled:       a.Account.Disabled,
		})
	}
	return out, nil
}

// UserOrders returns a user's orders, newest first.
func (s *Service) UserOrders(ctx context.Context, userID string) ([]model.Order, error) {
	if _, err := s.ledger.Load(ctx, s.seasonID, userID); err != nil {
		return nil, err
	}
	return s.orders.ListOrders(ctx, s.seasonID, userID)
}

// UserTransactions returns a user's transaction log in commit order.
func (s *Service) UserTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	if _, err := s.ledger.Load(ctx, s.seasonID, userID); err != nil {
		return nil, err
	}
	txns, err := s.log.List(ctx, s.seasonID, userID)
	if err != nil {
		return nil, err
	}
	if txns == nil {
		txns = []model.Transaction{}
	}
	return txns, nil
}

// Verify replays a user's log against the ledger.
func (s *Service) Verify(ctx context.Context, userID string) ([]txlog.Discrepancy, error) {
	diffs, err := s.log.Verify(ctx, s.seasonID, userID)
	if err != nil {
		return nil, err
	}
	if len(diffs) > 0 {
		s.logger.Warn("ledger disagrees with transaction log", "user", userID, "discrepancies", len(diffs))
	}
	return diffs, nil
}

// Audit returns the newest audit entries first; limit <= 0 means all.
func (s *Service) Audit(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	entries, err := s.store.ListAudit(ctx, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	return entries, nil
}

// audit records an admin action. The action itself already committed, so
// a failed write is logged rather than returned.
func (s *Service) audit(ctx context.Context, actor, action, target, detail string) {
	entry := &model.AuditEntry{
		ID:           uuid.NewString(),
		ActorID:      actor,
		Action:       action,
		TargetUserID: target,
		Detail:       detail,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		s.logger.Error("append audit entry failed", "action", action, "actor", actor, "error", err)
		return
	}
	s.logger.Info("admin action", "action", action, "actor", actor, "target", target)
}
