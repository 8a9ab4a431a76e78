// Package store defines the persistence interface for the trade engine.
// Implementations include PostgreSQL (source of truth) and in-memory (for
// testing and local development).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockpick/trade-engine/internal/model"
)

// ErrVersionConflict is returned by CommitAccount when the account changed
// since it was loaded.
var ErrVersionConflict = errors.New("store: account version conflict")

// Commit is one indivisible account mutation. It is applied only if the
// account's version still equals ExpectedVersion; on success the version is
// incremented by one.
type Commit struct {
	SeasonID        string
	UserID          string
	ExpectedVersion int64

	Cash     decimal.Decimal
	Disabled bool

	UpsertLots []model.Lot
	DeleteLots []string // lot ids (originating order ids)

	Orders       []model.Order       // inserted or replaced by id
	Transactions []model.Transaction // appended; Seq is assigned by the store

	At time.Time
}

// Store is the persistence interface. Reads of missing rows wrap
// apperr.ErrNotFound.
type Store interface {
	// --- Seasons and users ---

	GetSeason(ctx context.Context, id string) (*model.Season, error)
	PutSeason(ctx context.Context, season *model.Season) error

	GetUser(ctx context.Context, id string) (*model.User, error)
	PutUser(ctx context.Context, user *model.User) error
	ListUsers(ctx context.Context) ([]model.User, error)

	// --- Accounts ---

	// CreateAccount inserts the account if absent and reports whether it
	// did. An existing account is left untouched.
	CreateAccount(ctx context.Context, account *model.Account) (bool, error)

	// LoadAccount returns the account with its version and its lots,
	// oldest first, read from one consistent snapshot.
	LoadAccount(ctx context.Context, seasonID, userID string) (*model.AccountState, error)

	// LoadAccountLog returns the account, its lots and its transactions
	// as of one consistent point in time.
	LoadAccountLog(ctx context.Context, seasonID, userID string) (*model.AccountState, []model.Transaction, error)

	// ListAccounts returns every account of a season with its lots, read
	// from one consistent snapshot.
	ListAccounts(ctx context.Context, seasonID string) ([]model.AccountState, error)

	// CommitAccount applies c atomically or returns ErrVersionConflict.
	CommitAccount(ctx context.Context, c *Commit) error

	// --- Orders ---

	GetOrder(ctx context.Context, seasonID, orderID string) (*model.Order, error)
	// ListOrders returns a user's orders, newest first.
	ListOrders(ctx context.Context, seasonID, userID string) ([]model.Order, error)
	// ListPendingOrders returns every resting order of a season, oldest first.
	ListPendingOrders(ctx context.Context, seasonID string) ([]model.Order, error)

	// --- Immutable transaction log ---

	// ListTransactions returns a user's transactions in commit order.
	ListTransactions(ctx context.Context, seasonID, userID string) ([]model.Transaction, error)

	// --- Symbols ---

	PutSymbol(ctx context.Context, symbol *model.Symbol) error
	GetSymbol(ctx context.Context, symbol string) (*model.Symbol, error)
	ListSymbols(ctx context.Context) ([]model.Symbol, error)

	// --- Audit ---

	AppendAudit(ctx context.Context, entry *model.AuditEntry) error
	// ListAudit returns the newest entries first; limit <= 0 means all.
	ListAudit(ctx context.Context, limit int) ([]model.AuditEntry, error)

	// ResetSeason restores every account of the season to startingCash,
	// bumps every version and deletes the season's lots, orders and
	// transactions. Disabled flags are kept.
	ResetSeason(ctx context.Context, seasonID string, startingCash decimal.Decimal, at time.Time) error
}
