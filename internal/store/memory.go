package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockpick/trade-engine/internal/apperr"
	"github.com/stockpick/trade-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	seasons  map[string]model.Season
	users    map[string]model.User
	accounts map[accountKey]*model.Account
	lots     map[accountKey]map[string]model.Lot
	orders   map[string]model.Order // orderID -> order
	ledger   []model.Transaction
	symbols  map[string]model.Symbol
	audit    []model.AuditEntry
	seq      int64
}

type accountKey struct {
	seasonID string
	userID   string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seasons:  make(map[string]model.Season),
		users:    make(map[string]model.User),
		accounts: make(map[accountKey]*model.Account),
		lots:     make(map[accountKey]map[string]model.Lot),
		orders:   make(map[string]model.Order),
		symbols:  make(map[string]model.Symbol),
	}
}

func (s *MemoryStore) GetSeason(_ context.Context, id string) (*model.Season, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	season, ok := s.seasons[id]
	if !ok {
		return nil, fmt.Errorf("season %s: %w", id, apperr.ErrNotFound)
	}
	return &season, nil
}

func (s *MemoryStore) PutSeason(_ context.Context, season *model.Season) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seasons[season.ID] = *season
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, apperr.ErrNotFound)
	}
	return &u, nil
}

func (s *MemoryStore) PutUser(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[user.ID] = *user
	return nil
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := accountKey{a.SeasonID, a.UserID}
	if _, ok := s.accounts[key]; ok {
		return false, nil
	}
	// Store a copy to avoid external mutation.
	copy := *a
	s.accounts[key] = &copy
	return true, nil
}

func (s *MemoryStore) LoadAccount(_ context.Context, seasonID, userID string) (*model.AccountState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := accountKey{seasonID, userID}
	a, ok := s.accounts[key]
	if !ok {
		return nil, fmt.Errorf("account %s/%s: %w", seasonID, userID, apperr.ErrNotFound)
	}
	return &model.AccountState{Account: *a, Lots: s.sortedLots(key)}, nil
}

func (s *MemoryStore) LoadAccountLog(_ context.Context, seasonID, userID string) (*model.AccountState, []model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := accountKey{seasonID, userID}
	a, ok := s.accounts[key]
	if !ok {
		return nil, nil, fmt.Errorf("account %s/%s: %w", seasonID, userID, apperr.ErrNotFound)
	}
	return &model.AccountState{Account: *a, Lots: s.sortedLots(key)}, s.transactions(seasonID, userID), nil
}

func (s *MemoryStore) ListAccounts(_ context.Context, seasonID string) ([]model.AccountState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var states []model.AccountState
	for key, a := range s.accounts {
		if key.seasonID != seasonID {
			continue
		}
		states = append(states, model.AccountState{Account: *a, Lots: s.sortedLots(key)})
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Account.UserID < states[j].Account.UserID })
	return states, nil
}

// sortedLots must be called with s.mu held.
func (s *MemoryStore) sortedLots(key accountKey) []model.Lot {
	lots := make([]model.Lot, 0, len(s.lots[key]))
	for _, l := range s.lots[key] {
		lots = append(lots, l)
	}
	sort.Slice(lots, func(i, j int) bool { return lots[i].OlderThan(lots[j]) })
	return lots
}

func (s *MemoryStore) CommitAccount(_ context.Context, c *Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := accountKey{c.SeasonID, c.UserID}
	a, ok := s.accounts[key]
	if !ok {
		return fmt.Errorf("account %s/%s: %w", c.SeasonID, c.UserID, apperr.ErrNotFound)
	}
	if a.Version != c.ExpectedVersion {
		return ErrVersionConflict
	}

	a.Cash = c.Cash
	a.Disabled = c.Disabled
	a.Version++
	a.UpdatedAt = c.At

	lots := s.lots[key]
	if lots == nil {
		lots = make(map[string]model.Lot)
		s.lots[key] = lots
	}
	for _, id := range c.DeleteLots {
		delete(lots, id)
	}
	for _, l := range c.UpsertLots {
		lots[l.OrderID] = l
	}

	for _, o := range c.Orders {
		s.orders[o.ID] = o
	}
	for _, t := range c.Transactions {
		s.seq++
		t.Seq = s.seq
		s.ledger = append(s.ledger, t)
	}
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, seasonID, orderID string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[orderID]
	if !ok || o.SeasonID != seasonID {
		return nil, fmt.Errorf("order %s: %w", orderID, apperr.ErrNotFound)
	}
	return &o, nil
}

func (s *MemoryStore) ListOrders(_ context.Context, seasonID, userID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Order
	for _, o := range s.orders {
		if o.SeasonID == seasonID && o.UserID == userID {
			result = append(result, o)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

func (s *MemoryStore) ListPendingOrders(_ context.Context, seasonID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Order
	for _, o := range s.orders {
		if o.SeasonID == seasonID && o.Status == model.StatusPending {
			result = append(result, o)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, seasonID, userID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transactions(seasonID, userID), nil
}

// transactions must be called with s.mu held.
func (s *MemoryStore) transactions(seasonID, userID string) []model.Transaction {
	var result []model.Transaction
	for _, t := range s.ledger {
		if t.SeasonID == seasonID && t.UserID == userID {
			result = append(result, t)
		}
	}
	return result
}

func (s *MemoryStore) PutSymbol(_ context.Context, sym *model.Symbol) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.symbols[sym.Symbol] = *sym
	return nil
}

func (s *MemoryStore) GetSymbol(_ context.Context, symbol string) (*model.Symbol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sym, ok := s.symbols[symbol]
	if !ok {
		return nil, fmt.Errorf("symbol %s: %w", symbol, apperr.ErrNotFound)
	}
	return &sym, nil
}

func (s *MemoryStore) ListSymbols(_ context.Context) ([]model.Symbol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols := make([]model.Symbol, 0, len(s.symbols))
	for _, sym := range s.symbols {
		symbols = append(symbols, sym)
	}
	sort.Slice(symbols, func(i, j int) bool { return symbols[i].Symbol < symbols[j].Symbol })
	return symbols, nil
}

func (s *MemoryStore) AppendAudit(_ context.Context, entry *model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit = append(s.audit, *entry)
	return nil
}

func (s *MemoryStore) ListAudit(_ context.Context, limit int) ([]model.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.audit)
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]model.AuditEntry, 0, n)
	for i := len(s.audit) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, s.audit[i])
	}
	return result, nil
}

func (s *MemoryStore) ResetSeason(_ context.Context, seasonID string, startingCash decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, a := range s.accounts {
		if key.seasonID != seasonID {
			continue
		}
		a.Cash = startingCash
		a.Version++
		a.UpdatedAt = at
		delete(s.lots, key)
	}
	for id, o := range s.orders {
		if o.SeasonID == seasonID {
			delete(s.orders, id)
		}
	}
	kept := s.ledger[:0]
	for _, t := range s.ledger {
		if t.SeasonID != seasonID {
			kept = append(kept, t)
		}
	}
	s.ledger = kept
	return nil
}
