// Package symbols maintains the tradable symbol reference data. Entries are
// persisted in the store and mirrored in ordered in-memory indexes so that
// prefix search never touches the database.
package symbols

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/stockpick/trade-engine/internal/apperr"
	"github.com/stockpick/trade-engine/internal/model"
	"github.com/stockpick/trade-engine/internal/store"
)

// tickerRegex matches exchange tickers such as AAPL, BRK.B or RDS-A.
var tickerRegex = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,9}([.-][A-Z0-9]{1,4})?$`)

var (
	ErrInvalidTicker = errors.New("symbols: invalid ticker format")
	ErrUnknownSymbol = errors.New("symbols: unknown symbol")
	ErrInactive      = errors.New("symbols: symbol is not tradable")
)

// ValidateSymbol normalizes and validates a ticker.
func ValidateSymbol(ticker string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(ticker))
	if !tickerRegex.MatchString(sym) {
		return "", fmt.Errorf("%w: %w: %q", apperr.ErrValidation, ErrInvalidTicker, ticker)
	}
	return sym, nil
}

type nameKey struct {
	name   string // lower-cased
	symbol string
}

// Directory is safe for concurrent use.
type Directory struct {
	store store.Store
	now   func() time.Time

	mu       sync.RWMutex
	bySymbol *btree.BTreeG[model.Symbol]
	byName   *btree.BTreeG[nameKey]
}

// NewDirectory creates an empty directory over st. Call Load to populate it.
func NewDirectory(st store.Store) *Directory {
	return &Directory{
		store: st,
		now:   time.Now,
		bySymbol: btree.NewG(8, func(a, b model.Symbol) bool {
			return a.Symbol < b.Symbol
		}),
		byName: btree.NewG(8, func(a, b nameKey) bool {
			if a.name != b.name {
				return a.name < b.name
			}
			return a.symbol < b.symbol
		}),
	}
}

// Load rebuilds the indexes from the store.
func (d *Directory) Load(ctx context.Context) error {
	all, err := d.store.ListSymbols(ctx)
	if err != nil {
		return fmt.Errorf("load symbols: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.bySymbol.Clear(false)
	d.byName.Clear(false)
	for _, s := range all {
		d.index(s)
	}
	return nil
}

// Upsert validates, persists and indexes a symbol.
func (d *Directory) Upsert(ctx context.Context, s model.Symbol) (model.Symbol, error) {
	sym, err := ValidateSymbol(s.Symbol)
	if err != nil {
		return model.Symbol{}, err
	}
	s.Symbol = sym
	s.Name = strings.TrimSpace(s.Name)
	s.Exchange = strings.ToUpper(strings.TrimSpace(s.Exchange))
	if s.Name == "" {
		return model.Symbol{}, fmt.Errorf("%w: symbol name is required", apperr.ErrValidation)
	}
	s.UpdatedAt = d.now().UTC()

	if err := d.store.PutSymbol(ctx, &s); err != nil {
		return model.Symbol{}, fmt.Errorf("put symbol %s: %w", s.Symbol, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.bySymbol.Get(model.Symbol{Symbol: s.Symbol}); ok {
		d.byName.Delete(nameKey{strings.ToLower(old.Name), old.Symbol})
	}
	d.index(s)
	return s, nil
}

// index must be called with d.mu held.
func (d *Directory) index(s model.Symbol) {
	d.bySymbol.ReplaceOrInsert(s)
	d.byName.ReplaceOrInsert(nameKey{strings.ToLower(s.Name), s.Symbol})
}

// Get returns the entry for a ticker.
func (d *Directory) Get(ticker string) (model.Symbol, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.bySymbol.Get(model.Symbol{Symbol: strings.ToUpper(strings.TrimSpace(ticker))})
}

// Tradable returns the normalized ticker if it exists and is active. All
// failures wrap apperr.ErrValidation.
func (d *Directory) Tradable(ticker string) (string, error) {
	sym, err := ValidateSymbol(ticker)
	if err != nil {
		return "", err
	}
	s, ok := d.Get(sym)
	if !ok {
		return "", fmt.Errorf("%w: %w: %s", apperr.ErrValidation, ErrUnknownSymbol, sym)
	}
	if !s.IsActive {
		return "", fmt.Errorf("%w: %w: %s", apperr.ErrValidation, ErrInactive, sym)
	}
	return sym, nil
}

// Search returns active entries whose ticker or name starts with prefix,
// ordered by ticker. An empty prefix matches everything; limit <= 0 means
// no limit.
func (d *Directory) Search(prefix string, limit int) []model.Symbol {
	prefix = strings.TrimSpace(prefix)
	upper := strings.ToUpper(prefix)
	lower := strings.ToLower(prefix)

	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[string]bool)
	d.bySymbol.AscendGreaterOrEqual(model.Symbol{Symbol: upper}, func(s model.Symbol) bool {
		if !strings.HasPrefix(s.Symbol, upper) {
			return false
		}
		if s.IsActive {
			seen[s.Symbol] = true
		}
		return true
	})
	if lower != "" {
		d.byName.AscendGreaterOrEqual(nameKey{name: lower}, func(k nameKey) bool {
			if !strings.HasPrefix(k.name, lower) {
				return false
			}
			if s, ok := d.bySymbol.Get(model.Symbol{Symbol: k.symbol}); ok && s.IsActive {
				seen[k.symbol] = true
			}
			return true
		})
	}

	var out []model.Symbol
	d.bySymbol.Ascend(func(s model.Symbol) bool {
		if seen[s.Symbol] {
			out = append(out, s)
		}
		return limit <= 0 || len(out) < limit
	})
	return out
}

// List returns every entry, active or not, ordered by ticker.
func (d *Directory) List() []model.Symbol {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]model.Symbol, 0, d.bySymbol.Len())
	d.bySymbol.Ascend(func(s model.Symbol) bool {
		out = append(out, s)
		return true
	})
	return out
}
