// Package leaderboard ranks a season's accounts by marked-to-market value.
package leaderboard

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/stockpick/trade-engine/internal/ledger"
	"github.com/stockpick/trade-engine/internal/model"
	"github.com/stockpick/trade-engine/internal/store"
)

// Prices returns whatever the cache holds without fetching.
// *pricecache.Cache satisfies it.
type Prices interface {
	Peek(ctx context.Context, symbols ...string) (map[string]model.Quote, error)
}

var hundred = decimal.NewFromInt(100)

// Aggregator builds standings. Reads are not synchronised with order
// execution; a standing may lag a concurrent fill.
type Aggregator struct {
	store  store.Store
	prices Prices
}

// New creates an Aggregator.
func New(st store.Store, prices Prices) *Aggregator {
	return &Aggregator{store: st, prices: prices}
}

// Top returns the n best non-disabled accounts of a season, ranked by
// portfolio value descending with ties broken by user id. n <= 0 returns
// every account.
func (a *Aggregator) Top(ctx context.Context, seasonID string, n int) ([]model.Standing, error) {
	season, err := a.store.GetSeason(ctx, seasonID)
	if err != nil {
		return nil, err
	}
	accounts, err := a.store.ListAccounts(ctx, seasonID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	users, err := a.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Name()
	}

	seen := make(map[string]bool)
	var symbols []string
	for _, acct := range accounts {
		for _, l := range acct.Lots {
			if !seen[l.Symbol] {
				seen[l.Symbol] = true
				symbols = append(symbols, l.Symbol)
			}
		}
	}
	quotes, err := a.prices.Peek(ctx, symbols...)
	if err != nil {
		return nil, fmt.Errorf("peek prices: %w", err)
	}

	out := make([]model.Standing, 0, len(accounts))
	for _, acct := range accounts {
		if acct.Account.Disabled {
			continue
		}
		value := ledger.Valuate(acct, quotes).PortfolioValue
		name, ok := names[acct.Account.UserID]
		if !ok {
			name = acct.Account.UserID
		}
		out = append(out, model.Standing{
			UserID: acct.Account.UserID,
			Name:   name,
			Value:  value,
			Return: ReturnPct(value, season.StartingCash),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Value.Cmp(out[j].Value); c != 0 {
			return c > 0
		}
		return out[i].UserID < out[j].UserID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

// ReturnPct is (value - start) / start as a percentage rounded to two
// places. A zero baseline yields zero.
func ReturnPct(value, start decimal.Decimal) decimal.Decimal {
	if start.IsZero() {
		return decimal.Zero
	}
	return value.Sub(start).Div(start).Mul(hundred).Round(2)
}
