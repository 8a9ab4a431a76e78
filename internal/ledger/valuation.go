package ledger

import (
	"context"
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/stockpick/trade-engine/internal/apperr"
	"github.com/stockpick/trade-engine/internal/model"
)

// Quoter resolves a reference price. *pricecache.Cache satisfies it.
type Quoter interface {
	Quote(ctx context.Context, symbol string) (model.Quote, error)
}

// Valuate marks an account to market. Symbols missing from quotes are
// valued at cost, so they contribute no unrealized P&L.
func Valuate(state model.AccountState, quotes map[string]model.Quote) model.Portfolio {
	bySymbol := make(map[string][]model.Lot)
	var symbols []string
	for _, l := range state.Lots {
		if _, ok := bySymbol[l.Symbol]; !ok {
			symbols = append(symbols, l.Symbol)
		}
		bySymbol[l.Symbol] = append(bySymbol[l.Symbol], l)
	}
	sort.Strings(symbols)

	p := model.Portfolio{
		UserID:         state.Account.UserID,
		SeasonID:       state.Account.SeasonID,
		Cash:           state.Account.Cash,
		Holdings:       make([]model.Holding, 0, len(symbols)),
		PortfolioValue: state.Account.Cash,
		UnrealizedPnL:  decimal.Zero,
	}
	for _, sym := range symbols {
		lots := bySymbol[sym]
		q, priced := quotes[sym]

		h := model.Holding{
			Symbol:        sym,
			Quantity:      decimal.Zero,
			MarketValue:   decimal.Zero,
			UnrealizedPnL: decimal.Zero,
			IsRealtime:    priced && q.IsRealtime,
			Lots:          lots,
		}
		cost := decimal.Zero
		for _, l := range lots {
			price := l.UnitCost
			if priced {
				price = q.LastPrice
			}
			h.Quantity = h.Quantity.Add(l.Quantity)
			cost = cost.Add(l.Quantity.Mul(l.UnitCost))
			h.MarketValue = h.MarketValue.Add(l.Quantity.Mul(price))
			h.UnrealizedPnL = h.UnrealizedPnL.Add(price.Sub(l.UnitCost).Mul(l.Quantity))
		}
		if h.Quantity.IsPositive() {
			h.AvgCost = cost.Div(h.Quantity).Round(4)
		}
		if priced {
			h.LastPrice = q.LastPrice
		} else {
			h.LastPrice = h.AvgCost
		}

		p.Holdings = append(p.Holdings, h)
		p.PortfolioValue = p.PortfolioValue.Add(h.MarketValue)
		p.UnrealizedPnL = p.UnrealizedPnL.Add(h.UnrealizedPnL)
	}
	return p
}

// Portfolio loads an account and values it with prices resolved through q.
// Symbols whose price is unavailable are valued at cost.
func (l *Ledger) Portfolio(ctx context.Context, seasonID, userID string, q Quoter) (model.Portfolio, error) {
	state, err := l.store.LoadAccount(ctx, seasonID, userID)
	if err != nil {
		return model.Portfolio{}, err
	}

	quotes := make(map[string]model.Quote)
	tried := make(map[string]bool)
	for _, lot := range state.Lots {
		if tried[lot.Symbol] {
			continue
		}
		tried[lot.Symbol] = true
		quote, err := q.Quote(ctx, lot.Symbol)
		if errors.Is(err, apperr.ErrPriceUnavailable) {
			continue
		}
		if err != nil {
			return model.Portfolio{}, err
		}
		quotes[lot.Symbol] = quote
	}
	return Valuate(*state, quotes), nil
}
