// Package model defines the core domain types shared across the trade engine.
// All monetary values and share quantities use shopspring/decimal, never
// float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Season is a bounded competition period with its own starting cash.
type Season struct {
	ID           string          `json:"seasonId"`
	Name         string          `json:"name"`
	StartingCash decimal.Decimal `json:"startingCash"`
	StartedAt    time.Time       `json:"startedAt"`
}

// User is the profile of a player as supplied by the identity provider,
// plus display preferences.
type User struct {
	ID          string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email,omitempty"`
	AvatarID    string    `json:"avatarId,omitempty"`
	Theme       string    `json:"theme,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Name returns the display name, falling back to the user id.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.ID
}

// Account is a user's cash balance within one season. Version is bumped on
// every committed mutation and guards optimistic commits.
type Account struct {
	UserID    string          `json:"userId"`
	SeasonID  string          `json:"seasonId"`
	Cash      decimal.Decimal `json:"cash"`
	Disabled  bool            `json:"disabled"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Lot is the quantity of a symbol acquired by one buy order. Its ID is the
// originating order id and AcquiredAt is that order's creation time, so a
// limit buy that rests before filling still ages from when it was placed.
type Lot struct {
	OrderID    string          `json:"orderId"`
	UserID     string          `json:"userId"`
	SeasonID   string          `json:"seasonId"`
	Symbol     string          `json:"symbol"`
	Quantity   decimal.Decimal `json:"qty"`
	UnitCost   decimal.Decimal `json:"unitCost"`
	AcquiredAt time.Time       `json:"acquiredAt"`
}

// OlderThan orders lots oldest-first by originating order creation, then order id.
func (l Lot) OlderThan(other Lot) bool {
	if !l.AcquiredAt.Equal(other.AcquiredAt) {
		return l.AcquiredAt.Before(other.AcquiredAt)
	}
	return l.OrderID < other.OrderID
}

// Order is a buy or sell request and its lifecycle.
type Order struct {
	ID           string           `json:"orderId"`
	UserID       string           `json:"userId"`
	SeasonID     string           `json:"seasonId"`
	Symbol       string           `json:"symbol"`
	Side         Side             `json:"side"`
	Type         OrderType        `json:"type"`
	Quantity     decimal.Decimal  `json:"qty"`
	LimitPrice   *decimal.Decimal `json:"limitPrice,omitempty"`
	TargetLotID  string           `json:"targetLotId,omitempty"`
	Status       OrderStatus      `json:"status"`
	Reason       string           `json:"reason,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	FilledAt     *time.Time       `json:"filledAt,omitempty"`
	FillPrice    *decimal.Decimal `json:"fillPrice,omitempty"`
	RemainingQty decimal.Decimal  `json:"remainingQty"`
}

// Allocation records how much of one lot a sell consumed.
type Allocation struct {
	LotID    string          `json:"lotId"`
	Quantity decimal.Decimal `json:"qty"`
}

// Transaction is an append-only record of one cash/lot movement. Amount is
// the signed cash delta: negative for buys, positive for sells and funding.
type Transaction struct {
	ID          string           `json:"txnId"`
	Seq         int64            `json:"seq"`
	UserID      string           `json:"userId"`
	SeasonID    string           `json:"seasonId"`
	Type        TxnType          `json:"type"`
	Amount      decimal.Decimal  `json:"amount"`
	Symbol      string           `json:"symbol,omitempty"`
	Side        Side             `json:"side,omitempty"`
	Quantity    *decimal.Decimal `json:"qty,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	OrderID     string           `json:"orderId,omitempty"`
	Allocations []Allocation     `json:"allocations,omitempty"`
	Note        string           `json:"note,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// Symbol is tradable reference data.
type Symbol struct {
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	Exchange  string    `json:"exchange"`
	IsActive  bool      `json:"isActive"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Quote is the latest known price for a symbol plus freshness metadata.
type Quote struct {
	Symbol     string          `json:"symbol"`
	LastPrice  decimal.Decimal `json:"lastPrice"`
	AsOf       time.Time       `json:"asOf"`
	IsRealtime bool            `json:"isRealtime"`
}

// AuditEntry records one privileged action.
type AuditEntry struct {
	ID           string    `json:"id"`
	ActorID      string    `json:"actorId"`
	Action       string    `json:"action"`
	TargetUserID string    `json:"targetUserId,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AccountState is a consistent snapshot of one account: the account row
// (with its version) and its lots, oldest first.
type AccountState struct {
	Account Account
	Lots    []Lot
}

// Holding aggregates a user's lots in one symbol, marked to market.
type Holding struct {
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"qty"`
	AvgCost       decimal.Decimal `json:"avgCost"`
	LastPrice     decimal.Decimal `json:"lastPrice"`
	MarketValue   decimal.Decimal `json:"marketValue"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnL"`
	IsRealtime    bool            `json:"isRealtime"`
	Lots          []Lot           `json:"lots"`
}

// Portfolio is the marked-to-market view of an account.
type Portfolio struct {
	UserID         string          `json:"userId"`
	SeasonID       string          `json:"seasonId"`
	Cash           decimal.Decimal `json:"cash"`
	Holdings       []Holding       `json:"holdings"`
	PortfolioValue decimal.Decimal `json:"portfolioValue"`
	UnrealizedPnL  decimal.Decimal `json:"unrealizedPnL"`
}

// Standing is one row of the leaderboard.
type Standing struct {
	Rank   int             `json:"rank"`
	UserID string          `json:"userId"`
	Name   string          `json:"name"`
	Return decimal.Decimal `json:"return"`
	Value  decimal.Decimal `json:"value"`
}
