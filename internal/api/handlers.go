package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/stockpick/trade-engine/internal/apperr"
	"github.com/stockpick/trade-engine/internal/model"
	"github.com/stockpick/trade-engine/internal/order"
	"github.com/stockpick/trade-engine/internal/symbols"
)

// --- Request/Response types ---

// ProfileResponse is the body of GET /profile.
type ProfileResponse struct {
	User     model.User      `json:"user"`
	Season   model.Season    `json:"season"`
	Cash     decimal.Decimal `json:"cash"`
	Disabled bool            `json:"disabled"`
}

// PreferencesRequest is the body of POST /preferences. Absent fields are
// left unchanged.
type PreferencesRequest struct {
	DisplayName *string `json:"displayName"`
	AvatarID    *string `json:"avatarId"`
	Theme       *string `json:"theme"`
}

// PlaceOrderRequest is the body of POST /orders. LotOrderID is accepted as
// an alias of TargetLotID.
type PlaceOrderRequest struct {
	Symbol      string           `json:"symbol"`
	Side        string           `json:"side"`
	Type        string           `json:"type"`
	Qty         decimal.Decimal  `json:"qty"`
	LimitPrice  *decimal.Decimal `json:"limitPrice,omitempty"`
	TargetLotID string           `json:"targetLotId,omitempty"`
	LotOrderID  string           `json:"lotOrderId,omitempty"`
}

// PlaceOrderResponse is the body returned from POST /orders.
type PlaceOrderResponse struct {
	OrderID      string            `json:"orderId"`
	Status       model.OrderStatus `json:"status"`
	FillPrice    *decimal.Decimal  `json:"fillPrice,omitempty"`
	RemainingQty decimal.Decimal   `json:"remainingQty"`
}

// CancelOrderRequest is the body of POST /orders/cancel.
type CancelOrderRequest struct {
	OrderID string `json:"orderId"`
}

// QuotesResponse is the body of GET /quotes.
type QuotesResponse struct {
	Quotes []model.Quote `json:"quotes"`
}

// --- HTTP Handlers ---

// getProfile handles GET /profile.
func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	id := caller(r)
	u, err := s.Store.GetUser(r.Context(), id.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	state, err := s.Ledger.Load(r.Context(), s.Season.ID, id.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ProfileResponse{
		User:     *u,
		Season:   s.Season,
		Cash:     state.Account.Cash,
		Disabled: state.Account.Disabled,
	})
}

// postPreferences handles POST /preferences.
func (s *Server) postPreferences(w http.ResponseWriter, r *http.Request) {
	var req PreferencesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.Store.GetUser(r.Context(), caller(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.DisplayName != nil {
		name := strings.TrimSpace(*req.DisplayName)
		if len(name) > 64 {
			s.writeError(w, r, fmt.Errorf("%w: displayName longer than 64 characters", apperr.ErrValidation))
			return
		}
		u.DisplayName = name
	}
	if req.AvatarID != nil {
		u.AvatarID = strings.TrimSpace(*req.AvatarID)
	}
	if req.Theme != nil {
		u.Theme = strings.TrimSpace(*req.Theme)
	}
	if err := s.Store.PutUser(r.Context(), u); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// getPortfolio handles GET /portfolio.
func (s *Server) getPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := s.Ledger.Portfolio(r.Context(), s.Season.ID, caller(r).UserID, s.Prices)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// listOrders handles GET /orders.
func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.Orders.ListOrders(r.Context(), s.Season.ID, caller(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// placeOrder handles POST /orders.
func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	side, err := model.ParseSide(req.Side)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", apperr.ErrValidation, err))
		return
	}
	typ, err := model.ParseOrderType(req.Type)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", apperr.ErrValidation, err))
		return
	}
	target := req.TargetLotID
	if target == "" {
		target = req.LotOrderID
	}

	o, err := s.Orders.PlaceOrder(r.Context(), order.PlaceRequest{
		SeasonID:    s.Season.ID,
		UserID:      caller(r).UserID,
		Symbol:      req.Symbol,
		Side:        side,
		Type:        typ,
		Qty:         req.Qty,
		LimitPrice:  req.LimitPrice,
		TargetLotID: target,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PlaceOrderResponse{
		OrderID:      o.ID,
		Status:       o.Status,
		FillPrice:    o.FillPrice,
		RemainingQty: o.RemainingQty,
	})
}

// cancelOrder handles POST /orders/cancel.
func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	o, err := s.Orders.CancelOrder(r.Context(), s.Season.ID, caller(r).UserID, req.OrderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// listTransactions handles GET /transactions.
func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := s.Log.List(r.Context(), s.Season.ID, caller(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if txns == nil {
		txns = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txns)
}

// getLeaderboard handles GET /leaderboard?limit=.
func (s *Server) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", s.LeaderboardSize, 500)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	top, err := s.Leaderboard.Top(r.Context(), s.Season.ID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, top)
}

// getQuotes handles GET /quotes?symbols=A,B.
func (s *Server) getQuotes(w http.ResponseWriter, r *http.Request) {
	var tickers []string
	for _, raw := range strings.Split(r.URL.Query().Get("symbols"), ",") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		sym, err := symbols.ValidateSymbol(raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		tickers = append(tickers, sym)
	}
	if len(tickers) == 0 {
		s.writeError(w, r, fmt.Errorf("%w: symbols is required", apperr.ErrValidation))
		return
	}
	if len(tickers) > 50 {
		s.writeError(w, r, fmt.Errorf("%w: at most 50 symbols per request", apperr.ErrValidation))
		return
	}

	quotes, err := s.Prices.Get(r.Context(), tickers...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, QuotesResponse{Quotes: quotes})
}

// searchSymbols handles GET /symbols?search=.
func (s *Server) searchSymbols(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20, 100)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	found := s.Symbols.Search(r.URL.Query().Get("search"), limit)
	if found == nil {
		found = []model.Symbol{}
	}
	writeJSON(w, http.StatusOK, found)
}
