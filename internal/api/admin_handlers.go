package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/stockpick/trade-engine/internal/model"
)

// FundRequest is the body of POST /admin/fund.
type FundRequest struct {
	UserID string          `json:"userId"`
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note,omitempty"`
}

func (s *Server) adminListSymbols(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Admin.ListSymbols())
}

func (s *Server) adminUpsertSymbol(w http.ResponseWriter, r *http.Request) {
	var sym model.Symbol
	if err := decodeJSON(w, r, &sym); err != nil {
		s.writeError(w, r, err)
		return
	}
	saved, err := s.Admin.UpsertSymbol(r.Context(), caller(r).UserID, sym)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) adminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.Admin.ListUsers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) adminUserOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.Admin.UserOrders(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) adminUserTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := s.Admin.UserTransactions(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txns)
}

func (s *Server) adminVerify(w http.ResponseWriter, r *http.Request) {
	diffs, err := s.Admin.Verify(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"consistent": len(diffs) == 0, "discrepancies": diffs})
}

func (s *Server) adminDisable(w http.ResponseWriter, r *http.Request) {
	acct, err := s.Admin.Disable(r.Context(), caller(r).UserID, chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) adminEnable(w http.ResponseWriter, r *http.Request) {
	acct, err := s.Admin.Enable(r.Context(), caller(r).UserID, chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) adminFund(w http.ResponseWriter, r *http.Request) {
	var req FundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	txn, err := s.Admin.Fund(r.Context(), caller(r).UserID, req.UserID, req.Amount, req.Note)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func (s *Server) adminReset(w http.ResponseWriter, r *http.Request) {
	if err := s.Admin.ResetSeason(r.Context(), caller(r).UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "season": s.Season.ID})
}

func (s *Server) adminAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100, 1000)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.Admin.Audit(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
