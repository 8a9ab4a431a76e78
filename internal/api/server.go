// Package api exposes the engine over HTTP and WebSocket.
//
// Every handler maps failures through writeError, so the status code of a
// response is determined only by the apperr kind the error wraps.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stockpick/trade-engine/internal/admin"
	"github.com/stockpick/trade-engine/internal/apperr"
	"github.com/stockpick/trade-engine/internal/leaderboard"
	"github.com/stockpick/trade-engine/internal/ledger"
	"github.com/stockpick/trade-engine/internal/metrics"
	"github.com/stockpick/trade-engine/internal/model"
	"github.com/stockpick/trade-engine/internal/order"
	"github.com/stockpick/trade-engine/internal/pricecache"
	"github.com/stockpick/trade-engine/internal/store"
	"github.com/stockpick/trade-engine/internal/symbols"
	"github.com/stockpick/trade-engine/internal/txlog"
)

const maxBodyBytes = 1 << 20

// Deps are the collaborators a Server routes to.
type Deps struct {
	Store       store.Store
	Ledger      *ledger.Ledger
	Orders      *order.Engine
	Prices      *pricecache.Cache
	Symbols     *symbols.Directory
	Leaderboard *leaderboard.Aggregator
	Admin       *admin.Service
	Log         *txlog.Log
	Hub         *WSHub // optional
	Season      model.Season

	Tokens          *TokenParser // nil: claims are trusted unverified
	AdminGroup      string
	LeaderboardSize int
	RequestTimeout  time.Duration
	Logger          *slog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	Deps
	adminGroup  string
	logger      *slog.Logger
	provisioned sync.Map // user id → struct{}
}

// NewServer creates a Server.
func NewServer(d Deps) *Server {
	s := &Server{Deps: d, adminGroup: d.AdminGroup, logger: d.Logger}
	if s.adminGroup == "" {
		s.adminGroup = "Admin"
	}
	if s.Tokens == nil {
		s.Tokens = unverifiedTokens
	}
	if s.LeaderboardSize <= 0 {
		s.LeaderboardSize = 50
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = 30 * time.Second
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	// CORS for the browser client.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "trade-engine", "season": s.Season.ID})
	})
	r.Handle("/metrics", metrics.Handler())
	if s.Hub != nil {
		r.Get("/ws", s.Hub.HandleWS)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.RequestTimeout))
		r.Use(s.Authenticate)
		r.Use(s.provision)

		r.Get("/profile", s.getProfile)
		r.Post("/preferences", s.postPreferences)
		r.Get("/portfolio", s.getPortfolio)
		r.Get("/orders", s.listOrders)
		r.Post("/orders", s.placeOrder)
		r.Post("/orders/cancel", s.cancelOrder)
		r.Get("/transactions", s.listTransactions)
		r.Get("/leaderboard", s.getLeaderboard)
		r.Get("/quotes", s.getQuotes)
		r.Get("/symbols", s.searchSymbols)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.RequireAdmin)

			r.Get("/symbols", s.adminListSymbols)
			r.Post("/symbols", s.adminUpsertSymbol)
			r.Get("/users", s.adminListUsers)
			r.Get("/users/{userID}/orders", s.adminUserOrders)
			r.Get("/users/{userID}/transactions", s.adminUserTransactions)
			r.Get("/users/{userID}/verify", s.adminVerify)
			r.Post("/users/{userID}/disable", s.adminDisable)
			r.Post("/users/{userID}/enable", s.adminEnable)
			r.Post("/fund", s.adminFund)
			r.Post("/reset", s.adminReset)
			r.Get("/audit", s.adminAudit)
		})
	})
	return r
}

// provision creates the caller's profile and season account on first use.
func (s *Server) provision(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := IdentityFrom(r.Context())
		if _, done := s.provisioned.Load(id.UserID); !done {
			if err := s.ensureUser(r, id); err != nil {
				s.writeError(w, r, err)
				return
			}
			s.provisioned.Store(id.UserID, struct{}{})
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) ensureUser(r *http.Request, id Identity) error {
	ctx := r.Context()
	_, err := s.Store.GetUser(ctx, id.UserID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		u := &model.User{ID: id.UserID, DisplayName: id.Name, Email: id.Email, CreatedAt: time.Now().UTC()}
		if err := s.Store.PutUser(ctx, u); err != nil {
			return fmt.Errorf("create user %s: %w", id.UserID, err)
		}
	case err != nil:
		return err
	}
	_, err = s.Ledger.EnsureAccount(ctx, s.Season, id.UserID)
	return err
}

func caller(r *http.Request) Identity {
	id, _ := IdentityFrom(r.Context())
	return id
}

// --- helpers ---

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeError maps err to its status. Errors of no known kind are logged
// and reported with a generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	msg := err.Error()
	if !apperr.IsKnown(err) {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: apperr.Kind(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", apperr.ErrValidation, err)
	}
	return nil
}

// queryInt parses an optional positive integer parameter.
func queryInt(r *http.Request, name string, def, ceiling int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", apperr.ErrValidation, name)
	}
	if n > ceiling {
		n = ceiling
	}
	return n, nil
}
