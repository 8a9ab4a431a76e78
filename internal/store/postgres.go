package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stockpick/trade-engine/internal/apperr"
	"github.com/stockpick/trade-engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, apperr.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// --- Seasons and users ---

func (s *PostgresStore) GetSeason(ctx context.Context, id string) (*model.Season, error) {
	var season model.Season
	var cash string
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, starting_cash::TEXT, started_at FROM seasons WHERE id = $1`, id).
		Scan(&season.ID, &season.Name, &cash, &season.StartedAt)
	if err != nil {
		return nil, notFound(err, "season "+id)
	}
	season.StartingCash, _ = decimal.NewFromString(cash)
	return &season, nil
}

func (s *PostgresStore) PutSeason(ctx context.Context, season *model.Season) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO seasons (id, name, starting_cash, started_at)
		 VALUES ($1, $2, $3::NUMERIC, $4)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, starting_cash = EXCLUDED.starting_cash`,
		season.ID, season.Name, season.StartingCash.String(), season.StartedAt)
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, display_name, email, avatar_id, theme, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.DisplayName, &u.Email, &u.AvatarID, &u.Theme, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err, "user "+id)
	}
	return &u, nil
}

func (s *PostgresStore) PutUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, display_name, email, avatar_id, theme, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name,
		     email = EXCLUDED.email, avatar_id = EXCLUDED.avatar_id, theme = EXCLUDED.theme`,
		u.ID, u.DisplayName, u.Email, u.AvatarID, u.Theme, u.CreatedAt)
	return err
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, display_name, email, avatar_id, theme, created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.Email, &u.AvatarID, &u.Theme, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// --- Accounts ---

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (season_id, user_id, cash, disabled, version, created_at, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6, $7)
		 ON CONFLICT (season_id, user_id) DO NOTHING`,
		a.SeasonID, a.UserID, a.Cash.String(), a.Disabled, a.Version, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const accountColumns = `season_id, user_id, cash::TEXT, disabled, version, created_at, updated_at`

func scanAccount(row pgx.Row) (model.Account, error) {
	var a model.Account
	var cash string
	if err := row.Scan(&a.SeasonID, &a.UserID, &cash, &a.Disabled, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return a, err
	}
	a.Cash, _ = decimal.NewFromString(cash)
	return a, nil
}

const lotColumns = `season_id, user_id, order_id, symbol, quantity::TEXT, unit_cost::TEXT, acquired_at`

func scanLots(rows pgx.Rows) ([]model.Lot, error) {
	defer rows.Close()

	var lots []model.Lot
	for rows.Next() {
		var l model.Lot
		var qty, cost string
		if err := rows.Scan(&l.SeasonID, &l.UserID, &l.OrderID, &l.Symbol, &qty, &cost, &l.AcquiredAt); err != nil {
			return nil, err
		}
		l.Quantity, _ = decimal.NewFromString(qty)
		l.UnitCost, _ = decimal.NewFromString(cost)
		lots = append(lots, l)
	}
	return lots, rows.Err()
}

// querier is satisfied by both the pool and a pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// snapshot runs fn in a read-only REPEATABLE READ transaction so every
// statement in it sees the same committed state.
func (s *PostgresStore) snapshot(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	}, fn)
}

func (s *PostgresStore) LoadAccount(ctx context.Context, seasonID, userID string) (*model.AccountState, error) {
	var state *model.AccountState
	err := s.snapshot(ctx, func(tx pgx.Tx) error {
		var err error
		state, err = loadAccount(ctx, tx, seasonID, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// LoadAccountLog reads the account, its lots and its transactions from one
// snapshot.
func (s *PostgresStore) LoadAccountLog(ctx context.Context, seasonID, userID string) (*model.AccountState, []model.Transaction, error) {
	var (
		state *model.AccountState
		txns  []model.Transaction
	)
	err := s.snapshot(ctx, func(tx pgx.Tx) error {
		var err error
		if state, err = loadAccount(ctx, tx, seasonID, userID); err != nil {
			return err
		}
		txns, err = listTransactions(ctx, tx, seasonID, userID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return state, txns, nil
}

func loadAccount(ctx context.Context, q querier, seasonID, userID string) (*model.AccountState, error) {
	a, err := scanAccount(q.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE season_id = $1 AND user_id = $2`,
		seasonID, userID))
	if err != nil {
		return nil, notFound(err, "account "+seasonID+"/"+userID)
	}

	rows, err := q.Query(ctx,
		`SELECT `+lotColumns+` FROM lots WHERE season_id = $1 AND user_id = $2
		 ORDER BY acquired_at, order_id`, seasonID, userID)
	if err != nil {
		return nil, err
	}
	lots, err := scanLots(rows)
	if err != nil {
		return nil, err
	}
	return &model.AccountState{Account: a, Lots: lots}, nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context, seasonID string) ([]model.AccountState, error) {
	var states []model.AccountState
	err := s.snapshot(ctx, func(tx pgx.Tx) error {
		var err error
		states, err = listAccounts(ctx, tx, seasonID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return states, nil
}

func listAccounts(ctx context.Context, q querier, seasonID string) ([]model.AccountState, error) {
	rows, err := q.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE season_id = $1 ORDER BY user_id`, seasonID)
	if err != nil {
		return nil, err
	}
	var states []model.AccountState
	index := make(map[string]int)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		index[a.UserID] = len(states)
		states = append(states, model.AccountState{Account: a})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	lotRows, err := q.Query(ctx,
		`SELECT `+lotColumns+` FROM lots WHERE season_id = $1 ORDER BY acquired_at, order_id`, seasonID)
	if err != nil {
		return nil, err
	}
	lots, err := scanLots(lotRows)
	if err != nil {
		return nil, err
	}
	for _, l := range lots {
		if i, ok := index[l.UserID]; ok {
			states[i].Lots = append(states[i].Lots, l)
		}
	}
	return states, nil
}

// CommitAccount applies the whole commit in one database transaction. The
// conditional UPDATE on version is the optimistic check.
func (s *PostgresStore) CommitAccount(ctx context.Context, c *Commit) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE accounts SET cash = $3::NUMERIC, disabled = $4, version = version + 1, updated_at = $5
			 WHERE season_id = $1 AND user_id = $2 AND version = $6`,
			c.SeasonID, c.UserID, c.Cash.String(), c.Disabled, c.At, c.ExpectedVersion)
		if err != nil {
			return fmt.Errorf("update account: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrVersionConflict
		}

		for _, id := range c.DeleteLots {
			if _, err := tx.Exec(ctx,
				`DELETE FROM lots WHERE season_id = $1 AND user_id = $2 AND order_id = $3`,
				c.SeasonID, c.UserID, id); err != nil {
				return fmt.Errorf("delete lot %s: %w", id, err)
			}
		}
		for _, l := range c.UpsertLots {
			if _, err := tx.Exec(ctx,
				`INSERT INTO lots (season_id, user_id, order_id, symbol, quantity, unit_cost, acquired_at)
				 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7)
				 ON CONFLICT (season_id, user_id, order_id) DO UPDATE SET quantity = EXCLUDED.quantity`,
				l.SeasonID, l.UserID, l.OrderID, l.Symbol, l.Quantity.String(), l.UnitCost.String(), l.AcquiredAt); err != nil {
				return fmt.Errorf("upsert lot %s: %w", l.OrderID, err)
			}
		}

		for _, o := range c.Orders {
			if err := upsertOrder(ctx, tx, &o); err != nil {
				return err
			}
		}
		for _, t := range c.Transactions {
			if err := insertTransaction(ctx, tx, &t); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- Orders ---

func decimalPtrString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseDecimalPtr(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil
	}
	return &d
}

func upsertOrder(ctx context.Context, tx pgx.Tx, o *model.Order) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO orders (id, season_id, user_id, symbol, side, type, quantity, limit_price,
		                     target_lot_id, status, reason, created_at, filled_at, fill_price, remaining_qty)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9, $10, $11, $12, $13, $14::NUMERIC, $15::NUMERIC)
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, reason = EXCLUDED.reason,
		     filled_at = EXCLUDED.filled_at, fill_price = EXCLUDED.fill_price,
		     remaining_qty = EXCLUDED.remaining_qty`,
		o.ID, o.SeasonID, o.UserID, o.Symbol, string(o.Side), string(o.Type), o.Quantity.String(),
		decimalPtrString(o.LimitPrice), o.TargetLotID, string(o.Status), o.Reason, o.CreatedAt,
		o.FilledAt, decimalPtrString(o.FillPrice), o.RemainingQty.String())
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", o.ID, err)
	}
	return nil
}

const orderColumns = `id, season_id, user_id, symbol, side, type, quantity::TEXT, limit_price::TEXT,
	target_lot_id, status, reason, created_at, filled_at, fill_price::TEXT, remaining_qty::TEXT`

func scanOrder(row pgx.Row) (model.Order, error) {
	var o model.Order
	var side, typ, status, qty, remaining string
	var limit, fill *string
	if err := row.Scan(&o.ID, &o.SeasonID, &o.UserID, &o.Symbol, &side, &typ, &qty, &limit,
		&o.TargetLotID, &status, &o.Reason, &o.CreatedAt, &o.FilledAt, &fill, &remaining); err != nil {
		return o, err
	}
	o.Side = model.Side(side)
	o.Type = model.OrderType(typ)
	o.Status = model.OrderStatus(status)
	o.Quantity, _ = decimal.NewFromString(qty)
	o.RemainingQty, _ = decimal.NewFromString(remaining)
	o.LimitPrice = parseDecimalPtr(limit)
	o.FillPrice = parseDecimalPtr(fill)
	return o, nil
}

func (s *PostgresStore) queryOrders(ctx context.Context, query string, args ...any) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) GetOrder(ctx context.Context, seasonID, orderID string) (*model.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE season_id = $1 AND id = $2`, seasonID, orderID))
	if err != nil {
		return nil, notFound(err, "order "+orderID)
	}
	return &o, nil
}

func (s *PostgresStore) ListOrders(ctx context.Context, seasonID, userID string) ([]model.Order, error) {
	return s.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE season_id = $1 AND user_id = $2
		 ORDER BY created_at DESC, id DESC`, seasonID, userID)
}

func (s *PostgresStore) ListPendingOrders(ctx context.Context, seasonID string) ([]model.Order, error) {
	return s.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE season_id = $1 AND status = 'pending'
		 ORDER BY created_at, id`, seasonID)
}

// --- Immutable transaction log ---

func insertTransaction(ctx context.Context, tx pgx.Tx, t *model.Transaction) error {
	allocs := t.Allocations
	if allocs == nil {
		allocs = []model.Allocation{}
	}
	allocJSON, err := json.Marshal(allocs)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO transactions (id, season_id, user_id, type, amount, symbol, side, quantity, price,
		                           order_id, allocations, note, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8::NUMERIC, $9::NUMERIC, $10, $11::JSONB, $12, $13)`,
		t.ID, t.SeasonID, t.UserID, string(t.Type), t.Amount.String(), t.Symbol, string(t.Side),
		decimalPtrString(t.Quantity), decimalPtrString(t.Price), t.OrderID, string(allocJSON), t.Note, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", t.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, seasonID, userID string) ([]model.Transaction, error) {
	return listTransactions(ctx, s.pool, seasonID, userID)
}

func listTransactions(ctx context.Context, q querier, seasonID, userID string) ([]model.Transaction, error) {
	rows, err := q.Query(ctx,
		`SELECT seq, id, season_id, user_id, type, amount::TEXT, symbol, side, quantity::TEXT, price::TEXT,
		        order_id, allocations, note, created_at
		 FROM transactions WHERE season_id = $1 AND user_id = $2 ORDER BY seq`, seasonID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var typ, side, amount string
		var qty, price *string
		var allocJSON []byte
		if err := rows.Scan(&t.Seq, &t.ID, &t.SeasonID, &t.UserID, &typ, &amount, &t.Symbol, &side,
			&qty, &price, &t.OrderID, &allocJSON, &t.Note, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Type = model.TxnType(typ)
		t.Side = model.Side(side)
		t.Amount, _ = decimal.NewFromString(amount)
		t.Quantity = parseDecimalPtr(qty)
		t.Price = parseDecimalPtr(price)
		if len(allocJSON) > 0 {
			if err := json.Unmarshal(allocJSON, &t.Allocations); err != nil {
				return nil, fmt.Errorf("decode allocations of %s: %w", t.ID, err)
			}
		}
		if len(t.Allocations) == 0 {
			t.Allocations = nil
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// --- Symbols ---

func (s *PostgresStore) PutSymbol(ctx context.Context, sym *model.Symbol) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO symbols (symbol, name, exchange, is_active, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (symbol) DO UPDATE SET name = EXCLUDED.name, exchange = EXCLUDED.exchange,
		     is_active = EXCLUDED.is_active, updated_at = EXCLUDED.updated_at`,
		sym.Symbol, sym.Name, sym.Exchange, sym.IsActive, sym.UpdatedAt)
	return err
}

func (s *PostgresStore) GetSymbol(ctx context.Context, symbol string) (*model.Symbol, error) {
	var sym model.Symbol
	err := s.pool.QueryRow(ctx,
		`SELECT symbol, name, exchange, is_active, updated_at FROM symbols WHERE symbol = $1`, symbol).
		Scan(&sym.Symbol, &sym.Name, &sym.Exchange, &sym.IsActive, &sym.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "symbol "+symbol)
	}
	return &sym, nil
}

func (s *PostgresStore) ListSymbols(ctx context.Context) ([]model.Symbol, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, name, exchange, is_active, updated_at FROM symbols ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []model.Symbol
	for rows.Next() {
		var sym model.Symbol
		if err := rows.Scan(&sym.Symbol, &sym.Name, &sym.Exchange, &sym.IsActive, &sym.UpdatedAt); err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// --- Audit ---

func (s *PostgresStore) AppendAudit(ctx context.Context, e *model.AuditEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (id, actor_id, action, target_user_id, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.ActorID, e.Action, e.TargetUserID, e.Detail, e.CreatedAt)
	return err
}

func (s *PostgresStore) ListAudit(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	query := `SELECT id, actor_id, action, target_user_id, detail, created_at
	          FROM audit_log ORDER BY created_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.TargetUserID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ResetSeason runs as one database transaction so no reader observes a
// half-reset season.
func (s *PostgresStore) ResetSeason(ctx context.Context, seasonID string, startingCash decimal.Decimal, at time.Time) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		stmts := []struct {
			sql  string
			args []any
		}{
			{`DELETE FROM lots WHERE season_id = $1`, []any{seasonID}},
			{`DELETE FROM orders WHERE season_id = $1`, []any{seasonID}},
			{`DELETE FROM transactions WHERE season_id = $1`, []any{seasonID}},
			{`UPDATE accounts SET cash = $2::NUMERIC, version = version + 1, updated_at = $3
			  WHERE season_id = $1`, []any{seasonID, startingCash.String(), at}},
		}
		for _, st := range stmts {
			if _, err := tx.Exec(ctx, st.sql, st.args...); err != nil {
				return fmt.Errorf("reset season %s: %w", seasonID, err)
			}
		}
		return nil
	})
}
