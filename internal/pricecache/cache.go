// Package pricecache holds the latest known price per symbol with freshness
// metadata. Reads of stale entries trigger a bounded synchronous fetch from
// the upstream quote feed; refreshes are last-writer-wins by timestamp.
package pricecache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/stockpick/trade-engine/internal/apperr"
	"github.com/stockpick/trade-engine/internal/metrics"
	"github.com/stockpick/trade-engine/internal/model"
)

// Backend stores quotes. Put must apply q only if q.AsOf is strictly newer
// than the stored timestamp and report whether it did.
type Backend interface {
	Load(ctx context.Context, symbols []string) (map[string]model.Quote, error)
	Put(ctx context.Context, q model.Quote) (bool, error)
}

// Fetcher pulls a live price for one symbol from the upstream feed.
type Fetcher interface {
	Fetch(ctx context.Context, symbol string) (model.Quote, error)
}

// Options tunes a Cache. Zero values fall back to the defaults.
type Options struct {
	Freshness    time.Duration
	FetchTimeout time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
	// OnUpdate is called after every applied refresh.
	OnUpdate func(model.Quote)
}

// Cache is safe for concurrent use.
type Cache struct {
	backend      Backend
	fetcher      Fetcher
	freshness    time.Duration
	fetchTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
	onUpdate     func(model.Quote)

	group singleflight.Group
}

// New creates a Cache. fetcher may be nil, in which case stale entries are
// served as-is and missing ones are unavailable.
func New(backend Backend, fetcher Fetcher, opts Options) *Cache {
	c := &Cache{
		backend:      backend,
		fetcher:      fetcher,
		freshness:    opts.Freshness,
		fetchTimeout: opts.FetchTimeout,
		logger:       opts.Logger,
		now:          opts.Now,
		onUpdate:     opts.OnUpdate,
	}
	if c.freshness <= 0 {
		c.freshness = 15 * time.Second
	}
	if c.fetchTimeout <= 0 {
		c.fetchTimeout = 2 * time.Second
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// NormalizeSymbol upper-cases and trims a ticker.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Get resolves every symbol. Fresh entries are returned as stored; stale or
// missing ones are fetched synchronously. When the fetch fails a stale entry
// is returned with IsRealtime=false, and a missing one fails the whole call
// with apperr.ErrPriceUnavailable.
func (c *Cache) Get(ctx context.Context, symbols ...string) ([]model.Quote, error) {
	keys := make([]string, len(symbols))
	for i, s := range symbols {
		keys[i] = NormalizeSymbol(s)
	}
	stored, err := c.backend.Load(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load quotes: %w", err)
	}

	quotes := make([]model.Quote, 0, len(keys))
	for _, sym := range keys {
		q, err := c.resolve(ctx, sym, stored[sym])
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

// Quote resolves a single symbol with the same rules as Get.
func (c *Cache) Quote(ctx context.Context, symbol string) (model.Quote, error) {
	quotes, err := c.Get(ctx, symbol)
	if err != nil {
		return model.Quote{}, err
	}
	return quotes[0], nil
}

// Peek returns whatever is stored for the symbols without contacting the
// feed. Missing symbols are absent from the map.
func (c *Cache) Peek(ctx context.Context, symbols ...string) (map[string]model.Quote, error) {
	keys := make([]string, len(symbols))
	for i, s := range symbols {
		keys[i] = NormalizeSymbol(s)
	}
	return c.backend.Load(ctx, keys)
}

// Refresh stores a tick if it is newer than the stored one. The returned
// bool reports whether it was applied.
func (c *Cache) Refresh(ctx context.Context, symbol string, price decimal.Decimal, asOf time.Time, source string) (bool, error) {
	if !price.IsPositive() {
		return false, fmt.Errorf("price for %s must be positive: %w", symbol, apperr.ErrValidation)
	}
	q := model.Quote{
		Symbol:     NormalizeSymbol(symbol),
		LastPrice:  price,
		AsOf:       asOf,
		IsRealtime: true,
	}
	applied, err := c.backend.Put(ctx, q)
	if err != nil {
		return false, fmt.Errorf("store quote %s: %w", q.Symbol, err)
	}
	metrics.PriceRefreshes.WithLabelValues(source, fmt.Sprint(applied)).Inc()
	if applied && c.onUpdate != nil {
		c.onUpdate(q)
	}
	return applied, nil
}

func (c *Cache) resolve(ctx context.Context, symbol string, entry model.Quote) (model.Quote, error) {
	present := !entry.AsOf.IsZero()
	if present && c.now().Sub(entry.AsOf) <= c.freshness {
		metrics.PriceLookups.WithLabelValues("fresh").Inc()
		return entry, nil
	}

	if c.fetcher != nil {
		q, err := c.fetch(ctx, symbol)
		if err == nil {
			metrics.PriceLookups.WithLabelValues("refreshed").Inc()
			return q, nil
		}
		c.logger.Warn("price fetch failed", "symbol", symbol, "error", err)
	}

	if !present {
		metrics.PriceLookups.WithLabelValues("unavailable").Inc()
		return model.Quote{}, fmt.Errorf("no price for %s: %w", symbol, apperr.ErrPriceUnavailable)
	}
	metrics.PriceLookups.WithLabelValues("stale").Inc()
	entry.IsRealtime = false
	return entry, nil
}

// fetch collapses concurrent fetches of the same symbol into one upstream
// call bounded by fetchTimeout.
func (c *Cache) fetch(ctx context.Context, symbol string) (model.Quote, error) {
	ch := c.group.DoChan(symbol, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		q, err := c.fetcher.Fetch(fctx, symbol)
		if err != nil {
			return model.Quote{}, err
		}
		q.Symbol = symbol
		if q.AsOf.IsZero() {
			q.AsOf = c.now()
		}
		applied, err := c.Refresh(fctx, symbol, q.LastPrice, q.AsOf, "fetch")
		if err != nil {
			return model.Quote{}, err
		}
		if applied {
			q.IsRealtime = true
			return q, nil
		}

		// A newer quote landed first; serve that one instead.
		cached, err := c.backend.Load(fctx, []string{symbol})
		if err != nil {
			return model.Quote{}, err
		}
		cur, ok := cached[symbol]
		if !ok {
			return model.Quote{}, fmt.Errorf("no price for %s: %w", symbol, apperr.ErrPriceUnavailable)
		}
		cur.IsRealtime = c.now().Sub(cur.AsOf) <= c.freshness
		return cur, nil
	})

	timer := time.NewTimer(c.fetchTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if res.Err != nil {
			return model.Quote{}, res.Err
		}
		return res.Val.(model.Quote), nil
	case <-timer.C:
		return model.Quote{}, fmt.Errorf("fetch %s: timed out after %s", symbol, c.fetchTimeout)
	case <-ctx.Done():
		return model.Quote{}, ctx.Err()
	}
}
