// Package feed connects the price cache to upstream market data: an HTTP
// quote endpoint for on-demand fetches, and NATS or Kafka streams of ticks.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// Tick is one price observation as published on the tick streams.
type Tick struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	AsOf   time.Time       `json:"asOf"`
}

// Sink accepts ticks. *pricecache.Cache satisfies it.
type Sink interface {
	Refresh(ctx context.Context, symbol string, price decimal.Decimal, asOf time.Time, source string) (bool, error)
}

// DecodeTick parses a JSON tick. A missing timestamp is replaced by received.
func DecodeTick(data []byte, received time.Time) (Tick, error) {
	var t Tick
	if err := json.Unmarshal(data, &t); err != nil {
		return Tick{}, fmt.Errorf("decode tick: %w", err)
	}
	if t.Symbol == "" {
		return Tick{}, errors.New("decode tick: missing symbol")
	}
	if !t.Price.IsPositive() {
		return Tick{}, fmt.Errorf("decode tick %s: non-positive price %s", t.Symbol, t.Price)
	}
	if t.AsOf.IsZero() {
		t.AsOf = received
	}
	return t, nil
}

// apply decodes one message and hands it to the sink. Bad messages are
// logged and dropped.
func apply(ctx context.Context, sink Sink, logger *slog.Logger, source string, data []byte) {
	t, err := DecodeTick(data, time.Now().UTC())
	if err != nil {
		logger.Warn("dropping tick", "source", source, "error", err)
		return
	}
	if _, err := sink.Refresh(ctx, t.Symbol, t.Price, t.AsOf, source); err != nil {
		logger.Error("refresh from tick failed", "source", source, "symbol", t.Symbol, "error", err)
	}
}
