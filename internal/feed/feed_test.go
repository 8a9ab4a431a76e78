package feed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu    sync.Mutex
	ticks []Tick
}

func (s *recordingSink) Refresh(_ context.Context, symbol string, price decimal.Decimal, asOf time.Time, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, Tick{Symbol: symbol, Price: price, AsOf: asOf})
	return true, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestDecodeTick(t *testing.T) {
	received := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)

	tick, err := DecodeTick([]byte(`{"symbol":"AAPL","price":"187.42","asOf":"2026-03-02T14:29:59Z"}`), received)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", tick.Symbol)
	assert.True(t, tick.Price.Equal(decimal.RequireFromString("187.42")))
	assert.Equal(t, received.Add(-time.Second), tick.AsOf.UTC())

	tick, err = DecodeTick([]byte(`{"symbol":"MSFT","price":410.5}`), received)
	require.NoError(t, err)
	assert.Equal(t, received, tick.AsOf, "missing timestamp uses receipt time")
}

func TestDecodeTick_Rejects(t *testing.T) {
	cases := map[string]string{
		"malformed":      `{"symbol":`,
		"missing symbol": `{"price":"1"}`,
		"zero price":     `{"symbol":"AAPL","price":"0"}`,
		"negative price": `{"symbol":"AAPL","price":"-3"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeTick([]byte(body), time.Now())
			assert.Error(t, err)
		})
	}
}

func TestApply_DropsBadTicks(t *testing.T) {
	sink := &recordingSink{}
	apply(context.Background(), sink, discardLogger(), "test", []byte(`not json`))
	apply(context.Background(), sink, discardLogger(), "test", []byte(`{"symbol":"AAPL","price":"1.5"}`))

	require.Len(t, sink.ticks, 1)
	assert.Equal(t, "AAPL", sink.ticks[0].Symbol)
}

func TestQuoteClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/price", r.URL.Path)
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		assert.Equal(t, "secret", r.URL.Query().Get("apikey"))
		_, _ = w.Write([]byte(`{"price":"187.42000","timestamp":1772461800}`))
	}))
	defer srv.Close()

	c := NewQuoteClient(srv.URL, "secret")
	q, err := c.Fetch(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.True(t, q.LastPrice.Equal(decimal.RequireFromString("187.42")))
	assert.Equal(t, time.Unix(1772461800, 0).UTC(), q.AsOf)
	assert.True(t, q.IsRealtime)
}

func TestQuoteClient_FetchWithoutTimestamp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"price":"10"}`))
	}))
	defer srv.Close()

	now := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	c := NewQuoteClient(srv.URL, "")
	c.now = func() time.Time { return now }

	q, err := c.Fetch(context.Background(), "MSFT")
	require.NoError(t, err)
	assert.Equal(t, now, q.AsOf)
}

func TestQuoteClient_Errors(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		},
		"error body": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"code":404,"message":"symbol not found"}`))
		},
		"garbage": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()

			_, err := NewQuoteClient(srv.URL, "").Fetch(context.Background(), "ZZZZ")
			assert.Error(t, err)
		})
	}
}

func TestQuoteClient_RespectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewQuoteClient(srv.URL, "").Fetch(ctx, "AAPL")
	assert.Error(t, err)
}
