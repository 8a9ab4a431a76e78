package pricecache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/stockpick/trade-engine/internal/model"
)

// putIfNewer writes the hash only when the incoming as_of (unix micros) is
// strictly greater than the stored one.
var putIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'as_of')
if cur and tonumber(cur) >= tonumber(ARGV[2]) then
  return 0
end
redis.call('HSET', KEYS[1], 'price', ARGV[1], 'as_of', ARGV[2], 'realtime', ARGV[3])
return 1
`)

// RedisBackend shares quotes between engine replicas. Each symbol is one
// hash with fields price, as_of and realtime.
type RedisBackend struct {
	rdb *redis.Client
}

// NewRedisBackend creates a Redis-backed quote store.
func NewRedisBackend(rdb *redis.Client) *RedisBackend {
	return &RedisBackend{rdb: rdb}
}

func (b *RedisBackend) Load(ctx context.Context, symbols []string) (map[string]model.Quote, error) {
	if len(symbols) == 0 {
		return map[string]model.Quote{}, nil
	}
	pipe := b.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(symbols))
	for i, s := range symbols {
		cmds[i] = pipe.HGetAll(ctx, quoteKey(s))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	out := make(map[string]model.Quote, len(symbols))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		q, err := decodeQuote(symbols[i], fields)
		if err != nil {
			return nil, err
		}
		out[symbols[i]] = q
	}
	return out, nil
}

func (b *RedisBackend) Put(ctx context.Context, q model.Quote) (bool, error) {
	realtime := "0"
	if q.IsRealtime {
		realtime = "1"
	}
	n, err := putIfNewer.Run(ctx, b.rdb, []string{quoteKey(q.Symbol)},
		q.LastPrice.String(), q.AsOf.UnixMicro(), realtime).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func decodeQuote(symbol string, fields map[string]string) (model.Quote, error) {
	price, err := decimal.NewFromString(fields["price"])
	if err != nil {
		return model.Quote{}, fmt.Errorf("quote %s: bad price %q: %w", symbol, fields["price"], err)
	}
	micros, err := strconv.ParseInt(fields["as_of"], 10, 64)
	if err != nil {
		return model.Quote{}, fmt.Errorf("quote %s: bad as_of %q: %w", symbol, fields["as_of"], err)
	}
	return model.Quote{
		Symbol:     symbol,
		LastPrice:  price,
		AsOf:       time.UnixMicro(micros).UTC(),
		IsRealtime: fields["realtime"] == "1",
	}, nil
}

func quoteKey(symbol string) string { return fmt.Sprintf("quote:%s", symbol) }
