package pricecache

import (
	"context"
	"sync"

	"github.com/stockpick/trade-engine/internal/model"
)

// MemoryBackend keeps quotes in process memory.
type MemoryBackend struct {
	mu     sync.RWMutex
	quotes map[string]model.Quote
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{quotes: make(map[string]model.Quote)}
}

func (b *MemoryBackend) Load(_ context.Context, symbols []string) (map[string]model.Quote, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]model.Quote, len(symbols))
	for _, s := range symbols {
		if q, ok := b.quotes[s]; ok {
			out[s] = q
		}
	}
	return out, nil
}

func (b *MemoryBackend) Put(_ context.Context, q model.Quote) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cur, ok := b.quotes[q.Symbol]; ok && !q.AsOf.After(cur.AsOf) {
		return false, nil
	}
	b.quotes[q.Symbol] = q
	return true, nil
}
