// Package season tracks competition seasons and serializes destructive
// season-wide operations against ordinary account mutations.
package season

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/stockpick/trade-engine/internal/apperr"
	"github.com/stockpick/trade-engine/internal/model"
	"github.com/stockpick/trade-engine/internal/store"
)

const exclusiveWeight = 1 << 30

// Gate hands out shared access for order and admin mutations and exclusive
// access for a season reset. Waiters are served in arrival order, so a
// pending reset is not starved by a stream of orders. The gate is
// process-local; across replicas the version bump done by a reset makes
// in-flight commits conflict instead.
type Gate struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

// NewGate creates an empty gate.
func NewGate() *Gate {
	return &Gate{sems: make(map[string]*semaphore.Weighted)}
}

func (g *Gate) sem(seasonID string) *semaphore.Weighted {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sems[seasonID]
	if !ok {
		s = semaphore.NewWeighted(exclusiveWeight)
		g.sems[seasonID] = s
	}
	return s
}

// Shared blocks until no reset of seasonID runs or ctx ends.
func (g *Gate) Shared(ctx context.Context, seasonID string) (release func(), err error) {
	return g.acquire(ctx, seasonID, 1)
}

// Exclusive blocks until every shared holder of seasonID has released.
func (g *Gate) Exclusive(ctx context.Context, seasonID string) (release func(), err error) {
	return g.acquire(ctx, seasonID, exclusiveWeight)
}

func (g *Gate) acquire(ctx context.Context, seasonID string, n int64) (func(), error) {
	s := g.sem(seasonID)
	if err := s.Acquire(ctx, n); err != nil {
		return nil, fmt.Errorf("%w: season %s busy: %w", apperr.ErrConflict, seasonID, err)
	}
	var once sync.Once
	return func() { once.Do(func() { s.Release(n) }) }, nil
}

// Bootstrap returns the stored season, creating it from def when absent.
func Bootstrap(ctx context.Context, st store.Store, def model.Season) (model.Season, error) {
	s, err := st.GetSeason(ctx, def.ID)
	if err == nil {
		return *s, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return model.Season{}, fmt.Errorf("load season %s: %w", def.ID, err)
	}
	if def.StartedAt.IsZero() {
		def.StartedAt = time.Now().UTC()
	}
	if err := st.PutSeason(ctx, &def); err != nil {
		return model.Season{}, fmt.Errorf("create season %s: %w", def.ID, err)
	}
	return def, nil
}
