package season

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockpick/trade-engine/internal/apperr"
	"github.com/stockpick/trade-engine/internal/model"
	"github.com/stockpick/trade-engine/internal/store"
)

func TestGate_SharedHoldersRunTogether(t *testing.T) {
	g := NewGate()
	ctx := context.Background()

	r1, err := g.Shared(ctx, "s1")
	require.NoError(t, err)
	r2, err := g.Shared(ctx, "s1")
	require.NoError(t, err)
	r1()
	r2()
}

func TestGate_ExclusiveWaitsForShared(t *testing.T) {
	g := NewGate()
	ctx := context.Background()

	release, err := g.Shared(ctx, "s1")
	require.NoError(t, err)

	var acquired atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		rel, err := g.Exclusive(ctx, "s1")
		if err == nil {
			acquired.Store(true)
			rel()
		}
	}()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, acquired.Load(), "reset must wait for in-flight orders")

	release()
	<-done
	assert.True(t, acquired.Load())
}

func TestGate_SharedWaitsForExclusive(t *testing.T) {
	g := NewGate()
	release, err := g.Exclusive(context.Background(), "s1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Shared(ctx, "s1")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	release()
	rel, err := g.Shared(context.Background(), "s1")
	require.NoError(t, err)
	rel()
}

func TestGate_SeasonsAreIndependent(t *testing.T) {
	g := NewGate()
	release, err := g.Exclusive(context.Background(), "s1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rel, err := g.Shared(ctx, "s2")
	require.NoError(t, err)
	rel()
}

func TestGate_ReleaseIsIdempotent(t *testing.T) {
	g := NewGate()
	release, err := g.Shared(context.Background(), "s1")
	require.NoError(t, err)
	release()
	release()

	rel, err := g.Exclusive(context.Background(), "s1")
	require.NoError(t, err)
	rel()
}

func TestBootstrap(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	def := model.Season{ID: "s1", Name: "Spring", StartingCash: decimal.NewFromInt(100000)}

	got, err := Bootstrap(ctx, st, def)
	require.NoError(t, err)
	assert.False(t, got.StartedAt.IsZero())

	def.Name = "Renamed"
	again, err := Bootstrap(ctx, st, def)
	require.NoError(t, err)
	assert.Equal(t, "Spring", again.Name, "existing season wins")
}
