package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatusTransitions(t *testing.T) {
	all := []OrderStatus{StatusPending, StatusFilled, StatusCancelled, StatusRejected}

	for _, from := range all {
		for _, to := range all {
			want := from == StatusPending && to != StatusPending
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestParseSideAndType(t *testing.T) {
	s, err := ParseSide("Buy")
	require.NoError(t, err)
	assert.Equal(t, SideBuy, s)

	s, err = ParseSide(" SELL ")
	require.NoError(t, err)
	assert.Equal(t, SideSell, s)

	_, err = ParseSide("short")
	assert.Error(t, err)

	ot, err := ParseOrderType("Limit")
	require.NoError(t, err)
	assert.Equal(t, OrderLimit, ot)

	_, err = ParseOrderType("stop")
	assert.Error(t, err)
}

func TestLotOlderThan(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	a := Lot{OrderID: "b", AcquiredAt: t0}
	b := Lot{OrderID: "a", AcquiredAt: t0.Add(time.Second)}
	c := Lot{OrderID: "a", AcquiredAt: t0}

	assert.True(t, a.OlderThan(b))
	assert.False(t, b.OlderThan(a))
	assert.True(t, c.OlderThan(a), "same instant falls back to order id")
}

func TestUserName(t *testing.T) {
	assert.Equal(t, "Ari Chen", User{ID: "u1", DisplayName: "Ari Chen"}.Name())
	assert.Equal(t, "u1", User{ID: "u1"}.Name())
}
