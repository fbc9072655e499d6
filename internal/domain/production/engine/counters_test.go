// Copyright (c) 2026 RNP
// Licensed under the PolyForm Noncommercial License 1.0.0

package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rnp/cremerd/internal/domain/production/engine"
	"github.com/rnp/cremerd/internal/domain/production/lifecycle"
)

// Counter attribution: pulses credit the running order, and only ever
// the running order.
func TestCountBottle_Attribution(t *testing.T) {
	clk := newFakeClock()
	eng, _ := newTestEngine(t, clk)
	ctx := context.Background()

	a := startedOrder(t, eng, "OF-A")
	for i := 0; i < 5; i++ {
		clk.Advance(time.Second)
		_, counted, err := eng.CountBottle(ctx)
		require.NoError(t, err)
		assert.True(t, counted)
	}

	clk.Advance(time.Minute)
	_, err := eng.Finalize(ctx, a.ID, engine.FinishSpec{BotesBuenos: 5})
	require.NoError(t, err)

	b := startedOrder(t, eng, "OF-B")
	for i := 0; i < 3; i++ {
		clk.Advance(time.Second)
		_, counted, err := eng.CountBottle(ctx)
		require.NoError(t, err)
		assert.True(t, counted)
	}

	ca, err := eng.GetCounter(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), ca.Quantity)
	assert.False(t, ca.IsActive)

	cb, err := eng.GetCounter(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cb.Quantity)
	assert.True(t, cb.IsActive)
	require.NotNil(t, cb.LastBottleCountedAt)
}

func TestCountBottle_DroppedWithoutRunningOrder(t *testing.T) {
	eng, _ := newTestEngine(t, newFakeClock())

	c, counted, err := eng.CountBottle(context.Background())
	require.NoError(t, err)
	assert.False(t, counted)
	assert.Nil(t, c)
}

func TestActivateCounter_SingleActiveCounter(t *testing.T) {
	clk := newFakeClock()
	eng, _ := newTestEngine(t, clk)
	ctx := context.Background()

	a := startedOrder(t, eng, "OF-A")
	clk.Advance(time.Minute)
	_, err := eng.Finalize(ctx, a.ID, engine.FinishSpec{})
	require.NoError(t, err)

	b := startedOrder(t, eng, "OF-B")

	ca, err := eng.GetCounter(ctx, a.ID)
	require.NoError(t, err)
	cb, err := eng.GetCounter(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, ca.IsActive)
	assert.True(t, cb.IsActive)
}

func TestResetCounter(t *testing.T) {
	clk := newFakeClock()
	eng, _ := newTestEngine(t, clk)
	ctx := context.Background()

	o := startedOrder(t, eng, "OF-1")
	for i := 0; i < 4; i++ {
		_, _, err := eng.CountBottle(ctx)
		require.NoError(t, err)
	}

	c, err := eng.ResetCounter(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.Quantity)
	assert.Nil(t, c.LastBottleCountedAt)
}

func TestCounter_NotFound(t *testing.T) {
	eng, _ := newTestEngine(t, newFakeClock())
	ctx := context.Background()

	_, err := eng.GetCounter(ctx, 42)
	assert.ErrorIs(t, err, lifecycle.ErrNotFound)
	_, err = eng.ResetCounter(ctx, 42)
	assert.ErrorIs(t, err, lifecycle.ErrNotFound)
	_, err = eng.DeactivateCounter(ctx, 42)
	assert.ErrorIs(t, err, lifecycle.ErrNotFound)
}
