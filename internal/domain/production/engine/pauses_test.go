// Copyright (c) 2026 RNP
// Licensed under the PolyForm Noncommercial License 1.0.0

package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rnp/cremerd/internal/bus"
	"github.com/rnp/cremerd/internal/domain/production/engine"
	"github.com/rnp/cremerd/internal/domain/production/lifecycle"
	"github.com/rnp/cremerd/internal/domain/production/model"
)

func startedOrder(t *testing.T, eng *engine.Engine, cod string) *model.Order {
	t.Helper()
	o := createTestOrder(t, eng, cod)
	started, err := eng.Iniciar(context.Background(), o.ID)
	require.NoError(t, err)
	return started
}

func TestOpenPause_RequiresEnProceso(t *testing.T) {
	eng, _ := newTestEngine(t, newFakeClock())
	o := createTestOrder(t, eng, "OF-1")

	_, err := eng.OpenPause(context.Background(), o.ID, engine.PauseSpec{})
	assert.ErrorIs(t, err, lifecycle.ErrInvalidState)
}

func TestOpenPause_RejectsSecondOpenPause(t *testing.T) {
	eng, _ := newTestEngine(t, newFakeClock())
	ctx := context.Background()
	o := startedOrder(t, eng, "OF-1")

	_, err := eng.OpenPause(ctx, o.ID, engine.PauseSpec{})
	require.NoError(t, err)

	// Order is now PAUSADA, so a second open fails on estado already.
	_, err = eng.OpenPause(ctx, o.ID, engine.PauseSpec{})
	assert.ErrorIs(t, err, lifecycle.ErrInvalidState)
}

func TestOpenPause_WithTipoDerivesComputa(t *testing.T) {
	eng, _ := newTestEngine(t, newFakeClock())
	ctx := context.Background()
	o := startedOrder(t, eng, "OF-1")

	tipo := model.TipoCambioTurno
	p, err := eng.OpenPause(ctx, o.ID, engine.PauseSpec{Tipo: &tipo})
	require.NoError(t, err)
	require.NotNil(t, p.Computa)
	assert.False(t, *p.Computa)

	got, err := eng.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EstadoPausada, got.Estado)
}

func TestOpenPause_UnknownTipoRejected(t *testing.T) {
	eng, _ := newTestEngine(t, newFakeClock())
	o := startedOrder(t, eng, "OF-1")

	bogus := model.TipoPausa("NO_SUCH_TIPO")
	_, err := eng.OpenPause(context.Background(), o.ID, engine.PauseSpec{Tipo: &bogus})
	assert.ErrorIs(t, err, lifecycle.ErrInvalidInput)
}

// Non-computable pause time is subtracted from tiempoTotal instead of
// counting as paused time.
func TestPause_NonComputableAffectsTiempoTotal(t *testing.T) {
	clk := newFakeClock()
	eng, _ := newTestEngine(t, clk)
	ctx := context.Background()
	o := startedOrder(t, eng, "OF-1")

	clk.Advance(10 * time.Minute)
	tipo := model.TipoCambioTurno
	_, err := eng.OpenPause(ctx, o.ID, engine.PauseSpec{Tipo: &tipo})
	require.NoError(t, err)

	clk.Advance(15 * time.Minute)
	p, err := eng.ClosePause(ctx, o.ID, engine.PauseSpec{})
	require.NoError(t, err)
	require.NotNil(t, p.TiempoTotalPausa)
	assert.InDelta(t, 15.0, *p.TiempoTotalPausa, 1e-9)
	assert.False(t, *p.Computa)

	clk.Advance(35 * time.Minute)
	_, err = eng.Finalize(ctx, o.ID, engine.FinishSpec{
		BotesBuenos: 800, TotalCajasCierre: 80,
	})
	require.NoError(t, err)

	m, err := eng.GetMetricas(ctx, o.ID)
	require.NoError(t, err)
	assert.InDelta(t, 45.0, m.TiempoTotal, 1e-9)
	assert.InDelta(t, 0.0, m.TiempoPausado, 1e-9)
	assert.InDelta(t, 45.0, m.TiempoActivo, 1e-9)
	assert.InDelta(t, 1.0, m.Disponibilidad, 1e-9)
	assert.InDelta(t, 800.0/(45*20), m.Rendimiento, 1e-9)
	assert.InDelta(t, 1.0, m.Calidad, 1e-9)
	assert.InDelta(t, 800.0/900, m.OEE, 1e-9)
}

// Two-phase completion: an unclassified pause must receive its tipo on
// close.
func TestClosePause_TwoPhase(t *testing.T) {
	clk := newFakeClock()
	eng, _ := newTestEngine(t, clk)
	ctx := context.Background()
	o := startedOrder(t, eng, "OF-1")

	_, err := eng.OpenPause(ctx, o.ID, engine.PauseSpec{})
	require.NoError(t, err)

	clk.Advance(time.Minute)
	_, err = eng.ClosePause(ctx, o.ID, engine.PauseSpec{})
	require.ErrorIs(t, err, lifecycle.ErrInvalidInput)

	tipo := model.TipoFaltaMaterial
	p, err := eng.ClosePause(ctx, o.ID, engine.PauseSpec{Tipo: &tipo})
	require.NoError(t, err)
	require.NotNil(t, p.Tipo)
	assert.Equal(t, model.TipoFaltaMaterial, *p.Tipo)
	require.NotNil(t, p.Computa)
	assert.True(t, *p.Computa)

	got, err := eng.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EstadoEnProceso, got.Estado)
}

func TestClosePause_TipoReplacementRecomputesComputa(t *testing.T) {
	clk := newFakeClock()
	eng, _ := newTestEngine(t, clk)
	ctx := context.Background()
	o := startedOrder(t, eng, "OF-1")

	open := model.TipoFaltaMaterial
	_, err := eng.OpenPause(ctx, o.ID, engine.PauseSpec{Tipo: &open})
	require.NoError(t, err)

	clk.Advance(5 * time.Minute)
	replacement := model.TipoParada
	p, err := eng.ClosePause(ctx, o.ID, engine.PauseSpec{Tipo: &replacement})
	require.NoError(t, err)
	assert.Equal(t, model.TipoParada, *p.Tipo)
	assert.False(t, *p.Computa)
}

func TestClosePause_DescripcionConcatenation(t *testing.T) {
	clk := newFakeClock()
	eng, _ := newTestEngine(t, clk)
	ctx := context.Background()
	o := startedOrder(t, eng, "OF-1")

	tipo := model.TipoParadaCalidad
	first := "ajuste de bascula"
	_, err := eng.OpenPause(ctx, o.ID, engine.PauseSpec{Tipo: &tipo, Descripcion: &first})
	require.NoError(t, err)

	clk.Advance(time.Minute)
	second := "verificada por calidad"
	p, err := eng.ClosePause(ctx, o.ID, engine.PauseSpec{Descripcion: &second})
	require.NoError(t, err)
	require.NotNil(t, p.Descripcion)
	assert.Equal(t, "ajuste de bascula | verificada por calidad", *p.Descripcion)
}

func TestClosePause_RejectsWhileAnotherOrderRuns(t *testing.T) {
	eng, _ := newTestEngine(t, newFakeClock())
	ctx := context.Background()

	a := startedOrder(t, eng, "OF-1")
	tipo := model.TipoFabricacionParcial
	_, err := eng.OpenPause(ctx, a.ID, engine.PauseSpec{Tipo: &tipo})
	require.NoError(t, err)

	// A is PAUSADA, so a second order may start.
	b := startedOrder(t, eng, "OF-2")

	// Resuming A would put two orders in EN_PROCESO.
	_, err = eng.ClosePause(ctx, a.ID, engine.PauseSpec{})
	assert.ErrorIs(t, err, lifecycle.ErrInvalidState)

	running, err := eng.ListOrdersByEstado(ctx, model.EstadoEnProceso)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, b.ID, running[0].ID)

	// Once B is out of the way, A resumes normally.
	_, err = eng.Finalize(ctx, b.ID, engine.FinishSpec{BotesBuenos: 1, TotalCajasCierre: 1})
	require.NoError(t, err)
	resumed, err := eng.ClosePause(ctx, a.ID, engine.PauseSpec{})
	require.NoError(t, err)
	assert.NotNil(t, resumed.HoraFin)
}

func TestClosePause_NoOpenPause(t *testing.T) {
	eng, _ := newTestEngine(t, newFakeClock())
	o := startedOrder(t, eng, "OF-1")

	_, err := eng.ClosePause(context.Background(), o.ID, engine.PauseSpec{})
	assert.ErrorIs(t, err, lifecycle.ErrInvalidState)
}

func TestPause_TopicRouting(t *testing.T) {
	clk := newFakeClock()
	eng, b := newTestEngine(t, clk)
	ctx := context.Background()

	partialSub, err := b.Subscribe(ctx, bus.TopicFabricacionParcial)
	require.NoError(t, err)
	defer partialSub.Close()
	nonPartialSub, err := b.Subscribe(ctx, bus.TopicPausesNonPartial)
	require.NoError(t, err)
	defer nonPartialSub.Close()

	o := startedOrder(t, eng, "OF-1")

	tipo := model.TipoFabricacionParcial
	_, err = eng.OpenPause(ctx, o.ID, engine.PauseSpec{Tipo: &tipo})
	require.NoError(t, err)

	assert.Contains(t, eventTypes(drain(partialSub)), engine.EventFabricacionParcial)
	assert.Empty(t, drain(nonPartialSub))

	clk.Advance(time.Minute)
	replacement := model.TipoParada
	_, err = eng.ClosePause(ctx, o.ID, engine.PauseSpec{Tipo: &replacement})
	require.NoError(t, err)

	// The close routes by the final tipo.
	assert.Contains(t, eventTypes(drain(nonPartialSub)), engine.EventPausesNonPartial)
	assert.Empty(t, drain(partialSub))
}
