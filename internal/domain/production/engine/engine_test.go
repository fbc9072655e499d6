// Copyright (c) 2026 RNP
// Licensed under the PolyForm Noncommercial License 1.0.0

package engine_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rnp/cremerd/internal/bus"
	"github.com/rnp/cremerd/internal/domain/production/engine"
	"github.com/rnp/cremerd/internal/domain/production/lifecycle"
	"github.com/rnp/cremerd/internal/domain/production/model"
	"github.com/rnp/cremerd/internal/domain/production/store"
	"github.com/rnp/cremerd/internal/persistence/sqlite"
)

// fakeClock is a mutable wall clock shared by a test and its engine.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestEngine(t *testing.T, clk *fakeClock) (*engine.Engine, *bus.MemoryBus) {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"), sqlite.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	st, err := store.New(db)
	require.NoError(t, err)

	b := bus.NewMemoryBus()
	return engine.New(st, b, time.UTC, engine.WithClock(clk.Now)), b
}

func createTestOrder(t *testing.T, eng *engine.Engine, cod string) *model.Order {
	t.Helper()
	o, err := eng.CreateOrder(context.Background(), engine.CreateOrderSpec{
		CodOrder:      cod,
		Operario:      "A",
		Lote:          "L1",
		Articulo:      "X",
		Cantidad:      1000,
		BotesCaja:     10,
		StdReferencia: 20.0,
		FormatoBote:   "500ml",
		Tipo:          "Conserva",
		UdsBote:       500,
	})
	require.NoError(t, err)
	return o
}

// drain collects everything currently buffered on a subscription.
func drain(sub bus.Subscriber) []bus.Event {
	var out []bus.Event
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventTypes(evs []bus.Event) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.EventType)
	}
	return out
}

func TestCreateOrder_DerivedFields(t *testing.T) {
	eng, b := newTestEngine(t, newFakeClock())
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, bus.TopicOrders)
	require.NoError(t, err)
	defer sub.Close()

	o := createTestOrder(t, eng, "OF-1")
	assert.Equal(t, model.EstadoCreada, o.Estado)
	assert.Equal(t, 100.0, o.CajasPrevistas)
	assert.Equal(t, 50.0, o.TiempoEstimado)
	assert.Nil(t, o.HoraInicio)

	assert.Contains(t, eventTypes(drain(sub)), engine.EventOrderCreated)
}

func TestCreateOrder_DuplicateCod(t *testing.T) {
	eng, _ := newTestEngine(t, newFakeClock())
	createTestOrder(t, eng, "OF-1")

	_, err := eng.CreateOrder(context.Background(), engine.CreateOrderSpec{
		CodOrder: "OF-1", Cantidad: 10, BotesCaja: 1, StdReferencia: 1,
	})
	require.ErrorIs(t, err, lifecycle.ErrAlreadyExists)
}

func TestCreateOrder_Validation(t *testing.T) {
	eng, _ := newTestEngine(t, newFakeClock())
	ctx := context.Background()

	cases := []engine.CreateOrderSpec{
		{CodOrder: "", Cantidad: 10, BotesCaja: 1, StdReferencia: 1},
		{CodOrder: "OF-2", Cantidad: 0, BotesCaja: 1, StdReferencia: 1},
		{CodOrder: "OF-3", Cantidad: 10, BotesCaja: 0, StdReferencia: 1},
		{CodOrder: "OF-4", Cantidad: 10, BotesCaja: 1, StdReferencia: 0},
	}
	for _, spec := range cases {
		_, err := eng.CreateOrder(ctx, spec)
		assert.ErrorIs(t, err, lifecycle.ErrInvalidInput)
	}
}

func TestIniciar_SetsHoraInicioAndActivatesCounter(t *testing.T) {
	clk := newFakeClock()
	eng, _ := newTestEngine(t, clk)
	ctx := context.Background()

	o := createTestOrder(t, eng, "OF-1")
	started, err := eng.Iniciar(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EstadoEnProceso, started.Estado)
	require.NotNil(t, started.HoraInicio)
	assert.True(t, started.HoraInicio.Equal(clk.Now()))

	c, err := eng.GetCounter(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, c.IsActive)
	assert.Equal(t, int64(0), c.Quantity)
}

func TestIniciar_InvalidFromNonCreada(t *testing.T) {
	eng, _ := newTestEngine(t, newFakeClock())
	ctx := context.Background()

	o := createTestOrder(t, eng, "OF-1")
	_, err := eng.Iniciar(ctx, o.ID)
	require.NoError(t, err)

	_, err = eng.Iniciar(ctx, o.ID)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidState)
}

func TestIniciar_OnlyOneEnProceso(t *testing.T) {
	eng, _ := newTestEngine(t, newFakeClock())
	ctx := context.Background()

	a := createTestOrder(t, eng, "OF-A")
	b := createTestOrder(t, eng, "OF-B")

	_, err := eng.Iniciar(ctx, a.ID)
	require.NoError(t, err)

	_, err = eng.Iniciar(ctx, b.ID)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidState)
}

func TestIniciar_NotFound(t *testing.T) {
	eng, _ := newTestEngine(t, newFakeClock())
	_, err := eng.Iniciar(context.Background(), 999)
	assert.ErrorIs(t, err, lifecycle.ErrNotFound)
}

// Happy path of an order without manual accumulation: the metric
// snapshot matches the closed-form expectations.
func TestFinalize_HappyPath(t *testing.T) {
	clk := newFakeClock()
	eng, b := newTestEngine(t, clk)
	ctx := context.Background()

	o := createTestOrder(t, eng, "OF-1")
	_, err := eng.Iniciar(ctx, o.ID)
	require.NoError(t, err)

	sub, err := b.Subscribe(ctx, bus.TopicOrders)
	require.NoError(t, err)
	defer sub.Close()

	clk.Advance(60 * time.Minute)
	done, err := eng.Finalize(ctx, o.ID, engine.FinishSpec{
		BotesBuenos: 900, BotesMalos: 100, TotalCajasCierre: 90, Acumula: false,
	})
	require.NoError(t, err)
	assert.Equal(t, model.EstadoFinalizada, done.Estado)
	require.NotNil(t, done.HoraFin)

	m, err := eng.GetMetricas(ctx, o.ID)
	require.NoError(t, err)
	assert.InDelta(t, 60.0, m.TiempoTotal, 1e-9)
	assert.InDelta(t, 0.0, m.TiempoPausado, 1e-9)
	assert.InDelta(t, 60.0, m.TiempoActivo, 1e-9)
	assert.InDelta(t, 1.0, m.Disponibilidad, 1e-9)
	assert.InDelta(t, 1000.0/(60*20), m.Rendimiento, 1e-9)
	assert.InDelta(t, 0.9, m.Calidad, 1e-9)
	assert.InDelta(t, 1.0*(1000.0/1200)*0.9, m.OEE, 1e-9)
	assert.InDelta(t, 1000.0/60, m.StdReal, 1e-9)
	assert.InDelta(t, 0.9, m.PorCumpPedido, 1e-9)

	// Counter deactivated on FINALIZADA.
	c, err := eng.GetCounter(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, c.IsActive)

	assert.Contains(t, eventTypes(drain(sub)), engine.EventOrderStateChanged)
}

func TestFinalize_AcumulaGoesToEsperaManual(t *testing.T) {
	clk := newFakeClock()
	eng, _ := newTestEngine(t, clk)
	ctx := context.Background()

	o := createTestOrder(t, eng, "OF-1")
	_, err := eng.Iniciar(ctx, o.ID)
	require.NoError(t, err)

	clk.Advance(30 * time.Minute)
	done, err := eng.Finalize(ctx, o.ID, engine.FinishSpec{
		BotesBuenos: 500, Acumula: true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.EstadoEsperaManual, done.Estado)
	assert.True(t, done.Acumula)

	// Metrics exist even on the manual path.
	_, err = eng.GetMetricas(ctx, o.ID)
	require.NoError(t, err)

	// Counter stays attached until FINALIZADA.
	c, err := eng.GetCounter(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, c.IsActive)
}

func TestFinalize_InvalidFromCreada(t *testing.T) {
	eng, _ := newTestEngine(t, newFakeClock())
	o := createTestOrder(t, eng, "OF-1")

	_, err := eng.Finalize(context.Background(), o.ID, engine.FinishSpec{})
	assert.ErrorIs(t, err, lifecycle.ErrInvalidState)
}

// Finalizing while paused closes the active pause in the same
// transaction and the metrics account for it.
func TestFinalize_WhilePaused(t *testing.T) {
	clk := newFakeClock()
	eng, _ := newTestEngine(t, clk)
	ctx := context.Background()

	o := createTestOrder(t, eng, "OF-1")
	_, err := eng.Iniciar(ctx, o.ID)
	require.NoError(t, err)

	clk.Advance(10 * time.Minute)
	tipo := model.TipoParadaCalidad
	_, err = eng.OpenPause(ctx, o.ID, engine.PauseSpec{Tipo: &tipo})
	require.NoError(t, err)

	clk.Advance(15 * time.Minute)
	done, err := eng.Finalize(ctx, o.ID, engine.FinishSpec{
		BotesBuenos: 50, TotalCajasCierre: 5, Acumula: true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.EstadoEsperaManual, done.Estado)

	pauses, err := eng.ListPauses(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, pauses, 1)
	require.NotNil(t, pauses[0].HoraFin)
	require.NotNil(t, pauses[0].TiempoTotalPausa)
	assert.InDelta(t, 15.0, *pauses[0].TiempoTotalPausa, 1e-9)
	require.NotNil(t, pauses[0].Computa)
	assert.True(t, *pauses[0].Computa)

	m, err := eng.GetMetricas(ctx, o.ID)
	require.NoError(t, err)
	assert.InDelta(t, 15.0, m.TiempoPausado, 1e-9)
	assert.InDelta(t, 10.0, m.TiempoActivo, 1e-9)
}
