// Copyright (c) 2026 RNP
// Licensed under the PolyForm Noncommercial License 1.0.0

package autopause

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
	"github.com/rnp/cremerd/internal/domain/production/model"
	"github.com/rnp/cremerd/internal/domain/production/store"
	"github.com/rnp/cremerd/internal/gpio"
	"github.com/rnp/cremerd/internal/persistence/sqlite"
)

// fakePins is a mutable PinReader standing in for the gpio link.
type fakePins struct {
	mu     sync.Mutex
	levels map[int]int
}

func newFakePins() *fakePins {
	return &fakePins{levels: map[int]int{22: 1, 19: 1}}
}

func (f *fakePins) Pin(pin int) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.levels[pin]
	return v, ok
}

// drive updates the fake level and feeds the resulting change to the
// detector, the same way the link read loop would.
func (f *fakePins) drive(d *Detector, pin, value int) {
	f.mu.Lock()
	prev := f.levels[pin]
	f.levels[pin] = value
	f.mu.Unlock()
	if prev != value {
		d.onChange(gpio.Change{Pin: pin, Prev: prev, Value: value})
	}
}

func testConfig() Config {
	return Config{
		PonderalPin:       22,
		EtiquetaPin:       19,
		OpenAfter:         60 * time.Millisecond,
		CloseAfter:        40 * time.Millisecond,
		Cooldown:          150 * time.Millisecond,
		ReconcileInterval: 20 * time.Millisecond,
		RearmInterval:     20 * time.Millisecond,
	}
}

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "autopause.db"), sqlite.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	st, err := store.New(db)
	require.NoError(t, err)

	return engine.New(st, bus.NewMemoryBus(), time.UTC)
}

func startedOrder(t *testing.T, eng *engine.Engine) int64 {
	t.Helper()
	ctx := context.Background()
	o, err := eng.CreateOrder(ctx, engine.CreateOrderSpec{
		CodOrder:      "OF-200",
		Operario:      "A",
		Lote:          "L1",
		Articulo:      "X",
		Cantidad:      1000,
		BotesCaja:     10,
		StdReferencia: 20,
	})
	require.NoError(t, err)
	_, err = eng.Iniciar(ctx, o.ID)
	require.NoError(t, err)
	return o.ID
}

// startDetector runs the detector loop for the duration of the test.
func startDetector(t *testing.T, d *Detector) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Run publishes its context before the first tick.
	time.Sleep(10 * time.Millisecond)
}

func activePause(t *testing.T, eng *engine.Engine, idOrder int64) *model.Pause {
	t.Helper()
	p, err := eng.ActivePause(context.Background(), idOrder)
	require.NoError(t, err)
	return p
}

func TestDetector_ShortGlitchDoesNotPause(t *testing.T) {
	eng := newTestEngine(t)
	idOrder := startedOrder(t, eng)
	pins := newFakePins()
	d := New(eng, pins, testConfig())
	startDetector(t, d)

	pins.drive(d, 22, 0)
	time.Sleep(20 * time.Millisecond) // well below the open window
	pins.drive(d, 22, 1)

	time.Sleep(100 * time.Millisecond)
	assert.Nil(t, activePause(t, eng, idOrder))
	assert.False(t, d.Outstanding())
}

func TestDetector_SustainedFaultOpensAndClosesPause(t *testing.T) {
	eng := newTestEngine(t)
	idOrder := startedOrder(t, eng)
	pins := newFakePins()
	d := New(eng, pins, testConfig())
	startDetector(t, d)

	pins.drive(d, 22, 0)
	require.Eventually(t, func() bool {
		return activePause(t, eng, idOrder) != nil
	}, time.Second, 10*time.Millisecond)

	p := activePause(t, eng, idOrder)
	require.NotNil(t, p.Tipo)
	assert.Equal(t, model.TipoAveriaPonderal, *p.Tipo)
	require.NotNil(t, p.Operario)
	assert.Equal(t, Operator, *p.Operario)
	require.NotNil(t, p.Computa)
	assert.True(t, *p.Computa)

	o, err := eng.GetOrder(context.Background(), idOrder)
	require.NoError(t, err)
	assert.Equal(t, model.EstadoPausada, o.Estado)

	pins.drive(d, 22, 1)
	require.Eventually(t, func() bool {
		return activePause(t, eng, idOrder) == nil
	}, time.Second, 10*time.Millisecond)

	o, err = eng.GetOrder(context.Background(), idOrder)
	require.NoError(t, err)
	assert.Equal(t, model.EstadoEnProceso, o.Estado)
	assert.False(t, d.Outstanding())
}

func TestDetector_EtiquetaPinUsesItsTipo(t *testing.T) {
	eng := newTestEngine(t)
	idOrder := startedOrder(t, eng)
	pins := newFakePins()
	d := New(eng, pins, testConfig())
	startDetector(t, d)

	pins.drive(d, 19, 0)
	require.Eventually(t, func() bool {
		return activePause(t, eng, idOrder) != nil
	}, time.Second, 10*time.Millisecond)

	p := activePause(t, eng, idOrder)
	require.NotNil(t, p.Tipo)
	assert.Equal(t, model.TipoAveriaEtiqueta, *p.Tipo)
}

func TestDetector_FaultReturnDuringCloseWindowKeepsPause(t *testing.T) {
	eng := newTestEngine(t)
	idOrder := startedOrder(t, eng)
	pins := newFakePins()
	d := New(eng, pins, testConfig())
	startDetector(t, d)

	pins.drive(d, 22, 0)
	require.Eventually(t, func() bool {
		return activePause(t, eng, idOrder) != nil
	}, time.Second, 10*time.Millisecond)
	opened := activePause(t, eng, idOrder)

	// Clear briefly, then fault again before the close window elapses.
	pins.drive(d, 22, 1)
	time.Sleep(15 * time.Millisecond)
	pins.drive(d, 22, 0)

	time.Sleep(100 * time.Millisecond)
	still := activePause(t, eng, idOrder)
	require.NotNil(t, still)
	assert.Equal(t, opened.ID, still.ID)
	assert.True(t, d.Outstanding())
}

func TestDetector_CooldownBlocksImmediateReopen(t *testing.T) {
	eng := newTestEngine(t)
	idOrder := startedOrder(t, eng)
	pins := newFakePins()
	d := New(eng, pins, testConfig())
	startDetector(t, d)

	pins.drive(d, 22, 0)
	require.Eventually(t, func() bool {
		return activePause(t, eng, idOrder) != nil
	}, time.Second, 10*time.Millisecond)
	first := activePause(t, eng, idOrder)

	pins.drive(d, 22, 1)
	require.Eventually(t, func() bool {
		return activePause(t, eng, idOrder) == nil
	}, time.Second, 10*time.Millisecond)

	// A fresh fault immediately after the close sits inside the cooldown
	// plus its own open window; the fault is held so the detector re-arms
	// once the cooldown expires.
	pins.drive(d, 22, 0)
	time.Sleep(100 * time.Millisecond)
	assert.Nil(t, activePause(t, eng, idOrder))

	require.Eventually(t, func() bool {
		p := activePause(t, eng, idOrder)
		return p != nil && p.ID != first.ID
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDetector_SingleOutstandingAcrossPins(t *testing.T) {
	eng := newTestEngine(t)
	idOrder := startedOrder(t, eng)
	pins := newFakePins()
	d := New(eng, pins, testConfig())
	startDetector(t, d)

	pins.drive(d, 22, 0)
	pins.drive(d, 19, 0)

	require.Eventually(t, func() bool {
		return activePause(t, eng, idOrder) != nil
	}, time.Second, 10*time.Millisecond)
	p := activePause(t, eng, idOrder)
	require.NotNil(t, p.Tipo)
	assert.Equal(t, model.TipoAveriaPonderal, *p.Tipo)

	// The second fault never opens a concurrent pause.
	time.Sleep(150 * time.Millisecond)
	pauses, err := eng.ListPauses(context.Background(), idOrder)
	require.NoError(t, err)
	assert.Len(t, pauses, 1)
}

func TestDetector_ManualCloseWinsAndEntersCooldown(t *testing.T) {
	eng := newTestEngine(t)
	idOrder := startedOrder(t, eng)
	pins := newFakePins()
	d := New(eng, pins, testConfig())
	startDetector(t, d)

	pins.drive(d, 22, 0)
	require.Eventually(t, func() bool {
		return activePause(t, eng, idOrder) != nil
	}, time.Second, 10*time.Millisecond)

	// An operator closes the pause while the fault is still held.
	_, err := eng.ClosePause(context.Background(), idOrder, engine.PauseSpec{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return !d.Outstanding()
	}, time.Second, 10*time.Millisecond)

	// The held fault re-arms only after the cooldown, as a new pause.
	require.Eventually(t, func() bool {
		return activePause(t, eng, idOrder) != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDetector_NoRunningOrderNoPause(t *testing.T) {
	eng := newTestEngine(t)
	pins := newFakePins()
	d := New(eng, pins, testConfig())
	startDetector(t, d)

	pins.drive(d, 22, 0)
	time.Sleep(150 * time.Millisecond)
	assert.False(t, d.Outstanding())
}

func TestDetector_UnwatchedPinIgnored(t *testing.T) {
	eng := newTestEngine(t)
	idOrder := startedOrder(t, eng)
	pins := newFakePins()
	d := New(eng, pins, testConfig())
	startDetector(t, d)

	d.onChange(gpio.Change{Pin: 23, Prev: 1, Value: 0})
	time.Sleep(150 * time.Millisecond)
	assert.Nil(t, activePause(t, eng, idOrder))
}
