// Copyright (c) 2026 RNP
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package autopause opens and closes machine-fault pauses from
// debounced GPIO signals. Signal semantics: 1 = OK, 0 = FAULT.
package autopause

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rnp/cremerd/internal/domain/production/engine"
	"github.com/rnp/cremerd/internal/domain/production/model"
	"github.com/rnp/cremerd/internal/gpio"
	"github.com/rnp/cremerd/internal/log"
	"github.com/rnp/cremerd/internal/metrics"
)

// Operator is the synthetic operator label on automatic pauses.
const Operator = "SISTEMA AUTOMATICO"

// Config fixes the debounce windows and watched pins.
type Config struct {
	PonderalPin int
	EtiquetaPin int
	// OpenAfter is how long a pin must stay at 0 before a pause opens.
	OpenAfter time.Duration
	// CloseAfter is how long a pin must stay at 1 before its pause closes.
	CloseAfter time.Duration
	// Cooldown blocks new auto-opens after any automatic or reconciled
	// manual close.
	Cooldown time.Duration
	// ReconcileInterval is the cadence of the manual-close check.
	ReconcileInterval time.Duration
	// RearmInterval is the cadence of the re-arm check after the order
	// returned to EN_PROCESO with a fault still held.
	RearmInterval time.Duration
}

// outstanding identifies the single auto-pause currently open.
type outstanding struct {
	pauseID int64
	orderID int64
	pin     int
}

// PinReader provides atomic per-pin level reads. *gpio.Link satisfies
// it.
type PinReader interface {
	Pin(pin int) (int, bool)
}

// Detector debounces the two fault pins. At most one auto-pause is
// outstanding across both pins at any time.
type Detector struct {
	engine *engine.Engine
	pins   PinReader
	cfg    Config
	log    zerolog.Logger

	ctx context.Context

	mu         sync.Mutex
	openTimers map[int]*time.Timer
	closeTimer *time.Timer
	current    *outstanding
	cooldownAt time.Time
}

// New builds a Detector. Attach it to a link and call Run.
func New(eng *engine.Engine, pins PinReader, cfg Config) *Detector {
	return &Detector{
		engine:     eng,
		pins:       pins,
		cfg:        cfg,
		log:        log.WithComponent("autopause"),
		openTimers: make(map[int]*time.Timer),
	}
}

// Attach subscribes the detector to the link's pin changes.
func (d *Detector) Attach(link *gpio.Link) {
	link.Subscribe(d.onChange)
}

func (d *Detector) tipoForPin(pin int) model.TipoPausa {
	if pin == d.cfg.EtiquetaPin {
		return model.TipoAveriaEtiqueta
	}
	return model.TipoAveriaPonderal
}

func (d *Detector) watched(pin int) bool {
	return pin == d.cfg.PonderalPin || pin == d.cfg.EtiquetaPin
}

// Run drives the reconciliation and re-arm watchdogs until ctx is
// cancelled, then cancels all timers.
func (d *Detector) Run(ctx context.Context) {
	d.mu.Lock()
	d.ctx = ctx
	d.mu.Unlock()

	reconcile := time.NewTicker(d.cfg.ReconcileInterval)
	defer reconcile.Stop()
	rearm := time.NewTicker(d.cfg.RearmInterval)
	defer rearm.Stop()

	for {
		select {
		case <-ctx.Done():
			d.cancelAll()
			return
		case <-reconcile.C:
			d.reconcile(ctx)
		case <-rearm.C:
			d.rearmFromPins()
		}
	}
}

func (d *Detector) onChange(ch gpio.Change) {
	if !d.watched(ch.Pin) {
		return
	}
	if ch.Value == 0 {
		d.onFault(ch.Pin)
	} else {
		d.onClear(ch.Pin)
	}
}

// onFault handles a 1 to 0 transition.
func (d *Detector) onFault(pin int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// The fault returned while its own pause was waiting to close.
	if d.current != nil && d.current.pin == pin {
		d.stopCloseTimerLocked()
	}
	d.scheduleOpenLocked(pin)
}

// onClear handles a 0 to 1 transition.
func (d *Detector) onClear(pin int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopOpenTimerLocked(pin)
	if d.current != nil && d.current.pin == pin && d.closeTimer == nil {
		pinned := pin
		d.closeTimer = time.AfterFunc(d.cfg.CloseAfter, func() { d.fireClose(pinned) })
	}
}

// scheduleOpenLocked arms the open timer for pin when the global start
// conditions hold. The order estado is only verified when the timer
// fires. Callers hold d.mu.
func (d *Detector) scheduleOpenLocked(pin int) {
	if d.current != nil || d.inCooldownLocked() {
		return
	}
	if len(d.openTimers) > 0 {
		return // another pin is already counting down
	}
	pinned := pin
	d.openTimers[pin] = time.AfterFunc(d.cfg.OpenAfter, func() { d.fireOpen(pinned) })
	d.log.Debug().Int("pin", pin).Dur("open_after", d.cfg.OpenAfter).Msg("open timer armed")
}

func (d *Detector) stopOpenTimerLocked(pin int) {
	if t, ok := d.openTimers[pin]; ok {
		t.Stop()
		delete(d.openTimers, pin)
	}
}

func (d *Detector) stopCloseTimerLocked() {
	if d.closeTimer != nil {
		d.closeTimer.Stop()
		d.closeTimer = nil
	}
}

func (d *Detector) inCooldownLocked() bool {
	return time.Now().Before(d.cooldownAt)
}

// enterCooldownLocked starts the cooldown window. Callers hold d.mu.
func (d *Detector) enterCooldownLocked() {
	d.cooldownAt = time.Now().Add(d.cfg.Cooldown)
	time.AfterFunc(d.cfg.Cooldown, d.rearmFromPins)
}

// fireOpen runs when an open timer elapses. All conditions are
// rechecked against current state before the pause is opened.
func (d *Detector) fireOpen(pin int) {
	d.mu.Lock()
	if _, armed := d.openTimers[pin]; !armed {
		d.mu.Unlock()
		return // cancelled after firing was scheduled
	}
	delete(d.openTimers, pin)
	if d.current != nil || d.inCooldownLocked() {
		d.mu.Unlock()
		return
	}
	ctx := d.ctx
	d.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	ctx = log.ContextWithCorrelationID(ctx, "")

	if v, ok := d.pins.Pin(pin); !ok || v != 0 {
		return // fault cleared before the window elapsed
	}

	order, err := d.engine.ActiveVisibleOrder(ctx)
	if err != nil {
		d.failsafe(err)
		return
	}
	if order == nil || order.Estado != model.EstadoEnProceso {
		return
	}

	tipo := d.tipoForPin(pin)
	operario := Operator
	descripcion := fmt.Sprintf("Pausa detectada automaticamente por señal GPIO (pin %d)", pin)
	pause, err := d.engine.OpenPause(ctx, order.ID, engine.PauseSpec{
		Tipo:        &tipo,
		Descripcion: &descripcion,
		Operario:    &operario,
	})
	if err != nil {
		d.failsafe(err)
		return
	}

	d.mu.Lock()
	d.current = &outstanding{pauseID: pause.ID, orderID: order.ID, pin: pin}
	d.mu.Unlock()

	metrics.AutoPausesOpened.WithLabelValues(string(tipo)).Inc()
	elog := log.WithContext(ctx, d.log)
	elog.Info().
		Int("pin", pin).
		Int64("order_id", order.ID).
		Int64("pause_id", pause.ID).
		Str("tipo", string(tipo)).
		Msg("automatic pause opened")
}

// fireClose runs when a close timer elapses.
func (d *Detector) fireClose(pin int) {
	d.mu.Lock()
	d.closeTimer = nil
	cur := d.current
	ctx := d.ctx
	d.mu.Unlock()
	if cur == nil || cur.pin != pin {
		return
	}
	if ctx == nil || ctx.Err() != nil {
		return
	}
	ctx = log.ContextWithCorrelationID(ctx, "")

	if v, ok := d.pins.Pin(pin); !ok || v != 1 {
		return // fault came back; a new clear will re-arm the close
	}

	open, err := d.engine.ActivePause(ctx, cur.orderID)
	if err != nil {
		d.failsafe(err)
		return
	}
	if open == nil || open.ID != cur.pauseID {
		// Closed manually in the meantime.
		d.clearAndCooldown()
		return
	}

	if _, err := d.engine.ClosePause(ctx, cur.orderID, engine.PauseSpec{}); err != nil {
		d.failsafe(err)
		return
	}

	metrics.AutoPausesClosed.Inc()
	elog := log.WithContext(ctx, d.log)
	elog.Info().
		Int("pin", pin).
		Int64("order_id", cur.orderID).
		Int64("pause_id", cur.pauseID).
		Msg("automatic pause closed")
	d.clearAndCooldown()
}

// reconcile detects auto-pauses closed by an operator and resets
// detector state so manual action always wins.
func (d *Detector) reconcile(ctx context.Context) {
	d.mu.Lock()
	cur := d.current
	d.mu.Unlock()
	if cur == nil {
		return
	}

	open, err := d.engine.ActivePause(ctx, cur.orderID)
	if err != nil {
		d.log.Warn().Err(err).Msg("reconcile read failed")
		return
	}
	if open != nil && open.ID == cur.pauseID {
		return
	}

	d.log.Info().
		Int64("pause_id", cur.pauseID).
		Msg("auto-pause closed externally, entering cooldown")
	d.clearAndCooldown()
}

// rearmFromPins re-evaluates the watched pins after cooldown expiry or
// when the order is running again with a fault still held. First match
// wins.
func (d *Detector) rearmFromPins() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current != nil || d.inCooldownLocked() || len(d.openTimers) > 0 {
		return
	}
	for _, pin := range []int{d.cfg.PonderalPin, d.cfg.EtiquetaPin} {
		if v, ok := d.pins.Pin(pin); ok && v == 0 {
			d.scheduleOpenLocked(pin)
			return
		}
	}
}

// clearAndCooldown drops the outstanding reference, cancels the close
// timer, and starts the cooldown window.
func (d *Detector) clearAndCooldown() {
	d.mu.Lock()
	d.stopCloseTimerLocked()
	d.current = nil
	d.enterCooldownLocked()
	d.mu.Unlock()
}

// failsafe logs an operation failure, clears state, and enters
// cooldown so no half-open auto-pause is ever left behind.
func (d *Detector) failsafe(err error) {
	d.log.Error().Err(err).Msg("auto-pause operation failed, entering cooldown")
	d.clearAndCooldown()
}

func (d *Detector) cancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for pin, t := range d.openTimers {
		t.Stop()
		delete(d.openTimers, pin)
	}
	d.stopCloseTimerLocked()
}

// Outstanding reports whether an auto-pause is currently open, for
// diagnostics.
func (d *Detector) Outstanding() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current != nil
}
