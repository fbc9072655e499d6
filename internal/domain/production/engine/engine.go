// Copyright (c) 2026 RNP
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package engine implements the order, pause, metric, and acumula
// operations of the production core. Every operation runs inside a
// single store transaction; events publish strictly after commit.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rnp/cremerd/internal/bus"
	"github.com/rnp/cremerd/internal/domain/production/store"
	"github.com/rnp/cremerd/internal/log"
)

// Engine orchestrates all state mutations of the production core.
type Engine struct {
	store *store.Store
	bus   bus.Bus
	loc   *time.Location
	now   func() time.Time
	locks keyedMutex
	log   zerolog.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an Engine on top of the store and event bus. Timestamps in
// published events are rendered in loc.
func New(st *store.Store, b bus.Bus, loc *time.Location, opts ...Option) *Engine {
	e := &Engine{
		store: st,
		bus:   b,
		loc:   loc,
		now:   time.Now,
		log:   log.WithComponent("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// nowLocal samples the wall clock once, in the configured location.
// Each operation calls it exactly once at entry.
func (e *Engine) nowLocal() time.Time {
	return e.now().In(e.loc)
}

// opLog returns the engine logger enriched with the correlation
// identifier the caller stamped on ctx, if any.
func (e *Engine) opLog(ctx context.Context) *zerolog.Logger {
	l := log.WithContext(ctx, e.log)
	return &l
}

// keyedMutex serializes operations per order id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func (k *keyedMutex) lock(id int64) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[int64]*sync.Mutex)
	}
	m, ok := k.locks[id]
	if !ok {
		m = &sync.Mutex{}
		k.locks[id] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// pending is an event captured during a transaction for post-commit
// publication.
type pending struct {
	topic string
	event bus.Event
}

// publishAll delivers the captured events after commit. Failures are
// logged and swallowed so durable state is never rolled back for a
// notification.
func (e *Engine) publishAll(ctx context.Context, events []pending) {
	for _, p := range events {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		err := e.bus.Publish(pubCtx, p.topic, p.event)
		cancel()
		if err != nil {
			e.opLog(ctx).Warn().
				Str("topic", p.topic).
				Str("event_type", p.event.EventType).
				Err(err).
				Msg("post-commit publish failed")
		}
	}
}

// minutesBetween returns the elapsed minutes between two instants.
func minutesBetween(from, to time.Time) float64 {
	return to.Sub(from).Minutes()
}
