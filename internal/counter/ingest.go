// Copyright (c) 2026 RNP
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package counter turns falling edges of the counter pin into bottle
// counter increments.
package counter

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rnp/cremerd/internal/domain/production/engine"
	"github.com/rnp/cremerd/internal/gpio"
	"github.com/rnp/cremerd/internal/log"
	"github.com/rnp/cremerd/internal/metrics"
)

// Ingest serializes counter pulses through a single worker so they are
// processed in arrival order.
type Ingest struct {
	engine *engine.Engine
	pin    int
	pulses chan struct{}
	log    zerolog.Logger
}

// New builds an Ingest watching the given pin.
func New(eng *engine.Engine, pin int) *Ingest {
	return &Ingest{
		engine: eng,
		pin:    pin,
		pulses: make(chan struct{}, 256),
		log:    log.WithComponent("counter"),
	}
}

// Attach subscribes the ingest to the link's pin changes.
func (i *Ingest) Attach(link *gpio.Link) {
	link.Subscribe(i.onChange)
}

// onChange runs on the link's read loop; it only enqueues.
func (i *Ingest) onChange(ch gpio.Change) {
	if ch.Pin != i.pin || ch.Prev != 1 || ch.Value != 0 {
		return
	}
	select {
	case i.pulses <- struct{}{}:
	default:
		metrics.PulsesDropped.Inc()
		i.log.Warn().Msg("pulse queue full, pulse dropped")
	}
}

// Run consumes pulses until ctx is cancelled. A failed transaction
// drops the pulse; it is never retried.
func (i *Ingest) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-i.pulses:
			// Each pulse carries its own correlation ID so the engine
			// transaction and this log line can be tied together.
			pctx := log.ContextWithCorrelationID(ctx, "")
			plog := log.WithContext(pctx, i.log)
			c, counted, err := i.engine.CountBottle(pctx)
			switch {
			case err != nil:
				plog.Error().Err(err).Msg("bottle count failed, pulse dropped")
			case !counted:
				plog.Debug().Msg("pulse dropped, no running order")
			default:
				plog.Debug().
					Int64("order_id", c.IDOrder).
					Int64("quantity", c.Quantity).
					Msg("bottle counted")
			}
		}
	}
}
