// Copyright (c) 2026 RNP
// Licensed under the PolyForm Noncommercial License 1.0.0

package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rnp/cremerd/internal/bus"
	"github.com/rnp/cremerd/internal/domain/production/lifecycle"
	"github.com/rnp/cremerd/internal/domain/production/model"
	"github.com/rnp/cremerd/internal/domain/production/store"
	"github.com/rnp/cremerd/internal/metrics"
)

// activateCounterTx deactivates every counter and marks the order's
// counter active, creating it when missing.
func (e *Engine) activateCounterTx(tx *store.Tx, idOrder int64, now time.Time) (*model.BottleCounter, error) {
	if err := tx.DeactivateAllCounters(now); err != nil {
		return nil, err
	}
	c, err := tx.GetCounter(idOrder)
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = &model.BottleCounter{
			IDOrder:     idOrder,
			IsActive:    true,
			CreatedAt:   now,
			LastUpdated: now,
		}
		id, err := tx.InsertCounter(c)
		if err != nil {
			return nil, err
		}
		c.ID = id
	} else {
		c.IsActive = true
		c.LastUpdated = now
		if err := tx.UpdateCounter(c); err != nil {
			return nil, err
		}
	}
	e.refreshActiveCounterGauge(tx)
	return c, nil
}

// deactivateCounterTx clears the active flag of the order's counter.
// Returns nil when the order never had a counter.
func (e *Engine) deactivateCounterTx(tx *store.Tx, idOrder int64, now time.Time) (*model.BottleCounter, error) {
	c, err := tx.GetCounter(idOrder)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	c.IsActive = false
	c.LastUpdated = now
	if err := tx.UpdateCounter(c); err != nil {
		return nil, err
	}
	e.refreshActiveCounterGauge(tx)
	return c, nil
}

func (e *Engine) refreshActiveCounterGauge(tx *store.Tx) {
	if n, err := tx.CountActiveCounters(); err == nil {
		metrics.ActiveCounters.Set(float64(n))
	}
}

// ActivateCounter marks the order's counter as the single active one.
func (e *Engine) ActivateCounter(ctx context.Context, idOrder int64) (*model.BottleCounter, error) {
	unlock := e.locks.lock(idOrder)
	defer unlock()
	now := e.nowLocal()

	var c *model.BottleCounter
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetOrder(idOrder); err != nil {
			return err
		}
		var err error
		c, err = e.activateCounterTx(tx, idOrder, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.publishCounter(ctx, c, now)
	return c, nil
}

// DeactivateCounter clears the active flag of the order's counter.
func (e *Engine) DeactivateCounter(ctx context.Context, idOrder int64) (*model.BottleCounter, error) {
	unlock := e.locks.lock(idOrder)
	defer unlock()
	now := e.nowLocal()

	var c *model.BottleCounter
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		c, err = e.deactivateCounterTx(tx, idOrder, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, lifecycle.NotFoundf("counter for order %d", idOrder)
	}
	e.publishCounter(ctx, c, now)
	return c, nil
}

// ResetCounter zeroes the order's counter and clears the last-bottle
// stamp.
func (e *Engine) ResetCounter(ctx context.Context, idOrder int64) (*model.BottleCounter, error) {
	unlock := e.locks.lock(idOrder)
	defer unlock()
	now := e.nowLocal()

	var c *model.BottleCounter
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		c, err = tx.GetCounter(idOrder)
		if err != nil {
			return err
		}
		if c == nil {
			return lifecycle.NotFoundf("counter for order %d", idOrder)
		}
		c.Quantity = 0
		c.LastBottleCountedAt = nil
		c.LastUpdated = now
		return tx.UpdateCounter(c)
	})
	if err != nil {
		return nil, err
	}
	e.publishCounter(ctx, c, now)
	e.opLog(ctx).Info().Int64("order_id", idOrder).Msg("counter reset")
	return c, nil
}

// GetCounter returns the order's counter, or NotFound.
func (e *Engine) GetCounter(ctx context.Context, idOrder int64) (*model.BottleCounter, error) {
	var c *model.BottleCounter
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		c, err = tx.GetCounter(idOrder)
		return err
	})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, lifecycle.NotFoundf("counter for order %d", idOrder)
	}
	return c, nil
}

// GetActiveCounter returns the single counter currently marked active,
// or NotFound when none is.
func (e *Engine) GetActiveCounter(ctx context.Context) (*model.BottleCounter, error) {
	var c *model.BottleCounter
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		c, err = tx.GetActiveCounter()
		return err
	})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, lifecycle.NotFoundf("no active counter")
	}
	return c, nil
}

// countBottleRetries bounds the re-pick loop when the running order
// changes between target selection and the counting transaction.
const countBottleRetries = 3

// errStaleTarget signals that the revalidated running order differs
// from the one the per-order lock was taken for.
var errStaleTarget = errors.New("stale counting target")

// CountBottle credits one bottle to the most recently started order in
// EN_PROCESO. When no order is running the pulse is dropped and
// (nil, false, nil) is returned.
func (e *Engine) CountBottle(ctx context.Context) (*model.BottleCounter, bool, error) {
	now := e.nowLocal()

	// The attribution target is only known inside the transaction, so
	// the per-order lock cannot be taken up front. A first read picks
	// the candidate, the lock is taken, and the transaction re-reads to
	// revalidate. When the running order changed in between, the lock
	// guards the wrong order and the pick is repeated.
	for attempt := 0; attempt < countBottleRetries; attempt++ {
		target, err := e.runningTarget(ctx)
		if err != nil {
			return nil, false, err
		}
		if target == 0 {
			metrics.PulsesDropped.Inc()
			return nil, false, nil
		}

		c, counted, err := e.countBottleOn(ctx, target, now)
		if errors.Is(err, errStaleTarget) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if !counted {
			metrics.PulsesDropped.Inc()
			return nil, false, nil
		}
		metrics.BottlesCounted.Inc()
		e.publishCounter(ctx, c, now)
		return c, true, nil
	}
	return nil, false, lifecycle.Conflictf("running order changed %d times while counting a bottle", countBottleRetries)
}

// countBottleOn locks the candidate order and increments its counter
// inside one transaction. It fails with errStaleTarget when the
// running order is no longer target, and reports counted=false when no
// order runs at all.
func (e *Engine) countBottleOn(ctx context.Context, target int64, now time.Time) (*model.BottleCounter, bool, error) {
	unlock := e.locks.lock(target)
	defer unlock()

	var c *model.BottleCounter
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		running, err := tx.ListOrdersByEstado(model.EstadoEnProceso)
		if err != nil {
			return err
		}
		if len(running) == 0 {
			c = nil
			return nil
		}
		o := running[0]
		if o.ID != target {
			return errStaleTarget
		}
		c, err = tx.GetCounter(o.ID)
		if err != nil {
			return err
		}
		if c == nil {
			c = &model.BottleCounter{
				IDOrder:   o.ID,
				CreatedAt: now,
			}
		}
		c.IsActive = true
		c.Quantity++
		c.LastUpdated = now
		c.LastBottleCountedAt = &now
		if c.ID == 0 {
			id, err := tx.InsertCounter(c)
			if err != nil {
				return err
			}
			c.ID = id
			return nil
		}
		return tx.UpdateCounter(c)
	})
	if err != nil {
		return nil, false, err
	}
	if c == nil {
		return nil, false, nil
	}
	return c, true, nil
}

func (e *Engine) runningTarget(ctx context.Context) (int64, error) {
	var id int64
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		running, err := tx.ListOrdersByEstado(model.EstadoEnProceso)
		if err != nil {
			return err
		}
		if len(running) > 0 {
			id = running[0].ID
		}
		return nil
	})
	return id, err
}

func (e *Engine) publishCounter(ctx context.Context, c *model.BottleCounter, now time.Time) {
	ev := e.event(EventBottleCounterUpdate, "bottle counter updated", e.counterPayload(c), now)
	e.publishAll(ctx, []pending{
		{topic: bus.TopicBottleCounter, event: ev},
		{topic: bus.TopicBottleCounterFor(c.IDOrder), event: ev},
	})
}
