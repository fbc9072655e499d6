// Copyright (c) 2026 RNP
// Licensed under the PolyForm Noncommercial License 1.0.0

package engine

import (
	"context"

	"github.com/rnp/cremerd/internal/bus"
	"github.com/rnp/cremerd/internal/domain/production/lifecycle"
	"github.com/rnp/cremerd/internal/domain/production/model"
	"github.com/rnp/cremerd/internal/domain/production/store"
	"github.com/rnp/cremerd/internal/metrics"
)

// StartManual opens the manual accumulation phase of an order waiting
// in ESPERA_MANUAL.
func (e *Engine) StartManual(ctx context.Context, idOrder int64) (*model.Acumula, error) {
	unlock := e.locks.lock(idOrder)
	defer unlock()
	now := e.nowLocal()

	var (
		acum   *model.Acumula
		events []pending
	)
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		events = events[:0]
		o, err := tx.GetOrder(idOrder)
		if err != nil {
			return err
		}
		tr, ok := lifecycle.TransitionFor(o.Estado, lifecycle.EvStartManual)
		if !ok {
			return lifecycle.InvalidStatef("cannot start manual phase for order %d in estado %s", idOrder, o.Estado)
		}
		if existing, err := tx.GetAcumula(idOrder); err != nil {
			return err
		} else if existing != nil && existing.Open() {
			return lifecycle.InvalidStatef("order %d already has an open manual phase", idOrder)
		}

		a := &model.Acumula{IDOrder: idOrder, HoraInicio: now}
		id, err := tx.InsertAcumula(a)
		if err != nil {
			return err
		}
		a.ID = id

		o.Estado = tr.To
		o.Acumula = true
		if err := tx.UpdateOrder(o); err != nil {
			return err
		}
		acum = a

		ev := e.event(EventOrderStateChanged, "order "+o.CodOrder+" manual phase started", e.orderPayload(o), now)
		events = append(events,
			pending{topic: bus.TopicOrders, event: ev},
			pending{topic: bus.TopicOrder(o.ID), event: ev},
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.OrderTransitions.WithLabelValues(string(model.EstadoProcesoManual)).Inc()
	e.publishAll(ctx, events)
	e.opLog(ctx).Info().Int64("order_id", idOrder).Msg("manual phase started")
	return acum, nil
}

// FinishManual closes the manual phase and moves the order to
// FINALIZADA. Metrics are not touched.
func (e *Engine) FinishManual(ctx context.Context, idOrder int64, numCajasManual int64) (*model.Acumula, error) {
	if numCajasManual < 0 {
		return nil, lifecycle.InvalidInputf("numCajasManual must not be negative, got %d", numCajasManual)
	}
	unlock := e.locks.lock(idOrder)
	defer unlock()
	now := e.nowLocal()

	var (
		acum   *model.Acumula
		events []pending
	)
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		events = events[:0]
		o, err := tx.GetOrder(idOrder)
		if err != nil {
			return err
		}
		tr, ok := lifecycle.TransitionFor(o.Estado, lifecycle.EvFinishManual)
		if !ok {
			return lifecycle.InvalidStatef("cannot finish manual phase for order %d in estado %s", idOrder, o.Estado)
		}
		a, err := tx.GetAcumula(idOrder)
		if err != nil {
			return err
		}
		if a == nil || !a.Open() {
			return lifecycle.InvalidStatef("order %d has no open manual phase", idOrder)
		}

		total := minutesBetween(a.HoraInicio, now)
		a.HoraFin = &now
		a.TiempoTotal = &total
		a.NumCajasManual = numCajasManual
		if err := tx.UpdateAcumula(a); err != nil {
			return err
		}

		o.Estado = tr.To
		if err := tx.UpdateOrder(o); err != nil {
			return err
		}
		acum = a

		ev := e.event(EventOrderStateChanged, "order "+o.CodOrder+" manual phase finished", e.orderPayload(o), now)
		events = append(events,
			pending{topic: bus.TopicOrders, event: ev},
			pending{topic: bus.TopicOrder(o.ID), event: ev},
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.OrderTransitions.WithLabelValues(string(model.EstadoFinalizada)).Inc()
	e.publishAll(ctx, events)
	e.opLog(ctx).Info().Int64("order_id", idOrder).Msg("manual phase finished")
	return acum, nil
}

// GetAcumula returns the manual phase row of an order, or NotFound.
func (e *Engine) GetAcumula(ctx context.Context, idOrder int64) (*model.Acumula, error) {
	var a *model.Acumula
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		a, err = tx.GetAcumula(idOrder)
		return err
	})
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, lifecycle.NotFoundf("acumula for order %d", idOrder)
	}
	return a, nil
}
