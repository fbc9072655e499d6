// Copyright (c) 2026 RNP
// Licensed under the PolyForm Noncommercial License 1.0.0

package engine

import (
	"context"
	"strings"

	"github.com/rnp/cremerd/internal/bus"
	"github.com/rnp/cremerd/internal/domain/production/lifecycle"
	"github.com/rnp/cremerd/internal/domain/production/model"
	"github.com/rnp/cremerd/internal/domain/production/store"
	"github.com/rnp/cremerd/internal/metrics"
)

// CreateOrderSpec carries the fields of a new production order.
type CreateOrderSpec struct {
	CodOrder      string
	Operario      string
	Lote          string
	Articulo      string
	Descripcion   string
	Cantidad      int64
	BotesCaja     int64
	StdReferencia float64
	Repercap      bool
	FormatoBote   string
	Tipo          string
	UdsBote       int64
}

func (s CreateOrderSpec) validate() error {
	if strings.TrimSpace(s.CodOrder) == "" {
		return lifecycle.InvalidInputf("codOrder is required")
	}
	if s.Cantidad < 1 {
		return lifecycle.InvalidInputf("cantidad must be at least 1, got %d", s.Cantidad)
	}
	if s.BotesCaja < 1 {
		return lifecycle.InvalidInputf("botesCaja must be at least 1, got %d", s.BotesCaja)
	}
	if s.StdReferencia <= 0 {
		return lifecycle.InvalidInputf("stdReferencia must be positive, got %v", s.StdReferencia)
	}
	return nil
}

// CreateOrder registers a new order in estado CREADA and publishes
// ORDER_CREATED after commit.
func (e *Engine) CreateOrder(ctx context.Context, spec CreateOrderSpec) (*model.Order, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	now := e.nowLocal()

	o := &model.Order{
		CodOrder:       spec.CodOrder,
		Operario:       spec.Operario,
		Lote:           spec.Lote,
		Articulo:       spec.Articulo,
		Descripcion:    spec.Descripcion,
		Estado:         model.EstadoCreada,
		Cantidad:       spec.Cantidad,
		BotesCaja:      spec.BotesCaja,
		StdReferencia:  spec.StdReferencia,
		CajasPrevistas: float64(spec.Cantidad) / float64(spec.BotesCaja),
		TiempoEstimado: float64(spec.Cantidad) / spec.StdReferencia,
		HoraCreacion:   now,
		Repercap:       spec.Repercap,
	}

	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		exists, err := tx.ExistsCodOrder(spec.CodOrder)
		if err != nil {
			return err
		}
		if exists {
			return lifecycle.AlreadyExistsf("codOrder %q", spec.CodOrder)
		}
		id, err := tx.InsertOrder(o)
		if err != nil {
			return err
		}
		o.ID = id
		return tx.InsertOrderExtra(&model.OrderExtra{
			IDOrder:     id,
			FormatoBote: spec.FormatoBote,
			Tipo:        spec.Tipo,
			UdsBote:     spec.UdsBote,
		})
	})
	if err != nil {
		return nil, err
	}

	ev := e.event(EventOrderCreated, "order "+o.CodOrder+" created", e.orderPayload(o), now)
	e.publishAll(ctx, []pending{
		{topic: bus.TopicOrders, event: ev},
		{topic: bus.TopicOrder(o.ID), event: ev},
	})
	e.opLog(ctx).Info().Int64("order_id", o.ID).Str("cod_order", o.CodOrder).Msg("order created")
	return o, nil
}

// Iniciar moves a CREADA order into EN_PROCESO, stamps horaInicio, and
// activates its bottle counter.
func (e *Engine) Iniciar(ctx context.Context, id int64) (*model.Order, error) {
	unlock := e.locks.lock(id)
	defer unlock()
	now := e.nowLocal()

	var (
		order  *model.Order
		events []pending
	)
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		events = events[:0]
		o, err := tx.GetOrder(id)
		if err != nil {
			return err
		}
		tr, ok := lifecycle.TransitionFor(o.Estado, lifecycle.EvIniciar)
		if !ok {
			return lifecycle.InvalidStatef("cannot iniciar order %d in estado %s", id, o.Estado)
		}
		running, err := tx.ListOrdersByEstado(model.EstadoEnProceso)
		if err != nil {
			return err
		}
		if len(running) > 0 {
			return lifecycle.InvalidStatef("order %d is already EN_PROCESO", running[0].ID)
		}

		o.Estado = tr.To
		o.HoraInicio = &now
		if err := tx.UpdateOrder(o); err != nil {
			return err
		}
		counter, err := e.activateCounterTx(tx, o.ID, now)
		if err != nil {
			return err
		}
		order = o

		ev := e.event(EventOrderStateChanged, "order "+o.CodOrder+" started", e.orderPayload(o), now)
		events = append(events,
			pending{topic: bus.TopicOrders, event: ev},
			pending{topic: bus.TopicOrder(o.ID), event: ev},
			pending{topic: bus.TopicBottleCounter, event: e.event(EventBottleCounterUpdate, "counter activated", e.counterPayload(counter), now)},
		)
		active, err := e.activeVisibleTx(tx)
		if err != nil {
			return err
		}
		events = append(events, e.activeOrderEvent(active, now))
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.OrderTransitions.WithLabelValues(string(order.Estado)).Inc()
	e.publishAll(ctx, events)
	e.opLog(ctx).Info().Int64("order_id", order.ID).Msg("order started")
	return order, nil
}

// FinishSpec carries the closing figures of a finalize operation.
type FinishSpec struct {
	BotesBuenos      int64
	BotesMalos       int64
	TotalCajasCierre int64
	Acumula          bool
}

func (s FinishSpec) validate() error {
	if s.BotesBuenos < 0 || s.BotesMalos < 0 || s.TotalCajasCierre < 0 {
		return lifecycle.InvalidInputf("closing figures must not be negative")
	}
	return nil
}

// Finalize closes production of an order. An active pause is closed in
// the same transaction, metrics are computed exactly once, and the
// order moves to FINALIZADA or ESPERA_MANUAL depending on spec.Acumula.
func (e *Engine) Finalize(ctx context.Context, id int64, spec FinishSpec) (*model.Order, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	unlock := e.locks.lock(id)
	defer unlock()
	now := e.nowLocal()

	var (
		order  *model.Order
		events []pending
	)
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		events = events[:0]
		o, err := tx.GetOrder(id)
		if err != nil {
			return err
		}
		if _, ok := lifecycle.TransitionFor(o.Estado, lifecycle.EvFinalize); !ok {
			return lifecycle.InvalidStatef("cannot finalize order %d in estado %s", id, o.Estado)
		}

		if o.Estado == model.EstadoPausada {
			p, err := tx.ActivePause(o.ID)
			if err != nil {
				return err
			}
			if p == nil {
				return lifecycle.InvalidStatef("order %d is PAUSADA without an open pause", id)
			}
			closed, err := closePauseRow(tx, p, now, PauseSpec{})
			if err != nil {
				return err
			}
			events = append(events, e.pauseClosedEvents(o, closed, now)...)
		}
		// Finalize must leave no pause open.
		if open, err := tx.ActivePause(o.ID); err != nil {
			return err
		} else if open != nil {
			return lifecycle.InvalidStatef("order %d still has an open pause", id)
		}

		o.BotesBuenos = &spec.BotesBuenos
		o.BotesMalos = &spec.BotesMalos
		o.TotalCajasCierre = &spec.TotalCajasCierre
		o.HoraFin = &now
		o.Acumula = spec.Acumula
		o.Estado = lifecycle.FinalizeTarget(spec.Acumula)
		if err := tx.UpdateOrder(o); err != nil {
			return err
		}

		if _, err := e.calcAndStoreTx(tx, o, now); err != nil {
			return err
		}

		if o.Estado == model.EstadoFinalizada {
			counter, err := e.deactivateCounterTx(tx, o.ID, now)
			if err != nil {
				return err
			}
			if counter != nil {
				events = append(events, pending{
					topic: bus.TopicBottleCounter,
					event: e.event(EventBottleCounterUpdate, "counter deactivated", e.counterPayload(counter), now),
				})
			}
		}
		order = o

		ev := e.event(EventOrderStateChanged, "order "+o.CodOrder+" finalized", e.orderPayload(o), now)
		events = append(events,
			pending{topic: bus.TopicOrders, event: ev},
			pending{topic: bus.TopicOrder(o.ID), event: ev},
		)
		active, err := e.activeVisibleTx(tx)
		if err != nil {
			return err
		}
		events = append(events, e.activeOrderEvent(active, now))
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.OrderTransitions.WithLabelValues(string(order.Estado)).Inc()
	e.publishAll(ctx, events)
	e.opLog(ctx).Info().
		Int64("order_id", order.ID).
		Str("estado", string(order.Estado)).
		Msg("order finalized")
	return order, nil
}

// GetOrder loads a single order.
func (e *Engine) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	var o *model.Order
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		o, err = tx.GetOrder(id)
		return err
	})
	return o, err
}

// GetOrderByCod loads a single order by business key.
func (e *Engine) GetOrderByCod(ctx context.Context, cod string) (*model.Order, error) {
	var o *model.Order
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		o, err = tx.GetOrderByCod(cod)
		return err
	})
	return o, err
}

// ListOrders returns every order, newest first.
func (e *Engine) ListOrders(ctx context.Context) ([]*model.Order, error) {
	var out []*model.Order
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.ListOrders()
		return err
	})
	return out, err
}

// ListOrdersByEstado returns the orders currently in the given estado.
func (e *Engine) ListOrdersByEstado(ctx context.Context, estado model.EstadoOrder) ([]*model.Order, error) {
	if !estado.Valid() {
		return nil, lifecycle.InvalidInputf("unknown estado %q", estado)
	}
	var out []*model.Order
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.ListOrdersByEstado(estado)
		return err
	})
	return out, err
}

// OrderFilter narrows ListOrdersFiltered. Zero fields match everything.
type OrderFilter struct {
	Estado   *model.EstadoOrder
	Operario string
	Lote     string
	Articulo string
}

// ListOrdersFiltered returns the orders matching every set filter
// field, newest first.
func (e *Engine) ListOrdersFiltered(ctx context.Context, f OrderFilter) ([]*model.Order, error) {
	if f.Estado != nil && !f.Estado.Valid() {
		return nil, lifecycle.InvalidInputf("unknown estado %q", *f.Estado)
	}
	var out []*model.Order
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.ListOrdersFiltered(f.Estado, f.Operario, f.Lote, f.Articulo)
		return err
	})
	return out, err
}

// EstadoStats returns the order count per estado. Estados with no
// orders are present with a zero count.
func (e *Engine) EstadoStats(ctx context.Context) (map[model.EstadoOrder]int64, error) {
	var counts map[model.EstadoOrder]int64
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		counts, err = tx.CountOrdersByEstado()
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, estado := range []model.EstadoOrder{
		model.EstadoCreada, model.EstadoEnProceso, model.EstadoPausada,
		model.EstadoFinalizada, model.EstadoEsperaManual, model.EstadoProcesoManual,
	} {
		if _, ok := counts[estado]; !ok {
			counts[estado] = 0
		}
	}
	return counts, nil
}

// GetOrderExtra loads the packaging sidecar of an order.
func (e *Engine) GetOrderExtra(ctx context.Context, idOrder int64) (*model.OrderExtra, error) {
	var extra *model.OrderExtra
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetOrder(idOrder); err != nil {
			return err
		}
		var err error
		extra, err = tx.GetOrderExtra(idOrder)
		return err
	})
	return extra, err
}
