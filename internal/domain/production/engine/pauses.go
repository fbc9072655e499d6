// Copyright (c) 2026 RNP
// Licensed under the PolyForm Noncommercial License 1.0.0

package engine

import (
	"context"
	"time"

	"github.com/rnp/cremerd/internal/bus"
	"github.com/rnp/cremerd/internal/domain/production/lifecycle"
	"github.com/rnp/cremerd/internal/domain/production/model"
	"github.com/rnp/cremerd/internal/domain/production/store"
	"github.com/rnp/cremerd/internal/metrics"
)

// PauseSpec carries the optional classification of a pause operation.
// A pause may be opened unclassified; the close must then supply tipo.
type PauseSpec struct {
	Tipo        *model.TipoPausa
	Descripcion *string
	Operario    *string
}

func (s PauseSpec) validateTipo() error {
	if s.Tipo == nil {
		return nil
	}
	switch *s.Tipo {
	case model.TipoIncidenciaMaquinaContadora, model.TipoIncidenciaMaquinaPesadora,
		model.TipoIncidenciaMaquinaEtiquetadora, model.TipoIncidenciaMaquinaRepercap,
		model.TipoIncidenciaMaquinaTaponadora, model.TipoIncidenciaMaquinaPosicionadora,
		model.TipoIncidenciaMaquinaEnvasadora, model.TipoIncidenciaMaquinaOtros,
		model.TipoFaltaMaterial, model.TipoMaterialDefectuoso,
		model.TipoMantenimientoEnProceso, model.TipoLimpiezaEnProceso,
		model.TipoParadaCalidad, model.TipoAveriaPonderal, model.TipoAveriaEtiqueta,
		model.TipoCambioTurno, model.TipoFabricacionParcial, model.TipoParada:
		return nil
	}
	return lifecycle.InvalidInputf("unknown pause tipo %q", *s.Tipo)
}

// OpenPause opens a pause on a running order and moves it to PAUSADA.
func (e *Engine) OpenPause(ctx context.Context, idOrder int64, spec PauseSpec) (*model.Pause, error) {
	if err := spec.validateTipo(); err != nil {
		return nil, err
	}
	unlock := e.locks.lock(idOrder)
	defer unlock()
	now := e.nowLocal()

	var (
		pause  *model.Pause
		events []pending
	)
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		events = events[:0]
		o, err := tx.GetOrder(idOrder)
		if err != nil {
			return err
		}
		tr, ok := lifecycle.TransitionFor(o.Estado, lifecycle.EvOpenPause)
		if !ok {
			return lifecycle.InvalidStatef("cannot pause order %d in estado %s", idOrder, o.Estado)
		}
		if open, err := tx.ActivePause(idOrder); err != nil {
			return err
		} else if open != nil {
			return lifecycle.InvalidStatef("order %d already has an open pause", idOrder)
		}

		p := &model.Pause{
			IDOrder:     idOrder,
			Tipo:        spec.Tipo,
			Descripcion: spec.Descripcion,
			Operario:    spec.Operario,
			HoraInicio:  now,
		}
		if spec.Tipo != nil {
			computa := spec.Tipo.Computa()
			p.Computa = &computa
		}
		id, err := tx.InsertPause(p)
		if err != nil {
			return err
		}
		p.ID = id

		o.Estado = tr.To
		if err := tx.UpdateOrder(o); err != nil {
			return err
		}
		pause = p

		ev := e.event(EventPauseCreated, "order "+o.CodOrder+" paused", e.pausePayload(p), now)
		events = append(events,
			pending{topic: bus.TopicOrders, event: ev},
			pending{topic: bus.TopicOrder(o.ID), event: ev},
			e.pauseTopicEvent(p, now),
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

	metrics.OrderTransitions.WithLabelValues(string(model.EstadoPausada)).Inc()
	e.publishAll(ctx, events)
	e.opLog(ctx).Info().Int64("order_id", idOrder).Int64("pause_id", pause.ID).Msg("pause opened")
	return pause, nil
}

// ClosePause closes the open pause of an order and moves it back to
// EN_PROCESO. When the stored pause has no tipo the caller must supply
// one; a differing caller tipo replaces the stored one.
func (e *Engine) ClosePause(ctx context.Context, idOrder int64, spec PauseSpec) (*model.Pause, error) {
	if err := spec.validateTipo(); err != nil {
		return nil, err
	}
	unlock := e.locks.lock(idOrder)
	defer unlock()
	now := e.nowLocal()

	var (
		pause  *model.Pause
		events []pending
	)
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		events = events[:0]
		o, err := tx.GetOrder(idOrder)
		if err != nil {
			return err
		}
		tr, ok := lifecycle.TransitionFor(o.Estado, lifecycle.EvClosePause)
		if !ok {
			return lifecycle.InvalidStatef("cannot resume order %d in estado %s", idOrder, o.Estado)
		}
		// Resuming re-enters EN_PROCESO, so the same single-running
		// guard as Iniciar applies. Another order may have started
		// while this one sat paused under FABRICACION_PARCIAL.
		running, err := tx.ListOrdersByEstado(model.EstadoEnProceso)
		if err != nil {
			return err
		}
		if len(running) > 0 {
			return lifecycle.InvalidStatef("order %d is already EN_PROCESO", running[0].ID)
		}
		p, err := tx.ActivePause(idOrder)
		if err != nil {
			return err
		}
		if p == nil {
			return lifecycle.InvalidStatef("order %d has no open pause", idOrder)
		}

		closed, err := closePauseRow(tx, p, now, spec)
		if err != nil {
			return err
		}

		o.Estado = tr.To
		if err := tx.UpdateOrder(o); err != nil {
			return err
		}
		pause = closed

		events = append(events, e.pauseClosedEvents(o, closed, now)...)
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

	metrics.OrderTransitions.WithLabelValues(string(model.EstadoEnProceso)).Inc()
	e.publishAll(ctx, events)
	e.opLog(ctx).Info().Int64("order_id", idOrder).Int64("pause_id", pause.ID).Msg("pause closed")
	return pause, nil
}

// closePauseRow applies the two-phase completion rules and persists the
// closed pause. The caller owns the surrounding transaction.
func closePauseRow(tx *store.Tx, p *model.Pause, now time.Time, spec PauseSpec) (*model.Pause, error) {
	if p.Tipo == nil && spec.Tipo == nil {
		return nil, lifecycle.InvalidInputf("pause %d has no tipo; one must be supplied on close", p.ID)
	}
	if spec.Tipo != nil && (p.Tipo == nil || *p.Tipo != *spec.Tipo) {
		p.Tipo = spec.Tipo
	}
	computa := p.Tipo.Computa()
	p.Computa = &computa

	if spec.Descripcion != nil && *spec.Descripcion != "" {
		if p.Descripcion != nil && *p.Descripcion != "" {
			joined := *p.Descripcion + " | " + *spec.Descripcion
			p.Descripcion = &joined
		} else {
			p.Descripcion = spec.Descripcion
		}
	}
	if spec.Operario != nil && *spec.Operario != "" {
		p.Operario = spec.Operario
	}

	if now.Before(p.HoraInicio) {
		return nil, lifecycle.InvalidStatef("pause %d close time precedes its start", p.ID)
	}
	total := minutesBetween(p.HoraInicio, now)
	p.HoraFin = &now
	p.TiempoTotalPausa = &total

	if err := tx.UpdatePause(p); err != nil {
		return nil, err
	}
	return p, nil
}

// pauseTopicEvent routes a pause to the partial or non-partial topic.
func (e *Engine) pauseTopicEvent(p *model.Pause, now time.Time) pending {
	if p.Tipo != nil && *p.Tipo == model.TipoFabricacionParcial {
		return pending{
			topic: bus.TopicFabricacionParcial,
			event: e.event(EventFabricacionParcial, "partial fabrication pause changed", e.pausePayload(p), now),
		}
	}
	return pending{
		topic: bus.TopicPausesNonPartial,
		event: e.event(EventPausesNonPartial, "pause list changed", e.pausePayload(p), now),
	}
}

func (e *Engine) pauseClosedEvents(o *model.Order, p *model.Pause, now time.Time) []pending {
	ev := e.event(EventPauseFinished, "order "+o.CodOrder+" pause finished", e.pausePayload(p), now)
	return []pending{
		{topic: bus.TopicOrders, event: ev},
		{topic: bus.TopicOrder(o.ID), event: ev},
		e.pauseTopicEvent(p, now),
	}
}

// ActivePause returns the open pause of an order, or nil.
func (e *Engine) ActivePause(ctx context.Context, idOrder int64) (*model.Pause, error) {
	var p *model.Pause
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		p, err = tx.ActivePause(idOrder)
		return err
	})
	return p, err
}

// ListPauses returns the pauses of an order, oldest first.
func (e *Engine) ListPauses(ctx context.Context, idOrder int64) ([]*model.Pause, error) {
	var out []*model.Pause
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.ListPausesByOrder(idOrder)
		return err
	})
	return out, err
}

// ListOpenNonPartialPauses returns all open pauses except partial
// fabrication ones.
func (e *Engine) ListOpenNonPartialPauses(ctx context.Context) ([]*model.Pause, error) {
	var out []*model.Pause
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.ListOpenPausesByTipo(model.TipoFabricacionParcial, true)
		return err
	})
	return out, err
}

// ListFabricacionParcialPauses returns the open partial fabrication
// pauses.
func (e *Engine) ListFabricacionParcialPauses(ctx context.Context) ([]*model.Pause, error) {
	var out []*model.Pause
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.ListOpenPausesByTipo(model.TipoFabricacionParcial, false)
		return err
	})
	return out, err
}

// OrdersInFabricacionParcial returns the orders currently held by an
// open partial fabrication pause.
func (e *Engine) OrdersInFabricacionParcial(ctx context.Context) ([]*model.Order, error) {
	var out []*model.Order
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		pauses, err := tx.ListOpenPausesByTipo(model.TipoFabricacionParcial, false)
		if err != nil {
			return err
		}
		for _, p := range pauses {
			o, err := tx.GetOrder(p.IDOrder)
			if err != nil {
				return err
			}
			out = append(out, o)
		}
		return nil
	})
	return out, err
}
