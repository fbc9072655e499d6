// Copyright (c) 2026 RNP
// Licensed under the PolyForm Noncommercial License 1.0.0

package engine

import (
	"context"
	"time"

	"github.com/rnp/cremerd/internal/bus"
	"github.com/rnp/cremerd/internal/domain/production/model"
	"github.com/rnp/cremerd/internal/domain/production/store"
)

// activeVisibleTx resolves the active visible order: the most recently
// started order that is EN_PROCESO, or PAUSADA with an open pause whose
// tipo is not FABRICACION_PARCIAL. Returns nil when no order qualifies.
func (e *Engine) activeVisibleTx(tx *store.Tx) (*model.Order, error) {
	running, err := tx.ListOrdersByEstado(model.EstadoEnProceso)
	if err != nil {
		return nil, err
	}
	paused, err := tx.ListOrdersByEstado(model.EstadoPausada)
	if err != nil {
		return nil, err
	}

	candidates := append([]*model.Order(nil), running...)
	for _, o := range paused {
		p, err := tx.ActivePause(o.ID)
		if err != nil {
			return nil, err
		}
		if p != nil && p.Tipo != nil && *p.Tipo == model.TipoFabricacionParcial {
			continue
		}
		candidates = append(candidates, o)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	best := candidates[0]
	for _, o := range candidates[1:] {
		if laterStart(o, best) {
			best = o
		}
	}
	return best, nil
}

// laterStart reports whether a started after b. Orders without
// horaInicio sort last; ties break on the higher id.
func laterStart(a, b *model.Order) bool {
	switch {
	case a.HoraInicio == nil && b.HoraInicio == nil:
		return a.ID > b.ID
	case a.HoraInicio == nil:
		return false
	case b.HoraInicio == nil:
		return true
	case a.HoraInicio.Equal(*b.HoraInicio):
		return a.ID > b.ID
	default:
		return a.HoraInicio.After(*b.HoraInicio)
	}
}

// activeOrderEvent builds the ACTIVE_ORDER_CHANGED projection event.
// A nil order publishes an empty projection.
func (e *Engine) activeOrderEvent(o *model.Order, now time.Time) pending {
	var data interface{}
	msg := "no active order"
	if o != nil {
		data = e.orderPayload(o)
		msg = "active order is " + o.CodOrder
	}
	return pending{
		topic: bus.TopicActiveOrder,
		event: e.event(EventActiveOrderChanged, msg, data, now),
	}
}

// ActiveVisibleOrder returns the current projection, or nil when no
// order is visible.
func (e *Engine) ActiveVisibleOrder(ctx context.Context) (*model.Order, error) {
	var o *model.Order
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		o, err = e.activeVisibleTx(tx)
		return err
	})
	return o, err
}
