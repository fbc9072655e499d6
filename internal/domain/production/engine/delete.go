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
)

// DeleteSpec identifies who removes an order and why.
type DeleteSpec struct {
	DeletedBy string
	Motivo    string
	IPAddress *string
}

// DeleteOrder removes an order and its dependent rows. An audit
// snapshot is written first in the same transaction. Active orders
// cannot be deleted.
func (e *Engine) DeleteOrder(ctx context.Context, id int64, spec DeleteSpec) error {
	if strings.TrimSpace(spec.DeletedBy) == "" {
		return lifecycle.InvalidInputf("deletedBy is required")
	}
	if strings.TrimSpace(spec.Motivo) == "" {
		return lifecycle.InvalidInputf("motivo is required")
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
		if o.Estado.Active() {
			return lifecycle.InvalidStatef("cannot delete order %d in estado %s", id, o.Estado)
		}

		audit := &model.OrderDeleteAudit{
			IDOrder:   o.ID,
			CodOrder:  o.CodOrder,
			Operario:  o.Operario,
			Lote:      o.Lote,
			Articulo:  o.Articulo,
			Estado:    o.Estado,
			Cantidad:  o.Cantidad,
			DeletedBy: spec.DeletedBy,
			Motivo:    spec.Motivo,
			DeletedAt: now,
			IPAddress: spec.IPAddress,
		}
		if err := tx.InsertDeleteAudit(audit); err != nil {
			return err
		}
		if err := tx.DeleteOrder(o.ID); err != nil {
			return err
		}
		order = o

		events = append(events, pending{
			topic: bus.TopicOrders,
			event: e.event(EventOrderDeleted, "order "+o.CodOrder+" deleted", e.orderPayload(o), now),
		})
		return nil
	})
	if err != nil {
		return err
	}

	e.publishAll(ctx, events)
	e.opLog(ctx).Info().
		Int64("order_id", order.ID).
		Str("deleted_by", spec.DeletedBy).
		Msg("order deleted")
	return nil
}

// DeleteOrders removes several orders under one audit actor. Each order
// is deleted in its own transaction; the first failure stops the batch
// and the count of completed deletions is returned alongside the error.
func (e *Engine) DeleteOrders(ctx context.Context, ids []int64, spec DeleteSpec) (int, error) {
	for i, id := range ids {
		if err := e.DeleteOrder(ctx, id, spec); err != nil {
			return i, err
		}
	}
	return len(ids), nil
}

// ListDeleteAudits returns every deletion snapshot, newest first.
func (e *Engine) ListDeleteAudits(ctx context.Context) ([]*model.OrderDeleteAudit, error) {
	var out []*model.OrderDeleteAudit
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.ListDeleteAudits()
		return err
	})
	return out, err
}
