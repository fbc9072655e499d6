// Copyright (c) 2026 RNP
// Licensed under the PolyForm Noncommercial License 1.0.0

package engine

import (
	"context"
	"time"

	"github.com/rnp/cremerd/internal/domain/production/lifecycle"
	"github.com/rnp/cremerd/internal/domain/production/model"
	"github.com/rnp/cremerd/internal/domain/production/store"
)

// calcMetricas evaluates the OEE formulas. Times are minutes. The
// caller supplies the closed-pause sums partitioned by computa.
func calcMetricas(o *model.Order, horaFin time.Time, nonComputable, pausado float64) *model.Metricas {
	if o.HoraInicio == nil {
		return &model.Metricas{IDOrder: o.ID}
	}
	tiempoBruto := minutesBetween(*o.HoraInicio, horaFin)
	tiempoTotal := tiempoBruto - nonComputable
	tiempoActivo := tiempoTotal - pausado
	if tiempoActivo < 1.0 {
		tiempoActivo = 1.0 // clamp to avoid division by zero
	}

	var disponibilidad float64
	if tiempoTotal > 0 {
		disponibilidad = tiempoActivo / tiempoTotal
	}

	totalProducido := float64(o.TotalProducido())
	var buenos float64
	if o.BotesBuenos != nil {
		buenos = float64(*o.BotesBuenos)
	}

	var rendimiento float64
	if esperada := tiempoActivo * o.StdReferencia; esperada > 0 {
		rendimiento = totalProducido / esperada
	}
	var calidad float64
	if totalProducido > 0 {
		calidad = buenos / totalProducido
	}

	cantidad := float64(o.Cantidad)
	if cantidad < 1 {
		cantidad = 1
	}

	return &model.Metricas{
		IDOrder:        o.ID,
		TiempoTotal:    tiempoTotal,
		TiempoPausado:  pausado,
		TiempoActivo:   tiempoActivo,
		Disponibilidad: disponibilidad,
		Rendimiento:    rendimiento,
		Calidad:        calidad,
		OEE:            disponibilidad * rendimiento * calidad,
		StdReal:        totalProducido / tiempoActivo,
		PorCumpPedido:  buenos / cantidad,
	}
}

// calcAndStoreTx computes and persists the metric snapshot for an order
// leaving production. When a snapshot already exists it is returned
// unchanged; metrics are created at exactly one life cycle point.
func (e *Engine) calcAndStoreTx(tx *store.Tx, o *model.Order, horaFin time.Time) (*model.Metricas, error) {
	if existing, err := tx.GetMetricas(o.ID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	nonComputable, err := tx.SumPauseMinutes(o.ID, false)
	if err != nil {
		return nil, err
	}
	pausado, err := tx.SumPauseMinutes(o.ID, true)
	if err != nil {
		return nil, err
	}

	m := calcMetricas(o, horaFin, nonComputable, pausado)
	id, err := tx.InsertMetricas(m)
	if err != nil {
		return nil, err
	}
	m.ID = id
	return m, nil
}

// GetMetricas returns the stored metric snapshot of an order.
func (e *Engine) GetMetricas(ctx context.Context, idOrder int64) (*model.Metricas, error) {
	var m *model.Metricas
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetOrder(idOrder); err != nil {
			return err
		}
		var err error
		m, err = tx.GetMetricas(idOrder)
		return err
	})
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, lifecycle.NotFoundf("metricas for order %d", idOrder)
	}
	return m, nil
}

// RecalcularMetricas drops and recomputes the snapshot of a finished
// order inside one transaction. Running it repeatedly yields the same
// row.
func (e *Engine) RecalcularMetricas(ctx context.Context, idOrder int64) (*model.Metricas, error) {
	unlock := e.locks.lock(idOrder)
	defer unlock()

	var m *model.Metricas
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		o, err := tx.GetOrder(idOrder)
		if err != nil {
			return err
		}
		if !o.Estado.Finished() {
			return lifecycle.InvalidStatef("cannot recalculate metrics for order %d in estado %s", idOrder, o.Estado)
		}
		if o.HoraFin == nil {
			return lifecycle.InvalidStatef("order %d has no horaFin", idOrder)
		}
		if err := tx.DeleteMetricas(idOrder); err != nil {
			return err
		}
		m, err = e.calcAndStoreTx(tx, o, *o.HoraFin)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.opLog(ctx).Info().Int64("order_id", idOrder).Msg("metrics recalculated")
	return m, nil
}

// RecalcularTodas recomputes the snapshot of every finished order.
// It returns the number of orders processed.
func (e *Engine) RecalcularTodas(ctx context.Context) (int, error) {
	var ids []int64
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		orders, err := tx.ListOrders()
		if err != nil {
			return err
		}
		for _, o := range orders {
			if o.Estado.Finished() && o.HoraFin != nil {
				ids = append(ids, o.ID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	ok := 0
	for _, id := range ids {
		if _, err := e.RecalcularMetricas(ctx, id); err != nil {
			e.opLog(ctx).Warn().Int64("order_id", id).Err(err).Msg("metric recalculation skipped")
			continue
		}
		ok++
	}
	return ok, nil
}

// SimulateMetricas evaluates the formulas for a still-active order with
// horaFin set to now. Nothing is persisted. Once a stored snapshot
// exists it is returned instead.
func (e *Engine) SimulateMetricas(ctx context.Context, idOrder int64) (*model.Metricas, error) {
	now := e.nowLocal()

	var m *model.Metricas
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		o, err := tx.GetOrder(idOrder)
		if err != nil {
			return err
		}
		if stored, err := tx.GetMetricas(idOrder); err != nil {
			return err
		} else if stored != nil {
			m = stored
			return nil
		}
		if !o.Estado.Active() {
			return lifecycle.InvalidStatef("cannot simulate metrics for order %d in estado %s", idOrder, o.Estado)
		}
		if o.HoraInicio == nil {
			return lifecycle.InvalidStatef("order %d has no horaInicio", idOrder)
		}
		nonComputable, err := tx.SumPauseMinutes(idOrder, false)
		if err != nil {
			return err
		}
		pausado, err := tx.SumPauseMinutes(idOrder, true)
		if err != nil {
			return err
		}
		m = calcMetricas(o, now, nonComputable, pausado)
		return nil
	})
	return m, err
}
