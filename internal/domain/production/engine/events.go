// Copyright (c) 2026 RNP
// Licensed under the PolyForm Noncommercial License 1.0.0

package engine

import (
	"time"

	"github.com/rnp/cremerd/internal/bus"
	"github.com/rnp/cremerd/internal/domain/production/model"
)

// Event types published on the bus.
const (
	EventOrderCreated        = "ORDER_CREATED"
	EventOrderStateChanged   = "ORDER_STATE_CHANGED"
	EventOrderDeleted        = "ORDER_DELETED"
	EventPauseCreated        = "PAUSE_CREATED"
	EventPauseFinished       = "PAUSE_FINISHED"
	EventFabricacionParcial  = "FABRICACION_PARCIAL_UPDATE"
	EventPausesNonPartial    = "PAUSES_NON_PARTIAL_UPDATE"
	EventBottleCounterUpdate = "BOTTLE_COUNTER_UPDATE"
	EventActiveOrderChanged  = "ACTIVE_ORDER_CHANGED"
)

// OrderPayload is the order snapshot carried in event data.
type OrderPayload struct {
	ID             int64   `json:"id"`
	CodOrder       string  `json:"codOrder"`
	Operario       string  `json:"operario"`
	Lote           string  `json:"lote"`
	Articulo       string  `json:"articulo"`
	Estado         string  `json:"estado"`
	Cantidad       int64   `json:"cantidad"`
	BotesCaja      int64   `json:"botesCaja"`
	StdReferencia  float64 `json:"stdReferencia"`
	CajasPrevistas float64 `json:"cajasPrevistas"`
	TiempoEstimado float64 `json:"tiempoEstimado"`
	HoraInicio     *string `json:"horaInicio,omitempty"`
	HoraFin        *string `json:"horaFin,omitempty"`
	BotesBuenos    *int64  `json:"botesBuenos,omitempty"`
	BotesMalos     *int64  `json:"botesMalos,omitempty"`
	Acumula        bool    `json:"acumula"`
}

// PausePayload is the pause snapshot carried in event data.
type PausePayload struct {
	ID               int64    `json:"id"`
	IDOrder          int64    `json:"idOrder"`
	Tipo             *string  `json:"tipo,omitempty"`
	Descripcion      *string  `json:"descripcion,omitempty"`
	Operario         *string  `json:"operario,omitempty"`
	Computa          *bool    `json:"computa,omitempty"`
	HoraInicio       string   `json:"horaInicio"`
	HoraFin          *string  `json:"horaFin,omitempty"`
	TiempoTotalPausa *float64 `json:"tiempoTotalPausa,omitempty"`
}

// CounterPayload is the bottle counter snapshot carried in event data.
type CounterPayload struct {
	IDOrder             int64   `json:"idOrder"`
	Quantity            int64   `json:"quantity"`
	IsActive            bool    `json:"isActive"`
	LastBottleCountedAt *string `json:"lastBottleCountedAt,omitempty"`
}

func (e *Engine) stamp(t time.Time) string {
	return t.In(e.loc).Format("2006-01-02T15:04:05")
}

func (e *Engine) stampPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := e.stamp(*t)
	return &s
}

func (e *Engine) orderPayload(o *model.Order) OrderPayload {
	return OrderPayload{
		ID:             o.ID,
		CodOrder:       o.CodOrder,
		Operario:       o.Operario,
		Lote:           o.Lote,
		Articulo:       o.Articulo,
		Estado:         string(o.Estado),
		Cantidad:       o.Cantidad,
		BotesCaja:      o.BotesCaja,
		StdReferencia:  o.StdReferencia,
		CajasPrevistas: o.CajasPrevistas,
		TiempoEstimado: o.TiempoEstimado,
		HoraInicio:     e.stampPtr(o.HoraInicio),
		HoraFin:        e.stampPtr(o.HoraFin),
		BotesBuenos:    o.BotesBuenos,
		BotesMalos:     o.BotesMalos,
		Acumula:        o.Acumula,
	}
}

func (e *Engine) pausePayload(p *model.Pause) PausePayload {
	var tipo *string
	if p.Tipo != nil {
		s := string(*p.Tipo)
		tipo = &s
	}
	return PausePayload{
		ID:               p.ID,
		IDOrder:          p.IDOrder,
		Tipo:             tipo,
		Descripcion:      p.Descripcion,
		Operario:         p.Operario,
		Computa:          p.Computa,
		HoraInicio:       e.stamp(p.HoraInicio),
		HoraFin:          e.stampPtr(p.HoraFin),
		TiempoTotalPausa: p.TiempoTotalPausa,
	}
}

func (e *Engine) counterPayload(c *model.BottleCounter) CounterPayload {
	return CounterPayload{
		IDOrder:             c.IDOrder,
		Quantity:            c.Quantity,
		IsActive:            c.IsActive,
		LastBottleCountedAt: e.stampPtr(c.LastBottleCountedAt),
	}
}

// event builds an envelope stamped with the operation clock.
func (e *Engine) event(eventType, message string, data interface{}, at time.Time) bus.Event {
	return bus.NewEvent(eventType, message, data, at.In(e.loc))
}
