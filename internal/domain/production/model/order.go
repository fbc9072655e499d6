// Copyright (c) 2026 RNP
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package model defines the persistent entities of the production core.
package model

import "time"

// EstadoOrder enumerates the life cycle states of a production order.
type EstadoOrder string

const (
	EstadoCreada        EstadoOrder = "CREADA"
	EstadoEnProceso     EstadoOrder = "EN_PROCESO"
	EstadoPausada       EstadoOrder = "PAUSADA"
	EstadoFinalizada    EstadoOrder = "FINALIZADA"
	EstadoEsperaManual  EstadoOrder = "ESPERA_MANUAL"
	EstadoProcesoManual EstadoOrder = "PROCESO_MANUAL"
)

// Valid reports whether e is a known estado.
func (e EstadoOrder) Valid() bool {
	switch e {
	case EstadoCreada, EstadoEnProceso, EstadoPausada,
		EstadoFinalizada, EstadoEsperaManual, EstadoProcesoManual:
		return true
	}
	return false
}

// Active reports whether the order is producing or paused.
func (e EstadoOrder) Active() bool {
	return e == EstadoEnProceso || e == EstadoPausada
}

// Finished reports whether the order has left the production phase.
func (e EstadoOrder) Finished() bool {
	return e == EstadoFinalizada || e == EstadoEsperaManual || e == EstadoProcesoManual
}

// Order is a unit of production work for a fixed article and quantity.
type Order struct {
	ID               int64
	CodOrder         string
	Operario         string
	Lote             string
	Articulo         string
	Descripcion      string
	Estado           EstadoOrder
	Cantidad         int64
	BotesCaja        int64
	StdReferencia    float64 // units per minute
	CajasPrevistas   float64
	TiempoEstimado   float64 // minutes
	HoraCreacion     time.Time
	HoraInicio       *time.Time
	HoraFin          *time.Time
	BotesBuenos      *int64
	BotesMalos       *int64
	TotalCajasCierre *int64
	Repercap         bool
	Acumula          bool
}

// TotalProducido returns good plus bad bottles, treating unset as zero.
func (o *Order) TotalProducido() int64 {
	var total int64
	if o.BotesBuenos != nil {
		total += *o.BotesBuenos
	}
	if o.BotesMalos != nil {
		total += *o.BotesMalos
	}
	return total
}

// OrderExtra is the sidecar row holding packaging details that do not
// participate in the state machine.
type OrderExtra struct {
	IDOrder     int64
	FormatoBote string
	Tipo        string
	UdsBote     int64
}
