// Copyright (c) 2026 RNP
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

// Metricas is the immutable performance snapshot of a finished order.
// At most one row exists per order. Times are minutes.
type Metricas struct {
	ID             int64
	IDOrder        int64
	TiempoTotal    float64
	TiempoPausado  float64
	TiempoActivo   float64
	Disponibilidad float64
	Rendimiento    float64
	Calidad        float64
	OEE            float64
	StdReal        float64
	PorCumpPedido  float64
}
