// Copyright (c) 2026 RNP
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import "time"

// Acumula records the manual post-production phase of an order.
// At most one row exists per order; it is open while HoraFin is unset.
type Acumula struct {
	ID             int64
	IDOrder        int64
	HoraInicio     time.Time
	HoraFin        *time.Time
	TiempoTotal    *float64 // minutes
	NumCajasManual int64
}

// Open reports whether the manual phase is still running.
func (a *Acumula) Open() bool {
	return a.HoraFin == nil
}
