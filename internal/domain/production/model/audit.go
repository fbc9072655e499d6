// Copyright (c) 2026 RNP
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import "time"

// OrderDeleteAudit is an append-only snapshot written before an order
// is removed. Rows are never mutated.
type OrderDeleteAudit struct {
	ID        int64
	IDOrder   int64
	CodOrder  string
	Operario  string
	Lote      string
	Articulo  string
	Estado    EstadoOrder
	Cantidad  int64
	DeletedBy string
	Motivo    string
	DeletedAt time.Time
	IPAddress *string
}
