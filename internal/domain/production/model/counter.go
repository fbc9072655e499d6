// Copyright (c) 2026 RNP
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import "time"

// BottleCounter accumulates counted bottles for a single order.
// At most one counter is active across the whole system.
type BottleCounter struct {
	ID                  int64
	IDOrder             int64
	Quantity            int64
	IsActive            bool
	CreatedAt           time.Time
	LastUpdated         time.Time
	LastBottleCountedAt *time.Time
}
