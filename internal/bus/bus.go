// Copyright (c) 2026 RNP
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package bus provides the in-process event transport used to push
// production changes to downstream consumers.
package bus

import (
	"context"
	"strconv"
	"time"
)

// Well-known topics.
const (
	TopicOrders             = "orders"
	TopicPausesNonPartial   = "pauses-non-partial"
	TopicFabricacionParcial = "fabricacion-parcial"
	TopicBottleCounter      = "bottle-counter"
	TopicActiveOrder        = "active-order"
)

// TopicOrder is the per-order topic for the given order id.
func TopicOrder(id int64) string {
	return TopicOrders + "/" + strconv.FormatInt(id, 10)
}

// TopicBottleCounterFor is the per-order bottle counter topic.
func TopicBottleCounterFor(orderID int64) string {
	return TopicBottleCounter + "/" + strconv.FormatInt(orderID, 10)
}

// Event is the envelope published on every topic.
type Event struct {
	EventType string      `json:"eventType"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// NewEvent builds an envelope stamped with the local wall clock.
func NewEvent(eventType, message string, data interface{}, at time.Time) Event {
	return Event{
		EventType: eventType,
		Message:   message,
		Data:      data,
		Timestamp: at.Format("2006-01-02T15:04:05"),
	}
}

// Subscriber receives events for a single topic subscription.
type Subscriber interface {
	// C returns a read-only event channel.
	C() <-chan Event
	// Close unsubscribes.
	Close() error
}

// Bus is the event transport abstraction.
type Bus interface {
	Publish(ctx context.Context, topic string, ev Event) error
	Subscribe(ctx context.Context, topic string) (Subscriber, error)
}
