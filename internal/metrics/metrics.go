// Package metrics exposes Prometheus instrumentation for the daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrderTransitions counts state machine transitions by target state.
	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cremerd_order_transitions_total",
		Help: "Order state transitions by resulting state.",
	}, []string{"to"})

	// BottlesCounted counts accepted bottle pulses.
	BottlesCounted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cremerd_bottles_counted_total",
		Help: "Bottle pulses credited to an order counter.",
	})

	// PulsesDropped counts pulses that found no eligible running order.
	PulsesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cremerd_pulses_dropped_total",
		Help: "Bottle pulses discarded with no running order.",
	})

	// AutoPausesOpened counts automatic pauses by fault pin.
	AutoPausesOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cremerd_auto_pauses_opened_total",
		Help: "Automatic pauses opened by fault source.",
	}, []string{"source"})

	// AutoPausesClosed counts automatic pause closures.
	AutoPausesClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cremerd_auto_pauses_closed_total",
		Help: "Automatic pauses closed after the fault cleared.",
	})

	// GPIOReconnects counts WebSocket link re-establishments.
	GPIOReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cremerd_gpio_reconnects_total",
		Help: "GPIO link reconnect attempts.",
	})

	// BusDropped counts events dropped by slow or closed subscribers.
	BusDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cremerd_bus_dropped_total",
		Help: "Bus events dropped because a subscriber could not keep up.",
	})

	// ActiveCounters tracks the number of active bottle counters.
	ActiveCounters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cremerd_active_counters",
		Help: "Bottle counters currently marked active.",
	})
)
