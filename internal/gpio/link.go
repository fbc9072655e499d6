// Copyright (c) 2026 RNP
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package gpio maintains the persistent WebSocket connection to the
// field I/O hub and caches pin levels for its consumers.
package gpio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/rnp/cremerd/internal/log"
	"github.com/rnp/cremerd/internal/metrics"
)

// PinState is a single pin report from the hub.
type PinState struct {
	Pin   int `json:"pin"`
	Value int `json:"value"`
}

// Change is a level transition delivered to subscribers. Prev and Value
// always differ.
type Change struct {
	Pin   int
	Prev  int
	Value int
}

// Handler consumes level changes. Handlers run on the read loop and
// must not block; slow consumers must hand off to their own queue.
type Handler func(ch Change)

// Options configure a Link.
type Options struct {
	// URL is the WebSocket endpoint of the hub.
	URL string
	// DeadAfter is how long without any message before the connection
	// is presumed dead and torn down.
	DeadAfter time.Duration
	// WatchdogInterval is how often liveness is checked.
	WatchdogInterval time.Duration
	// ReconnectMin and ReconnectMax bound the reconnect backoff.
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Link owns the single hub connection. It is the only writer of the
// pin-state cache; consumers take per-pin reads through Pin.
type Link struct {
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pins    map[int]int
	lastMsg time.Time

	handlersMu sync.RWMutex
	handlers   []Handler

	stopOnce sync.Once
	stopped  chan struct{}
}

// New builds a Link. Call Run to connect.
func New(opts Options) *Link {
	if opts.WatchdogInterval <= 0 {
		opts.WatchdogInterval = 15 * time.Second
	}
	if opts.DeadAfter <= 0 {
		opts.DeadAfter = 60 * time.Second
	}
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = time.Second
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = 30 * time.Second
	}
	return &Link{
		opts:    opts,
		log:     log.WithComponent("gpio"),
		pins:    make(map[int]int),
		stopped: make(chan struct{}),
	}
}

// Subscribe registers a change handler. Subscribers only see changes
// after the pin's level is known; seeding messages are silent.
func (l *Link) Subscribe(h Handler) {
	l.handlersMu.Lock()
	l.handlers = append(l.handlers, h)
	l.handlersMu.Unlock()
}

// Pin returns the cached level of a pin and whether it is known.
func (l *Link) Pin(pin int) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.pins[pin]
	return v, ok
}

// Close shuts the link down. It is idempotent and also unblocks Run.
func (l *Link) Close() {
	l.stopOnce.Do(func() {
		close(l.stopped)
		l.mu.Lock()
		if l.conn != nil {
			_ = l.conn.Close()
		}
		l.mu.Unlock()
	})
}

// Run connects and reconnects until ctx is cancelled or Close is
// called. Call it in a dedicated goroutine.
func (l *Link) Run(ctx context.Context) {
	delay := l.opts.ReconnectMin
	for {
		if l.done(ctx) {
			return
		}
		err := l.connect(ctx)
		if l.done(ctx) {
			return
		}
		if err != nil {
			l.log.Warn().Err(err).Dur("retry_in", delay).Msg("gpio link lost")
		}
		select {
		case <-ctx.Done():
			return
		case <-l.stopped:
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > l.opts.ReconnectMax {
			delay = l.opts.ReconnectMax
		}
	}
}

func (l *Link) done(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-l.stopped:
		return true
	default:
		return false
	}
}

// connect opens one connection and consumes it until it fails or the
// watchdog declares it dead. The pin cache starts empty on every
// connection.
func (l *Link) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", l.opts.URL, err)
	}
	metrics.GPIOReconnects.Inc()

	l.mu.Lock()
	l.conn = conn
	l.pins = make(map[int]int)
	l.lastMsg = time.Now()
	l.mu.Unlock()

	l.log.Info().Str("url", l.opts.URL).Msg("gpio link connected")

	watchdogDone := make(chan struct{})
	go l.watchdog(ctx, conn, watchdogDone)

	defer func() {
		close(watchdogDone)
		_ = conn.Close()
		l.mu.Lock()
		if l.conn == conn {
			l.conn = nil
		}
		l.pins = make(map[int]int)
		l.mu.Unlock()
		l.log.Info().Str("url", l.opts.URL).Msg("gpio link disconnected")
	}()

	for {
		if l.done(ctx) {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		l.dispatch(raw)
	}
}

// watchdog tears the connection down when no message arrived within
// DeadAfter, even if the socket still reports open.
func (l *Link) watchdog(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(l.opts.WatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-l.stopped:
			return
		case <-ticker.C:
			l.mu.Lock()
			silent := time.Since(l.lastMsg)
			l.mu.Unlock()
			if silent > l.opts.DeadAfter {
				l.log.Warn().Dur("silent_for", silent).Msg("gpio heartbeat dead, forcing reconnect")
				_ = conn.Close()
				return
			}
		}
	}
}

// dispatch parses one frame. A JSON array is the initial snapshot; a
// JSON object is a single pin update.
func (l *Link) dispatch(raw []byte) {
	l.mu.Lock()
	l.lastMsg = time.Now()
	l.mu.Unlock()

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return
	}

	if trimmed[0] == '[' {
		var snapshot []PinState
		if err := json.Unmarshal(trimmed, &snapshot); err != nil {
			l.log.Warn().Err(err).Msg("bad snapshot frame")
			return
		}
		l.mu.Lock()
		for _, ps := range snapshot {
			l.pins[ps.Pin] = ps.Value
		}
		l.mu.Unlock()
		l.log.Debug().Int("pins", len(snapshot)).Msg("pin snapshot applied")
		return
	}

	var ps PinState
	if err := json.Unmarshal(trimmed, &ps); err != nil {
		l.log.Warn().Err(err).Msg("bad update frame")
		return
	}

	l.mu.Lock()
	prev, known := l.pins[ps.Pin]
	l.pins[ps.Pin] = ps.Value
	l.mu.Unlock()

	// The first message for a pin only seeds its level.
	if !known || prev == ps.Value {
		return
	}
	l.emit(Change{Pin: ps.Pin, Prev: prev, Value: ps.Value})
}

func (l *Link) emit(ch Change) {
	l.handlersMu.RLock()
	handlers := l.handlers
	l.handlersMu.RUnlock()
	for _, h := range handlers {
		h(ch)
	}
}
