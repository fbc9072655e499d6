// Copyright (c) 2026 RNP
// Licensed under the PolyForm Noncommercial License 1.0.0

package gpio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type changeRecorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *changeRecorder) record(ch Change) {
	r.mu.Lock()
	r.changes = append(r.changes, ch)
	r.mu.Unlock()
}

func (r *changeRecorder) all() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Change(nil), r.changes...)
}

func newTestLink() (*Link, *changeRecorder) {
	l := New(Options{URL: "ws://unused"})
	rec := &changeRecorder{}
	l.Subscribe(rec.record)
	return l, rec
}

func TestDispatch_SnapshotSeedsWithoutEmitting(t *testing.T) {
	l, rec := newTestLink()

	l.dispatch([]byte(`[{"pin":22,"value":1},{"pin":19,"value":1},{"pin":23,"value":0}]`))

	assert.Empty(t, rec.all())
	v, ok := l.Pin(22)
	require.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = l.Pin(23)
	require.True(t, ok)
	assert.Equal(t, 0, v)
}

func TestDispatch_UpdateEmitsOnLevelChange(t *testing.T) {
	l, rec := newTestLink()

	l.dispatch([]byte(`[{"pin":23,"value":1}]`))
	l.dispatch([]byte(`{"pin":23,"value":0}`))

	changes := rec.all()
	require.Len(t, changes, 1)
	assert.Equal(t, Change{Pin: 23, Prev: 1, Value: 0}, changes[0])
}

func TestDispatch_FirstUpdateSeedsSilently(t *testing.T) {
	l, rec := newTestLink()

	// No snapshot seen yet; the first per-pin update only seeds.
	l.dispatch([]byte(`{"pin":23,"value":1}`))
	assert.Empty(t, rec.all())

	l.dispatch([]byte(`{"pin":23,"value":0}`))
	require.Len(t, rec.all(), 1)
}

func TestDispatch_RepeatedLevelIsSilent(t *testing.T) {
	l, rec := newTestLink()

	l.dispatch([]byte(`[{"pin":22,"value":0}]`))
	l.dispatch([]byte(`{"pin":22,"value":0}`))
	l.dispatch([]byte(`{"pin":22,"value":0}`))

	assert.Empty(t, rec.all())
}

func TestDispatch_MalformedFramesIgnored(t *testing.T) {
	l, rec := newTestLink()

	l.dispatch([]byte(``))
	l.dispatch([]byte(`not json`))
	l.dispatch([]byte(`[{"pin":`))

	assert.Empty(t, rec.all())
	_, ok := l.Pin(22)
	assert.False(t, ok)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRun_ReceivesSnapshotAndUpdates(t *testing.T) {
	upgrader := websocket.Upgrader{}
	frames := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		// Keep the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	l := New(Options{URL: wsURL(srv), ReconnectMin: 10 * time.Millisecond})
	rec := &changeRecorder{}
	l.Subscribe(rec.record)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Run(ctx)
	}()

	frames <- `[{"pin":23,"value":1}]`
	frames <- `{"pin":23,"value":0}`
	close(frames)

	require.Eventually(t, func() bool {
		return len(rec.all()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, Change{Pin: 23, Prev: 1, Value: 0}, rec.all()[0])

	l.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after Close")
	}
}

func TestRun_ReconnectClearsPinCache(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var mu sync.Mutex
	conns := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		conns++
		first := conns == 1
		mu.Unlock()
		if first {
			// Seed a pin, then drop the connection.
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`[{"pin":22,"value":1}]`))
			time.Sleep(50 * time.Millisecond)
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	l := New(Options{URL: wsURL(srv), ReconnectMin: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)
	defer l.Close()

	require.Eventually(t, func() bool {
		_, ok := l.Pin(22)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	// After the hub drops, the stale level must not survive into the
	// next connection.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return conns >= 2
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := l.Pin(22)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClose_Idempotent(t *testing.T) {
	l := New(Options{URL: "ws://unused"})
	l.Close()
	l.Close()
}
