package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"
)

const (
	// realtimePath is the backend's realtime websocket endpoint.
	realtimePath = "/realtime/v1/websocket"

	// notesTopic is the channel carrying change events for the physical
	// notes table.
	notesTopic = "realtime:public:" + physicalTable

	// heartbeatInterval keeps the phoenix channel alive.
	heartbeatInterval = 25 * time.Second

	// wsReadLimit caps inbound frames; change payloads are small JSON.
	wsReadLimit = 1024 * 1024

	reconnectMin = 5 * time.Second
	reconnectMax = 5 * time.Minute

	// jitterDivisor controls the range of random jitter added to the
	// reconnect backoff: jitter is uniform in [0, backoff/jitterDivisor).
	jitterDivisor = 2
)

// ChangeEvent is one raw change notification from the realtime channel,
// still in physical row shape.
type ChangeEvent struct {
	Type string // INSERT, UPDATE or DELETE
	New  *Row
	Old  *Row
}

// wsConn abstracts the websocket connection so Realtime can be tested
// without a real server. *websocket.Conn satisfies this interface.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
	SetReadLimit(n int64)
}

// Realtime maintains a websocket subscription to the backend's change
// feed for the notes table, reconnecting with backoff when the
// connection drops.
type Realtime struct {
	wsURL  string
	logger *slog.Logger

	// dial is injectable for tests.
	dial func(ctx context.Context) (wsConn, error)
}

// NewRealtime creates a realtime channel client for the given backend.
func NewRealtime(baseURL, key string, logger *slog.Logger) *Realtime {
	if logger == nil {
		logger = slog.Default()
	}

	wsURL := strings.TrimRight(baseURL, "/")
	wsURL = strings.Replace(wsURL, "http", "ws", 1)
	wsURL += realtimePath + "?apikey=" + key + "&vsn=1.0.0"

	r := &Realtime{wsURL: wsURL, logger: logger}
	r.dial = func(ctx context.Context) (wsConn, error) {
		conn, _, err := websocket.Dial(ctx, r.wsURL, nil) //nolint:bodyclose // websocket.Dial closes the response body internally
		if err != nil {
			return nil, err
		}

		return conn, nil
	}

	return r
}

// phxMessage is the phoenix channel frame shape.
type phxMessage struct {
	Topic   string `json:"topic"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
	Ref     string `json:"ref"`
}

// Subscribe connects and starts delivering change events to handler
// from a background goroutine. The first connection attempt is
// synchronous so the caller learns immediately when the backend is
// unreachable; later drops reconnect with backoff until unsubscribed.
// The returned unsubscribe function is idempotent and never panics.
func (r *Realtime) Subscribe(ctx context.Context, handler func(ChangeEvent)) (func(), error) {
	subCtx, cancel := context.WithCancel(ctx)

	conn, err := r.connect(subCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("connecting realtime channel: %w", err)
	}

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()
		r.run(subCtx, conn, handler)
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}

	return unsubscribe, nil
}

// connect dials and joins the notes topic.
func (r *Realtime) connect(ctx context.Context) (wsConn, error) {
	conn, err := r.dial(ctx)
	if err != nil {
		return nil, err
	}

	conn.SetReadLimit(wsReadLimit)

	join := phxMessage{
		Topic: notesTopic,
		Event: "phx_join",
		Payload: map[string]any{
			"config": map[string]any{
				"postgres_changes": []map[string]string{
					{"event": "*", "schema": "public", "table": physicalTable},
				},
			},
		},
		Ref: "1",
	}

	data, err := json.Marshal(join)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "join marshal failed")
		return nil, err
	}

	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		conn.Close(websocket.StatusInternalError, "join failed")
		return nil, err
	}

	return conn, nil
}

// run reads the connection until the context is cancelled, reconnecting
// with exponential backoff and jitter after drops.
func (r *Realtime) run(ctx context.Context, conn wsConn, handler func(ChangeEvent)) {
	backoff := reconnectMin

	for {
		r.serve(ctx, conn, handler)

		if ctx.Err() != nil {
			return
		}

		delay := backoff + rand.N(backoff/jitterDivisor)
		r.logger.Debug("realtime reconnecting", slog.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}

		next, err := r.connect(ctx)
		if err != nil {
			r.logger.Debug("realtime reconnect failed", slog.Any("error", err))
			conn = nil

			continue
		}

		backoff = reconnectMin
		conn = next
	}
}

// serve pumps one live connection: a heartbeat goroutine keeps the
// channel open while the read loop dispatches change events. Returns
// when the connection drops or the context is cancelled.
func (r *Realtime) serve(ctx context.Context, conn wsConn, handler func(ChangeEvent)) {
	if conn == nil {
		return
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()
		r.heartbeat(hbCtx, conn)
	}()

	defer func() {
		conn.Close(websocket.StatusNormalClosure, "bye")
		stopHeartbeat()
		wg.Wait()
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Debug("realtime read failed", slog.Any("error", err))
			}

			return
		}

		if ev, ok := parseChange(data); ok {
			handler(ev)
		}
	}
}

func (r *Realtime) heartbeat(ctx context.Context, conn wsConn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	ref := 2

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msg := phxMessage{Topic: "phoenix", Event: "heartbeat", Payload: map[string]any{}, Ref: strconv.Itoa(ref)}
			ref++

			data, err := json.Marshal(msg)
			if err != nil {
				return
			}

			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}

// parseChange extracts a change event from a phoenix frame. Non-change
// frames (join replies, heartbeat acks, presence) report ok=false.
// Both the postgres_changes envelope and the older bare-event shape
// are understood.
func parseChange(data []byte) (ChangeEvent, bool) {
	event := gjson.GetBytes(data, "event").Str

	var typ string
	var payload gjson.Result

	switch event {
	case "postgres_changes":
		payload = gjson.GetBytes(data, "payload.data")
		typ = payload.Get("type").Str
	case "INSERT", "UPDATE", "DELETE":
		payload = gjson.GetBytes(data, "payload")
		typ = event
	default:
		return ChangeEvent{}, false
	}

	if typ == "" {
		return ChangeEvent{}, false
	}

	ev := ChangeEvent{
		Type: typ,
		New:  rowFromJSON(payload.Get("record")),
		Old:  rowFromJSON(payload.Get("old_record")),
	}

	if ev.New == nil && ev.Old == nil {
		return ChangeEvent{}, false
	}

	return ev, true
}

// rowFromJSON maps a change payload record into physical row shape,
// or nil when absent.
func rowFromJSON(g gjson.Result) *Row {
	if !g.Exists() || !g.IsObject() {
		return nil
	}

	return &Row{
		ID:    g.Get("id").Str,
		Title: g.Get("title").Str,
		Body:  g.Get("body").Str,
	}
}
