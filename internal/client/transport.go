package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Status tracks the transport lifecycle. Transitions only move forward:
// Connecting -> Open -> Closed, or any state -> Errored.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusOpen       Status = "open"
	StatusClosed     Status = "closed"
	StatusErrored    Status = "errored"
)

var ErrNotOpen = errors.New("client: transport is not open")

const (
	dialTimeout = 10 * time.Second
	sendTimeout = 10 * time.Second
)

// ControlEvent is a decoded text frame from the relay. Text that is not
// valid JSON is surfaced with an empty Type and the raw payload in Message.
type ControlEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Size    int    `json:"size,omitempty"`
}

// Transport is one browser-side socket to the relay. A failed or closed
// transport is never reused; callers construct a fresh one to reconnect.
type Transport struct {
	log *slog.Logger

	mu        sync.Mutex
	ws        *websocket.Conn
	status    Status
	onBinary  func([]byte)
	onControl func(ControlEvent)
	onStatus  func(Status)

	writeMu sync.Mutex
	readWg  sync.WaitGroup
}

type TransportConfig struct {
	Logger *slog.Logger

	// OnBinary receives every binary frame in arrival order, from a single
	// goroutine. Required before Dial for audio to be observed.
	OnBinary func([]byte)

	// OnControl receives decoded text frames. Optional.
	OnControl func(ControlEvent)

	// OnStatus is invoked on every status change. Optional.
	OnStatus func(Status)
}

func NewTransport(cfg TransportConfig) *Transport {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Transport{
		log:       cfg.Logger.With("component", "transport"),
		status:    StatusConnecting,
		onBinary:  cfg.OnBinary,
		onControl: cfg.OnControl,
		onStatus:  cfg.OnStatus,
	}
}

func (t *Transport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Transport) setStatus(s Status) {
	t.mu.Lock()
	if t.status == StatusClosed || t.status == StatusErrored {
		t.mu.Unlock()
		return
	}
	t.status = s
	cb := t.onStatus
	t.mu.Unlock()

	if cb != nil {
		cb(s)
	}
}

// Dial connects to the relay and starts the single read loop. There is no
// automatic retry: an error leaves the transport Errored and done.
func (t *Transport) Dial(ctx context.Context, url string) error {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		t.setStatus(StatusErrored)
		t.log.Error("dial failed", "url", url, "error", err)
		return err
	}

	t.mu.Lock()
	t.ws = ws
	t.mu.Unlock()
	t.setStatus(StatusOpen)
	t.log.Info("transport open", "url", url)

	t.readWg.Add(1)
	go t.readLoop()
	return nil
}

func (t *Transport) readLoop() {
	defer t.readWg.Done()

	for {
		messageType, data, err := t.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.setStatus(StatusErrored)
				t.log.Error("read failed", "error", err)
			} else {
				t.setStatus(StatusClosed)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if t.onBinary != nil {
				t.onBinary(data)
			}
		case websocket.TextMessage:
			if t.onControl != nil {
				var evt ControlEvent
				if err := json.Unmarshal(data, &evt); err != nil {
					evt = ControlEvent{Message: string(data)}
				}
				t.onControl(evt)
			}
		}
	}
}

// Send writes a binary frame. When the transport is not Open the frame is
// dropped and ErrNotOpen returned; callers treat that as backpressure, not
// a fault.
func (t *Transport) Send(data []byte) error {
	t.mu.Lock()
	if t.status != StatusOpen {
		t.mu.Unlock()
		return ErrNotOpen
	}
	ws := t.ws
	t.mu.Unlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(sendTimeout))
	if err := ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		t.setStatus(StatusErrored)
		return err
	}
	return nil
}

// SendControl writes a JSON text frame, with the same not-Open semantics
// as Send.
func (t *Transport) SendControl(evt ControlEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.status != StatusOpen {
		t.mu.Unlock()
		return ErrNotOpen
	}
	ws := t.ws
	t.mu.Unlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(sendTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.setStatus(StatusErrored)
		return err
	}
	return nil
}

// Close releases the socket on every path, including when the transport
// never finished connecting. Idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.status == StatusClosed || t.status == StatusErrored {
		ws := t.ws
		t.mu.Unlock()
		if ws != nil {
			_ = ws.Close()
		}
		return nil
	}
	t.status = StatusClosed
	ws := t.ws
	cb := t.onStatus
	t.mu.Unlock()

	if cb != nil {
		cb(StatusClosed)
	}

	if ws != nil {
		t.writeMu.Lock()
		_ = ws.SetWriteDeadline(time.Now().Add(sendTimeout))
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.writeMu.Unlock()
		_ = ws.Close()
	}

	t.readWg.Wait()
	t.log.Info("transport closed")
	return nil
}
