package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 512 * 1024
)

type BridgeState string

const (
	StateAwaitingUpgrade BridgeState = "awaiting_upgrade"
	StateBridging        BridgeState = "bridging"
	StateClosed          BridgeState = "closed"
)

// CoachSession is the upstream half the bridge drives. *coach.Manager
// satisfies it.
type CoachSession interface {
	Init(ctx context.Context) error
	PushFrame(ctx context.Context, jpeg []byte) error
	Close() error
}

// CoachFactory builds the upstream session manager for one connection,
// wired to the sink that pushes PCM back to the browser and a callback for
// terminal upstream failures after init.
type CoachFactory func(sink PCMSink, onFatal func(error)) (CoachSession, error)

// PCMSink mirrors coach.PCMSink without importing it, keeping the bridge
// decoupled from the concrete manager.
type PCMSink interface {
	WritePCM(data []byte) error
}

// Bridge shuttles messages between one browser socket and one upstream
// coach session. Its two legs are lifecycle-symmetric: either side closing
// tears down the other.
type Bridge struct {
	id    string
	ws    *websocket.Conn
	coach CoachSession
	log   *slog.Logger

	mu    sync.Mutex
	state BridgeState

	writeMu sync.Mutex
}

func NewBridge(id string, ws *websocket.Conn, log *slog.Logger) *Bridge {
	return &Bridge{
		id:    id,
		ws:    ws,
		log:   log.With("component", "bridge", "connection_id", id),
		state: StateAwaitingUpgrade,
	}
}

func (b *Bridge) State() BridgeState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// WritePCM pushes an upstream audio chunk to the browser as a binary frame,
// if and only if the socket is still open. Bridge is the PCM sink injected
// into the upstream session manager.
func (b *Bridge) WritePCM(data []byte) error {
	b.mu.Lock()
	if b.state != StateBridging {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	return b.writeBinary(data)
}

func (b *Bridge) writeBinary(data []byte) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = b.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return b.ws.WriteMessage(websocket.BinaryMessage, data)
}

func (b *Bridge) writeControl(msg ControlMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = b.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return b.ws.WriteMessage(websocket.TextMessage, data)
}

func (b *Bridge) closeWithReason(code int, reason string) {
	b.writeMu.Lock()
	_ = b.ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = b.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	b.writeMu.Unlock()
}

// Run bridges the connection until either leg dies. It owns both legs:
// the upstream session is created here and closed on every exit path.
func (b *Bridge) Run(ctx context.Context, factory CoachFactory) {
	defer b.Close()

	b.mu.Lock()
	b.state = StateBridging
	b.mu.Unlock()

	if err := b.writeControl(ControlMessage{
		Type:    ControlConnection,
		Message: "AI Coach connected successfully!",
	}); err != nil {
		b.log.Error("failed to send welcome message", "error", err)
		return
	}

	coachSession, err := factory(b, b.handleUpstreamFatal)
	if err != nil {
		b.log.Error("coach unavailable", "error", err)
		b.closeWithReason(websocket.CloseInternalServerErr, "coach unavailable: "+err.Error())
		return
	}
	b.coach = coachSession

	if err := coachSession.Init(ctx); err != nil {
		b.log.Error("upstream session init failed", "error", err)
		b.closeWithReason(websocket.CloseInternalServerErr, "coach unavailable: "+err.Error())
		return
	}

	b.log.Info("bridge established")
	b.readLoop(ctx)
}

// handleUpstreamFatal runs when the coach session dies mid-stream. It may be
// invoked from the upstream receive goroutine, so it only signals the browser
// and drops the socket; the read loop's exit drives the full Close.
func (b *Bridge) handleUpstreamFatal(err error) {
	b.log.Error("upstream session died", "error", err)
	b.closeWithReason(websocket.CloseInternalServerErr, "coach unavailable: "+err.Error())
	_ = b.ws.Close()
}

func (b *Bridge) readLoop(ctx context.Context) {
	b.ws.SetReadLimit(maxMessageSize)

	for {
		messageType, data, err := b.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				b.log.Error("websocket read error", "error", err)
			}
			return
		}

		in := Classify(messageType, data)
		switch in.Kind {
		case KindBinary:
			if err := b.handleFrame(ctx, in.Binary); err != nil {
				return
			}
		case KindControl:
			b.handleControl(in.Control)
		}
	}
}

func (b *Bridge) handleFrame(ctx context.Context, frame []byte) error {
	if err := b.coach.PushFrame(ctx, frame); err != nil {
		b.log.Warn("frame rejected", "error", err, "bytes", len(frame))
		return err
	}

	if err := b.writeControl(ControlMessage{
		Type:    ControlFrameAck,
		Message: "Frame received and processed",
		Size:    len(frame),
	}); err != nil {
		b.log.Debug("failed to send frame ack", "error", err)
	}
	return nil
}

func (b *Bridge) handleControl(ctrl ControlMessage) {
	switch ctrl.Type {
	case ControlPing:
		if err := b.writeControl(ControlMessage{Type: ControlPing, Message: "pong"}); err != nil {
			b.log.Debug("failed to answer ping", "error", err)
		}
	default:
		if err := b.writeControl(ControlMessage{
			Type:    ControlEcho,
			Message: "Echo: " + ctrl.Message,
		}); err != nil {
			b.log.Debug("failed to echo control message", "error", err)
		}
	}
}

// Close tears down both legs. Idempotent: a second call is a no-op.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.state == StateClosed {
		b.mu.Unlock()
		return
	}
	b.state = StateClosed
	coachSession := b.coach
	b.mu.Unlock()

	if coachSession != nil {
		if err := coachSession.Close(); err != nil && !errors.Is(err, context.Canceled) {
			b.log.Debug("upstream close failed", "error", err)
		}
	}

	_ = b.ws.Close()
	b.log.Info("bridge closed")
}
