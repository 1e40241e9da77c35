package relay

import (
	"encoding/json"

	"github.com/gorilla/websocket"
)

// MessageKind tags an inbound socket message after one-time classification,
// so downstream code never re-inspects the raw frame type.
type MessageKind int

const (
	KindBinary MessageKind = iota
	KindControl
)

type ControlType string

const (
	ControlConnection ControlType = "connection"
	ControlPing       ControlType = "ping"
	ControlEcho       ControlType = "echo"
	ControlFrameAck   ControlType = "frame_ack"
)

// ControlMessage is the JSON text frame used for status and keepalive.
// Audio and video never travel as control messages.
type ControlMessage struct {
	Type    ControlType `json:"type"`
	Message string      `json:"message"`
	Size    int         `json:"size,omitempty"`
}

// Inbound is the tagged union a raw socket message classifies into:
// either opaque binary payload or a parsed control message.
type Inbound struct {
	Kind    MessageKind
	Binary  []byte
	Control ControlMessage
}

// Classify maps a websocket frame to the Binary/Control union. Text frames
// that are not valid control JSON keep their raw text in Message with an
// empty Type, so the bridge can still echo them.
func Classify(messageType int, data []byte) Inbound {
	if messageType == websocket.BinaryMessage {
		return Inbound{Kind: KindBinary, Binary: data}
	}

	var ctrl ControlMessage
	if err := json.Unmarshal(data, &ctrl); err != nil {
		ctrl = ControlMessage{Message: string(data)}
	}
	return Inbound{Kind: KindControl, Control: ctrl}
}
