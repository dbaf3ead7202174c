package realtime

import (
	"encoding/json"
	"fmt"
)

// Frame types.
const (
	FrameConnect      = "connect"
	FrameConnected    = "connected"
	FrameConnectError = "connect_error"
	FrameEvent        = "event"
)

const maxPayloadBytes = 1 << 20

// Frame is the envelope of every websocket message on a channel.
type Frame struct {
	Type    string          `json:"type"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Seq     *int64          `json:"seq,omitempty"`
	Error   *FrameError     `json:"error,omitempty"`
}

// FrameError is carried by connect_error frames.
type FrameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConnectPayload is the handshake sent right after the socket opens.
type ConnectPayload struct {
	Token    string `json:"token"`
	ClientID string `json:"clientId,omitempty"`
}

// EncodeEvent builds an event frame.
func EncodeEvent(event string, payload any, seq *int64) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		raw = data
	}
	data, err := json.Marshal(Frame{Type: FrameEvent, Event: event, Payload: raw, Seq: seq})
	if err != nil {
		return nil, err
	}
	if len(data) > maxPayloadBytes {
		return nil, fmt.Errorf("event %s: payload too large", event)
	}
	return data, nil
}

// DecodeFrame parses one websocket message.
func DecodeFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	if f.Type == "" {
		return nil, fmt.Errorf("frame without type")
	}
	return &f, nil
}
