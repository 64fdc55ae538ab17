package gateway

import (
	"encoding/json"
	"time"

	"fxpanel/internal/domain"
)

// FrameType identifies the kind of frame sent over the WebSocket connection.
type FrameType string

const (
	FrameTypeRequest  FrameType = "request"
	FrameTypeResponse FrameType = "response"
	FrameTypeEvent    FrameType = "event"
)

// Frame is the envelope exchanged with panel clients over /ws.
//
// Requests carry ID, Method and params in Payload. Responses echo the ID and
// carry the result, or Error plus the machine-readable Code. Events carry the
// bus event name in Event, its publish time in At and its payload verbatim.
type Frame struct {
	Type    FrameType       `json:"type"`
	ID      uint64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Event   string          `json:"event,omitempty"`
	At      *time.Time      `json:"at,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
}

func eventFrame(ev domain.Event) Frame {
	at := ev.Timestamp
	return Frame{Type: FrameTypeEvent, Event: string(ev.Type), At: &at, Payload: ev.Payload}
}

func responseFrame(id uint64, result json.RawMessage, err error) Frame {
	f := Frame{Type: FrameTypeResponse, ID: id, Payload: result}
	if err != nil {
		f.Error = err.Error()
		if code := domain.ErrorCodeOf(err); code != domain.CodeUnknown {
			f.Code = string(code)
		}
	}
	return f
}
