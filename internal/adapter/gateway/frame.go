package gateway

import (
	"encoding/json"

	"switchboard/internal/domain"
)

// FrameType identifies the kind of frame sent over the WebSocket connection.
type FrameType string

const (
	FrameTypeRequest  FrameType = "request"
	FrameTypeResponse FrameType = "response"
	FrameTypeEvent    FrameType = "event"
)

// Frame is the envelope exchanged between client and server over WebSocket.
type Frame struct {
	Type    FrameType       `json:"type"`
	ID      uint64          `json:"id,omitempty"`     // request/response correlation ID
	Method  string          `json:"method,omitempty"` // RPC method name (request only)
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
	Kind    string          `json:"kind,omitempty"` // domain error kind, response only
}

func eventFrame(event domain.Event) (Frame, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeEvent, Payload: payload}, nil
}

func responseFrame(id uint64, result json.RawMessage, err error) Frame {
	f := Frame{Type: FrameTypeResponse, ID: id, Payload: result}
	if err != nil {
		f.Error = err.Error()
		f.Kind = string(domain.ErrorKindOf(err))
	}
	return f
}
