// Package protocol defines the admin gateway wire frames shared between the
// leadline server and its administrative clients (dashboard, CLI).
package protocol

import "encoding/json"

// ProtocolVersion is bumped on breaking frame changes.
const ProtocolVersion = 2

// Frame types.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// RPC method names.
const (
	MethodSessionConnect    = "session.connect"
	MethodSessionDisconnect = "session.disconnect"
	MethodSessionStatus     = "session.status"

	MethodChatSend      = "chat.send"
	MethodChatToggleBot = "chat.toggle_bot"

	MethodAIForceRun = "ai.force_run"

	MethodConversationsList = "conversations.list"

	MethodHealth = "health"
)

// Event names pushed from server to admin clients.
const (
	EventSessionPhase        = "session.phase"
	EventSessionVerification = "session.verification" // payload: qr or pairing code
	EventConversationUpdated = "conversation.updated"
	EventShutdown            = "shutdown"
)

// Error codes for ErrorResponse.
const (
	ErrInvalidRequest = "invalid_request"
	ErrNotFound       = "not_found"
	ErrNotConnected   = "not_connected"
	ErrInternal       = "internal"
)

// RequestFrame is a client→server RPC call.
type RequestFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame answers one RequestFrame.
type ResponseFrame struct {
	Type    string      `json:"type"`
	ID      string      `json:"id"`
	OK      bool        `json:"ok"`
	Payload interface{} `json:"payload,omitempty"`
	Error   *FrameError `json:"error,omitempty"`
}

// FrameError carries a machine-readable code plus a human message.
type FrameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventFrame is a server-initiated push.
type EventFrame struct {
	Type    string      `json:"type"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

// NewOKResponse builds a success response for a request ID.
func NewOKResponse(id string, payload interface{}) ResponseFrame {
	return ResponseFrame{Type: FrameTypeResponse, ID: id, OK: true, Payload: payload}
}

// NewEvent builds an event frame.
func NewEvent(name string, payload interface{}) *EventFrame {
	return &EventFrame{Type: FrameTypeEvent, Event: name, Payload: payload}
}

// NewErrorResponse builds an error response for a request ID.
func NewErrorResponse(id, code, message string) ResponseFrame {
	return ResponseFrame{
		Type:  FrameTypeResponse,
		ID:    id,
		OK:    false,
		Error: &FrameError{Code: code, Message: message},
	}
}
