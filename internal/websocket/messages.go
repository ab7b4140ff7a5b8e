package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mahesa/swara/internal/diagnostics"
	"github.com/mahesa/swara/internal/engine"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Supported message types
const (
	MessageTypeStateUpdate     MessageType = "state_update"
	MessageTypeDiagnostics     MessageType = "diagnostics"
	MessageTypeSnapshotRequest MessageType = "snapshot_request"
	MessageTypePing            MessageType = "ping"
	MessageTypePong            MessageType = "pong"
	MessageTypeError           MessageType = "error"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp"`
}

// StateUpdateMessage carries a playback state snapshot to feed clients.
type StateUpdateMessage struct {
	BaseMessage
	State engine.StateSnapshot `json:"state"`
}

// DiagnosticsMessage carries a diagnostics counter snapshot to feed clients.
type DiagnosticsMessage struct {
	BaseMessage
	Diagnostics diagnostics.Snapshot `json:"diagnostics"`
}

// SnapshotRequestMessage asks for the current state immediately instead of
// waiting for the next update broadcast.
type SnapshotRequestMessage struct {
	BaseMessage
	IncludeDiagnostics bool `json:"include_diagnostics"`
}

// PingMessage represents a ping message for connection health check
type PingMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// PongMessage represents a pong response
type PongMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

// MessageValidator provides validation for inbound feed client messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage validates an incoming message from a feed client
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch base.Type {
	case MessageTypePing:
		var msg PingMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid ping message: %w", err)
		}
		return &msg, nil

	case MessageTypeSnapshotRequest:
		var msg SnapshotRequestMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid snapshot request: %w", err)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

// CreateStateMessage wraps a state snapshot for the feed.
func CreateStateMessage(state engine.StateSnapshot) *StateUpdateMessage {
	return &StateUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeStateUpdate,
			Timestamp: time.Now().Format(time.RFC3339),
		},
		State: state,
	}
}

// CreateDiagnosticsMessage wraps a diagnostics snapshot for the feed.
func CreateDiagnosticsMessage(snap diagnostics.Snapshot) *DiagnosticsMessage {
	return &DiagnosticsMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeDiagnostics,
			Timestamp: time.Now().Format(time.RFC3339),
		},
		Diagnostics: snap,
	}
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeError,
			Timestamp: time.Now().Format(time.RFC3339),
		},
		Code:    code,
		Message: message,
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage(data string) *PongMessage {
	return &PongMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypePong,
			Timestamp: time.Now().Format(time.RFC3339),
		},
		Data: data,
	}
}
