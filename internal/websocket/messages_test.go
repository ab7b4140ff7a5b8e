package websocket

import (
	"encoding/json"
	"testing"

	"github.com/mahesa/swara/internal/diagnostics"
	"github.com/mahesa/swara/internal/engine"
)

func TestMessageValidator_ValidateMessage(t *testing.T) {
	validator := NewMessageValidator()

	tests := []struct {
		name    string
		message string
		wantErr bool
	}{
		{
			name:    "valid ping",
			message: `{"type": "ping", "data": "hello"}`,
			wantErr: false,
		},
		{
			name:    "valid snapshot request",
			message: `{"type": "snapshot_request", "include_diagnostics": true}`,
			wantErr: false,
		},
		{
			name:    "unsupported type",
			message: `{"type": "audio_chunk"}`,
			wantErr: true,
		},
		{
			name:    "state updates are outbound only",
			message: `{"type": "state_update"}`,
			wantErr: true,
		},
		{
			name:    "invalid json",
			message: `{not json`,
			wantErr: true,
		},
		{
			name:    "empty message",
			message: `{}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validator.ValidateMessage([]byte(tt.message))
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMessageValidator_ParsedTypes(t *testing.T) {
	validator := NewMessageValidator()

	result, err := validator.ValidateMessage([]byte(`{"type": "ping", "data": "x"}`))
	if err != nil {
		t.Fatalf("ValidateMessage failed: %v", err)
	}
	ping, ok := result.(*PingMessage)
	if !ok {
		t.Fatalf("Expected *PingMessage, got %T", result)
	}
	if ping.Data != "x" {
		t.Errorf("Expected data 'x', got '%s'", ping.Data)
	}

	result, err = validator.ValidateMessage([]byte(`{"type": "snapshot_request", "include_diagnostics": true}`))
	if err != nil {
		t.Fatalf("ValidateMessage failed: %v", err)
	}
	req, ok := result.(*SnapshotRequestMessage)
	if !ok {
		t.Fatalf("Expected *SnapshotRequestMessage, got %T", result)
	}
	if !req.IncludeDiagnostics {
		t.Error("Expected include_diagnostics true")
	}
}

func TestCreateStateMessage(t *testing.T) {
	state := engine.StateSnapshot{
		SessionID:   "msg-1",
		Phase:       engine.PhaseDraining,
		QueueLength: 2,
	}
	msg := CreateStateMessage(state)

	if msg.Type != MessageTypeStateUpdate {
		t.Errorf("Expected type state_update, got %s", msg.Type)
	}
	if msg.Timestamp == "" {
		t.Error("Timestamp should be set")
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded StateUpdateMessage
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.State.SessionID != "msg-1" {
		t.Errorf("Expected session msg-1, got %s", decoded.State.SessionID)
	}
	if decoded.State.Phase != engine.PhaseDraining {
		t.Errorf("Expected phase draining, got %s", decoded.State.Phase)
	}
}

func TestCreateDiagnosticsMessage(t *testing.T) {
	diag := diagnostics.NewRecorder()
	diag.ChunkReceived()
	diag.ChunkCompleted()
	diag.StopSignal()

	msg := CreateDiagnosticsMessage(diag.TakeSnapshot())
	if msg.Type != MessageTypeDiagnostics {
		t.Errorf("Expected type diagnostics, got %s", msg.Type)
	}
	if msg.Diagnostics.ChunksReceived != 1 {
		t.Errorf("Expected 1 chunk received, got %d", msg.Diagnostics.ChunksReceived)
	}
	if msg.Diagnostics.StopSignals != 1 {
		t.Errorf("Expected 1 stop signal, got %d", msg.Diagnostics.StopSignals)
	}
}

func TestCreateErrorMessage(t *testing.T) {
	msg := CreateErrorMessage("invalid_message", "bad payload")

	if msg.Type != MessageTypeError {
		t.Errorf("Expected type error, got %s", msg.Type)
	}
	if msg.Code != "invalid_message" {
		t.Errorf("Expected code invalid_message, got %s", msg.Code)
	}
	if msg.Message != "bad payload" {
		t.Errorf("Expected message 'bad payload', got '%s'", msg.Message)
	}
}

func BenchmarkMessageValidation(b *testing.B) {
	validator := NewMessageValidator()
	message := []byte(`{"type": "snapshot_request", "include_diagnostics": true}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := validator.ValidateMessage(message)
		if err != nil {
			b.Errorf("Validation failed: %v", err)
		}
	}
}
