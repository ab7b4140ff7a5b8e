package websocket

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mahesa/swara/internal/diagnostics"
	"github.com/mahesa/swara/internal/engine"
)

func setupTestHub(t testing.TB) (*Hub, *zap.Logger) {
	logger := zap.NewNop() // No-op logger for tests
	hub := NewHub(diagnostics.NewRecorder(), logger)
	return hub, logger
}

func newTestClient(hub *Hub, clientID string, logger *zap.Logger) *Client {
	return &Client{
		hub:       hub,
		clientID:  clientID,
		send:      make(chan WriteData, 256),
		validator: NewMessageValidator(),
		logger:    logger,
	}
}

func TestHub_NewHub(t *testing.T) {
	hub, _ := setupTestHub(t)

	if hub == nil {
		t.Fatal("NewHub returned nil")
	}

	if hub.clients == nil {
		t.Error("Hub clients map not initialized")
	}

	if hub.register == nil {
		t.Error("Hub register channel not initialized")
	}

	if hub.unregister == nil {
		t.Error("Hub unregister channel not initialized")
	}
}

func TestHub_BroadcastState(t *testing.T) {
	hub, logger := setupTestHub(t)

	client := newTestClient(hub, "feed-1", logger)
	hub.clients[client.clientID] = client

	state := engine.StateSnapshot{
		SessionID:   "msg-42",
		Phase:       engine.PhaseActive,
		QueueLength: 3,
		IsPlaying:   true,
	}
	hub.BroadcastState(state)

	select {
	case data := <-client.send:
		var msg StateUpdateMessage
		if err := json.Unmarshal(data.Payload, &msg); err != nil {
			t.Fatalf("Failed to unmarshal state update: %v", err)
		}
		if msg.Type != MessageTypeStateUpdate {
			t.Errorf("Expected state_update type, got %s", msg.Type)
		}
		if msg.State.SessionID != "msg-42" {
			t.Errorf("Expected session msg-42, got %s", msg.State.SessionID)
		}
		if msg.State.QueueLength != 3 {
			t.Errorf("Expected queue length 3, got %d", msg.State.QueueLength)
		}
	case <-time.After(time.Second):
		t.Error("State update not received within timeout")
	}
}

func TestHub_ReplaysLastStateOnRegister(t *testing.T) {
	hub, logger := setupTestHub(t)
	go hub.Run()

	hub.BroadcastState(engine.StateSnapshot{SessionID: "msg-replay", Phase: engine.PhaseDraining})

	client := newTestClient(hub, "feed-late", logger)
	hub.register <- client

	select {
	case data := <-client.send:
		var msg StateUpdateMessage
		if err := json.Unmarshal(data.Payload, &msg); err != nil {
			t.Fatalf("Failed to unmarshal replayed state: %v", err)
		}
		if msg.State.SessionID != "msg-replay" {
			t.Errorf("Expected replayed session msg-replay, got %s", msg.State.SessionID)
		}
	case <-time.After(time.Second):
		t.Error("Late subscriber did not receive last state")
	}
}

func TestHub_SendTo(t *testing.T) {
	hub, logger := setupTestHub(t)

	client := newTestClient(hub, "feed-direct", logger)
	hub.clients[client.clientID] = client

	message := []byte(`{"type":"test","message":"hello"}`)

	err := hub.SendTo("feed-direct", message)
	if err != nil {
		t.Errorf("SendTo should not return error, got: %v", err)
	}

	select {
	case received := <-client.send:
		if string(received.Payload) != string(message) {
			t.Errorf("Expected message %s, got %s", string(message), string(received.Payload))
		}
	case <-time.After(time.Second):
		t.Error("Message not received within timeout")
	}

	err = hub.SendTo("non-existent-client", message)
	if err == nil {
		t.Error("SendTo should return error for non-existent client")
	}
}

func TestClientMessageProcessing(t *testing.T) {
	hub, logger := setupTestHub(t)

	client := newTestClient(hub, "feed-proc", logger)

	pingMessage := `{
		"type": "ping",
		"data": "test-ping"
	}`

	client.processMessage([]byte(pingMessage))

	select {
	case response := <-client.send:
		var pongMsg map[string]interface{}
		if err := json.Unmarshal(response.Payload, &pongMsg); err != nil {
			t.Errorf("Failed to unmarshal pong response: %v", err)
		}

		if pongMsg["type"] != "pong" {
			t.Errorf("Expected pong type, got %v", pongMsg["type"])
		}
		if pongMsg["data"] != "test-ping" {
			t.Errorf("Expected echoed ping data, got %v", pongMsg["data"])
		}
	case <-time.After(time.Second):
		t.Error("Pong response not received within timeout")
	}

	invalidMessage := `{invalid json}`
	client.processMessage([]byte(invalidMessage))

	select {
	case response := <-client.send:
		var errorMsg map[string]interface{}
		if err := json.Unmarshal(response.Payload, &errorMsg); err != nil {
			t.Errorf("Failed to unmarshal error response: %v", err)
		}

		if errorMsg["type"] != "error" {
			t.Errorf("Expected error type, got %v", errorMsg["type"])
		}
	case <-time.After(time.Second):
		t.Error("Error response not received within timeout")
	}
}

func TestClientSnapshotRequest(t *testing.T) {
	hub, logger := setupTestHub(t)
	hub.lastState = engine.StateSnapshot{SessionID: "msg-snap", Phase: engine.PhaseActive}
	hub.hasState = true

	client := newTestClient(hub, "feed-snap", logger)

	request := `{
		"type": "snapshot_request",
		"include_diagnostics": true
	}`
	client.processMessage([]byte(request))

	select {
	case response := <-client.send:
		var msg StateUpdateMessage
		if err := json.Unmarshal(response.Payload, &msg); err != nil {
			t.Fatalf("Failed to unmarshal snapshot: %v", err)
		}
		if msg.State.SessionID != "msg-snap" {
			t.Errorf("Expected session msg-snap, got %s", msg.State.SessionID)
		}
	case <-time.After(time.Second):
		t.Fatal("Snapshot response not received within timeout")
	}

	select {
	case response := <-client.send:
		var msg DiagnosticsMessage
		if err := json.Unmarshal(response.Payload, &msg); err != nil {
			t.Fatalf("Failed to unmarshal diagnostics: %v", err)
		}
		if msg.Type != MessageTypeDiagnostics {
			t.Errorf("Expected diagnostics type, got %s", msg.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("Diagnostics response not received within timeout")
	}
}

func TestConcurrentClientHandling(t *testing.T) {
	hub, logger := setupTestHub(t)
	go hub.Run()

	numClients := 10
	clients := make([]*Client, numClients)

	for i := 0; i < numClients; i++ {
		client := newTestClient(hub, fmt.Sprintf("feed-%d", i), logger)
		clients[i] = client
		hub.register <- client
	}

	time.Sleep(100 * time.Millisecond)

	if got := hub.ClientCount(); got != numClients {
		t.Errorf("Expected %d clients, got %d", numClients, got)
	}

	for _, client := range clients {
		hub.unregister <- client
	}

	time.Sleep(100 * time.Millisecond)

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("Expected 0 clients, got %d", got)
	}
}

func BenchmarkHubBroadcastState(b *testing.B) {
	hub, logger := setupTestHub(b)

	client := newTestClient(hub, "feed-bench", logger)
	client.send = make(chan WriteData, 1000)
	hub.clients[client.clientID] = client

	go func() {
		for range client.send {
			// Consume messages
		}
	}()

	state := engine.StateSnapshot{SessionID: "msg-bench", Phase: engine.PhaseActive}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hub.BroadcastState(state)
	}
}
