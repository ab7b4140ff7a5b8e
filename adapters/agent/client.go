package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mahesa/swara/domain/entities"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks
)

// Sink receives the decoded agent stream. Implemented by the playback
// engine; both calls must be non-blocking.
type Sink interface {
	EnqueueChunk(rawID string, payload []byte, encoding entities.ChunkEncoding)
	SignalStop(rawID string)
}

// Config holds the agent connection settings.
type Config struct {
	// URL is the websocket endpoint of the agent service.
	URL string
	// Token, when set, is sent as a bearer token on the handshake.
	Token string
	// ReconnectMinDelay is the initial backoff after a lost connection.
	ReconnectMinDelay time.Duration
	// ReconnectMaxDelay caps the backoff.
	ReconnectMaxDelay time.Duration
	// HandshakeTimeout bounds the dial.
	HandshakeTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ReconnectMinDelay <= 0 {
		c.ReconnectMinDelay = time.Second
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
}

// Client maintains a websocket connection to the agent service and forwards
// its voice stream into the sink. The agent labels messages inconsistently:
// chunks may carry a numeric id, a string id, or arrive as bare binary
// frames attached to the last announced message; stop signals may use yet
// another form. The client forwards ids verbatim and leaves reconciliation
// to the sink.
type Client struct {
	cfg    Config
	sink   Sink
	logger *zap.Logger

	mu sync.Mutex
	// Raw id of the message currently being streamed, for binary frames
	// that carry no id of their own.
	currentRawID string
}

// NewClient creates an agent stream client.
func NewClient(cfg Config, sink Sink, logger *zap.Logger) *Client {
	cfg.applyDefaults()
	return &Client{cfg: cfg, sink: sink, logger: logger}
}

// Run dials the agent and pumps its stream until ctx is cancelled,
// reconnecting with exponential backoff on failure.
func (c *Client) Run(ctx context.Context) error {
	delay := c.cfg.ReconnectMinDelay

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.Warn("Agent dial failed, retrying",
				zap.String("url", c.cfg.URL),
				zap.Duration("backoff", delay),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.cfg.ReconnectMaxDelay {
				delay = c.cfg.ReconnectMaxDelay
			}
			continue
		}

		c.logger.Info("Connected to agent", zap.String("url", c.cfg.URL))
		delay = c.cfg.ReconnectMinDelay

		c.pump(ctx, conn)
		conn.Close()

		if err := ctx.Err(); err != nil {
			return err
		}
		c.logger.Warn("Agent connection lost, reconnecting")
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}

	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("dial agent: %w", err)
	}
	return conn, nil
}

// pump reads the stream until the connection drops or ctx is cancelled.
func (c *Client) pump(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	go c.writePump(ctx, conn, done)
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("Agent read error", zap.Error(err))
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		case websocket.BinaryMessage:
			c.processBinaryChunk(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump keeps the connection alive with pings until done closes.
func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processMessage handles JSON control and chunk messages from the agent.
func (c *Client) processMessage(message []byte) {
	var msg map[string]interface{}
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Error("Failed to parse agent message", zap.Error(err))
		return
	}

	msgType, ok := msg["type"].(string)
	if !ok {
		c.logger.Error("Agent message missing type field")
		return
	}

	switch msgType {
	case "speaking_start":
		rawID := extractMessageID(msg)
		c.setCurrentRawID(rawID)
		c.logger.Info("Agent started speaking", zap.String("rawID", rawID))

	case "audio_chunk":
		c.handleAudioChunk(msg)

	case "speaking_end", "stop":
		rawID := extractMessageID(msg)
		if rawID == "" {
			rawID = c.getCurrentRawID()
		}
		if rawID == "" {
			c.logger.Warn("Stop signal with no id and nothing announced, ignoring")
			return
		}
		c.logger.Info("Agent stop signal", zap.String("rawID", rawID))
		c.sink.SignalStop(rawID)

	default:
		c.logger.Debug("Ignoring agent message", zap.String("type", msgType))
	}
}

// handleAudioChunk forwards a JSON-framed chunk. The payload stays base64
// encoded; decode failures belong to the playback pipeline where they can
// be counted and skipped.
func (c *Client) handleAudioChunk(msg map[string]interface{}) {
	rawID := extractMessageID(msg)
	if rawID != "" {
		c.setCurrentRawID(rawID)
	} else {
		rawID = c.getCurrentRawID()
	}
	if rawID == "" {
		c.logger.Warn("Dropping audio chunk with no id before any speaking_start")
		return
	}

	data, ok := msg["audio_data"].(string)
	if !ok || data == "" {
		c.logger.Warn("Audio chunk without audio_data", zap.String("rawID", rawID))
		return
	}

	c.sink.EnqueueChunk(rawID, []byte(data), entities.ChunkEncodingBase64)
}

// processBinaryChunk forwards a bare PCM frame under the last announced id.
func (c *Client) processBinaryChunk(data []byte) {
	rawID := c.getCurrentRawID()
	if rawID == "" {
		// A frame that carries no identity at all cannot be attributed to
		// any session; dropping beats inventing one.
		c.logger.Warn("Dropping binary chunk received before any speaking_start",
			zap.Int("size", len(data)))
		return
	}
	c.sink.EnqueueChunk(rawID, data, entities.ChunkEncodingRaw)
}

func (c *Client) setCurrentRawID(rawID string) {
	if rawID == "" {
		return
	}
	c.mu.Lock()
	c.currentRawID = rawID
	c.mu.Unlock()
}

func (c *Client) getCurrentRawID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentRawID
}

// extractMessageID pulls an identifier out of whichever field the agent used
// this time. Numeric ids are formatted without an exponent so "7" and 7 end
// up identical.
func extractMessageID(msg map[string]interface{}) string {
	for _, key := range []string{"message_id", "id", "session_id", "response_id"} {
		switch v := msg[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
