package entities

import (
	"time"
)

// ChunkStatus represents the lifecycle state of an audio chunk
type ChunkStatus string

const (
	ChunkStatusReceived  ChunkStatus = "received"
	ChunkStatusQueued    ChunkStatus = "queued"
	ChunkStatusPlaying   ChunkStatus = "playing"
	ChunkStatusCompleted ChunkStatus = "completed"
	ChunkStatusError     ChunkStatus = "error"
)

// ChunkEncoding indicates how the transport delivered the payload.
type ChunkEncoding string

const (
	ChunkEncodingRaw    ChunkEncoding = "raw"
	ChunkEncodingBase64 ChunkEncoding = "base64"
)

// AudioChunk represents one fixed-size raw PCM buffer received from the
// transport. The playback queue owns a chunk from enqueue until it reaches a
// terminal status; a chunk is never mutated after completed or error.
type AudioChunk struct {
	SessionID   string        `json:"session_id"` // canonical, already resolved
	Sequence    int           `json:"sequence"`
	Payload     []byte        `json:"-"`
	Encoding    ChunkEncoding `json:"encoding"`
	Size        int           `json:"size"`
	ReceivedAt  time.Time     `json:"received_at"`
	EnqueuedAt  time.Time     `json:"enqueued_at"`
	RenderStart time.Time     `json:"render_start,omitempty"`
	RenderEnd   time.Time     `json:"render_end,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
	Status      ChunkStatus   `json:"status"`
}

// NewAudioChunk creates a chunk in the received state with its estimated
// duration derived from the payload length and stream format. The duration of
// a base64 payload is estimated from its decoded size.
func NewAudioChunk(sessionID string, sequence int, payload []byte, encoding ChunkEncoding, format AudioFormat) *AudioChunk {
	if encoding == "" {
		encoding = ChunkEncodingRaw
	}
	pcmLen := len(payload)
	if encoding == ChunkEncodingBase64 {
		pcmLen = len(payload) / 4 * 3
	}
	return &AudioChunk{
		SessionID:  sessionID,
		Sequence:   sequence,
		Payload:    payload,
		Encoding:   encoding,
		Size:       len(payload),
		ReceivedAt: time.Now(),
		Duration:   format.Duration(pcmLen),
		Status:     ChunkStatusReceived,
	}
}

// MarkQueued transitions the chunk into the queue.
func (c *AudioChunk) MarkQueued() {
	c.Status = ChunkStatusQueued
	c.EnqueuedAt = time.Now()
}

// MarkPlaying records dispatch to the renderer.
func (c *AudioChunk) MarkPlaying() {
	c.Status = ChunkStatusPlaying
	c.RenderStart = time.Now()
}

// MarkCompleted records a successful render. No-op once terminal.
func (c *AudioChunk) MarkCompleted() {
	if c.IsTerminal() {
		return
	}
	c.Status = ChunkStatusCompleted
	c.RenderEnd = time.Now()
}

// MarkError records a decode or render failure. No-op once terminal.
func (c *AudioChunk) MarkError() {
	if c.IsTerminal() {
		return
	}
	c.Status = ChunkStatusError
	c.RenderEnd = time.Now()
}

// IsTerminal reports whether the chunk reached completed or error.
func (c *AudioChunk) IsTerminal() bool {
	return c.Status == ChunkStatusCompleted || c.Status == ChunkStatusError
}

// ID returns the queue-unique identity of the chunk within its session.
func (c *AudioChunk) ID() ChunkID {
	return ChunkID{SessionID: c.SessionID, Sequence: c.Sequence}
}

// ChunkID identifies a chunk within the pending set.
type ChunkID struct {
	SessionID string `json:"session_id"`
	Sequence  int    `json:"sequence"`
}
