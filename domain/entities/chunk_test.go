package entities

import (
	"testing"
	"time"
)

func TestNewAudioChunk(t *testing.T) {
	payload := make([]byte, 48000) // 1 second at 24kHz 16-bit mono
	chunk := NewAudioChunk("msg-1", 0, payload, ChunkEncodingRaw, DefaultAudioFormat)

	if chunk.SessionID != "msg-1" {
		t.Errorf("Expected session id msg-1, got %s", chunk.SessionID)
	}

	if chunk.Status != ChunkStatusReceived {
		t.Errorf("Expected status %s, got %s", ChunkStatusReceived, chunk.Status)
	}

	if chunk.Size != len(payload) {
		t.Errorf("Expected size %d, got %d", len(payload), chunk.Size)
	}

	if chunk.Duration != time.Second {
		t.Errorf("Expected 1s duration, got %v", chunk.Duration)
	}
}

func TestChunkLifecycle(t *testing.T) {
	chunk := NewAudioChunk("msg-1", 3, make([]byte, 1024), ChunkEncodingRaw, DefaultAudioFormat)

	chunk.MarkQueued()
	if chunk.Status != ChunkStatusQueued {
		t.Errorf("Expected status queued, got %s", chunk.Status)
	}
	if chunk.EnqueuedAt.IsZero() {
		t.Error("Expected EnqueuedAt to be set")
	}

	chunk.MarkPlaying()
	if chunk.Status != ChunkStatusPlaying {
		t.Errorf("Expected status playing, got %s", chunk.Status)
	}

	chunk.MarkCompleted()
	if chunk.Status != ChunkStatusCompleted {
		t.Errorf("Expected status completed, got %s", chunk.Status)
	}
	if !chunk.IsTerminal() {
		t.Error("Expected chunk to be terminal after completion")
	}

	// Terminal chunks must never change status again.
	chunk.MarkError()
	if chunk.Status != ChunkStatusCompleted {
		t.Errorf("Terminal chunk mutated to %s", chunk.Status)
	}
}

func TestChunkErrorIsTerminal(t *testing.T) {
	chunk := NewAudioChunk("msg-1", 0, make([]byte, 64), ChunkEncodingRaw, DefaultAudioFormat)
	chunk.MarkQueued()
	chunk.MarkPlaying()
	chunk.MarkError()

	if chunk.Status != ChunkStatusError {
		t.Errorf("Expected status error, got %s", chunk.Status)
	}

	chunk.MarkCompleted()
	if chunk.Status != ChunkStatusError {
		t.Errorf("Terminal chunk mutated to %s", chunk.Status)
	}
}

func TestChunkID(t *testing.T) {
	chunk := NewAudioChunk("msg-9", 7, nil, ChunkEncodingRaw, DefaultAudioFormat)
	id := chunk.ID()

	if id.SessionID != "msg-9" || id.Sequence != 7 {
		t.Errorf("Unexpected chunk id %+v", id)
	}
}

func TestAudioFormatDuration(t *testing.T) {
	format := AudioFormat{SampleRate: 16000, BitDepth: 16, Channels: 1}

	if got := format.BytesPerSecond(); got != 32000 {
		t.Errorf("Expected 32000 bytes/s, got %d", got)
	}

	if got := format.Duration(16000); got != 500*time.Millisecond {
		t.Errorf("Expected 500ms, got %v", got)
	}

	if got := format.BytesForDuration(250 * time.Millisecond); got != 8000 {
		t.Errorf("Expected 8000 bytes, got %d", got)
	}

	var zero AudioFormat
	if got := zero.Duration(1024); got != 0 {
		t.Errorf("Expected zero duration for zero format, got %v", got)
	}
}
