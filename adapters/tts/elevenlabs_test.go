package tts

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/mahesa/swara/domain/entities"
)

func TestNewSynthesizerRequiresAPIKey(t *testing.T) {
	_, err := NewSynthesizer(Config{}, zap.NewNop())
	if err == nil {
		t.Error("NewSynthesizer() = nil error without API key")
	}
}

func TestNewSynthesizerRejectsUnsupportedFormat(t *testing.T) {
	tests := []struct {
		name   string
		format entities.AudioFormat
	}{
		{"odd sample rate", entities.AudioFormat{SampleRate: 11025, BitDepth: 16, Channels: 1}},
		{"8-bit depth", entities.AudioFormat{SampleRate: 24000, BitDepth: 8, Channels: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSynthesizer(Config{APIKey: "test-key", Format: tt.format}, zap.NewNop())
			if err == nil {
				t.Errorf("NewSynthesizer() accepted format %+v", tt.format)
			}
		})
	}
}

func TestNewSynthesizerAppliesDefaults(t *testing.T) {
	s, err := NewSynthesizer(Config{APIKey: "test-key"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSynthesizer() = %v", err)
	}
	if s.cfg.VoiceID != defaultVoiceID {
		t.Errorf("voice id = %s, want %s", s.cfg.VoiceID, defaultVoiceID)
	}
	if s.cfg.Format != entities.DefaultAudioFormat {
		t.Errorf("format = %+v, want default", s.cfg.Format)
	}
	if got := s.outputFormat(); got != "pcm_24000" {
		t.Errorf("outputFormat() = %s, want pcm_24000", got)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("ELEVEN_LABS_API_KEY", "env-key")
	t.Setenv("ELEVEN_LABS_VOICE_ID", "env-voice")
	t.Setenv("ELEVEN_LABS_SAMPLE_RATE", "16000")
	t.Setenv("ELEVEN_LABS_CHUNK_SIZE", "2048")

	config := ConfigFromEnv()
	if config.APIKey != "env-key" {
		t.Errorf("APIKey = %s, want env-key", config.APIKey)
	}
	if config.VoiceID != "env-voice" {
		t.Errorf("VoiceID = %s, want env-voice", config.VoiceID)
	}
	if config.Format.SampleRate != 16000 {
		t.Errorf("sample rate = %d, want 16000", config.Format.SampleRate)
	}
	if config.ChunkSize != 2048 {
		t.Errorf("chunk size = %d, want 2048", config.ChunkSize)
	}
}

func TestSynthesizeRejectsEmptyText(t *testing.T) {
	s, err := NewSynthesizer(Config{APIKey: "test-key"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSynthesizer() = %v", err)
	}

	ctx := context.Background()
	if _, err := s.Synthesize(ctx, ""); err == nil {
		t.Error("Synthesize(\"\") = nil error")
	}
	if _, err := s.Synthesize(ctx, "   "); err == nil {
		t.Error("Synthesize(whitespace) = nil error")
	}
}

func TestSynthesizeStreamsConfiguredFormat(t *testing.T) {
	audio := bytes.Repeat([]byte{0x7f, 0x00}, 1250) // 2500 bytes of PCM

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/text-to-speech/voice-x/stream" {
			t.Errorf("path = %s, want /text-to-speech/voice-x/stream", r.URL.Path)
		}
		if got := r.URL.Query().Get("output_format"); got != "pcm_16000" {
			t.Errorf("output_format = %s, want pcm_16000", got)
		}
		if got := r.Header.Get("xi-api-key"); got != "test-key" {
			t.Errorf("xi-api-key = %s, want test-key", got)
		}
		if got := r.Header.Get("Accept"); got != "audio/pcm" {
			t.Errorf("Accept = %s, want audio/pcm", got)
		}
		w.Write(audio)
	}))
	defer server.Close()

	s, err := NewSynthesizer(Config{
		APIKey:    "test-key",
		BaseURL:   server.URL,
		VoiceID:   "voice-x",
		Format:    entities.AudioFormat{SampleRate: 16000, BitDepth: 16, Channels: 1},
		ChunkSize: 1024,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSynthesizer() = %v", err)
	}

	stream, err := s.Synthesize(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("Synthesize() = %v", err)
	}

	var received []byte
	for chunk := range stream {
		if len(chunk) > 1024 {
			t.Errorf("chunk size = %d, want at most 1024", len(chunk))
		}
		received = append(received, chunk...)
	}
	if !bytes.Equal(received, audio) {
		t.Errorf("received %d bytes, want %d matching the response body", len(received), len(audio))
	}
}

func TestSynthesizeClosesStreamOnAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"quota exceeded"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	s, err := NewSynthesizer(Config{APIKey: "test-key", BaseURL: server.URL}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSynthesizer() = %v", err)
	}

	stream, err := s.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize() = %v", err)
	}

	for chunk := range stream {
		t.Errorf("received %d bytes despite API error", len(chunk))
	}
}
