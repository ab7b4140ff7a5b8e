package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mahesa/swara/domain/entities"
	"github.com/mahesa/swara/domain/repositories"
)

const (
	defaultBaseURL   = "https://api.elevenlabs.io/v1"
	defaultVoiceID   = "21m00Tcm4TlvDq8ikWAM" // Rachel
	defaultModelID   = "eleven_multilingual_v2"
	defaultChunkSize = 1024
	defaultStability = 0.5
	defaultClarity   = 0.75
)

// pcmRates are the sample rates the streaming endpoint accepts for linear PCM.
var pcmRates = map[int]bool{
	8000:  true,
	16000: true,
	22050: true,
	24000: true,
	44100: true,
}

// Config tunes the ElevenLabs synthesizer. Only APIKey is required; the
// output is always linear PCM in the configured AudioFormat so synthesized
// audio matches what the playback pipeline expects.
type Config struct {
	APIKey    string
	BaseURL   string
	VoiceID   string
	ModelID   string
	Format    entities.AudioFormat
	ChunkSize int
	Stability float64
	Clarity   float64
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.VoiceID == "" {
		c.VoiceID = defaultVoiceID
	}
	if c.ModelID == "" {
		c.ModelID = defaultModelID
	}
	if c.Format == (entities.AudioFormat{}) {
		c.Format = entities.DefaultAudioFormat
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = defaultChunkSize
	}
	if c.Stability == 0 {
		c.Stability = defaultStability
	}
	if c.Clarity == 0 {
		c.Clarity = defaultClarity
	}
}

func (c Config) validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("elevenlabs API key is required")
	}
	if !pcmRates[c.Format.SampleRate] {
		return fmt.Errorf("unsupported PCM sample rate %d", c.Format.SampleRate)
	}
	if c.Format.BitDepth != 16 {
		return fmt.Errorf("only 16-bit PCM is supported, got %d", c.Format.BitDepth)
	}
	if c.Stability < 0 || c.Stability > 1 {
		return fmt.Errorf("stability must be between 0 and 1, got %f", c.Stability)
	}
	if c.Clarity < 0 || c.Clarity > 1 {
		return fmt.Errorf("clarity must be between 0 and 1, got %f", c.Clarity)
	}
	if c.ChunkSize < 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	return nil
}

// ConfigFromEnv builds a Config from ELEVEN_LABS_* environment variables.
func ConfigFromEnv() Config {
	config := Config{
		APIKey:  os.Getenv("ELEVEN_LABS_API_KEY"),
		BaseURL: os.Getenv("ELEVEN_LABS_API_BASE_URL"),
		VoiceID: os.Getenv("ELEVEN_LABS_VOICE_ID"),
		ModelID: os.Getenv("ELEVEN_LABS_MODEL_ID"),
	}

	if rateStr := os.Getenv("ELEVEN_LABS_SAMPLE_RATE"); rateStr != "" {
		if rate, err := strconv.Atoi(rateStr); err == nil && rate > 0 {
			config.Format = entities.AudioFormat{SampleRate: rate, BitDepth: 16, Channels: 1}
		}
	}
	if sizeStr := os.Getenv("ELEVEN_LABS_CHUNK_SIZE"); sizeStr != "" {
		if size, err := strconv.Atoi(sizeStr); err == nil && size > 0 {
			config.ChunkSize = size
		}
	}
	if stabilityStr := os.Getenv("ELEVEN_LABS_STABILITY"); stabilityStr != "" {
		if stability, err := strconv.ParseFloat(stabilityStr, 64); err == nil {
			config.Stability = stability
		}
	}
	if clarityStr := os.Getenv("ELEVEN_LABS_CLARITY"); clarityStr != "" {
		if clarity, err := strconv.ParseFloat(clarityStr, 64); err == nil {
			config.Clarity = clarity
		}
	}

	return config
}

// Synthesizer streams speech from the ElevenLabs API as linear PCM chunks.
type Synthesizer struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

var _ repositories.TextToSpeech = (*Synthesizer)(nil)

func NewSynthesizer(cfg Config, logger *zap.Logger) (*Synthesizer, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Synthesizer{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
		logger: logger,
	}, nil
}

// outputFormat maps the configured PCM layout onto the API's format names.
func (s *Synthesizer) outputFormat() string {
	return fmt.Sprintf("pcm_%d", s.cfg.Format.SampleRate)
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// Synthesize converts text to speech, delivering PCM chunks on the returned
// channel as they arrive from the API. The channel closes when the stream
// ends or ctx is cancelled.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (<-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	payload, err := json.Marshal(synthesisRequest{
		Text:    text,
		ModelID: s.cfg.ModelID,
		VoiceSettings: voiceSettings{
			Stability:       s.cfg.Stability,
			SimilarityBoost: s.cfg.Clarity,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s/stream?output_format=%s",
		s.cfg.BaseURL, s.cfg.VoiceID, s.outputFormat())
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "audio/pcm")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.cfg.APIKey)

	s.logger.Info("Synthesizing speech",
		zap.String("voiceID", s.cfg.VoiceID),
		zap.String("outputFormat", s.outputFormat()),
		zap.Int("textLength", len(text)))

	out := make(chan []byte, 10)
	go s.stream(ctx, req, out)
	return out, nil
}

func (s *Synthesizer) stream(ctx context.Context, req *http.Request, out chan<- []byte) {
	defer close(out)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("Synthesis request failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		s.logger.Error("Synthesis API returned error",
			zap.Int("statusCode", resp.StatusCode),
			zap.String("response", string(body)))
		return
	}

	buffer := make([]byte, s.cfg.ChunkSize)
	totalBytes := 0
	for {
		n, err := resp.Body.Read(buffer)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buffer[:n])
			select {
			case out <- chunk:
				totalBytes += n
			case <-ctx.Done():
				s.logger.Warn("Context cancelled while streaming synthesis")
				return
			}
		}
		if err == io.EOF {
			s.logger.Info("Synthesis stream finished", zap.Int("totalBytes", totalBytes))
			return
		}
		if err != nil {
			s.logger.Error("Error reading synthesis stream", zap.Error(err))
			return
		}
	}
}
