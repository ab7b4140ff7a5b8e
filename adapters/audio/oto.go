package audio

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"go.uber.org/zap"

	"github.com/mahesa/swara/domain/entities"
	"github.com/mahesa/swara/domain/repositories"
)

// OtoRenderer plays 16-bit little-endian PCM through the system audio device
// using oto. Render blocks until the buffer has been consumed by the player,
// which is what keeps queue ordering honest upstream.
//
// The process may own at most one oto context; construct a single renderer
// and share it.
type OtoRenderer struct {
	ctx    *oto.Context
	format entities.AudioFormat
	logger *zap.Logger

	mu     sync.Mutex
	player *oto.Player
	closed bool
}

// NewOtoRenderer initializes the audio device for the given format. It waits
// for the device to become ready before returning.
func NewOtoRenderer(format entities.AudioFormat, logger *zap.Logger) (*OtoRenderer, error) {
	op := &oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
	}

	otoCtx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("create audio context: %w", err)
	}
	<-ready

	logger.Info("Audio device ready",
		zap.Int("sampleRate", format.SampleRate),
		zap.Int("channels", format.Channels))

	return &OtoRenderer{
		ctx:    otoCtx,
		format: format,
		logger: logger,
	}, nil
}

// Render plays one PCM buffer to completion. Cancelling the context stops
// playback mid-buffer.
func (r *OtoRenderer) Render(ctx context.Context, pcm []byte) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("renderer closed")
	}
	player := r.ctx.NewPlayer(bytes.NewReader(pcm))
	r.player = player
	r.mu.Unlock()

	player.Play()

	// oto gives no completion callback; poll and fall back to the buffer's
	// nominal duration as a ceiling.
	duration := r.format.Duration(len(pcm))
	deadline := time.Now().Add(duration + 500*time.Millisecond)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.stopPlayer(player)
			return ctx.Err()
		case <-ticker.C:
			if !player.IsPlaying() {
				r.stopPlayer(player)
				return nil
			}
			if time.Now().After(deadline) {
				r.logger.Warn("Player exceeded expected duration, stopping",
					zap.Duration("expected", duration))
				r.stopPlayer(player)
				return nil
			}
		}
	}
}

func (r *OtoRenderer) stopPlayer(player *oto.Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.player == player {
		r.player = nil
	}
	if err := player.Close(); err != nil {
		r.logger.Debug("Player close", zap.Error(err))
	}
}

// Flush drops whatever the device is still holding.
func (r *OtoRenderer) Flush() {
	r.mu.Lock()
	player := r.player
	r.player = nil
	r.mu.Unlock()

	if player != nil {
		if err := player.Close(); err != nil {
			r.logger.Debug("Player close on flush", zap.Error(err))
		}
	}
}

// Close tears the renderer down. The oto context itself cannot be closed;
// suspending it releases the device.
func (r *OtoRenderer) Close() error {
	r.Flush()
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return r.ctx.Suspend()
}

var _ repositories.AudioRenderer = (*OtoRenderer)(nil)
