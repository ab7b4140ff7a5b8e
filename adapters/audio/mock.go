package audio

import (
	"context"
	"sync"
	"time"

	"github.com/mahesa/swara/domain/entities"
	"github.com/mahesa/swara/domain/repositories"
)

// MockRenderer simulates playback by sleeping for the nominal duration of
// each buffer, optionally scaled down. Used in tests and in the simulator
// harness when no audio device is available.
type MockRenderer struct {
	format entities.AudioFormat
	// TimeScale divides the simulated playback time; 0 means real time.
	TimeScale int

	mu        sync.Mutex
	rendered  [][]byte
	flushes   int
	renderErr error
}

// NewMockRenderer creates a renderer that sleeps instead of playing.
func NewMockRenderer(format entities.AudioFormat) *MockRenderer {
	return &MockRenderer{format: format}
}

// FailWith makes every subsequent Render return err.
func (m *MockRenderer) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renderErr = err
}

func (m *MockRenderer) Render(ctx context.Context, pcm []byte) error {
	m.mu.Lock()
	err := m.renderErr
	m.rendered = append(m.rendered, pcm)
	scale := m.TimeScale
	m.mu.Unlock()

	if err != nil {
		return err
	}

	d := m.format.Duration(len(pcm))
	if scale > 1 {
		d /= time.Duration(scale)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (m *MockRenderer) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
}

func (m *MockRenderer) Close() error { return nil }

// Rendered returns copies of the buffers rendered so far.
func (m *MockRenderer) Rendered() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.rendered))
	copy(out, m.rendered)
	return out
}

// Flushes returns how many times Flush was called.
func (m *MockRenderer) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

var _ repositories.AudioRenderer = (*MockRenderer)(nil)
