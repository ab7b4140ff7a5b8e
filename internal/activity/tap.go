package activity

import (
	"context"

	"github.com/mahesa/swara/domain/repositories"
)

// Tap decorates an AudioRenderer so the monitor can observe everything that
// reaches the output device. It is constructed once at startup and exposes
// the same renderer contract; instrumentation stays a composable layer
// instead of a runtime patch on the device itself.
type Tap struct {
	inner   repositories.AudioRenderer
	monitor *Monitor
}

// NewTap wraps a renderer with monitor instrumentation.
func NewTap(inner repositories.AudioRenderer, monitor *Monitor) *Tap {
	return &Tap{inner: inner, monitor: monitor}
}

// Render feeds the monitor's playhead model and forwards to the device.
func (t *Tap) Render(ctx context.Context, pcm []byte) error {
	t.monitor.Feed(pcm)
	return t.inner.Render(ctx, pcm)
}

// Flush forwards to the device.
func (t *Tap) Flush() {
	t.inner.Flush()
}

// Close forwards to the device.
func (t *Tap) Close() error {
	return t.inner.Close()
}
