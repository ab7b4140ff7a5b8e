package activity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mahesa/swara/domain/entities"
)

// Config controls activity sampling and debouncing.
type Config struct {
	// SampleInterval is how often the output signal is measured.
	SampleInterval time.Duration
	// NoiseFloor is the RMS level below which a sample counts as silent.
	NoiseFloor float64
	// DebounceCount is how many consecutive below-floor samples are needed
	// before the monitor flips to inactive. Speech contains short natural
	// pauses that must not read as end-of-stream.
	DebounceCount int
	// Format describes the PCM layout of the monitored stream.
	Format entities.AudioFormat
	// Now is injectable for deterministic tests.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.SampleInterval <= 0 {
		c.SampleInterval = 50 * time.Millisecond
	}
	if c.NoiseFloor <= 0 {
		c.NoiseFloor = 0.01
	}
	if c.DebounceCount <= 0 {
		c.DebounceCount = 6
	}
	if c.Format.SampleRate == 0 {
		c.Format = entities.DefaultAudioFormat
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// feedSegment is one rendered buffer positioned on the output timeline.
type feedSegment struct {
	start time.Time
	data  []byte
}

func (s feedSegment) end(format entities.AudioFormat) time.Time {
	return s.start.Add(format.Duration(len(s.data)))
}

// Monitor measures real output activity independently of the playback
// queue's own bookkeeping. Rendered PCM is fed in through a Tap; the monitor
// models a playhead over the fed segments and periodically measures the
// energy of whatever should be audible right now.
//
// The monitor is a pure observer. It never drives playback decisions on its
// own; the completion reconciler folds its state into the composite
// predicate.
type Monitor struct {
	cfg    Config
	logger *zap.Logger

	mu             sync.Mutex
	cancel         context.CancelFunc
	segments       []feedSegment
	active         bool
	level          float64
	peak           float64
	consecutiveLow int
	lastActiveAt   time.Time
	lastSample     entities.ActivitySample
	subscribers    map[int]func(active bool)
	nextSubID      int
}

// NewMonitor creates a monitor with defaults applied.
func NewMonitor(cfg Config, logger *zap.Logger) *Monitor {
	cfg.applyDefaults()
	return &Monitor{
		cfg:         cfg,
		logger:      logger,
		subscribers: make(map[int]func(bool)),
	}
}

// Start begins the periodic sampling loop.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	go m.sampleLoop(ctx)
}

// Stop halts the sampling loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.mu.Unlock()
}

func (m *Monitor) sampleLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

// Feed places one rendered buffer on the output timeline. Sequential renders
// start where the previous segment ended so back-to-back chunks read as one
// continuous signal.
func (m *Monitor) Feed(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	start := m.cfg.Now()
	if n := len(m.segments); n > 0 {
		if prevEnd := m.segments[n-1].end(m.cfg.Format); prevEnd.After(start) {
			start = prevEnd
		}
	}
	m.segments = append(m.segments, feedSegment{start: start, data: pcm})
}

// sample measures the energy of the window that should be audible right now
// and updates the debounced active state.
func (m *Monitor) sample() {
	m.mu.Lock()

	now := m.cfg.Now()
	window := m.windowLocked(now)
	rms := RMSEnergy(window)
	peak := PeakAmplitude(window)
	m.level = rms
	m.peak = peak

	sample := entities.ActivitySample{RMS: rms, Peak: peak, MeasuredAt: now}
	if sample.AboveFloor(m.cfg.NoiseFloor) {
		m.consecutiveLow = 0
		m.lastActiveAt = now
		m.lastSample = sample
		if !m.active {
			m.active = true
			m.notifyLocked(true)
			m.logger.Debug("Output became active", zap.Float64("rms", rms))
		}
		m.mu.Unlock()
		return
	}

	m.consecutiveLow++
	sample.ConsecutiveLow = m.consecutiveLow
	m.lastSample = sample
	if m.active && m.consecutiveLow >= m.cfg.DebounceCount {
		m.active = false
		m.notifyLocked(false)
		m.logger.Debug("Output became inactive",
			zap.Int("consecutiveLow", m.consecutiveLow))
	}
	m.mu.Unlock()
}

// windowLocked extracts the PCM that the playhead covered over the last
// sample interval, and prunes segments that finished playing.
func (m *Monitor) windowLocked(now time.Time) []byte {
	windowStart := now.Add(-m.cfg.SampleInterval)
	var window []byte

	kept := m.segments[:0]
	for _, seg := range m.segments {
		segEnd := seg.end(m.cfg.Format)
		if !segEnd.After(windowStart) {
			continue // fully played before the window, drop it
		}
		kept = append(kept, seg)
		if seg.start.After(now) {
			continue // not audible yet
		}

		from := 0
		if windowStart.After(seg.start) {
			from = m.cfg.Format.BytesForDuration(windowStart.Sub(seg.start))
		}
		to := len(seg.data)
		if segEnd.After(now) {
			to = m.cfg.Format.BytesForDuration(now.Sub(seg.start))
		}
		from, to = clampRange(from, to, len(seg.data))
		window = append(window, seg.data[from:to]...)
	}
	m.segments = kept
	return window
}

func clampRange(from, to, max int) (int, int) {
	if from < 0 {
		from = 0
	}
	if to > max {
		to = max
	}
	if from > to {
		from = to
	}
	// keep 16-bit sample alignment
	from -= from % 2
	to -= to % 2
	return from, to
}

// IsActive returns the debounced activity state.
func (m *Monitor) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// CurrentLevel returns the most recent RMS measurement.
func (m *Monitor) CurrentLevel() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// LastSample returns the most recent measurement record.
func (m *Monitor) LastSample() entities.ActivitySample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSample
}

// TimeSinceLastActive returns how long the output has been silent. Before
// any audible sample it reports the time since the monitor saw nothing,
// which is effectively "forever" (a very large duration).
func (m *Monitor) TimeSinceLastActive() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastActiveAt.IsZero() {
		return time.Duration(1<<62 - 1)
	}
	return m.cfg.Now().Sub(m.lastActiveAt)
}

// Subscribe registers a callback for active/inactive transitions and returns
// an id for Unsubscribe.
func (m *Monitor) Subscribe(fn func(active bool)) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn
	return id
}

// Unsubscribe removes a transition callback.
func (m *Monitor) Unsubscribe(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscribers, id)
}

func (m *Monitor) notifyLocked(active bool) {
	for _, fn := range m.subscribers {
		go fn(active)
	}
}

// Reset clears the playhead model and debounce state for a new session.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments = nil
	m.consecutiveLow = 0
	m.active = false
	m.level = 0
	m.peak = 0
}
