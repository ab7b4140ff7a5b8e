package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mahesa/swara/domain/entities"
	"github.com/mahesa/swara/domain/repositories"
	"github.com/mahesa/swara/internal/activity"
	"github.com/mahesa/swara/internal/diagnostics"
	"github.com/mahesa/swara/internal/engine"
	"github.com/mahesa/swara/internal/identity"
	"github.com/mahesa/swara/internal/reconcile"
)

// Config aggregates the tunables of the whole playback pipeline.
type Config struct {
	Format     entities.AudioFormat
	Engine     engine.Config
	Activity   activity.Config
	Reconciler reconcile.Config
}

// PlaybackService composes the playback pipeline: identity resolution,
// ordered rendering, activity measurement and completion reconciliation.
// It is the single object the transport and the telemetry API talk to.
type PlaybackService struct {
	registry   *identity.Registry
	monitor    *activity.Monitor
	engine     *engine.Engine
	reconciler *reconcile.Reconciler
	diag       *diagnostics.Recorder
	logger     *zap.Logger
}

// NewPlaybackService wires the pipeline around the given renderer. The
// renderer is tapped so measured output activity reflects exactly what was
// handed to the device. notifier may be nil.
func NewPlaybackService(cfg Config, renderer repositories.AudioRenderer, notifier repositories.TeardownNotifier, logger *zap.Logger) *PlaybackService {
	if cfg.Format.SampleRate == 0 {
		cfg.Format = entities.DefaultAudioFormat
	}
	cfg.Engine.Format = cfg.Format
	cfg.Activity.Format = cfg.Format

	diag := diagnostics.NewRecorder()
	registry := identity.NewRegistry(logger)
	registry.SetAliasObserver(diag.AliasDiscovered)

	monitor := activity.NewMonitor(cfg.Activity, logger)
	tapped := activity.NewTap(renderer, monitor)

	eng := engine.New(cfg.Engine, tapped, notifier, registry, diag, logger)
	rec := reconcile.New(cfg.Reconciler, eng, monitor, logger)

	return &PlaybackService{
		registry:   registry,
		monitor:    monitor,
		engine:     eng,
		reconciler: rec,
		diag:       diag,
		logger:     logger,
	}
}

// Start launches the engine loop and the activity sampler.
func (s *PlaybackService) Start(ctx context.Context) {
	s.monitor.Start(ctx)
	s.engine.Start(ctx)
	s.logger.Info("Playback service started")
}

// Stop shuts the pipeline down, finalizing any active session.
func (s *PlaybackService) Stop() {
	s.engine.Stop()
	s.monitor.Stop()
	s.logger.Info("Playback service stopped")
}

// EnqueueChunk feeds one transport chunk into the pipeline.
func (s *PlaybackService) EnqueueChunk(rawID string, payload []byte, encoding entities.ChunkEncoding) {
	s.engine.EnqueueChunk(rawID, payload, encoding)
}

// SignalStop feeds an out-of-band stop signal into the pipeline.
func (s *PlaybackService) SignalStop(rawID string) {
	s.engine.SignalStop(rawID)
}

// AwaitCompletion blocks until the session identified by rawID reaches its
// terminal state, reconciling pipeline state against measured output.
func (s *PlaybackService) AwaitCompletion(ctx context.Context, rawID string) (entities.CompletionDecision, error) {
	canonical := s.registry.Resolve(rawID)
	return s.reconciler.AwaitCompletion(ctx, canonical)
}

// Engine exposes the engine for the telemetry API.
func (s *PlaybackService) Engine() *engine.Engine {
	return s.engine
}

// Diagnostics exposes the diagnostics recorder.
func (s *PlaybackService) Diagnostics() *diagnostics.Recorder {
	return s.diag
}

// Snapshot returns the current pipeline state.
func (s *PlaybackService) Snapshot() engine.StateSnapshot {
	return s.engine.Snapshot()
}

// OutputActive reports whether measured output is currently above the noise
// floor.
func (s *PlaybackService) OutputActive() bool {
	return s.monitor.IsActive()
}

// OutputLevel returns the most recent RMS measurement.
func (s *PlaybackService) OutputLevel() float64 {
	return s.monitor.CurrentLevel()
}

// SubscribeState registers a callback for state snapshots; the returned id
// feeds UnsubscribeState.
func (s *PlaybackService) SubscribeState(fn func(engine.StateSnapshot)) int {
	return s.engine.Subscribe(fn)
}

// UnsubscribeState removes a state callback.
func (s *PlaybackService) UnsubscribeState(id int) {
	s.engine.Unsubscribe(id)
}

// HasActiveMessages reports whether any session is mid-playback.
func (s *PlaybackService) HasActiveMessages() bool {
	return s.registry.HasActiveMessages()
}

// IdleFor reports how long measured output has been silent.
func (s *PlaybackService) IdleFor() time.Duration {
	return s.monitor.TimeSinceLastActive()
}
