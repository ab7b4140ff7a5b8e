package reconcile

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mahesa/swara/domain/entities"
	"github.com/mahesa/swara/internal/engine"
)

// ErrHardCeiling is returned when a session had to be force-finalized
// because it outlived the reconciler's hard wait ceiling.
var ErrHardCeiling = errors.New("reconcile: hard ceiling reached before completion")

// PlaybackController is the slice of the engine the reconciler drives.
type PlaybackController interface {
	IsFinalized(sessionID string) bool
	ForceFinalize(sessionID string, cause entities.FinalizeCause)
	Snapshot() engine.StateSnapshot
}

// ActivityProbe reports measured output activity, independent of what the
// playback pipeline believes it is doing.
type ActivityProbe interface {
	IsActive() bool
	TimeSinceLastActive() time.Duration
}

// Config tunes the completion wait.
type Config struct {
	// PollInterval is how often state and activity are sampled.
	PollInterval time.Duration
	// QuietConfirm is how long measured output must stay silent before a
	// tentative completion is trusted.
	QuietConfirm time.Duration
	// HardCeiling bounds the total wait; past it the session is
	// force-finalized whatever the signals say.
	HardCeiling time.Duration
	// Now is injectable for deterministic tests.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 50 * time.Millisecond
	}
	if c.QuietConfirm <= 0 {
		c.QuietConfirm = 750 * time.Millisecond
	}
	if c.HardCeiling <= 0 {
		c.HardCeiling = 30 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Reconciler cross-checks pipeline state against measured output activity
// and produces exactly one completion outcome per session. It never trusts
// a single signal: a quiet pipeline must also be acoustically quiet, twice,
// before completion is confirmed.
type Reconciler struct {
	cfg      Config
	ctrl     PlaybackController
	activity ActivityProbe
	logger   *zap.Logger
}

func New(cfg Config, ctrl PlaybackController, activity ActivityProbe, logger *zap.Logger) *Reconciler {
	cfg.applyDefaults()
	return &Reconciler{cfg: cfg, ctrl: ctrl, activity: activity, logger: logger}
}

// AwaitCompletion blocks until the session is finalized and returns the
// terminal decision. The error is ErrHardCeiling when the wait ceiling forced
// the outcome, or the context error if the caller gave up first.
func (r *Reconciler) AwaitCompletion(ctx context.Context, sessionID string) (entities.CompletionDecision, error) {
	deadline := r.cfg.Now().Add(r.cfg.HardCeiling)
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	tentativeSince := time.Time{}

	for {
		if r.ctrl.IsFinalized(sessionID) {
			return entities.DecisionFinalized, nil
		}

		now := r.cfg.Now()
		if now.After(deadline) {
			r.logger.Warn("Completion wait ceiling reached, forcing finalize",
				zap.String("sessionID", sessionID),
				zap.Duration("ceiling", r.cfg.HardCeiling))
			r.ctrl.ForceFinalize(sessionID, entities.FinalizeCauseHardCeiling)
			r.awaitFinalized(ctx, sessionID)
			return entities.DecisionFinalized, ErrHardCeiling
		}

		if r.tentativelyComplete(sessionID) {
			if tentativeSince.IsZero() {
				tentativeSince = now
			} else if now.Sub(tentativeSince) >= r.cfg.QuietConfirm {
				// Double-checked: pipeline idle and output silent across
				// the whole confirmation window.
				r.logger.Info("Completion confirmed by quiet output",
					zap.String("sessionID", sessionID))
				r.ctrl.ForceFinalize(sessionID, entities.FinalizeCauseReconciled)
				r.awaitFinalized(ctx, sessionID)
				return entities.DecisionFinalized, nil
			}
		} else {
			tentativeSince = time.Time{}
		}

		select {
		case <-ctx.Done():
			return r.currentDecision(sessionID), ctx.Err()
		case <-ticker.C:
		}
	}
}

// currentDecision classifies an unfinished session for an aborted wait.
func (r *Reconciler) currentDecision(sessionID string) entities.CompletionDecision {
	if r.ctrl.IsFinalized(sessionID) {
		return entities.DecisionFinalized
	}
	snap := r.ctrl.Snapshot()
	if snap.SessionID == sessionID && snap.StopReceived {
		return entities.DecisionContinuingDespiteStop
	}
	return entities.DecisionStillPlaying
}

// tentativelyComplete reports whether both the pipeline and the measured
// output currently look finished for the session.
func (r *Reconciler) tentativelyComplete(sessionID string) bool {
	snap := r.ctrl.Snapshot()
	if snap.SessionID == sessionID {
		if snap.IsPlaying || snap.QueueLength > 0 || snap.PendingCount > 0 {
			return false
		}
	}
	if r.activity.IsActive() {
		return false
	}
	return r.activity.TimeSinceLastActive() >= r.cfg.QuietConfirm
}

// awaitFinalized waits for a forced finalize to take effect. The finalize is
// asynchronous; this keeps AwaitCompletion's postcondition honest.
func (r *Reconciler) awaitFinalized(ctx context.Context, sessionID string) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for i := 0; i < 100; i++ {
		if r.ctrl.IsFinalized(sessionID) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
