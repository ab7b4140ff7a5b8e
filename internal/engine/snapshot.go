package engine

import (
	"time"

	"github.com/mahesa/swara/domain/entities"
)

// SessionPhase is the per-session playback phase exposed on the state feed.
type SessionPhase string

const (
	PhaseIdle      SessionPhase = "idle"
	PhaseActive    SessionPhase = "active"
	PhaseDraining  SessionPhase = "draining"
	PhaseFinalized SessionPhase = "finalized"
)

// StateSnapshot is the read-only telemetry record published after every
// engine mutation. The UI layer consumes this feed for display only.
type StateSnapshot struct {
	SessionID    string                      `json:"session_id,omitempty"`
	Phase        SessionPhase                `json:"phase"`
	QueueLength  int                         `json:"queue_length"`
	PendingCount int                         `json:"pending_count"`
	IsPlaying    bool                        `json:"is_playing"`
	StopReceived bool                        `json:"stop_received"`
	Decision     entities.CompletionDecision `json:"decision"`
	UpdatedAt    time.Time                   `json:"updated_at"`
}
