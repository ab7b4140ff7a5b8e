package diagnostics

import (
	"sync"
	"time"

	"github.com/mahesa/swara/domain/entities"
)

// Recorder collects engine counters and per-session timing. It is owned by
// one engine instance and lives exactly as long as it does; nothing here is
// process-global.
type Recorder struct {
	mu sync.Mutex

	chunksReceived   int
	chunksCompleted  int
	chunksSkipped    int
	chunksRejected   int
	decodeErrors     int
	renderErrors     int
	stopSignals      int
	aliasDiscoveries int
	finalizes        map[entities.FinalizeCause]int
	sessions         []SessionTiming
}

// SessionTiming records the lifecycle of one finalized session.
type SessionTiming struct {
	SessionID  string                 `json:"session_id"`
	Chunks     int                    `json:"chunks"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Cause      entities.FinalizeCause `json:"cause"`
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	ChunksReceived   int                            `json:"chunks_received"`
	ChunksCompleted  int                            `json:"chunks_completed"`
	ChunksSkipped    int                            `json:"chunks_skipped"`
	ChunksRejected   int                            `json:"chunks_rejected"`
	DecodeErrors     int                            `json:"decode_errors"`
	RenderErrors     int                            `json:"render_errors"`
	StopSignals      int                            `json:"stop_signals"`
	AliasDiscoveries int                            `json:"alias_discoveries"`
	Finalizes        map[entities.FinalizeCause]int `json:"finalizes"`
	RecentSessions   []SessionTiming                `json:"recent_sessions"`
}

// maxSessionHistory bounds the timing table so a long-lived engine does not
// grow without limit.
const maxSessionHistory = 50

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		finalizes: make(map[entities.FinalizeCause]int),
	}
}

// ChunkReceived counts an accepted chunk.
func (r *Recorder) ChunkReceived() {
	r.mu.Lock()
	r.chunksReceived++
	r.mu.Unlock()
}

// ChunkCompleted counts a successfully rendered chunk.
func (r *Recorder) ChunkCompleted() {
	r.mu.Lock()
	r.chunksCompleted++
	r.mu.Unlock()
}

// ChunkSkipped counts a chunk abandoned after a decode or render failure.
func (r *Recorder) ChunkSkipped() {
	r.mu.Lock()
	r.chunksSkipped++
	r.mu.Unlock()
}

// ChunkRejected counts a chunk refused because another session was active.
func (r *Recorder) ChunkRejected() {
	r.mu.Lock()
	r.chunksRejected++
	r.mu.Unlock()
}

// DecodeError counts a malformed payload.
func (r *Recorder) DecodeError() {
	r.mu.Lock()
	r.decodeErrors++
	r.mu.Unlock()
}

// RenderError counts an output device failure.
func (r *Recorder) RenderError() {
	r.mu.Lock()
	r.renderErrors++
	r.mu.Unlock()
}

// StopSignal counts a stop signal arrival.
func (r *Recorder) StopSignal() {
	r.mu.Lock()
	r.stopSignals++
	r.mu.Unlock()
}

// AliasDiscovered counts a newly observed id variant.
func (r *Recorder) AliasDiscovered() {
	r.mu.Lock()
	r.aliasDiscoveries++
	r.mu.Unlock()
}

// SessionFinalized records the one-shot terminal transition for a session.
func (r *Recorder) SessionFinalized(timing SessionTiming) {
	r.mu.Lock()
	r.finalizes[timing.Cause]++
	r.sessions = append(r.sessions, timing)
	if len(r.sessions) > maxSessionHistory {
		r.sessions = r.sessions[len(r.sessions)-maxSessionHistory:]
	}
	r.mu.Unlock()
}

// TakeSnapshot returns a copy of everything recorded so far.
func (r *Recorder) TakeSnapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	finalizes := make(map[entities.FinalizeCause]int, len(r.finalizes))
	for cause, n := range r.finalizes {
		finalizes[cause] = n
	}
	sessions := make([]SessionTiming, len(r.sessions))
	copy(sessions, r.sessions)

	return Snapshot{
		ChunksReceived:   r.chunksReceived,
		ChunksCompleted:  r.chunksCompleted,
		ChunksSkipped:    r.chunksSkipped,
		ChunksRejected:   r.chunksRejected,
		DecodeErrors:     r.decodeErrors,
		RenderErrors:     r.renderErrors,
		StopSignals:      r.stopSignals,
		AliasDiscoveries: r.aliasDiscoveries,
		Finalizes:        finalizes,
		RecentSessions:   sessions,
	}
}
