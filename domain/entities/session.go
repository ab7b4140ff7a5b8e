package entities

import (
	"time"
)

// MessageSession represents the canonical identity of one logical audio
// response. The transport may label the same response with several id
// encodings (numeric, string, prefixed); every observed variant is recorded
// as an alias so later signals resolve in O(1).
//
// Invariant: at most one session is active (playing or holding chunks) at a
// time. Chunks for a new session are rejected while the previous one is
// still active.
type MessageSession struct {
	ID              string     `json:"id"`
	Aliases         []string   `json:"aliases"`
	ExpectedChunks  int        `json:"expected_chunks"`
	RemainingChunks int        `json:"remaining_chunks"`
	IsPlaying       bool       `json:"is_playing"`
	StopReceived    bool       `json:"stop_received"`
	CreatedAt       time.Time  `json:"created_at"`
	LastChunkAt     *time.Time `json:"last_chunk_at,omitempty"`

	aliasSet map[string]struct{}
}

// NewMessageSession creates a session for a canonical id, seeding the alias
// set with the id itself.
func NewMessageSession(canonicalID string) *MessageSession {
	s := &MessageSession{
		ID:        canonicalID,
		CreatedAt: time.Now(),
		aliasSet:  make(map[string]struct{}),
	}
	s.AddAlias(canonicalID)
	return s
}

// AddAlias records an observed identifier variant for this session.
// Duplicate aliases are ignored.
func (s *MessageSession) AddAlias(alias string) {
	if alias == "" {
		return
	}
	if s.aliasSet == nil {
		s.aliasSet = make(map[string]struct{})
	}
	if _, ok := s.aliasSet[alias]; ok {
		return
	}
	s.aliasSet[alias] = struct{}{}
	s.Aliases = append(s.Aliases, alias)
}

// HasAlias reports whether the raw id was previously observed for this session.
func (s *MessageSession) HasAlias(alias string) bool {
	_, ok := s.aliasSet[alias]
	return ok
}

// ChunkReceived accounts for one chunk arriving for this session.
func (s *MessageSession) ChunkReceived() {
	now := time.Now()
	s.ExpectedChunks++
	s.RemainingChunks++
	s.LastChunkAt = &now
}

// ChunkFinished accounts for one chunk reaching a terminal status.
func (s *MessageSession) ChunkFinished() {
	if s.RemainingChunks > 0 {
		s.RemainingChunks--
	}
}

// IsActive reports whether the session still holds the playback slot.
func (s *MessageSession) IsActive() bool {
	return s.IsPlaying || s.RemainingChunks > 0
}

// IdleFor returns how long ago the last chunk arrived. Falls back to the
// session creation time when no chunk has been seen yet.
func (s *MessageSession) IdleFor(now time.Time) time.Duration {
	if s.LastChunkAt != nil {
		return now.Sub(*s.LastChunkAt)
	}
	return now.Sub(s.CreatedAt)
}
