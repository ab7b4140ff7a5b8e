package engine

import (
	"github.com/mahesa/swara/domain/entities"
)

// event is the single input type of the engine loop. Chunk arrival, stop
// signals, render completions and timer fires all funnel through one queue so
// the FIFO and single-active-session invariants hold by construction instead
// of by callback discipline.
type event interface{ isEvent() }

type chunkEvent struct {
	rawID    string
	payload  []byte
	encoding entities.ChunkEncoding
}

type stopEvent struct {
	rawID string
}

type renderDoneEvent struct {
	chunkID entities.ChunkID
	err     error
}

type timerKind int

const (
	timerGrace timerKind = iota
	timerShortGap
	timerLongGap
)

// timerEvent carries the generation it was armed under; a stale fire from a
// replaced timer is ignored by the loop.
type timerEvent struct {
	kind timerKind
	gen  uint64
}

type forceFinalizeEvent struct {
	sessionID string
	cause     entities.FinalizeCause
}

func (chunkEvent) isEvent()         {}
func (stopEvent) isEvent()          {}
func (renderDoneEvent) isEvent()    {}
func (timerEvent) isEvent()         {}
func (forceFinalizeEvent) isEvent() {}
