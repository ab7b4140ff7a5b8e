package identity

import (
	"fmt"
	"testing"

	"go.uber.org/zap"
)

func newTestRegistry() *Registry {
	r := NewRegistry(zap.NewNop())
	counter := 0
	r.newID = func() string {
		counter++
		if counter == 1 {
			return "msg-first"
		}
		return "msg-second"
	}
	return r
}

func TestResolveSynthesizesCanonicalID(t *testing.T) {
	r := newTestRegistry()

	canonical := r.Resolve("7")
	if canonical != "msg-first" {
		t.Errorf("Expected synthesized id msg-first, got %s", canonical)
	}

	session, ok := r.Session(canonical)
	if !ok {
		t.Fatal("Expected session to be registered")
	}
	if !session.HasAlias("7") {
		t.Error("Expected raw id to be recorded as alias")
	}
}

func TestResolveExactCanonical(t *testing.T) {
	r := newTestRegistry()
	canonical := r.Resolve("7")

	if got := r.Resolve(canonical); got != canonical {
		t.Errorf("Expected canonical id to resolve to itself, got %s", got)
	}
}

func TestResolveKnownAlias(t *testing.T) {
	r := newTestRegistry()
	canonical := r.Resolve("7")

	if got := r.Resolve("7"); got != canonical {
		t.Errorf("Expected alias to resolve to %s, got %s", canonical, got)
	}

	if r.Len() != 1 {
		t.Errorf("Expected a single session, got %d", r.Len())
	}
}

func TestAliasConvergenceAcrossEncodings(t *testing.T) {
	r := newTestRegistry()

	// Chunks arrive tagged "7", the stop signal arrives tagged "ns-7".
	canonical := r.Resolve("7")
	if got := r.Resolve("ns-7"); got != canonical {
		t.Errorf("Expected ns-7 to converge on %s, got %s", canonical, got)
	}

	session, _ := r.Session(canonical)
	if !session.HasAlias("ns-7") {
		t.Error("Expected discovered alias ns-7 to be recorded")
	}

	// And the reverse direction: registered prefixed, queried bare.
	r2 := newTestRegistry()
	canonical2 := r2.Resolve("ns-9182")
	if got := r2.Resolve("9182"); got != canonical2 {
		t.Errorf("Expected 9182 to converge on %s, got %s", canonical2, got)
	}
}

func TestSoleActiveFallback(t *testing.T) {
	r := newTestRegistry()
	canonical := r.Resolve("alpha")

	session, _ := r.Session(canonical)
	session.ChunkReceived()

	// A wholly unrelated id lands on the only active session.
	if got := r.Resolve("zzz"); got != canonical {
		t.Errorf("Expected fallback to active session %s, got %s", canonical, got)
	}
	if !session.HasAlias("zzz") {
		t.Error("Expected fallback alias to be recorded")
	}
}

func TestResolveEmptyIDNeverAliases(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	counter := 0
	r.newID = func() string {
		counter++
		return fmt.Sprintf("msg-%d", counter)
	}

	active := r.Resolve("alpha")
	session, _ := r.Session(active)
	session.ChunkReceived()

	// An id-less input must not land on the active session via fallback.
	first := r.Resolve("")
	if first == active {
		t.Errorf("Empty id resolved to active session %s", active)
	}
	if session.HasAlias("") {
		t.Error("Empty alias recorded on active session")
	}

	// Nor may two id-less inputs collapse onto each other.
	second := r.Resolve("")
	if second == first {
		t.Errorf("Two empty ids resolved to the same session %s", first)
	}
}

func TestNoFallbackWithoutActiveSession(t *testing.T) {
	r := newTestRegistry()
	first := r.Resolve("alpha") // inactive; no chunks

	second := r.Resolve("zzz")
	if second == first {
		t.Error("Expected a fresh session when nothing is active")
	}
	if r.Len() != 2 {
		t.Errorf("Expected 2 sessions, got %d", r.Len())
	}
}

func TestHasActiveMessages(t *testing.T) {
	r := newTestRegistry()
	canonical := r.Resolve("7")

	if r.HasActiveMessages() {
		t.Error("Expected no active messages before any chunk")
	}

	session, _ := r.Session(canonical)
	session.ChunkReceived()
	if !r.HasActiveMessages() {
		t.Error("Expected active messages with a chunk outstanding")
	}

	session.ChunkFinished()
	if r.HasActiveMessages() {
		t.Error("Expected no active messages after drain")
	}
}

func TestRemoveClearsAliases(t *testing.T) {
	r := newTestRegistry()
	canonical := r.Resolve("7")
	r.Resolve("ns-7")

	r.Remove(canonical)

	if r.Len() != 0 {
		t.Errorf("Expected empty registry, got %d sessions", r.Len())
	}

	// The old aliases must not leak into a fresh session's identity.
	next := r.Resolve("7")
	if next == canonical {
		t.Error("Expected a new canonical id after removal")
	}
}
