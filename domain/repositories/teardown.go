package repositories

import "github.com/mahesa/swara/domain/entities"

// TeardownNotifier receives the single "playback complete" notification per
// session. Implementations belong to the call-control layer; the engine
// guarantees at most one call per canonical session id.
type TeardownNotifier interface {
	PlaybackFinished(canonicalID string, decision entities.CompletionDecision)
}
