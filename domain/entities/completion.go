package entities

// CompletionDecision represents the reconciled outcome for one session.
// Exactly one terminal transition (finalized) happens per session.
type CompletionDecision string

const (
	// DecisionStillPlaying means the session holds queued or pending chunks.
	DecisionStillPlaying CompletionDecision = "still_playing"
	// DecisionContinuingDespiteStop means a stop signal was received but
	// chunks remain; the engine keeps delivering them.
	DecisionContinuingDespiteStop CompletionDecision = "continuing_despite_stop"
	// DecisionFinalized is the one-shot terminal outcome.
	DecisionFinalized CompletionDecision = "finalized"
)

// FinalizeCause records which trigger won the race to finalize a session.
type FinalizeCause string

const (
	FinalizeCauseStopSignal    FinalizeCause = "stop_signal"
	FinalizeCauseImplicitGap   FinalizeCause = "implicit_gap"
	FinalizeCauseReconciled    FinalizeCause = "reconciled"
	FinalizeCauseSafetyTimeout FinalizeCause = "safety_timeout"
	FinalizeCauseHardCeiling   FinalizeCause = "hard_ceiling"
	FinalizeCauseShutdown      FinalizeCause = "shutdown"
)
