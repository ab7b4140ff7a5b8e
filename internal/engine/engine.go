package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mahesa/swara/domain/entities"
	"github.com/mahesa/swara/domain/repositories"
	"github.com/mahesa/swara/internal/diagnostics"
	"github.com/mahesa/swara/internal/identity"
	"github.com/mahesa/swara/internal/playback"
)

// Config controls playback driving and completion heuristics.
type Config struct {
	// Format describes the PCM layout of incoming chunks.
	Format entities.AudioFormat
	// GraceDelay is the wait inserted before trusting "queue empty" once a
	// stop signal has been seen, admitting very-late chunks.
	GraceDelay time.Duration
	// ShortGapThreshold is the idle gap below which silence counts as a
	// natural inter-chunk pause.
	ShortGapThreshold time.Duration
	// LongGapThreshold is the idle gap past which a missing stop signal is
	// treated as an implicit end-of-stream.
	LongGapThreshold time.Duration
	// SafetyCheckInterval is how often the safety sweep runs.
	SafetyCheckInterval time.Duration
	// SafetyCeiling force-finalizes any session still playing or pending
	// this long after it started, whatever the signal state.
	SafetyCeiling time.Duration
	// EventBuffer sizes the event queue.
	EventBuffer int
	// Now is injectable for deterministic tests.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.Format.SampleRate == 0 {
		c.Format = entities.DefaultAudioFormat
	}
	if c.GraceDelay <= 0 {
		c.GraceDelay = 250 * time.Millisecond
	}
	if c.ShortGapThreshold <= 0 {
		c.ShortGapThreshold = 400 * time.Millisecond
	}
	if c.LongGapThreshold <= 0 {
		c.LongGapThreshold = 2500 * time.Millisecond
	}
	if c.SafetyCheckInterval <= 0 {
		c.SafetyCheckInterval = 5 * time.Second
	}
	if c.SafetyCeiling <= 0 {
		c.SafetyCeiling = 90 * time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 512
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Engine is the audio stream reconciliation core: it buffers and renders
// chunks strictly in arrival order, resolves inconsistent message ids into
// one canonical session, and reconciles queue state, stop signals and
// timeouts into a single idempotent finalize per session.
//
// All state transitions run on one loop goroutine fed by an event queue;
// EnqueueChunk, SignalStop and ForceFinalize are non-blocking posts.
type Engine struct {
	cfg      Config
	logger   *zap.Logger
	registry *identity.Registry
	queue    *playback.Queue
	renderer repositories.AudioRenderer
	notifier repositories.TeardownNotifier
	diag     *diagnostics.Recorder

	events chan event
	cancel context.CancelFunc
	done   chan struct{}

	// loop-owned state, untouched outside the loop goroutine
	loopCtx      context.Context
	activeID     string
	phase        SessionPhase
	rendering    bool
	currentChunk *entities.AudioChunk
	renderCancel context.CancelFunc
	timerGen     uint64
	timers       map[timerKind]*time.Timer

	finalizedMu sync.RWMutex
	finalized   map[string]time.Time

	snapMu sync.RWMutex
	snap   StateSnapshot

	subsMu      sync.Mutex
	subscribers map[int]func(StateSnapshot)
	nextSubID   int
}

// New creates an engine around the given renderer. notifier may be nil.
func New(cfg Config, renderer repositories.AudioRenderer, notifier repositories.TeardownNotifier, registry *identity.Registry, diag *diagnostics.Recorder, logger *zap.Logger) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		cfg:         cfg,
		logger:      logger,
		registry:    registry,
		queue:       playback.NewQueue(),
		renderer:    renderer,
		notifier:    notifier,
		diag:        diag,
		events:      make(chan event, cfg.EventBuffer),
		done:        make(chan struct{}),
		phase:       PhaseIdle,
		timers:      make(map[timerKind]*time.Timer),
		finalized:   make(map[string]time.Time),
		subscribers: make(map[int]func(StateSnapshot)),
	}
	e.snap = StateSnapshot{Phase: PhaseIdle, Decision: entities.DecisionStillPlaying, UpdatedAt: cfg.Now()}
	return e
}

// Start launches the engine loop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.loopCtx = ctx
	go e.run(ctx)
}

// Stop shuts the loop down, finalizing any active session first.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	<-e.done
}

// EnqueueChunk hands one transport chunk to the engine. Never blocks and
// never returns an error: malformed input surfaces as diagnostics, not as a
// failure to the transport.
func (e *Engine) EnqueueChunk(rawID string, payload []byte, encoding entities.ChunkEncoding) {
	e.post(chunkEvent{rawID: rawID, payload: payload, encoding: encoding})
}

// SignalStop hands an out-of-band stop signal to the engine.
func (e *Engine) SignalStop(rawID string) {
	e.post(stopEvent{rawID: rawID})
}

// ForceFinalize requests an immediate finalize for the session. Used by the
// completion reconciler's confirmation and ceiling paths.
func (e *Engine) ForceFinalize(sessionID string, cause entities.FinalizeCause) {
	e.post(forceFinalizeEvent{sessionID: sessionID, cause: cause})
}

// IsFinalized reports whether the session already took its terminal
// transition.
func (e *Engine) IsFinalized(sessionID string) bool {
	e.finalizedMu.RLock()
	defer e.finalizedMu.RUnlock()
	_, ok := e.finalized[sessionID]
	return ok
}

// Snapshot returns the latest published state.
func (e *Engine) Snapshot() StateSnapshot {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.snap
}

// Subscribe registers a state-change callback and returns an id for
// Unsubscribe. Callbacks run on the engine loop and must not block.
func (e *Engine) Subscribe(fn func(StateSnapshot)) int {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	id := e.nextSubID
	e.nextSubID++
	e.subscribers[id] = fn
	return id
}

// Unsubscribe removes a state-change callback.
func (e *Engine) Unsubscribe(id int) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	delete(e.subscribers, id)
}

func (e *Engine) post(ev event) {
	select {
	case e.events <- ev:
	default:
		// The loop is wedged or flooded; dropping is the degrade-gracefully
		// choice, the safety sweep still bounds the session.
		e.logger.Warn("Engine event queue full, dropping event",
			zap.String("event", fmt.Sprintf("%T", ev)))
	}
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	safety := time.NewTicker(e.cfg.SafetyCheckInterval)
	defer safety.Stop()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case ev := <-e.events:
			e.advance(ev)
		case <-safety.C:
			e.safetySweep()
		}
	}
}

// advance is the single state-transition entry point.
func (e *Engine) advance(ev event) {
	switch ev := ev.(type) {
	case chunkEvent:
		e.handleChunk(ev)
	case stopEvent:
		e.handleStop(ev)
	case renderDoneEvent:
		e.handleRenderDone(ev)
	case timerEvent:
		e.handleTimer(ev)
	case forceFinalizeEvent:
		e.finalize(ev.sessionID, ev.cause)
	}
}

func (e *Engine) handleChunk(ev chunkEvent) {
	canonical := e.registry.Resolve(ev.rawID)

	if e.IsFinalized(canonical) {
		e.logger.Debug("Dropping chunk for finalized session",
			zap.String("sessionID", canonical))
		e.diag.ChunkRejected()
		return
	}

	if e.activeID != "" && canonical != e.activeID {
		if active, ok := e.registry.Session(e.activeID); ok && (active.IsActive() || e.rendering) {
			e.logger.Warn("Rejecting chunk for non-active session",
				zap.String("sessionID", canonical),
				zap.String("activeSessionID", e.activeID))
			e.diag.ChunkRejected()
			return
		}
		// Previous session drained but never finalized; superseding it is
		// the implicit end of its stream.
		e.finalize(e.activeID, entities.FinalizeCauseImplicitGap)
	}

	session, ok := e.registry.Session(canonical)
	if !ok {
		// Resolve guarantees registration; a miss here means the session
		// raced teardown, treat like a finalized session.
		e.diag.ChunkRejected()
		return
	}

	if e.activeID != canonical {
		e.activeID = canonical
		e.logger.Info("Session playback starting",
			zap.String("sessionID", canonical),
			zap.String("rawID", ev.rawID))
	}
	e.phase = PhaseActive
	e.cancelTimers()

	chunk := entities.NewAudioChunk(canonical, session.ExpectedChunks, ev.payload, ev.encoding, e.cfg.Format)
	session.ChunkReceived()
	e.queue.Push(chunk)
	e.diag.ChunkReceived()
	e.publish()

	if !e.rendering {
		e.startNextRender()
	}
}

func (e *Engine) handleStop(ev stopEvent) {
	e.diag.StopSignal()
	canonical := e.registry.Resolve(ev.rawID)
	session, ok := e.registry.Session(canonical)
	if !ok {
		e.logger.Warn("Stop signal raced session teardown", zap.String("rawID", ev.rawID))
		return
	}
	session.StopReceived = true

	if canonical != e.activeID {
		// Stale or superseded signal. The resolver already delegated to the
		// active session when one existed; a distinct inactive session just
		// gets its fallback finalize so the signal is never dropped.
		e.logger.Info("Stop signal for non-active session, finalizing it",
			zap.String("sessionID", canonical),
			zap.String("rawID", ev.rawID))
		e.finalize(canonical, entities.FinalizeCauseStopSignal)
		return
	}

	if e.queue.IsDrained() && !e.rendering {
		e.phase = PhaseDraining
		e.scheduleTimer(timerGrace, e.cfg.GraceDelay)
		e.logger.Debug("Stop signal with drained queue, grace delay armed",
			zap.String("sessionID", canonical))
	} else {
		// Chunks remain: deliver everything that was sent. Premature cutoff
		// is the exact failure this engine exists to prevent.
		e.logger.Info("Stop signal received, continuing until queue drains",
			zap.String("sessionID", canonical),
			zap.Int("queued", e.queue.Len()),
			zap.Int("pending", e.queue.PendingLen()))
	}
	e.publish()
}

func (e *Engine) handleRenderDone(ev renderDoneEvent) {
	if e.currentChunk == nil || e.currentChunk.ID() != ev.chunkID {
		// Stale completion from a render cancelled by finalize.
		e.logger.Debug("Ignoring stale render completion",
			zap.String("sessionID", ev.chunkID.SessionID),
			zap.Int("sequence", ev.chunkID.Sequence))
		return
	}

	chunk := e.currentChunk
	e.currentChunk = nil
	e.rendering = false
	if e.renderCancel != nil {
		e.renderCancel()
		e.renderCancel = nil
	}
	e.queue.ClearPending(ev.chunkID)

	if session, ok := e.registry.Session(chunk.SessionID); ok {
		session.ChunkFinished()
	}

	if ev.err != nil {
		chunk.MarkError()
		e.diag.RenderError()
		e.diag.ChunkSkipped()
		e.logger.Warn("Render failed, skipping chunk",
			zap.String("sessionID", chunk.SessionID),
			zap.Int("sequence", chunk.Sequence),
			zap.Error(ev.err))
	} else {
		chunk.MarkCompleted()
		e.diag.ChunkCompleted()
	}

	e.publish()
	e.startNextRender()
}

// startNextRender pops chunks until one decodes, dispatches it, or runs the
// empty-queue completion policy. A single bad chunk never stalls the queue.
func (e *Engine) startNextRender() {
	for {
		chunk, ok := e.queue.Pop()
		if !ok {
			e.onQueueEmpty()
			return
		}

		pcm, err := decodePayload(chunk)
		if err != nil {
			chunk.MarkError()
			if session, sok := e.registry.Session(chunk.SessionID); sok {
				session.ChunkFinished()
			}
			e.diag.DecodeError()
			e.diag.ChunkSkipped()
			e.logger.Warn("Skipping undecodable chunk",
				zap.String("sessionID", chunk.SessionID),
				zap.Int("sequence", chunk.Sequence),
				zap.Error(err))
			continue
		}

		chunk.MarkPlaying()
		e.queue.MarkPending(chunk.ID())
		if session, sok := e.registry.Session(chunk.SessionID); sok {
			session.IsPlaying = true
		}
		e.rendering = true
		e.currentChunk = chunk

		ctx, cancel := context.WithCancel(e.loopCtx)
		e.renderCancel = cancel
		e.publish()

		go func(id entities.ChunkID, pcm []byte) {
			err := e.renderer.Render(ctx, pcm)
			e.post(renderDoneEvent{chunkID: id, err: err})
		}(chunk.ID(), pcm)
		return
	}
}

// onQueueEmpty applies the completion policy once nothing is queued.
func (e *Engine) onQueueEmpty() {
	session, ok := e.registry.Session(e.activeID)
	if !ok {
		e.phase = PhaseIdle
		e.publish()
		return
	}
	session.IsPlaying = false

	if !e.queue.IsDrained() {
		e.publish()
		return
	}

	if session.StopReceived {
		e.phase = PhaseDraining
		e.scheduleTimer(timerGrace, e.cfg.GraceDelay)
	} else {
		// No stop signal yet: a short gap is a natural pause, so only the
		// phase change is armed here; the long-gap timer decides implicit
		// end-of-stream.
		e.scheduleTimer(timerShortGap, e.cfg.ShortGapThreshold)
	}
	e.publish()
}

func (e *Engine) handleTimer(ev timerEvent) {
	if ev.gen != e.timerGen {
		return // cancelled and replaced, stale fire
	}

	switch ev.kind {
	case timerGrace:
		if e.activeID == "" || !e.queue.IsDrained() || e.rendering {
			return
		}
		e.finalize(e.activeID, entities.FinalizeCauseStopSignal)
	case timerShortGap:
		if e.activeID == "" || !e.queue.IsDrained() || e.rendering {
			return
		}
		e.phase = PhaseDraining
		e.publish()
		remaining := e.cfg.LongGapThreshold - e.cfg.ShortGapThreshold
		if remaining <= 0 {
			remaining = time.Millisecond
		}
		e.scheduleTimer(timerLongGap, remaining)
	case timerLongGap:
		if e.activeID == "" || !e.queue.IsDrained() || e.rendering {
			return
		}
		e.logger.Info("Idle gap exceeded threshold, treating as end-of-stream",
			zap.String("sessionID", e.activeID),
			zap.Duration("threshold", e.cfg.LongGapThreshold))
		e.finalize(e.activeID, entities.FinalizeCauseImplicitGap)
	}
}

// scheduleTimer arms a timer under a fresh generation; any previously armed
// timer becomes stale. Timers are always cancelled and replaced, never left
// to fire against a newer session.
func (e *Engine) scheduleTimer(kind timerKind, d time.Duration) {
	e.timerGen++
	gen := e.timerGen
	if t, ok := e.timers[kind]; ok {
		t.Stop()
	}
	e.timers[kind] = time.AfterFunc(d, func() {
		e.post(timerEvent{kind: kind, gen: gen})
	})
}

func (e *Engine) cancelTimers() {
	e.timerGen++
	for kind, t := range e.timers {
		t.Stop()
		delete(e.timers, kind)
	}
}

// safetySweep force-finalizes a session stuck playing or pending past the
// hard ceiling, bounding worst-case hang time.
func (e *Engine) safetySweep() {
	now := e.cfg.Now()

	if e.activeID != "" {
		if session, ok := e.registry.Session(e.activeID); ok {
			age := now.Sub(session.CreatedAt)
			if age > e.cfg.SafetyCeiling && (session.IsActive() || e.rendering || !e.queue.IsDrained()) {
				e.logger.Warn("Safety ceiling exceeded, force finalizing",
					zap.String("sessionID", e.activeID),
					zap.Duration("age", age))
				e.finalize(e.activeID, entities.FinalizeCauseSafetyTimeout)
			}
		}
	}

	// Keep the idempotency guard from growing forever.
	e.finalizedMu.Lock()
	for id, at := range e.finalized {
		if now.Sub(at) > 10*time.Minute {
			delete(e.finalized, id)
		}
	}
	e.finalizedMu.Unlock()
}

// finalize runs the one-shot terminal transition. Multiple triggers may race
// here (grace timer, stop fallback, safety sweep, reconciler ceiling); the
// guard ensures the side effects execute at most once per session.
func (e *Engine) finalize(sessionID string, cause entities.FinalizeCause) {
	if sessionID == "" {
		return
	}
	e.finalizedMu.Lock()
	if _, done := e.finalized[sessionID]; done {
		e.finalizedMu.Unlock()
		return
	}
	e.finalized[sessionID] = e.cfg.Now()
	e.finalizedMu.Unlock()

	interrupted := false
	if sessionID == e.activeID {
		e.cancelTimers()
		if e.renderCancel != nil {
			e.renderCancel()
			e.renderCancel = nil
			interrupted = true
		}
		e.rendering = false
		e.currentChunk = nil
		if discarded := e.queue.Clear(); discarded > 0 {
			e.logger.Warn("Discarding queued chunks on finalize",
				zap.String("sessionID", sessionID),
				zap.Int("discarded", discarded))
			interrupted = true
		}
		if interrupted {
			e.renderer.Flush()
		}
	}

	chunks := 0
	startedAt := e.cfg.Now()
	if session, ok := e.registry.Session(sessionID); ok {
		session.IsPlaying = false
		session.RemainingChunks = 0
		chunks = session.ExpectedChunks
		startedAt = session.CreatedAt
	}

	e.diag.SessionFinalized(diagnostics.SessionTiming{
		SessionID:  sessionID,
		Chunks:     chunks,
		StartedAt:  startedAt,
		FinishedAt: e.cfg.Now(),
		Cause:      cause,
	})

	if sessionID == e.activeID {
		e.phase = PhaseFinalized
		e.publishFinalized(sessionID)
		e.activeID = ""
		e.phase = PhaseIdle
	} else {
		e.publish()
	}

	e.logger.Info("Session finalized",
		zap.String("sessionID", sessionID),
		zap.String("cause", string(cause)),
		zap.Int("chunks", chunks))

	if e.notifier != nil {
		go e.notifier.PlaybackFinished(sessionID, entities.DecisionFinalized)
	}
	e.registry.Remove(sessionID)
}

// shutdown finalizes whatever is active before the loop exits.
func (e *Engine) shutdown() {
	if e.activeID != "" {
		e.finalize(e.activeID, entities.FinalizeCauseShutdown)
	}
	e.cancelTimers()
}

// decodePayload turns the received payload into a renderable PCM buffer.
func decodePayload(chunk *entities.AudioChunk) ([]byte, error) {
	pcm := chunk.Payload
	if chunk.Encoding == entities.ChunkEncodingBase64 {
		decoded, err := base64.StdEncoding.DecodeString(string(chunk.Payload))
		if err != nil {
			return nil, fmt.Errorf("decode base64 payload: %w", err)
		}
		pcm = decoded
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("truncated payload: %d bytes is not sample aligned", len(pcm))
	}
	return pcm, nil
}

func (e *Engine) publish() {
	snap := StateSnapshot{
		SessionID:    e.activeID,
		Phase:        e.phase,
		QueueLength:  e.queue.Len(),
		PendingCount: e.queue.PendingLen(),
		IsPlaying:    e.rendering,
		UpdatedAt:    e.cfg.Now(),
		Decision:     entities.DecisionStillPlaying,
	}
	if session, ok := e.registry.Session(e.activeID); ok {
		snap.StopReceived = session.StopReceived
		if session.StopReceived && (e.rendering || e.queue.Len() > 0 || e.queue.PendingLen() > 0) {
			snap.Decision = entities.DecisionContinuingDespiteStop
		}
	}
	e.store(snap)
}

func (e *Engine) publishFinalized(sessionID string) {
	snap := StateSnapshot{
		SessionID: sessionID,
		Phase:     PhaseFinalized,
		Decision:  entities.DecisionFinalized,
		UpdatedAt: e.cfg.Now(),
	}
	if session, ok := e.registry.Session(sessionID); ok {
		snap.StopReceived = session.StopReceived
	}
	e.store(snap)
}

func (e *Engine) store(snap StateSnapshot) {
	e.snapMu.Lock()
	e.snap = snap
	e.snapMu.Unlock()

	e.subsMu.Lock()
	subs := make([]func(StateSnapshot), 0, len(e.subscribers))
	for _, fn := range e.subscribers {
		subs = append(subs, fn)
	}
	e.subsMu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}
