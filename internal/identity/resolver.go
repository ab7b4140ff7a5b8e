package identity

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mahesa/swara/domain/entities"
)

// Registry resolves the inconsistent message identifiers a transport emits
// (numeric, numeric-as-string, namespace-prefixed) into one canonical session
// identity, and owns the live MessageSession records.
//
// Resolve never fails: the lookup chain is exhaustive and ends by
// synthesizing a fresh canonical id, because an unresolvable stop signal must
// still be actionable.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entities.MessageSession
	aliases  map[string]string // observed raw id -> canonical id
	newID    func() string
	onAlias  func()
	logger   *zap.Logger
}

// NewRegistry creates an empty session registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*entities.MessageSession),
		aliases:  make(map[string]string),
		newID:    func() string { return "msg-" + uuid.NewString() },
		logger:   logger,
	}
}

// SetAliasObserver registers a callback invoked whenever a new alias is
// recorded for an existing session. Must be set before concurrent use.
func (r *Registry) SetAliasObserver(fn func()) {
	r.onAlias = fn
}

// Resolve maps any raw identifier to a canonical session id, creating the
// session when the id has never been seen in any form. Newly discovered
// aliases are recorded on the session for O(1) lookup next time.
func (r *Registry) Resolve(rawID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveLocked(rawID)
}

// ResolveSession resolves rawID and returns the backing session.
func (r *Registry) ResolveSession(rawID string) *entities.MessageSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[r.resolveLocked(rawID)]
}

func (r *Registry) resolveLocked(rawID string) string {
	// An empty raw id carries no identity to match on. Give it an isolated
	// session instead of letting it alias onto whatever happens to be active.
	if rawID == "" {
		canonical := r.newID()
		r.sessions[canonical] = entities.NewMessageSession(canonical)
		r.aliases[canonical] = canonical
		r.logger.Warn("Empty raw id, synthesized isolated session",
			zap.String("sessionID", canonical))
		return canonical
	}

	// 1. Already canonical.
	if _, ok := r.sessions[rawID]; ok {
		return rawID
	}

	// 2. Known alias.
	if canonical, ok := r.aliases[rawID]; ok {
		return canonical
	}

	// 3. Partial match against stored alias sets. Transports strip or add a
	// namespace prefix between the chunk stream and the stop signal, so a raw
	// "ns-7" must find the session registered under "7" and vice versa.
	if canonical, ok := r.partialMatchLocked(rawID); ok {
		r.recordAliasLocked(canonical, rawID)
		r.notifyAlias()
		return canonical
	}

	// 4. Exactly one session active: attribute the id to it. This keeps stop
	// signals actionable when the transport relabels an in-flight response.
	if active, ok := r.soleActiveLocked(); ok {
		r.logger.Debug("Resolved unknown id to sole active session",
			zap.String("rawID", rawID),
			zap.String("sessionID", active.ID))
		r.recordAliasLocked(active.ID, rawID)
		r.notifyAlias()
		return active.ID
	}

	// 5. Never seen in any form: synthesize a canonical id.
	canonical := r.newID()
	session := entities.NewMessageSession(canonical)
	r.sessions[canonical] = session
	r.aliases[canonical] = canonical
	r.recordAliasLocked(canonical, rawID)
	r.logger.Info("Registered new message session",
		zap.String("sessionID", canonical),
		zap.String("rawID", rawID))
	return canonical
}

func (r *Registry) partialMatchLocked(rawID string) (string, bool) {
	trimmed := trimNamespace(rawID)
	for canonical, session := range r.sessions {
		for _, alias := range session.Aliases {
			if alias == trimmed || trimNamespace(alias) == rawID || trimNamespace(alias) == trimmed {
				return canonical, true
			}
			// Substring fallback for longer ids only; single-digit cores
			// would match far too eagerly.
			if len(trimmed) >= 4 && (strings.Contains(alias, trimmed) || strings.Contains(trimmed, alias)) {
				return canonical, true
			}
		}
	}
	return "", false
}

func (r *Registry) soleActiveLocked() (*entities.MessageSession, bool) {
	var active *entities.MessageSession
	for _, session := range r.sessions {
		if session.IsActive() {
			if active != nil {
				return nil, false
			}
			active = session
		}
	}
	return active, active != nil
}

func (r *Registry) recordAliasLocked(canonical, rawID string) {
	session, ok := r.sessions[canonical]
	if !ok {
		return
	}
	if !session.HasAlias(rawID) {
		session.AddAlias(rawID)
		r.logger.Debug("Recorded session alias",
			zap.String("sessionID", canonical),
			zap.String("alias", rawID))
	}
	r.aliases[rawID] = canonical
}

func (r *Registry) notifyAlias() {
	if r.onAlias != nil {
		r.onAlias()
	}
}

// Session returns the session for a canonical id.
func (r *Registry) Session(canonicalID string) (*entities.MessageSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[canonicalID]
	return session, ok
}

// HasActiveMessages reports whether any session is still playing or holding
// chunks.
func (r *Registry) HasActiveMessages() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.soleActiveLocked()
	if ok {
		return true
	}
	// soleActiveLocked reports false for "more than one active" too; scan
	// plainly so the invariant being violated upstream still reads as active.
	for _, session := range r.sessions {
		if session.IsActive() {
			return true
		}
	}
	return false
}

// Remove drops a session and every alias pointing at it. Called only from
// session teardown after finalize.
func (r *Registry) Remove(canonicalID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[canonicalID]
	if !ok {
		return
	}
	for _, alias := range session.Aliases {
		delete(r.aliases, alias)
	}
	delete(r.aliases, canonicalID)
	delete(r.sessions, canonicalID)
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// trimNamespace strips a "ns-" style prefix, keeping the trailing core id.
func trimNamespace(id string) string {
	if i := strings.LastIndexByte(id, '-'); i >= 0 && i+1 < len(id) {
		return id[i+1:]
	}
	return id
}
