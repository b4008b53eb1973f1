// ABOUTME: Session registry tracking live MCP sessions and their engines
// ABOUTME: Sessions are created per client, touched on access, and evicted when idle

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/systempromptio/mcp-gateway/internal/engine"
)

// ErrNotFound is returned when a session id is unknown or already evicted.
var ErrNotFound = errors.New("session not found")

// Session is one live MCP client session. It owns a protocol engine and
// serializes request handling so each session processes one message at a time.
type Session struct {
	ID        string
	ContextID string
	CreatedAt time.Time

	engine *engine.Engine
	clock  clockwork.Clock

	// handleMu serializes request handling only. lastAccessed lives under
	// its own mutex so idle checks never wait behind an in-flight call.
	handleMu sync.Mutex

	mu           sync.Mutex
	lastAccessed time.Time
}

// Handle runs one request through the session's engine. Calls on the same
// session are serialized; concurrent requests queue behind each other.
func (s *Session) Handle(ctx context.Context, req engine.Request) *engine.Response {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()
	s.touch(s.clock.Now())
	return s.engine.Handle(ctx, req)
}

// LastAccessed returns when the session last handled a request.
func (s *Session) LastAccessed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccessed
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastAccessed = now
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastAccessed)
}

// EngineFactory builds the protocol engine for a new session.
type EngineFactory func(sessionID, contextID string) *engine.Engine

// Registry manages the set of live sessions (in-memory).
type Registry struct {
	factory EngineFactory
	clock   clockwork.Clock
	logger  *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// RegistryConfig carries Registry dependencies.
type RegistryConfig struct {
	Factory EngineFactory
	Clock   clockwork.Clock
	Logger  *slog.Logger
}

func NewRegistry(cfg RegistryConfig) *Registry {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		factory:  cfg.Factory,
		clock:    clock,
		logger:   logger.With("component", "session"),
		sessions: make(map[string]*Session),
	}
}

// Create allocates a new session bound to the given capability context.
func (r *Registry) Create(contextID string) *Session {
	now := r.clock.Now()
	sess := &Session{
		ID:           uuid.New().String(),
		ContextID:    contextID,
		CreatedAt:    now,
		lastAccessed: now,
		clock:        r.clock,
	}
	sess.engine = r.factory(sess.ID, contextID)

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.mu.Unlock()

	r.logger.Info("session created", "session_id", sess.ID, "context_id", contextID)
	return sess
}

// Get returns the session and refreshes its idle clock.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	sess.touch(r.clock.Now())
	return sess, nil
}

// Evict removes a session and closes its engine. Evicting an unknown or
// already-evicted session is a no-op.
func (r *Registry) Evict(id string) bool {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return false
	}
	sess.engine.Close()
	r.logger.Info("session evicted", "session_id", id)
	return true
}

// Sweep evicts every session idle longer than idleTimeout and returns how
// many were removed.
func (r *Registry) Sweep(idleTimeout time.Duration) int {
	now := r.clock.Now()

	r.mu.Lock()
	var expired []*Session
	for id, sess := range r.sessions {
		if sess.idleSince(now) > idleTimeout {
			expired = append(expired, sess)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, sess := range expired {
		sess.engine.Close()
	}

	if len(expired) > 0 {
		r.logger.Info("swept idle sessions", "count", len(expired))
	}
	return len(expired)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ShutdownAll evicts every session. Used during gateway shutdown.
func (r *Registry) ShutdownAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.engine.Close()
	}
	if len(sessions) > 0 {
		r.logger.Info("all sessions closed", "count", len(sessions))
	}
}
