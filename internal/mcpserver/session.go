// Package mcpserver implements the MCP Session Manager (C7): the JSON-RPC
// session lifecycle, tool/prompt registration, and the two HTTP transports
// from §4.7, built on mark3labs/mcp-go.
package mcpserver

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/federated-memory/federated-memory/internal/security"
)

// sessionState mirrors §4.7's New → Initialized → Active → Closed lifecycle.
type sessionState int

const (
	stateNew sessionState = iota
	stateInitialized
	stateActive
	stateClosed
)

// session is one tracked MCP connection. The mcp-go server owns the actual
// JSON-RPC dispatch and per-session serialization; session only tracks the
// state this package needs for idle-timeout sweeping and tool gating.
type session struct {
	id         string
	user       *security.UserContext
	state      sessionState
	lastActive time.Time
	ctx        context.Context
	cancel     context.CancelFunc
}

// SessionManager tracks live sessions for idle-timeout enforcement and the
// ActiveSessions gauge (§4.7 "session table").
type SessionManager struct {
	mu           sync.Mutex
	sessions     map[string]*session
	idleTimeout  time.Duration
}

func NewSessionManager(idleTimeout time.Duration) *SessionManager {
	return &SessionManager{sessions: map[string]*session{}, idleTimeout: idleTimeout}
}

// Open registers a session under id (the mcp-go transport's own session id)
// in the New state. The returned context is cancelled when the session
// Closes, so in-flight tool invocations can be tied to it.
func (m *SessionManager) Open(id string, user *security.UserContext) context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	m.sessions[id] = &session{id: id, user: user, state: stateNew, lastActive: time.Now(), ctx: ctx, cancel: cancel}
	security.ActiveSessions.Inc()
	return ctx
}

// Context returns the cancellable context tied to id's lifetime, or false
// if the session is unknown (e.g. already closed).
func (m *SessionManager) Context(id string) (context.Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return s.ctx, true
}

// Touch marks a session active and bumps its last-activity clock, advancing
// New → Initialized → Active on the first two calls.
func (m *SessionManager) Touch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	s.lastActive = time.Now()
	if s.state < stateActive {
		s.state++
	}
}

// User returns the session's authenticated identity, or nil.
func (m *SessionManager) User(id string) *security.UserContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	return s.user
}

// Close transitions a session to Closed, cancelling any in-flight tool
// invocation cooperatively (§4.7 "Closed cancels in-flight invocation").
func (m *SessionManager) Close(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	s.state = stateClosed
	s.cancel()
	security.ActiveSessions.Dec()
}

// SweepIdle runs until ctx is cancelled, closing sessions idle longer than
// idleTimeout once per interval.
func (m *SessionManager) SweepIdle(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.closeIdle()
		}
	}
}

func (m *SessionManager) closeIdle() {
	m.mu.Lock()
	var expired []string
	now := time.Now()
	for id, s := range m.sessions {
		if now.Sub(s.lastActive) > m.idleTimeout {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()
	for _, id := range expired {
		log.Info("mcpserver: closing idle session", "sessionId", id)
		m.Close(id)
	}
}
