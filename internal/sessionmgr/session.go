// Package sessionmgr implements the SessionManager: an in-memory cache of
// live LLM-client sessions, reused across turns while endpoint and model
// stay stable and recreated (carrying the stored resume token forward)
// when they change. A periodic sweep closes sessions that have gone idle.
package sessionmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/super-agent/runtime/internal/interaction"
	"github.com/super-agent/runtime/internal/logging"
	"github.com/super-agent/runtime/internal/provider"
	"github.com/super-agent/runtime/internal/store"
	"github.com/super-agent/runtime/internal/toolspec"
	"github.com/super-agent/runtime/pkg/types"
)

// ClientChannel is a session's current path back to the user: suspension
// prompts raised mid-turn (ask-user questions, permission requests) are
// pushed through it in addition to being cached on the EventBuffer.
// Rebound on every GetOrCreate; nil when no client is attached.
type ClientChannel func(eventType string, payload any)

// ManagedSession is a live LLM-client session cached across turns. It is
// bound to one session id and carries the per-session configuration
// (endpoint, model, permission mode, working directory, tool allow/deny
// lists, turn bound) the next Stream call runs under.
type ManagedSession struct {
	SessionID   string
	Config      types.SessionConfig
	ResumeToken string
	CreatedAt   int64
	LastActive  int64

	mu      sync.Mutex
	client  provider.Provider
	channel ClientChannel
	started bool

	cancel context.CancelFunc
}

func (m *ManagedSession) touch() {
	m.mu.Lock()
	m.LastActive = time.Now().UnixMilli()
	m.mu.Unlock()
}

// HasStarted reports whether the underlying LLM client has run a turn.
func (m *ManagedSession) HasStarted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// push sends an event through the current client channel, if one is bound.
func (m *ManagedSession) push(eventType string, payload any) {
	m.mu.Lock()
	ch := m.channel
	m.mu.Unlock()
	if ch != nil {
		ch(eventType, payload)
	}
}

// Manager is the SessionManager: owns every ManagedSession exclusively,
// destroying them on config change, idle timeout, or session deletion.
type Manager struct {
	sessions  *store.SessionStore
	gate      *interaction.Gate
	providers *provider.Registry
	tools     ToolDispatcher

	idleTimeout time.Duration

	mu      sync.Mutex
	managed map[string]*ManagedSession
}

// ToolDispatcher forwards a tool call to whatever external tool-protocol
// server advertised it.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, sessionID string, call toolspec.Call) (toolspec.CallResult, error)
}

// New creates a Manager. idleTimeout is the cleanup loop's threshold
// (default 300s).
func New(sessions *store.SessionStore, gate *interaction.Gate, providers *provider.Registry, tools ToolDispatcher, idleTimeout time.Duration) *Manager {
	return &Manager{
		sessions:    sessions,
		gate:        gate,
		providers:   providers,
		tools:       tools,
		idleTimeout: idleTimeout,
		managed:     make(map[string]*ManagedSession),
	}
}

// IsRunning reports whether a session currently has a live managed entry.
func (m *Manager) IsRunning(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.managed[sessionID]
	return ok
}

// GetOrCreate returns the cached ManagedSession when cfg's endpoint AND
// model are unchanged from its cached entry, rebinding the client channel
// and remembering the rest of cfg (permission mode, working directory,
// tool lists) for the next turn; any other combination closes the old
// session and creates a fresh one carrying the stored resume token.
func (m *Manager) GetOrCreate(sessionID string, cfg types.SessionConfig, channel ClientChannel, resumeToken string) (*ManagedSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.managed[sessionID]; ok {
		if existing.Config.Endpoint == cfg.Endpoint && existing.Config.Model == cfg.Model {
			existing.mu.Lock()
			existing.Config = cfg
			existing.channel = channel
			existing.LastActive = time.Now().UnixMilli()
			existing.mu.Unlock()
			return existing, nil
		}
		m.closeLocked(sessionID)
	}

	p, err := m.providers.Get(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("sessionmgr: no provider for endpoint %q: %w", cfg.Endpoint, err)
	}

	ms := &ManagedSession{
		SessionID:   sessionID,
		Config:      cfg,
		ResumeToken: resumeToken,
		CreatedAt:   time.Now().UnixMilli(),
		LastActive:  time.Now().UnixMilli(),
		client:      p,
		channel:     channel,
	}
	m.managed[sessionID] = ms
	return ms, nil
}

// Interrupt implements taskrunner.Interruptible: cancel the ManagedSession's
// in-flight stream if one is running, the native interrupt TaskRunner
// prefers before its plain context-cancellation fallback. A session whose
// client never started has nothing to interrupt.
func (m *Manager) Interrupt(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.managed[sessionID]
	if !ok || !ms.started || ms.cancel == nil {
		return false
	}
	ms.cancel()
	ms.cancel = nil
	return true
}

// Close destroys a session's ManagedSession unconditionally; session
// deletion calls it regardless of idle age or config.
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked(sessionID)
}

func (m *Manager) closeLocked(sessionID string) {
	if ms, ok := m.managed[sessionID]; ok {
		if ms.cancel != nil {
			ms.cancel()
		}
		delete(m.managed, sessionID)
	}
}

// StartCleanupSweep runs the periodic idle-session sweep until ctx is
// cancelled. running reports whether a session id
// has a TaskExecution in flight; such sessions are never closed regardless
// of idle age.
func (m *Manager) StartCleanupSweep(ctx context.Context, interval time.Duration, running func(sessionID string) bool) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep(running)
			}
		}
	}()
}

func (m *Manager) sweep(running func(sessionID string) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UnixMilli()
	for id, ms := range m.managed {
		ms.mu.Lock()
		age := now - ms.LastActive
		ms.mu.Unlock()

		if time.Duration(age)*time.Millisecond < m.idleTimeout {
			continue
		}
		if running != nil && running(id) {
			continue
		}
		logging.Session("sessionmgr", id).Info().Msg("closing idle managed session")
		m.closeLocked(id)
	}
}
