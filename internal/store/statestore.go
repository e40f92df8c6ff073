package store

import (
	"context"

	"github.com/super-agent/runtime/pkg/types"
)

// StateStore persists autonomous SessionState records under
// `workspace/<id>/state.json`, and implements orchestrator.Store.
type StateStore struct {
	raw *Storage
}

// NewStateStore creates a StateStore rooted at basePath.
func NewStateStore(basePath string) *StateStore {
	return &StateStore{raw: New(basePath)}
}

func statePath(sessionID string) []string {
	return []string{"workspace", sessionID, "state"}
}

// Load returns the zero-value SessionState if none exists yet, matching
// orchestrator.go's Load-or-create-on-first-save usage pattern.
func (s *StateStore) Load(sessionID string) (types.SessionState, error) {
	var state types.SessionState
	err := s.raw.Get(context.Background(), statePath(sessionID), &state)
	if err == ErrNotFound {
		return types.SessionState{SessionID: sessionID}, nil
	}
	return state, err
}

// Save persists a SessionState.
func (s *StateStore) Save(state types.SessionState) error {
	return s.raw.Put(context.Background(), statePath(state.SessionID), state)
}
