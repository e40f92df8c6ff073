package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/super-agent/runtime/internal/logging"
	"github.com/super-agent/runtime/pkg/types"
)

// ErrNotFoundSession is returned by Load when a session id has no file.
var ErrNotFoundSession = ErrNotFound

// SessionStore provides create/load/list/update/delete for sessions, with
// AppendMessage as the sole transcript mutator. One file per session under
// `sessions/<id>.json`, written with the storage primitive's atomic
// rename-after-write.
type SessionStore struct {
	raw *Storage
}

// NewSessionStore wraps a Storage rooted at the runtime's data directory.
func NewSessionStore(basePath string) *SessionStore {
	return &SessionStore{raw: New(basePath)}
}

func sessionPath(id string) []string { return []string{"sessions", id} }

// Create persists a brand-new session.
func (s *SessionStore) Create(ctx context.Context, session types.Session) error {
	return s.raw.Put(ctx, sessionPath(session.ID), session)
}

// Load returns the full session including its transcript, or
// ErrNotFoundSession if the id is unknown.
func (s *SessionStore) Load(ctx context.Context, id string) (types.Session, error) {
	var session types.Session
	err := s.raw.Get(ctx, sessionPath(id), &session)
	if errors.Is(err, ErrNotFound) {
		return types.Session{}, ErrNotFoundSession
	}
	return session, err
}

// List returns metadata summaries for every session, sorted by
// updated-timestamp descending, never including transcripts. A corrupt
// file is logged and skipped rather than aborting the whole listing.
func (s *SessionStore) List(ctx context.Context) ([]types.Summary, error) {
	ids, err := s.raw.List(ctx, []string{"sessions"})
	if err != nil {
		return nil, err
	}

	summaries := make([]types.Summary, 0, len(ids))
	for _, id := range ids {
		session, err := s.Load(ctx, id)
		if err != nil {
			logging.Session("store", id).Warn().Err(err).Msg("skipping malformed session file in list")
			continue
		}
		summaries = append(summaries, session.ToSummary())
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt > summaries[j].UpdatedAt
	})
	return summaries, nil
}

// Update persists a full session object, used for non-transcript mutations
// (title, last-used config snapshot, resume token).
func (s *SessionStore) Update(ctx context.Context, session types.Session) error {
	session.UpdatedAt = max64(session.UpdatedAt, time.Now().UnixMilli())
	return s.raw.Put(ctx, sessionPath(session.ID), session)
}

// Delete removes a session's durable file. Missing files are not an error.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	return s.raw.Delete(ctx, sessionPath(id))
}

// AppendMessage loads, appends, updates the timestamp, and writes back;
// it is the only mutator of the transcript. Title auto-derives from
// the first user message if and only if the title still equals the
// default sentinel.
func (s *SessionStore) AppendMessage(ctx context.Context, id string, msg types.Message) (types.Session, error) {
	session, err := s.Load(ctx, id)
	if err != nil {
		return types.Session{}, err
	}

	session.Messages = append(session.Messages, msg)

	if session.Title == types.DefaultTitle && msg.Role == types.RoleUser {
		session.Title = deriveTitle(msg.Text)
	}

	now := time.Now().UnixMilli()
	if now < session.UpdatedAt {
		now = session.UpdatedAt
	}
	session.UpdatedAt = now

	if err := s.raw.Put(ctx, sessionPath(id), session); err != nil {
		return types.Session{}, err
	}
	return session, nil
}

func deriveTitle(text string) string {
	const maxLen = 60
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "…"
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
