// Package interaction implements the suspend/resume mechanism that lets an
// in-flight LLM turn ask the end user a clarifying question, or ask for
// permission to run a tool, and wait for an out-of-band reply.
//
// The rendezvous is a pending map keyed by request id, each entry holding
// a single-shot response channel, shared by the two request kinds the
// runtime needs.
package interaction

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/super-agent/runtime/internal/logging"
)

// Kind distinguishes the two suspension shapes the gate correlates.
type Kind string

const (
	KindAskUser    Kind = "ask-user"
	KindPermission Kind = "permission"
)

// Default deadlines. The ask-user deadline must stay strictly
// below any upstream LLM-side timeout so the core observes its own timeout
// first.
const (
	DefaultAskUserDeadline    = 55 * time.Second
	DefaultPermissionDeadline = 120 * time.Second
)

// ReplyStatus describes how a Request was resolved.
type ReplyStatus string

const (
	StatusAnswered ReplyStatus = "answered"
	StatusApproved ReplyStatus = "approved"
	StatusDenied   ReplyStatus = "denied"
	StatusTimeout  ReplyStatus = "timeout"
	StatusSkipped  ReplyStatus = "skipped"
)

// AskUserPayload is the payload carried by a KindAskUser request.
type AskUserPayload struct {
	Questions []string `json:"questions"`
}

// PermissionPayload is the payload carried by a KindPermission request.
type PermissionPayload struct {
	ToolName string `json:"toolName"`
	Input    any    `json:"input"`
}

// RequestEvent is the payload cached for an emitted `ask_user` or
// `permission_request` event, so a reconnecting client re-sees the prompt
// and can correlate its reply by request id.
type RequestEvent struct {
	RequestID string `json:"requestId"`
	Kind      Kind   `json:"kind"`
	Payload   any    `json:"payload"`
	Deadline  int64  `json:"deadline"`
}

// ResultEvent is the payload cached for the `ask_user_result` event that
// records how a request resolved: answered, approved, denied, timeout, or
// skipped.
type ResultEvent struct {
	RequestID string      `json:"requestId"`
	Status    ReplyStatus `json:"status"`
	Answers   []string    `json:"answers,omitempty"`
	Approved  bool        `json:"approved,omitempty"`
}

// Reply is what the requester receives once a Request resolves, on any
// exit path (explicit response, deadline, or cancellation).
type Reply struct {
	Status  ReplyStatus `json:"status"`
	Answers []string    `json:"answers,omitempty"`
	// Approved is only meaningful for KindPermission requests.
	Approved bool `json:"approved,omitempty"`
}

// request is the gate's internal bookkeeping for one pending suspension.
type request struct {
	id       string
	kind     Kind
	deadline time.Time
	replyCh  chan Reply
	once     sync.Once
}

func (r *request) resolve(reply Reply) {
	r.once.Do(func() {
		r.replyCh <- reply
	})
}

// EventSink is implemented by whatever owns the session's EventBuffer. The
// gate uses it to record the emitted request and its eventual resolution so
// a reconnecting client re-sees the prompt even if it was offline during
// emission.
type EventSink interface {
	Append(sessionID string, eventType string, payload any)
}

// Gate correlates outbound ask-user / permission-request suspensions with
// inbound replies.
type Gate struct {
	mu       sync.Mutex
	pending  map[string]*request
	askTTL   time.Duration
	permTTL  time.Duration
	sink     EventSink
	sessions map[string]string // requestID -> sessionID, for event caching
}

// Config holds the gate's configurable deadlines.
type Config struct {
	AskUserDeadline    time.Duration
	PermissionDeadline time.Duration
}

// DefaultConfig returns the default deadlines.
func DefaultConfig() Config {
	return Config{
		AskUserDeadline:    DefaultAskUserDeadline,
		PermissionDeadline: DefaultPermissionDeadline,
	}
}

// New creates a Gate. sink may be nil in tests that don't care about event
// caching.
func New(cfg Config, sink EventSink) *Gate {
	if cfg.AskUserDeadline <= 0 {
		cfg.AskUserDeadline = DefaultAskUserDeadline
	}
	if cfg.PermissionDeadline <= 0 {
		cfg.PermissionDeadline = DefaultPermissionDeadline
	}
	return &Gate{
		pending:  make(map[string]*request),
		askTTL:   cfg.AskUserDeadline,
		permTTL:  cfg.PermissionDeadline,
		sink:     sink,
		sessions: make(map[string]string),
	}
}

// ErrCancelled names a request cancellation. Request itself never returns
// it: a request resolved by Cancel yields a Reply with StatusSkipped.
var ErrCancelled = errors.New("interaction: request cancelled")

// Request registers a new suspension, emits the corresponding event through
// the caller-supplied emit function, and blocks until Respond is called,
// the deadline elapses, or ctx is cancelled. The registration is always
// cleaned up on exit.
func (g *Gate) Request(ctx context.Context, sessionID string, kind Kind, payload any, emit func(requestID string)) Reply {
	id := ulid.Make().String()
	deadline := g.askTTL
	if kind == KindPermission {
		deadline = g.permTTL
	}

	req := &request{
		id:       id,
		kind:     kind,
		deadline: time.Now().Add(deadline),
		replyCh:  make(chan Reply, 1),
	}

	g.mu.Lock()
	g.pending[id] = req
	g.sessions[id] = sessionID
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.pending, id)
		delete(g.sessions, id)
		g.mu.Unlock()
	}()

	if g.sink != nil {
		eventType := "ask_user"
		if kind == KindPermission {
			eventType = "permission_request"
		}
		g.sink.Append(sessionID, eventType, RequestEvent{
			RequestID: id,
			Kind:      kind,
			Payload:   payload,
			Deadline:  req.deadline.UnixMilli(),
		})
	}

	emit(id)

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	var reply Reply
	select {
	case reply = <-req.replyCh:
	case <-timer.C:
		reply = Reply{Status: StatusTimeout}
		logging.Session("interaction", sessionID).Warn().Str("requestID", id).Str("kind", string(kind)).Msg("request timed out")
	case <-ctx.Done():
		reply = Reply{Status: StatusSkipped}
	}

	if g.sink != nil {
		g.sink.Append(sessionID, "ask_user_result", ResultEvent{
			RequestID: id,
			Status:    reply.Status,
			Answers:   reply.Answers,
			Approved:  reply.Approved,
		})
	}
	return reply
}

// Respond delivers a reply to a pending request. A second call for the same
// id, or a call after the request already resolved, is a no-op.
func (g *Gate) Respond(requestID string, reply Reply) bool {
	g.mu.Lock()
	req, ok := g.pending[requestID]
	g.mu.Unlock()
	if !ok {
		return false
	}
	req.resolve(reply)
	return true
}

// Cancel resolves a pending request with the "skipped" sentinel.
func (g *Gate) Cancel(requestID string) bool {
	return g.Respond(requestID, Reply{Status: StatusSkipped})
}

// Pending reports whether a request id is still outstanding.
func (g *Gate) Pending(requestID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[requestID]
	return ok
}
