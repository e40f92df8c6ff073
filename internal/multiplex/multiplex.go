// Package multiplex implements the Multiplexer: a single duplex connection
// per client that carries subscribe/unsubscribe/query frames in and event
// frames back out for many sessions at once.
//
// A one-way SSE stream cannot serve this surface: the client pushes frames
// back over the same connection (ask-user answers, permission decisions,
// queries), so github.com/coder/websocket supplies the duplex transport. A
// connection only receives events for sessions it subscribed to.
package multiplex

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/super-agent/runtime/internal/eventbuf"
	"github.com/super-agent/runtime/internal/interaction"
	"github.com/super-agent/runtime/internal/logging"
)

// FrameType identifies the kind of message exchanged over a connection.
type FrameType string

const (
	// Client -> server frames.
	FrameSubscribe        FrameType = "subscribe"
	FrameUnsubscribe      FrameType = "unsubscribe"
	FrameQuery            FrameType = "query"
	FrameUserResponse     FrameType = "user_response"
	FramePermissionAnswer FrameType = "permission_response"

	// Server -> client frames.
	FrameEvent       FrameType = "event"
	FrameError       FrameType = "error"
	FrameAck         FrameType = "ack"
	FrameTaskStarted FrameType = "task_started"
)

// QueryPayload is a client's `query` frame:
// start a new turn on a session, optionally overriding its endpoint/model/
// permission mode/working directory for this turn.
type QueryPayload struct {
	Prompt         string `json:"prompt"`
	Endpoint       string `json:"endpoint,omitempty"`
	Model          string `json:"model,omitempty"`
	PermissionMode string `json:"permissionMode,omitempty"`
	CWD            string `json:"cwd,omitempty"`
}

// QueryHandler starts a new task for a session and returns its task id.
// Implemented by whatever owns SessionManager and TaskRunner; multiplex
// never imports either directly.
type QueryHandler func(ctx context.Context, sessionID string, q QueryPayload) (taskID string, err error)

// Frame is the envelope carried in both directions over a multiplex
// connection.
type Frame struct {
	Type      FrameType       `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	EventType string          `json:"eventType,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// SessionLookup resolves whether a session id is known, used to reject a
// subscribe frame for a session that was never created.
type SessionLookup func(sessionID string) bool

// ViewedMarker flags a session's current task as viewed. The TaskRunner
// implements it; subscribing to a session implicitly marks it viewed.
type ViewedMarker func(sessionID string)

// Hub accepts duplex connections and fans EventBuffer events out to
// whichever sessions each connection has subscribed to.
type Hub struct {
	buf     *eventbuf.Buffer
	gate    *interaction.Gate
	lookup  SessionLookup
	query   QueryHandler
	viewed  ViewedMarker
	writeTO time.Duration
}

// New creates a Hub. query and viewed may be nil in tests that don't
// exercise the query frame or viewed tracking.
func New(buf *eventbuf.Buffer, gate *interaction.Gate, lookup SessionLookup, query QueryHandler, viewed ViewedMarker) *Hub {
	return &Hub{buf: buf, gate: gate, lookup: lookup, query: query, viewed: viewed, writeTO: 10 * time.Second}
}

// conn tracks one client's subscriptions and owns the goroutines relaying
// events to it.
type conn struct {
	ws *websocket.Conn

	mu     sync.Mutex
	subs   map[string]func()
	writeM sync.Mutex
}

// Serve drives one multiplex connection until it closes or ctx is done.
// Intended to be called from an HTTP handler that has already upgraded the
// request via websocket.Accept.
func (h *Hub) Serve(ctx context.Context, ws *websocket.Conn) error {
	defer ws.CloseNow()

	c := &conn{ws: ws, subs: make(map[string]func())}
	defer c.unsubscribeAll()

	for {
		var frame Frame
		if err := wsjson.Read(ctx, ws, &frame); err != nil {
			return err
		}

		switch frame.Type {
		case FrameSubscribe:
			h.handleSubscribe(ctx, c, frame)
		case FrameUnsubscribe:
			c.unsubscribe(frame.SessionID)
		case FrameQuery:
			h.handleQuery(ctx, c, frame)
		case FrameUserResponse:
			h.handleUserResponse(frame)
		case FramePermissionAnswer:
			h.handlePermissionAnswer(frame)
		default:
			h.writeFrame(ctx, c, Frame{Type: FrameError, Payload: rawString("unknown frame type: " + string(frame.Type))})
		}
	}
}

func (h *Hub) handleSubscribe(ctx context.Context, c *conn, frame Frame) {
	if frame.SessionID == "" {
		h.writeFrame(ctx, c, Frame{Type: FrameError, Payload: rawString("subscribe requires a sessionId")})
		return
	}
	if h.lookup != nil && !h.lookup(frame.SessionID) {
		h.writeFrame(ctx, c, Frame{Type: FrameError, SessionID: frame.SessionID, Payload: rawString("unknown session")})
		return
	}

	if h.viewed != nil {
		h.viewed(frame.SessionID)
	}

	cached, live, unsub, err := h.buf.Subscribe(ctx, frame.SessionID)
	if err != nil {
		h.writeFrame(ctx, c, Frame{Type: FrameError, SessionID: frame.SessionID, Payload: rawString(err.Error())})
		return
	}

	c.mu.Lock()
	if prior, ok := c.subs[frame.SessionID]; ok {
		prior()
	}
	c.subs[frame.SessionID] = unsub
	c.mu.Unlock()

	for _, ev := range cached {
		h.writeFrame(ctx, c, eventFrame(ev))
	}

	go func() {
		for ev := range live {
			h.writeFrame(ctx, c, eventFrame(ev))
		}
	}()

	h.writeFrame(ctx, c, Frame{Type: FrameAck, SessionID: frame.SessionID})
}

// handleQuery starts a new task via the injected QueryHandler, then
// auto-subscribes this connection to the session the way handleSubscribe
// does.
func (h *Hub) handleQuery(ctx context.Context, c *conn, frame Frame) {
	if frame.SessionID == "" || h.query == nil {
		h.writeFrame(ctx, c, Frame{Type: FrameError, Payload: rawString("query requires a sessionId")})
		return
	}

	var payload QueryPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		h.writeFrame(ctx, c, Frame{Type: FrameError, SessionID: frame.SessionID, Payload: rawString("malformed query payload")})
		return
	}

	taskID, err := h.query(ctx, frame.SessionID, payload)
	if err != nil {
		h.writeFrame(ctx, c, Frame{Type: FrameError, SessionID: frame.SessionID, Payload: rawString(err.Error())})
		return
	}

	h.handleSubscribe(ctx, c, Frame{Type: FrameSubscribe, SessionID: frame.SessionID})
	h.writeFrame(ctx, c, Frame{Type: FrameTaskStarted, SessionID: frame.SessionID, Payload: rawString(taskID)})
}

func (h *Hub) handleUserResponse(frame Frame) {
	var payload struct {
		Answers []string `json:"answers"`
	}
	_ = json.Unmarshal(frame.Payload, &payload)
	h.gate.Respond(frame.RequestID, interaction.Reply{Status: interaction.StatusAnswered, Answers: payload.Answers})
}

func (h *Hub) handlePermissionAnswer(frame Frame) {
	var payload struct {
		Approved bool `json:"approved"`
	}
	_ = json.Unmarshal(frame.Payload, &payload)
	status := interaction.StatusDenied
	if payload.Approved {
		status = interaction.StatusApproved
	}
	h.gate.Respond(frame.RequestID, interaction.Reply{Status: status, Approved: payload.Approved})
}

func (h *Hub) writeFrame(ctx context.Context, c *conn, frame Frame) {
	c.writeM.Lock()
	defer c.writeM.Unlock()

	writeCtx, cancel := context.WithTimeout(ctx, h.writeTO)
	defer cancel()

	if err := wsjson.Write(writeCtx, c.ws, frame); err != nil {
		logging.Session("multiplex", frame.SessionID).Warn().Err(err).Msg("failed to write frame")
	}
}

func (c *conn) unsubscribe(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if unsub, ok := c.subs[sessionID]; ok {
		unsub()
		delete(c.subs, sessionID)
	}
}

func (c *conn) unsubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, unsub := range c.subs {
		unsub()
		delete(c.subs, id)
	}
}

func eventFrame(ev eventbuf.BufferedEvent) Frame {
	return Frame{
		Type:      FrameEvent,
		SessionID: ev.SessionID,
		EventType: ev.Type,
		Payload:   ev.Payload,
	}
}

func rawString(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}
