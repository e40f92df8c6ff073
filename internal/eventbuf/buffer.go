// Package eventbuf implements the EventBuffer: a per-session append-only
// event log kept on disk and in an in-memory cache, fanned out to
// subscribers with a bounded, drop-on-full backpressure policy.
//
// Fan-out rides on a watermill gochannel pub/sub per session (one topic per
// session id) rather than one process-wide bus, so the drop-on-overflow
// guarantee applies independently to each subscriber of each session.
package eventbuf

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/super-agent/runtime/internal/logging"
)

// SubscriberBufferSize is the bounded per-subscriber channel capacity.
const SubscriberBufferSize = 1024

// BufferedEvent is one item in a session's event stream: a type tag, an
// opaque payload, and a server-assigned millisecond timestamp. Ordered;
// once appended, never mutated.
type BufferedEvent struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"content"`
	SessionID string          `json:"sessionId"`
	Timestamp int64           `json:"timestamp"`
}

// terminalEventTypes are the event types that end a session's stream.
var terminalEventTypes = map[string]bool{"done": true, "error": true}

type sessionState struct {
	mu       sync.Mutex
	cache    []BufferedEvent
	terminal bool
	pubsub   *gochannel.GoChannel
	topic    string
}

// Buffer is the EventBuffer: durable per-session logs plus subscriber
// fan-out.
type Buffer struct {
	basePath string

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// New creates an EventBuffer rooted at basePath.
func New(basePath string) *Buffer {
	return &Buffer{basePath: basePath, sessions: make(map[string]*sessionState)}
}

func (b *Buffer) eventsFile(sessionID string) string {
	return filepath.Join(b.basePath, sessionID, "events")
}

func (b *Buffer) state(sessionID string) *sessionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.sessions[sessionID]
	if !ok {
		st = &sessionState{
			pubsub: gochannel.NewGoChannel(gochannel.Config{
				OutputChannelBuffer: SubscriberBufferSize,
				Persistent:          false,
			}, watermill.NopLogger{}),
			topic: sessionID,
		}
		b.sessions[sessionID] = st
	}
	return st
}

// Append appends an event to the on-disk log and the in-memory cache, and
// pushes it to every current subscriber. A slow subscriber drops the event
// rather than blocking the producer.
func (b *Buffer) Append(sessionID string, eventType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logging.Session("eventbuf", sessionID).Error().Err(err).Msg("failed to marshal payload")
		return
	}
	ev := BufferedEvent{
		Type:      eventType,
		Payload:   raw,
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
	}

	st := b.state(sessionID)
	st.mu.Lock()
	st.cache = append(st.cache, ev)
	if terminalEventTypes[eventType] {
		st.terminal = true
	}
	st.mu.Unlock()

	if err := b.appendToDisk(sessionID, ev); err != nil {
		logging.Session("eventbuf", sessionID).Error().Err(err).Msg("failed to persist event")
	}

	msgBytes, _ := json.Marshal(ev)
	msg := message.NewMessage(watermill.NewUUID(), msgBytes)
	// gochannel.Publish never blocks the producer past the configured
	// OutputChannelBuffer; a full subscriber channel simply misses the
	// message.
	_ = st.pubsub.Publish(st.topic, msg)
}

func (b *Buffer) appendToDisk(sessionID string, ev BufferedEvent) error {
	dir := filepath.Join(b.basePath, sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(b.eventsFile(sessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

// Cached snapshots the current in-memory cache for a session.
func (b *Buffer) Cached(sessionID string) []BufferedEvent {
	st := b.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]BufferedEvent, len(st.cache))
	copy(out, st.cache)
	return out
}

// Subscribe first drains the cached events into the returned slice, then
// streams future events on the returned channel until the session's stream
// reaches a terminal status. The unsubscribe func must be
// called when the caller is done reading.
func (b *Buffer) Subscribe(ctx context.Context, sessionID string) ([]BufferedEvent, <-chan BufferedEvent, func(), error) {
	st := b.state(sessionID)

	st.mu.Lock()
	cached := make([]BufferedEvent, len(st.cache))
	copy(cached, st.cache)
	terminal := st.terminal
	st.mu.Unlock()

	out := make(chan BufferedEvent, SubscriberBufferSize)
	if terminal {
		close(out)
		return cached, out, func() {}, nil
	}

	subCtx, cancel := context.WithCancel(ctx)
	msgs, err := st.pubsub.Subscribe(subCtx, st.topic)
	if err != nil {
		cancel()
		return cached, nil, func() {}, err
	}

	go func() {
		defer close(out)
		for msg := range msgs {
			var ev BufferedEvent
			if err := json.Unmarshal(msg.Payload, &ev); err == nil {
				select {
				case out <- ev:
				default:
					// Subscriber channel full: drop. The on-disk log and
					// other subscribers are unaffected.
				}
				if terminalEventTypes[ev.Type] {
					msg.Ack()
					return
				}
			}
			msg.Ack()
		}
	}()

	return cached, out, cancel, nil
}

// LoadAll replays every session's on-disk log into its in-memory cache.
// Called once at startup so reconnecting clients see history. Returns the
// set of session ids discovered.
func (b *Buffer) LoadAll() ([]string, error) {
	entries, err := os.ReadDir(b.basePath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var sessionIDs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sessionID := entry.Name()
		sessionIDs = append(sessionIDs, sessionID)

		f, err := os.Open(b.eventsFile(sessionID))
		if err != nil {
			continue
		}
		st := b.state(sessionID)
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			var ev BufferedEvent
			if err := json.Unmarshal(scanner.Bytes(), &ev); err == nil {
				st.cache = append(st.cache, ev)
				if terminalEventTypes[ev.Type] {
					st.terminal = true
				}
			}
		}
		f.Close()
	}
	return sessionIDs, nil
}

// MarkTerminal flags a session's stream as complete without appending an
// event; used when TaskRunner promotes a restart-recovered execution to
// error before any new event exists on disk for this process's lifetime.
func (b *Buffer) MarkTerminal(sessionID string) {
	st := b.state(sessionID)
	st.mu.Lock()
	st.terminal = true
	st.mu.Unlock()
}

// Reset clears a session's in-memory cache and terminal flag and removes
// its on-disk event log; TaskRunner.StartTask calls it when beginning a
// fresh execution.
func (b *Buffer) Reset(sessionID string) {
	b.mu.Lock()
	delete(b.sessions, sessionID)
	b.mu.Unlock()
	_ = os.Remove(b.eventsFile(sessionID))
}
