// Package types provides the core data model shared across the runtime:
// durable sessions, their message transcripts, and the typed blocks an
// assistant turn is made of.
package types

import "encoding/json"

// DefaultTitle is the sentinel a Session's title starts at. Title only
// auto-derives from the first user message while it still equals this
// sentinel.
const DefaultTitle = "New session"

// Session is a durable conversation: an ordered, append-only transcript
// plus the configuration snapshot last used to drive it.
type Session struct {
	ID          string     `json:"id"`
	ResumeToken string     `json:"resumeToken,omitempty"`
	Title       string     `json:"title"`
	CreatedAt   int64      `json:"createdAt"`
	UpdatedAt   int64      `json:"updatedAt"`
	Messages    []Message  `json:"messages"`
	LastConfig  ConfigSnap `json:"lastConfig"`
}

// ConfigSnap is the configuration a session last ran with: endpoint,
// model, permission mode.
type ConfigSnap struct {
	Endpoint       string `json:"endpoint,omitempty"`
	Model          string `json:"model,omitempty"`
	PermissionMode string `json:"permissionMode,omitempty"`
}

// Role of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in the transcript. Once stored, its contents are
// immutable; only Blocks of an in-flight assistant message are mutated in
// place before the message itself is persisted.
type Message struct {
	ID        string  `json:"id"`
	Role      Role    `json:"role"`
	Text      string  `json:"text"`
	Blocks    []Block `json:"blocks,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

// messageJSON mirrors Message with each block in its kind-discriminated
// envelope form, since the Block interface cannot pass through
// encoding/json directly.
type messageJSON struct {
	ID        string            `json:"id"`
	Role      Role              `json:"role"`
	Text      string            `json:"text"`
	Blocks    []json.RawMessage `json:"blocks,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// MarshalJSON encodes each block through MarshalBlock so the kind
// discriminator is stored alongside the block's fields.
func (m Message) MarshalJSON() ([]byte, error) {
	out := messageJSON{ID: m.ID, Role: m.Role, Text: m.Text, Timestamp: m.Timestamp}
	for _, b := range m.Blocks {
		data, err := MarshalBlock(b)
		if err != nil {
			return nil, err
		}
		out.Blocks = append(out.Blocks, data)
	}
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON, restoring each block to its concrete
// type via UnmarshalBlock.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.ID = raw.ID
	m.Role = raw.Role
	m.Text = raw.Text
	m.Timestamp = raw.Timestamp
	m.Blocks = nil
	for _, rb := range raw.Blocks {
		b, err := UnmarshalBlock(rb)
		if err != nil {
			return err
		}
		m.Blocks = append(m.Blocks, b)
	}
	return nil
}

// Summary is the list-view projection of a Session: metadata only, never a
// transcript.
type Summary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// ToSummary projects a Session down to its list-view Summary.
func (s Session) ToSummary() Summary {
	return Summary{ID: s.ID, Title: s.Title, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt}
}
