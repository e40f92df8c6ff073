package types

import (
	"encoding/json"
	"fmt"
)

// BlockStatus is the lifecycle of a tool_use Block.
type BlockStatus string

const (
	BlockRunning BlockStatus = "running"
	BlockSuccess BlockStatus = "success"
	BlockError   BlockStatus = "error"
)

// Block is a typed element of an assistant turn, kept in emission order.
// Kinds: text, thinking, tool_use, plan, ask_user.
type Block interface {
	BlockKind() string
	BlockID() string
}

// TextBlock carries streamed or aggregated assistant text.
type TextBlock struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (b *TextBlock) BlockKind() string { return "text" }
func (b *TextBlock) BlockID() string   { return b.ID }

// ThinkingBlock carries streamed or aggregated hidden-reasoning text.
type ThinkingBlock struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (b *ThinkingBlock) BlockKind() string { return "thinking" }
func (b *ThinkingBlock) BlockID() string   { return b.ID }

// ToolUseBlock is a tool invocation and, once it arrives, its result. A
// result mutates exactly the block whose id matches the call; an orphan
// result with no matching call appends a new block.
type ToolUseBlock struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Input  json.RawMessage `json:"input"`
	Result *string         `json:"result,omitempty"`
	Status BlockStatus     `json:"status"`
}

func (b *ToolUseBlock) BlockKind() string { return "tool_use" }
func (b *ToolUseBlock) BlockID() string   { return b.ID }

// PlanBlock carries a structured plan/todo-list update.
type PlanBlock struct {
	ID    string   `json:"id"`
	Items []string `json:"items"`
}

func (b *PlanBlock) BlockKind() string { return "plan" }
func (b *PlanBlock) BlockID() string   { return b.ID }

// AskUserBlock records a suspended clarifying question and, once resolved,
// the user's answers.
type AskUserBlock struct {
	ID        string   `json:"id"`
	RequestID string   `json:"requestId"`
	Questions []string `json:"questions"`
	Answers   []string `json:"answers,omitempty"`
}

func (b *AskUserBlock) BlockKind() string { return "ask_user" }
func (b *AskUserBlock) BlockID() string   { return b.ID }

// ApplyToolResult folds a tool result into the block whose id matches the
// call. An orphan result with no matching call appends a new block instead
// of being dropped.
func ApplyToolResult(blocks []Block, callID, output string, isError bool) []Block {
	status := BlockSuccess
	if isError {
		status = BlockError
	}
	for _, b := range blocks {
		tb, ok := b.(*ToolUseBlock)
		if !ok || tb.ID != callID {
			continue
		}
		tb.Result = &output
		tb.Status = status
		return blocks
	}
	return append(blocks, &ToolUseBlock{ID: callID, Result: &output, Status: status})
}

// MarshalBlock wraps a Block with its kind discriminator for storage.
func MarshalBlock(b Block) ([]byte, error) {
	wrapper := struct {
		Kind string `json:"kind"`
		Data Block  `json:"data"`
	}{Kind: b.BlockKind(), Data: b}
	return json.Marshal(wrapper)
}

// UnmarshalBlock reverses MarshalBlock, dispatching on the kind
// discriminator.
func UnmarshalBlock(data []byte) (Block, error) {
	var envelope struct {
		Kind string          `json:"kind"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	switch envelope.Kind {
	case "text":
		var b TextBlock
		if err := json.Unmarshal(envelope.Data, &b); err != nil {
			return nil, err
		}
		return &b, nil
	case "thinking":
		var b ThinkingBlock
		if err := json.Unmarshal(envelope.Data, &b); err != nil {
			return nil, err
		}
		return &b, nil
	case "tool_use":
		var b ToolUseBlock
		if err := json.Unmarshal(envelope.Data, &b); err != nil {
			return nil, err
		}
		return &b, nil
	case "plan":
		var b PlanBlock
		if err := json.Unmarshal(envelope.Data, &b); err != nil {
			return nil, err
		}
		return &b, nil
	case "ask_user":
		var b AskUserBlock
		if err := json.Unmarshal(envelope.Data, &b); err != nil {
			return nil, err
		}
		return &b, nil
	default:
		return nil, fmt.Errorf("types: unknown block kind %q", envelope.Kind)
	}
}
