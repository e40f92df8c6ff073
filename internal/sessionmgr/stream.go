package sessionmgr

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/schema"
	"github.com/oklog/ulid/v2"

	"github.com/super-agent/runtime/internal/interaction"
	"github.com/super-agent/runtime/internal/logging"
	"github.com/super-agent/runtime/internal/provider"
	"github.com/super-agent/runtime/internal/toolspec"
	"github.com/super-agent/runtime/pkg/types"
)

const (
	// MaxSteps bounds the agentic loop's tool rounds within one turn when
	// the session's configuration carries no MaxTurns of its own.
	MaxSteps = 50
	// RetryInitialInterval is the initial interval for exponential backoff.
	RetryInitialInterval = time.Second
	// RetryMaxInterval is the maximum interval for exponential backoff.
	RetryMaxInterval = 30 * time.Second
	// RetryMaxElapsedTime is the maximum total time for retries.
	RetryMaxElapsedTime = 2 * time.Minute
	// MaxRetries is the maximum number of retries for provider errors.
	MaxRetries = 3
)

// Host-side tools the stream handles itself instead of forwarding to an
// external tool-protocol server: asking the end user a clarifying question,
// and updating the structured todo list.
const (
	askUserToolName = "AskUser"
	planToolName    = "TodoWrite"
)

// newRetryBackoff creates an exponential backoff with jitter for provider
// retries, context-aware so cancellation cuts the wait short.
func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = RetryInitialInterval
	b.MaxInterval = RetryMaxInterval
	b.MaxElapsedTime = RetryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, MaxRetries), ctx)
}

// streamStep accumulates one LLM call's worth of streamed content: the open
// text and thinking blocks plus every tool call keyed in arrival order.
type streamStep struct {
	textID      string
	textBuf     string
	thinkingID  string
	thinkingBuf string

	toolOrder  []string
	toolBlocks map[string]*types.ToolUseBlock
	toolInputs map[string]string

	inputTokens  int
	outputTokens int
	finishReason string
}

func (s *streamStep) toolCalls() []schema.ToolCall {
	calls := make([]schema.ToolCall, 0, len(s.toolOrder))
	for _, id := range s.toolOrder {
		calls = append(calls, schema.ToolCall{
			ID: id,
			Function: schema.FunctionCall{
				Name:      s.toolBlocks[id].Name,
				Arguments: s.toolInputs[id],
			},
		})
	}
	return calls
}

// Stream runs the single suspendable SessionManager operation:
// persist the user's message, lazily drive the LLM client through as many
// tool rounds as the turn needs, translate every piece into the canonical
// event taxonomy, and persist the finished assistant message. The returned
// func is itself the Producer handed to taskrunner.Runner.StartTask.
func (m *Manager) Stream(ms *ManagedSession, userText string) func(ctx context.Context, emit func(eventType string, payload any)) {
	return func(ctx context.Context, emit func(eventType string, payload any)) {
		ctx, cancel := context.WithCancel(ctx)
		ms.mu.Lock()
		ms.cancel = cancel
		ms.started = true
		ms.mu.Unlock()
		defer cancel()
		defer ms.touch()

		// The provider boundary hands back no init message of its own, so
		// the resume token is minted here on first use and carried on the
		// Session from then on — it is the sole continuity identity across
		// ManagedSession recreations.
		if ms.ResumeToken == "" {
			ms.ResumeToken = ulid.Make().String()
		}
		emit("system", map[string]any{
			"resumeToken": ms.ResumeToken,
			"endpoint":    ms.Config.Endpoint,
			"model":       ms.Config.Model,
		})

		userMsg := types.Message{
			ID:        ulid.Make().String(),
			Role:      types.RoleUser,
			Text:      userText,
			Timestamp: time.Now().UnixMilli(),
		}
		session, err := m.sessions.AppendMessage(ctx, ms.SessionID, userMsg)
		if err != nil {
			emit("error", map[string]string{"content": err.Error()})
			return
		}
		emit("user", map[string]string{"id": userMsg.ID, "text": userText})

		history := provider.ConvertToEinoMessages(session.Messages)

		var (
			blocks    []types.Block
			textParts []string
			usageIn   int
			usageOut  int
		)
		started := time.Now()
		turns := 0
		steps := 0
		maxSteps := ms.Config.MaxTurns
		if maxSteps <= 0 {
			maxSteps = MaxSteps
		}
		retry := newRetryBackoff(ctx)

	loop:
		for {
			select {
			case <-ctx.Done():
				emit("error", map[string]string{"content": "Task was cancelled"})
				return
			default:
			}

			req := &provider.CompletionRequest{
				Model:    ms.Config.Model,
				Messages: history,
			}
			if ms.Config.MaxOutputTokens != nil {
				req.MaxTokens = *ms.Config.MaxOutputTokens
			}
			stream, err := ms.client.CreateCompletion(ctx, req)
			if err != nil {
				wait := retry.NextBackOff()
				if wait == backoff.Stop {
					emit("error", map[string]string{"content": err.Error()})
					return
				}
				time.Sleep(wait)
				continue
			}
			turns++

			step, err := drainStream(ctx, stream, emit)
			stream.Close()
			if err != nil {
				if ctx.Err() != nil {
					emit("error", map[string]string{"content": "Task was cancelled"})
					return
				}
				wait := retry.NextBackOff()
				if wait == backoff.Stop {
					emit("error", map[string]string{"content": err.Error()})
					return
				}
				time.Sleep(wait)
				continue
			}
			retry.Reset()
			usageIn += step.inputTokens
			usageOut += step.outputTokens

			if step.thinkingID != "" {
				emit("thinking_end", map[string]string{"id": step.thinkingID})
				emit("thinking", map[string]string{"id": step.thinkingID, "text": step.thinkingBuf})
				blocks = append(blocks, &types.ThinkingBlock{ID: step.thinkingID, Text: step.thinkingBuf})
			}
			if step.textID != "" {
				emit("text_end", map[string]string{"id": step.textID})
				emit("text", map[string]string{"id": step.textID, "text": step.textBuf})
				blocks = append(blocks, &types.TextBlock{ID: step.textID, Text: step.textBuf})
				textParts = append(textParts, step.textBuf)
			}

			history = append(history, &schema.Message{
				Role:      schema.Assistant,
				Content:   step.textBuf,
				ToolCalls: step.toolCalls(),
			})

			if len(step.toolOrder) == 0 {
				break loop
			}
			if steps++; steps >= maxSteps {
				emit("error", map[string]string{"content": "maximum tool steps reached for this turn"})
				return
			}

			for _, id := range step.toolOrder {
				block := step.toolBlocks[id]
				block.Input = json.RawMessage(step.toolInputs[id])
				emit("tool_input_end", map[string]string{"id": id})

				var output string
				var isError bool
				var diff *toolspec.FileDiff
				switch block.Name {
				case askUserToolName:
					output, isError, blocks = m.askUser(ctx, ms, block, blocks)
				case planToolName:
					output, isError, blocks = applyPlan(block, blocks, emit)
				default:
					output, isError, diff = m.dispatchToolCall(ctx, ms, block)
				}

				blocks = append(blocks, block)
				blocks = types.ApplyToolResult(blocks, block.ID, output, isError)
				emit("tool_use", block)
				resultPayload := map[string]any{"id": id, "output": output, "isError": isError}
				if diff != nil {
					resultPayload["diff"] = diff
				}
				emit("tool_result", resultPayload)

				history = append(history, &schema.Message{
					Role:       schema.Tool,
					ToolCallID: block.ID,
					Content:    output,
				})
			}
		}

		assistantMsg := types.Message{
			ID:        ulid.Make().String(),
			Role:      types.RoleAssistant,
			Text:      strings.Join(textParts, "\n\n"),
			Blocks:    blocks,
			Timestamp: time.Now().UnixMilli(),
		}
		session, err = m.sessions.AppendMessage(ctx, ms.SessionID, assistantMsg)
		if err != nil {
			emit("error", map[string]string{"content": err.Error()})
			return
		}

		session.ResumeToken = ms.ResumeToken
		session.LastConfig = types.ConfigSnap{
			Endpoint:       ms.Config.Endpoint,
			Model:          ms.Config.Model,
			PermissionMode: ms.Config.PermissionMode,
		}
		if err := m.sessions.Update(ctx, session); err != nil {
			logging.Session("sessionmgr", ms.SessionID).Warn().Err(err).Msg("failed to persist config snapshot")
		}

		emit("done", map[string]any{
			"turns":      turns,
			"durationMs": time.Since(started).Milliseconds(),
			"usage": map[string]int{
				"inputTokens":  usageIn,
				"outputTokens": usageOut,
			},
			"cost": m.costFor(ms, usageIn, usageOut),
		})
	}
}

// drainStream consumes one CompletionStream, emitting start/delta events as
// chunks arrive and accumulating the step's blocks. The eino streaming model
// keys tool-call deltas by Index: the opening chunk carries ID and Name,
// argument deltas carry Index only.
func drainStream(ctx context.Context, stream *provider.CompletionStream, emit func(string, any)) (*streamStep, error) {
	res := &streamStep{
		toolBlocks: make(map[string]*types.ToolUseBlock),
		toolInputs: make(map[string]string),
	}
	byIndex := make(map[int]string)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		chunk, err := stream.Recv()
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			return nil, err
		}

		if chunk.Content != "" {
			if res.textID == "" {
				res.textID = ulid.Make().String()
				emit("text_start", map[string]string{"id": res.textID})
			}
			res.textBuf += chunk.Content
			emit("text_delta", map[string]string{"id": res.textID, "delta": chunk.Content})
		}

		if chunk.ReasoningContent != "" {
			if res.thinkingID == "" {
				res.thinkingID = ulid.Make().String()
				emit("thinking_start", map[string]string{"id": res.thinkingID})
			}
			res.thinkingBuf += chunk.ReasoningContent
			emit("thinking_delta", map[string]string{"id": res.thinkingID, "delta": chunk.ReasoningContent})
		}

		for _, tc := range chunk.ToolCalls {
			var key string
			if tc.Index != nil {
				key = byIndex[*tc.Index]
			}
			if key == "" {
				key = tc.ID
			}

			if _, exists := res.toolBlocks[key]; !exists {
				if tc.ID == "" || tc.Function.Name == "" {
					continue
				}
				key = tc.ID
				res.toolBlocks[key] = &types.ToolUseBlock{ID: key, Name: tc.Function.Name, Status: types.BlockRunning}
				res.toolOrder = append(res.toolOrder, key)
				if tc.Index != nil {
					byIndex[*tc.Index] = key
				}
				emit("tool_input_start", map[string]string{"id": key, "name": tc.Function.Name})
			}

			if tc.Function.Arguments != "" {
				res.toolInputs[key] += tc.Function.Arguments
				emit("tool_input_delta", map[string]string{"id": key, "delta": tc.Function.Arguments})
			}
		}

		if chunk.ResponseMeta != nil {
			if chunk.ResponseMeta.Usage != nil {
				res.inputTokens = chunk.ResponseMeta.Usage.PromptTokens
				res.outputTokens = chunk.ResponseMeta.Usage.CompletionTokens
			}
			if chunk.ResponseMeta.FinishReason != "" {
				res.finishReason = chunk.ResponseMeta.FinishReason
			}
		}
	}
}

// dispatchToolCall enforces the session's tool allow/deny lists, then its
// permission mode: "ask" suspends on the InteractionGate until the user
// approves, denies, or the deadline elapses; any other mode forwards
// straight to the tool dispatcher, which runs the call in the session's
// working directory. A denial does not end the turn — the refusal is fed
// back to the model as an error result so it can respond.
func (m *Manager) dispatchToolCall(ctx context.Context, ms *ManagedSession, block *types.ToolUseBlock) (string, bool, *toolspec.FileDiff) {
	if !toolspec.Allowed(ms.Config.ToolAllow, ms.Config.ToolDeny, block.Name) {
		return "This tool is not permitted by the session's allow/deny configuration: " + block.Name, true, nil
	}

	if ms.Config.PermissionMode == "ask" && m.gate != nil {
		payload := interaction.PermissionPayload{ToolName: block.Name, Input: json.RawMessage(block.Input)}
		reply := m.gate.Request(ctx, ms.SessionID, interaction.KindPermission, payload,
			func(requestID string) {
				ms.push("permission_request", interaction.RequestEvent{RequestID: requestID, Kind: interaction.KindPermission, Payload: payload})
				logging.Session("sessionmgr", ms.SessionID).Debug().Str("requestID", requestID).Str("tool", block.Name).Msg("awaiting permission")
			})
		if reply.Status != interaction.StatusApproved {
			return "The user denied permission to run this tool: " + block.Name, true, nil
		}
	}

	if m.tools == nil {
		return "no tool dispatcher configured", true, nil
	}
	result, err := m.tools.Dispatch(ctx, ms.SessionID, toolspec.Call{
		ID:    block.ID,
		Name:  block.Name,
		Input: block.Input,
		CWD:   ms.Config.WorkingDirectory,
	})
	if err != nil {
		return err.Error(), true, nil
	}
	return result.Output, result.IsError, result.Diff
}

// askUser suspends on the InteractionGate until the end user answers the
// agent's clarifying question or the deadline elapses. The answers are fed
// back to the model as the tool result, and the suspension is recorded as
// an ask_user block on the transcript.
func (m *Manager) askUser(ctx context.Context, ms *ManagedSession, block *types.ToolUseBlock, blocks []types.Block) (string, bool, []types.Block) {
	questions := parseQuestions(block.Input)
	if m.gate == nil {
		return "no interaction channel available for this session", true, blocks
	}

	payload := interaction.AskUserPayload{Questions: questions}
	var requestID string
	reply := m.gate.Request(ctx, ms.SessionID, interaction.KindAskUser, payload,
		func(id string) {
			requestID = id
			ms.push("ask_user", interaction.RequestEvent{RequestID: id, Kind: interaction.KindAskUser, Payload: payload})
		})

	blocks = append(blocks, &types.AskUserBlock{
		ID:        ulid.Make().String(),
		RequestID: requestID,
		Questions: questions,
		Answers:   reply.Answers,
	})

	if reply.Status != interaction.StatusAnswered {
		return "The user did not answer in time; proceed with your best judgment.", true, blocks
	}
	data, _ := json.Marshal(reply.Answers)
	return string(data), false, blocks
}

// applyPlan handles the todo-list tool locally: no external server owns it,
// the runtime records the plan and surfaces a todos event to subscribers.
func applyPlan(block *types.ToolUseBlock, blocks []types.Block, emit func(string, any)) (string, bool, []types.Block) {
	items := parsePlanItems(block.Input)
	planBlock := &types.PlanBlock{ID: ulid.Make().String(), Items: items}
	blocks = append(blocks, planBlock)
	emit("todos", map[string]any{"id": planBlock.ID, "items": items})
	return "Todo list updated", false, blocks
}

func parseQuestions(input json.RawMessage) []string {
	var payload struct {
		Questions []string `json:"questions"`
		Question  string   `json:"question"`
	}
	if err := json.Unmarshal(input, &payload); err != nil {
		return []string{string(input)}
	}
	if len(payload.Questions) > 0 {
		return payload.Questions
	}
	if payload.Question != "" {
		return []string{payload.Question}
	}
	return nil
}

func parsePlanItems(input json.RawMessage) []string {
	var payload struct {
		Todos []struct {
			Content string `json:"content"`
		} `json:"todos"`
		Items []string `json:"items"`
	}
	if err := json.Unmarshal(input, &payload); err != nil {
		return nil
	}
	if len(payload.Items) > 0 {
		return payload.Items
	}
	items := make([]string, 0, len(payload.Todos))
	for _, todo := range payload.Todos {
		items = append(items, todo.Content)
	}
	return items
}

// costFor prices a turn from the provider's advertised model pricing
// (dollars per million tokens). Unknown models cost zero.
func (m *Manager) costFor(ms *ManagedSession, inputTokens, outputTokens int) float64 {
	if ms.client == nil {
		return 0
	}
	for _, model := range ms.client.Models() {
		if model.ID == ms.Config.Model {
			return float64(inputTokens)*model.InputPrice/1e6 + float64(outputTokens)*model.OutputPrice/1e6
		}
	}
	return 0
}
