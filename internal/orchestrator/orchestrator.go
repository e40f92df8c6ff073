// Package orchestrator runs the autonomous Worker/Checker cycle loop. Each
// call to RunOnce advances a session by exactly one cycle: invoke the
// Worker, ingest any sentinel __output.json, invoke the Checker, parse its
// verdict, and advance or fail the session state.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/super-agent/runtime/internal/eventbuf"
	"github.com/super-agent/runtime/internal/logging"
	"github.com/super-agent/runtime/internal/runtime"
	"github.com/super-agent/runtime/internal/store"
	"github.com/super-agent/runtime/pkg/types"
)

// Worker executes one LLM turn (Worker or Checker role) against a prompt
// and returns its unified result. Implemented by an adapter over
// internal/provider; kept as an interface here so the cycle loop never
// depends on a concrete LLM client.
type Worker interface {
	Run(ctx context.Context, prompt string, workspace string, resumeToken string) (types.LLMResult, error)
}

// Store persists SessionState records.
type Store interface {
	Load(sessionID string) (types.SessionState, error)
	Save(state types.SessionState) error
}

// sentinelOutputFile is the file a Worker may write to report structured
// output for this cycle, read and archived by the Orchestrator.
const sentinelOutputFile = "__output.json"

// sentinelGrace is how long a cycle waits for the sentinel file to land
// after the Worker returns. It only needs to cover a write that races the
// Worker's return by a filesystem sync, so it stays short — most cycles
// produce no sentinel at all and must not stall on it.
const sentinelGrace = 200 * time.Millisecond

// Templates carries the configurable prompt fragments appended to the
// Worker and Checker prompts.
type Templates struct {
	WorkerPrompt  string
	CheckerPrompt string
}

// Orchestrator runs autonomous sessions to completion one cycle at a time.
type Orchestrator struct {
	store       Store
	worker      Worker
	checker     Worker
	buf         *eventbuf.Buffer
	workspaceOf func(sessionID string) string
	tpl         Templates

	mu      sync.Mutex
	running map[string]bool
}

// New creates an Orchestrator. worker and checker may be the same Worker
// instance driven with different prompts; a nil checker reuses the worker.
func New(store Store, worker, checker Worker, buf *eventbuf.Buffer, workspaceOf func(string) string, tpl Templates) *Orchestrator {
	if checker == nil {
		checker = worker
	}
	return &Orchestrator{
		store:       store,
		worker:      worker,
		checker:     checker,
		buf:         buf,
		workspaceOf: workspaceOf,
		tpl:         tpl,
		running:     make(map[string]bool),
	}
}

// SessionParams configures a new autonomous session.
type SessionParams struct {
	Task            string
	ExpectedOutcome string
	CycleBudget     int
	ResetOnExhaust  bool
	ResetLimit      int
	InitialInput    map[string]any
}

// CreateSession initializes a new autonomous session in pending status.
func (o *Orchestrator) CreateSession(sessionID string, p SessionParams) (types.SessionState, error) {
	if p.InitialInput == nil {
		p.InitialInput = map[string]any{}
	}
	state := types.SessionState{
		SessionID:       sessionID,
		Task:            p.Task,
		ExpectedOutcome: p.ExpectedOutcome,
		Status:          types.CyclePending,
		CycleBudget:     p.CycleBudget,
		ResetOnExhaust:  p.ResetOnExhaust,
		ResetLimit:      p.ResetLimit,
		InitialInput:    p.InitialInput,
		CurrentInput:    cloneInput(p.InitialInput),
	}
	if err := o.store.Save(state); err != nil {
		return types.SessionState{}, err
	}
	return state, nil
}

// Run drives a session to completion, sleeping cycleWait between cycles.
func (o *Orchestrator) Run(ctx context.Context, sessionID string, cycleWait time.Duration) (types.SessionState, error) {
	state, err := o.store.Load(sessionID)
	if err != nil {
		return types.SessionState{}, err
	}

	for state.Status != types.CycleCompleted && state.Status != types.CycleFailed {
		state, err = o.RunOnce(ctx, sessionID)
		if err != nil {
			return state, err
		}
		if cycleWait > 0 && state.Status != types.CycleCompleted && state.Status != types.CycleFailed {
			select {
			case <-ctx.Done():
				return state, ctx.Err()
			case <-time.After(cycleWait):
			}
		}
	}
	return state, nil
}

// RunOnce executes a single Worker -> Checker cycle. A session
// already at cycle budget is handled via handleExhausted: either reset (if
// configured and resets remain) or marked failed.
func (o *Orchestrator) RunOnce(ctx context.Context, sessionID string) (types.SessionState, error) {
	o.mu.Lock()
	if o.running[sessionID] {
		o.mu.Unlock()
		return types.SessionState{}, fmt.Errorf("%w: session %s already running a cycle", runtime.ErrSessionBusy, sessionID)
	}
	o.running[sessionID] = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.running, sessionID)
		o.mu.Unlock()
	}()

	state, err := o.store.Load(sessionID)
	if err != nil {
		return types.SessionState{}, err
	}
	if state.Status == types.CycleCompleted || state.Status == types.CycleFailed {
		return state, nil
	}
	if state.CycleCount >= state.CycleBudget {
		return o.handleExhausted(state)
	}

	state.Status = types.CycleRunning
	if err := o.store.Save(state); err != nil {
		return state, err
	}

	cycleIndex := state.CycleCount + 1
	workspace := o.workspaceOf(sessionID)
	startedAt := time.Now().UnixMilli()

	o.emit(sessionID, "cycle_start", map[string]any{"cycleIndex": cycleIndex, "cycleBudget": state.CycleBudget})

	outputPath := filepath.Join(workspace, sentinelOutputFile)
	_ = os.Remove(outputPath)

	prompt := substitutePlaceholders(buildWorkerPrompt(state.Task, o.tpl.WorkerPrompt, state.CurrentInput), workspace)
	workerResult, err := o.worker.Run(ctx, prompt, workspace, state.LastResumeToken)
	if err != nil {
		return o.failCycle(state, cycleIndex, startedAt, types.LLMResult{Error: err.Error()}, "worker_exception")
	}

	o.emit(sessionID, "worker_complete", map[string]any{"cycleIndex": cycleIndex, "text": workerResult.Text, "error": workerResult.Error})

	store.WaitForFile(ctx, outputPath, sentinelGrace)
	summary, artifacts := ingestSentinelOutput(sessionID, outputPath, workspace, cycleIndex, &workerResult)

	checkerPrompt := substitutePlaceholders(buildCheckerPrompt(state.Task, state.ExpectedOutcome, o.tpl.CheckerPrompt, workerResult), workspace)
	o.emit(sessionID, "checker_start", map[string]any{"cycleIndex": cycleIndex})

	checkerResult, err := o.checker.Run(ctx, checkerPrompt, workspace, "")
	var verdict types.CheckerVerdict
	if err != nil {
		verdict = types.CheckerVerdict{Verdict: types.VerdictWorkerException, Reason: "checker_error: " + err.Error()}
	} else {
		verdict = parseVerdict(checkerResult.Text)
	}
	o.emit(sessionID, "checker_complete", map[string]any{"cycleIndex": cycleIndex, "verdict": verdict.Verdict, "reason": verdict.Reason})

	endedAt := time.Now().UnixMilli()
	record := types.CycleRecord{
		Index:        cycleIndex,
		StartedAt:    startedAt,
		EndedAt:      endedAt,
		InputPayload: state.CurrentInput,
		WorkerResult: workerResult,
		Verdict:      verdict,
		Summary:      summary,
		Artifacts:    artifacts,
	}
	state.History = append(state.History, record)
	state.CycleCount = cycleIndex
	state.LastResumeToken = workerResult.ResumeToken

	if verdict.Verdict == types.VerdictPassed {
		state.Status = types.CycleCompleted
	} else {
		state.Status = types.CycleRunning
		state.CurrentInput = map[string]any{
			"reviewVerdict":  string(verdict.Verdict),
			"reviewFeedback": verdict.Feedback,
			"reviewReason":   verdict.Reason,
			"verifiedItems":  verdict.Verified,
		}
	}

	if err := o.store.Save(state); err != nil {
		return state, err
	}

	o.emit(sessionID, "cycle_end", map[string]any{"cycleIndex": cycleIndex, "status": state.Status})
	if state.Status == types.CycleCompleted {
		o.emit(sessionID, "done", map[string]any{"cycleCount": state.CycleCount})
	}
	return state, nil
}

func (o *Orchestrator) failCycle(state types.SessionState, cycleIndex int, startedAt int64, result types.LLMResult, reason string) (types.SessionState, error) {
	record := types.CycleRecord{
		Index:        cycleIndex,
		StartedAt:    startedAt,
		EndedAt:      time.Now().UnixMilli(),
		InputPayload: state.CurrentInput,
		WorkerResult: result,
		Verdict:      types.CheckerVerdict{Verdict: types.VerdictWorkerException, Reason: reason},
		Summary:      "worker exception",
	}
	state.History = append(state.History, record)
	state.CycleCount = cycleIndex
	state.Status = types.CycleFailed
	state.LastError = reason
	err := o.store.Save(state)
	o.emit(state.SessionID, "error", map[string]string{"content": reason})
	return state, err
}

func (o *Orchestrator) handleExhausted(state types.SessionState) (types.SessionState, error) {
	if state.ResetOnExhaust && state.ResetLimit > 0 && state.ResetCount < state.ResetLimit {
		state.ResetCount++
		state.CycleCount = 0
		state.Status = types.CyclePending
		state.CurrentInput = cloneInput(state.InitialInput)
		o.emit(state.SessionID, "system", map[string]string{"content": "cycle budget reset"})
		return state, o.store.Save(state)
	}
	state.Status = types.CycleFailed
	state.LastError = "max_cycles"
	o.emit(state.SessionID, "error", map[string]string{"content": state.LastError})
	return state, o.store.Save(state)
}

func (o *Orchestrator) emit(sessionID, eventType string, payload any) {
	if o.buf == nil {
		return
	}
	o.buf.Append(sessionID, eventType, payload)
}

func cloneInput(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = v
	}
	return out
}

// substitutePlaceholders performs the literal {{TIME}}/{{CWD}} substitution
// exactly once before dispatch.
func substitutePlaceholders(prompt, workspace string) string {
	now := time.Now().UTC().Format("2006-01-02 15:04 UTC")
	prompt = strings.Replace(prompt, "{{TIME}}", now, 1)
	prompt = strings.Replace(prompt, "{{CWD}}", workspace, 1)
	return prompt
}

// buildWorkerPrompt assembles the Worker's user prompt: the context preamble
// with its placeholders, the task objective, the configured user-prompt
// template, and a JSON dump of the current input payload.
func buildWorkerPrompt(task, template string, input map[string]any) string {
	var sections []string
	sections = append(sections, "Current Time: {{TIME}}\n"+
		"Current Working Directory: {{CWD}}\n"+
		"Use the current time for any date-related work. Keep all file operations inside the current working directory.")

	if task != "" {
		sections = append(sections, strings.TrimSpace(task))
	}
	if template != "" {
		sections = append(sections, strings.TrimSpace(template))
	}
	if len(input) > 0 {
		data, _ := json.MarshalIndent(input, "", "  ")
		sections = append(sections, "Input:\n"+string(data))
	}
	text := strings.TrimSpace(strings.Join(sections, "\n\n"))
	if text == "" {
		return " "
	}
	return text
}

// buildCheckerPrompt assembles the Checker's user prompt: objective,
// expected outcome, the Worker's claimed output, and any reported error.
func buildCheckerPrompt(task, expectedOutcome, template string, workerResult types.LLMResult) string {
	output := workerResult.Text
	var parsed map[string]any
	if json.Unmarshal([]byte(workerResult.Text), &parsed) == nil {
		if data, err := json.MarshalIndent(parsed, "", "  "); err == nil {
			output = string(data)
		}
	}
	errText := "None"
	if workerResult.Error != "" {
		errText = workerResult.Error
	}
	if expectedOutcome == "" {
		expectedOutcome = "The task objective is fully met."
	}
	if template == "" {
		template = "Verify the Worker's claims using available tools and render your verdict as JSON: " +
			`{"verdict": "failed"|"needs_improvement"|"passed", "reason": "...", "feedback": "...", "verified": ["..."]}`
	}
	return fmt.Sprintf(
		"# Task Objective\n%s\n\n# Expected Outcome\n%s\n\n# Worker's Claimed Output\n%s\n\nError reported: %s\n\n%s",
		task, expectedOutcome, output, errText, template,
	)
}

// parseVerdict tolerantly extracts the Checker's verdict JSON from its
// response text. It prefers a
// fenced ```json block, then falls back to the first balanced `{...}`
// object found by a bracket-counting scan, since Checker output
// occasionally wraps the object in prose despite being asked for JSON
// only. gjson validates the candidate and reads the verdict fields.
func parseVerdict(responseText string) types.CheckerVerdict {
	candidate := extractJSONCandidate(responseText)
	if candidate == "" {
		return types.CheckerVerdict{Verdict: types.VerdictCheckerParseError, Reason: "checker_parsing_error", Feedback: truncate(responseText, 200)}
	}

	if !gjson.Valid(candidate) {
		return types.CheckerVerdict{Verdict: types.VerdictCheckerParseError, Reason: "checker_parsing_error", Feedback: truncate(responseText, 200)}
	}

	result := gjson.Parse(candidate)
	verdictStr := result.Get("verdict").String()
	if verdictStr == "" {
		verdictStr = string(types.VerdictFailed)
	}

	var verified []string
	for _, v := range result.Get("verified").Array() {
		verified = append(verified, v.String())
	}

	return types.CheckerVerdict{
		Verdict:  types.Verdict(verdictStr),
		Reason:   result.Get("reason").String(),
		Feedback: result.Get("feedback").String(),
		Verified: verified,
	}
}

func extractJSONCandidate(text string) string {
	if start := strings.Index(text, "```json"); start != -1 {
		rest := text[start+len("```json"):]
		if end := strings.Index(rest, "```"); end != -1 {
			return strings.TrimSpace(rest[:end])
		}
	}
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}
	depth, inString, escaped := 0, false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ingestSentinelOutput reads and archives a Worker-produced __output.json,
// overwriting workerResult.Text with its contents and registering the
// archive filename as the cycle's artifact. The file's keys, including any
// "files" list, pass through to the Checker untouched inside that text.
// Best-effort: a missing or malformed file never fails the cycle.
func ingestSentinelOutput(sessionID, outputPath, workspace string, cycleIndex int, workerResult *types.LLMResult) (summary string, artifacts []string) {
	summary = firstLine(workerResult.Text)
	if summary == "" {
		summary = "no text output"
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return summary, artifacts
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		// Best-effort repair: pull the first balanced object out of the
		// file the same way checker verdicts are recovered.
		candidate := extractJSONCandidate(string(data))
		if candidate == "" || json.Unmarshal([]byte(candidate), &parsed) != nil {
			logging.Session("orchestrator", sessionID).Warn().Err(err).Msg("malformed __output.json, ignoring")
			return summary, artifacts
		}
		data = []byte(candidate)
	}

	if reserialized, err := json.Marshal(parsed); err == nil {
		workerResult.Text = string(reserialized)
	}

	archiveName := fmt.Sprintf("__output_cycle_%04d.json", cycleIndex)
	archivePath := filepath.Join(workspace, archiveName)
	if err := os.WriteFile(archivePath, data, 0644); err == nil {
		artifacts = append(artifacts, archiveName)
	}

	return summary + " [output from __output.json]", artifacts
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx != -1 {
		return s[:idx]
	}
	return s
}
