package types

// CycleStatus is the lifecycle of an autonomous SessionState.
type CycleStatus string

const (
	CyclePending   CycleStatus = "pending"
	CycleRunning   CycleStatus = "running"
	CycleCompleted CycleStatus = "completed"
	CycleFailed    CycleStatus = "failed"
	CycleCancelled CycleStatus = "cancelled"
)

// Verdict is the Checker's judgment of one cycle's Worker output.
type Verdict string

const (
	VerdictFailed            Verdict = "failed"
	VerdictNeedsImprovement  Verdict = "needs_improvement"
	VerdictPassed            Verdict = "passed"
	VerdictCheckerParseError Verdict = "checker_parsing_error"
	VerdictWorkerException   Verdict = "worker_exception"
)

// LLMResult is what one Worker or Checker invocation produced.
type LLMResult struct {
	Text        string         `json:"text"`
	ToolCalls   []string       `json:"toolCalls,omitempty"`
	ToolResults []string       `json:"toolResults,omitempty"`
	ResumeToken string         `json:"resumeToken,omitempty"`
	Usage       map[string]int `json:"usage,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// CheckerVerdict is the parsed shape of the Checker's JSON response.
type CheckerVerdict struct {
	Verdict  Verdict  `json:"verdict"`
	Reason   string   `json:"reason"`
	Feedback string   `json:"feedback"`
	Verified []string `json:"verified"`
}

// CycleRecord is one pass of Worker -> Checker in autonomous mode.
type CycleRecord struct {
	Index        int            `json:"index"`
	StartedAt    int64          `json:"startedAt"`
	EndedAt      int64          `json:"endedAt"`
	InputPayload map[string]any `json:"inputPayload"`
	WorkerResult LLMResult      `json:"workerResult"`
	Verdict      CheckerVerdict `json:"verdict"`
	Summary      string         `json:"summary"`
	Artifacts    []string       `json:"artifacts,omitempty"`
}

// Duration is the cycle's wall-clock span in milliseconds.
func (c CycleRecord) Duration() int64 { return c.EndedAt - c.StartedAt }

// SessionState is the durable autonomous-mode counterpart to Session: cycle
// history plus budget/reset bookkeeping.
type SessionState struct {
	SessionID       string         `json:"sessionId"`
	Task            string         `json:"task"`
	ExpectedOutcome string         `json:"expectedOutcome,omitempty"`
	History         []CycleRecord  `json:"history"`
	CycleCount      int            `json:"cycleCount"`
	CycleBudget     int            `json:"cycleBudget"`
	ResetOnExhaust  bool           `json:"resetOnExhaust"`
	ResetLimit      int            `json:"resetLimit"`
	ResetCount      int            `json:"resetCount"`
	Status          CycleStatus    `json:"status"`
	LastError       string         `json:"lastError,omitempty"`
	InitialInput    map[string]any `json:"initialInput"`
	CurrentInput    map[string]any `json:"currentInput"`
	LastResumeToken string         `json:"lastResumeToken,omitempty"`
}
