package orchestrator_test

import (
	"context"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/super-agent/runtime/internal/eventbuf"
	"github.com/super-agent/runtime/internal/orchestrator"
	"github.com/super-agent/runtime/pkg/types"
)

type memStore struct {
	mu     sync.Mutex
	states map[string]types.SessionState
}

func newMemStore() *memStore { return &memStore{states: make(map[string]types.SessionState)} }

func (s *memStore) Load(sessionID string) (types.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[sessionID], nil
}

func (s *memStore) Save(state types.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.SessionID] = state
	return nil
}

type stubWorker struct {
	results []types.LLMResult
	prompts []string
	calls   int
}

func (w *stubWorker) Run(ctx context.Context, prompt, workspace, resumeToken string) (types.LLMResult, error) {
	w.prompts = append(w.prompts, prompt)
	r := w.results[w.calls%len(w.results)]
	w.calls++
	return r, nil
}

var _ = Describe("Orchestrator", func() {
	var (
		store   *memStore
		buf     *eventbuf.Buffer
		worker  *stubWorker
		checker *stubWorker
		orch    *orchestrator.Orchestrator
	)

	BeforeEach(func() {
		store = newMemStore()
		buf = eventbuf.New(GinkgoT().TempDir())
		worker = &stubWorker{results: []types.LLMResult{{Text: "did the thing"}}}
		checker = &stubWorker{results: []types.LLMResult{{Text: `{"verdict":"passed","reason":"looks right"}`}}}
		orch = orchestrator.New(store, worker, checker, buf, func(string) string { return GinkgoT().TempDir() }, orchestrator.Templates{})
	})

	It("completes a session when the checker passes on the first cycle", func() {
		_, err := orch.CreateSession("sess-1", orchestrator.SessionParams{Task: "do the thing", CycleBudget: 3})
		Expect(err).NotTo(HaveOccurred())

		state, err := orch.RunOnce(context.Background(), "sess-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(state.Status).To(Equal(types.CycleCompleted))
		Expect(state.CycleCount).To(Equal(1))
		Expect(state.History).To(HaveLen(1))
		Expect(state.History[0].Verdict.Verdict).To(Equal(types.VerdictPassed))
	})

	It("substitutes the time and working-directory placeholders before dispatch", func() {
		_, err := orch.CreateSession("sess-ph", orchestrator.SessionParams{Task: "do the thing", CycleBudget: 3})
		Expect(err).NotTo(HaveOccurred())

		_, err = orch.RunOnce(context.Background(), "sess-ph")
		Expect(err).NotTo(HaveOccurred())
		Expect(worker.prompts).To(HaveLen(1))
		Expect(worker.prompts[0]).NotTo(ContainSubstring("{{TIME}}"))
		Expect(worker.prompts[0]).NotTo(ContainSubstring("{{CWD}}"))
		Expect(worker.prompts[0]).To(ContainSubstring("UTC"))
	})

	It("hands the checker the task's expected outcome", func() {
		_, err := orch.CreateSession("sess-eo", orchestrator.SessionParams{
			Task:            "do the thing",
			ExpectedOutcome: "hello.py exists and prints hello",
			CycleBudget:     3,
		})
		Expect(err).NotTo(HaveOccurred())

		_, err = orch.RunOnce(context.Background(), "sess-eo")
		Expect(err).NotTo(HaveOccurred())
		Expect(checker.prompts).To(HaveLen(1))
		Expect(checker.prompts[0]).To(ContainSubstring("hello.py exists and prints hello"))
	})

	It("feeds the checker's feedback back into the next cycle's input when not passed", func() {
		checker.results = []types.LLMResult{{Text: `{"verdict":"needs_improvement","reason":"missing tests","feedback":"add tests"}`}}

		_, err := orch.CreateSession("sess-2", orchestrator.SessionParams{Task: "do the thing", CycleBudget: 3})
		Expect(err).NotTo(HaveOccurred())

		state, err := orch.RunOnce(context.Background(), "sess-2")
		Expect(err).NotTo(HaveOccurred())
		Expect(state.Status).To(Equal(types.CycleRunning))
		Expect(state.CurrentInput["reviewReason"]).To(Equal("missing tests"))
	})

	It("fails the session once the cycle budget is exhausted without a reset", func() {
		checker.results = []types.LLMResult{{Text: `{"verdict":"failed","reason":"nope"}`}}

		_, err := orch.CreateSession("sess-3", orchestrator.SessionParams{Task: "do the thing", CycleBudget: 1})
		Expect(err).NotTo(HaveOccurred())

		_, err = orch.RunOnce(context.Background(), "sess-3")
		Expect(err).NotTo(HaveOccurred())

		state, err := orch.RunOnce(context.Background(), "sess-3")
		Expect(err).NotTo(HaveOccurred())
		Expect(state.Status).To(Equal(types.CycleFailed))
		Expect(state.LastError).To(Equal("max_cycles"))
	})

	It("fails a zero-budget session without ever invoking the worker", func() {
		_, err := orch.CreateSession("sess-zb", orchestrator.SessionParams{Task: "do the thing", CycleBudget: 0})
		Expect(err).NotTo(HaveOccurred())

		state, err := orch.RunOnce(context.Background(), "sess-zb")
		Expect(err).NotTo(HaveOccurred())
		Expect(state.Status).To(Equal(types.CycleFailed))
		Expect(state.LastError).To(Equal("max_cycles"))
		Expect(worker.calls).To(BeZero())
	})

	It("resets instead of failing when reset-on-exhaust is configured", func() {
		checker.results = []types.LLMResult{{Text: `{"verdict":"failed","reason":"nope"}`}}

		_, err := orch.CreateSession("sess-4", orchestrator.SessionParams{Task: "do the thing", CycleBudget: 1, ResetOnExhaust: true, ResetLimit: 2})
		Expect(err).NotTo(HaveOccurred())

		_, err = orch.RunOnce(context.Background(), "sess-4")
		Expect(err).NotTo(HaveOccurred())

		state, err := orch.RunOnce(context.Background(), "sess-4")
		Expect(err).NotTo(HaveOccurred())
		Expect(state.Status).To(Equal(types.CyclePending))
		Expect(state.ResetCount).To(Equal(1))
		Expect(state.CycleCount).To(Equal(0))
	})

	It("treats a malformed checker verdict as a parsing error rather than crashing", func() {
		checker.results = []types.LLMResult{{Text: "not json at all and no braces either"}}

		_, err := orch.CreateSession("sess-5", orchestrator.SessionParams{Task: "do the thing", CycleBudget: 3})
		Expect(err).NotTo(HaveOccurred())

		state, err := orch.RunOnce(context.Background(), "sess-5")
		Expect(err).NotTo(HaveOccurred())
		Expect(state.History[0].Verdict.Verdict).To(Equal(types.VerdictCheckerParseError))
		Expect(state.Status).To(Equal(types.CycleRunning))
	})
})
