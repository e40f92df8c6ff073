// Package taskrunner supervises one background task per session,
// decoupled from any single client connection: a client may disconnect
// mid-task and replay the buffered events on reconnect. Execution state
// persists across process restarts via atomic rename-after-write.
package taskrunner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/super-agent/runtime/internal/eventbuf"
	"github.com/super-agent/runtime/internal/logging"
	"github.com/super-agent/runtime/internal/runtime"
)

// Producer is a lazy sequence of events: a function driving an emit
// callback until it produces a terminal event type (done/error), panics,
// or ctx is cancelled.
type Producer func(ctx context.Context, emit func(eventType string, payload any))

// Interruptible is implemented by SessionManager. TaskRunner calls it
// before falling back to plain cancellation.
type Interruptible interface {
	Interrupt(sessionID string) bool
}

type execState struct {
	execution *TaskExecution
	cancel    context.CancelFunc
	done      chan struct{}
}

// Runner is the TaskRunner.
type Runner struct {
	basePath string
	buf      *eventbuf.Buffer
	interr   Interruptible

	mu       sync.Mutex
	sessions map[string]*execState
}

// New creates a Runner. basePath is the `tasks/` directory.
func New(basePath string, buf *eventbuf.Buffer, interr Interruptible) *Runner {
	return &Runner{
		basePath: basePath,
		buf:      buf,
		interr:   interr,
		sessions: make(map[string]*execState),
	}
}

func (r *Runner) sessionDir(sessionID string) string {
	return filepath.Join(r.basePath, sessionID)
}

func (r *Runner) currentPath(sessionID string) string {
	return filepath.Join(r.sessionDir(sessionID), "current")
}

// Start initializes the runner, restoring any persisted state. A session
// whose persisted status was "running" at startup is promoted to "error"
// with the viewed flag cleared.
func (r *Runner) Start() error {
	if err := os.MkdirAll(r.basePath, 0755); err != nil {
		return err
	}
	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sessionID := entry.Name()
		data, err := os.ReadFile(r.currentPath(sessionID))
		if err != nil {
			continue
		}
		var exec TaskExecution
		if err := json.Unmarshal(data, &exec); err != nil {
			logging.Session("taskrunner", sessionID).Warn().Err(err).Msg("skipping malformed current execution record")
			continue
		}

		if exec.Status == StatusRunning {
			exec.Status = StatusError
			reason := "server restarted during execution"
			exec.Error = &reason
			now := time.Now().UnixMilli()
			exec.CompletedAt = &now
			exec.Viewed = false
			if err := r.save(exec); err != nil {
				logging.Session("taskrunner", sessionID).Error().Err(err).Msg("failed to persist restart recovery")
			}
			r.buf.MarkTerminal(sessionID)
			logging.Session("taskrunner", sessionID).Warn().Msg("task marked as error: " + runtime.ErrServerRestartRecovery.Error())
		}

		r.mu.Lock()
		r.sessions[sessionID] = &execState{execution: &exec, done: make(chan struct{})}
		close(r.sessions[sessionID].done)
		r.mu.Unlock()
	}
	return nil
}

func (r *Runner) save(exec TaskExecution) error {
	dir := r.sessionDir(exec.SessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(exec, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.currentPath(exec.SessionID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, r.currentPath(exec.SessionID))
}

// StartTask begins a new task for a session. Preconditions: no existing
// running execution for that session.
func (r *Runner) StartTask(sessionID, prompt string, producer Producer) (string, error) {
	r.mu.Lock()
	if st, ok := r.sessions[sessionID]; ok && st.execution.Status == StatusRunning {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: session %s already has a running task", runtime.ErrSessionBusy, sessionID)
	}

	taskID := ulid.Make().String()
	exec := &TaskExecution{
		TaskID:    taskID,
		SessionID: sessionID,
		Prompt:    prompt,
		Status:    StatusRunning,
		StartedAt: time.Now().UnixMilli(),
	}

	r.buf.Reset(sessionID)

	ctx, cancel := context.WithCancel(context.Background())
	st := &execState{execution: exec, cancel: cancel, done: make(chan struct{})}
	r.sessions[sessionID] = st
	r.mu.Unlock()

	if err := r.save(*exec); err != nil {
		return "", err
	}

	go r.run(ctx, st, producer)

	logging.Session("taskrunner", sessionID).Info().Str("taskID", taskID).Msg("started task")
	return taskID, nil
}

func (r *Runner) run(ctx context.Context, st *execState, producer Producer) {
	defer close(st.done)

	terminal := false
	emit := func(eventType string, payload any) {
		r.buf.Append(st.execution.SessionID, eventType, payload)

		r.mu.Lock()
		st.execution.EventCount++
		switch eventType {
		case "done":
			terminal = true
			st.execution.Status = StatusCompleted
		case "error":
			terminal = true
			st.execution.Status = StatusError
			msg := errorContentString(payload)
			st.execution.Error = &msg
		}
		if terminal {
			now := time.Now().UnixMilli()
			st.execution.CompletedAt = &now
			st.execution.Viewed = false
		}
		exec := *st.execution
		r.mu.Unlock()

		if err := r.save(exec); err != nil {
			logging.Session("taskrunner", exec.SessionID).Error().Err(err).Msg("failed to persist execution")
		}
	}

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.fail(st, fmt.Sprintf("%v", rec), emit)
			}
		}()
		producer(ctx, emit)
	}()

	if !terminal {
		if errors.Is(ctx.Err(), context.Canceled) {
			r.fail(st, "Task was cancelled", emit)
		}
	}
}

func (r *Runner) fail(st *execState, reason string, emit func(string, any)) {
	emit("error", map[string]string{"content": reason})
}

func errorContentString(payload any) string {
	if m, ok := payload.(map[string]string); ok {
		return m["content"]
	}
	data, _ := json.Marshal(payload)
	return string(data)
}

// Interrupt cancels a running task. It first asks the SessionManager for a
// native interrupt; if that fails, it falls back to cancelling the
// background worker. Either way, status moves to completed with a
// synthetic system + done event. A non-running session is a no-op
// returning false.
func (r *Runner) Interrupt(sessionID string) bool {
	r.mu.Lock()
	st, ok := r.sessions[sessionID]
	if !ok || st.execution.Status != StatusRunning {
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()

	interrupted := r.interr != nil && r.interr.Interrupt(sessionID)
	if !interrupted && st.cancel != nil {
		st.cancel()
	}
	// Wait for the producer to unwind before forcing the terminal state, so
	// a late emit from its cancellation path cannot overwrite it.
	<-st.done

	r.mu.Lock()
	now := time.Now().UnixMilli()
	st.execution.Status = StatusCompleted
	st.execution.CompletedAt = &now
	st.execution.Error = nil
	exec := *st.execution
	r.mu.Unlock()
	_ = r.save(exec)

	r.buf.Append(sessionID, "system", map[string]string{"content": "Task interrupted by user"})
	r.buf.Append(sessionID, "done", map[string]any{"interrupted": true})

	logging.Session("taskrunner", sessionID).Info().Msg("session interrupted by user")
	return true
}

// MarkViewed sets the viewed flag true.
func (r *Runner) MarkViewed(sessionID string) {
	r.mu.Lock()
	st, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	st.execution.Viewed = true
	exec := *st.execution
	r.mu.Unlock()
	_ = r.save(exec)
}

// GetStatus returns the current task status for a session.
func (r *Runner) GetStatus(sessionID string) (TaskExecution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.sessions[sessionID]
	if !ok {
		return TaskExecution{}, false
	}
	return *st.execution, true
}

// GetAllStatus returns the status of every known session.
func (r *Runner) GetAllStatus() map[string]StatusSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]StatusSummary, len(r.sessions))
	for id, st := range r.sessions {
		out[id] = StatusSummary{
			TaskID:    st.execution.TaskID,
			Status:    st.execution.Status,
			HasUnread: st.execution.HasUnread(),
			Error:     st.execution.Error,
		}
	}
	return out
}

// IsRunning reports whether a session has a running task.
func (r *Runner) IsRunning(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.sessions[sessionID]
	return ok && st.execution.Status == StatusRunning
}

// Clear cancels any running worker, removes the on-disk task directory, and
// drops the in-memory state. Called on session deletion.
func (r *Runner) Clear(sessionID string) {
	r.mu.Lock()
	st, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	if ok && st.cancel != nil {
		st.cancel()
	}
	_ = os.RemoveAll(r.sessionDir(sessionID))
}
