package taskrunner

import (
	"context"
	"testing"
	"time"

	"github.com/super-agent/runtime/internal/eventbuf"
)

func newTestRunner(t *testing.T) (*Runner, *eventbuf.Buffer) {
	t.Helper()
	buf := eventbuf.New(t.TempDir())
	r := New(t.TempDir(), buf, nil)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return r, buf
}

func TestRunner_StartTaskCompletes(t *testing.T) {
	r, _ := newTestRunner(t)

	producer := func(ctx context.Context, emit func(string, any)) {
		emit("text", map[string]string{"text": "hi"})
		emit("done", map[string]string{"status": "ok"})
	}

	taskID, err := r.StartTask("s1", "do a thing", producer)
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	if taskID == "" {
		t.Fatal("expected non-empty task id")
	}

	deadline := time.After(2 * time.Second)
	for {
		exec, ok := r.GetStatus("s1")
		if !ok {
			t.Fatal("expected status to exist")
		}
		if exec.Status == StatusCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for completion, last status: %+v", exec)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRunner_StartTaskRejectsWhenBusy(t *testing.T) {
	r, _ := newTestRunner(t)

	block := make(chan struct{})
	producer := func(ctx context.Context, emit func(string, any)) {
		<-block
		emit("done", nil)
	}

	if _, err := r.StartTask("s1", "first", producer); err != nil {
		t.Fatalf("StartTask: %v", err)
	}

	_, err := r.StartTask("s1", "second", producer)
	if err == nil {
		t.Fatal("expected an error starting a second task on a busy session")
	}

	close(block)
}

func TestRunner_InterruptFallsBackToCancellation(t *testing.T) {
	r, _ := newTestRunner(t)

	started := make(chan struct{})
	producer := func(ctx context.Context, emit func(string, any)) {
		close(started)
		<-ctx.Done()
	}

	if _, err := r.StartTask("s1", "long running", producer); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	<-started

	if !r.Interrupt("s1") {
		t.Fatal("expected Interrupt to report success")
	}

	exec, ok := r.GetStatus("s1")
	if !ok || exec.Status != StatusCompleted {
		t.Fatalf("expected completed status after interrupt, got %+v", exec)
	}
}

func TestRunner_MarkViewedClearsUnread(t *testing.T) {
	r, _ := newTestRunner(t)

	producer := func(ctx context.Context, emit func(string, any)) {
		emit("done", nil)
	}
	if _, err := r.StartTask("s1", "p", producer); err != nil {
		t.Fatalf("StartTask: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		exec, _ := r.GetStatus("s1")
		if exec.Status == StatusCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for completion")
		case <-time.After(10 * time.Millisecond):
		}
	}

	exec, _ := r.GetStatus("s1")
	if !exec.HasUnread() {
		t.Fatal("expected unread after completion")
	}

	r.MarkViewed("s1")
	exec, _ = r.GetStatus("s1")
	if exec.HasUnread() {
		t.Fatal("expected no unread after MarkViewed")
	}
}

func TestRunner_ClearRemovesState(t *testing.T) {
	r, _ := newTestRunner(t)
	producer := func(ctx context.Context, emit func(string, any)) {
		emit("done", nil)
	}
	if _, err := r.StartTask("s1", "p", producer); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	r.Clear("s1")

	_, ok := r.GetStatus("s1")
	if ok {
		t.Fatal("expected no status after Clear")
	}
}
