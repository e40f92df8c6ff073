package eventbuf

import (
	"context"
	"testing"
	"time"
)

func TestBuffer_AppendAndCache(t *testing.T) {
	b := New(t.TempDir())
	b.Append("s1", "text", map[string]string{"text": "hi"})
	b.Append("s1", "done", map[string]string{"status": "ok"})

	cached := b.Cached("s1")
	if len(cached) != 2 {
		t.Fatalf("expected 2 cached events, got %d", len(cached))
	}
	if cached[0].Type != "text" || cached[1].Type != "done" {
		t.Fatalf("events out of order: %+v", cached)
	}
}

func TestBuffer_SubscribeAfterTerminalSeesCacheOnly(t *testing.T) {
	b := New(t.TempDir())
	b.Append("s1", "text", "a")
	b.Append("s1", "done", "b")

	cached, live, unsub, err := b.Subscribe(context.Background(), "s1")
	defer unsub()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if len(cached) != 2 {
		t.Fatalf("expected 2 cached events, got %d", len(cached))
	}
	select {
	case _, ok := <-live:
		if ok {
			t.Fatal("expected closed channel for a terminal session, got a live event")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for closed live channel")
	}
}

func TestBuffer_SubscribeLiveReceivesFutureEvents(t *testing.T) {
	b := New(t.TempDir())

	_, live, unsub, err := b.Subscribe(context.Background(), "s2")
	defer unsub()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	b.Append("s2", "text", "hello")

	select {
	case ev := <-live:
		if ev.Type != "text" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live event")
	}
}

func TestBuffer_LoadAllReplaysDiskLog(t *testing.T) {
	dir := t.TempDir()
	b1 := New(dir)
	b1.Append("s3", "text", "persisted")
	b1.Append("s3", "done", nil)

	b2 := New(dir)
	ids, err := b2.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(ids) != 1 || ids[0] != "s3" {
		t.Fatalf("expected [s3], got %v", ids)
	}
	cached := b2.Cached("s3")
	if len(cached) != 2 {
		t.Fatalf("expected 2 replayed events, got %d", len(cached))
	}
}
