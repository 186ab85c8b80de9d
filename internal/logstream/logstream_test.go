package logstream

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/raibid-labs/raibid-ci/internal/jobmodel"
	"github.com/raibid-labs/raibid-ci/internal/queue"
)

func newTestStore(t *testing.T) (*Store, *queue.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	q := queue.NewClient(queue.Config{URL: "redis://" + mr.Addr()})
	if err := q.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return NewStore(q), q
}

func TestAppendAndBacklog(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.Append(ctx, "job1", jobmodel.StreamStdout, "build", "line"); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	entries, err := s.Backlog(ctx, "job1", 0)
	if err != nil {
		t.Fatalf("backlog: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Sequence != uint64(i+1) {
			t.Fatalf("expected sequence %d, got %d", i+1, e.Sequence)
		}
	}
}

func TestBacklogFromOffset(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := s.Append(ctx, "job2", jobmodel.StreamStdout, "test", "line"); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	entries, err := s.Backlog(ctx, "job2", 3)
	if err != nil {
		t.Fatalf("backlog: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries from seq 3, got %d", len(entries))
	}
	if entries[0].Sequence != 3 {
		t.Fatalf("expected first sequence 3, got %d", entries[0].Sequence)
	}
}

func TestTailWithoutFollowStopsAtBacklog(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := s.Append(ctx, "job3", jobmodel.StreamStdout, "build", "line"); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	entries, errs := s.Tail(ctx, "job3", 0, false)
	got := 0
	for range entries {
		got++
	}
	if err := <-errs; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 2 {
		t.Fatalf("expected 2 entries, got %d", got)
	}
}

func TestTailStopsAtTerminalMarker(t *testing.T) {
	s, _ := newTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.Append(ctx, "job4", jobmodel.StreamStdout, "build", "line one"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.MarkTerminal(ctx, "job4"); err != nil {
		t.Fatalf("mark terminal: %v", err)
	}

	entries, errs := s.Tail(ctx, "job4", 0, true)
	got := 0
	for range entries {
		got++
	}
	if err := <-errs; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected 1 entry before terminal marker, got %d", got)
	}
}
