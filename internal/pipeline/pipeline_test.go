package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/raibid-labs/raibid-ci/internal/jobmodel"
)

// fakeSink records appended log entries in memory for assertions.
type fakeSink struct {
	mu       sync.Mutex
	entries  []jobmodel.LogEntry
	terminal bool
}

func (f *fakeSink) Append(_ context.Context, jobID string, stream jobmodel.LogStreamKind, step, message string) (jobmodel.LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := jobmodel.LogEntry{JobID: jobID, Sequence: uint64(len(f.entries) + 1), Stream: stream, StepName: step, Message: message}
	f.entries = append(f.entries, e)
	return e, nil
}

func (f *fakeSink) MarkTerminal(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminal = true
	return nil
}

func noopClone(_ context.Context, _ *jobmodel.Job, workDir string) error {
	return nil
}

func allowAll() bool { return false }

func newTestJob(id string) *jobmodel.Job {
	return jobmodel.NewJob(id, "acme/widget", "main", "deadbeef", "alice", jobmodel.SourceWebhookPush, time.Now())
}

func TestRunHappyPath(t *testing.T) {
	sink := &fakeSink{}
	cfg := Config{
		WorkspaceRoot: t.TempDir(),
		RegistryURL:   "registry.example.com",
		Commands: map[StepName][]string{
			StepFormat:      {"true"},
			StepCheck:       {"true"},
			StepClippy:      {"true"},
			StepTest:        {"true"},
			StepAudit:       {"true"},
			StepBuild:       {"true"},
			StepDockerBuild: {"true"},
			StepDockerPush:  {"true"},
		},
		Clone: noopClone,
	}
	r := NewRunner(cfg, sink)

	result, err := r.Run(context.Background(), newTestJob("j1"), allowAll)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(result.Steps) != len(DefaultSequence) {
		t.Fatalf("expected %d steps, got %d", len(DefaultSequence), len(result.Steps))
	}
	for _, s := range result.Steps {
		if !s.Success || s.Skipped {
			t.Fatalf("expected step %s to succeed and not be skipped: %+v", s.StepName, s)
		}
	}
	if !sink.terminal {
		t.Fatal("expected terminal marker to be written")
	}
}

func TestRunFailFastSkipsRemainingSteps(t *testing.T) {
	sink := &fakeSink{}
	cfg := Config{
		WorkspaceRoot: t.TempDir(),
		Commands: map[StepName][]string{
			StepFormat: {"true"},
			StepCheck:  {"false"},
			StepClippy: {"true"},
			StepTest:   {"true"},
			StepBuild:  {"true"},
		},
		Clone: noopClone,
	}
	r := NewRunner(cfg, sink)

	result, err := r.Run(context.Background(), newTestJob("j2"), allowAll)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure")
	}

	byName := map[string]jobmodel.StepResult{}
	for _, s := range result.Steps {
		byName[s.StepName] = s
	}
	if !byName["format"].Success {
		t.Fatal("expected format to succeed")
	}
	if byName["check"].Success {
		t.Fatal("expected check to fail")
	}
	if !byName["clippy"].Skipped || !byName["test"].Skipped || !byName["build"].Skipped {
		t.Fatalf("expected steps after check to be skipped: %+v", result.Steps)
	}
}

func TestRunSkipsDockerPushWithoutRegistry(t *testing.T) {
	sink := &fakeSink{}
	cfg := Config{
		WorkspaceRoot: t.TempDir(),
		Commands: map[StepName][]string{
			StepFormat:      {"true"},
			StepCheck:       {"true"},
			StepClippy:      {"true"},
			StepTest:        {"true"},
			StepAudit:       {"true"},
			StepBuild:       {"true"},
			StepDockerBuild: {"true"},
			StepDockerPush:  {"true"},
		},
		Clone: noopClone,
	}
	r := NewRunner(cfg, sink)

	result, err := r.Run(context.Background(), newTestJob("j3"), allowAll)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, s := range result.Steps {
		if s.StepName == "docker-push" && !s.Skipped {
			t.Fatal("expected docker-push to be skipped without a registry URL")
		}
	}
	if !result.Success {
		t.Fatalf("expected overall success despite docker-push skip: %+v", result)
	}
}

func TestRunDisabledAuditIsSkipped(t *testing.T) {
	sink := &fakeSink{}
	cfg := Config{
		WorkspaceRoot: t.TempDir(),
		DisableAudit:  true,
		Commands: map[StepName][]string{
			StepFormat: {"true"},
			StepCheck:  {"true"},
			StepClippy: {"true"},
			StepTest:   {"true"},
			StepAudit:  {"true"},
			StepBuild:  {"true"},
		},
		Clone: noopClone,
	}
	r := NewRunner(cfg, sink)

	result, err := r.Run(context.Background(), newTestJob("j4"), allowAll)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, s := range result.Steps {
		if s.StepName == "audit" && !s.Skipped {
			t.Fatal("expected audit to be skipped when disabled")
		}
	}
}

func TestRunCancellationStopsPipeline(t *testing.T) {
	sink := &fakeSink{}
	cfg := Config{
		WorkspaceRoot: t.TempDir(),
		Commands: map[StepName][]string{
			StepFormat: {"true"},
			StepCheck:  {"true"},
		},
		Clone: noopClone,
	}
	r := NewRunner(cfg, sink)

	result, err := r.Run(context.Background(), newTestJob("j5"), func() bool { return true })
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Success {
		t.Fatal("expected cancelled run to not succeed")
	}
	if result.ReasonCode != "cancelled" {
		t.Fatalf("expected reason code cancelled, got %s", result.ReasonCode)
	}
	if len(result.Steps) != 0 {
		t.Fatalf("expected no steps to run once cancelled, got %d", len(result.Steps))
	}
}

func TestRunStepTimeout(t *testing.T) {
	sink := &fakeSink{}
	cfg := Config{
		WorkspaceRoot: t.TempDir(),
		StepTimeout:   200 * time.Millisecond,
		Commands: map[StepName][]string{
			StepFormat: {"sleep", "5"},
		},
		Clone: noopClone,
	}
	r := NewRunner(cfg, sink)

	result, err := r.Run(context.Background(), newTestJob("j6"), allowAll)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Success {
		t.Fatal("expected timeout to fail the job")
	}
	if len(result.Steps) == 0 || result.Steps[0].ExitCode != ExitTimeout {
		t.Fatalf("expected synthetic timeout exit code, got %+v", result.Steps)
	}
}

func TestClassifyCloneError(t *testing.T) {
	sink := &fakeSink{}
	r := NewRunner(Config{WorkspaceRoot: t.TempDir()}, sink)

	authErr := r.classifyCloneError(context.DeadlineExceeded, "fatal: Authentication failed for 'https://example.com/repo.git'")
	if authErr == nil {
		t.Fatal("expected non-nil classified error")
	}

	transientErr := r.classifyCloneError(context.DeadlineExceeded, "fatal: unable to access: could not resolve host")
	if transientErr == nil {
		t.Fatal("expected non-nil classified error")
	}
}
