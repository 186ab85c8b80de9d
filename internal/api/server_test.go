package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/raibid-labs/raibid-ci/internal/jobmodel"
	"github.com/raibid-labs/raibid-ci/internal/queue"
)

func newTestServer(t *testing.T) (*Server, *queue.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	q := queue.NewClient(queue.Config{URL: "redis://" + mr.Addr()})
	if err := q.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { q.Close() })

	s := NewServer(Config{}, q)
	return s, q
}

func TestHealthEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		if rec.Header().Get("X-Request-Id") == "" {
			t.Fatalf("%s: expected X-Request-Id to be set", path)
		}
	}
}

func TestTriggerAndGetJob(t *testing.T) {
	s, _ := newTestServer(t)

	body, _ := json.Marshal(triggerRequest{Repo: "org/repo", Branch: "main"})
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created jobmodel.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != jobmodel.StatusPending {
		t.Fatalf("expected pending, got %s", created.Status)
	}

	req = httptest.NewRequest(http.MethodGet, "/jobs/"+created.ID, nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestTriggerRejectsMissingFields(t *testing.T) {
	s, _ := newTestServer(t)

	body, _ := json.Marshal(triggerRequest{Repo: "org/repo"})
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetJobNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListJobsFiltersByRepo(t *testing.T) {
	s, q := newTestServer(t)

	job1 := jobmodel.NewJob("j1", "org/a", "main", "", "", jobmodel.SourceManualTrigger, time.Now())
	job2 := jobmodel.NewJob("j2", "org/b", "main", "", "", jobmodel.SourceManualTrigger, time.Now())
	if _, err := q.Enqueue(context.Background(), job1); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Enqueue(context.Background(), job2); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/jobs?repo=org/a", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var payload struct {
		Jobs  []jobmodel.Snapshot `json:"jobs"`
		Total int                 `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Total != 1 || len(payload.Jobs) != 1 || payload.Jobs[0].Repo != "org/a" {
		t.Fatalf("unexpected filtered result: %+v", payload)
	}
}

func TestCancelPendingJob(t *testing.T) {
	s, q := newTestServer(t)

	job := jobmodel.NewJob("j3", "org/a", "main", "", "", jobmodel.SourceManualTrigger, time.Now())
	if _, err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/jobs/j3/cancel", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var snap jobmodel.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Status != jobmodel.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", snap.Status)
	}
}

func TestCancelTerminalJobConflicts(t *testing.T) {
	s, q := newTestServer(t)

	job := jobmodel.NewJob("j4", "org/a", "main", "", "", jobmodel.SourceManualTrigger, time.Now())
	if err := job.Transition(jobmodel.StatusRunning); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := job.MarkTerminal(jobmodel.StatusSuccess, time.Now(), 0); err != nil {
		t.Fatalf("mark terminal: %v", err)
	}
	if _, err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/jobs/j4/cancel", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestCancelUnknownJobNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/jobs/nope/cancel", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestJobLogsBacklog(t *testing.T) {
	s, q := newTestServer(t)

	job := jobmodel.NewJob("j5", "org/a", "main", "", "", jobmodel.SourceManualTrigger, time.Now())
	if _, err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.logs.Append(context.Background(), "j5", jobmodel.StreamStdout, "build", "line one"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.logs.MarkTerminal(context.Background(), "j5"); err != nil {
		t.Fatalf("mark terminal: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/jobs/j5/logs", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	dec := json.NewDecoder(rec.Body)
	var entry jobmodel.LogEntry
	if err := dec.Decode(&entry); err != nil {
		t.Fatalf("decode first entry: %v", err)
	}
	if entry.Message != "line one" {
		t.Fatalf("expected line one, got %q", entry.Message)
	}
}

func TestMetricsEndpointServesPrometheusText(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
