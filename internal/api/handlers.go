package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/raibid-labs/raibid-ci/internal/jobmodel"
	"github.com/raibid-labs/raibid-ci/internal/queue"
	"github.com/raibid-labs/raibid-ci/internal/raiberr"
)

type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Uptime: time.Since(s.cfg.StartedAt).Round(time.Second).String(),
	})
}

// handleHealthLive reports this process is up, independent of
// dependency health — used for liveness probes that should not
// restart the process over a transient Redis outage.
func (s *Server) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Uptime: time.Since(s.cfg.StartedAt).Round(time.Second).String()})
}

// handleHealthReady additionally pings the queue substrate, so a load
// balancer can stop routing traffic here while Redis is unreachable.
func (s *Server) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.q.Depth(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "queue substrate unreachable")
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ready", Uptime: time.Since(s.cfg.StartedAt).Round(time.Second).String()})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := queue.ListFilter{
		Status: queue.Status(q.Get("status")),
		Repo:   q.Get("repo"),
		Branch: q.Get("branch"),
		Limit:  atoiOr(q.Get("limit"), 25),
		Offset: atoiOr(q.Get("offset"), 0),
	}

	result, err := s.q.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	snapshots := make([]jobmodel.Snapshot, 0, len(result.Jobs))
	for _, j := range result.Jobs {
		snapshots = append(snapshots, j.Snapshot())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  snapshots,
		"total": result.Total,
	})
}

type triggerRequest struct {
	Repo   string `json:"repo"`
	Branch string `json:"branch"`
	Commit string `json:"commit"`
}

func (s *Server) handleTriggerJob(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	var req triggerRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Repo == "" || req.Branch == "" {
		writeError(w, http.StatusBadRequest, "repo and branch are required")
		return
	}

	job := jobmodel.NewJob(uuid.NewString(), req.Repo, req.Branch, req.Commit, "", jobmodel.SourceManualTrigger, time.Now())
	if _, err := s.q.Enqueue(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	writeJSON(w, http.StatusCreated, job.Snapshot())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.q.GetJob(r.Context(), id)
	if err != nil {
		if raiberr.Is(err, raiberr.KindNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch job")
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

// handleCancelJob writes status=cancelled via UpdateStatus. Per spec
// §4.6 this returns 200 with the updated job even when the job was
// already running (actual termination happens asynchronously via the
// worker's cancellation poll), 404 if unknown, 409 if already terminal.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.q.UpdateStatus(r.Context(), id, func(j *jobmodel.Job) error {
		if j.IsTerminal() {
			return raiberr.New(raiberr.KindConflict, "job already in a terminal state")
		}
		return j.Transition(jobmodel.StatusCancelled)
	})
	if err != nil {
		if raiberr.Is(err, raiberr.KindNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		if raiberr.Is(err, raiberr.KindConflict) {
			writeError(w, http.StatusConflict, "job already in a terminal state")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

// handleJobLogs serves the backlog (follow=false) or streams new
// entries as chunked transfer (follow=true) until the job's terminal
// marker is observed or the client disconnects.
//
// follow=true can legitimately run for as long as the job does (up to
// the pipeline's overall timeout), well past the server's WriteTimeout,
// so the per-request write deadline is cleared before any bytes are
// written (a ResponseWriter that does not support deadlines has none to
// clear) — the stream is bounded instead by r.Context() (severed on
// client disconnect) and by the log store closing entries once the
// job reaches a terminal state.
func (s *Server) handleJobLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()
	follow := q.Get("follow") == "true"
	fromSeq := uint64(atoiOr(q.Get("tail"), 0))

	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		writeError(w, http.StatusInternalServerError, "response does not support streaming")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)

	entries, errs := s.logs.Tail(r.Context(), id, fromSeq, follow)
	enc := json.NewEncoder(w)
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return
			}
			if err := enc.Encode(entry); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		case err, ok := <-errs:
			if ok && err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleJobLogsWS is the websocket companion to handleJobLogs for TUI
// clients that want a persistent connection rather than chunked HTTP.
func (s *Server) handleJobLogsWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()
	fromSeq := uint64(atoiOr(q.Get("tail"), 0))

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go drainClientCloses(conn, cancel)

	entries, errs := s.logs.Tail(ctx, id, fromSeq, true)
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return
			}
			if err := conn.WriteJSON(entry); err != nil {
				return
			}
		case err, ok := <-errs:
			if ok && err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// drainClientCloses reads (and discards) client frames so the
// websocket library's control-frame handling (ping/pong/close) keeps
// running, cancelling ctx once the client disconnects.
func drainClientCloses(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
