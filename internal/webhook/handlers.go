package webhook

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/raibid-labs/raibid-ci/internal/jobmodel"
	"github.com/raibid-labs/raibid-ci/internal/queue"
)

// Secrets holds the per-flavor HMAC secrets. An empty secret disables
// verification for that flavor (spec §4.1 "development mode").
type Secrets struct {
	Gitea  string
	GitHub string
}

// Response is the JSON body returned on a successful intake.
type Response struct {
	JobID string `json:"job_id"`
}

// Handler verifies, parses and enqueues push events for both flavors.
type Handler struct {
	secrets Secrets
	q       *queue.Client
}

// NewHandler builds an intake Handler bound to q.
func NewHandler(secrets Secrets, q *queue.Client) *Handler {
	return &Handler{secrets: secrets, q: q}
}

// Gitea handles POST /webhooks/gitea.
func (h *Handler) Gitea(w http.ResponseWriter, r *http.Request) {
	h.intake(w, r, FlavorGitea)
}

// GitHub handles POST /webhooks/github.
func (h *Handler) GitHub(w http.ResponseWriter, r *http.Request) {
	h.intake(w, r, FlavorGitHub)
}

func (h *Handler) intake(w http.ResponseWriter, r *http.Request, flavor Flavor) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	secret, header := h.secretAndHeader(flavor)
	if secret != "" {
		signature := r.Header.Get(header)
		if signature == "" {
			writeError(w, http.StatusUnauthorized, "missing signature header")
			return
		}
		if !verify(flavor, body, signature, secret) {
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	event, err := parse(flavor, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook payload: "+err.Error())
		return
	}

	job := jobmodel.NewJob(uuid.NewString(), event.Repo, event.Branch, event.Commit, event.Author, jobmodel.SourceWebhookPush, time.Now())
	if _, err := h.q.Enqueue(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(Response{JobID: job.ID})
}

func (h *Handler) secretAndHeader(flavor Flavor) (secret, header string) {
	switch flavor {
	case FlavorGitea:
		return h.secrets.Gitea, "X-Gitea-Signature"
	case FlavorGitHub:
		return h.secrets.GitHub, "X-Hub-Signature-256"
	default:
		return "", ""
	}
}

func verify(flavor Flavor, body []byte, signature, secret string) bool {
	switch flavor {
	case FlavorGitea:
		return VerifyGitea(body, signature, secret)
	case FlavorGitHub:
		return VerifyGitHub(body, signature, secret)
	default:
		return false
	}
}

func parse(flavor Flavor, body []byte) (PushEvent, error) {
	switch flavor {
	case FlavorGitea:
		var p GiteaPushPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return PushEvent{}, err
		}
		return p.toEvent(), nil
	case FlavorGitHub:
		var p GitHubPushPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return PushEvent{}, err
		}
		return p.toEvent(), nil
	default:
		return PushEvent{}, fmt.Errorf("unknown webhook flavor %q", flavor)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
