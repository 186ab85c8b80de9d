// Command raibid-jobs is a deliberately thin list/get/trigger/cancel/
// tail client over the Query API (spec §4.6), grounded in
// original_source's crates/cli/src/api/mod.rs ApiClient. It exists only
// so the Query API has a calling client exercising every endpoint — the
// full TUI/CLI surface is an excluded external collaborator.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type apiClient struct {
	baseURL string
	http    *http.Client
	// streamHTTP backs tailLogs, whose --follow mode is meant to run
	// for as long as the job does (up to the pipeline's overall
	// timeout). http.Client.Timeout bounds the whole round trip
	// including reading the body, so it cannot share http's 30s
	// deadline the way short-lived get/post calls do.
	streamHTTP *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: 30 * time.Second},
		streamHTTP: &http.Client{},
	}
}

type jobSnapshot struct {
	ID         string     `json:"id"`
	Repo       string     `json:"repo"`
	Branch     string     `json:"branch"`
	Commit     string     `json:"commit"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
}

type jobList struct {
	Jobs  []jobSnapshot `json:"jobs"`
	Total int           `json:"total"`
}

type logEntry struct {
	Sequence uint64    `json:"sequence"`
	Time     time.Time `json:"timestamp"`
	Stream   string    `json:"stream"`
	StepName string    `json:"step_name"`
	Message  string    `json:"message"`
}

type listQuery struct {
	Status string
	Repo   string
	Branch string
	Limit  int
	Offset int
}

func (c *apiClient) listJobs(q listQuery) (*jobList, error) {
	v := url.Values{}
	if q.Status != "" {
		v.Set("status", q.Status)
	}
	if q.Repo != "" {
		v.Set("repo", q.Repo)
	}
	if q.Branch != "" {
		v.Set("branch", q.Branch)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}

	var out jobList
	if err := c.get("/jobs?"+v.Encode(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) getJob(id string) (*jobSnapshot, error) {
	var out jobSnapshot
	if err := c.get("/jobs/"+id, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) triggerJob(repo, branch, commit string) (*jobSnapshot, error) {
	body, _ := json.Marshal(map[string]string{"repo": repo, "branch": branch, "commit": commit})
	var out jobSnapshot
	if err := c.post("/jobs", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) cancelJob(id string) (*jobSnapshot, error) {
	var out jobSnapshot
	if err := c.post("/jobs/"+id+"/cancel", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// tailLogs streams NDJSON log entries to fn until the server closes
// the connection (job terminal marker observed) or an error occurs.
func (c *apiClient) tailLogs(id string, follow bool, fn func(logEntry)) error {
	v := url.Values{}
	if follow {
		v.Set("follow", "true")
	}
	resp, err := c.streamHTTP.Get(c.baseURL + "/jobs/" + id + "/logs?" + v.Encode())
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("logs request failed with status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var entry logEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		fn(entry)
	}
	return scanner.Err()
}

func (c *apiClient) get(path string, out any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

func (c *apiClient) post(path string, body []byte, out any) error {
	resp, err := c.http.Post(c.baseURL+path, "application/json", bytesReaderOrNil(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

func bytesReaderOrNil(body []byte) io.Reader {
	if body == nil {
		return http.NoBody
	}
	return bytes.NewReader(body)
}

func decodeOrError(resp *http.Response, out any) error {
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
