// Package worker implements the worker pool described in spec §4.3: a
// bounded-concurrency pool of CI job executors that claim work from the
// queue, run it through the pipeline runner, and report terminal status
// back via cooperative polling rather than heartbeats.
//
// The claim/semaphore/backoff loop is grounded on the teacher's
// internal/worker/runner.go Run/processJob shape; the generic
// JobSource/JobHandler pluggability it offered (multiple job types, a
// Nexus HTTP source, GPU slot tracking) has no counterpart here, since
// raibid has exactly one job type and one substrate (the Redis Streams
// queue), so those seams are collapsed into direct calls to
// internal/queue and internal/pipeline.
package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/raibid-labs/raibid-ci/internal/jobmodel"
	"github.com/raibid-labs/raibid-ci/internal/metrics"
	"github.com/raibid-labs/raibid-ci/internal/pipeline"
	"github.com/raibid-labs/raibid-ci/internal/queue"
	"github.com/raibid-labs/raibid-ci/internal/raiberr"
)

// ActivityFunc receives level/message log lines, mirroring the
// teacher's activityFn seam so a TUI or structured logger can be
// substituted for stdout/stderr.
type ActivityFunc func(level, msg string)

// Config holds pool-wide tuning parameters, with spec §12 defaults.
type Config struct {
	WorkerID           string
	MaxConcurrency     int
	ClaimBlockMs       int
	ReclaimInterval    time.Duration
	ReclaimMinIdleMs   int64
	CancelPollInterval time.Duration
	ActivityFn         ActivityFunc
}

func (c *Config) setDefaults() {
	if c.WorkerID == "" {
		c.WorkerID = fmt.Sprintf("worker-%d", os.Getpid())
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 1
	}
	if c.ClaimBlockMs <= 0 {
		c.ClaimBlockMs = 5000
	}
	if c.ReclaimInterval <= 0 {
		c.ReclaimInterval = 30 * time.Second
	}
	if c.ReclaimMinIdleMs <= 0 {
		c.ReclaimMinIdleMs = 90_000
	}
	if c.CancelPollInterval <= 0 {
		c.CancelPollInterval = 2 * time.Second
	}
}

// Pool claims jobs from the queue and runs each through the pipeline.
type Pool struct {
	cfg      Config
	q        *queue.Client
	pipeline *pipeline.Runner
}

// NewPool builds a Pool bound to q and runner.
func NewPool(cfg Config, q *queue.Client, runner *pipeline.Runner) *Pool {
	cfg.setDefaults()
	return &Pool{cfg: cfg, q: q, pipeline: runner}
}

func (p *Pool) log(level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if p.cfg.ActivityFn != nil {
		p.cfg.ActivityFn(level, msg)
		return
	}
	if level == "error" || level == "warning" {
		fmt.Fprintln(os.Stderr, msg)
	} else {
		fmt.Println(msg)
	}
}

// Run claims and executes jobs until ctx is cancelled or SIGINT/SIGTERM
// is received, then waits for in-flight jobs to finish.
func (p *Pool) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	p.log("info", "worker %s starting, max concurrency %d", p.cfg.WorkerID, p.cfg.MaxConcurrency)

	var wg sync.WaitGroup
	sem := make(chan struct{}, p.cfg.MaxConcurrency)

	reclaimDone := make(chan struct{})
	go func() {
		defer close(reclaimDone)
		p.reclaimLoop(ctx, sem, &wg)
	}()

	backoff := time.Second
	const maxBackoff = 30 * time.Second

runLoop:
	for {
		select {
		case sig := <-sigs:
			p.log("info", "received signal %v, shutting down", sig)
			cancel()
			break runLoop
		case <-ctx.Done():
			break runLoop
		default:
			claimed, err := p.q.Claim(ctx, p.cfg.WorkerID, int64(p.cfg.MaxConcurrency), p.cfg.ClaimBlockMs)
			if err != nil {
				if ctx.Err() != nil {
					break runLoop
				}
				p.log("warning", "claim failed: %v (retry in %s)", err, backoff)
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					break runLoop
				}
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}
			backoff = time.Second

			for _, c := range claimed {
				sem <- struct{}{}
				wg.Add(1)
				go func(c queue.Claimed) {
					defer wg.Done()
					defer func() { <-sem }()
					p.process(ctx, c)
				}(c)
			}
		}
	}

	wg.Wait()
	<-reclaimDone
	p.log("info", "worker %s shutdown complete", p.cfg.WorkerID)
	return nil
}

// reclaimLoop periodically recovers jobs orphaned by crashed workers
// (spec §8 "worker crash and reclaim").
func (p *Pool) reclaimLoop(ctx context.Context, sem chan struct{}, wg *sync.WaitGroup) {
	ticker := time.NewTicker(p.cfg.ReclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reclaimed, err := p.q.Reclaim(ctx, p.cfg.WorkerID, p.cfg.ReclaimMinIdleMs, int64(p.cfg.MaxConcurrency))
			if err != nil {
				p.log("warning", "reclaim failed: %v", err)
				continue
			}
			for _, c := range reclaimed {
				c.Job.IncrementAttempt()
				c.Job.ResetForRetry()
				p.log("info", "reclaimed orphaned job %s (attempt %d)", c.Job.ID, c.Job.Attempt)
				sem <- struct{}{}
				wg.Add(1)
				go func(c queue.Claimed) {
					defer wg.Done()
					defer func() { <-sem }()
					p.process(ctx, c)
				}(c)
			}
		}
	}
}

// process runs one claimed job end to end: mark running, execute the
// pipeline, resolve the terminal outcome (including retry-on-transient
// and retry-exhausted), and ack the stream entry.
func (p *Pool) process(ctx context.Context, c queue.Claimed) {
	jobID := c.Job.ID
	p.log("info", "claimed job %s (%s@%s)", jobID, c.Job.Repo, c.Job.Branch)

	job, err := p.q.UpdateStatus(ctx, jobID, func(j *jobmodel.Job) error {
		return j.MarkClaimed(p.cfg.WorkerID, time.Now())
	})
	if err != nil {
		p.log("error", "failed to mark job %s running: %v", jobID, err)
		return
	}

	cancelled := func() bool {
		fresh, err := p.q.GetJob(ctx, jobID)
		if err != nil {
			return false
		}
		return fresh.Status() == jobmodel.StatusCancelled
	}

	result, runErr := p.pipeline.Run(ctx, job, cancelled)
	p.resolve(ctx, c, job, result, runErr)
}

func (p *Pool) resolve(ctx context.Context, c queue.Claimed, job *jobmodel.Job, result *jobmodel.PipelineResult, runErr error) {
	jobID := job.ID

	retriable := runErr != nil && (raiberr.Is(runErr, raiberr.KindTransientSubstrate) || raiberr.Is(runErr, raiberr.KindCloneFailure))
	if retriable {
		if !job.AttemptsExhausted() {
			attempt := job.IncrementAttempt()
			job.ResetForRetry()
			p.log("warning", "job %s hit a retriable error (attempt %d): %v", jobID, attempt, runErr)
			delay := queue.Backoff(attempt, 0)
			time.Sleep(delay)
			if _, err := p.q.RequeueWithBackoff(ctx, job); err != nil {
				p.log("error", "failed to requeue job %s: %v", jobID, err)
			}
			if err := p.q.Ack(ctx, c.EntryID); err != nil {
				p.log("error", "failed to ack requeued job %s: %v", jobID, err)
			}
			return
		}
		p.log("error", "job %s exhausted retries: %v", jobID, runErr)
		if err := p.q.MoveToDLQ(ctx, job, runErr.Error()); err != nil {
			p.log("error", "failed to move job %s to dlq: %v", jobID, err)
		}
		p.finish(ctx, c, jobID, jobmodel.StatusFailed, -3)
		return
	}

	if runErr != nil {
		if raiberr.Is(runErr, raiberr.KindCancellation) {
			p.finish(ctx, c, jobID, jobmodel.StatusCancelled, -2)
			return
		}
		p.log("error", "job %s failed: %v", jobID, runErr)
		p.finish(ctx, c, jobID, jobmodel.StatusFailed, -1)
		return
	}

	switch {
	case result.ReasonCode == "cancelled":
		p.finish(ctx, c, jobID, jobmodel.StatusCancelled, -2)
	case result.Success:
		p.finish(ctx, c, jobID, jobmodel.StatusSuccess, 0)
	default:
		exitCode := 1
		if len(result.Steps) > 0 {
			exitCode = result.Steps[len(result.Steps)-1].ExitCode
		}
		p.finish(ctx, c, jobID, jobmodel.StatusFailed, exitCode)
	}
}

func (p *Pool) finish(ctx context.Context, c queue.Claimed, jobID string, status jobmodel.Status, exitCode int) {
	_, err := p.q.UpdateStatus(ctx, jobID, func(j *jobmodel.Job) error {
		return j.MarkTerminal(status, time.Now(), exitCode)
	})
	if err != nil {
		p.log("error", "failed to persist terminal status for job %s: %v", jobID, err)
	}
	if err := p.q.Ack(ctx, c.EntryID); err != nil {
		p.log("error", "failed to ack job %s: %v", jobID, err)
	}
	metrics.JobOutcomes.WithLabelValues(string(status)).Inc()
	p.log("success", "job %s finished: %s", jobID, status)
}
