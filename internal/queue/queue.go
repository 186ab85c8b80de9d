// Package queue implements the durable job queue described in spec
// §4.2: a Redis Stream with a consumer group backs job dispatch, an
// id-indexed keyspace backs job lookup. The per-job append-only log
// (§4.5) lives in internal/logstream, which shares this package's
// Redis connection and circuit breaker. It is the sole owner of the
// "raibid:jobs" stream and the "raibid-workers" consumer group.
//
// Generalized from the teacher's internal/redis/client.go, which wires
// the same XADD/XREADGROUP/XACK/XPENDING primitives around a GPU job
// queue; here they back a CI job queue instead.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/raibid-labs/raibid-ci/internal/jobmodel"
	"github.com/raibid-labs/raibid-ci/internal/metrics"
	"github.com/raibid-labs/raibid-ci/internal/raiberr"
)

const (
	DefaultStreamKey     = "raibid:jobs"
	DefaultConsumerGroup = "raibid-workers"
	jobKeyPrefix         = "raibid:job:"
	jobIndexKey          = "raibid:jobs:index"
	logStreamPrefix      = "raibid:logs:"
	dlqStreamKey         = "raibid:jobs:dlq"
)

// Config holds the connection and naming parameters for a Client.
type Config struct {
	URL           string
	Password      string
	StreamKey     string
	ConsumerGroup string
	// MaxLen bounds the jobs stream length; oldest entries are trimmed
	// once it is exceeded (durable job state survives via the
	// id-indexed keyspace, see spec §4.2).
	MaxLen int64
	// LogRetention is the expiry set on each id-indexed job record
	// every time it is written. Per-job log streams are not expired by
	// this value.
	LogRetention time.Duration
}

func (c *Config) setDefaults() {
	if c.StreamKey == "" {
		c.StreamKey = DefaultStreamKey
	}
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = DefaultConsumerGroup
	}
	if c.MaxLen == 0 {
		c.MaxLen = 100_000
	}
	if c.LogRetention == 0 {
		c.LogRetention = 7 * 24 * time.Hour
	}
}

// Client is the queue substrate handle shared by the webhook intake,
// the worker pool and the query API.
type Client struct {
	rdb     *redis.Client
	cfg     Config
	breaker *gobreaker.CircuitBreaker
}

// NewClient constructs a Client without connecting.
func NewClient(cfg Config) *Client {
	cfg.setDefaults()
	c := &Client{cfg: cfg}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "queue-redis",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return c
}

// Connect establishes the Redis connection and bootstraps the
// consumer group on the jobs stream.
func (c *Client) Connect(ctx context.Context) error {
	opts, err := redis.ParseURL(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	if c.cfg.Password != "" {
		opts.Password = c.cfg.Password
	}
	c.rdb = redis.NewClient(opts)

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return raiberr.Wrap(raiberr.KindTransientSubstrate, "redis ping failed", err)
	}

	err = c.rdb.XGroupCreateMkStream(ctx, c.cfg.StreamKey, c.cfg.ConsumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return raiberr.Wrap(raiberr.KindTransientSubstrate, "create consumer group", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// Redis exposes the underlying connection to sibling substrate-facing
// packages (internal/logstream) that need direct stream access this
// Client doesn't itself provide.
func (c *Client) Redis() *redis.Client { return c.rdb }

// Do runs fn through this Client's circuit breaker, for callers in
// sibling packages that share its Redis connection.
func (c *Client) Do(fn func() error) error { return c.call(fn) }

// LogRetention returns the configured per-job log retention window.
func (c *Client) LogRetention() time.Duration { return c.cfg.LogRetention }

// call executes fn through the circuit breaker, mapping breaker-open
// and network-shaped errors into a TransientSubstrate raiberr.Error.
func (c *Client) call(fn func() error) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, fn()
	})
	if err == nil {
		return nil
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return raiberr.Wrap(raiberr.KindTransientSubstrate, "queue substrate circuit open", err)
	}
	if err == redis.Nil {
		return err
	}
	return raiberr.Wrap(raiberr.KindTransientSubstrate, "queue substrate call failed", err)
}

// Enqueue appends a Job to the jobs stream and writes its initial
// id-indexed record. Returns the stream entry id.
func (c *Client) Enqueue(ctx context.Context, job *jobmodel.Job) (string, error) {
	snap := job.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("marshal job snapshot: %w", err)
	}

	var id string
	err = c.call(func() error {
		res, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: c.cfg.StreamKey,
			MaxLen: c.cfg.MaxLen,
			Approx: true,
			Values: map[string]any{"data": string(data)},
		}).Result()
		if err != nil {
			return err
		}
		id = res
		return nil
	})
	if err != nil {
		return "", err
	}

	if err := c.writeIndexedJob(ctx, snap); err != nil {
		return id, err
	}
	metrics.JobsEnqueued.Inc()
	return id, nil
}

// writeIndexedJob persists the job snapshot in the id-indexed keyspace
// the Query API reads from, and maintains a created-at-ordered index
// set so listing never has to scan the jobs stream (spec §4.6).
func (c *Client) writeIndexedJob(ctx context.Context, snap jobmodel.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal job snapshot: %w", err)
	}
	return c.call(func() error {
		pipe := c.rdb.TxPipeline()
		pipe.Set(ctx, jobKeyPrefix+snap.ID, data, c.cfg.LogRetention)
		pipe.ZAdd(ctx, jobIndexKey, redis.Z{Score: float64(snap.CreatedAt.UnixNano()), Member: snap.ID})
		_, err := pipe.Exec(ctx)
		return err
	})
}

// UpdateStatus patches the id-indexed record for a job, applying
// `mutate` to the current in-memory representation under a simple
// read-modify-write. The queue substrate's per-key operations are
// serialized by Redis itself, so the read-modify-write is safe as long
// as a single worker owns the job (spec §5, "writes serialized via the
// queue substrate's key semantics").
func (c *Client) UpdateStatus(ctx context.Context, jobID string, mutate func(*jobmodel.Job) error) (*jobmodel.Job, error) {
	job, err := c.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := mutate(job); err != nil {
		return nil, err
	}
	if err := c.writeIndexedJob(ctx, job.Snapshot()); err != nil {
		return nil, err
	}
	return job, nil
}

// GetJob looks up a job by id from the id-indexed keyspace.
func (c *Client) GetJob(ctx context.Context, jobID string) (*jobmodel.Job, error) {
	var raw string
	err := c.call(func() error {
		v, err := c.rdb.Get(ctx, jobKeyPrefix+jobID).Result()
		if err != nil {
			return err
		}
		raw = v
		return nil
	})
	if err == redis.Nil {
		return nil, raiberr.New(raiberr.KindNotFound, "job "+jobID+" not found")
	}
	if err != nil {
		return nil, err
	}
	var snap jobmodel.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal job snapshot: %w", err)
	}
	return jobmodel.FromSnapshot(snap), nil
}

// ListFilter narrows ListJobs results.
type ListFilter struct {
	Status Status
	Repo   string
	Branch string
	Limit  int
	Offset int
}

// Status mirrors jobmodel.Status to avoid a heavier import surface in
// callers that only want to filter.
type Status = jobmodel.Status

// ListResult is a page of jobs plus the pre-pagination match count.
type ListResult struct {
	Jobs  []*jobmodel.Job
	Total int
}

// ListJobs materializes a filtered, paginated list from the id-indexed
// keyspace (never by scanning the jobs stream), newest first.
func (c *Client) ListJobs(ctx context.Context, filter ListFilter) (*ListResult, error) {
	var ids []string
	err := c.call(func() error {
		v, err := c.rdb.ZRevRange(ctx, jobIndexKey, 0, -1).Result()
		if err != nil {
			return err
		}
		ids = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	matched := make([]*jobmodel.Job, 0, len(ids))
	for _, id := range ids {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			if raiberr.Is(err, raiberr.KindNotFound) {
				continue
			}
			return nil, err
		}
		snap := job.Snapshot()
		if filter.Status != "" && snap.Status != filter.Status {
			continue
		}
		if filter.Repo != "" && snap.Repo != filter.Repo {
			continue
		}
		if filter.Branch != "" && snap.Branch != filter.Branch {
			continue
		}
		matched = append(matched, job)
	}

	total := len(matched)

	limit := filter.Limit
	if limit <= 0 {
		limit = 25
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	return &ListResult{Jobs: matched[offset:end], Total: total}, nil
}

// Claimed pairs a stream entry id with the Job it carries, for Ack/Nack.
type Claimed struct {
	EntryID string
	Job     *jobmodel.Job
}

// Claim reads up to count new entries for this consumer, blocking up
// to blockMs when the stream is idle. blockMs=0 returns immediately.
func (c *Client) Claim(ctx context.Context, consumerID string, count int64, blockMs int) ([]Claimed, error) {
	// go-redis sends a zero Block as BLOCK 0, which waits forever; a
	// negative Block omits BLOCK so the read returns at once.
	block := time.Duration(blockMs) * time.Millisecond
	if blockMs <= 0 {
		block = -1
	}
	var streams []redis.XStream
	err := c.call(func() error {
		res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.ConsumerGroup,
			Consumer: consumerID,
			Streams:  []string{c.cfg.StreamKey, ">"},
			Count:    count,
			Block:    block,
		}).Result()
		if err != nil {
			return err
		}
		streams = res
		return nil
	})
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(streams) == 0 {
		return nil, nil
	}
	claimed, err := parseMessages(streams[0].Messages)
	metrics.JobsClaimed.Add(float64(len(claimed)))
	return claimed, err
}

// Reclaim reassigns entries idle for at least minIdleMs to consumerID,
// recovering jobs orphaned by a crashed worker.
func (c *Client) Reclaim(ctx context.Context, consumerID string, minIdleMs int64, count int64) ([]Claimed, error) {
	var msgs []redis.XMessage
	err := c.call(func() error {
		res, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.cfg.StreamKey,
			Group:    c.cfg.ConsumerGroup,
			Consumer: consumerID,
			MinIdle:  time.Duration(minIdleMs) * time.Millisecond,
			Start:    "0-0",
			Count:    count,
		}).Result()
		if err != nil {
			return err
		}
		msgs = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	claimed, err := parseMessages(msgs)
	metrics.JobsClaimed.Add(float64(len(claimed)))
	return claimed, err
}

// Depth reports the approximate number of entries in the jobs stream.
// The Query API's readiness check calls it to probe the substrate;
// nothing in this module feeds it into metrics.QueueDepth.
func (c *Client) Depth(ctx context.Context) (int64, error) {
	var length int64
	err := c.call(func() error {
		l, err := c.rdb.XLen(ctx, c.cfg.StreamKey).Result()
		if err != nil {
			return err
		}
		length = l
		return nil
	})
	return length, err
}

func parseMessages(msgs []redis.XMessage) ([]Claimed, error) {
	out := make([]Claimed, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var snap jobmodel.Snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			return nil, fmt.Errorf("unmarshal claimed job %s: %w", msg.ID, err)
		}
		out = append(out, Claimed{EntryID: msg.ID, Job: jobmodel.FromSnapshot(snap)})
	}
	return out, nil
}

// Ack confirms an entry is done and should not be reclaimed.
func (c *Client) Ack(ctx context.Context, entryID string) error {
	return c.call(func() error {
		return c.rdb.XAck(ctx, c.cfg.StreamKey, c.cfg.ConsumerGroup, entryID).Err()
	})
}

// MoveToDLQ records a retry-exhausted job for operator inspection
// before it is acked off the main stream. Grounded on the teacher's
// Client.MoveToDLQ / getDLQName naming convention.
func (c *Client) MoveToDLQ(ctx context.Context, job *jobmodel.Job, reason string) error {
	snap := job.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal job snapshot: %w", err)
	}
	return c.call(func() error {
		return c.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: dlqStreamKey,
			Values: map[string]any{
				"job_id":   snap.ID,
				"reason":   reason,
				"moved_at": time.Now().UTC().Format(time.RFC3339),
				"data":     string(data),
			},
		}).Err()
	})
}

// RequeueWithBackoff re-appends a job to the jobs stream after a
// transient failure, per the §4.2 retry policy (exponential backoff,
// base 1s, cap 60s, handled by the caller sleeping Backoff(attempt)
// before calling this).
func (c *Client) RequeueWithBackoff(ctx context.Context, job *jobmodel.Job) (string, error) {
	return c.Enqueue(ctx, job)
}

// Backoff computes the exponential-backoff-with-jitter delay for a
// given attempt number, per spec §4.2 (base 1s, cap 60s, jitter ±20%).
// jitter must be a caller-supplied value in [-1, 1]; production callers
// use a real random source, tests pass fixed values for determinism.
func Backoff(attempt int, jitter float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := time.Second
	cap := 60 * time.Second

	d := base << (attempt - 1)
	if d <= 0 || d > cap {
		d = cap
	}
	jittered := float64(d) * (1 + 0.2*jitter)
	if jittered < 0 {
		jittered = 0
	}
	return time.Duration(jittered)
}
