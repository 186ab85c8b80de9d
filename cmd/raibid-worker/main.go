// Command raibid-worker runs the long-lived job-claiming worker pool
// described in spec §4.3: claim, run the pipeline, ack or retry.
//
// Grounded on the teacher's cmd/work.go for its env-var-first flag
// resolution and signal handling, collapsed from citadel's dual
// API-mode/direct-Redis job source selection into a single direct
// connection to the queue substrate (raibid has exactly one substrate).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/raibid-labs/raibid-ci/internal/logstream"
	"github.com/raibid-labs/raibid-ci/internal/pipeline"
	"github.com/raibid-labs/raibid-ci/internal/queue"
	"github.com/raibid-labs/raibid-ci/internal/worker"
)

var (
	flagAgentID         string
	flagRedisHost       string
	flagRedisPort       int
	flagRedisPassword   string
	flagQueueStream     string
	flagConsumerGroup   string
	flagWorkspaceDir    string
	flagMaxConcurrency  int
	flagPollIntervalMs  int
	flagRegistryURL     string
	flagPipelineConfig  string
	flagLogRetentionHrs int
	flagReclaimMinIdle  int64
)

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

var rootCmd = &cobra.Command{
	Use:   "raibid-worker",
	Short: "Long-lived job worker for raibid-ci",
	RunE:  runWorker,
}

func init() {
	defaultAgentID := getEnvOrDefault("AGENT_ID", "")
	if defaultAgentID == "" {
		defaultAgentID = "worker-" + uuid.NewString()[:8]
	}

	rootCmd.Flags().StringVar(&flagAgentID, "agent-id", defaultAgentID, "unique worker identity")
	rootCmd.Flags().StringVar(&flagRedisHost, "redis-host", getEnvOrDefault("REDIS_HOST", "localhost"), "queue substrate host")
	rootCmd.Flags().IntVar(&flagRedisPort, "redis-port", getEnvIntOrDefault("REDIS_PORT", 6379), "queue substrate port")
	rootCmd.Flags().StringVar(&flagRedisPassword, "redis-password", os.Getenv("REDIS_PASSWORD"), "queue substrate password")
	rootCmd.Flags().StringVar(&flagQueueStream, "queue-stream", getEnvOrDefault("QUEUE_STREAM", queue.DefaultStreamKey), "jobs stream key")
	rootCmd.Flags().StringVar(&flagConsumerGroup, "consumer-group", getEnvOrDefault("CONSUMER_GROUP", queue.DefaultConsumerGroup), "consumer group name")
	rootCmd.Flags().StringVar(&flagWorkspaceDir, "workspace-dir", getEnvOrDefault("WORKSPACE_DIR", os.TempDir()), "per-worker workspace root")
	rootCmd.Flags().IntVar(&flagMaxConcurrency, "max-concurrent-jobs", getEnvIntOrDefault("MAX_CONCURRENT_JOBS", 1), "in-flight job cap")
	rootCmd.Flags().IntVar(&flagPollIntervalMs, "poll-interval-ms", getEnvIntOrDefault("POLL_INTERVAL_MS", 5000), "claim block window")
	rootCmd.Flags().StringVar(&flagRegistryURL, "registry-url", os.Getenv("REGISTRY_URL"), "container registry URL for docker-push")
	rootCmd.Flags().StringVar(&flagPipelineConfig, "pipeline-config", os.Getenv("PIPELINE_CONFIG"), "optional YAML file overriding pipeline timeouts/toggles")
	rootCmd.Flags().IntVar(&flagLogRetentionHrs, "log-retention-hours", getEnvIntOrDefault("LOG_RETENTION_HOURS", 168), "per-job log retention window")
	rootCmd.Flags().Int64Var(&flagReclaimMinIdle, "reclaim-min-idle-ms", int64(getEnvIntOrDefault("RECLAIM_MIN_IDLE_MS", 90_000)), "pending-entry idle threshold before reclaim")
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		fmt.Println("   - received shutdown signal, draining in-flight jobs...")
		cancel()
	}()

	q := queue.NewClient(queue.Config{
		URL:           fmt.Sprintf("redis://%s:%d", flagRedisHost, flagRedisPort),
		Password:      flagRedisPassword,
		StreamKey:     flagQueueStream,
		ConsumerGroup: flagConsumerGroup,
		LogRetention:  time.Duration(flagLogRetentionHrs) * time.Hour,
	})
	if err := q.Connect(ctx); err != nil {
		return fmt.Errorf("connect to queue substrate: %w", err)
	}
	defer q.Close()

	pcfg := pipeline.Config{
		WorkspaceRoot: flagWorkspaceDir,
		Commands:      defaultCommands(),
		RegistryURL:   flagRegistryURL,
	}
	overrides, err := pipeline.LoadOverrides(flagPipelineConfig)
	if err != nil {
		return err
	}
	overrides.Apply(&pcfg)

	sink := logstream.NewStore(q)
	runner := pipeline.NewRunner(pcfg, sink)

	pool := worker.NewPool(worker.Config{
		WorkerID:         flagAgentID,
		MaxConcurrency:   flagMaxConcurrency,
		ClaimBlockMs:     flagPollIntervalMs,
		ReclaimMinIdleMs: flagReclaimMinIdle,
	}, q, runner)

	fmt.Printf("   - raibid-worker %s: max-concurrency=%d\n", flagAgentID, flagMaxConcurrency)
	return pool.Run(ctx)
}

// defaultCommands is the opaque build-tool invocation list (spec §4.4:
// "treated as opaque commands the pipeline runs"). PIPELINE_CONFIG
// adjusts timeouts and the audit/docker toggles; it cannot change
// these commands.
func defaultCommands() map[pipeline.StepName][]string {
	return map[pipeline.StepName][]string{
		pipeline.StepFormat:      {"cargo", "fmt", "--check"},
		pipeline.StepCheck:       {"cargo", "check"},
		pipeline.StepClippy:      {"cargo", "clippy", "--", "-D", "warnings"},
		pipeline.StepTest:        {"cargo", "test"},
		pipeline.StepAudit:       {"cargo", "audit"},
		pipeline.StepBuild:       {"cargo", "build", "--release"},
		pipeline.StepDockerBuild: {"docker", "build", "-t", "raibid-job", "."},
		pipeline.StepDockerPush:  {"docker", "push", "raibid-job"},
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
