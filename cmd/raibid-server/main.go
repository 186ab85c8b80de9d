// Command raibid-server runs the webhook intake and Query API as a
// single HTTP process (spec §4.1, §4.6).
//
// Grounded on the teacher's cmd/root.go + cmd/work.go for the
// env-var-first, flag-as-override configuration style and signal
// handling shape, collapsed from citadel's multi-mode (API vs direct
// Redis, service auto-start, SSH sync, terminal server...) command
// tree into the one thing this binary does.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/raibid-labs/raibid-ci/internal/api"
	"github.com/raibid-labs/raibid-ci/internal/queue"
	"github.com/raibid-labs/raibid-ci/internal/webhook"
)

var (
	flagHost          string
	flagPort          int
	flagRedisHost     string
	flagRedisPort     int
	flagRedisPassword string
	flagQueueStream   string
	flagConsumerGroup string
	flagCORSEnabled   bool
	flagMaxBodyBytes  int64
	flagRateLimitRPM  int
	flagGiteaSecret   string
	flagGitHubSecret  string
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

func getEnvBoolOrDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

var rootCmd = &cobra.Command{
	Use:   "raibid-server",
	Short: "Webhook intake and Query API for raibid-ci",
	RunE:  runServer,
}

func init() {
	rootCmd.Flags().StringVar(&flagHost, "host", getEnvOrDefault("RAIBID_SERVER_HOST", "0.0.0.0"), "bind address")
	rootCmd.Flags().IntVar(&flagPort, "port", getEnvIntOrDefault("RAIBID_SERVER_PORT", 8080), "listen port")
	rootCmd.Flags().StringVar(&flagRedisHost, "redis-host", getEnvOrDefault("REDIS_HOST", "localhost"), "queue substrate host")
	rootCmd.Flags().IntVar(&flagRedisPort, "redis-port", getEnvIntOrDefault("REDIS_PORT", 6379), "queue substrate port")
	rootCmd.Flags().StringVar(&flagRedisPassword, "redis-password", os.Getenv("REDIS_PASSWORD"), "queue substrate password")
	rootCmd.Flags().StringVar(&flagQueueStream, "queue-stream", getEnvOrDefault("QUEUE_STREAM", queue.DefaultStreamKey), "jobs stream key")
	rootCmd.Flags().StringVar(&flagConsumerGroup, "consumer-group", getEnvOrDefault("CONSUMER_GROUP", queue.DefaultConsumerGroup), "consumer group name")
	rootCmd.Flags().BoolVar(&flagCORSEnabled, "cors-enabled", getEnvBoolOrDefault("RAIBID_CORS_ENABLED", false), "enable permissive CORS")
	rootCmd.Flags().Int64Var(&flagMaxBodyBytes, "max-body-size", int64(getEnvIntOrDefault("RAIBID_MAX_BODY_SIZE", 1<<20)), "max request body size in bytes")
	rootCmd.Flags().IntVar(&flagRateLimitRPM, "rate-limit-rpm", getEnvIntOrDefault("RAIBID_RATE_LIMIT_RPM", 100), "webhook rate limit, requests/min/source")
	rootCmd.Flags().StringVar(&flagGiteaSecret, "gitea-secret", os.Getenv("RAIBID_GITEA_WEBHOOK_SECRET"), "Gitea webhook HMAC secret")
	rootCmd.Flags().StringVar(&flagGitHubSecret, "github-secret", os.Getenv("RAIBID_GITHUB_WEBHOOK_SECRET"), "GitHub webhook HMAC secret")
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		fmt.Println("   - received shutdown signal...")
		cancel()
	}()

	q := queue.NewClient(queue.Config{
		URL:           fmt.Sprintf("redis://%s:%d", flagRedisHost, flagRedisPort),
		Password:      flagRedisPassword,
		StreamKey:     flagQueueStream,
		ConsumerGroup: flagConsumerGroup,
	})
	if err := q.Connect(ctx); err != nil {
		return fmt.Errorf("connect to queue substrate: %w", err)
	}
	defer q.Close()

	server := api.NewServer(api.Config{
		Host:                flagHost,
		Port:                flagPort,
		CORSEnabled:         flagCORSEnabled,
		MaxBodyBytes:        flagMaxBodyBytes,
		WebhookRateLimitRPM: flagRateLimitRPM,
		WebhookSecrets: webhook.Secrets{
			Gitea:  flagGiteaSecret,
			GitHub: flagGitHubSecret,
		},
	}, q)

	fmt.Printf("   - raibid-server: http://%s:%d\n", flagHost, flagPort)
	return server.Start(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
