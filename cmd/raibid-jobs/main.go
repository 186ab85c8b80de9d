package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var flagAPIURL string

var rootCmd = &cobra.Command{
	Use:   "raibid-jobs",
	Short: "List, trigger, cancel and tail raibid-ci jobs",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagAPIURL, "api-url", getEnvOrDefault("RAIBID_API_URL", "http://localhost:8080"), "Query API base URL")
	rootCmd.AddCommand(listCmd, getCmd, triggerCmd, cancelCmd, logsCmd)
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// statusColor mirrors the teacher's success/dim color scheme
// (cmd/helpers.go's printNetworkSuccessInfo), extended with a
// failure color for terminal-failed jobs.
func statusColor(status string) *color.Color {
	switch status {
	case "success":
		return color.New(color.FgGreen, color.Bold)
	case "failed":
		return color.New(color.FgRed, color.Bold)
	case "cancelled":
		return color.New(color.Faint)
	case "running":
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgWhite)
	}
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		repo, _ := cmd.Flags().GetString("repo")
		branch, _ := cmd.Flags().GetString("branch")
		limit, _ := cmd.Flags().GetInt("limit")

		client := newAPIClient(flagAPIURL)
		result, err := client.listJobs(listQuery{Status: status, Repo: repo, Branch: branch, Limit: limit})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		defer w.Flush()
		fmt.Fprintln(w, "ID\tREPO\tBRANCH\tSTATUS\tCREATED")
		for _, j := range result.Jobs {
			c := statusColor(j.Status)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", j.ID, j.Repo, j.Branch, c.Sprint(j.Status), j.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("\n%d job(s), %d total matching filter\n", len(result.Jobs), result.Total)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get [job-id]",
	Short: "Show a single job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(flagAPIURL)
		job, err := client.getJob(args[0])
		if err != nil {
			return err
		}
		c := statusColor(job.Status)
		fmt.Printf("id:      %s\n", job.ID)
		fmt.Printf("repo:    %s\n", job.Repo)
		fmt.Printf("branch:  %s\n", job.Branch)
		fmt.Printf("commit:  %s\n", job.Commit)
		fmt.Printf("status:  %s\n", c.Sprint(job.Status))
		if job.ExitCode != nil {
			fmt.Printf("exit:    %d\n", *job.ExitCode)
		}
		return nil
	},
}

var triggerCmd = &cobra.Command{
	Use:   "trigger [repo] [branch]",
	Short: "Manually trigger a job",
	Args:  cobra.RangeArgs(2, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		commit, _ := cmd.Flags().GetString("commit")
		client := newAPIClient(flagAPIURL)
		job, err := client.triggerJob(args[0], args[1], commit)
		if err != nil {
			return err
		}
		color.New(color.FgGreen, color.Bold).Printf("   - triggered job %s\n", job.ID)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [job-id]",
	Short: "Request cancellation of a running or pending job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(flagAPIURL)
		job, err := client.cancelJob(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("   - job %s is now %s\n", job.ID, statusColor(job.Status).Sprint(job.Status))
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs [job-id]",
	Short: "Fetch (and optionally follow) a job's logs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, _ := cmd.Flags().GetBool("follow")
		client := newAPIClient(flagAPIURL)
		return client.tailLogs(args[0], follow, func(e logEntry) {
			prefix := e.StepName
			if prefix == "" {
				prefix = e.Stream
			}
			if e.Stream == "stderr" {
				color.New(color.FgRed).Printf("[%s] %s\n", prefix, e.Message)
				return
			}
			fmt.Printf("[%s] %s\n", prefix, e.Message)
		})
	},
}

func init() {
	listCmd.Flags().String("status", "", "filter by status")
	listCmd.Flags().String("repo", "", "filter by repo")
	listCmd.Flags().String("branch", "", "filter by branch")
	listCmd.Flags().Int("limit", 25, "max results")

	triggerCmd.Flags().String("commit", "", "commit SHA (defaults to branch HEAD)")

	logsCmd.Flags().Bool("follow", false, "stream new log entries as they are appended")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
