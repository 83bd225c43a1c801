package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sentivane/sentivane/display"
	"github.com/sentivane/sentivane/queue"
	"github.com/sentivane/sentivane/sym"
)

// JobsCmd groups the job management commands.
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: sym.Pulse + " Enqueue and control background jobs",
	Long: sym.Pulse + ` Job management.

Job types:
  daily_collection - Fetch the market-wide datum from each source for a date
  financial_batch  - Fetch per-entity data for the configured universe
  recompute        - Recalculate the composite index for a date
  backfill         - Collect and recompute a date range

Examples:
  sentivane jobs enqueue daily_collection --date 2024-01-15
  sentivane jobs enqueue backfill --start 2024-01-01 --end 2024-01-31 --priority low
  sentivane jobs ls --status pending
  sentivane jobs status <job-id>
  sentivane jobs pause <job-id>`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var jobsEnqueueCmd = &cobra.Command{
	Use:   "enqueue <type>",
	Short: "Enqueue a background job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		date, _ := cmd.Flags().GetString("date")
		start, _ := cmd.Flags().GetString("start")
		end, _ := cmd.Flags().GetString("end")
		sources, _ := cmd.Flags().GetStringSlice("sources")
		priorityName, _ := cmd.Flags().GetString("priority")
		maxAttempts, _ := cmd.Flags().GetInt("max-attempts")
		return runJobsEnqueue(args[0], queue.Params{
			Date:      date,
			StartDate: start,
			EndDate:   end,
			Sources:   sources,
		}, priorityName, maxAttempts)
	},
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		jobType, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")
		return runJobsLs(status, jobType, limit, display.ShouldOutputJSON(cmd))
	},
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show detailed job status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsStatus(args[0], display.ShouldOutputJSON(cmd))
	},
}

var jobsPauseCmd = &cobra.Command{
	Use:   "pause <job-id>",
	Short: "Pause a pending or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsControl(args[0], "pause")
	},
}

var jobsResumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a paused job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsControl(args[0], "resume")
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending, running or paused job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		return runJobsCancel(args[0], reason)
	},
}

func init() {
	jobsEnqueueCmd.Flags().String("date", "", "Target date (YYYY-MM-DD)")
	jobsEnqueueCmd.Flags().String("start", "", "Backfill range start (YYYY-MM-DD)")
	jobsEnqueueCmd.Flags().String("end", "", "Backfill range end (YYYY-MM-DD)")
	jobsEnqueueCmd.Flags().StringSlice("sources", nil, "Source filter (default: all configured)")
	jobsEnqueueCmd.Flags().String("priority", "normal", "Priority: low, normal, high")
	jobsEnqueueCmd.Flags().Int("max-attempts", 0, "Attempts before the job is dead (default: from config)")

	jobsLsCmd.Flags().String("status", "", "Filter by status (pending, running, paused, completed, cancelled, dead)")
	jobsLsCmd.Flags().String("type", "", "Filter by job type")
	jobsLsCmd.Flags().Int("limit", 20, "Maximum number of jobs to display")

	jobsCancelCmd.Flags().String("reason", "cancelled by operator", "Reason recorded on the job")

	JobsCmd.AddCommand(jobsEnqueueCmd)
	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsStatusCmd)
	JobsCmd.AddCommand(jobsPauseCmd)
	JobsCmd.AddCommand(jobsResumeCmd)
	JobsCmd.AddCommand(jobsCancelCmd)
}

func runJobsEnqueue(typeName string, params queue.Params, priorityName string, maxAttempts int) error {
	if !queue.IsValidType(typeName) {
		return fmt.Errorf("unknown job type %q", typeName)
	}
	priority, err := queue.ParsePriority(priorityName)
	if err != nil {
		return err
	}

	cfg, database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	if maxAttempts <= 0 {
		maxAttempts = cfg.Queue.MaxAttempts
	}

	q := queue.NewQueue(database)
	q.SetConfiguredSources(configuredSourceNames(cfg))
	id, err := q.Enqueue(queue.JobType(typeName), params, priority, maxAttempts)
	if err != nil {
		return err
	}

	fmt.Printf("%s Enqueued %s job %s (priority %s)\n", sym.Pulse, typeName, id, priority)
	return nil
}

func runJobsLs(statusFilter, typeFilter string, limit int, asJSON bool) error {
	_, database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	q := queue.NewQueue(database)
	jobs, err := q.ListJobs(queue.Filter{
		Status: queue.Status(statusFilter),
		Type:   queue.JobType(typeFilter),
		Limit:  limit,
	})
	if err != nil {
		return err
	}

	if asJSON {
		return display.OutputJSON(jobs)
	}

	if len(jobs) == 0 {
		fmt.Printf("%s No jobs found\n", sym.Pulse)
		return nil
	}

	fmt.Printf("%-36s %-10s %-18s %-8s %-15s %s\n", "JOB ID", "STATUS", "TYPE", "PRIORITY", "PROGRESS", "CREATED")
	for _, job := range jobs {
		progress := fmt.Sprintf("%d/%d (%.0f%%)", job.Progress.Processed, job.Progress.Total, job.Progress.Percentage())
		fmt.Printf("%-36s %-10s %-18s %-8s %-15s %s\n",
			job.ID,
			job.Status,
			truncate(string(job.Type), 18),
			job.Priority,
			progress,
			job.CreatedAt.Format("2006-01-02 15:04"))
	}

	fmt.Printf("\nTotal: %d job(s)\n", len(jobs))
	return nil
}

func runJobsStatus(jobID string, asJSON bool) error {
	_, database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	q := queue.NewQueue(database)
	job, err := q.GetStatus(jobID)
	if err != nil {
		return err
	}

	if asJSON {
		return display.OutputJSON(job)
	}

	fmt.Printf("%s Job ID: %s\n", sym.Pulse, job.ID)
	fmt.Printf("  Type: %s\n", job.Type)
	fmt.Printf("  Status: %s\n", job.Status)
	fmt.Printf("  Priority: %s\n", job.Priority)
	fmt.Printf("  Attempts: %d/%d\n", job.Attempts, job.MaxAttempts)
	if job.NextRetryAt != nil {
		fmt.Printf("  Next retry: %s\n", job.NextRetryAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("\n")

	fmt.Printf("Progress: %d/%d (%.1f%%)\n", job.Progress.Processed, job.Progress.Total, job.Progress.Percentage())
	if eta := job.Progress.ETA(); eta > 0 {
		fmt.Printf("ETA: %s\n", eta.Round(time.Second))
	}
	fmt.Printf("\n")

	if job.Result != nil {
		fmt.Printf("Result: %d processed, %d failed\n", job.Result.Processed, job.Result.Failed)
		if job.Result.Summary != "" {
			fmt.Printf("  %s\n", job.Result.Summary)
		}
		fmt.Printf("\n")
	}

	if len(job.ErrorLog) > 0 {
		fmt.Printf("Errors (%d):\n", len(job.ErrorLog))
		for _, entry := range job.ErrorLog {
			fmt.Printf("  [%s] %s: %s\n", entry.At.Format("15:04:05"), entry.Kind, truncate(entry.Message, 120))
		}
		fmt.Printf("\n")
	}

	fmt.Printf("Created: %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
	if job.StartedAt != nil {
		fmt.Printf("Started: %s\n", job.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if job.CompletedAt != nil {
		fmt.Printf("Completed: %s\n", job.CompletedAt.Format("2006-01-02 15:04:05"))
	}

	return nil
}

func runJobsControl(jobID string, op string) error {
	_, database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	q := queue.NewQueue(database)
	switch op {
	case "pause":
		err = q.Pause(jobID)
	case "resume":
		err = q.Resume(jobID)
	}
	if err != nil {
		return err
	}

	fmt.Printf("%s Job %s %sd\n", sym.Pulse, jobID, op)
	return nil
}

func runJobsCancel(jobID string, reason string) error {
	_, database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	q := queue.NewQueue(database)
	if err := q.Cancel(jobID, reason); err != nil {
		return err
	}

	fmt.Printf("%s Job %s cancelled\n", sym.Pulse, jobID)
	return nil
}
