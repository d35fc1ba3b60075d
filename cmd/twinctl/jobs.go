package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func parseTenant(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --tenant %q: %w", s, err)
	}
	return id, nil
}

// optionalTenant parses --tenant when set; admin commands span all tenants otherwise.
func optionalTenant(s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := parseTenant(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func parseJobID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid job id %q", s)
	}
	return id, nil
}

func newJobsCmd() *cobra.Command {
	jobs := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and operate the job queue",
	}
	jobs.AddCommand(
		newJobsListCmd(),
		newJobsGetCmd(),
		newJobsLogsCmd(),
		newJobsRetryCmd(),
		newJobsRequeueCmd(),
		newJobsCancelCmd(),
		newJobsDrainCmd(),
		newJobsDeadLettersCmd(),
		newJobsReplayCmd(),
	)
	return jobs
}

func newJobsListCmd() *cobra.Command {
	var (
		tenant, status, jobType string
		limit                   int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Example: `  twinctl jobs list --status queued,processing
  twinctl jobs list --tenant 6f1c... --type ingestion --limit 20`,
		Args: cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			tenantID, err := optionalTenant(tenant)
			if err != nil {
				return err
			}
			f := domain.JobFilter{TenantID: tenantID, Limit: limit}
			for _, s := range splitFlag(status) {
				f.Statuses = append(f.Statuses, domain.JobStatus(s))
			}
			for _, t := range splitFlag(jobType) {
				f.Types = append(f.Types, domain.JobType(t))
			}
			list, err := e.svcs.Jobs.List(cmd.Context(), f)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), list)
		}),
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "only this tenant's jobs")
	cmd.Flags().StringVar(&status, "status", "", "comma-separated statuses")
	cmd.Flags().StringVar(&jobType, "type", "", "comma-separated job types")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of jobs")
	return cmd
}

func splitFlag(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func newJobsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get JOB_ID",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			j, err := e.svcs.Jobs.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), j)
		}),
	}
}

func newJobsLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs JOB_ID",
		Short: "Show a job's log, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			logs, err := e.svcs.Jobs.Logs(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), logs)
		}),
	}
}

func newJobsRetryCmd() *cobra.Command {
	var delay time.Duration
	cmd := &cobra.Command{
		Use:   "retry JOB_ID",
		Short: "Requeue a failed job",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			j, err := e.svcs.Jobs.Retry(cmd.Context(), id, delay)
			if err != nil {
				return err
			}
			printSuccess("Job %s queued (attempt %d of %d)", j.ID, j.Attempts, j.MaxAttempts)
			return printJSON(cmd.OutOrStdout(), j)
		}),
	}
	cmd.Flags().DurationVar(&delay, "delay", 0, "wait before the job is claimable again")
	return cmd
}

func newJobsRequeueCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "requeue JOB_ID",
		Short: "Force a stuck or exhausted job back onto the queue",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			j, err := e.svcs.Jobs.ForceRequeue(cmd.Context(), id, actor)
			if err != nil {
				return err
			}
			printSuccess("Job %s requeued", j.ID)
			return printJSON(cmd.OutOrStdout(), j)
		}),
	}
	cmd.Flags().StringVar(&actor, "actor", "twinctl", "who requested the requeue")
	return cmd
}

func newJobsCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel JOB_ID",
		Short: "Cancel a job",
		Long: `Cancel a job.

A queued or failed job stops immediately. A processing job is flagged and
stops when its handler returns.`,
		Args: cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			j, err := e.svcs.Jobs.Cancel(cmd.Context(), id, reason)
			if err != nil {
				return err
			}
			if j.Status == domain.JobProcessing {
				printWarning("Job %s is running; cancellation requested", j.ID)
			} else {
				printSuccess("Job %s cancelled", j.ID)
			}
			return printJSON(cmd.OutOrStdout(), j)
		}),
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the job was cancelled")
	return cmd
}

func newJobsDrainCmd() *cobra.Command {
	var (
		tenant string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Run queued jobs in this process until the queue is empty",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			tenantID, err := optionalTenant(tenant)
			if err != nil {
				return err
			}
			res, err := e.svcs.Runner.Drain(cmd.Context(), tenantID, limit)
			if err != nil {
				return err
			}
			if res.Failed > 0 {
				printWarning("%d processed, %d failed", res.Processed, res.Failed)
			} else {
				printSuccess("%d processed", res.Processed)
			}
			return printJSON(cmd.OutOrStdout(), res)
		}),
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "only this tenant's jobs")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many jobs (default 100)")
	return cmd
}

func newJobsDeadLettersCmd() *cobra.Command {
	var (
		tenant string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "List jobs that need attention",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			tenantID, err := parseTenant(tenant)
			if err != nil {
				return err
			}
			list, err := e.svcs.Jobs.DeadLetters(cmd.Context(), tenantID, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), list)
		}),
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id (required)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of jobs")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newJobsReplayCmd() *cobra.Command {
	var (
		tenant, actor string
		limit         int
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Requeue a tenant's dead-lettered jobs",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			tenantID, err := parseTenant(tenant)
			if err != nil {
				return err
			}
			n, err := e.svcs.Jobs.ReplayDeadLetters(cmd.Context(), tenantID, limit, actor)
			if err != nil {
				return err
			}
			if n == 0 {
				printWarning("No dead-lettered jobs to replay")
			} else {
				printSuccess("Replayed %d jobs", n)
			}
			return printJSON(cmd.OutOrStdout(), map[string]int{"replayed": n})
		}),
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id (required)")
	cmd.Flags().StringVar(&actor, "actor", "twinctl", "who requested the replay")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of jobs to replay")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}
