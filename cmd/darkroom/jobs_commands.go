package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"darkroom/internal/daemon"
	"darkroom/internal/jobs"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage edit jobs",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsCancelCommand(ctx))
	jobsCmd.AddCommand(newJobsRetryCommand(ctx))
	jobsCmd.AddCommand(newJobsReleaseCommand(ctx))

	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var (
		listStatuses []string
		subject      string
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, value := range listStatuses {
				if _, ok := jobs.ParseStatus(value); !ok {
					return fmt.Errorf("unknown status %q (known: %s)", value, knownStatuses())
				}
			}
			return ctx.withClient(func(client *apiClient) error {
				views, err := client.ListJobs(cmd.Context(), listStatuses, subject)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, views)
				}
				if len(views) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs found")
					return nil
				}
				table := renderTable(
					[]string{"Job ID", "Subject", "Tier", "Status", "Retries", "Updated"},
					buildJobRows(views),
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by job status (repeatable)")
	cmd.Flags().StringVar(&subject, "subject", "", "Filter by exact subject path")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func buildJobRows(views []daemon.JobView) [][]string {
	rows := make([][]string, 0, len(views))
	for _, view := range views {
		status := statusLabel(view.Status)
		if view.Status == string(jobs.StatusFailed) && view.NextAttemptAt == nil {
			status += " (awaiting resources)"
		}
		rows = append(rows, []string{
			view.JobID,
			view.Subject,
			strconv.Itoa(view.PriorityTier),
			status,
			strconv.Itoa(view.RetryCount),
			view.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	return rows
}

func knownStatuses() string {
	var out string
	for i, status := range jobs.AllStatuses() {
		if i > 0 {
			out += ", "
		}
		out += string(status)
	}
	return out
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				view, err := client.GetJob(cmd.Context(), args[0])
				if err != nil {
					if errors.Is(err, errNotFound) {
						return fmt.Errorf("job %s not found", args[0])
					}
					return err
				}
				if asJSON {
					return writeJSON(cmd, view)
				}
				printJobDetail(cmd, view)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of text")
	return cmd
}

func printJobDetail(cmd *cobra.Command, view *daemon.JobView) {
	out := cmd.OutOrStdout()
	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(out, "  %-18s %s\n", label+":", value)
		}
	}

	fmt.Fprintf(out, "Job %s\n", view.JobID)
	line("Subject", view.Subject)
	line("Preset", view.Preset)
	line("Tier", strconv.Itoa(view.PriorityTier))
	line("Quality score", strconv.FormatFloat(view.QualityScore, 'f', -1, 64))
	if view.MemoryMB > 0 {
		line("Memory", fmt.Sprintf("%d MB", view.MemoryMB))
	}
	line("Status", statusLabel(view.Status))
	line("Retries", strconv.Itoa(view.RetryCount))
	line("Failure kind", statusLabel(view.FailureKind))
	line("Error", view.ErrorMessage)
	line("Result", view.ResultPath)
	line("Checkpoint", view.CheckpointHandle)
	if view.NextAttemptAt != nil {
		line("Next attempt", view.NextAttemptAt.Local().Format(time.RFC3339))
	}
	line("Created", view.CreatedAt.Local().Format(time.RFC3339))
	line("Updated", view.UpdatedAt.Local().Format(time.RFC3339))
	if view.CompletedAt != nil {
		line("Completed", view.CompletedAt.Local().Format(time.RFC3339))
	}
}

func newJobsCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				if err := client.CancelJob(cmd.Context(), args[0]); err != nil {
					if errors.Is(err, errNotFound) {
						return fmt.Errorf("job %s not found", args[0])
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancelled job %s\n", args[0])
				return nil
			})
		},
	}
}

func newJobsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Retry a failed job now instead of waiting out its backoff",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				view, err := client.RetryJob(cmd.Context(), args[0])
				if err != nil {
					if errors.Is(err, errNotFound) {
						return fmt.Errorf("job %s not found", args[0])
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued job %s (%s)\n", view.JobID, statusLabel(view.Status))
				return nil
			})
		},
	}
}

func newJobsReleaseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "release <job-id>",
		Short: "Release a dead-lettered job back into the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				view, err := client.ReleaseJob(cmd.Context(), args[0])
				if err != nil {
					if errors.Is(err, errNotFound) {
						return fmt.Errorf("job %s not found", args[0])
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Released job %s (%s)\n", view.JobID, statusLabel(view.Status))
				return nil
			})
		},
	}
}
