package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"relato/internal/logging"
	"relato/internal/pipeline"
	"relato/internal/store"
)

func newQueueCommand(cmdCtx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect pipeline jobs and retry failed projects",
	}

	cmd.AddCommand(newQueueListCommand(cmdCtx))
	cmd.AddCommand(newQueueRetryCommand(cmdCtx))

	return cmd
}

func newQueueListCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list <project-id>",
		Short: "List pipeline jobs for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := cmdCtx.ensureStore()
			if err != nil {
				return err
			}

			jobs, err := st.JobsForProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs.")
				return nil
			}

			rows := make([][]string, 0, len(jobs))
			for _, j := range jobs {
				rows = append(rows, []string{
					j.ID,
					j.Stage,
					string(j.Status),
					fmt.Sprintf("%d/%d", j.Attempts, j.MaxAttempts),
					formatNextRun(j),
					truncate(j.LastError, 50),
				})
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Job", "Stage", "Status", "Attempts", "Next Run", "Last Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
}

func newQueueRetryCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <project-id>",
		Short: "Requeue a failed project from the start of the pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}
			st, err := cmdCtx.ensureStore()
			if err != nil {
				return err
			}

			queue := pipeline.NewQueue(st, cfg.Pipeline, logging.NewNop())
			job, err := queue.Retry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			recordOperatorAudit(cmd.Context(), st, "project.retry", args[0])

			fmt.Fprintf(cmd.OutOrStdout(), "Requeued project %s (job %s).\n", args[0], job.ID)
			return nil
		},
	}
}

func formatNextRun(job *store.Job) string {
	if job.Status != store.JobPending {
		return "-"
	}
	if job.NextRunAt.IsZero() {
		return "now"
	}
	until := time.Until(job.NextRunAt)
	if until <= 0 {
		return "now"
	}
	return "in " + until.Round(time.Second).String()
}
