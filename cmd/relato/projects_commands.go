package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"relato/internal/store"
)

func newProjectsCommand(cmdCtx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "Inspect and manage recording projects",
	}

	cmd.AddCommand(newProjectsListCommand(cmdCtx))
	cmd.AddCommand(newProjectsShowCommand(cmdCtx))
	cmd.AddCommand(newProjectsDeleteCommand(cmdCtx))

	return cmd
}

func newProjectsListCommand(cmdCtx *commandContext) *cobra.Command {
	var userFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := cmdCtx.ensureStore()
			if err != nil {
				return err
			}

			projects, err := st.ListProjects(cmd.Context(), userFlag)
			if err != nil {
				return err
			}
			if len(projects) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No projects.")
				return nil
			}

			now := time.Now().UTC()
			rows := make([][]string, 0, len(projects))
			for _, p := range projects {
				rows = append(rows, []string{
					p.ID,
					truncate(p.Title, 40),
					string(p.EffectiveStatus(now)),
					p.CreatedAt.Local().Format("2006-01-02 15:04"),
					formatExpiry(p.ExpiresAt, now),
				})
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Title", "Status", "Created", "Expires"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&userFlag, "user", "", "Only list projects owned by this user")

	return cmd
}

func newProjectsShowCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show project detail, pipeline jobs, and audit history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := cmdCtx.ensureStore()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			project, err := st.GetProject(ctx, args[0])
			if err != nil {
				return err
			}
			state, err := st.GetProjectState(ctx, project.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			now := time.Now().UTC()

			fmt.Fprintf(out, "Project:      %s\n", project.ID)
			fmt.Fprintf(out, "Title:        %s\n", project.Title)
			fmt.Fprintf(out, "Participant:  %s\n", state.ParticipantName)
			fmt.Fprintf(out, "Owner:        %s\n", project.UserID)
			fmt.Fprintf(out, "Status:       %s\n", project.EffectiveStatus(now))
			fmt.Fprintf(out, "Created:      %s\n", project.CreatedAt.Local().Format(time.RFC1123))
			fmt.Fprintf(out, "Expires:      %s\n", formatExpiry(project.ExpiresAt, now))
			if project.ErrorMessage != "" {
				fmt.Fprintf(out, "Error:        %s\n", project.ErrorMessage)
			}
			fmt.Fprintf(out, "Ingested:     %s audio, %d bytes\n",
				(time.Duration(state.IngestDurationMS) * time.Millisecond).Round(time.Second),
				state.IngestBytesTotal)
			fmt.Fprintf(out, "Segments:     %d/%d transcribed\n", state.SegmentsDone, state.SegmentsTotal)
			fmt.Fprintf(out, "Photos:       %d/%d stylized (%d errors)\n",
				state.PhotosDone, state.PhotosTotal, project.StylizeErrors)
			if state.Transcript != "" {
				fmt.Fprintf(out, "Transcript:   %d characters\n", len([]rune(state.Transcript)))
			}
			if project.OutputFile != "" {
				fmt.Fprintf(out, "Output:       %s\n", project.OutputFile)
			}
			if project.FallbackFile != "" {
				fmt.Fprintf(out, "Fallback:     %s\n", project.FallbackFile)
			}
			if state.ProcessingMetrics != "" && state.ProcessingMetrics != "{}" {
				printMetrics(out, state.ProcessingMetrics)
			}

			jobs, err := st.JobsForProject(ctx, project.ID)
			if err != nil {
				return err
			}
			if len(jobs) > 0 {
				rows := make([][]string, 0, len(jobs))
				for _, j := range jobs {
					rows = append(rows, []string{
						j.Stage,
						string(j.Status),
						fmt.Sprintf("%d/%d", j.Attempts, j.MaxAttempts),
						j.UpdatedAt.Local().Format("15:04:05"),
						truncate(j.LastError, 50),
					})
				}
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderTable(
					[]string{"Stage", "Status", "Attempts", "Updated", "Last Error"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
			}

			events, err := st.AuditEventsForTarget(ctx, project.ID)
			if err != nil {
				return err
			}
			if len(events) > 0 {
				rows := make([][]string, 0, len(events))
				for _, ev := range events {
					rows = append(rows, []string{
						ev.CreatedAt.Local().Format("2006-01-02 15:04:05"),
						ev.Actor,
						ev.Action,
					})
				}
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderTable(
					[]string{"Time", "Actor", "Action"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft},
				))
			}

			return nil
		},
	}
}

func newProjectsDeleteCommand(cmdCtx *commandContext) *cobra.Command {
	var forceFlag bool

	cmd := &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project, its timeline rows, and its stored media",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := cmdCtx.ensureStore()
			if err != nil {
				return err
			}
			blobs, err := cmdCtx.ensureBlobs()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			project, err := st.GetProject(ctx, args[0])
			if err != nil {
				return err
			}
			if !forceFlag && project.Status == store.StatusProcessing {
				return fmt.Errorf("project %s is processing, pass --force to delete anyway", project.ID)
			}

			if err := blobs.DeleteProject(ctx, project.ID); err != nil {
				return fmt.Errorf("delete stored media: %w", err)
			}
			if err := st.DeleteProject(ctx, project.ID); err != nil {
				return err
			}
			recordOperatorAudit(ctx, st, "project.delete", project.ID)

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted project %s.\n", project.ID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&forceFlag, "force", false, "Delete even while the pipeline is processing")

	return cmd
}

// recordOperatorAudit is best effort: a failed audit write must not mask a
// deletion that already happened.
func recordOperatorAudit(ctx context.Context, st *store.Store, action, target string) {
	_ = st.RecordAudit(ctx, store.AuditEvent{
		Actor:  "operator",
		Action: action,
		Target: target,
		Origin: "cli",
	})
}

func printMetrics(out io.Writer, raw string) {
	var metrics struct {
		ChunksTotal     int   `json:"chunks_total"`
		ChunksProcessed int   `json:"chunks_processed"`
		LLMTimeMS       int64 `json:"llm_time_ms"`
		TotalTimeMS     int64 `json:"total_time_ms"`
	}
	if err := json.Unmarshal([]byte(raw), &metrics); err != nil {
		return
	}
	fmt.Fprintf(out, "Processing:   %s total, %s in generation\n",
		(time.Duration(metrics.TotalTimeMS) * time.Millisecond).Round(time.Millisecond),
		(time.Duration(metrics.LLMTimeMS) * time.Millisecond).Round(time.Millisecond))
}

func formatExpiry(expiresAt time.Time, now time.Time) string {
	if expiresAt.IsZero() {
		return "never"
	}
	if !now.Before(expiresAt) {
		return "expired"
	}
	remaining := expiresAt.Sub(now)
	if remaining > 48*time.Hour {
		return fmt.Sprintf("in %dd", int(remaining.Hours())/24)
	}
	return "in " + remaining.Round(time.Minute).String()
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
