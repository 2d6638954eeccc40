package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"relato/internal/logging"
	"relato/internal/retention"
)

func newSweepCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one retention pass: delete expired projects and purge old audit rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}
			st, err := cmdCtx.ensureStore()
			if err != nil {
				return err
			}
			blobs, err := cmdCtx.ensureBlobs()
			if err != nil {
				return err
			}

			sweeper := retention.New(st, blobs, cfg.Retention, logging.NewNop())
			deleted, purged := sweeper.RunOnce(cmd.Context())

			fmt.Fprintf(cmd.OutOrStdout(),
				"Deleted %d expired project(s), purged %d audit row(s).\n", deleted, purged)
			return nil
		},
	}
}
