package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"tablesync/internal/models"

	"github.com/spf13/cobra"
)

func NewLogsCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "logs <job-id>",
		Short: "Show the execution ledger of a job, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 || limit > models.MaxLogsLimit {
				return fmt.Errorf("--limit must be between 1 and %d", models.MaxLogsLimit)
			}

			ctx := cmd.Context()
			engine, err := openEngine(ctx, rootOpts, cmd)
			if err != nil {
				return err
			}
			defer engine.Close()

			if _, err := engine.DB.GetJob(ctx, args[0]); err != nil {
				return &ExitError{Code: ExitFailure, Err: err}
			}
			logs, err := engine.DB.GetLogs(ctx, args[0], limit)
			if err != nil {
				return err
			}
			if logs == nil {
				logs = []*models.ExecutionLog{}
			}

			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), logs)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tSTATUS\tATTEMPT\tPROCESSED\tSUCCEEDED\tFAILED\tDURATION\tERROR")
			for _, l := range logs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
					l.StartTime.Format(time.RFC3339), l.Status, l.RetryAttempt,
					l.RecordsProcessed, l.RecordsSucceeded, l.RecordsFailed,
					time.Duration(l.DurationMs)*time.Millisecond, l.ErrorMessage)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", models.DefaultLogsLimit, "maximum number of entries")
	return cmd
}
