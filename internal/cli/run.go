package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	var importSeed bool

	cmd := &cobra.Command{
		Use:   "run <job-id>",
		Short: "Run a job now and wait for its retry chain to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, err := openEngine(ctx, rootOpts, cmd)
			if err != nil {
				return err
			}
			defer engine.Close()

			if importSeed {
				if err := engine.ImportSeed(ctx); err != nil {
					return &ExitError{Code: ExitCommandError, Err: err}
				}
			}

			log, runErr := engine.Runner.Execute(ctx, args[0])
			out := cmd.OutOrStdout()
			if log != nil {
				if rootOpts.Format == "json" {
					if err := writeJSON(out, log); err != nil {
						return err
					}
				} else {
					fmt.Fprintf(out, "%s %s: processed=%d succeeded=%d failed=%d duration=%dms\n",
						log.Status, log.JobID, log.RecordsProcessed, log.RecordsSucceeded, log.RecordsFailed, log.DurationMs)
				}
			}
			if runErr != nil {
				return &ExitError{Code: ExitFailure, Err: runErr}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&importSeed, "import", true, "import the seed file before running")
	return cmd
}
