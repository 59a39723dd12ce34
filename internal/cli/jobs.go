package cli

import (
	"fmt"
	"text/tabwriter"

	"tablesync/internal/models"

	"github.com/spf13/cobra"
)

func NewJobsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List jobs in the store with their runtime state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine(cmd.Context(), rootOpts, cmd)
			if err != nil {
				return err
			}
			defer engine.Close()

			jobs, err := engine.DB.ListJobs(cmd.Context())
			if err != nil {
				return err
			}
			if jobs == nil {
				jobs = []*models.SyncJob{}
			}

			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), jobs)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tENABLED\tSCHEDULE\tSTATUS\tRETRIES\tLAST RUN")
			for _, j := range jobs {
				lastRun := "-"
				if j.LastRun != nil {
					lastRun = j.LastRun.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%d/%d\t%s\n",
					j.ID, j.Enabled, j.Schedule, j.Status, j.RetryCount, j.MaxRetries, lastRun)
			}
			return tw.Flush()
		},
	}
}
