package cli

import (
	"fmt"

	"tablesync/internal/app"

	"github.com/spf13/cobra"
)

type validateResult struct {
	Valid    bool     `json:"valid"`
	SeedFile string   `json:"seed_file"`
	Mappings int      `json:"mappings"`
	Jobs     int      `json:"jobs"`
	Warnings []string `json:"warnings,omitempty"`
	Error    string   `json:"error,omitempty"`
}

func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var seedFile string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the config and the seed file without touching the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			if seedFile == "" {
				seedFile = cfg.Scheduler.SeedFile
			}

			res := validateResult{SeedFile: seedFile}
			seed, err := app.LoadSeed(seedFile)
			if err == nil {
				res.Mappings, res.Jobs = len(seed.Mappings), len(seed.Jobs)
				err = seed.Validate(cfg.Sources)
				for _, problem := range seed.ScheduleProblems() {
					res.Warnings = append(res.Warnings, problem.Error())
				}
			}
			if err != nil {
				res.Error = err.Error()
			}
			res.Valid = err == nil

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				if werr := writeJSON(out, res); werr != nil {
					return werr
				}
			} else if res.Valid {
				fmt.Fprintf(out, "OK %s: %d mappings, %d jobs\n", seedFile, res.Mappings, res.Jobs)
				for _, w := range res.Warnings {
					fmt.Fprintf(out, "WARN %s (job will not be scheduled)\n", w)
				}
			} else {
				fmt.Fprintf(out, "INVALID %s:\n%s\n", seedFile, res.Error)
			}

			if err != nil {
				return &ExitError{Code: ExitFailure, Err: err}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&seedFile, "seed", "", "seed file (defaults to scheduler.seed_file)")
	return cmd
}
