package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/Samweli/GEEST/internal/model"
	"github.com/Samweli/GEEST/internal/project"
)

var (
	statusRun   string
	statusLimit int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show run history, or one run's job breakdown",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("project"); err != nil {
			return err
		}

		proj, err := openProject(ctx)
		if err != nil {
			return err
		}
		defer proj.Close()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if statusRun != "" {
			run, err := proj.GetRun(ctx, statusRun)
			if err != nil {
				return err
			}
			if run == nil {
				return eris.Errorf("status: no run %s", statusRun)
			}

			jobs, err := proj.ListJobs(ctx, statusRun)
			if err != nil {
				return err
			}

			states := map[model.JobState]int{}
			var failures []*project.JobRecord
			for _, j := range jobs {
				states[j.State]++
				if j.State == model.JobFailed {
					failures = append(failures, j)
				}
			}

			return enc.Encode(map[string]any{
				"run":      run,
				"states":   states,
				"failures": failures,
			})
		}

		runs, err := proj.ListRuns(ctx, project.RunFilter{Limit: statusLimit})
		if err != nil {
			return err
		}
		stats, err := proj.Stats(ctx)
		if err != nil {
			return err
		}

		return enc.Encode(map[string]any{
			"project": proj.Desc.Name,
			"stats":   stats,
			"runs":    runs,
		})
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusRun, "run", "", "run ID to break down by job")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "max runs to list")
	rootCmd.AddCommand(statusCmd)
}
