package main

import (
	"fmt"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Samweli/GEEST/internal/analysis"
	"github.com/Samweli/GEEST/internal/model"
	"github.com/Samweli/GEEST/internal/project"
	"github.com/Samweli/GEEST/internal/report"
)

var (
	exportRun string
	exportOut string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a run's scores as an xlsx workbook",
	Long:  "Reassembles a run's result from the stored artifacts, writes the score matrix workbook, and prints the text summary. Without --run the latest succeeded run is exported.",
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

		runID := exportRun
		if runID == "" {
			runs, err := proj.ListRuns(ctx, project.RunFilter{Status: model.RunStatusSucceeded, Limit: 1})
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				return eris.New("export: no succeeded runs")
			}
			runID = runs[0].ID
		}

		res, err := analysis.Assemble(ctx, proj, runID)
		if err != nil {
			return err
		}

		out := exportOut
		if out == "" {
			out = filepath.Join(proj.Root, "report.xlsx")
		}
		if err := report.WriteXLSX(out, proj.Desc.Hierarchy, res); err != nil {
			return err
		}

		zap.L().Info("report written",
			zap.String("run_id", runID),
			zap.String("path", out),
			zap.Int("features", len(res.Features)),
		)

		fmt.Print(report.Summary(proj.Desc.Hierarchy, res))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportRun, "run", "", "run ID to export (default latest succeeded)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "workbook path (default <project>/report.xlsx)")
	rootCmd.AddCommand(exportCmd)
}
