package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Samweli/GEEST/internal/analysis"
	"github.com/Samweli/GEEST/internal/model"
)

var (
	analyzeWorkers   int
	analyzeStrict    bool
	analyzeNameField string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the full analysis over the project's study area",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("analyze"); err != nil {
			return err
		}

		proj, err := openProject(ctx)
		if err != nil {
			return err
		}
		defer proj.Close()

		workers := analyzeWorkers
		if workers == 0 {
			workers = cfg.Analysis.Workers
		}
		nameField := analyzeNameField
		if nameField == "" {
			nameField = cfg.Analysis.NameField
		}

		a := buildAnalysis(proj)
		summary, err := a.Run(ctx, analysis.Options{
			NameField: nameField,
			Workers:   workers,
			Strict:    analyzeStrict || cfg.Analysis.Strict,
			Reporter:  &progressReporter{},
		})
		if err != nil {
			return err
		}

		zap.L().Info("analysis complete",
			zap.String("run_id", summary.Result.RunID),
			zap.Int("features", summary.Features),
			zap.Int("warnings", len(summary.Result.Warnings)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

// progressReporter renders scheduler progress on stderr and logs every
// absorbed job failure as it lands.
type progressReporter struct {
	started bool
}

func (p *progressReporter) OnProgress(completed, total int, newly []model.Job) {
	p.started = true
	fmt.Fprintf(os.Stderr, "\rjobs %d/%d", completed, total)

	for _, j := range newly {
		if j.State != model.JobFailed {
			continue
		}
		fmt.Fprintln(os.Stderr)
		zap.L().Warn("job failed",
			zap.String("feature", j.FeatureID),
			zap.String("node", j.NodeID),
			zap.String("kind", string(j.ErrorKind)),
			zap.String("error", j.Error),
		)
	}
}

func (p *progressReporter) OnComplete(*model.Result) {
	p.finishLine()
}

func (p *progressReporter) OnError(kind model.Kind, message string) {
	p.finishLine()
	zap.L().Error("run failed",
		zap.String("kind", string(kind)),
		zap.String("error", message),
	)
}

func (p *progressReporter) finishLine() {
	if p.started {
		fmt.Fprintln(os.Stderr)
	}
}

func init() {
	analyzeCmd.Flags().IntVar(&analyzeWorkers, "workers", 0, "parallel evaluation workers (default from config)")
	analyzeCmd.Flags().BoolVar(&analyzeStrict, "strict", false, "abort the run on the first failed job")
	analyzeCmd.Flags().StringVar(&analyzeNameField, "name-field", "", "study-area attribute carrying feature names")
	rootCmd.AddCommand(analyzeCmd)
}
