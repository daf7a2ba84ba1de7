package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Samweli/GEEST/internal/config"
)

var cfg *config.Config

var projectRoot string

var rootCmd = &cobra.Command{
	Use:   "geest",
	Short: "Gender enabling environments spatial analysis",
	Long:  "Manages geospatial analysis projects: explodes study areas into features, scores indicators against raster and vector sources, and aggregates weighted hierarchies into composite indices.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectRoot, "project", ".", "project root directory")
}
