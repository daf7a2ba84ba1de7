package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Samweli/GEEST/internal/fetcher"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [keys...]",
	Short: "Download the project's remote sources",
	Long:  "Downloads the descriptor's remote sources into the project's sources directory, unpacking archives and skipping payloads the server reports unchanged. With no arguments every remote is synced.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("fetch"); err != nil {
			return err
		}

		proj, err := openProject(ctx)
		if err != nil {
			return err
		}
		defer proj.Close()

		statuses, err := newSyncer().Sync(ctx, proj, args)
		if err != nil {
			return err
		}

		failed := 0
		out := make([]map[string]any, 0, len(statuses))
		for _, st := range statuses {
			row := map[string]any{
				"key":     st.Key,
				"url":     st.URL,
				"path":    st.Path,
				"bytes":   st.Bytes,
				"changed": st.Changed,
			}
			if st.Err != nil {
				failed++
				row["error"] = st.Err.Error()
			}
			out = append(out, row)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}

		if failed > 0 {
			return eris.Errorf("fetch: %d of %d sources failed", failed, len(statuses))
		}
		return nil
	},
}

var (
	csvKey        string
	csvFile       string
	csvXColumn    string
	csvYColumn    string
	csvNameColumn string
	csvCharset    string
	csvDelimiter  string
)

var fetchCSVCmd = &cobra.Command{
	Use:   "csv",
	Short: "Convert a coordinate CSV into a point source",
	Long:  "Reads a CSV of coordinates, writes it as a point shapefile under the project's sources directory, and registers it under the given source key.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("fetch"); err != nil {
			return err
		}

		proj, err := openProject(ctx)
		if err != nil {
			return err
		}
		defer proj.Close()

		opts := fetcher.PointCSVOptions{
			XColumn:    csvXColumn,
			YColumn:    csvYColumn,
			NameColumn: csvNameColumn,
			Charset:    csvCharset,
		}
		if csvDelimiter != "" {
			opts.Delimiter = []rune(csvDelimiter)[0]
		}

		rel, err := fetcher.ConvertPointsCSV(ctx, proj, csvKey, csvFile, opts)
		if err != nil {
			return err
		}

		zap.L().Info("csv converted",
			zap.String("key", csvKey),
			zap.String("path", rel),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]string{"key": csvKey, "path": rel})
	},
}

func init() {
	fetchCSVCmd.Flags().StringVar(&csvKey, "key", "", "source key to register (required)")
	fetchCSVCmd.Flags().StringVar(&csvFile, "file", "", "CSV file to convert (required)")
	fetchCSVCmd.Flags().StringVar(&csvXColumn, "x-column", "", "longitude or easting column (required)")
	fetchCSVCmd.Flags().StringVar(&csvYColumn, "y-column", "", "latitude or northing column (required)")
	fetchCSVCmd.Flags().StringVar(&csvNameColumn, "name-column", "", "display name column")
	fetchCSVCmd.Flags().StringVar(&csvCharset, "charset", "", "file encoding (IANA name, default UTF-8)")
	fetchCSVCmd.Flags().StringVar(&csvDelimiter, "delimiter", "", "field delimiter (default comma)")
	_ = fetchCSVCmd.MarkFlagRequired("key")
	_ = fetchCSVCmd.MarkFlagRequired("file")
	_ = fetchCSVCmd.MarkFlagRequired("x-column")
	_ = fetchCSVCmd.MarkFlagRequired("y-column")

	fetchCmd.AddCommand(fetchCSVCmd)
	rootCmd.AddCommand(fetchCmd)
}
