package main

import (
	"encoding/json"
	"math"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Samweli/GEEST/internal/geometry"
	"github.com/Samweli/GEEST/internal/gis"
	"github.com/Samweli/GEEST/internal/model"
	"github.com/Samweli/GEEST/internal/project"
	"github.com/Samweli/GEEST/internal/registry"
)

var (
	initName         string
	initTemplate     string
	initTemplateFile string
	initStudyArea    string
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage analysis projects",
}

var projectInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a project from a hierarchy template",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("project"); err != nil {
			return err
		}

		tpl, err := resolveTemplate()
		if err != nil {
			return err
		}

		proj, err := project.Create(ctx, initName, projectRoot, tpl.Hierarchy, projectOptions())
		if err != nil {
			return err
		}
		defer proj.Close()

		if initStudyArea != "" {
			if err := proj.ImportStudyArea(initStudyArea); err != nil {
				return err
			}
		}

		zap.L().Info("project ready",
			zap.String("name", proj.Desc.Name),
			zap.String("root", proj.Root),
			zap.String("template", tpl.ID),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"name":       proj.Desc.Name,
			"root":       proj.Root,
			"template":   tpl.ID,
			"crs":        proj.Desc.CRS,
			"study_area": proj.Desc.StudyArea,
			"hierarchy":  hierarchyCounts(proj.Desc.Hierarchy),
		})
	},
}

// resolveTemplate picks the hierarchy for a new project: an explicit
// file wins over a catalog ID, which wins over the default template.
func resolveTemplate() (*registry.Template, error) {
	switch {
	case initTemplateFile != "":
		return registry.LoadTemplateFromFile(initTemplateFile)
	case initTemplate != "":
		return registry.Find(initTemplate)
	default:
		return registry.Default()
	}
}

var projectInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show project metadata and index stats",
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

		stats, err := proj.Stats(ctx)
		if err != nil {
			return err
		}

		out := map[string]any{
			"name":       proj.Desc.Name,
			"root":       proj.Root,
			"crs":        proj.Desc.CRS,
			"study_area": proj.Desc.StudyArea,
			"sources":    proj.Desc.Sources,
			"remotes":    proj.Desc.Remotes,
			"hierarchy":  hierarchyCounts(proj.Desc.Hierarchy),
			"stats":      stats,
		}

		features, err := proj.Features(ctx)
		if err != nil {
			return err
		}
		if len(features) > 0 {
			area := features[0].BBox
			for _, f := range features[1:] {
				area = area.Union(f.BBox)
			}
			out["extent"] = extentSummary(area)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

// extentSummary reports the analysis area's span in kilometers, measured
// along the bounding box edges on the WGS84 sphere.
func extentSummary(b geometry.BBox) map[string]any {
	widthKm := gis.HaversineMeters(b.MinY, b.MinX, b.MinY, b.MaxX) / 1000
	heightKm := gis.HaversineMeters(b.MinY, b.MinX, b.MaxY, b.MinX) / 1000
	return map[string]any{
		"bbox":      b.String(),
		"width_km":  math.Round(widthKm*10) / 10,
		"height_km": math.Round(heightKm*10) / 10,
	}
}

var projectTemplatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List built-in hierarchy templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		templates, err := registry.Builtin()
		if err != nil {
			return err
		}

		out := make([]map[string]any, 0, len(templates))
		for _, tpl := range templates {
			out = append(out, map[string]any{
				"id":          tpl.ID,
				"name":        tpl.Name,
				"description": tpl.Description,
				"hierarchy":   hierarchyCounts(tpl.Hierarchy),
			})
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func hierarchyCounts(h model.Hierarchy) map[string]int {
	counts := map[string]int{"dimensions": len(h.Dimensions)}
	for _, d := range h.Dimensions {
		counts["factors"] += len(d.Factors)
		for _, f := range d.Factors {
			counts["indicators"] += len(f.Indicators)
		}
	}
	return counts
}

func init() {
	projectInitCmd.Flags().StringVar(&initName, "name", "", "project name (required)")
	projectInitCmd.Flags().StringVar(&initTemplate, "template", "", "built-in hierarchy template ID")
	projectInitCmd.Flags().StringVar(&initTemplateFile, "template-file", "", "hierarchy template YAML file")
	projectInitCmd.Flags().StringVar(&initStudyArea, "study-area", "", "study-area shapefile to import")
	_ = projectInitCmd.MarkFlagRequired("name")

	projectCmd.AddCommand(projectInitCmd)
	projectCmd.AddCommand(projectInfoCmd)
	projectCmd.AddCommand(projectTemplatesCmd)
	rootCmd.AddCommand(projectCmd)
}
