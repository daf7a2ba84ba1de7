package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Samweli/GEEST/internal/geometry"
	"github.com/Samweli/GEEST/internal/model"
	"github.com/Samweli/GEEST/internal/registry"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	// Verify expected subcommands are registered.
	expected := []string{"project", "analyze", "fetch", "status", "export", "serve"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "geest", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)

	flag := rootCmd.PersistentFlags().Lookup("project")
	require.NotNil(t, flag, "root command should have --project flag")
	assert.Equal(t, ".", flag.DefValue)
}

func TestProjectCommand_HasSubcommands(t *testing.T) {
	cmds := projectCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	for _, name := range []string{"init", "info", "templates"} {
		assert.True(t, names[name], "project should have subcommand %q", name)
	}
}

func TestProjectInitCommand_Flags(t *testing.T) {
	for _, flagName := range []string{"name", "template", "template-file", "study-area"} {
		flag := projectInitCmd.Flags().Lookup(flagName)
		assert.NotNil(t, flag, "project init should have --%s flag", flagName)
	}
}

func TestAnalyzeCommand_Flags(t *testing.T) {
	flag := analyzeCmd.Flags().Lookup("workers")
	require.NotNil(t, flag, "analyze should have --workers flag")
	assert.Equal(t, "0", flag.DefValue)

	assert.NotNil(t, analyzeCmd.Flags().Lookup("strict"))
	assert.NotNil(t, analyzeCmd.Flags().Lookup("name-field"))
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestFetchCSVCommand_Flags(t *testing.T) {
	for _, flagName := range []string{"key", "file", "x-column", "y-column", "name-column", "charset", "delimiter"} {
		flag := fetchCSVCmd.Flags().Lookup(flagName)
		assert.NotNil(t, flag, "fetch csv should have --%s flag", flagName)
	}
}

func TestResolveTemplate_Default(t *testing.T) {
	tpl, err := resolveTemplate()
	require.NoError(t, err)
	assert.Equal(t, registry.DefaultTemplateID, tpl.ID)
}

func TestHierarchyCounts(t *testing.T) {
	h := model.Hierarchy{Dimensions: []model.Dimension{{
		ID: "d1",
		Factors: []model.Factor{
			{ID: "f1", Indicators: []model.Indicator{{ID: "i1"}, {ID: "i2"}}},
			{ID: "f2", Indicators: []model.Indicator{{ID: "i3"}}},
		},
	}}}

	counts := hierarchyCounts(h)
	assert.Equal(t, 1, counts["dimensions"])
	assert.Equal(t, 2, counts["factors"])
	assert.Equal(t, 3, counts["indicators"])
}

func TestExtentSummary(t *testing.T) {
	// One degree square at the equator spans about 111.2 km each way.
	ext := extentSummary(geometry.BBox{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1})

	assert.InDelta(t, 111.2, ext["width_km"], 0.2)
	assert.InDelta(t, 111.2, ext["height_km"], 0.2)
	assert.NotEmpty(t, ext["bbox"])
}
