// Package registry ships the built-in hierarchy template catalog: named
// dimension/factor/indicator trees a project can start from instead of
// assembling a hierarchy by hand.
package registry

import (
	"embed"
	"io/fs"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/Samweli/GEEST/internal/model"
)

//go:embed templates/*.yaml
var templateFS embed.FS

// DefaultTemplateID names the template project init uses when none is
// selected.
const DefaultTemplateID = "wee"

// Template is one named hierarchy, either shipped with the binary or
// loaded from a YAML file. Source names inside the hierarchy are logical
// keys the project maps to actual datasets.
type Template struct {
	ID          string          `yaml:"id"`
	Name        string          `yaml:"name"`
	Description string          `yaml:"description,omitempty"`
	Hierarchy   model.Hierarchy `yaml:"hierarchy"`
}

// Builtin returns the embedded template catalog sorted by ID. Every entry
// is validated on load, so a template that comes back is safe to hand to
// project creation unchanged.
func Builtin() ([]Template, error) {
	entries, err := fs.ReadDir(templateFS, "templates")
	if err != nil {
		return nil, eris.Wrap(err, "registry: read template dir")
	}

	templates := make([]Template, 0, len(entries))
	for _, entry := range entries {
		data, err := templateFS.ReadFile("templates/" + entry.Name())
		if err != nil {
			return nil, eris.Wrapf(err, "registry: read template %s", entry.Name())
		}
		tpl, err := parseTemplate(data)
		if err != nil {
			return nil, eris.Wrapf(err, "registry: template %s", entry.Name())
		}
		templates = append(templates, *tpl)
	}

	sort.Slice(templates, func(i, j int) bool {
		return templates[i].ID < templates[j].ID
	})
	return templates, nil
}

// Find returns the embedded template with the given ID.
func Find(id string) (*Template, error) {
	templates, err := Builtin()
	if err != nil {
		return nil, err
	}
	for i := range templates {
		if templates[i].ID == id {
			return &templates[i], nil
		}
	}
	return nil, eris.Errorf("registry: no template %q", id)
}

// Default returns the standard women's economic empowerment tree.
func Default() (*Template, error) {
	return Find(DefaultTemplateID)
}

// LoadTemplateFromFile reads and validates a template from a YAML file,
// for hierarchies maintained outside the built-in catalog.
func LoadTemplateFromFile(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read template file")
	}
	tpl, err := parseTemplate(data)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: template %s", path)
	}
	return tpl, nil
}

func parseTemplate(data []byte) (*Template, error) {
	var tpl Template
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return nil, eris.Wrap(err, "unmarshal")
	}
	if tpl.ID == "" {
		return nil, eris.New("missing template id")
	}
	if err := tpl.Hierarchy.Validate(); err != nil {
		return nil, err
	}
	return &tpl, nil
}
