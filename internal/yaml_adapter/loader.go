// Package yaml_adapter loads workflow templates and resources from YAML
// files into the format-agnostic config model.
package yaml_adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/specialistvlad/stagegrid/internal/config"
	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/fsutil"
)

// Loader is the YAML implementation of config.Loader.
type Loader struct{}

var _ config.Loader = (*Loader)(nil)

// NewLoader creates a new YAML configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Extensions implements config.Loader.
func (l *Loader) Extensions() []string { return []string{".yaml", ".yml"} }

type document struct {
	Resources []resource `yaml:"resources"`
	Templates []template `yaml:"templates"`
}

type resource struct {
	Name      string `yaml:"name"`
	Available *bool  `yaml:"available"`
}

type template struct {
	JobType string      `yaml:"job_type"`
	Stages  []stageSpec `yaml:"stages"`
}

type stageSpec struct {
	Name          string  `yaml:"name"`
	Department    string  `yaml:"department"`
	DurationHours float64 `yaml:"duration_hours"`
	Priority      int     `yaml:"priority"`
}

// Load implements config.Loader. A file may hold several documents separated
// by `---`; unknown keys are rejected.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := fsutil.CollectFiles(paths, l.Extensions()...)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered YAML files.", "count", len(files))

	model := &config.Model{Sources: files}
	for _, file := range files {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		for {
			var doc document
			err := dec.Decode(&doc)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("failed to decode YAML file %s: %w", file, err)
			}
			translate(model, &doc, file)
		}
	}

	logger.Debug("YAML loading complete.", "templates", len(model.Templates), "resources", len(model.Resources))
	return model, nil
}

func translate(m *config.Model, doc *document, source string) {
	for _, r := range doc.Resources {
		available := true
		if r.Available != nil {
			available = *r.Available
		}
		m.Resources = append(m.Resources, &config.Resource{Name: r.Name, Available: available, Source: source})
	}
	for _, t := range doc.Templates {
		ct := &config.Template{JobType: t.JobType, Source: source}
		for _, s := range t.Stages {
			ct.Stages = append(ct.Stages, &config.Stage{
				Name:          s.Name,
				Department:    s.Department,
				DurationHours: s.DurationHours,
				Priority:      s.Priority,
			})
		}
		m.Templates = append(m.Templates, ct)
	}
}
