package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/specialistvlad/stagegrid/internal/conflict"
	"github.com/specialistvlad/stagegrid/internal/workflow"
)

// Model is the unified, format-agnostic representation of the configuration.
type Model struct {
	Templates []*Template
	Resources []*Resource
	// Sources lists the files the model was read from.
	Sources []string
}

// Template is one `template` block: the ordered stages of a job type.
type Template struct {
	JobType string
	Stages  []*Stage
	Source  string
}

// Stage is one step of a template.
type Stage struct {
	Name          string
	Department    string
	DurationHours float64
	Priority      int
}

// Resource declares a bookable resource and whether it is available.
type Resource struct {
	Name      string
	Available bool
	Source    string
}

// Merge appends the content of other to m.
func (m *Model) Merge(other *Model) {
	if other == nil {
		return
	}
	m.Templates = append(m.Templates, other.Templates...)
	m.Resources = append(m.Resources, other.Resources...)
	m.Sources = append(m.Sources, other.Sources...)
}

// Catalog validates the templates and builds the workflow catalog.
func (m *Model) Catalog() (*workflow.Catalog, error) {
	templates := make([]workflow.Template, 0, len(m.Templates))
	for _, t := range m.Templates {
		wt := workflow.Template{JobType: t.JobType, Steps: make([]workflow.Step, 0, len(t.Stages))}
		for _, s := range t.Stages {
			wt.Steps = append(wt.Steps, workflow.Step{
				Name:          s.Name,
				Department:    s.Department,
				DurationHours: s.DurationHours,
				Priority:      s.Priority,
			})
		}
		templates = append(templates, wt)
	}
	return workflow.NewCatalog(templates)
}

// Directory builds the resource directory. When strict is set, resources not
// declared in the model are reported unavailable.
func (m *Model) Directory(strict bool) (*conflict.StaticDirectory, error) {
	entries, err := m.ResourceTable()
	if err != nil {
		return nil, err
	}
	return conflict.NewStaticDirectory(entries, strict), nil
}

// ResourceTable maps every declared resource to its availability. A resource
// declared twice with different availability is an error.
func (m *Model) ResourceTable() (map[string]bool, error) {
	entries := make(map[string]bool, len(m.Resources))
	for _, r := range m.Resources {
		if prev, ok := entries[r.Name]; ok && prev != r.Available {
			return nil, fmt.Errorf("resource %q is declared both available and unavailable (%s)", r.Name, r.Source)
		}
		entries[r.Name] = r.Available
	}
	return entries, nil
}

// JobTypes returns the declared job types, sorted.
func (m *Model) JobTypes() []string {
	out := make([]string, 0, len(m.Templates))
	for _, t := range m.Templates {
		out = append(out, t.JobType)
	}
	slices.SortFunc(out, strings.Compare)
	return out
}
