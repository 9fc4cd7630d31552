// Package workflow turns a job type into its default sequence of stages.
//
// Templates are immutable once a Catalog is built. The catalog is created at
// startup from configuration and handed to the Builder explicitly; nothing in
// this package holds global state.
package workflow

import (
	"fmt"
	"slices"
	"sort"

	"github.com/specialistvlad/stagegrid/internal/stage"
)

// Step is one entry of a template.
type Step struct {
	Name          string  `json:"name" yaml:"name" validate:"required,max=128"`
	Department    string  `json:"department" yaml:"department" validate:"required,max=128"`
	DurationHours float64 `json:"duration_hours" yaml:"duration_hours" validate:"finite,gt=0"`
	Priority      int     `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// Template is the ordered list of steps for a job type.
type Template struct {
	JobType string `json:"job_type" yaml:"job_type" validate:"required,max=128"`
	Steps   []Step `json:"steps" yaml:"steps" validate:"required,min=1,dive"`
}

// Catalog maps job types to templates. It is read-only after construction
// and safe for concurrent use.
type Catalog struct {
	templates map[string]Template
}

// NewCatalog validates the templates and builds a catalog. Every problem
// across all templates is reported in one *stage.ValidationError.
func NewCatalog(templates []Template) (*Catalog, error) {
	c := &Catalog{templates: make(map[string]Template, len(templates))}
	var problems []string

	for i, t := range templates {
		if err := stage.Struct(fmt.Sprintf("template %q", t.JobType), t); err != nil {
			problems = append(problems, err.Error())
			continue
		}
		if _, dup := c.templates[t.JobType]; dup {
			problems = append(problems, fmt.Sprintf("template %q (#%d) is defined more than once", t.JobType, i+1))
			continue
		}
		seen := make(map[string]bool, len(t.Steps))
		for _, s := range t.Steps {
			if seen[s.Name] {
				problems = append(problems, fmt.Sprintf("template %q repeats stage %q", t.JobType, s.Name))
			}
			seen[s.Name] = true
		}
		c.templates[t.JobType] = Template{JobType: t.JobType, Steps: slices.Clone(t.Steps)}
	}

	if len(problems) > 0 {
		return nil, &stage.ValidationError{Subject: "workflow templates", Problems: problems}
	}
	return c, nil
}

// Lookup returns a copy of the template for jobType.
func (c *Catalog) Lookup(jobType string) (Template, bool) {
	t, ok := c.templates[jobType]
	if !ok {
		return Template{}, false
	}
	return Template{JobType: t.JobType, Steps: slices.Clone(t.Steps)}, true
}

// JobTypes lists the known job types in lexical order.
func (c *Catalog) JobTypes() []string {
	out := make([]string, 0, len(c.templates))
	for k := range c.templates {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of templates.
func (c *Catalog) Len() int { return len(c.templates) }

// TotalHours is the sum of the step durations.
func (t Template) TotalHours() float64 {
	var total float64
	for _, s := range t.Steps {
		total += s.DurationHours
	}
	return total
}

// DefaultTemplates returns the built-in templates used when no template file
// is configured.
func DefaultTemplates() []Template {
	return []Template{
		{JobType: "print", Steps: []Step{
			{Name: "print", Department: "printing", DurationHours: 4},
			{Name: "post-process", Department: "finishing", DurationHours: 2},
			{Name: "inspect", Department: "quality", DurationHours: 1},
		}},
		{JobType: "machined-part", Steps: []Step{
			{Name: "machine", Department: "machining", DurationHours: 6, Priority: 1},
			{Name: "deburr", Department: "finishing", DurationHours: 1},
			{Name: "inspect", Department: "quality", DurationHours: 1},
		}},
		{JobType: "coated-part", Steps: []Step{
			{Name: "print", Department: "printing", DurationHours: 4},
			{Name: "machine", Department: "machining", DurationHours: 3},
			{Name: "coat", Department: "coating", DurationHours: 2},
			{Name: "inspect", Department: "quality", DurationHours: 1},
		}},
	}
}
