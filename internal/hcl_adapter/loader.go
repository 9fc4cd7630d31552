package hcl_adapter

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/specialistvlad/stagegrid/internal/config"
	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/fsutil"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct {
	overrides map[string]string
}

var _ config.Loader = (*Loader)(nil)

// NewLoader creates a new HCL configuration loader. overrides replace the
// defaults of `variable` blocks; each value is read as an HCL literal.
func NewLoader(overrides map[string]string) *Loader {
	return &Loader{overrides: overrides}
}

// Extensions implements config.Loader.
func (l *Loader) Extensions() []string { return []string{".hcl"} }

type parsedFile struct {
	name string
	body hcl.Body
}

// Load orchestrates the HCL loading. Variables are collected from every
// file first, so a template may use a variable declared in another file.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	hclFiles, err := fsutil.CollectFiles(paths, l.Extensions()...)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered HCL files.", "count", len(hclFiles))

	parser := hclparse.NewParser()
	var (
		decls []*Variable
		files []parsedFile
	)
	for _, file := range hclFiles {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}
		var root variablesRoot
		if diags := gohcl.DecodeBody(hclFile.Body, nil, &root); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode variables in HCL file %s: %w", file, diags)
		}
		decls = append(decls, root.Variables...)
		files = append(files, parsedFile{name: file, body: root.Remain})
	}

	vars, err := resolveVariables(ctx, decls, l.overrides)
	if err != nil {
		return nil, err
	}
	evalCtx := evalContext(vars)

	model := &config.Model{Sources: hclFiles}
	for _, f := range files {
		var root fileRoot
		if diags := gohcl.DecodeBody(f.body, evalCtx, &root); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", f.name, diags)
		}
		for _, t := range root.Templates {
			model.Templates = append(model.Templates, translateTemplate(t, f.name))
		}
		for _, r := range root.Resources {
			model.Resources = append(model.Resources, translateResource(r, f.name))
		}
	}

	logger.Debug("HCL loading complete.", "variables", len(vars), "templates", len(model.Templates), "resources", len(model.Resources))
	return model, nil
}

func translateTemplate(t *Template, source string) *config.Template {
	out := &config.Template{JobType: t.JobType, Source: source, Stages: make([]*config.Stage, 0, len(t.Stages))}
	for _, s := range t.Stages {
		st := &config.Stage{Name: s.Name, Department: s.Department, DurationHours: s.DurationHours}
		if s.Priority != nil {
			st.Priority = *s.Priority
		}
		out.Stages = append(out.Stages, st)
	}
	return out
}

// translateResource converts a resource block; availability defaults to true.
func translateResource(r *Resource, source string) *config.Resource {
	available := true
	if r.Available != nil {
		available = *r.Available
	}
	return &config.Resource{Name: r.Name, Available: available, Source: source}
}
