package app

import (
	"context"

	"github.com/specialistvlad/stagegrid/internal/config"
	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/hcl_adapter"
	"github.com/specialistvlad/stagegrid/internal/workflow"
	"github.com/specialistvlad/stagegrid/internal/yaml_adapter"
)

// loadTemplates reads HCL and YAML definitions from paths. Without paths the
// built-in templates are used.
func loadTemplates(ctx context.Context, paths []string, vars map[string]string) (*config.Model, *workflow.Catalog, error) {
	logger := ctxlog.FromContext(ctx)
	if len(paths) == 0 {
		logger.Debug("No template paths configured, using built-in templates.")
		catalog, err := workflow.NewCatalog(workflow.DefaultTemplates())
		return &config.Model{}, catalog, err
	}

	model := &config.Model{}
	for _, l := range templateLoaders(vars) {
		m, err := l.Load(ctx, paths...)
		if err != nil {
			return nil, nil, err
		}
		model.Merge(m)
	}
	logger.Debug("Configuration loaded and translated into unified model.", "files", len(model.Sources))

	catalog, err := model.Catalog()
	if err != nil {
		return nil, nil, err
	}
	return model, catalog, nil
}

func templateLoaders(vars map[string]string) []config.Loader {
	return []config.Loader{hcl_adapter.NewLoader(vars), yaml_adapter.NewLoader()}
}
