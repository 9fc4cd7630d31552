package yaml_adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/stagegrid/internal/config"
	"github.com/specialistvlad/stagegrid/internal/testutil"
)

const bracketYAML = `
resources:
  - name: printing
  - name: polishing
    available: false
templates:
  - job_type: bracket
    stages:
      - name: print
        department: printing
        duration_hours: 2
      - name: polish
        department: polishing
        duration_hours: 0.5
        priority: 3
---
templates:
  - job_type: axle
    stages:
      - name: turn
        department: lathe
        duration_hours: 1
`

func TestLoad(t *testing.T) {
	ctx, _ := testutil.Context(t)
	dir := testutil.WriteFiles(t, map[string]string{
		"a.yaml":    bracketYAML,
		"notes.txt": "ignored",
	})

	model, err := NewLoader().Load(ctx, dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"axle", "bracket"}, model.JobTypes())
	assert.Equal(t, []*config.Stage{
		{Name: "print", Department: "printing", DurationHours: 2},
		{Name: "polish", Department: "polishing", DurationHours: 0.5, Priority: 3},
	}, model.Templates[0].Stages)
	require.Len(t, model.Resources, 2)
	assert.True(t, model.Resources[0].Available)
	assert.False(t, model.Resources[1].Available)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	ctx, _ := testutil.Context(t)
	dir := testutil.WriteFiles(t, map[string]string{
		"a.yml": "templates:\n  - job_type: x\n    steps: []\n",
	})

	_, err := NewLoader().Load(ctx, dir)
	assert.ErrorContains(t, err, "failed to decode YAML file")
}
