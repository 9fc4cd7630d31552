package hcl_adapter

import "github.com/hashicorp/hcl/v2"

// variablesRoot picks the `variable` blocks out of a file; everything else
// is kept in Remain and decoded once the variables are known.
type variablesRoot struct {
	Variables []*Variable `hcl:"variable,block"`
	Remain    hcl.Body    `hcl:",remain"`
}

// fileRoot is a struct used to decode the remaining top-level blocks.
type fileRoot struct {
	Resources []*Resource `hcl:"resource,block"`
	Templates []*Template `hcl:"template,block"`
	Remain    hcl.Body    `hcl:",remain"`
}

// Variable is a `variable "name" {}` block. Its value is usable in template
// expressions as var.<name>.
type Variable struct {
	Name        string         `hcl:"name,label"`
	Type        hcl.Expression `hcl:"type,optional"`
	Default     hcl.Expression `hcl:"default,optional"`
	Description string         `hcl:"description,optional"`
}

// Resource is a `resource "name" {}` block.
type Resource struct {
	Name      string `hcl:"name,label"`
	Available *bool  `hcl:"available,optional"`
}

// Template is a `template "job_type" {}` block.
type Template struct {
	JobType string   `hcl:"job_type,label"`
	Stages  []*Stage `hcl:"stage,block"`
}

// Stage is a `stage "name" {}` block inside a template.
type Stage struct {
	Name          string  `hcl:"name,label"`
	Department    string  `hcl:"department"`
	DurationHours float64 `hcl:"duration_hours"`
	Priority      *int    `hcl:"priority,optional"`
}
