package hcl_adapter

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/ext/typeexpr"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// functions are callable from template expressions.
var functions = map[string]function.Function{
	"min":   stdlib.MinFunc,
	"max":   stdlib.MaxFunc,
	"ceil":  stdlib.CeilFunc,
	"floor": stdlib.FloorFunc,
	"lower": stdlib.LowerFunc,
	"upper": stdlib.UpperFunc,
}

// resolveVariables computes the value of every declared variable: an
// override when one is given, the default otherwise. A type constraint, when
// present, is applied to either.
func resolveVariables(ctx context.Context, decls []*Variable, overrides map[string]string) (map[string]cty.Value, error) {
	vals := make(map[string]cty.Value, len(decls))
	declared := make(map[string]bool, len(decls))

	for _, v := range decls {
		if declared[v.Name] {
			return nil, fmt.Errorf("variable %q is declared more than once", v.Name)
		}
		declared[v.Name] = true

		ty := cty.DynamicPseudoType
		if isExprDefined(ctx, v.Type, "type") {
			t, diags := typeexpr.TypeConstraint(v.Type)
			if diags.HasErrors() {
				return nil, fmt.Errorf("invalid type for variable %q: %w", v.Name, diags)
			}
			ty = t
		}

		var val cty.Value
		if raw, ok := overrides[v.Name]; ok {
			val = parseOverride(raw)
		} else if isExprDefined(ctx, v.Default, "default") {
			d, diags := v.Default.Value(nil)
			if diags.HasErrors() {
				return nil, fmt.Errorf("invalid default for variable %q: %w", v.Name, diags)
			}
			val = d
		} else {
			return nil, fmt.Errorf("variable %q has no default and no value was given", v.Name)
		}

		converted, err := convert.Convert(val, ty)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", v.Name, err)
		}
		vals[v.Name] = converted
	}

	for _, name := range slices.Sorted(maps.Keys(overrides)) {
		if !declared[name] {
			return nil, fmt.Errorf("value given for undeclared variable %q", name)
		}
	}
	return vals, nil
}

// parseOverride reads a command-line value as an HCL literal, falling back
// to a plain string.
func parseOverride(raw string) cty.Value {
	expr, diags := hclsyntax.ParseExpression([]byte(raw), "<override>", hcl.InitialPos)
	if diags.HasErrors() {
		return cty.StringVal(raw)
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return cty.StringVal(raw)
	}
	return val
}

func evalContext(vars map[string]cty.Value) *hcl.EvalContext {
	obj := cty.EmptyObjectVal
	if len(vars) > 0 {
		obj = cty.ObjectVal(vars)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"var": obj},
		Functions: functions,
	}
}
