package config

import (
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// DefaultVarsFile is loaded automatically when present in the config
// directory, before any explicitly passed var files.
const DefaultVarsFile = "cairn.vars.hcl"

// ParseVarsFile reads variable values from a file of plain name = value
// assignments. Values must be constant expressions.
func ParseVarsFile(path string) (map[string]cty.Value, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, &ParseError{Diags: diags}
	}

	attrs, moreDiags := f.Body.JustAttributes()
	diags = append(diags, moreDiags...)

	vals := make(map[string]cty.Value, len(attrs))
	for name, attr := range attrs {
		val, valDiags := attr.Expr.Value(nil)
		diags = append(diags, valDiags...)
		if valDiags.HasErrors() {
			continue
		}
		vals[name] = val
	}
	if diags.HasErrors() {
		return nil, &ParseError{Diags: diags}
	}
	return vals, nil
}
