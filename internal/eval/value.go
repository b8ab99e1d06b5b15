package eval

import (
	"math/big"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

// EnvVarPrefix marks process environment variables carrying input
// variable values, e.g. CAIRN_VAR_region=eu-west-1.
const EnvVarPrefix = "CAIRN_VAR_"

// EnvironOverrides extracts input variable values from a process
// environment as returned by os.Environ.
func EnvironOverrides(environ []string) map[string]string {
	out := map[string]string{}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvVarPrefix) {
			continue
		}
		name, value, ok := strings.Cut(strings.TrimPrefix(kv, EnvVarPrefix), "=")
		if !ok || name == "" {
			continue
		}
		out[name] = value
	}
	return out
}

// parseInputValue interprets a raw string from the command line or
// environment. String variables take the text literally; for other types
// the text is parsed as an HCL expression so numbers, bools, lists, and
// maps can be passed. Unparseable values stay strings and surface as type
// violations during validation.
func parseInputValue(raw string, want cty.Type) cty.Value {
	if want.Equals(cty.String) {
		return cty.StringVal(raw)
	}
	expr, diags := hclsyntax.ParseExpression([]byte(raw), "<value>", hcl.InitialPos)
	if diags.HasErrors() {
		return cty.StringVal(raw)
	}
	val, moreDiags := expr.Value(nil)
	if moreDiags.HasErrors() {
		return cty.StringVal(raw)
	}
	return val
}

// ctyToGo converts an evaluated value to plain Go values suitable for
// JSON round-tripping. Whole numbers become int64 so serial-style values
// survive without a float detour.
func ctyToGo(v cty.Value) any {
	if v.IsNull() {
		return nil
	}
	ty := v.Type()
	switch {
	case ty.Equals(cty.String):
		return v.AsString()
	case ty.Equals(cty.Bool):
		return v.True()
	case ty.Equals(cty.Number):
		bf := v.AsBigFloat()
		if i, acc := bf.Int64(); acc == big.Exact {
			return i
		}
		f, _ := bf.Float64()
		return f
	case ty.IsTupleType(), ty.IsListType(), ty.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			out = append(out, ctyToGo(ev))
		}
		return out
	case ty.IsObjectType(), ty.IsMapType():
		out := make(map[string]any, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			out[k.AsString()] = ctyToGo(ev)
		}
		return out
	default:
		return nil
	}
}

// traversalString renders a traversal the way it was written, for error
// messages.
func traversalString(tr hcl.Traversal) string {
	var b strings.Builder
	for _, step := range tr {
		switch s := step.(type) {
		case hcl.TraverseRoot:
			b.WriteString(s.Name)
		case hcl.TraverseAttr:
			b.WriteString(".")
			b.WriteString(s.Name)
		case hcl.TraverseIndex:
			if s.Key.Type().Equals(cty.String) {
				b.WriteString("[\"" + s.Key.AsString() + "\"]")
			} else {
				b.WriteString("[" + s.Key.AsBigFloat().String() + "]")
			}
		}
	}
	return b.String()
}

// traversalAttr returns step i of a traversal when it is an attribute
// access.
func traversalAttr(tr hcl.Traversal, i int) (string, bool) {
	if len(tr) <= i {
		return "", false
	}
	step, ok := tr[i].(hcl.TraverseAttr)
	if !ok {
		return "", false
	}
	return step.Name, true
}
