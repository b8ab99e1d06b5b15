package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/ext/typeexpr"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/cairn-io/cairn/internal/logging"
)

const (
	// ConfigExt is the extension of configuration files.
	ConfigExt = ".hcl"
	// VarsExt marks files that hold variable values, not declarations.
	VarsExt = ".vars.hcl"
)

var rootSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "variable", LabelNames: []string{"name"}},
		{Type: "locals"},
		{Type: "resource", LabelNames: []string{"type", "name"}},
		{Type: "output", LabelNames: []string{"name"}},
		{Type: "module", LabelNames: []string{"name"}},
		{Type: "backend", LabelNames: []string{"type"}},
	},
}

var variableSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "type"},
		{Name: "default"},
		{Name: "description"},
		{Name: "sensitive"},
	},
	Blocks: []hcl.BlockHeaderSchema{{Type: "validation"}},
}

var validationSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "condition", Required: true},
		{Name: "error_message", Required: true},
	},
}

var resourceMetaSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "provider"},
		{Name: "count"},
		{Name: "for_each"},
		{Name: "depends_on"},
		{Name: "timeout"},
	},
	Blocks: []hcl.BlockHeaderSchema{{Type: "lifecycle"}},
}

var outputSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "value", Required: true},
		{Name: "description"},
		{Name: "sensitive"},
	},
}

// Load parses every *.hcl file directly under dir, in lexical order, and
// merges them into a single Document. Files matching *.vars.hcl are
// skipped; they hold values, not declarations. Subdirectories are not
// descended into, so module directories stay independent.
func Load(dir string) (*Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading config directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ConfigExt) || strings.HasSuffix(name, VarsExt) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)

	if len(files) == 0 {
		return nil, fmt.Errorf("no %s configuration files found in %s", ConfigExt, dir)
	}

	doc := &Document{
		Dir:         dir,
		Variables:   map[string]*Variable{},
		Locals:      map[string]*Local{},
		Outputs:     map[string]*Output{},
		ModuleCalls: map[string]*ModuleCall{},
		ByAddress:   map[string]*Resource{},
	}

	parser := hclparse.NewParser()
	var diags hcl.Diagnostics
	for _, path := range files {
		f, parseDiags := parser.ParseHCLFile(path)
		diags = append(diags, parseDiags...)
		if f == nil || parseDiags.HasErrors() {
			continue
		}
		diags = append(diags, mergeFile(doc, f)...)
	}
	if diags.HasErrors() {
		return nil, &ParseError{Diags: diags}
	}

	logging.Debug("configuration loaded",
		"dir", dir,
		"files", len(files),
		"resources", len(doc.Resources),
		"variables", len(doc.Variables))
	return doc, nil
}

func mergeFile(doc *Document, f *hcl.File) hcl.Diagnostics {
	content, diags := f.Body.Content(rootSchema)
	if content == nil {
		return diags
	}

	for _, block := range content.Blocks {
		switch block.Type {
		case "variable":
			v, moreDiags := decodeVariable(block)
			diags = append(diags, moreDiags...)
			if v == nil {
				continue
			}
			if prev, exists := doc.Variables[v.Name]; exists {
				diags = append(diags, dupDiag("variable", v.Name, prev.DeclRange, block.DefRange))
				continue
			}
			doc.Variables[v.Name] = v

		case "locals":
			attrs, moreDiags := block.Body.JustAttributes()
			diags = append(diags, moreDiags...)
			for _, attr := range sortedAttributes(attrs) {
				if prev, exists := doc.Locals[attr.Name]; exists {
					diags = append(diags, dupDiag("local value", attr.Name, prev.DeclRange, attr.Range))
					continue
				}
				doc.Locals[attr.Name] = &Local{Name: attr.Name, Expr: attr.Expr, DeclRange: attr.Range}
			}

		case "resource":
			r, moreDiags := decodeResource(block)
			diags = append(diags, moreDiags...)
			if r == nil {
				continue
			}
			if prev, exists := doc.ByAddress[r.Addr()]; exists {
				diags = append(diags, dupDiag("resource", r.Addr(), prev.DeclRange, block.DefRange))
				continue
			}
			doc.ByAddress[r.Addr()] = r
			doc.Resources = append(doc.Resources, r)

		case "output":
			o, moreDiags := decodeOutput(block)
			diags = append(diags, moreDiags...)
			if o == nil {
				continue
			}
			if prev, exists := doc.Outputs[o.Name]; exists {
				diags = append(diags, dupDiag("output", o.Name, prev.DeclRange, block.DefRange))
				continue
			}
			doc.Outputs[o.Name] = o

		case "module":
			m, moreDiags := decodeModuleCall(block)
			diags = append(diags, moreDiags...)
			if m == nil {
				continue
			}
			if prev, exists := doc.ModuleCalls[m.Name]; exists {
				diags = append(diags, dupDiag("module", m.Name, prev.DeclRange, block.DefRange))
				continue
			}
			doc.ModuleCalls[m.Name] = m

		case "backend":
			b, moreDiags := decodeBackend(block)
			diags = append(diags, moreDiags...)
			if b == nil {
				continue
			}
			if doc.Backend != nil {
				diags = append(diags, dupDiag("backend", b.Type, doc.Backend.DeclRange, block.DefRange))
				continue
			}
			doc.Backend = b
		}
	}
	return diags
}

func dupDiag(kind, name string, prev, cur hcl.Range) *hcl.Diagnostic {
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  fmt.Sprintf("Duplicate %s declaration", kind),
		Detail:   fmt.Sprintf("A %s named %q was already declared at %s.", kind, name, prev.String()),
		Subject:  &cur,
	}
}

func decodeVariable(block *hcl.Block) (*Variable, hcl.Diagnostics) {
	v := &Variable{
		Name:      block.Labels[0],
		Type:      cty.DynamicPseudoType,
		DeclRange: block.DefRange,
	}

	content, diags := block.Body.Content(variableSchema)
	if content == nil {
		return nil, diags
	}

	if attr, ok := content.Attributes["type"]; ok {
		ty, moreDiags := typeexpr.TypeConstraint(attr.Expr)
		diags = append(diags, moreDiags...)
		if !moreDiags.HasErrors() {
			v.Type = ty
		}
	}
	if attr, ok := content.Attributes["default"]; ok {
		val, moreDiags := attr.Expr.Value(nil)
		diags = append(diags, moreDiags...)
		if !moreDiags.HasErrors() {
			v.Default = val
			v.HasDefault = true
		}
	}
	if attr, ok := content.Attributes["description"]; ok {
		diags = append(diags, gohcl.DecodeExpression(attr.Expr, nil, &v.Description)...)
	}
	if attr, ok := content.Attributes["sensitive"]; ok {
		diags = append(diags, gohcl.DecodeExpression(attr.Expr, nil, &v.Sensitive)...)
	}

	for _, vb := range content.Blocks {
		vc, moreDiags := vb.Body.Content(validationSchema)
		diags = append(diags, moreDiags...)
		if vc == nil || moreDiags.HasErrors() {
			continue
		}
		v.Validations = append(v.Validations, &Validation{
			Condition:    vc.Attributes["condition"].Expr,
			ErrorMessage: vc.Attributes["error_message"].Expr,
			DeclRange:    vb.DefRange,
		})
	}
	return v, diags
}

func decodeResource(block *hcl.Block) (*Resource, hcl.Diagnostics) {
	r := &Resource{
		Type:      block.Labels[0],
		Name:      block.Labels[1],
		DeclRange: block.DefRange,
	}

	var diags hcl.Diagnostics
	if !hclsyntax.ValidIdentifier(r.Type) || !hclsyntax.ValidIdentifier(r.Name) {
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid resource address",
			Detail:   fmt.Sprintf("Resource type and name must be valid identifiers, got %q %q.", r.Type, r.Name),
			Subject:  block.DefRange.Ptr(),
		})
		return nil, diags
	}

	content, remain, moreDiags := block.Body.PartialContent(resourceMetaSchema)
	diags = append(diags, moreDiags...)
	if content == nil {
		return nil, diags
	}

	if attr, ok := content.Attributes["provider"]; ok {
		diags = append(diags, gohcl.DecodeExpression(attr.Expr, nil, &r.Provider)...)
	}
	if r.Provider == "" {
		p, ok := InferProvider(r.Type)
		if !ok {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Unknown resource type",
				Detail:   fmt.Sprintf("No built-in provider manages %q; set the provider attribute explicitly.", r.Type),
				Subject:  block.DefRange.Ptr(),
			})
			return nil, diags
		}
		r.Provider = p
	}

	if attr, ok := content.Attributes["count"]; ok {
		r.Count = attr.Expr
	}
	if attr, ok := content.Attributes["for_each"]; ok {
		r.ForEach = attr.Expr
	}
	if attr, ok := content.Attributes["timeout"]; ok {
		r.Timeout = attr.Expr
	}
	if r.Count != nil && r.ForEach != nil {
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Conflicting meta-arguments",
			Detail:   fmt.Sprintf("Resource %s sets both count and for_each; they are mutually exclusive.", r.Addr()),
			Subject:  block.DefRange.Ptr(),
		})
	}

	if attr, ok := content.Attributes["depends_on"]; ok {
		exprs, moreDiags := hcl.ExprList(attr.Expr)
		diags = append(diags, moreDiags...)
		for _, e := range exprs {
			traversal, moreDiags := hcl.AbsTraversalForExpr(e)
			diags = append(diags, moreDiags...)
			if traversal != nil {
				r.DependsOn = append(r.DependsOn, traversal)
			}
		}
	}

	for _, lb := range content.Blocks {
		if r.Lifecycle != nil {
			diags = append(diags, dupDiag("lifecycle block", r.Addr(), r.DeclRange, lb.DefRange))
			continue
		}
		lc := &Lifecycle{}
		diags = append(diags, gohcl.DecodeBody(lb.Body, nil, lc)...)
		r.Lifecycle = lc
	}

	attrs, moreDiags := remain.JustAttributes()
	diags = append(diags, moreDiags...)
	r.Attrs = make(map[string]*hcl.Attribute, len(attrs))
	for name, attr := range attrs {
		r.Attrs[name] = attr
	}
	return r, diags
}

func decodeOutput(block *hcl.Block) (*Output, hcl.Diagnostics) {
	o := &Output{
		Name:      block.Labels[0],
		DeclRange: block.DefRange,
	}

	content, diags := block.Body.Content(outputSchema)
	if content == nil {
		return nil, diags
	}

	if attr, ok := content.Attributes["value"]; ok {
		o.Value = attr.Expr
	}
	if attr, ok := content.Attributes["description"]; ok {
		diags = append(diags, gohcl.DecodeExpression(attr.Expr, nil, &o.Description)...)
	}
	if attr, ok := content.Attributes["sensitive"]; ok {
		diags = append(diags, gohcl.DecodeExpression(attr.Expr, nil, &o.Sensitive)...)
	}
	if o.Value == nil {
		return nil, diags
	}
	return o, diags
}

func decodeModuleCall(block *hcl.Block) (*ModuleCall, hcl.Diagnostics) {
	m := &ModuleCall{
		Name:      block.Labels[0],
		Inputs:    map[string]*hcl.Attribute{},
		DeclRange: block.DefRange,
	}

	attrs, diags := block.Body.JustAttributes()
	for name, attr := range attrs {
		if name == "source" {
			diags = append(diags, gohcl.DecodeExpression(attr.Expr, nil, &m.Source)...)
			continue
		}
		m.Inputs[name] = attr
	}
	if m.Source == "" {
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Missing module source",
			Detail:   fmt.Sprintf("Module %q requires a source attribute naming a local directory.", m.Name),
			Subject:  block.DefRange.Ptr(),
		})
		return nil, diags
	}
	return m, diags
}

func decodeBackend(block *hcl.Block) (*Backend, hcl.Diagnostics) {
	b := &Backend{
		Type:      block.Labels[0],
		Config:    map[string]string{},
		DeclRange: block.DefRange,
	}

	attrs, diags := block.Body.JustAttributes()
	for name, attr := range attrs {
		var s string
		moreDiags := gohcl.DecodeExpression(attr.Expr, nil, &s)
		diags = append(diags, moreDiags...)
		if !moreDiags.HasErrors() {
			b.Config[name] = s
		}
	}
	return b, diags
}

// sortedAttributes returns a body's attributes in a stable order, since
// JustAttributes hands back a map.
func sortedAttributes(attrs hcl.Attributes) []*hcl.Attribute {
	out := make([]*hcl.Attribute, 0, len(attrs))
	for _, attr := range attrs {
		out = append(out, attr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
