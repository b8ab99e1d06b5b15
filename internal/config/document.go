// Package config loads declarative infrastructure configuration from HCL
// files into an unevaluated document model. Expressions are kept as-is;
// evaluation is the resolver's job.
package config

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// Document is the merged, unevaluated content of every configuration file
// in one directory.
type Document struct {
	Dir string

	Variables   map[string]*Variable
	Locals      map[string]*Local
	Resources   []*Resource
	Outputs     map[string]*Output
	ModuleCalls map[string]*ModuleCall
	Backend     *Backend

	// ByAddress indexes resources by "type.name", populated during Load
	// and consulted when resolving references.
	ByAddress map[string]*Resource
}

// Variable is an input variable declaration.
type Variable struct {
	Name        string
	Type        cty.Type
	Default     cty.Value
	HasDefault  bool
	Description string
	Sensitive   bool
	Validations []*Validation
	DeclRange   hcl.Range
}

// Validation is a custom constraint on a variable, expressed over var.*.
type Validation struct {
	Condition    hcl.Expression
	ErrorMessage hcl.Expression
	DeclRange    hcl.Range
}

// Local is a named helper expression.
type Local struct {
	Name      string
	Expr      hcl.Expression
	DeclRange hcl.Range
}

// Resource is an unevaluated resource declaration. Attrs holds the
// resource's own attributes; the meta-arguments are split out.
type Resource struct {
	Type     string
	Name     string
	Provider string

	Count   hcl.Expression
	ForEach hcl.Expression
	Timeout hcl.Expression

	DependsOn []hcl.Traversal
	Lifecycle *Lifecycle

	Attrs     map[string]*hcl.Attribute
	DeclRange hcl.Range
}

// Addr returns "type.name", the resource's address within its module.
func (r *Resource) Addr() string {
	return r.Type + "." + r.Name
}

type Lifecycle struct {
	CreateBeforeDestroy bool     `hcl:"create_before_destroy,optional"`
	PreventDestroy      bool     `hcl:"prevent_destroy,optional"`
	IgnoreChanges       []string `hcl:"ignore_changes,optional"`
}

// Output is an unevaluated output declaration.
type Output struct {
	Name        string
	Value       hcl.Expression
	Description string
	Sensitive   bool
	DeclRange   hcl.Range
}

// ModuleCall instantiates a child configuration directory with a set of
// input expressions evaluated in the caller's scope.
type ModuleCall struct {
	Name      string
	Source    string
	Inputs    map[string]*hcl.Attribute
	DeclRange hcl.Range
}

// Backend selects where state is stored. Attributes are constant strings.
type Backend struct {
	Type      string
	Config    map[string]string
	DeclRange hcl.Range
}

// builtinProviders maps resource types to the provider that manages them.
// Types outside this table need an explicit provider attribute.
var builtinProviders = map[string]string{
	"null_resource":    "null",
	"vpc":              "aws",
	"subnet":           "aws",
	"internet_gateway": "aws",
	"route_table":      "aws",
	"security_group":   "aws",
	"iam_role":         "aws",
	"kms_key":          "aws",
	"log_group":        "aws",
	"eks_cluster":      "aws",
	"eks_node_group":   "aws",
}

// InferProvider returns the provider for a resource type, or false when
// the type is not built in.
func InferProvider(resourceType string) (string, bool) {
	p, ok := builtinProviders[resourceType]
	return p, ok
}
