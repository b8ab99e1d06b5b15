package eval

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
)

// MissingRequiredInputError is returned by BindInputs when variables
// without defaults received no value. Names holds every missing variable,
// sorted, so a single run reports them all.
type MissingRequiredInputError struct {
	Names []string
}

func (e *MissingRequiredInputError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("missing required value for variable %q", e.Names[0])
	}
	return fmt.Sprintf("missing required values for variables: %s", strings.Join(e.Names, ", "))
}

// Violation is a single constraint failure found during validation.
type Violation struct {
	// Subject names what failed: "var.region", "vpc.main", "output.url".
	Subject string
	Message string
}

// ValidationError aggregates every violation found in one pass rather
// than stopping at the first.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 1 {
		v := e.Violations[0]
		return fmt.Sprintf("validation failed: %s: %s", v.Subject, v.Message)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "validation failed with %d errors:", len(e.Violations))
	for _, v := range e.Violations {
		fmt.Fprintf(&b, "\n  %s: %s", v.Subject, v.Message)
	}
	return b.String()
}

// UnresolvedReferenceError is returned when an expression names a
// variable, local, module, or resource that is not declared anywhere in
// the configuration.
type UnresolvedReferenceError struct {
	// Referrer is the address of the declaration holding the reference.
	Referrer string
	// Target is the dangling reference as written, e.g. "cluster.eks_cluster".
	Target string
	// Subject locates the reference in source.
	Subject hcl.Range
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("%s: unresolved reference to %q in %s", e.Subject, e.Target, e.Referrer)
}

// CyclicDependencyError is returned when resource or local dependencies
// form a loop. Path lists the addresses along the cycle, with the first
// repeated at the end.
type CyclicDependencyError struct {
	Path []string
}

func (e *CyclicDependencyError) Error() string {
	return "dependency cycle detected: " + strings.Join(e.Path, " -> ")
}
