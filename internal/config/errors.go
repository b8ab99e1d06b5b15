package config

import "github.com/hashicorp/hcl/v2"

// ParseError is returned when configuration cannot be loaded: syntax
// errors, unknown blocks, malformed declarations, or colliding names. It
// carries the underlying diagnostics with source positions.
type ParseError struct {
	Diags hcl.Diagnostics
}

func (e *ParseError) Error() string {
	return "invalid configuration: " + e.Diags.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Diags
}

// NewParseError builds a ParseError from a single diagnostic.
func NewParseError(summary, detail string, subject *hcl.Range) *ParseError {
	return &ParseError{Diags: hcl.Diagnostics{{
		Severity: hcl.DiagError,
		Summary:  summary,
		Detail:   detail,
		Subject:  subject,
	}}}
}
