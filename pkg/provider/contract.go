// Package provider defines the contract between the engine and resource
// providers. Providers run in-process; all payloads cross the boundary as
// JSON so the engine never needs to know provider-specific config shapes.
package provider

import "context"

// Action classifies what a plan does to a resource.
type Action string

const (
	ActionNoop    Action = "noop"
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionReplace Action = "replace"
	ActionDelete  Action = "delete"
)

// Interface is implemented by every resource provider.
type Interface interface {
	// Plan decides what action reconciles prior state with desired config.
	// It must not touch the backing system.
	Plan(ctx context.Context, req *PlanRequest) (*PlanResponse, error)

	// Apply performs a create, update, or replace and returns the new
	// resource state.
	Apply(ctx context.Context, req *ApplyRequest) (*ApplyResponse, error)

	// Delete removes the resource from the backing system.
	Delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error)
}

type PlanRequest struct {
	Type string
	Name string

	// DesiredConfigJSON is the resolved configuration, nil when the
	// resource is being destroyed.
	DesiredConfigJSON []byte

	// PriorConfigJSON is the configuration from the last apply, nil for
	// new resources.
	PriorConfigJSON []byte

	// PriorStateJSON is what the provider returned on the last apply, nil
	// for new resources.
	PriorStateJSON []byte
}

type PlanResponse struct {
	Action Action

	// ChangedAttributes lists the top-level attributes driving the action,
	// used for lifecycle ignore_changes filtering.
	ChangedAttributes []string
}

type ApplyRequest struct {
	Type              string
	Name              string
	DesiredConfigJSON []byte
	PriorStateJSON    []byte
}

type ApplyResponse struct {
	NewStateJSON []byte
}

type DeleteRequest struct {
	Type             string
	Name             string
	ID               string
	CurrentStateJSON []byte
}

type DeleteResponse struct{}
