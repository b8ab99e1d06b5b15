package ir

import "github.com/cairn-io/cairn/pkg/provider"

// Action aliases the provider contract's action enum so the engine and
// providers share one set of values.
type Action = provider.Action

const (
	ActionNoop    = provider.ActionNoop
	ActionCreate  = provider.ActionCreate
	ActionUpdate  = provider.ActionUpdate
	ActionReplace = provider.ActionReplace
	ActionDelete  = provider.ActionDelete
)

// Plan is a calculated execution plan: an ordered list of changes that
// reconciles prior state with the resolved configuration.
type Plan struct {
	Metadata *PlanMetadata           `json:"metadata"`
	Changes  []*ResourceChange       `json:"changes"`
	Summary  *PlanSummary            `json:"summary"`
	Outputs  map[string]*OutputValue `json:"outputs,omitempty"`
}

type PlanMetadata struct {
	Timestamp      string  `json:"timestamp"`
	ConfigHash     string  `json:"config_hash"`
	PriorStateHash *string `json:"prior_state_hash,omitempty"`
}

// ResourceChange describes one planned change. Changes appear in the plan
// in dependency order: a change never precedes the changes it depends on.
type ResourceChange struct {
	Address string                   `json:"address"`
	Action  Action                   `json:"action"`
	Desired *Resource                `json:"desired,omitempty"`
	Prior   *Resource                `json:"prior,omitempty"`
	Diff    map[string]*PropertyDiff `json:"diff,omitempty"`
}

type PropertyDiff struct {
	Before            any    `json:"before"`
	After             any    `json:"after"`
	Sensitive         bool   `json:"sensitive,omitempty"`
	ForcesReplacement bool   `json:"forces_replacement,omitempty"`
	Action            Action `json:"action"`
}

type PlanSummary struct {
	Create  int `json:"create"`
	Update  int `json:"update"`
	Delete  int `json:"delete"`
	Replace int `json:"replace"`
	NoOp    int `json:"noop"`
}

// HasChanges reports whether the plan contains anything beyond no-ops.
func (p *Plan) HasChanges() bool {
	if p.Summary == nil {
		return false
	}
	return p.Summary.Create+p.Summary.Update+p.Summary.Delete+p.Summary.Replace > 0
}
