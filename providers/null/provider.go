// Package null implements the null_resource provider. A null_resource owns
// nothing in any backing system; it exists to anchor dependencies and to
// exercise the engine in tests. Changing any trigger forces replacement.
package null

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	sdk "github.com/cairn-io/cairn/pkg/provider"
)

type Provider struct{}

func New() *Provider {
	return &Provider{}
}

type Config struct {
	Triggers map[string]any `json:"triggers"`
}

type State struct {
	ID       string         `json:"id"`
	Triggers map[string]any `json:"triggers"`
}

func (p *Provider) Plan(ctx context.Context, req *sdk.PlanRequest) (*sdk.PlanResponse, error) {
	if req.DesiredConfigJSON == nil {
		return &sdk.PlanResponse{Action: sdk.ActionDelete}, nil
	}

	var desired Config
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	if req.PriorConfigJSON == nil && req.PriorStateJSON == nil {
		return &sdk.PlanResponse{Action: sdk.ActionCreate}, nil
	}

	var prior Config
	if len(req.PriorConfigJSON) > 0 {
		if err := json.Unmarshal(req.PriorConfigJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior config: %w", err)
		}
	}
	if prior.Triggers == nil && len(req.PriorStateJSON) > 0 {
		var priorState State
		if err := json.Unmarshal(req.PriorStateJSON, &priorState); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		prior.Triggers = priorState.Triggers
	}

	// Both sides have passed through JSON, so DeepEqual compares
	// normalized types.
	if !reflect.DeepEqual(desired.Triggers, prior.Triggers) {
		return &sdk.PlanResponse{
			Action:            sdk.ActionReplace,
			ChangedAttributes: []string{"triggers"},
		}, nil
	}

	return &sdk.PlanResponse{Action: sdk.ActionNoop}, nil
}

func (p *Provider) Apply(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired Config
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	state := State{
		ID:       fmt.Sprintf("null-%s", req.Name),
		Triggers: desired.Triggers,
	}

	stateBytes, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}

	return &sdk.ApplyResponse{NewStateJSON: stateBytes}, nil
}

func (p *Provider) Delete(ctx context.Context, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	return &sdk.DeleteResponse{}, nil
}
