package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"

	sdk "github.com/cairn-io/cairn/pkg/provider"
)

type RoleConfig struct {
	Name              string            `json:"name,omitempty"`
	AssumeRolePolicy  string            `json:"assume_role_policy"`
	Description       string            `json:"description,omitempty"`
	Path              string            `json:"path,omitempty"`
	ManagedPolicyArns []string          `json:"managed_policy_arns,omitempty"`
	Tags              map[string]string `json:"tags,omitempty"`
}

type RoleState struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	ARN               string   `json:"arn,omitempty"`
	Path              string   `json:"path,omitempty"`
	AssumeRolePolicy  string   `json:"assume_role_policy,omitempty"`
	Description       string   `json:"description,omitempty"`
	ManagedPolicyArns []string `json:"managed_policy_arns,omitempty"`
}

func (p *Provider) applyRole(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired RoleConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if desired.Name == "" {
		desired.Name = req.Name
	}
	var prior RoleState
	if len(req.PriorStateJSON) > 0 {
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
	}

	if prior.ID != "" && (prior.Name != desired.Name || prior.Path != desired.Path) {
		if err := p.destroyRole(ctx, prior.Name); err != nil {
			return nil, err
		}
		prior = RoleState{}
	}

	if prior.ID == "" {
		return p.createRole(ctx, desired)
	}
	return p.updateRole(ctx, prior, desired)
}

func (p *Provider) createRole(ctx context.Context, desired RoleConfig) (*sdk.ApplyResponse, error) {
	input := &iam.CreateRoleInput{
		RoleName:                 aws.String(desired.Name),
		AssumeRolePolicyDocument: aws.String(desired.AssumeRolePolicy),
	}
	if desired.Path != "" {
		input.Path = aws.String(desired.Path)
	}
	if desired.Description != "" {
		input.Description = aws.String(desired.Description)
	}
	if len(desired.Tags) > 0 {
		input.Tags = iamTags(desired.Tags)
	}

	resp, err := p.iam.CreateRole(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create role %s: %w", desired.Name, err)
	}

	for _, arn := range desired.ManagedPolicyArns {
		_, err := p.iam.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
			RoleName:  aws.String(desired.Name),
			PolicyArn: aws.String(arn),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to attach policy %s to role %s: %w", arn, desired.Name, err)
		}
	}

	newState := RoleState{
		ID:                aws.ToString(resp.Role.RoleName),
		Name:              aws.ToString(resp.Role.RoleName),
		ARN:               aws.ToString(resp.Role.Arn),
		Path:              desired.Path,
		AssumeRolePolicy:  desired.AssumeRolePolicy,
		Description:       desired.Description,
		ManagedPolicyArns: desired.ManagedPolicyArns,
	}
	stateJSON, _ := json.Marshal(newState)
	return &sdk.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func (p *Provider) updateRole(ctx context.Context, prior RoleState, desired RoleConfig) (*sdk.ApplyResponse, error) {
	if desired.AssumeRolePolicy != prior.AssumeRolePolicy {
		_, err := p.iam.UpdateAssumeRolePolicy(ctx, &iam.UpdateAssumeRolePolicyInput{
			RoleName:       aws.String(prior.Name),
			PolicyDocument: aws.String(desired.AssumeRolePolicy),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update assume role policy for %s: %w", prior.Name, err)
		}
		prior.AssumeRolePolicy = desired.AssumeRolePolicy
	}

	if desired.Description != prior.Description {
		_, err := p.iam.UpdateRole(ctx, &iam.UpdateRoleInput{
			RoleName:    aws.String(prior.Name),
			Description: aws.String(desired.Description),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update role %s: %w", prior.Name, err)
		}
		prior.Description = desired.Description
	}

	for _, arn := range prior.ManagedPolicyArns {
		if slices.Contains(desired.ManagedPolicyArns, arn) {
			continue
		}
		_, err := p.iam.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
			RoleName:  aws.String(prior.Name),
			PolicyArn: aws.String(arn),
		})
		if err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("failed to detach policy %s from role %s: %w", arn, prior.Name, err)
		}
	}
	for _, arn := range desired.ManagedPolicyArns {
		if slices.Contains(prior.ManagedPolicyArns, arn) {
			continue
		}
		_, err := p.iam.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
			RoleName:  aws.String(prior.Name),
			PolicyArn: aws.String(arn),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to attach policy %s to role %s: %w", arn, prior.Name, err)
		}
	}
	prior.ManagedPolicyArns = desired.ManagedPolicyArns

	if len(desired.Tags) > 0 {
		_, err := p.iam.TagRole(ctx, &iam.TagRoleInput{
			RoleName: aws.String(prior.Name),
			Tags:     iamTags(desired.Tags),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to tag role %s: %w", prior.Name, err)
		}
	}

	stateJSON, _ := json.Marshal(prior)
	return &sdk.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func (p *Provider) deleteRole(ctx context.Context, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	if req.ID == "" {
		return &sdk.DeleteResponse{}, nil
	}
	if err := p.destroyRole(ctx, req.ID); err != nil {
		return nil, err
	}
	return &sdk.DeleteResponse{}, nil
}

// destroyRole detaches every managed policy before deleting; IAM refuses
// to delete a role with attachments.
func (p *Provider) destroyRole(ctx context.Context, name string) error {
	attached, err := p.iam.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{
		RoleName: aws.String(name),
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to list attached policies for role %s: %w", name, err)
	}
	for _, policy := range attached.AttachedPolicies {
		_, err := p.iam.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
			RoleName:  aws.String(name),
			PolicyArn: policy.PolicyArn,
		})
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("failed to detach policy %s from role %s: %w", aws.ToString(policy.PolicyArn), name, err)
		}
	}

	if _, err := p.iam.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: aws.String(name)}); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete role %s: %w", name, err)
	}
	return nil
}

func iamTags(tags map[string]string) []types.Tag {
	out := make([]types.Tag, 0, len(tags))
	for _, k := range slices.Sorted(maps.Keys(tags)) {
		out = append(out, types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}
