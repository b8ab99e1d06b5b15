package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"

	sdk "github.com/cairn-io/cairn/pkg/provider"
)

const defaultDeletionWindowDays = 7

type KeyConfig struct {
	Description          string            `json:"description,omitempty"`
	KeyUsage             string            `json:"key_usage,omitempty"`
	KeySpec              string            `json:"key_spec,omitempty"`
	EnableKeyRotation    bool              `json:"enable_key_rotation,omitempty"`
	DeletionWindowInDays int               `json:"deletion_window_in_days,omitempty"`
	Tags                 map[string]string `json:"tags,omitempty"`
}

type KeyState struct {
	ID                   string `json:"id"`
	KeyID                string `json:"key_id"`
	ARN                  string `json:"arn,omitempty"`
	KeyUsage             string `json:"key_usage,omitempty"`
	KeySpec              string `json:"key_spec,omitempty"`
	Description          string `json:"description,omitempty"`
	EnableKeyRotation    bool   `json:"enable_key_rotation,omitempty"`
	DeletionWindowInDays int    `json:"deletion_window_in_days,omitempty"`
}

func (p *Provider) applyKey(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired KeyConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	var prior KeyState
	if len(req.PriorStateJSON) > 0 {
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
	}

	if prior.ID != "" && (prior.KeyUsage != desired.KeyUsage || prior.KeySpec != desired.KeySpec) {
		if err := p.scheduleKeyDeletion(ctx, prior.KeyID, prior.DeletionWindowInDays); err != nil {
			return nil, err
		}
		prior = KeyState{}
	}

	if prior.ID == "" {
		return p.createKey(ctx, desired)
	}
	return p.updateKey(ctx, prior, desired)
}

func (p *Provider) createKey(ctx context.Context, desired KeyConfig) (*sdk.ApplyResponse, error) {
	input := &kms.CreateKeyInput{}
	if desired.Description != "" {
		input.Description = aws.String(desired.Description)
	}
	if desired.KeyUsage != "" {
		input.KeyUsage = types.KeyUsageType(desired.KeyUsage)
	}
	if desired.KeySpec != "" {
		input.KeySpec = types.KeySpec(desired.KeySpec)
	}
	if len(desired.Tags) > 0 {
		input.Tags = kmsTags(desired.Tags)
	}

	resp, err := p.kms.CreateKey(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create key: %w", err)
	}
	keyID := aws.ToString(resp.KeyMetadata.KeyId)

	if desired.EnableKeyRotation {
		_, err := p.kms.EnableKeyRotation(ctx, &kms.EnableKeyRotationInput{KeyId: aws.String(keyID)})
		if err != nil {
			return nil, fmt.Errorf("failed to enable key rotation for %s: %w", keyID, err)
		}
	}

	newState := KeyState{
		ID:                   keyID,
		KeyID:                keyID,
		ARN:                  aws.ToString(resp.KeyMetadata.Arn),
		KeyUsage:             desired.KeyUsage,
		KeySpec:              desired.KeySpec,
		Description:          desired.Description,
		EnableKeyRotation:    desired.EnableKeyRotation,
		DeletionWindowInDays: desired.DeletionWindowInDays,
	}
	stateJSON, _ := json.Marshal(newState)
	return &sdk.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func (p *Provider) updateKey(ctx context.Context, prior KeyState, desired KeyConfig) (*sdk.ApplyResponse, error) {
	if desired.Description != prior.Description {
		_, err := p.kms.UpdateKeyDescription(ctx, &kms.UpdateKeyDescriptionInput{
			KeyId:       aws.String(prior.KeyID),
			Description: aws.String(desired.Description),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update key description for %s: %w", prior.KeyID, err)
		}
		prior.Description = desired.Description
	}

	if desired.EnableKeyRotation != prior.EnableKeyRotation {
		if desired.EnableKeyRotation {
			_, err := p.kms.EnableKeyRotation(ctx, &kms.EnableKeyRotationInput{KeyId: aws.String(prior.KeyID)})
			if err != nil {
				return nil, fmt.Errorf("failed to enable key rotation for %s: %w", prior.KeyID, err)
			}
		} else {
			_, err := p.kms.DisableKeyRotation(ctx, &kms.DisableKeyRotationInput{KeyId: aws.String(prior.KeyID)})
			if err != nil {
				return nil, fmt.Errorf("failed to disable key rotation for %s: %w", prior.KeyID, err)
			}
		}
		prior.EnableKeyRotation = desired.EnableKeyRotation
	}

	if len(desired.Tags) > 0 {
		_, err := p.kms.TagResource(ctx, &kms.TagResourceInput{
			KeyId: aws.String(prior.KeyID),
			Tags:  kmsTags(desired.Tags),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to tag key %s: %w", prior.KeyID, err)
		}
	}

	// The window only matters at destroy time; record the latest value.
	prior.DeletionWindowInDays = desired.DeletionWindowInDays

	stateJSON, _ := json.Marshal(prior)
	return &sdk.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func (p *Provider) deleteKey(ctx context.Context, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	if req.ID == "" {
		return &sdk.DeleteResponse{}, nil
	}
	var prior KeyState
	if len(req.CurrentStateJSON) > 0 {
		_ = json.Unmarshal(req.CurrentStateJSON, &prior)
	}
	if err := p.scheduleKeyDeletion(ctx, req.ID, prior.DeletionWindowInDays); err != nil {
		return nil, err
	}
	return &sdk.DeleteResponse{}, nil
}

// scheduleKeyDeletion queues the key for deletion. KMS keys cannot be
// removed immediately; the minimum pending window is 7 days.
func (p *Provider) scheduleKeyDeletion(ctx context.Context, keyID string, windowDays int) error {
	if windowDays <= 0 {
		windowDays = defaultDeletionWindowDays
	}
	_, err := p.kms.ScheduleKeyDeletion(ctx, &kms.ScheduleKeyDeletionInput{
		KeyId:               aws.String(keyID),
		PendingWindowInDays: aws.Int32(int32(windowDays)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to schedule key deletion for %s: %w", keyID, err)
	}
	return nil
}

func kmsTags(tags map[string]string) []types.Tag {
	out := make([]types.Tag, 0, len(tags))
	for _, k := range slices.Sorted(maps.Keys(tags)) {
		out = append(out, types.Tag{TagKey: aws.String(k), TagValue: aws.String(tags[k])})
	}
	return out
}
