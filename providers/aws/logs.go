package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"

	sdk "github.com/cairn-io/cairn/pkg/provider"
)

type LogGroupConfig struct {
	Name            string            `json:"name,omitempty"`
	RetentionInDays int               `json:"retention_in_days,omitempty"`
	KmsKeyID        string            `json:"kms_key_id,omitempty"`
	Tags            map[string]string `json:"tags,omitempty"`
}

type LogGroupState struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	ARN             string `json:"arn,omitempty"`
	KmsKeyID        string `json:"kms_key_id,omitempty"`
	RetentionInDays int    `json:"retention_in_days,omitempty"`
}

func (p *Provider) applyLogGroup(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired LogGroupConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if desired.Name == "" {
		desired.Name = req.Name
	}
	var prior LogGroupState
	if len(req.PriorStateJSON) > 0 {
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
	}

	if prior.ID != "" && (prior.Name != desired.Name || prior.KmsKeyID != desired.KmsKeyID) {
		_, err := p.logs.DeleteLogGroup(ctx, &cloudwatchlogs.DeleteLogGroupInput{
			LogGroupName: aws.String(prior.Name),
		})
		if err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("failed to delete log group %s: %w", prior.Name, err)
		}
		prior = LogGroupState{}
	}

	if prior.ID == "" {
		input := &cloudwatchlogs.CreateLogGroupInput{LogGroupName: aws.String(desired.Name)}
		if desired.KmsKeyID != "" {
			input.KmsKeyId = aws.String(desired.KmsKeyID)
		}
		if len(desired.Tags) > 0 {
			input.Tags = desired.Tags
		}
		// An existing group is adopted rather than treated as a conflict;
		// services often pre-create their log groups.
		if _, err := p.logs.CreateLogGroup(ctx, input); err != nil && !isAlreadyExists(err) {
			return nil, fmt.Errorf("failed to create log group %s: %w", desired.Name, err)
		}
	}

	if desired.RetentionInDays > 0 {
		_, err := p.logs.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
			LogGroupName:    aws.String(desired.Name),
			RetentionInDays: aws.Int32(int32(desired.RetentionInDays)),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to set retention policy for %s: %w", desired.Name, err)
		}
	} else if prior.RetentionInDays > 0 {
		_, err := p.logs.DeleteRetentionPolicy(ctx, &cloudwatchlogs.DeleteRetentionPolicyInput{
			LogGroupName: aws.String(desired.Name),
		})
		if err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("failed to clear retention policy for %s: %w", desired.Name, err)
		}
	}

	newState := LogGroupState{
		ID:              desired.Name,
		Name:            desired.Name,
		ARN:             p.describeLogGroupARN(ctx, desired.Name),
		KmsKeyID:        desired.KmsKeyID,
		RetentionInDays: desired.RetentionInDays,
	}
	stateJSON, _ := json.Marshal(newState)
	return &sdk.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func (p *Provider) describeLogGroupARN(ctx context.Context, name string) string {
	resp, err := p.logs.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{
		LogGroupNamePrefix: aws.String(name),
	})
	if err != nil {
		return ""
	}
	for _, group := range resp.LogGroups {
		if aws.ToString(group.LogGroupName) == name {
			return aws.ToString(group.Arn)
		}
	}
	return ""
}

func (p *Provider) deleteLogGroup(ctx context.Context, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	if req.ID == "" {
		return &sdk.DeleteResponse{}, nil
	}
	_, err := p.logs.DeleteLogGroup(ctx, &cloudwatchlogs.DeleteLogGroupInput{
		LogGroupName: aws.String(req.ID),
	})
	if err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("failed to delete log group %s: %w", req.ID, err)
	}
	return &sdk.DeleteResponse{}, nil
}
