package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/eks/types"

	sdk "github.com/cairn-io/cairn/pkg/provider"
)

type ClusterConfig struct {
	Name                  string            `json:"name,omitempty"`
	RoleArn               string            `json:"role_arn"`
	Version               string            `json:"version,omitempty"`
	SubnetIds             []string          `json:"subnet_ids"`
	SecurityGroupIds      []string          `json:"security_group_ids,omitempty"`
	EndpointPublicAccess  *bool             `json:"endpoint_public_access,omitempty"`
	EndpointPrivateAccess *bool             `json:"endpoint_private_access,omitempty"`
	EncryptionKeyArn      string            `json:"encryption_key_arn,omitempty"`
	Tags                  map[string]string `json:"tags,omitempty"`
}

type ClusterState struct {
	ID                    string   `json:"id"`
	Name                  string   `json:"name"`
	ARN                   string   `json:"arn,omitempty"`
	Endpoint              string   `json:"endpoint,omitempty"`
	Status                string   `json:"status,omitempty"`
	Version               string   `json:"version,omitempty"`
	RoleArn               string   `json:"role_arn"`
	SubnetIds             []string `json:"subnet_ids,omitempty"`
	SecurityGroupIds      []string `json:"security_group_ids,omitempty"`
	EncryptionKeyArn      string   `json:"encryption_key_arn,omitempty"`
	EndpointPublicAccess  *bool    `json:"endpoint_public_access,omitempty"`
	EndpointPrivateAccess *bool    `json:"endpoint_private_access,omitempty"`
}

func (p *Provider) applyCluster(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired ClusterConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if desired.Name == "" {
		desired.Name = req.Name
	}
	var prior ClusterState
	if len(req.PriorStateJSON) > 0 {
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
	}

	if prior.ID != "" && clusterNeedsReplace(prior, desired) {
		if _, err := p.eks.DeleteCluster(ctx, &eks.DeleteClusterInput{Name: aws.String(prior.Name)}); err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("failed to delete cluster %s: %w", prior.Name, err)
		}
		prior = ClusterState{}
	}

	if prior.ID == "" {
		return p.createCluster(ctx, desired)
	}
	return p.updateCluster(ctx, prior, desired)
}

func clusterNeedsReplace(prior ClusterState, desired ClusterConfig) bool {
	return prior.Name != desired.Name ||
		prior.RoleArn != desired.RoleArn ||
		!slices.Equal(prior.SubnetIds, desired.SubnetIds) ||
		!slices.Equal(prior.SecurityGroupIds, desired.SecurityGroupIds) ||
		prior.EncryptionKeyArn != desired.EncryptionKeyArn
}

func (p *Provider) createCluster(ctx context.Context, desired ClusterConfig) (*sdk.ApplyResponse, error) {
	input := &eks.CreateClusterInput{
		Name:    aws.String(desired.Name),
		RoleArn: aws.String(desired.RoleArn),
		ResourcesVpcConfig: &types.VpcConfigRequest{
			SubnetIds:             desired.SubnetIds,
			SecurityGroupIds:      desired.SecurityGroupIds,
			EndpointPublicAccess:  desired.EndpointPublicAccess,
			EndpointPrivateAccess: desired.EndpointPrivateAccess,
		},
		Tags: desired.Tags,
	}
	if desired.Version != "" {
		input.Version = aws.String(desired.Version)
	}
	if desired.EncryptionKeyArn != "" {
		input.EncryptionConfig = []types.EncryptionConfig{
			{
				Provider:  &types.Provider{KeyArn: aws.String(desired.EncryptionKeyArn)},
				Resources: []string{"secrets"},
			},
		}
	}

	resp, err := p.eks.CreateCluster(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create cluster %s: %w", desired.Name, err)
	}

	newState := ClusterState{
		ID:                    aws.ToString(resp.Cluster.Name),
		Name:                  aws.ToString(resp.Cluster.Name),
		ARN:                   aws.ToString(resp.Cluster.Arn),
		Endpoint:              aws.ToString(resp.Cluster.Endpoint),
		Status:                string(resp.Cluster.Status),
		Version:               aws.ToString(resp.Cluster.Version),
		RoleArn:               desired.RoleArn,
		SubnetIds:             desired.SubnetIds,
		SecurityGroupIds:      desired.SecurityGroupIds,
		EncryptionKeyArn:      desired.EncryptionKeyArn,
		EndpointPublicAccess:  desired.EndpointPublicAccess,
		EndpointPrivateAccess: desired.EndpointPrivateAccess,
	}
	stateJSON, _ := json.Marshal(newState)
	return &sdk.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func (p *Provider) updateCluster(ctx context.Context, prior ClusterState, desired ClusterConfig) (*sdk.ApplyResponse, error) {
	if desired.Version != "" && desired.Version != prior.Version {
		_, err := p.eks.UpdateClusterVersion(ctx, &eks.UpdateClusterVersionInput{
			Name:    aws.String(prior.Name),
			Version: aws.String(desired.Version),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update cluster version: %w", err)
		}
		prior.Version = desired.Version
	}

	if !boolPtrEqual(prior.EndpointPublicAccess, desired.EndpointPublicAccess) ||
		!boolPtrEqual(prior.EndpointPrivateAccess, desired.EndpointPrivateAccess) {
		_, err := p.eks.UpdateClusterConfig(ctx, &eks.UpdateClusterConfigInput{
			Name: aws.String(prior.Name),
			ResourcesVpcConfig: &types.VpcConfigRequest{
				EndpointPublicAccess:  desired.EndpointPublicAccess,
				EndpointPrivateAccess: desired.EndpointPrivateAccess,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update cluster endpoint access: %w", err)
		}
		prior.EndpointPublicAccess = desired.EndpointPublicAccess
		prior.EndpointPrivateAccess = desired.EndpointPrivateAccess
	}

	if len(desired.Tags) > 0 && prior.ARN != "" {
		_, err := p.eks.TagResource(ctx, &eks.TagResourceInput{
			ResourceArn: aws.String(prior.ARN),
			Tags:        desired.Tags,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to tag cluster %s: %w", prior.Name, err)
		}
	}

	stateJSON, _ := json.Marshal(prior)
	return &sdk.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (p *Provider) deleteCluster(ctx context.Context, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	if req.ID == "" {
		return &sdk.DeleteResponse{}, nil
	}
	if _, err := p.eks.DeleteCluster(ctx, &eks.DeleteClusterInput{Name: aws.String(req.ID)}); err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("failed to delete cluster %s: %w", req.ID, err)
	}
	return &sdk.DeleteResponse{}, nil
}

type NodeGroupConfig struct {
	ClusterName   string            `json:"cluster_name"`
	NodeGroupName string            `json:"node_group_name,omitempty"`
	NodeRoleArn   string            `json:"node_role_arn"`
	SubnetIds     []string          `json:"subnet_ids"`
	InstanceTypes []string          `json:"instance_types,omitempty"`
	AmiType       string            `json:"ami_type,omitempty"`
	CapacityType  string            `json:"capacity_type,omitempty"`
	DiskSize      int               `json:"disk_size,omitempty"`
	DesiredSize   int               `json:"desired_size"`
	MinSize       int               `json:"min_size"`
	MaxSize       int               `json:"max_size"`
	Labels        map[string]string `json:"labels,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
}

type NodeGroupState struct {
	ID            string            `json:"id"`
	NodeGroupName string            `json:"node_group_name"`
	ClusterName   string            `json:"cluster_name"`
	ARN           string            `json:"arn,omitempty"`
	Status        string            `json:"status,omitempty"`
	NodeRoleArn   string            `json:"node_role_arn"`
	SubnetIds     []string          `json:"subnet_ids,omitempty"`
	InstanceTypes []string          `json:"instance_types,omitempty"`
	AmiType       string            `json:"ami_type,omitempty"`
	CapacityType  string            `json:"capacity_type,omitempty"`
	DiskSize      int               `json:"disk_size,omitempty"`
	DesiredSize   int               `json:"desired_size"`
	MinSize       int               `json:"min_size"`
	MaxSize       int               `json:"max_size"`
	Labels        map[string]string `json:"labels,omitempty"`
	AsgName       string            `json:"asg_name,omitempty"`
	AsgArn        string            `json:"asg_arn,omitempty"`
}

func (p *Provider) applyNodeGroup(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired NodeGroupConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if desired.NodeGroupName == "" {
		desired.NodeGroupName = req.Name
	}
	var prior NodeGroupState
	if len(req.PriorStateJSON) > 0 {
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
	}

	if prior.ID != "" && nodeGroupNeedsReplace(prior, desired) {
		_, err := p.eks.DeleteNodegroup(ctx, &eks.DeleteNodegroupInput{
			ClusterName:   aws.String(prior.ClusterName),
			NodegroupName: aws.String(prior.NodeGroupName),
		})
		if err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("failed to delete node group %s: %w", prior.NodeGroupName, err)
		}
		prior = NodeGroupState{}
	}

	if prior.ID == "" {
		return p.createNodeGroup(ctx, desired)
	}
	return p.updateNodeGroup(ctx, prior, desired)
}

func nodeGroupNeedsReplace(prior NodeGroupState, desired NodeGroupConfig) bool {
	return prior.ClusterName != desired.ClusterName ||
		prior.NodeGroupName != desired.NodeGroupName ||
		prior.NodeRoleArn != desired.NodeRoleArn ||
		!slices.Equal(prior.SubnetIds, desired.SubnetIds) ||
		!slices.Equal(prior.InstanceTypes, desired.InstanceTypes) ||
		prior.AmiType != desired.AmiType ||
		prior.CapacityType != desired.CapacityType ||
		prior.DiskSize != desired.DiskSize
}

func (p *Provider) createNodeGroup(ctx context.Context, desired NodeGroupConfig) (*sdk.ApplyResponse, error) {
	input := &eks.CreateNodegroupInput{
		ClusterName:   aws.String(desired.ClusterName),
		NodegroupName: aws.String(desired.NodeGroupName),
		NodeRole:      aws.String(desired.NodeRoleArn),
		Subnets:       desired.SubnetIds,
		ScalingConfig: &types.NodegroupScalingConfig{
			DesiredSize: aws.Int32(int32(desired.DesiredSize)),
			MinSize:     aws.Int32(int32(desired.MinSize)),
			MaxSize:     aws.Int32(int32(desired.MaxSize)),
		},
		Tags: desired.Tags,
	}
	if len(desired.InstanceTypes) > 0 {
		input.InstanceTypes = desired.InstanceTypes
	}
	if desired.AmiType != "" {
		input.AmiType = types.AMITypes(desired.AmiType)
	}
	if desired.CapacityType != "" {
		input.CapacityType = types.CapacityTypes(desired.CapacityType)
	}
	if desired.DiskSize > 0 {
		input.DiskSize = aws.Int32(int32(desired.DiskSize))
	}
	if len(desired.Labels) > 0 {
		input.Labels = desired.Labels
	}

	resp, err := p.eks.CreateNodegroup(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create node group %s: %w", desired.NodeGroupName, err)
	}

	newState := NodeGroupState{
		ID:            aws.ToString(resp.Nodegroup.NodegroupName),
		NodeGroupName: aws.ToString(resp.Nodegroup.NodegroupName),
		ClusterName:   desired.ClusterName,
		ARN:           aws.ToString(resp.Nodegroup.NodegroupArn),
		Status:        string(resp.Nodegroup.Status),
		NodeRoleArn:   desired.NodeRoleArn,
		SubnetIds:     desired.SubnetIds,
		InstanceTypes: desired.InstanceTypes,
		AmiType:       desired.AmiType,
		CapacityType:  desired.CapacityType,
		DiskSize:      desired.DiskSize,
		DesiredSize:   desired.DesiredSize,
		MinSize:       desired.MinSize,
		MaxSize:       desired.MaxSize,
		Labels:        desired.Labels,
	}
	newState.AsgName, newState.AsgArn = p.describeNodegroupASG(ctx, desired.ClusterName, desired.NodeGroupName)

	stateJSON, _ := json.Marshal(newState)
	return &sdk.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func (p *Provider) updateNodeGroup(ctx context.Context, prior NodeGroupState, desired NodeGroupConfig) (*sdk.ApplyResponse, error) {
	scalingChanged := prior.DesiredSize != desired.DesiredSize ||
		prior.MinSize != desired.MinSize ||
		prior.MaxSize != desired.MaxSize
	labelsChanged := !maps.Equal(prior.Labels, desired.Labels)

	if scalingChanged || labelsChanged {
		input := &eks.UpdateNodegroupConfigInput{
			ClusterName:   aws.String(prior.ClusterName),
			NodegroupName: aws.String(prior.NodeGroupName),
		}
		if scalingChanged {
			input.ScalingConfig = &types.NodegroupScalingConfig{
				DesiredSize: aws.Int32(int32(desired.DesiredSize)),
				MinSize:     aws.Int32(int32(desired.MinSize)),
				MaxSize:     aws.Int32(int32(desired.MaxSize)),
			}
		}
		if labelsChanged {
			var removed []string
			for k := range prior.Labels {
				if _, ok := desired.Labels[k]; !ok {
					removed = append(removed, k)
				}
			}
			slices.Sort(removed)
			input.Labels = &types.UpdateLabelsPayload{
				AddOrUpdateLabels: desired.Labels,
				RemoveLabels:      removed,
			}
		}
		if _, err := p.eks.UpdateNodegroupConfig(ctx, input); err != nil {
			return nil, fmt.Errorf("failed to update node group %s: %w", prior.NodeGroupName, err)
		}
		prior.DesiredSize = desired.DesiredSize
		prior.MinSize = desired.MinSize
		prior.MaxSize = desired.MaxSize
		prior.Labels = desired.Labels
	}

	if prior.AsgName == "" {
		prior.AsgName, prior.AsgArn = p.describeNodegroupASG(ctx, prior.ClusterName, prior.NodeGroupName)
	}

	stateJSON, _ := json.Marshal(prior)
	return &sdk.ApplyResponse{NewStateJSON: stateJSON}, nil
}

// describeNodegroupASG resolves the autoscaling group EKS manages for the
// node group. The group appears asynchronously after create, so absence is
// not an error.
func (p *Provider) describeNodegroupASG(ctx context.Context, clusterName, nodeGroupName string) (string, string) {
	desc, err := p.eks.DescribeNodegroup(ctx, &eks.DescribeNodegroupInput{
		ClusterName:   aws.String(clusterName),
		NodegroupName: aws.String(nodeGroupName),
	})
	if err != nil || desc.Nodegroup == nil || desc.Nodegroup.Resources == nil {
		return "", ""
	}
	asgs := desc.Nodegroup.Resources.AutoScalingGroups
	if len(asgs) == 0 {
		return "", ""
	}
	name := aws.ToString(asgs[0].Name)
	if name == "" {
		return "", ""
	}

	groups, err := p.asg.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{name},
	})
	if err != nil || len(groups.AutoScalingGroups) == 0 {
		return name, ""
	}
	return name, aws.ToString(groups.AutoScalingGroups[0].AutoScalingGroupARN)
}

func (p *Provider) deleteNodeGroup(ctx context.Context, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	var prior NodeGroupState
	if len(req.CurrentStateJSON) > 0 {
		_ = json.Unmarshal(req.CurrentStateJSON, &prior)
	}
	if prior.NodeGroupName == "" {
		prior.NodeGroupName = req.ID
	}
	if prior.NodeGroupName == "" || prior.ClusterName == "" {
		return &sdk.DeleteResponse{}, nil
	}
	_, err := p.eks.DeleteNodegroup(ctx, &eks.DeleteNodegroupInput{
		ClusterName:   aws.String(prior.ClusterName),
		NodegroupName: aws.String(prior.NodeGroupName),
	})
	if err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("failed to delete node group %s: %w", prior.NodeGroupName, err)
	}
	return &sdk.DeleteResponse{}, nil
}
