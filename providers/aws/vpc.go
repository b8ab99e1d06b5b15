package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	sdk "github.com/cairn-io/cairn/pkg/provider"
)

// Each resource's state echoes its immutable attributes alongside the
// identifiers. Apply compares the echo against desired config to decide
// between in-place update and tear-down-and-recreate, without needing the
// planned action.

type VpcConfig struct {
	CidrBlock          string            `json:"cidr_block"`
	InstanceTenancy    string            `json:"instance_tenancy,omitempty"`
	EnableDnsSupport   *bool             `json:"enable_dns_support,omitempty"`
	EnableDnsHostnames *bool             `json:"enable_dns_hostnames,omitempty"`
	Tags               map[string]string `json:"tags,omitempty"`
}

type VpcState struct {
	ID              string `json:"id"`
	CidrBlock       string `json:"cidr_block"`
	InstanceTenancy string `json:"instance_tenancy,omitempty"`
}

func (p *Provider) applyVpc(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired VpcConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	var prior VpcState
	if len(req.PriorStateJSON) > 0 {
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
	}

	if prior.ID != "" && (prior.CidrBlock != desired.CidrBlock || prior.InstanceTenancy != desired.InstanceTenancy) {
		if _, err := p.ec2.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: aws.String(prior.ID)}); err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("failed to delete vpc %s: %w", prior.ID, err)
		}
		prior.ID = ""
	}

	vpcID := prior.ID
	if vpcID == "" {
		input := &ec2.CreateVpcInput{CidrBlock: aws.String(desired.CidrBlock)}
		if desired.InstanceTenancy != "" {
			input.InstanceTenancy = types.Tenancy(desired.InstanceTenancy)
		}
		resp, err := p.ec2.CreateVpc(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to create vpc: %w", err)
		}
		vpcID = aws.ToString(resp.Vpc.VpcId)
	}

	if desired.EnableDnsSupport != nil {
		_, err := p.ec2.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
			VpcId:            aws.String(vpcID),
			EnableDnsSupport: &types.AttributeBooleanValue{Value: desired.EnableDnsSupport},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to set vpc dns support: %w", err)
		}
	}
	if desired.EnableDnsHostnames != nil {
		_, err := p.ec2.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
			VpcId:              aws.String(vpcID),
			EnableDnsHostnames: &types.AttributeBooleanValue{Value: desired.EnableDnsHostnames},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to set vpc dns hostnames: %w", err)
		}
	}
	if err := p.tagResource(ctx, vpcID, desired.Tags); err != nil {
		return nil, err
	}

	newState := VpcState{
		ID:              vpcID,
		CidrBlock:       desired.CidrBlock,
		InstanceTenancy: desired.InstanceTenancy,
	}
	stateJSON, _ := json.Marshal(newState)
	return &sdk.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func (p *Provider) deleteVpc(ctx context.Context, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	if req.ID == "" {
		return &sdk.DeleteResponse{}, nil
	}
	if _, err := p.ec2.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: aws.String(req.ID)}); err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("failed to delete vpc %s: %w", req.ID, err)
	}
	return &sdk.DeleteResponse{}, nil
}

type SubnetConfig struct {
	VpcID               string            `json:"vpc_id"`
	CidrBlock           string            `json:"cidr_block"`
	AvailabilityZone    string            `json:"availability_zone,omitempty"`
	MapPublicIpOnLaunch bool              `json:"map_public_ip_on_launch,omitempty"`
	Tags                map[string]string `json:"tags,omitempty"`
}

type SubnetState struct {
	ID               string `json:"id"`
	VpcID            string `json:"vpc_id"`
	CidrBlock        string `json:"cidr_block"`
	AvailabilityZone string `json:"availability_zone,omitempty"`
}

func (p *Provider) applySubnet(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired SubnetConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	var prior SubnetState
	if len(req.PriorStateJSON) > 0 {
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
	}

	if prior.ID != "" && (prior.VpcID != desired.VpcID || prior.CidrBlock != desired.CidrBlock || prior.AvailabilityZone != desired.AvailabilityZone) {
		if _, err := p.ec2.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: aws.String(prior.ID)}); err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("failed to delete subnet %s: %w", prior.ID, err)
		}
		prior.ID = ""
	}

	subnetID := prior.ID
	if subnetID == "" {
		input := &ec2.CreateSubnetInput{
			VpcId:     aws.String(desired.VpcID),
			CidrBlock: aws.String(desired.CidrBlock),
		}
		if desired.AvailabilityZone != "" {
			input.AvailabilityZone = aws.String(desired.AvailabilityZone)
		}
		resp, err := p.ec2.CreateSubnet(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to create subnet: %w", err)
		}
		subnetID = aws.ToString(resp.Subnet.SubnetId)
	}

	_, err := p.ec2.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
		SubnetId:            aws.String(subnetID),
		MapPublicIpOnLaunch: &types.AttributeBooleanValue{Value: aws.Bool(desired.MapPublicIpOnLaunch)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set subnet public ip mapping: %w", err)
	}
	if err := p.tagResource(ctx, subnetID, desired.Tags); err != nil {
		return nil, err
	}

	newState := SubnetState{
		ID:               subnetID,
		VpcID:            desired.VpcID,
		CidrBlock:        desired.CidrBlock,
		AvailabilityZone: desired.AvailabilityZone,
	}
	stateJSON, _ := json.Marshal(newState)
	return &sdk.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func (p *Provider) deleteSubnet(ctx context.Context, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	if req.ID == "" {
		return &sdk.DeleteResponse{}, nil
	}
	if _, err := p.ec2.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: aws.String(req.ID)}); err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("failed to delete subnet %s: %w", req.ID, err)
	}
	return &sdk.DeleteResponse{}, nil
}

type InternetGatewayConfig struct {
	VpcID string            `json:"vpc_id"`
	Tags  map[string]string `json:"tags,omitempty"`
}

type InternetGatewayState struct {
	ID    string `json:"id"`
	VpcID string `json:"vpc_id,omitempty"`
}

func (p *Provider) applyInternetGateway(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired InternetGatewayConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	var prior InternetGatewayState
	if len(req.PriorStateJSON) > 0 {
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
	}

	igwID := prior.ID
	if igwID == "" {
		resp, err := p.ec2.CreateInternetGateway(ctx, &ec2.CreateInternetGatewayInput{})
		if err != nil {
			return nil, fmt.Errorf("failed to create internet gateway: %w", err)
		}
		igwID = aws.ToString(resp.InternetGateway.InternetGatewayId)
	}

	// A gateway moves between VPCs by detaching and reattaching.
	if prior.ID != "" && prior.VpcID != desired.VpcID && prior.VpcID != "" {
		_, err := p.ec2.DetachInternetGateway(ctx, &ec2.DetachInternetGatewayInput{
			InternetGatewayId: aws.String(igwID),
			VpcId:             aws.String(prior.VpcID),
		})
		if err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("failed to detach internet gateway %s: %w", igwID, err)
		}
		prior.VpcID = ""
	}
	if desired.VpcID != "" && prior.VpcID != desired.VpcID {
		_, err := p.ec2.AttachInternetGateway(ctx, &ec2.AttachInternetGatewayInput{
			InternetGatewayId: aws.String(igwID),
			VpcId:             aws.String(desired.VpcID),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to attach internet gateway %s: %w", igwID, err)
		}
	}

	if err := p.tagResource(ctx, igwID, desired.Tags); err != nil {
		return nil, err
	}

	newState := InternetGatewayState{ID: igwID, VpcID: desired.VpcID}
	stateJSON, _ := json.Marshal(newState)
	return &sdk.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func (p *Provider) deleteInternetGateway(ctx context.Context, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	if req.ID == "" {
		return &sdk.DeleteResponse{}, nil
	}
	var prior InternetGatewayState
	if len(req.CurrentStateJSON) > 0 {
		_ = json.Unmarshal(req.CurrentStateJSON, &prior)
	}
	if prior.VpcID != "" {
		_, err := p.ec2.DetachInternetGateway(ctx, &ec2.DetachInternetGatewayInput{
			InternetGatewayId: aws.String(req.ID),
			VpcId:             aws.String(prior.VpcID),
		})
		if err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("failed to detach internet gateway %s: %w", req.ID, err)
		}
	}
	if _, err := p.ec2.DeleteInternetGateway(ctx, &ec2.DeleteInternetGatewayInput{InternetGatewayId: aws.String(req.ID)}); err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("failed to delete internet gateway %s: %w", req.ID, err)
	}
	return &sdk.DeleteResponse{}, nil
}

type RouteConfig struct {
	CidrBlock    string `json:"cidr_block"`
	GatewayID    string `json:"gateway_id,omitempty"`
	NatGatewayID string `json:"nat_gateway_id,omitempty"`
}

type RouteTableConfig struct {
	VpcID  string            `json:"vpc_id"`
	Routes []RouteConfig     `json:"routes,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
}

type RouteTableState struct {
	ID    string `json:"id"`
	VpcID string `json:"vpc_id"`
}

func (p *Provider) applyRouteTable(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired RouteTableConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	var prior RouteTableState
	if len(req.PriorStateJSON) > 0 {
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
	}

	if prior.ID != "" && prior.VpcID != desired.VpcID {
		if _, err := p.ec2.DeleteRouteTable(ctx, &ec2.DeleteRouteTableInput{RouteTableId: aws.String(prior.ID)}); err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("failed to delete route table %s: %w", prior.ID, err)
		}
		prior.ID = ""
	}

	rtID := prior.ID
	if rtID == "" {
		resp, err := p.ec2.CreateRouteTable(ctx, &ec2.CreateRouteTableInput{VpcId: aws.String(desired.VpcID)})
		if err != nil {
			return nil, fmt.Errorf("failed to create route table: %w", err)
		}
		rtID = aws.ToString(resp.RouteTable.RouteTableId)
	}

	if err := p.syncRoutes(ctx, rtID, desired.Routes); err != nil {
		return nil, err
	}
	if err := p.tagResource(ctx, rtID, desired.Tags); err != nil {
		return nil, err
	}

	newState := RouteTableState{ID: rtID, VpcID: desired.VpcID}
	stateJSON, _ := json.Marshal(newState)
	return &sdk.ApplyResponse{NewStateJSON: stateJSON}, nil
}

// syncRoutes drops the table's non-local routes and recreates the desired
// set. The local route installed by AWS is never touched.
func (p *Provider) syncRoutes(ctx context.Context, rtID string, routes []RouteConfig) error {
	desc, err := p.ec2.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{RouteTableIds: []string{rtID}})
	if err != nil {
		return fmt.Errorf("failed to describe route table %s: %w", rtID, err)
	}
	if len(desc.RouteTables) > 0 {
		for _, r := range desc.RouteTables[0].Routes {
			if aws.ToString(r.GatewayId) == "local" || r.DestinationCidrBlock == nil {
				continue
			}
			_, err := p.ec2.DeleteRoute(ctx, &ec2.DeleteRouteInput{
				RouteTableId:         aws.String(rtID),
				DestinationCidrBlock: r.DestinationCidrBlock,
			})
			if err != nil && !isNotFound(err) {
				return fmt.Errorf("failed to delete route %s: %w", aws.ToString(r.DestinationCidrBlock), err)
			}
		}
	}

	for _, route := range routes {
		input := &ec2.CreateRouteInput{
			RouteTableId:         aws.String(rtID),
			DestinationCidrBlock: aws.String(route.CidrBlock),
		}
		if route.GatewayID != "" {
			input.GatewayId = aws.String(route.GatewayID)
		}
		if route.NatGatewayID != "" {
			input.NatGatewayId = aws.String(route.NatGatewayID)
		}
		if _, err := p.ec2.CreateRoute(ctx, input); err != nil {
			return fmt.Errorf("failed to create route %s: %w", route.CidrBlock, err)
		}
	}
	return nil
}

func (p *Provider) deleteRouteTable(ctx context.Context, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	if req.ID == "" {
		return &sdk.DeleteResponse{}, nil
	}
	if _, err := p.ec2.DeleteRouteTable(ctx, &ec2.DeleteRouteTableInput{RouteTableId: aws.String(req.ID)}); err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("failed to delete route table %s: %w", req.ID, err)
	}
	return &sdk.DeleteResponse{}, nil
}

type SecurityGroupRule struct {
	FromPort   int      `json:"from_port"`
	ToPort     int      `json:"to_port"`
	Protocol   string   `json:"protocol"`
	CidrBlocks []string `json:"cidr_blocks,omitempty"`
}

type SecurityGroupConfig struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	VpcID       string              `json:"vpc_id,omitempty"`
	Ingress     []SecurityGroupRule `json:"ingress,omitempty"`
	Egress      []SecurityGroupRule `json:"egress,omitempty"`
	Tags        map[string]string   `json:"tags,omitempty"`
}

type SecurityGroupState struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	VpcID       string `json:"vpc_id,omitempty"`
}

func (p *Provider) applySecurityGroup(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired SecurityGroupConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	var prior SecurityGroupState
	if len(req.PriorStateJSON) > 0 {
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
	}

	if prior.ID != "" && (prior.Name != desired.Name || prior.Description != desired.Description || prior.VpcID != desired.VpcID) {
		if _, err := p.ec2.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: aws.String(prior.ID)}); err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("failed to delete security group %s: %w", prior.ID, err)
		}
		prior.ID = ""
	}

	groupID := prior.ID
	if groupID == "" {
		input := &ec2.CreateSecurityGroupInput{
			GroupName:   aws.String(desired.Name),
			Description: aws.String(desired.Description),
		}
		if desired.VpcID != "" {
			input.VpcId = aws.String(desired.VpcID)
		}
		resp, err := p.ec2.CreateSecurityGroup(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to create security group: %w", err)
		}
		groupID = aws.ToString(resp.GroupId)
	}

	if err := p.syncRules(ctx, groupID, desired); err != nil {
		return nil, err
	}
	if err := p.tagResource(ctx, groupID, desired.Tags); err != nil {
		return nil, err
	}

	newState := SecurityGroupState{
		ID:          groupID,
		Name:        desired.Name,
		Description: desired.Description,
		VpcID:       desired.VpcID,
	}
	stateJSON, _ := json.Marshal(newState)
	return &sdk.ApplyResponse{NewStateJSON: stateJSON}, nil
}

// syncRules revokes the group's current rules and authorizes the desired
// set, which also clears the default allow-all egress on fresh groups.
func (p *Provider) syncRules(ctx context.Context, groupID string, desired SecurityGroupConfig) error {
	desc, err := p.ec2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{GroupIds: []string{groupID}})
	if err != nil {
		return fmt.Errorf("failed to describe security group %s: %w", groupID, err)
	}
	if len(desc.SecurityGroups) > 0 {
		sg := desc.SecurityGroups[0]
		if len(sg.IpPermissions) > 0 {
			_, err := p.ec2.RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
				GroupId:       aws.String(groupID),
				IpPermissions: sg.IpPermissions,
			})
			if err != nil {
				return fmt.Errorf("failed to revoke ingress rules: %w", err)
			}
		}
		if len(sg.IpPermissionsEgress) > 0 {
			_, err := p.ec2.RevokeSecurityGroupEgress(ctx, &ec2.RevokeSecurityGroupEgressInput{
				GroupId:       aws.String(groupID),
				IpPermissions: sg.IpPermissionsEgress,
			})
			if err != nil {
				return fmt.Errorf("failed to revoke egress rules: %w", err)
			}
		}
	}

	if perms := ipPermissions(desired.Ingress); len(perms) > 0 {
		_, err := p.ec2.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       aws.String(groupID),
			IpPermissions: perms,
		})
		if err != nil {
			return fmt.Errorf("failed to authorize ingress rules: %w", err)
		}
	}
	if perms := ipPermissions(desired.Egress); len(perms) > 0 {
		_, err := p.ec2.AuthorizeSecurityGroupEgress(ctx, &ec2.AuthorizeSecurityGroupEgressInput{
			GroupId:       aws.String(groupID),
			IpPermissions: perms,
		})
		if err != nil {
			return fmt.Errorf("failed to authorize egress rules: %w", err)
		}
	}
	return nil
}

func ipPermissions(rules []SecurityGroupRule) []types.IpPermission {
	var perms []types.IpPermission
	for _, rule := range rules {
		var ranges []types.IpRange
		for _, cidr := range rule.CidrBlocks {
			ranges = append(ranges, types.IpRange{CidrIp: aws.String(cidr)})
		}
		perm := types.IpPermission{
			IpProtocol: aws.String(rule.Protocol),
			IpRanges:   ranges,
		}
		// Protocol -1 means all traffic; AWS rejects ports on it.
		if rule.Protocol != "-1" {
			perm.FromPort = aws.Int32(int32(rule.FromPort))
			perm.ToPort = aws.Int32(int32(rule.ToPort))
		}
		perms = append(perms, perm)
	}
	return perms
}

func (p *Provider) deleteSecurityGroup(ctx context.Context, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	if req.ID == "" {
		return &sdk.DeleteResponse{}, nil
	}
	if _, err := p.ec2.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: aws.String(req.ID)}); err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("failed to delete security group %s: %w", req.ID, err)
	}
	return &sdk.DeleteResponse{}, nil
}

func (p *Provider) tagResource(ctx context.Context, id string, tags map[string]string) error {
	if len(tags) == 0 {
		return nil
	}
	_, err := p.ec2.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{id},
		Tags:      ec2Tags(tags),
	})
	if err != nil {
		return fmt.Errorf("failed to tag %s: %w", id, err)
	}
	return nil
}

func ec2Tags(tags map[string]string) []types.Tag {
	out := make([]types.Tag, 0, len(tags))
	for _, k := range slices.Sorted(maps.Keys(tags)) {
		out = append(out, types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}
