// Package aws implements the aws provider. Resources are reconciled
// directly against AWS APIs with the v2 SDK; there is no intermediate
// agent or daemon.
package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	sdk "github.com/cairn-io/cairn/pkg/provider"
)

type Provider struct {
	mu   sync.Mutex
	ec2  *ec2.Client
	eks  *eks.Client
	iam  *iam.Client
	kms  *kms.Client
	logs *cloudwatchlogs.Client
	asg  *autoscaling.Client
}

func New() *Provider {
	return &Provider{}
}

// ensureClients initializes the SDK clients on first use. Plan never calls
// this: planning works from recorded config alone and stays offline.
func (p *Provider) ensureClients(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ec2 != nil {
		return nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("unable to load AWS config: %w", err)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	p.ec2 = ec2.NewFromConfig(cfg)
	p.eks = eks.NewFromConfig(cfg)
	p.iam = iam.NewFromConfig(cfg)
	p.kms = kms.NewFromConfig(cfg)
	p.logs = cloudwatchlogs.NewFromConfig(cfg)
	p.asg = autoscaling.NewFromConfig(cfg)

	return nil
}

// replaceKeys lists, per resource type, the attributes AWS cannot change in
// place. A diff on any of them forces replacement.
var replaceKeys = map[string]map[string]bool{
	"vpc":              {"cidr_block": true, "instance_tenancy": true},
	"subnet":           {"vpc_id": true, "cidr_block": true, "availability_zone": true},
	"internet_gateway": {},
	"route_table":      {"vpc_id": true},
	"security_group":   {"name": true, "description": true, "vpc_id": true},
	"iam_role":         {"name": true, "path": true},
	"kms_key":          {"key_usage": true, "key_spec": true},
	"log_group":        {"name": true, "kms_key_id": true},
	"eks_cluster": {
		"name":               true,
		"role_arn":           true,
		"subnet_ids":         true,
		"security_group_ids": true,
		"encryption_key_arn": true,
	},
	"eks_node_group": {
		"cluster_name":    true,
		"node_group_name": true,
		"node_role_arn":   true,
		"subnet_ids":      true,
		"instance_types":  true,
		"ami_type":        true,
		"capacity_type":   true,
		"disk_size":       true,
	},
}

func (p *Provider) Plan(ctx context.Context, req *sdk.PlanRequest) (*sdk.PlanResponse, error) {
	if req.DesiredConfigJSON == nil {
		return &sdk.PlanResponse{Action: sdk.ActionDelete}, nil
	}
	if req.PriorConfigJSON == nil && req.PriorStateJSON == nil {
		return &sdk.PlanResponse{Action: sdk.ActionCreate}, nil
	}

	var desired, prior map[string]any
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if req.PriorConfigJSON != nil {
		if err := json.Unmarshal(req.PriorConfigJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior config: %w", err)
		}
	}

	changed := changedKeys(prior, desired)
	if len(changed) == 0 {
		return &sdk.PlanResponse{Action: sdk.ActionNoop}, nil
	}

	action := sdk.ActionUpdate
	for _, key := range changed {
		if replaceKeys[req.Type][key] {
			action = sdk.ActionReplace
			break
		}
	}

	return &sdk.PlanResponse{Action: action, ChangedAttributes: changed}, nil
}

// changedKeys returns the sorted union of top-level attributes whose values
// differ between prior and desired config. Both sides have passed through
// JSON, so DeepEqual compares normalized types.
func changedKeys(prior, desired map[string]any) []string {
	keys := make(map[string]bool, len(prior)+len(desired))
	for k := range prior {
		keys[k] = true
	}
	for k := range desired {
		keys[k] = true
	}

	var changed []string
	for k := range keys {
		pv, inPrior := prior[k]
		dv, inDesired := desired[k]
		if !inPrior || !inDesired || !reflect.DeepEqual(pv, dv) {
			changed = append(changed, k)
		}
	}
	slices.Sort(changed)
	return changed
}

func (p *Provider) Apply(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	if err := p.ensureClients(ctx); err != nil {
		return nil, err
	}

	switch req.Type {
	case "vpc":
		return p.applyVpc(ctx, req)
	case "subnet":
		return p.applySubnet(ctx, req)
	case "internet_gateway":
		return p.applyInternetGateway(ctx, req)
	case "route_table":
		return p.applyRouteTable(ctx, req)
	case "security_group":
		return p.applySecurityGroup(ctx, req)
	case "iam_role":
		return p.applyRole(ctx, req)
	case "kms_key":
		return p.applyKey(ctx, req)
	case "log_group":
		return p.applyLogGroup(ctx, req)
	case "eks_cluster":
		return p.applyCluster(ctx, req)
	case "eks_node_group":
		return p.applyNodeGroup(ctx, req)
	}

	return nil, fmt.Errorf("unknown resource type: %s", req.Type)
}

func (p *Provider) Delete(ctx context.Context, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	if err := p.ensureClients(ctx); err != nil {
		return nil, err
	}

	switch req.Type {
	case "vpc":
		return p.deleteVpc(ctx, req)
	case "subnet":
		return p.deleteSubnet(ctx, req)
	case "internet_gateway":
		return p.deleteInternetGateway(ctx, req)
	case "route_table":
		return p.deleteRouteTable(ctx, req)
	case "security_group":
		return p.deleteSecurityGroup(ctx, req)
	case "iam_role":
		return p.deleteRole(ctx, req)
	case "kms_key":
		return p.deleteKey(ctx, req)
	case "log_group":
		return p.deleteLogGroup(ctx, req)
	case "eks_cluster":
		return p.deleteCluster(ctx, req)
	case "eks_node_group":
		return p.deleteNodeGroup(ctx, req)
	}

	return nil, fmt.Errorf("unknown resource type: %s", req.Type)
}
