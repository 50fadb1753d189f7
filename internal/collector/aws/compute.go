package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/fibanez/aws-dash-architect-sub001/internal/collector"
)

func computeDefinitions() []definition {
	return []definition{
		{
			descriptor: collector.Descriptor{Type: "AWS::EC2::Instance", DisplayName: "EC2 Instance", Service: "ec2", IDField: "InstanceId"},
			list:       listInstances,
		},
		{
			descriptor: collector.Descriptor{Type: "AWS::EC2::VPC", DisplayName: "VPC", Service: "ec2", IDField: "VpcId"},
			list:       listVPCs,
		},
		{
			descriptor: collector.Descriptor{Type: "AWS::EC2::Subnet", DisplayName: "Subnet", Service: "ec2", IDField: "SubnetId"},
			list:       listSubnets,
		},
		{
			descriptor: collector.Descriptor{Type: "AWS::EC2::SecurityGroup", DisplayName: "Security Group", Service: "ec2", IDField: "GroupId", NameField: "GroupName"},
			list:       listSecurityGroups,
		},
		{
			descriptor: collector.Descriptor{Type: "AWS::EC2::Volume", DisplayName: "EBS Volume", Service: "ec2", IDField: "VolumeId"},
			list:       listVolumes,
		},
		{
			descriptor: collector.Descriptor{Type: "AWS::EC2::NatGateway", DisplayName: "NAT Gateway", Service: "ec2", IDField: "NatGatewayId"},
			list:       listNATGateways,
		},
		{
			descriptor: collector.Descriptor{Type: "AWS::EC2::EIP", DisplayName: "Elastic IP", Service: "ec2", IDField: "AllocationId", NameField: "PublicIp"},
			list:       listAddresses,
		},
		{
			descriptor: collector.Descriptor{Type: "AWS::ElasticLoadBalancingV2::LoadBalancer", DisplayName: "Load Balancer", Service: "elasticloadbalancing", IDField: "LoadBalancerArn", NameField: "LoadBalancerName"},
			list:       listLoadBalancers,
		},
		{
			descriptor: collector.Descriptor{Type: "AWS::AutoScaling::AutoScalingGroup", DisplayName: "Auto Scaling Group", Service: "autoscaling", IDField: "AutoScalingGroupName"},
			list:       listAutoScalingGroups,
		},
		{
			descriptor: collector.Descriptor{Type: "AWS::Lambda::Function", DisplayName: "Lambda Function", Service: "lambda", IDField: "FunctionName"},
			list:       listFunctions,
			describe:   describeFunction,
		},
		{
			descriptor: collector.Descriptor{Type: "AWS::ECS::Cluster", DisplayName: "ECS Cluster", Service: "ecs", IDField: "ClusterArn", NameField: "ClusterName"},
			list:       listECSClusters,
			describe:   describeECSCluster,
		},
		{
			descriptor: collector.Descriptor{Type: "AWS::EKS::Cluster", DisplayName: "EKS Cluster", Service: "eks", IDField: "Name"},
			list:       listEKSClusters,
			describe:   describeEKSCluster,
		},
		{
			descriptor: collector.Descriptor{Type: "AWS::ECR::Repository", DisplayName: "ECR Repository", Service: "ecr", IDField: "RepositoryName"},
			list:       listRepositories,
		},
	}
}

func listInstances(ctx context.Context, c *clients, wait waitFunc) ([]collector.RawRecord, error) {
	var recs []collector.RawRecord
	err := paginate(ctx, wait, func(ctx context.Context, token *string) (*string, error) {
		out, err := c.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{NextToken: token})
		if err != nil {
			return nil, fmt.Errorf("describe instances: %w", err)
		}
		for _, reservation := range out.Reservations {
			if err := appendRecords(&recs, reservation.Instances); err != nil {
				return nil, err
			}
		}
		return out.NextToken, nil
	})
	return recs, err
}

func listVPCs(ctx context.Context, c *clients, wait waitFunc) ([]collector.RawRecord, error) {
	var recs []collector.RawRecord
	err := paginate(ctx, wait, func(ctx context.Context, token *string) (*string, error) {
		out, err := c.ec2.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{NextToken: token})
		if err != nil {
			return nil, fmt.Errorf("describe vpcs: %w", err)
		}
		return out.NextToken, appendRecords(&recs, out.Vpcs)
	})
	return recs, err
}

func listSubnets(ctx context.Context, c *clients, wait waitFunc) ([]collector.RawRecord, error) {
	var recs []collector.RawRecord
	err := paginate(ctx, wait, func(ctx context.Context, token *string) (*string, error) {
		out, err := c.ec2.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{NextToken: token})
		if err != nil {
			return nil, fmt.Errorf("describe subnets: %w", err)
		}
		return out.NextToken, appendRecords(&recs, out.Subnets)
	})
	return recs, err
}

func listSecurityGroups(ctx context.Context, c *clients, wait waitFunc) ([]collector.RawRecord, error) {
	var recs []collector.RawRecord
	err := paginate(ctx, wait, func(ctx context.Context, token *string) (*string, error) {
		out, err := c.ec2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{NextToken: token})
		if err != nil {
			return nil, fmt.Errorf("describe security groups: %w", err)
		}
		return out.NextToken, appendRecords(&recs, out.SecurityGroups)
	})
	return recs, err
}

func listVolumes(ctx context.Context, c *clients, wait waitFunc) ([]collector.RawRecord, error) {
	var recs []collector.RawRecord
	err := paginate(ctx, wait, func(ctx context.Context, token *string) (*string, error) {
		out, err := c.ec2.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{NextToken: token})
		if err != nil {
			return nil, fmt.Errorf("describe volumes: %w", err)
		}
		return out.NextToken, appendRecords(&recs, out.Volumes)
	})
	return recs, err
}

func listNATGateways(ctx context.Context, c *clients, wait waitFunc) ([]collector.RawRecord, error) {
	var recs []collector.RawRecord
	err := paginate(ctx, wait, func(ctx context.Context, token *string) (*string, error) {
		out, err := c.ec2.DescribeNatGateways(ctx, &ec2.DescribeNatGatewaysInput{NextToken: token})
		if err != nil {
			return nil, fmt.Errorf("describe nat gateways: %w", err)
		}
		return out.NextToken, appendRecords(&recs, out.NatGateways)
	})
	return recs, err
}

// listAddresses is a single call; DescribeAddresses does not paginate.
func listAddresses(ctx context.Context, c *clients, wait waitFunc) ([]collector.RawRecord, error) {
	if err := wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.ec2.DescribeAddresses(ctx, &ec2.DescribeAddressesInput{})
	if err != nil {
		return nil, fmt.Errorf("describe addresses: %w", err)
	}
	return toRecords(out.Addresses)
}

func listLoadBalancers(ctx context.Context, c *clients, wait waitFunc) ([]collector.RawRecord, error) {
	var recs []collector.RawRecord
	err := paginate(ctx, wait, func(ctx context.Context, marker *string) (*string, error) {
		out, err := c.elb.DescribeLoadBalancers(ctx, &elasticloadbalancingv2.DescribeLoadBalancersInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("describe load balancers: %w", err)
		}
		return out.NextMarker, appendRecords(&recs, out.LoadBalancers)
	})
	return recs, err
}

func listAutoScalingGroups(ctx context.Context, c *clients, wait waitFunc) ([]collector.RawRecord, error) {
	var recs []collector.RawRecord
	err := paginate(ctx, wait, func(ctx context.Context, token *string) (*string, error) {
		out, err := c.autoscaling.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{NextToken: token})
		if err != nil {
			return nil, fmt.Errorf("describe auto scaling groups: %w", err)
		}
		return out.NextToken, appendRecords(&recs, out.AutoScalingGroups)
	})
	return recs, err
}

func listFunctions(ctx context.Context, c *clients, wait waitFunc) ([]collector.RawRecord, error) {
	var recs []collector.RawRecord
	err := paginate(ctx, wait, func(ctx context.Context, marker *string) (*string, error) {
		out, err := c.lambda.ListFunctions(ctx, &lambda.ListFunctionsInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("list functions: %w", err)
		}
		return out.NextMarker, appendRecords(&recs, out.Functions)
	})
	return recs, err
}

// describeFunction flattens GetFunction into the configuration plus tags and
// concurrency. The code download location is dropped.
func describeFunction(ctx context.Context, c *clients, wait waitFunc, name string) (collector.RawRecord, error) {
	if err := wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.lambda.GetFunction(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(name)})
	if err != nil {
		return nil, fmt.Errorf("get function %s: %w", name, err)
	}
	if out.Configuration == nil {
		return nil, notFound("ResourceNotFoundException", "get function %s: no configuration returned", name)
	}
	rec, err := toRecord(out.Configuration)
	if err != nil {
		return nil, err
	}
	if len(out.Tags) > 0 {
		rec["Tags"] = toAnyMap(out.Tags)
	}
	if out.Concurrency != nil {
		rec["ReservedConcurrentExecutions"] = aws.ToInt32(out.Concurrency.ReservedConcurrentExecutions)
	}
	return rec, nil
}

func listECSClusters(ctx context.Context, c *clients, wait waitFunc) ([]collector.RawRecord, error) {
	var recs []collector.RawRecord
	err := paginate(ctx, wait, func(ctx context.Context, token *string) (*string, error) {
		out, err := c.ecs.ListClusters(ctx, &ecs.ListClustersInput{NextToken: token})
		if err != nil {
			return nil, fmt.Errorf("list ecs clusters: %w", err)
		}
		for _, arn := range out.ClusterArns {
			recs = append(recs, collector.RawRecord{
				"ClusterArn":  arn,
				"ClusterName": arn[strings.LastIndex(arn, "/")+1:],
			})
		}
		return out.NextToken, nil
	})
	return recs, err
}

func describeECSCluster(ctx context.Context, c *clients, wait waitFunc, arn string) (collector.RawRecord, error) {
	if err := wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.ecs.DescribeClusters(ctx, &ecs.DescribeClustersInput{
		Clusters: []string{arn},
		Include:  []ecstypes.ClusterField{ecstypes.ClusterFieldTags, ecstypes.ClusterFieldSettings},
	})
	if err != nil {
		return nil, fmt.Errorf("describe ecs cluster %s: %w", arn, err)
	}
	if len(out.Clusters) == 0 {
		reason := "cluster not returned"
		if len(out.Failures) > 0 {
			reason = aws.ToString(out.Failures[0].Reason)
		}
		return nil, notFound("ClusterNotFoundException", "describe ecs cluster %s: %s", arn, reason)
	}
	return toRecord(out.Clusters[0])
}

func listEKSClusters(ctx context.Context, c *clients, wait waitFunc) ([]collector.RawRecord, error) {
	var recs []collector.RawRecord
	err := paginate(ctx, wait, func(ctx context.Context, token *string) (*string, error) {
		out, err := c.eks.ListClusters(ctx, &eks.ListClustersInput{NextToken: token})
		if err != nil {
			return nil, fmt.Errorf("list eks clusters: %w", err)
		}
		for _, name := range out.Clusters {
			recs = append(recs, collector.RawRecord{"Name": name})
		}
		return out.NextToken, nil
	})
	return recs, err
}

func describeEKSCluster(ctx context.Context, c *clients, wait waitFunc, name string) (collector.RawRecord, error) {
	if err := wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.eks.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: aws.String(name)})
	if err != nil {
		return nil, fmt.Errorf("describe eks cluster %s: %w", name, err)
	}
	return toRecord(out.Cluster)
}

func listRepositories(ctx context.Context, c *clients, wait waitFunc) ([]collector.RawRecord, error) {
	var recs []collector.RawRecord
	err := paginate(ctx, wait, func(ctx context.Context, token *string) (*string, error) {
		out, err := c.ecr.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{NextToken: token})
		if err != nil {
			return nil, fmt.Errorf("describe repositories: %w", err)
		}
		return out.NextToken, appendRecords(&recs, out.Repositories)
	})
	return recs, err
}

func toAnyMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
