package normalizer

import (
	"strings"

	"github.com/fibanez/aws-dash-architect-sub001/pkg/resource"
)

// rule extracts references found at Path. Path may cross lists: each
// segment is applied to every element of a list value.
type rule struct {
	Path   string
	Kind   resource.RelationshipKind
	Target string
}

const (
	typeVPC           = "AWS::EC2::VPC"
	typeSubnet        = "AWS::EC2::Subnet"
	typeSecurityGroup = "AWS::EC2::SecurityGroup"
	typeVolume        = "AWS::EC2::Volume"
	typeInstance      = "AWS::EC2::Instance"
	typeRole          = "AWS::IAM::Role"
	typeKey           = "AWS::KMS::Key"
	typeQueue         = "AWS::SQS::Queue"
	typeBucket        = "AWS::S3::Bucket"
	typeLogGroup      = "AWS::Logs::LogGroup"
)

var relationshipRules = map[string][]rule{
	typeInstance: {
		{"VpcId", resource.RelMemberOf, typeVPC},
		{"SubnetId", resource.RelDeployedIn, typeSubnet},
		{"SecurityGroups.GroupId", resource.RelUses, typeSecurityGroup},
		{"BlockDeviceMappings.Ebs.VolumeId", resource.RelAttachedTo, typeVolume},
	},
	typeSubnet: {
		{"VpcId", resource.RelMemberOf, typeVPC},
	},
	typeSecurityGroup: {
		{"VpcId", resource.RelMemberOf, typeVPC},
	},
	typeVolume: {
		{"Attachments.InstanceId", resource.RelAttachedTo, typeInstance},
		{"KmsKeyId", resource.RelProtectedBy, typeKey},
	},
	"AWS::EC2::NatGateway": {
		{"VpcId", resource.RelMemberOf, typeVPC},
		{"SubnetId", resource.RelDeployedIn, typeSubnet},
	},
	"AWS::EC2::EIP": {
		{"InstanceId", resource.RelAttachedTo, typeInstance},
	},
	"AWS::RDS::DBInstance": {
		{"DBSubnetGroup.VpcId", resource.RelMemberOf, typeVPC},
		{"VpcSecurityGroups.VpcSecurityGroupId", resource.RelUses, typeSecurityGroup},
		{"KmsKeyId", resource.RelProtectedBy, typeKey},
	},
	"AWS::Lambda::Function": {
		{"Role", resource.RelUses, typeRole},
		{"DeadLetterConfig.TargetArn", resource.RelDeadLetterQueue, typeQueue},
		{"VpcConfig.SubnetIds", resource.RelDeployedIn, typeSubnet},
		{"VpcConfig.SecurityGroupIds", resource.RelUses, typeSecurityGroup},
		{"KMSKeyArn", resource.RelProtectedBy, typeKey},
	},
	"AWS::EKS::Cluster": {
		{"RoleArn", resource.RelUses, typeRole},
		{"ResourcesVpcConfig.VpcId", resource.RelMemberOf, typeVPC},
		{"ResourcesVpcConfig.SubnetIds", resource.RelDeployedIn, typeSubnet},
	},
	"AWS::ElasticLoadBalancingV2::LoadBalancer": {
		{"VpcId", resource.RelMemberOf, typeVPC},
		{"SecurityGroups", resource.RelUses, typeSecurityGroup},
		{"AvailabilityZones.SubnetId", resource.RelDeployedIn, typeSubnet},
	},
	"AWS::AutoScaling::AutoScalingGroup": {
		{"Instances.InstanceId", resource.RelContains, typeInstance},
	},
	"AWS::DynamoDB::Table": {
		{"SSEDescription.KMSMasterKeyArn", resource.RelProtectedBy, typeKey},
	},
	"AWS::SecretsManager::Secret": {
		{"KmsKeyId", resource.RelProtectedBy, typeKey},
	},
	"AWS::CloudTrail::Trail": {
		{"S3BucketName", resource.RelUses, typeBucket},
		{"KmsKeyId", resource.RelProtectedBy, typeKey},
		{"CloudWatchLogsLogGroupArn", resource.RelUses, typeLogGroup},
	},
	typeLogGroup: {
		{"KmsKeyId", resource.RelProtectedBy, typeKey},
	},
	"AWS::Kinesis::Stream": {
		{"KeyId", resource.RelProtectedBy, typeKey},
	},
	"AWS::ElastiCache::CacheCluster": {
		{"SecurityGroups.SecurityGroupId", resource.RelUses, typeSecurityGroup},
	},
	"AWS::Redshift::Cluster": {
		{"VpcId", resource.RelMemberOf, typeVPC},
		{"VpcSecurityGroups.VpcSecurityGroupId", resource.RelUses, typeSecurityGroup},
		{"KmsKeyId", resource.RelProtectedBy, typeKey},
	},
	"AWS::MemoryDB::Cluster": {
		{"SecurityGroups.SecurityGroupId", resource.RelUses, typeSecurityGroup},
		{"KmsKeyId", resource.RelProtectedBy, typeKey},
	},
	"AWS::StepFunctions::StateMachine": {
		{"RoleArn", resource.RelUses, typeRole},
	},
	"AWS::OpenSearchService::Domain": {
		{"VPCOptions.VPCId", resource.RelMemberOf, typeVPC},
		{"VPCOptions.SubnetIds", resource.RelDeployedIn, typeSubnet},
		{"VPCOptions.SecurityGroupIds", resource.RelUses, typeSecurityGroup},
	},
	"AWS::SQS::Queue": {
		{"RedrivePolicy.deadLetterTargetArn", resource.RelDeadLetterQueue, typeQueue},
	},
}

// Relationships extracts references from a record using the rules for its
// type. The result is deduplicated and preserves rule order.
func Relationships(resourceType string, rec map[string]any) []resource.Relationship {
	var rels []resource.Relationship
	for _, r := range relationshipRules[resourceType] {
		for _, target := range collectStrings(rec, strings.Split(r.Path, ".")) {
			rels = appendRelationship(rels, resource.Relationship{
				Kind:               r.Kind,
				TargetResourceID:   target,
				TargetResourceType: r.Target,
			})
		}
	}
	return rels
}

func appendRelationship(rels []resource.Relationship, r resource.Relationship) []resource.Relationship {
	for _, existing := range rels {
		if existing == r {
			return rels
		}
	}
	return append(rels, r)
}

// MergeRelationships returns the union of a and b, a first.
func MergeRelationships(a, b []resource.Relationship) []resource.Relationship {
	out := append([]resource.Relationship(nil), a...)
	for _, r := range b {
		out = appendRelationship(out, r)
	}
	return out
}

func collectStrings(v any, path []string) []string {
	switch t := v.(type) {
	case string:
		if len(path) == 0 && t != "" {
			return []string{t}
		}
	case []any:
		var out []string
		for _, item := range t {
			out = append(out, collectStrings(item, path)...)
		}
		return out
	case map[string]any:
		if len(path) == 0 {
			return nil
		}
		next, ok := t[path[0]]
		if !ok {
			return nil
		}
		return collectStrings(next, path[1:])
	}
	return nil
}
