package normalizer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fibanez/aws-dash-architect-sub001/internal/collector"
	"github.com/fibanez/aws-dash-architect-sub001/pkg/resource"
)

var queried = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func ctxFor(d collector.Descriptor) Context {
	return Context{Descriptor: d, AccountID: "111111111111", Region: "us-east-1", QueriedAt: queried}
}

func TestDefault_EC2Instance(t *testing.T) {
	rec := collector.RawRecord{
		"InstanceId":   "i-0abc",
		"InstanceType": "t3.micro",
		"LaunchTime":   "2025-01-01T00:00:00Z",
		"State":        map[string]any{"Code": float64(16), "Name": "running"},
		"VpcId":        "vpc-1",
		"SubnetId":     "subnet-1",
		"SecurityGroups": []any{
			map[string]any{"GroupId": "sg-1", "GroupName": "web"},
			map[string]any{"GroupId": "sg-2", "GroupName": "ssh"},
		},
		"BlockDeviceMappings": []any{
			map[string]any{"DeviceName": "/dev/xvda", "Ebs": map[string]any{"VolumeId": "vol-1"}},
		},
		"Tags": []any{
			map[string]any{"Key": "Name", "Value": "web-1"},
			map[string]any{"Key": "Env", "Value": "prod"},
		},
	}
	d := collector.Descriptor{Type: "AWS::EC2::Instance", Service: "ec2", IDField: "InstanceId"}

	e, err := Default{}.Normalize(rec, ctxFor(d))

	require.NoError(t, err)
	assert.Equal(t, "i-0abc", e.ResourceID)
	assert.Equal(t, "web-1", e.DisplayName)
	assert.Equal(t, "running", e.Status)
	assert.Equal(t, []resource.Tag{{Key: "Env", Value: "prod"}, {Key: "Name", Value: "web-1"}}, e.Tags)
	assert.Equal(t, "t3.micro", e.Properties["InstanceType"])
	assert.Equal(t, "i-0abc", e.Properties["id"])
	assert.Equal(t, "2025-01-01T00:00:00Z", e.Properties["created_date"])
	assert.Equal(t, queried, e.QueriedAt)
	assert.False(t, e.Enriched())

	assert.Equal(t, []resource.Relationship{
		{Kind: resource.RelMemberOf, TargetResourceID: "vpc-1", TargetResourceType: "AWS::EC2::VPC"},
		{Kind: resource.RelDeployedIn, TargetResourceID: "subnet-1", TargetResourceType: "AWS::EC2::Subnet"},
		{Kind: resource.RelUses, TargetResourceID: "sg-1", TargetResourceType: "AWS::EC2::SecurityGroup"},
		{Kind: resource.RelUses, TargetResourceID: "sg-2", TargetResourceType: "AWS::EC2::SecurityGroup"},
		{Kind: resource.RelAttachedTo, TargetResourceID: "vol-1", TargetResourceType: "AWS::EC2::Volume"},
	}, e.Relationships)

	// raw and normalized properties do not share memory with the record
	rec["InstanceType"] = "changed"
	assert.Equal(t, "t3.micro", e.RawProperties["InstanceType"])
}

func TestDefault_Heuristics(t *testing.T) {
	tests := []struct {
		name       string
		typ        string
		rec        collector.RawRecord
		wantID     string
		wantName   string
		wantStatus string
	}{
		{
			name:     "arn wins over id",
			typ:      "AWS::Lambda::Function",
			rec:      collector.RawRecord{"FunctionArn": "arn:aws:lambda:us-east-1:1:function:f", "FunctionName": "f"},
			wantID:   "arn:aws:lambda:us-east-1:1:function:f",
			wantName: "f",
		},
		{
			name:     "noun id and name",
			typ:      "AWS::IAM::Role",
			rec:      collector.RawRecord{"RoleId": "AROA1", "RoleName": "admin"},
			wantID:   "AROA1",
			wantName: "admin",
		},
		{
			name:       "status string",
			typ:        "AWS::RDS::DBInstance",
			rec:        collector.RawRecord{"DBInstanceArn": "arn:db", "DBInstanceStatus": "available"},
			wantID:     "arn:db",
			wantName:   "arn:db",
			wantStatus: "available",
		},
		{
			name:       "name falls back to id",
			typ:        "AWS::EC2::VPC",
			rec:        collector.RawRecord{"VpcId": "vpc-1", "State": "available"},
			wantID:     "vpc-1",
			wantName:   "vpc-1",
			wantStatus: "available",
		},
		{
			name:     "map tags",
			typ:      "AWS::SQS::Queue",
			rec:      collector.RawRecord{"QueueUrl": "https://q", "QueueArn": "arn:q", "Tags": map[string]any{"Name": "orders"}},
			wantID:   "arn:q",
			wantName: "orders",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Default{}.Normalize(tt.rec, ctxFor(collector.Descriptor{Type: tt.typ}))
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, e.ResourceID)
			assert.Equal(t, tt.wantName, e.DisplayName)
			assert.Equal(t, tt.wantStatus, e.Status)
		})
	}
}

func TestDefault_NoIdentifier(t *testing.T) {
	_, err := Default{}.Normalize(collector.RawRecord{"Foo": "bar"}, ctxFor(collector.Descriptor{Type: "AWS::X::Y"}))
	assert.ErrorIs(t, err, ErrNoIdentifier)
}

func TestRegistry_FallbackAndNormalizeAll(t *testing.T) {
	r := NewRegistry()
	custom := Func(func(rec collector.RawRecord, c Context) (resource.Entry, error) {
		if rec["skip"] == true {
			return resource.Entry{}, errors.New("skip")
		}
		return resource.Entry{ResourceType: c.Descriptor.Type, ResourceID: "custom"}, nil
	})
	r.Register("AWS::Custom::Thing", custom)

	_, isDefault := r.For("AWS::EC2::VPC").(Default)
	assert.True(t, isDefault)

	entries, errs := r.NormalizeAll(
		[]collector.RawRecord{{"a": 1}, {"skip": true}},
		ctxFor(collector.Descriptor{Type: "AWS::Custom::Thing"}),
	)
	require.Len(t, entries, 1)
	require.Len(t, errs, 1)
	assert.Equal(t, "custom", entries[0].ResourceID)
	assert.Contains(t, errs[0].Error(), "normalize record 1")
}

func TestEnrich_UnionMerge(t *testing.T) {
	entry := resource.Entry{
		ResourceType: "AWS::Lambda::Function",
		ResourceID:   "arn:f",
		Status:       "",
		Properties:   map[string]any{"FunctionName": "f", "Runtime": "go1.x", "MemorySize": float64(128)},
		Tags:         []resource.Tag{{Key: "Env", Value: "dev"}},
	}
	detail := collector.RawRecord{
		"MemorySize":       float64(256),
		"State":            "Active",
		"Role":             "arn:aws:iam::1:role/exec",
		"DeadLetterConfig": map[string]any{"TargetArn": "arn:aws:sqs:us-east-1:1:dlq"},
		"Tags":             map[string]any{"Env": "prod", "Team": "core"},
	}

	p := Enrich(entry, detail)
	p.Apply(&entry)

	assert.Equal(t, "f", entry.Properties["FunctionName"])
	assert.Equal(t, "go1.x", entry.Properties["Runtime"])
	assert.Equal(t, float64(256), entry.Properties["MemorySize"])
	assert.Equal(t, "Active", entry.Status)
	assert.Equal(t, []resource.Tag{{Key: "Env", Value: "prod"}, {Key: "Team", Value: "core"}}, entry.Tags)
	assert.Contains(t, entry.Relationships, resource.Relationship{
		Kind: resource.RelDeadLetterQueue, TargetResourceID: "arn:aws:sqs:us-east-1:1:dlq", TargetResourceType: "AWS::SQS::Queue",
	})
	assert.Contains(t, entry.Relationships, resource.Relationship{
		Kind: resource.RelUses, TargetResourceID: "arn:aws:iam::1:role/exec", TargetResourceType: "AWS::IAM::Role",
	})
}

func TestEnrich_DecodesPolicyDocuments(t *testing.T) {
	entry := resource.Entry{ResourceType: "AWS::SQS::Queue", ResourceID: "arn:q"}
	detail := collector.RawRecord{
		"RedrivePolicy": `{"deadLetterTargetArn":"arn:dlq","maxReceiveCount":"5"}`,
		"Policy":        "not json",
	}

	p := Enrich(entry, detail)

	policy, ok := p.Properties["RedrivePolicy"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "arn:dlq", policy["deadLetterTargetArn"])
	assert.Equal(t, "not json", p.Properties["Policy"])
	assert.Equal(t, []resource.Relationship{
		{Kind: resource.RelDeadLetterQueue, TargetResourceID: "arn:dlq", TargetResourceType: "AWS::SQS::Queue"},
	}, p.Relationships)
}

func TestEnrich_DecodesPercentEncodedPolicy(t *testing.T) {
	entry := resource.Entry{ResourceType: "AWS::IAM::Role", ResourceID: "deploy"}
	detail := collector.RawRecord{
		"AssumeRolePolicyDocument": "%7B%22Version%22%3A%222012-10-17%22%7D",
	}

	p := Enrich(entry, detail)

	doc, ok := p.Properties["AssumeRolePolicyDocument"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2012-10-17", doc["Version"])
}

func TestMergeRelationships(t *testing.T) {
	a := []resource.Relationship{{Kind: resource.RelUses, TargetResourceID: "1"}}
	b := []resource.Relationship{{Kind: resource.RelUses, TargetResourceID: "1"}, {Kind: resource.RelUses, TargetResourceID: "2"}}

	assert.Len(t, MergeRelationships(a, b), 2)
	assert.Len(t, a, 1)
}
