package resource

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryKey_String(t *testing.T) {
	k := QueryKey{AccountID: "123456789012", Region: "us-east-1", ResourceType: "AWS::EC2::Instance"}
	assert.Equal(t, "123456789012:us-east-1:AWS::EC2::Instance", k.String())
}

func TestParseQueryKey_TypeWithColons(t *testing.T) {
	k, err := ParseQueryKey("123456789012:Global:AWS::IAM::Role")

	require.NoError(t, err)
	assert.Equal(t, "123456789012", k.AccountID)
	assert.Equal(t, GlobalRegion, k.Region)
	assert.Equal(t, "AWS::IAM::Role", k.ResourceType)
	assert.True(t, k.IsGlobal())
}

func TestParseQueryKey_Invalid(t *testing.T) {
	for _, s := range []string{"", "acct", "acct:region", "acct::type", ":us-east-1:type"} {
		_, err := ParseQueryKey(s)
		assert.Error(t, err, s)
	}
}

func TestQueryKey_JSONMapKey(t *testing.T) {
	in := map[QueryKey]int{
		{AccountID: "1", Region: "us-east-1", ResourceType: "AWS::S3::Bucket"}: 3,
	}
	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"1:us-east-1:AWS::S3::Bucket":3}`, string(b))

	var out map[QueryKey]int
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)
}

func TestIdentity_Less(t *testing.T) {
	a := Identity{AccountID: "1", Region: "eu-west-1", ResourceType: "T", ResourceID: "b"}
	b := Identity{AccountID: "1", Region: "eu-west-1", ResourceType: "T", ResourceID: "c"}
	c := Identity{AccountID: "2", Region: "ap-south-1", ResourceType: "T", ResourceID: "a"}

	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.False(t, c.Less(a))
	assert.False(t, a.Less(a))
}

func TestEntry_IdentityAndKey(t *testing.T) {
	e := Entry{AccountID: "1", Region: "us-east-1", ResourceType: "AWS::EC2::VPC", ResourceID: "vpc-1"}

	assert.Equal(t, Identity{AccountID: "1", Region: "us-east-1", ResourceType: "AWS::EC2::VPC", ResourceID: "vpc-1"}, e.Identity())
	assert.Equal(t, "1:us-east-1:AWS::EC2::VPC", e.Key().String())
}

func TestEntry_CloneIsDeep(t *testing.T) {
	e := Entry{
		Properties: map[string]any{
			"nested": map[string]any{"a": 1},
			"list":   []any{"x"},
		},
		Tags: []Tag{{Key: "Name", Value: "web"}},
	}

	c := e.Clone()
	c.Properties["nested"].(map[string]any)["a"] = 2
	c.Properties["list"].([]any)[0] = "y"
	c.Tags[0].Value = "db"

	assert.Equal(t, 1, e.Properties["nested"].(map[string]any)["a"])
	assert.Equal(t, "x", e.Properties["list"].([]any)[0])
	assert.Equal(t, "web", e.Tags[0].Value)
}

func TestEntry_Tag(t *testing.T) {
	e := Entry{Tags: []Tag{{Key: "env", Value: "prod"}}}

	v, ok := e.Tag("env")
	assert.True(t, ok)
	assert.Equal(t, "prod", v)

	_, ok = e.Tag("team")
	assert.False(t, ok)
	assert.Equal(t, map[string]string{"env": "prod"}, e.TagMap())
}

func TestChangeType_Constants(t *testing.T) {
	assert.Equal(t, ChangeType("added"), ChangeAdded)
	assert.Equal(t, ChangeType("removed"), ChangeRemoved)
	assert.Equal(t, ChangeType("modified"), ChangeModified)
}
