package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testScope() Scope {
	return Scope{
		Accounts:      []Account{{ID: "111"}, {ID: "222"}},
		Regions:       []Region{{Code: "us-east-1"}, {Code: "eu-west-1"}},
		ResourceTypes: []string{"AWS::EC2::Instance", "AWS::IAM::Role"},
	}
}

func isIAM(t string) bool { return t == "AWS::IAM::Role" }

func TestScope_Keys_CollapsesGlobalTypes(t *testing.T) {
	keys := testScope().Keys(isIAM)

	// 2 accounts x 2 regions for the regional type, 1 per account for the global one
	assert.Len(t, keys, 6)

	globals := 0
	for _, k := range keys {
		if k.ResourceType == "AWS::IAM::Role" {
			globals++
			assert.Equal(t, GlobalRegion, k.Region)
		}
	}
	assert.Equal(t, 2, globals)
}

func TestScope_Keys_NoRegionsMeansNoKeys(t *testing.T) {
	s := testScope()
	s.Regions = nil

	assert.Empty(t, s.Keys(isIAM))
	assert.True(t, s.IsEmpty())
}

func TestScope_AddRemoveDeduplicates(t *testing.T) {
	s := testScope()

	assert.False(t, s.AddAccount(Account{ID: "111"}))
	assert.True(t, s.AddAccount(Account{ID: "333"}))
	assert.Len(t, s.Accounts, 3)

	assert.False(t, s.AddRegion(Region{Code: "us-east-1"}))
	assert.True(t, s.RemoveRegion("eu-west-1"))
	assert.False(t, s.RemoveRegion("eu-west-1"))

	assert.False(t, s.AddResourceType("AWS::IAM::Role"))
	assert.True(t, s.RemoveResourceType("AWS::IAM::Role"))
	assert.Equal(t, []string{"AWS::EC2::Instance"}, s.ResourceTypes)
}

func TestScope_DiffAndApply(t *testing.T) {
	old := testScope()
	next := old.Clone()
	next.RemoveAccount("222")
	next.AddRegion(Region{Code: "ap-south-1"})
	next.AddResourceType("AWS::S3::Bucket")

	d := Diff(old, next)
	assert.Equal(t, []Account{{ID: "222"}}, d.RemovedAccounts)
	assert.Equal(t, []Region{{Code: "ap-south-1"}}, d.AddedRegions)
	assert.Equal(t, []string{"AWS::S3::Bucket"}, d.AddedTypes)
	assert.False(t, d.IsEmpty())

	applied := old.Apply(d)
	assert.ElementsMatch(t, next.Accounts, applied.Accounts)
	assert.ElementsMatch(t, next.Regions, applied.Regions)
	assert.ElementsMatch(t, next.ResourceTypes, applied.ResourceTypes)

	assert.True(t, Diff(next, next).IsEmpty())
}

func TestScope_Contains(t *testing.T) {
	s := testScope()

	assert.True(t, s.Contains(QueryKey{AccountID: "111", Region: "us-east-1", ResourceType: "AWS::EC2::Instance"}, isIAM))
	assert.True(t, s.Contains(QueryKey{AccountID: "111", Region: GlobalRegion, ResourceType: "AWS::IAM::Role"}, isIAM))
	assert.False(t, s.Contains(QueryKey{AccountID: "111", Region: "us-east-1", ResourceType: "AWS::IAM::Role"}, isIAM))
	assert.False(t, s.Contains(QueryKey{AccountID: "999", Region: "us-east-1", ResourceType: "AWS::EC2::Instance"}, isIAM))
	assert.False(t, s.Contains(QueryKey{AccountID: "111", Region: "ap-south-1", ResourceType: "AWS::EC2::Instance"}, isIAM))
}
