package collector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listNothing(context.Context, Target) ([]RawRecord, error) { return nil, nil }

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Descriptor{Type: "AWS::EC2::Instance", Service: "ec2"}, Func(listNothing)))
	require.NoError(t, r.Register(Descriptor{Type: "AWS::IAM::Role", Service: "iam"}, DescribeFunc{
		ListFn: listNothing,
		DescribeFn: func(context.Context, Target, string) (RawRecord, error) {
			return RawRecord{}, nil
		},
	}))

	assert.Equal(t, []string{"AWS::EC2::Instance", "AWS::IAM::Role"}, r.Types())
	assert.True(t, r.IsGlobal("AWS::IAM::Role"))
	assert.False(t, r.IsGlobal("AWS::EC2::Instance"))
	assert.True(t, r.Enrichable("AWS::IAM::Role"))
	assert.False(t, r.Enrichable("AWS::EC2::Instance"))
	assert.False(t, r.Enrichable("AWS::Nope::Nope"))

	reg, ok := r.Get("AWS::IAM::Role")
	require.True(t, ok)
	assert.Equal(t, "iam", reg.Descriptor.Service)
}

func TestRegistry_Duplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Descriptor{Type: "AWS::SQS::Queue"}, Func(listNothing)))

	err := r.Register(Descriptor{Type: "AWS::SQS::Queue"}, Func(listNothing))
	assert.ErrorIs(t, err, ErrDuplicateType)

	assert.ErrorIs(t, r.Register(Descriptor{}, Func(listNothing)), ErrInvalidDescriptor)
	assert.Panics(t, func() { r.MustRegister(Descriptor{Type: "AWS::SQS::Queue"}, Func(listNothing)) })
}

func TestRegistry_Unknown(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Descriptor{Type: "AWS::SNS::Topic"}, Func(listNothing))

	assert.Equal(t, []string{"AWS::X::Y"}, r.Unknown([]string{"AWS::SNS::Topic", "AWS::X::Y"}))
	assert.Empty(t, r.Unknown([]string{"AWS::SNS::Topic"}))
}

func TestServiceOf(t *testing.T) {
	assert.Equal(t, "ec2", ServiceOf("AWS::EC2::Instance"))
	assert.Equal(t, "", ServiceOf("bogus"))
	assert.True(t, IsGlobalService("Route53"))
	assert.False(t, IsGlobalService("lambda"))
}
