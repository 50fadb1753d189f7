package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/fibanez/aws-dash-architect-sub001/internal/collector"
)

// globalDefinitions are account-scoped types. They are queried once per
// account in the global query region.
func globalDefinitions() []definition {
	return []definition{
		{
			descriptor: collector.Descriptor{Type: "AWS::S3::Bucket", DisplayName: "S3 Bucket", Service: "s3", IDField: "Name"},
			list:       listBuckets,
			describe:   describeBucket,
		},
		{
			descriptor: collector.Descriptor{Type: "AWS::IAM::Role", DisplayName: "IAM Role", Service: "iam", IDField: "RoleName"},
			list:       listRoles,
			describe:   describeRole,
		},
		{
			descriptor: collector.Descriptor{Type: "AWS::IAM::User", DisplayName: "IAM User", Service: "iam", IDField: "UserName"},
			list:       listUsers,
			describe:   describeUser,
		},
		{
			descriptor: collector.Descriptor{Type: "AWS::Route53::HostedZone", DisplayName: "Hosted Zone", Service: "route53", IDField: "Id"},
			list:       listHostedZones,
			describe:   describeHostedZone,
		},
	}
}

func listBuckets(ctx context.Context, c *clients, wait waitFunc) ([]collector.RawRecord, error) {
	var recs []collector.RawRecord
	err := paginate(ctx, wait, func(ctx context.Context, token *string) (*string, error) {
		out, err := c.s3.ListBuckets(ctx, &s3.ListBucketsInput{ContinuationToken: token})
		if err != nil {
			return nil, fmt.Errorf("list buckets: %w", err)
		}
		return out.ContinuationToken, appendRecords(&recs, out.Buckets)
	})
	return recs, err
}

// describeBucket resolves the bucket region and tags. A bucket without tags
// is not an error.
func describeBucket(ctx context.Context, c *clients, wait waitFunc, name string) (collector.RawRecord, error) {
	if err := wait(ctx); err != nil {
		return nil, err
	}
	loc, err := c.s3.GetBucketLocation(ctx, &s3.GetBucketLocationInput{Bucket: aws.String(name)})
	if err != nil {
		return nil, fmt.Errorf("get bucket location %s: %w", name, err)
	}
	region := string(loc.LocationConstraint)
	if region == "" {
		region = "us-east-1"
	}
	rec := collector.RawRecord{"BucketRegion": region}

	if err := wait(ctx); err != nil {
		return nil, err
	}
	tags, err := c.s3.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{Bucket: aws.String(name)})
	switch {
	case hasErrorCode(err, "NoSuchTagSet"):
	case err != nil:
		return nil, fmt.Errorf("get bucket tagging %s: %w", name, err)
	default:
		set, err := toRecords(tags.TagSet)
		if err != nil {
			return nil, err
		}
		rec["TagSet"] = recordsToAny(set)
	}
	return rec, nil
}

func listRoles(ctx context.Context, c *clients, wait waitFunc) ([]collector.RawRecord, error) {
	var recs []collector.RawRecord
	err := paginate(ctx, wait, func(ctx context.Context, marker *string) (*string, error) {
		out, err := c.iam.ListRoles(ctx, &iam.ListRolesInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("list roles: %w", err)
		}
		return out.Marker, appendRecords(&recs, out.Roles)
	})
	return recs, err
}

func describeRole(ctx context.Context, c *clients, wait waitFunc, name string) (collector.RawRecord, error) {
	if err := wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.iam.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
	if err != nil {
		return nil, fmt.Errorf("get role %s: %w", name, err)
	}
	return toRecord(out.Role)
}

func listUsers(ctx context.Context, c *clients, wait waitFunc) ([]collector.RawRecord, error) {
	var recs []collector.RawRecord
	err := paginate(ctx, wait, func(ctx context.Context, marker *string) (*string, error) {
		out, err := c.iam.ListUsers(ctx, &iam.ListUsersInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		return out.Marker, appendRecords(&recs, out.Users)
	})
	return recs, err
}

func describeUser(ctx context.Context, c *clients, wait waitFunc, name string) (collector.RawRecord, error) {
	if err := wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.iam.GetUser(ctx, &iam.GetUserInput{UserName: aws.String(name)})
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", name, err)
	}
	return toRecord(out.User)
}

func listHostedZones(ctx context.Context, c *clients, wait waitFunc) ([]collector.RawRecord, error) {
	var recs []collector.RawRecord
	err := paginate(ctx, wait, func(ctx context.Context, marker *string) (*string, error) {
		out, err := c.route53.ListHostedZones(ctx, &route53.ListHostedZonesInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("list hosted zones: %w", err)
		}
		return out.NextMarker, appendRecords(&recs, out.HostedZones)
	})
	return recs, err
}

func describeHostedZone(ctx context.Context, c *clients, wait waitFunc, id string) (collector.RawRecord, error) {
	if err := wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.route53.GetHostedZone(ctx, &route53.GetHostedZoneInput{Id: aws.String(id)})
	if err != nil {
		return nil, fmt.Errorf("get hosted zone %s: %w", id, err)
	}
	if out.HostedZone == nil {
		return nil, notFound("NoSuchHostedZone", "get hosted zone %s: no zone returned", id)
	}
	rec, err := toRecord(out.HostedZone)
	if err != nil {
		return nil, err
	}
	if out.DelegationSet != nil {
		rec["NameServers"] = stringsToAny(out.DelegationSet.NameServers)
	}
	if len(out.VPCs) > 0 {
		vpcs, err := toRecords(out.VPCs)
		if err != nil {
			return nil, err
		}
		rec["VPCs"] = recordsToAny(vpcs)
	}
	return rec, nil
}

func recordsToAny(recs []collector.RawRecord) []any {
	out := make([]any, len(recs))
	for i, r := range recs {
		out[i] = map[string]any(r)
	}
	return out
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
