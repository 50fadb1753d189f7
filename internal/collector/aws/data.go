package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/memorydb"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/fibanez/aws-dash-architect-sub001/internal/collector"
)

func dataDefinitions() []definition {
	return []definition{
		{
			descriptor: collector.Descriptor{Type: "AWS::RDS::DBInstance", DisplayName: "RDS DB Instance", Service: "rds", IDField: "DBInstanceIdentifier"},
			list:       listDBInstances,
		},
		{
			descriptor: collector.Descriptor{Type: "AWS::DynamoDB::Table", DisplayName: "DynamoDB Table", Service: "dynamodb", IDField: "TableName"},
			list:       listTables,
			describe:   describeTable,
		},
		{
			descriptor: collector.Descriptor{Type: "AWS::Redshift::Cluster", DisplayName: "Redshift Cluster", Service: "redshift", IDField: "ClusterIdentifier"},
			list:       listRedshiftClusters,
		},
		{
			descriptor: collector.Descriptor{Type: "AWS::MemoryDB::Cluster", DisplayName: "MemoryDB Cluster", Service: "memorydb", IDField: "Name"},
			list:       listMemoryDBClusters,
		},
		{
			descriptor: collector.Descriptor{Type: "AWS::SQS::Queue", DisplayName: "SQS Queue", Service: "sqs", IDField: "QueueUrl", NameField: "QueueName"},
			list:       listQueues,
			describe:   describeQueue,
		},
		{
			descriptor: collector.Descriptor{Type: "AWS::Logs::LogGroup", DisplayName: "Log Group", Service: "logs", IDField: "LogGroupName"},
			list:       listLogGroups,
		},
		{
			descriptor: collector.Descriptor{Type: "AWS::KMS::Key", DisplayName: "KMS Key", Service: "kms", IDField: "KeyId"},
			list:       listKeys,
			describe:   describeKey,
		},
		{
			descriptor: collector.Descriptor{Type: "AWS::CloudTrail::Trail", DisplayName: "CloudTrail Trail", Service: "cloudtrail", IDField: "TrailARN", NameField: "Name"},
			list:       listTrails,
			describe:   describeTrailStatus,
		},
	}
}

func listDBInstances(ctx context.Context, c *clients, wait waitFunc) ([]collector.RawRecord, error) {
	var recs []collector.RawRecord
	err := paginate(ctx, wait, func(ctx context.Context, marker *string) (*string, error) {
		out, err := c.rds.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("describe db instances: %w", err)
		}
		return out.Marker, appendRecords(&recs, out.DBInstances)
	})
	return recs, err
}

func listTables(ctx context.Context, c *clients, wait waitFunc) ([]collector.RawRecord, error) {
	var recs []collector.RawRecord
	err := paginate(ctx, wait, func(ctx context.Context, start *string) (*string, error) {
		out, err := c.dynamodb.ListTables(ctx, &dynamodb.ListTablesInput{ExclusiveStartTableName: start})
		if err != nil {
			return nil, fmt.Errorf("list tables: %w", err)
		}
		for _, name := range out.TableNames {
			recs = append(recs, collector.RawRecord{"TableName": name})
		}
		return out.LastEvaluatedTableName, nil
	})
	return recs, err
}

func describeTable(ctx context.Context, c *clients, wait waitFunc, name string) (collector.RawRecord, error) {
	if err := wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.dynamodb.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
	if err != nil {
		return nil, fmt.Errorf("describe table %s: %w", name, err)
	}
	return toRecord(out.Table)
}

func listRedshiftClusters(ctx context.Context, c *clients, wait waitFunc) ([]collector.RawRecord, error) {
	var recs []collector.RawRecord
	err := paginate(ctx, wait, func(ctx context.Context, marker *string) (*string, error) {
		out, err := c.redshift.DescribeClusters(ctx, &redshift.DescribeClustersInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("describe redshift clusters: %w", err)
		}
		return out.Marker, appendRecords(&recs, out.Clusters)
	})
	return recs, err
}

func listMemoryDBClusters(ctx context.Context, c *clients, wait waitFunc) ([]collector.RawRecord, error) {
	var recs []collector.RawRecord
	err := paginate(ctx, wait, func(ctx context.Context, token *string) (*string, error) {
		out, err := c.memorydb.DescribeClusters(ctx, &memorydb.DescribeClustersInput{NextToken: token})
		if err != nil {
			return nil, fmt.Errorf("describe memorydb clusters: %w", err)
		}
		return out.NextToken, appendRecords(&recs, out.Clusters)
	})
	return recs, err
}

func listQueues(ctx context.Context, c *clients, wait waitFunc) ([]collector.RawRecord, error) {
	var recs []collector.RawRecord
	err := paginate(ctx, wait, func(ctx context.Context, token *string) (*string, error) {
		out, err := c.sqs.ListQueues(ctx, &sqs.ListQueuesInput{NextToken: token})
		if err != nil {
			return nil, fmt.Errorf("list queues: %w", err)
		}
		for _, url := range out.QueueUrls {
			recs = append(recs, collector.RawRecord{
				"QueueUrl":  url,
				"QueueName": url[strings.LastIndex(url, "/")+1:],
			})
		}
		return out.NextToken, nil
	})
	return recs, err
}

func describeQueue(ctx context.Context, c *clients, wait waitFunc, url string) (collector.RawRecord, error) {
	if err := wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.sqs.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(url),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameAll},
	})
	if err != nil {
		return nil, fmt.Errorf("get queue attributes %s: %w", url, err)
	}
	return collector.RawRecord(toAnyMap(out.Attributes)), nil
}

func listLogGroups(ctx context.Context, c *clients, wait waitFunc) ([]collector.RawRecord, error) {
	var recs []collector.RawRecord
	err := paginate(ctx, wait, func(ctx context.Context, token *string) (*string, error) {
		out, err := c.logs.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{NextToken: token})
		if err != nil {
			return nil, fmt.Errorf("describe log groups: %w", err)
		}
		return out.NextToken, appendRecords(&recs, out.LogGroups)
	})
	return recs, err
}

func listKeys(ctx context.Context, c *clients, wait waitFunc) ([]collector.RawRecord, error) {
	var recs []collector.RawRecord
	err := paginate(ctx, wait, func(ctx context.Context, marker *string) (*string, error) {
		out, err := c.kms.ListKeys(ctx, &kms.ListKeysInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("list keys: %w", err)
		}
		return out.NextMarker, appendRecords(&recs, out.Keys)
	})
	return recs, err
}

func describeKey(ctx context.Context, c *clients, wait waitFunc, keyID string) (collector.RawRecord, error) {
	if err := wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.kms.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String(keyID)})
	if err != nil {
		return nil, fmt.Errorf("describe key %s: %w", keyID, err)
	}
	return toRecord(out.KeyMetadata)
}

// listTrails returns the trails whose home region is the query region.
// Shadow copies in other regions are skipped.
func listTrails(ctx context.Context, c *clients, wait waitFunc) ([]collector.RawRecord, error) {
	if err := wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.cloudtrail.DescribeTrails(ctx, &cloudtrail.DescribeTrailsInput{IncludeShadowTrails: aws.Bool(false)})
	if err != nil {
		return nil, fmt.Errorf("describe trails: %w", err)
	}
	return toRecords(out.TrailList)
}

func describeTrailStatus(ctx context.Context, c *clients, wait waitFunc, arn string) (collector.RawRecord, error) {
	if err := wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.cloudtrail.GetTrailStatus(ctx, &cloudtrail.GetTrailStatusInput{Name: aws.String(arn)})
	if err != nil {
		return nil, fmt.Errorf("get trail status %s: %w", arn, err)
	}
	rec, err := toRecord(out)
	if err != nil {
		return nil, err
	}
	if aws.ToBool(out.IsLogging) {
		rec["Status"] = "logging"
	} else {
		rec["Status"] = "stopped"
	}
	return rec, nil
}
