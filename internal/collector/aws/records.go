package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/smithy-go"

	"github.com/fibanez/aws-dash-architect-sub001/internal/classifier"
	"github.com/fibanez/aws-dash-architect-sub001/internal/collector"
)

type waitFunc func(ctx context.Context) error

// paginate fetches pages until the service returns an empty token. wait runs
// before every request.
func paginate(ctx context.Context, wait waitFunc, fetch func(ctx context.Context, token *string) (*string, error)) error {
	var token *string
	for {
		if err := wait(ctx); err != nil {
			return err
		}
		next, err := fetch(ctx, token)
		if err != nil {
			return err
		}
		if aws.ToString(next) == "" {
			return nil
		}
		token = next
	}
}

// toRecord converts an SDK struct to a JSON-shaped record.
func toRecord(v any) (collector.RawRecord, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var rec collector.RawRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if rec == nil {
		return nil, notFound("EmptyResponse", "empty %T in response", v)
	}
	delete(rec, "ResultMetadata")
	return rec, nil
}

func toRecords[T any](items []T) ([]collector.RawRecord, error) {
	out := make([]collector.RawRecord, 0, len(items))
	for _, item := range items {
		rec, err := toRecord(item)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// appendRecords converts items and appends them to dst.
func appendRecords[T any](dst *[]collector.RawRecord, items []T) error {
	recs, err := toRecords(items)
	if err != nil {
		return err
	}
	*dst = append(*dst, recs...)
	return nil
}

func notFound(code, format string, args ...any) error {
	return classifier.New(classifier.NotFound, code, fmt.Sprintf(format, args...))
}

func hasErrorCode(err error, code string) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}
