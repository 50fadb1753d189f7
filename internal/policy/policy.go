// Package policy evaluates rego predicates over store snapshots.
package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fibanez/aws-dash-architect-sub001/pkg/resource"
)

const (
	wherePackage = "discover.where"
	whereQuery   = "data.discover.where.match"
)

// Predicate is a compiled rego query that decides whether an entry matches.
type Predicate struct {
	source string
	query  rego.PreparedEvalQuery
	tracer trace.Tracer
}

// Compile builds a predicate from a rule body, for example
//
//	input.tags.env == "prod"; input.status != "stopped"
//
// Statements are joined as a conjunction.
func Compile(ctx context.Context, expr string) (*Predicate, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("compile predicate: empty expression")
	}
	module := fmt.Sprintf("package %s\n\ndefault match := false\n\nmatch if {\n\t%s\n}\n", wherePackage, expr)
	return CompileModule(ctx, "where.rego", module, whereQuery)
}

// CompileModule builds a predicate from a full rego module and the query
// naming its boolean rule.
func CompileModule(ctx context.Context, name, module, query string) (*Predicate, error) {
	prepared, err := rego.New(
		rego.Query(query),
		rego.Module(name, module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile predicate %s: %w", name, err)
	}
	return &Predicate{
		source: module,
		query:  prepared,
		tracer: otel.Tracer("github.com/fibanez/aws-dash-architect-sub001/internal/policy"),
	}, nil
}

// Load compiles a module file. The file must define a boolean rule named
// match; the query is derived from its package clause.
func Load(ctx context.Context, path string) (*Predicate, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	pkg, err := packageOf(string(data))
	if err != nil {
		return nil, fmt.Errorf("read policy file %s: %w", path, err)
	}
	return CompileModule(ctx, filepath.Base(path), string(data), "data."+pkg+".match")
}

func packageOf(module string) (string, error) {
	for line := range strings.Lines(module) {
		line = strings.TrimSpace(line)
		if name, ok := strings.CutPrefix(line, "package "); ok {
			return strings.TrimSpace(name), nil
		}
	}
	return "", fmt.Errorf("no package clause")
}

// Match evaluates the predicate against one entry.
func (p *Predicate) Match(ctx context.Context, e resource.Entry) (bool, error) {
	rs, err := p.query.Eval(ctx, rego.EvalInput(Input(e)))
	if err != nil {
		return false, fmt.Errorf("evaluate predicate on %s: %w", e.ResourceID, err)
	}
	return rs.Allowed(), nil
}

// Filter returns the entries the predicate matches, in input order.
func (p *Predicate) Filter(ctx context.Context, entries []resource.Entry) ([]resource.Entry, error) {
	ctx, span := p.tracer.Start(ctx, "policy.filter",
		trace.WithAttributes(attribute.Int("entries", len(entries))))
	defer span.End()

	var out []resource.Entry
	for _, e := range entries {
		ok, err := p.Match(ctx, e)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	span.SetAttributes(attribute.Int("matched", len(out)))
	return out, nil
}

// Input is the document a predicate sees as input. Tags are flattened to a
// key/value object.
func Input(e resource.Entry) map[string]any {
	rels := make([]any, 0, len(e.Relationships))
	for _, r := range e.Relationships {
		rels = append(rels, map[string]any{
			"kind":          string(r.Kind),
			"resource_type": r.TargetResourceType,
			"resource_id":   r.TargetResourceID,
		})
	}
	return map[string]any{
		"resource_type": e.ResourceType,
		"account_id":    e.AccountID,
		"region":        e.Region,
		"resource_id":   e.ResourceID,
		"name":          e.DisplayName,
		"status":        e.Status,
		"tags":          e.TagMap(),
		"properties":    e.Properties,
		"relationships": rels,
		"enriched":      e.Enriched(),
	}
}
