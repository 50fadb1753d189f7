package normalizer

import (
	"encoding/json"
	"maps"
	"net/url"
	"strings"

	"github.com/fibanez/aws-dash-architect-sub001/internal/collector"
	"github.com/fibanez/aws-dash-architect-sub001/pkg/resource"
)

// Enrichment is the union-merge payload produced from a describe response.
type Enrichment struct {
	Properties    map[string]any
	Status        string
	Tags          []resource.Tag
	Relationships []resource.Relationship
}

// Enrich builds the payload for merging detail into entry. Detail keys add to
// or overwrite top-level property keys; nothing is ever removed. Policy
// documents returned as JSON strings are decoded so they can be queried.
func Enrich(entry resource.Entry, detail collector.RawRecord) Enrichment {
	props := make(map[string]any, len(detail))
	for k, v := range resource.CloneProperties(detail) {
		props[k] = decodeEmbeddedJSON(k, v)
	}

	merged := maps.Clone(entry.Properties)
	if merged == nil {
		merged = make(map[string]any, len(props))
	}
	maps.Copy(merged, props)

	return Enrichment{
		Properties:    props,
		Status:        extractStatus(props, typeNoun(entry.ResourceType)),
		Tags:          extractTags(props),
		Relationships: Relationships(entry.ResourceType, merged),
	}
}

// Apply merges the payload into an entry in place.
func (p Enrichment) Apply(e *resource.Entry) {
	if e.Properties == nil {
		e.Properties = make(map[string]any, len(p.Properties))
	}
	maps.Copy(e.Properties, resource.CloneProperties(p.Properties))
	if p.Status != "" {
		e.Status = p.Status
	}
	if len(p.Tags) > 0 {
		e.Tags = mergeTags(e.Tags, p.Tags)
	}
	e.Relationships = MergeRelationships(e.Relationships, p.Relationships)
}

func mergeTags(current, detail []resource.Tag) []resource.Tag {
	byKey := make(map[string]int, len(current))
	out := append([]resource.Tag(nil), current...)
	for i, t := range out {
		byKey[t.Key] = i
	}
	for _, t := range detail {
		if i, ok := byKey[t.Key]; ok {
			out[i].Value = t.Value
			continue
		}
		byKey[t.Key] = len(out)
		out = append(out, t)
	}
	return out
}

func decodeEmbeddedJSON(key string, v any) any {
	s, ok := v.(string)
	if !ok || !(strings.HasSuffix(key, "Policy") || strings.HasSuffix(key, "PolicyDocument")) {
		return v
	}
	s = strings.TrimSpace(s)
	// IAM returns policy documents percent-encoded
	if strings.HasPrefix(s, "%7B") {
		if unescaped, err := url.QueryUnescape(s); err == nil {
			s = unescaped
		}
	}
	if !strings.HasPrefix(s, "{") {
		return v
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		return v
	}
	return decoded
}
