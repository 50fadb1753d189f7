package store

import (
	"encoding/json"
	"maps"
	"reflect"
	"slices"

	"github.com/fibanez/aws-dash-architect-sub001/pkg/resource"
)

// diffEntries compares two versions of an entry field by field.
// QueriedAt and EnrichedAt are excluded as they change on every query.
func diffEntries(prev, curr resource.Entry) map[string]resource.FieldChange {
	changes := make(map[string]resource.FieldChange)

	if prev.DisplayName != curr.DisplayName {
		changes["name"] = resource.FieldChange{Previous: prev.DisplayName, Current: curr.DisplayName}
	}

	if prev.Status != curr.Status {
		changes["status"] = resource.FieldChange{Previous: prev.Status, Current: curr.Status}
	}

	if !maps.Equal(prev.TagMap(), curr.TagMap()) {
		changes["tags"] = resource.FieldChange{
			Previous: toJSON(prev.TagMap()),
			Current:  toJSON(curr.TagMap()),
		}
	}

	if !reflect.DeepEqual(prev.Properties, curr.Properties) {
		changes["properties"] = resource.FieldChange{
			Previous: toJSON(changedKeys(prev.Properties, curr.Properties, prev.Properties)),
			Current:  toJSON(changedKeys(prev.Properties, curr.Properties, curr.Properties)),
		}
	}

	if !slices.Equal(prev.Relationships, curr.Relationships) {
		changes["relationships"] = resource.FieldChange{
			Previous: toJSON(prev.Relationships),
			Current:  toJSON(curr.Relationships),
		}
	}

	return changes
}

// changedKeys projects from onto the top-level keys that differ between a
// and b, so a property diff stays readable for large payloads.
func changedKeys(a, b, from map[string]any) map[string]any {
	out := make(map[string]any)
	for k := range a {
		if !reflect.DeepEqual(a[k], b[k]) {
			if v, ok := from[k]; ok {
				out[k] = v
			}
		}
	}
	for k := range b {
		if _, seen := a[k]; !seen {
			if v, ok := from[k]; ok {
				out[k] = v
			}
		}
	}
	return out
}

// toJSON renders a value deterministically for comparison output.
func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
