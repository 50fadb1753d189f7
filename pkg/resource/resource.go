// Package resource defines the unified discovery data model.
package resource

import (
	"maps"
	"time"
)

// Account is a cloud account selected into a scope.
type Account struct {
	ID          string `json:"id" yaml:"id"`
	DisplayName string `json:"display_name" yaml:"name"`
	Alias       string `json:"alias,omitempty" yaml:"alias,omitempty"`
	Email       string `json:"email,omitempty" yaml:"email,omitempty"`
}

// Region is a provider region selected into a scope.
type Region struct {
	Code        string `json:"code" yaml:"code"`
	DisplayName string `json:"display_name" yaml:"name"`
}

// Tag is a key/value label attached to a resource.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Entry is a normalized resource as held by the store.
type Entry struct {
	ResourceType  string         `json:"resource_type"`
	AccountID     string         `json:"account_id"`
	Region        string         `json:"region"`
	ResourceID    string         `json:"resource_id"`
	DisplayName   string         `json:"display_name"`
	Status        string         `json:"status,omitempty"`
	Properties    map[string]any `json:"properties"`
	RawProperties map[string]any `json:"raw_properties"`
	Tags          []Tag          `json:"tags"`
	Relationships []Relationship `json:"relationships"`
	QueriedAt     time.Time      `json:"queried_at"`
	EnrichedAt    time.Time      `json:"enriched_at,omitzero"`
}

// Identity returns the merge key of the entry.
func (e Entry) Identity() Identity {
	return Identity{
		AccountID:    e.AccountID,
		Region:       e.Region,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
	}
}

// Key returns the query key that produced the entry.
func (e Entry) Key() QueryKey {
	return e.Identity().Key()
}

// Tag returns the value of the named tag.
func (e Entry) Tag(key string) (string, bool) {
	for _, t := range e.Tags {
		if t.Key == key {
			return t.Value, true
		}
	}
	return "", false
}

// Enriched reports whether detail properties have been merged into the entry.
func (e Entry) Enriched() bool {
	return !e.EnrichedAt.IsZero()
}

// Clone returns a deep copy of the entry. Snapshots hand out clones so callers
// never share mutable maps with the store.
func (e Entry) Clone() Entry {
	c := e
	c.Properties = cloneMap(e.Properties)
	c.RawProperties = cloneMap(e.RawProperties)
	if e.Tags != nil {
		c.Tags = append([]Tag(nil), e.Tags...)
	}
	if e.Relationships != nil {
		c.Relationships = append([]Relationship(nil), e.Relationships...)
	}
	return c
}

// TagMap returns the tags as a map.
func (e Entry) TagMap() map[string]string {
	m := make(map[string]string, len(e.Tags))
	for _, t := range e.Tags {
		m[t.Key] = t.Value
	}
	return m
}

// CloneProperties deep-copies a JSON-shaped property map.
func CloneProperties(m map[string]any) map[string]any {
	return cloneMap(m)
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case map[string]string:
		return maps.Clone(t)
	default:
		return v
	}
}
