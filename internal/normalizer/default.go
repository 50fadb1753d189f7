package normalizer

import (
	"slices"
	"strings"

	"github.com/fibanez/aws-dash-architect-sub001/internal/collector"
	"github.com/fibanez/aws-dash-architect-sub001/pkg/resource"
)

// Default applies field-name heuristics that work for most list responses.
type Default struct{}

// Normalize implements Normalizer.
func (Default) Normalize(rec collector.RawRecord, c Context) (resource.Entry, error) {
	d := c.Descriptor
	noun := typeNoun(d.Type)

	id := firstString(rec, d.IDField, "Arn", noun+"Arn", "Id", noun+"Id")
	if id == "" {
		id = suffixString(rec, "Arn")
	}
	if id == "" {
		id = suffixString(rec, "Id")
	}
	if id == "" {
		return resource.Entry{}, ErrNoIdentifier
	}

	tags := extractTags(rec)
	name := firstString(rec, d.NameField, "Name", noun+"Name")
	if name == "" {
		name = tagValue(tags, "Name")
	}
	if name == "" {
		name = suffixString(rec, "Name")
	}
	if name == "" {
		name = id
	}

	raw := resource.CloneProperties(rec)
	props := resource.CloneProperties(rec)
	props["id"] = id
	props["name"] = name
	if arn := firstString(rec, "Arn", noun+"Arn"); arn != "" {
		props["arn"] = arn
	} else if strings.HasPrefix(id, "arn:") {
		props["arn"] = id
	}
	if created := firstString(rec, "CreateDate", "CreationDate", "LaunchTime", "CreatedAt", "CreatedTime", "CreationTime", "CreateTime"); created != "" {
		props["created_date"] = created
	}

	return resource.Entry{
		ResourceType:  d.Type,
		AccountID:     c.AccountID,
		Region:        c.Region,
		ResourceID:    id,
		DisplayName:   name,
		Status:        extractStatus(rec, noun),
		Properties:    props,
		RawProperties: raw,
		Tags:          tags,
		Relationships: Relationships(d.Type, rec),
		QueriedAt:     c.QueriedAt,
	}, nil
}

// typeNoun returns the last segment of AWS::Service::Noun.
func typeNoun(resourceType string) string {
	if i := strings.LastIndex(resourceType, "::"); i >= 0 {
		return resourceType[i+2:]
	}
	return resourceType
}

func firstString(rec map[string]any, fields ...string) string {
	for _, f := range fields {
		if f == "" {
			continue
		}
		if s, ok := lookup(rec, f).(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// suffixString returns the first non-empty string field whose name ends in
// suffix, scanning fields in sorted order.
func suffixString(rec map[string]any, suffix string) string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		if strings.HasSuffix(k, suffix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		if s, ok := rec[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func extractStatus(rec map[string]any, noun string) string {
	switch v := rec["State"].(type) {
	case string:
		if v != "" {
			return v
		}
	case map[string]any:
		if s := firstString(v, "Name", "Code", "Status"); s != "" {
			return s
		}
	}
	if s := firstString(rec, "Status", noun+"Status"); s != "" {
		return s
	}
	if m, ok := rec["Status"].(map[string]any); ok {
		if s := firstString(m, "Name", "Code", "State"); s != "" {
			return s
		}
	}
	return suffixString(rec, "Status")
}

func extractTags(rec map[string]any) []resource.Tag {
	for _, field := range []string{"Tags", "TagList", "tags", "TagSet"} {
		v, ok := rec[field]
		if !ok {
			continue
		}
		if tags := toTags(v); len(tags) > 0 {
			return tags
		}
	}
	return nil
}

func toTags(v any) []resource.Tag {
	var tags []resource.Tag
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			key := firstString(m, "Key", "key", "TagKey")
			if key == "" {
				continue
			}
			val, _ := firstNonNil(m, "Value", "value", "TagValue").(string)
			tags = append(tags, resource.Tag{Key: key, Value: val})
		}
	case map[string]any:
		for k, val := range t {
			s, _ := val.(string)
			tags = append(tags, resource.Tag{Key: k, Value: s})
		}
	}
	slices.SortFunc(tags, func(a, b resource.Tag) int { return strings.Compare(a.Key, b.Key) })
	return tags
}

func tagValue(tags []resource.Tag, key string) string {
	for _, t := range tags {
		if t.Key == key {
			return t.Value
		}
	}
	return ""
}

func firstNonNil(m map[string]any, fields ...string) any {
	for _, f := range fields {
		if v, ok := m[f]; ok && v != nil {
			return v
		}
	}
	return nil
}

// lookup resolves a dotted path such as "DBSubnetGroup.VpcId".
func lookup(rec map[string]any, path string) any {
	var cur any = rec
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}
