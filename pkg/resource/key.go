package resource

import (
	"cmp"
	"fmt"
	"strings"
)

// GlobalRegion is the pseudo-region used for account-scoped resource types.
const GlobalRegion = "Global"

// QueryKey identifies one unit of cacheable, retryable work.
type QueryKey struct {
	AccountID    string `json:"account_id"`
	Region       string `json:"region"`
	ResourceType string `json:"resource_type"`
}

// String renders the key as account:region:type.
func (k QueryKey) String() string {
	return k.AccountID + ":" + k.Region + ":" + k.ResourceType
}

// IsGlobal reports whether the key covers an account-scoped resource type.
func (k QueryKey) IsGlobal() bool {
	return k.Region == GlobalRegion
}

// MarshalText implements encoding.TextMarshaler so keys can be map keys in JSON.
func (k QueryKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *QueryKey) UnmarshalText(b []byte) error {
	parsed, err := ParseQueryKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseQueryKey parses account:region:type. The type may contain colons.
func ParseQueryKey(s string) (QueryKey, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return QueryKey{}, fmt.Errorf("invalid query key %q: want account:region:type", s)
	}
	return QueryKey{AccountID: parts[0], Region: parts[1], ResourceType: parts[2]}, nil
}

// CompareKeys orders keys by account, region and type.
func CompareKeys(a, b QueryKey) int {
	if c := cmp.Compare(a.AccountID, b.AccountID); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Region, b.Region); c != 0 {
		return c
	}
	return cmp.Compare(a.ResourceType, b.ResourceType)
}

// Identity is the globally unique merge key of an entry.
type Identity struct {
	AccountID    string `json:"account_id"`
	Region       string `json:"region"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
}

// Key returns the query key owning this identity.
func (i Identity) Key() QueryKey {
	return QueryKey{AccountID: i.AccountID, Region: i.Region, ResourceType: i.ResourceType}
}

func (i Identity) String() string {
	return i.Key().String() + "/" + i.ResourceID
}

// Less orders identities by key then resource id.
func (i Identity) Less(o Identity) bool {
	if c := CompareKeys(i.Key(), o.Key()); c != 0 {
		return c < 0
	}
	return i.ResourceID < o.ResourceID
}
