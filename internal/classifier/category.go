// Package classifier turns raw query failures into a fixed error taxonomy and
// applies the bounded retry policy attached to each category.
package classifier

import "fmt"

// Category is the closed set of failure classes.
type Category int

const (
	Unknown Category = iota
	NetworkOrDispatch
	ServiceUnavailable
	Throttled
	Timeout
	PermissionDenied
	NotFound
)

var categoryNames = map[Category]string{
	Unknown:            "Unknown",
	NetworkOrDispatch:  "NetworkOrDispatch",
	ServiceUnavailable: "ServiceUnavailable",
	Throttled:          "Throttled",
	Timeout:            "Timeout",
	PermissionDenied:   "PermissionDenied",
	NotFound:           "NotFound",
}

// Categories lists every category in display order.
func Categories() []Category {
	return []Category{Throttled, Timeout, NetworkOrDispatch, ServiceUnavailable, PermissionDenied, NotFound, Unknown}
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// Transient reports whether failures of this category may succeed on retry.
func (c Category) Transient() bool {
	switch c {
	case Throttled, Timeout, NetworkOrDispatch, ServiceUnavailable:
		return true
	default:
		return false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Category) UnmarshalText(b []byte) error {
	parsed, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCategory is the inverse of Category.String.
func ParseCategory(s string) (Category, error) {
	for c, name := range categoryNames {
		if name == s {
			return c, nil
		}
	}
	return Unknown, fmt.Errorf("unknown error category %q", s)
}
