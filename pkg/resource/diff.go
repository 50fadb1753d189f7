package resource

// ChangeType represents the type of change detected by the store.
type ChangeType string

const (
	// ChangeAdded indicates a resource appeared in the store.
	ChangeAdded ChangeType = "added"
	// ChangeRemoved indicates a resource left the store.
	ChangeRemoved ChangeType = "removed"
	// ChangeModified indicates a resource's content fingerprint changed.
	ChangeModified ChangeType = "modified"
)

// FieldChange represents a single field change.
// The field name is the map key in Change.Fields.
type FieldChange struct {
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

// Change is the notification emitted when an entry's fingerprint changes.
type Change struct {
	Type        ChangeType             `json:"type"`
	Identity    Identity               `json:"identity"`
	Fingerprint uint64                 `json:"fingerprint"`
	Entry       *Entry                 `json:"entry,omitempty"`  // nil for removals
	Fields      map[string]FieldChange `json:"fields,omitempty"` // modified only
}

// Key returns the query key the change belongs to.
func (c Change) Key() QueryKey {
	return c.Identity.Key()
}
