package resource

// RelationshipKind describes how one resource refers to another.
type RelationshipKind string

const (
	RelUses            RelationshipKind = "uses"
	RelContains        RelationshipKind = "contains"
	RelAttachedTo      RelationshipKind = "attached_to"
	RelMemberOf        RelationshipKind = "member_of"
	RelDeployedIn      RelationshipKind = "deployed_in"
	RelProtectedBy     RelationshipKind = "protected_by"
	RelDeadLetterQueue RelationshipKind = "dead_letter_queue"
	RelServesAsDLQ     RelationshipKind = "serves_as_dlq"
)

// Relationship is a directed, non-owning reference to another resource.
// It is used for traversal only and never implies lifetime.
type Relationship struct {
	Kind               RelationshipKind `json:"kind"`
	TargetResourceID   string           `json:"target_resource_id"`
	TargetResourceType string           `json:"target_resource_type"`
}
