package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/stixgraph/stixgraph/helper"
)

// RelationshipKind is the caller-facing name of a relationship edge type.
// The kind names are a stable contract with external clients; renaming one
// is a breaking change.
type RelationshipKind string

const (
	// KindAuthoredBy links an entity to the Identity that created it
	KindAuthoredBy RelationshipKind = "authored-by"
	// KindMarkedBy links an entity to a MarkingDefinition
	KindMarkedBy RelationshipKind = "marked-by"
	// KindLabelledBy links an entity to a Label
	KindLabelledBy RelationshipKind = "labelled-by"
	// KindLinked is the generic link to an arbitrary entity, used for
	// containment checks and aggregation scoping
	KindLinked RelationshipKind = "linked-to"
)

// Relationship is a directed, typed edge between two entities
type Relationship struct {
	ID        uuid.UUID        `json:"id"`
	SourceID  uuid.UUID        `json:"source_id"`
	TargetID  uuid.UUID        `json:"target_id"`
	Kind      RelationshipKind `json:"relationship_kind"`
	Metadata  Attributes       `json:"metadata,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// RelationKeyCatalog maps relationship kinds to the physical relation type
// values stored in the relationships table. All field resolution goes through
// this table, relation field names are never assembled by string
// concatenation.
type RelationKeyCatalog struct {
	fields map[RelationshipKind]string
}

// NewRelationKeyCatalog builds the catalog over the full declared kind set
func NewRelationKeyCatalog() *RelationKeyCatalog {
	return &RelationKeyCatalog{
		fields: map[RelationshipKind]string{
			KindAuthoredBy: "created-by",
			KindMarkedBy:   "object-marking",
			KindLabelledBy: "object-label",
			KindLinked:     "object",
		},
	}
}

// FieldFor resolves a relationship kind to its physical relation type.
// Kinds outside the declared set fail with ErrUnknownRelationshipKind.
func (c *RelationKeyCatalog) FieldFor(kind RelationshipKind) (string, error) {
	field, ok := c.fields[kind]
	if !ok {
		return "", helper.NewError("resolve relationship kind", helper.ErrUnknownRelationshipKind)
	}
	return field, nil
}

// Kinds returns all declared relationship kinds
func (c *RelationKeyCatalog) Kinds() []RelationshipKind {
	kinds := make([]RelationshipKind, 0, len(c.fields))
	for kind := range c.fields {
		kinds = append(kinds, kind)
	}
	return kinds
}
