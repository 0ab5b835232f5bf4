package model

import (
	"time"

	"github.com/google/uuid"
)

// EntityType discriminates the closed set of known STIX domain object types.
// Unknown types are rejected at create time.
type EntityType string

const (
	EntityTypeObservedData      EntityType = "Observed-Data"
	EntityTypeIndicator         EntityType = "Indicator"
	EntityTypeIdentity          EntityType = "Identity"
	EntityTypeMarkingDefinition EntityType = "Marking-Definition"
	EntityTypeLabel             EntityType = "Label"
	EntityTypeReport            EntityType = "Report"
)

// entitySchemas maps each known type to its required attribute set.
// Attributes outside the required set are allowed (the store is schemaless),
// required ones must be present and non-empty at create time.
var entitySchemas = map[EntityType][]string{
	EntityTypeObservedData:      {"first_observed", "last_observed", "number_observed"},
	EntityTypeIndicator:         {"name", "pattern", "pattern_type", "valid_from"},
	EntityTypeIdentity:          {"name", "identity_class"},
	EntityTypeMarkingDefinition: {"definition_type", "definition"},
	EntityTypeLabel:             {"value", "color"},
	EntityTypeReport:            {"name", "published"},
}

// containerTypes are entity types whose attributes may embed an object_refs
// list of constituent object ids
var containerTypes = map[EntityType]bool{
	EntityTypeObservedData: true,
	EntityTypeReport:       true,
}

// KnownEntityType reports whether t is part of the type catalog
func KnownEntityType(t EntityType) bool {
	_, ok := entitySchemas[t]
	return ok
}

// RequiredFields returns the required attribute names for a known type
func RequiredFields(t EntityType) []string {
	return entitySchemas[t]
}

// IsContainerType reports whether entities of type t may embed object_refs
func IsContainerType(t EntityType) bool {
	return containerTypes[t]
}

// Entity represents a typed STIX domain object in the knowledge graph.
// The id never changes; attributes and relationships are mutable.
type Entity struct {
	ID         uuid.UUID  `json:"internal_id"`
	Type       EntityType `json:"entity_type"`
	Attributes Attributes `json:"attributes,omitempty"`
	CreatedAt  time.Time  `json:"created"`
	UpdatedAt  time.Time  `json:"modified"`
}

// ObjectRefs returns the ids embedded in the entity's object_refs attribute,
// or nil if the entity carries none
func (e *Entity) ObjectRefs() []uuid.UUID {
	raw, ok := e.Attributes["object_refs"]
	if !ok {
		return nil
	}

	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	var refs []uuid.UUID
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			continue
		}
		id, err := uuid.Parse(s)
		if err != nil {
			continue
		}
		refs = append(refs, id)
	}
	return refs
}
