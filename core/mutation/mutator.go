package mutation

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/stixgraph/stixgraph/database"
	"github.com/stixgraph/stixgraph/helper"
	"github.com/stixgraph/stixgraph/model"
)

// Authorizer is the external authorization collaborator. The engine never
// authenticates principals, it only asks whether a capability is granted.
type Authorizer interface {
	Allows(ctx context.Context, principal model.Principal, capability model.Capability) (bool, error)
}

// AllowAll grants every capability; useful for tests and single-user setups
type AllowAll struct{}

// Allows always grants
func (AllowAll) Allows(ctx context.Context, principal model.Principal, capability model.Capability) (bool, error) {
	return true, nil
}

// kindTargetTypes constrains the target entity type per relationship kind.
// The generic link is absent here and accepts any target.
var kindTargetTypes = map[model.RelationshipKind]model.EntityType{
	model.KindAuthoredBy: model.EntityTypeIdentity,
	model.KindMarkedBy:   model.EntityTypeMarkingDefinition,
	model.KindLabelledBy: model.EntityTypeLabel,
}

// Mutator applies entity and relationship mutations. Each mutation is
// atomic: the store is left untouched when any part of it fails. The
// authorization check runs before any existence lookup, so a denial never
// reveals whether the entity exists.
type Mutator struct {
	entities      *database.EntitiesDBHandler
	relationships *database.RelationshipsDBHandler
	authorizer    Authorizer
	log           *slog.Logger
}

// NewMutator creates a new entity mutator
func NewMutator(entities *database.EntitiesDBHandler, relationships *database.RelationshipsDBHandler, authorizer Authorizer, log *slog.Logger) *Mutator {
	return &Mutator{
		entities:      entities,
		relationships: relationships,
		authorizer:    authorizer,
		log:           log,
	}
}

// Create validates the input against the type catalog, assigns a new id and
// timestamps, and stores the entity
func (m *Mutator) Create(ctx context.Context, principal model.Principal, entityType model.EntityType, attributes model.Attributes) (*model.Entity, error) {
	err := m.authorize(ctx, principal, model.CapabilityKnowledgeCreate)
	if err != nil {
		return nil, err
	}

	if validationErr := model.ValidateCreate(entityType, attributes); validationErr != nil {
		return nil, validationErr
	}

	entity := &model.Entity{
		Type:       entityType,
		Attributes: attributes,
	}
	err = m.entities.InsertEntity(entity)
	if err != nil {
		return nil, err
	}

	m.log.Info("Created entity",
		slog.String("entity_id", entity.ID.String()),
		slog.String("entity_type", string(entityType)),
		slog.String("principal", principal.ID),
	)

	return entity, nil
}

// DeleteEntity removes an entity together with every relationship where it
// is source or target, as one atomic unit. No dangling edges survive.
func (m *Mutator) DeleteEntity(ctx context.Context, principal model.Principal, id uuid.UUID) error {
	err := m.authorize(ctx, principal, model.CapabilityKnowledgeDelete)
	if err != nil {
		return err
	}

	err = m.entities.DeleteEntity(id)
	if err != nil {
		return err
	}

	m.log.Info("Deleted entity",
		slog.String("entity_id", id.String()),
		slog.String("principal", principal.ID),
	)

	return nil
}

// PatchFields applies a set of field edits in one atomic statement. The
// modified timestamp is bumped. Concurrent patches resolve last-write-wins
// per field; edit contexts never block them.
func (m *Mutator) PatchFields(ctx context.Context, principal model.Principal, id uuid.UUID, changes []model.FieldChange) (*model.Entity, error) {
	err := m.authorize(ctx, principal, model.CapabilityKnowledgeUpdate)
	if err != nil {
		return nil, err
	}

	replace, add, remove, validationErr := splitChanges(changes)
	if validationErr != nil {
		return nil, validationErr
	}

	entity, err := m.entities.PatchEntityFields(id, replace, add, remove)
	if err != nil {
		return nil, err
	}

	m.log.Info("Patched entity fields",
		slog.String("entity_id", id.String()),
		slog.Int("changes", len(changes)),
		slog.String("principal", principal.ID),
	)

	return entity, nil
}

// AddRelationship creates a directed edge after checking both endpoints
// exist and the kind fits the target type. Adding an identical existing edge
// is a no-op returning the existing edge.
func (m *Mutator) AddRelationship(ctx context.Context, principal model.Principal, sourceID uuid.UUID, kind model.RelationshipKind, targetID uuid.UUID, metadata model.Attributes) (*model.Relationship, error) {
	err := m.authorize(ctx, principal, model.CapabilityKnowledgeUpdate)
	if err != nil {
		return nil, err
	}

	_, err = m.entities.SelectEntity(sourceID)
	if err != nil {
		return nil, err
	}
	target, err := m.entities.SelectEntity(targetID)
	if err != nil {
		return nil, err
	}

	if expectedType, constrained := kindTargetTypes[kind]; constrained && target.Type != expectedType {
		return nil, &model.ValidationError{
			Fields: []string{"target_id"},
			Reason: "relationship kind " + string(kind) + " requires a " + string(expectedType) + " target",
		}
	}

	relationship := &model.Relationship{
		SourceID: sourceID,
		TargetID: targetID,
		Kind:     kind,
		Metadata: metadata,
	}
	err = m.relationships.InsertRelationship(relationship)
	if err != nil {
		return nil, err
	}

	m.log.Info("Added relationship",
		slog.String("source_id", sourceID.String()),
		slog.String("kind", string(kind)),
		slog.String("target_id", targetID.String()),
		slog.String("principal", principal.ID),
	)

	return relationship, nil
}

// RemoveRelationship deletes one edge. A missing edge fails with ErrNotFound,
// which callers treat as already satisfied.
func (m *Mutator) RemoveRelationship(ctx context.Context, principal model.Principal, sourceID, targetID uuid.UUID, kind model.RelationshipKind) error {
	err := m.authorize(ctx, principal, model.CapabilityKnowledgeUpdate)
	if err != nil {
		return err
	}

	err = m.relationships.DeleteRelationship(sourceID, targetID, kind)
	if err != nil {
		return err
	}

	m.log.Info("Removed relationship",
		slog.String("source_id", sourceID.String()),
		slog.String("kind", string(kind)),
		slog.String("target_id", targetID.String()),
		slog.String("principal", principal.ID),
	)

	return nil
}

// authorize consults the external authorizer and maps denial to ErrForbidden
func (m *Mutator) authorize(ctx context.Context, principal model.Principal, capability model.Capability) error {
	allowed, err := m.authorizer.Allows(ctx, principal, capability)
	if err != nil {
		return helper.NewError("authorize", err)
	}
	if !allowed {
		return helper.NewError("authorize", helper.ErrForbidden)
	}
	return nil
}

// splitChanges groups field changes by operation into the three patch
// sections. Set operations wrap scalar values into single-element lists.
func splitChanges(changes []model.FieldChange) (replace, add, remove model.Attributes, validationErr *model.ValidationError) {
	if len(changes) == 0 {
		return nil, nil, nil, &model.ValidationError{
			Fields: []string{"changes"},
			Reason: "empty field patch",
		}
	}

	for _, change := range changes {
		if change.Field == "" {
			return nil, nil, nil, &model.ValidationError{
				Fields: []string{"field"},
				Reason: "empty field name",
			}
		}
		if change.Field == "internal_id" || change.Field == "entity_type" {
			return nil, nil, nil, &model.ValidationError{
				Fields: []string{change.Field},
				Reason: "field is immutable",
			}
		}
		if !model.KnownPatchOperation(change.Operation) {
			return nil, nil, nil, &model.ValidationError{
				Fields: []string{change.Field},
				Reason: "unknown patch operation " + string(change.Operation),
			}
		}

		switch change.Operation {
		case model.PatchReplace:
			if replace == nil {
				replace = model.Attributes{}
			}
			replace[change.Field] = change.Value
		case model.PatchAddToSet:
			if add == nil {
				add = model.Attributes{}
			}
			add[change.Field] = asList(change.Value)
		case model.PatchRemoveFromSet:
			if remove == nil {
				remove = model.Attributes{}
			}
			remove[change.Field] = asList(change.Value)
		}
	}

	return replace, add, remove, nil
}

func asList(value interface{}) []interface{} {
	if list, ok := value.([]interface{}); ok {
		return list
	}
	return []interface{}{value}
}
