package containment

import (
	"github.com/google/uuid"
	"github.com/stixgraph/stixgraph/model"
)

// EntityGetter resolves an entity by id
type EntityGetter interface {
	SelectEntity(id uuid.UUID) (*model.Entity, error)
}

// EdgeChecker reports whether any edge goes from source to target
type EdgeChecker interface {
	TargetExists(sourceID, targetID uuid.UUID) (bool, error)
}

// Checker answers whether a root entity's relationship neighborhood contains
// a candidate id
type Checker struct {
	entities      EntityGetter
	relationships EdgeChecker
}

// NewChecker creates a new containment checker
func NewChecker(entities EntityGetter, relationships EdgeChecker) *Checker {
	return &Checker{
		entities:      entities,
		relationships: relationships,
	}
}

// Contains reports whether candidateID is the root itself, the target of any
// relationship whose source is the root, or an id embedded in the root's
// object_refs content. A root that does not resolve fails with ErrNotFound
// rather than returning false.
// Deeper containment through nested composites is deliberately not walked.
func (c *Checker) Contains(rootID, candidateID uuid.UUID) (bool, error) {
	root, err := c.entities.SelectEntity(rootID)
	if err != nil {
		return false, err
	}

	if rootID == candidateID {
		return true, nil
	}

	linked, err := c.relationships.TargetExists(rootID, candidateID)
	if err != nil {
		return false, err
	}
	if linked {
		return true, nil
	}

	for _, ref := range root.ObjectRefs() {
		if ref == candidateID {
			return true, nil
		}
	}

	return false, nil
}
