package model

import (
	"time"

	"github.com/google/uuid"
)

// Principal is the opaque acting user supplied by the external
// authentication collaborator. The engine never authenticates it.
type Principal struct {
	ID string `json:"id"`
}

// Capability names an action a principal may be authorized for. The check
// itself is delegated to an external Authorizer.
type Capability string

const (
	CapabilityKnowledgeCreate Capability = "knowledge-create"
	CapabilityKnowledgeUpdate Capability = "knowledge-update"
	CapabilityKnowledgeDelete Capability = "knowledge-delete"
)

// EditContext is the advisory record of a principal currently editing a
// field of an entity. It is a UI hint only and never blocks writes.
type EditContext struct {
	EntityID  uuid.UUID `json:"entity_id"`
	Field     string    `json:"field"`
	Principal string    `json:"principal_id"`
	UpdatedAt time.Time `json:"updated_at"`
}
