package stixgraph

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/stixgraph/stixgraph/core/aggregation"
	"github.com/stixgraph/stixgraph/core/containment"
	"github.com/stixgraph/stixgraph/core/editctx"
	"github.com/stixgraph/stixgraph/core/mutation"
	"github.com/stixgraph/stixgraph/database"
	"github.com/stixgraph/stixgraph/helper"
	"github.com/stixgraph/stixgraph/model"
	loadSql "github.com/stixgraph/stixgraph/sql"
)

// defaultEditContextTTL evicts edit contexts whose owner went silent
const defaultEditContextTTL = 10 * time.Minute

// Graph provides a unified interface to the knowledge-graph engine: entity
// reads, relationship-scoped aggregations, containment checks, mutations and
// the collaborative edit-context registry. It is the only surface exposed to
// callers.
type Graph struct {
	DB            *helper.Database
	Catalog       *model.RelationKeyCatalog
	Entities      *database.EntitiesDBHandler
	Relationships *database.RelationshipsDBHandler
	Aggregations  *database.AggregationsDBHandler
	Engine        *aggregation.Engine
	Containment   *containment.Checker
	EditContexts  *editctx.Tracker
	Mutator       *mutation.Mutator
	// Logging
	log *slog.Logger
}

// New creates a Graph instance with all handlers initialized. The authorizer
// is the external collaborator consulted for every mutation capability.
func New(config *helper.DatabaseConfiguration, authorizer mutation.Authorizer) (*Graph, error) {
	// Logger
	opts := helper.PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{
			Level: slog.LevelInfo,
		},
	}
	logger := slog.New(helper.NewPrettyHandler(os.Stdout, opts))

	// Initialize database
	db := helper.NewDatabase("stixgraph", config, logger)
	err := loadSql.Init(db.Instance)
	if err != nil {
		return nil, helper.NewError("initialize database extensions", err)
	}

	catalog := model.NewRelationKeyCatalog()

	// Create all handlers, entities first so the relationship and
	// aggregation functions can reference the table
	// force=false to not reload if functions already exist
	entities, err := database.NewEntitiesDBHandler(db, catalog, false)
	if err != nil {
		return nil, helper.NewError("create entities handler", err)
	}

	relationships, err := database.NewRelationshipsDBHandler(db, catalog, false)
	if err != nil {
		return nil, helper.NewError("create relationships handler", err)
	}

	aggregations, err := database.NewAggregationsDBHandler(db, false)
	if err != nil {
		return nil, helper.NewError("create aggregations handler", err)
	}

	if authorizer == nil {
		authorizer = mutation.AllowAll{}
	}

	return &Graph{
		DB:            db,
		Catalog:       catalog,
		Entities:      entities,
		Relationships: relationships,
		Aggregations:  aggregations,
		Engine:        aggregation.NewEngine(aggregations, catalog),
		Containment:   containment.NewChecker(entities, relationships),
		EditContexts:  editctx.NewTracker(nil, defaultEditContextTTL),
		Mutator:       mutation.NewMutator(entities, relationships, authorizer, logger),
		log:           logger,
	}, nil
}

// Close closes the database connection
func (g *Graph) Close() error {
	if g.DB != nil && g.DB.Instance != nil {
		return g.DB.Instance.Close()
	}
	return nil
}

// Get resolves a single entity by id
func (g *Graph) Get(id uuid.UUID) (*model.Entity, error) {
	return g.Entities.SelectEntity(id)
}

// List returns a page of entities matching the filter, with the cursor to
// resume the scan
func (g *Graph) List(filter model.Filter, ordering *model.Ordering, pagination *model.Pagination) ([]*model.Entity, string, error) {
	return g.Entities.SelectAll(filter, ordering, pagination)
}

// Search finds entities whose name, description or value matches the term
func (g *Graph) Search(term string, entityType *model.EntityType, limit int) ([]*model.Entity, error) {
	return g.Entities.SelectEntitiesBySearch(term, entityType, limit)
}

// Count counts entities of a type, optionally as of a cutoff date and
// optionally scoped to the generic-link neighborhood of scope
func (g *Graph) Count(entityType *model.EntityType, endDate *time.Time, scope *uuid.UUID) (*model.EntityCount, error) {
	return g.Engine.NumberOf(entityType, endDate, scope)
}

// TimeSeries returns a dense calendar histogram of entity creation
func (g *Graph) TimeSeries(entityType *model.EntityType, opts model.TimeSeriesOptions) ([]*model.Bucket, error) {
	return g.Engine.TimeSeries(entityType, opts)
}

// Distribution groups entities around scope by the related entity reached
// via groupBy
func (g *Graph) Distribution(entityType *model.EntityType, scope *uuid.UUID, groupBy model.RelationshipKind) ([]*model.Bucket, error) {
	return g.Engine.Distribution(entityType, scope, groupBy)
}

// Contains reports whether the root entity's neighborhood includes the
// candidate id
func (g *Graph) Contains(rootID, candidateID uuid.UUID) (bool, error) {
	return g.Containment.Contains(rootID, candidateID)
}

// Create validates and stores a new entity
func (g *Graph) Create(ctx context.Context, principal model.Principal, entityType model.EntityType, attributes model.Attributes) (*model.Entity, error) {
	return g.Mutator.Create(ctx, principal, entityType, attributes)
}

// Delete removes an entity, cascades its relationships and drops any edit
// contexts held on it
func (g *Graph) Delete(ctx context.Context, principal model.Principal, id uuid.UUID) error {
	err := g.Mutator.DeleteEntity(ctx, principal, id)
	if err != nil {
		return err
	}
	g.EditContexts.ClearEntity(id)
	return nil
}

// PatchFields applies field edits to an entity
func (g *Graph) PatchFields(ctx context.Context, principal model.Principal, id uuid.UUID, changes []model.FieldChange) (*model.Entity, error) {
	return g.Mutator.PatchFields(ctx, principal, id, changes)
}

// AddRelationship creates an edge from an entity to a target
func (g *Graph) AddRelationship(ctx context.Context, principal model.Principal, sourceID uuid.UUID, kind model.RelationshipKind, targetID uuid.UUID, metadata model.Attributes) (*model.Relationship, error) {
	return g.Mutator.AddRelationship(ctx, principal, sourceID, kind, targetID, metadata)
}

// RemoveRelationship deletes an edge
func (g *Graph) RemoveRelationship(ctx context.Context, principal model.Principal, sourceID, targetID uuid.UUID, kind model.RelationshipKind) error {
	return g.Mutator.RemoveRelationship(ctx, principal, sourceID, targetID, kind)
}

// SetEditContext records that the principal is editing a field. Advisory
// only, it never blocks a concurrent patch.
func (g *Graph) SetEditContext(principal model.Principal, id uuid.UUID, field string) {
	g.EditContexts.SetContext(id, field, principal.ID)
}

// ClearEditContext removes every context the principal holds on the entity
func (g *Graph) ClearEditContext(principal model.Principal, id uuid.UUID) {
	g.EditContexts.ClearContexts(id, principal.ID)
}

// ListEditContexts returns who is currently editing which field of the entity
func (g *Graph) ListEditContexts(id uuid.UUID) []*model.EditContext {
	return g.EditContexts.ListContexts(id)
}
