package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/stixgraph/stixgraph/helper"
	"github.com/stixgraph/stixgraph/model"
	loadSql "github.com/stixgraph/stixgraph/sql"
)

// RelationshipsDBHandlerFunctions defines the interface for relationship database operations.
type RelationshipsDBHandlerFunctions interface {
	InsertRelationship(relationship *model.Relationship) error
	SelectRelationship(sourceID uuid.UUID, kind model.RelationshipKind, targetID uuid.UUID) (*model.Relationship, error)
	SelectRelationshipsFrom(sourceID uuid.UUID, kind *model.RelationshipKind) ([]*model.Relationship, error)
	SelectRelationshipsTo(targetID uuid.UUID, kind *model.RelationshipKind) ([]*model.Relationship, error)
	DeleteRelationship(sourceID, targetID uuid.UUID, kind model.RelationshipKind) error
	TargetExists(sourceID, targetID uuid.UUID) (bool, error)
}

// RelationshipsDBHandler handles relationship-related database operations
type RelationshipsDBHandler struct {
	db      *helper.Database
	catalog *model.RelationKeyCatalog
}

// NewRelationshipsDBHandler creates a new relationships database handler.
// It initializes the database connection and loads relationship-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewRelationshipsDBHandler(db *helper.Database, catalog *model.RelationKeyCatalog, force bool) (*RelationshipsDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}
	if catalog == nil {
		return nil, helper.NewError("catalog validation", fmt.Errorf("relation key catalog is nil"))
	}

	relationshipsDbHandler := &RelationshipsDBHandler{
		db:      db,
		catalog: catalog,
	}

	err := loadSql.LoadRelationshipsSql(relationshipsDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load relationships sql", err)
	}

	err = relationshipsDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized RelationshipsDBHandler")

	return relationshipsDbHandler, nil
}

// CreateTable creates the 'relationships' table in the database.
// If the table already exists, it does not create it again.
// It also creates all necessary indexes.
func (h *RelationshipsDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_relationships();`)
	if err != nil {
		log.Panicf("error initializing relationships table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table relationships")

	return nil
}

// InsertRelationship inserts an edge. Inserting an identical existing edge is
// a no-op that returns the existing edge.
func (h *RelationshipsDBHandler) InsertRelationship(relationship *model.Relationship) error {
	relationType, err := h.catalog.FieldFor(relationship.Kind)
	if err != nil {
		return err
	}

	row := h.db.Instance.QueryRow(
		`SELECT * FROM insert_relationship($1, $2, $3, $4)`,
		relationship.SourceID,
		relationship.TargetID,
		relationType,
		relationship.Metadata,
	)

	var storedType string
	err = row.Scan(
		&relationship.ID,
		&relationship.SourceID,
		&relationship.TargetID,
		&storedType,
		&relationship.Metadata,
		&relationship.CreatedAt,
	)
	if err != nil {
		return helper.StoreError("scan", err)
	}

	return nil
}

// SelectRelationship retrieves a single edge by its endpoints and kind
func (h *RelationshipsDBHandler) SelectRelationship(sourceID uuid.UUID, kind model.RelationshipKind, targetID uuid.UUID) (*model.Relationship, error) {
	relationType, err := h.catalog.FieldFor(kind)
	if err != nil {
		return nil, err
	}

	relationship := &model.Relationship{Kind: kind}
	row := h.db.Instance.QueryRow(
		`SELECT * FROM select_relationship($1, $2, $3)`,
		sourceID,
		relationType,
		targetID,
	)

	var storedType string
	err = row.Scan(
		&relationship.ID,
		&relationship.SourceID,
		&relationship.TargetID,
		&storedType,
		&relationship.Metadata,
		&relationship.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, helper.NewError("select relationship", helper.ErrNotFound)
	}
	if err != nil {
		return nil, helper.StoreError("scan", err)
	}

	return relationship, nil
}

// SelectRelationshipsFrom retrieves all edges whose source is the given id,
// optionally restricted to one kind
func (h *RelationshipsDBHandler) SelectRelationshipsFrom(sourceID uuid.UUID, kind *model.RelationshipKind) ([]*model.Relationship, error) {
	relationType, err := h.optionalRelationType(kind)
	if err != nil {
		return nil, err
	}

	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_relationships_from($1, $2)`,
		sourceID,
		relationType,
	)
	if err != nil {
		return nil, helper.StoreError("query", err)
	}
	defer rows.Close()

	return h.scanRelationships(rows)
}

// SelectRelationshipsTo retrieves all edges whose target is the given id,
// optionally restricted to one kind
func (h *RelationshipsDBHandler) SelectRelationshipsTo(targetID uuid.UUID, kind *model.RelationshipKind) ([]*model.Relationship, error) {
	relationType, err := h.optionalRelationType(kind)
	if err != nil {
		return nil, err
	}

	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_relationships_to($1, $2)`,
		targetID,
		relationType,
	)
	if err != nil {
		return nil, helper.StoreError("query", err)
	}
	defer rows.Close()

	return h.scanRelationships(rows)
}

// DeleteRelationship removes one edge. A missing edge is ErrNotFound.
func (h *RelationshipsDBHandler) DeleteRelationship(sourceID, targetID uuid.UUID, kind model.RelationshipKind) error {
	relationType, err := h.catalog.FieldFor(kind)
	if err != nil {
		return err
	}

	var deleted int
	err = h.db.Instance.QueryRow(
		`SELECT delete_relationship($1, $2, $3)`,
		sourceID,
		targetID,
		relationType,
	).Scan(&deleted)
	if err != nil {
		return helper.StoreError("exec", err)
	}
	if deleted == 0 {
		return helper.NewError("delete relationship", helper.ErrNotFound)
	}

	return nil
}

// TargetExists reports whether any edge of any kind goes from source to target
func (h *RelationshipsDBHandler) TargetExists(sourceID, targetID uuid.UUID) (bool, error) {
	var exists bool
	err := h.db.Instance.QueryRow(
		`SELECT relationship_target_exists($1, $2)`,
		sourceID,
		targetID,
	).Scan(&exists)
	if err != nil {
		return false, helper.StoreError("exec", err)
	}
	return exists, nil
}

// optionalRelationType resolves an optional kind filter to its stored type
func (h *RelationshipsDBHandler) optionalRelationType(kind *model.RelationshipKind) (interface{}, error) {
	if kind == nil {
		return nil, nil
	}
	relationType, err := h.catalog.FieldFor(*kind)
	if err != nil {
		return nil, err
	}
	return relationType, nil
}

// scanRelationships reads all rows into relationships, translating the
// stored relation type back into its caller-facing kind
func (h *RelationshipsDBHandler) scanRelationships(rows *sql.Rows) ([]*model.Relationship, error) {
	kindsByType := make(map[string]model.RelationshipKind)
	for _, kind := range h.catalog.Kinds() {
		relationType, err := h.catalog.FieldFor(kind)
		if err != nil {
			return nil, err
		}
		kindsByType[relationType] = kind
	}

	var relationships []*model.Relationship
	for rows.Next() {
		relationship := &model.Relationship{}
		var storedType string
		err := rows.Scan(
			&relationship.ID,
			&relationship.SourceID,
			&relationship.TargetID,
			&storedType,
			&relationship.Metadata,
			&relationship.CreatedAt,
		)
		if err != nil {
			return nil, helper.StoreError("scan", err)
		}

		relationship.Kind = kindsByType[storedType]
		relationships = append(relationships, relationship)
	}

	err := rows.Err()
	if err != nil {
		return nil, helper.StoreError("rows error", err)
	}

	return relationships, nil
}
