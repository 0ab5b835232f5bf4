package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stixgraph/stixgraph/helper"
	"github.com/stixgraph/stixgraph/model"
	loadSql "github.com/stixgraph/stixgraph/sql"
)

// attributeColumns maps attribute names that live in real columns rather
// than the JSONB document
var attributeColumns = map[string]string{
	"entity_type": "e.entity_type",
	"created":     "e.created_at",
	"modified":    "e.updated_at",
	"internal_id": "e.id",
}

// EntitiesDBHandlerFunctions defines the interface for entity database operations.
type EntitiesDBHandlerFunctions interface {
	InsertEntity(entity *model.Entity) error
	SelectEntity(id uuid.UUID) (*model.Entity, error)
	SelectAll(filter model.Filter, ordering *model.Ordering, pagination *model.Pagination) ([]*model.Entity, string, error)
	SelectEntitiesBySearch(searchTerm string, entityType *model.EntityType, limit int) ([]*model.Entity, error)
	PatchEntityFields(id uuid.UUID, replace, add, remove model.Attributes) (*model.Entity, error)
	DeleteEntity(id uuid.UUID) error
}

// EntitiesDBHandler handles entity-related database operations
type EntitiesDBHandler struct {
	db      *helper.Database
	catalog *model.RelationKeyCatalog
}

// NewEntitiesDBHandler creates a new entities database handler.
// It initializes the database connection and loads entity-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewEntitiesDBHandler(db *helper.Database, catalog *model.RelationKeyCatalog, force bool) (*EntitiesDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}
	if catalog == nil {
		return nil, helper.NewError("catalog validation", fmt.Errorf("relation key catalog is nil"))
	}

	entitiesDbHandler := &EntitiesDBHandler{
		db:      db,
		catalog: catalog,
	}

	err := loadSql.LoadEntitiesSql(entitiesDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load entities sql", err)
	}

	err = entitiesDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized EntitiesDBHandler")

	return entitiesDbHandler, nil
}

// CreateTable creates the 'entities' table in the database.
// If the table already exists, it does not create it again.
// It also creates all necessary indexes.
func (h *EntitiesDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_entities();`)
	if err != nil {
		log.Panicf("error initializing entities table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table entities")

	return nil
}

// InsertEntity inserts a new entity and fills in the generated id and timestamps
func (h *EntitiesDBHandler) InsertEntity(entity *model.Entity) error {
	row := h.db.Instance.QueryRow(
		`SELECT * FROM insert_entity($1, $2)`,
		string(entity.Type),
		entity.Attributes,
	)

	err := row.Scan(
		&entity.ID,
		&entity.Type,
		&entity.Attributes,
		&entity.CreatedAt,
		&entity.UpdatedAt,
	)
	if err != nil {
		return helper.StoreError("scan", err)
	}

	return nil
}

// SelectEntity retrieves an entity by ID
func (h *EntitiesDBHandler) SelectEntity(id uuid.UUID) (*model.Entity, error) {
	entity := &model.Entity{}
	row := h.db.Instance.QueryRow(
		`SELECT * FROM select_entity($1)`,
		id,
	)

	err := row.Scan(
		&entity.ID,
		&entity.Type,
		&entity.Attributes,
		&entity.CreatedAt,
		&entity.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, helper.NewError("select entity", helper.ErrNotFound)
	}
	if err != nil {
		return nil, helper.StoreError("scan", err)
	}

	return entity, nil
}

// SelectAll retrieves a page of entities matching the filter conjunction.
// Predicates and ordering may be direct-attribute or relationship-scoped;
// relationship kinds are resolved through the relation key catalog. The scan
// is keyset-paginated with a stable id tie-break and restartable from the
// returned cursor.
func (h *EntitiesDBHandler) SelectAll(filter model.Filter, ordering *model.Ordering, pagination *model.Pagination) ([]*model.Entity, string, error) {
	query, args, err := h.buildSelectAll(filter, ordering, pagination)
	if err != nil {
		return nil, "", err
	}

	rows, err := h.db.Instance.Query(query, args...)
	if err != nil {
		return nil, "", helper.StoreError("query", err)
	}
	defer rows.Close()

	var entities []*model.Entity
	var lastSortValue string
	for rows.Next() {
		entity := &model.Entity{}
		err := rows.Scan(
			&entity.ID,
			&entity.Type,
			&entity.Attributes,
			&entity.CreatedAt,
			&entity.UpdatedAt,
			&lastSortValue,
		)
		if err != nil {
			return nil, "", helper.StoreError("scan", err)
		}

		entities = append(entities, entity)
	}

	err = rows.Err()
	if err != nil {
		return nil, "", helper.StoreError("rows error", err)
	}

	nextCursor := ""
	if pagination != nil && pagination.First > 0 && len(entities) == pagination.First {
		cursor := model.Cursor{
			SortValue: lastSortValue,
			ID:        entities[len(entities)-1].ID,
		}
		nextCursor = cursor.Encode()
	}

	return entities, nextCursor, nil
}

// buildSelectAll assembles the filtered scan. Every caller-supplied value is
// bound as a parameter; the only strings spliced into the statement are
// fixed operator tokens and column names from attributeColumns.
func (h *EntitiesDBHandler) buildSelectAll(filter model.Filter, ordering *model.Ordering, pagination *model.Pagination) (string, []interface{}, error) {
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	for _, predicate := range filter {
		condition, err := h.buildPredicate(predicate, arg)
		if err != nil {
			return "", nil, err
		}
		conditions = append(conditions, condition)
	}

	sortExpr, descending, err := h.buildSortExpr(ordering, arg)
	if err != nil {
		return "", nil, err
	}
	// A NULL sort key (absent attribute, missing relationship) would make the
	// keyset row comparison NULL and the row unreachable past the first page.
	// Coalescing keeps the ordering total; keyless rows group at the empty
	// string end.
	sortExpr = fmt.Sprintf("COALESCE(%s, '')", sortExpr)

	direction := "ASC"
	comparator := ">"
	if descending {
		direction = "DESC"
		comparator = "<"
	}

	limit := 100
	if pagination != nil {
		if pagination.First > 0 {
			limit = pagination.First
		}
		if pagination.After != "" {
			cursor, err := model.DecodeCursor(pagination.After)
			if err != nil {
				return "", nil, helper.NewError("pagination", helper.ErrInvalidFilter)
			}
			conditions = append(conditions, fmt.Sprintf(
				"(%s, e.id::text) %s (%s, %s)",
				sortExpr, comparator, arg(cursor.SortValue), arg(cursor.ID.String()),
			))
		}
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(
		`SELECT e.id, e.entity_type, e.attributes, e.created_at, e.updated_at, %s AS sort_value
		FROM entities e
		%s
		ORDER BY %s %s, e.id ASC
		LIMIT %s`,
		sortExpr, where, sortExpr, direction, arg(limit),
	)

	return query, args, nil
}

// buildPredicate renders one filter condition
func (h *EntitiesDBHandler) buildPredicate(predicate model.Predicate, arg func(interface{}) string) (string, error) {
	if !model.KnownOperator(predicate.Operator) || len(predicate.Values) == 0 {
		return "", helper.NewError("filter predicate", helper.ErrInvalidFilter)
	}
	if (predicate.Attribute == "" && predicate.Relation == "") || (predicate.Attribute != "" && predicate.Relation != "") {
		return "", helper.NewError("filter predicate", helper.ErrInvalidFilter)
	}

	if predicate.Attribute != "" {
		if _, fixed := attributeColumns[predicate.Attribute]; !fixed && rangeOperator(predicate.Operator) && numericValues(predicate.Values) {
			expr := fmt.Sprintf("(e.attributes->>%s)::numeric", arg(predicate.Attribute))
			return h.comparison(expr, predicate.Operator, predicate.Values, arg)
		}
		expr := h.attributeExpr(predicate.Attribute, arg)
		return h.comparison(expr, predicate.Operator, predicate.Values, arg)
	}

	relationType, err := h.catalog.FieldFor(predicate.Relation)
	if err != nil {
		return "", err
	}

	relatedAttribute := predicate.RelatedAttribute
	if relatedAttribute == "" {
		relatedAttribute = "internal_id"
	}

	var targetExpr string
	if column, ok := attributeColumns[relatedAttribute]; ok {
		targetExpr = strings.Replace(column, "e.", "t.", 1) + "::text"
	} else if rangeOperator(predicate.Operator) && numericValues(predicate.Values) {
		targetExpr = fmt.Sprintf("(t.attributes->>%s)::numeric", arg(relatedAttribute))
	} else {
		targetExpr = fmt.Sprintf("t.attributes->>%s", arg(relatedAttribute))
	}

	comparison, err := h.comparison(targetExpr, predicate.Operator, predicate.Values, arg)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(
		`EXISTS (
			SELECT 1 FROM relationships rel
			JOIN entities t ON t.id = rel.target_id
			WHERE rel.source_id = e.id AND rel.relation_type = %s AND %s
		)`,
		arg(relationType), comparison,
	), nil
}

// attributeExpr renders the sortable/filterable text expression for an
// attribute, using real columns where they exist
func (h *EntitiesDBHandler) attributeExpr(attribute string, arg func(interface{}) string) string {
	if column, ok := attributeColumns[attribute]; ok {
		return column + "::text"
	}
	return fmt.Sprintf("e.attributes->>%s", arg(attribute))
}

// rangeOperator reports whether op orders values rather than matching them
func rangeOperator(op model.Operator) bool {
	switch op {
	case model.OperatorGt, model.OperatorGte, model.OperatorLt, model.OperatorLte:
		return true
	}
	return false
}

// numericValues reports whether every value parses as a number
func numericValues(values []string) bool {
	for _, value := range values {
		_, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return false
		}
	}
	return true
}

// comparison renders "expr op value", OR-ing multiple values. Values compare
// with the type of expr: range predicates on JSONB attributes are cast to
// numeric by buildPredicate when all values parse as numbers, everything else
// compares as text. A row holding a non-numeric value in a numerically
// compared attribute fails the query.
func (h *EntitiesDBHandler) comparison(expr string, operator model.Operator, values []string, arg func(interface{}) string) (string, error) {
	var token string
	switch operator {
	case model.OperatorEq:
		token = "="
	case model.OperatorNotEq:
		token = "<>"
	case model.OperatorGt:
		token = ">"
	case model.OperatorGte:
		token = ">="
	case model.OperatorLt:
		token = "<"
	case model.OperatorLte:
		token = "<="
	case model.OperatorMatch:
		token = "ILIKE"
	default:
		return "", helper.NewError("filter operator", helper.ErrInvalidFilter)
	}

	var parts []string
	for _, value := range values {
		if operator == model.OperatorMatch {
			value = "%" + value + "%"
		}
		parts = append(parts, fmt.Sprintf("%s %s %s", expr, token, arg(value)))
	}

	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, " OR ") + ")", nil
}

// buildSortExpr renders the primary sort key expression. Defaults to the
// creation timestamp when no ordering is given. Sort keys always compare as
// text, so numeric attributes order lexicographically.
func (h *EntitiesDBHandler) buildSortExpr(ordering *model.Ordering, arg func(interface{}) string) (string, bool, error) {
	if ordering == nil {
		return "e.created_at::text", false, nil
	}
	if (ordering.Attribute == "" && ordering.Relation == "") || (ordering.Attribute != "" && ordering.Relation != "") {
		return "", false, helper.NewError("ordering", helper.ErrInvalidFilter)
	}

	if ordering.Attribute != "" {
		return h.attributeExpr(ordering.Attribute, arg), ordering.Descending, nil
	}

	relationType, err := h.catalog.FieldFor(ordering.Relation)
	if err != nil {
		return "", false, err
	}

	relatedAttribute := ordering.RelatedAttribute
	if relatedAttribute == "" {
		relatedAttribute = "internal_id"
	}

	var targetExpr string
	if column, ok := attributeColumns[relatedAttribute]; ok {
		targetExpr = strings.Replace(column, "e.", "t.", 1) + "::text"
	} else {
		targetExpr = fmt.Sprintf("t.attributes->>%s", arg(relatedAttribute))
	}

	return fmt.Sprintf(
		`(SELECT min(%s)
		FROM relationships rel
		JOIN entities t ON t.id = rel.target_id
		WHERE rel.source_id = e.id AND rel.relation_type = %s)`,
		targetExpr, arg(relationType),
	), ordering.Descending, nil
}

// SelectEntitiesBySearch searches entities by name, description or value
func (h *EntitiesDBHandler) SelectEntitiesBySearch(searchTerm string, entityType *model.EntityType, limit int) ([]*model.Entity, error) {
	var typeArg interface{}
	if entityType != nil {
		typeArg = string(*entityType)
	}

	rows, err := h.db.Instance.Query(
		`SELECT * FROM search_entities($1, $2, $3)`,
		searchTerm,
		typeArg,
		limit,
	)
	if err != nil {
		return nil, helper.StoreError("query", err)
	}
	defer rows.Close()

	var entities []*model.Entity
	for rows.Next() {
		entity := &model.Entity{}
		err := rows.Scan(
			&entity.ID,
			&entity.Type,
			&entity.Attributes,
			&entity.CreatedAt,
			&entity.UpdatedAt,
		)
		if err != nil {
			return nil, helper.StoreError("scan", err)
		}

		entities = append(entities, entity)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.StoreError("rows error", err)
	}

	return entities, nil
}

// PatchEntityFields applies replace/add-to-set/remove-from-set edits as one
// atomic statement and returns the updated entity
func (h *EntitiesDBHandler) PatchEntityFields(id uuid.UUID, replace, add, remove model.Attributes) (*model.Entity, error) {
	entity := &model.Entity{}
	row := h.db.Instance.QueryRow(
		`SELECT * FROM patch_entity_fields($1, $2, $3, $4)`,
		id,
		nullableAttributes(replace),
		nullableAttributes(add),
		nullableAttributes(remove),
	)

	err := row.Scan(
		&entity.ID,
		&entity.Type,
		&entity.Attributes,
		&entity.CreatedAt,
		&entity.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, helper.NewError("patch entity fields", helper.ErrNotFound)
	}
	if err != nil {
		return nil, helper.StoreError("scan", err)
	}

	return entity, nil
}

// DeleteEntity deletes an entity and cascades all relationships touching it
func (h *EntitiesDBHandler) DeleteEntity(id uuid.UUID) error {
	var deleted int
	err := h.db.Instance.QueryRow(
		`SELECT delete_entity($1)`,
		id,
	).Scan(&deleted)
	if err != nil {
		return helper.StoreError("exec", err)
	}
	if deleted == 0 {
		return helper.NewError("delete entity", helper.ErrNotFound)
	}

	h.db.Logger.Info("Deleted entity", slog.String("entity_id", id.String()))

	return nil
}

// nullableAttributes passes nil through so the SQL side can distinguish an
// absent patch section from an empty one
func nullableAttributes(a model.Attributes) interface{} {
	if a == nil {
		return nil
	}
	return a
}
