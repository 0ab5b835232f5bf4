package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/stixgraph/stixgraph/helper"
	"github.com/stixgraph/stixgraph/model"
	loadSql "github.com/stixgraph/stixgraph/sql"
)

// AggregationsDBHandlerFunctions defines the interface for aggregation database operations.
type AggregationsDBHandlerFunctions interface {
	CountEntities(entityType *model.EntityType, endDate *time.Time, scopeRelation string, scope *uuid.UUID) (*model.EntityCount, error)
	TimeSeriesEntities(entityType *model.EntityType, interval model.Interval, start, end time.Time, scopeRelation string, scope *uuid.UUID) ([]*model.Bucket, error)
	DistributionEntities(entityType *model.EntityType, groupRelation string, scope uuid.UUID) ([]*model.Bucket, error)
}

// AggregationsDBHandler handles aggregation queries over entities and their
// relationship neighborhood
type AggregationsDBHandler struct {
	db *helper.Database
}

// NewAggregationsDBHandler creates a new aggregations database handler.
// It loads the aggregation SQL functions and supporting indexes.
// If force is true, it will reload the SQL functions even if they already exist.
func NewAggregationsDBHandler(db *helper.Database, force bool) (*AggregationsDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	aggregationsDbHandler := &AggregationsDBHandler{
		db: db,
	}

	err := loadSql.LoadAggregationsSql(aggregationsDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load aggregations sql", err)
	}

	err = aggregationsDbHandler.CreateIndexes()
	if err != nil {
		return nil, helper.NewError("create indexes", err)
	}

	db.Logger.Info("Initialized AggregationsDBHandler")

	return aggregationsDbHandler, nil
}

// CreateIndexes creates the composite indexes serving the aggregation joins
func (h *AggregationsDBHandler) CreateIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_aggregations();`)
	if err != nil {
		log.Panicf("error initializing aggregation indexes: %#v", err)
	}

	h.db.Logger.Info("Checked/created aggregation indexes")

	return nil
}

// CountEntities counts entities of a type, total and as of the cutoff date.
// A non-nil scope restricts both counts to entities with an edge of
// scopeRelation pointing at the scope id.
func (h *AggregationsDBHandler) CountEntities(entityType *model.EntityType, endDate *time.Time, scopeRelation string, scope *uuid.UUID) (*model.EntityCount, error) {
	count := &model.EntityCount{}
	err := h.db.Instance.QueryRow(
		`SELECT * FROM count_entities($1, $2, $3, $4)`,
		nullableType(entityType),
		nullableTime(endDate),
		nullableString(scopeRelation),
		nullableUUID(scope),
	).Scan(&count.Total, &count.TotalAtDate)
	if err != nil {
		return nil, helper.StoreError("scan", err)
	}

	return count, nil
}

// TimeSeriesEntities returns a dense ascending histogram of entity creation
// timestamps, one bucket per calendar interval in range including zero-count
// intervals
func (h *AggregationsDBHandler) TimeSeriesEntities(entityType *model.EntityType, interval model.Interval, start, end time.Time, scopeRelation string, scope *uuid.UUID) ([]*model.Bucket, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM time_series_entities($1, $2, $3, $4, $5, $6)`,
		nullableType(entityType),
		string(interval),
		start,
		end,
		nullableString(scopeRelation),
		nullableUUID(scope),
	)
	if err != nil {
		return nil, helper.StoreError("query", err)
	}
	defer rows.Close()

	var buckets []*model.Bucket
	for rows.Next() {
		var bucketTime time.Time
		bucket := &model.Bucket{}
		err := rows.Scan(&bucketTime, &bucket.Count)
		if err != nil {
			return nil, helper.StoreError("scan", err)
		}

		bucket.Key = bucketTime.UTC().Format(time.RFC3339)
		buckets = append(buckets, bucket)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.StoreError("rows error", err)
	}

	return buckets, nil
}

// DistributionEntities groups entities related to the scope id by the id of
// the entity reached through groupRelation
func (h *AggregationsDBHandler) DistributionEntities(entityType *model.EntityType, groupRelation string, scope uuid.UUID) ([]*model.Bucket, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM distribution_entities($1, $2, $3)`,
		nullableType(entityType),
		groupRelation,
		scope,
	)
	if err != nil {
		return nil, helper.StoreError("query", err)
	}
	defer rows.Close()

	var buckets []*model.Bucket
	for rows.Next() {
		var key uuid.UUID
		bucket := &model.Bucket{}
		err := rows.Scan(&key, &bucket.Count)
		if err != nil {
			return nil, helper.StoreError("scan", err)
		}

		bucket.Key = key.String()
		buckets = append(buckets, bucket)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.StoreError("rows error", err)
	}

	return buckets, nil
}

func nullableType(entityType *model.EntityType) interface{} {
	if entityType == nil {
		return nil
	}
	return string(*entityType)
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableUUID(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return *id
}
