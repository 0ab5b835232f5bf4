package aggregation

import (
	"time"

	"github.com/google/uuid"
	"github.com/stixgraph/stixgraph/database"
	"github.com/stixgraph/stixgraph/model"
)

// Engine computes counts, time series histograms and categorical
// distributions over entity sets, optionally scoped through relationship
// edges. Each shape keeps its own cardinality and ordering contract: counts
// are scalar, time buckets are dense and ascending, category buckets are
// sparse and unordered.
type Engine struct {
	aggregations *database.AggregationsDBHandler
	catalog      *model.RelationKeyCatalog
}

// NewEngine creates a new aggregation engine
func NewEngine(aggregations *database.AggregationsDBHandler, catalog *model.RelationKeyCatalog) *Engine {
	return &Engine{
		aggregations: aggregations,
		catalog:      catalog,
	}
}

// NumberOf counts entities of a type. TotalAtDate fixes the count as of the
// cutoff; Total ignores the cutoff. A non-nil scope restricts to entities
// linked to the scope id via the generic link relationship.
func (e *Engine) NumberOf(entityType *model.EntityType, endDate *time.Time, scope *uuid.UUID) (*model.EntityCount, error) {
	scopeRelation := ""
	if scope != nil {
		relationType, err := e.catalog.FieldFor(model.KindLinked)
		if err != nil {
			return nil, err
		}
		scopeRelation = relationType
	}

	return e.aggregations.CountEntities(entityType, endDate, scopeRelation, scope)
}

// TimeSeries buckets entity creation timestamps by a fixed calendar
// interval. Buckets cover every interval in range, zero counts included, in
// ascending chronological order. With By set, the scope narrows the set
// through the generic link (entity) or authored-by (author) relationship.
func (e *Engine) TimeSeries(entityType *model.EntityType, opts model.TimeSeriesOptions) ([]*model.Bucket, error) {
	err := opts.Validate()
	if err != nil {
		return nil, err
	}

	scopeRelation := ""
	if opts.Scope != nil {
		kind := model.KindLinked
		if opts.By == model.SeriesByAuthor {
			kind = model.KindAuthoredBy
		}
		relationType, err := e.catalog.FieldFor(kind)
		if err != nil {
			return nil, err
		}
		scopeRelation = relationType
	}

	return e.aggregations.TimeSeriesEntities(entityType, opts.Interval, opts.Start, opts.End, scopeRelation, opts.Scope)
}

// Distribution groups entities in the scope id's relationship neighborhood
// by the identity of the related entity reached via groupBy. The scope is
// mandatory; without one the distribution is empty regardless of filter,
// there is no unscoped distribution.
func (e *Engine) Distribution(entityType *model.EntityType, scope *uuid.UUID, groupBy model.RelationshipKind) ([]*model.Bucket, error) {
	if scope == nil {
		return []*model.Bucket{}, nil
	}

	groupRelation, err := e.catalog.FieldFor(groupBy)
	if err != nil {
		return nil, err
	}

	return e.aggregations.DistributionEntities(entityType, groupRelation, *scope)
}
