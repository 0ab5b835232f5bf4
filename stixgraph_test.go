package stixgraph

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stixgraph/stixgraph/helper"
	"github.com/stixgraph/stixgraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var analyst = model.Principal{ID: "analyst-1"}

// denyAll refuses every capability
type denyAll struct{}

func (denyAll) Allows(ctx context.Context, principal model.Principal, capability model.Capability) (bool, error) {
	return false, nil
}

func TestGraphCreateAndGet(t *testing.T) {
	graph := initGraph(t)
	ctx := context.Background()

	t.Run("Create returns a stored entity with generated fields", func(t *testing.T) {
		created, err := graph.Create(ctx, analyst, model.EntityTypeIndicator, model.Attributes{
			"name":         "Malicious hash",
			"pattern":      "[file:hashes.MD5 = 'd41d8cd98f00b204e9800998ecf8427e']",
			"pattern_type": "stix",
			"valid_from":   "2025-03-01T00:00:00Z",
		})
		require.NoError(t, err, "Expected Create to not return an error")
		assert.NotEqual(t, uuid.Nil, created.ID, "Expected a generated id")
		assert.WithinDuration(t, time.Now(), created.CreatedAt, 2*time.Second)

		retrieved, err := graph.Get(created.ID)
		require.NoError(t, err, "Expected Get to not return an error")
		assert.Equal(t, created.ID, retrieved.ID)
		assert.Equal(t, "Malicious hash", retrieved.Attributes["name"])
		assert.Equal(t, "stix", retrieved.Attributes["pattern_type"])
	})

	t.Run("Create with unknown type fails with a validation error", func(t *testing.T) {
		_, err := graph.Create(ctx, analyst, model.EntityType("Campaign"), model.Attributes{"name": "x"})
		require.Error(t, err, "Expected an unknown entity type to fail")
		var validationErr *model.ValidationError
		assert.ErrorAs(t, err, &validationErr, "Expected a validation error")
	})

	t.Run("Create with missing required fields names them", func(t *testing.T) {
		_, err := graph.Create(ctx, analyst, model.EntityTypeIndicator, model.Attributes{"name": "incomplete"})
		require.Error(t, err, "Expected missing required fields to fail")
		var validationErr *model.ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Contains(t, validationErr.Fields, "pattern", "Expected the missing field to be named")
	})

	t.Run("Get missing entity fails with ErrNotFound", func(t *testing.T) {
		_, err := graph.Get(uuid.New())
		assert.ErrorIs(t, err, helper.ErrNotFound)
	})
}

func TestGraphDelete(t *testing.T) {
	graph := initGraph(t)
	ctx := context.Background()

	indicator := createIndicator(t, graph, "doomed")
	author := createIdentity(t, graph, "Org1")
	report := createReport(t, graph, "Containing report")

	_, err := graph.AddRelationship(ctx, analyst, indicator.ID, model.KindAuthoredBy, author.ID, nil)
	require.NoError(t, err)
	_, err = graph.AddRelationship(ctx, analyst, report.ID, model.KindLinked, indicator.ID, nil)
	require.NoError(t, err)

	graph.SetEditContext(analyst, indicator.ID, "description")

	t.Run("Delete removes the entity, its edges and its edit contexts", func(t *testing.T) {
		err := graph.Delete(ctx, analyst, indicator.ID)
		require.NoError(t, err, "Expected Delete to not return an error")

		_, err = graph.Get(indicator.ID)
		assert.ErrorIs(t, err, helper.ErrNotFound, "Expected the entity to be gone")

		outgoing, err := graph.Relationships.SelectRelationshipsFrom(report.ID, nil)
		require.NoError(t, err)
		assert.Empty(t, outgoing, "Expected edges pointing at the deleted entity to be gone")

		incoming, err := graph.Relationships.SelectRelationshipsTo(author.ID, nil)
		require.NoError(t, err)
		assert.Empty(t, incoming, "Expected edges leaving the deleted entity to be gone")

		assert.Empty(t, graph.ListEditContexts(indicator.ID), "Expected edit contexts on the deleted entity to be dropped")
	})

	t.Run("Delete missing entity fails with ErrNotFound", func(t *testing.T) {
		err := graph.Delete(ctx, analyst, uuid.New())
		assert.ErrorIs(t, err, helper.ErrNotFound)
	})
}

func TestGraphPatchFields(t *testing.T) {
	graph := initGraph(t)
	ctx := context.Background()

	indicator := createIndicator(t, graph, "patch-target")

	t.Run("Replace and set operations in one patch", func(t *testing.T) {
		patched, err := graph.PatchFields(ctx, analyst, indicator.ID, []model.FieldChange{
			{Field: "name", Operation: model.PatchReplace, Value: "renamed"},
			{Field: "aliases", Operation: model.PatchAddToSet, Value: []interface{}{"alias-1", "alias-2"}},
		})
		require.NoError(t, err, "Expected PatchFields to not return an error")
		assert.Equal(t, "renamed", patched.Attributes["name"])
		assert.ElementsMatch(t, []interface{}{"alias-1", "alias-2"}, patched.Attributes["aliases"])
	})

	t.Run("Remove from set", func(t *testing.T) {
		patched, err := graph.PatchFields(ctx, analyst, indicator.ID, []model.FieldChange{
			{Field: "aliases", Operation: model.PatchRemoveFromSet, Value: []interface{}{"alias-1"}},
		})
		require.NoError(t, err)
		assert.ElementsMatch(t, []interface{}{"alias-2"}, patched.Attributes["aliases"])
	})

	t.Run("Patching an immutable field fails", func(t *testing.T) {
		_, err := graph.PatchFields(ctx, analyst, indicator.ID, []model.FieldChange{
			{Field: "entity_type", Operation: model.PatchReplace, Value: "Report"},
		})
		assert.Error(t, err, "Expected patching the type to fail")
	})

	t.Run("Patch with no changes fails", func(t *testing.T) {
		_, err := graph.PatchFields(ctx, analyst, indicator.ID, nil)
		assert.Error(t, err, "Expected an empty patch to fail")
	})
}

func TestGraphRelationships(t *testing.T) {
	graph := initGraph(t)
	ctx := context.Background()

	indicator := createIndicator(t, graph, "related")
	author := createIdentity(t, graph, "Org1")

	t.Run("AddRelationship is idempotent", func(t *testing.T) {
		first, err := graph.AddRelationship(ctx, analyst, indicator.ID, model.KindAuthoredBy, author.ID, nil)
		require.NoError(t, err, "Expected AddRelationship to not return an error")

		second, err := graph.AddRelationship(ctx, analyst, indicator.ID, model.KindAuthoredBy, author.ID, nil)
		require.NoError(t, err, "Expected repeated AddRelationship to not return an error")
		assert.Equal(t, first.ID, second.ID, "Expected the same edge on repeated add")
	})

	t.Run("AddRelationship constrains the target type", func(t *testing.T) {
		other := createIndicator(t, graph, "not-an-identity")
		_, err := graph.AddRelationship(ctx, analyst, indicator.ID, model.KindAuthoredBy, other.ID, nil)
		require.Error(t, err, "Expected an author edge to a non-identity to fail")
		var validationErr *model.ValidationError
		assert.ErrorAs(t, err, &validationErr)
	})

	t.Run("AddRelationship to a missing target fails with ErrNotFound", func(t *testing.T) {
		_, err := graph.AddRelationship(ctx, analyst, indicator.ID, model.KindAuthoredBy, uuid.New(), nil)
		assert.ErrorIs(t, err, helper.ErrNotFound)
	})

	t.Run("RemoveRelationship deletes the edge", func(t *testing.T) {
		err := graph.RemoveRelationship(ctx, analyst, indicator.ID, author.ID, model.KindAuthoredBy)
		require.NoError(t, err, "Expected RemoveRelationship to not return an error")

		err = graph.RemoveRelationship(ctx, analyst, indicator.ID, author.ID, model.KindAuthoredBy)
		assert.ErrorIs(t, err, helper.ErrNotFound, "Expected removing the edge twice to fail")
	})
}

func TestGraphAggregations(t *testing.T) {
	graph := initGraph(t)
	ctx := context.Background()

	author := createIdentity(t, graph, "Org1")
	indicator := createIndicator(t, graph, "aggregated")
	_, err := graph.AddRelationship(ctx, analyst, indicator.ID, model.KindAuthoredBy, author.ID, nil)
	require.NoError(t, err)

	t.Run("Count by type", func(t *testing.T) {
		indicatorType := model.EntityTypeIndicator
		count, err := graph.Count(&indicatorType, nil, nil)
		require.NoError(t, err, "Expected Count to not return an error")
		assert.Equal(t, int64(1), count.Total)
	})

	t.Run("TimeSeries is dense over the window", func(t *testing.T) {
		indicatorType := model.EntityTypeIndicator
		end := time.Now().UTC()
		buckets, err := graph.TimeSeries(&indicatorType, model.TimeSeriesOptions{
			Start:    end.AddDate(0, 0, -2),
			End:      end,
			Interval: model.IntervalDay,
		})
		require.NoError(t, err, "Expected TimeSeries to not return an error")
		require.Len(t, buckets, 3, "Expected one bucket per day")
		assert.Equal(t, int64(1), buckets[2].Count, "Expected the creation in today's bucket")
		assert.Equal(t, int64(0), buckets[0].Count)
	})

	t.Run("TimeSeries rejects a bad interval", func(t *testing.T) {
		indicatorType := model.EntityTypeIndicator
		_, err := graph.TimeSeries(&indicatorType, model.TimeSeriesOptions{
			Start:    time.Now().AddDate(0, 0, -1),
			End:      time.Now(),
			Interval: model.Interval("hour"),
		})
		assert.ErrorIs(t, err, helper.ErrInvalidFilter)
	})

	t.Run("Distribution groups authored entities around the author", func(t *testing.T) {
		indicatorType := model.EntityTypeIndicator
		buckets, err := graph.Distribution(&indicatorType, &author.ID, model.KindAuthoredBy)
		require.NoError(t, err, "Expected Distribution to not return an error")
		require.Len(t, buckets, 1)
		assert.Equal(t, author.ID.String(), buckets[0].Key)
		assert.Equal(t, int64(1), buckets[0].Count)
	})

	t.Run("Distribution without a scope is empty", func(t *testing.T) {
		indicatorType := model.EntityTypeIndicator
		buckets, err := graph.Distribution(&indicatorType, nil, model.KindAuthoredBy)
		require.NoError(t, err, "Expected a missing scope to not be an error")
		assert.Empty(t, buckets, "Expected no buckets without a scope")
	})
}

func TestGraphContains(t *testing.T) {
	graph := initGraph(t)
	ctx := context.Background()

	indicator := createIndicator(t, graph, "contained")
	observed, err := graph.Create(ctx, analyst, model.EntityTypeObservedData, model.Attributes{
		"first_observed":  "2025-03-01T00:00:00Z",
		"last_observed":   "2025-03-02T00:00:00Z",
		"number_observed": float64(1),
		"object_refs":     []interface{}{indicator.ID.String()},
	})
	require.NoError(t, err)

	report := createReport(t, graph, "Containment report")
	_, err = graph.AddRelationship(ctx, analyst, report.ID, model.KindLinked, indicator.ID, nil)
	require.NoError(t, err)

	t.Run("An entity contains itself", func(t *testing.T) {
		contained, err := graph.Contains(report.ID, report.ID)
		require.NoError(t, err)
		assert.True(t, contained)
	})

	t.Run("A linked entity is contained", func(t *testing.T) {
		contained, err := graph.Contains(report.ID, indicator.ID)
		require.NoError(t, err)
		assert.True(t, contained)
	})

	t.Run("An embedded object ref is contained", func(t *testing.T) {
		contained, err := graph.Contains(observed.ID, indicator.ID)
		require.NoError(t, err)
		assert.True(t, contained)
	})

	t.Run("An unrelated entity is not contained", func(t *testing.T) {
		contained, err := graph.Contains(report.ID, observed.ID)
		require.NoError(t, err)
		assert.False(t, contained)
	})

	t.Run("A missing root fails closed", func(t *testing.T) {
		_, err := graph.Contains(uuid.New(), indicator.ID)
		assert.ErrorIs(t, err, helper.ErrNotFound)
	})
}

func TestGraphListAndSearch(t *testing.T) {
	graph := initGraph(t)
	ctx := context.Background()

	author := createIdentity(t, graph, "Acme Intelligence")
	for _, name := range []string{"alpha", "beta", "gamma"} {
		indicator := createIndicator(t, graph, name)
		_, err := graph.AddRelationship(ctx, analyst, indicator.ID, model.KindAuthoredBy, author.ID, nil)
		require.NoError(t, err)
	}

	t.Run("List filtered by author and ordered by name", func(t *testing.T) {
		filter := model.Filter{{
			Relation: model.KindAuthoredBy,
			Operator: model.OperatorEq,
			Values:   []string{author.ID.String()},
		}}
		ordering := &model.Ordering{Attribute: "name"}

		firstPage, cursor, err := graph.List(filter, ordering, &model.Pagination{First: 2})
		require.NoError(t, err, "Expected List to not return an error")
		require.Len(t, firstPage, 2)
		require.NotEmpty(t, cursor)
		assert.Equal(t, "alpha", firstPage[0].Attributes["name"])
		assert.Equal(t, "beta", firstPage[1].Attributes["name"])

		secondPage, _, err := graph.List(filter, ordering, &model.Pagination{First: 2, After: cursor})
		require.NoError(t, err)
		require.Len(t, secondPage, 1)
		assert.Equal(t, "gamma", secondPage[0].Attributes["name"])
	})

	t.Run("Search across names", func(t *testing.T) {
		result, err := graph.Search("acme", nil, 10)
		require.NoError(t, err, "Expected Search to not return an error")
		require.Len(t, result, 1)
		assert.Equal(t, author.ID, result[0].ID)
	})
}

func TestGraphEditContexts(t *testing.T) {
	graph := initGraph(t)
	ctx := context.Background()

	indicator := createIndicator(t, graph, "edited")
	editor := model.Principal{ID: "analyst-2"}

	t.Run("Advisory contexts never block concurrent patches", func(t *testing.T) {
		graph.SetEditContext(editor, indicator.ID, "description")

		contexts := graph.ListEditContexts(indicator.ID)
		require.Len(t, contexts, 1)
		assert.Equal(t, "description", contexts[0].Field)
		assert.Equal(t, editor.ID, contexts[0].Principal)

		// Another principal can still write while the context is held
		_, err := graph.PatchFields(ctx, analyst, indicator.ID, []model.FieldChange{
			{Field: "description", Operation: model.PatchReplace, Value: "updated elsewhere"},
		})
		require.NoError(t, err, "Expected the patch to succeed despite the held context")

		graph.ClearEditContext(editor, indicator.ID)
		assert.Empty(t, graph.ListEditContexts(indicator.ID), "Expected the cleared context to be gone")
	})
}

func TestGraphAuthorization(t *testing.T) {
	readOnly := initGraphWithAuthorizer(t, denyAll{})
	ctx := context.Background()

	existing := &model.Entity{
		Type: model.EntityTypeIdentity,
		Attributes: model.Attributes{
			"name":           "Org1",
			"identity_class": "organization",
		},
	}
	require.NoError(t, readOnly.Entities.InsertEntity(existing))

	t.Run("Denied create fails with ErrForbidden", func(t *testing.T) {
		_, err := readOnly.Create(ctx, analyst, model.EntityTypeLabel, model.Attributes{"value": "tlp"})
		assert.ErrorIs(t, err, helper.ErrForbidden)
	})

	t.Run("Denied delete does not reveal existence", func(t *testing.T) {
		errExisting := readOnly.Delete(ctx, analyst, existing.ID)
		errMissing := readOnly.Delete(ctx, analyst, uuid.New())

		assert.ErrorIs(t, errExisting, helper.ErrForbidden)
		assert.ErrorIs(t, errMissing, helper.ErrForbidden)
		assert.NotErrorIs(t, errMissing, helper.ErrNotFound, "Expected the denial to hide whether the entity exists")
	})

	t.Run("Denied patch fails with ErrForbidden", func(t *testing.T) {
		_, err := readOnly.PatchFields(ctx, analyst, existing.ID, []model.FieldChange{
			{Field: "name", Operation: model.PatchReplace, Value: "renamed"},
		})
		assert.ErrorIs(t, err, helper.ErrForbidden)
	})

	t.Run("Reads stay open", func(t *testing.T) {
		retrieved, err := readOnly.Get(existing.ID)
		require.NoError(t, err, "Expected reads to not consult the authorizer")
		assert.Equal(t, existing.ID, retrieved.ID)
	})
}

// createIndicator stores an Indicator through the facade for tests
func createIndicator(t *testing.T, graph *Graph, name string) *model.Entity {
	t.Helper()
	entity, err := graph.Create(context.Background(), analyst, model.EntityTypeIndicator, model.Attributes{
		"name":         name,
		"pattern":      "[domain-name:value = '" + name + ".example']",
		"pattern_type": "stix",
		"valid_from":   "2025-03-01T00:00:00Z",
	})
	require.NoError(t, err)
	return entity
}

// createIdentity stores an Identity through the facade for tests
func createIdentity(t *testing.T, graph *Graph, name string) *model.Entity {
	t.Helper()
	entity, err := graph.Create(context.Background(), analyst, model.EntityTypeIdentity, model.Attributes{
		"name":           name,
		"identity_class": "organization",
	})
	require.NoError(t, err)
	return entity
}

// createReport stores a Report through the facade for tests
func createReport(t *testing.T, graph *Graph, name string) *model.Entity {
	t.Helper()
	entity, err := graph.Create(context.Background(), analyst, model.EntityTypeReport, model.Attributes{
		"name":      name,
		"published": "2025-03-01T00:00:00Z",
	})
	require.NoError(t, err)
	return entity
}
