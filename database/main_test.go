package database

import (
	"context"
	"log"
	"testing"

	"github.com/stixgraph/stixgraph/helper"
	"github.com/stixgraph/stixgraph/model"
	sqlLoad "github.com/stixgraph/stixgraph/sql"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
)

var dbPort string

func TestMain(m *testing.M) {
	var teardown func(ctx context.Context, opts ...testcontainers.TerminateOption) error
	var err error
	teardown, dbPort, err = helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("error starting postgres container: %v", err)
	}

	m.Run()

	if teardown != nil && teardown(context.Background()) != nil {
		log.Fatalf("error tearing down postgres container: %v", err)
	}
}

func initDB(t *testing.T) *helper.Database {
	helper.SetTestDatabaseConfigEnvs(t, dbPort)
	dbConfig, err := helper.NewDatabaseConfiguration()
	require.NoError(t, err, "failed to create database configuration")
	database := helper.NewTestDatabase(dbConfig)

	err = sqlLoad.Init(database.Instance)
	require.NoError(t, err)

	return database
}

// initHandlers creates all handlers so every table exists; entity deletion
// cascades through the relationships table and the aggregation indexes
// reference it
func initHandlers(t *testing.T) (*EntitiesDBHandler, *RelationshipsDBHandler, *AggregationsDBHandler) {
	database := initDB(t)
	catalog := newTestCatalog()

	entities, err := NewEntitiesDBHandler(database, catalog, true)
	require.NoError(t, err, "Expected NewEntitiesDBHandler to not return an error")

	relationships, err := NewRelationshipsDBHandler(database, catalog, true)
	require.NoError(t, err, "Expected NewRelationshipsDBHandler to not return an error")

	aggregations, err := NewAggregationsDBHandler(database, true)
	require.NoError(t, err, "Expected NewAggregationsDBHandler to not return an error")

	t.Cleanup(func() {
		truncateTables(t, database)
		database.Close()
	})

	return entities, relationships, aggregations
}

func newTestCatalog() *model.RelationKeyCatalog {
	return model.NewRelationKeyCatalog()
}

func truncateTables(t *testing.T, database *helper.Database) {
	_, err := database.Instance.Exec(`TRUNCATE TABLE relationships, entities;`)
	require.NoError(t, err, "failed to truncate tables")
}
