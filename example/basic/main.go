package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/stixgraph/stixgraph"
	"github.com/stixgraph/stixgraph/helper"
	"github.com/stixgraph/stixgraph/model"
)

func main() {
	// Start a test PostgreSQL container
	teardown, dbPort, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer teardown(context.Background())

	// Create database configuration using the container port
	dbConfig := &helper.DatabaseConfiguration{
		Host:     "localhost",
		Port:     dbPort,
		Name:     "stixgraph_test",
		User:     "stixgraph",
		Password: "stixgraph",
		SSLMode:  "disable",
	}

	// nil authorizer grants everything, fine for a single-user example
	g, err := stixgraph.New(dbConfig, nil)
	if err != nil {
		log.Fatalf("Failed to create graph: %v", err)
	}
	defer g.Close()

	ctx := context.Background()
	analyst := model.Principal{ID: "analyst-1"}

	// Create an organization and an indicator it authored
	fmt.Println("Creating entities...")
	org, err := g.Create(ctx, analyst, model.EntityTypeIdentity, model.Attributes{
		"name":           "ACME Threat Intel",
		"identity_class": "organization",
	})
	if err != nil {
		log.Fatalf("Failed to create identity: %v", err)
	}
	fmt.Printf("Identity created with ID: %s\n", org.ID)

	indicator, err := g.Create(ctx, analyst, model.EntityTypeIndicator, model.Attributes{
		"name":         "Malicious domain",
		"pattern":      "[domain-name:value = 'evil.example']",
		"pattern_type": "stix",
		"valid_from":   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Fatalf("Failed to create indicator: %v", err)
	}
	fmt.Printf("Indicator created with ID: %s\n", indicator.ID)

	// Link the indicator to its author
	_, err = g.AddRelationship(ctx, analyst, indicator.ID, model.KindAuthoredBy, org.ID, nil)
	if err != nil {
		log.Fatalf("Failed to add relationship: %v", err)
	}
	fmt.Println("Linked indicator to its author")

	// A report containing the indicator
	report, err := g.Create(ctx, analyst, model.EntityTypeReport, model.Attributes{
		"name":      "Campaign overview",
		"published": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Fatalf("Failed to create report: %v", err)
	}
	_, err = g.AddRelationship(ctx, analyst, report.ID, model.KindLinked, indicator.ID, nil)
	if err != nil {
		log.Fatalf("Failed to link report: %v", err)
	}

	// List everything the organization authored
	fmt.Println("\nListing entities authored by the organization...")
	filter := model.Filter{{
		Relation: model.KindAuthoredBy,
		Operator: model.OperatorEq,
		Values:   []string{org.ID.String()},
	}}
	authored, _, err := g.List(filter, &model.Ordering{Attribute: "name"}, nil)
	if err != nil {
		log.Fatalf("Failed to list entities: %v", err)
	}
	for _, entity := range authored {
		fmt.Printf("  %s (%s)\n", entity.Attributes["name"], entity.Type)
	}

	// Count indicators created this week, per day
	fmt.Println("\nIndicator creation time series (last 7 days):")
	indicatorType := model.EntityTypeIndicator
	end := time.Now().UTC()
	buckets, err := g.TimeSeries(&indicatorType, model.TimeSeriesOptions{
		Start:    end.AddDate(0, 0, -6),
		End:      end,
		Interval: model.IntervalDay,
	})
	if err != nil {
		log.Fatalf("Failed to compute time series: %v", err)
	}
	for _, bucket := range buckets {
		fmt.Printf("  %s: %d\n", bucket.Key, bucket.Count)
	}

	// Distribution of the organization's neighborhood by author
	fmt.Println("\nDistribution of entities around the organization by author:")
	distribution, err := g.Distribution(nil, &org.ID, model.KindAuthoredBy)
	if err != nil {
		log.Fatalf("Failed to compute distribution: %v", err)
	}
	for _, bucket := range distribution {
		fmt.Printf("  author %s: %d\n", bucket.Key, bucket.Count)
	}

	// Containment check
	contained, err := g.Contains(report.ID, indicator.ID)
	if err != nil {
		log.Fatalf("Failed to check containment: %v", err)
	}
	fmt.Printf("\nReport contains the indicator: %v\n", contained)

	// Advisory edit contexts
	g.SetEditContext(analyst, indicator.ID, "description")
	for _, editCtx := range g.ListEditContexts(indicator.ID) {
		fmt.Printf("Edit context: %s is editing %q\n", editCtx.Principal, editCtx.Field)
	}
	g.ClearEditContext(analyst, indicator.ID)
}
