package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/stixgraph/stixgraph/helper"
)

// Interval is the calendar bucketing unit for time series
type Interval string

const (
	IntervalDay   Interval = "day"
	IntervalWeek  Interval = "week"
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

// KnownInterval reports whether i is a declared bucketing unit
func KnownInterval(i Interval) bool {
	switch i {
	case IntervalDay, IntervalWeek, IntervalMonth, IntervalYear:
		return true
	}
	return false
}

// SeriesBy selects how an aggregation scope id is joined to the entity set
type SeriesBy string

const (
	// SeriesByEntity narrows to entities linked to the scope id via the
	// generic link relationship
	SeriesByEntity SeriesBy = "entity"
	// SeriesByAuthor narrows to entities whose authored-by relationship
	// points at the scope id
	SeriesByAuthor SeriesBy = "author"
)

// Bucket is a single grouped aggregation result. The key is a time interval
// label for time series or a related entity id for distributions.
type Bucket struct {
	Key   string `json:"bucket_key"`
	Count int64  `json:"count"`
}

// EntityCount is the result of a count aggregation. Total is the current
// unscoped count; TotalAtDate fixes the count as of the requested cutoff.
type EntityCount struct {
	Total       int64 `json:"total"`
	TotalAtDate int64 `json:"total_at_date"`
}

// TimeSeriesOptions parameterizes a time series aggregation
type TimeSeriesOptions struct {
	Start    time.Time  `json:"start"`
	End      time.Time  `json:"end"`
	Interval Interval   `json:"interval"`
	Scope    *uuid.UUID `json:"scope,omitempty"`
	By       SeriesBy   `json:"by,omitempty"`
}

// Validate checks the options for a well-formed request
func (o *TimeSeriesOptions) Validate() error {
	if !KnownInterval(o.Interval) {
		return helper.NewError("validate time series options", helper.ErrInvalidFilter)
	}
	if !o.End.After(o.Start) {
		return helper.NewError("validate time series options", helper.ErrInvalidFilter)
	}
	if o.By != "" && o.By != SeriesByEntity && o.By != SeriesByAuthor {
		return helper.NewError("validate time series options", helper.ErrInvalidFilter)
	}
	return nil
}
