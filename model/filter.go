package model

import (
	"encoding/base64"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/stixgraph/stixgraph/helper"
)

// Operator is the comparator applied by a predicate
type Operator string

const (
	OperatorEq    Operator = "eq"
	OperatorNotEq Operator = "not_eq"
	OperatorGt    Operator = "gt"
	OperatorGte   Operator = "gte"
	OperatorLt    Operator = "lt"
	OperatorLte   Operator = "lte"
	OperatorMatch Operator = "match"
)

// KnownOperator reports whether op is a declared comparator
func KnownOperator(op Operator) bool {
	switch op {
	case OperatorEq, OperatorNotEq, OperatorGt, OperatorGte, OperatorLt, OperatorLte, OperatorMatch:
		return true
	}
	return false
}

// Predicate is a single filter condition. Either Attribute is set (direct
// attribute predicate) or Relation is set (relationship-scoped predicate on
// an attribute of the related entity). RelatedAttribute defaults to the
// related entity's internal_id.
type Predicate struct {
	Attribute        string           `json:"attribute,omitempty"`
	Relation         RelationshipKind `json:"relation,omitempty"`
	RelatedAttribute string           `json:"related_attribute,omitempty"`
	Operator         Operator         `json:"operator"`
	Values           []string         `json:"values"`
}

// Filter is a conjunction of predicates
type Filter []Predicate

// Ordering sorts either by a direct attribute or by an attribute of a related
// entity reached through Relation
type Ordering struct {
	Attribute        string           `json:"attribute,omitempty"`
	Relation         RelationshipKind `json:"relation,omitempty"`
	RelatedAttribute string           `json:"related_attribute,omitempty"`
	Descending       bool             `json:"descending,omitempty"`
}

// Pagination requests a page of at most First entities starting after the
// cursor returned with the previous page. An empty After starts from the
// beginning; re-supplying the same cursor restarts the same page.
type Pagination struct {
	First int    `json:"first"`
	After string `json:"after,omitempty"`
}

// Cursor marks a resume position in a paginated scan. SortValue is the
// primary sort key of the last seen entity; the id breaks ties.
type Cursor struct {
	SortValue string    `json:"sort_value"`
	ID        uuid.UUID `json:"id"`
}

// Encode serializes the cursor into its opaque wire form
func (c Cursor) Encode() string {
	b, _ := json.Marshal(c)
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeCursor parses an opaque cursor string
func DecodeCursor(s string) (*Cursor, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, helper.NewError("decode cursor", err)
	}

	cursor := &Cursor{}
	err = json.Unmarshal(b, cursor)
	if err != nil {
		return nil, helper.NewError("parse cursor", err)
	}
	return cursor, nil
}
