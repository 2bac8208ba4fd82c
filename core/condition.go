// Package core provides the fundamental building blocks of the golemref library.
// This file defines the predicate builder: conditions, their composition and
// their rendering into a document-store filter.
package core

import (
	"fmt"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IDField is the name of the primary identifier field of every document.
const IDField = "_id"

// Condition represents a single clause in a predicate.
//
// A condition can target a specific field (FieldName) with a given operator
// (Eq, Gt, Like, In, etc.) and a comparison value. Conditions can also
// be nested using Children, enabling composition of complex logical
// expressions with AND, OR, and NOT.
//
// A nil *Condition, or an AND without children, is the empty predicate and
// matches every document.
//
// Example:
//
//	cond := core.Field("age").Gt(18).
//		And(core.Field("status").Eq("active"))
//
// The above creates a condition equivalent to:
//
//	(age > 18) AND (status = "active")
type Condition struct {
	FieldName string       // The field name this condition applies to
	Operator  *Operator    // The comparison operator (Eq, Gt, Like, etc.)
	Value     any          // The comparison value
	Children  []*Condition // Nested conditions (for AND, OR, NOT expressions)
}

// Field starts a condition on the named field. An operator must be applied
// before the condition is used.
func Field(name string) *Condition {
	return &Condition{FieldName: name}
}

// ByID returns the condition `_id == id`.
func ByID(id any) *Condition {
	return Field(IDField).Eq(id)
}

// Empty returns the predicate that matches everything.
func Empty() *Condition {
	return &Condition{Operator: &OpAnd, Children: []*Condition{}}
}

// IsEmpty reports whether the condition matches every document: it is nil,
// a conjunction of empty conditions, or a disjunction with an empty branch.
func (c *Condition) IsEmpty() bool {
	if c == nil {
		return true
	}
	if c.Operator == nil || c.FieldName != "" {
		return false
	}
	switch *c.Operator {
	case OpAnd:
		for _, child := range c.Children {
			if !child.IsEmpty() {
				return false
			}
		}
		return true
	case OpOr:
		for _, child := range c.Children {
			if child.IsEmpty() {
				return true
			}
		}
	}
	return false
}

// And combines this condition with additional conditions using the logical AND
// operator. Empty operands are dropped, so conjoining with an empty predicate
// returns the other operand unchanged.
func (c *Condition) And(conditions ...*Condition) *Condition {
	return foldConditionsAnd(append([]*Condition{c}, conditions...)...)
}

// Or combines this condition with additional conditions using the logical OR operator.
func (c *Condition) Or(conditions ...*Condition) *Condition {
	return &Condition{
		Operator: &OpOr,
		Children: append([]*Condition{c}, conditions...),
	}
}

// Not negates this condition using the logical NOT operator.
func (c *Condition) Not() *Condition {
	return &Condition{
		Operator: &OpNot,
		Children: []*Condition{c},
	}
}

// Nil sets this condition to check for null or missing values.
func (c *Condition) Nil() *Condition {
	c.Operator = &OpNil
	c.Value = nil
	return c
}

// Eq sets this condition to check for equality.
func (c *Condition) Eq(v any) *Condition {
	c.Operator = &OpEq
	c.Value = v
	return c
}

// Ne sets this condition to check for inequality.
func (c *Condition) Ne(v any) *Condition {
	c.Operator = &OpNe
	c.Value = v
	return c
}

// Gt sets this condition to check for "greater than".
func (c *Condition) Gt(v any) *Condition {
	c.Operator = &OpGt
	c.Value = v
	return c
}

// Gte sets this condition to check for "greater than or equal".
func (c *Condition) Gte(v any) *Condition {
	c.Operator = &OpGte
	c.Value = v
	return c
}

// Lt sets this condition to check for "less than".
func (c *Condition) Lt(v any) *Condition {
	c.Operator = &OpLt
	c.Value = v
	return c
}

// Lte sets this condition to check for "less than or equal".
func (c *Condition) Lte(v any) *Condition {
	c.Operator = &OpLte
	c.Value = v
	return c
}

// Like sets this condition to perform a case-insensitive pattern match where
// % matches any run of characters and _ matches exactly one.
func (c *Condition) Like(v any) *Condition {
	c.Operator = &OpLike
	c.Value = v
	return c
}

// In sets this condition to check whether the field value is contained in the provided list.
func (c *Condition) In(values ...any) *Condition {
	c.Operator = &OpIn
	c.Value = values
	return c
}

// String renders the condition for logs.
func (c *Condition) String() string {
	if c.IsEmpty() {
		return "{}"
	}
	return fmt.Sprint(BuildFilter(c))
}

// MarshalBSON renders the condition as a filter document, so conditions can be
// embedded directly in commands.
func (c *Condition) MarshalBSON() ([]byte, error) {
	return bson.Marshal(BuildFilter(c))
}

// BuildFilter converts a condition tree into a document-store filter.
//
// Example:
//
//	filter := core.BuildFilter(core.Field("age").Gte(18))
//	// filter == bson.M{"age": bson.M{"$gte": 18}}
func BuildFilter(condition *Condition) bson.M {
	if condition.IsEmpty() || condition.Operator == nil {
		return bson.M{}
	}
	if condition.Operator.IsLogical() {
		childFilterList := make([]bson.M, 0, len(condition.Children))
		for _, child := range condition.Children {
			if child.IsEmpty() {
				continue
			}
			childFilterList = append(childFilterList, BuildFilter(child))
		}
		switch *condition.Operator {
		case OpAnd:
			switch len(childFilterList) {
			case 0:
				return bson.M{}
			case 1:
				return childFilterList[0]
			}
			return bson.M{"$and": childFilterList}
		case OpOr:
			return bson.M{"$or": childFilterList}
		case OpNot:
			if len(childFilterList) == 0 {
				return matchNothing()
			}
			return bson.M{"$nor": childFilterList}
		}
		return bson.M{}
	}

	fieldName := condition.FieldName
	switch *condition.Operator {
	case OpNil:
		return bson.M{fieldName: bson.M{"$eq": nil}}
	case OpEq:
		return bson.M{fieldName: condition.Value}
	case OpLike:
		pattern := LikePattern(fmt.Sprintf("%v", condition.Value))
		return bson.M{fieldName: primitive.Regex{Pattern: pattern, Options: "i"}}
	case OpIn:
		return bson.M{fieldName: bson.M{"$in": ValueList(condition.Value)}}
	}
	if keyword, ok := comparisonKeywordList[*condition.Operator]; ok {
		return bson.M{fieldName: bson.M{keyword: condition.Value}}
	}
	return bson.M{}
}

// ValueList normalizes the value of an IN condition into a slice.
func ValueList(value any) []any {
	switch v := value.(type) {
	case []any:
		return v
	case nil:
		return []any{}
	default:
		return []any{value}
	}
}

// LikePattern converts a SQL-like pattern into an anchored regular expression.
//
// It replaces % with .* (wildcard for multiple characters) and
// _ with . (wildcard for a single character). Every other character is
// matched literally.
//
// Example:
//
//	regex := core.LikePattern("%admin_")
//	// regex == "^.*admin.$"
func LikePattern(input string) string {
	var builder strings.Builder
	builder.WriteString("^")
	for _, r := range input {
		switch r {
		case '%':
			builder.WriteString(".*")
		case '_':
			builder.WriteString(".")
		default:
			builder.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	builder.WriteString("$")
	return builder.String()
}

// matchNothing is a filter no document satisfies, since every stored
// document carries an identifier.
func matchNothing() bson.M {
	return bson.M{IDField: bson.M{"$exists": false}}
}

// foldConditionsAnd combines multiple conditions into a single condition
// using logical AND. Empty conditions are skipped. If nothing remains it
// returns the empty predicate; a single survivor is returned as is.
func foldConditionsAnd(conds ...*Condition) *Condition {
	kept := make([]*Condition, 0, len(conds))
	for _, cond := range conds {
		if !cond.IsEmpty() {
			kept = append(kept, cond)
		}
	}
	switch len(kept) {
	case 0:
		return Empty()
	case 1:
		return kept[0]
	default:
		return &Condition{Operator: &OpAnd, Children: kept}
	}
}

// EqualityFields collects the `field == value` pairs reachable through AND
// nodes of a condition. Stores use them to seed the document created by an
// upsert.
func EqualityFields(condition *Condition) bson.D {
	fieldList := bson.D{}
	var walk func(*Condition)
	walk = func(c *Condition) {
		if c == nil || c.Operator == nil {
			return
		}
		switch *c.Operator {
		case OpAnd:
			for _, child := range c.Children {
				walk(child)
			}
		case OpEq:
			fieldList = append(fieldList, bson.E{Key: c.FieldName, Value: c.Value})
		}
	}
	walk(condition)
	return fieldList
}
