// Package core provides the fundamental building blocks of the golemref library.
// This file defines the set of supported operators used in predicate conditions
// and how each of them is spelled in a document-store filter.
package core

// Operator represents a comparison or logical operator used in a condition.
//
// Operators can be logical (AND, OR, NOT) or value-based (EQ, NE, GT, IN, etc.).
type Operator string

const (
	// Logical operators
	opAnd Operator = "AND"
	opOr  Operator = "OR"
	opNot Operator = "NOT"

	// Value-based operators
	opNil  Operator = "NIL"  // field is null or missing
	opEq   Operator = "EQ"   // field == value
	opNe   Operator = "NE"   // field != value
	opGt   Operator = "GT"   // field > value
	opGte  Operator = "GTE"  // field >= value
	opLt   Operator = "LT"   // field < value
	opLte  Operator = "LTE"  // field <= value
	opLike Operator = "LIKE" // case-insensitive pattern with % and _ wildcards
	opIn   Operator = "IN"   // field in value list
)

// Public operator aliases exposed to users of the library.
//
// Example:
//
//	cond := &core.Condition{FieldName: "age", Operator: &core.OpGt, Value: 18}
var (
	OpAnd  = opAnd
	OpOr   = opOr
	OpNot  = opNot
	OpNil  = opNil
	OpEq   = opEq
	OpNe   = opNe
	OpGt   = opGt
	OpGte  = opGte
	OpLt   = opLt
	OpLte  = opLte
	OpLike = opLike
	OpIn   = opIn
)

// comparisonKeywordList maps value operators to their filter keyword.
// OpEq, OpNil and OpLike are rendered specially.
var comparisonKeywordList = map[Operator]string{
	opNe:  "$ne",
	opGt:  "$gt",
	opGte: "$gte",
	opLt:  "$lt",
	opLte: "$lte",
	opIn:  "$in",
}

// IsLogical reports whether the operator combines child conditions.
func (op Operator) IsLogical() bool {
	return op == opAnd || op == opOr || op == opNot
}
