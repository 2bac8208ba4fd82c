package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/leandroluk/golemref/core"
	"go.mongodb.org/mongo-driver/bson"
)

// errUnsupportedModifier marks update documents the driver cannot translate.
var errUnsupportedModifier = errors.New("unsupported update modifier")

// jsonValue encodes a value as relaxed extended JSON, the representation
// documents are stored in, so jsonb comparisons see identical encodings.
func jsonValue(value any) (string, error) {
	data, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: value}}, false, false)
	if err != nil {
		return "", err
	}
	var holder map[string]json.RawMessage
	if err := json.Unmarshal(data, &holder); err != nil {
		return "", err
	}
	return string(holder["v"]), nil
}

// fieldPath splits a dotted field name into a jsonb path.
func fieldPath(name string) []string {
	return strings.Split(name, ".")
}

// argumentList collects positional parameters while a statement is built.
type argumentList []any

// add appends a parameter and returns its placeholder.
func (a *argumentList) add(value any) string {
	*a = append(*a, value)
	return fmt.Sprintf("$%d", len(*a))
}

// buildCondition renders a condition as a boolean SQL expression over the
// jsonb column named column.
func buildCondition(column string, condition *core.Condition, argList *argumentList) (string, error) {
	if condition.IsEmpty() || condition.Operator == nil {
		return "TRUE", nil
	}
	if condition.Operator.IsLogical() {
		partList := []string{}
		for _, child := range condition.Children {
			if child.IsEmpty() {
				continue
			}
			part, err := buildCondition(column, child, argList)
			if err != nil {
				return "", err
			}
			partList = append(partList, part)
		}
		if len(partList) == 0 {
			if *condition.Operator == core.OpNot {
				return "FALSE", nil
			}
			return "TRUE", nil
		}
		switch *condition.Operator {
		case core.OpAnd:
			return "(" + strings.Join(partList, " AND ") + ")", nil
		case core.OpOr:
			return "(" + strings.Join(partList, " OR ") + ")", nil
		case core.OpNot:
			return "NOT (" + strings.Join(partList, " OR ") + ")", nil
		}
	}

	pathPlaceholder := argList.add(fieldPath(condition.FieldName))
	path := fmt.Sprintf("%s #> %s::text[]", column, pathPlaceholder)
	switch *condition.Operator {
	case core.OpNil:
		return fmt.Sprintf("(%s IS NULL OR %s = 'null'::jsonb)", path, path), nil
	case core.OpLike:
		textPath := fmt.Sprintf("%s #>> %s::text[]", column, pathPlaceholder)
		return fmt.Sprintf("%s ILIKE %s::text", textPath, argList.add(fmt.Sprintf("%v", condition.Value))), nil
	case core.OpIn:
		encodedList := []string{}
		for _, value := range core.ValueList(condition.Value) {
			encoded, err := jsonValue(value)
			if err != nil {
				return "", err
			}
			encodedList = append(encodedList, encoded)
		}
		return fmt.Sprintf("%s = ANY(%s::text[]::jsonb[])", path, argList.add(encodedList)), nil
	}

	encoded, err := jsonValue(condition.Value)
	if err != nil {
		return "", err
	}
	placeholder := argList.add(encoded) + "::text::jsonb"
	switch *condition.Operator {
	case core.OpEq:
		return fmt.Sprintf("%s = %s", path, placeholder), nil
	case core.OpNe:
		return fmt.Sprintf("%s IS DISTINCT FROM %s", path, placeholder), nil
	case core.OpGt:
		return fmt.Sprintf("%s > %s", path, placeholder), nil
	case core.OpGte:
		return fmt.Sprintf("%s >= %s", path, placeholder), nil
	case core.OpLt:
		return fmt.Sprintf("%s < %s", path, placeholder), nil
	case core.OpLte:
		return fmt.Sprintf("%s <= %s", path, placeholder), nil
	}
	return "", fmt.Errorf("unsupported operator %s", *condition.Operator)
}

// modification is an update document translated to a jsonb expression.
type modification struct {
	expression  string
	replacement bool
}

// buildModification translates an update document into an expression that
// computes the new document from column.
//
// Operator documents support $set, $unset and $inc; anything else is a
// replacement document that keeps the existing _id.
func buildModification(column string, update any, argList *argumentList) (modification, error) {
	data, err := bson.Marshal(update)
	if err != nil {
		return modification{}, err
	}
	var doc bson.D
	if err := bson.Unmarshal(data, &doc); err != nil {
		return modification{}, err
	}

	operatorCount := 0
	for _, element := range doc {
		if strings.HasPrefix(element.Key, "$") {
			operatorCount++
		}
	}
	if operatorCount == 0 {
		encoded, err := jsonValue(doc)
		if err != nil {
			return modification{}, err
		}
		expression := fmt.Sprintf("(%s::text::jsonb || jsonb_build_object('%s', %s -> '%s'))",
			argList.add(encoded), core.IDField, column, core.IDField)
		return modification{expression: expression, replacement: true}, nil
	}
	if operatorCount != len(doc) {
		return modification{}, fmt.Errorf("%w: update document mixes operators and fields", errUnsupportedModifier)
	}

	expression := column
	for _, element := range doc {
		fieldList, ok := element.Value.(bson.D)
		if !ok {
			return modification{}, fmt.Errorf("%w: %s expects a document", errUnsupportedModifier, element.Key)
		}
		for _, field := range fieldList {
			if field.Key == core.IDField {
				return modification{}, fmt.Errorf("%w: cannot modify %s", errUnsupportedModifier, core.IDField)
			}
			path := argList.add(fieldPath(field.Key)) + "::text[]"
			switch element.Key {
			case "$set":
				encoded, err := jsonValue(field.Value)
				if err != nil {
					return modification{}, err
				}
				expression = fmt.Sprintf("jsonb_set(%s, %s, %s::text::jsonb, true)", expression, path, argList.add(encoded))
			case "$unset":
				expression = fmt.Sprintf("(%s #- %s)", expression, path)
			case "$inc":
				encoded, err := jsonValue(field.Value)
				if err != nil {
					return modification{}, err
				}
				expression = fmt.Sprintf("jsonb_set(%s, %s, to_jsonb(COALESCE((%s #>> %s)::numeric, 0) + %s::text::numeric), true)",
					expression, path, expression, path, argList.add(encoded))
			default:
				return modification{}, fmt.Errorf("%w: %s", errUnsupportedModifier, element.Key)
			}
		}
	}
	return modification{expression: expression}, nil
}
