package memory

import (
	"bytes"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/leandroluk/golemref/core"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// normalize converts a Go value into the form it takes after a round trip
// through BSON, so values from conditions compare equal to stored values.
func normalize(value any) (any, error) {
	data, err := bson.Marshal(bson.D{{Key: "v", Value: value}})
	if err != nil {
		return nil, err
	}
	var holder bson.M
	if err := bson.Unmarshal(data, &holder); err != nil {
		return nil, err
	}
	return holder["v"], nil
}

// toDocument converts any document-like value into a bson.M.
func toDocument(value any) (bson.M, error) {
	data, err := bson.Marshal(value)
	if err != nil {
		return nil, err
	}
	doc := bson.M{}
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// lookup resolves a dotted path inside a document.
func lookup(doc bson.M, path string) (any, bool) {
	var current any = doc
	for _, key := range strings.Split(path, ".") {
		m, ok := current.(bson.M)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// match reports whether doc satisfies the condition.
func match(doc bson.M, condition *core.Condition) (bool, error) {
	if condition.IsEmpty() || condition.Operator == nil {
		return true, nil
	}
	switch *condition.Operator {
	case core.OpAnd:
		for _, child := range condition.Children {
			ok, err := match(doc, child)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case core.OpOr:
		for _, child := range condition.Children {
			ok, err := match(doc, child)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case core.OpNot:
		for _, child := range condition.Children {
			ok, err := match(doc, child)
			if err != nil {
				return false, err
			}
			if ok {
				return false, nil
			}
		}
		return true, nil
	}

	actual, found := lookup(doc, condition.FieldName)
	if *condition.Operator == core.OpNil {
		return !found || actual == nil, nil
	}
	if *condition.Operator == core.OpLike {
		if !found {
			return false, nil
		}
		pattern, err := regexp.Compile("(?i)" + core.LikePattern(fmt.Sprintf("%v", condition.Value)))
		if err != nil {
			return false, err
		}
		return pattern.MatchString(fmt.Sprintf("%v", actual)), nil
	}
	if *condition.Operator == core.OpIn {
		for _, candidate := range core.ValueList(condition.Value) {
			expected, err := normalize(candidate)
			if err != nil {
				return false, err
			}
			if found && equalOrContains(actual, expected) {
				return true, nil
			}
		}
		return false, nil
	}

	expected, err := normalize(condition.Value)
	if err != nil {
		return false, err
	}
	switch *condition.Operator {
	case core.OpEq:
		return found && equalOrContains(actual, expected), nil
	case core.OpNe:
		return !found || !equalOrContains(actual, expected), nil
	}
	if !found {
		return false, nil
	}
	order, comparable := compare(actual, expected)
	if !comparable {
		return false, nil
	}
	switch *condition.Operator {
	case core.OpGt:
		return order > 0, nil
	case core.OpGte:
		return order >= 0, nil
	case core.OpLt:
		return order < 0, nil
	case core.OpLte:
		return order <= 0, nil
	}
	return false, fmt.Errorf("unsupported operator %s", *condition.Operator)
}

// equalOrContains applies equality, matching array fields when any element
// equals the expected scalar.
func equalOrContains(actual, expected any) bool {
	if equal(actual, expected) {
		return true
	}
	if array, ok := actual.(bson.A); ok {
		for _, element := range array {
			if equal(element, expected) {
				return true
			}
		}
	}
	return false
}

func equal(a, b any) bool {
	if order, ok := compare(a, b); ok {
		return order == 0
	}
	return reflect.DeepEqual(a, b)
}

// compare orders two scalars of compatible kinds.
func compare(a, b any) (int, bool) {
	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case primitive.ObjectID:
		y, ok := b.(primitive.ObjectID)
		if !ok {
			return 0, false
		}
		return bytes.Compare(x[:], y[:]), true
	case primitive.DateTime:
		y, ok := b.(primitive.DateTime)
		if !ok {
			return 0, false
		}
		return x.Time().Compare(y.Time()), true
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}
