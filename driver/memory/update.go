package memory

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/leandroluk/golemref/core"
	"go.mongodb.org/mongo-driver/bson"
)

// Error codes reported in write errors, matching the server's numbering.
const (
	codeFailedToParse  = 9
	codeTypeMismatch   = 14
	codeImmutableField = 66
	codeDuplicateKey   = 11000
)

// writeFailure is a spec-level failure turned into a write error.
type writeFailure struct {
	code    int
	message string
}

func (f *writeFailure) Error() string { return f.message }

func failure(code int, format string, args ...any) *writeFailure {
	return &writeFailure{code: code, message: fmt.Sprintf(format, args...)}
}

// isOperatorDocument reports whether every key of update is an update operator.
func isOperatorDocument(update bson.M) (bool, error) {
	operatorCount := 0
	for key := range update {
		if strings.HasPrefix(key, "$") {
			operatorCount++
		}
	}
	switch operatorCount {
	case 0:
		return false, nil
	case len(update):
		return true, nil
	}
	return false, failure(codeFailedToParse, "update document mixes operators and fields")
}

// applyUpdate returns a modified copy of doc. doc itself is left untouched.
func applyUpdate(doc bson.M, update bson.M) (bson.M, error) {
	operator, err := isOperatorDocument(update)
	if err != nil {
		return nil, err
	}
	if !operator {
		if id, ok := update[core.IDField]; ok && !equal(id, doc[core.IDField]) {
			return nil, failure(codeImmutableField, "the (immutable) field '_id' was found to have been altered")
		}
		replacement, err := toDocument(update)
		if err != nil {
			return nil, err
		}
		if id, ok := doc[core.IDField]; ok {
			replacement[core.IDField] = id
		}
		return replacement, nil
	}

	result, err := toDocument(doc)
	if err != nil {
		return nil, err
	}
	for name, argument := range update {
		fieldList, ok := argument.(bson.M)
		if !ok {
			return nil, failure(codeFailedToParse, "modifier %s expects a document", name)
		}
		for path, value := range fieldList {
			if path == core.IDField && !(name == "$set" && equal(value, doc[core.IDField])) {
				return nil, failure(codeImmutableField, "performing an update on the path '_id' would modify the immutable field '_id'")
			}
			switch name {
			case "$set":
				setPath(result, path, value)
			case "$unset":
				unsetPath(result, path)
			case "$inc":
				current, _ := lookup(result, path)
				sum, err := add(current, value)
				if err != nil {
					return nil, err
				}
				setPath(result, path, sum)
			default:
				return nil, failure(codeFailedToParse, "unknown modifier: %s", name)
			}
		}
	}
	return result, nil
}

func setPath(doc bson.M, path string, value any) {
	keyList := strings.Split(path, ".")
	current := doc
	for _, key := range keyList[:len(keyList)-1] {
		next, ok := current[key].(bson.M)
		if !ok {
			next = bson.M{}
			current[key] = next
		}
		current = next
	}
	current[keyList[len(keyList)-1]] = value
}

func unsetPath(doc bson.M, path string) {
	keyList := strings.Split(path, ".")
	current := doc
	for _, key := range keyList[:len(keyList)-1] {
		next, ok := current[key].(bson.M)
		if !ok {
			return
		}
		current = next
	}
	delete(current, keyList[len(keyList)-1])
}

// add implements $inc. A missing field counts as zero.
func add(current, delta any) (any, error) {
	if current == nil {
		current = int32(0)
	}
	if _, ok := toFloat(delta); !ok {
		return nil, failure(codeTypeMismatch, "cannot increment with non-numeric argument")
	}
	if _, ok := toFloat(current); !ok {
		return nil, failure(codeTypeMismatch, "cannot apply $inc to a value of non-numeric type %T", current)
	}
	switch x := current.(type) {
	case float64:
		y, _ := toFloat(delta)
		return x + y, nil
	}
	if y, ok := delta.(float64); ok {
		x, _ := toFloat(current)
		return x + y, nil
	}
	x := reflect.ValueOf(current).Int()
	y := reflect.ValueOf(delta).Int()
	sum := x + y
	_, currentIs32 := current.(int32)
	_, deltaIs32 := delta.(int32)
	if currentIs32 && deltaIs32 && sum >= math.MinInt32 && sum <= math.MaxInt32 {
		return int32(sum), nil
	}
	return sum, nil
}
