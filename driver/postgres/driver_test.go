package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/leandroluk/golemref/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte("conn_string: postgres://app@localhost/app\nschema: documents\n"))
	require.NoError(t, err)
	assert.Equal(t, Config{ConnString: "postgres://app@localhost/app", Schema: "documents"}, cfg)

	_, err = ParseConfig([]byte("schema: documents\n"))
	assert.Error(t, err)

	_, err = ParseConfig([]byte("conn_string: [unterminated"))
	assert.Error(t, err)
}

func TestTableName(t *testing.T) {
	assert.Equal(t, `"users"`, NewFromPool(nil, "").table("users"))
	assert.Equal(t, `"documents"."user""s"`, NewFromPool(nil, "documents").table(`user"s`))
}

func TestSeedDocument(t *testing.T) {
	t.Run("FromQuery", func(t *testing.T) {
		spec := core.NewUpdateSpec(core.ByID("u1").And(core.Field("profile.team").Eq("core")), bson.M{"$set": bson.M{"a": 1}})
		seed, err := seedDocument(spec)
		require.NoError(t, err)
		assert.Equal(t, bson.M{"_id": "u1", "profile": bson.M{"team": "core"}}, seed)
	})

	t.Run("FromReplacement", func(t *testing.T) {
		spec := core.NewUpdateSpec(core.Field("name").Eq("Ada"), bson.M{"_id": "given", "name": "Ada"})
		seed, err := seedDocument(spec)
		require.NoError(t, err)
		assert.Equal(t, "given", seed["_id"])
	})

	t.Run("Generated", func(t *testing.T) {
		seed, err := seedDocument(core.NewUpdateSpec(nil, bson.M{"$set": bson.M{"a": 1}}))
		require.NoError(t, err)
		id, ok := seed["_id"].(string)
		require.True(t, ok)
		_, err = uuid.Parse(id)
		assert.NoError(t, err)
	})
}

func TestToWriteError(t *testing.T) {
	writeError, ok := toWriteError(2, &pgconn.PgError{Code: uniqueViolation, Message: "duplicate key value"})
	require.True(t, ok)
	assert.Equal(t, core.WriteError{Index: 2, Code: codeDuplicateKey, ErrMsg: "duplicate key value"}, writeError)

	writeError, ok = toWriteError(0, fmt.Errorf("exec: %w", &pgconn.PgError{Code: "22P02", Message: "invalid input"}))
	require.True(t, ok)
	assert.Equal(t, codeUnknown, writeError.Code)

	writeError, ok = toWriteError(1, fmt.Errorf("%w: $push", errUnsupportedModifier))
	require.True(t, ok)
	assert.Equal(t, codeFailedToParse, writeError.Code)
	assert.Equal(t, 1, writeError.Index)

	_, ok = toWriteError(0, errors.New("connection reset"))
	assert.False(t, ok)
}

func TestDecode(t *testing.T) {
	raw, err := decodeDocument(`{"_id": {"$oid": "64b7f0c2a1b2c3d4e5f60718"}, "name": "Ada", "age": 36}`)
	require.NoError(t, err)
	oid, ok := raw.Lookup("_id").ObjectIDOK()
	require.True(t, ok)
	assert.Equal(t, "64b7f0c2a1b2c3d4e5f60718", oid.Hex())
	assert.Equal(t, "Ada", raw.Lookup("name").StringValue())
	assert.EqualValues(t, 36, raw.Lookup("age").Int32())

	value, err := decodeValue(`"u9"`)
	require.NoError(t, err)
	assert.Equal(t, "u9", value)

	_, err = decodeDocument("not json")
	assert.Error(t, err)
}

func TestExecuteSpecs(t *testing.T) {
	errReset := errors.New("connection reset")
	specList := []core.UpdateSpec{
		core.NewUpdateSpec(core.ByID("a"), bson.M{"$set": bson.M{"n": 1}}),
		core.NewUpdateSpec(core.ByID("b"), bson.M{"$set": bson.M{"n": 2}}),
		core.NewUpdateSpec(core.ByID("c"), bson.M{"$set": bson.M{"n": 3}}),
	}
	newCommand := func(t *testing.T, ordered bool) core.UpdateCommand {
		t.Helper()
		cmd, err := core.NewDatabase(NewFromPool(nil, "")).Collection("items").NewUpdate(specList...)
		require.NoError(t, err)
		return cmd.WithOrdered(ordered)
	}
	applyWith := func(failures map[any]error) (func(core.UpdateSpec) (specResult, error), *[]any) {
		appliedList := []any{}
		return func(spec core.UpdateSpec) (specResult, error) {
			id := spec.Query.Value
			appliedList = append(appliedList, id)
			if err, ok := failures[id]; ok {
				return specResult{}, err
			}
			return specResult{matched: 1, modified: 1}, nil
		}, &appliedList
	}

	t.Run("AllApplied", func(t *testing.T) {
		apply, _ := applyWith(nil)
		reply, err := executeSpecs(newCommand(t, true), apply)
		require.NoError(t, err)
		assert.EqualValues(t, 3, reply.N)
		assert.EqualValues(t, 3, reply.NModified)
	})

	t.Run("ConnectionErrorKeepsCommittedCounts", func(t *testing.T) {
		apply, appliedList := applyWith(map[any]error{"b": errReset})
		_, err := executeSpecs(newCommand(t, false), apply)

		var execErr *ExecutionError
		require.ErrorAs(t, err, &execErr)
		assert.ErrorIs(t, err, errReset)
		assert.Equal(t, 1, execErr.Index)
		assert.EqualValues(t, 1, execErr.Reply.N)
		assert.EqualValues(t, 1, execErr.Reply.NModified)
		assert.Equal(t, []any{"a", "b"}, *appliedList)
	})

	t.Run("OrderedStopsAtWriteError", func(t *testing.T) {
		apply, appliedList := applyWith(map[any]error{"b": &pgconn.PgError{Code: uniqueViolation, Message: "duplicate key value"}})
		reply, err := executeSpecs(newCommand(t, true), apply)
		require.NoError(t, err)
		assert.Equal(t, []int{1}, reply.FailedIndexes())
		assert.EqualValues(t, 1, reply.N)
		assert.Equal(t, []any{"a", "b"}, *appliedList)
	})

	t.Run("UnorderedContinuesAfterWriteError", func(t *testing.T) {
		apply, appliedList := applyWith(map[any]error{"b": &pgconn.PgError{Code: uniqueViolation, Message: "duplicate key value"}})
		reply, err := executeSpecs(newCommand(t, false), apply)
		require.NoError(t, err)
		assert.Equal(t, []int{1}, reply.FailedIndexes())
		assert.EqualValues(t, 2, reply.N)
		assert.Equal(t, []any{"a", "b", "c"}, *appliedList)
	})
}
