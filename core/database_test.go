package core_test

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/leandroluk/golemref/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestCollectionDefaults(t *testing.T) {
	db := core.NewDatabase(&stubStore{}, core.WithWriteConcern(core.Majority()), core.WithBypassDocumentValidation(true))

	inherited := db.Collection("users")
	assert.Equal(t, "users", inherited.Name())
	assert.Same(t, db, inherited.Database())

	cmd, err := inherited.NewUpdate(core.NewUpdateSpec(nil, bson.M{"$set": bson.M{"a": 1}}))
	require.NoError(t, err)
	assert.Equal(t, core.Majority(), cmd.WriteConcern())
	require.NotNil(t, cmd.BypassDocumentValidation())
	assert.True(t, *cmd.BypassDocumentValidation())

	journaled := true
	override := &core.WriteConcern{W: 1, J: &journaled}
	overridden := db.Collection("users", core.CollectionWriteConcern(override), core.CollectionBypassDocumentValidation(false))
	cmd, err = overridden.NewUpdate(core.NewUpdateSpec(nil, bson.M{"$set": bson.M{"a": 1}}))
	require.NoError(t, err)
	assert.Same(t, override, cmd.WriteConcern())
	assert.False(t, *cmd.BypassDocumentValidation())

	cmd = cmd.WithWriteConcern(nil)
	assert.Nil(t, cmd.WriteConcern())
}

func TestMiddlewareOrder(t *testing.T) {
	var (
		mutex     sync.Mutex
		traceList []string
	)
	trace := func(name string) core.Middleware {
		return func(next core.Handler) core.Handler {
			return func(ctx context.Context, op core.Operation, payload core.OperationPayload) error {
				mutex.Lock()
				traceList = append(traceList, name+":"+string(op))
				mutex.Unlock()
				return next(ctx, op, payload)
			}
		}
	}

	db, _ := newMemoryDatabase(t, core.WithMiddleware(trace("first")))
	db.Use(trace("second"))

	_, err := core.UnsafeRef[User]("u1").Exists(context.Background(), db, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"second:count", "first:count"}, traceList)
}

func TestMiddlewarePayload(t *testing.T) {
	var payloadList []core.OperationPayload
	capture := func(next core.Handler) core.Handler {
		return func(ctx context.Context, op core.Operation, payload core.OperationPayload) error {
			payloadList = append(payloadList, payload)
			return next(ctx, op, payload)
		}
	}
	db, _ := newMemoryDatabase(t, core.WithMiddleware(capture))

	cmd, err := db.Collection("users").NewUpdate(core.NewUpdateSpec(core.ByID("u1"), bson.M{"$set": bson.M{"age": 37}}))
	require.NoError(t, err)
	_, err = cmd.Execute(context.Background())
	require.NoError(t, err)

	require.Len(t, payloadList, 1)
	assert.Equal(t, "users", payloadList[0].Collection)
	require.NotNil(t, payloadList[0].Command)
	assert.Len(t, payloadList[0].Command.Updates(), 1)
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	db, _ := newMemoryDatabase(t)

	resolved := make(chan core.ResolvePayload, 4)
	db.On(core.EventResolve, func(payload any) {
		resolved <- payload.(core.ResolvePayload)
	})
	updated := make(chan core.UpdatePayload, 1)
	db.Events().On(core.EventUpdate, func(payload any) {
		updated <- payload.(core.UpdatePayload)
	})
	deleted := make(chan core.DeletePayload, 1)
	db.On(core.EventDelete, func(payload any) {
		deleted <- payload.(core.DeletePayload)
	})

	_, err := core.UnsafeRef[User]("missing").ResolveIfPresent(ctx, db, nil)
	require.NoError(t, err)
	select {
	case payload := <-resolved:
		assert.Equal(t, core.ResolvePayload{Collection: "users", Identifier: "missing", Found: false}, payload)
	case <-time.After(time.Second):
		t.Fatal("resolve event not emitted")
	}

	cmd, err := db.Collection("users").NewUpdate(core.NewUpdateSpec(core.ByID("u1"), bson.M{"$inc": bson.M{"age": 1}}))
	require.NoError(t, err)
	_, err = cmd.Execute(ctx)
	require.NoError(t, err)
	select {
	case payload := <-updated:
		assert.Equal(t, "users", payload.Collection)
		assert.EqualValues(t, 1, payload.Reply.NModified)
	case <-time.After(time.Second):
		t.Fatal("update event not emitted")
	}

	_, err = core.DeleteTarget(ctx, db, core.UnsafeRef[User]("u1"))
	require.NoError(t, err)
	select {
	case payload := <-deleted:
		assert.Equal(t, core.DeletePayload{Collection: "users", Identifier: "u1", Deleted: 1}, payload)
	case <-time.After(time.Second):
		t.Fatal("delete event not emitted")
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buffer bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buffer, &slog.HandlerOptions{Level: slog.LevelDebug}))

	db, _ := newMemoryDatabase(t, core.WithMiddleware(failOnID("u2", errBoom), core.LoggingMiddleware(logger)))

	_, err := core.UnsafeRef[User]("u1").Resolve(context.Background(), db, nil)
	require.NoError(t, err)
	assert.Contains(t, buffer.String(), "store call completed")
	assert.Contains(t, buffer.String(), "op=find")
	assert.Contains(t, buffer.String(), "collection=users")

	buffer.Reset()
	_, err = core.UnsafeRef[User]("u2").Resolve(context.Background(), db, nil)
	require.ErrorIs(t, err, errBoom)
	assert.Contains(t, buffer.String(), "level=ERROR")
	assert.Contains(t, buffer.String(), "error=boom")
}

func TestDatabaseLogger(t *testing.T) {
	var buffer bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buffer, &slog.HandlerOptions{Level: slog.LevelDebug}))
	db, _ := newMemoryDatabase(t, core.WithLogger(logger))
	assert.Same(t, logger, db.Logger())

	_, err := core.UnsafeRef[User]("missing").ResolveIfPresent(context.Background(), db, nil)
	require.NoError(t, err)
	assert.Contains(t, buffer.String(), "reference target not found")

	assert.NotNil(t, core.NewDatabase(&stubStore{}).Logger())
}
