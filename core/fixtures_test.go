package core_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/leandroluk/golemref/core"
	"github.com/leandroluk/golemref/driver/memory"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

type User struct {
	ID     string `bson:"_id" json:"id"`
	Name   string `bson:"name" json:"name"`
	Age    int    `bson:"age" json:"age"`
	Active bool   `bson:"active" json:"active"`
}

func (User) CollectionName() string { return "users" }

func (u User) Identifier() string { return u.ID }

func (User) Mutable() {}

type Post struct {
	ID     string                        `bson:"_id" json:"id"`
	Author core.Reference[User, string]  `bson:"author" json:"author"`
	Editor *core.Reference[User, string] `bson:"editor,omitempty" json:"editor,omitempty"`
}

func (Post) CollectionName() string { return "posts" }

var errBoom = errors.New("boom")

var userList = []User{
	{ID: "u1", Name: "Ada", Age: 36, Active: true},
	{ID: "u2", Name: "Grace", Age: 45, Active: true},
	{ID: "u3", Name: "Linus", Age: 28, Active: false},
}

// newMemoryDatabase returns a database over a memory store seeded with userList.
func newMemoryDatabase(t *testing.T, optionList ...core.Option) (*core.Database, *memory.MemoryStore) {
	t.Helper()
	store := memory.NewMemoryStore()
	for _, user := range userList {
		require.NoError(t, store.Insert(context.Background(), "users", user))
	}
	return core.NewDatabase(store, optionList...), store
}

// callCounter counts store calls per operation.
type callCounter struct {
	mutex     sync.Mutex
	countList map[core.Operation]int
	total     atomic.Int64
}

func newCallCounter() *callCounter {
	return &callCounter{countList: make(map[core.Operation]int)}
}

func (c *callCounter) Middleware() core.Middleware {
	return func(next core.Handler) core.Handler {
		return func(ctx context.Context, op core.Operation, payload core.OperationPayload) error {
			c.mutex.Lock()
			c.countList[op]++
			c.mutex.Unlock()
			c.total.Add(1)
			return next(ctx, op, payload)
		}
	}
}

func (c *callCounter) Count(op core.Operation) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.countList[op]
}

// failOnID short-circuits lookups whose filter targets id.
func failOnID(id any, err error) core.Middleware {
	return func(next core.Handler) core.Handler {
		return func(ctx context.Context, op core.Operation, payload core.OperationPayload) error {
			if payload.Filter != nil && payload.Filter.FieldName == core.IDField && payload.Filter.Value == id {
				return err
			}
			return next(ctx, op, payload)
		}
	}
}

// stubStore answers every call through optional callbacks.
type stubStore struct {
	findOne   func(ctx context.Context, collection string, filter *core.Condition) (bson.Raw, error)
	count     func(ctx context.Context, collection string, filter *core.Condition) (int64, error)
	deleteOne func(ctx context.Context, collection string, filter *core.Condition) (core.DeleteReply, error)
	execute   func(ctx context.Context, command core.UpdateCommand) (bson.Raw, error)
}

var _ core.Store = (*stubStore)(nil)

func (s *stubStore) FindOne(ctx context.Context, collection string, filter *core.Condition) (bson.Raw, error) {
	if s.findOne == nil {
		return nil, nil
	}
	return s.findOne(ctx, collection, filter)
}

func (s *stubStore) Count(ctx context.Context, collection string, filter *core.Condition) (int64, error) {
	if s.count == nil {
		return 0, nil
	}
	return s.count(ctx, collection, filter)
}

func (s *stubStore) DeleteOne(ctx context.Context, collection string, filter *core.Condition) (core.DeleteReply, error) {
	if s.deleteOne == nil {
		return core.DeleteReply{}, nil
	}
	return s.deleteOne(ctx, collection, filter)
}

func (s *stubStore) Execute(ctx context.Context, command core.UpdateCommand) (bson.Raw, error) {
	if s.execute == nil {
		return bson.Marshal(bson.D{{Key: "ok", Value: 1}, {Key: "n", Value: 0}, {Key: "nModified", Value: 0}})
	}
	return s.execute(ctx, command)
}

// replyOf answers Execute with a fixed reply document.
func replyOf(t *testing.T, doc bson.D) func(context.Context, core.UpdateCommand) (bson.Raw, error) {
	t.Helper()
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	return func(context.Context, core.UpdateCommand) (bson.Raw, error) {
		return raw, nil
	}
}
