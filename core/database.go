// Package core provides the fundamental building blocks of the golemref library.
// This file defines the Database and Collection handles, which bind a Store
// to write defaults, middlewares, events and a logger.
package core

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

// WriteConcern is the acknowledgment level requested for a write.
type WriteConcern struct {
	W        any   `bson:"w,omitempty"`        // number of nodes or "majority"
	J        *bool `bson:"j,omitempty"`        // wait for the journal
	WTimeout int64 `bson:"wtimeout,omitempty"` // milliseconds
}

// Majority requests acknowledgment from a majority of nodes.
func Majority() *WriteConcern {
	return &WriteConcern{W: "majority"}
}

// Database binds a Store to the settings shared by all of its collections.
type Database struct {
	store                    Store
	logger                   *slog.Logger
	events                   *EventDispatcher
	writeConcern             *WriteConcern
	bypassDocumentValidation *bool

	mutex          sync.RWMutex
	middlewareList []Middleware
}

// Option configures a Database.
type Option func(*Database)

// WithLogger sets the logger used for resolution and command diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(db *Database) { db.logger = logger }
}

// WithWriteConcern sets the default write concern for all collections.
func WithWriteConcern(writeConcern *WriteConcern) Option {
	return func(db *Database) { db.writeConcern = writeConcern }
}

// WithBypassDocumentValidation sets the default validation-bypass flag for all collections.
func WithBypassDocumentValidation(bypass bool) Option {
	return func(db *Database) { db.bypassDocumentValidation = &bypass }
}

// WithMiddleware registers middlewares at construction time.
func WithMiddleware(middlewareList ...Middleware) Option {
	return func(db *Database) { db.middlewareList = append(db.middlewareList, middlewareList...) }
}

// NewDatabase creates a Database bound to a store.
//
// Example:
//
//	store, _ := mongo.NewMongoDriver(ctx, cfg)
//	db := core.NewDatabase(store, core.WithWriteConcern(core.Majority()))
func NewDatabase(store Store, optionList ...Option) *Database {
	db := &Database{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		events: NewEventDispatcher(),
	}
	for _, option := range optionList {
		option(db)
	}
	return db
}

// Use registers a middleware applied to every subsequent store call.
func (db *Database) Use(mw Middleware) {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	db.middlewareList = append(db.middlewareList, mw)
}

// On registers an event handler.
func (db *Database) On(event Event, handler EventHandler) {
	db.events.On(event, handler)
}

// Events returns the database's event dispatcher.
func (db *Database) Events() *EventDispatcher {
	return db.events
}

// Logger returns the configured logger.
func (db *Database) Logger() *slog.Logger {
	return db.logger
}

// dispatch runs exec through the registered middleware chain.
func (db *Database) dispatch(ctx context.Context, op Operation, payload OperationPayload, exec func(ctx context.Context) error) error {
	db.mutex.RLock()
	middlewareList := append([]Middleware(nil), db.middlewareList...)
	db.mutex.RUnlock()

	handler := chainMiddlewares(middlewareList, func(ctx context.Context, _ Operation, _ OperationPayload) error {
		return exec(ctx)
	})
	return handler(ctx, op, payload)
}

// Collection is a named collection with its write defaults.
type Collection struct {
	db                       *Database
	name                     string
	writeConcern             *WriteConcern
	bypassDocumentValidation *bool
}

// CollectionOption configures a Collection.
type CollectionOption func(*Collection)

// CollectionWriteConcern overrides the database write concern for one collection.
func CollectionWriteConcern(writeConcern *WriteConcern) CollectionOption {
	return func(c *Collection) { c.writeConcern = writeConcern }
}

// CollectionBypassDocumentValidation overrides the database validation-bypass flag.
func CollectionBypassDocumentValidation(bypass bool) CollectionOption {
	return func(c *Collection) { c.bypassDocumentValidation = &bypass }
}

// Collection returns a handle to the named collection, inheriting the
// database defaults unless overridden.
func (db *Database) Collection(name string, optionList ...CollectionOption) *Collection {
	coll := &Collection{
		db:                       db,
		name:                     name,
		writeConcern:             db.writeConcern,
		bypassDocumentValidation: db.bypassDocumentValidation,
	}
	for _, option := range optionList {
		option(coll)
	}
	return coll
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Database returns the owning database.
func (c *Collection) Database() *Database { return c.db }

// FindOne returns the first document matching the filter, or nil when none does.
func (c *Collection) FindOne(ctx context.Context, filter *Condition) (bson.Raw, error) {
	var raw bson.Raw
	err := c.db.dispatch(ctx, OperationFind, OperationPayload{Collection: c.name, Filter: filter}, func(ctx context.Context) error {
		var err error
		raw, err = c.db.store.FindOne(ctx, c.name, filter)
		return err
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// Count returns the number of documents matching the filter.
func (c *Collection) Count(ctx context.Context, filter *Condition) (int64, error) {
	var count int64
	err := c.db.dispatch(ctx, OperationCount, OperationPayload{Collection: c.name, Filter: filter}, func(ctx context.Context) error {
		var err error
		count, err = c.db.store.Count(ctx, c.name, filter)
		return err
	})
	return count, err
}

// DeleteOne removes at most one document matching the filter.
func (c *Collection) DeleteOne(ctx context.Context, filter *Condition) (DeleteReply, error) {
	var reply DeleteReply
	err := c.db.dispatch(ctx, OperationDelete, OperationPayload{Collection: c.name, Filter: filter}, func(ctx context.Context) error {
		var err error
		reply, err = c.db.store.DeleteOne(ctx, c.name, filter)
		return err
	})
	return reply, err
}

// NewUpdate builds an update command against this collection. The command
// inherits the collection's write concern and validation-bypass defaults.
//
// Example:
//
//	cmd, err := coll.NewUpdate(
//		core.NewUpdateSpec(core.ByID(id), bson.M{"$set": bson.M{"name": "Ada"}}),
//	)
//	reply, err := cmd.Execute(ctx)
func (c *Collection) NewUpdate(specList ...UpdateSpec) (UpdateCommand, error) {
	if len(specList) == 0 {
		return UpdateCommand{}, ErrEmptyUpdate
	}
	return UpdateCommand{
		collection:               c,
		updateList:               append([]UpdateSpec(nil), specList...),
		writeConcern:             c.writeConcern,
		bypassDocumentValidation: c.bypassDocumentValidation,
	}, nil
}
