// Package mongo implements core.Store on top of the official MongoDB driver.
package mongo

import (
	"context"
	"errors"

	"github.com/leandroluk/golemref/core"
	"go.mongodb.org/mongo-driver/bson"
	mongodb "go.mongodb.org/mongo-driver/mongo"
	mopt "go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDriver is a core.Store backed by a MongoDB database.
type MongoDriver struct {
	client   *mongodb.Client
	database *mongodb.Database
}

var _ core.Store = (*MongoDriver)(nil)

// NewMongoDriver connects to the server described by cfg and verifies the
// connection with a ping.
//
// Example:
//
//	cfg, _ := mongo.LoadConfig("config/mongo.yaml")
//	store, err := mongo.NewMongoDriver(ctx, cfg)
//	db := core.NewDatabase(store)
func NewMongoDriver(ctx context.Context, cfg Config) (*MongoDriver, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := mopt.Client().ApplyURI(cfg.URI)
	opts.SetConnectTimeout(cfg.ConnectTimeout).SetServerSelectionTimeout(cfg.ServerSelectionTimeout)
	client, err := mongodb.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return NewFromDatabase(client.Database(cfg.Database)), nil
}

// NewFromDatabase wraps an already connected database handle.
func NewFromDatabase(database *mongodb.Database) *MongoDriver {
	return &MongoDriver{client: database.Client(), database: database}
}

// Ping checks if the server is reachable.
func (driver *MongoDriver) Ping(ctx context.Context) error {
	return driver.client.Ping(ctx, nil)
}

// Close disconnects the underlying client.
func (driver *MongoDriver) Close(ctx context.Context) error {
	return driver.client.Disconnect(ctx)
}

func (driver *MongoDriver) coll(name string) *mongodb.Collection {
	return driver.database.Collection(name)
}

// FindOne returns the first document matching the filter, or nil.
func (driver *MongoDriver) FindOne(ctx context.Context, collection string, filter *core.Condition) (bson.Raw, error) {
	raw, err := driver.coll(collection).FindOne(ctx, core.BuildFilter(filter)).Raw()
	if errors.Is(err, mongodb.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// Count returns the number of documents matching the filter.
func (driver *MongoDriver) Count(ctx context.Context, collection string, filter *core.Condition) (int64, error) {
	return driver.coll(collection).CountDocuments(ctx, core.BuildFilter(filter))
}

// DeleteOne removes at most one matching document. Server write errors are
// reported in the reply rather than as an error.
func (driver *MongoDriver) DeleteOne(ctx context.Context, collection string, filter *core.Condition) (core.DeleteReply, error) {
	result, err := driver.coll(collection).DeleteOne(ctx, core.BuildFilter(filter))
	if err != nil {
		var writeException mongodb.WriteException
		if errors.As(err, &writeException) && len(writeException.WriteErrors) > 0 {
			return core.DeleteReply{WriteErrors: toWriteErrors(writeException.WriteErrors)}, nil
		}
		return core.DeleteReply{}, err
	}
	return core.DeleteReply{DeletedCount: result.DeletedCount}, nil
}

// Execute runs the update command and returns the server reply, including
// replies the driver reports as errors (ok: 0 or writeErrors).
func (driver *MongoDriver) Execute(ctx context.Context, command core.UpdateCommand) (bson.Raw, error) {
	raw, err := driver.database.RunCommand(ctx, command.Document()).Raw()
	if err != nil {
		if reply, ok := replyFromError(err); ok {
			return reply, nil
		}
		return nil, err
	}
	return raw, nil
}
