// Package core provides the fundamental building blocks of the golemref library.
// It defines references and their resolution, predicates, batched update
// commands and the store contract implemented by drivers.
package core

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// Store defines the contract for document-store backends.
//
// Each driver (e.g., MongoDriver, PostgresDriver, MemoryStore) implements this
// interface. Implementations must be safe for concurrent use; the core never
// locks around them.
type Store interface {
	// FindOne returns the first document matching the filter, or a nil
	// bson.Raw and a nil error when nothing matches.
	FindOne(ctx context.Context, collection string, filter *Condition) (bson.Raw, error)
	// Count returns the number of documents matching the filter.
	Count(ctx context.Context, collection string, filter *Condition) (int64, error)
	// DeleteOne removes at most one document matching the filter.
	DeleteOne(ctx context.Context, collection string, filter *Condition) (DeleteReply, error)
	// Execute sends an update command and returns the raw reply document.
	// A reply with ok != 1 must be returned as data, not as an error.
	Execute(ctx context.Context, command UpdateCommand) (bson.Raw, error)
}

// DeleteReply is the store's answer to a DeleteOne call.
type DeleteReply struct {
	DeletedCount int64
	WriteErrors  []WriteError
}
