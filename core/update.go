// Package core provides the fundamental building blocks of the golemref library.
// This file defines the batched update command builder.
package core

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// UpdateSpec is a single match + modification pair of an update command.
//
// Upsert, Multi and Collation are nil unless set, deferring to the store's
// defaults.
type UpdateSpec struct {
	Query     *Condition
	Update    any
	Upsert    *bool
	Multi     *bool
	Collation *options.Collation
}

// NewUpdateSpec creates a spec that applies update to documents matching query.
//
// update is either an operator document ({"$set": ...}) or a replacement document.
func NewUpdateSpec(query *Condition, update any) UpdateSpec {
	return UpdateSpec{Query: query, Update: update}
}

// WithUpsert returns a copy of the spec with the upsert flag set.
func (s UpdateSpec) WithUpsert(upsert bool) UpdateSpec {
	s.Upsert = &upsert
	return s
}

// WithMulti returns a copy of the spec with the multi flag set.
func (s UpdateSpec) WithMulti(multi bool) UpdateSpec {
	s.Multi = &multi
	return s
}

// WithCollation returns a copy of the spec with a collation.
func (s UpdateSpec) WithCollation(collation *options.Collation) UpdateSpec {
	s.Collation = collation
	return s
}

// Document renders the spec in its wire form:
// { q, u, upsert?, multi?, collation? }.
func (s UpdateSpec) Document() bson.D {
	doc := bson.D{
		{Key: "q", Value: BuildFilter(s.Query)},
		{Key: "u", Value: s.Update},
	}
	if s.Upsert != nil {
		doc = append(doc, bson.E{Key: "upsert", Value: *s.Upsert})
	}
	if s.Multi != nil {
		doc = append(doc, bson.E{Key: "multi", Value: *s.Multi})
	}
	if s.Collation != nil {
		doc = append(doc, bson.E{Key: "collation", Value: s.Collation.ToDocument()})
	}
	return doc
}

// IsUpsert reports whether the spec inserts when nothing matches.
func (s UpdateSpec) IsUpsert() bool { return s.Upsert != nil && *s.Upsert }

// IsMulti reports whether the spec applies to every matching document.
func (s UpdateSpec) IsMulti() bool { return s.Multi != nil && *s.Multi }

// UpdateCommand is an ordered, non-empty batch of update specs bound to a
// collection. It is an immutable value: the With* methods return copies.
//
// Built with Collection.NewUpdate; sent once with Execute.
type UpdateCommand struct {
	collection               *Collection
	updateList               []UpdateSpec
	ordered                  *bool
	writeConcern             *WriteConcern
	bypassDocumentValidation *bool
}

// WithOrdered returns a copy of the command with the ordered flag set. When
// ordered (the default) the store stops at the first failing spec; otherwise
// it attempts every spec and reports all errors.
func (cmd UpdateCommand) WithOrdered(ordered bool) UpdateCommand {
	cmd.ordered = &ordered
	return cmd
}

// WithWriteConcern returns a copy of the command overriding the collection's write concern.
func (cmd UpdateCommand) WithWriteConcern(writeConcern *WriteConcern) UpdateCommand {
	cmd.writeConcern = writeConcern
	return cmd
}

// WithBypassDocumentValidation returns a copy of the command overriding the
// collection's validation-bypass flag.
func (cmd UpdateCommand) WithBypassDocumentValidation(bypass bool) UpdateCommand {
	cmd.bypassDocumentValidation = &bypass
	return cmd
}

// Collection returns the target collection name.
func (cmd UpdateCommand) Collection() string {
	if cmd.collection == nil {
		return ""
	}
	return cmd.collection.name
}

// Updates returns a copy of the specs in submission order.
func (cmd UpdateCommand) Updates() []UpdateSpec {
	return append([]UpdateSpec(nil), cmd.updateList...)
}

// Ordered reports the effective ordered flag.
func (cmd UpdateCommand) Ordered() bool {
	return cmd.ordered == nil || *cmd.ordered
}

// WriteConcern returns the effective write concern, nil for the store default.
func (cmd UpdateCommand) WriteConcern() *WriteConcern {
	return cmd.writeConcern
}

// BypassDocumentValidation returns the effective validation-bypass flag, nil when unset.
func (cmd UpdateCommand) BypassDocumentValidation() *bool {
	return cmd.bypassDocumentValidation
}

// Document renders the command in its wire form:
// { update, updates, ordered, writeConcern?, bypassDocumentValidation? }.
func (cmd UpdateCommand) Document() bson.D {
	updateDocList := make(bson.A, 0, len(cmd.updateList))
	for _, spec := range cmd.updateList {
		updateDocList = append(updateDocList, spec.Document())
	}
	doc := bson.D{
		{Key: "update", Value: cmd.Collection()},
		{Key: "updates", Value: updateDocList},
		{Key: "ordered", Value: cmd.Ordered()},
	}
	if cmd.writeConcern != nil {
		doc = append(doc, bson.E{Key: "writeConcern", Value: cmd.writeConcern})
	}
	if cmd.bypassDocumentValidation != nil {
		doc = append(doc, bson.E{Key: "bypassDocumentValidation", Value: *cmd.bypassDocumentValidation})
	}
	return doc
}

// Execute sends the command and interprets the reply.
//
// A reply with ok != 1 is returned as a *CommandError carrying the whole
// reply. A reply with ok == 1 is returned as is, even when it lists write
// errors; check Partial or WriteErrors before assuming every spec applied.
// Transport errors from the store are returned unchanged.
func (cmd UpdateCommand) Execute(ctx context.Context) (*UpdateReply, error) {
	if cmd.collection == nil || len(cmd.updateList) == 0 {
		return nil, ErrEmptyUpdate
	}
	db := cmd.collection.db

	var raw bson.Raw
	payload := OperationPayload{Collection: cmd.collection.name, Command: &cmd}
	err := db.dispatch(ctx, OperationCommand, payload, func(ctx context.Context) error {
		var err error
		raw, err = db.store.Execute(ctx, cmd)
		return err
	})
	if err != nil {
		return nil, err
	}

	reply, err := ParseUpdateReply(raw)
	if err != nil {
		return nil, fmt.Errorf("parse update reply: %w", err)
	}
	db.events.Emit(EventUpdate, UpdatePayload{Collection: cmd.collection.name, Reply: reply})

	if !reply.Succeeded() {
		db.logger.WarnContext(ctx, "update command failed",
			"collection", cmd.collection.name,
			"ok", reply.OK,
			"writeErrors", len(reply.WriteErrors),
		)
		return nil, &CommandError{Reply: reply}
	}
	if reply.Partial() {
		db.logger.WarnContext(ctx, "update command completed with failures",
			"collection", cmd.collection.name,
			"matched", reply.N,
			"modified", reply.NModified,
			"failed", reply.FailedIndexes(),
		)
	}
	return reply, nil
}

// Upserted is one document created by an upserting spec.
type Upserted struct {
	Index int
	ID    any
}

// ObjectID returns the upserted identifier as an ObjectID when it is one.
func (u Upserted) ObjectID() (primitive.ObjectID, bool) {
	oid, ok := u.ID.(primitive.ObjectID)
	return oid, ok
}
