// Package core provides the fundamental building blocks of the golemref library.
// This file defines Reference, a typed identifier pointing at an entity in a
// named collection, and the operations resolving it against a Database.
package core

import (
	"context"
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// Model is implemented by every entity type that can be the target of a
// Reference.
//
// CollectionName is called on the zero value of the type, so pointer
// receivers must not dereference.
type Model interface {
	CollectionName() string
}

// Entity is a Model that knows its own identifier.
type Entity[ID comparable] interface {
	Model
	Identifier() ID
}

// MutableModel marks a Model whose documents may be deleted through a Reference.
type MutableModel interface {
	Model
	Mutable()
}

// Reference is a typed identifier for an entity of type M stored in
// M's collection.
//
// Two references are equal when their identifiers are equal; M only tags the
// target type. On the wire a reference is the bare identifier.
//
// Example:
//
//	type Post struct {
//		ID     string                          `bson:"_id"`
//		Author core.Reference[User, string]    `bson:"author"`
//	}
//
//	user, err := post.Author.Resolve(ctx, db, nil)
type Reference[M Model, ID comparable] struct {
	id ID
}

// RefTo creates a reference to a loaded entity.
func RefTo[M Entity[ID], ID comparable](entity M) Reference[M, ID] {
	return Reference[M, ID]{id: entity.Identifier()}
}

// UnsafeRef creates a reference from a bare identifier, typically one received
// from an untrusted source. Nothing checks that the target exists.
func UnsafeRef[M Model, ID comparable](id ID) Reference[M, ID] {
	return Reference[M, ID]{id: id}
}

// Identifier returns the referenced identifier.
func (r Reference[M, ID]) Identifier() ID {
	return r.id
}

// Equal reports whether both references point at the same identifier.
func (r Reference[M, ID]) Equal(other Reference[M, ID]) bool {
	return r.id == other.id
}

func (r Reference[M, ID]) String() string {
	return fmt.Sprintf("%s(%v)", targetTypeName[M](), r.id)
}

// Filter returns the predicate `_id == reference` conjoined with extra.
// An empty extra filter is not conjoined.
func (r Reference[M, ID]) Filter(extra *Condition) *Condition {
	return ByID(r.id).And(extra)
}

// collection returns the handle of M's collection in db.
func (r Reference[M, ID]) collection(db *Database) *Collection {
	var zero M
	return db.Collection(zero.CollectionName())
}

// Resolve loads the referenced entity.
//
// The lookup matches `_id == reference` and, when not empty, filter. When no
// document matches, Resolve returns a *NotFoundError naming the identifier
// and target type. Store errors are returned unchanged.
func (r Reference[M, ID]) Resolve(ctx context.Context, db *Database, filter *Condition) (M, error) {
	var zero M
	entity, err := r.ResolveIfPresent(ctx, db, filter)
	if err != nil {
		return zero, err
	}
	if entity == nil {
		return zero, &NotFoundError{Identifier: r.id, TargetType: targetTypeName[M]()}
	}
	return *entity, nil
}

// ResolveIfPresent loads the referenced entity, returning nil without an
// error when no document matches.
func (r Reference[M, ID]) ResolveIfPresent(ctx context.Context, db *Database, filter *Condition) (*M, error) {
	coll := r.collection(db)
	raw, err := coll.FindOne(ctx, r.Filter(filter))
	if err != nil {
		return nil, err
	}
	db.events.Emit(EventResolve, ResolvePayload{Collection: coll.name, Identifier: r.id, Found: raw != nil})
	if raw == nil {
		db.logger.DebugContext(ctx, "reference target not found",
			"collection", coll.name,
			"id", r.id,
		)
		return nil, nil
	}
	entity := new(M)
	if err := bson.Unmarshal(raw, entity); err != nil {
		return nil, fmt.Errorf("decode %s %v: %w", targetTypeName[M](), r.id, err)
	}
	return entity, nil
}

// Exists reports whether at least one document matches the reference and filter.
func (r Reference[M, ID]) Exists(ctx context.Context, db *Database, filter *Condition) (bool, error) {
	count, err := r.collection(db).Count(ctx, r.Filter(filter))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ResolveAsync starts Resolve in the background.
func (r Reference[M, ID]) ResolveAsync(ctx context.Context, db *Database, filter *Condition) *Future[M] {
	return Async(ctx, func(ctx context.Context) (M, error) {
		return r.Resolve(ctx, db, filter)
	})
}

// ResolveIfPresentAsync starts ResolveIfPresent in the background.
func (r Reference[M, ID]) ResolveIfPresentAsync(ctx context.Context, db *Database, filter *Condition) *Future[*M] {
	return Async(ctx, func(ctx context.Context) (*M, error) {
		return r.ResolveIfPresent(ctx, db, filter)
	})
}

// DeleteResult is the outcome of DeleteTarget.
type DeleteResult struct {
	Success     bool
	N           int64
	WriteErrors []WriteError
}

// DeleteTarget deletes the document a reference points at.
//
// Deleting nothing is not an error: it yields Success == false and N == 0.
// Write errors reported by the store are returned as data.
func DeleteTarget[M MutableModel, ID comparable](ctx context.Context, db *Database, ref Reference[M, ID]) (DeleteResult, error) {
	coll := ref.collection(db)
	reply, err := coll.DeleteOne(ctx, ByID(ref.id))
	if err != nil {
		return DeleteResult{}, err
	}
	db.events.Emit(EventDelete, DeletePayload{Collection: coll.name, Identifier: ref.id, Deleted: reply.DeletedCount})
	return DeleteResult{
		Success:     reply.DeletedCount > 0,
		N:           reply.DeletedCount,
		WriteErrors: reply.WriteErrors,
	}, nil
}

// MarshalBSONValue encodes the reference as its bare identifier.
func (r Reference[M, ID]) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.MarshalValue(r.id)
}

// UnmarshalBSONValue decodes a bare identifier into the reference.
func (r *Reference[M, ID]) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	return bson.RawValue{Type: t, Value: data}.Unmarshal(&r.id)
}

// MarshalJSON encodes the reference as its bare identifier.
func (r Reference[M, ID]) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.id)
}

// UnmarshalJSON decodes a bare identifier into the reference.
func (r *Reference[M, ID]) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &r.id)
}

func targetTypeName[M any]() string {
	var zero M
	return fmt.Sprintf("%T", zero)
}
