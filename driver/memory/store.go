// Package memory implements core.Store in process memory.
//
// It follows the document store's semantics closely enough to exercise
// references and update commands in tests: dotted field paths, $set, $unset
// and $inc modifiers, replacement documents, upserts with duplicate-key write
// errors and ordered/unordered batches.
package memory

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/leandroluk/golemref/core"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStore keeps documents per collection in insertion order.
type MemoryStore struct {
	mutex          sync.RWMutex
	collectionList map[string][]bson.M
}

var _ core.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collectionList: make(map[string][]bson.M)}
}

// Insert adds documents to a collection. Documents without an _id get a new
// ObjectID; a duplicate _id fails the whole call.
func (s *MemoryStore) Insert(ctx context.Context, collection string, documents ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, document := range documents {
		doc, err := toDocument(document)
		if err != nil {
			return fmt.Errorf("memory store: %w", err)
		}
		if _, ok := doc[core.IDField]; !ok {
			doc[core.IDField] = primitive.NewObjectID()
		}
		if s.indexOfID(collection, doc[core.IDField]) >= 0 {
			return fmt.Errorf("memory store: duplicate _id %v in %s", doc[core.IDField], collection)
		}
		s.collectionList[collection] = append(s.collectionList[collection], doc)
	}
	return nil
}

// Len returns the number of documents in a collection.
func (s *MemoryStore) Len(collection string) int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.collectionList[collection])
}

// FindOne returns the first matching document in insertion order.
func (s *MemoryStore) FindOne(ctx context.Context, collection string, filter *core.Condition) (bson.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	for _, doc := range s.collectionList[collection] {
		ok, err := match(doc, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			return bson.Marshal(doc)
		}
	}
	return nil, nil
}

// Count returns the number of matching documents.
func (s *MemoryStore) Count(ctx context.Context, collection string, filter *core.Condition) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	var count int64
	for _, doc := range s.collectionList[collection] {
		ok, err := match(doc, filter)
		if err != nil {
			return 0, err
		}
		if ok {
			count++
		}
	}
	return count, nil
}

// DeleteOne removes the first matching document.
func (s *MemoryStore) DeleteOne(ctx context.Context, collection string, filter *core.Condition) (core.DeleteReply, error) {
	if err := ctx.Err(); err != nil {
		return core.DeleteReply{}, err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	docList := s.collectionList[collection]
	for index, doc := range docList {
		ok, err := match(doc, filter)
		if err != nil {
			return core.DeleteReply{}, err
		}
		if ok {
			s.collectionList[collection] = append(docList[:index:index], docList[index+1:]...)
			return core.DeleteReply{DeletedCount: 1}, nil
		}
	}
	return core.DeleteReply{}, nil
}

// Execute applies an update command and answers with a wire reply.
//
// Spec failures become write errors of an ok: 1 reply. An ordered command
// stops at the first failing spec.
func (s *MemoryStore) Execute(ctx context.Context, command core.UpdateCommand) (bson.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	collection := command.Collection()
	reply := &core.UpdateReply{OK: 1}
	for index, spec := range command.Updates() {
		result, err := s.applySpec(collection, spec)
		if err != nil {
			var specFailure *writeFailure
			if !errors.As(err, &specFailure) {
				specFailure = failure(codeFailedToParse, "%v", err)
			}
			reply.WriteErrors = append(reply.WriteErrors, core.WriteError{
				Index:  index,
				Code:   specFailure.code,
				ErrMsg: specFailure.message,
			})
			if command.Ordered() {
				break
			}
			continue
		}
		reply.N += result.matched
		reply.NModified += result.modified
		if result.upsertedID != nil {
			reply.N++
			reply.Upserted = append(reply.Upserted, core.Upserted{Index: index, ID: result.upsertedID})
		}
	}
	return reply.Marshal()
}

type specResult struct {
	matched    int64
	modified   int64
	upsertedID any
}

// applySpec runs one update spec. The caller holds the write lock.
func (s *MemoryStore) applySpec(collection string, spec core.UpdateSpec) (specResult, error) {
	update, err := toDocument(spec.Update)
	if err != nil {
		return specResult{}, failure(codeFailedToParse, "invalid update document: %v", err)
	}
	operator, err := isOperatorDocument(update)
	if err != nil {
		return specResult{}, err
	}
	if spec.IsMulti() && !operator {
		return specResult{}, failure(codeFailedToParse, "multi update is not supported for replacement-style update")
	}

	var result specResult
	docList := s.collectionList[collection]
	for index, doc := range docList {
		ok, err := match(doc, spec.Query)
		if err != nil {
			return result, err
		}
		if !ok {
			continue
		}
		updated, err := applyUpdate(doc, update)
		if err != nil {
			return result, err
		}
		result.matched++
		if !reflect.DeepEqual(doc, updated) {
			result.modified++
			docList[index] = updated
		}
		if !spec.IsMulti() {
			break
		}
	}
	if result.matched > 0 || !spec.IsUpsert() {
		return result, nil
	}

	seed := bson.M{}
	for _, field := range core.EqualityFields(spec.Query) {
		value, err := normalize(field.Value)
		if err != nil {
			return result, err
		}
		setPath(seed, field.Key, value)
	}
	if _, ok := seed[core.IDField]; !ok {
		if id, ok := update[core.IDField]; ok {
			seed[core.IDField] = id
		} else {
			seed[core.IDField] = primitive.NewObjectID()
		}
	}
	inserted, err := applyUpdate(seed, update)
	if err != nil {
		return result, err
	}
	if s.indexOfID(collection, inserted[core.IDField]) >= 0 {
		return result, failure(codeDuplicateKey, "E11000 duplicate key error collection: %s index: _id_ dup key: { _id: %v }", collection, inserted[core.IDField])
	}
	s.collectionList[collection] = append(s.collectionList[collection], inserted)
	result.upsertedID = inserted[core.IDField]
	return result, nil
}

func (s *MemoryStore) indexOfID(collection string, id any) int {
	for index, doc := range s.collectionList[collection] {
		if equal(doc[core.IDField], id) {
			return index
		}
	}
	return -1
}
