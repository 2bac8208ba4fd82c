// Package core provides the fundamental building blocks of the golemref library.
// This file defines the update reply and its interpretation.
package core

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// WriteError is the failure of a single spec within an update command.
type WriteError struct {
	Index  int    `bson:"index"`
	Code   int    `bson:"code"`
	ErrMsg string `bson:"errmsg"`
}

func (e WriteError) Error() string {
	return fmt.Sprintf("write error at index %d: code %d: %s", e.Index, e.Code, e.ErrMsg)
}

// WriteConcernError reports that the requested acknowledgment could not be satisfied.
type WriteConcernError struct {
	Code   int    `bson:"code"`
	ErrMsg string `bson:"errmsg"`
}

func (e WriteConcernError) Error() string {
	return fmt.Sprintf("write concern error: code %d: %s", e.Code, e.ErrMsg)
}

// UpdateReply is the interpreted reply of an update command.
//
// OK == 1 is necessary but not sufficient for a fully applied batch: the
// store may report OK == 1 while WriteErrors lists failed spec indexes.
// The store's claim that NModified <= N is not checked.
type UpdateReply struct {
	OK                 float64
	N                  int64
	NModified          int64
	Upserted           []Upserted
	WriteErrors        []WriteError
	WriteConcernErrors []WriteConcernError
}

// Succeeded reports whether the command itself succeeded (ok == 1).
func (r *UpdateReply) Succeeded() bool {
	return r.OK == 1
}

// Partial reports whether the command succeeded but some specs or the write
// concern failed.
func (r *UpdateReply) Partial() bool {
	return r.Succeeded() && (len(r.WriteErrors) > 0 || len(r.WriteConcernErrors) > 0)
}

// FailedIndexes lists the spec indexes reported in WriteErrors, in reply order.
func (r *UpdateReply) FailedIndexes() []int {
	indexList := make([]int, 0, len(r.WriteErrors))
	for _, writeError := range r.WriteErrors {
		indexList = append(indexList, writeError.Index)
	}
	return indexList
}

// Document renders the reply in its wire form. Drivers that do not speak the
// wire protocol natively use it to answer Store.Execute.
func (r *UpdateReply) Document() bson.D {
	doc := bson.D{
		{Key: "ok", Value: r.OK},
		{Key: "n", Value: r.N},
		{Key: "nModified", Value: r.NModified},
	}
	if len(r.Upserted) > 0 {
		upsertedList := make(bson.A, 0, len(r.Upserted))
		for _, upserted := range r.Upserted {
			upsertedList = append(upsertedList, bson.D{
				{Key: "index", Value: upserted.Index},
				{Key: IDField, Value: upserted.ID},
			})
		}
		doc = append(doc, bson.E{Key: "upserted", Value: upsertedList})
	}
	if len(r.WriteErrors) > 0 {
		doc = append(doc, bson.E{Key: "writeErrors", Value: r.WriteErrors})
	}
	if len(r.WriteConcernErrors) > 0 {
		doc = append(doc, bson.E{Key: "writeConcernError", Value: r.WriteConcernErrors})
	}
	return doc
}

// Marshal renders the reply as a raw document.
func (r *UpdateReply) Marshal() (bson.Raw, error) {
	return bson.Marshal(r.Document())
}

// ParseUpdateReply interprets a raw update reply.
//
// It only fails on malformed input; a reply with ok != 1 parses successfully
// and is classified by the caller. writeConcernError is accepted both as a
// single document and as an array of documents.
func ParseUpdateReply(raw bson.Raw) (*UpdateReply, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty reply")
	}
	if err := raw.Validate(); err != nil {
		return nil, err
	}

	reply := &UpdateReply{}
	var err error
	if reply.OK, err = lookupNumber(raw, "ok"); err != nil {
		return nil, err
	}
	if reply.N, err = lookupInt(raw, "n"); err != nil {
		return nil, err
	}
	if reply.NModified, err = lookupInt(raw, "nModified"); err != nil {
		return nil, err
	}
	if reply.Upserted, err = parseUpserted(raw); err != nil {
		return nil, err
	}
	if reply.WriteErrors, err = parseWriteErrors(raw); err != nil {
		return nil, err
	}
	if reply.WriteConcernErrors, err = parseWriteConcernErrors(raw); err != nil {
		return nil, err
	}
	return reply, nil
}

func parseUpserted(raw bson.Raw) ([]Upserted, error) {
	valueList, err := lookupArray(raw, "upserted")
	if err != nil || valueList == nil {
		return nil, err
	}
	upsertedList := make([]Upserted, 0, len(valueList))
	for _, value := range valueList {
		doc, ok := value.DocumentOK()
		if !ok {
			return nil, fmt.Errorf("upserted: expected document, got %s", value.Type)
		}
		index, err := lookupInt(doc, "index")
		if err != nil {
			return nil, fmt.Errorf("upserted: %w", err)
		}
		idValue, err := doc.LookupErr(IDField)
		if err != nil {
			return nil, fmt.Errorf("upserted: missing %s", IDField)
		}
		var id any
		if err := idValue.Unmarshal(&id); err != nil {
			return nil, fmt.Errorf("upserted: %w", err)
		}
		upsertedList = append(upsertedList, Upserted{Index: int(index), ID: id})
	}
	return upsertedList, nil
}

func parseWriteErrors(raw bson.Raw) ([]WriteError, error) {
	valueList, err := lookupArray(raw, "writeErrors")
	if err != nil || valueList == nil {
		return nil, err
	}
	writeErrorList := make([]WriteError, 0, len(valueList))
	for _, value := range valueList {
		var writeError WriteError
		if err := value.Unmarshal(&writeError); err != nil {
			return nil, fmt.Errorf("writeErrors: %w", err)
		}
		writeErrorList = append(writeErrorList, writeError)
	}
	return writeErrorList, nil
}

func parseWriteConcernErrors(raw bson.Raw) ([]WriteConcernError, error) {
	value, err := raw.LookupErr("writeConcernError")
	if err != nil || value.Type == bsontype.Null {
		return nil, nil
	}
	switch value.Type {
	case bsontype.EmbeddedDocument:
		var concernError WriteConcernError
		if err := value.Unmarshal(&concernError); err != nil {
			return nil, fmt.Errorf("writeConcernError: %w", err)
		}
		return []WriteConcernError{concernError}, nil
	case bsontype.Array:
		var concernErrorList []WriteConcernError
		if err := value.Unmarshal(&concernErrorList); err != nil {
			return nil, fmt.Errorf("writeConcernError: %w", err)
		}
		return concernErrorList, nil
	}
	return nil, fmt.Errorf("writeConcernError: unexpected type %s", value.Type)
}

// lookupArray returns the elements of an optional array field; a missing or
// null field yields nil.
func lookupArray(raw bson.Raw, key string) ([]bson.RawValue, error) {
	value, err := raw.LookupErr(key)
	if err != nil || value.Type == bsontype.Null {
		return nil, nil
	}
	array, ok := value.ArrayOK()
	if !ok {
		return nil, fmt.Errorf("%s: expected array, got %s", key, value.Type)
	}
	valueList, err := array.Values()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	if valueList == nil {
		valueList = []bson.RawValue{}
	}
	return valueList, nil
}

// lookupNumber reads an optional numeric field; a missing field yields 0.
func lookupNumber(raw bson.Raw, key string) (float64, error) {
	value, err := raw.LookupErr(key)
	if err != nil || value.Type == bsontype.Null {
		return 0, nil
	}
	switch value.Type {
	case bsontype.Double:
		return value.Double(), nil
	case bsontype.Int32:
		return float64(value.Int32()), nil
	case bsontype.Int64:
		return float64(value.Int64()), nil
	case bsontype.Boolean:
		if value.Boolean() {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("%s: expected number, got %s", key, value.Type)
}

func lookupInt(raw bson.Raw, key string) (int64, error) {
	number, err := lookupNumber(raw, key)
	return int64(number), err
}
