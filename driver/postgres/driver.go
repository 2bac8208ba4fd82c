// Package postgres implements core.Store over PostgreSQL, keeping each
// collection as a table of jsonb documents.
//
// Documents are stored as relaxed extended JSON in a single doc column with a
// unique index on doc->'_id'. Conditions and update documents are translated
// to jsonb expressions, so the same references and update commands used with
// the mongo driver work unchanged.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leandroluk/golemref/core"
	"go.mongodb.org/mongo-driver/bson"
)

// Write error codes, numbered like the document server's.
const (
	codeUnknown       = 8
	codeFailedToParse = 9
	codeDuplicateKey  = 11000
)

const uniqueViolation = "23505"

// PostgresDriver is a core.Store backed by a pgx connection pool.
type PostgresDriver struct {
	pool   *pgxpool.Pool
	schema string

	mutex      sync.Mutex
	ensuredSet map[string]struct{}
}

var _ core.Store = (*PostgresDriver)(nil)

// NewPostgresDriver opens a pool for cfg and verifies it with a ping.
//
// Example:
//
//	cfg, _ := postgres.LoadConfig("config/postgres.yaml")
//	store, err := postgres.NewPostgresDriver(ctx, cfg)
//	db := core.NewDatabase(store)
func NewPostgresDriver(ctx context.Context, cfg Config) (*PostgresDriver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, cfg.ConnString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return NewFromPool(pool, cfg.Schema), nil
}

// NewFromPool wraps an existing pool. An empty schema uses the search path.
func NewFromPool(pool *pgxpool.Pool, schema string) *PostgresDriver {
	return &PostgresDriver{pool: pool, schema: schema, ensuredSet: make(map[string]struct{})}
}

// Ping checks if the server is reachable.
func (driver *PostgresDriver) Ping(ctx context.Context) error {
	return driver.pool.Ping(ctx)
}

// Close releases every pooled connection.
func (driver *PostgresDriver) Close(ctx context.Context) error {
	driver.pool.Close()
	return nil
}

func (driver *PostgresDriver) table(collection string) string {
	if driver.schema != "" {
		return pgx.Identifier{driver.schema, collection}.Sanitize()
	}
	return pgx.Identifier{collection}.Sanitize()
}

// EnsureCollection creates the table and _id index of a collection if they
// are missing. Every store operation calls it once per collection.
func (driver *PostgresDriver) EnsureCollection(ctx context.Context, collection string) error {
	driver.mutex.Lock()
	_, ok := driver.ensuredSet[collection]
	driver.mutex.Unlock()
	if ok {
		return nil
	}

	table := driver.table(collection)
	statementList := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (doc jsonb NOT NULL)", table),
		fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s ((doc -> '_id'))",
			pgx.Identifier{collection + "_id_key"}.Sanitize(), table),
	}
	for _, statement := range statementList {
		if _, err := driver.pool.Exec(ctx, statement); err != nil {
			return fmt.Errorf("postgres: ensure collection %s: %w", collection, err)
		}
	}

	driver.mutex.Lock()
	driver.ensuredSet[collection] = struct{}{}
	driver.mutex.Unlock()
	return nil
}

// Insert stores documents in a collection. Documents without an _id get a
// random UUID.
func (driver *PostgresDriver) Insert(ctx context.Context, collection string, documents ...any) error {
	if err := driver.EnsureCollection(ctx, collection); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	statement := fmt.Sprintf("INSERT INTO %s (doc) VALUES ($1::text::jsonb)", driver.table(collection))
	for _, document := range documents {
		doc, err := toDocument(document)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		if lookupKey(doc, core.IDField) == nil {
			doc = append(bson.D{{Key: core.IDField, Value: uuid.NewString()}}, doc...)
		}
		encoded, err := jsonValue(doc)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		batch.Queue(statement, encoded)
	}
	return driver.pool.SendBatch(ctx, batch).Close()
}

// FindOne returns the first document matching the filter, or nil.
func (driver *PostgresDriver) FindOne(ctx context.Context, collection string, filter *core.Condition) (bson.Raw, error) {
	if err := driver.EnsureCollection(ctx, collection); err != nil {
		return nil, err
	}
	argList := argumentList{}
	where, err := buildCondition("doc", filter, &argList)
	if err != nil {
		return nil, err
	}
	statement := fmt.Sprintf("SELECT doc::text FROM %s WHERE %s LIMIT 1", driver.table(collection), where)

	var text string
	err = driver.pool.QueryRow(ctx, statement, argList...).Scan(&text)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeDocument(text)
}

// Count returns the number of documents matching the filter.
func (driver *PostgresDriver) Count(ctx context.Context, collection string, filter *core.Condition) (int64, error) {
	if err := driver.EnsureCollection(ctx, collection); err != nil {
		return 0, err
	}
	argList := argumentList{}
	where, err := buildCondition("doc", filter, &argList)
	if err != nil {
		return 0, err
	}
	statement := fmt.Sprintf("SELECT count(*) FROM %s WHERE %s", driver.table(collection), where)

	var count int64
	if err := driver.pool.QueryRow(ctx, statement, argList...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteOne removes at most one matching document.
func (driver *PostgresDriver) DeleteOne(ctx context.Context, collection string, filter *core.Condition) (core.DeleteReply, error) {
	if err := driver.EnsureCollection(ctx, collection); err != nil {
		return core.DeleteReply{}, err
	}
	argList := argumentList{}
	where, err := buildCondition("doc", filter, &argList)
	if err != nil {
		return core.DeleteReply{}, err
	}
	table := driver.table(collection)
	statement := fmt.Sprintf("DELETE FROM %s WHERE ctid IN (SELECT ctid FROM %s WHERE %s LIMIT 1)", table, table, where)

	tag, err := driver.pool.Exec(ctx, statement, argList...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return core.DeleteReply{WriteErrors: []core.WriteError{{Code: codeUnknown, ErrMsg: pgErr.Message}}}, nil
		}
		return core.DeleteReply{}, err
	}
	return core.DeleteReply{DeletedCount: tag.RowsAffected()}, nil
}

// Execute applies each update spec as its own statement and answers with a
// wire reply. Statement failures become write errors of an ok: 1 reply; an
// ordered command stops at the first one.
//
// Specs are not applied in a single transaction. When a spec fails with a
// connection error, the specs before it stay committed and Execute returns an
// *ExecutionError carrying the reply accumulated up to that point.
func (driver *PostgresDriver) Execute(ctx context.Context, command core.UpdateCommand) (bson.Raw, error) {
	collection := command.Collection()
	if err := driver.EnsureCollection(ctx, collection); err != nil {
		return nil, err
	}

	reply, err := executeSpecs(command, func(spec core.UpdateSpec) (specResult, error) {
		return driver.applySpec(ctx, collection, spec)
	})
	if err != nil {
		return nil, err
	}
	return reply.Marshal()
}

// ExecutionError reports a spec that could not reach the database. Reply
// holds the counts of the specs committed before it.
type ExecutionError struct {
	Index int
	Reply *core.UpdateReply
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("update spec %d: %v (%d matched, %d modified before failure)", e.Index, e.Err, e.Reply.N, e.Reply.NModified)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// executeSpecs folds the results of apply over the command's specs into a
// reply.
func executeSpecs(command core.UpdateCommand, apply func(core.UpdateSpec) (specResult, error)) (*core.UpdateReply, error) {
	reply := &core.UpdateReply{OK: 1}
	for index, spec := range command.Updates() {
		result, err := apply(spec)
		if err != nil {
			writeError, ok := toWriteError(index, err)
			if !ok {
				return nil, &ExecutionError{Index: index, Reply: reply, Err: err}
			}
			reply.WriteErrors = append(reply.WriteErrors, writeError)
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
	return reply, nil
}

type specResult struct {
	matched    int64
	modified   int64
	upsertedID any
}

func (driver *PostgresDriver) applySpec(ctx context.Context, collection string, spec core.UpdateSpec) (specResult, error) {
	table := driver.table(collection)
	argList := argumentList{}
	where, err := buildCondition("t.doc", spec.Query, &argList)
	if err != nil {
		return specResult{}, err
	}
	change, err := buildModification("t.doc", spec.Update, &argList)
	if err != nil {
		return specResult{}, err
	}
	if spec.IsMulti() && change.replacement {
		return specResult{}, fmt.Errorf("%w: multi update is not supported for replacement-style update", errUnsupportedModifier)
	}

	limit := " LIMIT 1"
	if spec.IsMulti() {
		limit = ""
	}
	statement := fmt.Sprintf(`WITH target AS (
	SELECT t.ctid, t.doc FROM %s AS t WHERE %s%s FOR UPDATE
), changed AS (
	UPDATE %s AS t SET doc = %s FROM target WHERE t.ctid = target.ctid
	RETURNING t.doc IS DISTINCT FROM target.doc AS modified
)
SELECT count(*), count(*) FILTER (WHERE modified) FROM changed`, table, where, limit, table, change.expression)

	var result specResult
	if err := driver.pool.QueryRow(ctx, statement, argList...).Scan(&result.matched, &result.modified); err != nil {
		return specResult{}, err
	}
	if result.matched > 0 || !spec.IsUpsert() {
		return result, nil
	}

	seed, err := seedDocument(spec)
	if err != nil {
		return result, err
	}
	encoded, err := jsonValue(seed)
	if err != nil {
		return result, err
	}
	argList = argumentList{}
	seedPlaceholder := argList.add(encoded)
	change, err = buildModification("t.doc", spec.Update, &argList)
	if err != nil {
		return result, err
	}
	statement = fmt.Sprintf("INSERT INTO %s (doc) SELECT %s FROM (SELECT %s::text::jsonb AS doc) AS t RETURNING (doc -> '_id')::text",
		table, change.expression, seedPlaceholder)

	var idText string
	if err := driver.pool.QueryRow(ctx, statement, argList...).Scan(&idText); err != nil {
		return result, err
	}
	id, err := decodeValue(idText)
	if err != nil {
		return result, err
	}
	result.upsertedID = id
	return result, nil
}

// seedDocument builds the document an upsert starts from: the equality
// fields of the query plus an _id taken from the query, from a replacement
// document, or freshly generated.
func seedDocument(spec core.UpdateSpec) (bson.M, error) {
	seed := bson.M{}
	for _, field := range core.EqualityFields(spec.Query) {
		setPath(seed, field.Key, field.Value)
	}
	if _, ok := seed[core.IDField]; ok {
		return seed, nil
	}
	update, err := toDocument(spec.Update)
	if err != nil {
		return nil, err
	}
	if id := lookupKey(update, core.IDField); id != nil {
		seed[core.IDField] = id
		return seed, nil
	}
	seed[core.IDField] = uuid.NewString()
	return seed, nil
}

func setPath(doc bson.M, path string, value any) {
	keyList := strings.Split(path, ".")
	current := doc
	for _, key := range keyList[:len(keyList)-1] {
		next, ok := current[key].(bson.M)
		if !ok {
			next = bson.M{}
			current[key] = next
		}
		current = next
	}
	current[keyList[len(keyList)-1]] = value
}

// toWriteError turns a statement failure into a write error. Anything that
// is not a server or translation error is reported as not convertible.
func toWriteError(index int, err error) (core.WriteError, bool) {
	if errors.Is(err, errUnsupportedModifier) {
		return core.WriteError{Index: index, Code: codeFailedToParse, ErrMsg: err.Error()}, true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := codeUnknown
		if pgErr.Code == uniqueViolation {
			code = codeDuplicateKey
		}
		return core.WriteError{Index: index, Code: code, ErrMsg: pgErr.Message}, true
	}
	return core.WriteError{}, false
}

func lookupKey(doc bson.D, key string) any {
	for _, element := range doc {
		if element.Key == key {
			return element.Value
		}
	}
	return nil
}

func toDocument(value any) (bson.D, error) {
	data, err := bson.Marshal(value)
	if err != nil {
		return nil, err
	}
	var doc bson.D
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// decodeDocument converts a stored jsonb document into BSON.
func decodeDocument(text string) (bson.Raw, error) {
	var doc bson.D
	if err := bson.UnmarshalExtJSON([]byte(text), false, &doc); err != nil {
		return nil, fmt.Errorf("postgres: decode document: %w", err)
	}
	return bson.Marshal(doc)
}

// decodeValue converts a single stored jsonb value into its Go form.
func decodeValue(text string) (any, error) {
	var holder bson.M
	if err := bson.UnmarshalExtJSON([]byte(`{"v":`+text+`}`), false, &holder); err != nil {
		return nil, fmt.Errorf("postgres: decode value: %w", err)
	}
	return holder["v"], nil
}
