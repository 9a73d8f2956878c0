/*
Package mongodb provides a MongoDB implementation of station.TxStore.

PURPOSE:
  Networked record store for stations whose terminals share one database.
  Each collection maps to a MongoDB collection of the same name; the record
  id is the document _id and "_version" is kept alongside the fields.

CONCURRENCY:
  Update filters on _version and increments it in the same statement, so
  a lost race matches nothing and is reported as ErrConflictRetry. WithTx
  runs fn inside a multi-document transaction (replica set required).

ERRORS:
  - network errors and timeouts        -> ErrStoreUnavailable
  - TransientTransactionError, code 112 -> ErrConflictRetry
  - duplicate key on racing upserts    -> ErrConflictRetry

SEE ALSO:
  - station/store.go: Interface definitions
  - store/breaker: fail fast while the server is down
*/
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/warp/station-engine/station"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Config holds MongoDB connection configuration
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	MaxPoolSize    uint64
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		URI:            "mongodb://localhost:27017",
		Database:       "station",
		ConnectTimeout: 10 * time.Second,
		MaxPoolSize:    50,
	}
}

// Store implements station.TxStore on a MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects and pings the server.
func New(ctx context.Context, cfg Config) (*Store, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetMaxPoolSize(cfg.MaxPoolSize)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, station.Unavailable("connect", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, station.Unavailable("ping", err)
	}

	return &Store{client: client, db: client.Database(cfg.Database)}, nil
}

// Close disconnects the client
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Drop removes every collection the engine uses.
func (s *Store) Drop(ctx context.Context) error {
	for _, coll := range station.AllCollections {
		if err := s.db.Collection(string(coll)).Drop(ctx); err != nil {
			return mapError("drop", err)
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, coll station.Collection, id string) (station.Document, error) {
	return get(ctx, s.db, coll, id)
}

func (s *Store) Create(ctx context.Context, coll station.Collection, id string, doc station.Document) (int64, error) {
	return create(ctx, s.db, coll, id, doc)
}

func (s *Store) Put(ctx context.Context, coll station.Collection, id string, doc station.Document) (int64, error) {
	return put(ctx, s.db, coll, id, doc)
}

func (s *Store) Update(ctx context.Context, coll station.Collection, id string, partial station.Document, ifVersion int64) (int64, error) {
	return update(ctx, s.db, coll, id, partial, ifVersion)
}

func (s *Store) Delete(ctx context.Context, coll station.Collection, id string) error {
	return remove(ctx, s.db, coll, id)
}

func (s *Store) Query(ctx context.Context, coll station.Collection, filters ...station.Filter) iter.Seq2[station.Document, error] {
	return query(ctx, s.db, coll, filters)
}

// WithTx executes fn within a transaction.
// The driver re-runs fn on transient transaction errors.
func (s *Store) WithTx(ctx context.Context, fn func(station.Store) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return station.Unavailable("start session", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		return nil, fn(&txStore{db: s.db, session: session})
	})
	if err == nil {
		return nil
	}
	if station.KindOf(err) != station.KindInternal {
		return err
	}
	return mapError("transaction", err)
}

type txStore struct {
	db      *mongo.Database
	session mongo.Session
}

func (ts *txStore) ctx(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, ts.session)
}

func (ts *txStore) Get(ctx context.Context, coll station.Collection, id string) (station.Document, error) {
	return get(ts.ctx(ctx), ts.db, coll, id)
}

func (ts *txStore) Create(ctx context.Context, coll station.Collection, id string, doc station.Document) (int64, error) {
	return create(ts.ctx(ctx), ts.db, coll, id, doc)
}

func (ts *txStore) Put(ctx context.Context, coll station.Collection, id string, doc station.Document) (int64, error) {
	return put(ts.ctx(ctx), ts.db, coll, id, doc)
}

func (ts *txStore) Update(ctx context.Context, coll station.Collection, id string, partial station.Document, ifVersion int64) (int64, error) {
	return update(ts.ctx(ctx), ts.db, coll, id, partial, ifVersion)
}

func (ts *txStore) Delete(ctx context.Context, coll station.Collection, id string) error {
	return remove(ts.ctx(ctx), ts.db, coll, id)
}

func (ts *txStore) Query(ctx context.Context, coll station.Collection, filters ...station.Filter) iter.Seq2[station.Document, error] {
	return query(ts.ctx(ctx), ts.db, coll, filters)
}

// =============================================================================
// OPERATIONS
// =============================================================================

func get(ctx context.Context, db *mongo.Database, coll station.Collection, id string) (station.Document, error) {
	var raw bson.M
	err := db.Collection(string(coll)).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, station.NotFound(coll, id)
	}
	if err != nil {
		return nil, mapError("get", err)
	}
	return fromBSON(raw), nil
}

func create(ctx context.Context, db *mongo.Database, coll station.Collection, id string, doc station.Document) (int64, error) {
	if _, err := db.Collection(string(coll)).InsertOne(ctx, toBSON(id, doc, 1)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return 0, station.Conflict("%s/%s already exists", coll, id)
		}
		return 0, mapError("create", err)
	}
	return 1, nil
}

func put(ctx context.Context, db *mongo.Database, coll station.Collection, id string, doc station.Document) (int64, error) {
	cur, err := get(ctx, db, coll, id)
	var version int64
	switch {
	case err == nil:
		version = cur.Version()
	case !station.IsNotFound(err):
		return 0, err
	}

	filter := bson.M{"_id": id}
	if version > 0 {
		filter[station.VersionField] = version
	}
	res, err := db.Collection(string(coll)).ReplaceOne(ctx, filter, toBSON(id, doc, version+1),
		options.Replace().SetUpsert(version == 0))
	if err != nil {
		return 0, mapError("put", err)
	}
	if version > 0 && res.MatchedCount == 0 {
		return 0, station.Conflict("%s/%s changed during put", coll, id)
	}
	return version + 1, nil
}

func update(ctx context.Context, db *mongo.Database, coll station.Collection, id string, partial station.Document, ifVersion int64) (int64, error) {
	filter := bson.M{"_id": id}
	if ifVersion > 0 {
		filter[station.VersionField] = ifVersion
	}
	set := bson.M{}
	for k, v := range partial {
		if k == "id" || k == station.VersionField {
			continue
		}
		set[k] = v
	}
	change := bson.M{"$inc": bson.M{station.VersionField: 1}}
	if len(set) > 0 {
		change["$set"] = set
	}

	var after bson.M
	err := db.Collection(string(coll)).FindOneAndUpdate(ctx, filter, change,
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.M{station.VersionField: 1}),
	).Decode(&after)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, gerr := get(ctx, db, coll, id); gerr != nil {
			return 0, gerr
		}
		return 0, station.Conflict("%s/%s not at version %d", coll, id, ifVersion)
	}
	if err != nil {
		return 0, mapError("update", err)
	}
	return station.Document(after).Version(), nil
}

func remove(ctx context.Context, db *mongo.Database, coll station.Collection, id string) error {
	res, err := db.Collection(string(coll)).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return mapError("delete", err)
	}
	if res.DeletedCount == 0 {
		return station.NotFound(coll, id)
	}
	return nil
}

// query pushes exact string/bool matches to the server and applies range
// filters in Go, since stored decimals and times are strings.
func query(ctx context.Context, db *mongo.Database, coll station.Collection, filters []station.Filter) iter.Seq2[station.Document, error] {
	return func(yield func(station.Document, error) bool) {
		server := bson.M{}
		for _, f := range filters {
			if v, ok := f.EqualityValue(); ok {
				field := f.Field
				if field == "id" {
					field = "_id"
				}
				server[field] = v
			}
		}

		cursor, err := db.Collection(string(coll)).Find(ctx, server,
			options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
		if err != nil {
			yield(nil, mapError("query", err))
			return
		}
		var raws []bson.M
		if err := cursor.All(ctx, &raws); err != nil {
			yield(nil, mapError("query", err))
			return
		}
		for _, raw := range raws {
			doc := fromBSON(raw)
			if !station.MatchAll(doc, filters) {
				continue
			}
			if !yield(doc, nil) {
				return
			}
		}
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func toBSON(id string, doc station.Document, version int64) bson.M {
	out := bson.M{}
	for k, v := range doc {
		if k == "id" || k == station.VersionField {
			continue
		}
		out[k] = v
	}
	out["_id"] = id
	out[station.VersionField] = version
	return out
}

func fromBSON(raw bson.M) station.Document {
	doc := make(station.Document, len(raw))
	for k, v := range raw {
		if k == "_id" {
			doc["id"] = fmt.Sprint(v)
			continue
		}
		doc[k] = v
	}
	return doc
}

func mapError(op string, err error) error {
	var se mongo.ServerError
	if errors.As(err, &se) && (se.HasErrorLabel("TransientTransactionError") || se.HasErrorCode(112)) {
		return station.Conflict("%s: %v", op, err)
	}
	if mongo.IsDuplicateKeyError(err) {
		return station.Conflict("%s: %v", op, err)
	}
	return station.Unavailable(op, err)
}
