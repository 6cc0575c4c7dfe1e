package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloudeng.io/errors"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/IshaanNene/crawlmaster/internal/types"
)

// MongoStorage writes records to a MongoDB collection, one document per
// record. Documents of one job share a batch id.
type MongoStorage struct {
	client     *mongo.Client
	database   string
	collection *mongo.Collection
	logger     *slog.Logger
}

// NewMongoStorage connects to MongoDB and verifies the connection.
func NewMongoStorage(ctx context.Context, uri, database, collection string, logger *slog.Logger) (*MongoStorage, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("connect: %w", err)}
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("ping: %w", err)}
	}

	return &MongoStorage{
		client:     client,
		database:   database,
		collection: client.Database(database).Collection(collection),
		logger:     logger.With("component", "mongo_storage"),
	}, nil
}

func (s *MongoStorage) Name() string { return "mongodb" }

func (s *MongoStorage) Save(ctx context.Context, name string, records []*types.Record) (string, error) {
	batch := uuid.NewString()
	ref := fmt.Sprintf("mongodb://%s/%s?batch=%s", s.database, s.collection.Name(), batch)
	if len(records) == 0 {
		return ref, nil
	}

	docs := make([]any, len(records))
	for i, r := range records {
		docs[i] = recordDocument(r, name, batch)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := s.collection.InsertMany(ctx, docs); err != nil {
		return "", &types.StorageError{Backend: s.Name(), Err: fmt.Errorf("insert: %w", err)}
	}

	s.logger.Info("records stored in mongodb", "job", name, "batch", batch, "count", len(records))
	return ref, nil
}

func (s *MongoStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// recordDocument keeps field order; sequences become BSON arrays.
func recordDocument(r *types.Record, job, batch string) bson.D {
	doc := make(bson.D, 0, r.Len()+2)
	doc = append(doc, bson.E{Key: "_job", Value: job}, bson.E{Key: "_batch", Value: batch})
	for _, k := range r.Keys() {
		v, _ := r.Get(k)
		doc = append(doc, bson.E{Key: k, Value: v.Interface()})
	}
	return doc
}

// --- Multi-Storage Fan-Out ---

// MultiStorage writes every job to several backends. Its artifact reference
// lists each backend's reference, comma separated, in backend order.
type MultiStorage struct {
	backends []Storage
	logger   *slog.Logger
}

// NewMultiStorage creates a storage that fans out to multiple backends.
func NewMultiStorage(backends []Storage, logger *slog.Logger) *MultiStorage {
	return &MultiStorage{
		backends: backends,
		logger:   logger.With("component", "multi_storage"),
	}
}

func (s *MultiStorage) Name() string { return "multi" }

// Save writes to every backend even when one fails; all failures are
// returned together.
func (s *MultiStorage) Save(ctx context.Context, name string, records []*types.Record) (string, error) {
	var errs errors.M
	refs := make([]string, 0, len(s.backends))
	for _, backend := range s.backends {
		ref, err := backend.Save(ctx, name, records)
		if err != nil {
			s.logger.Error("backend save failed", "backend", backend.Name(), "error", err)
			errs.Append(err)
			continue
		}
		refs = append(refs, ref)
	}
	if err := errs.Err(); err != nil {
		return "", err
	}
	return strings.Join(refs, ","), nil
}

func (s *MultiStorage) Close() error {
	var errs errors.M
	for _, backend := range s.backends {
		errs.Append(backend.Close())
	}
	return errs.Err()
}
