// Package mongo provides a MongoDB implementation of view.Store.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/mailqueue/view"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Compile-time check
var _ view.Store = (*Store)(nil)

// Store implements view.Store using MongoDB.
type Store struct {
	client     *mongo.Client
	db         *mongo.Database
	collection *mongo.Collection
	opts       *options
	connected  int32
	logger     *slog.Logger
}

// New creates a new MongoDB view store with the provided client.
// Call Connect() to initialize the collection and indexes.
func New(client *mongo.Client, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect initializes the database, collection, and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return view.ErrAlreadyConnected
	}

	if s.client == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("mongo: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx, nil); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("mongo ping: %w", err)
	}

	s.db = s.client.Database(s.opts.database)
	s.collection = s.db.Collection(s.opts.collection)

	if err := s.ensureIndexes(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure indexes: %w", err)
	}

	s.logger.Info("connected to MongoDB", "database", s.opts.database, "collection", s.opts.collection)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the MongoDB client.
func (s *Store) Close(ctx context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return view.ErrNotConnected
	}
	return nil
}

// ensureIndexes creates required indexes.
func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		// Duplicate detection: unique constraint on the enqueue id.
		// This enables atomic duplicate rejection without distributed locks.
		{
			Keys:    bson.D{bson.E{Key: "enqueue_id", Value: 1}},
			Options: mongoopts.Index().SetUnique(true),
		},
		// Browse index: (queue, slice, enqueued_at) covers keyset pagination.
		{Keys: bson.D{
			bson.E{Key: "queue", Value: 1},
			bson.E{Key: "slice", Value: 1},
			bson.E{Key: "enqueued_at", Value: 1},
		}},
	}

	_, err := s.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

// entryDoc is the BSON document for a view entry.
type entryDoc struct {
	EnqueueID    string    `bson:"enqueue_id"`
	Queue        string    `bson:"queue"`
	Slice        int64     `bson:"slice"`
	Name         string    `bson:"name"`
	Sender       string    `bson:"sender"`
	Recipients   []string  `bson:"recipients"`
	Size         int64     `bson:"size"`
	EnqueuedAt   time.Time `bson:"enqueued_at"`
	NextDelivery time.Time `bson:"next_delivery"`
	ContentKey   string    `bson:"content_key"`
}

func docFromEntry(e view.Entry) entryDoc {
	return entryDoc{
		EnqueueID:    e.ID,
		Queue:        e.Queue,
		Slice:        e.Slice,
		Name:         e.Name,
		Sender:       e.Sender,
		Recipients:   e.Recipients,
		Size:         e.Size,
		EnqueuedAt:   e.EnqueuedAt.UTC(),
		NextDelivery: e.NextDelivery.UTC(),
		ContentKey:   e.ContentKey,
	}
}

func (d entryDoc) toEntry() view.Entry {
	return view.Entry{
		ID:           d.EnqueueID,
		Queue:        d.Queue,
		Slice:        d.Slice,
		Name:         d.Name,
		Sender:       d.Sender,
		Recipients:   d.Recipients,
		Size:         d.Size,
		EnqueuedAt:   d.EnqueuedAt.UTC(),
		NextDelivery: d.NextDelivery.UTC(),
		ContentKey:   d.ContentKey,
	}
}

// Insert adds an entry. The unique index on enqueue_id rejects duplicates
// atomically.
func (s *Store) Insert(ctx context.Context, e view.Entry) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if err := e.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if _, err := s.collection.InsertOne(ctx, docFromEntry(e)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return view.ErrDuplicateID
		}
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// Remove deletes an entry. Absent entries are a no-op.
func (s *Store) Remove(ctx context.Context, queue string, slice int64, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	filter := bson.M{"queue": queue, "slice": slice, "enqueue_id": id}
	if _, err := s.collection.DeleteOne(ctx, filter); err != nil {
		return fmt.Errorf("remove entry: %w", err)
	}
	return nil
}

// List returns entries in browse order after the cursor.
func (s *Store) List(ctx context.Context, queue string, after view.Cursor, limit int) ([]view.Entry, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	filter := bson.M{"queue": queue}
	if !after.IsZero() {
		// Keyset condition over (slice, enqueued_at, enqueue_id).
		filter = bson.M{
			"queue": queue,
			"$or": bson.A{
				bson.M{"slice": bson.M{"$gt": after.Slice}},
				bson.M{"slice": after.Slice, "enqueued_at": bson.M{"$gt": after.EnqueuedAt.UTC()}},
				bson.M{"slice": after.Slice, "enqueued_at": after.EnqueuedAt.UTC(), "enqueue_id": bson.M{"$gt": after.ID}},
			},
		}
	}

	findOpts := mongoopts.Find()
	findOpts.SetLimit(int64(limit))
	findOpts.SetSort(bson.D{
		bson.E{Key: "slice", Value: 1},
		bson.E{Key: "enqueued_at", Value: 1},
		bson.E{Key: "enqueue_id", Value: 1},
	})

	cursor, err := s.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []view.Entry
	for cursor.Next(ctx) {
		var doc entryDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		entries = append(entries, doc.toEntry())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor: %w", err)
	}
	return entries, nil
}

// Count returns the number of entries in the queue.
func (s *Store) Count(ctx context.Context, queue string) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	count, err := s.collection.CountDocuments(ctx, bson.M{"queue": queue})
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return count, nil
}

// Queues returns the distinct queue names with at least one entry.
func (s *Store) Queues(ctx context.Context) ([]string, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var names []string
	if err := s.collection.Distinct(ctx, "queue", bson.M{}).Decode(&names); err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	return names, nil
}
