// Package postgres provides a PostgreSQL implementation of view.Store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rbaliyan/mailqueue/view"
)

// Compile-time check
var _ view.Store = (*Store)(nil)

// Store implements view.Store using PostgreSQL.
type Store struct {
	db        *sqlx.DB
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new PostgreSQL view store with the provided database
// connection. Call Connect() to initialize the schema and indexes.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		db:     db,
		opts:   o,
		logger: o.logger,
	}
}

// NewFromDB creates a new PostgreSQL view store from a standard sql.DB
// connection. This wraps the sql.DB with sqlx for enhanced functionality.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	return New(sqlx.NewDb(db, "postgres"), opts...)
}

// Connect initializes the schema and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return view.ErrAlreadyConnected
	}

	if s.db == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres: db is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres ping: %w", err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.logger.Info("connected to PostgreSQL", "table", s.opts.table)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the database connection.
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

// ensureSchema creates the required table and indexes.
func (s *Store) ensureSchema(ctx context.Context) error {
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			enqueue_id UUID PRIMARY KEY,
			queue VARCHAR(255) NOT NULL,
			slice BIGINT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			sender TEXT NOT NULL DEFAULT '',
			recipients TEXT[] NOT NULL DEFAULT '{}',
			size BIGINT NOT NULL DEFAULT 0,
			enqueued_at TIMESTAMPTZ NOT NULL,
			next_delivery TIMESTAMPTZ NOT NULL,
			content_key TEXT NOT NULL
		)
	`, s.opts.table)

	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_browse ON %s(queue, slice, enqueued_at, enqueue_id)`, s.opts.table, s.opts.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_queue ON %s(queue)`, s.opts.table, s.opts.table),
	}
	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// Insert adds an entry. Duplicate enqueue IDs are detected via the primary
// key constraint with ON CONFLICT DO NOTHING; no row inserted means the ID
// already exists.
func (s *Store) Insert(ctx context.Context, e view.Entry) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if err := e.Validate(); err != nil {
		return err
	}
	if _, err := uuid.Parse(e.ID); err != nil {
		return fmt.Errorf("%w: id %q is not a uuid", view.ErrInvalidEntry, e.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (enqueue_id, queue, slice, name, sender, recipients, size, enqueued_at, next_delivery, content_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (enqueue_id) DO NOTHING
	`, s.opts.table)

	result, err := s.db.ExecContext(ctx, query,
		e.ID, e.Queue, e.Slice, e.Name, e.Sender, pq.Array(e.Recipients),
		e.Size, e.EnqueuedAt.UTC(), e.NextDelivery.UTC(), e.ContentKey)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return view.ErrDuplicateID
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

	query := fmt.Sprintf(`
		DELETE FROM %s WHERE queue = $1 AND slice = $2 AND enqueue_id = $3
	`, s.opts.table)

	if _, err := s.db.ExecContext(ctx, query, queue, slice, id); err != nil {
		return fmt.Errorf("remove entry: %w", err)
	}
	return nil
}

// entryRow is the sqlx scan target for view entries.
type entryRow struct {
	EnqueueID    string         `db:"enqueue_id"`
	Queue        string         `db:"queue"`
	Slice        int64          `db:"slice"`
	Name         string         `db:"name"`
	Sender       string         `db:"sender"`
	Recipients   pq.StringArray `db:"recipients"`
	Size         int64          `db:"size"`
	EnqueuedAt   time.Time      `db:"enqueued_at"`
	NextDelivery time.Time      `db:"next_delivery"`
	ContentKey   string         `db:"content_key"`
}

func (r entryRow) toEntry() view.Entry {
	return view.Entry{
		ID:           r.EnqueueID,
		Queue:        r.Queue,
		Slice:        r.Slice,
		Name:         r.Name,
		Sender:       r.Sender,
		Recipients:   []string(r.Recipients),
		Size:         r.Size,
		EnqueuedAt:   r.EnqueuedAt.UTC(),
		NextDelivery: r.NextDelivery.UTC(),
		ContentKey:   r.ContentKey,
	}
}

// List returns entries in browse order after the cursor, using keyset
// pagination over the (slice, enqueued_at, enqueue_id) row tuple.
func (s *Store) List(ctx context.Context, queue string, after view.Cursor, limit int) ([]view.Entry, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var query string
	var args []any
	if after.IsZero() {
		query = fmt.Sprintf(`
			SELECT enqueue_id, queue, slice, name, sender, recipients, size, enqueued_at, next_delivery, content_key
			FROM %s WHERE queue = $1
			ORDER BY slice, enqueued_at, enqueue_id
			LIMIT $2
		`, s.opts.table)
		args = []any{queue, limit}
	} else {
		query = fmt.Sprintf(`
			SELECT enqueue_id, queue, slice, name, sender, recipients, size, enqueued_at, next_delivery, content_key
			FROM %s WHERE queue = $1 AND (slice, enqueued_at, enqueue_id) > ($2, $3, $4::uuid)
			ORDER BY slice, enqueued_at, enqueue_id
			LIMIT $5
		`, s.opts.table)
		args = []any{queue, after.Slice, after.EnqueuedAt.UTC(), after.ID, limit}
	}

	var rows []entryRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("list entries: %w", err)
	}

	entries := make([]view.Entry, len(rows))
	for i, r := range rows {
		entries[i] = r.toEntry()
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

	var n int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE queue = $1`, s.opts.table)
	if err := s.db.GetContext(ctx, &n, query, queue); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// Queues returns the distinct queue names with at least one entry.
func (s *Store) Queues(ctx context.Context) ([]string, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var names []string
	query := fmt.Sprintf(`SELECT DISTINCT queue FROM %s ORDER BY queue`, s.opts.table)
	if err := s.db.SelectContext(ctx, &names, query); err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	return names, nil
}
