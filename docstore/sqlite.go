package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/akinalp/threadline/database"
	"github.com/akinalp/threadline/models"
	"github.com/akinalp/threadline/pkg"
)

// fieldPattern guards field names interpolated into json_extract paths.
var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteStore keeps documents as JSON rows in a single SQLite table.
//
// Every row carries a sort_key derived from the document's createdAt field
// (falling back to the store's creation time), so listings and cursors can
// use an index instead of json_extract. Filters on other fields go through
// json_extract with field names checked against fieldPattern.
//
// Each successful write publishes exactly one event on the bus after it
// committed. Revisions start at 1 and grow by one per update; clients use
// them to order snapshots that reach them out of order.
type SQLiteStore struct {
	db         *sql.DB
	bus        Bus
	databaseID string
	clock      clock.Clock
}

// NewSQLiteStore creates a store over db. Events are published on bus under
// databaseID. A nil clock means the wall clock.
func NewSQLiteStore(db *sql.DB, bus Bus, databaseID string, clk clock.Clock) *SQLiteStore {
	if clk == nil {
		clk = clock.New()
	}
	return &SQLiteStore{db: db, bus: bus, databaseID: databaseID, clock: clk}
}

// DatabaseID is the id used in event names and channels.
func (s *SQLiteStore) DatabaseID() string {
	return s.databaseID
}

const selectColumns = `id, revision, data, created_at, updated_at`

func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM documents WHERE collection = ? AND id = ?`,
		collection, id)
	doc, err := scanDocument(row, collection)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", pkg.ErrNotFound, collection, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

func (s *SQLiteStore) List(ctx context.Context, collection string, q Query) ([]Document, error) {
	where, args, err := s.buildWhere(ctx, collection, q)
	if err != nil {
		return nil, err
	}

	order := "ASC"
	if q.Desc {
		order = "DESC"
	}
	query := `SELECT ` + selectColumns + ` FROM documents WHERE ` + where +
		` ORDER BY sort_key ` + order + `, id ` + order
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows, collection)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating document rows: %w", err)
	}
	return docs, nil
}

func (s *SQLiteStore) Count(ctx context.Context, collection string, q Query) (int, error) {
	where, args, err := s.buildWhere(ctx, collection, q)
	if err != nil {
		return 0, err
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// Create inserts a document at revision 1. An empty id gets a generated
// one; an id already present fails with pkg.ErrAlreadyExists, which lets
// callers that fixed the id up front retry a create safely.
func (s *SQLiteStore) Create(ctx context.Context, collection, id string, data map[string]any) (*Document, error) {
	if id == "" {
		id = uuid.NewString()
	}
	now := models.FormatTimestamp(s.clock.Now())

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, revision, sort_key, data, created_at, updated_at)
		 VALUES (?, ?, 1, ?, ?, ?, ?)`,
		collection, id, sortKey(data, now), string(raw), now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, fmt.Errorf("%w: %s/%s", pkg.ErrAlreadyExists, collection, id)
		}
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	doc := &Document{
		ID:         id,
		Collection: collection,
		Revision:   1,
		CreatedAt:  now,
		UpdatedAt:  now,
		Data:       data,
	}
	s.publish(ctx, doc, KindCreate, now)
	return doc, nil
}

// Update merges patch into the stored data inside a transaction: a nil
// value removes the field, anything else replaces it. With
// opts.IfRevision set, the read and the revision check happen in the same
// transaction as the write.
func (s *SQLiteStore) Update(ctx context.Context, collection, id string, patch map[string]any, opts UpdateOptions) (*Document, error) {
	var doc *Document
	now := models.FormatTimestamp(s.clock.Now())

	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+selectColumns+` FROM documents WHERE collection = ? AND id = ?`,
			collection, id)
		current, err := scanDocument(row, collection)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s/%s", pkg.ErrNotFound, collection, id)
		}
		if err != nil {
			return fmt.Errorf("failed to read document: %w", err)
		}

		if opts.IfRevision != 0 && current.Revision != opts.IfRevision {
			return fmt.Errorf("%w: %s/%s is at revision %d, expected %d",
				pkg.ErrConflict, collection, id, current.Revision, opts.IfRevision)
		}

		for k, v := range patch {
			if v == nil {
				delete(current.Data, k)
				continue
			}
			current.Data[k] = v
		}

		raw, err := json.Marshal(current.Data)
		if err != nil {
			return fmt.Errorf("failed to encode document: %w", err)
		}

		current.Revision++
		current.UpdatedAt = now
		if _, err := tx.ExecContext(ctx,
			`UPDATE documents SET revision = ?, sort_key = ?, data = ?, updated_at = ?
			 WHERE collection = ? AND id = ?`,
			current.Revision, sortKey(current.Data, current.CreatedAt), string(raw), now, collection, id); err != nil {
			return fmt.Errorf("failed to update document: %w", err)
		}

		doc = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, doc, KindUpdate, now)
	return doc, nil
}

// Delete removes the document for good. The event carries the last
// snapshot so subscribers know which scope it belonged to.
func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	doc, err := s.Get(ctx, collection, id)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s/%s", pkg.ErrNotFound, collection, id)
	}

	s.publish(ctx, doc, KindDelete, models.FormatTimestamp(s.clock.Now()))
	return nil
}

func (s *SQLiteStore) Subscribe(channel string, fn func(Event)) func() {
	return s.bus.Subscribe(channel, fn)
}

// publish is best effort: the write already committed, and subscribers
// recover missed events by re-fetching.
func (s *SQLiteStore) publish(ctx context.Context, doc *Document, kind, timestamp string) {
	if s.bus == nil {
		return
	}
	ev, err := newEvent(s.databaseID, doc, kind, timestamp)
	if err != nil {
		log.Printf("[docstore] %v", err)
		return
	}
	if err := s.bus.Publish(ctx, ev); err != nil {
		log.Printf("[docstore] failed to publish %s for %s/%s: %v", kind, doc.Collection, doc.ID, err)
	}
}

// buildWhere renders the filter of q. The cursor is resolved up front so an
// unknown cursor is reported instead of silently matching nothing.
func (s *SQLiteStore) buildWhere(ctx context.Context, collection string, q Query) (string, []any, error) {
	clauses := []string{"collection = ?"}
	args := []any{collection}

	for field, value := range q.Equal {
		path, err := jsonPath(field)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, "json_extract(data, '"+path+"') = ?")
		args = append(args, bindValue(value))
	}
	for _, field := range q.IsNull {
		path, err := jsonPath(field)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, "json_extract(data, '"+path+"') IS NULL")
	}
	for _, field := range q.NotNull {
		path, err := jsonPath(field)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, "json_extract(data, '"+path+"') IS NOT NULL")
	}

	if q.Before != "" {
		var key string
		err := s.db.QueryRowContext(ctx,
			`SELECT sort_key FROM documents WHERE collection = ? AND id = ?`,
			collection, q.Before).Scan(&key)
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, fmt.Errorf("%w: cursor %s", pkg.ErrNotFound, q.Before)
		}
		if err != nil {
			return "", nil, fmt.Errorf("failed to resolve cursor: %w", err)
		}
		if q.Desc {
			clauses = append(clauses, "(sort_key < ? OR (sort_key = ? AND id < ?))")
		} else {
			clauses = append(clauses, "(sort_key > ? OR (sort_key = ? AND id > ?))")
		}
		args = append(args, key, key, q.Before)
	}

	return strings.Join(clauses, " AND "), args, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner, collection string) (*Document, error) {
	doc := &Document{Collection: collection}
	var raw string
	if err := row.Scan(&doc.ID, &doc.Revision, &raw, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(raw), &doc.Data); err != nil {
		return nil, fmt.Errorf("corrupt document %s/%s: %w", collection, doc.ID, err)
	}
	if doc.Data == nil {
		doc.Data = map[string]any{}
	}
	return doc, nil
}

func jsonPath(field string) (string, error) {
	if !fieldPattern.MatchString(field) {
		return "", fmt.Errorf("%w: invalid field name %q", pkg.ErrBadRequest, field)
	}
	return "$." + field, nil
}

// bindValue converts a Go value into what json_extract yields for it.
func bindValue(v any) any {
	switch b := v.(type) {
	case bool:
		if b {
			return 1
		}
		return 0
	default:
		return v
	}
}

// sortKey is the "createdAt" field when present, else the insert time.
func sortKey(data map[string]any, fallback string) string {
	if v, ok := data["createdAt"].(string); ok && v != "" {
		return v
	}
	return fallback
}
