package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DefaultMaxEntries bounds the journal when no size is configured.
const DefaultMaxEntries = 100

// SQLiteRepository implements Repository on the journal table.
type SQLiteRepository struct {
	db         *sql.DB
	maxEntries int
}

// NewSQLiteRepository creates a repository that keeps at most maxEntries rows.
//
// Parameters:
//   - db: Open SQLite connection with the journal migration applied
//   - maxEntries: Row bound; DefaultMaxEntries when not positive
func NewSQLiteRepository(db *sql.DB, maxEntries int) *SQLiteRepository {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &SQLiteRepository{db: db, maxEntries: maxEntries}
}

// Record inserts an entry and trims the journal in the same transaction.
func (r *SQLiteRepository) Record(ctx context.Context, entry Entry) error {
	if entry.Category == "" {
		return fmt.Errorf("category is required")
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	payload := string(entry.Payload)
	if payload == "" {
		payload = "{}"
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO journal (at_ms, category, summary, payload) VALUES (?, ?, ?, ?)",
		entry.At.UnixMilli(),
		entry.Category,
		entry.Summary,
		payload,
	); err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM journal WHERE id NOT IN (
			SELECT id FROM journal ORDER BY id DESC LIMIT ?
		)`,
		r.maxEntries,
	); err != nil {
		return fmt.Errorf("trimming journal: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing journal entry: %w", err)
	}
	return nil
}

// Recent returns entries newest first.
//
// Parameters:
//   - category: Filter; empty returns every category
//   - limit: Maximum entries (default 50, max 500)
func (r *SQLiteRepository) Recent(ctx context.Context, category string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	query := "SELECT id, at_ms, category, summary, payload FROM journal"
	args := []any{}
	if category != "" {
		query += " WHERE category = ?"
		args = append(args, category)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e       Entry
			atMS    int64
			payload string
		)
		if err := rows.Scan(&e.ID, &atMS, &e.Category, &e.Summary, &payload); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}
		e.At = time.UnixMilli(atMS).UTC()
		e.Payload = []byte(payload)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal: %w", err)
	}
	return entries, nil
}

// Count returns the number of stored entries.
func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM journal").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting journal: %w", err)
	}
	return n, nil
}
