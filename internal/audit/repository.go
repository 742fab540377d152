// Package audit provides access to the provision_logs table, the
// append-only history of every provisioning lifecycle transition.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry represents a single provision log record. Entries are written
// once and never updated or deleted, so the full lifecycle of a token
// remains reconstructable even after the token itself is soft-deleted.
type Entry struct {
	ID        string         `json:"id"`
	Token     string         `json:"token"`
	Action    string         `json:"action"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Lifecycle actions recorded against a token.
const (
	ActionCreated   = "created"
	ActionClaimed   = "claimed"
	ActionRejected  = "rejected"
	ActionActivated = "activated"
	ActionExpired   = "expired"
	ActionCancelled = "cancelled"
	ActionDeleted   = "deleted"
)

// Repository defines the interface for provision log operations.
type Repository interface {
	Append(ctx context.Context, entry *Entry) error
	ListByToken(ctx context.Context, token string) ([]Entry, error)
}

// SQLiteRepository stores provision log entries in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new provision log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Append inserts a new provision log entry. The ID and CreatedAt are
// generated if empty.
func (r *SQLiteRepository) Append(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = "plog-" + uuid.NewString()[:8]
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var metadataJSON *string
	if entry.Metadata != nil {
		b, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshalling provision log metadata: %w", err)
		}
		s := string(b)
		metadataJSON = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO provision_logs (id, token, action, message, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Token, entry.Action, entry.Message, metadataJSON,
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting provision log: %w", err)
	}

	return nil
}

// ListByToken returns every entry recorded against a token, oldest first,
// so the result reads as a chronological lifecycle narrative. Timestamps
// carry nanosecond precision; rowid breaks any remaining ties in insertion
// order, so a burst of same-instant appends still reads back in sequence.
func (r *SQLiteRepository) ListByToken(ctx context.Context, token string) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, token, action, message, metadata, created_at
		 FROM provision_logs WHERE token = ? ORDER BY created_at ASC, rowid ASC`,
		token,
	)
	if err != nil {
		return nil, fmt.Errorf("querying provision logs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var metadataJSON sql.NullString
		var createdAt string

		if err := rows.Scan(&entry.ID, &entry.Token, &entry.Action,
			&entry.Message, &metadataJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning provision log: %w", err)
		}

		if metadataJSON.Valid && metadataJSON.String != "" {
			var metadata map[string]any
			if json.Unmarshal([]byte(metadataJSON.String), &metadata) == nil {
				entry.Metadata = metadata
			}
		}

		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing provision log timestamp %q: %w", createdAt, err)
		}
		entry.CreatedAt = t

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating provision logs: %w", err)
	}

	if entries == nil {
		entries = []Entry{}
	}

	return entries, nil
}
