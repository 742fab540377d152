package credentials

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Record is the at-rest shape of issued credentials. PasswordHash is an
// Argon2id PHC string; the plaintext is never stored.
type Record struct {
	DeviceID     string    `json:"device_id"`
	ClientID     string    `json:"client_id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	TopicGrants  []string  `json:"topic_grants"`
	CreatedAt    time.Time `json:"created_at"`
}

// Repository defines the interface for credential storage.
type Repository interface {
	Save(ctx context.Context, rec *Record) error
	GetByDeviceID(ctx context.Context, deviceID string) (*Record, error)
}

// SQLiteRepository stores credential verifiers in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new credential repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Save inserts a credential record. Each device identity gets credentials
// exactly once; a second insert for the same device fails with
// ErrAlreadyIssued.
func (r *SQLiteRepository) Save(ctx context.Context, rec *Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	grantsJSON, err := json.Marshal(rec.TopicGrants)
	if err != nil {
		return fmt.Errorf("marshalling topic grants: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO device_credentials (device_id, client_id, username, password_hash, topic_grants, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.DeviceID, rec.ClientID, rec.Username, rec.PasswordHash,
		string(grantsJSON), rec.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("%w: %s", ErrAlreadyIssued, rec.DeviceID)
		}
		return fmt.Errorf("inserting device credentials: %w", err)
	}

	return nil
}

// GetByDeviceID returns the stored credential record for a device.
func (r *SQLiteRepository) GetByDeviceID(ctx context.Context, deviceID string) (*Record, error) {
	var rec Record
	var grantsJSON, createdAt string

	err := r.db.QueryRowContext(ctx,
		`SELECT device_id, client_id, username, password_hash, topic_grants, created_at
		 FROM device_credentials WHERE device_id = ?`,
		deviceID,
	).Scan(&rec.DeviceID, &rec.ClientID, &rec.Username, &rec.PasswordHash, &grantsJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, deviceID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying device credentials: %w", err)
	}

	if err := json.Unmarshal([]byte(grantsJSON), &rec.TopicGrants); err != nil {
		return nil, fmt.Errorf("unmarshalling topic grants: %w", err)
	}

	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing credential timestamp %q: %w", createdAt, err)
	}
	rec.CreatedAt = t

	return &rec, nil
}
