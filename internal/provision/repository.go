package provision

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ListFilter controls which tokens ListHistory returns.
type ListFilter struct {
	Status         TokenStatus // optional: filter by status
	IncludeDeleted bool        // include soft-deleted tokens
	Limit          int         // default 50, max 200
	Offset         int         // pagination offset
}

// ListResult contains the paginated token results.
type ListResult struct {
	Tokens []ProvisionToken `json:"tokens"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// Repository defines the token store consumed by the Coordinator.
//
// The compare-and-swap methods (MarkClaimed, UpdateStatus, SoftDelete)
// return false when the precondition status no longer held, which is how
// racing transitions against the same token are serialized: exactly one
// caller observes the precondition and wins.
type Repository interface {
	Create(ctx context.Context, token *ProvisionToken) error
	GetByToken(ctx context.Context, token string) (*ProvisionToken, error)
	GetByDeviceID(ctx context.Context, deviceID string) (*ProvisionToken, error)
	MarkClaimed(ctx context.Context, token, deviceID string, usedAt time.Time) (bool, error)
	ReleaseClaim(ctx context.Context, token string) (bool, error)
	UpdateStatus(ctx context.Context, token string, from, to TokenStatus) (bool, error)
	SoftDelete(ctx context.Context, token string) (bool, error)
	List(ctx context.Context, filter ListFilter) (*ListResult, error)
}

// SQLiteRepository stores provisioning tokens in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new token repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const tokenColumns = "token, room, status, device_id, qr_payload, expires_at, used_at, created_at, updated_at"

// Create inserts a new token row. CreatedAt and UpdatedAt are set if zero.
func (r *SQLiteRepository) Create(ctx context.Context, token *ProvisionToken) error {
	now := time.Now().UTC()
	if token.CreatedAt.IsZero() {
		token.CreatedAt = now
	}
	if token.UpdatedAt.IsZero() {
		token.UpdatedAt = token.CreatedAt
	}
	if token.Status == "" {
		token.Status = StatusPending
	}

	payloadJSON, err := json.Marshal(token.QRPayload)
	if err != nil {
		return fmt.Errorf("marshalling qr payload: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO provision_tokens (`+tokenColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		token.Token, token.Room, string(token.Status),
		nullableString(token.DeviceID), string(payloadJSON),
		token.ExpiresAt.Format(time.RFC3339Nano),
		nullableTime(token.UsedAt),
		token.CreatedAt.Format(time.RFC3339Nano),
		token.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting provision token: %w", err)
	}

	return nil
}

// GetByToken returns the token row, or ErrNotFound.
func (r *SQLiteRepository) GetByToken(ctx context.Context, token string) (*ProvisionToken, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM provision_tokens WHERE token = ?`, token)
	return scanToken(row)
}

// GetByDeviceID returns the token bound to a device at claim time, or
// ErrNotFound if no claim ever bound this device.
func (r *SQLiteRepository) GetByDeviceID(ctx context.Context, deviceID string) (*ProvisionToken, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM provision_tokens WHERE device_id = ?`, deviceID)
	return scanToken(row)
}

// MarkClaimed transitions the token PENDING→CLAIMED, binding the device
// identity and usedAt in the same write. Returns false if the token was
// no longer PENDING, which is the losing side of a claim race.
func (r *SQLiteRepository) MarkClaimed(ctx context.Context, token, deviceID string, usedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE provision_tokens
		 SET status = ?, device_id = ?, used_at = ?, updated_at = ?
		 WHERE token = ? AND status = ?`,
		string(StatusClaimed), deviceID,
		usedAt.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano),
		token, string(StatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("claiming provision token: %w", err)
	}
	return oneRowChanged(res)
}

// ReleaseClaim reverts a CLAIMED token back to PENDING, clearing the
// device binding. Used to back out a claim whose credential issuance
// failed, so the token stays usable.
func (r *SQLiteRepository) ReleaseClaim(ctx context.Context, token string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE provision_tokens
		 SET status = ?, device_id = NULL, used_at = NULL, updated_at = ?
		 WHERE token = ? AND status = ?`,
		string(StatusPending),
		time.Now().UTC().Format(time.RFC3339Nano),
		token, string(StatusClaimed),
	)
	if err != nil {
		return false, fmt.Errorf("releasing provision token claim: %w", err)
	}
	return oneRowChanged(res)
}

// UpdateStatus transitions the token from one status to another. Returns
// false if the token was not in the expected source status.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, token string, from, to TokenStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE provision_tokens SET status = ?, updated_at = ?
		 WHERE token = ? AND status = ?`,
		string(to), time.Now().UTC().Format(time.RFC3339Nano),
		token, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("updating provision token status: %w", err)
	}
	return oneRowChanged(res)
}

// SoftDelete marks the token DELETED from any non-DELETED status. The
// row and its provision log entries are preserved.
func (r *SQLiteRepository) SoftDelete(ctx context.Context, token string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE provision_tokens SET status = ?, updated_at = ?
		 WHERE token = ? AND status != ?`,
		string(StatusDeleted), time.Now().UTC().Format(time.RFC3339Nano),
		token, string(StatusDeleted),
	)
	if err != nil {
		return false, fmt.Errorf("soft-deleting provision token: %w", err)
	}
	return oneRowChanged(res)
}

// List returns tokens matching the filter, most recent first. DELETED
// tokens are excluded unless IncludeDeleted is set.
func (r *SQLiteRepository) List(ctx context.Context, filter ListFilter) (*ListResult, error) {
	// Clamp limit.
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for token queries
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.IncludeDeleted {
		conditions = append(conditions, "status != ?")
		args = append(args, string(StatusDeleted))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM provision_tokens %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting provision tokens: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT %s FROM provision_tokens %s ORDER BY created_at DESC LIMIT ? OFFSET ?",
		tokenColumns, where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying provision tokens: %w", err)
	}
	defer rows.Close()

	var tokens []ProvisionToken
	for rows.Next() {
		token, err := scanTokenRow(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, *token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating provision tokens: %w", err)
	}

	if tokens == nil {
		tokens = []ProvisionToken{}
	}

	return &ListResult{
		Tokens: tokens,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row *sql.Row) (*ProvisionToken, error) {
	token, err := scanTokenRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return token, err
}

func scanTokenRow(row rowScanner) (*ProvisionToken, error) {
	var token ProvisionToken
	var status, payloadJSON, expiresAt, createdAt, updatedAt string
	var deviceID, usedAt sql.NullString

	if err := row.Scan(&token.Token, &token.Room, &status, &deviceID,
		&payloadJSON, &expiresAt, &usedAt, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning provision token: %w", err)
	}

	token.Status = TokenStatus(status)
	if deviceID.Valid {
		token.DeviceID = deviceID.String
	}
	if err := json.Unmarshal([]byte(payloadJSON), &token.QRPayload); err != nil {
		return nil, fmt.Errorf("unmarshalling qr payload: %w", err)
	}

	var err error
	if token.ExpiresAt, err = parseTimestamp(expiresAt); err != nil {
		return nil, err
	}
	if token.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, err
	}
	if token.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, err
	}
	if usedAt.Valid {
		t, err := parseTimestamp(usedAt.String)
		if err != nil {
			return nil, err
		}
		token.UsedAt = &t
	}

	return &token, nil
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing provision token timestamp %q: %w", s, err)
	}
	return t, nil
}

func oneRowChanged(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n == 1, nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
