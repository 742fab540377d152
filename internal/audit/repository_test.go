package audit

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the provisioning tables.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	// Each connection to :memory: is its own database.
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE provision_tokens (
			token       TEXT PRIMARY KEY,
			room        TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'pending',
			device_id   TEXT,
			qr_payload  TEXT NOT NULL,
			expires_at  TEXT NOT NULL,
			used_at     TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		) STRICT;

		CREATE TABLE provision_logs (
			id          TEXT PRIMARY KEY,
			token       TEXT NOT NULL REFERENCES provision_tokens(token),
			action      TEXT NOT NULL,
			message     TEXT NOT NULL,
			metadata    TEXT,
			created_at  TEXT NOT NULL
		) STRICT;

		INSERT INTO provision_tokens (token, room, status, qr_payload, expires_at, created_at, updated_at)
		VALUES ('tok-1111', 'cabin-12', 'pending', '{}', '2026-01-01T00:15:00Z', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z'),
		       ('tok-2222', 'bridge', 'pending', '{}', '2026-01-01T00:15:00Z', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z');
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestAppendGeneratesIDAndTimestamp(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)

	entry := &Entry{
		Token:   "tok-1111",
		Action:  ActionCreated,
		Message: "token issued for cabin-12",
	}

	if err := repo.Append(context.Background(), entry); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if !strings.HasPrefix(entry.ID, "plog-") {
		t.Errorf("expected generated ID with plog- prefix, got %q", entry.ID)
	}
	if entry.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestAppendPreservesMetadata(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)

	entry := &Entry{
		Token:   "tok-1111",
		Action:  ActionClaimed,
		Message: "claimed by device",
		Metadata: map[string]any{
			"device_type": "button",
			"ip_address":  "10.40.0.17",
		},
	}
	if err := repo.Append(context.Background(), entry); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	entries, err := repo.ListByToken(context.Background(), "tok-1111")
	if err != nil {
		t.Fatalf("ListByToken failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Metadata["device_type"] != "button" {
		t.Errorf("expected device_type metadata, got %v", entries[0].Metadata)
	}
	if entries[0].Metadata["ip_address"] != "10.40.0.17" {
		t.Errorf("expected ip_address metadata, got %v", entries[0].Metadata)
	}
}

func TestListByTokenChronologicalOrder(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	actions := []string{ActionCreated, ActionClaimed, ActionActivated}
	// Insert out of order to prove ordering comes from the query.
	for _, i := range []int{2, 0, 1} {
		entry := &Entry{
			Token:     "tok-1111",
			Action:    actions[i],
			Message:   actions[i],
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.Append(ctx, entry); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	entries, err := repo.ListByToken(ctx, "tok-1111")
	if err != nil {
		t.Fatalf("ListByToken failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, action := range actions {
		if entries[i].Action != action {
			t.Errorf("entry %d: expected action %q, got %q", i, action, entries[i].Action)
		}
	}
}

func TestListByTokenSameInstantKeepsAppendOrder(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	// A burst of transitions stamped with an identical timestamp, the
	// worst case for ordering by created_at alone.
	at := time.Date(2026, 1, 1, 0, 0, 5, 0, time.UTC)
	actions := []string{
		ActionCreated, ActionClaimed, ActionRejected, ActionActivated,
		ActionExpired, ActionCancelled, ActionDeleted,
		ActionCreated, ActionClaimed, ActionDeleted,
	}
	for _, action := range actions {
		entry := &Entry{
			Token:     "tok-1111",
			Action:    action,
			Message:   action,
			CreatedAt: at,
		}
		if err := repo.Append(ctx, entry); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	entries, err := repo.ListByToken(ctx, "tok-1111")
	if err != nil {
		t.Fatalf("ListByToken failed: %v", err)
	}
	if len(entries) != len(actions) {
		t.Fatalf("expected %d entries, got %d", len(actions), len(entries))
	}
	for i, action := range actions {
		if entries[i].Action != action {
			t.Fatalf("entry %d: expected action %q, got %q", i, action, entries[i].Action)
		}
	}
}

func TestTimestampRoundTripsNanoseconds(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	at := time.Date(2026, 1, 1, 0, 0, 5, 123456789, time.UTC)
	entry := &Entry{Token: "tok-1111", Action: ActionCreated, Message: "issued", CreatedAt: at}
	if err := repo.Append(ctx, entry); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	entries, err := repo.ListByToken(ctx, "tok-1111")
	if err != nil {
		t.Fatalf("ListByToken failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if !entries[0].CreatedAt.Equal(at) {
		t.Errorf("expected timestamp %v, got %v", at, entries[0].CreatedAt)
	}
}

func TestListByTokenScopedToToken(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	for _, token := range []string{"tok-1111", "tok-2222"} {
		if err := repo.Append(ctx, &Entry{Token: token, Action: ActionCreated, Message: "issued"}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	entries, err := repo.ListByToken(ctx, "tok-2222")
	if err != nil {
		t.Fatalf("ListByToken failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Token != "tok-2222" {
		t.Errorf("expected entries for tok-2222 only, got %q", entries[0].Token)
	}
}

func TestListByTokenEmptyReturnsEmptySlice(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)

	entries, err := repo.ListByToken(context.Background(), "tok-1111")
	if err != nil {
		t.Fatalf("ListByToken failed: %v", err)
	}
	if entries == nil {
		t.Fatal("expected empty slice, got nil")
	}
	if len(entries) != 0 {
		t.Errorf("expected 0 entries, got %d", len(entries))
	}
}
