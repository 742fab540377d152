package credentials

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the device_credentials table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	// Each connection to :memory: is its own database.
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE device_credentials (
			device_id     TEXT PRIMARY KEY,
			client_id     TEXT NOT NULL,
			username      TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			topic_grants  TEXT NOT NULL DEFAULT '[]',
			created_at    TEXT NOT NULL
		) STRICT;
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

func TestIssueDerivesDeterministicIdentity(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping argon2 hashing in short mode")
	}

	issuer := NewIssuer(NewSQLiteRepository(setupTestDB(t)))
	grants := []string{
		"callpoint/mv-aurora/cabin-12/btn-a1b2/command",
		"callpoint/mv-aurora/cabin-12/btn-a1b2/telemetry",
		"callpoint/mv-aurora/cabin-12/btn-a1b2/status",
	}

	creds, err := issuer.Issue(context.Background(), "btn-a1b2", "button", grants)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if creds.ClientID != "callpoint-button-btn-a1b2" {
		t.Errorf("unexpected client ID %q", creds.ClientID)
	}
	if creds.Username != "device-btn-a1b2" {
		t.Errorf("unexpected username %q", creds.Username)
	}
	if len(creds.Password) < 16 {
		t.Errorf("expected password of at least 16 chars, got %d", len(creds.Password))
	}
	if len(creds.TopicGrants) != 3 {
		t.Errorf("expected 3 topic grants, got %d", len(creds.TopicGrants))
	}
}

func TestIssueStoresVerifierNotPlaintext(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping argon2 hashing in short mode")
	}

	repo := NewSQLiteRepository(setupTestDB(t))
	issuer := NewIssuer(repo)
	ctx := context.Background()

	creds, err := issuer.Issue(ctx, "wrb-0001", "wearable", nil)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	rec, err := repo.GetByDeviceID(ctx, "wrb-0001")
	if err != nil {
		t.Fatalf("GetByDeviceID failed: %v", err)
	}

	if !strings.HasPrefix(rec.PasswordHash, "$argon2id$") {
		t.Errorf("expected argon2id verifier at rest, got %q", rec.PasswordHash)
	}
	if strings.Contains(rec.PasswordHash, creds.Password) {
		t.Error("plaintext password must not appear in the stored hash")
	}

	ok, err := issuer.Verify(ctx, "wrb-0001", creds.Password)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !ok {
		t.Error("expected issued password to verify against stored hash")
	}

	ok, err = issuer.Verify(ctx, "wrb-0001", "not-the-password")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Error("expected wrong password to fail verification")
	}
}

func TestIssueRejectsDuplicateDevice(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping argon2 hashing in short mode")
	}

	issuer := NewIssuer(NewSQLiteRepository(setupTestDB(t)))
	ctx := context.Background()

	if _, err := issuer.Issue(ctx, "rpt-0001", "repeater", nil); err != nil {
		t.Fatalf("first Issue failed: %v", err)
	}

	_, err := issuer.Issue(ctx, "rpt-0001", "repeater", nil)
	if !errors.Is(err, ErrAlreadyIssued) {
		t.Errorf("expected ErrAlreadyIssued, got %v", err)
	}
}

func TestVerifyUnknownDevice(t *testing.T) {
	issuer := NewIssuer(NewSQLiteRepository(setupTestDB(t)))

	_, err := issuer.Verify(context.Background(), "btn-missing", "whatever")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetByDeviceIDRoundTripsGrants(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping argon2 hashing in short mode")
	}

	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	hash, err := HashPassword("placeholder-secret-value")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	grants := []string{"callpoint/mv-aurora/bridge/rpt-07/status"}
	rec := &Record{
		DeviceID:     "rpt-07",
		ClientID:     "callpoint-repeater-rpt-07",
		Username:     "device-rpt-07",
		PasswordHash: hash,
		TopicGrants:  grants,
	}
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := repo.GetByDeviceID(ctx, "rpt-07")
	if err != nil {
		t.Fatalf("GetByDeviceID failed: %v", err)
	}
	if len(got.TopicGrants) != 1 || got.TopicGrants[0] != grants[0] {
		t.Errorf("expected grants %v, got %v", grants, got.TopicGrants)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}
