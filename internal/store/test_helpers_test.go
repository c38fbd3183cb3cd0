package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/bibflow/bibflow/internal/record"
)

// createTestStore creates a file-backed SQLite store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(Config{Driver: DriverSQLite, DSN: path})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestConfig inserts a match-key configuration with a built-in
// method so foreign keys on the cluster tables are satisfied.
func createTestConfig(t *testing.T, s *Store, id string) {
	t.Helper()
	err := s.InsertMatchKeyConfig(context.Background(), record.MatchKeyConfig{
		ID:     id,
		Method: "jsonpath",
		Params: map[string]any{"expression": "$.isbn[*]"},
		Update: record.UpdateIngest,
	})
	if err != nil {
		t.Fatalf("InsertMatchKeyConfig(%q) failed: %v", id, err)
	}
}

// createTestRecord upserts a global record in its own transaction and
// returns the stored id.
func createTestRecord(t *testing.T, s *Store, localID, sourceID string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	tx, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx() failed: %v", err)
	}
	defer tx.Rollback()

	id, err := s.InsertOrUpdateRecord(ctx, tx, uuid.New(), localID,
		record.SourceID(sourceID), 1, map[string]any{"title": "Test"})
	if err != nil {
		t.Fatalf("InsertOrUpdateRecord(%q) failed: %v", localID, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	return id
}

// inTx runs fn inside a committed transaction, failing the test on any
// error.
func inTx(t *testing.T, s *Store, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := s.BeginTx(context.Background())
	if err != nil {
		t.Fatalf("BeginTx() failed: %v", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		t.Fatalf("tx func failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
}
