package cluster

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bibflow/bibflow/internal/matcher"
	"github.com/bibflow/bibflow/internal/record"
	"github.com/bibflow/bibflow/internal/store"
)

// newTestEngine creates an engine over a fresh SQLite store.
func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(store.Config{Driver: store.DriverSQLite, DSN: path})
	require.NoError(t, err, "Open() failed")
	t.Cleanup(func() { s.Close() })
	return New(s), s
}

// isbnConfig registers an ingest-time jsonpath config over $.isbn[*]
// and returns its built matcher.
func isbnConfig(t *testing.T, s *store.Store, id string) *matcher.Matcher {
	t.Helper()
	cfg := record.MatchKeyConfig{
		ID:     id,
		Method: "jsonpath",
		Params: map[string]any{"expression": "$.isbn[*]"},
		Update: record.UpdateIngest,
	}
	require.NoError(t, s.InsertMatchKeyConfig(context.Background(), cfg))
	m, err := matcher.Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	return m
}

// isbnPayload builds a payload carrying the given isbn keys.
func isbnPayload(title string, isbns ...string) map[string]any {
	list := make([]any, len(isbns))
	for i, v := range isbns {
		list[i] = v
	}
	return map[string]any{"title": title, "isbn": list}
}

// clusterOf returns the cluster a record belongs to under a config.
func clusterOf(t *testing.T, s *store.Store, recID uuid.UUID, configID string) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := s.DB().QueryRow(
		"SELECT cluster_id FROM cluster_records WHERE record_id = $1 AND match_key_config_id = $2",
		recID.String(), configID,
	).Scan(&id)
	require.NoError(t, err, "record %s has no cluster under %s", recID, configID)
	return id
}

// recordID resolves a stored record by natural key.
func recordID(t *testing.T, s *store.Store, localID, sourceID string) uuid.UUID {
	t.Helper()
	rec, err := s.SelectRecordByKey(context.Background(), localID, record.SourceID(sourceID), 1)
	require.NoError(t, err)
	return rec.ID
}

func countRows(t *testing.T, s *store.Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}
