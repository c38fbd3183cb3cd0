package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRecords(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestIngest_BatchOfTwo(t *testing.T) {
	db := testDB(t)
	doc := writeDoc(t, "isbn.json", isbnConfigDoc())
	_, err := runCLI(t, "matchkey", "create", doc, "--db", db)
	require.NoError(t, err)

	records := writeRecords(t, "records.json", `[
		{"localId": "rec-1", "payload": {"title": "First", "isbn": ["111"]}},
		{"localId": "rec-2", "payload": {"title": "Second", "isbn": ["222"]}}
	]`)

	out, err := runCLI(t, "--format", "json", "ingest", records, "--db", db, "--source", "BIB1")
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	require.Equal(t, "ok", resp.Status)
	counters := resp.Data.(map[string]any)
	assert.Equal(t, float64(2), counters["processed"])
	assert.Equal(t, float64(0), counters["ignored"])
	assert.Equal(t, float64(2), counters["inserted"])
	assert.Equal(t, float64(0), counters["updated"])
	assert.Equal(t, float64(0), counters["deleted"])
}

func TestIngest_SecondBatchUpdates(t *testing.T) {
	db := testDB(t)
	doc := writeDoc(t, "isbn.json", isbnConfigDoc())
	_, err := runCLI(t, "matchkey", "create", doc, "--db", db)
	require.NoError(t, err)

	records := writeRecords(t, "records.json",
		`[{"localId": "rec-1", "payload": {"isbn": ["111"]}}]`)

	_, err = runCLI(t, "ingest", records, "--db", db, "--source", "BIB1")
	require.NoError(t, err)

	out, err := runCLI(t, "--format", "json", "ingest", records, "--db", db, "--source", "BIB1")
	require.NoError(t, err)

	counters := decodeResponse(t, out).Data.(map[string]any)
	assert.Equal(t, float64(0), counters["inserted"])
	assert.Equal(t, float64(1), counters["updated"])
}

func TestIngest_LocalIDPathFlag(t *testing.T) {
	db := testDB(t)
	doc := writeDoc(t, "isbn.json", isbnConfigDoc())
	_, err := runCLI(t, "matchkey", "create", doc, "--db", db)
	require.NoError(t, err)

	records := writeRecords(t, "records.json",
		`[{"payload": {"identifiers": {"local": "rec-9"}, "isbn": ["999"]}}]`)

	out, err := runCLI(t, "--format", "json", "ingest", records, "--db", db,
		"--source", "BIB1", "--localid-path", "$.identifiers.local")
	require.NoError(t, err)

	counters := decodeResponse(t, out).Data.(map[string]any)
	assert.Equal(t, float64(1), counters["inserted"])
	assert.Equal(t, float64(0), counters["ignored"])
}

func TestIngest_RecordsWithoutIDAreIgnored(t *testing.T) {
	db := testDB(t)
	doc := writeDoc(t, "isbn.json", isbnConfigDoc())
	_, err := runCLI(t, "matchkey", "create", doc, "--db", db)
	require.NoError(t, err)

	records := writeRecords(t, "records.json", `[
		{"localId": "rec-1", "payload": {"isbn": ["111"]}},
		{"payload": {"isbn": ["222"]}}
	]`)

	out, err := runCLI(t, "--format", "json", "ingest", records, "--db", db, "--source", "BIB1")
	require.NoError(t, err)

	counters := decodeResponse(t, out).Data.(map[string]any)
	assert.Equal(t, float64(2), counters["processed"])
	assert.Equal(t, float64(1), counters["ignored"])
	assert.Equal(t, float64(1), counters["inserted"])
}

func TestIngest_InvalidSourceFails(t *testing.T) {
	records := writeRecords(t, "records.json", `[]`)
	_, err := runCLI(t, "ingest", records, "--db", testDB(t), "--source", "BAD SOURCE")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestIngest_MissingFileFails(t *testing.T) {
	_, err := runCLI(t, "ingest", filepath.Join(t.TempDir(), "absent.json"),
		"--db", testDB(t), "--source", "BIB1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestIngest_InitRecomputesAfterConfigChange(t *testing.T) {
	db := testDB(t)
	doc := writeDoc(t, "isbn.json", isbnConfigDoc())
	_, err := runCLI(t, "matchkey", "create", doc, "--db", db)
	require.NoError(t, err)

	records := writeRecords(t, "records.json", `[
		{"localId": "rec-1", "payload": {"title": "Same", "isbn": ["111"]}},
		{"localId": "rec-2", "payload": {"title": "Same", "isbn": ["222"]}}
	]`)
	_, err = runCLI(t, "ingest", records, "--db", db, "--source", "BIB1")
	require.NoError(t, err)

	changed := isbnConfigDoc()
	changed["params"] = map[string]any{"expression": "$.title"}
	doc2 := writeDoc(t, "title.json", changed)
	_, err = runCLI(t, "matchkey", "update", doc2, "--db", db)
	require.NoError(t, err)

	out, err := runCLI(t, "matchkey", "init", "isbn", "--reset", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "recomputed 2 records")

	out, err = runCLI(t, "--format", "json", "matchkey", "stats", "isbn", "--db", db)
	require.NoError(t, err)
	stats := decodeResponse(t, out).Data.(map[string]any)
	assert.Equal(t, float64(1), stats["clustersTotal"])
	assert.Equal(t, float64(2), stats["recordsTotal"])
}
