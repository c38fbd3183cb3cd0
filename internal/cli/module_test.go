package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marcModuleDoc() map[string]any {
	return map[string]any{
		"id":     "marc",
		"type":   "jsonpath",
		"script": "$.isbn[*]",
	}
}

func TestModule_PutAndList(t *testing.T) {
	db := testDB(t)
	doc := writeDoc(t, "marc.json", marcModuleDoc())

	out, err := runCLI(t, "module", "put", doc, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, `stored module "marc"`)

	out, err = runCLI(t, "--format", "json", "module", "list", "--db", db)
	require.NoError(t, err)
	resp := decodeResponse(t, out)
	modules := resp.Data.([]any)
	require.Len(t, modules, 1)
	first := modules[0].(map[string]any)
	assert.Equal(t, "marc", first["id"])
	assert.NotEmpty(t, first["hash"])
}

func TestModule_PutRequiresIDAndType(t *testing.T) {
	db := testDB(t)

	doc := writeDoc(t, "noid.json", map[string]any{"type": "jsonpath"})
	_, err := runCLI(t, "module", "put", doc, "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	doc = writeDoc(t, "notype.json", map[string]any{"id": "marc"})
	_, err = runCLI(t, "module", "put", doc, "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestModule_DeleteMissingFails(t *testing.T) {
	_, err := runCLI(t, "module", "delete", "ghost", "--db", testDB(t))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestModule_BacksMatcherReference(t *testing.T) {
	db := testDB(t)
	mod := writeDoc(t, "marc.json", marcModuleDoc())
	_, err := runCLI(t, "module", "put", mod, "--db", db)
	require.NoError(t, err)

	cfg := writeDoc(t, "cfg.json", map[string]any{
		"id":      "isbn",
		"matcher": "marc::keys",
		"update":  "ingest",
	})
	_, err = runCLI(t, "matchkey", "create", cfg, "--db", db)
	require.NoError(t, err)

	records := writeRecords(t, "records.json", `[
		{"localId": "rec-1", "payload": {"isbn": ["111"]}},
		{"localId": "rec-2", "payload": {"isbn": ["111"]}}
	]`)
	_, err = runCLI(t, "ingest", records, "--db", db, "--source", "BIB1")
	require.NoError(t, err)

	out, err := runCLI(t, "--format", "json", "matchkey", "stats", "isbn", "--db", db)
	require.NoError(t, err)
	stats := decodeResponse(t, out).Data.(map[string]any)
	assert.Equal(t, float64(1), stats["clustersTotal"])
	assert.Equal(t, float64(2), stats["recordsTotal"])
}
