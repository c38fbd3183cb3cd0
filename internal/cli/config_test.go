package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Full(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bibflow.yaml")
	content := `database:
  driver: sqlite3
  dsn: /var/lib/bibflow/bibflow.db
ingest:
  watermark: 20
  localIdPath: "$.identifiers.local"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "/var/lib/bibflow/bibflow.db", cfg.Database.DSN)
	assert.Equal(t, 20, cfg.Ingest.Watermark)
	assert.Equal(t, "$.identifiers.local", cfg.Ingest.LocalIDPath)
}

func TestLoadConfig_ExplicitMissingFileFails(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestLoadConfig_DefaultMissingFileIsEmpty(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Database.DSN)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database: [unclosed"), 0o600))

	_, err := loadConfig(path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestConfigFile_SuppliesDatabase(t *testing.T) {
	db := testDB(t)
	path := filepath.Join(t.TempDir(), "bibflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  dsn: "+db+"\n"), 0o600))

	out, err := runCLI(t, "--config", path, "--format", "json", "matchkey", "list")
	require.NoError(t, err)
	resp := decodeResponse(t, out)
	assert.Equal(t, "ok", resp.Status)
}
