package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "lexchat", cfg.App.Name)
	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, 24, cfg.Auth.JWTExpireHour)
	assert.Equal(t, 120, cfg.Assistant.MaxPolls)
	assert.Equal(t, 1, cfg.Assistant.PollIntervalSeconds)
	assert.Equal(t, 5, cfg.Upload.MaxFiles)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[app]
port = 9090

[assistant]
master_vector_store_id = "vs_from_file"
max_polls = 30
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("VECTOR_STORE_ID", "vs_from_env")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.App.Port)
	assert.Equal(t, 30, cfg.Assistant.MaxPolls)
	// Environment wins over the file.
	assert.Equal(t, "vs_from_env", cfg.Assistant.MasterVectorStoreID)
	assert.Equal(t, "sk-test", cfg.Assistant.APIKey)
}

func TestMySQLDSN(t *testing.T) {
	cfg := defaultConfig()
	cfg.MySQL.User = "app"
	cfg.MySQL.Password = "pw"
	cfg.MySQL.Host = "db.internal"
	cfg.MySQL.Port = 3307
	cfg.MySQL.DB = "lexchat"
	cfg.MySQL.Params = "parseTime=true"

	assert.Equal(t, "app:pw@tcp(db.internal:3307)/lexchat?parseTime=true", cfg.MySQLDSN())
}
