package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 8081, cfg.Server.InternalPort)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, 10, cfg.Loop.MaxIterations)
	assert.Equal(t, 500*time.Millisecond, cfg.Loop.CheckpointInterval)
	assert.Equal(t, 60*time.Second, cfg.Tools.Timeout)
	assert.Equal(t, 2.0, cfg.Cost.Rates["generate_image"])
	assert.NotEmpty(t, cfg.LLM.SystemPrompt)
}

func TestLoadFileEnvOverrides(t *testing.T) {
	t.Setenv("SHOTRIO_LLM_PROVIDER", "mock")
	t.Setenv("SHOTRIO_LOOP_MAX_ITERATIONS", "3")
	t.Setenv("SHOTRIO_TOOLS_TIMEOUT", "5s")

	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, "mock", cfg.LLM.Provider)
	assert.Equal(t, 3, cfg.Loop.MaxIterations)
	assert.Equal(t, 5*time.Second, cfg.Tools.Timeout)
}

func TestLoadFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  http_port: 9000
database:
  driver: sqlite
  url: ":memory:"
cost:
  rates:
    generate_video: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 5.0, cfg.Cost.Rates["generate_video"])
}

func TestLoadFileMissingIsIgnored(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoadFileRejectsNonPositiveIterations(t *testing.T) {
	t.Setenv("SHOTRIO_LOOP_MAX_ITERATIONS", "0")

	_, err := LoadFile("")
	assert.Error(t, err)
}
