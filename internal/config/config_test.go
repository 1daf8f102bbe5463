// Package config_test tests the configuration loading for the music-service.
package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/music-service/internal/config"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tomlData = `
[server]
host = "0.0.0.0"
port = 9000

[paths]
base_logs_dir = "/var/log/music"
outputs_dir = "/srv/music/outputs"

[pipeline]
backend = "http"
service_url = "http://sidecar:8000"
timeout_seconds = 600

[nats]
enabled = true
url = "nats://127.0.0.1:4222"
generate_subject = "music.generate"
artifact_bucket = "MUSIC_ARTIFACTS"
`

func TestUnmarshalConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()

	err := toml.Unmarshal([]byte(tomlData), &cfg)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/var/log/music", cfg.Paths.BaseLogsDir)
	assert.Equal(t, "/srv/music/outputs", cfg.Paths.OutputsDir)
	assert.Equal(t, "assets", cfg.Paths.AssetsDir, "unset keys keep their defaults")
	assert.Equal(t, config.BackendHTTP, cfg.Pipeline.Backend)
	assert.Equal(t, "http://sidecar:8000", cfg.Pipeline.ServiceURL)
	assert.Equal(t, "./ckpt", cfg.Pipeline.ModelPath)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "MUSIC_ARTIFACTS", cfg.NATS.ArtifactBucket)
	require.NoError(t, cfg.Validate())
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg := config.Default()

	assert.Equal(t, "127.0.0.1:7860", cfg.Server.Address())
	assert.Equal(t, config.BackendExec, cfg.Pipeline.Backend)
	assert.False(t, cfg.NATS.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		config.EnvServerName: "0.0.0.0",
		config.EnvServerPort: " 8080 ",
	}
	lookup := func(key string) (string, bool) {
		value, ok := env[key]

		return value, ok
	}

	cfg := config.Default()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())

	env[config.EnvServerPort] = "eighty"
	require.ErrorIs(t, cfg.ApplyEnv(lookup), config.ErrInvalidPort)
}

func TestApplyEnv_AbsentKeepsDefaults(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	require.NoError(t, cfg.ApplyEnv(func(string) (string, bool) { return "", false }))
	assert.Equal(t, "127.0.0.1:7860", cfg.Server.Address())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	badPort := config.Default()
	badPort.Server.Port = 70000
	require.ErrorIs(t, badPort.Validate(), config.ErrInvalidPort)

	badBackend := config.Default()
	badBackend.Pipeline.Backend = "grpc"
	require.ErrorIs(t, badBackend.Validate(), config.ErrUnknownBackend)

	noURL := config.Default()
	noURL.Pipeline.Backend = config.BackendHTTP
	noURL.Pipeline.ServiceURL = ""
	require.ErrorIs(t, noURL.Validate(), config.ErrMissingServiceURL)

	noSubject := config.Default()
	noSubject.NATS.Enabled = true
	noSubject.NATS.GenerateSubject = ""
	require.ErrorIs(t, noSubject.Validate(), config.ErrMissingSubject)
}

func TestLoadFile(t *testing.T) {
	t.Setenv(config.EnvServerPort, "7000")

	path := filepath.Join(t.TempDir(), "project.toml")
	require.NoError(t, os.WriteFile(path, []byte(tomlData), 0o600))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:7000", cfg.Server.Address())

	_, err = config.LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
