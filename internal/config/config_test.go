package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	path := writeConfig(t, `
mode: debug
port: 9000
jwt_secret: s3cret
ping_period: 20s
pong_wait: 30s
db_path: /tmp/estimate.db
`)
	t.Setenv("ESTIMATE_PORT", "9100")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, 20*time.Second, cfg.PingPeriod)
	assert.Equal(t, 30*time.Second, cfg.PongWait)
	assert.Equal(t, "/tmp/estimate.db", cfg.DBPath)
	assert.Equal(t, "s3cret", cfg.Secret)
	assert.Equal(t, 10*time.Second, cfg.WriteWait)
	assert.Equal(t, 20, cfg.RateLimit)
}

func TestLoadFileMissingUsesDefaults(t *testing.T) {
	t.Setenv("ESTIMATE_JWT_SECRET", "from-env")
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "from-env", cfg.JWTSecret)
	assert.Empty(t, cfg.DBPath)
}

func TestLoadFileRejectsBadHeartbeat(t *testing.T) {
	path := writeConfig(t, `
jwt_secret: x
ping_period: 90s
pong_wait: 60s
`)
	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestLoadFileRequiresJWTSecret(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "mode: debug\n"))
	assert.Error(t, err)
}
