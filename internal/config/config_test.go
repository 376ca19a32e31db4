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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "kiosk:\n  id: lobby\n"))
	require.NoError(t, err)

	assert.Equal(t, "lobby", cfg.Kiosk.ID)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.InDelta(t, 0.6, cfg.Recognition.Tolerance, 1e-9)
	assert.Equal(t, 200*time.Millisecond, cfg.Recognition.Cadence)
	assert.Equal(t, time.Second, cfg.Recognition.IdleCadence)
	assert.Equal(t, 3*time.Second, cfg.Recognition.DisplayTimeout)
	assert.Equal(t, 4*time.Second, cfg.Enrollment.GracePeriod)
	assert.Equal(t, 32, cfg.Vision.MinFaceSize)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadYAMLValues(t *testing.T) {
	path := writeConfig(t, `
recognition:
  tolerance: 0.45
  cadence: 150ms
  idle_cadence: 2s
enrollment:
  grace_period: 5s
database:
  host: db.internal
  name: attend
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.InDelta(t, 0.45, cfg.Recognition.Tolerance, 1e-9)
	assert.Equal(t, 150*time.Millisecond, cfg.Recognition.Cadence)
	assert.Equal(t, 2*time.Second, cfg.Recognition.IdleCadence)
	assert.Equal(t, 5*time.Second, cfg.Enrollment.GracePeriod)
	assert.Equal(t, "postgres://:@db.internal:5432/attend?sslmode=disable", cfg.Database.DSN())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("KIOSK_DB_HOST", "pg.example")
	t.Setenv("KIOSK_DB_MAX_CONNS", "4")
	t.Setenv("KIOSK_SERVER_API_KEY", "secret")
	t.Setenv("KIOSK_RECOGNITION_TOLERANCE", "0.5")
	t.Setenv("KIOSK_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, "database:\n  host: from-file\n"))
	require.NoError(t, err)

	assert.Equal(t, "pg.example", cfg.Database.Host)
	assert.Equal(t, 4, cfg.Database.MaxConns)
	assert.Equal(t, "secret", cfg.Server.APIKey)
	assert.InDelta(t, 0.5, cfg.Recognition.Tolerance, 1e-9)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsBadValues(t *testing.T) {
	_, err := Load(writeConfig(t, "recognition:\n  tolerance: -1\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "recognition:\n  cadence: 2s\n  idle_cadence: 1s\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "kiosk:\n  timezone: Mars/Olympus\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
