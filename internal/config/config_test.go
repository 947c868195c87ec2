package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
database:
  host: localhost
  user: bridge
  password: ${TEST_DB_PASSWORD}
  dbname: attendance_bridge

crm:
  api_url: https://crm.example.com/api/attendance/
  api_token: ${TEST_CRM_TOKEN}

server:
  addr: ":8080"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFromExpandsEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "s3cret")
	t.Setenv("TEST_CRM_TOKEN", "tok-123")

	cfg, err := LoadFrom(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, "tok-123", cfg.CRM.APIToken)

	// Unset fields fall back to the reference deployment defaults.
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 100, cfg.CRM.BatchSize)
	assert.Equal(t, 3, cfg.CRM.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.CRM.RequestTimeout())
	assert.Equal(t, "08:00", cfg.Shift.WorkStart)
	assert.Equal(t, "18:00", cfg.Shift.WorkEnd)
	assert.Equal(t, "Africa/Nairobi", cfg.Shift.Timezone)
	assert.Equal(t, 3, cfg.Shift.LateOutHours)
	assert.Equal(t, 90, cfg.Retention.RawPunchDays)
}

func TestLoadFromDBPortOverride(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "x")
	t.Setenv("TEST_CRM_TOKEN", "x")
	t.Setenv("DB_PORT", "6543")

	cfg, err := LoadFrom(writeConfig(t, minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, 6543, cfg.Database.Port)
}

func TestLoadFromRejectsInvalid(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "x")
	t.Setenv("TEST_CRM_TOKEN", "x")

	// Missing required CRM settings.
	_, err := LoadFrom(writeConfig(t, `
database:
  host: localhost
  user: bridge
  dbname: attendance_bridge
`))
	assert.Error(t, err)

	// A work window whose overnight flag contradicts its hours.
	_, err = LoadFrom(writeConfig(t, minimalYAML+`
shift:
  work_start: "20:00"
  work_end: "05:00"
  overnight: false
  timezone: Africa/Nairobi
`))
	assert.Error(t, err)
}

func TestLoadFromMissingFile(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWindow(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "x")
	t.Setenv("TEST_CRM_TOKEN", "x")

	cfg, err := LoadFrom(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	w, err := cfg.Window()
	require.NoError(t, err)
	assert.Equal(t, 8, w.Start.Hour)
	assert.Equal(t, 18, w.End.Hour)
	assert.False(t, w.Overnight)
	assert.Equal(t, 2*time.Hour, w.EarlyIn)
	assert.Equal(t, 3*time.Hour, w.LateOut)
	assert.Equal(t, "Africa/Nairobi", w.Location.String())
}

func TestConnString(t *testing.T) {
	c := DatabaseConfig{
		Host: "db.internal", Port: 5432, User: "bridge",
		Password: "pw", DBName: "attendance", SSLMode: "disable",
	}
	assert.Equal(t,
		"postgres://bridge:pw@db.internal:5432/attendance?sslmode=disable",
		c.ConnString())
}
