package database_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majordome-ai/majordome/pkg/database"
	"github.com/majordome-ai/majordome/test/util"
)

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("DB_HOST", "")
	t.Setenv("DB_PORT", "")
	t.Setenv("DB_USER", "")
	t.Setenv("DB_NAME", "")
	t.Setenv("DB_SSLMODE", "")

	cfg, err := database.LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "majordome", cfg.User)
	assert.Equal(t, "majordome", cfg.Database)
	assert.Equal(t, "disable", cfg.SSLMode)
	assert.Equal(t, 10, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, 30*time.Minute, cfg.ConnMaxLifetime)
}

func TestLoadConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("DB_USER", "cognition")
	t.Setenv("DB_PASSWORD", "hunter2")
	t.Setenv("DB_NAME", "assistant")
	t.Setenv("DB_MAX_OPEN_CONNS", "25")

	cfg, err := database.LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, 5433, cfg.Port)
	assert.Equal(t, "cognition", cfg.User)
	assert.Equal(t, "hunter2", cfg.Password)
	assert.Equal(t, "assistant", cfg.Database)
	assert.Equal(t, 25, cfg.MaxOpenConns)
}

func TestLoadConfigFromEnvBadPort(t *testing.T) {
	t.Setenv("DB_PORT", "not-a-port")

	_, err := database.LoadConfigFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PORT")
}

func TestConfigDSN(t *testing.T) {
	cfg := database.Config{
		Host: "localhost", Port: 5432, User: "u", Password: "p",
		Database: "d", SSLMode: "disable",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=u password=p dbname=d sslmode=disable",
		cfg.DSN())
}

func TestHealth(t *testing.T) {
	db := util.SetupTestDatabase(t)

	status, err := database.Health(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, "healthy", status.Status)
	assert.GreaterOrEqual(t, status.OpenConnections, 1)
	assert.Equal(t, 10, status.MaxOpenConns)
}

func TestHealthStatusJSONMilliseconds(t *testing.T) {
	raw, err := json.Marshal(&database.HealthStatus{Status: "healthy", ResponseTime: 12})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Contains(t, decoded, "response_time_ms")
	assert.Contains(t, decoded, "wait_duration_ms")
	assert.EqualValues(t, 12, decoded["response_time_ms"])
}

// The migration set creates the GIN index the mail and chat adapters query
// through; this exercises the same tsvector expression end to end.
func TestFullTextSearchOverEventPayload(t *testing.T) {
	db := util.SetupTestDatabase(t)
	ctx := context.Background()

	payload := map[string]any{
		"subject":    "Budget review for Acme",
		"body_plain": "The quarterly numbers need sign-off before Friday.",
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx,
		`INSERT INTO perceived_events (event_id, source, source_id, payload) VALUES ($1, $2, $3, $4)`,
		"email:m1", "email", "m1", raw)
	require.NoError(t, err)

	var eventID string
	err = db.QueryRowContext(ctx,
		`SELECT event_id FROM perceived_events
		WHERE to_tsvector('simple',
			COALESCE(payload->>'subject', '') || ' ' || COALESCE(payload->>'body_plain', ''))
			@@ plainto_tsquery('simple', $1)`,
		"quarterly sign-off").Scan(&eventID)
	require.NoError(t, err)
	assert.Equal(t, "email:m1", eventID)
}
