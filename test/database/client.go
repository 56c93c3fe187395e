package database

import (
	"database/sql"
	"testing"

	dbpkg "github.com/majordome-ai/majordome/pkg/database"
	"github.com/majordome-ai/majordome/test/util"
)

// NewTestClient creates a migrated test database client.
// In CI (when CI_DATABASE_URL is set): connects to an external PostgreSQL
// service container. In local dev: spins up a shared testcontainer.
// Cleanup (schema drop and connection close) is handled by the test harness.
func NewTestClient(t *testing.T) *dbpkg.Client {
	return dbpkg.NewClientFromDB(NewTestDB(t))
}

// NewTestDB returns the raw migrated pool for tests that query directly.
func NewTestDB(t *testing.T) *sql.DB {
	return util.SetupTestDatabase(t)
}
