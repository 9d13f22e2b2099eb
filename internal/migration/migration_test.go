package migration_test

import (
	"testing"

	"github.com/luisterslim/billing/internal/migration"
	"github.com/luisterslim/billing/internal/migration/migrationtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMigrationsCreatesSchema(t *testing.T) {
	conn := migrationtest.OpenSQLite(t)

	for _, table := range []string{
		"plan_assignments",
		"usage_periods",
		"usage_events",
		"usage_rejections",
		"topup_credits",
		"external_subscriptions",
		"retention_settings",
		"billing_customers",
		"billing_webhook_events",
		"audit_logs",
	} {
		assert.True(t, conn.Migrator().HasTable(table), "missing table %s", table)
	}

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	// second run is a no-op
	require.NoError(t, migration.RunMigrations(sqlDB, "sqlite"))
}

func TestUsedMsCannotGoNegative(t *testing.T) {
	conn := migrationtest.OpenSQLite(t)

	err := conn.Exec(`INSERT INTO usage_periods (account_id, period_id, used_ms) VALUES ('a', '2024-01', -1)`).Error
	assert.Error(t, err)
}

func TestRunMigrationsRejectsUnknownType(t *testing.T) {
	conn := migrationtest.OpenSQLite(t)
	sqlDB, err := conn.DB()
	require.NoError(t, err)

	assert.Error(t, migration.RunMigrations(sqlDB, "oracle"))
	assert.Error(t, migration.RunMigrations(nil, "sqlite"))
}
