package db_test

import (
	"context"
	"testing"

	"client-portal/internal/db"
	"client-portal/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate_IsIdempotent(t *testing.T) {
	pool := testutil.StartPostgres(t) // already migrated once
	ctx := context.Background()

	applied, err := db.Migrate(ctx, pool)
	require.NoError(t, err)
	assert.Empty(t, applied, "second run must not re-apply migrations")

	var tables int
	err = pool.QueryRow(ctx, `
		SELECT count(*) FROM information_schema.tables
		WHERE table_schema = 'public'
		  AND table_name IN ('orders', 'invoices', 'invoice_items', 'invoice_counters', 'audit_logs', 'users')
	`).Scan(&tables)
	require.NoError(t, err)
	assert.Equal(t, 6, tables)
}

func TestNewPool_EmptyConnString(t *testing.T) {
	_, err := db.NewPool(context.Background(), "")
	require.EqualError(t, err, "database connection string is empty")
}
