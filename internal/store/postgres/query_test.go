package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
)

func TestListQueryDefaults(t *testing.T) {
	query, args := listQuery("SELECT * FROM t WHERE TRUE", "created_at", domain.ListOpts{})

	assert.Equal(t, "SELECT * FROM t WHERE TRUE ORDER BY created_at DESC LIMIT $1", query)
	assert.Equal(t, []any{defaultListLimit}, args)
}

func TestListQueryAllFilters(t *testing.T) {
	since := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	query, args := listQuery("SELECT * FROM t WHERE TRUE", "decided_at", domain.ListOpts{
		Symbol: "600519",
		Since:  &since,
		Limit:  20,
		Offset: 40,
	})

	assert.Equal(t,
		"SELECT * FROM t WHERE TRUE AND symbol = $1 AND decided_at >= $2 ORDER BY decided_at DESC LIMIT $3 OFFSET $4",
		query)
	require.Len(t, args, 4)
	assert.Equal(t, "600519", args[0])
	assert.Equal(t, since, args[1])
	assert.Equal(t, 20, args[2])
	assert.Equal(t, 40, args[3])
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/smart?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "smart", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
	assert.Equal(t, "postgres://u:p@localhost:6543/smart?sslmode=require",
		DSN(ClientConfig{Port: 6543, Database: "smart", User: "u", Password: "p", SSLMode: "require"}))
}

func TestMigrationNamesSorted(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_init.sql", names[0])
}
