package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrateURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@localhost:5432/db?sslmode=disable", migrateURL("postgres://u:p@localhost:5432/db?sslmode=disable"))
	require.Equal(t, "pgx5://localhost/db", migrateURL("postgresql://localhost/db"))
	require.Equal(t, "pgx5://localhost/db", migrateURL("pgx5://localhost/db"))
}

func TestMigrationFilesEmbedded(t *testing.T) {
	entries, err := migrationFiles.ReadDir("migrations")
	require.NoError(t, err)
	require.Len(t, entries, 2)
}
