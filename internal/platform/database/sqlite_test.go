package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLite_CreatesDirectoryAndEnablesForeignKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")

	db, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	defer db.Close()

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
	assert.Equal(t, 1, db.Stats().MaxOpenConnections)
}
