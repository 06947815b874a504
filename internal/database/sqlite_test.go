package database

import (
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenSQLite_AppliesMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db")

	db, err := OpenSQLite(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Reopening must not re-run migration 001.
	db, err = OpenSQLite(path, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	var applied int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	assert.Equal(t, 1, applied)

	for _, table := range []string{"chats", "messages"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
}

func TestLoadMigrations_SortsAndSkipsUnnumbered(t *testing.T) {
	fsys := fstest.MapFS{
		"m/002_second.sql": {Data: []byte("SELECT 2;")},
		"m/001_first.sql":  {Data: []byte("SELECT 1;")},
		"m/README.md":      {Data: []byte("notes")},
		"m/x.sql":          {Data: []byte("SELECT 0;")},
	}

	migrations, err := loadMigrations(fsys, "m")
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, 1, migrations[0].version)
	assert.Equal(t, "001_first.sql", migrations[0].name)
	assert.Equal(t, 2, migrations[1].version)
	assert.Equal(t, "SELECT 2;", migrations[1].sql)
}
