package database

import (
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	sql := `CREATE TABLE a (x TEXT DEFAULT 'a;b');
INSERT INTO a VALUES ('it''s; fine');

;`
	got := splitStatements(sql)
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "'a;b'")
	assert.Contains(t, got[1], "'it''s; fine'")
}

func TestOpenAppliesMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "test.db")

	db, err := Open(path)
	require.NoError(t, err)
	var n int
	require.NoError(t, db.Conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, 1, n)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestRecoverableMigrationErrorIsSkipped(t *testing.T) {
	migrations := fstest.MapFS{
		"001_init.sql": {Data: []byte(`CREATE TABLE t (a TEXT);`)},
		"002_again.sql": {Data: []byte(`ALTER TABLE t ADD COLUMN b TEXT;
ALTER TABLE t ADD COLUMN b TEXT;
CREATE TABLE u (c TEXT);`)},
	}

	db, err := New(":memory:", migrations)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Conn.Exec(`INSERT INTO u (c) VALUES ('ok')`)
	assert.NoError(t, err)
}
