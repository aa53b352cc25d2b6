package txmigrate_test

import (
	"context"
	"database/sql"
	"log/slog"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/pietjan/txmigrate"
	"github.com/pietjan/txmigrate/database"
	"github.com/pietjan/txmigrate/database/sqlite"
	"github.com/pietjan/txmigrate/source/file"
)

type firstMigration struct {
	database.Base
}

func (firstMigration) Up(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `CREATE TABLE first (id BIGINT PRIMARY KEY)`)
	return err
}

func (firstMigration) Down(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE first`)
	return err
}

func first() txmigrate.Migration {
	return firstMigration{database.Base{ID: 10, Name: `first migration`}}
}

func second() txmigrate.Migration {
	return database.Base{ID: 20, Name: `second migration`}
}

func ptr(v txmigrate.Version) *txmigrate.Version {
	return &v
}

func setup(t *testing.T) (*sql.DB, *txmigrate.Migrator) {
	t.Helper()

	db, err := sql.Open(`sqlite`, `:memory:`)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	driver, err := txmigrate.ToSqlite(sqlite.DB(db))
	require.NoError(t, err)
	require.NoError(t, driver.SetupSchema(t.Context()))

	return db, txmigrate.New(driver, txmigrate.WithLogger(slog.New(slog.DiscardHandler)))
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()

	var n int
	err := db.QueryRowContext(t.Context(), `SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	require.NoError(t, err)

	return n == 1
}

func TestMigrationCount(t *testing.T) {
	_, m := setup(t)
	require.NoError(t, m.Register(first(), second()))

	n, err := m.Up(t.Context(), ptr(1337))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	current, ok, err := m.CurrentVersion(t.Context())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, txmigrate.Version(20), current)

	n, err = m.Down(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok, err = m.CurrentVersion(t.Context())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMigrationUpAndDown(t *testing.T) {
	db, m := setup(t)
	require.NoError(t, m.Register(first()))

	_, err := m.Up(t.Context(), ptr(10))
	require.NoError(t, err)
	assert.True(t, tableExists(t, db, `first`))

	_, err = m.Down(t.Context(), nil)
	require.NoError(t, err)
	assert.False(t, tableExists(t, db, `first`))
}

func TestUpToTarget(t *testing.T) {
	_, m := setup(t)
	require.NoError(t, m.Register(second(), first(), database.Base{ID: 30}))

	n, err := m.Up(t.Context(), ptr(20))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	current, _, err := m.CurrentVersion(t.Context())
	require.NoError(t, err)
	assert.Equal(t, txmigrate.Version(20), current)

	// Already applied versions are skipped.
	n, err = m.Up(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = m.Down(t.Context(), ptr(10))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	current, _, err = m.CurrentVersion(t.Context())
	require.NoError(t, err)
	assert.Equal(t, txmigrate.Version(10), current)
}

func TestUpStopsAtFirstFailure(t *testing.T) {
	db, m := setup(t)

	// 20 creates "first" again after 10 already did.
	again := firstMigration{database.Base{ID: 20}}
	require.NoError(t, m.Register(first(), again, database.Base{ID: 30}))

	n, err := m.Up(t.Context(), nil)
	assert.Equal(t, 1, n)

	var migrationErr *database.MigrationError
	require.ErrorAs(t, err, &migrationErr)
	assert.Equal(t, txmigrate.Version(20), migrationErr.Version)

	current, _, err := m.CurrentVersion(t.Context())
	require.NoError(t, err)
	assert.Equal(t, txmigrate.Version(10), current)
	assert.True(t, tableExists(t, db, `first`))
}

func TestRegisterDuplicate(t *testing.T) {
	_, m := setup(t)

	require.NoError(t, m.Register(first()))
	err := m.Register(firstMigration{database.Base{ID: 10}})
	assert.ErrorIs(t, err, txmigrate.ErrDuplicateMigration)
}

func TestDownUnknownVersion(t *testing.T) {
	db, _ := setup(t)

	driver, err := sqlite.New(sqlite.DB(db))
	require.NoError(t, err)
	require.NoError(t, driver.ApplyMigration(t.Context(), database.Base{ID: 99}))

	m := txmigrate.New(driver)
	require.NoError(t, m.Register(second()))

	n, err := m.Down(t.Context(), nil)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, txmigrate.ErrUnknownVersion)
}

func TestStatus(t *testing.T) {
	db, m := setup(t)
	require.NoError(t, m.Register(first(), second()))

	_, err := m.Up(t.Context(), ptr(10))
	require.NoError(t, err)

	driver, err := sqlite.New(sqlite.DB(db))
	require.NoError(t, err)
	require.NoError(t, driver.ApplyMigration(t.Context(), database.Base{ID: 5}))

	statuses, err := m.Status(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []txmigrate.Status{
		{Version: 5, Applied: true},
		{Version: 10, Description: `first migration`, Applied: true, Registered: true},
		{Version: 20, Description: `second migration`, Registered: true},
	}, statuses)
}

func TestRunFromFile(t *testing.T) {
	db, err := sql.Open(`sqlite`, `:memory:`)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	driver, err := txmigrate.ToSqlite(sqlite.DB(db), sqlite.Table(`schemamama`))
	require.NoError(t, err)

	src, err := txmigrate.FromFile(file.FS(fstest.MapFS{
		`1_users.up.sql`:   {Data: []byte(`CREATE TABLE users (id INTEGER PRIMARY KEY);`)},
		`2_posts.up.sql`:   {Data: []byte(`CREATE TABLE posts (id INTEGER PRIMARY KEY);`)},
		`2_posts.down.sql`: {Data: []byte(`DROP TABLE posts;`)},
	}))
	require.NoError(t, err)

	m := txmigrate.New(driver)
	require.NoError(t, m.Load(src))

	// Run is repeatable: the second call finds nothing pending.
	for range 2 {
		require.NoError(t, m.Run(t.Context()))
	}

	assert.True(t, tableExists(t, db, `schemamama`))
	assert.True(t, tableExists(t, db, `users`))
	assert.True(t, tableExists(t, db, `posts`))

	current, _, err := m.CurrentVersion(t.Context())
	require.NoError(t, err)
	assert.Equal(t, txmigrate.Version(2), current)
}
