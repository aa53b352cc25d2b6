// Package databasetest holds the acceptance suite every database.Driver
// implementation is expected to pass.
package databasetest

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pietjan/txmigrate/database"
)

// Harness connects the suite to one kind of database.
type Harness struct {
	// Open returns a handle for a single subtest. Handles may be shared
	// between subtests as long as table names don't collide.
	Open func(t *testing.T) database.DB
	// New builds the driver under test with the given version table name.
	New func(db database.DB, table string) (database.Driver, error)
	// TableExists reports whether an unquoted, lower case table is visible on db.
	TableExists func(ctx context.Context, db database.DB, table string) (bool, error)
	// Drop removes a table created by the suite. Optional.
	Drop func(ctx context.Context, db database.DB, table string) error
}

// Run executes the suite.
func Run(t *testing.T, h Harness) {
	t.Run("setup is idempotent", func(t *testing.T) {
		s := newSuite(t, h)
		meta := s.name(`meta`)
		driver := s.driver(meta)

		for range 2 {
			require.NoError(t, driver.SetupSchema(t.Context()))
			assert.True(t, s.exists(meta))
		}
	})

	t.Run("empty state", func(t *testing.T) {
		s := newSuite(t, h)
		driver := s.setup(s.name(`meta`))

		_, ok, err := driver.CurrentVersion(t.Context())
		require.NoError(t, err)
		assert.False(t, ok)

		versions, err := driver.MigratedVersions(t.Context())
		require.NoError(t, err)
		assert.Empty(t, versions)

		_, ok = versions.Max()
		assert.False(t, ok)
	})

	t.Run("query before setup fails", func(t *testing.T) {
		s := newSuite(t, h)
		driver := s.driver(s.name(`meta`))

		_, _, err := driver.CurrentVersion(t.Context())
		var queryErr *database.QueryError
		require.ErrorAs(t, err, &queryErr)

		_, err = driver.MigratedVersions(t.Context())
		require.ErrorAs(t, err, &queryErr)
	})

	t.Run("current version is the maximum", func(t *testing.T) {
		s := newSuite(t, h)
		driver := s.setup(s.name(`meta`))

		for _, v := range []database.Version{10, 20, 5} {
			require.NoError(t, driver.ApplyMigration(t.Context(), noop(v)))
		}

		current, ok, err := driver.CurrentVersion(t.Context())
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, database.Version(20), current)

		versions, err := driver.MigratedVersions(t.Context())
		require.NoError(t, err)
		assert.Equal(t, []database.Version{5, 10, 20}, versions.Sorted())

		highest, ok := versions.Max()
		assert.True(t, ok)
		assert.Equal(t, current, highest)
	})

	t.Run("apply then revert round trips", func(t *testing.T) {
		s := newSuite(t, h)
		driver := s.setup(s.name(`meta`))
		require.NoError(t, driver.ApplyMigration(t.Context(), noop(1)))

		side := s.name(`side`)
		m := &migration{
			Base: database.Base{ID: 10, Name: `create side table`},
			up:   createTable(side),
			down: dropTable(side),
		}

		require.NoError(t, driver.ApplyMigration(t.Context(), m))
		assert.True(t, s.exists(side))

		current, _, err := driver.CurrentVersion(t.Context())
		require.NoError(t, err)
		assert.Equal(t, database.Version(10), current)

		require.NoError(t, driver.RevertMigration(t.Context(), m))
		assert.False(t, s.exists(side))

		current, ok, err := driver.CurrentVersion(t.Context())
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, database.Version(1), current)

		versions, err := driver.MigratedVersions(t.Context())
		require.NoError(t, err)
		assert.False(t, versions.Has(10))
	})

	t.Run("failed up rolls back its effects", func(t *testing.T) {
		s := newSuite(t, h)
		driver := s.setup(s.name(`meta`))

		side := s.name(`side`)
		cause := errors.New(`boom`)
		m := &migration{
			Base: database.Base{ID: 10},
			up: func(ctx context.Context, tx *sql.Tx) error {
				if err := createTable(side)(ctx, tx); err != nil {
					return err
				}
				return cause
			},
		}

		err := driver.ApplyMigration(t.Context(), m)
		var migrationErr *database.MigrationError
		require.ErrorAs(t, err, &migrationErr)
		assert.Equal(t, database.Up, migrationErr.Direction)
		assert.Equal(t, database.Version(10), migrationErr.Version)
		assert.ErrorIs(t, err, cause)

		assert.False(t, s.exists(side))

		versions, err := driver.MigratedVersions(t.Context())
		require.NoError(t, err)
		assert.Empty(t, versions)
	})

	t.Run("failed down keeps the version", func(t *testing.T) {
		s := newSuite(t, h)
		driver := s.setup(s.name(`meta`))

		cause := errors.New(`boom`)
		m := &migration{
			Base: database.Base{ID: 7},
			down: func(context.Context, *sql.Tx) error { return cause },
		}
		require.NoError(t, driver.ApplyMigration(t.Context(), m))

		err := driver.RevertMigration(t.Context(), m)
		var migrationErr *database.MigrationError
		require.ErrorAs(t, err, &migrationErr)
		assert.Equal(t, database.Down, migrationErr.Direction)

		versions, err := driver.MigratedVersions(t.Context())
		require.NoError(t, err)
		assert.True(t, versions.Has(7))
	})

	t.Run("duplicate apply is a bookkeeping error", func(t *testing.T) {
		s := newSuite(t, h)
		driver := s.setup(s.name(`meta`))
		require.NoError(t, driver.ApplyMigration(t.Context(), noop(10)))

		side := s.name(`side`)
		m := &migration{
			Base: database.Base{ID: 10},
			up:   createTable(side),
		}

		err := driver.ApplyMigration(t.Context(), m)
		var bookkeepingErr *database.BookkeepingError
		require.ErrorAs(t, err, &bookkeepingErr)
		assert.Equal(t, database.OpRecord, bookkeepingErr.Op)
		assert.ErrorIs(t, err, database.ErrDuplicateVersion)

		var migrationErr *database.MigrationError
		assert.False(t, errors.As(err, &migrationErr))

		assert.False(t, s.exists(side))

		versions, err := driver.MigratedVersions(t.Context())
		require.NoError(t, err)
		assert.Equal(t, []database.Version{10}, versions.Sorted())
	})

	t.Run("reverting an unapplied version runs down only", func(t *testing.T) {
		s := newSuite(t, h)
		driver := s.setup(s.name(`meta`))
		require.NoError(t, driver.ApplyMigration(t.Context(), noop(1)))

		var called bool
		m := &migration{
			Base: database.Base{ID: 30},
			down: func(context.Context, *sql.Tx) error {
				called = true
				return nil
			},
		}

		require.NoError(t, driver.RevertMigration(t.Context(), m))
		assert.True(t, called)

		versions, err := driver.MigratedVersions(t.Context())
		require.NoError(t, err)
		assert.Equal(t, []database.Version{1}, versions.Sorted())
	})

	t.Run("custom tables are independent", func(t *testing.T) {
		s := newSuite(t, h)
		first := s.setup(s.name(`first`))
		second := s.setup(s.name(`second`))

		require.NoError(t, first.ApplyMigration(t.Context(), noop(1)))
		require.NoError(t, second.ApplyMigration(t.Context(), noop(2)))
		require.NoError(t, second.ApplyMigration(t.Context(), noop(1)))

		versions, err := first.MigratedVersions(t.Context())
		require.NoError(t, err)
		assert.Equal(t, []database.Version{1}, versions.Sorted())

		current, _, err := second.CurrentVersion(t.Context())
		require.NoError(t, err)
		assert.Equal(t, database.Version(2), current)

		require.NoError(t, first.RevertMigration(t.Context(), noop(1)))

		versions, err = second.MigratedVersions(t.Context())
		require.NoError(t, err)
		assert.Equal(t, []database.Version{1, 2}, versions.Sorted())
	})
}

type suite struct {
	t      *testing.T
	h      Harness
	db     database.DB
	suffix string
}

func newSuite(t *testing.T, h Harness) *suite {
	t.Helper()

	// A unique suffix per subtest, so shared databases don't clash.
	rnd := make([]byte, 4)
	_, err := rand.Read(rnd)
	require.NoError(t, err)

	return &suite{t: t, h: h, db: h.Open(t), suffix: hex.EncodeToString(rnd)}
}

func (s *suite) name(base string) string {
	name := base + `_` + s.suffix
	if s.h.Drop != nil {
		s.t.Cleanup(func() {
			_ = s.h.Drop(context.Background(), s.db, name)
		})
	}
	return name
}

func (s *suite) driver(table string) database.Driver {
	s.t.Helper()

	driver, err := s.h.New(s.db, table)
	require.NoError(s.t, err)

	return driver
}

func (s *suite) setup(table string) database.Driver {
	s.t.Helper()

	driver := s.driver(table)
	require.NoError(s.t, driver.SetupSchema(s.t.Context()))

	return driver
}

func (s *suite) exists(table string) bool {
	s.t.Helper()

	ok, err := s.h.TableExists(s.t.Context(), s.db, table)
	require.NoError(s.t, err)

	return ok
}

type migration struct {
	database.Base
	up, down func(ctx context.Context, tx *sql.Tx) error
}

func (m *migration) Up(ctx context.Context, tx *sql.Tx) error {
	if m.up == nil {
		return nil
	}
	return m.up(ctx, tx)
}

func (m *migration) Down(ctx context.Context, tx *sql.Tx) error {
	if m.down == nil {
		return nil
	}
	return m.down(ctx, tx)
}

func noop(version database.Version) database.Migration {
	return database.Base{ID: version}
}

func createTable(name string) func(ctx context.Context, tx *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `CREATE TABLE `+name+` (id INTEGER PRIMARY KEY)`)
		return err
	}
}

func dropTable(name string) func(ctx context.Context, tx *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DROP TABLE `+name)
		return err
	}
}
