package database

import (
	"context"
	"database/sql"
	"sort"
)

// Version identifies a migration. Versions are ordered numerically.
type Version int64

// VersionSet holds recorded versions; each version appears once.
type VersionSet map[Version]struct{}

// Has reports whether v is part of the set.
func (s VersionSet) Has(v Version) bool {
	_, ok := s[v]
	return ok
}

// Sorted returns the versions in ascending order.
func (s VersionSet) Sorted() []Version {
	versions := make([]Version, 0, len(s))
	for v := range s {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions
}

// Max returns the highest version, or false when the set is empty.
func (s VersionSet) Max() (Version, bool) {
	var (
		highest Version
		ok      bool
	)
	for v := range s {
		if !ok || v > highest {
			highest, ok = v, true
		}
	}
	return highest, ok
}

// Migration is a single forward/reverse schema change. Up and Down receive
// the transaction the adapter opened; they must not commit or roll it back.
type Migration interface {
	Version() Version
	Description() string
	Up(ctx context.Context, tx *sql.Tx) error
	Down(ctx context.Context, tx *sql.Tx) error
}

// Base is embedded by concrete migrations. Its Up and Down do nothing, so a
// migration only overrides the directions it needs.
type Base struct {
	ID   Version
	Name string
}

func (b Base) Version() Version    { return b.ID }
func (b Base) Description() string { return b.Name }

func (Base) Up(context.Context, *sql.Tx) error   { return nil }
func (Base) Down(context.Context, *sql.Tx) error { return nil }

type Driver interface {
	// SetupSchema creates the version table if it doesn't exist yet
	SetupSchema(ctx context.Context) error
	// CurrentVersion returns the highest recorded version, false if none is recorded
	CurrentVersion(ctx context.Context) (version Version, ok bool, err error)
	// MigratedVersions returns every recorded version
	MigratedVersions(ctx context.Context) (VersionSet, error)
	// ApplyMigration runs migration.Up & records its version in one transaction
	ApplyMigration(ctx context.Context, migration Migration) error
	// RevertMigration runs migration.Down & erases its version in one transaction
	RevertMigration(ctx context.Context, migration Migration) error
}

// DB is the connection handle an adapter works on. It is satisfied by
// *sql.DB and *sql.Conn.
type DB interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ DB = (*sql.DB)(nil)
	_ DB = (*sql.Conn)(nil)
)
