// Package txmigrate applies and reverts schema migrations through a
// database.Driver, one transaction per migration.
//
// The Migrator decides which versions to run; the driver guarantees that a
// migration and its version bookkeeping commit or roll back together.
package txmigrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/pietjan/txmigrate/database"
	"github.com/pietjan/txmigrate/database/sqlite"
	"github.com/pietjan/txmigrate/source"
	"github.com/pietjan/txmigrate/source/file"
)

type Database = database.Driver
type Source = source.Driver
type Migration = database.Migration
type Version = database.Version

var (
	ErrDuplicateMigration = errors.New(`duplicate migration version`)

	// ErrUnknownVersion is returned by Down when a recorded version has no
	// registered migration to revert it with.
	ErrUnknownVersion = errors.New(`no migration registered for recorded version`)
)

func FromFile(options ...file.Option) (Source, error) {
	return file.New(options...)
}

func ToSqlite(options ...sqlite.Option) (Database, error) {
	return sqlite.New(options...)
}

type Option = func(*Migrator)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Migrator) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Migrator runs registered migrations against a database. It is not safe for
// concurrent use.
type Migrator struct {
	database   Database
	migrations map[Version]Migration
	logger     *slog.Logger
}

func New(database Database, options ...Option) *Migrator {
	m := &Migrator{
		database:   database,
		migrations: map[Version]Migration{},
		logger:     slog.Default(),
	}

	for _, fn := range options {
		fn(m)
	}

	return m
}

// Register adds migrations. A version can only be registered once.
func (m *Migrator) Register(migrations ...Migration) error {
	for _, migration := range migrations {
		version := migration.Version()
		if _, ok := m.migrations[version]; ok {
			return fmt.Errorf(`%w: %d`, ErrDuplicateMigration, version)
		}
		m.migrations[version] = migration
	}

	return nil
}

// Load registers every migration of source.
func (m *Migrator) Load(source Source) error {
	migrations, err := source.Migrations()
	if err != nil {
		return fmt.Errorf(`load migrations: %w`, err)
	}

	return m.Register(migrations...)
}

// Run creates the version table when needed and applies everything pending.
func (m *Migrator) Run(ctx context.Context) error {
	if err := m.database.SetupSchema(ctx); err != nil {
		return err
	}

	_, err := m.Up(ctx, nil)
	return err
}

func (m *Migrator) CurrentVersion(ctx context.Context) (Version, bool, error) {
	return m.database.CurrentVersion(ctx)
}

// Up applies registered migrations that are not recorded yet, in ascending
// order, up to and including target. A nil target applies all of them. It
// stops at the first failure and returns how many were applied before it.
func (m *Migrator) Up(ctx context.Context, target *Version) (int, error) {
	migrated, err := m.database.MigratedVersions(ctx)
	if err != nil {
		return 0, err
	}

	var n int
	for _, version := range m.versions() {
		if migrated.Has(version) {
			continue
		}

		if target != nil && version > *target {
			break
		}

		migration := m.migrations[version]
		if err := m.database.ApplyMigration(ctx, migration); err != nil {
			return n, fmt.Errorf(`apply migration %d (%s): %w`, version, migration.Description(), err)
		}

		m.logger.Info(`migration applied`, `version`, int64(version), `description`, migration.Description())
		n++
	}

	return n, nil
}

// Down reverts recorded migrations above target, highest first. A nil target
// reverts all of them.
func (m *Migrator) Down(ctx context.Context, target *Version) (int, error) {
	migrated, err := m.database.MigratedVersions(ctx)
	if err != nil {
		return 0, err
	}

	versions := migrated.Sorted()

	var n int
	for i := len(versions) - 1; i >= 0; i-- {
		version := versions[i]
		if target != nil && version <= *target {
			break
		}

		migration, ok := m.migrations[version]
		if !ok {
			return n, fmt.Errorf(`%w: %d`, ErrUnknownVersion, version)
		}

		if err := m.database.RevertMigration(ctx, migration); err != nil {
			return n, fmt.Errorf(`revert migration %d (%s): %w`, version, migration.Description(), err)
		}

		m.logger.Info(`migration reverted`, `version`, int64(version), `description`, migration.Description())
		n++
	}

	return n, nil
}

// Status describes one version known to the registry or the database.
type Status struct {
	Version     Version
	Description string
	Applied     bool
	// Registered is false for recorded versions without a migration.
	Registered bool
}

// Status lists registered and recorded versions in ascending order.
func (m *Migrator) Status(ctx context.Context) ([]Status, error) {
	migrated, err := m.database.MigratedVersions(ctx)
	if err != nil {
		return nil, err
	}

	all := database.VersionSet{}
	for version := range m.migrations {
		all[version] = struct{}{}
	}
	for version := range migrated {
		all[version] = struct{}{}
	}

	statuses := make([]Status, 0, len(all))
	for _, version := range all.Sorted() {
		status := Status{
			Version: version,
			Applied: migrated.Has(version),
		}

		if migration, ok := m.migrations[version]; ok {
			status.Registered = true
			status.Description = migration.Description()
		}

		statuses = append(statuses, status)
	}

	return statuses, nil
}

func (m *Migrator) versions() []Version {
	versions := make([]Version, 0, len(m.migrations))
	for version := range m.migrations {
		versions = append(versions, version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions
}
