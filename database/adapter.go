package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
)

// DefaultTable is the version table name used when none is configured.
const DefaultTable = `version`

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier checks that name can be used as a table or schema name.
// Dialects still quote it when building statements.
func ValidateIdentifier(name string) error {
	if !identifier.MatchString(name) {
		return fmt.Errorf(`%w: %q`, ErrInvalidIdentifier, name)
	}
	return nil
}

// IsNilDB reports whether db is nil, including a nil *sql.DB or *sql.Conn
// stored in the interface.
func IsNilDB(db DB) bool {
	switch db := db.(type) {
	case nil:
		return true
	case *sql.DB:
		return db == nil
	case *sql.Conn:
		return db == nil
	}
	return false
}

// Dialect provides the statements an Adapter runs against one kind of
// database. Statements take the version as their only positional parameter.
type Dialect interface {
	// Table returns the quoted, possibly schema qualified, version table
	Table() string
	// SetupQueries are run in order and must all be idempotent
	SetupQueries() []string
	// CurrentVersionQuery returns at most one row holding the highest version
	CurrentVersionQuery() string
	MigratedVersionsQuery() string
	RecordVersionQuery() string
	EraseVersionQuery() string
	// IsDuplicate reports whether err is a primary key violation
	IsDuplicate(err error) bool
}

type AdapterOption = func(*Adapter)

func WithLogger(logger *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// Adapter implements Driver on top of a DB handle and a Dialect.
type Adapter struct {
	db      DB
	dialect Dialect
	logger  *slog.Logger
}

var _ Driver = (*Adapter)(nil)

// NewAdapter returns an Adapter borrowing db. The caller keeps ownership of
// db and must keep it open for as long as the adapter is used.
func NewAdapter(db DB, dialect Dialect, options ...AdapterOption) (*Adapter, error) {
	if IsNilDB(db) {
		return nil, ErrNilDB
	}

	if dialect == nil {
		return nil, ErrNilDialect
	}

	a := &Adapter{
		db:      db,
		dialect: dialect,
		logger:  slog.Default(),
	}

	for _, fn := range options {
		fn(a)
	}

	a.logger = a.logger.With(`table`, dialect.Table())

	return a, nil
}

func (a *Adapter) SetupSchema(ctx context.Context) error {
	for _, query := range a.dialect.SetupQueries() {
		if _, err := a.db.ExecContext(ctx, query); err != nil {
			return &SchemaError{Table: a.dialect.Table(), Err: err}
		}
	}

	a.logger.Debug(`version table ready`)

	return nil
}

func (a *Adapter) CurrentVersion(ctx context.Context) (Version, bool, error) {
	var version int64
	query := a.dialect.CurrentVersionQuery()
	err := a.db.QueryRowContext(ctx, query).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, &QueryError{Query: query, Err: err}
	}

	return Version(version), true, nil
}

func (a *Adapter) MigratedVersions(ctx context.Context) (VersionSet, error) {
	query := a.dialect.MigratedVersionsQuery()
	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &QueryError{Query: query, Err: err}
	}
	defer rows.Close()

	versions := VersionSet{}
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, &QueryError{Query: query, Err: err}
		}
		versions[Version(version)] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, &QueryError{Query: query, Err: err}
	}

	return versions, nil
}

func (a *Adapter) ApplyMigration(ctx context.Context, migration Migration) error {
	return a.run(ctx, migration, Up)
}

func (a *Adapter) RevertMigration(ctx context.Context, migration Migration) error {
	return a.run(ctx, migration, Down)
}

// run executes one direction of migration and the matching version table
// change inside a single transaction. Every return before Commit leaves the
// deferred Rollback to discard both.
func (a *Adapter) run(ctx context.Context, migration Migration, direction Direction) error {
	version := migration.Version()
	logger := a.logger.With(`version`, int64(version), `direction`, string(direction))

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return &BookkeepingError{Version: version, Op: OpBegin, Err: err}
	}
	defer tx.Rollback()

	effect, op, query := migration.Up, OpRecord, a.dialect.RecordVersionQuery()
	if direction == Down {
		effect, op, query = migration.Down, OpErase, a.dialect.EraseVersionQuery()
	}

	if err := effect(ctx, tx); err != nil {
		logger.Debug(`migration failed, rolling back`, `error`, err)
		return &MigrationError{Version: version, Direction: direction, Err: err}
	}

	if _, err := tx.ExecContext(ctx, query, int64(version)); err != nil {
		if a.dialect.IsDuplicate(err) {
			err = fmt.Errorf(`%w: %w`, ErrDuplicateVersion, err)
		}
		logger.Debug(`version table update failed, rolling back`, `error`, err)
		return &BookkeepingError{Version: version, Op: op, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &BookkeepingError{Version: version, Op: OpCommit, Err: err}
	}

	logger.Debug(`migration committed`, `description`, migration.Description())

	return nil
}
