package sqlite

import (
	"errors"
	"log/slog"

	modernc "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/pietjan/txmigrate/database"
)

type Option = func(*driver)

func New(options ...Option) (database.Driver, error) {
	d := &driver{
		table: database.DefaultTable,
	}

	for _, fn := range options {
		fn(d)
	}

	if database.IsNilDB(d.db) {
		return nil, database.ErrNilDB
	}

	if err := database.ValidateIdentifier(d.table); err != nil {
		return nil, err
	}

	adapter, err := database.NewAdapter(d.db, dialect{table: quote(d.table)}, database.WithLogger(d.logger))
	if err != nil {
		return nil, err
	}

	return adapter, nil
}

func DB(db database.DB) Option {
	return func(d *driver) {
		d.db = db
	}
}

func Table(table string) Option {
	return func(d *driver) {
		d.table = table
	}
}

func Logger(logger *slog.Logger) Option {
	return func(d *driver) {
		d.logger = logger
	}
}

type driver struct {
	db     database.DB
	table  string
	logger *slog.Logger
}

type dialect struct {
	table string
}

var _ database.Dialect = dialect{}

func (d dialect) Table() string {
	return d.table
}

func (d dialect) SetupQueries() []string {
	return []string{`CREATE TABLE IF NOT EXISTS ` + d.table + ` (version INTEGER NOT NULL PRIMARY KEY)`}
}

func (d dialect) CurrentVersionQuery() string {
	return `SELECT version FROM ` + d.table + ` ORDER BY version DESC LIMIT 1`
}

func (d dialect) MigratedVersionsQuery() string {
	return `SELECT version FROM ` + d.table
}

func (d dialect) RecordVersionQuery() string {
	return `INSERT INTO ` + d.table + ` (version) VALUES (?)`
}

func (d dialect) EraseVersionQuery() string {
	return `DELETE FROM ` + d.table + ` WHERE version = ?`
}

func (dialect) IsDuplicate(err error) bool {
	var sqliteErr *modernc.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}

	return false
}

func quote(identifier string) string {
	return `"` + identifier + `"`
}
