package sqlserver

import (
	"errors"
	"log/slog"

	mssql "github.com/microsoft/go-mssqldb"

	"github.com/pietjan/txmigrate/database"
)

// Error numbers for primary key and unique index violations.
const (
	primaryKeyViolation  = 2627
	uniqueIndexViolation = 2601
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

	dialect, err := newDialect(d.schema, d.table)
	if err != nil {
		return nil, err
	}

	adapter, err := database.NewAdapter(d.db, dialect, database.WithLogger(d.logger))
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

// Schema qualifies the version table. Without it the login's default schema
// is used.
func Schema(schema string) Option {
	return func(d *driver) {
		d.schema = schema
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
	schema string
	table  string
	logger *slog.Logger
}

type dialect struct {
	schema string
	table  string
}

var _ database.Dialect = dialect{}

func newDialect(schema, table string) (dialect, error) {
	if err := database.ValidateIdentifier(table); err != nil {
		return dialect{}, err
	}

	d := dialect{table: quote(table)}

	if len(schema) > 0 {
		if err := database.ValidateIdentifier(schema); err != nil {
			return dialect{}, err
		}
		d.schema = schema
		d.table = quote(schema) + `.` + d.table
	}

	return d, nil
}

func (d dialect) Table() string {
	return d.table
}

// SetupQueries relies on identifiers being validated: they are embedded in
// N'...' literals without escaping.
func (d dialect) SetupQueries() []string {
	var queries []string
	if len(d.schema) > 0 {
		queries = append(queries, `IF SCHEMA_ID(N'`+d.schema+`') IS NULL EXEC(N'CREATE SCHEMA `+quote(d.schema)+`')`)
	}

	return append(queries, `IF OBJECT_ID(N'`+d.table+`', N'U') IS NULL CREATE TABLE `+d.table+` (version BIGINT NOT NULL PRIMARY KEY)`)
}

func (d dialect) CurrentVersionQuery() string {
	return `SELECT TOP 1 version FROM ` + d.table + ` ORDER BY version DESC`
}

func (d dialect) MigratedVersionsQuery() string {
	return `SELECT version FROM ` + d.table
}

func (d dialect) RecordVersionQuery() string {
	return `INSERT INTO ` + d.table + ` (version) VALUES (@p1)`
}

func (d dialect) EraseVersionQuery() string {
	return `DELETE FROM ` + d.table + ` WHERE version = @p1`
}

func (dialect) IsDuplicate(err error) bool {
	var sqlErr mssql.Error
	if !errors.As(err, &sqlErr) {
		return false
	}

	return sqlErr.Number == primaryKeyViolation || sqlErr.Number == uniqueIndexViolation
}

func quote(identifier string) string {
	return `[` + identifier + `]`
}
