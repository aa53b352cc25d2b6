package postgres

import (
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/pietjan/txmigrate/database"
)

// uniqueViolation is the SQLSTATE postgres reports for a duplicate key.
const uniqueViolation = `23505`

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

// DB sets the connection; both lib/pq and pgx stdlib connections work.
func DB(db database.DB) Option {
	return func(d *driver) {
		d.db = db
	}
}

// Schema qualifies the version table. Without it the table is resolved
// through the connection's search_path.
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

	d := dialect{table: pq.QuoteIdentifier(table)}

	if len(schema) > 0 {
		if err := database.ValidateIdentifier(schema); err != nil {
			return dialect{}, err
		}
		d.schema = pq.QuoteIdentifier(schema)
		d.table = d.schema + `.` + d.table
	}

	return d, nil
}

func (d dialect) Table() string {
	return d.table
}

func (d dialect) SetupQueries() []string {
	var queries []string
	if len(d.schema) > 0 {
		queries = append(queries, `CREATE SCHEMA IF NOT EXISTS `+d.schema)
	}

	return append(queries, `CREATE TABLE IF NOT EXISTS `+d.table+` (version BIGINT NOT NULL PRIMARY KEY)`)
}

func (d dialect) CurrentVersionQuery() string {
	return `SELECT version FROM ` + d.table + ` ORDER BY version DESC LIMIT 1`
}

func (d dialect) MigratedVersionsQuery() string {
	return `SELECT version FROM ` + d.table
}

func (d dialect) RecordVersionQuery() string {
	return `INSERT INTO ` + d.table + ` (version) VALUES ($1)`
}

func (d dialect) EraseVersionQuery() string {
	return `DELETE FROM ` + d.table + ` WHERE version = $1`
}

func (dialect) IsDuplicate(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}

	return false
}
