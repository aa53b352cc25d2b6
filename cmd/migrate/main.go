package main

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/pietjan/txmigrate"
	"github.com/pietjan/txmigrate/database/postgres"
	"github.com/pietjan/txmigrate/database/sqlite"
	"github.com/pietjan/txmigrate/database/sqlserver"
	"github.com/pietjan/txmigrate/source/file"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"
)

func main() {
	stderr := colorable.NewColorable(os.Stderr)
	color := isatty.IsTerminal(os.Stderr.Fd())

	if err := run(os.Args[1:], colorable.NewColorable(os.Stdout), stderr, color); err != nil {
		fmt.Fprintln(stderr, err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer, color bool) error {
	var c cli
	kctx, err := parse(&c, args, stdout, stderr)
	if err != nil {
		return err
	}

	if err := isValid(c); err != nil {
		return err
	}

	logger := newLogger(stderr, c.Log.Level, color)

	source, err := getSource(c)
	if err != nil {
		return err
	}

	db, database, err := getDatabase(c, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	m := txmigrate.New(database, txmigrate.WithLogger(logger))
	if err := m.Load(source); err != nil {
		return err
	}

	return kctx.Run(&app{
		migrator: m,
		database: database,
		stdout:   stdout,
	})
}

func getSource(c cli) (txmigrate.Source, error) {
	switch driver(c.Source) {
	case `file`:
		return file.New(file.Dir(dsn(c.Source)))
	default:
		return nil, fmt.Errorf(`unknown source %s`, c.Source)
	}
}

func getDatabase(c cli, logger *slog.Logger) (*sql.DB, txmigrate.Database, error) {
	var (
		db       *sql.DB
		database txmigrate.Database
		err      error
	)

	switch driver(c.Database) {
	case `sqlite`:
		db, err = sql.Open(`sqlite`, dsn(c.Database))
		if err != nil {
			return nil, nil, err
		}
		// One connection keeps :memory: databases and file locks consistent.
		db.SetMaxOpenConns(1)
		database, err = sqlite.New(sqlite.DB(db), sqlite.Table(c.Table), sqlite.Logger(logger))
	case `postgres`, `postgresql`:
		db, err = sql.Open(`postgres`, c.Database)
		if err != nil {
			return nil, nil, err
		}
		database, err = postgresDatabase(c, db, logger)
	case `pgx`:
		db, err = sql.Open(`pgx`, `postgres://`+dsn(c.Database))
		if err != nil {
			return nil, nil, err
		}
		database, err = postgresDatabase(c, db, logger)
	case `sqlserver`:
		db, err = sql.Open(`sqlserver`, c.Database)
		if err != nil {
			return nil, nil, err
		}
		database, err = sqlserverDatabase(c, db, logger)
	default:
		return nil, nil, fmt.Errorf(`unknown database %s`, c.Database)
	}

	if err != nil {
		db.Close()
		return nil, nil, err
	}

	return db, database, nil
}

func postgresDatabase(c cli, db *sql.DB, logger *slog.Logger) (txmigrate.Database, error) {
	options := []postgres.Option{
		postgres.DB(db),
		postgres.Table(c.Table),
		postgres.Logger(logger),
	}

	if len(c.Schema) > 0 {
		options = append(options, postgres.Schema(c.Schema))
	}

	return postgres.New(options...)
}

func sqlserverDatabase(c cli, db *sql.DB, logger *slog.Logger) (txmigrate.Database, error) {
	options := []sqlserver.Option{
		sqlserver.DB(db),
		sqlserver.Table(c.Table),
		sqlserver.Logger(logger),
	}

	if len(c.Schema) > 0 {
		options = append(options, sqlserver.Schema(c.Schema))
	}

	return sqlserver.New(options...)
}

func isValid(c cli) error {
	if len(c.Source) == 0 {
		return fmt.Errorf(`source not specified`)
	}

	if len(c.Database) == 0 {
		return fmt.Errorf(`database not specified`)
	}

	return nil
}

func driver(s string) string {
	parts := strings.SplitN(s, `://`, 2)
	if len(parts) > 1 {
		return parts[0]
	}

	return ``
}

func dsn(s string) string {
	parts := strings.SplitN(s, `://`, 2)
	if len(parts) > 1 {
		return parts[1]
	}

	return ``
}
