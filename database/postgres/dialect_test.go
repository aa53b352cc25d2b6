package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pietjan/txmigrate/database"
)

func TestIsDuplicate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "lib/pq unique violation", err: &pq.Error{Code: `23505`}, want: true},
		{name: "pgx unique violation", err: &pgconn.PgError{Code: `23505`}, want: true},
		{name: "wrapped", err: fmt.Errorf(`exec: %w`, &pq.Error{Code: `23505`}), want: true},
		{name: "lib/pq not null violation", err: &pq.Error{Code: `23502`}},
		{name: "pgx undefined table", err: &pgconn.PgError{Code: `42P01`}},
		{name: "other", err: errors.New(`connection refused`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dialect{}.IsDuplicate(tt.err))
		})
	}
}

func TestNewDialect(t *testing.T) {
	d, err := newDialect(`app`, `migrations`)
	require.NoError(t, err)

	assert.Equal(t, `"app"."migrations"`, d.Table())
	assert.Equal(t, []string{
		`CREATE SCHEMA IF NOT EXISTS "app"`,
		`CREATE TABLE IF NOT EXISTS "app"."migrations" (version BIGINT NOT NULL PRIMARY KEY)`,
	}, d.SetupQueries())
	assert.Equal(t, `SELECT version FROM "app"."migrations" ORDER BY version DESC LIMIT 1`, d.CurrentVersionQuery())
	assert.Equal(t, `SELECT version FROM "app"."migrations"`, d.MigratedVersionsQuery())
	assert.Equal(t, `INSERT INTO "app"."migrations" (version) VALUES ($1)`, d.RecordVersionQuery())
	assert.Equal(t, `DELETE FROM "app"."migrations" WHERE version = $1`, d.EraseVersionQuery())

	d, err = newDialect(``, database.DefaultTable)
	require.NoError(t, err)
	assert.Equal(t, []string{`CREATE TABLE IF NOT EXISTS "version" (version BIGINT NOT NULL PRIMARY KEY)`}, d.SetupQueries())

	_, err = newDialect(`app; DROP SCHEMA public`, `migrations`)
	assert.ErrorIs(t, err, database.ErrInvalidIdentifier)
}

func TestNewNilDB(t *testing.T) {
	for _, db := range []database.DB{nil, (*sql.DB)(nil), (*sql.Conn)(nil)} {
		_, err := New(DB(db))
		assert.ErrorIs(t, err, database.ErrNilDB)
	}
}
