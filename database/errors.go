package database

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateVersion is matched by a BookkeepingError when the version
	// was already recorded.
	ErrDuplicateVersion = errors.New(`version already recorded`)

	ErrInvalidIdentifier = errors.New(`invalid identifier`)

	ErrNilDB = errors.New(`nil database handle`)

	ErrNilDialect = errors.New(`nil dialect`)
)

// Direction is the way a migration runs.
type Direction string

const (
	Up   Direction = `up`
	Down Direction = `down`
)

// Op names a bookkeeping step of an apply or revert.
type Op string

const (
	OpBegin  Op = `begin transaction`
	OpRecord Op = `record version`
	OpErase  Op = `erase version`
	OpCommit Op = `commit transaction`
)

// SchemaError is returned when the version table can't be created.
type SchemaError struct {
	Table string
	Err   error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf(`setup version table %s: %v`, e.Table, e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// QueryError is returned when reading recorded versions fails. A missing
// version table is reported the same way as any other storage failure.
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf(`query %s: %v`, e.Query, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// MigrationError reports that a migration's own Up or Down failed. The
// enclosing transaction was rolled back.
type MigrationError struct {
	Version   Version
	Direction Direction
	Err       error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf(`migration %d %s: %v`, e.Version, e.Direction, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

// BookkeepingError reports that the migration itself succeeded but the
// version table update around it failed. The migration's effects were
// rolled back with it.
type BookkeepingError struct {
	Version Version
	Op      Op
	Err     error
}

func (e *BookkeepingError) Error() string {
	return fmt.Sprintf(`migration %d: %s: %v`, e.Version, e.Op, e.Err)
}

func (e *BookkeepingError) Unwrap() error {
	return e.Err
}
