package file

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/pietjan/txmigrate/database"
	"github.com/pietjan/txmigrate/source"
)

var (
	ErrNoFS = errors.New(`nil fs.FS`)

	ErrEmptyGlob = errors.New(`glob pattern must not be empty`)

	ErrDuplicateFile = errors.New(`duplicate migration file`)

	ErrMissingUp = errors.New(`down migration without up migration`)
)

// name matches {version}_{description}.{up|down}.sql
var name = regexp.MustCompile(`^(\d+)_(.+)\.(up|down)\.sql$`)

type Option = func(*driver)

func New(options ...Option) (source.Driver, error) {
	d := &driver{
		glob: `*.sql`,
	}

	for _, fn := range options {
		fn(d)
	}

	if d.fs == nil {
		return nil, ErrNoFS
	}

	if len(d.glob) == 0 {
		return nil, ErrEmptyGlob
	}

	return d, nil
}

func Dir(dir string) Option {
	return func(d *driver) {
		d.fs = os.DirFS(dir)
	}
}

func FS(fs fs.FS) Option {
	return func(d *driver) {
		d.fs = fs
	}
}

func Glob(glob string) Option {
	return func(d *driver) {
		d.glob = glob
	}
}

type driver struct {
	fs   fs.FS
	glob string
}

func (d driver) Migrations() ([]database.Migration, error) {
	files, err := fs.Glob(d.fs, d.glob)
	if err != nil {
		return nil, err
	}

	byVersion := map[database.Version]*migration{}
	var downs []string

	for _, file := range files {
		match := name.FindStringSubmatch(path.Base(file))
		if match == nil {
			continue
		}

		if match[3] == `down` {
			downs = append(downs, file)
			continue
		}

		version, err := parseVersion(match[1])
		if err != nil {
			return nil, fmt.Errorf(`%s: %w`, file, err)
		}

		if m, ok := byVersion[version]; ok {
			return nil, fmt.Errorf(`%w: %s and %s`, ErrDuplicateFile, m.file, file)
		}

		up, err := fs.ReadFile(d.fs, file)
		if err != nil {
			return nil, err
		}

		byVersion[version] = &migration{
			Base: database.Base{ID: version, Name: match[2]},
			file: file,
			up:   string(up),
		}
	}

	for _, file := range downs {
		match := name.FindStringSubmatch(path.Base(file))

		version, err := parseVersion(match[1])
		if err != nil {
			return nil, fmt.Errorf(`%s: %w`, file, err)
		}

		m, ok := byVersion[version]
		if !ok {
			return nil, fmt.Errorf(`%w: %s`, ErrMissingUp, file)
		}

		if len(m.downFile) > 0 {
			return nil, fmt.Errorf(`%w: %s and %s`, ErrDuplicateFile, m.downFile, file)
		}

		down, err := fs.ReadFile(d.fs, file)
		if err != nil {
			return nil, err
		}

		m.downFile = file
		m.down = string(down)
	}

	migrations := make([]database.Migration, 0, len(byVersion))
	for _, m := range byVersion {
		migrations = append(migrations, m)
	}

	return migrations, nil
}

func parseVersion(s string) (database.Version, error) {
	version, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf(`invalid version %q: %w`, s, err)
	}
	return database.Version(version), nil
}

// migration runs the SQL text of its files. Without a down file, Down is a
// no-op.
type migration struct {
	database.Base
	file     string
	downFile string
	up       string
	down     string
}

func (m *migration) Up(ctx context.Context, tx *sql.Tx) error {
	return exec(ctx, tx, m.file, m.up)
}

func (m *migration) Down(ctx context.Context, tx *sql.Tx) error {
	return exec(ctx, tx, m.downFile, m.down)
}

func exec(ctx context.Context, tx *sql.Tx, file, query string) error {
	if len(strings.TrimSpace(query)) == 0 {
		return nil
	}

	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf(`%s: %w`, file, err)
	}

	return nil
}
