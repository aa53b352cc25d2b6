package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/pelletier/go-toml/v2"

	"github.com/pietjan/txmigrate"
	"github.com/pietjan/txmigrate/database"
)

type cli struct {
	Source   string `help:"Migration source, e.g. file://migrations."`
	Database string `help:"Database URL: sqlite://, postgres://, pgx:// or sqlserver://."`
	Schema   string `help:"Schema holding the version table (postgres, sqlserver)."`
	Table    string `default:"version" help:"Name of the version table."`

	Log struct {
		Level slog.Level `enum:"DEBUG,INFO,WARN,ERROR" default:"INFO" help:"Set the logging level."`
	} `embed:"" prefix:"log-"`

	Config kong.ConfigFlag `help:"Read flag values from a TOML file."`

	Up      upCmd      `cmd:"" help:"Apply pending migrations."`
	Down    downCmd    `cmd:"" help:"Revert applied migrations."`
	Status  statusCmd  `cmd:"" help:"List migrations and whether they are applied."`
	Current currentCmd `cmd:"" help:"Print the current schema version."`
}

// app is bound to every command's Run method.
type app struct {
	migrator *txmigrate.Migrator
	database txmigrate.Database
	stdout   io.Writer
}

func parse(c *cli, args []string, stdout, stderr io.Writer) (*kong.Context, error) {
	parser, err := kong.New(c,
		kong.Name(`migrate`),
		kong.Description(`Apply and revert schema migrations, one transaction each.`),
		kong.UsageOnError(),
		kong.DefaultEnvars(`MIGRATE`),
		kong.Configuration(tomlLoader),
		kong.Writers(stdout, stderr),
	)
	if err != nil {
		return nil, fmt.Errorf(`failed creating the CLI parser: %w`, err)
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		return nil, fmt.Errorf(`failed parsing CLI arguments: %w`, err)
	}

	return kctx, nil
}

type upCmd struct {
	To *int64 `help:"Apply up to and including this version."`
}

func (cmd *upCmd) Run(a *app) error {
	ctx := context.Background()

	if err := a.database.SetupSchema(ctx); err != nil {
		return err
	}

	n, err := a.migrator.Up(ctx, target(cmd.To))
	fmt.Fprintf(a.stdout, "applied %d migration(s)\n", n)
	return err
}

type downCmd struct {
	To  *int64 `xor:"target" help:"Revert every migration above this version."`
	All bool   `xor:"target" help:"Revert every applied migration."`
}

func (cmd *downCmd) Run(a *app) error {
	if cmd.To == nil && !cmd.All {
		return fmt.Errorf(`down needs --to or --all`)
	}

	ctx := context.Background()

	if err := a.database.SetupSchema(ctx); err != nil {
		return err
	}

	n, err := a.migrator.Down(ctx, target(cmd.To))
	fmt.Fprintf(a.stdout, "reverted %d migration(s)\n", n)
	return err
}

type statusCmd struct{}

func (cmd *statusCmd) Run(a *app) error {
	ctx := context.Background()

	if err := a.database.SetupSchema(ctx); err != nil {
		return err
	}

	statuses, err := a.migrator.Status(ctx)
	if err != nil {
		return err
	}

	data := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		description := s.Description
		if !s.Registered {
			description = `(missing)`
		}

		applied := `no`
		if s.Applied {
			applied = `yes`
		}

		data = append(data, []string{strconv.FormatInt(int64(s.Version), 10), description, applied})
	}

	return renderTable([]string{`Version`, `Description`, `Applied`}, data, a.stdout)
}

type currentCmd struct{}

func (cmd *currentCmd) Run(a *app) error {
	ctx := context.Background()

	if err := a.database.SetupSchema(ctx); err != nil {
		return err
	}

	version, ok, err := a.migrator.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	if !ok {
		fmt.Fprintln(a.stdout, `none`)
		return nil
	}

	fmt.Fprintln(a.stdout, version)
	return nil
}

func target(to *int64) *database.Version {
	if to == nil {
		return nil
	}

	version := database.Version(*to)
	return &version
}

func newLogger(w io.Writer, level slog.Level, color bool) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		NoColor:    !color,
		TimeFormat: `2006-01-02 15:04:05.000`,
	}))
}

// tomlLoader resolves flags from a TOML document. Keys are flag names, with
// either dashes or underscores.
func tomlLoader(r io.Reader) (kong.Resolver, error) {
	values := map[string]any{}
	if err := toml.NewDecoder(r).Decode(&values); err != nil {
		return nil, fmt.Errorf(`failed decoding config file: %w`, err)
	}

	return kong.ResolverFunc(func(_ *kong.Context, _ *kong.Path, flag *kong.Flag) (any, error) {
		if value, ok := values[flag.Name]; ok {
			return value, nil
		}

		return values[strings.ReplaceAll(flag.Name, `-`, `_`)], nil
	}), nil
}

func renderTable(header []string, data [][]string, w io.Writer) error {
	table := tablewriter.NewTable(w,
		tablewriter.WithRenderer(renderer.NewBlueprint(
			tw.Rendition{
				Borders: tw.BorderNone,
				Symbols: tw.NewSymbols(tw.StyleASCII),
				Settings: tw.Settings{
					Lines: tw.Lines{
						ShowHeaderLine: tw.Off,
						ShowFooterLine: tw.Off,
						ShowTop:        tw.Off,
						ShowBottom:     tw.Off,
					},
					Separators: tw.Separators{
						ShowHeader:     tw.Off,
						ShowFooter:     tw.Off,
						BetweenRows:    tw.Off,
						BetweenColumns: tw.Off,
					},
				},
			},
		)),
		tablewriter.WithConfig(tablewriter.Config{
			Header: tw.CellConfig{
				Alignment: tw.CellAlignment{Global: tw.AlignLeft},
			},
			Row: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoWrap: tw.WrapNone},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
		}),
	)

	table.Header(header)
	if err := table.Bulk(data); err != nil {
		return err
	}

	return table.Render()
}
