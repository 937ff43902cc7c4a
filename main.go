// Command anansi-sync reconciles a database schema with a set of JSON entity
// declarations.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/asaidimu/go-anansi-sync/core/config"
	"github.com/asaidimu/go-anansi-sync/core/metadata"
	"github.com/asaidimu/go-anansi-sync/core/persistence"
)

const version = "0.1.0"

var CLI struct {
	EnvFile []string `name:"env-file" help:"Env files to load before reading ANANSI_* variables"`

	Sync    SyncCmd    `cmd:"" help:"Apply the declared schema to the database"`
	Log     LogCmd     `cmd:"" help:"Print the SQL a sync would run without executing it"`
	Schema  SchemaCmd  `cmd:"" help:"Dump the live state of the declared tables as JSON"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// app carries what every command needs once configuration is loaded.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	out    io.Writer
}

// Declarations is the positional argument shared by the database commands.
type Declarations struct {
	Entities string `arg:"" help:"JSON file holding an array of entity declarations" type:"existingfile"`
}

func readDeclarations(path string) ([]metadata.EntityDeclaration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read declarations: %w", err)
	}
	var decls []metadata.EntityDeclaration
	if err := json.Unmarshal(data, &decls); err != nil {
		return nil, fmt.Errorf("failed to parse declarations in %s: %w", path, err)
	}
	return decls, nil
}

// synchronizer opens the configured database and builds a synchronizer for
// the declarations at path. The returned provider must be closed.
func (a *app) synchronizer(ctx context.Context, path string) (*persistence.Synchronizer, provider, error) {
	decls, err := readDeclarations(path)
	if err != nil {
		return nil, nil, err
	}
	p, err := openProvider(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, nil, err
	}

	model, err := metadata.NewBuilder(p.Dialect(), a.logger, &metadata.BuilderOptions{TablePrefix: a.cfg.TablePrefix}).
		Add(decls...).
		Build()
	if err != nil {
		p.Close()
		return nil, nil, fmt.Errorf("failed to build schema model: %w", err)
	}

	s, err := persistence.NewSynchronizer(p, nil, model, a.logger, &persistence.SynchronizerOptions{Concurrency: a.cfg.Concurrency})
	if err != nil {
		p.Close()
		return nil, nil, err
	}
	return s, p, nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type SyncCmd struct {
	Declarations `embed:""`
}

func (c *SyncCmd) Run(ctx context.Context, a *app) error {
	s, p, err := a.synchronizer(ctx, c.Entities)
	if err != nil {
		return err
	}
	defer p.Close()

	result, err := s.Synchronize(ctx)
	if err != nil {
		return err
	}
	return a.printJSON(result)
}

type LogCmd struct {
	Declarations `embed:""`
	JSON         bool `name:"json" help:"Print the plan and statements as JSON"`
}

func (c *LogCmd) Run(ctx context.Context, a *app) error {
	s, p, err := a.synchronizer(ctx, c.Entities)
	if err != nil {
		return err
	}
	defer p.Close()

	preview, err := s.Log(ctx)
	if err != nil {
		return err
	}
	if c.JSON {
		return a.printJSON(preview)
	}
	if len(preview.Statements) == 0 {
		_, err = fmt.Fprintln(a.out, "-- schema is up to date")
		return err
	}
	_, err = fmt.Fprintln(a.out, preview.SQL())
	return err
}

type SchemaCmd struct {
	Declarations `embed:""`
}

func (c *SchemaCmd) Run(ctx context.Context, a *app) error {
	s, p, err := a.synchronizer(ctx, c.Entities)
	if err != nil {
		return err
	}
	defer p.Close()

	live, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}
	return a.printJSON(live)
}

type VersionCmd struct{}

func (v *VersionCmd) Run(a *app) error {
	_, err := fmt.Fprintf(a.out, "anansi-sync v%s (drivers: %v)\n", version, driverNames())
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	kctx := kong.Parse(&CLI,
		kong.Name("anansi-sync"),
		kong.Description("Declarative schema synchronization for SQLite, PostgreSQL and MySQL"),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	cfg, err := config.Load(CLI.EnvFile...)
	kctx.FatalIfErrorf(err)
	logger, err := cfg.Logger()
	kctx.FatalIfErrorf(err)
	defer logger.Sync()

	if err := kctx.Run(&app{cfg: cfg, logger: logger, out: os.Stdout}); err != nil {
		logger.Error("Command failed", zap.String("command", kctx.Command()), zap.Error(err))
		kctx.FatalIfErrorf(err)
	}
}
