package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/config"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/migrate"
)

type options struct {
	dir     string
	name    string
	version string
}

type offlineCommand func(opts options) error

type dbCommand func(ctx context.Context, runner *migrate.Runner, opts options) error

// offline commands only touch the migrations directory.
var offlineCommands = map[string]offlineCommand{
	"create": func(opts options) error {
		if opts.name == "" {
			return errors.New("missing -name for create")
		}
		dir := opts.dir
		if dir == "" {
			dir = migrate.DefaultDir
		}
		path, err := migrate.CreateSQLMigration(dir, opts.name)
		if err != nil {
			return fmt.Errorf("create migration: %w", err)
		}
		fmt.Println("created migration:", path)
		return nil
	},
	"validate": func(opts options) error {
		if err := migrate.Validate(opts.source()); err != nil {
			return fmt.Errorf("validate migrations: %w", err)
		}
		fmt.Println("migration validation passed")
		return nil
	},
}

var dbCommands = map[string]dbCommand{
	"up": func(ctx context.Context, runner *migrate.Runner, _ options) error {
		applied, err := runner.Up(ctx)
		for _, v := range applied {
			fmt.Println("applied", v)
		}
		return err
	},
	"down": func(ctx context.Context, runner *migrate.Runner, _ options) error {
		v, err := runner.Down(ctx)
		if err == nil {
			fmt.Println("rolled back", v)
		}
		return err
	},
	"status": func(ctx context.Context, runner *migrate.Runner, _ options) error {
		lines, err := runner.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(lines, "\n"))
		return nil
	},
	"version": func(ctx context.Context, runner *migrate.Runner, opts options) error {
		if opts.version == "" {
			return errors.New("missing -version for version command")
		}
		return runner.To(ctx, opts.version)
	},
}

// source is the embedded set unless -dir points at a checkout.
func (o options) source() fs.FS {
	if o.dir == "" {
		return migrate.Migrations()
	}
	return os.DirFS(o.dir)
}

func commandNames() string {
	names := make([]string, 0, len(offlineCommands)+len(dbCommands))
	for name := range dbCommands {
		names = append(names, name)
	}
	for name := range offlineCommands {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "|")
}

func main() {
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: "+commandNames())
	var opts options
	flag.StringVar(&opts.dir, "dir", "", "migrations directory (default: embedded; create writes to "+migrate.DefaultDir+")")
	flag.StringVar(&opts.name, "name", "", "migration name (create)")
	flag.StringVar(&opts.version, "version", "", "target version YYYYMMDDHHMMSS (version)")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Console:     cfg.App.LogFormat == "console",
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
		"dir": opts.dir,
	})

	if err := run(ctx, cfg, logg, *cmd, opts); err != nil {
		logg.Error(ctx, "migrate failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "migrate finished")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, cmd string, opts options) error {
	if fn, ok := offlineCommands[cmd]; ok {
		return fn(opts)
	}
	fn, ok := dbCommands[cmd]
	if !ok {
		return fmt.Errorf("unknown -cmd %q (want %s)", cmd, commandNames())
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	pool, err := dbClient.DB().DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}
	runner, err := migrate.NewRunner(pool, opts.source())
	if err != nil {
		return err
	}
	return fn(ctx, runner, opts)
}
