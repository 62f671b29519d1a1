// Command migrate manages the postgres schema of the shredder store. SQLite
// databases are created by the server and the shred CLI on startup and need
// no migrations.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/govcon/shredder/internal/infrastructure/config"
	"github.com/govcon/shredder/internal/infrastructure/logger"
	"github.com/govcon/shredder/internal/infrastructure/migration"
	"github.com/govcon/shredder/migrations"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const defaultMigrationsDir = "migrations"

type options struct {
	dir        string
	configPath string
}

func main() {
	var opts options
	var logLevel string
	flag.StringVar(&opts.dir, "path", "", "Migrations directory (default: the migrations embedded in the binary)")
	flag.StringVar(&opts.configPath, "config", "", "Config file (default: ./config.toml when present)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{Level: logLevel, Format: "console", Output: "stdout", TimeFormat: "2006-01-02 15:04:05"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if opts.dir != "" {
		if opts.dir, err = filepath.Abs(opts.dir); err != nil {
			log.Fatal("Invalid migrations path", zap.Error(err))
		}
	}

	if err := run(log, opts, args[0], args[1:]); err != nil {
		log.Fatal("Migration command failed", zap.String("command", args[0]), zap.Error(err))
	}
}

func run(log *zap.Logger, opts options, command string, args []string) error {
	log.Debug("Migration CLI started",
		zap.String("command", command),
		zap.String("source", sourceName(opts.dir)),
	)

	// commands that only touch files
	switch command {
	case "create":
		return create(log, opts.dir, args)
	case "list":
		return list(log, opts.dir)
	}

	m, err := openMigrator(log, opts)
	if err != nil {
		return err
	}
	defer m.Close()

	switch command {
	case "up":
		return m.Up()
	case "down":
		return m.Down()
	case "step":
		n, err := intArg(args, "step count")
		if err != nil {
			return err
		}
		return m.Steps(n)
	case "force":
		v, err := intArg(args, "version")
		if err != nil {
			return err
		}
		return m.Force(v)
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		if version == 0 {
			log.Info("No migrations applied")
			return nil
		}
		log.Info("Current migration version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		return nil
	}
	printUsage()
	return fmt.Errorf("unknown command %q", command)
}

// openMigrator connects with lib/pq. The migrator owns the connection.
func openMigrator(log *zap.Logger, opts options) (*migration.Migrator, error) {
	cfg, err := config.LoadFrom(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if cfg.Database.Driver != "postgres" {
		return nil, fmt.Errorf("database driver %q has no SQL migrations; sqlite schemas are created on startup", cfg.Database.Driver)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	log.Info("Connected", zap.String("host", cfg.Database.Host), zap.String("database", cfg.Database.DBName))

	var m *migration.Migrator
	if opts.dir != "" {
		m, err = migration.New(db, opts.dir, log)
	} else {
		m, err = migration.NewFromFS(db, migrations.FS, log)
	}
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

func create(log *zap.Logger, dir string, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("migration name required: migrate create <name> [description]")
	}
	if dir == "" {
		dir = defaultMigrationsDir
	}
	description := ""
	if len(args) > 1 {
		description = args[1]
	}
	mf, err := migration.CreateMigration(dir, args[0], description)
	if err != nil {
		return err
	}
	log.Info("Migration created",
		zap.String("version", mf.Version),
		zap.String("up_file", mf.UpPath),
		zap.String("down_file", mf.DownPath),
	)
	return nil
}

func list(log *zap.Logger, dir string) error {
	var names []string
	if dir != "" {
		var err error
		if names, err = migration.ListMigrations(dir); err != nil {
			return err
		}
	} else {
		versions, err := migration.Versions(migrations.FS)
		if err != nil {
			return err
		}
		for _, v := range versions {
			names = append(names, fmt.Sprintf("%06d", v))
		}
	}
	if len(names) == 0 {
		log.Info("No migrations found", zap.String("source", sourceName(dir)))
		return nil
	}
	log.Info("Available migrations", zap.Int("count", len(names)), zap.String("source", sourceName(dir)))
	for _, n := range names {
		fmt.Println("  -", n)
	}
	return nil
}

func intArg(args []string, what string) (int, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("%s required", what)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", what, args[0])
	}
	return n, nil
}

func sourceName(dir string) string {
	if dir == "" {
		return "embedded"
	}
	return dir
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Shredder database migration tool

Usage:
  migrate [flags] <command> [arguments]

Commands:
  up                    Apply all pending migrations
  down                  Roll back all migrations
  step <n>              Apply n migrations (negative rolls back)
  version               Show the applied version
  force <version>       Mark a version as applied (repairs a dirty schema)
  create <name> [desc]  Write a new up/down migration pair
  list                  List available migrations

Flags:
  -path string          Migrations directory (default: embedded migrations)
  -config string        Config file (default: ./config.toml)
  -log-level string     debug, info, warn or error (default: info)

Environment:
  SHRED_DATABASE_HOST, SHRED_DATABASE_PORT, SHRED_DATABASE_USER,
  SHRED_DATABASE_PASSWORD, SHRED_DATABASE_DBNAME, SHRED_DATABASE_SSLMODE

Examples:
  migrate up
  migrate step -1
  migrate create add_section_titles "Store section titles"
`)
}
