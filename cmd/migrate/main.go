// Command migrate manages the audit store schema outside the bot process.
//
// Usage:
//
//	migrate [--down] [--version]
//
// Flags:
//
//	--down:    roll back the most recent migration
//	--version: print the current schema version and exit
//
// Environment Variables:
//
//	DB_DSN: Database connection string (required)
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/team7636/robomania-bot/db"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(context.Background(), os.Args[1:], os.Getenv("DB_DSN"), os.Stdout); err != nil {
		slog.Error("migrate failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, dsn string, out io.Writer) error {
	fs := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	fs.SetOutput(out)
	down := fs.Bool("down", false, "roll back the most recent migration")
	version := fs.Bool("version", false, "print the current schema version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *down && *version {
		return fmt.Errorf("--down and --version are mutually exclusive")
	}

	database, err := db.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	switch {
	case *version:
		v, dirty, err := db.GetMigrationVersion(database)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "version=%d dirty=%t\n", v, dirty)
		return err
	case *down:
		return db.MigrateDown(database)
	default:
		return db.RunMigrations(database)
	}
}
