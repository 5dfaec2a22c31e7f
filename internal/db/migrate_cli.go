package db

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"
)

// ErrUsage is returned by RunMigrateCommand for malformed arguments.
var ErrUsage = errors.New("usage error")

// RunMigrateCommand handles the 'migrate' subcommand against the database at
// dbPath using the embedded migrations.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	return runMigrateCommand(args, dbPath, MigrationsFS(), out)
}

func runMigrateCommand(args []string, dbPath string, migrationsFS fs.FS, out io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return ErrUsage
	}

	action := args[0]
	if action == "help" {
		PrintMigrateHelp(out)
		return nil
	}

	// migrations manage the schema; do not run them implicitly here
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action {
	case "up":
		if err := database.MigrateUp(migrationsFS); err != nil {
			return err
		}
		return printVersion(database, migrationsFS, out)

	case "down":
		if err := database.MigrateDown(migrationsFS); err != nil {
			return err
		}
		return printVersion(database, migrationsFS, out)

	case "status":
		status, err := database.GetMigrationStatus(migrationsFS)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "current version: %d\n", status.Current)
		fmt.Fprintf(out, "latest version:  %d\n", status.Latest)
		if status.Dirty {
			fmt.Fprintln(out, "state:           DIRTY (use 'migrate force' after fixing)")
		}
		if len(status.Pending) > 0 {
			pending := make([]string, len(status.Pending))
			for i, v := range status.Pending {
				pending[i] = strconv.FormatUint(uint64(v), 10)
			}
			fmt.Fprintf(out, "pending:         %s\n", strings.Join(pending, ", "))
		}
		return nil

	case "version":
		if len(args) < 2 {
			return fmt.Errorf("%w: migrate version <version_number>", ErrUsage)
		}
		target, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: invalid version %q", ErrUsage, args[1])
		}
		if err := database.MigrateTo(migrationsFS, uint(target)); err != nil {
			return err
		}
		return printVersion(database, migrationsFS, out)

	case "force":
		if len(args) < 2 {
			return fmt.Errorf("%w: migrate force <version_number>", ErrUsage)
		}
		// -1 is a valid target meaning "no version"
		version, err := strconv.Atoi(args[1])
		if err != nil || version < -1 {
			return fmt.Errorf("%w: invalid version %q", ErrUsage, args[1])
		}
		if err := database.MigrateForce(migrationsFS, version); err != nil {
			return err
		}
		return printVersion(database, migrationsFS, out)

	default:
		fmt.Fprintf(out, "Unknown migrate action: %s\n\n", action)
		PrintMigrateHelp(out)
		return ErrUsage
	}
}

func printVersion(database *DB, migrationsFS fs.FS, out io.Writer) error {
	version, dirty, err := database.MigrateVersion(migrationsFS)
	if err != nil {
		return err
	}
	if dirty {
		fmt.Fprintf(out, "schema at version %d (dirty)\n", version)
		return nil
	}
	fmt.Fprintf(out, "schema at version %d\n", version)
	return nil
}

// PrintMigrateHelp writes the migrate subcommand usage to out.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Usage: sparse-speed migrate <action> [args]

Actions:
  up                 apply all pending migrations
  down               roll back the most recent migration
  status             show current, latest and pending versions
  version <n>        migrate up or down to version n
  force <n>          record version n without running it (recovery only)
  help               show this help
`)
}
