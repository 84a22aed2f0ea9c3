package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"stockledger-api/internal/config"
	"stockledger-api/internal/repository"
	"stockledger-api/pkg/logger"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	cmd := flag.String("cmd", "up", "migration command: up|down|status")
	flag.Parse()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})
	ctx = logg.WithFields(ctx, map[string]any{
		"env":     cfg.App.Environment,
		"cmd":     *cmd,
		"db_type": cfg.InventoryDB.Type,
	})

	if cfg.InventoryDB.Type == "mongodb" {
		// indexes are created when the store connects
		fmt.Println("mongodb needs no migrations")
		return
	}

	store, err := openSQLStore(ctx, cfg.InventoryDB)
	requireResource(ctx, logg, "database", err)
	defer store.Close()

	logg.Info(ctx, "migrate ready")

	switch *cmd {
	case "up":
		applied, err := repository.Migrate(ctx, store)
		if err != nil {
			fmt.Fprintf(os.Stderr, "goose up failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("applied %d migration(s)\n", applied)

	case "down":
		if err := repository.MigrateDown(ctx, store); err != nil {
			fmt.Fprintf(os.Stderr, "goose down failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("rolled back one migration")

	case "status":
		statuses, err := repository.MigrationStatuses(ctx, store)
		if err != nil {
			fmt.Fprintf(os.Stderr, "goose status failed: %v\n", err)
			os.Exit(1)
		}
		for _, st := range statuses {
			state := "pending"
			if st.Applied {
				state = "applied"
			}
			fmt.Printf("%05d  %-8s  %s\n", st.Version, state, st.Source)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown -cmd value:", *cmd)
		os.Exit(1)
	}
}

func openSQLStore(ctx context.Context, db config.InventoryDBConfig) (*repository.SQLStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	switch db.Type {
	case "sqlite":
		return repository.NewSQLiteStore(ctx, db.Path)
	case "postgres":
		return repository.NewPostgresStore(ctx, db.PostgresDSN(), db.MaxConns)
	case "mysql":
		return repository.NewMySQLStore(ctx, db.MySQLDSN(), db.MaxConns)
	}
	return nil, fmt.Errorf("unsupported inventory db type %q", db.Type)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
