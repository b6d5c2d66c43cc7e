package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/Ithil-protocol/liquidation-bot/internal/config"
	"github.com/Ithil-protocol/liquidation-bot/internal/persistence"
	"github.com/Ithil-protocol/liquidation-bot/migrations"
	_ "github.com/lib/pq"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <up|down|list>")
		fmt.Println("  up   - apply all pending migrations")
		fmt.Println("  down - roll back the last migration")
		fmt.Println("  list - print the embedded migration files")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  LIQ_POSTGRES_DSN - Postgres connection string (falls back to the config file)")
		os.Exit(1)
	}

	if os.Args[1] == "list" {
		files, err := persistence.ListMigrations(migrations.FS, ".sql")
		if err != nil {
			log.Fatalf("FATAL: list migrations: %v", err)
		}
		for _, f := range files {
			fmt.Println(f)
		}
		return
	}

	dsn := os.Getenv("LIQ_POSTGRES_DSN")
	if dsn == "" {
		cfg, err := config.Load("")
		if err != nil {
			log.Fatalf("FATAL: load config: %v", err)
		}
		dsn = cfg.PostgresDSN
	}
	if dsn == "" {
		log.Fatal("FATAL: no Postgres DSN configured (set LIQ_POSTGRES_DSN)")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("FATAL: open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, migrations.FS)

	switch os.Args[1] {
	case "up":
		n, err := migrator.Up(ctx)
		if err != nil {
			log.Fatalf("FATAL: migrate up: %v", err)
		}
		log.Printf("INFO: %d migrations applied", n)

	case "down":
		if err := migrator.Down(ctx); err != nil {
			log.Fatalf("FATAL: migrate down: %v", err)
		}
		log.Println("INFO: last migration rolled back")

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up', 'down' or 'list')\n", os.Args[1])
		os.Exit(1)
	}
}
