package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/pflag"

	"reporthub.io/internal/migrate"
)

func main() {
	log.SetFlags(0)
	fs := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	var (
		dsn     = fs.String("dsn", os.Getenv("FRONTD_PG_DSN"), "PostgreSQL DSN")
		table   = fs.String("table", "", "migrations bookkeeping table (default schema_migrations)")
		timeout = fs.Duration("timeout", 30*time.Second, "overall timeout")
	)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: migrate [flags] up|down|status")
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal(err)
	}

	if *dsn == "" {
		log.Fatal("missing DSN: provide via --dsn or FRONTD_PG_DSN")
	}
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, migrate.WithMigrationsTable(*table))

	switch fs.Arg(0) {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		for _, name := range applied {
			fmt.Println("applied", name)
		}
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if err == nil {
			fmt.Println("rolled back", name)
		}
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		log.Fatalf("unknown command %q", fs.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", fs.Arg(0), err)
	}
}
