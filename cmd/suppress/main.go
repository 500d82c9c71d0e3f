// suppress is the operator CLI for the suppression ledger.
//
//	suppress -add ada@example.com -reason "manual"
//	suppress -check ada@example.com
//	suppress -file bounces.txt -reason "bounce import"
package main

import (
	"bufio"
	"context"
	"database/sql"
	"flag"
	"log"
	"os"

	_ "github.com/lib/pq"

	"github.com/ignite/outreach-dispatcher/internal/config"
	"github.com/ignite/outreach-dispatcher/internal/repository/postgres"
	"github.com/ignite/outreach-dispatcher/internal/suppression"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	add := flag.String("add", "", "add one email to the ledger")
	check := flag.String("check", "", "check whether an email is suppressed")
	file := flag.String("file", "", "bulk add emails from a file (one per line)")
	reason := flag.String("reason", "manual", "reason recorded with added entries")
	flag.Parse()

	if *add == "" && *check == "" && *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("database.url is required (or set DATABASE_URL)")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	ledger := suppression.NewLedger(postgres.NewSuppressionRepo(db))

	switch {
	case *check != "":
		suppressed, err := ledger.IsSuppressed(ctx, *check)
		if err != nil {
			log.Fatalf("Check failed: %v", err)
		}
		if suppressed {
			log.Printf("%s: SUPPRESSED", suppression.Normalize(*check))
		} else {
			log.Printf("%s: not suppressed", suppression.Normalize(*check))
		}

	case *add != "":
		if err := ledger.Add(ctx, *add, *reason); err != nil {
			log.Fatalf("Add failed: %v", err)
		}
		log.Printf("Added %s (reason: %s)", suppression.Normalize(*add), *reason)

	case *file != "":
		emails, err := readLines(*file)
		if err != nil {
			log.Fatalf("Failed to read %s: %v", *file, err)
		}
		added, err := ledger.BulkAdd(ctx, emails, *reason)
		if err != nil {
			log.Fatalf("Bulk add failed: %v", err)
		}
		log.Printf("Added %d of %d entries (reason: %s)", added, len(emails), *reason)
	}
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		out = append(out, scanner.Text())
	}
	return out, scanner.Err()
}
