// import-contacts loads leads from a CSV file into the contact store,
// screening them against a suppression-ledger snapshot first. Columns:
// email, first_name, last_name, organization, role, locale (header row
// required, extra columns ignored).
package main

import (
	"context"
	"database/sql"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	_ "github.com/lib/pq"

	"github.com/ignite/outreach-dispatcher/internal/config"
	"github.com/ignite/outreach-dispatcher/internal/domain"
	"github.com/ignite/outreach-dispatcher/internal/repository/postgres"
	"github.com/ignite/outreach-dispatcher/internal/suppression"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	csvPath := flag.String("csv", "", "path to the leads CSV file")
	flag.Parse()

	if *csvPath == "" {
		log.Fatal("-csv is required")
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

	prefilter, err := ledger.BuildPrefilter(ctx)
	if err != nil {
		log.Fatalf("Failed to load suppression snapshot: %v", err)
	}
	log.Printf("Suppression snapshot loaded: %d entries", prefilter.Len())

	contacts, skipped, err := readLeads(*csvPath, prefilter)
	if err != nil {
		log.Fatalf("Failed to read leads: %v", err)
	}

	repo := postgres.NewContactRepo(db, cfg.Sequence)
	added, err := repo.BulkImport(ctx, contacts)
	if err != nil {
		log.Fatalf("Import failed: %v", err)
	}

	log.Printf("Imported %d contacts (%d suppressed, %d duplicates or invalid)",
		added, skipped, len(contacts)-added)
}

func readLeads(path string, prefilter *suppression.Prefilter) ([]domain.Contact, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := col["email"]; !ok {
		return nil, 0, fmt.Errorf("csv has no email column")
	}

	field := func(record []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var contacts []domain.Contact
	suppressed := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read row: %w", err)
		}

		email := suppression.Normalize(field(record, "email"))
		if email == "" {
			continue
		}
		if prefilter.MayContain(email) {
			suppressed++
			continue
		}

		contacts = append(contacts, domain.Contact{
			Email:        email,
			FirstName:    field(record, "first_name"),
			LastName:     field(record, "last_name"),
			Organization: field(record, "organization"),
			Role:         field(record, "role"),
			Locale:       field(record, "locale"),
		})
	}
	return contacts, suppressed, nil
}
