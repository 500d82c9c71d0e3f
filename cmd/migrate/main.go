package main

import (
	"database/sql"
	"flag"
	"log"

	_ "github.com/lib/pq"

	"github.com/ignite/outreach-dispatcher/internal/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS contacts (
    id                BIGSERIAL PRIMARY KEY,
    email             TEXT NOT NULL UNIQUE,
    first_name        TEXT NOT NULL DEFAULT '',
    last_name         TEXT NOT NULL DEFAULT '',
    organization      TEXT NOT NULL DEFAULT '',
    role              TEXT NOT NULL DEFAULT '',
    locale            TEXT NOT NULL DEFAULT '',
    status            TEXT NOT NULL DEFAULT 'active',
    claimed_by        TEXT,
    claimed_at        TIMESTAMPTZ,
    last_contacted_at TIMESTAMPTZ,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_contacts_claim_scan
    ON contacts (status, claimed_by, last_contacted_at);
CREATE INDEX IF NOT EXISTS idx_contacts_claimed_at
    ON contacts (claimed_at) WHERE claimed_by IS NOT NULL;

CREATE TABLE IF NOT EXISTS send_log (
    id         BIGSERIAL PRIMARY KEY,
    contact_id BIGINT NOT NULL REFERENCES contacts(id),
    identity   TEXT NOT NULL,
    stage      INT NOT NULL,
    message_id TEXT NOT NULL DEFAULT '',
    outcome    TEXT NOT NULL DEFAULT 'sent',
    sent_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (contact_id, stage)
);

CREATE INDEX IF NOT EXISTS idx_send_log_stage_sent_at
    ON send_log (stage, sent_at);

CREATE TABLE IF NOT EXISTS identity_contact_history (
    id           BIGSERIAL PRIMARY KEY,
    identity     TEXT NOT NULL,
    contact_id   BIGINT NOT NULL REFERENCES contacts(id),
    contacted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (identity, contact_id)
);

CREATE TABLE IF NOT EXISTS suppression_entries (
    id         TEXT PRIMARY KEY,
    email      TEXT NOT NULL UNIQUE,
    md5_hash   TEXT NOT NULL UNIQUE,
    reason     TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

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

	if _, err := db.Exec(schema); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Schema applied")
}
