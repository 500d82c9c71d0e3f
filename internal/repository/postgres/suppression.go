package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/outreach-dispatcher/internal/domain"
)

// SuppressionRepo persists suppression ledger entries. Uniqueness is
// enforced by the database on both email and md5_hash, so concurrent
// inserts of the same identity cannot race past each other.
type SuppressionRepo struct {
	db *sql.DB
}

func NewSuppressionRepo(db *sql.DB) *SuppressionRepo {
	return &SuppressionRepo{db: db}
}

// Exists reports whether an entry with the given MD5 hash is present.
func (r *SuppressionRepo) Exists(ctx context.Context, md5Hash string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM suppression_entries WHERE md5_hash = $1)
	`, md5Hash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("suppression exists: %w", err)
	}
	return exists, nil
}

// Insert adds one entry, returning false when it was already present.
func (r *SuppressionRepo) Insert(ctx context.Context, e domain.SuppressionEntry) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO suppression_entries (id, email, md5_hash, reason, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT DO NOTHING
	`, e.ID, e.Email, e.MD5Hash, e.Reason)
	if err != nil {
		return false, fmt.Errorf("suppression insert: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// BulkInsert adds many entries in a single transaction, skipping
// duplicates, and returns the number actually added.
func (r *SuppressionRepo) BulkInsert(ctx context.Context, entries []domain.SuppressionEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("suppression bulk insert: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO suppression_entries (id, email, md5_hash, reason, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("suppression bulk insert: prepare: %w", err)
	}
	defer stmt.Close()

	added := 0
	for _, e := range entries {
		res, err := stmt.ExecContext(ctx, e.ID, e.Email, e.MD5Hash, e.Reason)
		if err != nil {
			return 0, fmt.Errorf("suppression bulk insert %s: %w", e.MD5Hash, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("suppression bulk insert: commit: %w", err)
	}
	return added, nil
}

// AllHashes returns every stored MD5 hash for prefilter snapshots.
func (r *SuppressionRepo) AllHashes(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT md5_hash FROM suppression_entries`)
	if err != nil {
		return nil, fmt.Errorf("suppression all hashes: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("suppression all hashes: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
