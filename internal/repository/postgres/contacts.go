// Package postgres implements the dispatcher's repositories against
// PostgreSQL. The contact claim is a single CTE statement: selection
// and mutation are one atomic step, with FOR UPDATE SKIP LOCKED letting
// concurrent claimers pass each other instead of serializing on the
// same candidate row.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/outreach-dispatcher/internal/domain"
)

// ErrContactNotFound is returned for operations on a missing contact.
// It matches domain.ErrNotFound under errors.Is.
var ErrContactNotFound = fmt.Errorf("contact %w", domain.ErrNotFound)

// ContactRepo implements the dispatch engine's ContactStore against
// PostgreSQL.
type ContactRepo struct {
	db  *sql.DB
	seq domain.Sequence
}

// NewContactRepo creates a Postgres-backed contact repository. The
// sequence supplies the per-stage minimum delays used by claim queries.
func NewContactRepo(db *sql.DB, seq domain.Sequence) *ContactRepo {
	return &ContactRepo{db: db, seq: seq}
}

const contactColumns = `id, email, first_name, last_name, organization, role, locale,
       status, COALESCE(claimed_by, ''), claimed_at, last_contacted_at, created_at`

func scanContact(row interface{ Scan(...interface{}) error }) (*domain.Contact, error) {
	c := &domain.Contact{}
	var claimedAt, lastContactedAt sql.NullTime
	err := row.Scan(
		&c.ID, &c.Email, &c.FirstName, &c.LastName, &c.Organization, &c.Role, &c.Locale,
		&c.Status, &c.ClaimedBy, &claimedAt, &lastContactedAt, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if claimedAt.Valid {
		t := claimedAt.Time
		c.ClaimedAt = &t
	}
	if lastContactedAt.Valid {
		t := lastContactedAt.Time
		c.LastContactedAt = &t
	}
	return c, nil
}

// ClaimNextForStage atomically selects and claims one eligible contact
// for the given identity and stage. It returns (nil, nil) when no
// contact is eligible; callers must not treat that as an error.
//
// Eligibility for any stage: status active, no send record at this
// stage, no outstanding claim. Stage 1 additionally excludes contacts
// this identity has contacted before (sender rotation must not keep
// hitting the same person). Stage N>1 additionally requires a
// stage-(N-1) send record at least the configured delay old.
// Tie-break: least recently contacted first, never-contacted before
// everyone else.
func (r *ContactRepo) ClaimNextForStage(ctx context.Context, identity string, stage int) (*domain.Contact, error) {
	if stage < 1 || stage > r.seq.Last() {
		return nil, fmt.Errorf("claim: stage %d outside sequence", stage)
	}

	var row *sql.Row
	if stage == 1 {
		row = r.db.QueryRowContext(ctx, `
			WITH candidate AS (
				SELECT c.id FROM contacts c
				WHERE c.status = 'active'
				  AND c.claimed_by IS NULL
				  AND NOT EXISTS (
				      SELECT 1 FROM send_log sl
				      WHERE sl.contact_id = c.id AND sl.stage = 1
				  )
				  AND NOT EXISTS (
				      SELECT 1 FROM identity_contact_history h
				      WHERE h.contact_id = c.id AND h.identity = $1
				  )
				ORDER BY c.last_contacted_at ASC NULLS FIRST, c.id ASC
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			)
			UPDATE contacts SET claimed_by = $1, claimed_at = NOW()
			WHERE id IN (SELECT id FROM candidate)
			RETURNING `+contactColumns, identity)
	} else {
		delay := r.seq.DelayDays(stage)
		row = r.db.QueryRowContext(ctx, `
			WITH candidate AS (
				SELECT c.id FROM contacts c
				JOIN send_log prev
				  ON prev.contact_id = c.id AND prev.stage = $2
				WHERE c.status = 'active'
				  AND c.claimed_by IS NULL
				  AND NOT EXISTS (
				      SELECT 1 FROM send_log sl
				      WHERE sl.contact_id = c.id AND sl.stage = $3
				  )
				  AND prev.sent_at <= NOW() - ($4 * INTERVAL '1 day')
				ORDER BY prev.sent_at ASC, c.id ASC
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			)
			UPDATE contacts SET claimed_by = $1, claimed_at = NOW()
			WHERE id IN (SELECT id FROM candidate)
			RETURNING `+contactColumns, identity, stage-1, stage, delay)
	}

	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim stage %d for %s: %w", stage, identity, err)
	}
	return c, nil
}

// RecordSent appends the send record and releases the claim in one
// transaction. A send has only "officially happened" once this commits;
// there is no intermediate state where the contact is recorded as sent
// but still claimed, or unclaimed with no record.
func (r *ContactRepo) RecordSent(ctx context.Context, contactID int64, identity string, stage int, messageID, outcome string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record sent: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO send_log (contact_id, identity, stage, message_id, outcome, sent_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, contactID, identity, stage, messageID, outcome); err != nil {
		return fmt.Errorf("record sent: insert log: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE contacts
		SET last_contacted_at = NOW(), claimed_by = NULL, claimed_at = NULL
		WHERE id = $1
	`, contactID)
	if err != nil {
		return fmt.Errorf("record sent: release claim: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrContactNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO identity_contact_history (identity, contact_id, contacted_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (identity, contact_id) DO NOTHING
	`, identity, contactID); err != nil {
		return fmt.Errorf("record sent: history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record sent: commit: %w", err)
	}
	return nil
}

// UpdateStatus moves a contact out of (or back into) the eligible pool.
// Used by external signal handlers: replies, bounces, complaints.
func (r *ContactRepo) UpdateStatus(ctx context.Context, email string, status domain.ContactStatus) error {
	if !status.Valid() {
		return fmt.Errorf("update status: unknown status %q", status)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE contacts SET status = $1 WHERE email = $2
	`, status, email)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrContactNotFound
	}
	return nil
}

// ScanStaleClaims returns contacts whose claim is older than maxAge.
// It NEVER releases them: a stale claim almost certainly means a worker
// crashed between claiming and recording the outcome, and releasing it
// automatically could double-send if the first send actually went out.
func (r *ContactRepo) ScanStaleClaims(ctx context.Context, maxAge time.Duration) ([]domain.Contact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE claimed_by IS NOT NULL
		  AND claimed_at < NOW() - ($1 * INTERVAL '1 minute')
		ORDER BY claimed_at ASC
	`, int64(maxAge.Minutes()))
	if err != nil {
		return nil, fmt.Errorf("scan stale claims: %w", err)
	}
	defer rows.Close()

	var out []domain.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale claims: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ReleaseClaim is the explicit operator-driven release of a claim,
// the only path from claimed back to eligible. The operator name is
// recorded in the log line at the call site, not here.
func (r *ContactRepo) ReleaseClaim(ctx context.Context, contactID int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE contacts SET claimed_by = NULL, claimed_at = NULL
		WHERE id = $1 AND claimed_by IS NOT NULL
	`, contactID)
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrContactNotFound
	}
	return nil
}

// CandidateEmails returns up to limit emails that would currently
// satisfy a claim for (identity, stage). It takes no locks and claims
// nothing: the dispatch engine uses it to refresh its short-TTL
// candidate caches, and every entry is still re-verified by
// ClaimNextForStage before any send.
func (r *ContactRepo) CandidateEmails(ctx context.Context, identity string, stage int, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows *sql.Rows
	var err error
	if stage == 1 {
		rows, err = r.db.QueryContext(ctx, `
			SELECT c.email FROM contacts c
			WHERE c.status = 'active'
			  AND c.claimed_by IS NULL
			  AND NOT EXISTS (SELECT 1 FROM send_log sl WHERE sl.contact_id = c.id AND sl.stage = 1)
			  AND NOT EXISTS (SELECT 1 FROM identity_contact_history h WHERE h.contact_id = c.id AND h.identity = $1)
			ORDER BY c.last_contacted_at ASC NULLS FIRST, c.id ASC
			LIMIT $2
		`, identity, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT c.email FROM contacts c
			JOIN send_log prev ON prev.contact_id = c.id AND prev.stage = $1
			WHERE c.status = 'active'
			  AND c.claimed_by IS NULL
			  AND NOT EXISTS (SELECT 1 FROM send_log sl WHERE sl.contact_id = c.id AND sl.stage = $2)
			  AND prev.sent_at <= NOW() - ($3 * INTERVAL '1 day')
			ORDER BY prev.sent_at ASC, c.id ASC
			LIMIT $4
		`, stage-1, stage, r.seq.DelayDays(stage), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("candidate emails: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("candidate emails: %w", err)
		}
		out = append(out, email)
	}
	return out, rows.Err()
}

// BulkImport inserts new contacts in active status with empty history,
// skipping duplicates. Returns the number of rows added.
func (r *ContactRepo) BulkImport(ctx context.Context, contacts []domain.Contact) (int, error) {
	if len(contacts) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("bulk import: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO contacts (email, first_name, last_name, organization, role, locale, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'active')
		ON CONFLICT (email) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("bulk import: prepare: %w", err)
	}
	defer stmt.Close()

	added := 0
	for _, c := range contacts {
		res, err := stmt.ExecContext(ctx, c.Email, c.FirstName, c.LastName, c.Organization, c.Role, c.Locale)
		if err != nil {
			return 0, fmt.Errorf("bulk import %s: %w", c.Email, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("bulk import: commit: %w", err)
	}
	return added, nil
}

// GetByEmail fetches a single contact.
func (r *ContactRepo) GetByEmail(ctx context.Context, email string) (*domain.Contact, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+contactColumns+` FROM contacts WHERE email = $1
	`, email)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, ErrContactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}
