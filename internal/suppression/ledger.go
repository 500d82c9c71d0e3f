// Package suppression implements the durable "never contact again"
// ledger.
//
// The ledger is deliberately a separate store from the contact table's
// status column. The two can disagree transiently (a crash between a
// suppression insert and a status update); the dispatch engine treats
// the ledger as authoritative and re-checks it as the very last gate
// before each delivery call, even for a contact that was already
// claimed and rendered. Any bug in the claim machinery is thereby
// bounded to wasted work, never a double send.
package suppression

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ignite/outreach-dispatcher/internal/domain"
)

// Repository is the persistence contract for suppression entries.
// Implementations must make Insert idempotent on duplicate identities.
type Repository interface {
	// Exists reports whether an entry with the given MD5 hash exists.
	Exists(ctx context.Context, md5Hash string) (bool, error)
	// Insert adds an entry; returns false if the identity was already present.
	Insert(ctx context.Context, e domain.SuppressionEntry) (bool, error)
	// BulkInsert adds many entries, skipping duplicates; returns the
	// number actually added.
	BulkInsert(ctx context.Context, entries []domain.SuppressionEntry) (int, error)
	// AllHashes streams every stored MD5 hash (hex) for prefilter builds.
	AllHashes(ctx context.Context) ([]string, error)
}

// Ledger is the suppression service used by the dispatch engine, the
// signals webhook, and the operator CLI.
type Ledger struct {
	repo Repository
}

// NewLedger creates a ledger over the given repository.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo}
}

// Normalize lowercases and trims an email identity. All ledger
// operations normalize before hashing so the same address can never
// slip in twice under different casing.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HashEmail returns the hex MD5 of the normalized email. Entries are
// stored and compared by hash, which also lets hash-only suppression
// imports coexist with plaintext ones.
func HashEmail(email string) string {
	sum := md5.Sum([]byte(Normalize(email)))
	return hex.EncodeToString(sum[:])
}

// IsSuppressed reports whether the identity is in the ledger. An empty
// identity is treated as suppressed: it can never be safe to send to.
func (l *Ledger) IsSuppressed(ctx context.Context, email string) (bool, error) {
	if Normalize(email) == "" {
		return true, nil
	}
	ok, err := l.repo.Exists(ctx, HashEmail(email))
	if err != nil {
		return false, fmt.Errorf("suppression check for %s: %w", email, err)
	}
	return ok, nil
}

// Add inserts the identity into the ledger. Adding an already-present
// identity is a no-op, not an error.
func (l *Ledger) Add(ctx context.Context, email, reason string) error {
	normalized := Normalize(email)
	if normalized == "" {
		return nil
	}
	_, err := l.repo.Insert(ctx, domain.SuppressionEntry{
		ID:      uuid.New().String(),
		Email:   normalized,
		MD5Hash: HashEmail(email),
		Reason:  reason,
	})
	if err != nil {
		return fmt.Errorf("suppression add: %w", err)
	}
	return nil
}

// BulkAdd inserts many identities for backfill/import use and returns
// the number of entries actually added.
func (l *Ledger) BulkAdd(ctx context.Context, emails []string, reason string) (int, error) {
	entries := make([]domain.SuppressionEntry, 0, len(emails))
	for _, e := range emails {
		normalized := Normalize(e)
		if normalized == "" {
			continue
		}
		entries = append(entries, domain.SuppressionEntry{
			ID:      uuid.New().String(),
			Email:   normalized,
			MD5Hash: HashEmail(e),
			Reason:  reason,
		})
	}
	if len(entries) == 0 {
		return 0, nil
	}
	n, err := l.repo.BulkInsert(ctx, entries)
	if err != nil {
		return 0, fmt.Errorf("suppression bulk add: %w", err)
	}
	return n, nil
}

// BuildPrefilter loads the full ledger into an in-memory prefilter
// snapshot for bulk-import filtering. The snapshot is NOT a substitute
// for IsSuppressed on the dispatch path: it only answers "definitely
// not suppressed as of load time" cheaply.
func (l *Ledger) BuildPrefilter(ctx context.Context) (*Prefilter, error) {
	hexes, err := l.repo.AllHashes(ctx)
	if err != nil {
		return nil, fmt.Errorf("load suppression hashes: %w", err)
	}
	return NewPrefilterFromHexes(hexes), nil
}
