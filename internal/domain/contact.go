package domain

import (
	"errors"
	"time"
)

// ErrNotFound is returned by stores when the referenced contact does
// not exist.
var ErrNotFound = errors.New("not found")

// ContactStatus enumerates the lifecycle states of a contact.
// Only StatusActive contacts are eligible for claims; the other states
// are terminal-ish transitions triggered by external signals and are
// never reversed by the dispatcher itself.
type ContactStatus string

const (
	StatusActive     ContactStatus = "active"
	StatusSuppressed ContactStatus = "suppressed"
	StatusBounced    ContactStatus = "bounced"
	StatusComplained ContactStatus = "complained"
	StatusReplied    ContactStatus = "replied"
)

// Valid reports whether s is one of the known contact statuses.
func (s ContactStatus) Valid() bool {
	switch s {
	case StatusActive, StatusSuppressed, StatusBounced, StatusComplained, StatusReplied:
		return true
	}
	return false
}

// Contact represents a target recipient tracked through the outreach
// sequence. The attribute fields are an opaque payload from the
// dispatcher's perspective; they are passed through to content rendering.
type Contact struct {
	ID           int64         `json:"id" db:"id"`
	Email        string        `json:"email" db:"email"`
	FirstName    string        `json:"first_name" db:"first_name"`
	LastName     string        `json:"last_name" db:"last_name"`
	Organization string        `json:"organization" db:"organization"`
	Role         string        `json:"role" db:"role"`
	Locale       string        `json:"locale" db:"locale"`
	Status       ContactStatus `json:"status" db:"status"`

	// Claim state. A non-empty ClaimedBy means a send attempt is in
	// flight; it is only ever cleared atomically with the send-record
	// write, or by an explicit operator release.
	ClaimedBy string     `json:"claimed_by" db:"claimed_by"`
	ClaimedAt *time.Time `json:"claimed_at" db:"claimed_at"`

	LastContactedAt *time.Time `json:"last_contacted_at" db:"last_contacted_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// Claimed reports whether the contact has an outstanding claim.
func (c *Contact) Claimed() bool {
	return c.ClaimedBy != ""
}

// SendRecord is one entry in a contact's per-stage send history.
// At most one record exists per (contact, stage).
type SendRecord struct {
	ID        int64     `json:"id" db:"id"`
	ContactID int64     `json:"contact_id" db:"contact_id"`
	Identity  string    `json:"identity" db:"identity"`
	Stage     int       `json:"stage" db:"stage"`
	MessageID string    `json:"message_id" db:"message_id"`
	Outcome   string    `json:"outcome" db:"outcome"`
	SentAt    time.Time `json:"sent_at" db:"sent_at"`
}

// SuppressionEntry is one row in the suppression ledger: a normalized
// email identity that must never be contacted again.
type SuppressionEntry struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	MD5Hash   string    `json:"md5_hash" db:"md5_hash"`
	Reason    string    `json:"reason" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
