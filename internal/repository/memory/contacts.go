// Package memory provides in-memory repositories with the same
// semantics as the postgres package. They back tests that need real
// concurrent claimers, and make local development possible without a
// database.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ignite/outreach-dispatcher/internal/domain"
)

// ContactStore keeps contacts, send records and per-identity contact
// history under a single mutex. Claim selection and mutation happen
// inside one critical section, mirroring the single-statement claim of
// the postgres repository.
type ContactStore struct {
	mu      sync.Mutex
	seq     domain.Sequence
	nextID  int64
	byID    map[int64]*domain.Contact
	byEmail map[string]int64
	sends   []domain.SendRecord
	history map[string]map[int64]bool
	clock   func() time.Time
}

// NewContactStore creates an empty in-memory contact store.
func NewContactStore(seq domain.Sequence) *ContactStore {
	return &ContactStore{
		seq:     seq,
		nextID:  1,
		byID:    make(map[int64]*domain.Contact),
		byEmail: make(map[string]int64),
		history: make(map[string]map[int64]bool),
		clock:   time.Now,
	}
}

// SetClock replaces the store's time source. Test hook.
func (s *ContactStore) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// Add inserts one contact and returns its assigned ID. Duplicate emails
// are skipped and return 0.
func (s *ContactStore) Add(c domain.Contact) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(c)
}

func (s *ContactStore) add(c domain.Contact) int64 {
	email := strings.ToLower(strings.TrimSpace(c.Email))
	if email == "" {
		return 0
	}
	if _, ok := s.byEmail[email]; ok {
		return 0
	}
	c.ID = s.nextID
	s.nextID++
	c.Email = email
	if c.Status == "" {
		c.Status = domain.StatusActive
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.clock()
	}
	s.byID[c.ID] = &c
	s.byEmail[email] = c.ID
	return c.ID
}

// BulkImport inserts new contacts, skipping duplicates, and returns the
// number added.
func (s *ContactStore) BulkImport(ctx context.Context, contacts []domain.Contact) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, c := range contacts {
		if s.add(c) != 0 {
			added++
		}
	}
	return added, nil
}

// ClaimNextForStage selects and claims one eligible contact, or returns
// (nil, nil) when none qualifies. Selection rules match the postgres
// repository: stage 1 prefers least recently contacted and skips
// contacts the identity has reached before; stage N>1 requires a
// sufficiently old stage-(N-1) send and orders by that send's age.
func (s *ContactStore) ClaimNextForStage(ctx context.Context, identity string, stage int) (*domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stage < 1 || stage > s.seq.Last() {
		return nil, nil
	}

	now := s.clock()
	var best *domain.Contact
	var bestSentAt time.Time

	for _, c := range s.byID {
		if c.Status != domain.StatusActive || c.Claimed() {
			continue
		}
		if s.sentAtStage(c.ID, stage) {
			continue
		}
		if stage == 1 {
			if s.history[identity][c.ID] {
				continue
			}
			if best == nil || lessRecentlyContacted(c, best) {
				best = c
			}
			continue
		}
		prevAt, ok := s.sentStageAt(c.ID, stage-1)
		if !ok {
			continue
		}
		delay := time.Duration(s.seq.DelayDays(stage)) * 24 * time.Hour
		if prevAt.After(now.Add(-delay)) {
			continue
		}
		if best == nil || prevAt.Before(bestSentAt) {
			best = c
			bestSentAt = prevAt
		}
	}

	if best == nil {
		return nil, nil
	}
	best.ClaimedBy = identity
	t := now
	best.ClaimedAt = &t
	cp := *best
	return &cp, nil
}

func lessRecentlyContacted(a, b *domain.Contact) bool {
	switch {
	case a.LastContactedAt == nil && b.LastContactedAt != nil:
		return true
	case a.LastContactedAt != nil && b.LastContactedAt == nil:
		return false
	case a.LastContactedAt == nil && b.LastContactedAt == nil:
		return a.ID < b.ID
	default:
		return a.LastContactedAt.Before(*b.LastContactedAt)
	}
}

func (s *ContactStore) sentAtStage(contactID int64, stage int) bool {
	_, ok := s.sentStageAt(contactID, stage)
	return ok
}

func (s *ContactStore) sentStageAt(contactID int64, stage int) (time.Time, bool) {
	for _, r := range s.sends {
		if r.ContactID == contactID && r.Stage == stage {
			return r.SentAt, true
		}
	}
	return time.Time{}, false
}

// RecordSent appends the send record, stamps the identity history, and
// releases the claim as one atomic step.
func (s *ContactStore) RecordSent(ctx context.Context, contactID int64, identity string, stage int, messageID, outcome string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[contactID]
	if !ok {
		return domain.ErrNotFound
	}
	now := s.clock()
	s.sends = append(s.sends, domain.SendRecord{
		ContactID: contactID,
		Identity:  identity,
		Stage:     stage,
		MessageID: messageID,
		Outcome:   outcome,
		SentAt:    now,
	})
	if s.history[identity] == nil {
		s.history[identity] = make(map[int64]bool)
	}
	s.history[identity][contactID] = true
	t := now
	c.LastContactedAt = &t
	c.ClaimedBy = ""
	c.ClaimedAt = nil
	return nil
}

// UpdateStatus changes the contact status by email.
func (s *ContactStore) UpdateStatus(ctx context.Context, email string, status domain.ContactStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return domain.ErrNotFound
	}
	s.byID[id].Status = status
	return nil
}

// ScanStaleClaims reports claims older than maxAge without touching them.
func (s *ContactStore) ScanStaleClaims(ctx context.Context, maxAge time.Duration) ([]domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock().Add(-maxAge)
	var out []domain.Contact
	for _, c := range s.byID {
		if c.Claimed() && c.ClaimedAt.Before(cutoff) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClaimedAt.Before(*out[j].ClaimedAt) })
	return out, nil
}

// ReleaseClaim clears a claim. Operator path only.
func (s *ContactStore) ReleaseClaim(ctx context.Context, contactID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[contactID]
	if !ok || !c.Claimed() {
		return domain.ErrNotFound
	}
	c.ClaimedBy = ""
	c.ClaimedAt = nil
	return nil
}

// CandidateEmails lists up to limit emails currently eligible for the
// given identity and stage, without claiming anything.
func (s *ContactStore) CandidateEmails(ctx context.Context, identity string, stage int, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	now := s.clock()
	var out []string
	for _, c := range s.byID {
		if len(out) >= limit {
			break
		}
		if c.Status != domain.StatusActive || c.Claimed() {
			continue
		}
		if s.sentAtStage(c.ID, stage) {
			continue
		}
		if stage == 1 {
			if s.history[identity][c.ID] {
				continue
			}
			out = append(out, c.Email)
			continue
		}
		prevAt, ok := s.sentStageAt(c.ID, stage-1)
		if !ok {
			continue
		}
		delay := time.Duration(s.seq.DelayDays(stage)) * 24 * time.Hour
		if prevAt.After(now.Add(-delay)) {
			continue
		}
		out = append(out, c.Email)
	}
	return out, nil
}

// Get returns a copy of the contact by ID, for assertions in tests.
func (s *ContactStore) Get(contactID int64) (domain.Contact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[contactID]
	if !ok {
		return domain.Contact{}, false
	}
	return *c, true
}

// SendCount returns the number of recorded sends.
func (s *ContactStore) SendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sends)
}

// Sends returns a copy of all recorded sends.
func (s *ContactStore) Sends() []domain.SendRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SendRecord, len(s.sends))
	copy(out, s.sends)
	return out
}
