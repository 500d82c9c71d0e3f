package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ignite/outreach-dispatcher/internal/domain"
)

var testSequence = domain.Sequence{
	{Stage: 1, DelayDays: 0},
	{Stage: 2, DelayDays: 4},
}

func seedContacts(s *ContactStore, n int) []int64 {
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, s.Add(domain.Contact{Email: fmt.Sprintf("c%03d@example.com", i)}))
	}
	return ids
}

func TestClaimNextForStage_Exclusivity(t *testing.T) {
	// K eligible contacts, many concurrent claimers: exactly K claims
	// succeed and each contact is claimed exactly once.
	const eligible = 20
	const claimers = 100

	store := NewContactStore(testSequence)
	seedContacts(store, eligible)

	var mu sync.Mutex
	claimed := make(map[int64]string)
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			identity := fmt.Sprintf("sender%02d@acme.io", i%10)
			c, err := store.ClaimNextForStage(context.Background(), identity, 1)
			if err != nil {
				t.Errorf("ClaimNextForStage() error = %v", err)
				return
			}
			if c == nil {
				return
			}
			mu.Lock()
			if prev, dup := claimed[c.ID]; dup {
				t.Errorf("contact %d claimed twice: %s and %s", c.ID, prev, identity)
			}
			claimed[c.ID] = identity
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if len(claimed) != eligible {
		t.Errorf("claimed %d contacts, want %d", len(claimed), eligible)
	}
}

func TestClaimNextForStage_SingleContactTwoClaimers(t *testing.T) {
	store := NewContactStore(testSequence)
	store.Add(domain.Contact{Email: "only@example.com"})

	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := store.ClaimNextForStage(context.Background(), fmt.Sprintf("s%d@acme.io", i), 1)
			if err != nil {
				t.Errorf("ClaimNextForStage() error = %v", err)
				return
			}
			if c != nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
}

func TestClaimNextForStage_OrderingAndHistory(t *testing.T) {
	store := NewContactStore(testSequence)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	aID := store.Add(domain.Contact{Email: "a@example.com"})
	bID := store.Add(domain.Contact{Email: "b@example.com"})

	// First claim prefers never-contacted; with both fresh, lowest ID wins.
	c, err := store.ClaimNextForStage(context.Background(), "s1@acme.io", 1)
	if err != nil || c == nil {
		t.Fatalf("claim 1 = %v, %v", c, err)
	}
	if c.ID != aID {
		t.Errorf("claim 1 = contact %d, want %d", c.ID, aID)
	}
	if err := store.RecordSent(context.Background(), c.ID, "s1@acme.io", 1, "m1", "sent"); err != nil {
		t.Fatalf("RecordSent() error = %v", err)
	}

	// Same identity cannot reach contact a again at stage 1; contact a
	// already has a stage-1 record anyway. Next claim gets b.
	c, err = store.ClaimNextForStage(context.Background(), "s1@acme.io", 1)
	if err != nil || c == nil {
		t.Fatalf("claim 2 = %v, %v", c, err)
	}
	if c.ID != bID {
		t.Errorf("claim 2 = contact %d, want %d", c.ID, bID)
	}
}

func TestClaimNextForStage_FollowUpDelayBoundary(t *testing.T) {
	store := NewContactStore(testSequence)
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	now := base
	store.SetClock(func() time.Time { return now })

	id := store.Add(domain.Contact{Email: "a@example.com"})
	c, _ := store.ClaimNextForStage(context.Background(), "s1@acme.io", 1)
	if c == nil || c.ID != id {
		t.Fatal("stage-1 claim failed")
	}
	if err := store.RecordSent(context.Background(), id, "s1@acme.io", 1, "m1", "sent"); err != nil {
		t.Fatalf("RecordSent() error = %v", err)
	}

	// One hour short of the 4-day delay: not yet eligible.
	now = base.Add(4*24*time.Hour - time.Hour)
	c, err := store.ClaimNextForStage(context.Background(), "s2@acme.io", 2)
	if err != nil {
		t.Fatalf("ClaimNextForStage(stage 2) error = %v", err)
	}
	if c != nil {
		t.Errorf("contact eligible %v early, want nil", time.Hour)
	}

	// Exactly at the boundary: eligible, claimable by a different identity.
	now = base.Add(4 * 24 * time.Hour)
	c, err = store.ClaimNextForStage(context.Background(), "s2@acme.io", 2)
	if err != nil {
		t.Fatalf("ClaimNextForStage(stage 2) error = %v", err)
	}
	if c == nil || c.ID != id {
		t.Errorf("stage-2 claim = %+v, want contact %d", c, id)
	}
}

func TestScanStaleClaims_NeverReleases(t *testing.T) {
	store := NewContactStore(testSequence)
	base := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)
	now := base
	store.SetClock(func() time.Time { return now })

	id := store.Add(domain.Contact{Email: "a@example.com"})
	if c, _ := store.ClaimNextForStage(context.Background(), "s1@acme.io", 1); c == nil {
		t.Fatal("claim failed")
	}

	now = base.Add(2 * time.Hour)
	stale, err := store.ScanStaleClaims(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("ScanStaleClaims() error = %v", err)
	}
	if len(stale) != 1 || stale[0].ID != id {
		t.Fatalf("ScanStaleClaims() = %+v, want contact %d", stale, id)
	}

	// The scan must not have cleared the claim.
	c, _ := store.Get(id)
	if !c.Claimed() {
		t.Error("stale claim was released by the scan")
	}

	// The claimed contact stays invisible to claimers.
	if got, _ := store.ClaimNextForStage(context.Background(), "s2@acme.io", 1); got != nil {
		t.Errorf("stale-claimed contact was re-claimed: %+v", got)
	}

	// Explicit operator release is the only way back.
	if err := store.ReleaseClaim(context.Background(), id); err != nil {
		t.Fatalf("ReleaseClaim() error = %v", err)
	}
	if got, _ := store.ClaimNextForStage(context.Background(), "s2@acme.io", 1); got == nil {
		t.Error("released contact not claimable again")
	}
}

func TestRecordSent_ReleasesClaimAtomically(t *testing.T) {
	store := NewContactStore(testSequence)
	id := store.Add(domain.Contact{Email: "a@example.com"})

	if c, _ := store.ClaimNextForStage(context.Background(), "s1@acme.io", 1); c == nil {
		t.Fatal("claim failed")
	}
	if err := store.RecordSent(context.Background(), id, "s1@acme.io", 1, "m1", "sent"); err != nil {
		t.Fatalf("RecordSent() error = %v", err)
	}

	c, _ := store.Get(id)
	if c.Claimed() {
		t.Error("claim not released by RecordSent")
	}
	if c.LastContactedAt == nil {
		t.Error("last_contacted_at not stamped")
	}
	if store.SendCount() != 1 {
		t.Errorf("SendCount() = %d, want 1", store.SendCount())
	}
}

func TestBulkImport_SkipsDuplicates(t *testing.T) {
	store := NewContactStore(testSequence)
	added, err := store.BulkImport(context.Background(), []domain.Contact{
		{Email: "a@example.com"},
		{Email: "A@Example.com "},
		{Email: "b@example.com"},
		{Email: ""},
	})
	if err != nil {
		t.Fatalf("BulkImport() error = %v", err)
	}
	if added != 2 {
		t.Errorf("BulkImport() added = %d, want 2", added)
	}
}

func TestUpdateStatus_RemovesFromPool(t *testing.T) {
	store := NewContactStore(testSequence)
	store.Add(domain.Contact{Email: "a@example.com"})

	if err := store.UpdateStatus(context.Background(), "a@example.com", domain.StatusBounced); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if c, _ := store.ClaimNextForStage(context.Background(), "s1@acme.io", 1); c != nil {
		t.Errorf("bounced contact claimed: %+v", c)
	}
	if err := store.UpdateStatus(context.Background(), "ghost@example.com", domain.StatusReplied); err != domain.ErrNotFound {
		t.Errorf("UpdateStatus(unknown) error = %v, want ErrNotFound", err)
	}
}
