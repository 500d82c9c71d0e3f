package suppression

import (
	"context"
	"testing"

	"github.com/ignite/outreach-dispatcher/internal/domain"
)

type mapRepo struct {
	byHash map[string]domain.SuppressionEntry
}

func newMapRepo() *mapRepo {
	return &mapRepo{byHash: make(map[string]domain.SuppressionEntry)}
}

func (r *mapRepo) Exists(ctx context.Context, md5Hash string) (bool, error) {
	_, ok := r.byHash[md5Hash]
	return ok, nil
}

func (r *mapRepo) Insert(ctx context.Context, e domain.SuppressionEntry) (bool, error) {
	if _, ok := r.byHash[e.MD5Hash]; ok {
		return false, nil
	}
	r.byHash[e.MD5Hash] = e
	return true, nil
}

func (r *mapRepo) BulkInsert(ctx context.Context, entries []domain.SuppressionEntry) (int, error) {
	added := 0
	for _, e := range entries {
		ok, _ := r.Insert(ctx, e)
		if ok {
			added++
		}
	}
	return added, nil
}

func (r *mapRepo) AllHashes(ctx context.Context) ([]string, error) {
	out := make([]string, 0, len(r.byHash))
	for h := range r.byHash {
		out = append(out, h)
	}
	return out, nil
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Ada@Example.COM", "ada@example.com"},
		{"  ada@example.com  ", "ada@example.com"},
		{"", ""},
		{"  ", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHashEmail_CaseInsensitive(t *testing.T) {
	if HashEmail("Ada@Example.com") != HashEmail(" ada@example.com") {
		t.Error("hashes differ for the same normalized identity")
	}
	// MD5 of "ada@example.com", pinned so stored hashes stay stable
	// across refactors.
	if got := HashEmail("ada@example.com"); got != "3e3417d7ef77d5932a6734b916515ed5" {
		t.Errorf("HashEmail() = %s", got)
	}
}

func TestLedger_AddAndCheck(t *testing.T) {
	ledger := NewLedger(newMapRepo())
	ctx := context.Background()

	suppressed, err := ledger.IsSuppressed(ctx, "ada@example.com")
	if err != nil || suppressed {
		t.Fatalf("IsSuppressed(fresh) = %v, %v", suppressed, err)
	}

	if err := ledger.Add(ctx, "Ada@Example.com", "complaint"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	t.Run("matches any casing", func(t *testing.T) {
		for _, variant := range []string{"ada@example.com", "ADA@EXAMPLE.COM", " Ada@Example.com "} {
			suppressed, err := ledger.IsSuppressed(ctx, variant)
			if err != nil {
				t.Fatalf("IsSuppressed(%q) error = %v", variant, err)
			}
			if !suppressed {
				t.Errorf("IsSuppressed(%q) = false, want true", variant)
			}
		}
	})

	t.Run("re-add is a no-op", func(t *testing.T) {
		if err := ledger.Add(ctx, "ada@example.com", "bounce"); err != nil {
			t.Errorf("Add(duplicate) error = %v", err)
		}
	})

	t.Run("empty identity always suppressed", func(t *testing.T) {
		suppressed, err := ledger.IsSuppressed(ctx, "   ")
		if err != nil || !suppressed {
			t.Errorf("IsSuppressed(blank) = %v, %v, want true, nil", suppressed, err)
		}
	})

	t.Run("empty add is a no-op", func(t *testing.T) {
		if err := ledger.Add(ctx, "  ", "noise"); err != nil {
			t.Errorf("Add(blank) error = %v", err)
		}
	})
}

func TestLedger_BulkAdd(t *testing.T) {
	ledger := NewLedger(newMapRepo())
	ctx := context.Background()

	added, err := ledger.BulkAdd(ctx, []string{
		"a@example.com",
		"A@Example.com",
		"b@example.com",
		"",
	}, "import")
	if err != nil {
		t.Fatalf("BulkAdd() error = %v", err)
	}
	if added != 2 {
		t.Errorf("BulkAdd() added = %d, want 2", added)
	}
}

func TestLedger_BuildPrefilter(t *testing.T) {
	ledger := NewLedger(newMapRepo())
	ctx := context.Background()
	if _, err := ledger.BulkAdd(ctx, []string{"a@example.com", "b@example.com"}, "import"); err != nil {
		t.Fatal(err)
	}

	pf, err := ledger.BuildPrefilter(ctx)
	if err != nil {
		t.Fatalf("BuildPrefilter() error = %v", err)
	}
	if pf.Len() != 2 {
		t.Errorf("Len() = %d, want 2", pf.Len())
	}
	if !pf.MayContain("a@example.com") {
		t.Error("MayContain(known) = false")
	}
	if pf.MayContain("stranger@example.com") {
		t.Error("MayContain(unknown) = true for a 2-entry snapshot")
	}
}
