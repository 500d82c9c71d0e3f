package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ignite/outreach-dispatcher/internal/domain"
)

var testSequence = domain.Sequence{
	{Stage: 1, DelayDays: 0},
	{Stage: 2, DelayDays: 4},
}

func contactRows(id int64, email string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "email", "first_name", "last_name", "organization", "role", "locale",
		"status", "claimed_by", "claimed_at", "last_contacted_at", "created_at",
	}).AddRow(
		id, email, "Ada", "Lovelace", "Analytical Engines", "CTO", "en",
		"active", "sender@acme.io", time.Now(), nil, time.Now(),
	)
}

func TestContactRepo_ClaimNextForStage(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewContactRepo(db, testSequence)

	t.Run("stage 1 claims a contact", func(t *testing.T) {
		mock.ExpectQuery("UPDATE contacts SET claimed_by").
			WithArgs("sender@acme.io").
			WillReturnRows(contactRows(7, "ada@example.com"))

		c, err := repo.ClaimNextForStage(context.Background(), "sender@acme.io", 1)
		if err != nil {
			t.Fatalf("ClaimNextForStage() error = %v", err)
		}
		if c == nil {
			t.Fatal("ClaimNextForStage() returned nil contact")
		}
		if c.ID != 7 || c.Email != "ada@example.com" {
			t.Errorf("ClaimNextForStage() = %+v, want id=7 email=ada@example.com", c)
		}
		if !c.Claimed() {
			t.Error("ClaimNextForStage() returned contact without claim fields")
		}
	})

	t.Run("no eligible contact returns nil, nil", func(t *testing.T) {
		mock.ExpectQuery("UPDATE contacts SET claimed_by").
			WithArgs("sender@acme.io").
			WillReturnError(sql.ErrNoRows)

		c, err := repo.ClaimNextForStage(context.Background(), "sender@acme.io", 1)
		if err != nil {
			t.Fatalf("ClaimNextForStage() error = %v", err)
		}
		if c != nil {
			t.Errorf("ClaimNextForStage() = %+v, want nil", c)
		}
	})

	t.Run("follow-up stage passes delay parameters", func(t *testing.T) {
		mock.ExpectQuery("UPDATE contacts SET claimed_by").
			WithArgs("sender@acme.io", 1, 2, 4).
			WillReturnRows(contactRows(9, "grace@example.com"))

		c, err := repo.ClaimNextForStage(context.Background(), "sender@acme.io", 2)
		if err != nil {
			t.Fatalf("ClaimNextForStage(stage 2) error = %v", err)
		}
		if c == nil || c.ID != 9 {
			t.Errorf("ClaimNextForStage(stage 2) = %+v, want id=9", c)
		}
	})

	t.Run("stage outside sequence is rejected", func(t *testing.T) {
		if _, err := repo.ClaimNextForStage(context.Background(), "sender@acme.io", 3); err == nil {
			t.Error("ClaimNextForStage(stage 3) expected error")
		}
		if _, err := repo.ClaimNextForStage(context.Background(), "sender@acme.io", 0); err == nil {
			t.Error("ClaimNextForStage(stage 0) expected error")
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %s", err)
	}
}

func TestContactRepo_RecordSent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewContactRepo(db, testSequence)

	t.Run("log insert, claim release and history share one tx", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO send_log").
			WithArgs(int64(7), "sender@acme.io", 1, "msg-123", "sent").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE contacts").
			WithArgs(int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO identity_contact_history").
			WithArgs("sender@acme.io", int64(7)).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		if err := repo.RecordSent(context.Background(), 7, "sender@acme.io", 1, "msg-123", "sent"); err != nil {
			t.Fatalf("RecordSent() error = %v", err)
		}
	})

	t.Run("failed log insert rolls back", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO send_log").
			WillReturnError(sql.ErrConnDone)
		mock.ExpectRollback()

		if err := repo.RecordSent(context.Background(), 7, "sender@acme.io", 1, "msg-123", "sent"); err == nil {
			t.Error("RecordSent() expected error")
		}
	})

	t.Run("unknown contact", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO send_log").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE contacts").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := repo.RecordSent(context.Background(), 999, "sender@acme.io", 1, "msg-123", "sent")
		if err != ErrContactNotFound {
			t.Errorf("RecordSent() error = %v, want ErrContactNotFound", err)
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %s", err)
	}
}

func TestContactRepo_UpdateStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewContactRepo(db, testSequence)

	t.Run("valid transition", func(t *testing.T) {
		mock.ExpectExec("UPDATE contacts SET status").
			WithArgs("bounced", "ada@example.com").
			WillReturnResult(sqlmock.NewResult(0, 1))

		if err := repo.UpdateStatus(context.Background(), "ada@example.com", domain.StatusBounced); err != nil {
			t.Fatalf("UpdateStatus() error = %v", err)
		}
	})

	t.Run("unknown status rejected before touching the database", func(t *testing.T) {
		if err := repo.UpdateStatus(context.Background(), "ada@example.com", "vanished"); err == nil {
			t.Error("UpdateStatus() expected error for unknown status")
		}
	})

	t.Run("unknown contact", func(t *testing.T) {
		mock.ExpectExec("UPDATE contacts SET status").
			WithArgs("replied", "ghost@example.com").
			WillReturnResult(sqlmock.NewResult(0, 0))

		if err := repo.UpdateStatus(context.Background(), "ghost@example.com", domain.StatusReplied); err != ErrContactNotFound {
			t.Errorf("UpdateStatus() error = %v, want ErrContactNotFound", err)
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %s", err)
	}
}

func TestContactRepo_ScanStaleClaims(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewContactRepo(db, testSequence)

	mock.ExpectQuery("SELECT (.+) FROM contacts").
		WithArgs(int64(60)).
		WillReturnRows(contactRows(7, "ada@example.com"))

	stale, err := repo.ScanStaleClaims(context.Background(), 60*time.Minute)
	if err != nil {
		t.Fatalf("ScanStaleClaims() error = %v", err)
	}
	if len(stale) != 1 || stale[0].ID != 7 {
		t.Errorf("ScanStaleClaims() = %+v, want one contact with id=7", stale)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %s", err)
	}
}

func TestContactRepo_BulkImport(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewContactRepo(db, testSequence)

	t.Run("counts only newly inserted rows", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectPrepare("INSERT INTO contacts")
		mock.ExpectExec("INSERT INTO contacts").
			WithArgs("ada@example.com", "Ada", "Lovelace", "", "", "").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO contacts").
			WithArgs("dupe@example.com", "", "", "", "", "").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		added, err := repo.BulkImport(context.Background(), []domain.Contact{
			{Email: "ada@example.com", FirstName: "Ada", LastName: "Lovelace"},
			{Email: "dupe@example.com"},
		})
		if err != nil {
			t.Fatalf("BulkImport() error = %v", err)
		}
		if added != 1 {
			t.Errorf("BulkImport() added = %d, want 1", added)
		}
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		added, err := repo.BulkImport(context.Background(), nil)
		if err != nil {
			t.Fatalf("BulkImport(nil) error = %v", err)
		}
		if added != 0 {
			t.Errorf("BulkImport(nil) added = %d, want 0", added)
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %s", err)
	}
}
