package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ignite/outreach-dispatcher/internal/domain"
)

func TestSuppressionRepo_Exists(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewSuppressionRepo(db)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("0c83f57c786a0b4a98a3333eed8eb456").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.Exists(context.Background(), "0c83f57c786a0b4a98a3333eed8eb456")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if !ok {
		t.Error("Exists() = false, want true")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %s", err)
	}
}

func TestSuppressionRepo_Insert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewSuppressionRepo(db)

	entry := domain.SuppressionEntry{
		ID:      "id-1",
		Email:   "ada@example.com",
		MD5Hash: "0c83f57c786a0b4a98a3333eed8eb456",
		Reason:  "complaint",
	}

	t.Run("new entry", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO suppression_entries").
			WithArgs("id-1", "ada@example.com", "0c83f57c786a0b4a98a3333eed8eb456", "complaint").
			WillReturnResult(sqlmock.NewResult(1, 1))

		added, err := repo.Insert(context.Background(), entry)
		if err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
		if !added {
			t.Error("Insert() = false, want true")
		}
	})

	t.Run("duplicate entry", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO suppression_entries").
			WithArgs("id-1", "ada@example.com", "0c83f57c786a0b4a98a3333eed8eb456", "complaint").
			WillReturnResult(sqlmock.NewResult(0, 0))

		added, err := repo.Insert(context.Background(), entry)
		if err != nil {
			t.Fatalf("Insert() duplicate error = %v", err)
		}
		if added {
			t.Error("Insert() duplicate = true, want false")
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %s", err)
	}
}

func TestSuppressionRepo_BulkInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewSuppressionRepo(db)

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO suppression_entries")
	mock.ExpectExec("INSERT INTO suppression_entries").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO suppression_entries").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	added, err := repo.BulkInsert(context.Background(), []domain.SuppressionEntry{
		{ID: "id-1", Email: "a@example.com", MD5Hash: "aa", Reason: "import"},
		{ID: "id-2", Email: "b@example.com", MD5Hash: "bb", Reason: "import"},
	})
	if err != nil {
		t.Fatalf("BulkInsert() error = %v", err)
	}
	if added != 1 {
		t.Errorf("BulkInsert() added = %d, want 1", added)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %s", err)
	}
}

func TestSuppressionRepo_AllHashes(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewSuppressionRepo(db)

	mock.ExpectQuery("SELECT md5_hash FROM suppression_entries").
		WillReturnRows(sqlmock.NewRows([]string{"md5_hash"}).AddRow("aa").AddRow("bb"))

	hashes, err := repo.AllHashes(context.Background())
	if err != nil {
		t.Fatalf("AllHashes() error = %v", err)
	}
	if len(hashes) != 2 {
		t.Errorf("AllHashes() len = %d, want 2", len(hashes))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %s", err)
	}
}
