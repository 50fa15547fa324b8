package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/advisorlabs/clerk/pkg/models"
)

func TestPostgresUseConsentIncrementsAtomically(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := NewPostgresStoreWithDB(db)

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	day := models.UseDayKey(now)

	mock.ExpectExec("UPDATE consents SET").
		WithArgs(now, day, "u1", "send_email").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.UseConsent(context.Background(), "u1", "send_email", now)
	if err != nil {
		t.Fatalf("UseConsent: %v", err)
	}
	if !ok {
		t.Error("expected consent use to be allowed when a row matched")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresUseConsentDeniedWhenNoRowMatches(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := NewPostgresStoreWithDB(db)

	now := time.Now().UTC()
	mock.ExpectExec("UPDATE consents SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.UseConsent(context.Background(), "u1", "send_email", now)
	if err != nil {
		t.Fatalf("UseConsent: %v", err)
	}
	if ok {
		t.Error("no matched row must mean denial")
	}
}

func TestPostgresRevokeConsent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := NewPostgresStoreWithDB(db)

	at := time.Now().UTC()
	mock.ExpectExec("UPDATE consents SET is_granted = FALSE").
		WithArgs(at, "u1", "send_email").
		WillReturnResult(sqlmock.NewResult(0, 1))

	revoked, err := store.RevokeConsent(context.Background(), "u1", "send_email", at)
	if err != nil {
		t.Fatalf("RevokeConsent: %v", err)
	}
	if !revoked {
		t.Error("expected revocation to report an affected row")
	}
}

func TestPostgresUpdateTaskNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := NewPostgresStoreWithDB(db)

	mock.ExpectExec("UPDATE tasks SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	task := &models.Task{ID: "missing", UserID: "u1", Status: models.TaskInProgress}
	if err := store.UpdateTask(context.Background(), task); err != ErrNotFound {
		t.Errorf("UpdateTask for unknown id = %v, want ErrNotFound", err)
	}
}
