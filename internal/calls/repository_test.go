package calls

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

const testCallID = "3f2c6a1e-8d4b-4f0a-9c7e-2b5d1a6e9f10"

var callRowColumns = []string{
	"id", "campaign_id", "lead_id", "contact_name", "contact_phone", "status",
	"outcome", "execution_id", "duration", "cost", "transcript",
	"recording_url", "extracted_data", "reschedule_day", "in_group", "link_sent",
	"created_at", "updated_at",
}

func TestPostgresRepo_UpdateCall_LocksRowAndIncrementsCounters(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	repo := NewPostgresRepo(db)
	repo.clock = func() time.Time { return now }

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM call_records WHERE id = \$1 FOR UPDATE`).
		WithArgs(testCallID).
		WillReturnRows(sqlmock.NewRows(callRowColumns).AddRow(
			testCallID, "camp-1", "", "Asha", "+919876543210", "queued",
			"", "", 0.0, 0.0, "",
			"", nil, "", false, false,
			now, now,
		))
	mock.ExpectExec(`UPDATE call_records`).
		WithArgs(testCallID, "completed", "confirmed", "exec-1", 42.0, 0.5, nil, nil, nil, nil, false, false, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE campaigns\s+SET calls_completed = calls_completed \+ \$2`).
		WithArgs("camp-1", 1, 1, 0, 0, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	next, delta, err := repo.UpdateCall(context.Background(), testCallID, func(prev CallRecord) (CallRecord, Counters) {
		prev.Status = CallStatusCompleted
		prev.Outcome = OutcomeConfirmed
		prev.ExecutionID = "exec-1"
		prev.DurationSeconds = 42
		prev.Cost = 0.5
		return prev, Counters{Completed: 1, Confirmed: 1}
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if next.Status != CallStatusCompleted || delta.Completed != 1 {
		t.Fatalf("unexpected result %+v %+v", next, delta)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepo_UpdateCall_NotFoundRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM call_records WHERE id = \$1 FOR UPDATE`).
		WithArgs("0b1d9e7c-5a3f-4c2e-8f6d-7e9a0c1b2d3e").
		WillReturnRows(sqlmock.NewRows(callRowColumns))
	mock.ExpectRollback()

	_, _, err = NewPostgresRepo(db).UpdateCall(context.Background(), "0b1d9e7c-5a3f-4c2e-8f6d-7e9a0c1b2d3e", func(prev CallRecord) (CallRecord, Counters) {
		t.Fatalf("mutation must not run for a missing row")
		return prev, Counters{}
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepo_MalformedCallIDIsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewPostgresRepo(db)

	if _, err := repo.GetCall(context.Background(), "call-abc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetCall: expected ErrNotFound, got %v", err)
	}
	if _, err := repo.GetCampaign(context.Background(), "camp-abc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetCampaign: expected ErrNotFound, got %v", err)
	}
	_, _, err = repo.UpdateCall(context.Background(), "call-abc", func(prev CallRecord) (CallRecord, Counters) {
		t.Fatalf("mutation must not run for a malformed id")
		return prev, Counters{}
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateCall: expected ErrNotFound, got %v", err)
	}
	// no statement may reach the database
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepo_CompleteCampaign_OnlyOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	at := time.Date(2026, 1, 2, 11, 0, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE campaigns\s+SET status = 'completed'`).
		WithArgs("camp-1", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := NewPostgresRepo(db).CompleteCampaign(context.Background(), "camp-1", at)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if ok {
		t.Fatalf("expected no-op when campaign already completed")
	}
}
