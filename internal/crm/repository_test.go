package crm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPostgresRepo_UpdateAppointment_Reschedule(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	at := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	link := "https://zoom.example/j/1"

	mock.ExpectExec(`UPDATE appointments SET closer_id = \$2, previous_closer_id = \$3, was_rescheduled = \$4, calendly_event_id = \$5, `+
		`meeting_link = \$6, previous_scheduled_date = \$7, previous_scheduled_time = \$8, scheduled_date = \$9, `+
		`scheduled_time = \$10, rescheduled_at = \$11, status = \$12, updated_at = \$13 WHERE id = \$1`).
		WithArgs("appt-1", "closer-2", "closer-1", true, nil, link, "2026-03-10", "18:00:00", "2026-03-11", "09:30:00", at, "scheduled", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPostgresRepo(db)
	err = repo.UpdateAppointment(context.Background(), "appt-1", AppointmentUpdate{
		CloserID:         "closer-2",
		PreviousCloserID: "closer-1",
		WasRescheduled:   true,
		MeetingLink:      &link,
		Reschedule: &AppointmentReschedule{
			PreviousDate:  "2026-03-10",
			PreviousTime:  "18:00:00",
			NewDate:       "2026-03-11",
			NewTime:       "09:30:00",
			RescheduledAt: at,
		},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresRepo_UpdateAppointment_ReassignOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`UPDATE appointments SET closer_id = \$2, previous_closer_id = \$3, was_rescheduled = \$4, calendly_event_id = \$5, updated_at = \$6 WHERE id = \$1`).
		WithArgs("appt-1", "closer-2", "closer-1", true, "evt-9", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewPostgresRepo(db)
	err = repo.UpdateAppointment(context.Background(), "appt-1", AppointmentUpdate{
		CloserID:         "closer-2",
		PreviousCloserID: "closer-1",
		WasRescheduled:   true,
		CalendlyEventID:  "evt-9",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing row, got %v", err)
	}
}

func TestPostgresRepo_ReassignLead(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`UPDATE leads\s+SET previous_assigned_to = assigned_to, assigned_to = \$2`).
		WithArgs("lead-1", "closer-2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := NewPostgresRepo(db).ReassignLead(context.Background(), "lead-1", "closer-2"); err != nil {
		t.Fatalf("reassign lead: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresRepo_GetIntegration_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`FROM closers_integrations`).
		WithArgs("org-1", "closer-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := NewPostgresRepo(db).GetIntegration(context.Background(), "org-1", "closer-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresRepo_MalformedIDIsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewPostgresRepo(db)

	if _, err := repo.GetAppointment(context.Background(), "abc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetAppointment: expected ErrNotFound, got %v", err)
	}
	if _, err := repo.GetCloser(context.Background(), "closer-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetCloser: expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
