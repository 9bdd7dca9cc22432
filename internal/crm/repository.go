package crm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("crm: not found")

// PostgresRepo reads and writes the CRM rows the orchestrators touch.
//
// Tables: leads, closers, closers_integrations, appointments, organization_settings.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// validID guards uuid-keyed lookups so a malformed id reads as missing rather
// than as a cast error.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (r *PostgresRepo) GetAppointment(ctx context.Context, id string) (Appointment, error) {
	if !validID(id) {
		return Appointment{}, ErrNotFound
	}
	const q = `
SELECT id, organization_id, lead_id, COALESCE(closer_id::text, ''), COALESCE(previous_closer_id::text, ''),
       to_char(scheduled_date, 'YYYY-MM-DD'), to_char(scheduled_time, 'HH24:MI:SS'),
       COALESCE(to_char(previous_scheduled_date, 'YYYY-MM-DD'), ''), COALESCE(to_char(previous_scheduled_time, 'HH24:MI:SS'), ''),
       COALESCE(meeting_link, ''), COALESCE(calendly_event_id, ''), status, was_rescheduled, rescheduled_at
FROM appointments
WHERE id = $1
`
	var a Appointment
	var rescheduledAt sql.NullTime
	if err := r.db.QueryRowContext(ctx, q, id).Scan(
		&a.ID,
		&a.OrganizationID,
		&a.LeadID,
		&a.CloserID,
		&a.PreviousCloserID,
		&a.ScheduledDate,
		&a.ScheduledTime,
		&a.PreviousScheduledDate,
		&a.PreviousScheduledTime,
		&a.MeetingLink,
		&a.CalendlyEventID,
		&a.Status,
		&a.WasRescheduled,
		&rescheduledAt,
	); err != nil {
		return Appointment{}, notFound(err)
	}
	if rescheduledAt.Valid {
		t := rescheduledAt.Time
		a.RescheduledAt = &t
	}
	return a, nil
}

func (r *PostgresRepo) GetCloser(ctx context.Context, id string) (Closer, error) {
	if !validID(id) {
		return Closer{}, ErrNotFound
	}
	const q = `
SELECT id, organization_id, full_name, COALESCE(email, ''), COALESCE(phone, '')
FROM closers
WHERE id = $1
`
	var c Closer
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&c.ID, &c.OrganizationID, &c.FullName, &c.Email, &c.Phone); err != nil {
		return Closer{}, notFound(err)
	}
	return c, nil
}

func (r *PostgresRepo) GetLead(ctx context.Context, id string) (Lead, error) {
	const q = `
SELECT id, organization_id, name, COALESCE(email, ''), COALESCE(phone, ''),
       COALESCE(assigned_to::text, ''), COALESCE(previous_assigned_to::text, '')
FROM leads
WHERE id = $1
`
	var l Lead
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&l.ID, &l.OrganizationID, &l.Name, &l.Email, &l.Phone, &l.AssignedTo, &l.PreviousAssignedTo); err != nil {
		return Lead{}, notFound(err)
	}
	return l, nil
}

// GetIntegration returns ErrNotFound when the closer has no meeting provider bound.
func (r *PostgresRepo) GetIntegration(ctx context.Context, organizationID, closerID string) (ClosersIntegration, error) {
	const q = `
SELECT id, organization_id, closer_id, provider,
       COALESCE(zoom_account_id, ''), COALESCE(zoom_client_id, ''), COALESCE(zoom_client_secret, ''),
       COALESCE(calendly_token, '')
FROM closers_integrations
WHERE organization_id = $1 AND closer_id = $2
`
	var i ClosersIntegration
	if err := r.db.QueryRowContext(ctx, q, organizationID, closerID).Scan(
		&i.ID,
		&i.OrganizationID,
		&i.CloserID,
		&i.Provider,
		&i.ZoomAccountID,
		&i.ZoomClientID,
		&i.ZoomClientSecret,
		&i.CalendlyToken,
	); err != nil {
		return ClosersIntegration{}, notFound(err)
	}
	return i, nil
}

func (r *PostgresRepo) GetOrgSettings(ctx context.Context, organizationID string) (OrgSettings, error) {
	const q = `
SELECT organization_id,
       COALESCE(call_center_api_key, ''), COALESCE(call_center_agent_id, ''), COALESCE(call_center_from_number, ''),
       COALESCE(messaging_api_key, ''), COALESCE(group_link_template, ''), COALESCE(reschedule_template, ''),
       COALESCE(support_number, ''), COALESCE(reschedule_media_url, '')
FROM organization_settings
WHERE organization_id = $1
`
	var s OrgSettings
	if err := r.db.QueryRowContext(ctx, q, organizationID).Scan(
		&s.OrganizationID,
		&s.CallCenterAPIKey,
		&s.CallCenterAgentID,
		&s.CallCenterFromNumber,
		&s.MessagingAPIKey,
		&s.GroupLinkTemplate,
		&s.RescheduleTemplate,
		&s.SupportNumber,
		&s.RescheduleMediaURL,
	); err != nil {
		return OrgSettings{}, notFound(err)
	}
	return s, nil
}

func (r *PostgresRepo) UpdateAppointment(ctx context.Context, id string, u AppointmentUpdate) error {
	sets := []string{"closer_id = $2", "previous_closer_id = $3", "was_rescheduled = $4", "calendly_event_id = $5"}
	args := []any{id, u.CloserID, nullString(u.PreviousCloserID), u.WasRescheduled, nullString(u.CalendlyEventID)}

	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if u.MeetingLink != nil {
		add("meeting_link", *u.MeetingLink)
	}
	if rs := u.Reschedule; rs != nil {
		add("previous_scheduled_date", nullString(rs.PreviousDate))
		add("previous_scheduled_time", nullString(rs.PreviousTime))
		add("scheduled_date", rs.NewDate)
		add("scheduled_time", rs.NewTime)
		add("rescheduled_at", rs.RescheduledAt)
		add("status", string(AppointmentStatusScheduled))
	}
	add("updated_at", time.Now().UTC())

	q := "UPDATE appointments SET " + strings.Join(sets, ", ") + " WHERE id = $1"
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReassignLead shifts assigned_to into previous_assigned_to in one statement.
func (r *PostgresRepo) ReassignLead(ctx context.Context, leadID, closerID string) error {
	const q = `
UPDATE leads
SET previous_assigned_to = assigned_to, assigned_to = $2, updated_at = now()
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q, leadID, closerID)
	if err != nil {
		return fmt.Errorf("reassign lead: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
