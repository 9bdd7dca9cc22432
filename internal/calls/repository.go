package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"voice-crm/pkg/utils"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("calls: not found")

// validID reports whether id can match a uuid primary key. Anything else would
// fail the server-side cast instead of returning no rows.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// CallMutation derives the next row and the campaign counter delta from the
// locked previous row. It runs inside the same transaction that persists both.
type CallMutation func(prev CallRecord) (next CallRecord, delta Counters)

// PostgresRepo persists campaigns, call records and groups.
//
// Tables: campaigns, call_records, groups (see migrations/).
type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

const campaignColumns = `id, organization_id, COALESCE(group_id::text, ''), name, status, COALESCE(batch_id, ''),
scheduled_at, started_at, completed_at, total_cost,
calls_completed, calls_confirmed, calls_rescheduled, calls_not_interested, calls_no_answer,
created_at, updated_at`

const callColumns = `id, campaign_id, COALESCE(lead_id::text, ''), contact_name, contact_phone, status,
COALESCE(outcome, ''), COALESCE(execution_id, ''), duration, cost, COALESCE(transcript, ''),
COALESCE(recording_url, ''), extracted_data, COALESCE(reschedule_day, ''), in_group, link_sent,
created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (Campaign, error) {
	var c Campaign
	var scheduled, started, completed sql.NullTime
	if err := row.Scan(
		&c.ID,
		&c.OrganizationID,
		&c.GroupID,
		&c.Name,
		&c.Status,
		&c.BatchID,
		&scheduled,
		&started,
		&completed,
		&c.TotalCost,
		&c.Counters.Completed,
		&c.Counters.Confirmed,
		&c.Counters.Rescheduled,
		&c.Counters.NotInterested,
		&c.Counters.NoAnswer,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		return Campaign{}, err
	}
	c.ScheduledAt = timePtr(scheduled)
	c.StartedAt = timePtr(started)
	c.CompletedAt = timePtr(completed)
	return c, nil
}

func scanCall(row rowScanner) (CallRecord, error) {
	var r CallRecord
	var extracted []byte
	if err := row.Scan(
		&r.ID,
		&r.CampaignID,
		&r.LeadID,
		&r.ContactName,
		&r.ContactPhone,
		&r.Status,
		&r.Outcome,
		&r.ExecutionID,
		&r.DurationSeconds,
		&r.Cost,
		&r.Transcript,
		&r.RecordingURL,
		&extracted,
		&r.RescheduleDay,
		&r.InGroup,
		&r.LinkSent,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, ErrNotFound
		}
		return CallRecord{}, err
	}
	if len(extracted) > 0 {
		r.ExtractedData = extracted
	}
	return r, nil
}

func (r *PostgresRepo) GetCampaign(ctx context.Context, id string) (Campaign, error) {
	if !validID(id) {
		return Campaign{}, ErrNotFound
	}
	q := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	return scanCampaign(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) FindCampaignByBatchID(ctx context.Context, batchID string) (Campaign, error) {
	q := `SELECT ` + campaignColumns + ` FROM campaigns WHERE batch_id = $1 ORDER BY updated_at DESC LIMIT 1`
	return scanCampaign(r.db.QueryRowContext(ctx, q, batchID))
}

func (r *PostgresRepo) GetGroup(ctx context.Context, id string) (Group, error) {
	const q = `
SELECT id, organization_id, name, COALESCE(invite_link, ''), COALESCE(workshop_time, '')
FROM groups
WHERE id = $1
`
	var g Group
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&g.ID, &g.OrganizationID, &g.Name, &g.InviteLink, &g.WorkshopTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Group{}, ErrNotFound
		}
		return Group{}, err
	}
	return g, nil
}

func (r *PostgresRepo) GetCall(ctx context.Context, id string) (CallRecord, error) {
	if !validID(id) {
		return CallRecord{}, ErrNotFound
	}
	q := `SELECT ` + callColumns + ` FROM call_records WHERE id = $1`
	return scanCall(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) FindCallByExecutionID(ctx context.Context, executionID string) (CallRecord, error) {
	q := `SELECT ` + callColumns + ` FROM call_records WHERE execution_id = $1 ORDER BY updated_at DESC LIMIT 1`
	return scanCall(r.db.QueryRowContext(ctx, q, executionID))
}

// FindLatestCallByPhone matches regardless of status: redelivered webhooks
// must still find rows that are already terminal.
func (r *PostgresRepo) FindLatestCallByPhone(ctx context.Context, phone, campaignID string) (CallRecord, error) {
	if campaignID != "" {
		q := `SELECT ` + callColumns + ` FROM call_records WHERE contact_phone = $1 AND campaign_id = $2 ORDER BY updated_at DESC LIMIT 1`
		return scanCall(r.db.QueryRowContext(ctx, q, phone, campaignID))
	}
	q := `SELECT ` + callColumns + ` FROM call_records WHERE contact_phone = $1 ORDER BY updated_at DESC LIMIT 1`
	return scanCall(r.db.QueryRowContext(ctx, q, phone))
}

func (r *PostgresRepo) ListCallsByStatus(ctx context.Context, campaignID string, statuses ...CallStatus) ([]CallRecord, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := []any{campaignID}
	q := `SELECT ` + callColumns + ` FROM call_records WHERE campaign_id = $1 AND status IN (` + placeholders(2, len(statuses)) + `) ORDER BY created_at, id`
	for _, s := range statuses {
		args = append(args, string(s))
	}
	return r.queryCalls(ctx, q, args...)
}

// ListStaleCalls returns queued/pending rows not touched since cutoff.
func (r *PostgresRepo) ListStaleCalls(ctx context.Context, campaignID string, cutoff time.Time) ([]CallRecord, error) {
	q := `SELECT ` + callColumns + ` FROM call_records WHERE campaign_id = $1 AND status IN ('queued', 'pending') AND updated_at <= $2 ORDER BY created_at, id`
	return r.queryCalls(ctx, q, campaignID, cutoff)
}

func (r *PostgresRepo) queryCalls(ctx context.Context, q string, args ...any) ([]CallRecord, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) CountNonTerminal(ctx context.Context, campaignID string) (int, error) {
	q := `SELECT COUNT(*) FROM call_records WHERE campaign_id = $1 AND status NOT IN (` + placeholders(2, len(TerminalStatuses)) + `)`
	args := []any{campaignID}
	for _, s := range TerminalStatuses {
		args = append(args, string(s))
	}
	var n int
	if err := r.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// UpdateCall locks the call row, applies fn and, in the same transaction, adds the
// returned delta to the owning campaign's counters with in-database arithmetic.
func (r *PostgresRepo) UpdateCall(ctx context.Context, id string, fn CallMutation) (CallRecord, Counters, error) {
	if !validID(id) {
		return CallRecord{}, Counters{}, ErrNotFound
	}
	var out CallRecord
	var applied Counters

	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		q := `SELECT ` + callColumns + ` FROM call_records WHERE id = $1 FOR UPDATE`
		prev, err := scanCall(tx.QueryRowContext(ctx, q, id))
		if err != nil {
			return err
		}

		next, delta := fn(prev)
		next.ID = prev.ID
		next.CampaignID = prev.CampaignID
		next.UpdatedAt = r.clock().UTC()

		const upd = `
UPDATE call_records
SET status = $2, outcome = $3, execution_id = $4, duration = $5, cost = $6, transcript = $7,
    recording_url = $8, extracted_data = $9, reschedule_day = $10, in_group = $11, link_sent = $12,
    updated_at = $13
WHERE id = $1
`
		if _, err := tx.ExecContext(ctx, upd,
			next.ID,
			string(next.Status),
			nullString(string(next.Outcome)),
			nullString(next.ExecutionID),
			next.DurationSeconds,
			next.Cost,
			nullString(next.Transcript),
			nullString(next.RecordingURL),
			nullJSON(next.ExtractedData),
			nullString(next.RescheduleDay),
			next.InGroup,
			next.LinkSent,
			next.UpdatedAt,
		); err != nil {
			return fmt.Errorf("update call record: %w", err)
		}

		if !delta.IsZero() {
			if err := incrementCounters(ctx, tx, next.CampaignID, delta); err != nil {
				return err
			}
		}
		out = next
		applied = delta
		return nil
	})
	if err != nil {
		return CallRecord{}, Counters{}, err
	}
	return out, applied, nil
}

func incrementCounters(ctx context.Context, tx *sql.Tx, campaignID string, d Counters) error {
	const q = `
UPDATE campaigns
SET calls_completed = calls_completed + $2,
    calls_confirmed = calls_confirmed + $3,
    calls_rescheduled = calls_rescheduled + $4,
    calls_not_interested = calls_not_interested + $5,
    calls_no_answer = calls_no_answer + $6,
    updated_at = now()
WHERE id = $1
`
	if _, err := tx.ExecContext(ctx, q, campaignID, d.Completed, d.Confirmed, d.Rescheduled, d.NotInterested, d.NoAnswer); err != nil {
		return fmt.Errorf("increment campaign counters: %w", err)
	}
	return nil
}

// AddCampaignCost accumulates cost in the database; concurrent deliveries never lose an add.
func (r *PostgresRepo) AddCampaignCost(ctx context.Context, campaignID string, cost float64) error {
	const q = `UPDATE campaigns SET total_cost = total_cost + $2, updated_at = now() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, campaignID, cost)
	return err
}

func (r *PostgresRepo) SetCampaignStatus(ctx context.Context, campaignID string, status CampaignStatus) error {
	const q = `UPDATE campaigns SET status = $2, updated_at = now() WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, campaignID, string(status))
	if err != nil {
		return err
	}
	return requireRow(res)
}

// MarkCampaignRunning records the batch, flips the campaign to running and moves
// every pending call to queued. Returns the number of queued calls.
func (r *PostgresRepo) MarkCampaignRunning(ctx context.Context, campaignID, batchID string, startedAt time.Time, scheduledAt *time.Time) (int, error) {
	var queued int
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const camp = `
UPDATE campaigns
SET batch_id = $2, status = 'running', started_at = $3, scheduled_at = $4, updated_at = $3
WHERE id = $1
`
		res, err := tx.ExecContext(ctx, camp, campaignID, batchID, startedAt, scheduledAt)
		if err != nil {
			return fmt.Errorf("mark campaign running: %w", err)
		}
		if err := requireRow(res); err != nil {
			return err
		}

		const calls = `UPDATE call_records SET status = 'queued', updated_at = $2 WHERE campaign_id = $1 AND status = 'pending'`
		res, err = tx.ExecContext(ctx, calls, campaignID, startedAt)
		if err != nil {
			return fmt.Errorf("queue pending calls: %w", err)
		}
		n, _ := res.RowsAffected()
		queued = int(n)
		return nil
	})
	return queued, err
}

// PauseCampaign sets paused and cancels calls the provider has not started.
func (r *PostgresRepo) PauseCampaign(ctx context.Context, campaignID string) (int, error) {
	var cancelled int
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE campaigns SET status = 'paused', updated_at = now() WHERE id = $1`, campaignID)
		if err != nil {
			return fmt.Errorf("pause campaign: %w", err)
		}
		if err := requireRow(res); err != nil {
			return err
		}
		res, err = tx.ExecContext(ctx, `UPDATE call_records SET status = 'cancelled', updated_at = now() WHERE campaign_id = $1 AND status IN ('pending', 'queued')`, campaignID)
		if err != nil {
			return fmt.Errorf("cancel queued calls: %w", err)
		}
		n, _ := res.RowsAffected()
		cancelled = int(n)
		return nil
	})
	return cancelled, err
}

// CompleteCampaign flips an active campaign to completed once. ok=false means it
// was already completed (or never started).
func (r *PostgresRepo) CompleteCampaign(ctx context.Context, campaignID string, at time.Time) (bool, error) {
	const q = `
UPDATE campaigns
SET status = 'completed', completed_at = $2, updated_at = $2
WHERE id = $1 AND status IN ('running', 'paused')
`
	res, err := r.db.ExecContext(ctx, q, campaignID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
