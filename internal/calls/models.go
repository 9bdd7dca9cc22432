package calls

import (
	"encoding/json"
	"strings"
	"time"
)

// Campaign is an organization-scoped batch of automated outbound calls.
//
// Counter invariant: counters only grow, and each CallRecord contributes to each
// counter at most once. Increments are applied as datastore arithmetic, never as
// a local read-modify-write.
type Campaign struct {
	ID             string         `json:"id" db:"id"`
	OrganizationID string         `json:"organization_id" db:"organization_id"`
	GroupID        string         `json:"group_id,omitempty" db:"group_id"`
	Name           string         `json:"name" db:"name"`
	Status         CampaignStatus `json:"status" db:"status"`

	// BatchID is the call-center provider's reference for the submitted manifest.
	BatchID     string     `json:"batch_id,omitempty" db:"batch_id"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty" db:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	TotalCost float64  `json:"total_cost" db:"total_cost"`
	Counters  Counters `json:"counters"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusFailed    CampaignStatus = "failed"
)

// Counters are the per-outcome campaign aggregates.
type Counters struct {
	Completed     int `json:"calls_completed" db:"calls_completed"`
	Confirmed     int `json:"calls_confirmed" db:"calls_confirmed"`
	Rescheduled   int `json:"calls_rescheduled" db:"calls_rescheduled"`
	NotInterested int `json:"calls_not_interested" db:"calls_not_interested"`
	NoAnswer      int `json:"calls_no_answer" db:"calls_no_answer"`
}

// Add returns c+d.
func (c Counters) Add(d Counters) Counters {
	return Counters{
		Completed:     c.Completed + d.Completed,
		Confirmed:     c.Confirmed + d.Confirmed,
		Rescheduled:   c.Rescheduled + d.Rescheduled,
		NotInterested: c.NotInterested + d.NotInterested,
		NoAnswer:      c.NoAnswer + d.NoAnswer,
	}
}

func (c Counters) IsZero() bool { return c == Counters{} }

// CallRecord is one attempted automated call.
//
// Invariants:
//   - once Status is terminal it never changes again.
//   - Outcome is written at most once by a tool call; the terminal webhook may
//     fill it only while still unset.
type CallRecord struct {
	ID         string `json:"id" db:"id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`
	LeadID     string `json:"lead_id,omitempty" db:"lead_id"`

	ContactName  string `json:"contact_name" db:"contact_name"`
	ContactPhone string `json:"contact_phone" db:"contact_phone"`

	Status  CallStatus `json:"status" db:"status"`
	Outcome Outcome    `json:"outcome,omitempty" db:"outcome"`

	// ExecutionID is the provider's per-call reference, set once known.
	ExecutionID string `json:"execution_id,omitempty" db:"execution_id"`

	DurationSeconds float64         `json:"duration" db:"duration"`
	Cost            float64         `json:"cost" db:"cost"`
	Transcript      string          `json:"transcript,omitempty" db:"transcript"`
	RecordingURL    string          `json:"recording_url,omitempty" db:"recording_url"`
	ExtractedData   json.RawMessage `json:"extracted_data,omitempty" db:"extracted_data"`

	RescheduleDay string `json:"reschedule_day,omitempty" db:"reschedule_day"`
	InGroup       bool   `json:"in_group" db:"in_group"`
	LinkSent      bool   `json:"link_sent" db:"link_sent"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type CallStatus string

const (
	CallStatusPending    CallStatus = "pending"
	CallStatusQueued     CallStatus = "queued"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in-progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusBusy       CallStatus = "busy"
	CallStatusNoAnswer   CallStatus = "no-answer"
	CallStatusFailed     CallStatus = "failed"
	CallStatusCancelled  CallStatus = "cancelled"
)

// TerminalStatuses are absorbing: no transition leaves them.
var TerminalStatuses = []CallStatus{
	CallStatusCompleted,
	CallStatusBusy,
	CallStatusNoAnswer,
	CallStatusFailed,
	CallStatusCancelled,
}

func (s CallStatus) IsTerminal() bool {
	for _, t := range TerminalStatuses {
		if s == t {
			return true
		}
	}
	return false
}

type Outcome string

const (
	OutcomeNone          Outcome = ""
	OutcomeConfirmed     Outcome = "confirmed"
	OutcomeRescheduled   Outcome = "rescheduled"
	OutcomeNotInterested Outcome = "not_interested"
	OutcomeAngry         Outcome = "angry"
	OutcomeNoResponse    Outcome = "no_response"
	OutcomeInvalidNumber Outcome = "invalid_number"
)

// ParseOutcome accepts provider spellings ("Not Interested", "no-response") and
// returns OutcomeNone for anything outside the vocabulary.
func ParseOutcome(s string) Outcome {
	o := Outcome(normalizeToken(s))
	switch o {
	case OutcomeConfirmed, OutcomeRescheduled, OutcomeNotInterested, OutcomeAngry, OutcomeNoResponse, OutcomeInvalidNumber:
		return o
	}
	return OutcomeNone
}

// NormalizeOutcome keeps values outside the vocabulary, normalized, so an agent's
// free-form attendance answer is stored rather than dropped.
func NormalizeOutcome(s string) Outcome {
	return Outcome(normalizeToken(s))
}

var outcomeReplacer = strings.NewReplacer(" ", "_", "-", "_")

func normalizeToken(s string) string {
	return outcomeReplacer.Replace(strings.ToLower(strings.TrimSpace(s)))
}

// OutcomeCounter is the counter delta a newly set outcome contributes on a
// terminal transition. Unknown outcomes contribute nothing.
func OutcomeCounter(o Outcome) Counters {
	switch o {
	case OutcomeConfirmed:
		return Counters{Confirmed: 1}
	case OutcomeRescheduled:
		return Counters{Rescheduled: 1}
	case OutcomeNotInterested, OutcomeAngry:
		return Counters{NotInterested: 1}
	case OutcomeNoResponse:
		return Counters{NoAnswer: 1}
	}
	return Counters{}
}

// Group is the workshop/community a campaign invites contacts into.
type Group struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`
	Name           string `json:"name" db:"name"`
	InviteLink     string `json:"invite_link,omitempty" db:"invite_link"`
	WorkshopTime   string `json:"workshop_time,omitempty" db:"workshop_time"`
}
