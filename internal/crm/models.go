package crm

import (
	"strings"
	"time"
)

// Lead is the CRM contact an appointment belongs to.
type Lead struct {
	ID                 string `json:"id" db:"id"`
	OrganizationID     string `json:"organization_id" db:"organization_id"`
	Name               string `json:"name" db:"name"`
	Email              string `json:"email,omitempty" db:"email"`
	Phone              string `json:"phone,omitempty" db:"phone"`
	AssignedTo         string `json:"assigned_to,omitempty" db:"assigned_to"`
	PreviousAssignedTo string `json:"previous_assigned_to,omitempty" db:"previous_assigned_to"`
}

// Closer is a human salesperson who takes booked calls.
type Closer struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`
	FullName       string `json:"full_name" db:"full_name"`
	Email          string `json:"email,omitempty" db:"email"`
	Phone          string `json:"phone,omitempty" db:"phone"`
}

// Surname is the last whitespace-separated token of FullName.
func (c Closer) Surname() string {
	parts := strings.Fields(c.FullName)
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-1]
}

// MeetingProvider names the integration a closer books through.
type MeetingProvider string

const (
	MeetingProviderNone     MeetingProvider = "none"
	MeetingProviderZoom     MeetingProvider = "zoom"
	MeetingProviderCalendly MeetingProvider = "calendly"
)

// ClosersIntegration binds one closer in one organization to exactly one meeting
// provider configuration. Read-only here; admins manage it elsewhere.
type ClosersIntegration struct {
	ID             string          `json:"id" db:"id"`
	OrganizationID string          `json:"organization_id" db:"organization_id"`
	CloserID       string          `json:"closer_id" db:"closer_id"`
	Provider       MeetingProvider `json:"provider" db:"provider"`

	// Zoom server-to-server OAuth app.
	ZoomAccountID    string `json:"-" db:"zoom_account_id"`
	ZoomClientID     string `json:"-" db:"zoom_client_id"`
	ZoomClientSecret string `json:"-" db:"zoom_client_secret"`

	// Calendly personal access token.
	CalendlyToken string `json:"-" db:"calendly_token"`
}

// Appointment is a booked human sales call.
type Appointment struct {
	ID               string `json:"id" db:"id"`
	OrganizationID   string `json:"organization_id" db:"organization_id"`
	LeadID           string `json:"lead_id" db:"lead_id"`
	CloserID         string `json:"closer_id,omitempty" db:"closer_id"`
	PreviousCloserID string `json:"previous_closer_id,omitempty" db:"previous_closer_id"`

	// ScheduledDate is YYYY-MM-DD and ScheduledTime is HH:MM[:SS], both IST wall clock.
	ScheduledDate         string `json:"scheduled_date" db:"scheduled_date"`
	ScheduledTime         string `json:"scheduled_time" db:"scheduled_time"`
	PreviousScheduledDate string `json:"previous_scheduled_date,omitempty" db:"previous_scheduled_date"`
	PreviousScheduledTime string `json:"previous_scheduled_time,omitempty" db:"previous_scheduled_time"`

	MeetingLink     string `json:"meeting_link,omitempty" db:"meeting_link"`
	CalendlyEventID string `json:"calendly_event_id,omitempty" db:"calendly_event_id"`

	Status         AppointmentStatus `json:"status" db:"status"`
	WasRescheduled bool              `json:"was_rescheduled" db:"was_rescheduled"`
	RescheduledAt  *time.Time        `json:"rescheduled_at,omitempty" db:"rescheduled_at"`
}

type AppointmentStatus string

const (
	AppointmentStatusScheduled AppointmentStatus = "scheduled"
	AppointmentStatusCompleted AppointmentStatus = "completed"
	AppointmentStatusNoShow    AppointmentStatus = "no_show"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
)

// AppointmentUpdate is the write set of a reassignment. Nil pointers leave the
// column untouched.
type AppointmentUpdate struct {
	CloserID         string
	PreviousCloserID string
	WasRescheduled   bool

	MeetingLink *string
	// CalendlyEventID is always written; "" clears a reference that no longer applies.
	CalendlyEventID string

	Reschedule *AppointmentReschedule
}

// AppointmentReschedule is only present when the date or time changed.
type AppointmentReschedule struct {
	PreviousDate  string
	PreviousTime  string
	NewDate       string
	NewTime       string
	RescheduledAt time.Time
}

// OrgSettings holds per-organization provider credentials.
type OrgSettings struct {
	OrganizationID string `db:"organization_id"`

	CallCenterAPIKey     string `db:"call_center_api_key"`
	CallCenterAgentID    string `db:"call_center_agent_id"`
	CallCenterFromNumber string `db:"call_center_from_number"`

	MessagingAPIKey    string `db:"messaging_api_key"`
	GroupLinkTemplate  string `db:"group_link_template"`
	RescheduleTemplate string `db:"reschedule_template"`
	SupportNumber      string `db:"support_number"`
	RescheduleMediaURL string `db:"reschedule_media_url"`
}

// HasCallCenter reports whether the organization can dispatch batches.
func (s OrgSettings) HasCallCenter() bool {
	return s.CallCenterAPIKey != "" && s.CallCenterAgentID != ""
}
