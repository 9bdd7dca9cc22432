package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records internal audit information. Callers treat it as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.OrganizationID == "" || e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogCampaign records a start or stop of a campaign.
func (s *Service) LogCampaign(ctx context.Context, typ EventType, organizationID, campaignID string, actor Actor, message string, metadata map[string]any) error {
	return s.Append(ctx, Event{
		OrganizationID: organizationID,
		Type:           typ,
		ActorUserID:    actor.UserID,
		ActorRole:      actor.Role,
		IPAddress:      actor.IP,
		CampaignID:     campaignID,
		Message:        message,
		Metadata:       encodeMetadata(metadata),
	})
}

// LogReassignment records an appointment moving between closers.
func (s *Service) LogReassignment(ctx context.Context, organizationID, appointmentID string, actor Actor, metadata map[string]any) error {
	return s.Append(ctx, Event{
		OrganizationID: organizationID,
		Type:           EventTypeAppointmentReassigned,
		ActorUserID:    actor.UserID,
		ActorRole:      actor.Role,
		IPAddress:      actor.IP,
		AppointmentID:  appointmentID,
		Message:        "appointment reassigned",
		Metadata:       encodeMetadata(metadata),
	})
}

func encodeMetadata(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}
