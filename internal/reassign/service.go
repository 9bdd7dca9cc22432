// Package reassign moves a booked appointment to another closer, re-provisions
// its meeting and notifies the customer when the slot changed.
package reassign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voice-crm/internal/audit"
	"voice-crm/internal/crm"
	"voice-crm/internal/meetings"
	"voice-crm/internal/messaging"
	"voice-crm/pkg/ist"
	"voice-crm/pkg/logger"

	"golang.org/x/sync/errgroup"
)

var (
	ErrInvalidArgument = errors.New("reassign: invalid argument")
	ErrNotFound        = errors.New("reassign: not found")
)

const (
	expertLabel     = "our expert"
	linkPlaceholder = "Link will be shared shortly"
	cancelReason    = "Appointment reassigned to another closer"
)

// Store is the slice of crm.PostgresRepo reassignment needs.
type Store interface {
	GetAppointment(ctx context.Context, id string) (crm.Appointment, error)
	GetCloser(ctx context.Context, id string) (crm.Closer, error)
	GetLead(ctx context.Context, id string) (crm.Lead, error)
	GetIntegration(ctx context.Context, organizationID, closerID string) (crm.ClosersIntegration, error)
	GetOrgSettings(ctx context.Context, organizationID string) (crm.OrgSettings, error)
	UpdateAppointment(ctx context.Context, id string, u crm.AppointmentUpdate) error
	ReassignLead(ctx context.Context, leadID, closerID string) error
}

// ProviderResolver is satisfied by *meetings.Factory.
type ProviderResolver interface {
	Resolve(in crm.ClosersIntegration) meetings.Provider
}

type Auditor interface {
	LogReassignment(ctx context.Context, organizationID, appointmentID string, actor audit.Actor, metadata map[string]any) error
}

type Service struct {
	store     Store
	providers ProviderResolver
	sender    messaging.Sender
	defaults  messaging.Defaults
	audit     Auditor
	clock     func() time.Time
}

func NewService(store Store, providers ProviderResolver, sender messaging.Sender, defaults messaging.Defaults, auditor Auditor) *Service {
	return &Service{
		store:     store,
		providers: providers,
		sender:    sender,
		defaults:  defaults,
		audit:     auditor,
		clock:     time.Now,
	}
}

type Request struct {
	OrganizationID string
	AppointmentID  string
	NewCloserID    string
	// NewDate is YYYY-MM-DD and NewTime HH:MM[:SS], IST wall clock.
	NewDate string
	NewTime string
	Actor   audit.Actor
}

// Notification reports the customer message outcome. Skipped is set when
// nothing was attempted.
type Notification struct {
	Sent    bool   `json:"sent"`
	Skipped bool   `json:"skipped"`
	Error   string `json:"error,omitempty"`
}

type Result struct {
	Success         bool         `json:"success"`
	DateTimeChanged bool         `json:"dateTimeChanged"`
	NewCloser       string       `json:"newCloser"`
	PreviousCloser  string       `json:"previousCloser"`
	NewMeetingLink  string       `json:"newZoomLink,omitempty"`
	IntegrationType string       `json:"integrationType"`
	WhatsApp        Notification `json:"whatsapp"`
}

// state is what the lookup phase gathers.
type state struct {
	appt           crm.Appointment
	newCloser      crm.Closer
	previousCloser crm.Closer
	lead           crm.Lead
	newProvider    meetings.Provider
	oldProvider    meetings.Provider
}

// Reassign runs the reassignment. Lookups and the appointment write are hard
// failures; meeting cancellation, meeting creation, the lead mirror and the
// notification are soft and only show up in the result.
func (s *Service) Reassign(ctx context.Context, req Request) (Result, error) {
	if req.OrganizationID == "" || req.AppointmentID == "" || req.NewCloserID == "" {
		return Result{}, ErrInvalidArgument
	}
	newTime, err := ist.NormalizeTime(req.NewTime)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	slot, err := ist.Parse(req.NewDate, newTime)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	req.NewTime = newTime

	log := logger.From(ctx).With("appointment_id", req.AppointmentID, "new_closer_id", req.NewCloserID)

	st, err := s.load(ctx, req)
	if err != nil {
		return Result{}, err
	}

	changed := !ist.SameMinute(st.appt.ScheduledDate, st.appt.ScheduledTime, req.NewDate, req.NewTime)

	if st.oldProvider != nil && st.oldProvider.Kind() == crm.MeetingProviderCalendly && st.appt.CalendlyEventID != "" {
		if err := st.oldProvider.CancelMeeting(ctx, st.appt.CalendlyEventID, cancelReason); err != nil {
			log.Warn("cancel previous booking failed", "event_id", st.appt.CalendlyEventID, "err", err)
		}
	}

	integrationType := string(crm.MeetingProviderNone)
	var meeting meetings.Meeting
	if st.newProvider != nil {
		integrationType = string(st.newProvider.Kind())
		meeting, err = st.newProvider.ProvisionMeeting(ctx, meetings.Request{
			Topic:  "Call with " + st.newCloser.FullName,
			Date:   req.NewDate,
			Time:   req.NewTime,
			Closer: st.newCloser,
			Lead:   st.lead,
		})
		if err != nil {
			log.Warn("meeting provisioning failed", "provider", integrationType, "event_id", meeting.EventID, "err", err)
			// A booking made before the failure stays referenced so it can be cancelled later.
			meeting = meetings.Meeting{EventID: meeting.EventID}
		}
	}

	update := crm.AppointmentUpdate{
		CloserID:         st.newCloser.ID,
		PreviousCloserID: st.appt.CloserID,
		WasRescheduled:   true,
		CalendlyEventID:  meeting.EventID,
	}
	if meeting.JoinURL != "" {
		link := meeting.JoinURL
		update.MeetingLink = &link
	}
	if changed {
		update.Reschedule = &crm.AppointmentReschedule{
			PreviousDate:  st.appt.ScheduledDate,
			PreviousTime:  st.appt.ScheduledTime,
			NewDate:       req.NewDate,
			NewTime:       req.NewTime,
			RescheduledAt: s.clock().UTC(),
		}
	}
	if err := s.store.UpdateAppointment(ctx, st.appt.ID, update); err != nil {
		return Result{}, fmt.Errorf("update appointment: %w", err)
	}

	if st.appt.LeadID != "" {
		if err := s.store.ReassignLead(ctx, st.appt.LeadID, st.newCloser.ID); err != nil {
			log.Warn("lead assignment mirror failed", "lead_id", st.appt.LeadID, "err", err)
		}
	}

	note := Notification{Skipped: true}
	if changed {
		note = s.notify(ctx, req.OrganizationID, st.lead, slot, meeting.JoinURL)
	}

	log.Info("appointment reassigned",
		"previous_closer_id", st.appt.CloserID,
		"date_time_changed", changed,
		"integration", integrationType,
		"meeting_link", meeting.JoinURL != "",
		"whatsapp_sent", note.Sent,
	)
	s.record(ctx, req, st, changed, integrationType, note)

	return Result{
		Success:         true,
		DateTimeChanged: changed,
		NewCloser:       st.newCloser.FullName,
		PreviousCloser:  st.previousCloser.FullName,
		NewMeetingLink:  meeting.JoinURL,
		IntegrationType: integrationType,
		WhatsApp:        note,
	}, nil
}

// load fetches the appointment and new closer concurrently, then the rows that
// hang off them.
func (s *Service) load(ctx context.Context, req Request) (state, error) {
	var st state

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, err := s.store.GetAppointment(gctx, req.AppointmentID)
		if errors.Is(err, crm.ErrNotFound) {
			return fmt.Errorf("%w: appointment %s", ErrNotFound, req.AppointmentID)
		}
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}
		if a.OrganizationID != req.OrganizationID {
			return fmt.Errorf("%w: appointment %s", ErrNotFound, req.AppointmentID)
		}
		st.appt = a
		return nil
	})
	g.Go(func() error {
		c, err := s.store.GetCloser(gctx, req.NewCloserID)
		if errors.Is(err, crm.ErrNotFound) {
			return fmt.Errorf("%w: closer %s", ErrNotFound, req.NewCloserID)
		}
		if err != nil {
			return fmt.Errorf("load closer: %w", err)
		}
		if c.OrganizationID != req.OrganizationID {
			return fmt.Errorf("%w: closer %s", ErrNotFound, req.NewCloserID)
		}
		st.newCloser = c
		return nil
	})
	if err := g.Wait(); err != nil {
		return state{}, err
	}

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.provider(gctx, req.OrganizationID, st.newCloser.ID)
		st.newProvider = p
		return err
	})
	if st.appt.CloserID != "" {
		g.Go(func() error {
			c, err := s.store.GetCloser(gctx, st.appt.CloserID)
			if err != nil && !errors.Is(err, crm.ErrNotFound) {
				return fmt.Errorf("load previous closer: %w", err)
			}
			st.previousCloser = c
			return nil
		})
		if st.appt.CalendlyEventID != "" {
			g.Go(func() error {
				p, err := s.provider(gctx, req.OrganizationID, st.appt.CloserID)
				st.oldProvider = p
				return err
			})
		}
	}
	if st.appt.LeadID != "" {
		g.Go(func() error {
			l, err := s.store.GetLead(gctx, st.appt.LeadID)
			if err != nil && !errors.Is(err, crm.ErrNotFound) {
				return fmt.Errorf("load lead: %w", err)
			}
			st.lead = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return state{}, err
	}
	return st, nil
}

// provider resolves a closer's meeting integration. No integration row means
// no provider.
func (s *Service) provider(ctx context.Context, organizationID, closerID string) (meetings.Provider, error) {
	in, err := s.store.GetIntegration(ctx, organizationID, closerID)
	if errors.Is(err, crm.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load integration: %w", err)
	}
	return s.providers.Resolve(in), nil
}

func (s *Service) notify(ctx context.Context, organizationID string, lead crm.Lead, slot time.Time, link string) Notification {
	log := logger.From(ctx).With("lead_id", lead.ID)
	if lead.Phone == "" {
		log.Info("reschedule message skipped: lead has no phone")
		return Notification{Skipped: true}
	}

	org, err := s.store.GetOrgSettings(ctx, organizationID)
	if err != nil && !errors.Is(err, crm.ErrNotFound) {
		log.Warn("organization settings unavailable, using defaults", "err", err)
	}
	cfg := messaging.Resolve(org, s.defaults)
	if cfg.APIKey == "" || cfg.RescheduleTemplate == "" {
		log.Info("reschedule message skipped: messaging not configured")
		return Notification{Skipped: true}
	}

	if link == "" {
		link = linkPlaceholder
	}
	msg := messaging.Message{
		APIKey:      cfg.APIKey,
		Template:    cfg.RescheduleTemplate,
		Destination: lead.Phone,
		UserName:    lead.Name,
		Params: []string{
			lead.Name,
			expertLabel,
			ist.DisplayDate(slot),
			ist.DisplayTime(slot),
			link,
			cfg.SupportNumber,
		},
	}
	if cfg.RescheduleMediaURL != "" {
		msg.Media = &messaging.Media{URL: cfg.RescheduleMediaURL, Filename: "reschedule"}
	}
	if err := s.sender.SendTemplate(ctx, msg); err != nil {
		log.Warn("reschedule message failed", "err", err)
		return Notification{Error: err.Error()}
	}
	return Notification{Sent: true}
}

func (s *Service) record(ctx context.Context, req Request, st state, changed bool, integrationType string, note Notification) {
	if s.audit == nil {
		return
	}
	meta := map[string]any{
		"previous_closer_id": st.appt.CloserID,
		"new_closer_id":      st.newCloser.ID,
		"date_time_changed":  changed,
		"new_date":           req.NewDate,
		"new_time":           req.NewTime,
		"integration_type":   integrationType,
		"whatsapp_sent":      note.Sent,
	}
	if err := s.audit.LogReassignment(ctx, req.OrganizationID, st.appt.ID, req.Actor, meta); err != nil {
		logger.From(ctx).Warn("audit append failed", "appointment_id", st.appt.ID, "err", err)
	}
}
