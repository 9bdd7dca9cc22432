package reassign

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"voice-crm/internal/audit"
	"voice-crm/internal/crm"
	"voice-crm/internal/meetings"
	"voice-crm/internal/messaging"
)

// recorder keeps provider calls in order across providers.
type recorder struct{ ops []string }

type fakeProvider struct {
	kind    crm.MeetingProvider
	rec     *recorder
	meeting meetings.Meeting
	err     error
	cancel  error
}

func (p *fakeProvider) Kind() crm.MeetingProvider { return p.kind }

func (p *fakeProvider) ProvisionMeeting(ctx context.Context, req meetings.Request) (meetings.Meeting, error) {
	p.rec.ops = append(p.rec.ops, "provision:"+string(p.kind)+":"+req.Closer.ID)
	return p.meeting, p.err
}

func (p *fakeProvider) CancelMeeting(ctx context.Context, eventID, reason string) error {
	p.rec.ops = append(p.rec.ops, "cancel:"+eventID)
	return p.cancel
}

// fakeResolver hands out one provider per closer.
type fakeResolver map[string]*fakeProvider

func (r fakeResolver) Resolve(in crm.ClosersIntegration) meetings.Provider {
	if p, ok := r[in.CloserID]; ok {
		return p
	}
	return nil
}

type fixture struct {
	svc     *Service
	store   *crm.MemoryRepo
	sender  *messaging.MemorySender
	audits  *audit.MemoryRepo
	rec     *recorder
	resolve fakeResolver
}

var now = time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := crm.NewMemoryRepo()
	store.Appointments["appt-1"] = crm.Appointment{
		ID:              "appt-1",
		OrganizationID:  "org-1",
		LeadID:          "lead-1",
		CloserID:        "closer-old",
		ScheduledDate:   "2026-03-10",
		ScheduledTime:   "18:05:00",
		MeetingLink:     "https://old.example/meet",
		CalendlyEventID: "evt-old",
		Status:          crm.AppointmentStatusNoShow,
	}
	store.Closers["closer-old"] = crm.Closer{ID: "closer-old", OrganizationID: "org-1", FullName: "Priya Nair"}
	store.Closers["closer-new"] = crm.Closer{ID: "closer-new", OrganizationID: "org-1", FullName: "Arjun Mehta"}
	store.Leads["lead-1"] = crm.Lead{ID: "lead-1", OrganizationID: "org-1", Name: "Asha", Phone: "+919876543210", Email: "asha@example.com", AssignedTo: "closer-old"}

	rec := &recorder{}
	resolve := fakeResolver{}
	sender := &messaging.MemorySender{}
	audits := audit.NewMemoryRepo()

	svc := NewService(store, resolve, sender, messaging.Defaults{
		APIKey:             "env-key",
		RescheduleTemplate: "reschedule",
		SupportNumber:      "+911800000000",
	}, audit.NewService(audits))
	svc.clock = func() time.Time { return now }

	return &fixture{svc: svc, store: store, sender: sender, audits: audits, rec: rec, resolve: resolve}
}

func (f *fixture) bind(closerID string, p *fakeProvider) {
	p.rec = f.rec
	f.resolve[closerID] = p
	f.store.PutIntegration(crm.ClosersIntegration{OrganizationID: "org-1", CloserID: closerID, Provider: p.kind})
}

func request(date, clock string) Request {
	return Request{
		OrganizationID: "org-1",
		AppointmentID:  "appt-1",
		NewCloserID:    "closer-new",
		NewDate:        date,
		NewTime:        clock,
		Actor:          audit.Actor{UserID: "user-1", Role: "manager"},
	}
}

func TestReassign_SameSlotZoomSkipsMessage(t *testing.T) {
	f := newFixture(t)
	f.bind("closer-new", &fakeProvider{kind: crm.MeetingProviderZoom, meeting: meetings.Meeting{JoinURL: "https://zoom.example/j/1"}})

	res, err := f.svc.Reassign(context.Background(), request("2026-03-10", "18:05"))
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if res.DateTimeChanged {
		t.Fatalf("seconds must be ignored when comparing slots")
	}
	if res.NewMeetingLink != "https://zoom.example/j/1" || res.IntegrationType != "zoom" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !res.WhatsApp.Skipped || res.WhatsApp.Sent || f.sender.Count() != 0 {
		t.Fatalf("expected message skipped, got %+v", res.WhatsApp)
	}
	if res.NewCloser != "Arjun Mehta" || res.PreviousCloser != "Priya Nair" {
		t.Fatalf("unexpected closer names: %+v", res)
	}

	a := f.store.Appointments["appt-1"]
	if a.CloserID != "closer-new" || a.PreviousCloserID != "closer-old" || !a.WasRescheduled {
		t.Fatalf("unexpected appointment: %+v", a)
	}
	if a.MeetingLink != "https://zoom.example/j/1" || a.CalendlyEventID != "" {
		t.Fatalf("expected new link and cleared event reference, got %+v", a)
	}
	if a.Status != crm.AppointmentStatusNoShow || a.RescheduledAt != nil {
		t.Fatalf("unchanged slot must not reset schedule fields: %+v", a)
	}
	if l := f.store.Leads["lead-1"]; l.AssignedTo != "closer-new" || l.PreviousAssignedTo != "closer-old" {
		t.Fatalf("unexpected lead: %+v", l)
	}
	if ev := f.audits.Events(); len(ev) != 1 || ev[0].Type != audit.EventTypeAppointmentReassigned {
		t.Fatalf("expected one reassignment audit event, got %+v", ev)
	}
}

func TestReassign_ChangedSlotSendsMessage(t *testing.T) {
	f := newFixture(t)
	f.bind("closer-new", &fakeProvider{kind: crm.MeetingProviderZoom, meeting: meetings.Meeting{JoinURL: "https://zoom.example/j/2"}})

	res, err := f.svc.Reassign(context.Background(), request("2026-03-11", "09:30:00"))
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if !res.DateTimeChanged || !res.WhatsApp.Sent || res.WhatsApp.Skipped {
		t.Fatalf("unexpected result: %+v", res)
	}

	msg := f.sender.Sent[0]
	want := []string{"Asha", "our expert", "Wednesday, 11 March 2026", "9:30 AM", "https://zoom.example/j/2", "+911800000000"}
	if strings.Join(msg.Params, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected params %q", msg.Params)
	}
	if msg.Template != "reschedule" || msg.APIKey != "env-key" || msg.Destination != "+919876543210" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	a := f.store.Appointments["appt-1"]
	if a.ScheduledDate != "2026-03-11" || a.ScheduledTime != "09:30:00" {
		t.Fatalf("unexpected slot: %+v", a)
	}
	if a.PreviousScheduledDate != "2026-03-10" || a.PreviousScheduledTime != "18:05:00" {
		t.Fatalf("previous slot not captured: %+v", a)
	}
	if a.Status != crm.AppointmentStatusScheduled || a.RescheduledAt == nil || !a.RescheduledAt.Equal(now) {
		t.Fatalf("expected status reset and reschedule stamp: %+v", a)
	}
}

func TestReassign_CancelsPreviousBookingBeforeProvisioning(t *testing.T) {
	f := newFixture(t)
	f.bind("closer-old", &fakeProvider{kind: crm.MeetingProviderCalendly})
	f.bind("closer-new", &fakeProvider{kind: crm.MeetingProviderCalendly, meeting: meetings.Meeting{JoinURL: "https://zoom.example/j/3", EventID: "evt-new"}})

	res, err := f.svc.Reassign(context.Background(), request("2026-03-10", "18:05"))
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	want := "cancel:evt-old,provision:calendly:closer-new"
	if got := strings.Join(f.rec.ops, ","); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if res.IntegrationType != "calendly" || f.store.Appointments["appt-1"].CalendlyEventID != "evt-new" {
		t.Fatalf("expected new event reference, got %+v", f.store.Appointments["appt-1"])
	}
}

func TestReassign_PreviousZoomIsNotCancelled(t *testing.T) {
	f := newFixture(t)
	f.bind("closer-old", &fakeProvider{kind: crm.MeetingProviderZoom})

	if _, err := f.svc.Reassign(context.Background(), request("2026-03-10", "18:05")); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if len(f.rec.ops) != 0 {
		t.Fatalf("expected no provider calls, got %v", f.rec.ops)
	}
}

func TestReassign_SoftFailuresDoNotAbort(t *testing.T) {
	f := newFixture(t)
	f.bind("closer-old", &fakeProvider{kind: crm.MeetingProviderCalendly, cancel: errors.New("gone")})
	f.bind("closer-new", &fakeProvider{kind: crm.MeetingProviderZoom, err: meetings.ErrUpstream})
	f.store.FailLeadUpdate = errors.New("lead table locked")
	f.sender.Err = errors.New("template rejected")

	res, err := f.svc.Reassign(context.Background(), request("2026-03-12", "11:00"))
	if err != nil {
		t.Fatalf("soft failures must not surface, got %v", err)
	}
	if !res.Success || res.NewMeetingLink != "" || res.IntegrationType != "zoom" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.WhatsApp.Sent || res.WhatsApp.Error != "template rejected" {
		t.Fatalf("expected send error reported, got %+v", res.WhatsApp)
	}
	if p := f.store.Appointments["appt-1"]; p.MeetingLink != "https://old.example/meet" || p.CalendlyEventID != "" {
		t.Fatalf("no new link means old link kept and event cleared, got %+v", p)
	}
}

func TestReassign_PartialBookingKeepsEventReference(t *testing.T) {
	f := newFixture(t)
	f.bind("closer-new", &fakeProvider{
		kind:    crm.MeetingProviderCalendly,
		meeting: meetings.Meeting{EventID: "evt-booked", JoinURL: "https://calendly.example/join"},
		err:     meetings.ErrMissingJoinURL,
	})

	res, err := f.svc.Reassign(context.Background(), request("2026-03-12", "11:00"))
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if res.NewMeetingLink != "" || res.IntegrationType != "calendly" {
		t.Fatalf("unexpected result: %+v", res)
	}
	p := f.store.Appointments["appt-1"]
	if p.CalendlyEventID != "evt-booked" {
		t.Fatalf("expected booked event kept, got %q", p.CalendlyEventID)
	}
	if p.MeetingLink != "https://old.example/meet" {
		t.Fatalf("expected old link kept, got %q", p.MeetingLink)
	}
	if got := f.sender.Sent[0].Params[4]; got != "Link will be shared shortly" {
		t.Fatalf("expected placeholder, got %q", got)
	}
}

func TestReassign_PlaceholderWhenNoMeeting(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Reassign(context.Background(), request("2026-03-12", "11:00"))
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if res.IntegrationType != "none" {
		t.Fatalf("expected none, got %q", res.IntegrationType)
	}
	if got := f.sender.Sent[0].Params[4]; got != "Link will be shared shortly" {
		t.Fatalf("expected placeholder, got %q", got)
	}
}

func TestReassign_OrganizationSettingsOverrideDefaults(t *testing.T) {
	f := newFixture(t)
	f.store.Settings["org-1"] = crm.OrgSettings{OrganizationID: "org-1", MessagingAPIKey: "org-key", RescheduleMediaURL: "https://cdn.example/r.png"}

	if _, err := f.svc.Reassign(context.Background(), request("2026-03-12", "11:00")); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	msg := f.sender.Sent[0]
	if msg.APIKey != "org-key" || msg.Template != "reschedule" {
		t.Fatalf("expected org key with default template, got %+v", msg)
	}
	if msg.Media == nil || msg.Media.URL != "https://cdn.example/r.png" {
		t.Fatalf("expected media attachment, got %+v", msg.Media)
	}
}

func TestReassign_SkipsMessageWithoutPhoneOrCredentials(t *testing.T) {
	f := newFixture(t)
	f.svc.defaults = messaging.Defaults{}

	res, err := f.svc.Reassign(context.Background(), request("2026-03-12", "11:00"))
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if !res.WhatsApp.Skipped || f.sender.Count() != 0 {
		t.Fatalf("expected skip without credentials, got %+v", res.WhatsApp)
	}

	f = newFixture(t)
	l := f.store.Leads["lead-1"]
	l.Phone = ""
	f.store.Leads["lead-1"] = l
	res, err = f.svc.Reassign(context.Background(), request("2026-03-12", "11:00"))
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if !res.WhatsApp.Skipped || f.sender.Count() != 0 {
		t.Fatalf("expected skip without phone, got %+v", res.WhatsApp)
	}
}

func TestReassign_HardFailures(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t)
	req := request("2026-03-12", "11:00")
	req.AppointmentID = "missing"
	if _, err := f.svc.Reassign(ctx, req); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for appointment, got %v", err)
	}

	req = request("2026-03-12", "11:00")
	req.NewCloserID = "missing"
	if _, err := f.svc.Reassign(ctx, req); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for closer, got %v", err)
	}

	req = request("2026-03-12", "11:00")
	req.OrganizationID = "org-2"
	if _, err := f.svc.Reassign(ctx, req); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected other organization to look like not found, got %v", err)
	}

	if _, err := f.svc.Reassign(ctx, request("12/03/2026", "11:00")); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for date, got %v", err)
	}
	if _, err := f.svc.Reassign(ctx, request("2026-03-12", "11am")); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for time, got %v", err)
	}

	f.store.FailAppointmentUpdate = errors.New("db down")
	if _, err := f.svc.Reassign(ctx, request("2026-03-12", "11:00")); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if f.store.Leads["lead-1"].AssignedTo != "closer-old" {
		t.Fatalf("lead must not be touched when the appointment write fails")
	}
}
