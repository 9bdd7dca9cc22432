package crm

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory CRM store for tests.
type MemoryRepo struct {
	mu sync.Mutex

	Appointments map[string]Appointment
	Closers      map[string]Closer
	Leads        map[string]Lead
	Integrations map[string]ClosersIntegration // key: organization_id|closer_id
	Settings     map[string]OrgSettings

	// Fail* inject write errors.
	FailAppointmentUpdate error
	FailLeadUpdate        error
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		Appointments: map[string]Appointment{},
		Closers:      map[string]Closer{},
		Leads:        map[string]Lead{},
		Integrations: map[string]ClosersIntegration{},
		Settings:     map[string]OrgSettings{},
	}
}

func integrationKey(orgID, closerID string) string { return orgID + "|" + closerID }

func (r *MemoryRepo) PutIntegration(i ClosersIntegration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Integrations[integrationKey(i.OrganizationID, i.CloserID)] = i
}

func (r *MemoryRepo) GetAppointment(ctx context.Context, id string) (Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.Appointments[id]
	if !ok {
		return Appointment{}, ErrNotFound
	}
	return a, nil
}

func (r *MemoryRepo) GetCloser(ctx context.Context, id string) (Closer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.Closers[id]
	if !ok {
		return Closer{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) GetLead(ctx context.Context, id string) (Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.Leads[id]
	if !ok {
		return Lead{}, ErrNotFound
	}
	return l, nil
}

func (r *MemoryRepo) GetIntegration(ctx context.Context, organizationID, closerID string) (ClosersIntegration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.Integrations[integrationKey(organizationID, closerID)]
	if !ok {
		return ClosersIntegration{}, ErrNotFound
	}
	return i, nil
}

func (r *MemoryRepo) GetOrgSettings(ctx context.Context, organizationID string) (OrgSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.Settings[organizationID]
	if !ok {
		return OrgSettings{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepo) UpdateAppointment(ctx context.Context, id string, u AppointmentUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailAppointmentUpdate != nil {
		return r.FailAppointmentUpdate
	}
	a, ok := r.Appointments[id]
	if !ok {
		return ErrNotFound
	}
	a.CloserID = u.CloserID
	a.PreviousCloserID = u.PreviousCloserID
	a.WasRescheduled = u.WasRescheduled
	a.CalendlyEventID = u.CalendlyEventID
	if u.MeetingLink != nil {
		a.MeetingLink = *u.MeetingLink
	}
	if rs := u.Reschedule; rs != nil {
		a.PreviousScheduledDate = rs.PreviousDate
		a.PreviousScheduledTime = rs.PreviousTime
		a.ScheduledDate = rs.NewDate
		a.ScheduledTime = rs.NewTime
		at := rs.RescheduledAt
		a.RescheduledAt = &at
		a.Status = AppointmentStatusScheduled
	}
	r.Appointments[id] = a
	return nil
}

func (r *MemoryRepo) ReassignLead(ctx context.Context, leadID, closerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailLeadUpdate != nil {
		return r.FailLeadUpdate
	}
	l, ok := r.Leads[leadID]
	if !ok {
		return ErrNotFound
	}
	l.PreviousAssignedTo = l.AssignedTo
	l.AssignedTo = closerID
	r.Leads[leadID] = l
	return nil
}
