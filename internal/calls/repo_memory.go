package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory PostgresRepo stand-in for tests.
// UpdateCall holds the mutex across fn, which gives the same serialization the
// row lock gives in Postgres.
type MemoryRepo struct {
	mu sync.Mutex

	campaigns map[string]Campaign
	calls     map[string]CallRecord
	groups    map[string]Group

	Now func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		campaigns: map[string]Campaign{},
		calls:     map[string]CallRecord{},
		groups:    map[string]Group{},
		Now:       time.Now,
	}
}

func (r *MemoryRepo) PutCampaign(c Campaign) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns[c.ID] = c
}

func (r *MemoryRepo) PutCall(c CallRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = r.Now()
	}
	r.calls[c.ID] = c
}

func (r *MemoryRepo) PutGroup(g Group) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[g.ID] = g
}

func (r *MemoryRepo) GetCampaign(ctx context.Context, id string) (Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) FindCampaignByBatchID(ctx context.Context, batchID string) (Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.campaigns {
		if c.BatchID != "" && c.BatchID == batchID {
			return c, nil
		}
	}
	return Campaign{}, ErrNotFound
}

func (r *MemoryRepo) GetGroup(ctx context.Context, id string) (Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[id]
	if !ok {
		return Group{}, ErrNotFound
	}
	return g, nil
}

func (r *MemoryRepo) GetCall(ctx context.Context, id string) (CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) FindCallByExecutionID(ctx context.Context, executionID string) (CallRecord, error) {
	return r.latest(func(c CallRecord) bool { return c.ExecutionID != "" && c.ExecutionID == executionID })
}

func (r *MemoryRepo) FindLatestCallByPhone(ctx context.Context, phone, campaignID string) (CallRecord, error) {
	return r.latest(func(c CallRecord) bool {
		return c.ContactPhone == phone && (campaignID == "" || c.CampaignID == campaignID)
	})
}

func (r *MemoryRepo) latest(match func(CallRecord) bool) (CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best CallRecord
	found := false
	for _, c := range r.calls {
		if !match(c) {
			continue
		}
		if !found || c.UpdatedAt.After(best.UpdatedAt) {
			best, found = c, true
		}
	}
	if !found {
		return CallRecord{}, ErrNotFound
	}
	return best, nil
}

func (r *MemoryRepo) ListCallsByStatus(ctx context.Context, campaignID string, statuses ...CallStatus) ([]CallRecord, error) {
	want := map[CallStatus]bool{}
	for _, s := range statuses {
		want[s] = true
	}
	return r.filter(func(c CallRecord) bool { return c.CampaignID == campaignID && want[c.Status] }), nil
}

func (r *MemoryRepo) ListStaleCalls(ctx context.Context, campaignID string, cutoff time.Time) ([]CallRecord, error) {
	return r.filter(func(c CallRecord) bool {
		return c.CampaignID == campaignID &&
			(c.Status == CallStatusQueued || c.Status == CallStatusPending) &&
			!c.UpdatedAt.After(cutoff)
	}), nil
}

func (r *MemoryRepo) filter(match func(CallRecord) bool) []CallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CallRecord
	for _, c := range r.calls {
		if match(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *MemoryRepo) CountNonTerminal(ctx context.Context, campaignID string) (int, error) {
	return len(r.filter(func(c CallRecord) bool { return c.CampaignID == campaignID && !c.Status.IsTerminal() })), nil
}

func (r *MemoryRepo) UpdateCall(ctx context.Context, id string, fn CallMutation) (CallRecord, Counters, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.calls[id]
	if !ok {
		return CallRecord{}, Counters{}, ErrNotFound
	}
	next, delta := fn(prev)
	next.ID = prev.ID
	next.CampaignID = prev.CampaignID
	next.UpdatedAt = r.Now().UTC()
	r.calls[id] = next

	if !delta.IsZero() {
		c := r.campaigns[next.CampaignID]
		c.Counters = c.Counters.Add(delta)
		r.campaigns[next.CampaignID] = c
	}
	return next, delta, nil
}

func (r *MemoryRepo) AddCampaignCost(ctx context.Context, campaignID string, cost float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[campaignID]
	if !ok {
		return ErrNotFound
	}
	c.TotalCost += cost
	r.campaigns[campaignID] = c
	return nil
}

func (r *MemoryRepo) SetCampaignStatus(ctx context.Context, campaignID string, status CampaignStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[campaignID]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	r.campaigns[campaignID] = c
	return nil
}

func (r *MemoryRepo) MarkCampaignRunning(ctx context.Context, campaignID, batchID string, startedAt time.Time, scheduledAt *time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[campaignID]
	if !ok {
		return 0, ErrNotFound
	}
	c.BatchID = batchID
	c.Status = CampaignStatusRunning
	c.StartedAt = &startedAt
	c.ScheduledAt = scheduledAt
	r.campaigns[campaignID] = c

	queued := 0
	for id, call := range r.calls {
		if call.CampaignID == campaignID && call.Status == CallStatusPending {
			call.Status = CallStatusQueued
			call.UpdatedAt = startedAt
			r.calls[id] = call
			queued++
		}
	}
	return queued, nil
}

func (r *MemoryRepo) PauseCampaign(ctx context.Context, campaignID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[campaignID]
	if !ok {
		return 0, ErrNotFound
	}
	c.Status = CampaignStatusPaused
	r.campaigns[campaignID] = c

	cancelled := 0
	for id, call := range r.calls {
		if call.CampaignID == campaignID && (call.Status == CallStatusPending || call.Status == CallStatusQueued) {
			call.Status = CallStatusCancelled
			call.UpdatedAt = r.Now()
			r.calls[id] = call
			cancelled++
		}
	}
	return cancelled, nil
}

func (r *MemoryRepo) CompleteCampaign(ctx context.Context, campaignID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[campaignID]
	if !ok {
		return false, ErrNotFound
	}
	if c.Status != CampaignStatusRunning && c.Status != CampaignStatusPaused {
		return false, nil
	}
	c.Status = CampaignStatusCompleted
	c.CompletedAt = &at
	r.campaigns[campaignID] = c
	return true, nil
}
