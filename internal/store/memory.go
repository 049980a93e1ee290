package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fieldroute/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu       sync.Mutex
	profiles map[string]string                     // userId -> businessId
	jobs     map[string]*model.Job                 // jobId -> job
	jobOrder []string                              // insertion order
	workers  map[string][]model.Worker             // businessId -> workers
	timeOff  map[string][]model.TimeOffRequest     // businessId -> approved requests
	avail    map[string][]model.AvailabilityRule   // businessId -> rules
	links    map[string]map[string]time.Time       // jobId -> userId -> assignedAt
	plans    map[string]*model.RoutePlan           // planId -> plan
	planKey  map[string]string                     // business|user|date -> planId
}

func NewMemory() *Memory {
	return &Memory{
		profiles: map[string]string{},
		jobs:     map[string]*model.Job{},
		workers:  map[string][]model.Worker{},
		timeOff:  map[string][]model.TimeOffRequest{},
		avail:    map[string][]model.AvailabilityRule{},
		links:    map[string]map[string]time.Time{},
		plans:    map[string]*model.RoutePlan{},
		planKey:  map[string]string{},
	}
}

// Seeding helpers

func (m *Memory) AddProfile(userID, businessID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[userID] = businessID
}

func (m *Memory) PutJob(j model.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.Status == "" {
		j.Status = "pending"
	}
	if _, ok := m.jobs[j.ID]; !ok {
		m.jobOrder = append(m.jobOrder, j.ID)
	}
	cp := j
	m.jobs[j.ID] = &cp
}

func (m *Memory) PutWorker(w model.Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[w.BusinessID] = append(m.workers[w.BusinessID], w)
}

func (m *Memory) PutTimeOff(businessID string, t model.TimeOffRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeOff[businessID] = append(m.timeOff[businessID], t)
}

func (m *Memory) PutAvailability(businessID string, r model.AvailabilityRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.avail[businessID] = append(m.avail[businessID], r)
}

// Job returns a copy of a stored job.
func (m *Memory) Job(id string) (model.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return model.Job{}, false
	}
	return *j, true
}

// AssignmentLinked reports whether a job-assignment link exists.
func (m *Memory) AssignmentLinked(jobID, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.links[jobID][userID]
	return ok
}

func (m *Memory) BusinessForUser(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.profiles[userID]
	if !ok || b == "" {
		return "", ErrNotFound
	}
	return b, nil
}

func (m *Memory) LoadJobs(ctx context.Context, businessID string, ids []string) ([]model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Job{}
	for _, id := range ids {
		j, ok := m.jobs[id]
		if !ok || j.BusinessID != businessID {
			continue
		}
		out = append(out, *j)
	}
	return out, nil
}

func (m *Memory) ListWorkers(ctx context.Context, businessID string, only []string) ([]model.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	allow := toSet(only)
	out := []model.Worker{}
	for _, w := range m.workers[businessID] {
		if len(allow) > 0 && !allow[w.ID] {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

func (m *Memory) ListApprovedTimeOff(ctx context.Context, businessID string, workerIDs []string, startDate, endDate string) ([]model.TimeOffRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws := toSet(workerIDs)
	out := []model.TimeOffRequest{}
	for _, t := range m.timeOff[businessID] {
		if !ws[t.UserID] || t.StartDate > endDate || t.EndDate < startDate {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (m *Memory) ListAvailability(ctx context.Context, businessID string, workerIDs []string) ([]model.AvailabilityRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws := toSet(workerIDs)
	out := []model.AvailabilityRule{}
	for _, r := range m.avail[businessID] {
		if ws[r.UserID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) ListScheduledJobs(ctx context.Context, businessID string, workerIDs []string, from, to time.Time) ([]model.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws := toSet(workerIDs)
	out := []model.ScheduledJob{}
	for _, id := range m.jobOrder {
		j := m.jobs[id]
		if j.BusinessID != businessID || !ws[j.AssignedTo] || j.ScheduledStart == nil {
			continue
		}
		if j.Status != "scheduled" && j.Status != "in_progress" {
			continue
		}
		if j.ScheduledStart.Before(from) || !j.ScheduledStart.Before(to) {
			continue
		}
		out = append(out, model.ScheduledJob{JobID: j.ID, UserID: j.AssignedTo, ScheduledStart: *j.ScheduledStart, EstimatedDurationMinutes: j.EstimatedDurationMinutes})
	}
	return out, nil
}

func (m *Memory) ApplyAssignment(ctx context.Context, businessID string, a model.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[a.JobID]
	if !ok || j.BusinessID != businessID {
		return fmt.Errorf("apply assignment job=%s: %w", a.JobID, ErrNotFound)
	}
	start, end := a.ScheduledStart, a.ScheduledEnd
	j.AssignedTo = a.UserID
	j.ScheduledStart = &start
	j.ScheduledEnd = &end
	j.RouteSequence = a.RoutePosition
	j.Status = "scheduled"
	if m.links[a.JobID] == nil {
		m.links[a.JobID] = map[string]time.Time{}
	}
	m.links[a.JobID][a.UserID] = time.Now().UTC()
	return nil
}

func (m *Memory) UpsertRoutePlan(ctx context.Context, plan model.RoutePlan) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := plan.BusinessID + "|" + plan.UserID + "|" + plan.RouteDate
	id, ok := m.planKey[k]
	if !ok {
		id = uuid.New().String()
		m.planKey[k] = id
	}
	plan.ID = id
	plan.JobIDs = append([]string(nil), plan.JobIDs...)
	plan.UpdatedAt = time.Now().UTC()
	m.plans[id] = &plan
	return id, nil
}

func (m *Memory) ListRoutePlans(ctx context.Context, businessID, date, userID string) ([]model.RoutePlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.RoutePlan{}
	for _, p := range m.plans {
		if p.BusinessID != businessID {
			continue
		}
		if date != "" && p.RouteDate != date {
			continue
		}
		if userID != "" && p.UserID != userID {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RouteDate != out[j].RouteDate {
			return out[i].RouteDate < out[j].RouteDate
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (m *Memory) GetRoutePlan(ctx context.Context, businessID, id string) (model.RoutePlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok || p.BusinessID != businessID {
		return model.RoutePlan{}, ErrNotFound
	}
	return *p, nil
}

func (m *Memory) ListBusinessesWithUnassignedJobs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	out := []string{}
	for _, id := range m.jobOrder {
		j := m.jobs[id]
		if isUnassigned(j) && !seen[j.BusinessID] {
			seen[j.BusinessID] = true
			out = append(out, j.BusinessID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) ListUnassignedJobIDs(ctx context.Context, businessID string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []string{}
	for _, id := range m.jobOrder {
		if limit > 0 && len(out) >= limit {
			break
		}
		j := m.jobs[id]
		if j.BusinessID == businessID && isUnassigned(j) {
			out = append(out, j.ID)
		}
	}
	return out, nil
}

func isUnassigned(j *model.Job) bool { return j.AssignedTo == "" && j.Status == "pending" }

func toSet(ids []string) map[string]bool {
	s := make(map[string]bool, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}
