package assign

import (
	"time"

	"fieldroute/internal/model"
)

// Limits are the fallbacks used when a worker has no configured maximums.
type Limits struct {
	// MaxJobsOverride, when positive, replaces every worker's daily job limit.
	MaxJobsOverride int
	DefaultMaxJobs  int
	DefaultMaxHours float64
}

// Load is the running total for one worker on one date.
type Load struct {
	JobCount    int
	MinutesUsed int
}

// Capacity is what a worker can still take on a date.
type Capacity struct {
	CanTakeMore      bool
	RemainingJobs    int
	RemainingMinutes int
}

type slotKey struct {
	workerID string
	date     string
}

// CapacityTracker keeps per-(worker, date) workload for a single run.
// It is not safe for concurrent use.
type CapacityTracker struct {
	limits Limits
	loads  map[slotKey]*Load
}

func NewCapacityTracker(limits Limits) *CapacityTracker {
	return &CapacityTracker{limits: limits, loads: map[slotKey]*Load{}}
}

// Seed adds existing bookings to the tracker. Dates are taken in loc.
func (t *CapacityTracker) Seed(jobs []model.ScheduledJob, loc *time.Location, defaultDuration int) {
	for _, j := range jobs {
		d := j.EstimatedDurationMinutes
		if d <= 0 {
			d = defaultDuration
		}
		t.Reserve(j.UserID, j.ScheduledStart.In(loc).Format(model.DateLayout), d)
	}
}

// MaxJobs is the effective daily job limit for w.
func (t *CapacityTracker) MaxJobs(w model.Worker) int {
	if t.limits.MaxJobsOverride > 0 {
		return t.limits.MaxJobsOverride
	}
	if w.MaxDailyJobs > 0 {
		return w.MaxDailyJobs
	}
	return t.limits.DefaultMaxJobs
}

// MaxMinutes is the effective daily minute limit for w.
func (t *CapacityTracker) MaxMinutes(w model.Worker) int {
	hours := w.MaxDailyHours
	if hours <= 0 {
		hours = t.limits.DefaultMaxHours
	}
	return int(hours * 60)
}

func (t *CapacityTracker) Load(workerID, date string) Load {
	if l := t.loads[slotKey{workerID, date}]; l != nil {
		return *l
	}
	return Load{}
}

func (t *CapacityTracker) Capacity(w model.Worker, date string) Capacity {
	l := t.Load(w.ID, date)
	maxJobs := t.MaxJobs(w)
	maxMinutes := t.MaxMinutes(w)
	return Capacity{
		CanTakeMore:      l.JobCount < maxJobs && l.MinutesUsed < maxMinutes,
		RemainingJobs:    maxJobs - l.JobCount,
		RemainingMinutes: maxMinutes - l.MinutesUsed,
	}
}

// Reserve books one job of the given length on the worker's date.
func (t *CapacityTracker) Reserve(workerID, date string, minutes int) {
	k := slotKey{workerID, date}
	l := t.loads[k]
	if l == nil {
		l = &Load{}
		t.loads[k] = l
	}
	l.JobCount++
	l.MinutesUsed += minutes
}
