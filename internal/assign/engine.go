// Package assign places jobs on workers' days with a priority-ordered greedy
// heuristic and persists the result as job assignments and route plans.
package assign

import (
	"sort"
	"time"

	"fieldroute/internal/model"
)

const (
	ReasonNoWorkers  = "No workers available"
	ReasonNoCapacity = "No available workers with capacity in date range"
	ReasonNotFound   = "Job not found"
	ReasonSaveFailed = "Failed to save assignment"
)

// Options are the engine constants that do not come from the request.
type Options struct {
	BaseHour               int
	DefaultDurationMinutes int
	DefaultMaxJobs         int
	DefaultMaxHours        float64
	Weights                Weights
	Location               *time.Location
}

func DefaultOptions() Options {
	return Options{
		BaseHour:               8,
		DefaultDurationMinutes: 60,
		DefaultMaxJobs:         8,
		DefaultMaxHours:        8,
		Weights:                DefaultWeights(),
		Location:               time.UTC,
	}
}

// Input is the snapshot a single run works against.
type Input struct {
	Jobs               []model.Job
	Workers            []model.Worker
	TimeOff            []model.TimeOffRequest
	Rules              []model.AvailabilityRule
	Scheduled          []model.ScheduledJob
	Dates              []time.Time
	BalanceWorkload    bool
	PreferredWorkerIDs []string
	MaxJobsPerWorker   int
}

type Result struct {
	Assignments []model.Assignment
	Unassigned  []model.UnassignedJob
}

// SortByPriority returns jobs ordered urgent, high, normal, low. Jobs of equal
// priority keep their input order.
func SortByPriority(jobs []model.Job) []model.Job {
	out := append([]model.Job(nil), jobs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority.Rank() < out[j].Priority.Rank() })
	return out
}

// DatesBetween returns every calendar date from start to end inclusive, at
// midnight in loc.
func DatesBetween(start, end time.Time, loc *time.Location) []time.Time {
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	e := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc)
	var out []time.Time
	for d := s; !d.After(e); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

type candidate struct {
	worker model.Worker
	date   time.Time
	score  slotScore
}

// Plan runs the greedy assignment. Each job, in priority order, goes to the
// highest scoring feasible (date, worker) slot; the first slot found wins ties.
// Earlier placements are never revisited.
func Plan(in Input, opts Options) Result {
	var res Result
	if len(in.Workers) == 0 {
		for _, j := range in.Jobs {
			res.Unassigned = append(res.Unassigned, model.UnassignedJob{JobID: j.ID, JobNumber: j.JobNumber, Reason: ReasonNoWorkers})
		}
		return res
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	avail := NewAvailability(in.TimeOff, in.Rules)
	tracker := NewCapacityTracker(Limits{
		MaxJobsOverride: in.MaxJobsPerWorker,
		DefaultMaxJobs:  opts.DefaultMaxJobs,
		DefaultMaxHours: opts.DefaultMaxHours,
	})
	tracker.Seed(in.Scheduled, loc, opts.DefaultDurationMinutes)

	preferred := make(map[string]bool, len(in.PreferredWorkerIDs))
	for _, id := range in.PreferredWorkerIDs {
		preferred[id] = true
	}
	// jobs stacked per worker/date during this run
	stacked := map[slotKey]int{}

	for _, job := range SortByPriority(in.Jobs) {
		dur := job.EstimatedDurationMinutes
		if dur <= 0 {
			dur = opts.DefaultDurationMinutes
		}

		var best *candidate
		for _, d := range in.Dates {
			day := d.Format(model.DateLayout)
			for _, w := range in.Workers {
				if !avail.IsAvailable(w.ID, d) {
					continue
				}
				c := tracker.Capacity(w, day)
				if !c.CanTakeMore || c.RemainingMinutes < dur {
					continue
				}
				s := opts.Weights.score(w, job, c, in.BalanceWorkload, preferred[w.ID])
				if best == nil || s.value > best.score.value {
					best = &candidate{worker: w, date: d, score: s}
				}
			}
		}
		if best == nil {
			res.Unassigned = append(res.Unassigned, model.UnassignedJob{JobID: job.ID, JobNumber: job.JobNumber, Reason: ReasonNoCapacity})
			continue
		}

		day := best.date.Format(model.DateLayout)
		tracker.Reserve(best.worker.ID, day, dur)
		k := slotKey{best.worker.ID, day}
		pos := stacked[k]
		stacked[k]++

		// One hour per stack position. Past the 16th slot this runs into the
		// next calendar day while Date keeps the planning day.
		start := time.Date(best.date.Year(), best.date.Month(), best.date.Day(), opts.BaseHour+pos, 0, 0, 0, loc)
		// whole hours, rounded up
		end := start.Add(time.Duration((dur+59)/60) * time.Hour)
		res.Assignments = append(res.Assignments, model.Assignment{
			JobID:           job.ID,
			UserID:          best.worker.ID,
			UserName:        best.worker.Name,
			ScheduledStart:  start,
			ScheduledEnd:    end,
			RoutePosition:   pos + 1,
			Reasoning:       best.score.reasoning(),
			Date:            day,
			DurationMinutes: dur,
		})
	}
	return res
}
