package assign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"fieldroute/internal/events"
	"fieldroute/internal/metrics"
	"fieldroute/internal/model"
	"fieldroute/internal/store"
)

// RoutePlanReasoning is stored on every route plan written by a run.
const RoutePlanReasoning = "Auto-generated by bulk assignment"

// ErrInvalidRequest marks request problems the caller can fix (bad dates,
// empty job list).
var ErrInvalidRequest = errors.New("invalid request")

// Service loads a business snapshot, runs Plan over it and writes the result
// back. One call is one run; runs share nothing but the store.
type Service struct {
	Store  store.Store
	Events events.Broker // optional
	Opts   Options
	// MaxRangeDays caps the requested date range; 0 means no cap.
	MaxRangeDays int

	now func() time.Time
}

func NewService(st store.Store, broker events.Broker, opts Options, maxRangeDays int) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Service{Store: st, Events: broker, Opts: opts, MaxRangeDays: maxRangeDays, now: time.Now}
}

// BulkAssign runs one bulk assignment for businessID. Persistence failures of
// individual jobs or route plans do not fail the run; they are reported in
// the response's writeErrors and the affected jobs are listed as unassigned.
func (s *Service) BulkAssign(ctx context.Context, businessID string, req model.BulkAssignRequest) (resp model.BulkAssignResponse, err error) {
	started := time.Now()
	runID := uuid.NewString()
	defer func() {
		metrics.AssignDuration.Observe(time.Since(started).Seconds())
		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
		case !resp.Success:
			outcome = "no_workers"
		}
		metrics.AssignRuns.WithLabelValues(outcome).Inc()
		if err == nil {
			metrics.AssignJobs.WithLabelValues("assigned").Add(float64(resp.Summary.Assigned))
			metrics.AssignJobs.WithLabelValues("unassigned").Add(float64(resp.Summary.Unassigned))
		}
	}()

	ids := dedupe(req.JobIDs)
	if len(ids) == 0 {
		return resp, fmt.Errorf("%w: jobIds is required", ErrInvalidRequest)
	}
	dates, err := s.resolveDates(req.DateRange)
	if err != nil {
		return resp, err
	}
	balance := req.BalanceWorkload == nil || *req.BalanceWorkload
	var preferred []string
	maxJobs := 0
	if c := req.Constraints; c != nil {
		preferred = c.PreferredWorkerIDs
		if c.MaxJobsPerWorker != nil && *c.MaxJobsPerWorker > 0 {
			maxJobs = *c.MaxJobsPerWorker
		}
	}

	// Input Loader
	loaded, err := s.Store.LoadJobs(ctx, businessID, ids)
	if err != nil {
		return resp, fmt.Errorf("bulk assign: %w", err)
	}
	jobs, notFound := inRequestOrder(ids, loaded)

	workers, err := s.Store.ListWorkers(ctx, businessID, preferred)
	if err != nil {
		return resp, fmt.Errorf("bulk assign: %w", err)
	}
	logger := log.With().Str("run_id", runID).Str("business", businessID).Logger()

	if len(workers) == 0 {
		res := Plan(Input{Jobs: jobs}, s.Opts)
		resp = respond(false, ids, nil, append(notFound, res.Unassigned...), nil, nil)
		logger.Info().Int("jobs", len(ids)).Msg("bulk assign: no workers available")
		return resp, nil
	}

	workerIDs := make([]string, len(workers))
	for i, w := range workers {
		workerIDs[i] = w.ID
	}
	first, last := dates[0], dates[len(dates)-1]
	timeOff, err := s.Store.ListApprovedTimeOff(ctx, businessID, workerIDs, first.Format(model.DateLayout), last.Format(model.DateLayout))
	if err != nil {
		return resp, fmt.Errorf("bulk assign: %w", err)
	}
	rules, err := s.Store.ListAvailability(ctx, businessID, workerIDs)
	if err != nil {
		return resp, fmt.Errorf("bulk assign: %w", err)
	}
	scheduled, err := s.Store.ListScheduledJobs(ctx, businessID, workerIDs, first, last.AddDate(0, 0, 1))
	if err != nil {
		return resp, fmt.Errorf("bulk assign: %w", err)
	}
	scheduled = excludeJobs(scheduled, ids)

	res := Plan(Input{
		Jobs:               jobs,
		Workers:            workers,
		TimeOff:            timeOff,
		Rules:              rules,
		Scheduled:          scheduled,
		Dates:              dates,
		BalanceWorkload:    balance,
		PreferredWorkerIDs: preferred,
		MaxJobsPerWorker:   maxJobs,
	}, s.Opts)

	// Writeback
	unassigned := append(notFound, res.Unassigned...)
	var (
		saved     []model.Assignment
		writeErrs []model.WriteError
	)
	byJob := make(map[string]model.Job, len(jobs))
	for _, j := range jobs {
		byJob[j.ID] = j
	}
	for _, a := range res.Assignments {
		if err := s.Store.ApplyAssignment(ctx, businessID, a); err != nil {
			metrics.WritebackFailures.WithLabelValues("assignment").Inc()
			logger.Error().Err(err).Str("job", a.JobID).Str("worker", a.UserID).Str("date", a.Date).Msg("save assignment")
			writeErrs = append(writeErrs, model.WriteError{JobID: a.JobID, UserID: a.UserID, Date: a.Date, Error: err.Error()})
			unassigned = append(unassigned, model.UnassignedJob{JobID: a.JobID, JobNumber: byJob[a.JobID].JobNumber, Reason: ReasonSaveFailed})
			continue
		}
		saved = append(saved, a)
	}

	var planIDs []string
	for _, p := range groupRoutePlans(businessID, saved) {
		id, err := s.Store.UpsertRoutePlan(ctx, p)
		if err != nil {
			metrics.WritebackFailures.WithLabelValues("route_plan").Inc()
			logger.Error().Err(err).Str("worker", p.UserID).Str("date", p.RouteDate).Msg("save route plan")
			writeErrs = append(writeErrs, model.WriteError{UserID: p.UserID, Date: p.RouteDate, Error: err.Error()})
			continue
		}
		planIDs = append(planIDs, id)
	}

	resp = respond(true, ids, saved, unassigned, planIDs, writeErrs)
	logger.Info().
		Int("assigned", resp.Summary.Assigned).
		Int("unassigned", resp.Summary.Unassigned).
		Int("workers_used", resp.Summary.WorkersUsed).
		Int("write_errors", len(writeErrs)).
		Dur("took", time.Since(started)).
		Msg("bulk assign complete")

	if len(planIDs) > 0 && s.Events != nil {
		evt := events.NewEvent(events.TypeRoutePlansUpdated, businessID, map[string]any{
			"runId":        runID,
			"routePlanIds": planIDs,
			"summary":      resp.Summary,
		})
		if err := s.Events.Publish(ctx, businessID, evt); err != nil {
			logger.Warn().Err(err).Msg("publish route plan event")
		}
	}
	return resp, nil
}

// resolveDates expands the requested range, defaulting to today in the
// planning location.
func (s *Service) resolveDates(r *model.DateRange) ([]time.Time, error) {
	loc := s.Opts.Location
	if r == nil {
		return DatesBetween(s.now().In(loc), s.now().In(loc), loc), nil
	}
	start, err := time.ParseInLocation(model.DateLayout, r.Start, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: dateRange.start: %v", ErrInvalidRequest, err)
	}
	end, err := time.ParseInLocation(model.DateLayout, r.End, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: dateRange.end: %v", ErrInvalidRequest, err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: dateRange.end is before dateRange.start", ErrInvalidRequest)
	}
	dates := DatesBetween(start, end, loc)
	if s.MaxRangeDays > 0 && len(dates) > s.MaxRangeDays {
		return nil, fmt.Errorf("%w: dateRange spans %d days, limit is %d", ErrInvalidRequest, len(dates), s.MaxRangeDays)
	}
	return dates, nil
}

func respond(success bool, ids []string, saved []model.Assignment, unassigned []model.UnassignedJob, planIDs []string, writeErrs []model.WriteError) model.BulkAssignResponse {
	workers := map[string]bool{}
	for _, a := range saved {
		workers[a.UserID] = true
	}
	if saved == nil {
		saved = []model.Assignment{}
	}
	if unassigned == nil {
		unassigned = []model.UnassignedJob{}
	}
	if planIDs == nil {
		planIDs = []string{}
	}
	return model.BulkAssignResponse{
		Success:           success,
		Assignments:       saved,
		UnassignedJobs:    unassigned,
		RoutePlansCreated: planIDs,
		Summary: model.Summary{
			TotalJobs:   len(ids),
			Assigned:    len(saved),
			Unassigned:  len(unassigned),
			WorkersUsed: len(workers),
		},
		WriteErrors: writeErrs,
	}
}

// groupRoutePlans builds one plan per (worker, date), in first-seen order,
// with job ids in route position order.
func groupRoutePlans(businessID string, saved []model.Assignment) []model.RoutePlan {
	var plans []model.RoutePlan
	index := map[slotKey]int{}
	for _, a := range saved {
		k := slotKey{a.UserID, a.Date}
		i, ok := index[k]
		if !ok {
			i = len(plans)
			index[k] = i
			plans = append(plans, model.RoutePlan{
				BusinessID: businessID,
				UserID:     a.UserID,
				RouteDate:  a.Date,
				Status:     "draft",
				Reasoning:  RoutePlanReasoning,
			})
		}
		plans[i].JobIDs = append(plans[i].JobIDs, a.JobID)
		plans[i].TotalMinutes += a.DurationMinutes
	}
	return plans
}

// inRequestOrder returns loaded jobs in the order their ids were requested,
// plus a not-found entry for every id that did not load.
func inRequestOrder(ids []string, loaded []model.Job) ([]model.Job, []model.UnassignedJob) {
	byID := make(map[string]model.Job, len(loaded))
	for _, j := range loaded {
		byID[j.ID] = j
	}
	jobs := make([]model.Job, 0, len(loaded))
	var missing []model.UnassignedJob
	for _, id := range ids {
		j, ok := byID[id]
		if !ok {
			missing = append(missing, model.UnassignedJob{JobID: id, Reason: ReasonNotFound})
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, missing
}

// excludeJobs drops bookings for jobs that are being (re)assigned in this run.
func excludeJobs(scheduled []model.ScheduledJob, ids []string) []model.ScheduledJob {
	skip := make(map[string]bool, len(ids))
	for _, id := range ids {
		skip[id] = true
	}
	out := scheduled[:0:0]
	for _, sj := range scheduled {
		if !skip[sj.JobID] {
			out = append(out, sj)
		}
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
