// Package autoassign runs bulk assignment on a cron schedule for every business
// that has pending, unassigned jobs.
package autoassign

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"fieldroute/internal/model"
	"fieldroute/internal/store"
)

// DefaultBatchSize caps the number of jobs sent in one unattended run.
const DefaultBatchSize = 500

// Assigner is the part of assign.Service the scheduler needs.
type Assigner interface {
	BulkAssign(ctx context.Context, businessID string, req model.BulkAssignRequest) (model.BulkAssignResponse, error)
}

type Scheduler struct {
	store     store.Store
	assigner  Assigner
	horizon   int
	loc       *time.Location
	batchSize int
	timeout   time.Duration
	cron      *cron.Cron
	now       func() time.Time
}

// New builds a scheduler that fires on the cron expression (standard 5-field syntax,
// evaluated in loc). Each firing plans tomorrow through tomorrow+horizon-1.
func New(st store.Store, a Assigner, spec string, horizon int, loc *time.Location) (*Scheduler, error) {
	if horizon < 1 {
		horizon = 1
	}
	if loc == nil {
		loc = time.UTC
	}
	s := &Scheduler{
		store:     st,
		assigner:  a,
		horizon:   horizon,
		loc:       loc,
		batchSize: DefaultBatchSize,
		timeout:   10 * time.Minute,
		now:       time.Now,
	}
	cl := cronLogger{log.With().Str("component", "autoassign").Logger()}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := s.cron.AddFunc(spec, s.fire); err != nil {
		return nil, fmt.Errorf("AUTO_ASSIGN_CRON %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	log.Info().Int("horizon_days", s.horizon).Str("tz", s.loc.String()).Msg("auto-assign scheduler started")
	s.cron.Start()
}

// Stop prevents further firings and waits for a running one to finish, or for
// ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.RunOnce(ctx); err != nil {
		log.Error().Err(err).Msg("auto-assign run")
	}
}

// RunOnce assigns pending jobs for each business in turn. A failing business
// is logged and skipped; all failures are returned together.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	businesses, err := s.store.ListBusinessesWithUnassignedJobs(ctx)
	if err != nil {
		return fmt.Errorf("list businesses: %w", err)
	}
	tomorrow := s.now().In(s.loc).AddDate(0, 0, 1)
	dr := &model.DateRange{
		Start: tomorrow.Format(model.DateLayout),
		End:   tomorrow.AddDate(0, 0, s.horizon-1).Format(model.DateLayout),
	}
	balance := true

	var errs error
	for _, b := range businesses {
		if ctx.Err() != nil {
			return multierr.Append(errs, ctx.Err())
		}
		ids, err := s.store.ListUnassignedJobIDs(ctx, b, s.batchSize)
		if err != nil {
			log.Error().Err(err).Str("business", b).Msg("auto-assign: list jobs")
			errs = multierr.Append(errs, fmt.Errorf("business %s: %w", b, err))
			continue
		}
		if len(ids) == 0 {
			continue
		}
		resp, err := s.assigner.BulkAssign(ctx, b, model.BulkAssignRequest{JobIDs: ids, DateRange: dr, BalanceWorkload: &balance})
		if err != nil {
			log.Error().Err(err).Str("business", b).Msg("auto-assign: run")
			errs = multierr.Append(errs, fmt.Errorf("business %s: %w", b, err))
			continue
		}
		log.Info().Str("business", b).
			Str("from", dr.Start).Str("to", dr.End).
			Int("assigned", resp.Summary.Assigned).
			Int("unassigned", resp.Summary.Unassigned).
			Msg("auto-assign: business done")
	}
	return errs
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ l zerolog.Logger }

func (c cronLogger) Info(msg string, kv ...any) {
	c.l.Debug().Fields(kv).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error().Err(err).Fields(kv).Msg(msg)
}
