package store

import (
	"context"
	"errors"
	"time"

	"fieldroute/internal/model"
)

// Store is the persistence interface used by the assignment service and API.
// Every method is scoped to one business.
type Store interface {
	// Tenancy
	BusinessForUser(ctx context.Context, userID string) (string, error)

	// Engine inputs
	LoadJobs(ctx context.Context, businessID string, ids []string) ([]model.Job, error)
	ListWorkers(ctx context.Context, businessID string, only []string) ([]model.Worker, error)
	ListApprovedTimeOff(ctx context.Context, businessID string, workerIDs []string, startDate, endDate string) ([]model.TimeOffRequest, error)
	ListAvailability(ctx context.Context, businessID string, workerIDs []string) ([]model.AvailabilityRule, error)
	ListScheduledJobs(ctx context.Context, businessID string, workerIDs []string, from, to time.Time) ([]model.ScheduledJob, error)

	// Writeback. ApplyAssignment is atomic per job.
	ApplyAssignment(ctx context.Context, businessID string, a model.Assignment) error
	UpsertRoutePlan(ctx context.Context, plan model.RoutePlan) (string, error)

	// Route plans
	ListRoutePlans(ctx context.Context, businessID, date, userID string) ([]model.RoutePlan, error)
	GetRoutePlan(ctx context.Context, businessID, id string) (model.RoutePlan, error)

	// Unattended runs
	ListBusinessesWithUnassignedJobs(ctx context.Context) ([]string, error)
	ListUnassignedJobIDs(ctx context.Context, businessID string, limit int) ([]string, error)
}

var ErrNotFound = errors.New("not found")
