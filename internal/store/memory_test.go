package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldroute/internal/model"
)

func TestMemoryTenancy(t *testing.T) {
	m := NewMemory()
	m.AddProfile("u1", "b1")
	m.AddProfile("u2", "")

	b, err := m.BusinessForUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "b1", b)

	_, err = m.BusinessForUser(context.Background(), "u2")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.BusinessForUser(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryLoadJobsScopedToBusiness(t *testing.T) {
	m := NewMemory()
	m.PutJob(model.Job{ID: "j1", BusinessID: "b1"})
	m.PutJob(model.Job{ID: "j2", BusinessID: "b2"})

	got, err := m.LoadJobs(context.Background(), "b1", []string{"j1", "j2", "j3"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "j1", got[0].ID)
	assert.Equal(t, "pending", got[0].Status)
}

func TestMemoryWorkerFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.PutWorker(model.Worker{ID: "w1", BusinessID: "b1"})
	m.PutWorker(model.Worker{ID: "w2", BusinessID: "b1"})
	m.PutWorker(model.Worker{ID: "w3", BusinessID: "b2"})
	m.PutTimeOff("b1", model.TimeOffRequest{UserID: "w1", StartDate: "2024-06-01", EndDate: "2024-06-05"})
	m.PutTimeOff("b1", model.TimeOffRequest{UserID: "w2", StartDate: "2024-06-20", EndDate: "2024-06-21"})
	m.PutAvailability("b1", model.AvailabilityRule{UserID: "w2", DayOfWeek: 1, IsAvailable: true})

	all, err := m.ListWorkers(ctx, "b1", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	only, err := m.ListWorkers(ctx, "b1", []string{"w2", "w3"})
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, "w2", only[0].ID)

	off, err := m.ListApprovedTimeOff(ctx, "b1", []string{"w1", "w2"}, "2024-06-05", "2024-06-10")
	require.NoError(t, err)
	require.Len(t, off, 1)
	assert.Equal(t, "w1", off[0].UserID)

	rules, err := m.ListAvailability(ctx, "b1", []string{"w1"})
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestMemoryApplyAssignmentAndScheduled(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.PutJob(model.Job{ID: "j1", BusinessID: "b1", EstimatedDurationMinutes: 30})

	start := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	a := model.Assignment{JobID: "j1", UserID: "w1", ScheduledStart: start, ScheduledEnd: start.Add(time.Hour), RoutePosition: 1}
	require.NoError(t, m.ApplyAssignment(ctx, "b1", a))
	assert.ErrorIs(t, m.ApplyAssignment(ctx, "b2", a), ErrNotFound)

	j, ok := m.Job("j1")
	require.True(t, ok)
	assert.Equal(t, "scheduled", j.Status)
	assert.Equal(t, "w1", j.AssignedTo)
	assert.True(t, m.AssignmentLinked("j1", "w1"))

	sched, err := m.ListScheduledJobs(ctx, "b1", []string{"w1"}, start.Add(-time.Hour), start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, sched, 1)
	assert.Equal(t, 30, sched[0].EstimatedDurationMinutes)

	sched, err = m.ListScheduledJobs(ctx, "b1", []string{"w1"}, start.Add(time.Hour), start.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, sched)
}

func TestMemoryRoutePlanUpsert(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	plan := model.RoutePlan{BusinessID: "b1", UserID: "w1", RouteDate: "2024-06-10", JobIDs: []string{"j1"}, Status: "draft"}

	id1, err := m.UpsertRoutePlan(ctx, plan)
	require.NoError(t, err)
	plan.JobIDs = []string{"j1", "j2"}
	id2, err := m.UpsertRoutePlan(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	got, err := m.GetRoutePlan(ctx, "b1", id1)
	require.NoError(t, err)
	assert.Equal(t, []string{"j1", "j2"}, got.JobIDs)

	_, err = m.GetRoutePlan(ctx, "b2", id1)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.UpsertRoutePlan(ctx, model.RoutePlan{BusinessID: "b1", UserID: "w0", RouteDate: "2024-06-11"})
	require.NoError(t, err)
	list, err := m.ListRoutePlans(ctx, "b1", "", "")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "2024-06-10", list[0].RouteDate)

	list, err = m.ListRoutePlans(ctx, "b1", "2024-06-11", "w0")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMemoryUnassignedQueries(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.PutJob(model.Job{ID: "a", BusinessID: "b2"})
	m.PutJob(model.Job{ID: "b", BusinessID: "b1"})
	m.PutJob(model.Job{ID: "c", BusinessID: "b1", AssignedTo: "w1", Status: "scheduled"})
	m.PutJob(model.Job{ID: "d", BusinessID: "b1"})

	biz, err := m.ListBusinessesWithUnassignedJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1", "b2"}, biz)

	ids, err := m.ListUnassignedJobIDs(ctx, "b1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "d"}, ids)

	ids, err = m.ListUnassignedJobIDs(ctx, "b1", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}
