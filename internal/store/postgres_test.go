package store

import (
	"database/sql"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeo(t *testing.T) {
	assert.Nil(t, geo(sql.NullFloat64{}, sql.NullFloat64{Float64: 1, Valid: true}))
	assert.Nil(t, geo(sql.NullFloat64{Float64: 1, Valid: true}, sql.NullFloat64{}))
	g := geo(sql.NullFloat64{Float64: 40.5, Valid: true}, sql.NullFloat64{Float64: -73.9, Valid: true})
	require.NotNil(t, g)
	assert.Equal(t, 40.5, g.Lat)
	assert.Equal(t, -73.9, g.Lng)
}

func TestTextArray(t *testing.T) {
	assert.NotNil(t, textArray(nil))
	assert.Empty(t, textArray(nil))
	assert.Equal(t, []string{"a", "b"}, textArray([]string{"a", "b"}))
}

func TestJobRowFallsBackToCustomerLocation(t *testing.T) {
	start := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	r := jobRow{
		ID:       "j1",
		CustLat:  sql.NullFloat64{Float64: 1, Valid: true},
		CustLng:  sql.NullFloat64{Float64: 2, Valid: true},
		Priority: "high",
		Start:    sql.NullTime{Time: start, Valid: true},
	}
	j := r.toModel()
	assert.Nil(t, j.Location)
	require.NotNil(t, j.Coordinates())
	assert.Equal(t, 2.0, j.Coordinates().Lng)
	require.NotNil(t, j.ScheduledStart)
	assert.Equal(t, start, *j.ScheduledStart)
	assert.Nil(t, j.ScheduledEnd)
}

func TestRoutePlanRowDecodesJobIDs(t *testing.T) {
	rp, err := routePlanRow{ID: "p1", RouteDate: "2024-06-10", JobIDs: `["a","b"]`, Reasoning: sql.NullString{String: "r", Valid: true}}.toModel()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, rp.JobIDs)
	assert.Equal(t, "r", rp.Reasoning)

	_, err = routePlanRow{ID: "p2", JobIDs: `{a,b}`}.toModel()
	assert.Error(t, err)
}

func TestEmbeddedMigrations(t *testing.T) {
	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)
	body, err := migrationFS.ReadFile(names[0])
	require.NoError(t, err)
	for _, table := range []string{"jobs", "team_members", "time_off_requests", "team_availability", "job_assignments", "route_plans"} {
		assert.True(t, strings.Contains(string(body), "CREATE TABLE IF NOT EXISTS "+table+" "), table)
	}
}
