package model

import "time"

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// Priority of a job. Unknown values rank as normal.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank orders priorities: urgent < high < normal < low.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Job is the subset of a job record the assignment engine reads and writes.
type Job struct {
	ID                       string
	BusinessID               string
	JobNumber                string
	Location                 *GeoPoint
	CustomerLocation         *GeoPoint
	EstimatedDurationMinutes int
	Priority                 Priority
	Status                   string
	AssignedTo               string
	ScheduledStart           *time.Time
	ScheduledEnd             *time.Time
	RouteSequence            int
}

// Coordinates returns the job's own location, falling back to the customer's.
func (j Job) Coordinates() *GeoPoint {
	if j.Location != nil {
		return j.Location
	}
	return j.CustomerLocation
}

// Worker is a team member that can receive jobs.
type Worker struct {
	ID            string
	BusinessID    string
	Name          string
	Home          *GeoPoint
	MaxDailyJobs  int
	MaxDailyHours float64
}

// TimeOffRequest is an approved absence; both dates are inclusive.
type TimeOffRequest struct {
	UserID    string
	StartDate string
	EndDate   string
}

// AvailabilityRule is a weekly availability entry. DayOfWeek uses time.Weekday numbering.
type AvailabilityRule struct {
	UserID      string
	DayOfWeek   int
	StartTime   string
	EndTime     string
	IsAvailable bool
}

// ScheduledJob is an existing booking used to seed per-day workload.
type ScheduledJob struct {
	JobID                    string
	UserID                   string
	ScheduledStart           time.Time
	EstimatedDurationMinutes int
}

// Bulk assignment wire types

type DateRange struct {
	Start string `json:"start" validate:"required,datetime=2006-01-02"`
	End   string `json:"end" validate:"required,datetime=2006-01-02"`
}

type AssignConstraints struct {
	MaxJobsPerWorker   *int     `json:"maxJobsPerWorker,omitempty"` // <= 0 means unset
	PreferredWorkerIDs []string `json:"preferredWorkerIds,omitempty" validate:"omitempty,dive,required"`
}

type BulkAssignRequest struct {
	JobIDs          []string           `json:"jobIds" validate:"required,min=1,unique,dive,required"`
	DateRange       *DateRange         `json:"dateRange,omitempty"`
	BalanceWorkload *bool              `json:"balanceWorkload,omitempty"`
	Constraints     *AssignConstraints `json:"constraints,omitempty"`
}

// Assignment is one job placed on a worker's day. Date and DurationMinutes are
// internal bookkeeping for writeback and are not serialized.
type Assignment struct {
	JobID           string    `json:"jobId"`
	UserID          string    `json:"userId"`
	UserName        string    `json:"userName"`
	ScheduledStart  time.Time `json:"scheduledStart"`
	ScheduledEnd    time.Time `json:"scheduledEnd"`
	RoutePosition   int       `json:"routePosition"`
	Reasoning       string    `json:"reasoning"`
	Date            string    `json:"-"`
	DurationMinutes int       `json:"-"`
}

type UnassignedJob struct {
	JobID     string `json:"jobId"`
	JobNumber string `json:"jobNumber"`
	Reason    string `json:"reason"`
}

// WriteError records a persistence failure that did not abort the run.
type WriteError struct {
	JobID  string `json:"jobId,omitempty"`
	UserID string `json:"userId,omitempty"`
	Date   string `json:"date,omitempty"`
	Error  string `json:"error"`
}

type Summary struct {
	TotalJobs   int `json:"totalJobs"`
	Assigned    int `json:"assigned"`
	Unassigned  int `json:"unassigned"`
	WorkersUsed int `json:"workersUsed"`
}

type BulkAssignResponse struct {
	Success           bool            `json:"success"`
	Assignments       []Assignment    `json:"assignments"`
	UnassignedJobs    []UnassignedJob `json:"unassignedJobs"`
	RoutePlansCreated []string        `json:"routePlansCreated"`
	Summary           Summary         `json:"summary"`
	WriteErrors       []WriteError    `json:"writeErrors,omitempty"`
}

// RoutePlan is the per-worker, per-date ordered list of jobs.
type RoutePlan struct {
	ID           string    `json:"id"`
	BusinessID   string    `json:"businessId"`
	UserID       string    `json:"userId"`
	RouteDate    string    `json:"routeDate"`
	JobIDs       []string  `json:"jobIds"`
	Status       string    `json:"status"`
	Reasoning    string    `json:"reasoning"`
	TotalMinutes int       `json:"totalMinutes"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
