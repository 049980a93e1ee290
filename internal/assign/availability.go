package assign

import (
	"time"

	"fieldroute/internal/model"
)

// Availability answers whether a worker can be booked on a given date.
//
// A worker on approved time off covering the date is unavailable. Otherwise the
// weekly rules for that weekday decide; a worker with no rule for the weekday is
// treated as available.
type Availability struct {
	timeOff map[string][]model.TimeOffRequest
	rules   map[string]map[time.Weekday][]model.AvailabilityRule
}

func NewAvailability(timeOff []model.TimeOffRequest, rules []model.AvailabilityRule) *Availability {
	a := &Availability{
		timeOff: map[string][]model.TimeOffRequest{},
		rules:   map[string]map[time.Weekday][]model.AvailabilityRule{},
	}
	for _, t := range timeOff {
		a.timeOff[t.UserID] = append(a.timeOff[t.UserID], t)
	}
	for _, r := range rules {
		byDay := a.rules[r.UserID]
		if byDay == nil {
			byDay = map[time.Weekday][]model.AvailabilityRule{}
			a.rules[r.UserID] = byDay
		}
		wd := time.Weekday(r.DayOfWeek)
		byDay[wd] = append(byDay[wd], r)
	}
	return a
}

// IsAvailable reports whether workerID may take work on date.
func (a *Availability) IsAvailable(workerID string, date time.Time) bool {
	day := date.Format(model.DateLayout)
	for _, t := range a.timeOff[workerID] {
		// YYYY-MM-DD compares correctly as a string
		if t.StartDate <= day && day <= t.EndDate {
			return false
		}
	}
	rules := a.rules[workerID][date.Weekday()]
	if len(rules) == 0 {
		return true
	}
	for _, r := range rules {
		if r.IsAvailable {
			return true
		}
	}
	return false
}
