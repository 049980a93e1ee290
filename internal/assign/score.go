package assign

import (
	"fmt"
	"math"
	"strings"

	"fieldroute/internal/model"
)

// Weights tune the slot score:
//
//	score = Base
//	      - min(km(home, job) * DistanceFactor, DistanceCap)   if both coordinates are known
//	      + remainingJobs * BalanceFactor                      if workload balancing is on
//	      + PreferredBonus                                     if the worker is preferred
type Weights struct {
	Base           float64
	DistanceFactor float64
	DistanceCap    float64
	BalanceFactor  float64
	PreferredBonus float64
}

func DefaultWeights() Weights {
	return Weights{Base: 100, DistanceFactor: 2, DistanceCap: 50, BalanceFactor: 3, PreferredBonus: 20}
}

// HaversineKm is the great-circle distance between two points in kilometres.
func HaversineKm(a, b model.GeoPoint) float64 {
	const R = 6371.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return R * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

type slotScore struct {
	value     float64
	distKm    float64
	hasDist   bool
	remaining int
	balanced  bool
	preferred bool
}

func (w Weights) score(worker model.Worker, job model.Job, c Capacity, balance, preferred bool) slotScore {
	s := slotScore{value: w.Base, remaining: c.RemainingJobs, balanced: balance, preferred: preferred}
	if loc := job.Coordinates(); loc != nil && worker.Home != nil {
		s.distKm = HaversineKm(*worker.Home, *loc)
		s.hasDist = true
		s.value -= math.Min(s.distKm*w.DistanceFactor, w.DistanceCap)
	}
	if balance {
		s.value += float64(c.RemainingJobs) * w.BalanceFactor
	}
	if preferred {
		s.value += w.PreferredBonus
	}
	return s
}

func (s slotScore) reasoning() string {
	parts := []string{fmt.Sprintf("score %.1f", s.value)}
	if s.hasDist {
		parts = append(parts, fmt.Sprintf("%.1f km from home", s.distKm))
	} else {
		parts = append(parts, "distance unknown")
	}
	if s.balanced {
		parts = append(parts, fmt.Sprintf("%d job slots remaining", s.remaining))
	}
	if s.preferred {
		parts = append(parts, "preferred worker")
	}
	return strings.Join(parts, "; ")
}
