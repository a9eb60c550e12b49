package responder

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/xaenox/rescue-bot/internal/geo"
	"github.com/xaenox/rescue-bot/internal/models"
)

const (
	// travel speed used for ETA estimates, in km/h
	citySpeedKmh   = 30.0
	turnoutMinutes = 5
	minETAMinutes  = 5
)

var (
	ErrNoUnitAvailable   = errors.New("no unit available")
	ErrUnknownUnit       = errors.New("unknown unit")
	ErrInvalidTransition = errors.New("status can only move forward")
)

// UnitState is a unit together with its current status.
type UnitState struct {
	models.Unit
	Status models.DispatchStatus `json:"status"`
}

// Assignment is the result of a successful Assign.
type Assignment struct {
	Unit       models.Unit
	DistanceKm float64
	ETAMinutes int
}

// Fleet tracks which units are free. It is safe for concurrent use.
type Fleet struct {
	mu    sync.Mutex
	units []UnitState
	byID  map[string]int
}

func NewFleet(units []models.Unit) *Fleet {
	f := &Fleet{
		units: make([]UnitState, len(units)),
		byID:  make(map[string]int, len(units)),
	}
	for i, u := range units {
		f.units[i] = UnitState{Unit: u, Status: models.StatusAvailable}
		f.byID[u.ID] = i
	}
	return f
}

// ETA estimates minutes to cover distanceKm at city speed plus turnout time,
// adjusted for urgency.
func ETA(distanceKm float64, urgency models.Urgency) int {
	eta := int(math.Round(distanceKm/citySpeedKmh*60)) + turnoutMinutes
	switch urgency {
	case models.UrgencyCritical:
		eta = max(minETAMinutes, eta-3)
	case models.UrgencyHigh:
	default:
		eta += 2
	}
	return eta
}

// Assign marks the nearest available unit of category as dispatched. Units
// with the requested speciality are preferred when any are free.
func (f *Fleet) Assign(category models.Category, p geo.Point, urgency models.Urgency, speciality string) (Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	best := f.nearest(category, p, speciality)
	if best < 0 && speciality != "" {
		best = f.nearest(category, p, "")
	}
	if best < 0 {
		return Assignment{}, fmt.Errorf("%w for %s", ErrNoUnitAvailable, category)
	}

	u := &f.units[best]
	u.Status = models.StatusDispatched
	dist := geo.Distance(p, geo.Point{Lat: u.Latitude, Lon: u.Longitude})
	return Assignment{
		Unit:       u.Unit,
		DistanceKm: math.Round(dist*100) / 100,
		ETAMinutes: ETA(dist, urgency),
	}, nil
}

func (f *Fleet) nearest(category models.Category, p geo.Point, speciality string) int {
	best, bestDist := -1, math.Inf(1)
	for i, u := range f.units {
		if u.Category != category || u.Status != models.StatusAvailable {
			continue
		}
		if speciality != "" && u.Speciality != speciality {
			continue
		}
		d := geo.Distance(p, geo.Point{Lat: u.Latitude, Lon: u.Longitude})
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// Advance moves a unit forward through dispatched, en_route and arrived.
func (f *Fleet) Advance(unitID string, status models.DispatchStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	i, ok := f.byID[unitID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUnit, unitID)
	}
	if status.Rank() <= f.units[i].Status.Rank() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, f.units[i].Status, status)
	}
	f.units[i].Status = status
	return nil
}

// Release returns a unit to the available pool.
func (f *Fleet) Release(unitID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	i, ok := f.byID[unitID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUnit, unitID)
	}
	f.units[i].Status = models.StatusAvailable
	return nil
}

// Units lists the units of category (all units when category is empty).
func (f *Fleet) Units(category models.Category) []UnitState {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []UnitState
	for _, u := range f.units {
		if category == "" || u.Category == category {
			out = append(out, u)
		}
	}
	return out
}

func (f *Fleet) Available(category models.Category) int {
	n := 0
	for _, u := range f.Units(category) {
		if u.Status == models.StatusAvailable {
			n++
		}
	}
	return n
}
