package router

import (
	"context"
	"fmt"

	"github.com/xaenox/rescue-bot/internal/geo"
	"github.com/xaenox/rescue-bot/internal/models"
	"github.com/xaenox/rescue-bot/internal/storage"
)

// Thin operations used by the transports. Each runs under the session lock
// so it is ordered with Process.

func (r *Router) SetPermission(ctx context.Context, id string, granted bool, reason string) error {
	defer r.locks.Lock(id)()
	return r.sessions.SetPermission(ctx, id, granted, reason)
}

func (r *Router) SetGPSLocation(ctx context.Context, id string, lat, lon float64, accuracy *float64, address string) error {
	defer r.locks.Lock(id)()
	return r.sessions.SetGPSLocation(ctx, id, lat, lon, accuracy, address)
}

func (r *Router) SetManualLocation(ctx context.Context, id, address string, lat, lon *float64) error {
	defer r.locks.Lock(id)()
	return r.sessions.SetManualLocation(ctx, id, address, lat, lon)
}

func (r *Router) DenyLocation(ctx context.Context, id, reason string) error {
	defer r.locks.Lock(id)()
	return r.sessions.DenyLocation(ctx, id, reason)
}

func (r *Router) SetPhone(ctx context.Context, id, number, countryCode string) error {
	defer r.locks.Lock(id)()
	return r.sessions.SetPhone(ctx, id, number, countryCode)
}

func (r *Router) Session(ctx context.Context, id string) (*models.Session, bool) {
	return r.sessions.Get(ctx, id)
}

func (r *Router) History(ctx context.Context, id string) ([]models.HistoryEntry, error) {
	return r.sessions.RecentHistory(ctx, id, storage.HistoryLimit)
}

func (r *Router) ClearHistory(ctx context.Context, id string) error {
	defer r.locks.Lock(id)()
	return r.sessions.ClearHistory(ctx, id)
}

// SessionSummary is the short view of a session shown to users.
type SessionSummary struct {
	SessionID         string          `json:"session_id"`
	MessageCount      int             `json:"message_count"`
	HasLocation       bool            `json:"has_location"`
	HasPhone          bool            `json:"has_phone"`
	LastCategory      models.Category `json:"last_category,omitempty"`
	EmergencyDetected bool            `json:"emergency_detected"`
	AwaitingInput     []string        `json:"awaiting_input,omitempty"`
}

func (r *Router) Summary(ctx context.Context, id string) (SessionSummary, error) {
	s, ok := r.sessions.Get(ctx, id)
	if !ok {
		return SessionSummary{}, storage.ErrSessionNotFound
	}
	sum := SessionSummary{
		SessionID:         s.ID,
		MessageCount:      len(s.History),
		HasLocation:       s.Location != nil && s.Location.Source != models.SourceDenied,
		HasPhone:          s.Phone != nil,
		LastCategory:      s.LastCategory,
		EmergencyDetected: s.EmergencyDetected,
	}
	if s.Pending != nil {
		sum.AwaitingInput = s.Pending.Missing
	}
	return sum, nil
}

func (r *Router) Dispatches(ctx context.Context, sessionID string) ([]models.Dispatch, error) {
	return r.ledger.ListBySession(ctx, sessionID)
}

func (r *Router) Dispatch(ctx context.Context, id string) (models.Dispatch, error) {
	return r.ledger.Get(ctx, id)
}

// ServiceCount summarises one category of the catalog and fleet.
type ServiceCount struct {
	Facilities     int `json:"facilities"`
	Units          int `json:"units"`
	AvailableUnits int `json:"available_units"`
}

// Services reports what the loaded catalog and fleet can serve.
func (r *Router) Services() map[models.Category]ServiceCount {
	counts := r.index.Count()
	out := make(map[models.Category]ServiceCount, len(models.Responders))
	for _, c := range models.Responders {
		out[c] = ServiceCount{
			Facilities:     counts[c],
			Units:          len(r.fleet.Units(c)),
			AvailableUnits: r.fleet.Available(c),
		}
	}
	return out
}

// Nearby lists facilities of category around p, falling back to the whole
// category when none are inside radiusKm.
func (r *Router) Nearby(p geo.Point, radiusKm float64, category models.Category, limit int) ([]models.Facility, error) {
	if category != "" && !category.Valid() {
		return nil, fmt.Errorf("unknown category %q", category)
	}
	if limit <= 0 {
		limit = geo.UserLimit
	}
	if category == "" {
		return r.index.NearbyOrAll(p, radiusKm, limit), nil
	}
	return r.index.NearbyOrAll(p, radiusKm, limit, category), nil
}
