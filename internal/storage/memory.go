package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/rescue-bot/internal/geo"
	"github.com/xaenox/rescue-bot/internal/models"
)

// DefaultCountryCode is applied when a phone number arrives without one.
const DefaultCountryCode = "+92"

type MemoryStorage struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	timeout  time.Duration
	now      func() time.Time
	onExpire func(ctx context.Context, id string)
}

func NewMemoryStorage(timeout time.Duration) *MemoryStorage {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &MemoryStorage{
		sessions: make(map[string]*models.Session),
		timeout:  timeout,
		now:      time.Now,
	}
}

// Session methods
func (s *MemoryStorage) Create(ctx context.Context) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	session := &models.Session{
		ID:           uuid.New().String(),
		Permission:   models.Permission{Granted: false, RequestedAt: now},
		History:      []models.HistoryEntry{},
		CreatedAt:    now,
		LastActivity: now,
	}
	s.sessions[session.ID] = session
	return session.Clone(), nil
}

func (s *MemoryStorage) Get(ctx context.Context, id string) (*models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if session, exists := s.sessions[id]; exists {
		return session.Clone(), true
	}
	return nil, false
}

// update applies fn to the stored session under the write lock and bumps LastActivity.
func (s *MemoryStorage) update(id string, fn func(session *models.Session, now time.Time)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[id]
	if !exists {
		return ErrSessionNotFound
	}
	now := s.now()
	fn(session, now)
	session.LastActivity = now
	return nil
}

func (s *MemoryStorage) SetPermission(ctx context.Context, id string, granted bool, reason string) error {
	return s.update(id, func(session *models.Session, now time.Time) {
		session.Permission = models.Permission{Granted: granted, DeniedReason: reason, RequestedAt: now}
	})
}

func (s *MemoryStorage) SetGPSLocation(ctx context.Context, id string, lat, lon float64, accuracy *float64, address string) error {
	return s.update(id, func(session *models.Session, now time.Time) {
		session.Permission.Granted = true
		session.Permission.DeniedReason = ""
		session.Location = &models.Location{
			Latitude:  models.Float(lat),
			Longitude: models.Float(lon),
			Address:   address,
			Source:    models.SourceGPS,
			Accuracy:  copyFloat(accuracy),
			UpdatedAt: now,
		}
	})
}

func (s *MemoryStorage) SetManualLocation(ctx context.Context, id string, address string, lat, lon *float64) error {
	return s.update(id, func(session *models.Session, now time.Time) {
		loc := &models.Location{
			Address:   address,
			Source:    models.SourceManual,
			UpdatedAt: now,
		}
		if lat != nil && lon != nil {
			loc.Latitude = copyFloat(lat)
			loc.Longitude = copyFloat(lon)
		} else {
			p, _ := geo.Geocode(address)
			loc.Latitude = models.Float(p.Lat)
			loc.Longitude = models.Float(p.Lon)
		}
		session.Location = loc
	})
}

// DenyLocation records a refused permission. A manual address already on the
// session stays in place as the substitute.
func (s *MemoryStorage) DenyLocation(ctx context.Context, id string, reason string) error {
	return s.update(id, func(session *models.Session, now time.Time) {
		session.Permission = models.Permission{Granted: false, DeniedReason: reason, RequestedAt: now}
		if session.Location != nil && session.Location.Source == models.SourceManual {
			return
		}
		session.Location = &models.Location{Source: models.SourceDenied, UpdatedAt: now}
	})
}

func (s *MemoryStorage) SetPhone(ctx context.Context, id string, number, countryCode string) error {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	return s.update(id, func(session *models.Session, now time.Time) {
		// No OTP round trip yet; a number the user typed counts as verified.
		session.Phone = &models.Phone{
			Number:      number,
			CountryCode: countryCode,
			Verified:    true,
			Method:      "user_provided",
		}
	})
}

func (s *MemoryStorage) SetClassification(ctx context.Context, id string, category models.Category, requestType models.RequestType, emergency bool) error {
	return s.update(id, func(session *models.Session, now time.Time) {
		session.LastCategory = category
		session.RequestType = requestType
		session.EmergencyDetected = session.EmergencyDetected || emergency
	})
}

// SetPending stores the emergency awaiting input; nil clears it.
func (s *MemoryStorage) SetPending(ctx context.Context, id string, pending *models.PendingRequest) error {
	return s.update(id, func(session *models.Session, now time.Time) {
		session.Pending = pending.Clone()
		if session.Pending != nil && session.Pending.CreatedAt.IsZero() {
			session.Pending.CreatedAt = now
		}
	})
}

// History methods
func (s *MemoryStorage) AppendHistory(ctx context.Context, id string, role, content string) error {
	return s.update(id, func(session *models.Session, now time.Time) {
		session.History = append(session.History, models.HistoryEntry{
			Role:      role,
			Content:   content,
			Timestamp: now,
		})
		if len(session.History) > HistoryLimit {
			trimmed := make([]models.HistoryEntry, HistoryLimit)
			copy(trimmed, session.History[len(session.History)-HistoryLimit:])
			session.History = trimmed
		}
	})
}

func (s *MemoryStorage) RecentHistory(ctx context.Context, id string, n int) ([]models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[id]
	if !exists {
		return nil, ErrSessionNotFound
	}
	if n <= 0 {
		return []models.HistoryEntry{}, nil
	}
	start := len(session.History) - n
	if start < 0 {
		start = 0
	}
	return append([]models.HistoryEntry(nil), session.History[start:]...), nil
}

func (s *MemoryStorage) ClearHistory(ctx context.Context, id string) error {
	return s.update(id, func(session *models.Session, now time.Time) {
		session.History = []models.HistoryEntry{}
	})
}

// OnExpire registers fn to be called with the id of every purged session,
// after the session is gone.
func (s *MemoryStorage) OnExpire(fn func(ctx context.Context, id string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExpire = fn
}

// PurgeExpired removes sessions idle for longer than the timeout and returns how many went.
func (s *MemoryStorage) PurgeExpired(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	var purged []string
	for id, session := range s.sessions {
		if now.Sub(session.LastActivity) > s.timeout {
			delete(s.sessions, id)
			purged = append(purged, id)
		}
	}
	onExpire := s.onExpire
	s.mu.Unlock()

	if onExpire != nil {
		for _, id := range purged {
			onExpire(ctx, id)
		}
	}
	return len(purged)
}

// Len returns the number of live sessions.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*models.Session)
	return nil
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
