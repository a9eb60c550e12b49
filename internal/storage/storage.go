package storage

import (
	"context"
	"errors"
	"time"

	"github.com/xaenox/rescue-bot/internal/models"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrDispatchNotFound = errors.New("dispatch not found")
)

const (
	// HistoryLimit is the number of chat entries retained per session.
	HistoryLimit = 30
	// RecentWindow is how many entries are handed to classifiers and responders.
	RecentWindow = 15
	// DefaultSessionTimeout is the inactivity window after which a session is purged.
	DefaultSessionTimeout = 24 * time.Hour
)

// SessionStore owns every Session. Reads return copies; mutations on an unknown
// id return ErrSessionNotFound.
type SessionStore interface {
	Create(ctx context.Context) (*models.Session, error)
	Get(ctx context.Context, id string) (*models.Session, bool)

	SetPermission(ctx context.Context, id string, granted bool, reason string) error
	SetGPSLocation(ctx context.Context, id string, lat, lon float64, accuracy *float64, address string) error
	SetManualLocation(ctx context.Context, id string, address string, lat, lon *float64) error
	DenyLocation(ctx context.Context, id string, reason string) error
	SetPhone(ctx context.Context, id string, number, countryCode string) error
	SetClassification(ctx context.Context, id string, category models.Category, requestType models.RequestType, emergency bool) error
	SetPending(ctx context.Context, id string, pending *models.PendingRequest) error

	AppendHistory(ctx context.Context, id string, role, content string) error
	RecentHistory(ctx context.Context, id string, n int) ([]models.HistoryEntry, error)
	ClearHistory(ctx context.Context, id string) error

	PurgeExpired(ctx context.Context, now time.Time) int
	Close() error
}

// DispatchLedger keeps every dispatch decision for the life of the process.
type DispatchLedger interface {
	Record(ctx context.Context, d models.Dispatch) error
	Update(ctx context.Context, d models.Dispatch) error
	Get(ctx context.Context, id string) (models.Dispatch, error)
	ListBySession(ctx context.Context, sessionID string) ([]models.Dispatch, error)
	Close() error
}
