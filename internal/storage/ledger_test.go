package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/rescue-bot/internal/models"
	"go.uber.org/zap"
)

func TestMemoryLedger(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	now := time.Now()

	d1 := models.Dispatch{ID: "d1", SessionID: "s1", Status: models.StatusDispatched, CreatedAt: now}
	d2 := models.Dispatch{ID: "d2", SessionID: "s1", Status: models.StatusDispatched, CreatedAt: now.Add(time.Second)}
	d3 := models.Dispatch{ID: "d3", SessionID: "s2", Status: models.StatusDispatched, CreatedAt: now}
	for _, d := range []models.Dispatch{d2, d1, d3} {
		require.NoError(t, l.Record(ctx, d))
	}

	list, err := l.ListBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "d1", list[0].ID)
	assert.Equal(t, "d2", list[1].ID)

	d1.Status = models.StatusEnRoute
	require.NoError(t, l.Update(ctx, d1))
	got, err := l.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusEnRoute, got.Status)

	assert.ErrorIs(t, l.Update(ctx, models.Dispatch{ID: "nope"}), ErrDispatchNotFound)
	_, err = l.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrDispatchNotFound)
}

func TestDatabaseConfigDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", DBName: "rescue", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=rescue sslmode=disable", c.DSN())
}

func TestSweeper(t *testing.T) {
	s := NewMemoryStorage(time.Minute)
	s.now = func() time.Time { return time.Now().Add(-time.Hour) }
	_, err := s.Create(context.Background())
	require.NoError(t, err)

	sweeper, err := NewSweeper(s, "", zap.NewNop())
	require.NoError(t, err)
	var reported int
	sweeper.OnPurge(func(n int) { reported = n })
	sweeper.Sweep()
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 1, reported)

	sweeper.Start()
	sweeper.Stop()
}

func TestSweeper_InvalidSchedule(t *testing.T) {
	_, err := NewSweeper(NewMemoryStorage(0), "not a schedule", zap.NewNop())
	assert.Error(t, err)
}
