package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSweepSchedule runs the expiry sweep every ten minutes.
const DefaultSweepSchedule = "@every 10m"

// Sweeper purges idle sessions on a cron schedule.
type Sweeper struct {
	cron    *cron.Cron
	store   SessionStore
	logger  *zap.Logger
	onPurge func(int)
}

// NewSweeper registers the purge job; call Start to begin running it.
func NewSweeper(store SessionStore, schedule string, logger *zap.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	s := &Sweeper{
		cron:   cron.New(),
		store:  store,
		logger: logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.Sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Sweep runs one purge pass.
func (s *Sweeper) Sweep() {
	purged := s.store.PurgeExpired(context.Background(), time.Now())
	if purged > 0 {
		s.logger.Info("Purged expired sessions", zap.Int("count", purged))
		if s.onPurge != nil {
			s.onPurge(purged)
		}
	}
}

// OnPurge registers fn to be called with the count of every non-empty sweep.
func (s *Sweeper) OnPurge(fn func(int)) {
	s.onPurge = fn
}

func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
