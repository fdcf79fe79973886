package session

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/wfunc/babyfoot/logger"
	"github.com/wfunc/babyfoot/models"
	"github.com/wfunc/babyfoot/persistence"
)

// SweepExpired flips every open session past its expiry to expired and
// returns how many were changed.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	open, err := persistence.QueryAll[models.Session](ctx, m.store, models.CollectionSessions,
		persistence.In(models.FieldStatus, string(models.SessionWaiting), string(models.SessionReady)),
	)
	if err != nil {
		return 0, err
	}

	now := m.clock.Now()
	swept := 0
	for _, s := range open {
		if !s.IsExpired(now) {
			continue
		}
		_, written, err := persistence.MutateWritten(ctx, m.store, models.CollectionSessions, s.ID, func(s *models.Session) error {
			return ApplyExpire(s, now)
		})
		if errors.Is(err, persistence.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return swept, err
		}
		if written {
			swept++
		}
	}
	return swept, nil
}

// StartSweeper runs SweepExpired every interval until StopSweeper.
func (m *Manager) StartSweeper(interval time.Duration) error {
	s, err := gocron.NewScheduler(gocron.WithClock(m.clock))
	if err != nil {
		return err
	}
	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()
			n, err := m.SweepExpired(ctx)
			if err != nil {
				logger.Log.Errorw("sweep expired sessions", "error", err)
				return
			}
			if n > 0 {
				logger.Log.Infow("expired sessions swept", "count", n)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return err
	}
	s.Start()
	m.scheduler = s
	return nil
}

func (m *Manager) StopSweeper() error {
	if m.scheduler == nil {
		return nil
	}
	err := m.scheduler.Shutdown()
	m.scheduler = nil
	return err
}
