package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"brokerage/config"
	"brokerage/models"
)

// Triggerable queues a background refresh.
type Triggerable interface {
	Trigger(trigger models.RefreshTrigger) bool
}

// Scheduler fires scheduled refreshes, by cron expression or fixed interval.
// Cron wins when both are set.
type Scheduler struct {
	cfg    config.SchedulerConfig
	target Triggerable
	cron   *cron.Cron
	ticker *time.Ticker
	stopCh chan struct{}
}

func New(cfg config.SchedulerConfig, target Triggerable) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		target: target,
		cron:   cron.New(),
		stopCh: make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	switch {
	case s.cfg.Cron != "":
		log.Info().Str("cron", s.cfg.Cron).Msg("Starting scheduler")
		if _, err := s.cron.AddFunc(s.cfg.Cron, s.fire); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	case s.cfg.Interval > 0:
		log.Info().Dur("interval", s.cfg.Interval).Msg("Starting scheduler")
		s.ticker = time.NewTicker(s.cfg.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.fire()
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	default:
		log.Info().Msg("No schedule configured, refreshes run on demand and on staleness only")
	}
	return nil
}

func (s *Scheduler) fire() {
	if s.target.Trigger(models.TriggerSchedule) {
		log.Info().Msg("Scheduled refresh queued")
	} else {
		log.Debug().Msg("Scheduled refresh skipped, one is already pending or running")
	}
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
}
