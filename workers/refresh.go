package workers

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"brokerage/models"
	"brokerage/services"
)

// StalenessChecker reports whether the cache has outlived its TTL.
type StalenessChecker interface {
	IsStale(ctx context.Context) (bool, error)
}

// RefreshWorker runs cache refreshes in the background. Triggers coalesce:
// while one is queued, further requests are dropped.
type RefreshWorker struct {
	refresher services.Refresher
	staleness StalenessChecker
	triggerCh chan models.RefreshTrigger
	done      chan struct{}
}

func NewRefreshWorker(refresher services.Refresher, staleness StalenessChecker) *RefreshWorker {
	return &RefreshWorker{
		refresher: refresher,
		staleness: staleness,
		triggerCh: make(chan models.RefreshTrigger, 1),
		done:      make(chan struct{}),
	}
}

// Trigger queues a refresh and reports whether this call queued it.
func (w *RefreshWorker) Trigger(trigger models.RefreshTrigger) bool {
	if w.refresher.Running() {
		return false
	}
	select {
	case w.triggerCh <- trigger:
		return true
	default:
		return false
	}
}

// Done is closed when Run returns.
func (w *RefreshWorker) Done() <-chan struct{} {
	return w.done
}

// Run processes triggers until ctx is cancelled. A non-zero staleEvery also
// polls the cache and refreshes it once the TTL has passed.
func (w *RefreshWorker) Run(ctx context.Context, staleEvery time.Duration) {
	defer close(w.done)

	var tick <-chan time.Time
	if staleEvery > 0 && w.staleness != nil {
		ticker := time.NewTicker(staleEvery)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Refresh worker stopping")
			return
		case trigger := <-w.triggerCh:
			w.run(ctx, trigger)
		case <-tick:
			stale, err := w.staleness.IsStale(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("Refresh worker: staleness check failed")
				continue
			}
			if stale {
				w.run(ctx, models.TriggerStale)
			}
		}
	}
}

func (w *RefreshWorker) run(ctx context.Context, trigger models.RefreshTrigger) {
	_, err := w.refresher.Refresh(ctx, trigger)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrRefreshInProgress):
		log.Debug().Str("trigger", string(trigger)).Msg("Refresh worker: another refresh is running")
	case ctx.Err() != nil:
		log.Info().Str("trigger", string(trigger)).Msg("Refresh worker: refresh cancelled by shutdown")
	default:
		log.Error().Err(err).Str("trigger", string(trigger)).Msg("Refresh worker: refresh failed")
	}
}
