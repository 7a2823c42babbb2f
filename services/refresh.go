package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"brokerage/config"
	"brokerage/identity"
	"brokerage/metrics"
	"brokerage/mls"
	"brokerage/models"
)

// RefreshService syncs the MLS feed into the property cache. One refresh
// runs at a time across every process sharing the store.
type RefreshService struct {
	store   PropertyStore
	fetcher ListingFetcher
	region  string
	feed    config.MLSConfig
	running atomic.Bool
	now     func() time.Time
}

func NewRefreshService(store PropertyStore, fetcher ListingFetcher, region string, feed config.MLSConfig) *RefreshService {
	return &RefreshService{
		store:   store,
		fetcher: fetcher,
		region:  region,
		feed:    feed,
		now:     time.Now,
	}
}

// Running reports whether this process is refreshing right now.
func (s *RefreshService) Running() bool {
	return s.running.Load()
}

// Query is the OData request issued for the region's feed.
func (s *RefreshService) Query() mls.Query {
	return mls.Query{
		Top:     s.feed.PageSize,
		Filter:  mls.StatusFilter(s.feed.StatusField, s.feed.Statuses, s.feed.OfficeFilterField, s.feed.OfficeID),
		Select:  s.feed.Select,
		OrderBy: s.feed.OrderBy,
	}
}

// Refresh pulls the feed and reconciles the cache. It returns
// ErrRefreshInProgress without side effects if another refresh holds the lock.
func (s *RefreshService) Refresh(ctx context.Context, trigger models.RefreshTrigger) (*models.RefreshRun, error) {
	release, ok, err := s.store.AcquireRefreshLock(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire refresh lock: %w", err)
	}
	if !ok {
		metrics.RefreshInProgressRejected.Inc()
		log.Info().Str("trigger", string(trigger)).Msg("Refresh: skipped, another refresh holds the lock")
		return nil, ErrRefreshInProgress
	}
	defer release()

	s.running.Store(true)
	defer s.running.Store(false)

	start := s.now()
	run := &models.RefreshRun{
		Region:    s.region,
		Trigger:   trigger,
		StartedAt: start.UTC(),
		Status:    models.RunStatusRunning,
	}
	if err := s.store.CreateRefreshRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create refresh run: %w", err)
	}

	log.Info().Int64("run_id", run.ID).Str("region", s.region).Str("trigger", string(trigger)).Msg("Refresh: starting")

	syncErr := s.sync(ctx, run)
	if syncErr != nil {
		run.Status = models.RunStatusFailed
		run.Error = syncErr.Error()
	}

	finished := s.now().UTC()
	run.FinishedAt = &finished

	// record the outcome even when the caller's context is gone
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.store.FinishRefreshRun(finishCtx, run); err != nil {
		log.Error().Err(err).Int64("run_id", run.ID).Msg("Refresh: failed to record run")
	}
	s.publishCacheGauges(finishCtx)

	metrics.RefreshRuns.WithLabelValues(string(trigger), string(run.Status)).Inc()
	metrics.RefreshDuration.Observe(finished.Sub(start).Seconds())

	event := log.Info()
	if run.Status != models.RunStatusCompleted {
		event = log.Warn()
	}
	event.Int64("run_id", run.ID).
		Str("status", string(run.Status)).
		Int("pages", run.Pages).
		Int("fetched", run.Fetched).
		Int("inserted", run.Inserted).
		Int("updated", run.Updated).
		Int("unchanged", run.Unchanged).
		Int("deactivated", run.Deactivated).
		Dur("took", finished.Sub(start)).
		Msg("Refresh: finished")

	if syncErr != nil {
		return run, syncErr
	}
	return run, nil
}

func (s *RefreshService) sync(ctx context.Context, run *models.RefreshRun) error {
	// 1. Pull every page the feed will give us
	res := s.fetcher.FetchAll(ctx, s.feed.Resource, s.Query(), s.feed.MaxPages)
	run.Pages = res.Pages
	if res.Err != nil && len(res.Items) == 0 {
		return &UpstreamError{Err: res.Err}
	}

	// 2. Normalize and filter
	listings, skipped := s.normalize(res.Items)
	run.Fetched = len(listings)
	if skipped > 0 {
		metrics.ListingsProcessed.WithLabelValues("skipped").Add(float64(skipped))
	}

	// 3. Diff against what is cached
	existing, err := s.store.ExistingHashes(ctx)
	if err != nil {
		return fmt.Errorf("load existing hashes: %w", err)
	}

	now := s.now().UTC()
	var upserts []models.CachedProperty
	var unchanged []string
	keep := make([]string, 0, len(listings))

	for _, l := range listings {
		keep = append(keep, l.ListingID)
		l.LastUpdated = now
		l.IsActive = true

		prev, found := existing[l.ListingID]
		switch {
		case !found:
			run.Inserted++
			upserts = append(upserts, l)
		case prev != l.ContentHash:
			run.Updated++
			upserts = append(upserts, l)
		default:
			run.Unchanged++
			unchanged = append(unchanged, l.ListingID)
		}
	}

	if err := s.store.UpsertProperties(ctx, upserts); err != nil {
		return fmt.Errorf("upsert properties: %w", err)
	}
	if err := s.store.TouchProperties(ctx, unchanged, now); err != nil {
		return fmt.Errorf("touch properties: %w", err)
	}
	metrics.ListingsProcessed.WithLabelValues("inserted").Add(float64(run.Inserted))
	metrics.ListingsProcessed.WithLabelValues("updated").Add(float64(run.Updated))
	metrics.ListingsProcessed.WithLabelValues("unchanged").Add(float64(run.Unchanged))

	// 4. Retire listings that left the feed, only when we saw all of it
	switch {
	case !res.Complete():
		log.Warn().Bool("truncated", res.Truncated).Err(res.Err).Msg("Refresh: incomplete feed, keeping vanished listings active")
	case len(keep) == 0:
		log.Warn().Msg("Refresh: feed returned no listings, keeping cache as is")
	default:
		n, err := s.store.DeactivateMissing(ctx, keep)
		if err != nil {
			return fmt.Errorf("deactivate missing: %w", err)
		}
		run.Deactivated = n
		metrics.ListingsProcessed.WithLabelValues("deactivated").Add(float64(n))
	}

	run.Status = models.RunStatusCompleted
	if res.Err != nil {
		run.Status = models.RunStatusPartial
		run.Error = res.Err.Error()
	}
	return nil
}

// normalize extracts key and status from each vendor record, drops records
// without a key, dedupes by key (last occurrence wins) and applies the
// active-only filter.
func (s *RefreshService) normalize(items []json.RawMessage) ([]models.CachedProperty, int) {
	index := make(map[string]int, len(items))
	out := make([]models.CachedProperty, 0, len(items))
	skipped := 0

	for _, item := range items {
		var fields map[string]any
		if err := json.Unmarshal(item, &fields); err != nil {
			skipped++
			continue
		}

		key := firstString(fields, s.feed.KeyField, s.feed.FallbackKeyField)
		if key == "" {
			skipped++
			continue
		}

		rawStatus := firstString(fields, s.feed.StatusField, s.feed.FallbackStatusField)
		if s.feed.ActiveOnly && !models.IsStrictlyActive(rawStatus) {
			skipped++
			continue
		}

		p := models.CachedProperty{
			ListingID:    key,
			PropertyData: []byte(item),
			Status:       models.ParseStatus(rawStatus),
			ContentHash:  identity.ContentHash(item),
		}

		if i, dup := index[key]; dup {
			out[i] = p
			skipped++
			continue
		}
		index[key] = len(out)
		out = append(out, p)
	}

	return out, skipped
}

func firstString(fields map[string]any, names ...string) string {
	for _, name := range names {
		if name == "" {
			continue
		}
		switch v := fields[name].(type) {
		case string:
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func (s *RefreshService) publishCacheGauges(ctx context.Context) {
	stats, err := s.store.CacheStats(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Refresh: could not read cache stats")
		return
	}
	metrics.SetCacheRows(stats.Active, stats.UnderContract, stats.Inactive)
}
