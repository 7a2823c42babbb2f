package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"brokerage/metrics"
	"brokerage/models"
)

// Refresher runs a refresh synchronously.
type Refresher interface {
	Refresh(ctx context.Context, trigger models.RefreshTrigger) (*models.RefreshRun, error)
	Running() bool
}

// Trigger requests a background refresh. Duplicate requests coalesce.
type Trigger interface {
	Trigger(trigger models.RefreshTrigger) bool
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

type PropertyService struct {
	store     PropertyStore
	refresher Refresher
	trigger   Trigger
	region    string
	ttl       time.Duration
	now       func() time.Time
}

func NewPropertyService(store PropertyStore, refresher Refresher, trigger Trigger, region string, ttl time.Duration) *PropertyService {
	return &PropertyService{
		store:     store,
		refresher: refresher,
		trigger:   trigger,
		region:    region,
		ttl:       ttl,
		now:       time.Now,
	}
}

// SetTrigger wires the background worker after construction; the worker
// itself depends on the refresher.
func (s *PropertyService) SetTrigger(t Trigger) {
	s.trigger = t
}

type PropertyPage struct {
	Items      []models.CachedProperty `json:"items"`
	Count      int                     `json:"count"`
	Limit      int                     `json:"limit"`
	Offset     int                     `json:"offset"`
	Stale      bool                    `json:"stale"`
	Refreshing bool                    `json:"refreshing"`
}

// ParseStatusFilter accepts active, under_contract, sold or all/empty.
func ParseStatusFilter(raw string) (models.ListingStatus, error) {
	switch s := models.ListingStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case "", "all":
		return "", nil
	case models.StatusActive, models.StatusUnderContract, models.StatusSold:
		return s, nil
	default:
		return "", fieldError("status", "must be one of: active under_contract sold all")
	}
}

// List serves listings from the cache. An empty cache is filled
// synchronously; a stale one is served as is while a background
// refresh is requested.
func (s *PropertyService) List(ctx context.Context, f models.PropertyFilter) (*PropertyPage, error) {
	if f.Limit <= 0 {
		f.Limit = defaultPageLimit
	}
	if f.Limit > maxPageLimit {
		f.Limit = maxPageLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	stats, err := s.store.CacheStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache stats: %w", err)
	}

	page := &PropertyPage{Limit: f.Limit, Offset: f.Offset}

	switch {
	case stats.Total == 0:
		log.Info().Msg("Properties: cache empty, refreshing before serving")
		_, err := s.refresher.Refresh(ctx, models.TriggerEmpty)
		if errors.Is(err, ErrRefreshInProgress) {
			page.Refreshing = true
		} else if err != nil {
			return nil, err
		}
	case s.isStale(stats):
		page.Stale = true
		if s.trigger != nil {
			if s.trigger.Trigger(models.TriggerStale) {
				log.Debug().Msg("Properties: cache stale, background refresh requested")
			}
			page.Refreshing = true
		}
	}

	items, err := s.store.ListProperties(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	if items == nil {
		items = []models.CachedProperty{}
	}
	page.Items = items
	page.Count = len(items)
	return page, nil
}

func (s *PropertyService) Get(ctx context.Context, listingID string) (*models.CachedProperty, error) {
	p, err := s.store.GetProperty(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

// IsStale reports whether the cache needs a refresh.
func (s *PropertyService) IsStale(ctx context.Context) (bool, error) {
	stats, err := s.store.CacheStats(ctx)
	if err != nil {
		return false, err
	}
	return s.isStale(stats), nil
}

func (s *PropertyService) isStale(stats *models.CacheStats) bool {
	if stats.Newest == nil {
		return true
	}
	return s.now().Sub(*stats.Newest) > s.ttl
}

func (s *PropertyService) Status(ctx context.Context) (*models.CacheStatus, error) {
	stats, err := s.store.CacheStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache stats: %w", err)
	}
	last, err := s.store.LatestRefreshRun(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	metrics.SetCacheRows(stats.Active, stats.UnderContract, stats.Inactive)

	return &models.CacheStatus{
		CacheStats: *stats,
		Region:     s.region,
		TTLSeconds: int(s.ttl.Seconds()),
		Stale:      s.isStale(stats),
		Refreshing: s.refresher.Running(),
		LastRun:    last,
	}, nil
}

func (s *PropertyService) Refresh(ctx context.Context) (*models.RefreshRun, error) {
	return s.refresher.Refresh(ctx, models.TriggerManual)
}

func (s *PropertyService) Clear(ctx context.Context) (int, error) {
	n, err := s.store.ClearProperties(ctx)
	if err != nil {
		return 0, fmt.Errorf("clear cache: %w", err)
	}
	log.Info().Int("rows", n).Msg("Properties: cache cleared")
	metrics.SetCacheRows(0, 0, 0)
	return n, nil
}

// Invalidate marks every row stale so the next read triggers a refresh.
func (s *PropertyService) Invalidate(ctx context.Context) error {
	if err := s.store.InvalidateProperties(ctx); err != nil {
		return fmt.Errorf("invalidate cache: %w", err)
	}
	log.Info().Msg("Properties: cache invalidated")
	return nil
}
