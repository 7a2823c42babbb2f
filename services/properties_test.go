package services

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerage/mls"
	"brokerage/models"
)

type recordingTrigger struct {
	got []models.RefreshTrigger
}

func (r *recordingTrigger) Trigger(t models.RefreshTrigger) bool {
	r.got = append(r.got, t)
	return len(r.got) == 1
}

func TestListOnEmptyCacheRefreshesSynchronously(t *testing.T) {
	ctx := context.Background()
	refresher, fetcher, store := newRefreshFixture(t, testFeed())
	fetcher.set(mls.FetchResult{Pages: 1, Items: []json.RawMessage{listing("A", "Active"), listing("B", "Pending")}})

	trig := &recordingTrigger{}
	svc := NewPropertyService(store, refresher, trig, "north", 15*time.Minute)

	page, err := svc.List(ctx, models.PropertyFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Count)
	assert.Equal(t, defaultPageLimit, page.Limit)
	assert.False(t, page.Stale)
	assert.Equal(t, 1, fetcher.calls)
	assert.Empty(t, trig.got)
}

func TestListOnStaleCacheTriggersBackgroundRefresh(t *testing.T) {
	ctx := context.Background()
	refresher, fetcher, store := newRefreshFixture(t, testFeed())
	fetcher.set(mls.FetchResult{Pages: 1, Items: []json.RawMessage{listing("A", "Active")}})
	_, err := refresher.Refresh(ctx, models.TriggerManual)
	require.NoError(t, err)

	trig := &recordingTrigger{}
	svc := NewPropertyService(store, refresher, trig, "north", 15*time.Minute)
	svc.now = func() time.Time { return time.Now().Add(time.Hour) }

	page, err := svc.List(ctx, models.PropertyFilter{})
	require.NoError(t, err)
	assert.True(t, page.Stale)
	assert.True(t, page.Refreshing)
	assert.Equal(t, 1, page.Count)
	assert.Equal(t, []models.RefreshTrigger{models.TriggerStale}, trig.got)
	assert.Equal(t, 1, fetcher.calls)
}

func TestListFreshCacheWithUnmappedStatusesDoesNotRefetch(t *testing.T) {
	ctx := context.Background()
	refresher, fetcher, store := newRefreshFixture(t, testFeed())
	fetcher.set(mls.FetchResult{Pages: 1, Items: []json.RawMessage{listing("A1", "ComingSoon"), listing("A2", "Hold")}})

	svc := NewPropertyService(store, refresher, &recordingTrigger{}, "north", 15*time.Minute)
	for i := 0; i < 3; i++ {
		page, err := svc.List(ctx, models.PropertyFilter{})
		require.NoError(t, err)
		assert.Equal(t, 2, page.Count)
		assert.False(t, page.Stale)
	}
	assert.Equal(t, 1, fetcher.calls)

	a1, err := store.GetProperty(ctx, "A1")
	require.NoError(t, err)
	require.NotNil(t, a1)
	assert.Equal(t, models.StatusActive, a1.Status)
}

func TestListFreshCacheServesDirectly(t *testing.T) {
	ctx := context.Background()
	refresher, fetcher, store := newRefreshFixture(t, testFeed())
	fetcher.set(mls.FetchResult{Pages: 1, Items: []json.RawMessage{listing("A", "Active"), listing("B", "Active")}})
	_, err := refresher.Refresh(ctx, models.TriggerManual)
	require.NoError(t, err)

	trig := &recordingTrigger{}
	svc := NewPropertyService(store, refresher, trig, "north", 15*time.Minute)

	page, err := svc.List(ctx, models.PropertyFilter{Limit: 10000, Offset: -3})
	require.NoError(t, err)
	assert.False(t, page.Stale)
	assert.False(t, page.Refreshing)
	assert.Equal(t, maxPageLimit, page.Limit)
	assert.Zero(t, page.Offset)
	assert.Equal(t, 2, page.Count)
	assert.Empty(t, trig.got)
}

func TestInvalidateMakesCacheStale(t *testing.T) {
	ctx := context.Background()
	refresher, fetcher, store := newRefreshFixture(t, testFeed())
	fetcher.set(mls.FetchResult{Pages: 1, Items: []json.RawMessage{listing("A", "Active")}})
	_, err := refresher.Refresh(ctx, models.TriggerManual)
	require.NoError(t, err)

	svc := NewPropertyService(store, refresher, nil, "north", 15*time.Minute)
	stale, err := svc.IsStale(ctx)
	require.NoError(t, err)
	assert.False(t, stale)

	require.NoError(t, svc.Invalidate(ctx))
	stale, err = svc.IsStale(ctx)
	require.NoError(t, err)
	assert.True(t, stale)

	status, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Stale)
	assert.Equal(t, "north", status.Region)
	assert.Equal(t, 900, status.TTLSeconds)
	require.NotNil(t, status.LastRun)
	assert.Equal(t, models.RunStatusCompleted, status.LastRun.Status)
}

func TestGetMissingListing(t *testing.T) {
	refresher, _, store := newRefreshFixture(t, testFeed())
	svc := NewPropertyService(store, refresher, nil, "north", time.Minute)

	_, err := svc.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClearEmptiesCache(t *testing.T) {
	ctx := context.Background()
	refresher, fetcher, store := newRefreshFixture(t, testFeed())
	fetcher.set(mls.FetchResult{Pages: 1, Items: []json.RawMessage{listing("A", "Active"), listing("B", "Active")}})
	_, err := refresher.Refresh(ctx, models.TriggerManual)
	require.NoError(t, err)

	svc := NewPropertyService(store, refresher, nil, "north", time.Minute)
	n, err := svc.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestParseStatusFilter(t *testing.T) {
	s, err := ParseStatusFilter("Under_Contract")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnderContract, s)

	s, err = ParseStatusFilter("all")
	require.NoError(t, err)
	assert.Empty(t, s)

	_, err = ParseStatusFilter("gone")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}
