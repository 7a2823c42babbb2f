package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerage/config"
	"brokerage/mls"
	"brokerage/models"
	"brokerage/storage"
)

type fakeFetcher struct {
	mu     sync.Mutex
	result mls.FetchResult
	block  chan struct{} // when set, FetchAll waits on it
	calls  int
	lastQ  mls.Query
}

func (f *fakeFetcher) FetchAll(_ context.Context, _ string, q mls.Query, _ int) *mls.FetchResult {
	f.mu.Lock()
	f.calls++
	f.lastQ = q
	block := f.block
	res := f.result
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	return &res
}

func (f *fakeFetcher) set(res mls.FetchResult) {
	f.mu.Lock()
	f.result = res
	f.mu.Unlock()
}

func listing(key, status string, extra ...string) json.RawMessage {
	body := fmt.Sprintf(`{"ListingKey":%q,"StandardStatus":%q`, key, status)
	for _, e := range extra {
		body += "," + e
	}
	return json.RawMessage(body + "}")
}

func testFeed() config.MLSConfig {
	feed := config.MLSConfig{BaseURL: "https://mls.example.com/odata"}
	feed.ApplyDefaults()
	return feed
}

func newRefreshFixture(t *testing.T, feed config.MLSConfig) (*RefreshService, *fakeFetcher, *storage.SQLiteStore) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fetcher := &fakeFetcher{}
	return NewRefreshService(store, fetcher, "north", feed), fetcher, store
}

func TestClearThenRefreshStoresDistinctListings(t *testing.T) {
	ctx := context.Background()
	svc, fetcher, store := newRefreshFixture(t, testFeed())

	fetcher.set(mls.FetchResult{Pages: 2, Items: []json.RawMessage{
		listing("A", "Active"),
		listing("B", "Pending"),
		listing("A", "Active", `"ListPrice":2`),
		listing("C", "Active Under Contract"),
	}})

	_, err := store.ClearProperties(ctx)
	require.NoError(t, err)

	run, err := svc.Refresh(ctx, models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 3, run.Fetched)
	assert.Equal(t, 3, run.Inserted)
	assert.Equal(t, 2, run.Pages)

	stats, err := store.CacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 2, stats.UnderContract)

	// last duplicate wins
	a, err := store.GetProperty(ctx, "A")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.JSONEq(t, `{"ListingKey":"A","StandardStatus":"Active","ListPrice":2}`, string(a.PropertyData))

	latest, err := store.LatestRefreshRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, run.ID, latest.ID)
	assert.Equal(t, models.TriggerManual, latest.Trigger)
}

func TestSecondRefreshCountsUnchangedAndUpdated(t *testing.T) {
	ctx := context.Background()
	svc, fetcher, _ := newRefreshFixture(t, testFeed())

	fetcher.set(mls.FetchResult{Pages: 1, Items: []json.RawMessage{listing("A", "Active"), listing("B", "Active")}})
	_, err := svc.Refresh(ctx, models.TriggerManual)
	require.NoError(t, err)

	fetcher.set(mls.FetchResult{Pages: 1, Items: []json.RawMessage{listing("A", "Active"), listing("B", "Pending")}})
	run, err := svc.Refresh(ctx, models.TriggerSchedule)
	require.NoError(t, err)
	assert.Equal(t, 0, run.Inserted)
	assert.Equal(t, 1, run.Updated)
	assert.Equal(t, 1, run.Unchanged)
}

func TestCompleteFetchDeactivatesVanishedListings(t *testing.T) {
	ctx := context.Background()
	svc, fetcher, store := newRefreshFixture(t, testFeed())

	fetcher.set(mls.FetchResult{Pages: 1, Items: []json.RawMessage{listing("A", "Active"), listing("B", "Active")}})
	_, err := svc.Refresh(ctx, models.TriggerManual)
	require.NoError(t, err)

	fetcher.set(mls.FetchResult{Pages: 1, Items: []json.RawMessage{listing("A", "Active")}})
	run, err := svc.Refresh(ctx, models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Deactivated)

	b, err := store.GetProperty(ctx, "B")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.False(t, b.IsActive)
}

func TestPartialFetchKeepsVanishedListings(t *testing.T) {
	ctx := context.Background()
	svc, fetcher, store := newRefreshFixture(t, testFeed())

	fetcher.set(mls.FetchResult{Pages: 1, Items: []json.RawMessage{listing("A", "Active"), listing("B", "Active")}})
	_, err := svc.Refresh(ctx, models.TriggerManual)
	require.NoError(t, err)

	fetcher.set(mls.FetchResult{Pages: 1, Items: []json.RawMessage{listing("A", "Active")}, Err: errors.New("page 2: 503")})
	run, err := svc.Refresh(ctx, models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPartial, run.Status)
	assert.Zero(t, run.Deactivated)
	assert.Contains(t, run.Error, "503")

	b, err := store.GetProperty(ctx, "B")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.True(t, b.IsActive)
}

func TestTruncatedFetchKeepsVanishedListings(t *testing.T) {
	ctx := context.Background()
	svc, fetcher, store := newRefreshFixture(t, testFeed())

	fetcher.set(mls.FetchResult{Pages: 1, Items: []json.RawMessage{listing("A", "Active"), listing("B", "Active")}})
	_, err := svc.Refresh(ctx, models.TriggerManual)
	require.NoError(t, err)

	fetcher.set(mls.FetchResult{Pages: 1, Truncated: true, Items: []json.RawMessage{listing("A", "Active")}})
	run, err := svc.Refresh(ctx, models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Zero(t, run.Deactivated)

	b, err := store.GetProperty(ctx, "B")
	require.NoError(t, err)
	assert.True(t, b.IsActive)
}

func TestUpstreamFailureBeforeAnyPageFailsRun(t *testing.T) {
	ctx := context.Background()
	svc, fetcher, store := newRefreshFixture(t, testFeed())
	fetcher.set(mls.FetchResult{Err: &mls.APIError{StatusCode: 401, Body: "bad token"}})

	run, err := svc.Refresh(ctx, models.TriggerManual)
	require.Error(t, err)
	var up *UpstreamError
	assert.ErrorAs(t, err, &up)
	require.NotNil(t, run)
	assert.Equal(t, models.RunStatusFailed, run.Status)

	latest, err := store.LatestRefreshRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, latest.Status)
	assert.NotNil(t, latest.FinishedAt)
}

func TestActiveOnlyDropsContractAndSold(t *testing.T) {
	ctx := context.Background()
	feed := testFeed()
	feed.ActiveOnly = true
	svc, fetcher, store := newRefreshFixture(t, feed)

	fetcher.set(mls.FetchResult{Pages: 1, Items: []json.RawMessage{
		listing("A", "Active"),
		listing("B", "Active Under Contract"),
		listing("C", "Pending"),
		listing("D", "Sold"),
	}})
	run, err := svc.Refresh(ctx, models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Fetched)

	props, err := store.ListProperties(ctx, models.PropertyFilter{IncludeInactive: true})
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, "A", props[0].ListingID)
}

func TestActiveOnlyDropsMissingStatus(t *testing.T) {
	ctx := context.Background()
	feed := testFeed()
	feed.ActiveOnly = true
	svc, fetcher, _ := newRefreshFixture(t, feed)

	fetcher.set(mls.FetchResult{Pages: 1, Items: []json.RawMessage{
		listing("A", "Active"),
		json.RawMessage(`{"ListingKey":"B"}`),
	}})
	run, err := svc.Refresh(ctx, models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Fetched)
}

func TestFallbackKeyAndStatusFields(t *testing.T) {
	ctx := context.Background()
	svc, fetcher, store := newRefreshFixture(t, testFeed())

	fetcher.set(mls.FetchResult{Pages: 1, Items: []json.RawMessage{
		json.RawMessage(`{"ListingId":"X9","MlsStatus":"Pending"}`),
		json.RawMessage(`{"StandardStatus":"Active"}`),
	}})
	run, err := svc.Refresh(ctx, models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Fetched)

	p, err := store.GetProperty(ctx, "X9")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, models.StatusUnderContract, p.Status)
}

func TestConcurrentRefreshOneWins(t *testing.T) {
	ctx := context.Background()
	svc, fetcher, _ := newRefreshFixture(t, testFeed())

	release := make(chan struct{})
	fetcher.block = release
	fetcher.set(mls.FetchResult{Pages: 1, Items: []json.RawMessage{listing("A", "Active")}})

	firstDone := make(chan error, 1)
	go func() {
		_, err := svc.Refresh(ctx, models.TriggerManual)
		firstDone <- err
	}()

	require.Eventually(t, svc.Running, 2*time.Second, 5*time.Millisecond)

	_, err := svc.Refresh(ctx, models.TriggerManual)
	assert.ErrorIs(t, err, ErrRefreshInProgress)

	close(release)
	require.NoError(t, <-firstDone)
	assert.False(t, svc.Running())
	assert.Equal(t, 1, fetcher.calls)
}

func TestQueryCarriesStatusFilter(t *testing.T) {
	feed := testFeed()
	feed.OfficeID = "OFF1"
	feed.OfficeFilterField = "ListOfficeMlsId"
	svc, _, _ := newRefreshFixture(t, feed)

	q := svc.Query()
	assert.Equal(t, feed.PageSize, q.Top)
	assert.Contains(t, q.Filter, "StandardStatus eq 'Active'")
	assert.Contains(t, q.Filter, "ListOfficeMlsId eq 'OFF1'")
}
