package mls

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, srv *httptest.Server, retries int) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:        srv.URL + "/odata",
		Token:          "secret-token",
		OfficeID:       "OFF42",
		OfficeHeader:   "OUID",
		AppNameHeader:  "X-MLS-Application",
		AppName:        "brokerage-test",
		UserAgent:      "brokerage-test/1.0",
		MaxRetries:     retries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BreakerName:    t.Name(),
	}, srv.Client())
	require.NoError(t, err)
	return c
}

// pagedServer serves total items split into pages of size, chaining pages
// through relative next links.
func pagedServer(t *testing.T, total, size int, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		skip, _ := strconv.Atoi(r.URL.Query().Get("$skip"))

		var items []string
		for i := skip; i < skip+size && i < total; i++ {
			items = append(items, fmt.Sprintf(`{"ListingKey":"K%d","StandardStatus":"Active"}`, i))
		}

		next := ""
		if skip+size < total {
			next = fmt.Sprintf(`,"@odata.nextLink":"Property?$skip=%d&$top=%d"`, skip+size, size)
		}

		w.Header().Set("Content-Type", "application/json")
		body := `{"value":[`
		for i, it := range items {
			if i > 0 {
				body += ","
			}
			body += it
		}
		body += `]` + next + `}`
		fmt.Fprint(w, body)
	}))
}

func TestGetSendsVendorHeaders(t *testing.T) {
	var got http.Header
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		gotQuery = r.URL.Query().Get("$filter")
		assert.Equal(t, "/odata/Property", r.URL.Path)
		fmt.Fprint(w, `{"value":[]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 0)
	_, err := c.Get(context.Background(), "Property", Query{Top: 10, Filter: Eq("StandardStatus", "Active")})
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret-token", got.Get("Authorization"))
	assert.Equal(t, "OFF42", got.Get("OUID"))
	assert.Equal(t, "brokerage-test", got.Get("X-MLS-Application"))
	assert.Equal(t, "brokerage-test/1.0", got.Get("User-Agent"))
	assert.Equal(t, "StandardStatus eq 'Active'", gotQuery)
}

func TestDecodeFixturePage(t *testing.T) {
	data, err := os.ReadFile("testdata/property_page.json")
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 0)
	page, err := c.Get(context.Background(), "Property", Query{})
	require.NoError(t, err)

	assert.Len(t, page.Value, 2)
	assert.Equal(t, "Property?$skip=2&$top=2", page.NextLink)
	require.NotNil(t, page.Count)
	assert.Equal(t, 3, *page.Count)
	assert.Contains(t, string(page.Value[1]), "Active Under Contract")
}

func TestFetchAllFollowsNextLinkUntilAbsent(t *testing.T) {
	var hits int32
	srv := pagedServer(t, 7, 3, &hits)
	defer srv.Close()

	c := newTestClient(t, srv, 0)
	res := c.FetchAll(context.Background(), "Property", Query{Top: 3}, 0)

	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Pages)
	assert.Len(t, res.Items, 7)
	assert.False(t, res.Truncated)
	assert.True(t, res.Complete())
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

func TestFetchAllStopsAtPageCeiling(t *testing.T) {
	var hits int32
	srv := pagedServer(t, 100, 10, &hits)
	defer srv.Close()

	c := newTestClient(t, srv, 0)
	res := c.FetchAll(context.Background(), "Property", Query{Top: 10}, 4)

	require.NoError(t, res.Err)
	assert.Equal(t, 4, res.Pages)
	assert.Len(t, res.Items, 40)
	assert.True(t, res.Truncated)
	assert.False(t, res.Complete())
	assert.EqualValues(t, 4, atomic.LoadInt32(&hits))
}

func TestFetchAllKeepsItemsWhenLaterPageFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("$skip") != "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"value":[{"ListingKey":"A"},{"ListingKey":"B"}],"@odata.nextLink":"Property?$skip=2"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 2)
	res := c.FetchAll(context.Background(), "Property", Query{}, 0)

	require.Error(t, res.Err)
	assert.Equal(t, 1, res.Pages)
	assert.Len(t, res.Items, 2)
	assert.False(t, res.Complete())

	var apiErr *APIError
	require.ErrorAs(t, res.Err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestRetriesServerErrorsThenSucceeds(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) <= 2 {
			http.Error(w, "upstream busy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"value":[{"ListingKey":"A"}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 3)
	page, err := c.Get(context.Background(), "Property", Query{})
	require.NoError(t, err)
	assert.Len(t, page.Value, 1)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

func TestRetryIsBounded(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 2)
	_, err := c.Get(context.Background(), "Property", Query{})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 3)
	_, err := c.Get(context.Background(), "Property", Query{})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "invalid token")
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestNextRefusesForeignHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value":[]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 0)
	_, err := c.Next(context.Background(), "https://evil.example.com/odata/Property?$skip=10")
	assert.Error(t, err)
}

func TestNewClientRejectsBadBaseURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "not a url"}, nil)
	assert.Error(t, err)
}
