package mouser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"partfinder/internal/store"
)

func newTestCache(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "cache.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testConfig(baseURL string) Config {
	return Config{
		APIKey:      "test-key",
		BaseURL:     baseURL,
		MaxRetries:  3,
		RetryWait:   time.Millisecond,
		CacheMaxAge: 24 * time.Hour,
	}
}

func partsResponse(parts ...PartRecord) string {
	resp := map[string]any{
		"Errors":        []any{},
		"SearchResults": map[string]any{"NumberOfResult": len(parts), "Parts": parts},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func TestSearchByKeyword_ParsesAndCaches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/search/keyword", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("apiKey"))

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "10k resistor 0805", req.SearchByKeywordRequest.Keyword)
		assert.Equal(t, 10, req.SearchByKeywordRequest.Records)

		fmt.Fprint(w, partsResponse(PartRecord{
			MouserPartNumber:       "603-RC0805FR-0710KL",
			ManufacturerPartNumber: "RC0805FR-0710KL",
			Manufacturer:           "Yageo",
			AvailabilityInStock:    "1000",
			PriceBreaks:            []PriceBreak{{Quantity: 1, Price: "$0.10"}},
		}))
	}))
	defer srv.Close()

	cache := newTestCache(t)
	c := New(testConfig(srv.URL), srv.Client(), cache, zap.NewNop(), nil)
	ctx := context.Background()

	parts, err := c.SearchByKeyword(ctx, "10k resistor 0805", 10)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "603-RC0805FR-0710KL", parts[0].DistributorPartNumber)
	assert.Equal(t, "In Stock", parts[0].Availability)

	// Second identical search is served from cache: one remote call total.
	parts, err = c.SearchByKeyword(ctx, "10k resistor 0805", 10)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSearchByKeyword_CapsRecords(t *testing.T) {
	records := make([]PartRecord, 15)
	for i := range records {
		records[i] = PartRecord{MouserPartNumber: fmt.Sprintf("PN-%d", i)}
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, partsResponse(records...))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), srv.Client(), newTestCache(t), zap.NewNop(), nil)
	parts, err := c.SearchByKeyword(context.Background(), "anything", 10)
	require.NoError(t, err)
	assert.Len(t, parts, 10)
}

func TestSearchByMpn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 1, req.SearchByKeywordRequest.Records)

		if req.SearchByKeywordRequest.Keyword == "KNOWN-MPN" {
			fmt.Fprint(w, partsResponse(PartRecord{
				MouserPartNumber:       "595-KNOWN",
				ManufacturerPartNumber: "KNOWN-MPN",
				AvailabilityInStock:    "5",
			}))
			return
		}
		fmt.Fprint(w, partsResponse())
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), srv.Client(), newTestCache(t), zap.NewNop(), nil)
	ctx := context.Background()

	part, err := c.SearchByMpn(ctx, "KNOWN-MPN")
	require.NoError(t, err)
	assert.Equal(t, "595-KNOWN", part.DistributorPartNumber)

	_, err = c.SearchByMpn(ctx, "UNKNOWN-MPN")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearch_RetriesOn429ThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, partsResponse(PartRecord{MouserPartNumber: "PN-1"}))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), srv.Client(), newTestCache(t), zap.NewNop(), nil)
	parts, err := c.SearchByKeyword(context.Background(), "retry me", 5)
	require.NoError(t, err)
	assert.Len(t, parts, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSearch_RateLimitExhaustsRetries_NoCacheWrite(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cache := newTestCache(t)
	c := New(testConfig(srv.URL), srv.Client(), cache, zap.NewNop(), nil)

	_, err := c.SearchByKeyword(context.Background(), "always limited", 5)
	assert.ErrorIs(t, err, ErrRateLimited)
	// Initial attempt plus MaxRetries.
	assert.Equal(t, int32(4), calls.Load())

	n, err := cache.CountCacheEntries(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "failed searches must not be cached")
}

func TestSearch_NonRetriableStatusFailsImmediately(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), srv.Client(), newTestCache(t), zap.NewNop(), nil)
	_, err := c.SearchByKeyword(context.Background(), "forbidden", 5)
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSearch_ApplicationErrorBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Errors":[{"Code":"InvalidAuthorization","Message":"bad key"}],"SearchResults":null}`)
	}))
	defer srv.Close()

	cache := newTestCache(t)
	c := New(testConfig(srv.URL), srv.Client(), cache, zap.NewNop(), nil)

	_, err := c.SearchByKeyword(context.Background(), "whatever", 5)
	assert.ErrorIs(t, err, ErrAPIError)
	assert.Contains(t, err.Error(), "bad key")

	n, err := cache.CountCacheEntries(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "error responses must not be cached")
}

func TestSearch_ContextCancelledDuringRetryWait(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RetryWait = time.Minute
	c := New(cfg, srv.Client(), newTestCache(t), zap.NewNop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.SearchByKeyword(ctx, "slow", 5)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSearch_MissingAPIKey(t *testing.T) {
	c := New(Config{BaseURL: "http://unused"}, nil, nil, zap.NewNop(), nil)
	_, err := c.SearchByKeyword(context.Background(), "x", 5)
	assert.Error(t, err)
}
