package mouser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"partfinder/internal/metrics"
	"partfinder/internal/store"
	"partfinder/internal/types"
)

// Sentinel errors surfaced to the matching pipeline.
var (
	// ErrAPIError indicates the distributor returned an application-level
	// error block inside a 2xx response. Not retriable.
	ErrAPIError = errors.New("mouser: api error")
	// ErrNotFound indicates an MPN search produced no part.
	ErrNotFound = errors.New("mouser: part not found")
	// ErrRateLimited indicates the retry budget was exhausted on 429s.
	ErrRateLimited = errors.New("mouser: rate limit exceeded")
)

// Config holds the client settings. Zero durations disable the request floor
// and retry wait, which tests rely on.
type Config struct {
	APIKey       string
	BaseURL      string
	RequestFloor time.Duration
	RetryWait    time.Duration
	MaxRetries   int
	CacheMaxAge  time.Duration
}

// Client searches the distributor catalog. All searches flow through the
// store-backed response cache first; only successful remote payloads are
// written back. Safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	cache      *store.Store
	logger     *zap.Logger
	metrics    *metrics.Metrics

	// Courtesy floor on outbound request rate.
	mu          sync.Mutex
	lastRequest time.Time
}

// New creates a distributor client. A nil httpClient gets a 15 second
// timeout, matching the per-call budget the rest of the system assumes.
func New(cfg Config, httpClient *http.Client, cache *store.Store, logger *zap.Logger, m *metrics.Metrics) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheMaxAge <= 0 {
		cfg.CacheMaxAge = 24 * time.Hour
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		cache:      cache,
		logger:     logger,
		metrics:    m,
	}
}

// SearchByKeyword returns up to records normalized parts for a keyword
// search, from cache when a recent response exists.
func (c *Client) SearchByKeyword(ctx context.Context, keyword string, records int) ([]types.Part, error) {
	if records <= 0 {
		records = 10
	}

	raw, err := c.search(ctx, keyword, store.CacheTypeKeyword, records)
	if err != nil {
		return nil, err
	}

	if len(raw.Parts) > records {
		raw.Parts = raw.Parts[:records]
	}
	parts := make([]types.Part, 0, len(raw.Parts))
	for _, rec := range raw.Parts {
		parts = append(parts, ParsePart(rec))
	}
	return parts, nil
}

// SearchByMpn looks one manufacturer part number up and returns the
// normalized canonical record, or ErrNotFound.
func (c *Client) SearchByMpn(ctx context.Context, mpn string) (*types.Part, error) {
	raw, err := c.search(ctx, mpn, store.CacheTypeMpn, 1)
	if err != nil {
		return nil, err
	}
	if len(raw.Parts) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, mpn)
	}
	part := ParsePart(raw.Parts[0])
	return &part, nil
}

// search resolves one cached-or-remote distributor search and returns the
// decoded result set.
func (c *Client) search(ctx context.Context, term, searchType string, records int) (*searchResults, error) {
	if c.cache != nil {
		if payload, ok := c.cache.GetCachedResponse(ctx, term, searchType, c.cfg.CacheMaxAge); ok {
			var resp searchResponse
			if err := json.Unmarshal(payload, &resp); err == nil {
				c.metrics.RecordCacheHit()
				c.logger.Debug("distributor cache hit",
					zap.String("search_type", searchType),
					zap.String("term", term))
				return resultsOf(&resp), nil
			}
			// A corrupt cache entry reads as a miss.
			c.logger.Warn("discarding undecodable cache entry",
				zap.String("search_type", searchType),
				zap.String("term", term))
		}
		c.metrics.RecordCacheMiss()
	}
	c.logger.Debug("distributor cache miss",
		zap.String("search_type", searchType),
		zap.String("term", term))

	body, resp, err := c.callRemote(ctx, term, searchType, records)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.CacheResponse(ctx, term, searchType, body)
	}
	return resultsOf(resp), nil
}

func resultsOf(resp *searchResponse) *searchResults {
	if resp.SearchResults == nil {
		return &searchResults{}
	}
	return resp.SearchResults
}

// callRemote performs the HTTP search with the retry policy: transport
// errors and 429 retry up to MaxRetries times with a fixed wait; any other
// non-2xx status and any application-level error block fail immediately.
func (c *Client) callRemote(ctx context.Context, term, searchType string, records int) ([]byte, *searchResponse, error) {
	if c.cfg.APIKey == "" {
		return nil, nil, fmt.Errorf("mouser API key not configured")
	}

	reqBody := searchRequest{SearchByKeywordRequest: keywordRequest{
		Keyword:        term,
		Records:        records,
		StartingRecord: 0,
	}}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	url := fmt.Sprintf("%s/search/keyword?apiKey=%s", c.cfg.BaseURL, c.cfg.APIKey)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.metrics.RecordDistributorRetry()
			c.logger.Warn("retrying distributor request",
				zap.String("term", term),
				zap.Int("attempt", attempt),
				zap.Duration("wait", c.cfg.RetryWait),
				zap.Error(lastErr))
			if err := sleepCtx(ctx, c.cfg.RetryWait); err != nil {
				return nil, nil, err
			}
		}

		if err := c.waitFloor(ctx); err != nil {
			return nil, nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		c.metrics.RecordDistributorCall(searchType)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = ErrRateLimited
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, nil, fmt.Errorf("distributor request failed with status %d: %s", resp.StatusCode, string(body))
		}

		var decoded searchResponse
		if err := json.Unmarshal(body, &decoded); err != nil {
			return nil, nil, fmt.Errorf("invalid distributor response: %w", err)
		}
		if len(decoded.Errors) > 0 {
			return nil, nil, fmt.Errorf("%w: %s", ErrAPIError, formatAPIErrors(decoded.Errors))
		}

		return body, &decoded, nil
	}

	return nil, nil, fmt.Errorf("distributor request failed after %d attempts: %w", c.cfg.MaxRetries+1, lastErr)
}

// waitFloor enforces the minimum spacing between outbound requests.
func (c *Client) waitFloor(ctx context.Context) error {
	if c.cfg.RequestFloor <= 0 {
		return nil
	}
	c.mu.Lock()
	wait := c.cfg.RequestFloor - time.Since(c.lastRequest)
	if wait < 0 {
		wait = 0
	}
	c.lastRequest = time.Now().Add(wait)
	c.mu.Unlock()

	return sleepCtx(ctx, wait)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func formatAPIErrors(errs []apiErrorBlock) string {
	var b bytes.Buffer
	for i, e := range errs {
		if i > 0 {
			b.WriteString("; ")
		}
		if e.Code != "" {
			b.WriteString(e.Code)
			b.WriteString(": ")
		}
		b.WriteString(e.Message)
	}
	return b.String()
}
