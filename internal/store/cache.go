package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Search types recorded in the distributor cache.
const (
	CacheTypeKeyword = "keyword"
	CacheTypeMpn     = "mpn"
)

// GetCachedResponse returns the cached distributor payload for a search if
// one exists younger than maxAge. Cache read failures are logged and treated
// as misses; a cache outage must degrade matching, never break it.
func (s *Store) GetCachedResponse(ctx context.Context, searchTerm, searchType string, maxAge time.Duration) ([]byte, bool) {
	oldest := time.Now().UTC().Add(-maxAge)

	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT response_data FROM mouser_api_cache
		 WHERE search_term = ? AND search_type = ? AND cached_at >= ?
		 ORDER BY cached_at DESC LIMIT 1`,
		searchTerm, searchType, formatTime(oldest)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		s.logger.Warn("distributor cache read failed",
			zap.String("search_term", searchTerm),
			zap.String("search_type", searchType),
			zap.Error(err))
		return nil, false
	}
	return payload, true
}

// CacheResponse stores a distributor payload for a search, replacing any
// previous entry for the same (term, type). Write failures are logged and
// swallowed for the same reason read failures are.
func (s *Store) CacheResponse(ctx context.Context, searchTerm, searchType string, payload []byte) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mouser_api_cache (search_term, search_type, response_data, cached_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(search_term, search_type)
		 DO UPDATE SET response_data = excluded.response_data, cached_at = excluded.cached_at`,
		searchTerm, searchType, payload, formatTime(time.Now().UTC()))
	if err != nil {
		s.logger.Warn("distributor cache write failed",
			zap.String("search_term", searchTerm),
			zap.String("search_type", searchType),
			zap.Error(err))
	}
}

// CountCacheEntries returns the number of cached distributor responses.
func (s *Store) CountCacheEntries(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mouser_api_cache`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
