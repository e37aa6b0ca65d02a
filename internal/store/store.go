// Package store provides the SQLite-backed relational state for partfinder:
// projects, BOM items, components, matches, potential matches, and the
// distributor response cache.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Sentinel errors returned by store operations.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrIllegalTransition indicates a project status change that is not in
	// the legal transition table.
	ErrIllegalTransition = errors.New("store: illegal status transition")
)

// timeFormat is the fixed-width UTC layout used for persisted timestamps.
// Fixed fractional digits keep lexicographic and chronological order aligned,
// which the queue position queries rely on.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Store wraps the SQLite database holding all partfinder state.
type Store struct {
	db     *sql.DB
	dbPath string
	logger *zap.Logger
}

// Open opens (or creates) the SQLite database at the given path and ensures
// the schema exists. MaxOpenConns should cover the worker pool plus the API
// server; SQLite serializes writes anyway, so a small pool is enough.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)

	s := &Store{db: db, dbPath: path, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// initSchema creates the required tables.
func (s *Store) initSchema() error {
	schema := `
	-- Submitted BOM analysis jobs
	CREATE TABLE IF NOT EXISTS projects (
		project_id TEXT PRIMARY KEY,
		name TEXT,
		description TEXT,
		status TEXT NOT NULL DEFAULT 'queued',
		created_at DATETIME NOT NULL,
		start_time DATETIME,
		end_time DATETIME,
		current_component_index INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_projects_status_created ON projects(status, created_at);

	-- BOM line items, immutable after ingestion
	CREATE TABLE IF NOT EXISTS bom_items (
		bom_item_id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL REFERENCES projects(project_id) ON DELETE CASCADE,
		quantity INTEGER NOT NULL,
		description TEXT NOT NULL,
		package TEXT NOT NULL,
		possible_mpn TEXT,
		notes TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_bom_items_project ON bom_items(project_id);

	-- Purchasable parts, shared across projects
	CREATE TABLE IF NOT EXISTS components (
		component_id INTEGER PRIMARY KEY AUTOINCREMENT,
		distributor_part_number TEXT NOT NULL UNIQUE,
		manufacturer_part_number TEXT,
		manufacturer_name TEXT,
		description TEXT,
		datasheet_url TEXT,
		package TEXT,
		price TEXT,
		availability TEXT,
		last_updated DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_components_mpn ON components(manufacturer_part_number);

	-- Terminal match per BOM item; component only set when matched
	CREATE TABLE IF NOT EXISTS bom_item_matches (
		match_id INTEGER PRIMARY KEY AUTOINCREMENT,
		bom_item_id INTEGER NOT NULL REFERENCES bom_items(bom_item_id) ON DELETE CASCADE,
		component_id INTEGER REFERENCES components(component_id),
		match_status TEXT NOT NULL,
		matched_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_matches_item ON bom_item_matches(bom_item_id);

	-- Ranked alternatives the evaluation stage proposed
	CREATE TABLE IF NOT EXISTS potential_bom_matches (
		potential_match_id INTEGER PRIMARY KEY AUTOINCREMENT,
		bom_item_id INTEGER NOT NULL REFERENCES bom_items(bom_item_id) ON DELETE CASCADE,
		"rank" INTEGER NOT NULL,
		manufacturer_part_number TEXT NOT NULL,
		reason TEXT,
		selection_state TEXT NOT NULL DEFAULT 'proposed',
		component_id INTEGER REFERENCES components(component_id),
		created_at DATETIME NOT NULL,
		UNIQUE(bom_item_id, "rank")
	);

	-- Raw distributor responses, newest wins per (term, type)
	CREATE TABLE IF NOT EXISTS mouser_api_cache (
		cache_id INTEGER PRIMARY KEY AUTOINCREMENT,
		search_term TEXT NOT NULL,
		search_type TEXT NOT NULL,
		response_data TEXT NOT NULL,
		cached_at DATETIME NOT NULL,
		UNIQUE(search_term, search_type)
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// migration adds a column to an existing table. Used for databases created
// before the column existed; CREATE TABLE IF NOT EXISTS does not alter them.
type migration struct {
	table  string
	column string
	def    string
}

// pendingMigrations lists all additive schema migrations to apply.
var pendingMigrations = []migration{
	// Progress tracking column (added for processing-state reads)
	{"projects", "current_component_index", "INTEGER"},
	// Operator-supplied MPN split out of the notes field
	{"bom_items", "possible_mpn", "TEXT"},
}

// runMigrations applies additive column migrations for existing databases.
func (s *Store) runMigrations() error {
	for _, m := range pendingMigrations {
		exists, err := s.columnExists(m.table, m.column)
		if err != nil {
			return fmt.Errorf("failed to inspect %s.%s: %w", m.table, m.column, err)
		}
		if exists {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.table, m.column, m.def)
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to add column %s.%s: %w", m.table, m.column, err)
		}
		s.logger.Info("applied schema migration",
			zap.String("table", m.table),
			zap.String("column", m.column))
	}
	return nil
}

// columnExists reports whether a table already has the named column.
func (s *Store) columnExists(table, column string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// =============================================================================
// TIMESTAMP HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err == nil {
		return t, nil
	}
	// Older rows may carry plain RFC3339.
	return time.Parse(time.RFC3339Nano, s)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func scanTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullable(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
