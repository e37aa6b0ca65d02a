// Package types provides shared type definitions used across partfinder packages.
// This package exists to break import cycles between store, pipeline, and api.
// Types in this package should be foundational data structures with no complex dependencies.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PROJECT LIFECYCLE
// =============================================================================

// ProjectStatus is the lifecycle state of a project row.
type ProjectStatus string

const (
	StatusQueued     ProjectStatus = "queued"
	StatusProcessing ProjectStatus = "processing"
	StatusFinished   ProjectStatus = "finished"
	StatusError      ProjectStatus = "error"
	StatusCancelled  ProjectStatus = "cancelled"
)

// validTransitions enumerates every legal status transition. Anything not
// listed here must be rejected by the store.
var validTransitions = map[ProjectStatus]map[ProjectStatus]bool{
	StatusQueued:     {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing: {StatusFinished: true, StatusError: true, StatusCancelled: true},
	StatusFinished:   {StatusCancelled: true},
	StatusError:      {StatusCancelled: true},
	StatusCancelled:  {},
}

// ValidTransition reports whether a project may move from one status to another.
func ValidTransition(from, to ProjectStatus) bool {
	return validTransitions[from][to]
}

// =============================================================================
// MATCH STATUS VOCABULARY
// =============================================================================

// MatchStatus is the terminal outcome of matching one BOM item. The
// vocabulary is closed: every processed item ends in exactly one of these.
type MatchStatus string

const (
	MatchStatusMatched          MatchStatus = "matched"
	MatchStatusSearchTermFailed MatchStatus = "search_term_failed"
	MatchStatusNoKeywordResults MatchStatus = "no_keyword_results"
	MatchStatusEvaluationFailed MatchStatus = "evaluation_failed"
	MatchStatusMpnLookupFailed  MatchStatus = "mpn_lookup_failed"
	MatchStatusComponentDBError MatchStatus = "component_db_error"
	MatchStatusLLMError         MatchStatus = "llm_error"
	MatchStatusMouserError      MatchStatus = "mouser_error"
	MatchStatusProcessingError  MatchStatus = "processing_error"
	MatchStatusDBSaveError      MatchStatus = "db_save_error"
	MatchStatusWorkerPanic      MatchStatus = "worker_uncaught_exception"
)

// SelectionState tracks what became of a potential match suggestion.
type SelectionState string

const (
	SelectionProposed SelectionState = "proposed"
	SelectionSelected SelectionState = "selected"
	SelectionRejected SelectionState = "rejected"
)

// =============================================================================
// PERSISTED ENTITIES
// =============================================================================

// Project is one submitted BOM analysis job.
type Project struct {
	ProjectID   string
	Name        *string
	Description *string
	Status      ProjectStatus
	CreatedAt   time.Time
	StartTime   *time.Time
	EndTime     *time.Time
	// CurrentComponentIndex counts items that have reached a terminal
	// status, for progress display while processing.
	CurrentComponentIndex *int
}

// BomItem is one line of a submitted BOM. Immutable after ingestion.
type BomItem struct {
	BomItemID   int64
	ProjectID   string
	Quantity    int
	Description string
	Package     string
	PossibleMpn *string
	Notes       *string
	CreatedAt   time.Time
}

// Component is the system's knowledge of one purchasable part. Components
// are shared across projects: at most one row per distributor part number.
type Component struct {
	ComponentID            int64
	DistributorPartNumber  string
	ManufacturerPartNumber *string
	ManufacturerName       *string
	Description            *string
	DatasheetURL           *string
	Package                *string
	Price                  *decimal.Decimal
	Availability           *string
	LastUpdated            time.Time
}

// BomItemMatch is the terminal match record for one BOM item. ComponentID is
// populated only when Status is MatchStatusMatched.
type BomItemMatch struct {
	MatchID     int64
	BomItemID   int64
	ComponentID *int64
	Status      MatchStatus
	MatchedAt   time.Time
}

// PotentialBomMatch is one ranked alternative the evaluation stage saw for a
// BOM item. Rank is unique per item, starting at 1.
type PotentialBomMatch struct {
	PotentialMatchID       int64
	BomItemID              int64
	Rank                   int
	ManufacturerPartNumber string
	Reason                 *string
	SelectionState         SelectionState
	ComponentID            *int64
	CreatedAt              time.Time
}

// CacheEntry is one stored distributor response. The (SearchTerm, SearchType)
// pair is unique; re-inserting replaces the payload and timestamp.
type CacheEntry struct {
	SearchTerm   string
	SearchType   string
	ResponseData []byte
	CachedAt     time.Time
}

// MatchRow is one row of a project read: the item, its terminal match if one
// exists yet, and the matched component if the status is matched.
type MatchRow struct {
	Item      BomItem
	Match     *BomItemMatch
	Component *Component
}

// =============================================================================
// PIPELINE AND INGESTION VALUES
// =============================================================================

// BomRow is the canonical ingestion row. Ingestion coerces every accepted
// input row into this shape before persisting.
type BomRow struct {
	Qty         int    `json:"qty"`
	Description string `json:"description"`
	Package     string `json:"package"`
	PossibleMpn string `json:"possible_mpn,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// RowFromItem converts a persisted BOM item back to its canonical row form,
// for prompt building and queued-project reads.
func RowFromItem(it BomItem) BomRow {
	row := BomRow{
		Qty:         it.Quantity,
		Description: it.Description,
		Package:     it.Package,
	}
	if it.PossibleMpn != nil {
		row.PossibleMpn = *it.PossibleMpn
	}
	if it.Notes != nil {
		row.Notes = *it.Notes
	}
	return row
}

// Part is a normalized distributor part record.
type Part struct {
	DistributorPartNumber  string
	ManufacturerPartNumber string
	ManufacturerName       string
	Description            string
	DatasheetURL           string
	Price                  *decimal.Decimal
	Availability           string
}
