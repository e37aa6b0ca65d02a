// Package pipeline contains the per-item matching state machine and the
// per-project worker that fans it out across a bounded pool.
package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"partfinder/internal/llm"
	"partfinder/internal/metrics"
	"partfinder/internal/mouser"
	"partfinder/internal/store"
	"partfinder/internal/types"
)

// Distributor is the part-search surface the pipeline needs. Satisfied by
// *mouser.Client; tests substitute deterministic fakes.
type Distributor interface {
	SearchByKeyword(ctx context.Context, keyword string, records int) ([]types.Part, error)
	SearchByMpn(ctx context.Context, mpn string) (*types.Part, error)
}

const (
	defaultMaxCandidates  = 10
	defaultKeywordRecords = 10
	// maxPotentialRanks bounds how many ranked alternatives are recorded
	// per item.
	maxPotentialRanks = 5
)

// Matcher runs the matching state machine for single BOM items.
type Matcher struct {
	store          *store.Store
	llm            llm.Client
	distributor    Distributor
	maxCandidates  int
	keywordRecords int
	logger         *zap.Logger
	metrics        *metrics.Metrics
}

// NewMatcher builds a Matcher. maxCandidates bounds the candidate list passed
// to the evaluation prompt; zero means the default of 10.
func NewMatcher(s *store.Store, llmClient llm.Client, dist Distributor, maxCandidates int, logger *zap.Logger, m *metrics.Metrics) *Matcher {
	if maxCandidates <= 0 {
		maxCandidates = defaultMaxCandidates
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{
		store:          s,
		llm:            llmClient,
		distributor:    dist,
		maxCandidates:  maxCandidates,
		keywordRecords: defaultKeywordRecords,
		logger:         logger,
		metrics:        m,
	}
}

// MatchItem runs every stage for one BOM item and writes the terminal match
// row, replacing whatever a previous run left. Failures are terminal
// statuses, not errors; the returned status is always from the closed
// vocabulary.
func (m *Matcher) MatchItem(ctx context.Context, item types.BomItem, projectDesc string, bom []types.BomRow) types.MatchStatus {
	status, componentID, potentials := m.run(ctx, item, projectDesc, bom)

	if _, err := m.store.ReplaceBomItemMatches(ctx, item.BomItemID, componentID, status, potentials); err != nil {
		m.logger.Error("failed to save match",
			zap.Int64("bom_item_id", item.BomItemID),
			zap.String("status", string(status)),
			zap.Error(err))
		status = types.MatchStatusDBSaveError
		if _, err := m.store.ReplaceBomItemMatches(ctx, item.BomItemID, nil, status, nil); err != nil {
			m.logger.Error("failed to record save failure",
				zap.Int64("bom_item_id", item.BomItemID),
				zap.Error(err))
		}
	}

	if status != types.MatchStatusMatched {
		m.logger.Warn("item did not match",
			zap.Int64("bom_item_id", item.BomItemID),
			zap.String("status", string(status)))
	}
	m.metrics.RecordItemProcessed(string(status))
	return status
}

// run walks the stage machine and returns the terminal status, the matched
// component when status is matched, and the ranked alternatives when the
// evaluation stage chose a part.
func (m *Matcher) run(ctx context.Context, item types.BomItem, projectDesc string, bom []types.BomRow) (types.MatchStatus, *int64, []types.PotentialBomMatch) {
	row := types.RowFromItem(item)

	// Stage 1: search terms.
	terms, err := m.llm.GenerateSearchTerms(ctx, row)
	if err != nil {
		return types.MatchStatusLLMError, nil, nil
	}
	if len(terms) == 0 {
		return types.MatchStatusSearchTermFailed, nil, nil
	}

	// Stage 2: keyword search, aggregated across terms in first-seen order,
	// deduplicated by distributor part number.
	candidates, err := m.gatherCandidates(ctx, terms)
	if err != nil {
		return types.MatchStatusMouserError, nil, nil
	}
	if len(candidates) == 0 {
		return types.MatchStatusNoKeywordResults, nil, nil
	}

	// Stage 3: evaluation.
	mpn, err := m.llm.ChooseBestPart(ctx, row, projectDesc, bom, candidates)
	if errors.Is(err, llm.ErrNoSelection) {
		return types.MatchStatusEvaluationFailed, nil, nil
	}
	if err != nil {
		return types.MatchStatusLLMError, nil, nil
	}
	potentials := buildPotentials(mpn, candidates)

	// Stage 4: resolve the chosen MPN to a component, store first.
	component, err := m.store.GetComponentByMpn(ctx, mpn)
	if err == nil {
		return types.MatchStatusMatched, &component.ComponentID, potentials
	}
	if !errors.Is(err, store.ErrNotFound) {
		return types.MatchStatusComponentDBError, nil, potentials
	}

	part, err := m.distributor.SearchByMpn(ctx, mpn)
	if errors.Is(err, mouser.ErrNotFound) {
		return types.MatchStatusMpnLookupFailed, nil, potentials
	}
	if err != nil {
		return types.MatchStatusMouserError, nil, potentials
	}

	component, err = m.store.GetOrCreateComponent(ctx, part, item.Package)
	if err != nil {
		return types.MatchStatusComponentDBError, nil, potentials
	}
	return types.MatchStatusMatched, &component.ComponentID, potentials
}

// gatherCandidates searches each term and merges the results, keeping
// first-seen order and dropping duplicate distributor part numbers. The
// merged list is capped at maxCandidates.
func (m *Matcher) gatherCandidates(ctx context.Context, terms []string) ([]types.Part, error) {
	seen := make(map[string]bool)
	var candidates []types.Part

	for _, term := range terms {
		parts, err := m.distributor.SearchByKeyword(ctx, term, m.keywordRecords)
		if err != nil {
			return nil, err
		}
		for _, part := range parts {
			if part.DistributorPartNumber == "" || seen[part.DistributorPartNumber] {
				continue
			}
			seen[part.DistributorPartNumber] = true
			candidates = append(candidates, part)
			if len(candidates) == m.maxCandidates {
				return candidates, nil
			}
		}
	}
	return candidates, nil
}

// buildPotentials records the chosen part as rank 1 (selected) followed by
// the remaining candidates in first-seen order, up to maxPotentialRanks.
func buildPotentials(chosenMpn string, candidates []types.Part) []types.PotentialBomMatch {
	potentials := []types.PotentialBomMatch{{
		Rank:                   1,
		ManufacturerPartNumber: chosenMpn,
		SelectionState:         types.SelectionSelected,
	}}

	for _, part := range candidates {
		if len(potentials) == maxPotentialRanks {
			break
		}
		if part.ManufacturerPartNumber == "" || part.ManufacturerPartNumber == chosenMpn {
			continue
		}
		pm := types.PotentialBomMatch{
			Rank:                   len(potentials) + 1,
			ManufacturerPartNumber: part.ManufacturerPartNumber,
			SelectionState:         types.SelectionProposed,
		}
		if part.Description != "" {
			reason := part.Description
			pm.Reason = &reason
		}
		potentials = append(potentials, pm)
	}
	return potentials
}
