// Package llm holds the language-model prompt families the matching pipeline
// and ingestion rely on: search-term generation, candidate evaluation, and
// BOM row normalization.
package llm

import (
	"context"
	"errors"

	"partfinder/internal/types"
)

// Sentinel errors. Any underlying model failure surfaces as ErrLLMFailure;
// callers decide whether that is terminal or advisory for their stage.
var (
	ErrLLMFailure = errors.New("llm: model request failed")
	// ErrNoSelection indicates the evaluation response carried no
	// [ManufacturerPartNumber:...] token.
	ErrNoSelection = errors.New("llm: no part selected")
)

// Client is the prompt surface the rest of the system consumes. Tests
// substitute deterministic fakes.
type Client interface {
	// GenerateSearchTerms asks for roughly three distributor search phrases
	// for one BOM row, biased by the operator-supplied MPN when present.
	GenerateSearchTerms(ctx context.Context, item types.BomRow) ([]string, error)

	// ChooseBestPart asks the model to pick one candidate for the item given
	// the project description and the full BOM as context. Returns the chosen
	// manufacturer part number, or ErrNoSelection.
	ChooseBestPart(ctx context.Context, item types.BomRow, projectDesc string, bom []types.BomRow, candidates []types.Part) (string, error)

	// NormalizeBomRows coerces arbitrarily shaped input rows into the
	// canonical BOM schema. Rows the model could not salvage come back as
	// zero values and fail BomRow.Valid.
	NormalizeBomRows(ctx context.Context, rows []map[string]any) ([]types.BomRow, error)
}
