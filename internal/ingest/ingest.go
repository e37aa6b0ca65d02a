// Package ingest turns loosely shaped BOM submissions into persisted,
// queued projects. Rows that fail schema validation get one LLM
// normalization pass; rows that still fail are preserved verbatim inside a
// placeholder so no submitted data is silently dropped.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"partfinder/internal/llm"
	"partfinder/internal/store"
	"partfinder/internal/types"
)

// maxBomItems caps how many rows of a submission are processed.
const maxBomItems = 20

// invalidRowPrefix marks placeholder descriptions that carry the original,
// unvalidatable row data.
const invalidRowPrefix = "Original Data (validation failed): "

// Submission is the accepted request shape. Component rows are kept loose so
// coercion and normalization can see exactly what the client sent.
type Submission struct {
	ProjectName        string           `json:"project_name"`
	ProjectDescription string           `json:"project_description"`
	Components         []map[string]any `json:"components"`
}

// Result reports what happened to a submission.
type Result struct {
	ProjectID string
	// TruncationInfo is set when the submission exceeded the row cap.
	TruncationInfo *string
	// Warnings lists rows that needed normalization or placeholders.
	Warnings []string
}

// Ingestor validates submissions and persists them as queued projects.
type Ingestor struct {
	store  *store.Store
	llm    llm.Client
	logger *zap.Logger
}

// NewIngestor builds an Ingestor. llmClient may be nil, in which case invalid
// rows skip straight to placeholders.
func NewIngestor(s *store.Store, llmClient llm.Client, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{store: s, llm: llmClient, logger: logger}
}

// Submit decodes a raw submission payload and queues it as a project.
func (ing *Ingestor) Submit(ctx context.Context, payload []byte) (*Result, error) {
	var sub Submission
	if err := json.Unmarshal(payload, &sub); err != nil {
		return nil, fmt.Errorf("failed to decode submission: %w", err)
	}
	return ing.SubmitParsed(ctx, &sub)
}

// SubmitParsed queues an already-decoded submission.
func (ing *Ingestor) SubmitParsed(ctx context.Context, sub *Submission) (*Result, error) {
	if len(sub.Components) == 0 {
		return nil, fmt.Errorf("submission has no components")
	}

	result := &Result{ProjectID: uuid.New().String()}

	raws := sub.Components
	if len(raws) > maxBomItems {
		msg := fmt.Sprintf("BOM truncated from %d to %d components", len(raws), maxBomItems)
		result.TruncationInfo = &msg
		ing.logger.Warn("truncating submission",
			zap.String("project_id", result.ProjectID),
			zap.Int("submitted", len(raws)))
		raws = raws[:maxBomItems]
	}

	rows, warnings := ing.coerceRows(ctx, raws)
	result.Warnings = warnings

	items := make([]types.BomItem, len(rows))
	for i, row := range rows {
		items[i] = itemFromRow(row)
	}

	project := &types.Project{ProjectID: result.ProjectID}
	if sub.ProjectName != "" {
		name := sub.ProjectName
		project.Name = &name
	}
	if sub.ProjectDescription != "" {
		desc := sub.ProjectDescription
		project.Description = &desc
	}

	if err := ing.store.CreateProjectWithItems(ctx, project, items); err != nil {
		return nil, fmt.Errorf("failed to persist project: %w", err)
	}

	ing.logger.Info("project queued",
		zap.String("project_id", result.ProjectID),
		zap.Int("items", len(items)),
		zap.Int("warnings", len(warnings)))
	return result, nil
}

// coerceRows validates every raw row, giving invalid rows one collective LLM
// normalization pass before falling back to placeholders.
func (ing *Ingestor) coerceRows(ctx context.Context, raws []map[string]any) ([]types.BomRow, []string) {
	rows := make([]types.BomRow, len(raws))
	var invalidIdx []int

	for i, raw := range raws {
		row, err := types.CoerceBomRow(raw)
		if err != nil {
			invalidIdx = append(invalidIdx, i)
			continue
		}
		rows[i] = row
	}
	if len(invalidIdx) == 0 {
		return rows, nil
	}

	normalized := ing.normalizeInvalid(ctx, raws, invalidIdx)

	var warnings []string
	for j, i := range invalidIdx {
		if normalized != nil && j < len(normalized) && normalized[j].Valid() {
			rows[i] = normalized[j]
			warnings = append(warnings, fmt.Sprintf("component %d did not match the expected schema and was normalized", i+1))
			continue
		}
		rows[i] = placeholderRow(raws[i])
		warnings = append(warnings, fmt.Sprintf("component %d could not be validated; original data preserved in the description", i+1))
	}
	return rows, warnings
}

// normalizeInvalid runs the single LLM repair pass. Any failure degrades to
// placeholders rather than failing the submission.
func (ing *Ingestor) normalizeInvalid(ctx context.Context, raws []map[string]any, invalidIdx []int) []types.BomRow {
	if ing.llm == nil {
		return nil
	}
	invalid := make([]map[string]any, len(invalidIdx))
	for j, i := range invalidIdx {
		invalid[j] = raws[i]
	}
	normalized, err := ing.llm.NormalizeBomRows(ctx, invalid)
	if err != nil {
		ing.logger.Warn("bom normalization failed", zap.Error(err))
		return nil
	}
	return normalized
}

// placeholderRow wraps an unvalidatable row so it still flows through the
// pipeline and stays visible in project reads.
func placeholderRow(raw map[string]any) types.BomRow {
	data, err := json.Marshal(raw)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", raw))
	}
	return types.BomRow{
		Qty:         1,
		Description: invalidRowPrefix + string(data),
		Package:     "unknown",
	}
}

func itemFromRow(row types.BomRow) types.BomItem {
	item := types.BomItem{
		Quantity:    row.Qty,
		Description: row.Description,
		Package:     row.Package,
	}
	if row.PossibleMpn != "" {
		mpn := row.PossibleMpn
		item.PossibleMpn = &mpn
	}
	if row.Notes != "" {
		notes := row.Notes
		item.Notes = &notes
	}
	return item
}
