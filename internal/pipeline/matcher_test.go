package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"partfinder/internal/llm"
	"partfinder/internal/mouser"
	"partfinder/internal/store"
	"partfinder/internal/types"
)

// fakeLLM returns canned responses per prompt family.
type fakeLLM struct {
	terms     []string
	termsErr  error
	chosenMpn func(item types.BomRow) (string, error)
	normalize func(rows []map[string]any) ([]types.BomRow, error)
}

func (f *fakeLLM) GenerateSearchTerms(ctx context.Context, item types.BomRow) ([]string, error) {
	return f.terms, f.termsErr
}

func (f *fakeLLM) ChooseBestPart(ctx context.Context, item types.BomRow, projectDesc string, bom []types.BomRow, candidates []types.Part) (string, error) {
	if f.chosenMpn == nil {
		return "", llm.ErrNoSelection
	}
	return f.chosenMpn(item)
}

func (f *fakeLLM) NormalizeBomRows(ctx context.Context, rows []map[string]any) ([]types.BomRow, error) {
	if f.normalize == nil {
		return nil, llm.ErrLLMFailure
	}
	return f.normalize(rows)
}

// fakeDistributor serves parts from maps and counts calls.
type fakeDistributor struct {
	keyword      map[string][]types.Part
	keywordErr   error
	mpn          map[string]*types.Part
	mpnErr       error
	keywordCalls int
	mpnCalls     int
}

func (f *fakeDistributor) SearchByKeyword(ctx context.Context, keyword string, records int) ([]types.Part, error) {
	f.keywordCalls++
	if f.keywordErr != nil {
		return nil, f.keywordErr
	}
	return f.keyword[keyword], nil
}

func (f *fakeDistributor) SearchByMpn(ctx context.Context, mpn string) (*types.Part, error) {
	f.mpnCalls++
	if f.mpnErr != nil {
		return nil, f.mpnErr
	}
	part, ok := f.mpn[mpn]
	if !ok {
		return nil, mouser.ErrNotFound
	}
	return part, nil
}

func newPipelineStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "pipeline.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedItem(t *testing.T, s *store.Store, desc, pkg string) types.BomItem {
	t.Helper()
	p := &types.Project{ProjectID: "proj-" + desc}
	item := types.BomItem{Quantity: 1, Description: desc, Package: pkg}
	require.NoError(t, s.CreateProjectWithItems(context.Background(), p, []types.BomItem{item}))
	items, err := s.GetBomItems(context.Background(), p.ProjectID)
	require.NoError(t, err)
	return items[0]
}

func partWithMpn(dpn, mpn string) types.Part {
	price := decimal.NewFromFloat(0.10)
	return types.Part{
		DistributorPartNumber:  dpn,
		ManufacturerPartNumber: mpn,
		ManufacturerName:       "Yageo",
		Description:            "RES 10K OHM",
		Price:                  &price,
		Availability:           "In Stock",
	}
}

func TestMatchItem_HappyPath(t *testing.T) {
	s := newPipelineStore(t)
	item := seedItem(t, s, "10k resistor", "0805")

	part := partWithMpn("603-RC0805", "RC0805FR-0710KL")
	dist := &fakeDistributor{
		keyword: map[string][]types.Part{
			"10k resistor 0805": {part, partWithMpn("71-CRCW0805", "CRCW080510K0FKEA")},
		},
		mpn: map[string]*types.Part{"RC0805FR-0710KL": &part},
	}
	model := &fakeLLM{
		terms:     []string{"10k resistor 0805"},
		chosenMpn: func(types.BomRow) (string, error) { return "RC0805FR-0710KL", nil },
	}

	m := NewMatcher(s, model, dist, 10, zap.NewNop(), nil)
	status := m.MatchItem(context.Background(), item, "test board", nil)
	assert.Equal(t, types.MatchStatusMatched, status)

	rows, err := s.GetFinishedProjectData(context.Background(), item.ProjectID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Match)
	assert.Equal(t, types.MatchStatusMatched, rows[0].Match.Status)
	require.NotNil(t, rows[0].Component)
	assert.Equal(t, "RC0805FR-0710KL", *rows[0].Component.ManufacturerPartNumber)

	// The chosen part leads the potential-match ranking.
	pms, err := s.GetPotentialMatches(context.Background(), item.BomItemID)
	require.NoError(t, err)
	require.NotEmpty(t, pms)
	assert.Equal(t, 1, pms[0].Rank)
	assert.Equal(t, "RC0805FR-0710KL", pms[0].ManufacturerPartNumber)
	assert.Equal(t, types.SelectionSelected, pms[0].SelectionState)
	require.Len(t, pms, 2)
	assert.Equal(t, types.SelectionProposed, pms[1].SelectionState)
}

func TestMatchItem_StoreMpnHitSkipsDistributorLookup(t *testing.T) {
	s := newPipelineStore(t)
	item := seedItem(t, s, "known part", "0805")

	part := partWithMpn("603-KNOWN", "KNOWN-MPN")
	_, err := s.GetOrCreateComponent(context.Background(), &part, "0805")
	require.NoError(t, err)

	dist := &fakeDistributor{
		keyword: map[string][]types.Part{"known": {part}},
	}
	model := &fakeLLM{
		terms:     []string{"known"},
		chosenMpn: func(types.BomRow) (string, error) { return "KNOWN-MPN", nil },
	}

	m := NewMatcher(s, model, dist, 10, zap.NewNop(), nil)
	status := m.MatchItem(context.Background(), item, "", nil)
	assert.Equal(t, types.MatchStatusMatched, status)
	assert.Zero(t, dist.mpnCalls, "store hit must skip the distributor MPN search")
}

func TestMatchItem_TerminalFailureStatuses(t *testing.T) {
	somePart := partWithMpn("603-A", "MPN-A")

	tests := []struct {
		name  string
		model *fakeLLM
		dist  *fakeDistributor
		want  types.MatchStatus
	}{
		{
			name:  "llm error generating terms",
			model: &fakeLLM{termsErr: llm.ErrLLMFailure},
			dist:  &fakeDistributor{},
			want:  types.MatchStatusLLMError,
		},
		{
			name:  "no search terms",
			model: &fakeLLM{terms: nil},
			dist:  &fakeDistributor{},
			want:  types.MatchStatusSearchTermFailed,
		},
		{
			name:  "keyword search fails",
			model: &fakeLLM{terms: []string{"x"}},
			dist:  &fakeDistributor{keywordErr: mouser.ErrRateLimited},
			want:  types.MatchStatusMouserError,
		},
		{
			name:  "no candidates",
			model: &fakeLLM{terms: []string{"x"}},
			dist:  &fakeDistributor{keyword: map[string][]types.Part{}},
			want:  types.MatchStatusNoKeywordResults,
		},
		{
			name: "no selection token",
			model: &fakeLLM{
				terms:     []string{"x"},
				chosenMpn: func(types.BomRow) (string, error) { return "", llm.ErrNoSelection },
			},
			dist: &fakeDistributor{keyword: map[string][]types.Part{"x": {somePart}}},
			want: types.MatchStatusEvaluationFailed,
		},
		{
			name: "llm error during evaluation",
			model: &fakeLLM{
				terms:     []string{"x"},
				chosenMpn: func(types.BomRow) (string, error) { return "", fmt.Errorf("%w: boom", llm.ErrLLMFailure) },
			},
			dist: &fakeDistributor{keyword: map[string][]types.Part{"x": {somePart}}},
			want: types.MatchStatusLLMError,
		},
		{
			name: "chosen mpn unresolvable",
			model: &fakeLLM{
				terms:     []string{"x"},
				chosenMpn: func(types.BomRow) (string, error) { return "GHOST-MPN", nil },
			},
			dist: &fakeDistributor{keyword: map[string][]types.Part{"x": {somePart}}},
			want: types.MatchStatusMpnLookupFailed,
		},
		{
			name: "mpn lookup hits distributor error",
			model: &fakeLLM{
				terms:     []string{"x"},
				chosenMpn: func(types.BomRow) (string, error) { return "MPN-A", nil },
			},
			dist: &fakeDistributor{
				keyword: map[string][]types.Part{"x": {somePart}},
				mpnErr:  mouser.ErrAPIError,
			},
			want: types.MatchStatusMouserError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newPipelineStore(t)
			item := seedItem(t, s, "item", "0805")

			m := NewMatcher(s, tt.model, tt.dist, 10, zap.NewNop(), nil)
			status := m.MatchItem(context.Background(), item, "", nil)
			assert.Equal(t, tt.want, status)

			// The terminal row is always written, with a component link only
			// on matched.
			rows, err := s.GetFinishedProjectData(context.Background(), item.ProjectID)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			require.NotNil(t, rows[0].Match)
			assert.Equal(t, tt.want, rows[0].Match.Status)
			assert.Nil(t, rows[0].Match.ComponentID)
		})
	}
}

func TestGatherCandidates_DedupAndCap(t *testing.T) {
	s := newPipelineStore(t)

	shared := partWithMpn("DUP-1", "MPN-DUP")
	dist := &fakeDistributor{
		keyword: map[string][]types.Part{
			"first":  {shared, partWithMpn("A-1", "MPN-A1"), partWithMpn("A-2", "MPN-A2")},
			"second": {shared, partWithMpn("B-1", "MPN-B1"), partWithMpn("B-2", "MPN-B2")},
		},
	}

	m := NewMatcher(s, &fakeLLM{}, dist, 4, zap.NewNop(), nil)
	candidates, err := m.gatherCandidates(context.Background(), []string{"first", "second"})
	require.NoError(t, err)

	require.Len(t, candidates, 4, "cap applies after cross-term dedup")
	assert.Equal(t, "DUP-1", candidates[0].DistributorPartNumber, "first-seen order preserved")
	assert.Equal(t, "A-1", candidates[1].DistributorPartNumber)
	assert.Equal(t, "A-2", candidates[2].DistributorPartNumber)
	assert.Equal(t, "B-1", candidates[3].DistributorPartNumber)
}

func TestMatchItem_RerunReplacesPriorMatch(t *testing.T) {
	s := newPipelineStore(t)
	item := seedItem(t, s, "rerun item", "0805")

	model := &fakeLLM{terms: nil}
	m := NewMatcher(s, model, &fakeDistributor{}, 10, zap.NewNop(), nil)

	assert.Equal(t, types.MatchStatusSearchTermFailed, m.MatchItem(context.Background(), item, "", nil))
	assert.Equal(t, types.MatchStatusSearchTermFailed, m.MatchItem(context.Background(), item, "", nil))

	rows, err := s.GetFinishedProjectData(context.Background(), item.ProjectID)
	require.NoError(t, err)
	require.Len(t, rows, 1, "re-runs must not accumulate match rows")
}
