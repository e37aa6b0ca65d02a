package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partfinder/internal/types"
)

func TestReplaceBomItemMatches_WritesTerminalMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := createTestProject(t, s, "match",
		types.BomItem{Quantity: 1, Description: "10k resistor", Package: "0805"})
	items, err := s.GetBomItems(ctx, p.ProjectID)
	require.NoError(t, err)
	itemID := items[0].BomItemID

	comp, err := s.GetOrCreateComponent(ctx, testPart("603-RC0805FR-0710KL", "RC0805FR-0710KL"), "0805")
	require.NoError(t, err)

	m, err := s.ReplaceBomItemMatches(ctx, itemID, &comp.ComponentID, types.MatchStatusMatched, []types.PotentialBomMatch{
		{Rank: 1, ManufacturerPartNumber: "RC0805FR-0710KL", SelectionState: types.SelectionSelected},
		{Rank: 2, ManufacturerPartNumber: "CRCW080510K0FKEA", Reason: strp("alternate vendor")},
	})
	require.NoError(t, err)
	assert.Equal(t, types.MatchStatusMatched, m.Status)
	require.NotNil(t, m.ComponentID)
	assert.Equal(t, comp.ComponentID, *m.ComponentID)

	pms, err := s.GetPotentialMatches(ctx, itemID)
	require.NoError(t, err)
	require.Len(t, pms, 2)
	assert.Equal(t, 1, pms[0].Rank)
	assert.Equal(t, types.SelectionSelected, pms[0].SelectionState)
	assert.Equal(t, types.SelectionProposed, pms[1].SelectionState)
	assert.Equal(t, "alternate vendor", *pms[1].Reason)
}

func TestReplaceBomItemMatches_RerunReplacesEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := createTestProject(t, s, "rerun",
		types.BomItem{Quantity: 1, Description: "LED green 3mm", Package: "THT"})
	items, err := s.GetBomItems(ctx, p.ProjectID)
	require.NoError(t, err)
	itemID := items[0].BomItemID

	_, err = s.ReplaceBomItemMatches(ctx, itemID, nil, types.MatchStatusMpnLookupFailed, []types.PotentialBomMatch{
		{Rank: 1, ManufacturerPartNumber: "OLD-MPN"},
	})
	require.NoError(t, err)

	comp, err := s.GetOrCreateComponent(ctx, testPart("604-WP3A8GD", "WP3A8GD"), "THT")
	require.NoError(t, err)
	_, err = s.ReplaceBomItemMatches(ctx, itemID, &comp.ComponentID, types.MatchStatusMatched, []types.PotentialBomMatch{
		{Rank: 1, ManufacturerPartNumber: "WP3A8GD", SelectionState: types.SelectionSelected},
	})
	require.NoError(t, err)

	// Exactly one terminal match, and only the new potential rows.
	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM bom_item_matches WHERE bom_item_id = ?`, itemID).Scan(&n))
	assert.Equal(t, 1, n)

	pms, err := s.GetPotentialMatches(ctx, itemID)
	require.NoError(t, err)
	require.Len(t, pms, 1)
	assert.Equal(t, "WP3A8GD", pms[0].ManufacturerPartNumber)
}

func TestCreatePotentialMatch_RankUniquePerItem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := createTestProject(t, s, "ranks",
		types.BomItem{Quantity: 1, Description: "op amp", Package: "SOIC-8"})
	items, err := s.GetBomItems(ctx, p.ProjectID)
	require.NoError(t, err)
	itemID := items[0].BomItemID

	require.NoError(t, s.CreatePotentialMatch(ctx, &types.PotentialBomMatch{
		BomItemID: itemID, Rank: 1, ManufacturerPartNumber: "LM358DR",
	}))
	err = s.CreatePotentialMatch(ctx, &types.PotentialBomMatch{
		BomItemID: itemID, Rank: 1, ManufacturerPartNumber: "MCP6002-I/SN",
	})
	assert.Error(t, err, "duplicate rank for the same item must be rejected")
}

func TestLinkPotentialMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := createTestProject(t, s, "link",
		types.BomItem{Quantity: 1, Description: "op amp", Package: "SOIC-8"})
	items, err := s.GetBomItems(ctx, p.ProjectID)
	require.NoError(t, err)

	pm := &types.PotentialBomMatch{BomItemID: items[0].BomItemID, Rank: 1, ManufacturerPartNumber: "LM358DR"}
	require.NoError(t, s.CreatePotentialMatch(ctx, pm))

	comp, err := s.GetOrCreateComponent(ctx, testPart("595-LM358DR", "LM358DR"), "SOIC-8")
	require.NoError(t, err)

	require.NoError(t, s.LinkPotentialMatch(ctx, pm.PotentialMatchID, comp.ComponentID))

	pms, err := s.GetPotentialMatches(ctx, items[0].BomItemID)
	require.NoError(t, err)
	require.Len(t, pms, 1)
	require.NotNil(t, pms[0].ComponentID)
	assert.Equal(t, comp.ComponentID, *pms[0].ComponentID)

	assert.ErrorIs(t, s.LinkPotentialMatch(ctx, 9999, comp.ComponentID), ErrNotFound)
}

func TestGetFinishedProjectData(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := createTestProject(t, s, "finished",
		types.BomItem{Quantity: 1, Description: "10k resistor", Package: "0805"},
		types.BomItem{Quantity: 2, Description: "unknown widget", Package: "unknown"},
		types.BomItem{Quantity: 1, Description: "untouched", Package: "0603"})
	items, err := s.GetBomItems(ctx, p.ProjectID)
	require.NoError(t, err)

	comp, err := s.GetOrCreateComponent(ctx, testPart("603-RC0805FR-0710KL", "RC0805FR-0710KL"), "0805")
	require.NoError(t, err)
	_, err = s.ReplaceBomItemMatches(ctx, items[0].BomItemID, &comp.ComponentID, types.MatchStatusMatched, nil)
	require.NoError(t, err)
	_, err = s.ReplaceBomItemMatches(ctx, items[1].BomItemID, nil, types.MatchStatusNoKeywordResults, nil)
	require.NoError(t, err)
	// Third item gets no match at all, as during processing.

	rows, err := s.GetFinishedProjectData(ctx, p.ProjectID)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// Item insertion order is preserved.
	assert.Equal(t, "10k resistor", rows[0].Item.Description)
	require.NotNil(t, rows[0].Match)
	assert.Equal(t, types.MatchStatusMatched, rows[0].Match.Status)
	require.NotNil(t, rows[0].Component)
	assert.Equal(t, "603-RC0805FR-0710KL", rows[0].Component.DistributorPartNumber)
	require.NotNil(t, rows[0].Component.Price)

	require.NotNil(t, rows[1].Match)
	assert.Equal(t, types.MatchStatusNoKeywordResults, rows[1].Match.Status)
	assert.Nil(t, rows[1].Component)

	assert.Nil(t, rows[2].Match)
	assert.Nil(t, rows[2].Component)
}
