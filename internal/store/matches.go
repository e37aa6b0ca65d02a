package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"partfinder/internal/types"
)

// ReplaceBomItemMatches writes the terminal match for a BOM item, replacing
// any match and potential-match rows a previous run left behind. Everything
// happens in one transaction so a re-run can never leave an item with two
// terminal matches or a half-replaced potential list.
func (s *Store) ReplaceBomItemMatches(ctx context.Context, bomItemID int64, componentID *int64, status types.MatchStatus, potentials []types.PotentialBomMatch) (*types.BomItemMatch, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM bom_item_matches WHERE bom_item_id = ?`, bomItemID); err != nil {
		return nil, fmt.Errorf("failed to clear previous matches: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM potential_bom_matches WHERE bom_item_id = ?`, bomItemID); err != nil {
		return nil, fmt.Errorf("failed to clear previous potential matches: %w", err)
	}

	var componentVal any
	if componentID != nil {
		componentVal = *componentID
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO bom_item_matches (bom_item_id, component_id, match_status, matched_at)
		 VALUES (?, ?, ?, ?)`,
		bomItemID, componentVal, string(status), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to insert match: %w", err)
	}
	matchID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read match id: %w", err)
	}

	for i := range potentials {
		pm := &potentials[i]
		pm.BomItemID = bomItemID
		if pm.SelectionState == "" {
			pm.SelectionState = types.SelectionProposed
		}
		if pm.CreatedAt.IsZero() {
			pm.CreatedAt = now
		}
		var pmComponent any
		if pm.ComponentID != nil {
			pmComponent = *pm.ComponentID
		}
		pmRes, err := tx.ExecContext(ctx,
			`INSERT INTO potential_bom_matches (bom_item_id, "rank", manufacturer_part_number,
			        reason, selection_state, component_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			bomItemID, pm.Rank, pm.ManufacturerPartNumber, nullable(pm.Reason),
			string(pm.SelectionState), pmComponent, formatTime(pm.CreatedAt))
		if err != nil {
			return nil, fmt.Errorf("failed to insert potential match rank %d: %w", pm.Rank, err)
		}
		if pm.PotentialMatchID, err = pmRes.LastInsertId(); err != nil {
			return nil, fmt.Errorf("failed to read potential match id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit match: %w", err)
	}

	return &types.BomItemMatch{
		MatchID:     matchID,
		BomItemID:   bomItemID,
		ComponentID: componentID,
		Status:      status,
		MatchedAt:   now,
	}, nil
}

// CreatePotentialMatch inserts a single ranked alternative for a BOM item.
// The (bom_item_id, rank) pair is unique.
func (s *Store) CreatePotentialMatch(ctx context.Context, pm *types.PotentialBomMatch) error {
	if pm.SelectionState == "" {
		pm.SelectionState = types.SelectionProposed
	}
	if pm.CreatedAt.IsZero() {
		pm.CreatedAt = time.Now().UTC()
	}
	var componentVal any
	if pm.ComponentID != nil {
		componentVal = *pm.ComponentID
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO potential_bom_matches (bom_item_id, "rank", manufacturer_part_number,
		        reason, selection_state, component_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pm.BomItemID, pm.Rank, pm.ManufacturerPartNumber, nullable(pm.Reason),
		string(pm.SelectionState), componentVal, formatTime(pm.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert potential match: %w", err)
	}
	if pm.PotentialMatchID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read potential match id: %w", err)
	}
	return nil
}

// GetPotentialMatches returns the ranked alternatives recorded for a BOM
// item, lowest rank first.
func (s *Store) GetPotentialMatches(ctx context.Context, bomItemID int64) ([]types.PotentialBomMatch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT potential_match_id, bom_item_id, "rank", manufacturer_part_number,
		        reason, selection_state, component_id, created_at
		 FROM potential_bom_matches WHERE bom_item_id = ? ORDER BY "rank"`, bomItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query potential matches: %w", err)
	}
	defer rows.Close()

	var out []types.PotentialBomMatch
	for rows.Next() {
		var (
			pm          types.PotentialBomMatch
			reason      sql.NullString
			state       string
			componentID sql.NullInt64
			createdAt   string
		)
		if err := rows.Scan(&pm.PotentialMatchID, &pm.BomItemID, &pm.Rank,
			&pm.ManufacturerPartNumber, &reason, &state, &componentID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan potential match: %w", err)
		}
		pm.Reason = strPtr(reason)
		pm.SelectionState = types.SelectionState(state)
		if componentID.Valid {
			id := componentID.Int64
			pm.ComponentID = &id
		}
		if pm.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse potential match created_at: %w", err)
		}
		out = append(out, pm)
	}
	return out, rows.Err()
}

// LinkPotentialMatch records the component a potential match's MPN resolved
// to, after a backfill lookup.
func (s *Store) LinkPotentialMatch(ctx context.Context, potentialMatchID, componentID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE potential_bom_matches SET component_id = ? WHERE potential_match_id = ?`,
		componentID, potentialMatchID)
	if err != nil {
		return fmt.Errorf("failed to link potential match: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetFinishedProjectData returns every BOM item of a project joined with its
// terminal match and matched component, in item insertion order. Items that
// have not produced a match yet come back with nil Match and Component, so
// the same query serves processing-state reads.
func (s *Store) GetFinishedProjectData(ctx context.Context, projectID string) ([]types.MatchRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT i.bom_item_id, i.project_id, i.quantity, i.description, i.package,
		        i.possible_mpn, i.notes, i.created_at,
		        m.match_id, m.component_id, m.match_status, m.matched_at,
		        c.component_id, c.distributor_part_number, c.manufacturer_part_number,
		        c.manufacturer_name, c.description, c.datasheet_url, c.package,
		        c.price, c.availability, c.last_updated
		 FROM bom_items i
		 LEFT OUTER JOIN bom_item_matches m ON m.bom_item_id = i.bom_item_id
		 LEFT OUTER JOIN components c ON c.component_id = m.component_id
		 WHERE i.project_id = ?
		 ORDER BY i.bom_item_id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query project data: %w", err)
	}
	defer rows.Close()

	var out []types.MatchRow
	for rows.Next() {
		var (
			it           types.BomItem
			itemMpn      sql.NullString
			itemNotes    sql.NullString
			itemCreated  string
			matchID      sql.NullInt64
			matchComp    sql.NullInt64
			matchStatus  sql.NullString
			matchedAt    sql.NullString
			compID       sql.NullInt64
			compDpn      sql.NullString
			compMpn      sql.NullString
			compMfr      sql.NullString
			compDesc     sql.NullString
			compDs       sql.NullString
			compPkg      sql.NullString
			compPrice    sql.NullString
			compAvail    sql.NullString
			compUpdated  sql.NullString
		)
		err := rows.Scan(&it.BomItemID, &it.ProjectID, &it.Quantity, &it.Description,
			&it.Package, &itemMpn, &itemNotes, &itemCreated,
			&matchID, &matchComp, &matchStatus, &matchedAt,
			&compID, &compDpn, &compMpn, &compMfr, &compDesc, &compDs, &compPkg,
			&compPrice, &compAvail, &compUpdated)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project data row: %w", err)
		}

		it.PossibleMpn = strPtr(itemMpn)
		it.Notes = strPtr(itemNotes)
		if it.CreatedAt, err = parseTime(itemCreated); err != nil {
			return nil, fmt.Errorf("failed to parse bom item created_at: %w", err)
		}

		row := types.MatchRow{Item: it}

		if matchID.Valid {
			m := types.BomItemMatch{
				MatchID:   matchID.Int64,
				BomItemID: it.BomItemID,
				Status:    types.MatchStatus(matchStatus.String),
			}
			if matchComp.Valid {
				id := matchComp.Int64
				m.ComponentID = &id
			}
			if matchedAt.Valid {
				if m.MatchedAt, err = parseTime(matchedAt.String); err != nil {
					return nil, fmt.Errorf("failed to parse matched_at: %w", err)
				}
			}
			row.Match = &m
		}

		if compID.Valid {
			c := types.Component{
				ComponentID:            compID.Int64,
				DistributorPartNumber:  compDpn.String,
				ManufacturerPartNumber: strPtr(compMpn),
				ManufacturerName:       strPtr(compMfr),
				Description:            strPtr(compDesc),
				DatasheetURL:           strPtr(compDs),
				Package:                strPtr(compPkg),
				Availability:           strPtr(compAvail),
			}
			if compPrice.Valid {
				d, err := parsePrice(compPrice.String)
				if err != nil {
					return nil, err
				}
				c.Price = d
			}
			if compUpdated.Valid {
				if c.LastUpdated, err = parseTime(compUpdated.String); err != nil {
					return nil, fmt.Errorf("failed to parse last_updated: %w", err)
				}
			}
			row.Component = &c
		}

		out = append(out, row)
	}
	return out, rows.Err()
}
