package api

import (
	"time"

	"partfinder/internal/types"
)

// pendingStatus is reported for items that have no terminal match row yet.
const pendingStatus = "pending"

type createdView struct {
	ProjectID          string   `json:"project_id"`
	TruncationInfo     *string  `json:"truncation_info"`
	ProcessingWarnings []string `json:"processing_warnings,omitempty"`
}

type bomComponentView struct {
	Qty         int     `json:"qty"`
	Description string  `json:"description"`
	Package     string  `json:"package"`
	PossibleMpn *string `json:"possible_mpn"`
	Notes       *string `json:"notes"`
}

type matchedComponentView struct {
	bomComponentView

	DistributorPartNumber  *string  `json:"distributor_part_number"`
	ManufacturerPartNumber *string  `json:"manufacturer_part_number"`
	ManufacturerName       *string  `json:"manufacturer_name"`
	DistributorDescription *string  `json:"distributor_description"`
	DatasheetURL           *string  `json:"datasheet_url"`
	Price                  *float64 `json:"price"`
	Availability           *string  `json:"availability"`
	MatchStatus            string   `json:"match_status"`

	PotentialMatches []potentialMatchView `json:"potential_matches"`
}

type potentialMatchView struct {
	Rank                   int     `json:"rank"`
	ManufacturerPartNumber string  `json:"manufacturer_part_number"`
	Reason                 *string `json:"reason"`
	SelectionState         string  `json:"selection_state"`

	DistributorPartNumber  *string  `json:"distributor_part_number"`
	ManufacturerName       *string  `json:"manufacturer_name"`
	DistributorDescription *string  `json:"distributor_description"`
	DatasheetURL           *string  `json:"datasheet_url"`
	Price                  *float64 `json:"price"`
	Availability           *string  `json:"availability"`
}

type bomView[C any] struct {
	Components         []C     `json:"components"`
	ProjectDescription *string `json:"project_description"`
	ProjectName        *string `json:"project_name"`
}

type queuedView struct {
	Status       string                    `json:"status"`
	Position     int                       `json:"position"`
	TotalInQueue int                       `json:"total_in_queue"`
	Bom          bomView[bomComponentView] `json:"bom"`
}

type processingView struct {
	Status string                        `json:"status"`
	Bom    bomView[matchedComponentView] `json:"bom"`
}

type resultsView struct {
	StartTime *string `json:"start_time"`
	EndTime   *string `json:"end_time"`
	Status    string  `json:"status"`
}

type finishedView struct {
	Status  string                        `json:"status"`
	Bom     bomView[matchedComponentView] `json:"bom"`
	Results resultsView                   `json:"results"`
}

func viewFromItem(it types.BomItem) bomComponentView {
	return bomComponentView{
		Qty:         it.Quantity,
		Description: it.Description,
		Package:     it.Package,
		PossibleMpn: it.PossibleMpn,
		Notes:       it.Notes,
	}
}

// viewFromRow flattens one project read row. Distributor fields are present
// only when the item matched a component.
func viewFromRow(row types.MatchRow) matchedComponentView {
	view := matchedComponentView{
		bomComponentView: viewFromItem(row.Item),
		MatchStatus:      pendingStatus,
	}
	if row.Match != nil {
		view.MatchStatus = string(row.Match.Status)
	}
	if c := row.Component; c != nil {
		dpn := c.DistributorPartNumber
		view.DistributorPartNumber = &dpn
		view.ManufacturerPartNumber = c.ManufacturerPartNumber
		view.ManufacturerName = c.ManufacturerName
		view.DistributorDescription = c.Description
		view.DatasheetURL = c.DatasheetURL
		view.Availability = c.Availability
		if c.Price != nil {
			price := c.Price.InexactFloat64()
			view.Price = &price
		}
	}
	return view
}

// fillFromComponent copies the distributor-sourced fields of a linked or
// backfilled component onto a potential match row.
func (v *potentialMatchView) fillFromComponent(c *types.Component) {
	dpn := c.DistributorPartNumber
	v.DistributorPartNumber = &dpn
	v.ManufacturerName = c.ManufacturerName
	v.DistributorDescription = c.Description
	v.DatasheetURL = c.DatasheetURL
	v.Availability = c.Availability
	if c.Price != nil {
		price := c.Price.InexactFloat64()
		v.Price = &price
	}
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}
