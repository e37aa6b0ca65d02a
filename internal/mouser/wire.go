// Package mouser implements the distributor search client: keyword and MPN
// search over the Mouser REST API, read-through cached in the store, with a
// courtesy request floor and bounded retry on rate limits.
package mouser

import (
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"partfinder/internal/types"
)

// searchRequest is the wire envelope for both keyword and MPN searches; the
// API exposes a single keyword endpoint.
type searchRequest struct {
	SearchByKeywordRequest keywordRequest `json:"SearchByKeywordRequest"`
}

type keywordRequest struct {
	Keyword                      string `json:"keyword"`
	Records                      int    `json:"records"`
	StartingRecord               int    `json:"startingRecord"`
	SearchOptions                any    `json:"searchOptions"`
	SearchWithYourSignUpLanguage any    `json:"searchWithYourSignUpLanguage"`
}

type searchResponse struct {
	Errors        []apiErrorBlock `json:"Errors"`
	SearchResults *searchResults  `json:"SearchResults"`
}

type apiErrorBlock struct {
	ID                    int    `json:"Id"`
	Code                  string `json:"Code"`
	Message               string `json:"Message"`
	PropertyName          string `json:"PropertyName"`
	SegmentName           string `json:"SegmentName"`
}

type searchResults struct {
	NumberOfResult int          `json:"NumberOfResult"`
	Parts          []PartRecord `json:"Parts"`
}

// PartRecord is one raw part as the distributor returns it.
type PartRecord struct {
	MouserPartNumber       string       `json:"MouserPartNumber"`
	ManufacturerPartNumber string       `json:"ManufacturerPartNumber"`
	Manufacturer           string       `json:"Manufacturer"`
	Description            string       `json:"Description"`
	DataSheetURL           string       `json:"DataSheetUrl"`
	AvailabilityInStock    string       `json:"AvailabilityInStock"`
	LeadTime               string       `json:"LeadTime"`
	PriceBreaks            []PriceBreak `json:"PriceBreaks"`
}

type PriceBreak struct {
	Quantity int    `json:"Quantity"`
	Price    string `json:"Price"`
	Currency string `json:"Currency"`
}

// ParsePart normalizes a raw distributor record: lowest-quantity price break
// with the currency sigil stripped, and a three-state availability string.
func ParsePart(rec PartRecord) types.Part {
	part := types.Part{
		DistributorPartNumber:  rec.MouserPartNumber,
		ManufacturerPartNumber: rec.ManufacturerPartNumber,
		ManufacturerName:       rec.Manufacturer,
		Description:            rec.Description,
		DatasheetURL:           rec.DataSheetURL,
		Availability:           "Unknown",
	}

	if len(rec.PriceBreaks) > 0 {
		breaks := make([]PriceBreak, len(rec.PriceBreaks))
		copy(breaks, rec.PriceBreaks)
		sort.SliceStable(breaks, func(i, j int) bool {
			return breaks[i].Quantity < breaks[j].Quantity
		})
		raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(breaks[0].Price), "$"))
		if d, err := decimal.NewFromString(raw); err == nil {
			d = d.Round(2)
			part.Price = &d
		}
	}

	if stock, err := strconv.Atoi(strings.TrimSpace(rec.AvailabilityInStock)); err == nil && stock > 0 {
		part.Availability = "In Stock"
	} else if rec.LeadTime != "" {
		part.Availability = "Lead Time: " + rec.LeadTime
	}

	return part
}
