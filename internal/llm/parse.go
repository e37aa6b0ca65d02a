package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"partfinder/internal/types"
)

// maxSearchTerms bounds how many comma-separated phrases the parser keeps.
const maxSearchTerms = 5

var mpnPattern = regexp.MustCompile(`\[ManufacturerPartNumber:(.*?)\]`)

// ParseSearchTerms splits a comma-separated model response into trimmed,
// non-empty search phrases, keeping at most maxSearchTerms.
func ParseSearchTerms(response string) []string {
	var terms []string
	for _, raw := range strings.Split(response, ",") {
		term := strings.TrimSpace(raw)
		if term == "" {
			continue
		}
		terms = append(terms, term)
		if len(terms) == maxSearchTerms {
			break
		}
	}
	return terms
}

// ExtractMpn pulls the selected manufacturer part number out of an
// evaluation response. Returns ErrNoSelection when the token is absent or
// empty.
func ExtractMpn(response string) (string, error) {
	m := mpnPattern.FindStringSubmatch(response)
	if m == nil {
		return "", ErrNoSelection
	}
	mpn := strings.TrimSpace(m[1])
	if mpn == "" {
		return "", ErrNoSelection
	}
	return mpn, nil
}

// parseBomRows decodes a normalization response into canonical rows. Models
// wrap JSON in prose or markdown fences often enough that a single
// bracket-extraction salvage pass is worth it. Rows that do not coerce come
// back as zero values.
func parseBomRows(response string) ([]types.BomRow, error) {
	text := strings.TrimSpace(response)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var raw []map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		start := strings.Index(text, "[")
		end := strings.LastIndex(text, "]")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("response is not a JSON array: %w", err)
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
			return nil, fmt.Errorf("response is not a JSON array: %w", err)
		}
	}

	rows := make([]types.BomRow, len(raw))
	for i, m := range raw {
		if row, err := types.CoerceBomRow(m); err == nil {
			rows[i] = row
		}
	}
	return rows, nil
}
