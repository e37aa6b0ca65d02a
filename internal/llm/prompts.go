package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"partfinder/internal/types"
)

func buildSearchTermPrompt(item types.BomRow) string {
	return fmt.Sprintf(`Your task is to generate a small number of diverse search terms (approximately 3) for finding electronic components on Mouser.com based on the following input fields: 'Description', 'Possible MPN', and 'Package'. The goal is to create search terms that are likely to yield relevant results. Consider the following strategies when generating these terms:

1. Prioritize the 'Possible MPN': If a 'Possible MPN' is provided, use it as one of the search terms, ideally as an exact match.
2. Create concise keyword-based searches from the 'Description', focusing on the most important features and component type.
3. Combine keywords from the 'Description' with the 'Package' information to narrow or broaden the search effectively.
4. Vary the level of detail in the generated search terms. Some should be more specific, while others should be broader to capture a wider range of potential matches.
5. Consider common abbreviations or alternative names for components or packages if they are likely to be used in Mouser's search.

Here is the input for the current part:
Description: %s
Possible MPN: %s
Package: %s
Other Usage Notes: %s

Generate the search terms as a comma-separated list.`,
		item.Description, item.PossibleMpn, item.Package, item.Notes)
}

func buildEvaluationPrompt(item types.BomRow, projectDesc string, bom []types.BomRow, candidates []types.Part) string {
	var bomList strings.Builder
	if len(bom) == 0 {
		bomList.WriteString("None")
	}
	for _, row := range bom {
		fmt.Fprintf(&bomList, "- %s (Package: %s, MPN: %s)\n",
			orNA(row.Description), orNA(row.Package), orNA(row.PossibleMpn))
	}

	var results strings.Builder
	for i, part := range candidates {
		if i > 0 {
			results.WriteString("\n\n")
		}
		price := "N/A"
		if part.Price != nil {
			price = part.Price.String()
		}
		fmt.Fprintf(&results,
			"Manufacturer: %s\nManufacturer Part Number: %s\nMouser Part Number: %s\nDescription: %s\nPrice: %s\nAvailability: %s\nDatasheet URL: %s",
			orNA(part.ManufacturerName), orNA(part.ManufacturerPartNumber),
			orNA(part.DistributorPartNumber), orNA(part.Description),
			price, orNA(part.Availability), orNA(part.DatasheetURL))
	}

	return fmt.Sprintf(`Here is a list of potential parts from Mouser for the original part described below. Your task is to evaluate this list and select the single best part that matches the requirements and context provided. Consider the other parts in the project listed in the BOM.

Original Part Details (Currently Evaluating):
Quantity: %d
Description: %s
Possible MPN: %s
Package: %s
Notes/Source: %s

Project Notes:
%s

Original Bill of Materials (BOM):
%s
Mouser Search Results:
%s

When evaluating the Mouser parts, prioritize parts that are currently in stock or have a short lead time. The most important factor is that the selected part closely matches the requirements and specifications of the original part. Favor parts with readily available datasheets. Consider the manufacturer if project preferences are indicated in the project notes or the overall BOM. While important, price should be a secondary consideration after availability and functional suitability are established. Ensure the specifications and package of the selected part are compatible with the original requirement.

Return your answer in the following format so it can be easily parsed. Use EXACTLY the Manufacturer Part Number as shown in the list above, do not add manufacturer name or any other text:
[ManufacturerPartNumber:XXXXX]`,
		item.Qty, item.Description, item.PossibleMpn, item.Package, item.Notes,
		orNA(projectDesc), bomList.String(), results.String())
}

func buildNormalizePrompt(rows []map[string]any) (string, error) {
	raw, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("failed to marshal rows: %w", err)
	}

	return fmt.Sprintf(`You are a helpful assistant that normalizes bill-of-materials data. I have a JSON array of component rows with arbitrary field names and shapes. Convert every row into this canonical schema:

{"qty": <positive integer>, "description": "<part description>", "package": "<package or footprint>", "possible_mpn": "<manufacturer part number if known>", "notes": "<additional notes>"}

Rules:
- "qty", "description", and "package" are required on every row. If quantity is missing or unclear, use 1. If the package is missing or unclear, use "unknown".
- "possible_mpn" and "notes" are optional; omit them when the input has nothing that fits.
- Preserve the row order and produce exactly one output row per input row.
- If some information is missing or unclear, make your best guess based on the context.

Input rows:
%s

Return ONLY the JSON array, nothing else.`, raw), nil
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
