package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CoerceBomRow validates a loosely typed input row against the canonical BOM
// schema. Quantity accepts JSON numbers, integers, and numeric strings;
// description and package must be non-empty strings. Unknown keys are
// ignored.
func CoerceBomRow(raw map[string]any) (BomRow, error) {
	var row BomRow

	qty, ok := raw["qty"]
	if !ok {
		return row, fmt.Errorf("missing qty")
	}
	n, err := coerceQuantity(qty)
	if err != nil {
		return row, fmt.Errorf("invalid qty: %w", err)
	}
	row.Qty = n

	desc, ok := stringField(raw, "description")
	if !ok {
		return row, fmt.Errorf("missing description")
	}
	row.Description = desc

	pkg, ok := stringField(raw, "package")
	if !ok {
		return row, fmt.Errorf("missing package")
	}
	row.Package = pkg

	if mpn, ok := stringField(raw, "possible_mpn"); ok {
		row.PossibleMpn = mpn
	}
	if notes, ok := stringField(raw, "notes"); ok {
		row.Notes = notes
	}
	return row, nil
}

// Valid reports whether a row satisfies the canonical schema constraints.
func (r BomRow) Valid() bool {
	return r.Qty > 0 && r.Description != "" && r.Package != ""
}

func coerceQuantity(v any) (int, error) {
	switch q := v.(type) {
	case int:
		if q <= 0 {
			return 0, fmt.Errorf("must be positive, got %d", q)
		}
		return q, nil
	case float64:
		if q != math.Trunc(q) {
			return 0, fmt.Errorf("must be an integer, got %v", q)
		}
		if q <= 0 {
			return 0, fmt.Errorf("must be positive, got %v", q)
		}
		return int(q), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(q))
		if err != nil {
			return 0, fmt.Errorf("not numeric: %q", q)
		}
		if n <= 0 {
			return 0, fmt.Errorf("must be positive, got %d", n)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func stringField(raw map[string]any, key string) (string, bool) {
	v, ok := raw[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}
