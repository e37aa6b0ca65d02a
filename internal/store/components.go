package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"partfinder/internal/types"
)

const componentColumns = `component_id, distributor_part_number, manufacturer_part_number,
	manufacturer_name, description, datasheet_url, package, price, availability, last_updated`

func scanComponent(row interface{ Scan(...any) error }) (*types.Component, error) {
	var (
		c            types.Component
		mpn          sql.NullString
		manufacturer sql.NullString
		desc         sql.NullString
		datasheet    sql.NullString
		pkg          sql.NullString
		price        sql.NullString
		availability sql.NullString
		lastUpdated  string
	)
	if err := row.Scan(&c.ComponentID, &c.DistributorPartNumber, &mpn, &manufacturer,
		&desc, &datasheet, &pkg, &price, &availability, &lastUpdated); err != nil {
		return nil, err
	}
	c.ManufacturerPartNumber = strPtr(mpn)
	c.ManufacturerName = strPtr(manufacturer)
	c.Description = strPtr(desc)
	c.DatasheetURL = strPtr(datasheet)
	c.Package = strPtr(pkg)
	c.Availability = strPtr(availability)

	if price.Valid {
		d, err := parsePrice(price.String)
		if err != nil {
			return nil, err
		}
		c.Price = d
	}
	var err error
	if c.LastUpdated, err = parseTime(lastUpdated); err != nil {
		return nil, fmt.Errorf("failed to parse last_updated: %w", err)
	}
	return &c, nil
}

func parsePrice(s string) (*decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to parse component price %q: %w", s, err)
	}
	return &d, nil
}

func priceValue(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.Round(2).String()
}

// GetOrCreateComponent finds the component for a normalized distributor part
// record, creating it on first sight and refreshing its fields otherwise.
// Safe under concurrent callers: a unique-constraint collision on insert is
// resolved by re-reading the winner.
func (s *Store) GetOrCreateComponent(ctx context.Context, part *types.Part, pkg string) (*types.Component, error) {
	if part.DistributorPartNumber == "" {
		return nil, fmt.Errorf("distributor part number is required")
	}

	now := time.Now().UTC()
	existing, err := s.getComponentByDistributorPN(ctx, part.DistributorPartNumber)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		_, err = s.db.ExecContext(ctx,
			`UPDATE components SET manufacturer_part_number = ?, manufacturer_name = ?,
			        description = ?, datasheet_url = ?, package = ?, price = ?,
			        availability = ?, last_updated = ?
			 WHERE component_id = ?`,
			part.ManufacturerPartNumber, part.ManufacturerName, part.Description,
			part.DatasheetURL, pkg, priceValue(part.Price), part.Availability,
			formatTime(now), existing.ComponentID)
		if err != nil {
			return nil, fmt.Errorf("failed to update component: %w", err)
		}
		return s.getComponentByDistributorPN(ctx, part.DistributorPartNumber)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO components (distributor_part_number, manufacturer_part_number,
		        manufacturer_name, description, datasheet_url, package, price,
		        availability, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		part.DistributorPartNumber, part.ManufacturerPartNumber, part.ManufacturerName,
		part.Description, part.DatasheetURL, pkg, priceValue(part.Price),
		part.Availability, formatTime(now))
	if err != nil {
		// A concurrent worker may have inserted the same part between our
		// read and write; the unique constraint resolves the race.
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return s.getComponentByDistributorPN(ctx, part.DistributorPartNumber)
		}
		return nil, fmt.Errorf("failed to insert component: %w", err)
	}

	return s.getComponentByDistributorPN(ctx, part.DistributorPartNumber)
}

func (s *Store) getComponentByDistributorPN(ctx context.Context, dpn string) (*types.Component, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+componentColumns+` FROM components WHERE distributor_part_number = ?`, dpn)
	c, err := scanComponent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get component: %w", err)
	}
	return c, nil
}

// GetComponentByMpn looks a component up by manufacturer part number. Returns
// ErrNotFound if the part is unknown. If several distributor SKUs carry the
// same MPN the most recently updated one wins.
func (s *Store) GetComponentByMpn(ctx context.Context, mpn string) (*types.Component, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+componentColumns+` FROM components
		 WHERE manufacturer_part_number = ?
		 ORDER BY last_updated DESC LIMIT 1`, mpn)
	c, err := scanComponent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get component by mpn: %w", err)
	}
	return c, nil
}

// GetComponent retrieves a component by surrogate id.
func (s *Store) GetComponent(ctx context.Context, componentID int64) (*types.Component, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+componentColumns+` FROM components WHERE component_id = ?`, componentID)
	c, err := scanComponent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get component: %w", err)
	}
	return c, nil
}
