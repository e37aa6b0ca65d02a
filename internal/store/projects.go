package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"partfinder/internal/types"
)

// CreateProject inserts a new project row. CreatedAt is filled if zero and
// Status defaults to queued.
func (s *Store) CreateProject(ctx context.Context, p *types.Project) error {
	if p.Status == "" {
		p.Status = types.StatusQueued
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (project_id, name, description, status, created_at, start_time, end_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ProjectID, nullable(p.Name), nullable(p.Description), string(p.Status),
		formatTime(p.CreatedAt), formatTimePtr(p.StartTime), formatTimePtr(p.EndTime))
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

// CreateBomItem inserts one BOM line item and fills its surrogate id.
func (s *Store) CreateBomItem(ctx context.Context, it *types.BomItem) error {
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO bom_items (project_id, quantity, description, package, possible_mpn, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		it.ProjectID, it.Quantity, it.Description, it.Package,
		nullable(it.PossibleMpn), nullable(it.Notes), formatTime(it.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert bom item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read bom item id: %w", err)
	}
	it.BomItemID = id
	return nil
}

// CreateProjectWithItems persists a project and its BOM items in one
// transaction. Either everything is stored or nothing is.
func (s *Store) CreateProjectWithItems(ctx context.Context, p *types.Project, items []types.BomItem) error {
	if p.Status == "" {
		p.Status = types.StatusQueued
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO projects (project_id, name, description, status, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		p.ProjectID, nullable(p.Name), nullable(p.Description), string(p.Status), formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}

	for i := range items {
		it := &items[i]
		it.ProjectID = p.ProjectID
		if it.CreatedAt.IsZero() {
			it.CreatedAt = p.CreatedAt
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO bom_items (project_id, quantity, description, package, possible_mpn, notes, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			it.ProjectID, it.Quantity, it.Description, it.Package,
			nullable(it.PossibleMpn), nullable(it.Notes), formatTime(it.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert bom item %d: %w", i, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read bom item id: %w", err)
		}
		it.BomItemID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit project: %w", err)
	}
	return nil
}

const projectColumns = `project_id, name, description, status, created_at, start_time, end_time, current_component_index`

func scanProject(row interface{ Scan(...any) error }) (*types.Project, error) {
	var (
		p          types.Project
		name       sql.NullString
		desc       sql.NullString
		status     string
		createdAt  string
		startTime  sql.NullString
		endTime    sql.NullString
		currentIdx sql.NullInt64
	)
	if err := row.Scan(&p.ProjectID, &name, &desc, &status, &createdAt, &startTime, &endTime, &currentIdx); err != nil {
		return nil, err
	}
	p.Name = strPtr(name)
	p.Description = strPtr(desc)
	p.Status = types.ProjectStatus(status)

	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if p.StartTime, err = scanTimePtr(startTime); err != nil {
		return nil, fmt.Errorf("failed to parse start_time: %w", err)
	}
	if p.EndTime, err = scanTimePtr(endTime); err != nil {
		return nil, fmt.Errorf("failed to parse end_time: %w", err)
	}
	if currentIdx.Valid {
		idx := int(currentIdx.Int64)
		p.CurrentComponentIndex = &idx
	}
	return &p, nil
}

// GetProject retrieves a project by id. Returns ErrNotFound if absent.
func (s *Store) GetProject(ctx context.Context, projectID string) (*types.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE project_id = ?`, projectID)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// GetBomItems returns a project's BOM items in insertion order.
func (s *Store) GetBomItems(ctx context.Context, projectID string) ([]types.BomItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT bom_item_id, project_id, quantity, description, package, possible_mpn, notes, created_at
		 FROM bom_items WHERE project_id = ? ORDER BY bom_item_id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bom items: %w", err)
	}
	defer rows.Close()

	var items []types.BomItem
	for rows.Next() {
		var (
			it        types.BomItem
			mpn       sql.NullString
			notes     sql.NullString
			createdAt string
		)
		if err := rows.Scan(&it.BomItemID, &it.ProjectID, &it.Quantity, &it.Description,
			&it.Package, &mpn, &notes, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan bom item: %w", err)
		}
		it.PossibleMpn = strPtr(mpn)
		it.Notes = strPtr(notes)
		if it.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse bom item created_at: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetQueueInfo returns the 1-based queue position of a project and the total
// number of queued projects. Returns (0, 0) if the project is absent or not
// queued. Position counts queued projects created at or before this one.
func (s *Store) GetQueueInfo(ctx context.Context, projectID string) (position, total int, err error) {
	p, err := s.GetProject(ctx, projectID)
	if errors.Is(err, ErrNotFound) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	if p.Status != types.StatusQueued {
		return 0, 0, nil
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM projects WHERE status = ?`, string(types.StatusQueued)).Scan(&total)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count queued projects: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM projects WHERE status = ? AND created_at <= ?`,
		string(types.StatusQueued), formatTime(p.CreatedAt)).Scan(&position)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to compute queue position: %w", err)
	}
	return position, total, nil
}

// CountQueued returns the number of queued projects.
func (s *Store) CountQueued(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM projects WHERE status = ?`, string(types.StatusQueued)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count queued projects: %w", err)
	}
	return n, nil
}

// FindNextQueued returns the oldest queued project, or ErrNotFound when the
// queue is empty.
func (s *Store) FindNextQueued(ctx context.Context) (*types.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE status = ?
		 ORDER BY created_at, project_id LIMIT 1`, string(types.StatusQueued))
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find next queued project: %w", err)
	}
	return p, nil
}

// UpdateProjectStatus moves a project to a new status, optionally setting the
// start and end timestamps. Transitions outside the legal table are rejected
// with ErrIllegalTransition.
func (s *Store) UpdateProjectStatus(ctx context.Context, projectID string, newStatus types.ProjectStatus, startTime, endTime *time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM projects WHERE project_id = ?`, projectID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read project status: %w", err)
	}

	if !types.ValidTransition(types.ProjectStatus(current), newStatus) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, newStatus)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE projects SET status = ?,
		        start_time = COALESCE(?, start_time),
		        end_time = COALESCE(?, end_time)
		 WHERE project_id = ?`,
		string(newStatus), formatTimePtr(startTime), formatTimePtr(endTime), projectID)
	if err != nil {
		return fmt.Errorf("failed to update project status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit status update: %w", err)
	}
	return nil
}

// SetCurrentComponentIndex records how many items of a project have reached a
// terminal status, for progress display.
func (s *Store) SetCurrentComponentIndex(ctx context.Context, projectID string, index int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET current_component_index = ? WHERE project_id = ?`, index, projectID)
	if err != nil {
		return fmt.Errorf("failed to set component index: %w", err)
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

// CancelProject transitions a project to cancelled. Only queued and error
// projects may be cancelled through the API; anything else is rejected with
// ErrIllegalTransition.
func (s *Store) CancelProject(ctx context.Context, projectID string) error {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if p.Status != types.StatusQueued && p.Status != types.StatusError {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, p.Status, types.StatusCancelled)
	}
	return s.UpdateProjectStatus(ctx, projectID, types.StatusCancelled, nil, nil)
}
