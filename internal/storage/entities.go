package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveObjects inserts all objects in one transaction. Codes are unique per
// project; a duplicate code fails the whole batch.
func (s *Store) SaveObjects(objects []Object) error {
	if len(objects) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, o := range objects {
		relationships := o.Relationships
		if relationships == "" {
			relationships = "{}"
		}
		metadata := o.Metadata
		if metadata == "" {
			metadata = "{}"
		}
		if _, err := tx.Exec(`
			INSERT INTO objects (id, project_id, stage_id, type, code, name, description, extended_info, relationships, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			o.ID, o.ProjectID, o.StageID, o.Type, o.Code, o.Name,
			o.Description, o.ExtendedInfo, relationships, metadata, now,
		); err != nil {
			return fmt.Errorf("inserting object %q: %w", o.Code, err)
		}
	}
	return tx.Commit()
}

// ListObjects returns all objects for a project, oldest first.
func (s *Store) ListObjects(projectID string) ([]Object, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, stage_id, type, code, name, description, extended_info, relationships, metadata, created_at
		FROM objects WHERE project_id = ? ORDER BY created_at ASC, code ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Object
	for rows.Next() {
		var o Object
		var createdAt string
		if err := rows.Scan(&o.ID, &o.ProjectID, &o.StageID, &o.Type, &o.Code, &o.Name,
			&o.Description, &o.ExtendedInfo, &o.Relationships, &o.Metadata, &createdAt); err != nil {
			return nil, err
		}
		if o.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, o)
	}
	return results, rows.Err()
}

// SaveTimelineEvents inserts all events in one transaction.
func (s *Store) SaveTimelineEvents(events []TimelineEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, e := range events {
		involved := e.InvolvedObjects
		if involved == "" {
			involved = "[]"
		}
		if _, err := tx.Exec(`
			INSERT INTO timeline_events (id, project_id, stage_id, sequence_order, time_marker, description, type, involved_objects, impact_level, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.ProjectID, e.StageID, e.SequenceOrder, e.TimeMarker,
			e.Description, e.Type, involved, e.ImpactLevel, now,
		); err != nil {
			return fmt.Errorf("inserting timeline event %d: %w", e.SequenceOrder, err)
		}
	}
	return tx.Commit()
}

// ListTimelineEvents returns a project's timeline in sequence order.
func (s *Store) ListTimelineEvents(projectID string) ([]TimelineEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, stage_id, sequence_order, time_marker, description, type, involved_objects, impact_level, created_at
		FROM timeline_events WHERE project_id = ? ORDER BY sequence_order ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []TimelineEvent
	for rows.Next() {
		var e TimelineEvent
		var createdAt string
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.StageID, &e.SequenceOrder, &e.TimeMarker,
			&e.Description, &e.Type, &e.InvolvedObjects, &e.ImpactLevel, &createdAt); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// SaveStructuralUnits inserts all units in one transaction.
func (s *Store) SaveStructuralUnits(units []StructuralUnit) error {
	if len(units) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, u := range units {
		featured := u.FeaturedObjects
		if featured == "" {
			featured = "[]"
		}
		var parent any
		if u.ParentUnitID != "" {
			parent = u.ParentUnitID
		}
		if _, err := tx.Exec(`
			INSERT INTO structural_units (id, project_id, stage_id, parent_unit_id, unit_level, unit_code, title, description, featured_objects, target_size, size_unit, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.ProjectID, u.StageID, parent, u.UnitLevel, u.UnitCode,
			u.Title, u.Description, featured, u.TargetSize, u.SizeUnit, now,
		); err != nil {
			return fmt.Errorf("inserting structural unit %q: %w", u.UnitCode, err)
		}
	}
	return tx.Commit()
}

// ListStructuralUnits returns a project's structural tree as a flat list,
// parents before children (ordered by level, then code).
func (s *Store) ListStructuralUnits(projectID string) ([]StructuralUnit, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, stage_id, parent_unit_id, unit_level, unit_code, title, description, featured_objects, target_size, size_unit, created_at
		FROM structural_units WHERE project_id = ? ORDER BY unit_level ASC, unit_code ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []StructuralUnit
	for rows.Next() {
		u, err := scanStructuralUnit(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, u)
	}
	return results, rows.Err()
}

// GetStructuralUnitByCode looks up a unit by its project-scoped unit_code.
func (s *Store) GetStructuralUnitByCode(projectID, unitCode string) (StructuralUnit, error) {
	row := s.db.QueryRow(`
		SELECT id, project_id, stage_id, parent_unit_id, unit_level, unit_code, title, description, featured_objects, target_size, size_unit, created_at
		FROM structural_units WHERE project_id = ? AND unit_code = ?`, projectID, unitCode)
	u, err := scanStructuralUnit(row)
	if err == sql.ErrNoRows {
		return StructuralUnit{}, ErrNotFound
	}
	return u, err
}

func scanStructuralUnit(r rowScanner) (StructuralUnit, error) {
	var u StructuralUnit
	var parent sql.NullString
	var createdAt string
	err := r.Scan(&u.ID, &u.ProjectID, &u.StageID, &parent, &u.UnitLevel, &u.UnitCode,
		&u.Title, &u.Description, &u.FeaturedObjects, &u.TargetSize, &u.SizeUnit, &createdAt)
	if err != nil {
		return StructuralUnit{}, err
	}
	u.ParentUnitID = parent.String
	if u.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return StructuralUnit{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return u, nil
}

// SaveGranularUnits inserts all leaves in one transaction.
func (s *Store) SaveGranularUnits(units []GranularUnit) error {
	if len(units) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, g := range units {
		keyElements := g.KeyElements
		if keyElements == "" {
			keyElements = "[]"
		}
		if _, err := tx.Exec(`
			INSERT INTO granular_units (id, project_id, stage_id, structural_unit_id, title, estimated_size, execution_style, progression_arc, key_elements, creator_notes, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			g.ID, g.ProjectID, g.StageID, g.StructuralUnitID, g.Title,
			g.EstimatedSize, g.ExecutionStyle, g.ProgressionArc, keyElements, g.CreatorNotes, now,
		); err != nil {
			return fmt.Errorf("inserting granular unit %q: %w", g.Title, err)
		}
	}
	return tx.Commit()
}

// ListGranularUnits returns all leaves for a project.
func (s *Store) ListGranularUnits(projectID string) ([]GranularUnit, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, stage_id, structural_unit_id, title, estimated_size, execution_style, progression_arc, key_elements, creator_notes, created_at
		FROM granular_units WHERE project_id = ? ORDER BY created_at ASC, title ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []GranularUnit
	for rows.Next() {
		var g GranularUnit
		var createdAt string
		if err := rows.Scan(&g.ID, &g.ProjectID, &g.StageID, &g.StructuralUnitID, &g.Title,
			&g.EstimatedSize, &g.ExecutionStyle, &g.ProgressionArc, &g.KeyElements, &g.CreatorNotes, &createdAt); err != nil {
			return nil, err
		}
		if g.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, g)
	}
	return results, rows.Err()
}

// ProjectStatistics counts persisted content for a project.
func (s *Store) ProjectStatistics(projectID string) (Statistics, error) {
	var stats Statistics
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM objects WHERE project_id = ?", &stats.Objects},
		{"SELECT COUNT(*) FROM structural_units WHERE project_id = ?", &stats.StructuralUnits},
		{"SELECT COUNT(*) FROM granular_units WHERE project_id = ?", &stats.GranularUnits},
		{"SELECT COUNT(*) FROM stages WHERE project_id = ? AND status = 'completed'", &stats.CompletedStages},
	}
	for _, q := range queries {
		if err := s.db.QueryRow(q.query, projectID).Scan(q.dest); err != nil {
			return Statistics{}, err
		}
	}
	return stats, nil
}
