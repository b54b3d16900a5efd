package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const projectColumns = "id, name, content_type, topic, target_audience, genre, metadata, current_stage, status, created_at, updated_at"

func (s *Store) CreateProject(p Project) error {
	metadata := p.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	status := p.Status
	if status == "" {
		status = ProjectPending
	}
	now := time.Now().UTC()
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err := s.db.Exec(`
		INSERT INTO projects (`+projectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.ContentType, p.Topic, p.TargetAudience, p.Genre,
		metadata, p.CurrentStage, status,
		createdAt.Format(time.RFC3339), createdAt.Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetProject(id string) (Project, error) {
	row := s.db.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return Project{}, ErrNotFound
	}
	return p, err
}

// ListProjects returns projects filtered by status and content type (either
// may be empty), newest first.
func (s *Store) ListProjects(status, contentType string, limit, offset int) ([]Project, error) {
	if limit <= 0 {
		limit = 50
	}
	var conds []string
	var args []any
	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, status)
	}
	if contentType != "" {
		conds = append(conds, "content_type = ?")
		args = append(args, contentType)
	}
	query := `SELECT ` + projectColumns + ` FROM projects`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// AdvanceProject updates a project's current stage and status after a stage
// execution finishes.
func (s *Store) AdvanceProject(id string, currentStage int, status string) error {
	res, err := s.db.Exec(`UPDATE projects SET current_stage = ?, status = ?, updated_at = ? WHERE id = ?`,
		currentStage, status, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(r rowScanner) (Project, error) {
	var p Project
	var createdAt, updatedAt string
	err := r.Scan(&p.ID, &p.Name, &p.ContentType, &p.Topic, &p.TargetAudience,
		&p.Genre, &p.Metadata, &p.CurrentStage, &p.Status, &createdAt, &updatedAt)
	if err != nil {
		return Project{}, err
	}
	if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Project{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Project{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return p, nil
}

// --- Stages ---

const stageColumns = "id, project_id, stage_number, stage_name, status, input_data, output_data, validation_score, processing_time_ms, error, created_at, completed_at"

// CreateStage inserts a new stage row with status in_progress. The
// UNIQUE(project_id, stage_number) constraint rejects a duplicate execution
// of the same stage.
func (s *Store) CreateStage(st Stage) error {
	status := st.Status
	if status == "" {
		status = StageInProgress
	}
	createdAt := st.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO stages (id, project_id, stage_number, stage_name, status, input_data, output_data, validation_score, processing_time_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.ProjectID, st.StageNumber, st.StageName, status,
		st.InputData, st.OutputData, st.ValidationScore, st.ProcessingTimeMs,
		st.Error, createdAt.Format(time.RFC3339),
	)
	return err
}

// CompleteStage finalizes a stage with its output and validation score.
func (s *Store) CompleteStage(id, outputData string, validationScore int, processingTimeMs int64) error {
	return s.finalizeStage(id, StageCompleted, outputData, validationScore, processingTimeMs, "")
}

// FailStage marks a stage failed with the given error message.
func (s *Store) FailStage(id, errMsg string, processingTimeMs int64) error {
	return s.finalizeStage(id, StageFailed, "", 0, processingTimeMs, errMsg)
}

func (s *Store) finalizeStage(id, status, outputData string, score int, processingTimeMs int64, errMsg string) error {
	res, err := s.db.Exec(`
		UPDATE stages SET status = ?, output_data = ?, validation_score = ?, processing_time_ms = ?, error = ?, completed_at = ?
		WHERE id = ?`,
		status, outputData, score, processingTimeMs, errMsg,
		time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteStage removes a stage row. Used to clear a previously failed attempt
// before re-executing the same stage number.
func (s *Store) DeleteStage(id string) error {
	_, err := s.db.Exec(`DELETE FROM stages WHERE id = ?`, id)
	return err
}

// GetStage returns the stage with the given number for a project.
func (s *Store) GetStage(projectID string, stageNumber int) (Stage, error) {
	row := s.db.QueryRow(`SELECT `+stageColumns+` FROM stages WHERE project_id = ? AND stage_number = ?`,
		projectID, stageNumber)
	st, err := scanStage(row)
	if err == sql.ErrNoRows {
		return Stage{}, ErrNotFound
	}
	return st, err
}

// ListStages returns all stages for a project in stage-number order.
func (s *Store) ListStages(projectID string) ([]Stage, error) {
	rows, err := s.db.Query(`SELECT `+stageColumns+` FROM stages WHERE project_id = ? ORDER BY stage_number ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Stage
	for rows.Next() {
		st, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, st)
	}
	return results, rows.Err()
}

func scanStage(r rowScanner) (Stage, error) {
	var st Stage
	var createdAt string
	var completedAt sql.NullString
	err := r.Scan(&st.ID, &st.ProjectID, &st.StageNumber, &st.StageName, &st.Status,
		&st.InputData, &st.OutputData, &st.ValidationScore, &st.ProcessingTimeMs,
		&st.Error, &createdAt, &completedAt)
	if err != nil {
		return Stage{}, err
	}
	if st.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Stage{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if completedAt.Valid && completedAt.String != "" {
		if st.CompletedAt, err = time.Parse(time.RFC3339, completedAt.String); err != nil {
			return Stage{}, fmt.Errorf("parsing completed_at: %w", err)
		}
	}
	return st, nil
}
