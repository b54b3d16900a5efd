package storage

import (
	"fmt"
	"time"
)

// SaveNotations inserts all notation lines in one transaction.
func (s *Store) SaveNotations(notations []Notation) error {
	if len(notations) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, n := range notations {
		if _, err := tx.Exec(`
			INSERT INTO notations (id, project_id, stage_number, kind, code, line, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			n.ID, n.ProjectID, n.StageNumber, n.Kind, n.Code, n.Line, now,
		); err != nil {
			return fmt.Errorf("inserting notation %s/%s: %w", n.Kind, n.Code, err)
		}
	}
	return tx.Commit()
}

// ListNotations returns notation lines for a project. When maxStage > 0, only
// notations from stages up to and including maxStage are returned, so a
// running stage never reads partially written notations from a later one.
func (s *Store) ListNotations(projectID string, maxStage int) ([]Notation, error) {
	query := `SELECT id, project_id, stage_number, kind, code, line, created_at
		FROM notations WHERE project_id = ?`
	args := []any{projectID}
	if maxStage > 0 {
		query += " AND stage_number <= ?"
		args = append(args, maxStage)
	}
	query += " ORDER BY stage_number ASC, created_at ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Notation
	for rows.Next() {
		var n Notation
		var createdAt string
		if err := rows.Scan(&n.ID, &n.ProjectID, &n.StageNumber, &n.Kind, &n.Code, &n.Line, &createdAt); err != nil {
			return nil, err
		}
		if n.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, n)
	}
	return results, rows.Err()
}

// SaveMentorReport appends a mentor report. Reports are an audit trail and
// are never updated or deleted.
func (s *Store) SaveMentorReport(r MentorReport) error {
	issues := r.Issues
	if issues == "" {
		issues = "[]"
	}
	suggestions := r.Suggestions
	if suggestions == "" {
		suggestions = "[]"
	}
	continuity := r.ContinuityCheck
	if continuity == "" {
		continuity = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO mentor_reports (id, project_id, stage_number, validation_score, issues, suggestions, corrections_applied, mentor_insight, continuity_check, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ProjectID, r.StageNumber, r.ValidationScore, issues, suggestions,
		boolToInt(r.CorrectionsApplied), r.MentorInsight, continuity,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// ListMentorReports returns all reports for a project, oldest first.
func (s *Store) ListMentorReports(projectID string) ([]MentorReport, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, stage_number, validation_score, issues, suggestions, corrections_applied, mentor_insight, continuity_check, created_at
		FROM mentor_reports WHERE project_id = ? ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []MentorReport
	for rows.Next() {
		var r MentorReport
		var applied int
		var createdAt string
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.StageNumber, &r.ValidationScore,
			&r.Issues, &r.Suggestions, &applied, &r.MentorInsight, &r.ContinuityCheck, &createdAt); err != nil {
			return nil, err
		}
		r.CorrectionsApplied = applied != 0
		if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// SaveCorrection appends one correction attempt record.
func (s *Store) SaveCorrection(c CorrectionRecord) error {
	issuesFixed := c.IssuesFixed
	if issuesFixed == "" {
		issuesFixed = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO correction_history (id, project_id, stage_number, original_output, corrected_output, issues_fixed, final_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProjectID, c.StageNumber, c.OriginalOutput, c.CorrectedOutput,
		issuesFixed, c.FinalScore, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// ListCorrections returns correction attempts for one stage of a project.
func (s *Store) ListCorrections(projectID string, stageNumber int) ([]CorrectionRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, stage_number, original_output, corrected_output, issues_fixed, final_score, created_at
		FROM correction_history WHERE project_id = ? AND stage_number = ? ORDER BY created_at ASC`,
		projectID, stageNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CorrectionRecord
	for rows.Next() {
		var c CorrectionRecord
		var createdAt string
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.StageNumber, &c.OriginalOutput,
			&c.CorrectedOutput, &c.IssuesFixed, &c.FinalScore, &createdAt); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// SaveReferenceDoc stores extracted reference material for a project.
func (s *Store) SaveReferenceDoc(d ReferenceDoc) error {
	_, err := s.db.Exec(`
		INSERT INTO reference_docs (id, project_id, title, source, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.ProjectID, d.Title, d.Source, d.Content,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// ListReferenceDocs returns reference material for a project, oldest first.
func (s *Store) ListReferenceDocs(projectID string) ([]ReferenceDoc, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, title, source, content, created_at
		FROM reference_docs WHERE project_id = ? ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ReferenceDoc
	for rows.Next() {
		var d ReferenceDoc
		var createdAt string
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Title, &d.Source, &d.Content, &createdAt); err != nil {
			return nil, err
		}
		if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
