package pipeline

import (
	"encoding/json"
	"errors"

	"github.com/narratex/loom/internal/mentor"
	"github.com/narratex/loom/internal/storage"
)

// Precondition errors, rejected before any AI call and before any write.
var (
	ErrProjectNotFound         = errors.New("project not found")
	ErrInvalidStage            = errors.New("invalid stage number")
	ErrPreviousStageIncomplete = errors.New("previous stage incomplete")
	ErrStageAlreadyCompleted   = errors.New("stage already completed")
	ErrStageInProgress         = errors.New("stage execution already in progress")
)

// ProjectSpec describes a project to create.
type ProjectSpec struct {
	Name           string         `json:"project_name"`
	ContentType    string         `json:"content_type"`
	Topic          string         `json:"topic"`
	TargetAudience string         `json:"target_audience,omitempty"`
	Genre          string         `json:"genre,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// AIConfig carries per-execution overrides. Zero values fall back to the
// orchestrator's configured defaults.
type AIConfig struct {
	Provider       string  `json:"provider,omitempty"`
	Model          string  `json:"model,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
	MaxTokens      int     `json:"maxTokens,omitempty"`
	ContextMode    string  `json:"context_mode,omitempty"`
	SkipValidation bool    `json:"skip_validation,omitempty"`
}

// ValidationSummary is the validation slice of a stage result.
type ValidationSummary struct {
	Score           int                    `json:"score"`
	IssuesFixed     []string               `json:"issues_fixed"`
	MentorInsight   string                 `json:"mentor_insight"`
	ContinuityCheck mentor.ContinuityCheck `json:"continuity_check"`
}

// StageResult is returned from a successful stage execution.
type StageResult struct {
	StageID     string            `json:"id"`
	StageNumber int               `json:"stage_number"`
	StageName   string            `json:"stage_name"`
	Output      json.RawMessage   `json:"output"`
	Validation  ValidationSummary `json:"validation"`
	NextStage   int               `json:"next_stage"` // 0 after the final stage
}

// ProjectStatus is the full view of a project with its stages.
type ProjectStatus struct {
	Project    storage.Project    `json:"project"`
	Stages     []storage.Stage    `json:"stages"`
	Statistics storage.Statistics `json:"statistics"`
}
