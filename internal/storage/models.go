package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Project statuses.
const (
	ProjectPending    = "pending"
	ProjectInProgress = "in_progress"
	ProjectCompleted  = "completed"
	ProjectFailed     = "failed"
)

// Stage statuses.
const (
	StageInProgress = "in_progress"
	StageCompleted  = "completed"
	StageFailed     = "failed"
)

// Project and Stage are served unwrapped over the HTTP API, so both carry
// snake_case json tags matching what the CLI decodes.
type Project struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	ContentType    string    `json:"content_type"`
	Topic          string    `json:"topic"`
	TargetAudience string    `json:"target_audience"`
	Genre          string    `json:"genre"`
	Metadata       string    `json:"metadata"` // JSON object stored as text
	CurrentStage   int       `json:"current_stage"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Stage struct {
	ID               string    `json:"id"`
	ProjectID        string    `json:"project_id"`
	StageNumber      int       `json:"stage_number"`
	StageName        string    `json:"stage_name"`
	Status           string    `json:"status"`
	InputData        string    `json:"input_data"` // serialized previous-stage output, "" for stage 1
	OutputData       string    `json:"output_data"`
	ValidationScore  int       `json:"validation_score"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	Error            string    `json:"error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	CompletedAt      time.Time `json:"completed_at"` // zero until completed/failed
}

// Object is a persisted domain entity: character, location, concept, etc.
// Code is the stable join key referenced by later stages and notations;
// once assigned, a code is never reused for a different entity within
// the same project.
type Object struct {
	ID            string
	ProjectID     string
	StageID       string
	Type          string
	Code          string
	Name          string
	Description   string
	ExtendedInfo  string
	Relationships string // JSON map of code -> relation
	Metadata      string // JSON object stored as text
	CreatedAt     time.Time
}

type TimelineEvent struct {
	ID              string
	ProjectID       string
	StageID         string
	SequenceOrder   int
	TimeMarker      string
	Description     string
	Type            string
	InvolvedObjects string // JSON array of object codes
	ImpactLevel     int
	CreatedAt       time.Time
}

// StructuralUnit is a node in the content's table-of-contents tree
// (act/chapter/module/episode). Roots have ParentUnitID == "".
type StructuralUnit struct {
	ID              string
	ProjectID       string
	StageID         string
	ParentUnitID    string
	UnitLevel       int
	UnitCode        string
	Title           string
	Description     string
	FeaturedObjects string // JSON array of object codes
	TargetSize      int
	SizeUnit        string
	CreatedAt       time.Time
}

// GranularUnit is a leaf content item (scene/activity/segment) bound to
// exactly one StructuralUnit.
type GranularUnit struct {
	ID               string
	ProjectID        string
	StageID          string
	StructuralUnitID string
	Title            string
	EstimatedSize    int
	ExecutionStyle   string
	ProgressionArc   string
	KeyElements      string // JSON array
	CreatorNotes     string
	CreatedAt        time.Time
}

// Notation is one UAOL tuple: a compact encoding of a single fact about an
// entity, event, unit, or relation, versioned per stage.
type Notation struct {
	ID          string
	ProjectID   string
	StageNumber int
	Kind        string
	Code        string
	Line        string
	CreatedAt   time.Time
}

type MentorReport struct {
	ID                 string
	ProjectID          string
	StageNumber        int
	ValidationScore    int
	Issues             string // JSON array
	Suggestions        string // JSON array
	CorrectionsApplied bool
	MentorInsight      string
	ContinuityCheck    string // JSON object
	CreatedAt          time.Time
}

type CorrectionRecord struct {
	ID              string
	ProjectID       string
	StageNumber     int
	OriginalOutput  string
	CorrectedOutput string
	IssuesFixed     string // JSON array
	FinalScore      int
	CreatedAt       time.Time
}

// ReferenceDoc is background material attached to a project, folded into
// stage-1 prompts.
type ReferenceDoc struct {
	ID        string
	ProjectID string
	Title     string
	Source    string // "upload", "url", or "text"
	Content   string
	CreatedAt time.Time
}

// Statistics summarizes persisted content for a project.
type Statistics struct {
	Objects         int `json:"objects"`
	StructuralUnits int `json:"structural_units"`
	GranularUnits   int `json:"granular_units"`
	CompletedStages int `json:"completed_stages"`
}
