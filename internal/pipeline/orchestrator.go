// Package pipeline sequences the four generation stages: precondition
// checks, prompt building through a context strategy, provider calls, mentor
// validation with a single correction pass, and typed persistence of the
// results.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/narratex/loom/internal/composer"
	"github.com/narratex/loom/internal/content"
	"github.com/narratex/loom/internal/mentor"
	"github.com/narratex/loom/internal/provider"
	"github.com/narratex/loom/internal/storage"
)

// ProviderFactory resolves a provider tag to a backend.
type ProviderFactory func(tag string) (provider.Provider, error)

// staleStageAfter bounds how long an in_progress stage row blocks re-execution.
// A row older than this was left by a crashed process and is reclaimed.
const staleStageAfter = 30 * time.Minute

// Defaults are the orchestrator-level fallbacks applied when an execution's
// AIConfig leaves fields unset.
type Defaults struct {
	Provider        string
	Model           string
	ContextMode     string
	SkipValidation  bool
	ReferenceTokens int // token budget for stage-1 reference material
}

// stageDefaults fixes per-stage generation parameters. Earlier stages run
// hotter; later stages produce more tokens.
var stageDefaults = [content.StageCount]struct {
	temperature float64
	maxTokens   int
}{
	{0.9, 2000},
	{0.8, 4000},
	{0.7, 4000},
	{0.7, 6000},
}

// Orchestrator is the stage state machine.
type Orchestrator struct {
	store     *storage.Store
	providers ProviderFactory
	builders  map[string]composer.Builder
	compact   *composer.Compact
	defaults  Defaults
	locks     *projectLocks
	logger    *slog.Logger
}

// New creates an Orchestrator. builders must contain the full and compact
// strategies; compact is also used directly for notation extraction after
// every stage.
func New(store *storage.Store, providers ProviderFactory, full *composer.Full, compact *composer.Compact, defaults Defaults) *Orchestrator {
	if defaults.ContextMode == "" {
		defaults.ContextMode = composer.ModeFull
	}
	if defaults.ReferenceTokens <= 0 {
		defaults.ReferenceTokens = 1500
	}
	return &Orchestrator{
		store:     store,
		providers: providers,
		builders: map[string]composer.Builder{
			composer.ModeFull:    full,
			composer.ModeCompact: compact,
		},
		compact:  compact,
		defaults: defaults,
		locks:    newProjectLocks(),
		logger:   slog.Default(),
	}
}

// CreateProject persists a new project in the pending state.
func (o *Orchestrator) CreateProject(spec ProjectSpec) (storage.Project, error) {
	if spec.Name == "" || spec.ContentType == "" || spec.Topic == "" {
		return storage.Project{}, fmt.Errorf("project_name, content_type, and topic are required")
	}

	metadata := "{}"
	if len(spec.Metadata) > 0 {
		b, err := json.Marshal(spec.Metadata)
		if err != nil {
			return storage.Project{}, fmt.Errorf("marshaling metadata: %w", err)
		}
		metadata = string(b)
	}

	p := storage.Project{
		ID:             uuid.NewString(),
		Name:           spec.Name,
		ContentType:    spec.ContentType,
		Topic:          spec.Topic,
		TargetAudience: spec.TargetAudience,
		Genre:          spec.Genre,
		Metadata:       metadata,
		CurrentStage:   0,
		Status:         storage.ProjectPending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := o.store.CreateProject(p); err != nil {
		return storage.Project{}, fmt.Errorf("creating project: %w", err)
	}

	o.logger.Info("project created", "project_id", p.ID, "content_type", p.ContentType, "topic", p.Topic)
	return o.store.GetProject(p.ID)
}

// Status returns a project with its stages and content statistics.
func (o *Orchestrator) Status(projectID string) (ProjectStatus, error) {
	p, err := o.store.GetProject(projectID)
	if err == storage.ErrNotFound {
		return ProjectStatus{}, ErrProjectNotFound
	}
	if err != nil {
		return ProjectStatus{}, err
	}
	stages, err := o.store.ListStages(projectID)
	if err != nil {
		return ProjectStatus{}, fmt.Errorf("listing stages: %w", err)
	}
	stats, err := o.store.ProjectStatistics(projectID)
	if err != nil {
		return ProjectStatus{}, fmt.Errorf("collecting statistics: %w", err)
	}
	return ProjectStatus{Project: p, Stages: stages, Statistics: stats}, nil
}

// List returns projects filtered by status and content type.
func (o *Orchestrator) List(status, contentType string, limit, offset int) ([]storage.Project, error) {
	return o.store.ListProjects(status, contentType, limit, offset)
}

// ExecuteStage runs one generation stage to completion. Precondition
// violations are rejected before any AI call and before any write.
func (o *Orchestrator) ExecuteStage(ctx context.Context, projectID string, stageNumber int, aiCfg AIConfig) (StageResult, error) {
	if stageNumber < 1 || stageNumber > content.StageCount {
		return StageResult{}, fmt.Errorf("%w: %d (must be 1-%d)", ErrInvalidStage, stageNumber, content.StageCount)
	}

	p, err := o.store.GetProject(projectID)
	if err == storage.ErrNotFound {
		return StageResult{}, ErrProjectNotFound
	}
	if err != nil {
		return StageResult{}, err
	}

	if !o.locks.acquire(projectID) {
		return StageResult{}, ErrStageInProgress
	}
	defer o.locks.release(projectID)

	// Transition guard: stage N requires stage N-1 completed.
	var inputData string
	if stageNumber > 1 {
		prev, err := o.store.GetStage(projectID, stageNumber-1)
		if err == storage.ErrNotFound || (err == nil && prev.Status != storage.StageCompleted) {
			return StageResult{}, fmt.Errorf("%w: stage %d must be completed first", ErrPreviousStageIncomplete, stageNumber-1)
		}
		if err != nil {
			return StageResult{}, err
		}
		inputData = prev.OutputData
	}

	// A completed stage is immutable; a failed one may be retried.
	if existing, err := o.store.GetStage(projectID, stageNumber); err == nil {
		switch existing.Status {
		case storage.StageCompleted:
			return StageResult{}, fmt.Errorf("%w: stage %d", ErrStageAlreadyCompleted, stageNumber)
		case storage.StageInProgress:
			// The in-process lock already excludes live runs, so an
			// in_progress row seen here was left by another process or a
			// crash. Rows older than staleStageAfter are reclaimed.
			if time.Since(existing.CreatedAt) < staleStageAfter {
				return StageResult{}, ErrStageInProgress
			}
			o.logger.Warn("reclaiming stale stage",
				"project_id", projectID, "stage_number", stageNumber, "stage_id", existing.ID)
			if err := o.store.DeleteStage(existing.ID); err != nil {
				return StageResult{}, fmt.Errorf("clearing stale stage: %w", err)
			}
		case storage.StageFailed:
			if err := o.store.DeleteStage(existing.ID); err != nil {
				return StageResult{}, fmt.Errorf("clearing failed stage: %w", err)
			}
		}
	} else if err != storage.ErrNotFound {
		return StageResult{}, err
	}

	return o.runStage(ctx, p, stageNumber, inputData, aiCfg)
}

func (o *Orchestrator) runStage(ctx context.Context, p storage.Project, stageNumber int, inputData string, aiCfg AIConfig) (StageResult, error) {
	start := time.Now()
	stageName := content.StageName(stageNumber)

	prompt, err := o.buildPrompt(ctx, p, stageNumber, aiCfg)
	if err != nil {
		return StageResult{}, fmt.Errorf("building prompt: %w", err)
	}

	backend, opts, err := o.resolveProvider(stageNumber, aiCfg)
	if err != nil {
		return StageResult{}, err
	}

	st := storage.Stage{
		ID:          uuid.NewString(),
		ProjectID:   p.ID,
		StageNumber: stageNumber,
		StageName:   stageName,
		Status:      storage.StageInProgress,
		InputData:   inputData,
	}
	if err := o.store.CreateStage(st); err != nil {
		return StageResult{}, fmt.Errorf("creating stage record: %w", err)
	}

	genStart := time.Now()
	completion, err := backend.GenerateCompletion(ctx, prompt, opts)
	genTime := time.Since(genStart)
	if err != nil {
		o.failStage(p, st.ID, stageNumber, err, start)
		return StageResult{}, fmt.Errorf("AI generation failed: %w", err)
	}

	outputRaw, parsedOK := content.ParseJSON(completion.Content)
	if !parsedOK {
		o.logger.Warn("stage output is not valid JSON, wrapped as raw content",
			"project_id", p.ID, "stage", stageNumber)
	}

	known := o.knownCodes(p.ID)
	validator := mentor.New(aiCfg.SkipValidation || o.defaults.SkipValidation)
	report := validator.Validate(string(outputRaw), stageNumber, known)

	var issuesFixed []string
	correctionsApplied := false
	if report.ValidationScore < mentor.CorrectionThreshold && len(report.Issues) > 0 {
		corrected, correctedReport, ok := o.runCorrection(ctx, backend, opts, prompt, outputRaw, report, stageNumber, known)
		if ok {
			record := storage.CorrectionRecord{
				ID:              uuid.NewString(),
				ProjectID:       p.ID,
				StageNumber:     stageNumber,
				OriginalOutput:  string(outputRaw),
				CorrectedOutput: string(corrected),
				IssuesFixed:     marshalStrings(report.Issues),
				FinalScore:      correctedReport.ValidationScore,
			}
			if err := o.store.SaveCorrection(record); err != nil {
				o.logger.Warn("saving correction record failed", "error", err)
			}
			issuesFixed = report.Issues
			outputRaw = corrected
			report = correctedReport
			correctionsApplied = true
		}
	}

	if err := o.persistStageEntities(p.ID, st.ID, stageNumber, outputRaw); err != nil {
		o.failStage(p, st.ID, stageNumber, err, start)
		return StageResult{}, fmt.Errorf("persisting stage entities: %w", err)
	}

	o.saveMentorReport(p.ID, stageNumber, report, correctionsApplied)

	// Extract compact notations from the (possibly corrected) output so
	// compact-mode context is available from the next stage on.
	if _, err := o.compact.SaveStageNotations(ctx, p.ID, stageNumber, string(outputRaw)); err != nil {
		o.logger.Warn("saving stage notations failed", "project_id", p.ID, "stage", stageNumber, "error", err)
	}

	processingMs := time.Since(start).Milliseconds()
	if err := o.store.CompleteStage(st.ID, string(outputRaw), report.ValidationScore, processingMs); err != nil {
		return StageResult{}, fmt.Errorf("finalizing stage: %w", err)
	}

	projectStatus := storage.ProjectInProgress
	nextStage := stageNumber + 1
	if stageNumber == content.StageCount {
		projectStatus = storage.ProjectCompleted
		nextStage = 0
	}
	if err := o.store.AdvanceProject(p.ID, stageNumber, projectStatus); err != nil {
		return StageResult{}, fmt.Errorf("advancing project: %w", err)
	}

	o.logger.Info("stage completed",
		"project_id", p.ID,
		"stage", stageNumber,
		"score", report.ValidationScore,
		"corrected", correctionsApplied,
		"generation_time_ms", genTime.Milliseconds(),
		"processing_time_ms", processingMs,
		"prompt_tokens", completion.Usage.PromptTokens,
		"completion_tokens", completion.Usage.CompletionTokens,
	)

	return StageResult{
		StageID:     st.ID,
		StageNumber: stageNumber,
		StageName:   stageName,
		Output:      outputRaw,
		Validation: ValidationSummary{
			Score:           report.ValidationScore,
			IssuesFixed:     issuesFixed,
			MentorInsight:   report.MentorInsight,
			ContinuityCheck: report.ContinuityCheck,
		},
		NextStage: nextStage,
	}, nil
}

// buildPrompt renders the fixed stage template and, for stages after the
// first, enriches it through the selected context strategy. Stage 1 instead
// folds in any attached reference material.
func (o *Orchestrator) buildPrompt(ctx context.Context, p storage.Project, stageNumber int, aiCfg AIConfig) (string, error) {
	base := basePrompt(p, stageNumber)

	if stageNumber == 1 {
		docs, err := o.store.ListReferenceDocs(p.ID)
		if err != nil {
			return "", fmt.Errorf("loading reference docs: %w", err)
		}
		return base + referenceSection(docs, o.defaults.ReferenceTokens), nil
	}

	mode := aiCfg.ContextMode
	if mode == "" {
		mode = o.defaults.ContextMode
	}
	builder, ok := o.builders[mode]
	if !ok {
		return "", fmt.Errorf("unknown context mode %q", mode)
	}
	return builder.BuildPrompt(ctx, p.ID, stageNumber, base)
}

func (o *Orchestrator) resolveProvider(stageNumber int, aiCfg AIConfig) (provider.Provider, provider.Options, error) {
	tag := aiCfg.Provider
	if tag == "" {
		tag = o.defaults.Provider
	}
	backend, err := o.providers(tag)
	if err != nil {
		return nil, provider.Options{}, fmt.Errorf("resolving provider: %w", err)
	}

	defaults := stageDefaults[stageNumber-1]
	opts := provider.Options{
		Model:        aiCfg.Model,
		Temperature:  aiCfg.Temperature,
		MaxTokens:    aiCfg.MaxTokens,
		SystemPrompt: systemPrompt,
	}
	if opts.Model == "" {
		opts.Model = o.defaults.Model
	}
	if opts.Temperature == 0 {
		opts.Temperature = defaults.temperature
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = defaults.maxTokens
	}
	return backend, opts, nil
}

// runCorrection performs the single correction round-trip. A failed
// correction call leaves the original output in place; low score alone is
// never fatal.
func (o *Orchestrator) runCorrection(
	ctx context.Context,
	backend provider.Provider,
	opts provider.Options,
	contextPrompt string,
	outputRaw json.RawMessage,
	report mentor.Report,
	stageNumber int,
	known mentor.Known,
) (json.RawMessage, mentor.Report, bool) {
	correctionPrompt := mentor.BuildCorrectionPrompt(string(outputRaw), report, stageNumber, contextPrompt)

	completion, err := backend.GenerateCompletion(ctx, correctionPrompt, opts)
	if err != nil {
		o.logger.Warn("correction call failed, keeping original output",
			"stage", stageNumber, "error", err)
		return nil, mentor.Report{}, false
	}

	corrected, _ := content.ParseJSON(completion.Content)
	validator := mentor.New(false)
	correctedReport := validator.Validate(string(corrected), stageNumber, known)

	o.logger.Info("correction applied",
		"stage", stageNumber,
		"original_score", report.ValidationScore,
		"corrected_score", correctedReport.ValidationScore,
	)
	return corrected, correctedReport, true
}

// knownCodes loads the established code sets the validator checks against.
func (o *Orchestrator) knownCodes(projectID string) mentor.Known {
	known := mentor.Known{
		ObjectCodes: make(map[string]string),
		UnitCodes:   make(map[string]bool),
	}
	objects, err := o.store.ListObjects(projectID)
	if err != nil {
		o.logger.Warn("loading object codes for validation failed", "error", err)
	}
	for _, obj := range objects {
		known.ObjectCodes[obj.Code] = obj.Type
	}
	units, err := o.store.ListStructuralUnits(projectID)
	if err != nil {
		o.logger.Warn("loading unit codes for validation failed", "error", err)
	}
	for _, u := range units {
		known.UnitCodes[u.UnitCode] = true
	}
	return known
}

func (o *Orchestrator) failStage(p storage.Project, stageID string, stageNumber int, cause error, start time.Time) {
	if err := o.store.FailStage(stageID, cause.Error(), time.Since(start).Milliseconds()); err != nil {
		o.logger.Error("recording stage failure failed", "stage_id", stageID, "error", err)
	}
	if err := o.store.AdvanceProject(p.ID, p.CurrentStage, storage.ProjectFailed); err != nil {
		o.logger.Error("marking project failed failed", "project_id", p.ID, "error", err)
	}
	o.logger.Error("stage failed", "project_id", p.ID, "stage", stageNumber, "error", cause)
}

func (o *Orchestrator) saveMentorReport(projectID string, stageNumber int, report mentor.Report, correctionsApplied bool) {
	continuity, _ := json.Marshal(report.ContinuityCheck)
	rec := storage.MentorReport{
		ID:                 uuid.NewString(),
		ProjectID:          projectID,
		StageNumber:        stageNumber,
		ValidationScore:    report.ValidationScore,
		Issues:             marshalStrings(report.Issues),
		Suggestions:        marshalStrings(report.Suggestions),
		CorrectionsApplied: correctionsApplied,
		MentorInsight:      report.MentorInsight,
		ContinuityCheck:    string(continuity),
	}
	if err := o.store.SaveMentorReport(rec); err != nil {
		o.logger.Warn("saving mentor report failed", "project_id", projectID, "error", err)
	}
}

func marshalStrings(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(items)
	return string(b)
}
