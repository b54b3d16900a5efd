package composer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/narratex/loom/internal/content"
	"github.com/narratex/loom/internal/notation"
	"github.com/narratex/loom/internal/storage"
)

const aiParseChunkSize = 2000 // characters per AI-assist chunk

// NotationParser is the optional AI-assisted fallback for converting
// unstructured output into facts.
type NotationParser interface {
	Parse(ctx context.Context, text string) []notation.Fact
}

// Compact builds prompts from stored notation tuples instead of full
// entities. Prompt size stays roughly constant regardless of project size.
type Compact struct {
	store     *storage.Store
	aiParser  NotationParser // nil disables AI-assisted parsing
	maxTokens int
	logger    *slog.Logger
}

// NewCompact creates the notation-based strategy. If maxContextTokens <= 0,
// the default (4000) is used. aiParser may be nil.
func NewCompact(store *storage.Store, aiParser NotationParser, maxContextTokens int) *Compact {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Compact{
		store:     store,
		aiParser:  aiParser,
		maxTokens: maxContextTokens,
		logger:    slog.Default(),
	}
}

// LoadContext returns all notations visible to the given project.
func (c *Compact) LoadContext(projectID string) ([]storage.Notation, error) {
	return c.store.ListNotations(projectID, 0)
}

// BuildPrompt extends the base prompt with the notation lines relevant to
// the requested stage, most relevant kinds first, within the token budget.
// Only notations from earlier stages are read, so a concurrently executing
// later stage can never leak partially written data into this prompt.
func (c *Compact) BuildPrompt(ctx context.Context, projectID string, stageNumber int, basePrompt string) (string, error) {
	start := time.Now()

	notations, err := c.store.ListNotations(projectID, stageNumber-1)
	if err != nil {
		return "", fmt.Errorf("loading notations: %w", err)
	}
	if len(notations) == 0 {
		return basePrompt, nil
	}

	selected := selectByRelevance(notations, stageNumber)

	var sb strings.Builder
	sb.WriteString(basePrompt)
	sb.WriteString("\n\n[Context Notation]\nEach line below is one established fact in UAOL notation (obj=entity, evt=timeline event, unit=structural unit, leaf=granular unit, rel=relation). Stay consistent with every fact.\n")

	remaining := c.maxTokens
	count := 0
	for _, n := range selected {
		line := n.Line + "\n"
		tokens := EstimateTokens(line)
		if tokens > remaining {
			break
		}
		sb.WriteString(line)
		remaining -= tokens
		count++
	}

	c.logger.Debug("compact context built",
		"project_id", projectID,
		"stage", stageNumber,
		"notations_total", len(notations),
		"notations_used", count,
		"build_time_ms", time.Since(start).Milliseconds(),
	)

	return sb.String(), nil
}

// selectByRelevance orders notations so the kinds a stage depends on come
// first: stage 3 builds structure over entities and timeline, stage 4 fills
// units with knowledge of entities and existing structure.
func selectByRelevance(notations []storage.Notation, stageNumber int) []storage.Notation {
	var priority []string
	switch stageNumber {
	case content.StageObjects:
		priority = []string{notation.KindObject, notation.KindRelation, notation.KindEvent}
	case content.StageStructure:
		priority = []string{notation.KindObject, notation.KindEvent, notation.KindRelation}
	case content.StageGranular:
		priority = []string{notation.KindUnit, notation.KindObject, notation.KindEvent, notation.KindRelation}
	default:
		priority = []string{notation.KindObject, notation.KindEvent, notation.KindUnit, notation.KindLeaf, notation.KindRelation}
	}

	rank := make(map[string]int, len(priority))
	for i, k := range priority {
		rank[k] = i
	}

	ordered := make([]storage.Notation, 0, len(notations))
	for _, k := range priority {
		for _, n := range notations {
			if n.Kind == k {
				ordered = append(ordered, n)
			}
		}
	}
	// Kinds outside the priority list go last, in stored order.
	for _, n := range notations {
		if _, ok := rank[n.Kind]; !ok {
			ordered = append(ordered, n)
		}
	}
	return ordered
}

// SaveStageNotations converts freshly generated stage output into notation
// tuples and persists them versioned under the stage number. Typed output is
// converted directly; raw text falls back to scanning for notation lines and
// then, when an AI parser is configured, to AI-assisted extraction.
func (c *Compact) SaveStageNotations(ctx context.Context, projectID string, stageNumber int, outputData string) ([]storage.Notation, error) {
	start := time.Now()

	facts := c.extractFacts(ctx, stageNumber, outputData)
	if len(facts) == 0 {
		c.logger.Debug("no notations extracted", "project_id", projectID, "stage", stageNumber)
		return nil, nil
	}

	notations := make([]storage.Notation, 0, len(facts))
	for _, f := range facts {
		notations = append(notations, storage.Notation{
			ID:          uuid.NewString(),
			ProjectID:   projectID,
			StageNumber: stageNumber,
			Kind:        f.Kind(),
			Code:        f.Code(),
			Line:        notation.Encode(f),
		})
	}

	if err := c.store.SaveNotations(notations); err != nil {
		return nil, fmt.Errorf("saving notations: %w", err)
	}

	c.logger.Info("stage notations saved",
		"project_id", projectID,
		"stage", stageNumber,
		"notation_count", len(notations),
		"extraction_time_ms", time.Since(start).Milliseconds(),
	)

	return notations, nil
}

func (c *Compact) extractFacts(ctx context.Context, stageNumber int, outputData string) []notation.Fact {
	switch stageNumber {
	case content.StageObjects:
		var out content.Stage2Output
		if err := json.Unmarshal([]byte(outputData), &out); err == nil && len(out.Objects)+len(out.Timeline) > 0 {
			return notation.FactsFromStage2(out)
		}
	case content.StageStructure:
		var out content.Stage3Output
		if err := json.Unmarshal([]byte(outputData), &out); err == nil && len(out.Units) > 0 {
			return notation.FactsFromStage3(out)
		}
	case content.StageGranular:
		var out content.Stage4Output
		if err := json.Unmarshal([]byte(outputData), &out); err == nil && len(out.GranularUnits) > 0 {
			return notation.FactsFromStage4(out)
		}
	}

	// Output was not typed JSON. Look for inline notation lines first.
	if facts := notation.ParseLines(outputData); len(facts) > 0 {
		return facts
	}

	if c.aiParser == nil {
		return nil
	}
	return c.aiParse(ctx, outputData)
}

// aiParse splits long text into chunks and extracts facts from each
// concurrently, bounded to avoid overwhelming the provider.
func (c *Compact) aiParse(ctx context.Context, text string) []notation.Fact {
	chunks := splitChunks(text, aiParseChunkSize)

	results := make([][]notation.Fact, len(chunks))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(3) // Bound concurrency to avoid overwhelming the provider.

	for i, chunk := range chunks {
		g.Go(func() error {
			results[i] = c.aiParser.Parse(gCtx, chunk)
			return nil
		})
	}
	// Parse failures degrade to empty chunks; no error path.
	g.Wait()

	var facts []notation.Fact
	for _, r := range results {
		facts = append(facts, r...)
	}
	return facts
}

// splitChunks breaks text at paragraph boundaries into pieces of roughly
// maxLen characters.
func splitChunks(text string, maxLen int) []string {
	paragraphs := strings.Split(text, "\n\n")
	var chunks []string
	var sb strings.Builder
	for _, p := range paragraphs {
		if sb.Len() > 0 && sb.Len()+len(p) > maxLen {
			chunks = append(chunks, sb.String())
			sb.Reset()
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(p)
	}
	if strings.TrimSpace(sb.String()) != "" {
		chunks = append(chunks, sb.String())
	}
	return chunks
}
