// Package composer supplies cross-stage continuity data to stage prompts.
// Two strategies implement the same Builder contract: Full replays every
// persisted entity into the prompt, Compact replays stored notation tuples
// within a fixed token budget.
package composer

import "context"

// Context modes selectable per execution.
const (
	ModeFull    = "full"
	ModeCompact = "compact"
)

const defaultMaxContextTokens = 4000

// Builder enriches a base stage prompt with project context. The
// orchestrator swaps strategies without changing its own logic.
type Builder interface {
	// BuildPrompt returns the base prompt extended with whatever continuity
	// context the strategy selects for the given stage.
	BuildPrompt(ctx context.Context, projectID string, stageNumber int, basePrompt string) (string, error)
}

// EstimateTokens provides a rough token count using a 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
