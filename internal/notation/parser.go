package notation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/narratex/loom/internal/content"
	"github.com/narratex/loom/internal/provider"
)

const aiParseTimeout = 30 * time.Second

// FactsFromStage2 converts typed stage-2 output into notation facts: one obj
// tuple per object, one evt tuple per timeline event, and one rel tuple per
// cross-object relationship.
func FactsFromStage2(out content.Stage2Output) []Fact {
	var facts []Fact
	for _, obj := range out.Objects {
		facts = append(facts, ObjectFact{
			ObjectCode:  obj.Code,
			Type:        obj.Type,
			Name:        obj.Name,
			Description: obj.Description,
			Relations:   obj.Relationships,
		})
		for to, relation := range obj.Relationships {
			facts = append(facts, RelationFact{From: obj.Code, To: to, Relation: relation})
		}
	}
	for _, e := range out.Timeline {
		facts = append(facts, EventFact{
			Seq:        e.SequenceOrder,
			TimeMarker: e.TimeMarker,
			Type:       e.Type,
			Desc:       e.Description,
			Involved:   e.InvolvedObjects,
			Impact:     e.ImpactLevel,
		})
	}
	return facts
}

// FactsFromStage3 converts the structural tree into unit tuples. Levels are
// derived from parent chains (roots are level 1).
func FactsFromStage3(out content.Stage3Output) []Fact {
	levels := content.UnitLevels(out.Units)
	facts := make([]Fact, 0, len(out.Units))
	for _, u := range out.Units {
		facts = append(facts, UnitFact{
			UnitCode:   u.UnitCode,
			Level:      levels[u.UnitCode],
			ParentCode: u.ParentCode,
			Title:      u.Title,
			Featured:   u.FeaturedObjects,
		})
	}
	return facts
}

// FactsFromStage4 converts granular units into leaf tuples.
func FactsFromStage4(out content.Stage4Output) []Fact {
	facts := make([]Fact, 0, len(out.GranularUnits))
	for _, g := range out.GranularUnits {
		facts = append(facts, LeafFact{
			ParentCode: g.ParentCode,
			Title:      g.Title,
			Size:       g.EstimatedSize,
			Style:      g.ExecutionStyle,
			Arc:        g.ProgressionArc,
		})
	}
	return facts
}

// ParseLines extracts all valid notation tuples from free text, ignoring
// everything that is not a well-formed UAOL line.
func ParseLines(text string) []Fact {
	var facts []Fact
	for _, line := range strings.Split(text, "\n") {
		if !IsNotationLine(line) {
			continue
		}
		fact, err := Decode(line)
		if err != nil {
			slog.Debug("skipping malformed notation line", "line", line, "error", err)
			continue
		}
		facts = append(facts, fact)
	}
	return facts
}

// AIParser uses the AI provider itself to convert ambiguous natural-language
// output into notation tuples when structured parsing finds nothing.
type AIParser struct {
	provider provider.Provider
	model    string
}

// NewAIParser creates an AIParser bound to the given provider and model.
func NewAIParser(p provider.Provider, model string) *AIParser {
	return &AIParser{provider: p, model: model}
}

const aiParseSystemPrompt = `You convert content descriptions into UAOL notation, one fact per line. Output ONLY notation lines, no prose, no markdown.

Formats (fields are separated by "|"; lists join items with ","):
uaol1|obj|<code>|<type>|<name>|<description>|<code=relation,...>
uaol1|evt|<sequence>|<time marker>|<type>|<description>|<involved codes>|<impact 1-5>
uaol1|unit|<unit code>|<level>|<parent code or empty>|<title>|<featured codes>
uaol1|leaf|<parent unit code>|<title>|<size>|<style>|<arc>
uaol1|rel|<from code>|<to code>|<relation>

Codes are short snake_case identifiers (e.g. char_protagonist, loc_lighthouse).`

// Parse asks the model to restate the text as UAOL lines and decodes
// whatever valid tuples come back. On any failure it returns nil; AI-assisted
// parsing must never block the stage pipeline.
func (p *AIParser) Parse(ctx context.Context, text string) []Fact {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, aiParseTimeout)
	defer cancel()

	prompt := fmt.Sprintf("Convert the following content description into UAOL notation lines:\n\n%s", text)
	result, err := p.provider.GenerateCompletion(ctx, prompt, provider.Options{
		Model:        p.model,
		Temperature:  0.1,
		MaxTokens:    2000,
		SystemPrompt: aiParseSystemPrompt,
	})
	if err != nil {
		slog.Warn("AI-assisted notation parsing failed", "error", err)
		return nil
	}
	return ParseLines(result.Content)
}
