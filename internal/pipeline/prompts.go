package pipeline

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/narratex/loom/internal/storage"
)

// systemPrompt is shared by every generation call.
const systemPrompt = `You are a long-form content architect. You build coherent multi-stage artifacts: every name, place, timeline position, and open thread you introduce must stay consistent across stages. Your output must be ONLY a single valid JSON object conforming to the requested shape. No prose, no markdown fences.`

// stageBrief holds the per-stage instruction block for one content type.
type stageBrief struct {
	role   string
	shapes [4]string
}

// Output shape blocks, shared across content types. These mirror the typed
// stage schemas the engine persists.
const (
	shapeBigPicture = `{"title": string, "premise": string, "synopsis": string, "themes": [string], "plot_threads": [string], "style_guide": string}`

	shapeObjects = `{"objects": [{"type": string (%s), "code": string (stable snake_case id, e.g. "char_protagonist"), "name": string, "description": string, "extended_info": string, "relationships": {other_code: relation}}], "timeline": [{"sequence_order": int (ascending from 1), "time_marker": string, "description": string, "type": string, "involved_objects": [object codes], "impact_level": int 1-5}]}`

	shapeStructure = `{"units": [{"unit_code": string (e.g. "%s"), "parent_code": string or "" for top level, "title": string, "description": string, "featured_objects": [object codes], "target_size": int, "size_unit": string}]}`

	shapeGranular = `{"granular_units": [{"parent_code": existing unit_code, "title": string, "estimated_size": int, "execution_style": string, "progression_arc": string, "key_elements": [string], "creator_notes": string}]}`
)

var briefs = map[string]stageBrief{
	"novel": {
		role: "novelist",
		shapes: [4]string{
			"Develop the big picture for a novel: working title, premise, one-page synopsis, central themes, the open plot threads you intend to weave, and a style guide (voice, tense, tone).",
			"Create the novel's cast and world: characters, locations, and key concepts as coded objects, plus the chronological event timeline of the underlying story.",
			"Design the novel's structure: acts containing chapters, as a tree of units. Reference established character and location codes in featured_objects.",
			"Plan every scene: for each chapter, the scenes that realize it, each bound to its chapter's unit_code, with pacing style and progression arc.",
		},
	},
	"course": {
		role: "curriculum designer",
		shapes: [4]string{
			"Develop the big picture for a course: title, premise (what the learner can do afterwards), synopsis, core themes, the running threads connecting lessons, and a style guide for tone and difficulty ramp.",
			"Create the course's conceptual inventory: key concepts, tools, and personas as coded objects, plus the learning-progression timeline ordering when each is introduced.",
			"Design the curriculum structure: modules containing lessons, as a tree of units. Reference established concept codes in featured_objects.",
			"Plan every activity: for each lesson, the exercises, examples, and assessments, each bound to its lesson's unit_code.",
		},
	},
	"documentary": {
		role: "documentary director",
		shapes: [4]string{
			"Develop the big picture for a documentary: title, premise, synopsis, central themes, the narrative threads to follow, and a style guide (visual language, narration tone).",
			"Create the documentary's subjects: people, places, and phenomena as coded objects, plus the factual event timeline the film will traverse.",
			"Design the documentary's structure: episodes containing segments, as a tree of units. Reference established subject codes in featured_objects.",
			"Plan every sequence: for each segment, the interview, archival, and location sequences, each bound to its segment's unit_code.",
		},
	},
}

// genericBrief is used for content types without a dedicated template set.
var genericBrief = stageBrief{
	role: "content architect",
	shapes: [4]string{
		"Develop the big picture for this content: title, premise, synopsis, central themes, running threads, and a style guide.",
		"Create the content's entity inventory: the people, places, and concepts involved as coded objects, plus the ordered event timeline.",
		"Design the content's structure as a tree of units referencing established object codes.",
		"Plan the leaf-level items: for each bottom-level unit, the concrete pieces that realize it, bound to that unit's unit_code.",
	},
}

func objectTypeHint(contentType string) string {
	switch contentType {
	case "novel":
		return `"character", "location", or "concept"`
	case "course":
		return `"concept", "tool", or "persona"`
	case "documentary":
		return `"character", "location", or "phenomenon"`
	default:
		return `"character", "location", or "concept"`
	}
}

func unitCodeHint(contentType string) string {
	switch contentType {
	case "course":
		return "mod_1, les_1_1"
	case "documentary":
		return "ep_1, seg_1_1"
	default:
		return "act_1, ch_1_1"
	}
}

// basePrompt renders the fixed domain-specific prompt for a project's
// content type and stage number. Templates are fixed at build time, not
// configurable at runtime.
func basePrompt(p storage.Project, stageNumber int) string {
	brief, ok := briefs[p.ContentType]
	if !ok {
		brief = genericBrief
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are working as a %s on a %s project.\n\n", brief.role, p.ContentType)
	fmt.Fprintf(&sb, "Topic: %s\n", p.Topic)
	if p.TargetAudience != "" {
		fmt.Fprintf(&sb, "Target audience: %s\n", p.TargetAudience)
	}
	if p.Genre != "" {
		fmt.Fprintf(&sb, "Genre: %s\n", p.Genre)
	}

	sb.WriteString("\n")
	sb.WriteString(brief.shapes[stageNumber-1])
	sb.WriteString("\n\nRespond with a JSON object of this shape:\n")

	switch stageNumber {
	case 1:
		sb.WriteString(shapeBigPicture)
	case 2:
		fmt.Fprintf(&sb, shapeObjects, objectTypeHint(p.ContentType))
	case 3:
		fmt.Fprintf(&sb, shapeStructure, unitCodeHint(p.ContentType))
	case 4:
		sb.WriteString(shapeGranular)
	}

	return sb.String()
}

// referenceSection renders trimmed reference material for stage-1 prompts.
func referenceSection(docs []storage.ReferenceDoc, maxTokens int) string {
	if len(docs) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n\n[Reference Material]\n")
	remaining := maxTokens * 4 // token heuristic: 4 chars per token
	for _, d := range docs {
		if remaining <= 0 {
			break
		}
		entry := fmt.Sprintf("--- %s ---\n%s\n", d.Title, d.Content)
		if len(entry) > remaining {
			// Back off to a rune boundary so the cut never garbles a
			// multi-byte character.
			cut := remaining
			for cut > 0 && !utf8.RuneStart(entry[cut]) {
				cut--
			}
			entry = entry[:cut]
		}
		sb.WriteString(entry)
		remaining -= len(entry)
	}
	return sb.String()
}
