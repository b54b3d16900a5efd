// Package content defines the typed stage-output schemas shared by the
// orchestrator, context builders, validator, and notation codec.
package content

import (
	"encoding/json"
	"fmt"
	"strings"
)

// The four generation stages.
const (
	StageBigPicture = 1
	StageObjects    = 2
	StageStructure  = 3
	StageGranular   = 4

	StageCount = 4
)

// StageName returns the canonical name for a stage number.
func StageName(n int) string {
	switch n {
	case StageBigPicture:
		return "big_picture"
	case StageObjects:
		return "objects_relations"
	case StageStructure:
		return "structure"
	case StageGranular:
		return "granular_units"
	default:
		return fmt.Sprintf("stage_%d", n)
	}
}

// ObjectSpec is one generated entity (character, location, concept, ...)
// from stage 2 output.
type ObjectSpec struct {
	Type          string            `json:"type"`
	Code          string            `json:"code"`
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	ExtendedInfo  string            `json:"extended_info,omitempty"`
	Relationships map[string]string `json:"relationships,omitempty"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
}

// EventSpec is one generated timeline event from stage 2 output.
type EventSpec struct {
	SequenceOrder   int      `json:"sequence_order"`
	TimeMarker      string   `json:"time_marker"`
	Description     string   `json:"description"`
	Type            string   `json:"type,omitempty"`
	InvolvedObjects []string `json:"involved_objects,omitempty"`
	ImpactLevel     int      `json:"impact_level,omitempty"`
}

// Stage2Output is the typed schema for stage 2: entities plus timeline.
type Stage2Output struct {
	Objects  []ObjectSpec `json:"objects"`
	Timeline []EventSpec  `json:"timeline"`
}

// Validate checks the schema before persistence: every object needs a code
// and a name, and codes must be unique within the output.
func (o Stage2Output) Validate() error {
	seen := make(map[string]bool, len(o.Objects))
	for i, obj := range o.Objects {
		if obj.Code == "" {
			return fmt.Errorf("object %d has no code", i)
		}
		if obj.Name == "" {
			return fmt.Errorf("object %q has no name", obj.Code)
		}
		if seen[obj.Code] {
			return fmt.Errorf("duplicate object code %q", obj.Code)
		}
		seen[obj.Code] = true
	}
	return nil
}

// UnitSpec is one structural tree node from stage 3 output. Roots have an
// empty ParentCode.
type UnitSpec struct {
	UnitCode        string   `json:"unit_code"`
	ParentCode      string   `json:"parent_code,omitempty"`
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	FeaturedObjects []string `json:"featured_objects,omitempty"`
	TargetSize      int      `json:"target_size,omitempty"`
	SizeUnit        string   `json:"size_unit,omitempty"`
}

// Stage3Output is the typed schema for stage 3: the structural unit tree.
type Stage3Output struct {
	Units []UnitSpec `json:"units"`
}

// Validate checks tree well-formedness: unique codes and every non-empty
// parent_code resolving to a unit in the same output.
func (o Stage3Output) Validate() error {
	codes := make(map[string]bool, len(o.Units))
	for i, u := range o.Units {
		if u.UnitCode == "" {
			return fmt.Errorf("unit %d has no unit_code", i)
		}
		if codes[u.UnitCode] {
			return fmt.Errorf("duplicate unit_code %q", u.UnitCode)
		}
		codes[u.UnitCode] = true
	}
	for _, u := range o.Units {
		if u.ParentCode != "" && !codes[u.ParentCode] {
			return fmt.Errorf("unit %q references unknown parent %q", u.UnitCode, u.ParentCode)
		}
	}
	return nil
}

// LeafSpec is one granular unit (scene/activity/segment) from stage 4
// output. ParentCode must match an existing structural unit_code; leaves
// with an unknown parent are skipped during persistence.
type LeafSpec struct {
	ParentCode     string   `json:"parent_code"`
	Title          string   `json:"title"`
	EstimatedSize  int      `json:"estimated_size,omitempty"`
	ExecutionStyle string   `json:"execution_style,omitempty"`
	ProgressionArc string   `json:"progression_arc,omitempty"`
	KeyElements    []string `json:"key_elements,omitempty"`
	CreatorNotes   string   `json:"creator_notes,omitempty"`
}

// Stage4Output is the typed schema for stage 4: leaf content items.
type Stage4Output struct {
	GranularUnits []LeafSpec `json:"granular_units"`
}

// Validate checks the leaves carry at least a title. Unknown parent codes
// are not an error here; they are resolved against the database and skipped
// at persistence time.
func (o Stage4Output) Validate() error {
	for i, g := range o.GranularUnits {
		if g.Title == "" {
			return fmt.Errorf("granular unit %d has no title", i)
		}
	}
	return nil
}

// UnitLevels resolves each unit's tree depth by walking parent codes. Roots
// are level 1; a unit whose parent chain cannot be resolved (missing parent
// or a cycle) falls back to level 1.
func UnitLevels(units []UnitSpec) map[string]int {
	parents := make(map[string]string, len(units))
	for _, u := range units {
		parents[u.UnitCode] = u.ParentCode
	}
	levels := make(map[string]int, len(units))
	var resolve func(code string, depth int) int
	resolve = func(code string, depth int) int {
		if lvl, ok := levels[code]; ok {
			return lvl
		}
		if depth > len(units) {
			return 1
		}
		parent, ok := parents[code]
		if !ok || parent == "" {
			levels[code] = 1
			return 1
		}
		lvl := resolve(parent, depth+1) + 1
		levels[code] = lvl
		return lvl
	}
	for _, u := range units {
		resolve(u.UnitCode, 0)
	}
	return levels
}

// ParseJSON decodes raw AI output, tolerating a markdown code fence around
// the JSON body. If the output is not valid JSON at all, it is wrapped as
// {"content": raw} and ok is false (parse degradation, non-fatal).
func ParseJSON(raw string) (out json.RawMessage, ok bool) {
	trimmed := stripCodeFence(raw)
	if json.Valid([]byte(trimmed)) && looksStructured(trimmed) {
		return json.RawMessage(trimmed), true
	}
	wrapped, _ := json.Marshal(map[string]string{"content": raw})
	return wrapped, false
}

func looksStructured(s string) bool {
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r':
			continue
		case '{', '[':
			return true
		default:
			return false
		}
	}
	return false
}

func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	// Drop the opening fence line and the closing fence.
	if i := strings.IndexByte(trimmed, '\n'); i >= 0 {
		trimmed = trimmed[i+1:]
	} else {
		return trimmed
	}
	if j := strings.LastIndex(trimmed, "```"); j >= 0 {
		trimmed = trimmed[:j]
	}
	return strings.TrimSpace(trimmed)
}
