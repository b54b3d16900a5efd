// Package mentor scores stage output for continuity and quality against the
// project's established facts, producing issue lists the orchestrator can
// feed back through a single correction pass.
package mentor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/narratex/loom/internal/content"
)

// CorrectionThreshold is the single trigger: a score below it, with at least
// one issue, drives exactly one correction attempt in the orchestrator.
const CorrectionThreshold = 70

// SkippedInsight marks reports produced in the explicit "validation skipped"
// configuration state.
const SkippedInsight = "validation skipped (configured)"

// ContinuityCheck carries per-dimension consistency flags plus detail lines.
type ContinuityCheck struct {
	CharactersConsistent  bool     `json:"characters_consistent"`
	LocationsConsistent   bool     `json:"locations_consistent"`
	TimelineConsistent    bool     `json:"timeline_consistent"`
	PlotThreadsConsistent bool     `json:"plot_threads_consistent"`
	Details               []string `json:"details,omitempty"`
}

// Report is the result of validating one stage's output.
type Report struct {
	ValidationScore int             `json:"validation_score"`
	Issues          []string        `json:"issues"`
	Suggestions     []string        `json:"suggestions"`
	MentorInsight   string          `json:"mentor_insight"`
	ContinuityCheck ContinuityCheck `json:"continuity_check"`
}

// Known is the set of established codes the output is checked against.
type Known struct {
	ObjectCodes map[string]string // code -> type ("character", "location", ...)
	UnitCodes   map[string]bool
}

// Validator applies a fixed rubric per stage. It never retries or corrects;
// that is the orchestrator's responsibility.
type Validator struct {
	skip bool
}

// New creates a Validator. skip selects the degraded "validation skipped"
// mode: a fixed passing score with an explicit marker in the insight. This
// must only ever be reached through configuration, never as a default.
func New(skip bool) *Validator {
	return &Validator{skip: skip}
}

// Validate scores the output 0-100 and reports concrete issues. The rubric
// checks continuity of named entities and locations, chronological ordering,
// and structural references across stages.
func (v *Validator) Validate(outputData string, stageNumber int, known Known) Report {
	if v.skip {
		return Report{
			ValidationScore: 100,
			MentorInsight:   SkippedInsight,
			ContinuityCheck: ContinuityCheck{
				CharactersConsistent:  true,
				LocationsConsistent:   true,
				TimelineConsistent:    true,
				PlotThreadsConsistent: true,
			},
		}
	}

	r := rubric{
		score: 100,
		check: ContinuityCheck{
			CharactersConsistent:  true,
			LocationsConsistent:   true,
			TimelineConsistent:    true,
			PlotThreadsConsistent: true,
		},
	}

	switch stageNumber {
	case content.StageBigPicture:
		r.validateBigPicture(outputData)
	case content.StageObjects:
		r.validateObjects(outputData)
	case content.StageStructure:
		r.validateStructure(outputData, known)
	case content.StageGranular:
		r.validateGranular(outputData, known)
	default:
		r.issue(30, "unknown stage number %d", stageNumber)
	}

	if r.score < 0 {
		r.score = 0
	}

	return Report{
		ValidationScore: r.score,
		Issues:          r.issues,
		Suggestions:     r.suggestions,
		MentorInsight:   r.insight(stageNumber),
		ContinuityCheck: r.check,
	}
}

type rubric struct {
	score       int
	issues      []string
	suggestions []string
	check       ContinuityCheck
}

func (r *rubric) issue(penalty int, format string, args ...any) {
	r.score -= penalty
	msg := fmt.Sprintf(format, args...)
	r.issues = append(r.issues, msg)
	r.check.Details = append(r.check.Details, msg)
}

func (r *rubric) suggest(format string, args ...any) {
	r.suggestions = append(r.suggestions, fmt.Sprintf(format, args...))
}

func (r *rubric) insight(stageNumber int) string {
	name := content.StageName(stageNumber)
	if len(r.issues) == 0 {
		return fmt.Sprintf("%s output is internally consistent", name)
	}
	return fmt.Sprintf("%s output has %d issue(s); strongest concern: %s", name, len(r.issues), r.issues[0])
}

func (r *rubric) validateBigPicture(outputData string) {
	var parsed struct {
		Title    string   `json:"title"`
		Premise  string   `json:"premise"`
		Synopsis string   `json:"synopsis"`
		Themes   []string `json:"themes"`
	}
	if err := json.Unmarshal([]byte(outputData), &parsed); err != nil {
		r.issue(40, "big picture output is not structured JSON")
		r.suggest("regenerate as a JSON object with title, premise, synopsis, and themes")
		return
	}
	if parsed.Title == "" {
		r.issue(15, "missing title")
	}
	if parsed.Premise == "" && parsed.Synopsis == "" {
		r.issue(25, "neither premise nor synopsis present")
		r.suggest("add a premise describing the central conflict or learning goal")
	}
	if len(parsed.Themes) == 0 {
		r.issue(10, "no themes declared")
		r.check.PlotThreadsConsistent = false
	}
}

func (r *rubric) validateObjects(outputData string) {
	var out content.Stage2Output
	if err := json.Unmarshal([]byte(outputData), &out); err != nil {
		r.issue(40, "objects output is not structured JSON")
		return
	}
	if len(out.Objects) == 0 {
		r.issue(30, "no objects generated")
		r.suggest("generate at least the protagonist and primary setting as coded objects")
	}

	codes := make(map[string]string, len(out.Objects))
	for _, o := range out.Objects {
		if o.Code == "" {
			r.issue(10, "object %q has no code", o.Name)
			continue
		}
		if _, dup := codes[o.Code]; dup {
			r.issue(10, "duplicate object code %q", o.Code)
			r.check.CharactersConsistent = false
		}
		codes[o.Code] = o.Type
		if o.Description == "" {
			r.issue(5, "object %q has an empty description", o.Code)
		}
	}

	// Relationship targets must resolve to generated codes.
	for _, o := range out.Objects {
		for target := range o.Relationships {
			if _, ok := codes[target]; !ok {
				r.issue(5, "object %q relates to unknown code %q", o.Code, target)
				r.markInconsistent(codes[target])
			}
		}
	}

	lastSeq := 0
	for i, e := range out.Timeline {
		if e.SequenceOrder <= lastSeq && i > 0 {
			r.issue(10, "timeline event %d out of order (sequence %d after %d)", i, e.SequenceOrder, lastSeq)
			r.check.TimelineConsistent = false
		}
		lastSeq = e.SequenceOrder
		for _, code := range e.InvolvedObjects {
			if _, ok := codes[code]; !ok {
				r.issue(5, "timeline event %d involves unknown code %q", e.SequenceOrder, code)
				r.check.TimelineConsistent = false
			}
		}
	}
}

func (r *rubric) validateStructure(outputData string, known Known) {
	var out content.Stage3Output
	if err := json.Unmarshal([]byte(outputData), &out); err != nil {
		r.issue(40, "structure output is not structured JSON")
		return
	}
	if len(out.Units) == 0 {
		r.issue(30, "no structural units generated")
		return
	}

	unitCodes := make(map[string]bool, len(out.Units))
	for _, u := range out.Units {
		if u.UnitCode == "" {
			r.issue(10, "unit %q has no unit_code", u.Title)
			continue
		}
		if unitCodes[u.UnitCode] {
			r.issue(10, "duplicate unit_code %q", u.UnitCode)
		}
		unitCodes[u.UnitCode] = true
		if u.Title == "" {
			r.issue(5, "unit %q has no title", u.UnitCode)
		}
	}

	for _, u := range out.Units {
		if u.ParentCode != "" && !unitCodes[u.ParentCode] {
			r.issue(10, "unit %q references unknown parent %q", u.UnitCode, u.ParentCode)
		}
		for _, code := range u.FeaturedObjects {
			if _, ok := known.ObjectCodes[code]; !ok {
				r.issue(5, "unit %q features unknown object %q", u.UnitCode, code)
				r.markInconsistent(known.ObjectCodes[code])
			}
		}
	}
}

func (r *rubric) validateGranular(outputData string, known Known) {
	var out content.Stage4Output
	if err := json.Unmarshal([]byte(outputData), &out); err != nil {
		r.issue(40, "granular output is not structured JSON")
		return
	}
	if len(out.GranularUnits) == 0 {
		r.issue(30, "no granular units generated")
		return
	}

	orphans := 0
	for _, g := range out.GranularUnits {
		if g.Title == "" {
			r.issue(5, "granular unit under %q has no title", g.ParentCode)
		}
		if g.ParentCode == "" || !known.UnitCodes[g.ParentCode] {
			orphans++
			r.issue(5, "granular unit %q references unknown structural unit %q", g.Title, g.ParentCode)
		}
	}
	if orphans > 0 {
		r.suggest("bind every granular unit to an existing unit_code from the structure stage")
	}
}

// markInconsistent flips the continuity flag matching an entity type.
func (r *rubric) markInconsistent(entityType string) {
	switch strings.ToLower(entityType) {
	case "location":
		r.check.LocationsConsistent = false
	default:
		r.check.CharactersConsistent = false
	}
}
