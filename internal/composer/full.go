package composer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/narratex/loom/internal/content"
	"github.com/narratex/loom/internal/storage"
)

// ProjectContext is the in-memory arena reconstructed from storage for one
// stage execution. Maps are keyed by entity code, loaded fresh per call, and
// never shared across requests.
type ProjectContext struct {
	Characters  map[string]storage.Object
	Locations   map[string]storage.Object
	Others      map[string]storage.Object
	Timeline    []storage.TimelineEvent
	PlotThreads []string
	StyleGuide  string
}

// Full is the baseline context strategy: it replays all persisted entities
// and timeline events into the prompt. Prompt size grows with project size.
type Full struct {
	store *storage.Store
}

// NewFull creates the full-replay strategy over the given store.
func NewFull(store *storage.Store) *Full {
	return &Full{store: store}
}

// LoadProjectContext rebuilds the entity arena by re-reading everything
// persisted for the project.
func (f *Full) LoadProjectContext(projectID string) (ProjectContext, error) {
	pc := ProjectContext{
		Characters: make(map[string]storage.Object),
		Locations:  make(map[string]storage.Object),
		Others:     make(map[string]storage.Object),
	}

	objects, err := f.store.ListObjects(projectID)
	if err != nil {
		return ProjectContext{}, fmt.Errorf("loading objects: %w", err)
	}
	for _, o := range objects {
		switch o.Type {
		case "character":
			pc.Characters[o.Code] = o
		case "location":
			pc.Locations[o.Code] = o
		default:
			pc.Others[o.Code] = o
		}
	}

	if pc.Timeline, err = f.store.ListTimelineEvents(projectID); err != nil {
		return ProjectContext{}, fmt.Errorf("loading timeline: %w", err)
	}

	// Style guide and plot threads come from the stage-1 output.
	stage1, err := f.store.GetStage(projectID, content.StageBigPicture)
	if err != nil && err != storage.ErrNotFound {
		return ProjectContext{}, fmt.Errorf("loading stage 1: %w", err)
	}
	if err == nil && stage1.Status == storage.StageCompleted {
		pc.StyleGuide, pc.PlotThreads = extractBigPicture(stage1.OutputData)
	}

	return pc, nil
}

// BuildPrompt serializes the relevant context subset inline into the prompt.
func (f *Full) BuildPrompt(ctx context.Context, projectID string, stageNumber int, basePrompt string) (string, error) {
	pc, err := f.LoadProjectContext(projectID)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(basePrompt)

	if pc.StyleGuide != "" {
		sb.WriteString("\n\n[Style Guide]\n")
		sb.WriteString(pc.StyleGuide)
	}
	if len(pc.PlotThreads) > 0 {
		sb.WriteString("\n\n[Open Threads]\n")
		for _, t := range pc.PlotThreads {
			sb.WriteString("- " + t + "\n")
		}
	}

	writeObjectSection(&sb, "Characters", pc.Characters)
	writeObjectSection(&sb, "Locations", pc.Locations)
	writeObjectSection(&sb, "Other Entities", pc.Others)

	if len(pc.Timeline) > 0 {
		sb.WriteString("\n\n[Timeline]\n")
		for _, e := range pc.Timeline {
			fmt.Fprintf(&sb, "%d. (%s) %s", e.SequenceOrder, e.TimeMarker, e.Description)
			if e.InvolvedObjects != "" && e.InvolvedObjects != "[]" {
				fmt.Fprintf(&sb, " [involves: %s]", codesFromJSON(e.InvolvedObjects))
			}
			sb.WriteString("\n")
		}
	}

	// Structural tree matters for stage 4: leaves are bound to unit codes.
	if stageNumber >= content.StageGranular {
		units, err := f.store.ListStructuralUnits(projectID)
		if err != nil {
			return "", fmt.Errorf("loading structural units: %w", err)
		}
		if len(units) > 0 {
			sb.WriteString("\n\n[Structure]\n")
			for _, u := range units {
				fmt.Fprintf(&sb, "%s%s: %s", strings.Repeat("  ", u.UnitLevel-1), u.UnitCode, u.Title)
				if u.Description != "" {
					sb.WriteString(" - " + u.Description)
				}
				sb.WriteString("\n")
			}
		}
	}

	return sb.String(), nil
}

func writeObjectSection(sb *strings.Builder, label string, objects map[string]storage.Object) {
	if len(objects) == 0 {
		return
	}
	sb.WriteString("\n\n[" + label + "]\n")
	for _, code := range sortedKeys(objects) {
		o := objects[code]
		fmt.Fprintf(sb, "- %s (%s): %s", o.Code, o.Name, o.Description)
		if o.Relationships != "" && o.Relationships != "{}" {
			var rels map[string]string
			if json.Unmarshal([]byte(o.Relationships), &rels) == nil && len(rels) > 0 {
				var pairs []string
				for _, k := range sortedStringKeys(rels) {
					pairs = append(pairs, k+": "+rels[k])
				}
				fmt.Fprintf(sb, " [relations: %s]", strings.Join(pairs, ", "))
			}
		}
		sb.WriteString("\n")
	}
}

func extractBigPicture(outputData string) (styleGuide string, threads []string) {
	var parsed struct {
		StyleGuide  string   `json:"style_guide"`
		PlotThreads []string `json:"plot_threads"`
		Themes      []string `json:"themes"`
	}
	if err := json.Unmarshal([]byte(outputData), &parsed); err != nil {
		return "", nil
	}
	threads = parsed.PlotThreads
	if len(threads) == 0 {
		threads = parsed.Themes
	}
	return parsed.StyleGuide, threads
}

func codesFromJSON(raw string) string {
	var codes []string
	if json.Unmarshal([]byte(raw), &codes) != nil {
		return raw
	}
	return strings.Join(codes, ", ")
}

func sortedKeys(m map[string]storage.Object) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedStringKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
