package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/narratex/loom/internal/content"
	"github.com/narratex/loom/internal/storage"
)

// persistStageEntities fans the typed stage output into the matching tables.
// Stage 1 produces no structured entities; its output lives on the stage row.
// Output that failed JSON parsing (wrapped raw content) is stored as-is on
// the stage row and skips entity extraction.
func (o *Orchestrator) persistStageEntities(projectID, stageID string, stageNumber int, outputRaw json.RawMessage) error {
	switch stageNumber {
	case content.StageObjects:
		return o.persistObjects(projectID, stageID, outputRaw)
	case content.StageStructure:
		return o.persistStructure(projectID, stageID, outputRaw)
	case content.StageGranular:
		return o.persistGranular(projectID, stageID, outputRaw)
	}
	return nil
}

func (o *Orchestrator) persistObjects(projectID, stageID string, outputRaw json.RawMessage) error {
	var out content.Stage2Output
	if err := json.Unmarshal(outputRaw, &out); err != nil || (len(out.Objects) == 0 && len(out.Timeline) == 0) {
		o.logger.Warn("stage 2 output has no extractable entities", "project_id", projectID)
		return nil
	}
	if err := out.Validate(); err != nil {
		return fmt.Errorf("invalid stage 2 output: %w", err)
	}

	objects := make([]storage.Object, 0, len(out.Objects))
	for _, spec := range out.Objects {
		objects = append(objects, storage.Object{
			ID:            uuid.NewString(),
			ProjectID:     projectID,
			StageID:       stageID,
			Type:          spec.Type,
			Code:          spec.Code,
			Name:          spec.Name,
			Description:   spec.Description,
			ExtendedInfo:  spec.ExtendedInfo,
			Relationships: marshalJSONMap(spec.Relationships),
			Metadata:      marshalJSONAny(spec.Metadata),
		})
	}
	if err := o.store.SaveObjects(objects); err != nil {
		return err
	}

	events := make([]storage.TimelineEvent, 0, len(out.Timeline))
	for _, spec := range out.Timeline {
		events = append(events, storage.TimelineEvent{
			ID:              uuid.NewString(),
			ProjectID:       projectID,
			StageID:         stageID,
			SequenceOrder:   spec.SequenceOrder,
			TimeMarker:      spec.TimeMarker,
			Description:     spec.Description,
			Type:            spec.Type,
			InvolvedObjects: marshalJSONList(spec.InvolvedObjects),
			ImpactLevel:     spec.ImpactLevel,
		})
	}
	return o.store.SaveTimelineEvents(events)
}

// persistStructure writes the unit tree parents-first so every parent_unit_id
// resolves to an already-inserted row.
func (o *Orchestrator) persistStructure(projectID, stageID string, outputRaw json.RawMessage) error {
	var out content.Stage3Output
	if err := json.Unmarshal(outputRaw, &out); err != nil || len(out.Units) == 0 {
		o.logger.Warn("stage 3 output has no extractable units", "project_id", projectID)
		return nil
	}
	if err := out.Validate(); err != nil {
		return fmt.Errorf("invalid stage 3 output: %w", err)
	}

	levels := content.UnitLevels(out.Units)
	ordered := make([]content.UnitSpec, len(out.Units))
	copy(ordered, out.Units)
	sort.SliceStable(ordered, func(i, j int) bool {
		return levels[ordered[i].UnitCode] < levels[ordered[j].UnitCode]
	})

	idsByCode := make(map[string]string, len(ordered))
	units := make([]storage.StructuralUnit, 0, len(ordered))
	for _, spec := range ordered {
		id := uuid.NewString()
		idsByCode[spec.UnitCode] = id
		units = append(units, storage.StructuralUnit{
			ID:              id,
			ProjectID:       projectID,
			StageID:         stageID,
			ParentUnitID:    idsByCode[spec.ParentCode],
			UnitLevel:       levels[spec.UnitCode],
			UnitCode:        spec.UnitCode,
			Title:           spec.Title,
			Description:     spec.Description,
			FeaturedObjects: marshalJSONList(spec.FeaturedObjects),
			TargetSize:      spec.TargetSize,
			SizeUnit:        spec.SizeUnit,
		})
	}
	return o.store.SaveStructuralUnits(units)
}

// persistGranular attaches each leaf to its structural unit by code. Leaves
// naming an unknown parent are skipped, not fatal; the skip is logged.
func (o *Orchestrator) persistGranular(projectID, stageID string, outputRaw json.RawMessage) error {
	var out content.Stage4Output
	if err := json.Unmarshal(outputRaw, &out); err != nil || len(out.GranularUnits) == 0 {
		o.logger.Warn("stage 4 output has no extractable granular units", "project_id", projectID)
		return nil
	}
	if err := out.Validate(); err != nil {
		return fmt.Errorf("invalid stage 4 output: %w", err)
	}

	leaves := make([]storage.GranularUnit, 0, len(out.GranularUnits))
	skipped := 0
	for _, spec := range out.GranularUnits {
		parent, err := o.store.GetStructuralUnitByCode(projectID, spec.ParentCode)
		if err == storage.ErrNotFound {
			skipped++
			o.logger.Warn("skipping granular unit with unknown parent",
				"project_id", projectID, "parent_code", spec.ParentCode, "title", spec.Title)
			continue
		}
		if err != nil {
			return fmt.Errorf("resolving parent unit %q: %w", spec.ParentCode, err)
		}
		leaves = append(leaves, storage.GranularUnit{
			ID:               uuid.NewString(),
			ProjectID:        projectID,
			StageID:          stageID,
			StructuralUnitID: parent.ID,
			Title:            spec.Title,
			EstimatedSize:    spec.EstimatedSize,
			ExecutionStyle:   spec.ExecutionStyle,
			ProgressionArc:   spec.ProgressionArc,
			KeyElements:      marshalJSONList(spec.KeyElements),
			CreatorNotes:     spec.CreatorNotes,
		})
	}
	if skipped > 0 {
		o.logger.Info("granular units skipped", "project_id", projectID, "skipped", skipped, "persisted", len(leaves))
	}
	return o.store.SaveGranularUnits(leaves)
}

func marshalJSONMap(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, _ := json.Marshal(m)
	return string(b)
}

func marshalJSONAny(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	b, _ := json.Marshal(m)
	return string(b)
}

func marshalJSONList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(items)
	return string(b)
}
