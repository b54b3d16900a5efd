package composer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/narratex/loom/internal/notation"
	"github.com/narratex/loom/internal/storage"
)

func seedNotation(projectID string, stageNumber int, f notation.Fact) storage.Notation {
	return storage.Notation{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		StageNumber: stageNumber,
		Kind:        f.Kind(),
		Code:        f.Code(),
		Line:        notation.Encode(f),
	}
}

func TestCompactBuildPromptNoNotations(t *testing.T) {
	store := newTestStore(t)
	projectID := seedProject(t, store)

	prompt, err := NewCompact(store, nil, 0).BuildPrompt(context.Background(), projectID, 2, "BASE")
	if err != nil {
		t.Fatalf("BuildPrompt: %v", err)
	}
	if prompt != "BASE" {
		t.Errorf("no notations should yield the bare base prompt, got %q", prompt)
	}
}

func TestCompactBuildPromptReadsEarlierStagesOnly(t *testing.T) {
	store := newTestStore(t)
	projectID := seedProject(t, store)

	err := store.SaveNotations([]storage.Notation{
		seedNotation(projectID, 2, notation.ObjectFact{ObjectCode: "char_keeper", Type: "character", Name: "Keeper", Description: "d"}),
		seedNotation(projectID, 3, notation.UnitFact{UnitCode: "act_1", Level: 1, Title: "Arrival"}),
	})
	if err != nil {
		t.Fatalf("saving notations: %v", err)
	}

	prompt, err := NewCompact(store, nil, 0).BuildPrompt(context.Background(), projectID, 3, "BASE")
	if err != nil {
		t.Fatalf("BuildPrompt: %v", err)
	}
	if !strings.Contains(prompt, "[Context Notation]") {
		t.Fatal("prompt missing notation section")
	}
	if !strings.Contains(prompt, "char_keeper") {
		t.Error("stage-2 notation missing from stage-3 prompt")
	}
	if strings.Contains(prompt, "act_1") {
		t.Error("stage-3 notation leaked into a stage-3 prompt")
	}
}

func TestCompactRelevanceOrdering(t *testing.T) {
	store := newTestStore(t)
	projectID := seedProject(t, store)

	// Objects are stored before units, but stage 4 wants structure first.
	err := store.SaveNotations([]storage.Notation{
		seedNotation(projectID, 2, notation.ObjectFact{ObjectCode: "char_keeper", Type: "character", Name: "Keeper", Description: "d"}),
		seedNotation(projectID, 3, notation.UnitFact{UnitCode: "act_1", Level: 1, Title: "Arrival"}),
	})
	if err != nil {
		t.Fatalf("saving notations: %v", err)
	}

	prompt, err := NewCompact(store, nil, 0).BuildPrompt(context.Background(), projectID, 4, "BASE")
	if err != nil {
		t.Fatalf("BuildPrompt: %v", err)
	}
	unitPos := strings.Index(prompt, "uaol1|unit|")
	objPos := strings.Index(prompt, "uaol1|obj|")
	if unitPos < 0 || objPos < 0 {
		t.Fatalf("prompt missing notation lines: %q", prompt)
	}
	if unitPos > objPos {
		t.Error("stage-4 prompt should list unit tuples before object tuples")
	}
}

func TestCompactTokenBudgetBoundsPrompt(t *testing.T) {
	store := newTestStore(t)
	projectID := seedProject(t, store)

	notations := make([]storage.Notation, 0, 100)
	for i := 0; i < 100; i++ {
		notations = append(notations, seedNotation(projectID, 2, notation.ObjectFact{
			ObjectCode:  fmt.Sprintf("obj_%03d", i),
			Type:        "concept",
			Name:        fmt.Sprintf("Concept %d", i),
			Description: "a recurring motif in the narrative",
		}))
	}
	if err := store.SaveNotations(notations); err != nil {
		t.Fatalf("saving notations: %v", err)
	}

	budget := 120
	prompt, err := NewCompact(store, nil, budget).BuildPrompt(context.Background(), projectID, 3, "BASE")
	if err != nil {
		t.Fatalf("BuildPrompt: %v", err)
	}

	used := strings.Count(prompt, "uaol1|")
	if used == 0 {
		t.Fatal("no notation lines fit the budget")
	}
	if used >= len(notations) {
		t.Fatalf("budget of %d tokens admitted all %d lines", budget, used)
	}
	perLine := EstimateTokens(notation.Encode(notation.ObjectFact{
		ObjectCode: "obj_000", Type: "concept", Name: "Concept 0",
		Description: "a recurring motif in the narrative",
	}) + "\n")
	if max := budget / perLine; used > max {
		t.Errorf("used %d lines, budget allows at most %d", used, max)
	}
}

func TestSaveStageNotationsTyped(t *testing.T) {
	store := newTestStore(t)
	projectID := seedProject(t, store)

	output := `{
		"objects": [
			{"code": "char_keeper", "type": "character", "name": "Keeper", "description": "d",
			 "relationships": {"loc_lighthouse": "lives_at"}},
			{"code": "loc_lighthouse", "type": "location", "name": "Lighthouse", "description": "d"}
		],
		"timeline": [
			{"sequence_order": 1, "time_marker": "day 1", "description": "arrival", "impact_level": 2}
		]
	}`

	saved, err := NewCompact(store, nil, 0).SaveStageNotations(context.Background(), projectID, 2, output)
	if err != nil {
		t.Fatalf("SaveStageNotations: %v", err)
	}
	// 2 objects + 1 relation + 1 event.
	if len(saved) != 4 {
		t.Fatalf("saved %d notations, want 4", len(saved))
	}

	counts := map[string]int{}
	for _, n := range saved {
		counts[n.Kind]++
	}
	if counts[notation.KindObject] != 2 || counts[notation.KindRelation] != 1 || counts[notation.KindEvent] != 1 {
		t.Errorf("kind counts = %v", counts)
	}

	stored, err := store.ListNotations(projectID, 0)
	if err != nil {
		t.Fatalf("ListNotations: %v", err)
	}
	if len(stored) != 4 {
		t.Errorf("store holds %d notations, want 4", len(stored))
	}
	for _, n := range stored {
		if _, err := notation.Decode(n.Line); err != nil {
			t.Errorf("stored line does not decode: %q: %v", n.Line, err)
		}
	}
}

func TestSaveStageNotationsInlineLines(t *testing.T) {
	store := newTestStore(t)
	projectID := seedProject(t, store)

	output := "Summary of the structure.\n\nuaol1|unit|act_1|1||Arrival|\nuaol1|unit|ch_1|2|act_1|First Night|\n"
	saved, err := NewCompact(store, nil, 0).SaveStageNotations(context.Background(), projectID, 3, output)
	if err != nil {
		t.Fatalf("SaveStageNotations: %v", err)
	}
	if len(saved) != 2 {
		t.Fatalf("saved %d notations, want 2", len(saved))
	}
	for _, n := range saved {
		if n.Kind != notation.KindUnit {
			t.Errorf("kind = %q, want unit", n.Kind)
		}
	}
}

type fakeNotationParser struct {
	facts []notation.Fact
	calls int
}

func (p *fakeNotationParser) Parse(_ context.Context, _ string) []notation.Fact {
	p.calls++
	return p.facts
}

func TestSaveStageNotationsAIFallback(t *testing.T) {
	store := newTestStore(t)
	projectID := seedProject(t, store)

	parser := &fakeNotationParser{facts: []notation.Fact{
		notation.RelationFact{From: "char_keeper", To: "char_sister", Relation: "estranged_from"},
	}}
	prose := "The keeper and his sister have not spoken in years."

	saved, err := NewCompact(store, parser, 0).SaveStageNotations(context.Background(), projectID, 2, prose)
	if err != nil {
		t.Fatalf("SaveStageNotations: %v", err)
	}
	if parser.calls == 0 {
		t.Fatal("AI parser was never consulted for unstructured output")
	}
	if len(saved) != 1 || saved[0].Kind != notation.KindRelation {
		t.Errorf("saved = %#v, want one rel notation", saved)
	}
}

func TestSaveStageNotationsNoParserNoFacts(t *testing.T) {
	store := newTestStore(t)
	projectID := seedProject(t, store)

	saved, err := NewCompact(store, nil, 0).SaveStageNotations(context.Background(), projectID, 2, "pure prose, nothing extractable")
	if err != nil {
		t.Fatalf("SaveStageNotations: %v", err)
	}
	if saved != nil {
		t.Errorf("saved = %#v, want nil", saved)
	}
}

func TestSplitChunks(t *testing.T) {
	paragraphs := make([]string, 6)
	for i := range paragraphs {
		paragraphs[i] = strings.Repeat("x", 900)
	}
	text := strings.Join(paragraphs, "\n\n")

	chunks := splitChunks(text, 2000)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	var rejoined []string
	for _, c := range chunks {
		if len(c) > 2000 {
			t.Errorf("chunk of %d chars exceeds the limit", len(c))
		}
		rejoined = append(rejoined, c)
	}
	if got := strings.Join(rejoined, "\n\n"); got != text {
		t.Error("chunks do not reassemble into the original text")
	}

	if chunks := splitChunks("   ", 100); len(chunks) != 0 {
		t.Errorf("blank text produced %d chunks", len(chunks))
	}
}

func TestSaveStageNotationsDegradedOutput(t *testing.T) {
	store := newTestStore(t)
	projectID := seedProject(t, store)

	wrapped, _ := json.Marshal(map[string]string{"content": "freeform chapter text"})
	saved, err := NewCompact(store, nil, 0).SaveStageNotations(context.Background(), projectID, 2, string(wrapped))
	if err != nil {
		t.Fatalf("SaveStageNotations: %v", err)
	}
	if saved != nil {
		t.Errorf("degraded output with no facts should save nothing, got %#v", saved)
	}
}
