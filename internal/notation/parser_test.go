package notation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/narratex/loom/internal/content"
	"github.com/narratex/loom/internal/provider"
)

func TestFactsFromStage2(t *testing.T) {
	out := content.Stage2Output{
		Objects: []content.ObjectSpec{
			{Code: "char_keeper", Type: "character", Name: "The Keeper", Description: "alone",
				Relationships: map[string]string{"loc_lighthouse": "lives_at"}},
			{Code: "loc_lighthouse", Type: "location", Name: "The Lighthouse", Description: "remote"},
		},
		Timeline: []content.EventSpec{
			{SequenceOrder: 1, TimeMarker: "day 1", Type: "setup", Description: "arrival",
				InvolvedObjects: []string{"char_keeper"}, ImpactLevel: 2},
		},
	}

	facts := FactsFromStage2(out)
	// 2 objects + 1 relation + 1 event.
	if len(facts) != 4 {
		t.Fatalf("got %d facts, want 4", len(facts))
	}

	counts := map[string]int{}
	for _, f := range facts {
		counts[f.Kind()]++
	}
	if counts[KindObject] != 2 || counts[KindRelation] != 1 || counts[KindEvent] != 1 {
		t.Errorf("kind counts = %v, want 2 obj, 1 rel, 1 evt", counts)
	}

	obj, ok := facts[0].(ObjectFact)
	if !ok || obj.ObjectCode != "char_keeper" {
		t.Fatalf("first fact = %#v, want ObjectFact char_keeper", facts[0])
	}
	if obj.Relations["loc_lighthouse"] != "lives_at" {
		t.Errorf("relations = %v", obj.Relations)
	}
	rel, ok := facts[1].(RelationFact)
	if !ok || rel.From != "char_keeper" || rel.To != "loc_lighthouse" || rel.Relation != "lives_at" {
		t.Errorf("relation fact = %#v", facts[1])
	}
}

func TestFactsFromStage3DerivesLevels(t *testing.T) {
	out := content.Stage3Output{Units: []content.UnitSpec{
		{UnitCode: "ch_1_1", ParentCode: "act_1", Title: "First Night"},
		{UnitCode: "act_1", Title: "Arrival"},
		{UnitCode: "scene_1", ParentCode: "ch_1_1", Title: "The Stairs"},
	}}

	facts := FactsFromStage3(out)
	if len(facts) != 3 {
		t.Fatalf("got %d facts, want 3", len(facts))
	}
	levels := map[string]int{}
	for _, f := range facts {
		u := f.(UnitFact)
		levels[u.UnitCode] = u.Level
	}
	want := map[string]int{"act_1": 1, "ch_1_1": 2, "scene_1": 3}
	for code, lvl := range want {
		if levels[code] != lvl {
			t.Errorf("level[%s] = %d, want %d", code, levels[code], lvl)
		}
	}
}

func TestFactsFromStage4(t *testing.T) {
	out := content.Stage4Output{GranularUnits: []content.LeafSpec{
		{ParentCode: "ch_1_1", Title: "Climbing", EstimatedSize: 800, ExecutionStyle: "interior", ProgressionArc: "rising"},
	}}
	facts := FactsFromStage4(out)
	if len(facts) != 1 {
		t.Fatalf("got %d facts, want 1", len(facts))
	}
	leaf := facts[0].(LeafFact)
	if leaf.ParentCode != "ch_1_1" || leaf.Size != 800 {
		t.Errorf("leaf = %#v", leaf)
	}
}

func TestParseLinesIgnoresProseAndMalformed(t *testing.T) {
	text := strings.Join([]string{
		"Here is the structural plan:",
		"uaol1|rel|char_keeper|char_sister|estranged_from",
		"uaol1|evt|not_a_number|t|x|d||3",
		"",
		"  uaol1|unit|act_1|1||Arrival|",
		"And that concludes the plan.",
	}, "\n")

	facts := ParseLines(text)
	if len(facts) != 2 {
		t.Fatalf("got %d facts, want 2: %#v", len(facts), facts)
	}
	if _, ok := facts[0].(RelationFact); !ok {
		t.Errorf("first fact = %#v, want RelationFact", facts[0])
	}
	if u, ok := facts[1].(UnitFact); !ok || u.UnitCode != "act_1" {
		t.Errorf("second fact = %#v, want UnitFact act_1", facts[1])
	}
}

func TestParseLinesEmpty(t *testing.T) {
	if facts := ParseLines("no notation here at all"); facts != nil {
		t.Errorf("got %#v, want nil", facts)
	}
}

type scriptedProvider struct {
	content string
	err     error
	prompts []string
	opts    []provider.Options
}

func (p *scriptedProvider) GenerateCompletion(_ context.Context, prompt string, opts provider.Options) (provider.Completion, error) {
	p.prompts = append(p.prompts, prompt)
	p.opts = append(p.opts, opts)
	if p.err != nil {
		return provider.Completion{}, p.err
	}
	return provider.Completion{Content: p.content}, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func TestAIParserExtractsTuples(t *testing.T) {
	fake := &scriptedProvider{content: "uaol1|rel|a|b|knows\nsome stray prose\nuaol1|leaf|ch_1|Title|500|style|arc"}
	p := NewAIParser(fake, "test-model")

	facts := p.Parse(context.Background(), "The hero knows the villain.")
	if len(facts) != 2 {
		t.Fatalf("got %d facts, want 2", len(facts))
	}
	if len(fake.opts) != 1 {
		t.Fatalf("provider called %d times, want 1", len(fake.opts))
	}
	if fake.opts[0].Model != "test-model" {
		t.Errorf("model = %q, want test-model", fake.opts[0].Model)
	}
	if fake.opts[0].Temperature != 0.1 {
		t.Errorf("temperature = %v, want 0.1", fake.opts[0].Temperature)
	}
	if !strings.Contains(fake.prompts[0], "The hero knows the villain.") {
		t.Errorf("prompt does not carry the source text: %q", fake.prompts[0])
	}
}

func TestAIParserFailuresReturnNil(t *testing.T) {
	p := NewAIParser(&scriptedProvider{err: errors.New("backend down")}, "m")
	if facts := p.Parse(context.Background(), "some text"); facts != nil {
		t.Errorf("provider error: got %#v, want nil", facts)
	}

	p = NewAIParser(&scriptedProvider{content: "ok"}, "m")
	if facts := p.Parse(context.Background(), "   "); facts != nil {
		t.Errorf("blank input: got %#v, want nil", facts)
	}
}
