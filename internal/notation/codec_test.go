package notation

import (
	"reflect"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	facts := []Fact{
		ObjectFact{
			ObjectCode:  "char_keeper",
			Type:        "character",
			Name:        "The Keeper",
			Description: "Tends the lighthouse alone",
			Relations:   map[string]string{"loc_lighthouse": "lives_at", "char_sister": "estranged_from"},
		},
		EventFact{
			Seq:        3,
			TimeMarker: "year 2, winter",
			Type:       "turning_point",
			Desc:       "The lamp fails during the storm",
			Involved:   []string{"char_keeper", "loc_lighthouse"},
			Impact:     5,
		},
		UnitFact{UnitCode: "act_1", Level: 1, Title: "Arrival", Featured: []string{"char_keeper"}},
		UnitFact{UnitCode: "ch_1_2", Level: 2, ParentCode: "act_1", Title: "First Night", Featured: []string{"char_keeper", "loc_lighthouse"}},
		LeafFact{ParentCode: "ch_1_2", Title: "Climbing the stairs", Size: 800, Style: "slow interior monologue", Arc: "rising unease"},
		RelationFact{From: "char_keeper", To: "char_sister", Relation: "estranged_from"},
	}

	for _, want := range facts {
		line := Encode(want)
		if !IsNotationLine(line) {
			t.Fatalf("Encode(%v) = %q, not recognized as a notation line", want, line)
		}
		got, err := Decode(line)
		if err != nil {
			t.Fatalf("Decode(%q): %v", line, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("round trip mismatch:\n encoded %q\n got  %#v\n want %#v", line, got, want)
		}
	}
}

func TestEncodeEscapesDelimiters(t *testing.T) {
	f := ObjectFact{
		ObjectCode:  "obj_a",
		Type:        "item",
		Name:        "pipe | backslash \\ newline\nend",
		Description: "plain",
	}
	line := Encode(f)
	if strings.Contains(line, "\n") {
		t.Fatalf("encoded line contains a raw newline: %q", line)
	}
	got, err := Decode(line)
	if err != nil {
		t.Fatalf("Decode(%q): %v", line, err)
	}
	obj, ok := got.(ObjectFact)
	if !ok {
		t.Fatalf("Decode returned %T, want ObjectFact", got)
	}
	if obj.Name != f.Name {
		t.Errorf("Name = %q, want %q", obj.Name, f.Name)
	}
}

func TestListAndMapItemEscaping(t *testing.T) {
	f := ObjectFact{
		ObjectCode:  "obj_a",
		Type:        "item",
		Name:        "a",
		Description: "d",
		Relations:   map[string]string{"obj_b": "sum a+b, equals=c", "obj_c": "plain"},
	}
	got, err := Decode(Encode(f))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(got, f) {
		t.Errorf("relations with commas and equals did not survive: got %#v", got)
	}

	e := EventFact{Seq: 1, TimeMarker: "t", Type: "x", Desc: "d", Involved: []string{"a,b", "c\\d"}, Impact: 2}
	back, err := Decode(Encode(e))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(back, e) {
		t.Errorf("list items with commas and backslashes did not survive: got %#v", back)
	}
}

func TestEncodeMapDeterministic(t *testing.T) {
	f := ObjectFact{
		ObjectCode: "obj_a",
		Relations:  map[string]string{"z": "1", "a": "2", "m": "3"},
	}
	first := Encode(f)
	for i := 0; i < 10; i++ {
		if got := Encode(f); got != first {
			t.Fatalf("Encode is not deterministic: %q vs %q", got, first)
		}
	}
	if !strings.Contains(first, "a=2,m=3,z=1") {
		t.Errorf("map pairs not sorted by key: %q", first)
	}
}

func TestDecodeEmptyCollections(t *testing.T) {
	got, err := Decode(Encode(UnitFact{UnitCode: "act_1", Level: 1, Title: "Arrival"}))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if u := got.(UnitFact); u.Featured != nil || u.ParentCode != "" {
		t.Errorf("empty featured list should decode as nil, got %#v", u)
	}

	got, err = Decode(Encode(ObjectFact{ObjectCode: "o", Type: "t", Name: "n", Description: "d"}))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if o := got.(ObjectFact); o.Relations != nil {
		t.Errorf("empty relations map should decode as nil, got %#v", o.Relations)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"empty", ""},
		{"prose", "The keeper climbs the stairs."},
		{"version only", "uaol1"},
		{"wrong version", "uaol2|obj|a|b|c|d|"},
		{"unknown kind", "uaol1|blob|a|b"},
		{"obj too few fields", "uaol1|obj|code|type|name"},
		{"obj too many fields", "uaol1|obj|a|b|c|d|e|f"},
		{"obj malformed pair", "uaol1|obj|a|b|c|d|noequals"},
		{"evt bad sequence", "uaol1|evt|one|t|x|d||3"},
		{"evt bad impact", "uaol1|evt|1|t|x|d||high"},
		{"unit bad level", "uaol1|unit|u|deep||title|"},
		{"leaf bad size", "uaol1|leaf|u|title|big|style|arc"},
		{"rel too few fields", "uaol1|rel|a|b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.line); err == nil {
				t.Errorf("Decode(%q) succeeded, want error", tt.line)
			}
		})
	}
}

func TestIsNotationLine(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"uaol1|rel|a|b|knows", true},
		{"  uaol1|obj|a|b|c|d|", true},
		{"uaol1", false},
		{"uaol2|rel|a|b|c", false},
		{"Here is the plan:", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsNotationLine(tt.line); got != tt.want {
			t.Errorf("IsNotationLine(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestFactCodes(t *testing.T) {
	if got := (EventFact{Seq: 7}).Code(); got != "evt_7" {
		t.Errorf("EventFact.Code() = %q, want evt_7", got)
	}
	if got := (LeafFact{ParentCode: "ch_2"}).Code(); got != "ch_2" {
		t.Errorf("LeafFact.Code() = %q, want ch_2", got)
	}
	if got := (RelationFact{From: "a", To: "b"}).Code(); got != "a" {
		t.Errorf("RelationFact.Code() = %q, want a", got)
	}
}
