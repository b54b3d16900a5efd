// Package notation implements the UAOL codec: a compact, line-oriented tuple
// encoding of single facts about entities, events, structural units, leaves,
// and relations. One line is one fact. The grammar is versioned; every line
// starts with the version token so readers can reject lines they do not
// understand.
//
// Grammar (version uaol1):
//
//	line     = "uaol1" "|" kind "|" field { "|" field }
//	kind     = "obj" | "evt" | "unit" | "leaf" | "rel"
//	field    = escaped text; "\\" escapes itself, "\|" a delimiter,
//	           "\n" a newline; list fields join items with ","
//	           and map fields join "key=value" pairs with ","
//	           (",", "=" escaped the same way inside items)
//
// Tuples are self-describing: each carries its kind, its code, and any
// referenced codes inline, so a reader can reconstruct the fact without
// consulting the full entity tables.
package notation

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Version is the grammar version token leading every line.
const Version = "uaol1"

// Fact kinds.
const (
	KindObject   = "obj"
	KindEvent    = "evt"
	KindUnit     = "unit"
	KindLeaf     = "leaf"
	KindRelation = "rel"
)

// Fact is a single decoded UAOL tuple.
type Fact interface {
	// Kind returns the tuple kind token.
	Kind() string
	// Code returns the fact's own identifying code (the event sequence
	// number for events, the parent code for leaves).
	Code() string
}

// ObjectFact describes one entity.
type ObjectFact struct {
	ObjectCode  string
	Type        string
	Name        string
	Description string
	Relations   map[string]string // code -> relation
}

func (f ObjectFact) Kind() string { return KindObject }
func (f ObjectFact) Code() string { return f.ObjectCode }

// EventFact describes one timeline event.
type EventFact struct {
	Seq        int
	TimeMarker string
	Type       string
	Desc       string
	Involved   []string
	Impact     int
}

func (f EventFact) Kind() string { return KindEvent }
func (f EventFact) Code() string { return "evt_" + strconv.Itoa(f.Seq) }

// UnitFact describes one structural unit.
type UnitFact struct {
	UnitCode   string
	Level      int
	ParentCode string // "" for roots
	Title      string
	Featured   []string
}

func (f UnitFact) Kind() string { return KindUnit }
func (f UnitFact) Code() string { return f.UnitCode }

// LeafFact describes one granular unit.
type LeafFact struct {
	ParentCode string
	Title      string
	Size       int
	Style      string
	Arc        string
}

func (f LeafFact) Kind() string { return KindLeaf }
func (f LeafFact) Code() string { return f.ParentCode }

// RelationFact describes one directed relation between two coded entities.
type RelationFact struct {
	From     string
	To       string
	Relation string
}

func (f RelationFact) Kind() string { return KindRelation }
func (f RelationFact) Code() string { return f.From }

// Encode renders a fact as one UAOL line.
func Encode(f Fact) string {
	switch v := f.(type) {
	case ObjectFact:
		return join(KindObject, v.ObjectCode, v.Type, v.Name, v.Description, encodeMap(v.Relations))
	case EventFact:
		return join(KindEvent, strconv.Itoa(v.Seq), v.TimeMarker, v.Type, v.Desc, encodeList(v.Involved), strconv.Itoa(v.Impact))
	case UnitFact:
		return join(KindUnit, v.UnitCode, strconv.Itoa(v.Level), v.ParentCode, v.Title, encodeList(v.Featured))
	case LeafFact:
		return join(KindLeaf, v.ParentCode, v.Title, strconv.Itoa(v.Size), v.Style, v.Arc)
	case RelationFact:
		return join(KindRelation, v.From, v.To, v.Relation)
	default:
		return ""
	}
}

// Decode parses one UAOL line back into its typed fact.
func Decode(line string) (Fact, error) {
	fields := split(strings.TrimSpace(line))
	if len(fields) < 2 {
		return nil, fmt.Errorf("not a notation line: %q", line)
	}
	if fields[0] != Version {
		return nil, fmt.Errorf("unsupported notation version %q", fields[0])
	}

	kind := fields[1]
	args := fields[2:]
	switch kind {
	case KindObject:
		if len(args) != 5 {
			return nil, fmt.Errorf("obj tuple has %d fields, want 5", len(args))
		}
		relations, err := decodeMap(args[4])
		if err != nil {
			return nil, fmt.Errorf("obj %q relations: %w", args[0], err)
		}
		return ObjectFact{
			ObjectCode:  args[0],
			Type:        args[1],
			Name:        args[2],
			Description: args[3],
			Relations:   relations,
		}, nil

	case KindEvent:
		if len(args) != 6 {
			return nil, fmt.Errorf("evt tuple has %d fields, want 6", len(args))
		}
		seq, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, fmt.Errorf("evt sequence: %w", err)
		}
		impact, err := strconv.Atoi(args[5])
		if err != nil {
			return nil, fmt.Errorf("evt impact: %w", err)
		}
		return EventFact{
			Seq:        seq,
			TimeMarker: args[1],
			Type:       args[2],
			Desc:       args[3],
			Involved:   decodeList(args[4]),
			Impact:     impact,
		}, nil

	case KindUnit:
		if len(args) != 5 {
			return nil, fmt.Errorf("unit tuple has %d fields, want 5", len(args))
		}
		level, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, fmt.Errorf("unit level: %w", err)
		}
		return UnitFact{
			UnitCode:   args[0],
			Level:      level,
			ParentCode: args[2],
			Title:      args[3],
			Featured:   decodeList(args[4]),
		}, nil

	case KindLeaf:
		if len(args) != 5 {
			return nil, fmt.Errorf("leaf tuple has %d fields, want 5", len(args))
		}
		size, err := strconv.Atoi(args[2])
		if err != nil {
			return nil, fmt.Errorf("leaf size: %w", err)
		}
		return LeafFact{
			ParentCode: args[0],
			Title:      args[1],
			Size:       size,
			Style:      args[3],
			Arc:        args[4],
		}, nil

	case KindRelation:
		if len(args) != 3 {
			return nil, fmt.Errorf("rel tuple has %d fields, want 3", len(args))
		}
		return RelationFact{From: args[0], To: args[1], Relation: args[2]}, nil

	default:
		return nil, fmt.Errorf("unknown notation kind %q", kind)
	}
}

// IsNotationLine reports whether the line carries the current version token.
func IsNotationLine(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), Version+"|")
}

func join(kind string, fields ...string) string {
	parts := make([]string, 0, len(fields)+2)
	parts = append(parts, Version, kind)
	for _, f := range fields {
		parts = append(parts, escape(f))
	}
	return strings.Join(parts, "|")
}

// escape protects the field delimiter, the escape character itself, and
// newlines (the line is the record boundary).
func escape(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '\\':
			sb.WriteString(`\\`)
		case '|':
			sb.WriteString(`\|`)
		case '\n':
			sb.WriteString(`\n`)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// split separates a line on unescaped delimiters and unescapes each field.
func split(line string) []string {
	var fields []string
	var sb strings.Builder
	escaped := false
	for _, r := range line {
		if escaped {
			switch r {
			case 'n':
				sb.WriteRune('\n')
			default:
				sb.WriteRune(r)
			}
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '|':
			fields = append(fields, sb.String())
			sb.Reset()
		default:
			sb.WriteRune(r)
		}
	}
	fields = append(fields, sb.String())
	return fields
}

// encodeList joins items with ",", escaping "," inside items. The result is
// later escaped again as a field, so only the list delimiter needs care here.
func encodeList(items []string) string {
	if len(items) == 0 {
		return ""
	}
	escaped := make([]string, len(items))
	for i, it := range items {
		escaped[i] = escapeItem(it)
	}
	return strings.Join(escaped, ",")
}

func decodeList(s string) []string {
	if s == "" {
		return nil
	}
	parts := splitItems(s)
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = unescapeItem(p)
	}
	return out
}

// encodeMap joins "key=value" pairs with ",", sorted by key so encoding is
// deterministic.
func encodeMap(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, escapeItem(k)+"="+escapeItem(m[k]))
	}
	return strings.Join(pairs, ",")
}

func decodeMap(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	m := make(map[string]string)
	for _, pair := range splitItems(s) {
		k, v, ok := cutUnescaped(pair)
		if !ok {
			return nil, fmt.Errorf("malformed pair %q", pair)
		}
		m[unescapeItem(k)] = unescapeItem(v)
	}
	return m, nil
}

// escapeItem protects list/map delimiters within an item.
func escapeItem(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '\\':
			sb.WriteString(`\\`)
		case ',':
			sb.WriteString(`\,`)
		case '=':
			sb.WriteString(`\=`)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func unescapeItem(s string) string {
	var sb strings.Builder
	escaped := false
	for _, r := range s {
		if escaped {
			sb.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// splitItems separates on unescaped commas, leaving item escapes in place for
// map pairs (unescapeItem runs after the "=" cut) and resolving them for
// plain lists.
func splitItems(s string) []string {
	var items []string
	var sb strings.Builder
	escaped := false
	for _, r := range s {
		if escaped {
			sb.WriteRune('\\')
			sb.WriteRune(r)
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case ',':
			items = append(items, sb.String())
			sb.Reset()
		default:
			sb.WriteRune(r)
		}
	}
	items = append(items, sb.String())
	return items
}

// cutUnescaped splits a pair on the first unescaped "=".
func cutUnescaped(s string) (key, value string, ok bool) {
	escaped := false
	for i, r := range s {
		if escaped {
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		if r == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
