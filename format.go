package keyscope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/kamune-org/keyscope/pkg/codec"
)

// Draft is the editable text form of a value. Strings are their decoded
// payload, with Binary marking base64 content. Collections are indented JSON
// documents whose elements are codec.Element values:
//
//	hash  {"field": "value"}, or [["field", "value"]] when a name is binary
//	list  ["a", "b"]
//	set   ["a", "b"]
//	zset  [["member", 1.5], ["other", "inf"]]
type Draft struct {
	Kind   Kind
	Text   string
	Binary bool
}

// Format renders v as a Draft.
func Format(v Value) (Draft, error) {
	if v == nil {
		return Draft{}, fmt.Errorf("%w: nil value", ErrValidation)
	}
	var f formatter
	if err := v.Accept(&f); err != nil {
		return Draft{}, err
	}
	return f.draft, nil
}

type formatter struct {
	draft Draft
}

func (f *formatter) VisitString(v StringValue) error {
	d := codec.Decode(v)
	f.draft = Draft{Kind: KindString, Text: d.Text, Binary: d.Binary}
	return nil
}

func (f *formatter) VisitHash(v HashValue) error {
	textNames := true
	for _, field := range v {
		if !utf8.Valid(field.Name) {
			textNames = false
			break
		}
	}
	if textNames {
		doc := make(map[string]codec.Element, len(v))
		for _, field := range v {
			doc[string(field.Name)] = field.Value
		}
		return f.document(KindHash, doc)
	}
	doc := make([][2]codec.Element, len(v))
	for i, field := range v {
		doc[i] = [2]codec.Element{field.Name, field.Value}
	}
	return f.document(KindHash, doc)
}

func (f *formatter) VisitList(v ListValue) error {
	return f.document(KindList, elements(v))
}

func (f *formatter) VisitSet(v SetValue) error {
	return f.document(KindSet, elements(v))
}

func (f *formatter) VisitZSet(v ZSetValue) error {
	doc := make([][2]any, len(v))
	for i, m := range v {
		doc[i] = [2]any{codec.Element(m.Member), scoreJSON(m.Score)}
	}
	return f.document(KindZSet, doc)
}

func (f *formatter) document(kind Kind, doc any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("format %s: %w", kind, err)
	}
	f.draft = Draft{Kind: kind, Text: strings.TrimSuffix(buf.String(), "\n")}
	return nil
}

func elements(v [][]byte) []codec.Element {
	out := make([]codec.Element, len(v))
	for i, e := range v {
		out[i] = e
	}
	return out
}

// scoreJSON returns a JSON number for finite scores and a string otherwise.
func scoreJSON(score float64) any {
	switch {
	case math.IsInf(score, 1):
		return "inf"
	case math.IsInf(score, -1):
		return "-inf"
	default:
		return score
	}
}

// FormatScore renders a score in its shortest round-trip form.
func FormatScore(score float64) string {
	switch {
	case math.IsInf(score, 1):
		return "inf"
	case math.IsInf(score, -1):
		return "-inf"
	default:
		return strconv.FormatFloat(score, 'g', -1, 64)
	}
}

// ParseScore accepts a decimal number, inf, +inf or -inf.
func ParseScore(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) {
		return 0, fmt.Errorf("%w: score %q is not a number", ErrValidation, s)
	}
	return f, nil
}

// Parse turns a Draft back into a Value. Malformed documents yield
// ErrDecode; well-formed documents with bad content yield ErrValidation.
func Parse(d Draft) (Value, error) {
	if d.Kind == KindString {
		b, err := codec.Encode(codec.DecodedText{Binary: d.Binary, Text: d.Text})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return StringValue(b), nil
	}
	if d.Binary {
		return nil, fmt.Errorf("%w: binary marker on a %s document", ErrValidation, d.Kind)
	}

	switch d.Kind {
	case KindHash:
		return parseHash(d.Text)
	case KindList:
		var elems []codec.Element
		if err := decodeDocument(d.Text, &elems); err != nil {
			return nil, err
		}
		return ListValue(fromElements(elems)), nil
	case KindSet:
		var elems []codec.Element
		if err := decodeDocument(d.Text, &elems); err != nil {
			return nil, err
		}
		return NewSet(fromElements(elems)...), nil
	case KindZSet:
		return parseZSet(d.Text)
	default:
		return nil, fmt.Errorf("%w: cannot parse kind %s", ErrValidation, d.Kind)
	}
}

func parseHash(text string) (Value, error) {
	if strings.HasPrefix(strings.TrimSpace(text), "[") {
		var pairs [][2]codec.Element
		if err := decodeDocument(text, &pairs); err != nil {
			return nil, err
		}
		h := make(HashValue, len(pairs))
		for i, p := range pairs {
			h[i] = Field{Name: p[0], Value: p[1]}
		}
		return h.normalize(), nil
	}

	var doc map[string]codec.Element
	if err := decodeDocument(text, &doc); err != nil {
		return nil, err
	}
	h := make(HashValue, 0, len(doc))
	for name, value := range doc {
		h = append(h, Field{Name: []byte(name), Value: value})
	}
	return h.normalize(), nil
}

func parseZSet(text string) (Value, error) {
	var pairs [][]json.RawMessage
	if err := decodeDocument(text, &pairs); err != nil {
		return nil, err
	}
	members := make([]Member, 0, len(pairs))
	for i, p := range pairs {
		if len(p) != 2 {
			return nil, fmt.Errorf("%w: member %d: want [member, score]", ErrDecode, i)
		}
		var member codec.Element
		if err := json.Unmarshal(p[0], &member); err != nil {
			return nil, fmt.Errorf("%w: member %d: %v", ErrDecode, i, err)
		}
		score, err := parseScoreJSON(p[1])
		if err != nil {
			return nil, fmt.Errorf("member %d: %w", i, err)
		}
		members = append(members, Member{Member: member, Score: score})
	}
	return NewZSet(members...), nil
}

func parseScoreJSON(raw json.RawMessage) (float64, error) {
	if string(raw) == "null" {
		return 0, fmt.Errorf("%w: score is null", ErrValidation)
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("%w: score %s is not a number", ErrValidation, raw)
	}
	return ParseScore(s)
}

func decodeDocument(text string, dst any) error {
	if strings.TrimSpace(text) == "null" {
		return fmt.Errorf("%w: document is null", ErrDecode)
	}
	dec := json.NewDecoder(strings.NewReader(text))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after document", ErrDecode)
	}
	return nil
}

func fromElements(elems []codec.Element) [][]byte {
	out := make([][]byte, len(elems))
	for i, e := range elems {
		out[i] = e
	}
	return out
}
