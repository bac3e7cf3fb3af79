package keyscope

import (
	"bytes"
	"cmp"
	"slices"
)

// Value is one of StringValue, HashValue, ListValue, SetValue or ZSetValue.
// The set of shapes is closed: code that needs to handle every shape
// implements Visitor, so a new shape fails to compile until it is handled.
type Value interface {
	Kind() Kind
	// Len returns the number of members, or the byte length for strings.
	Len() int
	Accept(v Visitor) error

	sealed()
}

// Visitor has one method per value shape.
type Visitor interface {
	VisitString(StringValue) error
	VisitHash(HashValue) error
	VisitList(ListValue) error
	VisitSet(SetValue) error
	VisitZSet(ZSetValue) error
}

// StringValue is a binary-safe string.
type StringValue []byte

// Field is one hash entry.
type Field struct {
	Name  []byte
	Value []byte
}

// HashValue holds hash fields sorted by name.
type HashValue []Field

// ListValue holds list elements in order.
type ListValue [][]byte

// SetValue holds distinct set members sorted bytewise.
type SetValue [][]byte

// Member is one sorted set entry.
type Member struct {
	Member []byte
	Score  float64
}

// ZSetValue holds sorted set members ordered by score, then member.
type ZSetValue []Member

func (StringValue) Kind() Kind { return KindString }
func (HashValue) Kind() Kind   { return KindHash }
func (ListValue) Kind() Kind   { return KindList }
func (SetValue) Kind() Kind    { return KindSet }
func (ZSetValue) Kind() Kind   { return KindZSet }

func (v StringValue) Len() int { return len(v) }
func (v HashValue) Len() int   { return len(v) }
func (v ListValue) Len() int   { return len(v) }
func (v SetValue) Len() int    { return len(v) }
func (v ZSetValue) Len() int   { return len(v) }

func (v StringValue) Accept(vis Visitor) error { return vis.VisitString(v) }
func (v HashValue) Accept(vis Visitor) error   { return vis.VisitHash(v) }
func (v ListValue) Accept(vis Visitor) error   { return vis.VisitList(v) }
func (v SetValue) Accept(vis Visitor) error    { return vis.VisitSet(v) }
func (v ZSetValue) Accept(vis Visitor) error   { return vis.VisitZSet(v) }

func (StringValue) sealed() {}
func (HashValue) sealed()   {}
func (ListValue) sealed()   {}
func (SetValue) sealed()    {}
func (ZSetValue) sealed()   {}

// NewHash builds a HashValue from field/value pairs. Later duplicates win.
func NewHash(fields map[string][]byte) HashValue {
	h := make(HashValue, 0, len(fields))
	for name, value := range fields {
		h = append(h, Field{Name: []byte(name), Value: value})
	}
	return h.normalize()
}

// NewSet builds a SetValue, dropping duplicates.
func NewSet(members ...[]byte) SetValue {
	return SetValue(members).normalize()
}

// NewZSet builds a ZSetValue. A member listed twice keeps its last score.
func NewZSet(members ...Member) ZSetValue {
	return ZSetValue(members).normalize()
}

func (v HashValue) normalize() HashValue {
	out := slices.Clone(v)
	slices.SortStableFunc(out, func(a, b Field) int { return bytes.Compare(a.Name, b.Name) })
	return compactLast(out, func(a, b Field) bool { return bytes.Equal(a.Name, b.Name) })
}

func (v SetValue) normalize() SetValue {
	out := slices.Clone(v)
	slices.SortFunc(out, bytes.Compare)
	return slices.CompactFunc(out, bytes.Equal)
}

func (v ZSetValue) normalize() ZSetValue {
	out := slices.Clone(v)
	slices.SortStableFunc(out, func(a, b Member) int { return bytes.Compare(a.Member, b.Member) })
	out = compactLast(out, func(a, b Member) bool { return bytes.Equal(a.Member, b.Member) })
	slices.SortFunc(out, func(a, b Member) int {
		if c := cmp.Compare(a.Score, b.Score); c != 0 {
			return c
		}
		return bytes.Compare(a.Member, b.Member)
	})
	return out
}

// compactLast collapses runs of equal neighbours, keeping the last of each run.
func compactLast[S ~[]E, E any](s S, eq func(a, b E) bool) S {
	if len(s) < 2 {
		return s
	}
	out := s[:0]
	for i := range s {
		if i+1 < len(s) && eq(s[i], s[i+1]) {
			continue
		}
		out = append(out, s[i])
	}
	return out
}
