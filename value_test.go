package keyscope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type kindCounter map[Kind]int

func (c kindCounter) VisitString(StringValue) error { c[KindString]++; return nil }
func (c kindCounter) VisitHash(HashValue) error     { c[KindHash]++; return nil }
func (c kindCounter) VisitList(ListValue) error     { c[KindList]++; return nil }
func (c kindCounter) VisitSet(SetValue) error       { c[KindSet]++; return nil }
func (c kindCounter) VisitZSet(ZSetValue) error     { c[KindZSet]++; return nil }

func TestVisitorDispatch(t *testing.T) {
	a := require.New(t)
	c := kindCounter{}
	for _, v := range []Value{StringValue(nil), HashValue{}, ListValue{}, SetValue{}, ZSetValue{}} {
		a.NoError(v.Accept(c))
		a.Equal(1, c[v.Kind()])
	}
	a.Len(c, len(Kinds))
}

func TestNormalize(t *testing.T) {
	a := require.New(t)

	s := NewSet([]byte("b"), []byte("a"), []byte("b"))
	a.Equal(SetValue{[]byte("a"), []byte("b")}, s)

	z := NewZSet(
		Member{Member: []byte("b"), Score: 1},
		Member{Member: []byte("a"), Score: 1},
		Member{Member: []byte("c"), Score: 0},
		Member{Member: []byte("c"), Score: 3},
	)
	a.Equal(ZSetValue{
		{Member: []byte("a"), Score: 1},
		{Member: []byte("b"), Score: 1},
		{Member: []byte("c"), Score: 3},
	}, z)

	h := HashValue{
		{Name: []byte("b"), Value: []byte("1")},
		{Name: []byte("a"), Value: []byte("2")},
		{Name: []byte("b"), Value: []byte("3")},
	}.normalize()
	a.Equal(HashValue{
		{Name: []byte("a"), Value: []byte("2")},
		{Name: []byte("b"), Value: []byte("3")},
	}, h)
}

func TestTTL(t *testing.T) {
	a := require.New(t)
	a.False(NoExpiry.Expires())
	a.Zero(NoExpiry.Duration())
	a.Equal("no expiry", NoExpiry.String())
	a.True(TTL(0).Expires())
	a.Equal(90*time.Second, TTL(90).Duration())
	a.Equal("1m30s", TTL(90).String())
}
