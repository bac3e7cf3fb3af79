package keyscope

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kamune-org/keyscope/pkg/keytree"
)

func TestListKeys(t *testing.T) {
	a := require.New(t)
	ctx := context.Background()
	s, m := newTestSession(t)

	keys, err := s.ListKeys(ctx, "")
	a.NoError(err)
	a.Empty(keys)

	for _, k := range []string{"user:2", "user:1", "session:x", "plain"} {
		a.NoError(m.Set(k, "v"))
	}

	keys, err = s.ListKeys(ctx, "")
	a.NoError(err)
	a.Equal([]string{"plain", "session:x", "user:1", "user:2"}, keys)

	keys, err = s.ListKeys(ctx, "user:*")
	a.NoError(err)
	a.Equal([]string{"user:1", "user:2"}, keys)

	keys, err = s.ListKeys(ctx, "nomatch*")
	a.NoError(err)
	a.Empty(keys)
}

func TestListKeysCursor(t *testing.T) {
	a := require.New(t)
	ctx := context.Background()
	s, m := newTestSession(t)

	const n = 2*scanBatch + 17
	for i := range n {
		a.NoError(m.Set(fmt.Sprintf("k:%05d", i), "v"))
	}
	keys, err := s.ListKeys(ctx, "k:*")
	a.NoError(err)
	a.Len(keys, n)
	a.IsIncreasing(keys)
}

func TestListKeysTimeoutPerPage(t *testing.T) {
	a := require.New(t)
	ctx := context.Background()
	s, m := newTestSession(t, WithTimeout(150*time.Millisecond))

	const n = 2*scanBatch + 17
	for i := range n {
		a.NoError(m.Set(fmt.Sprintf("k:%05d", i), "v"))
	}
	var pages int
	s.hook = func(op, _ string) {
		if op == "scan" {
			pages++
			time.Sleep(100 * time.Millisecond)
		}
	}
	keys, err := s.ListKeys(ctx, "k:*")
	a.NoError(err)
	a.Len(keys, n)
	a.Greater(pages, 1)
	a.Equal(StateConnected, s.State())
}

func TestTree(t *testing.T) {
	a := require.New(t)
	ctx := context.Background()
	s, m := newTestSession(t)
	a.NoError(m.Set("a:b:c", "1"))
	a.NoError(m.Set("a:b:d", "2"))

	tree, err := s.Tree(ctx, "")
	a.NoError(err)
	a.Len(tree.Roots, 1)

	groupA := tree.Roots[0]
	a.Equal("a", groupA.Segment)
	a.True(groupA.IsGroup())
	a.Len(groupA.Children, 1)

	groupB := groupA.Children[0]
	a.Equal("b", groupB.Segment)
	a.Equal("a:b", groupB.Path)
	a.Len(groupB.Children, 2)
	a.Equal("c", groupB.Children[0].Segment)
	a.Equal("d", groupB.Children[1].Segment)
	a.True(groupB.Children[0].IsLeaf())

	a.Equal([]string{"a:b:c", "a:b:d"}, tree.Keys())

	filtered := keytree.Filter(tree, "D")
	a.Equal([]string{"a:b:d"}, filtered.Keys())
	a.Equal([]string{"a:b:c", "a:b:d"}, tree.Keys())
}
