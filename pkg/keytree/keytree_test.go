package keytree_test

import (
	"fmt"
	mathrand "math/rand/v2"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamune-org/keyscope/pkg/keytree"
)

func reconstruct(t *keytree.Tree) []string {
	var keys []string
	var visit func(n *keytree.Node, prefix []string)
	visit = func(n *keytree.Node, prefix []string) {
		path := append(slices.Clone(prefix), n.Segment)
		if n.IsKey {
			keys = append(keys, keytree.Join(path))
		}
		for _, c := range n.Children {
			visit(c, path)
		}
	}
	for _, r := range t.Roots {
		visit(r, nil)
	}
	return keys
}

func TestBuildNestedGroups(t *testing.T) {
	a := require.New(t)

	tree := keytree.Build([]string{"a:b:d", "a:b:c"})
	a.Len(tree.Roots, 1)

	group := tree.Roots[0]
	a.Equal("a", group.Segment)
	a.True(group.IsGroup())
	a.False(group.IsKey)
	a.Len(group.Children, 1)

	sub := group.Children[0]
	a.Equal("b", sub.Segment)
	a.Equal("a:b", sub.Path)
	a.Len(sub.Children, 2)
	a.Equal("c", sub.Children[0].Segment)
	a.Equal("d", sub.Children[1].Segment)
	a.True(sub.Children[0].IsLeaf())

	a.Equal([]string{"a:b:c", "a:b:d"}, reconstruct(tree))
	a.Equal([]string{"a:b:c", "a:b:d"}, group.Keys())
}

func TestBuildRootLeafAndMixedNode(t *testing.T) {
	a := require.New(t)

	tree := keytree.Build([]string{"plain", "user", "user:1"})
	a.Len(tree.Roots, 2)
	a.True(tree.Roots[0].IsLeaf())

	user := tree.Roots[1]
	a.True(user.IsKey)
	a.True(user.IsGroup())
	a.False(user.IsLeaf())
	a.Equal([]string{"user", "user:1"}, user.Keys())
	a.Equal(3, tree.Len())
}

func TestBuildEmpty(t *testing.T) {
	tree := keytree.Build(nil)
	assert.Empty(t, tree.Roots)
	assert.Zero(t, tree.Len())
	assert.Empty(t, keytree.Filter(tree, "x").Roots)
}

func TestBuildEmptySegments(t *testing.T) {
	keys := []string{":", "", ":a", "a:", "a::b", "::"}
	tree := keytree.Build(keys)

	got := reconstruct(tree)
	slices.Sort(got)
	want := slices.Clone(keys)
	slices.Sort(want)
	assert.Equal(t, want, got)

	for _, k := range keys {
		n, ok := tree.Find(k)
		require.True(t, ok, "find %q", k)
		assert.True(t, n.IsKey, "key %q", k)
		assert.Equal(t, k, n.Path)
	}
}

func TestBuildRoundTripRandom(t *testing.T) {
	alphabet := []string{"a", "b", ":", "é", "\x00", "Z"}
	for round := range 50 {
		set := map[string]struct{}{}
		for range mathrand.IntN(40) {
			var sb strings.Builder
			for range mathrand.IntN(8) {
				sb.WriteString(alphabet[mathrand.IntN(len(alphabet))])
			}
			set[sb.String()] = struct{}{}
		}
		var keys []string
		for k := range set {
			keys = append(keys, k)
		}

		got := reconstruct(keytree.Build(keys))
		slices.Sort(got)
		slices.Sort(keys)
		require.Equal(t, keys, got, "round %d", round)
	}
}

func TestBuildDeterministic(t *testing.T) {
	keys := []string{"z:1", "a:2", "a:1", "m", "a:1"}
	first := keytree.Build(keys)
	slices.Reverse(keys)
	second := keytree.Build(keys)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"a:1", "a:2", "m", "z:1"}, first.Keys())
}

func TestFind(t *testing.T) {
	tree := keytree.Build([]string{"a:b:c"})

	n, ok := tree.Find("a:b")
	require.True(t, ok)
	assert.False(t, n.IsKey)
	assert.Equal(t, []string{"a:b:c"}, n.Keys())

	_, ok = tree.Find("a:x")
	assert.False(t, ok)
}

func TestWalk(t *testing.T) {
	tree := keytree.Build([]string{"a:b", "c"})
	var visited []string
	tree.Walk(func(n *keytree.Node, depth int) bool {
		visited = append(visited, fmt.Sprintf("%d:%s", depth, n.Segment))
		return true
	})
	assert.Equal(t, []string{"0:a", "1:b", "0:c"}, visited)
}

func TestFilter(t *testing.T) {
	a := require.New(t)
	tree := keytree.Build([]string{"user:1:name", "user:2:Email", "session:abc"})

	filtered := keytree.Filter(tree, "EMAIL")
	a.Equal([]string{"user:2:Email"}, filtered.Keys())
	a.Len(filtered.Roots, 1)
	a.Equal("user", filtered.Roots[0].Segment)

	a.Equal(tree.Keys(), keytree.Filter(tree, "").Keys())
	a.Empty(keytree.Filter(tree, "nope").Roots)

	// The source tree is unchanged.
	a.Equal(3, tree.Len())
	a.Len(tree.Roots, 2)
}

func TestFilterMixedNode(t *testing.T) {
	tree := keytree.Build([]string{"user", "user:alice"})

	filtered := keytree.Filter(tree, "alice")
	require.Len(t, filtered.Roots, 1)
	assert.False(t, filtered.Roots[0].IsKey)
	assert.True(t, filtered.Roots[0].IsGroup())
	assert.Equal(t, []string{"user:alice"}, filtered.Keys())
}

func TestFilterGroupVisibility(t *testing.T) {
	tree := keytree.Build([]string{"a:x:1", "a:y:2", "b:z:3"})
	filtered := keytree.Filter(tree, "2")

	tree.Walk(func(n *keytree.Node, _ int) bool {
		if !n.IsGroup() {
			return true
		}
		_, visible := filtered.Find(n.Path)
		matching := slices.ContainsFunc(n.Keys(), func(k string) bool {
			return strings.Contains(k, "2")
		})
		assert.Equal(t, matching, visible, "group %q", n.Path)
		return true
	})
}

func TestFilterMonotonic(t *testing.T) {
	keys := []string{"orders:2024:eu", "orders:2023:us", "Orders:archive", "users:eu:1"}
	tree := keytree.Build(keys)

	needle := "orders:2024:eu"
	prev := keytree.Filter(tree, needle).Keys()
	for len(needle) > 0 {
		needle = needle[:len(needle)-1]
		cur := keytree.Filter(tree, needle).Keys()
		for _, k := range prev {
			assert.Contains(t, cur, k, "after shortening to %q", needle)
		}
		prev = cur
	}
	assert.Len(t, prev, len(keys))
}
