// Package keytree arranges flat, delimiter-structured key names into a
// hierarchy for navigation. The store has no notion of directories; every
// group here is derived from the key names alone.
package keytree

import (
	"iter"
	"slices"
	"strings"
)

// Delimiter separates the segments of a key name.
const Delimiter = ":"

// Split breaks a key name into its segments. Split and Join are inverses for
// every string, including empty segments produced by leading, trailing or
// repeated delimiters.
func Split(key string) []string {
	return strings.Split(key, Delimiter)
}

// Join is the inverse of Split.
func Join(segments []string) string {
	return strings.Join(segments, Delimiter)
}

// Node is one path segment. A node with children is a group. IsKey reports
// whether the path up to and including this node is itself a stored key; a
// node may be a group and a key at the same time.
type Node struct {
	Segment  string
	Path     string
	IsKey    bool
	Children []*Node
}

// IsGroup reports whether the node has children.
func (n *Node) IsGroup() bool {
	return len(n.Children) > 0
}

// IsLeaf reports whether the node is a key without children.
func (n *Node) IsLeaf() bool {
	return n.IsKey && len(n.Children) == 0
}

// Child returns the direct child with the given segment.
func (n *Node) Child(segment string) (*Node, bool) {
	i, ok := slices.BinarySearchFunc(n.Children, segment, func(c *Node, s string) int {
		return strings.Compare(c.Segment, s)
	})
	if !ok {
		return nil, false
	}
	return n.Children[i], true
}

// Keys returns every key at or beneath n in tree order.
func (n *Node) Keys() []string {
	var keys []string
	for node := range n.all() {
		if node.IsKey {
			keys = append(keys, node.Path)
		}
	}
	return keys
}

// Count returns the number of keys at or beneath n.
func (n *Node) Count() int {
	count := 0
	for node := range n.all() {
		if node.IsKey {
			count++
		}
	}
	return count
}

func (n *Node) all() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		n.walk(0, func(node *Node, _ int) bool { return yield(node) })
	}
}

func (n *Node) walk(depth int, fn func(*Node, int) bool) bool {
	if !fn(n, depth) {
		return false
	}
	for _, c := range n.Children {
		if !c.walk(depth+1, fn) {
			return false
		}
	}
	return true
}

func (n *Node) insert(segments []string, key string) {
	cur := n
	for i, seg := range segments {
		child, ok := cur.Child(seg)
		if !ok {
			child = &Node{Segment: seg, Path: Join(segments[:i+1])}
			at, _ := slices.BinarySearchFunc(cur.Children, seg, func(c *Node, s string) int {
				return strings.Compare(c.Segment, s)
			})
			cur.Children = slices.Insert(cur.Children, at, child)
		}
		cur = child
	}
	cur.IsKey = true
	cur.Path = key
}

// Tree is the hierarchy built from a key snapshot. Roots holds the top-level
// nodes sorted by segment.
type Tree struct {
	Roots []*Node
}

// Build groups keys into a tree. The result depends only on the set of keys:
// duplicates and input order do not matter.
func Build(keys []string) *Tree {
	root := &Node{}
	for _, key := range keys {
		root.insert(Split(key), key)
	}
	return &Tree{Roots: root.Children}
}

// Len returns the number of keys in the tree.
func (t *Tree) Len() int {
	count := 0
	for _, r := range t.Roots {
		count += r.Count()
	}
	return count
}

// Keys returns every key in tree order.
func (t *Tree) Keys() []string {
	var keys []string
	for _, r := range t.Roots {
		keys = append(keys, r.Keys()...)
	}
	return keys
}

// Find returns the node whose path equals path.
func (t *Tree) Find(path string) (*Node, bool) {
	cur := &Node{Children: t.Roots}
	for _, seg := range Split(path) {
		next, ok := cur.Child(seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Walk calls fn for every node in depth-first tree order with its depth,
// starting at zero for roots. Returning false stops the walk.
func (t *Tree) Walk(fn func(n *Node, depth int) bool) {
	for _, r := range t.Roots {
		if !r.walk(0, fn) {
			return
		}
	}
}

// Filter returns a projection of t holding the keys whose full name contains
// substr, compared case-insensitively, together with every group that has at
// least one such key beneath it. t is left untouched.
func Filter(t *Tree, substr string) *Tree {
	needle := strings.ToLower(substr)
	out := &Tree{}
	for _, r := range t.Roots {
		if n := filterNode(r, needle); n != nil {
			out.Roots = append(out.Roots, n)
		}
	}
	return out
}

func filterNode(n *Node, needle string) *Node {
	var children []*Node
	for _, c := range n.Children {
		if fc := filterNode(c, needle); fc != nil {
			children = append(children, fc)
		}
	}
	match := n.IsKey && strings.Contains(strings.ToLower(n.Path), needle)
	if !match && len(children) == 0 {
		return nil
	}
	return &Node{
		Segment:  n.Segment,
		Path:     n.Path,
		IsKey:    match,
		Children: children,
	}
}
