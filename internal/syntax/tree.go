// Package syntax keeps an incrementally maintained Swift syntax tree for a
// single document and reports, for each edit, what happened to every node.
//
// Trees are exposed as an immutable arena of nodes addressed by index, with
// ranges in UTF-16 offsets. A node is identified across edits by its
// NodeRef (kind plus range), which the edit outcome maps from old tree to
// new tree.
package syntax

import (
	"fmt"
	"sort"

	"codeoverlay/internal/errors"
	"codeoverlay/internal/text"
)

// NodeRef identifies a node by kind and range within one tree generation.
type NodeRef struct {
	Kind  string     `json:"kind"`
	Range text.Range `json:"range"`
}

func (r NodeRef) String() string {
	return fmt.Sprintf("%s[%d,%d)", r.Kind, r.Range.Start, r.Range.End())
}

// IsZero reports whether the ref is unset.
func (r NodeRef) IsZero() bool { return r.Kind == "" && r.Range == (text.Range{}) }

// Node is one named node of the arena.
type Node struct {
	Kind     string
	Range    text.Range
	Parent   int // -1 for the root
	Children []int
	Depth    int
	// Error is set on ERROR and MISSING nodes.
	Error bool
	// HasError is set when the node or any descendant is an error.
	HasError bool
}

// Ref returns the node's identity.
func (n *Node) Ref() NodeRef { return NodeRef{Kind: n.Kind, Range: n.Range} }

// Leaf reports whether the node has no named children.
func (n *Node) Leaf() bool { return len(n.Children) == 0 }

// Tree is an immutable snapshot of a parse. Nodes are stored in pre-order,
// so a node's descendants follow it contiguously.
type Tree struct {
	Generation uint64
	Source     string
	Nodes      []Node

	index      map[NodeRef]int
	units      []int // UTF-16 offset of every byte index
	lineStarts []int // UTF-16 offset of every line start
	ends       []int // index just past each node's last descendant
}

// Root returns the root node index, or -1 for an empty tree.
func (t *Tree) Root() int {
	if t == nil || len(t.Nodes) == 0 {
		return -1
	}
	return 0
}

// Len returns the number of nodes.
func (t *Tree) Len() int { return len(t.Nodes) }

// Node returns the node at idx.
func (t *Tree) Node(idx int) *Node { return &t.Nodes[idx] }

// Lookup finds the outermost node with the given identity.
func (t *Tree) Lookup(ref NodeRef) (int, bool) {
	idx, ok := t.index[ref]
	return idx, ok
}

// Contains reports whether a node with this identity exists.
func (t *Tree) Contains(ref NodeRef) bool {
	_, ok := t.index[ref]
	return ok
}

// Text returns the source text covered by r.
func (t *Tree) Text(r text.Range) (string, error) {
	start, err := t.byteOffset(r.Start)
	if err != nil {
		return "", err
	}
	end, err := t.byteOffset(r.End())
	if err != nil {
		return "", err
	}
	return t.Source[start:end], nil
}

// NodeText returns the source text of the node at idx.
func (t *Tree) NodeText(idx int) string {
	s, _ := t.Text(t.Nodes[idx].Range)
	return s
}

// UTF16Len is the document length in UTF-16 code units.
func (t *Tree) UTF16Len() int {
	if len(t.units) == 0 {
		return 0
	}
	return t.units[len(t.units)-1]
}

// Line returns the zero-based line containing offset.
func (t *Tree) Line(offset int) int {
	i := sort.Search(len(t.lineStarts), func(i int) bool { return t.lineStarts[i] > offset })
	if i == 0 {
		return 0
	}
	return i - 1
}

// LineStart returns the offset where the line containing offset begins.
func (t *Tree) LineStart(offset int) int {
	if len(t.lineStarts) == 0 {
		return 0
	}
	return t.lineStarts[t.Line(offset)]
}

func (t *Tree) byteOffset(offset int) (int, error) {
	if offset < 0 || offset > t.UTF16Len() {
		return 0, errors.Newf(errors.OutOfBounds, "offset %d outside [0, %d]", offset, t.UTF16Len())
	}
	i := sort.SearchInts(t.units, offset)
	if i >= len(t.units) || t.units[i] != offset {
		return 0, errors.Newf(errors.OutOfBounds, "offset %d splits a surrogate pair", offset)
	}
	return i, nil
}

// Walk visits nodes in pre-order. Returning false from fn skips the node's
// descendants.
func (t *Tree) Walk(fn func(idx int, n *Node) bool) {
	for i := 0; i < len(t.Nodes); {
		if fn(i, &t.Nodes[i]) {
			i++
			continue
		}
		i = t.ends[i]
	}
}

// Descendants returns the indexes of idx's descendants in pre-order.
func (t *Tree) Descendants(idx int) []int {
	out := make([]int, 0, t.ends[idx]-idx-1)
	for i := idx + 1; i < t.ends[idx]; i++ {
		out = append(out, i)
	}
	return out
}

// OfKind returns every node whose kind is in kinds, in document order.
func (t *Tree) OfKind(kinds ...string) []int {
	var out []int
	for i := range t.Nodes {
		for _, k := range kinds {
			if t.Nodes[i].Kind == k {
				out = append(out, i)
				break
			}
		}
	}
	return out
}

// Ancestor returns the nearest ancestor of idx whose kind satisfies match.
func (t *Tree) Ancestor(idx int, match func(kind string) bool) int {
	for p := t.Nodes[idx].Parent; p >= 0; p = t.Nodes[p].Parent {
		if match(t.Nodes[p].Kind) {
			return p
		}
	}
	return -1
}

// Smallest returns the smallest node covering r, preferring the deepest on ties.
func (t *Tree) Smallest(r text.Range) int {
	best := -1
	for i := range t.Nodes {
		n := &t.Nodes[i]
		if !n.Range.Covers(r) {
			continue
		}
		if best < 0 || n.Range.Length < t.Nodes[best].Range.Length ||
			(n.Range.Length == t.Nodes[best].Range.Length && n.Depth > t.Nodes[best].Depth) {
			best = i
		}
	}
	return best
}

// Touching returns nodes of kind whose range overlaps or abuts r.
func (t *Tree) Touching(kind string, r text.Range) []int {
	var out []int
	for i := range t.Nodes {
		if t.Nodes[i].Kind == kind && t.Nodes[i].Range.Touches(r) {
			out = append(out, i)
		}
	}
	return out
}

// NamedChildren returns idx's children, skipping comments.
func (t *Tree) NamedChildren(idx int) []int {
	var out []int
	for _, c := range t.Nodes[idx].Children {
		if !IsComment(t.Nodes[c].Kind) {
			out = append(out, c)
		}
	}
	return out
}

// ChildOfKind returns the first child of idx with the given kind.
func (t *Tree) ChildOfKind(idx int, kind string) int {
	for _, c := range t.Nodes[idx].Children {
		if t.Nodes[c].Kind == kind {
			return c
		}
	}
	return -1
}

// PrecedingComments returns the text of comment siblings directly before
// idx, with no other node in between.
func (t *Tree) PrecedingComments(idx int) []string {
	parent := t.Nodes[idx].Parent
	if parent < 0 {
		return nil
	}
	siblings := t.Nodes[parent].Children
	pos := -1
	for i, c := range siblings {
		if c == idx {
			pos = i
			break
		}
	}
	var out []string
	for i := pos - 1; i >= 0; i-- {
		c := siblings[i]
		if !IsComment(t.Nodes[c].Kind) {
			break
		}
		out = append([]string{t.NodeText(c)}, out...)
	}
	return out
}

// NewTree finalizes an arena of nodes given in pre-order with Parent links
// set (the root has Parent -1). Children, Depth and the lookup tables are
// derived here.
func NewTree(generation uint64, source string, nodes []Node) *Tree {
	t := &Tree{
		Generation: generation,
		Source:     source,
		Nodes:      nodes,
		index:      make(map[NodeRef]int, len(nodes)),
		ends:       make([]int, len(nodes)),
	}
	for i := range nodes {
		nodes[i].Children = nodes[i].Children[:0]
	}
	for i := range nodes {
		if p := nodes[i].Parent; p >= 0 {
			nodes[p].Children = append(nodes[p].Children, i)
			nodes[i].Depth = nodes[p].Depth + 1
		} else {
			nodes[i].Depth = 0
		}
	}
	for i := len(nodes) - 1; i >= 0; i-- {
		end := i + 1
		if c := nodes[i].Children; len(c) > 0 {
			end = t.ends[c[len(c)-1]]
		}
		t.ends[i] = end
		if nodes[i].Error {
			nodes[i].HasError = true
		}
		if p := nodes[i].Parent; p >= 0 && nodes[i].HasError {
			nodes[p].HasError = true
		}
	}

	t.units = byteUnits(source)
	t.lineStarts = []int{0}
	for i := 0; i < len(source); i++ {
		if source[i] == '\n' {
			t.lineStarts = append(t.lineStarts, t.units[i]+1)
		}
	}

	for i := range nodes {
		ref := nodes[i].Ref()
		if _, ok := t.index[ref]; !ok {
			t.index[ref] = i
		}
	}
	return t
}
