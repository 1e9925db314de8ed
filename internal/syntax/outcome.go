package syntax

import (
	"codeoverlay/internal/text"
)

// Change describes what an edit did to one node of the previous tree.
type Change string

const (
	// Unchanged nodes end at or before the edit and keep their range.
	Unchanged Change = "unchanged"
	// Shifted nodes start at or after the edit; only their offset moves.
	Shifted Change = "shifted"
	// Resized block nodes strictly contain the edit; they survive with a new length.
	Resized Change = "resized"
	// Invalidated nodes overlap the edit and must be rebuilt by the reparse.
	Invalidated Change = "invalidated"
)

// Classify decides what edit e does to node n.
//
// A block node (one with named children) is unaffected by an edit that only
// abuts it and survives an edit strictly inside it. A leaf token is
// invalidated by any edit touching it, including one at either boundary.
func Classify(n *Node, e text.Edit) Change {
	s, end := e.Range.Start, e.Range.End()
	ns, ne := n.Range.Start, n.Range.End()
	delta := e.Delta()

	if n.Leaf() || n.Range.Empty() {
		switch {
		case end < ns:
			return shiftedOrUnchanged(delta)
		case s > ne:
			return Unchanged
		}
		return Invalidated
	}

	switch {
	case end <= ns:
		return shiftedOrUnchanged(delta)
	case s >= ne:
		return Unchanged
	case ns < s && end < ne:
		return Resized
	}
	return Invalidated
}

func shiftedOrUnchanged(delta int) Change {
	if delta == 0 {
		return Unchanged
	}
	return Shifted
}

// Mapping records the fate of one node of the previous tree.
type Mapping struct {
	Old    NodeRef `json:"old"`
	New    NodeRef `json:"new,omitempty"`
	Change Change  `json:"change"`
}

// EditOutcome reports, for every node of the previous tree, whether an edit
// left it unchanged, shifted or resized it, or invalidated it, plus the nodes
// of the new tree that have no surviving predecessor.
type EditOutcome struct {
	Edit           text.Edit `json:"edit"`
	Delta          int       `json:"delta"`
	FullReparse    bool      `json:"fullReparse"`
	PrevGeneration uint64    `json:"prevGeneration"`
	Generation     uint64    `json:"generation"`
	Mappings       []Mapping `json:"mappings"`
	Recreated      []NodeRef `json:"recreated"`

	byOld     map[NodeRef]int
	recreated map[NodeRef]bool
}

// Lookup returns the mapping for a node of the previous tree.
func (o *EditOutcome) Lookup(old NodeRef) (Mapping, bool) {
	i, ok := o.byOld[old]
	if !ok {
		return Mapping{}, false
	}
	return o.Mappings[i], true
}

// IsRecreated reports whether ref is a new-tree node without a predecessor.
func (o *EditOutcome) IsRecreated(ref NodeRef) bool { return o.recreated[ref] }

// Invalidated lists the previous-tree nodes the edit invalidated.
func (o *EditOutcome) Invalidated() []NodeRef {
	var out []NodeRef
	for _, m := range o.Mappings {
		if m.Change == Invalidated {
			out = append(out, m.Old)
		}
	}
	return out
}

// Count returns how many previous-tree nodes received change c.
func (o *EditOutcome) Count(c Change) int {
	n := 0
	for _, m := range o.Mappings {
		if m.Change == c {
			n++
		}
	}
	return n
}

// EditedRange is the span the edit's inserted text occupies in the new tree.
func (o *EditOutcome) EditedRange() text.Range {
	if o.FullReparse {
		return text.Range{}
	}
	return o.Edit.NewRange()
}

func (o *EditOutcome) index() {
	o.byOld = make(map[NodeRef]int, len(o.Mappings))
	for i, m := range o.Mappings {
		if _, ok := o.byOld[m.Old]; !ok {
			o.byOld[m.Old] = i
		}
	}
	o.recreated = make(map[NodeRef]bool, len(o.Recreated))
	for _, r := range o.Recreated {
		o.recreated[r] = true
	}
}

// CompareTrees classifies every node of prev against e and confirms each
// predicted survivor against next. A prediction the reparse did not
// reproduce is downgraded to Invalidated.
func CompareTrees(prev, next *Tree, e text.Edit) *EditOutcome {
	o := &EditOutcome{
		Edit:           e,
		Delta:          e.Delta(),
		PrevGeneration: prev.Generation,
		Generation:     next.Generation,
		Mappings:       make([]Mapping, 0, len(prev.Nodes)),
	}

	claimed := make(map[NodeRef]bool, len(next.Nodes))
	for i := range prev.Nodes {
		n := &prev.Nodes[i]
		m := Mapping{Old: n.Ref(), Change: Classify(n, e)}
		switch m.Change {
		case Unchanged:
			m.New = m.Old
		case Shifted:
			m.New = NodeRef{Kind: n.Kind, Range: n.Range.Shift(o.Delta)}
		case Resized:
			m.New = NodeRef{Kind: n.Kind, Range: text.Range{Start: n.Range.Start, Length: n.Range.Length + o.Delta}}
		}
		if m.Change != Invalidated {
			if !next.Contains(m.New) || claimed[m.New] {
				m.Change = Invalidated
				m.New = NodeRef{}
			} else {
				claimed[m.New] = true
			}
		}
		o.Mappings = append(o.Mappings, m)
	}

	for i := range next.Nodes {
		ref := next.Nodes[i].Ref()
		if !claimed[ref] {
			o.Recreated = append(o.Recreated, ref)
		}
	}
	o.index()
	return o
}

// ReplaceTree invalidates everything in prev (which may be nil) and marks
// every node of next as recreated.
func ReplaceTree(prev, next *Tree, e text.Edit) *EditOutcome {
	o := &EditOutcome{
		Edit:        e,
		Delta:       e.Delta(),
		FullReparse: true,
		Generation:  next.Generation,
	}
	if prev != nil {
		o.PrevGeneration = prev.Generation
		for i := range prev.Nodes {
			o.Mappings = append(o.Mappings, Mapping{Old: prev.Nodes[i].Ref(), Change: Invalidated})
		}
	}
	for i := range next.Nodes {
		o.Recreated = append(o.Recreated, next.Nodes[i].Ref())
	}
	o.index()
	return o
}
