// Package annotations keeps the analysis annotations of one document
// anchored to syntax nodes while the document is edited.
//
// The Manager is not safe for concurrent use; the owning document
// serializes access to it.
package annotations

import (
	"sort"

	"codeoverlay/internal/analysis"
	"codeoverlay/internal/syntax"
)

// State is an annotation's lifecycle state.
type State string

const (
	// StatePending annotations are being recomputed.
	StatePending State = "pending"
	// StateActive annotations carry a current payload.
	StateActive State = "active"
	// StateStale annotations were edited under and await recomputation.
	StateStale State = "stale"
	// StateFailed annotations carry the analysis error instead of a payload.
	StateFailed State = "failed"
	// StateRemoved is terminal.
	StateRemoved State = "removed"
)

// Annotation is one feature result attached to an anchor node.
type Annotation struct {
	ID      string           `json:"id" yaml:"id"`
	Anchor  syntax.NodeRef   `json:"anchor" yaml:"anchor"`
	Kind    analysis.Feature `json:"kind" yaml:"kind"`
	State   State            `json:"state" yaml:"state"`
	Payload any              `json:"payload,omitempty" yaml:"payload,omitempty"`
	Error   string           `json:"error,omitempty" yaml:"error,omitempty"`
}

// Delta is the incremental change set sent to the overlay. An id appears in
// at most one of the three collections.
type Delta struct {
	Additions map[string]Annotation `json:"additions"`
	Updates   map[string]Annotation `json:"updates"`
	Removals  []string              `json:"removals"`
}

// Empty reports whether the delta carries no change.
func (d Delta) Empty() bool {
	return len(d.Additions) == 0 && len(d.Updates) == 0 && len(d.Removals) == 0
}

// Size is the total number of changes.
func (d Delta) Size() int {
	return len(d.Additions) + len(d.Updates) + len(d.Removals)
}

func (d *Delta) add(a *Annotation) {
	if d.Additions == nil {
		d.Additions = make(map[string]Annotation)
	}
	d.Additions[a.ID] = *a
}

func (d *Delta) update(a *Annotation) {
	if _, ok := d.Additions[a.ID]; ok {
		d.Additions[a.ID] = *a
		return
	}
	if d.Updates == nil {
		d.Updates = make(map[string]Annotation)
	}
	d.Updates[a.ID] = *a
}

func (d *Delta) remove(id string) {
	if _, ok := d.Additions[id]; ok {
		delete(d.Additions, id)
		return
	}
	delete(d.Updates, id)
	d.Removals = append(d.Removals, id)
}

// Merge folds o, which happened after d, into d.
func (d *Delta) Merge(o Delta) {
	for _, id := range sortedIDs(o.Additions) {
		a := o.Additions[id]
		d.add(&a)
	}
	for _, id := range sortedIDs(o.Updates) {
		a := o.Updates[id]
		d.update(&a)
	}
	for _, id := range o.Removals {
		d.remove(id)
	}
}

func sortedIDs(m map[string]Annotation) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
