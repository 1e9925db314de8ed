// Package suggestions computes extract-method refactoring candidates over a
// syntax tree and tracks their select/dismiss/apply lifecycle with stable
// ids across recomputation.
package suggestions

import (
	"crypto/sha256"
	"encoding/hex"

	"codeoverlay/internal/text"
)

// Kind is the refactoring a suggestion proposes.
type Kind string

const (
	KindExtractMethod  Kind = "extract_method"
	KindExtractClosure Kind = "extract_closure"
)

// State is a suggestion's lifecycle state.
type State string

const (
	StateProposed  State = "proposed"
	StateSelected  State = "selected"
	StateDismissed State = "dismissed"
	StateApplied   State = "applied"
)

// Operation describes the transformation for display.
type Operation struct {
	Title      string `json:"title" yaml:"title"`
	NewName    string `json:"newName" yaml:"newName"`
	Statements int    `json:"statements" yaml:"statements"`
}

// Suggestion is one proposed refactoring.
type Suggestion struct {
	ID          string     `json:"id" yaml:"id"`
	Kind        Kind       `json:"kind" yaml:"kind"`
	Target      text.Range `json:"target" yaml:"target"`
	Operation   Operation  `json:"operation" yaml:"operation"`
	State       State      `json:"state" yaml:"state"`
	ContentHash string     `json:"contentHash" yaml:"contentHash"`
	// Failed is set when the feasibility check itself failed.
	Failed bool   `json:"failed,omitempty" yaml:"failed,omitempty"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`

	stale bool
}

// Delta is the incremental change set sent to the overlay. An id in
// Additions that the receiver already holds replaces the old entry.
type Delta struct {
	Additions map[string]Suggestion `json:"additions"`
	Removals  []string              `json:"removals"`
}

// Empty reports whether the delta carries no change.
func (d Delta) Empty() bool { return len(d.Additions) == 0 && len(d.Removals) == 0 }

func (d *Delta) put(s *Suggestion) {
	if d.Additions == nil {
		d.Additions = make(map[string]Suggestion)
	}
	d.Additions[s.ID] = *s
}

func (d *Delta) remove(id string) {
	if _, ok := d.Additions[id]; ok {
		delete(d.Additions, id)
	}
	d.Removals = append(d.Removals, id)
}

// Merge folds o, which happened after d, into d.
func (d *Delta) Merge(o Delta) {
	for id, s := range o.Additions {
		s.ID = id
		d.put(&s)
	}
	for _, id := range o.Removals {
		d.remove(id)
	}
}

// identity is what makes two computed suggestions "the same".
type identity struct {
	kind   Kind
	target text.Range
}

func (s *Suggestion) identity() identity { return identity{s.Kind, s.Target} }

// dismissal additionally pins the content so an edit inside the target
// lifts it.
type dismissal struct {
	kind   Kind
	target text.Range
	hash   string
}

func hashContent(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}
