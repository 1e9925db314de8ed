package suggestions

import (
	"sort"
	"strings"

	"codeoverlay/internal/errors"
	"codeoverlay/internal/syntax"
	"codeoverlay/internal/text"
)

// Pipeline holds the published suggestions of one document. It is not safe
// for concurrent use; the owning document serializes access.
type Pipeline struct {
	current   map[string]*Suggestion
	dismissed map[dismissal]struct{}
}

// NewPipeline returns an empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{
		current:   make(map[string]*Suggestion),
		dismissed: make(map[dismissal]struct{}),
	}
}

// Suggestions returns the published suggestions ordered by target.
func (p *Pipeline) Suggestions() []Suggestion {
	out := make([]Suggestion, 0, len(p.current))
	for _, s := range p.current {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Target.Start != out[j].Target.Start {
			return out[i].Target.Start < out[j].Target.Start
		}
		if out[i].Target.Length != out[j].Target.Length {
			return out[i].Target.Length < out[j].Target.Length
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// Get returns the suggestion with the given id.
func (p *Pipeline) Get(id string) (Suggestion, bool) {
	s, ok := p.current[id]
	if !ok {
		return Suggestion{}, false
	}
	return *s, true
}

// Dismissed returns the number of remembered dismissals.
func (p *Pipeline) Dismissed() int { return len(p.dismissed) }

// Translate moves published targets and dismissals through e so they stay
// valid until the next recomputation. Targets the edit overlaps become
// stale and can no longer be applied; dismissals it overlaps are forgotten.
// Moved suggestions are re-sent as additions.
func (p *Pipeline) Translate(e text.Edit) Delta {
	var d Delta
	delta := e.Delta()
	for _, s := range p.current {
		switch moved, ok := translate(s.Target, e, delta); {
		case !ok:
			s.stale = true
		case moved != s.Target:
			s.Target = moved
			d.put(s)
		}
	}
	if len(p.dismissed) > 0 {
		next := make(map[dismissal]struct{}, len(p.dismissed))
		for k := range p.dismissed {
			if moved, ok := translate(k.target, e, delta); ok {
				k.target = moved
				next[k] = struct{}{}
			}
		}
		p.dismissed = next
	}
	return d
}

// translate maps r through e; ok is false when the edit reaches into r.
func translate(r text.Range, e text.Edit, delta int) (text.Range, bool) {
	switch {
	case e.Range.End() <= r.Start:
		return r.Shift(delta), true
	case e.Range.Start >= r.End():
		return r, true
	default:
		return r, false
	}
}

// Publish replaces the published set with candidates. A candidate with the
// same kind and target as a published suggestion keeps that suggestion's id
// and state; candidates matching a dismissal are suppressed. The delta
// reports new and changed suggestions as additions and vanished ones as
// removals.
func (p *Pipeline) Publish(candidates []Suggestion) Delta {
	var d Delta
	byIdentity := make(map[identity]*Suggestion, len(p.current))
	for _, s := range p.current {
		byIdentity[s.identity()] = s
	}

	next := make(map[string]*Suggestion, len(candidates))
	for i := range candidates {
		c := candidates[i]
		if _, ok := p.dismissed[dismissal{c.Kind, c.Target, c.ContentHash}]; ok {
			continue
		}
		if old, ok := byIdentity[c.identity()]; ok {
			delete(byIdentity, c.identity())
			changed := old.ContentHash != c.ContentHash || old.Operation != c.Operation ||
				old.Failed != c.Failed || old.Reason != c.Reason
			old.ContentHash, old.Operation = c.ContentHash, c.Operation
			old.Failed, old.Reason = c.Failed, c.Reason
			old.stale = false
			next[old.ID] = old
			if changed {
				d.put(old)
			}
			continue
		}
		if _, taken := next[c.ID]; taken || c.ID == "" {
			continue
		}
		c.State = StateProposed
		c.stale = false
		next[c.ID] = &c
		d.put(&c)
	}
	for _, old := range byIdentity {
		d.remove(old.ID)
	}
	sort.Strings(d.Removals)
	p.current = next
	return d
}

// Select marks id selected and returns any previously selected suggestion
// to proposed.
func (p *Pipeline) Select(id string) (Delta, error) {
	s, ok := p.current[id]
	if !ok {
		return Delta{}, errors.Newf(errors.UnknownSuggestion, "unknown suggestion %q", id)
	}
	var d Delta
	for _, other := range p.current {
		if other != s && other.State == StateSelected {
			other.State = StateProposed
			d.put(other)
		}
	}
	if s.State != StateSelected {
		s.State = StateSelected
		d.put(s)
	}
	return d, nil
}

// Dismiss removes id and keeps it from being proposed again until its
// target text changes.
func (p *Pipeline) Dismiss(id string) (Delta, error) {
	s, ok := p.current[id]
	if !ok {
		return Delta{}, errors.Newf(errors.UnknownSuggestion, "unknown suggestion %q", id)
	}
	s.State = StateDismissed
	p.dismissed[dismissal{s.Kind, s.Target, s.ContentHash}] = struct{}{}
	delete(p.current, id)
	var d Delta
	d.remove(id)
	return d, nil
}

// Apply builds the text edit that performs the selected suggestion id on
// tree. The suggestion is consumed: it is marked applied and removed. The
// caller feeds the edit back through the normal edit path.
func (p *Pipeline) Apply(id string, tree *syntax.Tree) (text.Edit, Delta, error) {
	s, ok := p.current[id]
	if !ok {
		return text.Edit{}, Delta{}, errors.Newf(errors.UnknownSuggestion, "unknown suggestion %q", id)
	}
	if s.State != StateSelected {
		return text.Edit{}, Delta{}, errors.Newf(errors.SuggestionNotSelected, "suggestion %q is %s", id, s.State)
	}
	if s.Failed {
		return text.Edit{}, Delta{}, errors.Newf(errors.QueryFailed, "suggestion %q could not be checked: %s", id, s.Reason)
	}
	if s.stale {
		return text.Edit{}, Delta{}, errors.Newf(errors.StaleSuggestion, "suggestion %q target was edited", id)
	}
	body, err := tree.Text(s.Target)
	if err != nil || hashContent(body) != s.ContentHash {
		return text.Edit{}, Delta{}, errors.Newf(errors.StaleSuggestion, "suggestion %q target changed", id)
	}
	e, err := extraction(tree, s, body)
	if err != nil {
		return text.Edit{}, Delta{}, err
	}

	s.State = StateApplied
	delete(p.current, id)
	var d Delta
	d.remove(id)
	return e, d, nil
}

// Clear drops every suggestion and dismissal, returning removals for the
// published ones.
func (p *Pipeline) Clear() Delta {
	var d Delta
	for id := range p.current {
		d.remove(id)
	}
	sort.Strings(d.Removals)
	p.current = make(map[string]*Suggestion)
	p.dismissed = make(map[dismissal]struct{})
	return d
}

// extraction replaces the target with a call and appends the extracted
// function after the enclosing declaration, indented like it. The body
// keeps its relative indentation.
func extraction(tree *syntax.Tree, s *Suggestion, body string) (text.Edit, error) {
	covering := tree.Smallest(s.Target)
	if covering < 0 {
		return text.Edit{}, errors.Newf(errors.StaleSuggestion, "suggestion %q target is not in the tree", s.ID)
	}
	anchor := tree.Ancestor(covering, syntax.IsDeclaration)
	if anchor < 0 {
		anchor = tree.Ancestor(covering, syntax.IsFunction)
	}
	if anchor < 0 {
		return text.Edit{}, errors.Newf(errors.StaleSuggestion, "suggestion %q is not inside a function", s.ID)
	}
	anchorRange := tree.Node(anchor).Range
	between, err := tree.Text(text.Range{Start: s.Target.End(), Length: anchorRange.End() - s.Target.End()})
	if err != nil {
		return text.Edit{}, err
	}
	indent := leadingSpace(tree, anchorRange.Start)

	var b strings.Builder
	b.WriteString(s.Operation.NewName)
	b.WriteString("()")
	b.WriteString(between)
	b.WriteString("\n\n")
	b.WriteString(indent)
	b.WriteString("private func ")
	b.WriteString(s.Operation.NewName)
	b.WriteString("() {\n")
	inner := leadingSpace(tree, s.Target.Start)
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimPrefix(line, inner)
		if strings.TrimSpace(line) != "" {
			b.WriteString(indent)
			b.WriteString("    ")
			b.WriteString(line)
		}
		b.WriteString("\n")
	}
	b.WriteString(indent)
	b.WriteString("}")

	return text.Edit{
		Range:    text.Range{Start: s.Target.Start, Length: anchorRange.End() - s.Target.Start},
		Inserted: b.String(),
	}, nil
}

// leadingSpace returns the whitespace that starts the line holding offset.
func leadingSpace(tree *syntax.Tree, offset int) string {
	start := tree.LineStart(offset)
	line, err := tree.Text(text.Range{Start: start, Length: offset - start})
	if err != nil {
		return ""
	}
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}
