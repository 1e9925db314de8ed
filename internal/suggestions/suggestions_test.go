package suggestions

import (
	"fmt"
	"strings"
	"testing"

	"codeoverlay/internal/errors"
	"codeoverlay/internal/syntax"
	"codeoverlay/internal/text"
)

func rng(start, end int) text.Range { return text.Range{Start: start, Length: end - start} }

const loadSrc = "func load() {\n    if ok {\n        a()\n        b()\n        c()\n    }\n}\n"

// blockTree builds loadSrc with the three calls nested in a node of the
// given kind (an if statement or a closure).
func blockTree(gen uint64, container string) *syntax.Tree {
	return syntax.NewTree(gen, loadSrc, []syntax.Node{
		{Kind: syntax.KindSourceFile, Range: rng(0, 70), Parent: -1},
		{Kind: syntax.KindFunction, Range: rng(0, 69), Parent: 0},
		{Kind: syntax.KindIdentifier, Range: rng(5, 9), Parent: 1},
		{Kind: syntax.KindFunctionBody, Range: rng(12, 69), Parent: 1},
		{Kind: syntax.KindStatements, Range: rng(18, 67), Parent: 3},
		{Kind: container, Range: rng(18, 67), Parent: 4},
		{Kind: syntax.KindStatements, Range: rng(34, 61), Parent: 5},
		{Kind: "call_expression", Range: rng(34, 37), Parent: 6},
		{Kind: "call_expression", Range: rng(46, 49), Parent: 6},
		{Kind: "call_expression", Range: rng(58, 61), Parent: 6},
	})
}

// flatTree builds a function named name whose body holds n call statements.
func flatTree(name string, n int) *syntax.Tree {
	var b strings.Builder
	fmt.Fprintf(&b, "func %s() {\n", name)
	header := b.Len()
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "    s%d()\n", i)
	}
	b.WriteString("}\n")
	src := b.String()

	nodes := []syntax.Node{
		{Kind: syntax.KindSourceFile, Range: rng(0, len(src)), Parent: -1},
		{Kind: syntax.KindFunction, Range: rng(0, len(src)-1), Parent: 0},
		{Kind: syntax.KindIdentifier, Range: rng(5, 5+len(name)), Parent: 1},
		{Kind: syntax.KindFunctionBody, Range: rng(header-2, len(src)-1), Parent: 1},
		{Kind: syntax.KindStatements, Range: rng(header+4, header+9*(n-1)+8), Parent: 3},
	}
	for i := 0; i < n; i++ {
		start := header + 9*i + 4
		nodes = append(nodes, syntax.Node{Kind: "call_expression", Range: rng(start, start+4), Parent: 4})
	}
	return syntax.NewTree(1, src, nodes)
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("s-%d", n)
	}
}

func compute(tree *syntax.Tree) []Suggestion {
	return Compute(tree, Options{MinStatements: 3, MaxBodyStatements: 8, NewID: sequentialIDs()})
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name       string
		tree       *syntax.Tree
		opts       Options
		wantKind   Kind
		wantTarget text.Range
		wantName   string
		wantCount  int
	}{
		{
			name:       "nested block",
			tree:       blockTree(1, "if_statement"),
			wantKind:   KindExtractMethod,
			wantTarget: rng(34, 61),
			wantName:   "extractedLoad",
			wantCount:  3,
		},
		{
			name:       "closure body",
			tree:       blockTree(1, syntax.KindLambda),
			wantKind:   KindExtractClosure,
			wantTarget: rng(34, 61),
			wantName:   "extractedLoad",
			wantCount:  3,
		},
		{
			name:       "long function body leaves the last statement",
			tree:       flatTree("big", 9),
			wantKind:   KindExtractMethod,
			wantTarget: rng(17, 17+9*7+4),
			wantName:   "extractedBig",
			wantCount:  8,
		},
		{
			name: "short function body",
			tree: flatTree("big", 8),
		},
		{
			name: "below the minimum",
			tree: blockTree(1, "if_statement"),
			opts: Options{MinStatements: 4},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			if opts.MinStatements == 0 {
				opts = Options{MinStatements: 3, MaxBodyStatements: 8}
			}
			opts.NewID = sequentialIDs()
			got := Compute(tt.tree, opts)
			if tt.wantCount == 0 {
				if len(got) != 0 {
					t.Fatalf("Compute() = %+v, want none", got)
				}
				return
			}
			if len(got) != 1 {
				t.Fatalf("Compute() returned %d suggestions, want 1", len(got))
			}
			s := got[0]
			if s.Kind != tt.wantKind || s.Target != tt.wantTarget {
				t.Errorf("got %s %v, want %s %v", s.Kind, s.Target, tt.wantKind, tt.wantTarget)
			}
			if s.Operation.NewName != tt.wantName || s.Operation.Statements != tt.wantCount {
				t.Errorf("operation = %+v", s.Operation)
			}
			if s.State != StateProposed || s.ID != "s-1" || s.ContentHash == "" {
				t.Errorf("suggestion = %+v", s)
			}
		})
	}
}

func TestCompute_TopLevelStatementsIgnored(t *testing.T) {
	src := "a()\nb()\nc()\n"
	tree := syntax.NewTree(1, src, []syntax.Node{
		{Kind: syntax.KindSourceFile, Range: rng(0, 12), Parent: -1},
		{Kind: syntax.KindStatements, Range: rng(0, 11), Parent: 0},
		{Kind: "call_expression", Range: rng(0, 3), Parent: 1},
		{Kind: "call_expression", Range: rng(4, 7), Parent: 1},
		{Kind: "call_expression", Range: rng(8, 11), Parent: 1},
	})
	if got := compute(tree); len(got) != 0 {
		t.Fatalf("Compute() = %+v, want none", got)
	}
}

func TestPipeline_PublishKeepsIdentity(t *testing.T) {
	p := NewPipeline()
	tree := blockTree(1, "if_statement")

	d := p.Publish(compute(tree))
	if len(d.Additions) != 1 || len(d.Removals) != 0 {
		t.Fatalf("first publish delta = %+v", d)
	}
	first := p.Suggestions()[0]
	if _, err := p.Select(first.ID); err != nil {
		t.Fatal(err)
	}

	// A recomputation mints fresh ids; the published one must survive.
	fresh := Compute(tree, Options{NewID: func() string { return "other" }})
	if d := p.Publish(fresh); !d.Empty() {
		t.Fatalf("republish delta = %+v, want empty", d)
	}
	got := p.Suggestions()
	if len(got) != 1 || got[0].ID != first.ID || got[0].State != StateSelected {
		t.Fatalf("after republish = %+v", got)
	}

	if d := p.Publish(nil); len(d.Removals) != 1 || d.Removals[0] != first.ID {
		t.Fatalf("empty publish delta = %+v", d)
	}
}

func TestPipeline_SelectIsExclusive(t *testing.T) {
	p := NewPipeline()
	p.Publish([]Suggestion{
		{ID: "a", Kind: KindExtractMethod, Target: rng(0, 5), ContentHash: "x"},
		{ID: "b", Kind: KindExtractMethod, Target: rng(10, 15), ContentHash: "y"},
	})
	if _, err := p.Select("a"); err != nil {
		t.Fatal(err)
	}
	d, err := p.Select("b")
	if err != nil {
		t.Fatal(err)
	}
	if d.Additions["a"].State != StateProposed || d.Additions["b"].State != StateSelected {
		t.Fatalf("select delta = %+v", d)
	}

	_, err = p.Select("missing")
	if !errors.HasCode(err, errors.UnknownSuggestion) {
		t.Fatalf("Select(missing) error = %v", err)
	}
}

func TestPipeline_Dismiss(t *testing.T) {
	p := NewPipeline()
	tree := blockTree(1, "if_statement")
	p.Publish(compute(tree))
	id := p.Suggestions()[0].ID

	d, err := p.Dismiss(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Removals) != 1 || d.Removals[0] != id {
		t.Fatalf("dismiss delta = %+v", d)
	}
	if d := p.Publish(compute(tree)); !d.Empty() {
		t.Fatalf("dismissed suggestion came back: %+v", d)
	}

	d, err = p.Dismiss(id)
	if !errors.HasCode(err, errors.UnknownSuggestion) || !d.Empty() {
		t.Fatalf("second Dismiss = %+v, %v", d, err)
	}
}

func TestPipeline_EditInsideDismissedTargetLiftsDismissal(t *testing.T) {
	p := NewPipeline()
	p.Publish([]Suggestion{{ID: "a", Kind: KindExtractMethod, Target: rng(10, 20), ContentHash: "x"}})
	if _, err := p.Dismiss("a"); err != nil {
		t.Fatal(err)
	}

	// Insertion before the target shifts the dismissal.
	p.Translate(text.Edit{Range: rng(0, 0), Inserted: "ab"})
	if d := p.Publish([]Suggestion{{ID: "b", Kind: KindExtractMethod, Target: rng(12, 22), ContentHash: "x"}}); !d.Empty() {
		t.Fatalf("shifted dismissal not honoured: %+v", d)
	}

	p.Translate(text.Edit{Range: rng(15, 16), Inserted: "z"})
	if p.Dismissed() != 0 {
		t.Fatalf("Dismissed() = %d after editing inside the target", p.Dismissed())
	}
	d := p.Publish([]Suggestion{{ID: "c", Kind: KindExtractMethod, Target: rng(12, 22), ContentHash: "w"}})
	if _, ok := d.Additions["c"]; !ok {
		t.Fatalf("edited target not proposed again: %+v", d)
	}
}

func TestPipeline_Translate(t *testing.T) {
	p := NewPipeline()
	p.Publish([]Suggestion{
		{ID: "before", Kind: KindExtractMethod, Target: rng(0, 5), ContentHash: "x"},
		{ID: "inside", Kind: KindExtractMethod, Target: rng(10, 20), ContentHash: "y"},
		{ID: "after", Kind: KindExtractMethod, Target: rng(30, 40), ContentHash: "z"},
	})

	d := p.Translate(text.Edit{Range: rng(12, 14), Inserted: "long text"})
	if len(d.Additions) != 1 || d.Additions["after"].Target != rng(37, 47) {
		t.Fatalf("translate delta = %+v", d)
	}
	if s, _ := p.Get("before"); s.Target != rng(0, 5) {
		t.Errorf("before target = %v", s.Target)
	}
	if s, _ := p.Get("inside"); !s.stale {
		t.Errorf("inside not stale")
	}
}

func TestPipeline_Apply(t *testing.T) {
	tree := blockTree(1, "if_statement")
	p := NewPipeline()
	p.Publish(compute(tree))
	id := p.Suggestions()[0].ID

	if _, _, err := p.Apply(id, tree); !errors.HasCode(err, errors.SuggestionNotSelected) {
		t.Fatalf("Apply before select error = %v", err)
	}
	if _, err := p.Select(id); err != nil {
		t.Fatal(err)
	}
	e, d, err := p.Apply(id, tree)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Removals) != 1 || d.Removals[0] != id {
		t.Errorf("apply delta = %+v", d)
	}
	got, err := text.Apply(loadSrc, e)
	if err != nil {
		t.Fatal(err)
	}
	want := "func load() {\n    if ok {\n        extractedLoad()\n    }\n}\n\n" +
		"private func extractedLoad() {\n    a()\n    b()\n    c()\n}\n"
	if got != want {
		t.Errorf("applied text =\n%s\nwant\n%s", got, want)
	}
	if _, _, err := p.Apply(id, tree); !errors.HasCode(err, errors.UnknownSuggestion) {
		t.Errorf("second Apply error = %v", err)
	}
}

func TestPipeline_ApplyRejects(t *testing.T) {
	tree := blockTree(1, "if_statement")
	tests := []struct {
		name    string
		mutate  func(p *Pipeline, id string)
		publish func(s *Suggestion)
		want    errors.ErrorCode
	}{
		{
			name:    "content hash mismatch",
			publish: func(s *Suggestion) { s.ContentHash = "different" },
			want:    errors.StaleSuggestion,
		},
		{
			name:   "target edited",
			mutate: func(p *Pipeline, id string) { p.Translate(text.Edit{Range: rng(40, 41), Inserted: "x"}) },
			want:   errors.StaleSuggestion,
		},
		{
			name:    "feasibility query failed",
			publish: func(s *Suggestion) { s.Failed, s.Reason = true, "timeout" },
			want:    errors.QueryFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cands := compute(tree)
			if tt.publish != nil {
				tt.publish(&cands[0])
			}
			p := NewPipeline()
			p.Publish(cands)
			id := cands[0].ID
			if _, err := p.Select(id); err != nil {
				t.Fatal(err)
			}
			if tt.mutate != nil {
				tt.mutate(p, id)
			}
			if _, _, err := p.Apply(id, tree); !errors.HasCode(err, tt.want) {
				t.Fatalf("Apply() error = %v, want %s", err, tt.want)
			}
			if s, ok := p.Get(id); !ok || s.State != StateSelected {
				t.Errorf("rejected apply changed the suggestion: %+v", s)
			}
		})
	}
}

func TestPipeline_Clear(t *testing.T) {
	p := NewPipeline()
	p.Publish([]Suggestion{
		{ID: "b", Kind: KindExtractMethod, Target: rng(10, 15), ContentHash: "y"},
		{ID: "a", Kind: KindExtractMethod, Target: rng(0, 5), ContentHash: "x"},
	})
	d := p.Clear()
	if len(d.Removals) != 2 || d.Removals[0] != "a" || d.Removals[1] != "b" {
		t.Fatalf("Clear() = %+v", d)
	}
	if len(p.Suggestions()) != 0 {
		t.Fatal("suggestions left after Clear")
	}
}
