package annotations

import (
	"fmt"
	"testing"

	"codeoverlay/internal/analysis"
	"codeoverlay/internal/complexity"
	"codeoverlay/internal/errors"
	"codeoverlay/internal/syntax"
	"codeoverlay/internal/text"
)

func rng(start, end int) text.Range { return text.Range{Start: start, Length: end - start} }

// fn describes one function declaration of a hand-built tree: the
// declaration span, its name and its body.
type fn struct {
	start, end int
	name       text.Range
	body       text.Range
}

func fnAt(start, end int) fn {
	return fn{start: start, end: end, name: rng(start+5, start+6), body: rng(end-2, end)}
}

func build(gen uint64, src string, fns ...fn) *syntax.Tree {
	nodes := []syntax.Node{{Kind: syntax.KindSourceFile, Range: rng(0, text.UTF16Len(src)), Parent: -1}}
	for _, f := range fns {
		parent := len(nodes)
		nodes = append(nodes,
			syntax.Node{Kind: syntax.KindFunction, Range: rng(f.start, f.end), Parent: 0},
			syntax.Node{Kind: syntax.KindIdentifier, Range: f.name, Parent: parent},
			syntax.Node{Kind: syntax.KindFunctionBody, Range: f.body, Parent: parent},
		)
	}
	return syntax.NewTree(gen, src, nodes)
}

func fnRef(start, end int) syntax.NodeRef {
	return syntax.NodeRef{Kind: syntax.KindFunction, Range: rng(start, end)}
}

func newTestManager(groupSize int) *Manager {
	n := 0
	return NewManager(Options{
		GroupSize: groupSize,
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		},
	})
}

func payloadFor(name string) analysis.Payload {
	return analysis.Payload{
		Documentation: &analysis.Documentation{Summary: name},
		Complexity:    &complexity.ComplexityResult{Name: name, Cyclomatic: 1},
	}
}

// completeAll completes every queued job with a payload per target.
func completeAll(t *testing.T, m *Manager) Delta {
	t.Helper()
	var d Delta
	for _, j := range m.TakeJobs() {
		refs, ok := m.Targets(j.ID)
		if !ok {
			continue
		}
		results := make([]JobResult, len(refs))
		for i, r := range refs {
			results[i] = JobResult{Payload: payloadFor(r.String())}
		}
		got, _ := m.Complete(j.ID, results)
		d.Merge(got)
	}
	return d
}

const twoFuncs = "func a() {}\nfunc b() {}"

func seeded(t *testing.T) (*Manager, *syntax.Tree) {
	t.Helper()
	m := newTestManager(8)
	tree := build(1, twoFuncs, fnAt(0, 11), fnAt(12, 23))
	m.Seed(tree)
	d := completeAll(t, m)
	if len(d.Additions) != 4 {
		t.Fatalf("seed additions = %d, want 4", len(d.Additions))
	}
	return m, tree
}

func TestManager_SeedGroupsAnchors(t *testing.T) {
	m := newTestManager(8)
	m.Seed(build(1, twoFuncs, fnAt(0, 11), fnAt(12, 23)))

	jobs := m.TakeJobs()
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	if jobs[0].Kind != JobGroup || jobs[0].Size() != 2 {
		t.Errorf("job = %s/%d, want group of 2", jobs[0].Kind, jobs[0].Size())
	}
	refs, _ := m.Targets(jobs[0].ID)
	if refs[0] != fnRef(0, 11) || refs[1] != fnRef(12, 23) {
		t.Errorf("targets = %v", refs)
	}
	if len(m.TakeJobs()) != 0 {
		t.Error("TakeJobs should drain the outbox")
	}
}

func TestManager_GroupSize(t *testing.T) {
	m := newTestManager(2)
	src := "func a() {}\nfunc b() {}\nfunc c() {}"
	m.Seed(build(1, src, fnAt(0, 11), fnAt(12, 23), fnAt(24, 35)))

	jobs := m.TakeJobs()
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs))
	}
	if jobs[0].Kind != JobGroup || jobs[1].Kind != JobSingle {
		t.Errorf("kinds = %s, %s", jobs[0].Kind, jobs[1].Kind)
	}
}

func TestManager_ShiftKeepsAnnotations(t *testing.T) {
	m, prev := seeded(t)
	before := m.Annotations()

	next := build(2, "func a() {}\n\nfunc b() {}", fnAt(0, 11), fnAt(13, 24))
	o := syntax.CompareTrees(prev, next, text.Edit{Range: rng(11, 11), Inserted: "\n"})
	d := m.Reconcile(o, next)

	if len(d.Additions) != 0 || len(d.Removals) != 0 {
		t.Errorf("shift should only update: %+v", d)
	}
	if len(d.Updates) != 2 {
		t.Fatalf("updates = %d, want 2", len(d.Updates))
	}
	for _, a := range d.Updates {
		if a.Anchor != fnRef(13, 24) || a.State != StateActive {
			t.Errorf("update = %+v", a)
		}
	}
	if len(m.TakeJobs()) != 0 {
		t.Error("a shift must not recompute")
	}

	after := m.Annotations()
	if len(after) != len(before) {
		t.Fatalf("annotations = %d, want %d", len(after), len(before))
	}
	for i := range after {
		if after[i].ID != before[i].ID {
			t.Errorf("annotation %d changed id", i)
		}
	}
}

func TestManager_ResizeGoesStaleThenActive(t *testing.T) {
	m, prev := seeded(t)

	next := build(2, "func a() {}\nfunc b() { }", fnAt(0, 11), fn{start: 12, end: 24, name: rng(17, 18), body: rng(21, 24)})
	o := syntax.CompareTrees(prev, next, text.Edit{Range: rng(22, 22), Inserted: " "})
	d := m.Reconcile(o, next)

	if len(d.Updates) != 2 || len(d.Removals) != 0 {
		t.Fatalf("delta = %+v", d)
	}
	for _, a := range d.Updates {
		if a.State != StateStale || a.Anchor != fnRef(12, 24) {
			t.Errorf("update = %+v", a)
		}
	}

	jobs := m.TakeJobs()
	if len(jobs) != 1 || jobs[0].Kind != JobSingle {
		t.Fatalf("jobs = %v", jobs)
	}
	if jobs[0].Generation != 2 {
		t.Errorf("generation = %d, want 2", jobs[0].Generation)
	}

	started := m.Start(jobs[0].ID)
	for _, a := range started.Updates {
		if a.State != StatePending {
			t.Errorf("started state = %s", a.State)
		}
	}
	if len(started.Updates) != 2 {
		t.Errorf("start updates = %d, want 2", len(started.Updates))
	}

	done, dropped := m.Complete(jobs[0].ID, []JobResult{{Payload: payloadFor("b2")}})
	if dropped != 0 {
		t.Errorf("dropped = %d", dropped)
	}
	if len(done.Updates) != 2 || len(done.Additions) != 0 {
		t.Fatalf("complete delta = %+v", done)
	}
	for _, a := range done.Updates {
		if a.State != StateActive {
			t.Errorf("completed state = %s", a.State)
		}
	}
}

func TestManager_InvalidatedAnchorMovesToRecreatedNode(t *testing.T) {
	m, prev := seeded(t)

	// Retyping the first character of "func" straddles the declaration start.
	next := build(2, twoFuncs, fnAt(0, 11), fnAt(12, 23))
	o := syntax.CompareTrees(prev, next, text.Edit{Range: rng(0, 1), Inserted: "f"})
	d := m.Reconcile(o, next)

	if len(d.Removals) != 2 {
		t.Fatalf("removals = %d, want 2 (%+v)", len(d.Removals), d)
	}
	jobs := m.TakeJobs()
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	refs, _ := m.Targets(jobs[0].ID)
	if refs[0] != fnRef(0, 11) {
		t.Errorf("recompute target = %v", refs[0])
	}

	add, _ := m.Complete(jobs[0].ID, []JobResult{{Payload: payloadFor("a")}})
	if len(add.Additions) != 2 {
		t.Errorf("re-added = %d, want 2", len(add.Additions))
	}
	for id := range add.Additions {
		for _, old := range d.Removals {
			if id == old {
				t.Errorf("removed id %s was reused", id)
			}
		}
	}
}

func TestManager_DeletedAnchorIsDropped(t *testing.T) {
	m, prev := seeded(t)

	next := build(2, "func b() {}", fnAt(0, 11))
	o := syntax.CompareTrees(prev, next, text.Edit{Range: rng(0, 12)})
	d := m.Reconcile(o, next)

	if len(d.Removals) != 2 {
		t.Errorf("removals = %d, want 2", len(d.Removals))
	}
	if len(d.Updates) != 2 {
		t.Errorf("updates = %d, want 2 (b shifted)", len(d.Updates))
	}
	if len(m.TakeJobs()) != 0 {
		t.Error("no recomputation expected")
	}
	anchors := m.Anchors()
	if len(anchors) != 1 || anchors[0] != fnRef(0, 11) {
		t.Errorf("anchors = %v", anchors)
	}
}

// Every annotation is kept, updated or removed exactly once.
func TestManager_ReconcileAccountsForEveryAnnotation(t *testing.T) {
	m, prev := seeded(t)
	before := m.Annotations()

	next := build(2, "func b() {}", fnAt(0, 11))
	d := m.Reconcile(syntax.CompareTrees(prev, next, text.Edit{Range: rng(0, 12)}), next)

	seen := map[string]int{}
	for id := range d.Updates {
		seen[id]++
	}
	for _, id := range d.Removals {
		seen[id]++
	}
	for _, a := range before {
		if seen[a.ID] != 1 {
			t.Errorf("annotation %s accounted %d times", a.ID, seen[a.ID])
		}
	}
}

func TestManager_RecreatedFunctionGetsAnchor(t *testing.T) {
	m, prev := seeded(t)

	src := "func c() {}\n" + twoFuncs
	next := build(2, src, fnAt(0, 11), fnAt(12, 23), fnAt(24, 35))
	o := syntax.CompareTrees(prev, next, text.Edit{Range: rng(0, 0), Inserted: "func c() {}\n"})
	d := m.Reconcile(o, next)

	if len(d.Removals) != 0 {
		t.Errorf("removals = %v", d.Removals)
	}
	if len(d.Updates) != 4 {
		t.Errorf("updates = %d, want 4 shifted", len(d.Updates))
	}
	jobs := m.TakeJobs()
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	refs, _ := m.Targets(jobs[0].ID)
	if len(refs) != 1 || refs[0] != fnRef(0, 11) {
		t.Errorf("targets = %v", refs)
	}
}

func TestManager_SupersededResultIsDropped(t *testing.T) {
	m, prev := seeded(t)

	mid := build(2, "func a() {}\nfunc b() { }", fnAt(0, 11), fn{start: 12, end: 24, name: rng(17, 18), body: rng(21, 24)})
	m.Reconcile(syntax.CompareTrees(prev, mid, text.Edit{Range: rng(22, 22), Inserted: " "}), mid)
	first := m.TakeJobs()[0]

	last := build(3, "func a() {}\nfunc b() {  }", fnAt(0, 11), fn{start: 12, end: 25, name: rng(17, 18), body: rng(21, 25)})
	m.Reconcile(syntax.CompareTrees(mid, last, text.Edit{Range: rng(22, 22), Inserted: " "}), last)
	second := m.TakeJobs()[0]

	if first.Context().Err() == nil {
		t.Error("superseded job should be cancelled")
	}
	if _, ok := m.Targets(first.ID); ok {
		t.Error("superseded job should be unknown")
	}

	d, dropped := m.Complete(first.ID, []JobResult{{Payload: payloadFor("old")}})
	if !d.Empty() || dropped != 1 {
		t.Errorf("stale completion installed: %+v dropped=%d", d, dropped)
	}

	d, _ = m.Complete(second.ID, []JobResult{{Payload: payloadFor("new")}})
	if len(d.Updates) != 2 {
		t.Fatalf("updates = %d", len(d.Updates))
	}
	for _, a := range d.Updates {
		if a.Anchor != fnRef(12, 25) {
			t.Errorf("anchor = %v", a.Anchor)
		}
	}
}

func TestManager_CompleteRemovesMissingKinds(t *testing.T) {
	m, prev := seeded(t)

	next := build(2, "func a() {}\nfunc b() { }", fnAt(0, 11), fn{start: 12, end: 24, name: rng(17, 18), body: rng(21, 24)})
	m.Reconcile(syntax.CompareTrees(prev, next, text.Edit{Range: rng(22, 22), Inserted: " "}), next)
	j := m.TakeJobs()[0]

	p := analysis.Payload{Complexity: &complexity.ComplexityResult{Cyclomatic: 2}}
	d, _ := m.Complete(j.ID, []JobResult{{Payload: p}})
	if len(d.Removals) != 1 || len(d.Updates) != 1 {
		t.Errorf("delta = %+v", d)
	}
}

func TestManager_Fail(t *testing.T) {
	m := newTestManager(8)
	m.Seed(build(1, "func a() {}", fnAt(0, 11)))
	j := m.TakeJobs()[0]

	d := m.Fail(j.ID, errors.New(errors.AnalysisFailed, "service down"))
	if len(d.Additions) != 2 {
		t.Fatalf("additions = %d, want 2", len(d.Additions))
	}
	for _, a := range d.Additions {
		if a.State != StateFailed || a.Payload != nil || a.Error == "" {
			t.Errorf("failed annotation = %+v", a)
		}
	}
	if m.PendingJobs() != 0 {
		t.Errorf("pending = %d", m.PendingJobs())
	}

	// A per-target error fails only that target.
	m2 := newTestManager(8)
	m2.Seed(build(1, twoFuncs, fnAt(0, 11), fnAt(12, 23)))
	j2 := m2.TakeJobs()[0]
	d2, _ := m2.Complete(j2.ID, []JobResult{
		{Payload: payloadFor("a")},
		{Err: fmt.Errorf("timeout")},
	})
	states := map[State]int{}
	for _, a := range d2.Additions {
		states[a.State]++
	}
	if states[StateActive] != 2 || states[StateFailed] != 2 {
		t.Errorf("states = %v", states)
	}
}

func TestManager_FullReparse(t *testing.T) {
	m, prev := seeded(t)

	next := build(2, "func z() {}", fnAt(0, 11))
	d := m.Reconcile(syntax.ReplaceTree(prev, next, text.Edit{Range: rng(0, 23), Inserted: next.Source}), next)

	if len(d.Removals) != 4 {
		t.Errorf("removals = %d, want 4", len(d.Removals))
	}
	jobs := m.TakeJobs()
	if len(jobs) != 1 || jobs[0].Size() != 1 {
		t.Errorf("jobs = %v", jobs)
	}
}

func TestManager_ResetCloseAndToggle(t *testing.T) {
	m, tree := seeded(t)

	d := m.SetEnabled(false, tree)
	if len(d.Removals) != 4 {
		t.Errorf("disable removals = %d, want 4", len(d.Removals))
	}
	if len(m.Annotations()) != 0 || m.PendingJobs() != 0 {
		t.Error("disable should clear state")
	}
	if d := m.Reconcile(syntax.ReplaceTree(tree, tree, text.Edit{}), tree); !d.Empty() {
		t.Error("disabled manager should ignore edits")
	}

	m.SetEnabled(true, tree)
	if m.PendingJobs() != 1 {
		t.Errorf("enable should seed one job, pending = %d", m.PendingJobs())
	}
	completeAll(t, m)
	if got := len(m.Annotations()); got != 4 {
		t.Fatalf("annotations after completion = %d, want 4", got)
	}

	m.Seed(tree)
	if len(m.TakeJobs()) != 0 {
		t.Error("seeding tracked anchors again must not enqueue")
	}

	d = m.Close()
	if len(d.Removals) != 4 {
		t.Errorf("close removals = %d, want 4", len(d.Removals))
	}
	if m.Enabled() {
		t.Error("closed manager should be disabled")
	}
}

func TestManager_EnqueueSupersedes(t *testing.T) {
	m := newTestManager(8)
	ref := fnRef(0, 11)
	m.Enqueue(ref)
	first := m.TakeJobs()[0]
	m.Enqueue(ref)
	second := m.TakeJobs()[0]

	if first.Context().Err() == nil {
		t.Error("first job should be cancelled")
	}
	if second.Context().Err() != nil {
		t.Error("second job should be live")
	}
	if m.PendingJobs() != 1 {
		t.Errorf("pending = %d, want 1", m.PendingJobs())
	}
}

func TestManager_PartialSupersedeKeepsGroupAlive(t *testing.T) {
	m := newTestManager(8)
	m.Seed(build(1, twoFuncs, fnAt(0, 11), fnAt(12, 23)))
	group := m.TakeJobs()[0]

	m.Enqueue(fnRef(12, 23))
	single := m.TakeJobs()[0]

	if group.Context().Err() != nil {
		t.Fatal("group still owns the first anchor")
	}
	refs, _ := m.Targets(group.ID)
	if refs[0] != fnRef(0, 11) || !refs[1].IsZero() {
		t.Errorf("group targets = %v", refs)
	}

	d, dropped := m.Complete(group.ID, []JobResult{{Payload: payloadFor("a")}, {Payload: payloadFor("b-old")}})
	if dropped != 1 || len(d.Additions) != 2 {
		t.Errorf("group completion: %d additions, %d dropped", len(d.Additions), dropped)
	}
	d, _ = m.Complete(single.ID, []JobResult{{Payload: payloadFor("b")}})
	if len(d.Additions) != 2 {
		t.Errorf("single completion additions = %d", len(d.Additions))
	}
}

// nested builds the tree for "func a() { func b() {} }" with the outer name
// widened by grow code units.
func nested(gen uint64, src string, grow int) *syntax.Tree {
	return syntax.NewTree(gen, src, []syntax.Node{
		{Kind: syntax.KindSourceFile, Range: rng(0, 24+grow), Parent: -1},
		{Kind: syntax.KindFunction, Range: rng(0, 24+grow), Parent: 0},
		{Kind: syntax.KindIdentifier, Range: rng(5, 6+grow), Parent: 1},
		{Kind: syntax.KindFunctionBody, Range: rng(9+grow, 24+grow), Parent: 1},
		{Kind: syntax.KindStatements, Range: rng(11+grow, 22+grow), Parent: 3},
		{Kind: syntax.KindFunction, Range: rng(11+grow, 22+grow), Parent: 4},
		{Kind: syntax.KindIdentifier, Range: rng(16+grow, 17+grow), Parent: 5},
		{Kind: syntax.KindFunctionBody, Range: rng(20+grow, 22+grow), Parent: 5},
	})
}

func TestManager_RenameOuterFunctionKeepsNestedAnnotations(t *testing.T) {
	m := newTestManager(8)
	prev := nested(1, "func a() { func b() {} }", 0)
	m.Seed(prev)
	completeAll(t, m)
	before := map[string]Annotation{}
	for _, a := range m.Annotations() {
		before[a.ID] = a
	}

	next := nested(2, "func ax() { func b() {} }", 1)
	d := m.Reconcile(syntax.CompareTrees(prev, next, text.Edit{Range: rng(5, 5), Inserted: "x"}), next)

	if len(d.Removals) != 0 || len(d.Additions) != 0 {
		t.Fatalf("no annotation may be removed or re-added: %+v", d)
	}
	if len(d.Updates) != 4 {
		t.Fatalf("updates = %d, want 4", len(d.Updates))
	}
	for id, a := range d.Updates {
		old, ok := before[id]
		if !ok {
			t.Fatalf("update for unknown id %s", id)
		}
		switch old.Anchor {
		case fnRef(11, 22):
			if a.Anchor != fnRef(12, 23) || a.State != StateActive {
				t.Errorf("inner annotation = %+v, want shifted and active", a)
			}
		case fnRef(0, 24):
			if a.Anchor != fnRef(0, 25) || a.State != StateStale {
				t.Errorf("outer annotation = %+v, want resized and stale", a)
			}
		}
	}
}
