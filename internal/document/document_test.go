//go:build cgo

package document

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"codeoverlay/internal/analysis"
	"codeoverlay/internal/annotations"
	"codeoverlay/internal/debounce"
	"codeoverlay/internal/errors"
	"codeoverlay/internal/jobs"
	"codeoverlay/internal/protocol"
	"codeoverlay/internal/text"
)

const twoFuncs = "func a() {\n    x()\n}\n\nfunc b() {\n    if ok {\n        p()\n        q()\n        r()\n    }\n}\n"

// namingAnalyzer documents every snippet with its name and counts calls.
type namingAnalyzer struct {
	calls atomic.Int32
}

func (n *namingAnalyzer) Analyze(ctx context.Context, s analysis.Snippet) (analysis.Payload, error) {
	n.calls.Add(1)
	return analysis.Payload{Documentation: &analysis.Documentation{Summary: s.Name, Source: s.Code}}, nil
}

type harness struct {
	doc      *Document
	sink     *protocol.Recorder
	runner   *jobs.Runner
	clock    *debounce.ManualClock
	analyzer *namingAnalyzer
}

func open(t *testing.T, src string, mutate func(*Options)) (*harness, error) {
	t.Helper()
	runner := jobs.NewRunner(nil, jobs.DefaultRunnerConfig())
	runner.Start()
	t.Cleanup(func() { _ = runner.Stop(time.Second) })

	h := &harness{
		sink:     &protocol.Recorder{},
		runner:   runner,
		clock:    debounce.NewManualClock(time.Unix(0, 0)),
		analyzer: &namingAnalyzer{},
	}
	opts := Options{
		WindowID: "w1",
		FilePath: "/tmp/a.swift",
		Features: []analysis.Feature{analysis.FeatureDocumentation},
		Suggestions: SuggestionOptions{
			Enabled:           true,
			Debounce:          400 * time.Millisecond,
			MinStatements:     3,
			MaxBodyStatements: 8,
		},
		Overlay:     OverlayOptions{HideOnScroll: true, ScrollDebounce: 150 * time.Millisecond},
		Analyzer:    h.analyzer,
		Feasibility: analysis.TreeFeasibility{},
		Runner:      runner,
		Sink:        h.sink,
		Clock:       h.clock,
	}
	if mutate != nil {
		mutate(&opts)
	}
	doc, err := Open(context.Background(), opts, src)
	h.doc = doc
	t.Cleanup(doc.Close)
	return h, err
}

func (h *harness) idle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.runner.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}
}

// settle runs the debounced suggestion round and waits for it.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	h.idle(t)
	h.clock.Advance(time.Second)
	h.idle(t)
}

func (h *harness) snapshot(t *testing.T) Snapshot {
	t.Helper()
	s, err := h.doc.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func messagesOf[T protocol.Outbound](msgs []protocol.Outbound) []T {
	var out []T
	for _, m := range msgs {
		if v, ok := m.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func annotationsByName(snap Snapshot) map[string]annotations.Annotation {
	out := make(map[string]annotations.Annotation)
	for _, a := range snap.Annotations {
		if doc, ok := a.Payload.(*analysis.Documentation); ok {
			out[doc.Summary] = a
		}
	}
	return out
}

func TestOpen_SeedsAnnotations(t *testing.T) {
	h, err := open(t, twoFuncs, nil)
	if err != nil {
		t.Fatal(err)
	}
	h.idle(t)

	byName := annotationsByName(h.snapshot(t))
	if len(byName) != 2 {
		t.Fatalf("annotations = %+v, want one per function", byName)
	}
	for name, a := range byName {
		if a.State != annotations.StateActive {
			t.Errorf("%s state = %s", name, a.State)
		}
	}
	added := 0
	for _, m := range messagesOf[protocol.AnnotationDelta](h.sink.Messages()) {
		added += len(m.Additions)
	}
	if added != 2 {
		t.Errorf("additions sent = %d, want 2", added)
	}
}

func TestOnTextChanged_KeepsIdentities(t *testing.T) {
	h, err := open(t, twoFuncs, nil)
	if err != nil {
		t.Fatal(err)
	}
	h.idle(t)
	before := annotationsByName(h.snapshot(t))

	insert := "y()\n    "
	at := strings.Index(twoFuncs, "x()")
	next := twoFuncs[:at] + insert + twoFuncs[at:]
	if err := h.doc.OnTextChanged(context.Background(), next, nil); err != nil {
		t.Fatal(err)
	}
	h.idle(t)
	after := annotationsByName(h.snapshot(t))

	if after["a"].ID != before["a"].ID {
		t.Errorf("edited function lost its annotation id")
	}
	if got := after["a"].Anchor.Range.Length; got != before["a"].Anchor.Range.Length+len(insert) {
		t.Errorf("a length = %d", got)
	}
	if !strings.Contains(after["a"].Payload.(*analysis.Documentation).Source, "y()") {
		t.Errorf("a was not recomputed")
	}
	if after["b"].ID != before["b"].ID || after["b"].Anchor.Range.Start != before["b"].Anchor.Range.Start+len(insert) {
		t.Errorf("b = %+v, want shifted by %d from %+v", after["b"], len(insert), before["b"])
	}
	if got := h.analyzer.calls.Load(); got != 3 {
		t.Errorf("analyzer calls = %d, want 3 (b only shifted)", got)
	}
}

func TestOnTextChanged_ExplicitEdit(t *testing.T) {
	h, err := open(t, twoFuncs, nil)
	if err != nil {
		t.Fatal(err)
	}
	h.idle(t)

	e := text.Edit{Range: text.Range{Start: 0}, Inserted: "// top\n"}
	if err := h.doc.OnTextChanged(context.Background(), "// top\n"+twoFuncs, &e); err != nil {
		t.Fatal(err)
	}
	// A stale explicit edit is ignored in favour of detection.
	wrong := text.Edit{Range: text.Range{Start: 3}, Inserted: "zzz"}
	if err := h.doc.OnTextChanged(context.Background(), "// top\n\n"+twoFuncs, &wrong); err != nil {
		t.Fatal(err)
	}
	if got := h.doc.Text(); got != "// top\n\n"+twoFuncs {
		t.Errorf("text = %q", got)
	}
}

func TestOnTextChanged_AmbiguousReparses(t *testing.T) {
	h, err := open(t, twoFuncs, nil)
	if err != nil {
		t.Fatal(err)
	}
	h.idle(t)
	h.sink.Drain()

	if err := h.doc.OnTextChanged(context.Background(), "let z = 1", nil); err != nil {
		t.Fatal(err)
	}
	h.idle(t)
	removed := 0
	for _, m := range messagesOf[protocol.AnnotationDelta](h.sink.Messages()) {
		removed += len(m.Removals)
	}
	if removed != 2 {
		t.Errorf("removals = %d, want 2", removed)
	}
	if n := len(h.snapshot(t).Annotations); n != 0 {
		t.Errorf("annotations left = %d", n)
	}
}

func TestOnTextChanged_InvalidUTF8Reparses(t *testing.T) {
	h, err := open(t, twoFuncs, nil)
	if err != nil {
		t.Fatal(err)
	}
	h.idle(t)

	next := twoFuncs + "// \xff\n"
	if err := h.doc.OnTextChanged(context.Background(), next, nil); err != nil {
		t.Fatal(err)
	}
	h.idle(t)
	if got := h.doc.Text(); got != next {
		t.Errorf("text = %q, want %q", got, next)
	}
	if n := len(h.snapshot(t).Annotations); n != 2 {
		t.Errorf("annotations = %d, want 2", n)
	}
}

func TestSuggestions_SelectAndApply(t *testing.T) {
	h, err := open(t, twoFuncs, nil)
	if err != nil {
		t.Fatal(err)
	}
	h.settle(t)

	snap := h.snapshot(t)
	if len(snap.Suggestions) != 1 {
		t.Fatalf("suggestions = %+v, want 1", snap.Suggestions)
	}
	id := snap.Suggestions[0].ID
	ctx := context.Background()

	_ = h.doc.Command(ctx, protocol.SuggestionCommand{Action: protocol.ActionApply, WindowID: "w1", SuggestionID: id})
	_ = h.doc.Command(ctx, protocol.SuggestionCommand{Action: protocol.ActionSelect, WindowID: "w1", SuggestionID: id})
	_ = h.doc.Command(ctx, protocol.SuggestionCommand{Action: protocol.ActionApply, WindowID: "w1", SuggestionID: id})

	acks := messagesOf[protocol.SuggestionAck](h.sink.Messages())
	if len(acks) != 3 {
		t.Fatalf("acks = %+v", acks)
	}
	if acks[0].Code != errors.SuggestionNotSelected || acks[1].Outcome != protocol.OutcomeOK {
		t.Errorf("acks = %+v", acks[:2])
	}
	if acks[2].Outcome != protocol.OutcomeOK || acks[2].Edit == nil {
		t.Fatalf("apply ack = %+v", acks[2])
	}

	want := "func a() {\n    x()\n}\n\nfunc b() {\n    if ok {\n        extractedB()\n    }\n}\n\n" +
		"private func extractedB() {\n    p()\n    q()\n    r()\n}\n"
	if got := h.doc.Text(); got != want {
		t.Errorf("text after apply =\n%s\nwant\n%s", got, want)
	}
	h.settle(t)
	if n := len(h.snapshot(t).Suggestions); n != 0 {
		t.Errorf("suggestions after apply = %d", n)
	}
	if n := len(h.snapshot(t).Annotations); n != 3 {
		t.Errorf("annotations after apply = %d, want 3", n)
	}
}

func TestSuggestions_DismissUnknown(t *testing.T) {
	h, err := open(t, twoFuncs, nil)
	if err != nil {
		t.Fatal(err)
	}
	h.settle(t)
	h.sink.Drain()

	_ = h.doc.Command(context.Background(), protocol.SuggestionCommand{Action: protocol.ActionDismiss, WindowID: "w1", SuggestionID: "nope"})
	msgs := h.sink.Drain()
	if len(msgs) != 1 {
		t.Fatalf("messages = %+v, want only the ack", msgs)
	}
	if ack := msgs[0].(protocol.SuggestionAck); ack.Code != errors.UnknownSuggestion {
		t.Errorf("ack = %+v", ack)
	}
}

func TestSuggestions_DismissedStayDismissed(t *testing.T) {
	h, err := open(t, twoFuncs, nil)
	if err != nil {
		t.Fatal(err)
	}
	h.settle(t)
	id := h.snapshot(t).Suggestions[0].ID
	if err := h.doc.Dismiss(id); err != nil {
		t.Fatal(err)
	}

	// An edit elsewhere triggers a new round that must not bring it back.
	if err := h.doc.OnTextChanged(context.Background(), "// c\n"+twoFuncs, nil); err != nil {
		t.Fatal(err)
	}
	h.settle(t)
	if n := len(h.snapshot(t).Suggestions); n != 0 {
		t.Errorf("dismissed suggestion re-proposed")
	}
}

func TestSuggestions_Disabled(t *testing.T) {
	h, err := open(t, twoFuncs, func(o *Options) { o.Suggestions.Enabled = false })
	if err != nil {
		t.Fatal(err)
	}
	h.settle(t)
	if n := len(h.snapshot(t).Suggestions); n != 0 {
		t.Errorf("suggestions = %d with suggestions disabled", n)
	}
}

// blockingChecker holds every feasibility check until its context ends.
type blockingChecker struct {
	started chan context.Context
}

func (b *blockingChecker) CheckExtraction(ctx context.Context, c analysis.Candidate) (analysis.Feasibility, error) {
	select {
	case b.started <- ctx:
	default:
	}
	<-ctx.Done()
	return analysis.Feasibility{}, ctx.Err()
}

func TestSuggestions_NewerEditCancelsRound(t *testing.T) {
	checker := &blockingChecker{started: make(chan context.Context, 1)}
	h, err := open(t, twoFuncs, func(o *Options) { o.Feasibility = checker })
	if err != nil {
		t.Fatal(err)
	}
	h.idle(t)
	h.clock.Advance(time.Second)

	var round context.Context
	select {
	case round = <-checker.started:
	case <-time.After(5 * time.Second):
		t.Fatal("suggestion round never reached the feasibility check")
	}

	if err := h.doc.OnTextChanged(context.Background(), "// top\n"+twoFuncs, nil); err != nil {
		t.Fatal(err)
	}
	select {
	case <-round.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("newer edit did not cancel the running round")
	}
	h.idle(t)
	if n := len(h.snapshot(t).Suggestions); n != 0 {
		t.Errorf("suggestions from the cancelled round = %d, want 0", n)
	}
}

func TestDocumentTooLarge(t *testing.T) {
	h, err := open(t, twoFuncs, func(o *Options) { o.MaxDocumentBytes = 16 })
	if !errors.HasCode(err, errors.DocumentTooLarge) {
		t.Fatalf("Open() error = %v", err)
	}
	if !h.snapshot(t).Disabled {
		t.Fatal("document not disabled")
	}
	if err := h.doc.OnTextChanged(context.Background(), twoFuncs+"\n", nil); err != nil {
		t.Errorf("edit while too large error = %v, want silence", err)
	}

	if err := h.doc.OnTextChanged(context.Background(), "func a() {}", nil); err != nil {
		t.Fatal(err)
	}
	h.idle(t)
	snap := h.snapshot(t)
	if snap.Disabled || len(snap.Annotations) != 1 {
		t.Errorf("after shrinking: disabled=%v annotations=%d", snap.Disabled, len(snap.Annotations))
	}
}

func TestSetEnabled(t *testing.T) {
	h, err := open(t, twoFuncs, nil)
	if err != nil {
		t.Fatal(err)
	}
	h.settle(t)

	if err := h.doc.SetEnabled(false); err != nil {
		t.Fatal(err)
	}
	snap := h.snapshot(t)
	if len(snap.Annotations) != 0 || len(snap.Suggestions) != 0 {
		t.Fatalf("features left after disabling: %+v", snap)
	}

	if err := h.doc.SetEnabled(true); err != nil {
		t.Fatal(err)
	}
	h.settle(t)
	snap = h.snapshot(t)
	if len(snap.Annotations) != 2 || len(snap.Suggestions) != 1 {
		t.Errorf("after enabling: %d annotations, %d suggestions", len(snap.Annotations), len(snap.Suggestions))
	}
}

func TestScrollVisibility(t *testing.T) {
	h, err := open(t, twoFuncs, nil)
	if err != nil {
		t.Fatal(err)
	}
	h.sink.Drain()

	_ = h.doc.Scrolled()
	h.clock.Advance(100 * time.Millisecond)
	_ = h.doc.Scrolled()
	h.clock.Advance(100 * time.Millisecond)
	if h.snapshot(t).Visible {
		t.Fatal("overlay visible while scrolling")
	}
	h.clock.Advance(100 * time.Millisecond)

	vis := messagesOf[protocol.OverlayVisibility](h.sink.Messages())
	if len(vis) != 2 || vis[0].Visible || !vis[1].Visible {
		t.Errorf("visibility messages = %+v", vis)
	}
}

func TestSelectionChanged(t *testing.T) {
	h, err := open(t, "func a() {}", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.doc.SelectionChanged(5, 1); err != nil {
		t.Fatal(err)
	}
	if err := h.doc.SelectionChanged(10, 5); !errors.HasCode(err, errors.OutOfBounds) {
		t.Errorf("SelectionChanged() error = %v", err)
	}
}

func TestClose(t *testing.T) {
	h, err := open(t, twoFuncs, nil)
	if err != nil {
		t.Fatal(err)
	}
	h.idle(t)
	h.sink.Drain()

	h.doc.Close()
	h.doc.Close()
	removed := 0
	for _, m := range messagesOf[protocol.AnnotationDelta](h.sink.Messages()) {
		removed += len(m.Removals)
	}
	if removed != 2 {
		t.Errorf("removals on close = %d", removed)
	}
	if err := h.doc.OnTextChanged(context.Background(), "", nil); !errors.HasCode(err, errors.DocumentClosed) {
		t.Errorf("OnTextChanged() after Close error = %v", err)
	}
	if _, err := h.doc.Snapshot(); !errors.HasCode(err, errors.DocumentClosed) {
		t.Errorf("Snapshot() after Close error = %v", err)
	}
}
