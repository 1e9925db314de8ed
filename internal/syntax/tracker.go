package syntax

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/swift"

	"codeoverlay/internal/errors"
	"codeoverlay/internal/text"
)

// DefaultMaxBytes is the largest document the tracker will parse.
const DefaultMaxBytes = 4 << 20

// TrackerOptions configures a Tracker.
type TrackerOptions struct {
	// MaxBytes caps the document size; larger documents are rejected with
	// DocumentTooLarge and the tracker stops accepting edits until Reset.
	MaxBytes int
	Logger   *slog.Logger
}

// Tracker owns the incremental parse of one document. It is not safe for
// concurrent use; the owning document serializes access.
type Tracker struct {
	parser   *sitter.Parser
	ts       *sitter.Tree
	tree     *Tree
	source   string
	maxBytes int
	disabled bool
	logger   *slog.Logger

	// ParseObserver, if set, receives the duration of every parse.
	ParseObserver func(full bool, d time.Duration)
}

// NewTracker creates a tracker with an empty document.
func NewTracker(opts TrackerOptions) *Tracker {
	parser := sitter.NewParser()
	parser.SetLanguage(swift.GetLanguage())
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Tracker{
		parser:   parser,
		maxBytes: opts.MaxBytes,
		logger:   opts.Logger,
		tree:     NewTree(0, "", nil),
	}
}

// Tree returns the current snapshot.
func (t *Tracker) Tree() *Tree { return t.tree }

// Source returns the current text.
func (t *Tracker) Source() string { return t.source }

// Generation returns the current tree generation.
func (t *Tracker) Generation() uint64 { return t.tree.Generation }

// Disabled reports whether the tracker gave up on the document.
func (t *Tracker) Disabled() bool { return t.disabled }

// Reset discards the incremental state and parses src from scratch. Every
// previous node is reported invalidated.
func (t *Tracker) Reset(ctx context.Context, src string) (*EditOutcome, error) {
	prev := t.tree
	if len(src) > t.maxBytes {
		t.disable()
		t.source = src
		return nil, errors.Newf(errors.DocumentTooLarge, "document is %d bytes, limit %d", len(src), t.maxBytes)
	}

	start := time.Now()
	ts, err := t.parser.ParseCtx(ctx, nil, []byte(src))
	if err != nil {
		return nil, errors.Wrap(errors.InternalError, "parse failed", err)
	}
	t.observe(true, time.Since(start))

	if t.ts != nil {
		t.ts.Close()
	}
	t.ts = ts
	t.disabled = false
	t.source = src
	t.tree = buildTree(ts, src, prev.Generation+1)

	e := text.Edit{
		Range:    text.Range{Start: 0, Length: prev.UTF16Len()},
		Inserted: src,
	}
	return ReplaceTree(prev, t.tree, e), nil
}

// ApplyEdit applies e to the tracked text, reparses incrementally, and
// reports what happened to every node of the previous tree.
func (t *Tracker) ApplyEdit(ctx context.Context, e text.Edit) (*EditOutcome, error) {
	if t.disabled {
		return nil, errors.New(errors.DocumentTooLarge, "parsing disabled for this document")
	}
	if e.Range.Length < 0 {
		return nil, errors.Newf(errors.InvalidRange, "negative edit length %d", e.Range.Length)
	}
	startByte, err := text.ByteOffset(t.source, e.Range.Start)
	if err != nil {
		return nil, err
	}
	oldEndByte, err := text.ByteOffset(t.source, e.Range.End())
	if err != nil {
		return nil, err
	}
	next := t.source[:startByte] + e.Inserted + t.source[oldEndByte:]
	newEndByte := startByte + len(e.Inserted)
	if len(next) > t.maxBytes {
		t.disable()
		t.source = next
		return nil, errors.Newf(errors.DocumentTooLarge, "document is %d bytes, limit %d", len(next), t.maxBytes)
	}
	if t.ts == nil {
		// Nothing to reuse: a previous parse failed or none happened yet.
		return t.Reset(ctx, next)
	}

	t.ts.Edit(sitter.EditInput{
		StartIndex:  uint32(startByte),
		OldEndIndex: uint32(oldEndByte),
		NewEndIndex: uint32(newEndByte),
		StartPoint:  pointAt(t.source, startByte),
		OldEndPoint: pointAt(t.source, oldEndByte),
		NewEndPoint: pointAt(next, newEndByte),
	})

	start := time.Now()
	ts, err := t.parser.ParseCtx(ctx, t.ts, []byte(next))
	if err != nil {
		// The old tree has been edited and no longer matches any text.
		t.ts.Close()
		t.ts = nil
		return nil, errors.Wrap(errors.InternalError, "incremental parse failed", err)
	}
	t.observe(false, time.Since(start))

	if ts != t.ts {
		t.ts.Close()
	}
	t.ts = ts

	prev := t.tree
	t.source = next
	t.tree = buildTree(ts, next, prev.Generation+1)

	outcome := CompareTrees(prev, t.tree, e)
	t.logger.Debug("incremental reparse",
		"edit", e.String(),
		"generation", outcome.Generation,
		"invalidated", outcome.Count(Invalidated),
		"shifted", outcome.Count(Shifted),
		"resized", outcome.Count(Resized),
		"recreated", len(outcome.Recreated),
	)
	return outcome, nil
}

// Close releases the parser and tree.
func (t *Tracker) Close() {
	if t.ts != nil {
		t.ts.Close()
		t.ts = nil
	}
	if t.parser != nil {
		t.parser.Close()
		t.parser = nil
	}
}

func (t *Tracker) disable() {
	if !t.disabled {
		t.logger.Warn("document exceeds parser limit, disabling features", "limit", t.maxBytes)
	}
	t.disabled = true
	if t.ts != nil {
		t.ts.Close()
		t.ts = nil
	}
	t.tree = NewTree(t.tree.Generation+1, "", nil)
}

func (t *Tracker) observe(full bool, d time.Duration) {
	if t.ParseObserver != nil {
		t.ParseObserver(full, d)
	}
}

// Parse builds a standalone tree for src, for callers that analyze
// snippets rather than track a document.
func Parse(ctx context.Context, src string) (*Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(swift.GetLanguage())

	ts, err := parser.ParseCtx(ctx, nil, []byte(src))
	if err != nil {
		return nil, fmt.Errorf("parse snippet: %w", err)
	}
	defer ts.Close()
	return buildTree(ts, src, 1), nil
}
