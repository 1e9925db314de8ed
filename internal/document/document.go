// Package document implements the per-window aggregate that ties the text
// mirror, the syntax tracker, the annotation manager and the suggestion
// pipeline together behind one mutex.
//
// State transitions run under the lock. Analysis and feasibility calls run
// on the job runner without it; their results are installed after
// re-acquiring the lock, and only when nothing newer superseded them.
package document

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"codeoverlay/internal/analysis"
	"codeoverlay/internal/annotations"
	"codeoverlay/internal/debounce"
	"codeoverlay/internal/errors"
	"codeoverlay/internal/jobs"
	"codeoverlay/internal/metrics"
	"codeoverlay/internal/protocol"
	"codeoverlay/internal/suggestions"
	"codeoverlay/internal/syntax"
	"codeoverlay/internal/text"
)

// SuggestionOptions configures refactoring suggestions.
type SuggestionOptions struct {
	Enabled           bool
	Debounce          time.Duration
	MinStatements     int
	MaxBodyStatements int
}

// OverlayOptions configures overlay visibility while scrolling.
type OverlayOptions struct {
	HideOnScroll   bool
	ScrollDebounce time.Duration
}

// Options configures a Document. Runner and Analyzer are required.
type Options struct {
	WindowID string
	FilePath string
	PID      int

	MaxDocumentBytes int
	AmbiguityRatio   float64
	Features         []analysis.Feature
	GroupSize        int
	Suggestions      SuggestionOptions
	Overlay          OverlayOptions

	Analyzer    analysis.Analyzer
	Feasibility analysis.FeasibilityChecker // optional
	Runner      *jobs.Runner
	Sink        protocol.Sink
	Clock       debounce.Clock
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	NewID       func() string
}

// Document is the state of one editor window.
type Document struct {
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	tracker   *syntax.Tracker
	manager   *annotations.Manager
	pipeline  *suggestions.Pipeline
	detector  text.Detector
	suggest   *debounce.Debouncer
	scroll    *debounce.Debouncer
	ctx       context.Context
	cancel    context.CancelFunc
	closed    bool
	enabled   bool
	visible   bool
	selection text.Range

	// roundCancel stops the suggestion round submitted last, if any.
	roundCancel context.CancelFunc
}

// Open creates the document for a window and parses its initial text. A
// document too large to parse is still returned, with features disabled,
// alongside the DOCUMENT_TOO_LARGE error.
func Open(ctx context.Context, opts Options, initial string) (*Document, error) {
	if opts.Sink == nil {
		opts.Sink = protocol.Discard
	}
	if opts.Clock == nil {
		opts.Clock = debounce.SystemClock
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	logger := opts.Logger.With("window", opts.WindowID)

	tracker := syntax.NewTracker(syntax.TrackerOptions{MaxBytes: opts.MaxDocumentBytes, Logger: logger})
	tracker.ParseObserver = opts.Metrics.Parse

	docCtx, cancel := context.WithCancel(context.Background())
	d := &Document{
		opts:    opts,
		logger:  logger,
		tracker: tracker,
		manager: annotations.NewManager(annotations.Options{
			Features:  opts.Features,
			GroupSize: opts.GroupSize,
			NewID:     opts.NewID,
		}),
		pipeline: suggestions.NewPipeline(),
		detector: text.Detector{AmbiguityRatio: opts.AmbiguityRatio},
		suggest:  debounce.NewWithClock(opts.Suggestions.Debounce, opts.Clock),
		scroll:   debounce.NewWithClock(opts.Overlay.ScrollDebounce, opts.Clock),
		ctx:      docCtx,
		cancel:   cancel,
		enabled:  true,
		visible:  true,
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.tracker.Reset(ctx, initial); err != nil {
		return d, d.brokenLocked(err)
	}
	d.manager.Seed(d.tracker.Tree())
	d.dispatchLocked()
	d.scheduleSuggestionsLocked()
	logger.Info("document opened", "file", opts.FilePath, "pid", opts.PID, "length", text.UTF16Len(initial))
	return d, nil
}

// ID returns the window id.
func (d *Document) ID() string { return d.opts.WindowID }

// SetEnabled turns all features on or off. Disabling clears annotations and
// suggestions; enabling recomputes them from the current tree.
func (d *Document) SetEnabled(enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errClosed(d.opts.WindowID)
	}
	if enabled == d.enabled {
		return nil
	}
	d.enabled = enabled
	if !enabled {
		d.cancelSuggestionsLocked()
		d.emitAnnotationsLocked(d.manager.SetEnabled(false, nil))
		d.emitSuggestionsLocked(d.pipeline.Clear())
		return nil
	}
	if d.tracker.Disabled() {
		return nil
	}
	d.emitAnnotationsLocked(d.manager.SetEnabled(true, d.tracker.Tree()))
	d.dispatchLocked()
	d.scheduleSuggestionsLocked()
	return nil
}

// ResetFeatures clears every annotation and suggestion and recomputes them
// from the current tree, without reparsing.
func (d *Document) ResetFeatures() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errClosed(d.opts.WindowID)
	}
	d.cancelSuggestionsLocked()
	d.emitAnnotationsLocked(d.manager.Reset())
	d.emitSuggestionsLocked(d.pipeline.Clear())
	if d.enabled && !d.tracker.Disabled() {
		d.manager.Seed(d.tracker.Tree())
		d.dispatchLocked()
		d.scheduleSuggestionsLocked()
	}
	return nil
}

// Close cancels all pending work and releases the parser. Every later call
// fails with DOCUMENT_CLOSED; closing twice is a no-op.
func (d *Document) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.suggest.Stop()
	d.scroll.Stop()
	d.cancelRoundLocked()
	d.cancel()
	d.emitAnnotationsLocked(d.manager.Close())
	d.emitSuggestionsLocked(d.pipeline.Clear())
	d.tracker.Close()
	d.logger.Info("document closed")
}

// Snapshot is a read-only view of a document.
type Snapshot struct {
	WindowID    string                   `json:"windowId" yaml:"windowId"`
	FilePath    string                   `json:"filePath" yaml:"filePath"`
	Generation  uint64                   `json:"generation" yaml:"generation"`
	Length      int                      `json:"length" yaml:"length"`
	Disabled    bool                     `json:"disabled" yaml:"disabled"`
	Enabled     bool                     `json:"enabled" yaml:"enabled"`
	Visible     bool                     `json:"visible" yaml:"visible"`
	Selection   text.Range               `json:"selection" yaml:"selection"`
	PendingJobs int                      `json:"pendingJobs" yaml:"pendingJobs"`
	Annotations []annotations.Annotation `json:"annotations" yaml:"annotations"`
	Suggestions []suggestions.Suggestion `json:"suggestions" yaml:"suggestions"`
}

// Snapshot returns the current state.
func (d *Document) Snapshot() (Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return Snapshot{}, errClosed(d.opts.WindowID)
	}
	return Snapshot{
		WindowID:    d.opts.WindowID,
		FilePath:    d.opts.FilePath,
		Generation:  d.tracker.Generation(),
		Length:      text.UTF16Len(d.tracker.Source()),
		Disabled:    d.tracker.Disabled(),
		Enabled:     d.enabled,
		Visible:     d.visible,
		Selection:   d.selection,
		PendingJobs: d.manager.PendingJobs(),
		Annotations: d.manager.Annotations(),
		Suggestions: d.pipeline.Suggestions(),
	}, nil
}

// Text returns the mirrored document text.
func (d *Document) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tracker.Source()
}

// Flush runs any debounced suggestion recomputation now.
func (d *Document) Flush() {
	d.suggest.Flush()
}

func errClosed(window string) error {
	return errors.Newf(errors.DocumentClosed, "window %s is closed", window)
}

// brokenLocked drops every feature after the parser gave up on the text.
func (d *Document) brokenLocked(err error) error {
	d.cancelSuggestionsLocked()
	d.emitAnnotationsLocked(d.manager.Reset())
	d.emitSuggestionsLocked(d.pipeline.Clear())
	d.logger.Warn("document features disabled", "error", err)
	return err
}

func (d *Document) emitAnnotationsLocked(delta annotations.Delta) {
	if delta.Empty() {
		return
	}
	d.opts.Metrics.AnnotationDelta(len(delta.Additions), len(delta.Updates), len(delta.Removals))
	d.send(protocol.AnnotationDelta{WindowID: d.opts.WindowID, Delta: delta})
}

func (d *Document) emitSuggestionsLocked(delta suggestions.Delta) {
	if delta.Empty() {
		return
	}
	d.send(protocol.SuggestionDelta{WindowID: d.opts.WindowID, Delta: delta})
}

func (d *Document) send(m protocol.Outbound) {
	d.opts.Metrics.Message("out", string(m.MessageType()))
	if err := d.opts.Sink.Send(m); err != nil {
		d.logger.Warn("failed to send message", "type", m.MessageType(), "error", err)
	}
}
