// Package workspace routes protocol events to the document of each editor
// window.
package workspace

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"codeoverlay/internal/analysis"
	"codeoverlay/internal/config"
	"codeoverlay/internal/debounce"
	"codeoverlay/internal/document"
	"codeoverlay/internal/errors"
	"codeoverlay/internal/jobs"
	"codeoverlay/internal/metrics"
	"codeoverlay/internal/protocol"
)

// Options wires a Workspace. Config, Analyzer and Runner are required.
type Options struct {
	Config      *config.Config
	Analyzer    analysis.Analyzer
	Feasibility analysis.FeasibilityChecker
	Runner      *jobs.Runner
	Sink        protocol.Sink
	Clock       debounce.Clock
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	NewID       func() string
}

// Workspace is the registry of open documents. Each document has its own
// lock; the registry lock only guards the map.
type Workspace struct {
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	docs      map[string]*document.Document
	destroyed map[string]bool
	enabled   bool
}

// New creates an empty workspace with features enabled.
func New(opts Options) *Workspace {
	if opts.Sink == nil {
		opts.Sink = protocol.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Workspace{
		opts:      opts,
		logger:    opts.Logger,
		docs:      make(map[string]*document.Document),
		destroyed: make(map[string]bool),
		enabled:   true,
	}
}

// HandleLine decodes and handles one raw inbound message. Failures that
// are not benign races are reported to the sink as error messages.
func (w *Workspace) HandleLine(ctx context.Context, line []byte) {
	msg, err := protocol.Decode(line)
	if err != nil {
		w.report("", err)
		return
	}
	if err := w.Handle(ctx, msg); err != nil {
		w.report(msg.Window(), err)
	}
}

func (w *Workspace) report(window string, err error) {
	code := errors.CodeOf(err)
	if errors.Expected(code) {
		w.logger.Debug("ignored message for stale state", "window", window, "error", err)
		return
	}
	w.logger.Warn("message failed", "window", window, "code", code, "error", err)
	w.opts.Metrics.Message("out", string(protocol.TypeError))
	if serr := w.opts.Sink.Send(protocol.NewError(window, err)); serr != nil {
		w.logger.Warn("failed to send error", "error", serr)
	}
}

// Handle applies one event. It returns when the event's state transition
// is done; analysis continues in the background.
func (w *Workspace) Handle(ctx context.Context, msg protocol.Inbound) error {
	w.opts.Metrics.Message("in", string(msg.MessageType()))

	switch m := msg.(type) {
	case protocol.WindowCreated:
		return w.create(ctx, m)
	case protocol.WindowDestroyed:
		return w.destroy(m.WindowID)
	case protocol.FeaturesToggled:
		return w.SetEnabled(ctx, m.Enabled)
	}

	doc, err := w.lookup(msg.Window())
	if err != nil {
		return err
	}
	switch m := msg.(type) {
	case protocol.TextChanged:
		return doc.OnTextChanged(ctx, m.Text, m.Edit)
	case protocol.SelectionChanged:
		return doc.SelectionChanged(m.Offset, m.Length)
	case protocol.SuggestionCommand:
		return doc.Command(ctx, m)
	case protocol.EditorScrolled:
		return doc.Scrolled()
	default:
		return errors.Newf(errors.UnknownMessage, "unhandled message type %q", msg.MessageType())
	}
}

func (w *Workspace) create(ctx context.Context, m protocol.WindowCreated) error {
	w.mu.Lock()
	old := w.docs[m.WindowID]
	enabled := w.enabled
	w.mu.Unlock()
	if old != nil {
		w.logger.Info("window recreated, replacing document", "window", m.WindowID)
		old.Close()
		w.opts.Metrics.DocumentClosed()
	}

	doc, err := document.Open(ctx, w.documentOptions(m), m.Text)
	if !enabled {
		_ = doc.SetEnabled(false)
	}

	w.mu.Lock()
	w.docs[m.WindowID] = doc
	delete(w.destroyed, m.WindowID)
	w.mu.Unlock()
	w.opts.Metrics.DocumentOpened()
	return err
}

func (w *Workspace) destroy(id string) error {
	w.mu.Lock()
	doc, ok := w.docs[id]
	if ok {
		delete(w.docs, id)
		w.destroyed[id] = true
	}
	w.mu.Unlock()
	if !ok {
		return w.missing(id)
	}
	doc.Close()
	w.opts.Metrics.DocumentClosed()
	return nil
}

func (w *Workspace) lookup(id string) (*document.Document, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if doc, ok := w.docs[id]; ok {
		return doc, nil
	}
	return nil, w.missingLocked(id)
}

func (w *Workspace) missing(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.missingLocked(id)
}

func (w *Workspace) missingLocked(id string) error {
	if w.destroyed[id] {
		return errors.Newf(errors.DocumentClosed, "window %s was destroyed", id)
	}
	return errors.Newf(errors.UnknownDocument, "unknown window %s", id)
}

// Document returns the document of a window.
func (w *Workspace) Document(id string) (*document.Document, error) {
	return w.lookup(id)
}

// Windows returns the ids of all open windows, sorted.
func (w *Workspace) Windows() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.docs))
	for id := range w.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetEnabled toggles features for every document, and for documents
// opened later.
func (w *Workspace) SetEnabled(ctx context.Context, enabled bool) error {
	w.mu.Lock()
	w.enabled = enabled
	docs := w.snapshotLocked()
	w.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, doc := range docs {
		g.Go(func() error {
			err := doc.SetEnabled(enabled)
			if errors.HasCode(err, errors.DocumentClosed) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// CloseAll closes every document in parallel.
func (w *Workspace) CloseAll(ctx context.Context) error {
	w.mu.Lock()
	docs := w.snapshotLocked()
	for id := range w.docs {
		w.destroyed[id] = true
	}
	w.docs = make(map[string]*document.Document)
	w.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, doc := range docs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			doc.Close()
			w.opts.Metrics.DocumentClosed()
			return nil
		})
	}
	return g.Wait()
}

func (w *Workspace) snapshotLocked() []*document.Document {
	out := make([]*document.Document, 0, len(w.docs))
	for _, doc := range w.docs {
		out = append(out, doc)
	}
	return out
}

func (w *Workspace) documentOptions(m protocol.WindowCreated) document.Options {
	cfg := w.opts.Config
	return document.Options{
		WindowID:         m.WindowID,
		FilePath:         m.FilePath,
		PID:              m.PID,
		MaxDocumentBytes: cfg.Document.MaxDocumentBytes,
		AmbiguityRatio:   cfg.Document.AmbiguityRatio,
		GroupSize:        cfg.Annotations.GroupSize,
		Suggestions: document.SuggestionOptions{
			Enabled:           cfg.Suggestions.Enabled,
			Debounce:          time.Duration(cfg.Suggestions.DebounceMs) * time.Millisecond,
			MinStatements:     cfg.Suggestions.MinStatements,
			MaxBodyStatements: cfg.Suggestions.MaxBodyStatements,
		},
		Overlay: document.OverlayOptions{
			HideOnScroll:   cfg.Overlay.HideOnScroll,
			ScrollDebounce: time.Duration(cfg.Overlay.ScrollDebounceMs) * time.Millisecond,
		},
		Analyzer:    w.opts.Analyzer,
		Feasibility: w.opts.Feasibility,
		Runner:      w.opts.Runner,
		Sink:        w.opts.Sink,
		Clock:       w.opts.Clock,
		Metrics:     w.opts.Metrics,
		Logger:      w.logger,
		NewID:       w.opts.NewID,
	}
}
