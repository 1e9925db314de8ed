package document

import (
	"context"
	stderrors "errors"

	"codeoverlay/internal/errors"
	"codeoverlay/internal/metrics"
	"codeoverlay/internal/syntax"
	"codeoverlay/internal/text"
)

// OnTextChanged brings the document to next. When the observer supplied
// the edit it is used as is, provided it really turns the mirrored text
// into next; otherwise the edit is detected from the two snapshots, and an
// ambiguous change falls back to a full reparse.
func (d *Document) OnTextChanged(ctx context.Context, next string, edit *text.Edit) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errClosed(d.opts.WindowID)
	}
	return d.changeLocked(ctx, next, edit)
}

func (d *Document) changeLocked(ctx context.Context, next string, edit *text.Edit) error {
	prev := d.tracker.Source()

	if edit != nil {
		if got, err := text.Apply(prev, *edit); err != nil || got != next {
			d.logger.Debug("supplied edit does not match text, detecting instead", "edit", edit.String())
			edit = nil
		}
	}
	if edit == nil {
		e, err := d.detector.Detect(prev, next)
		switch {
		case stderrors.Is(err, text.ErrNoChange):
			return nil
		case errors.HasCode(err, errors.AmbiguousEdit):
			d.logger.Debug("ambiguous edit, reparsing", "error", err)
			d.opts.Metrics.Edit(metrics.EditAmbiguous)
			return d.reparseLocked(ctx, next)
		case err != nil:
			return err
		}
		if got, err := text.Apply(prev, e); err != nil || got != next {
			// Detection works on runes, so invalid UTF-8 does not survive it.
			d.logger.Debug("detected edit does not reproduce text, reparsing", "edit", e.String())
			return d.reparseLocked(ctx, next)
		}
		edit = &e
	}
	if edit.IsNoop() {
		return nil
	}

	if d.tracker.Disabled() {
		// The tracker only takes a full text once it has given up.
		return d.reparseLocked(ctx, next)
	}

	outcome, err := d.tracker.ApplyEdit(ctx, *edit)
	switch {
	case errors.HasCode(err, errors.DocumentTooLarge):
		return d.brokenLocked(err)
	case err != nil:
		d.logger.Warn("incremental parse failed, reparsing", "error", err)
		return d.reparseLocked(ctx, next)
	}
	d.opts.Metrics.Edit(metrics.EditIncremental)
	d.applyOutcomeLocked(outcome)
	return nil
}

// reparseLocked replaces the whole text.
func (d *Document) reparseLocked(ctx context.Context, next string) error {
	wasDisabled := d.tracker.Disabled()
	outcome, err := d.tracker.Reset(ctx, next)
	if err != nil {
		if wasDisabled && errors.HasCode(err, errors.DocumentTooLarge) {
			// Already reported when the document first outgrew the limit.
			return nil
		}
		return d.brokenLocked(err)
	}
	d.opts.Metrics.Edit(metrics.EditFull)
	if wasDisabled {
		d.logger.Info("document back under the parser limit, features restored")
	}
	d.applyOutcomeLocked(outcome)
	return nil
}

// applyOutcomeLocked reconciles every feature with an edit outcome.
func (d *Document) applyOutcomeLocked(outcome *syntax.EditOutcome) {
	if !d.enabled {
		return
	}
	// A full reparse reseeds every anchor, which also restores features
	// after the tracker was disabled.
	d.emitAnnotationsLocked(d.manager.Reconcile(outcome, d.tracker.Tree()))
	d.emitSuggestionsLocked(d.pipeline.Translate(outcome.Edit))
	d.dispatchLocked()
	d.scheduleSuggestionsLocked()
}
