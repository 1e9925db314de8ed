package document

import (
	"context"

	"codeoverlay/internal/errors"
	"codeoverlay/internal/protocol"
	"codeoverlay/internal/text"
)

// Select marks a suggestion selected.
func (d *Document) Select(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errClosed(d.opts.WindowID)
	}
	return d.selectLocked(id)
}

func (d *Document) selectLocked(id string) error {
	delta, err := d.pipeline.Select(id)
	d.emitSuggestionsLocked(delta)
	return err
}

// Dismiss removes a suggestion for good, until its target text changes.
func (d *Document) Dismiss(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errClosed(d.opts.WindowID)
	}
	return d.dismissLocked(id)
}

func (d *Document) dismissLocked(id string) error {
	delta, err := d.pipeline.Dismiss(id)
	d.emitSuggestionsLocked(delta)
	return err
}

// Apply performs a selected suggestion: the resulting edit goes through the
// normal edit path before it is returned for the editor to mirror.
func (d *Document) Apply(ctx context.Context, id string) (text.Edit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return text.Edit{}, errClosed(d.opts.WindowID)
	}
	return d.applyLocked(ctx, id)
}

func (d *Document) applyLocked(ctx context.Context, id string) (text.Edit, error) {
	e, delta, err := d.pipeline.Apply(id, d.tracker.Tree())
	if err != nil {
		return text.Edit{}, err
	}
	d.emitSuggestionsLocked(delta)

	next, err := text.Apply(d.tracker.Source(), e)
	if err != nil {
		return text.Edit{}, err
	}
	if err := d.changeLocked(ctx, next, &e); err != nil {
		return text.Edit{}, err
	}
	return e, nil
}

// Command runs a suggestion command and acknowledges it on the sink,
// after any delta it produced.
func (d *Document) Command(ctx context.Context, cmd protocol.SuggestionCommand) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errClosed(d.opts.WindowID)
	}

	var edit *text.Edit
	var err error
	switch cmd.Action {
	case protocol.ActionSelect:
		err = d.selectLocked(cmd.SuggestionID)
	case protocol.ActionDismiss:
		err = d.dismissLocked(cmd.SuggestionID)
	case protocol.ActionApply:
		var e text.Edit
		if e, err = d.applyLocked(ctx, cmd.SuggestionID); err == nil {
			edit = &e
		}
	default:
		err = errors.Newf(errors.InvalidMessage, "unknown suggestion action %q", cmd.Action)
	}

	outcome := "ok"
	if err != nil {
		outcome = string(errors.CodeOf(err))
		if errors.Expected(errors.CodeOf(err)) {
			d.logger.Debug("suggestion command rejected", "action", cmd.Action, "suggestion", cmd.SuggestionID, "error", err)
		} else {
			d.logger.Warn("suggestion command failed", "action", cmd.Action, "suggestion", cmd.SuggestionID, "error", err)
		}
	}
	d.opts.Metrics.SuggestionAction(string(cmd.Action), outcome)
	d.send(protocol.NewAck(cmd, edit, err))
	return nil
}

// SelectionChanged records the editor selection.
func (d *Document) SelectionChanged(offset, length int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errClosed(d.opts.WindowID)
	}
	n := text.UTF16Len(d.tracker.Source())
	if offset < 0 || length < 0 || offset+length > n {
		return errors.Newf(errors.OutOfBounds, "selection [%d,%d) outside [0,%d]", offset, offset+length, n)
	}
	d.selection = text.Range{Start: offset, Length: length}
	return nil
}

// Scrolled hides the overlay until scrolling has been quiet for the
// configured delay.
func (d *Document) Scrolled() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errClosed(d.opts.WindowID)
	}
	if !d.opts.Overlay.HideOnScroll {
		return nil
	}
	if d.visible {
		d.visible = false
		d.send(protocol.OverlayVisibility{WindowID: d.opts.WindowID, Visible: false})
	}
	d.scroll.Trigger(d.reveal)
	return nil
}

func (d *Document) reveal() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.visible {
		return
	}
	d.visible = true
	d.send(protocol.OverlayVisibility{WindowID: d.opts.WindowID, Visible: true})
}
