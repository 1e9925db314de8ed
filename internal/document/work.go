package document

import (
	"context"
	"time"

	"codeoverlay/internal/analysis"
	"codeoverlay/internal/annotations"
	"codeoverlay/internal/jobs"
	"codeoverlay/internal/suggestions"
	"codeoverlay/internal/syntax"
)

// dispatchLocked submits the manager's new jobs to the runner. A job the
// runner cannot take fails its anchors.
func (d *Document) dispatchLocked() {
	for _, j := range d.manager.TakeJobs() {
		id := j.ID
		_, err := d.opts.Runner.Submit(j.Context(), jobs.JobTypeAnnotation, id, d.opts.WindowID, func(ctx context.Context) error {
			return d.runAnnotationJob(ctx, id)
		})
		if err != nil {
			d.emitAnnotationsLocked(d.manager.Fail(id, err))
		}
	}
}

// runAnnotationJob analyzes a job's anchors outside the lock and installs
// the results unless the job was superseded meanwhile.
func (d *Document) runAnnotationJob(ctx context.Context, jobID string) error {
	snippets, ok := d.startJob(jobID)
	if !ok {
		return nil
	}

	results := make([]annotations.JobResult, len(snippets))
	var firstErr error
	for i, s := range snippets {
		if s == nil {
			continue
		}
		start := time.Now()
		p, err := d.opts.Analyzer.Analyze(ctx, *s)
		d.opts.Metrics.Analysis(time.Since(start))
		if ctx.Err() != nil {
			// Superseded or closed: the manager already forgot this job.
			return ctx.Err()
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
		results[i] = annotations.JobResult{Payload: p, Err: err}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	delta, dropped := d.manager.Complete(jobID, results)
	if dropped > 0 {
		d.logger.Debug("dropped superseded annotation results", "job", jobID, "dropped", dropped)
	}
	d.emitAnnotationsLocked(delta)
	return firstErr
}

// startJob marks the job's annotations pending and builds its snippets,
// aligned with the job's targets. Superseded targets get nil.
func (d *Document) startJob(jobID string) ([]*analysis.Snippet, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, false
	}
	refs, ok := d.manager.Targets(jobID)
	if !ok {
		return nil, false
	}
	d.emitAnnotationsLocked(d.manager.Start(jobID))

	tree := d.tracker.Tree()
	snippets := make([]*analysis.Snippet, len(refs))
	for i, ref := range refs {
		if ref.IsZero() {
			continue
		}
		idx, found := tree.Lookup(ref)
		if !found {
			continue
		}
		s := analysis.SnippetFor(tree, idx, d.manager.Features())
		snippets[i] = &s
	}
	return snippets, true
}

// scheduleSuggestionsLocked restarts the quiet period after which
// suggestions are recomputed for the current generation.
// A round still computing for an older generation is cancelled.
func (d *Document) scheduleSuggestionsLocked() {
	d.cancelRoundLocked()
	if !d.opts.Suggestions.Enabled || !d.enabled || d.tracker.Disabled() {
		return
	}
	gen := d.tracker.Generation()
	d.suggest.Trigger(func() { d.submitSuggestions(gen) })
}

// cancelSuggestionsLocked drops both the debounced and the running round.
func (d *Document) cancelSuggestionsLocked() {
	d.suggest.Cancel()
	d.cancelRoundLocked()
}

func (d *Document) cancelRoundLocked() {
	if d.roundCancel != nil {
		d.roundCancel()
		d.roundCancel = nil
	}
}

func (d *Document) submitSuggestions(gen uint64) {
	d.mu.Lock()
	if d.closed || d.tracker.Generation() != gen {
		d.mu.Unlock()
		return
	}
	d.cancelRoundLocked()
	ctx, cancel := context.WithCancel(d.ctx)
	d.roundCancel = cancel
	d.mu.Unlock()

	_, err := d.opts.Runner.Submit(ctx, jobs.JobTypeSuggestions, "", d.opts.WindowID, func(ctx context.Context) error {
		return d.recomputeSuggestions(ctx, gen)
	})
	if err != nil {
		cancel()
		d.logger.Warn("could not schedule suggestions", "error", err)
	}
}

// recomputeSuggestions computes and checks candidates for generation gen
// outside the lock, then publishes them if the document has not moved on.
func (d *Document) recomputeSuggestions(ctx context.Context, gen uint64) error {
	tree, ok := d.suggestionTree(gen)
	if !ok {
		return nil
	}
	candidates := suggestions.Compute(tree, suggestions.Options{
		MinStatements:     d.opts.Suggestions.MinStatements,
		MaxBodyStatements: d.opts.Suggestions.MaxBodyStatements,
		NewID:             d.opts.NewID,
	})
	checked, err := d.checkFeasibility(ctx, tree, candidates)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || !d.enabled || d.tracker.Generation() != gen {
		// A newer round is already scheduled.
		return nil
	}
	d.emitSuggestionsLocked(d.pipeline.Publish(checked))
	return nil
}

func (d *Document) suggestionTree(gen uint64) (*syntax.Tree, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || !d.enabled || d.tracker.Generation() != gen {
		return nil, false
	}
	return d.tracker.Tree(), true
}

// checkFeasibility drops infeasible candidates and marks the ones whose
// check failed.
func (d *Document) checkFeasibility(ctx context.Context, tree *syntax.Tree, candidates []suggestions.Suggestion) ([]suggestions.Suggestion, error) {
	if d.opts.Feasibility == nil {
		return candidates, nil
	}
	kept := candidates[:0]
	for _, c := range candidates {
		code, err := tree.Text(c.Target)
		if err != nil {
			continue
		}
		verdict, err := d.opts.Feasibility.CheckExtraction(ctx, analysis.Candidate{
			Kind:   string(c.Kind),
			Target: c.Target,
			Code:   code,
		})
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		switch {
		case err != nil:
			c.Failed = true
			c.Reason = err.Error()
		case !verdict.Feasible:
			d.logger.Debug("dropping infeasible suggestion", "target", c.Target, "reason", verdict.Reason)
			continue
		}
		kept = append(kept, c)
	}
	return kept, nil
}
