package annotations

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"codeoverlay/internal/analysis"
	"codeoverlay/internal/syntax"
)

// DefaultGroupSize bounds how many anchors one group job carries.
const DefaultGroupSize = 8

// Options configures a Manager.
type Options struct {
	Features  []analysis.Feature
	GroupSize int
	// IsAnchor selects the node kinds that carry annotations. Defaults to
	// named function declarations.
	IsAnchor func(kind string) bool
	// NewID generates annotation and job ids. Defaults to uuid.NewString.
	NewID func() string
}

// Manager owns the annotations of one document.
type Manager struct {
	features  []analysis.Feature
	groupSize int
	isAnchor  func(string) bool
	newID     func() string

	enabled    bool
	generation uint64
	slots      map[syntax.NodeRef]*slot
	jobs       map[string]*Job
	outbox     []*Job
}

// NewManager creates an enabled manager with no annotations.
func NewManager(opts Options) *Manager {
	if len(opts.Features) == 0 {
		opts.Features = analysis.AllFeatures
	}
	if opts.GroupSize < 1 {
		opts.GroupSize = DefaultGroupSize
	}
	if opts.IsAnchor == nil {
		opts.IsAnchor = syntax.IsDeclaration
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Manager{
		features:  opts.Features,
		groupSize: opts.GroupSize,
		isAnchor:  opts.IsAnchor,
		newID:     opts.NewID,
		enabled:   true,
		slots:     make(map[syntax.NodeRef]*slot),
		jobs:      make(map[string]*Job),
	}
}

// Features returns the features every anchor is analyzed for.
func (m *Manager) Features() []analysis.Feature { return m.features }

// Enabled reports whether the manager tracks annotations.
func (m *Manager) Enabled() bool { return m.enabled }

// Seed creates an anchor and a job for every anchor node of tree that is not
// tracked yet.
func (m *Manager) Seed(tree *syntax.Tree) {
	if !m.enabled || tree == nil {
		return
	}
	m.generation = tree.Generation
	var fresh []*slot
	for i := range tree.Nodes {
		n := &tree.Nodes[i]
		if !m.isAnchor(n.Kind) || n.Error {
			continue
		}
		if _, ok := m.slots[n.Ref()]; ok {
			continue
		}
		s := m.newSlot(n.Ref())
		fresh = append(fresh, s)
	}
	m.dispatch(fresh)
}

// SetEnabled turns annotation tracking on or off. Disabling removes every
// annotation and cancels all jobs; enabling seeds from tree.
func (m *Manager) SetEnabled(enabled bool, tree *syntax.Tree) Delta {
	if enabled == m.enabled {
		return Delta{}
	}
	if !enabled {
		d := m.Reset()
		m.enabled = false
		return d
	}
	m.enabled = true
	m.Seed(tree)
	return Delta{}
}

// Reconcile updates every anchor for an edit outcome and enqueues
// recomputation where content changed. tree is the tree after the edit.
//
// Shifted anchors keep their annotations and any running job. Resized
// anchors go stale and are recomputed. Invalidated anchors lose their
// annotations; when the edit recreated a node of the same kind in the
// edited region, the anchor moves there and is recomputed, otherwise it is
// dropped.
func (m *Manager) Reconcile(outcome *syntax.EditOutcome, tree *syntax.Tree) Delta {
	var d Delta
	if !m.enabled {
		return d
	}
	m.generation = outcome.Generation

	if outcome.FullReparse {
		d = m.Reset()
		m.Seed(tree)
		return d
	}

	claimed := make(map[syntax.NodeRef]bool)
	var recompute []*slot

	for _, s := range m.sortedSlots() {
		mapping, ok := outcome.Lookup(s.ref)
		change := mapping.Change
		if !ok {
			change = syntax.Invalidated
		}

		switch change {
		case syntax.Unchanged:
			claimed[s.ref] = true

		case syntax.Shifted:
			s.ref = mapping.New
			claimed[s.ref] = true
			for _, a := range s.sortedAnnotations() {
				a.Anchor = s.ref
				d.update(a)
			}

		case syntax.Resized:
			s.ref = mapping.New
			claimed[s.ref] = true
			for _, a := range s.sortedAnnotations() {
				a.Anchor = s.ref
				if a.State == StateActive || a.State == StatePending {
					a.State = StateStale
				}
				d.update(a)
			}
			recompute = append(recompute, s)

		default:
			m.clear(s, &d)
			next, found := m.replacement(s.ref.Kind, outcome, tree, claimed)
			if !found {
				m.drop(s)
				continue
			}
			s.ref = next
			claimed[next] = true
			recompute = append(recompute, s)
		}
	}

	m.rekey()

	for _, ref := range outcome.Recreated {
		if !m.isAnchor(ref.Kind) || claimed[ref] {
			continue
		}
		if _, ok := m.slots[ref]; ok {
			continue
		}
		recompute = append(recompute, m.newSlot(ref))
		claimed[ref] = true
	}

	m.dispatch(recompute)
	return d
}

// replacement finds the node that takes over an invalidated anchor: the
// smallest recreated, unclaimed node of the same kind touching the edited
// region.
func (m *Manager) replacement(kind string, outcome *syntax.EditOutcome, tree *syntax.Tree, claimed map[syntax.NodeRef]bool) (syntax.NodeRef, bool) {
	best := -1
	for _, idx := range tree.Touching(kind, outcome.EditedRange()) {
		ref := tree.Node(idx).Ref()
		if claimed[ref] || !outcome.IsRecreated(ref) {
			continue
		}
		if best < 0 || ref.Range.Length < tree.Node(best).Range.Length {
			best = idx
		}
	}
	if best < 0 {
		return syntax.NodeRef{}, false
	}
	return tree.Node(best).Ref(), true
}

// Enqueue schedules recomputation for refs, creating anchors for refs not
// tracked yet. Older jobs for the same anchors are superseded.
func (m *Manager) Enqueue(refs ...syntax.NodeRef) {
	if !m.enabled {
		return
	}
	var targets []*slot
	for _, ref := range refs {
		s, ok := m.slots[ref]
		if !ok {
			s = m.newSlot(ref)
		}
		targets = append(targets, s)
	}
	m.dispatch(targets)
}

// TakeJobs returns the jobs enqueued since the last call.
func (m *Manager) TakeJobs() []*Job {
	out := m.outbox
	m.outbox = nil
	var live []*Job
	for _, j := range out {
		if _, ok := m.jobs[j.ID]; ok {
			live = append(live, j)
		}
	}
	return live
}

// Targets returns the current anchors of a live job, aligned with its
// results. Anchors taken over by a newer job are zero refs.
func (m *Manager) Targets(jobID string) ([]syntax.NodeRef, bool) {
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, false
	}
	refs := make([]syntax.NodeRef, len(j.slots))
	for i, s := range j.slots {
		if s.job == j {
			refs[i] = s.ref
		}
	}
	return refs, true
}

// Start marks the stale annotations of a job's anchors as pending.
func (m *Manager) Start(jobID string) Delta {
	var d Delta
	j, ok := m.jobs[jobID]
	if !ok {
		return d
	}
	for _, s := range j.slots {
		if s.job != j {
			continue
		}
		for _, a := range s.sortedAnnotations() {
			if a.State == StateStale {
				a.State = StatePending
				d.update(a)
			}
		}
	}
	return d
}

// Complete installs the results of a job. Results for anchors the job no
// longer owns, and for jobs that were superseded or dropped, are discarded;
// dropped reports how many.
func (m *Manager) Complete(jobID string, results []JobResult) (d Delta, dropped int) {
	j, ok := m.jobs[jobID]
	if !ok {
		return d, len(results)
	}
	for i, s := range j.slots {
		if s.job != j || i >= len(results) {
			dropped++
			continue
		}
		if err := results[i].Err; err != nil {
			m.fail(s, err, &d)
		} else {
			m.install(s, results[i].Payload, &d)
		}
		s.job = nil
	}
	m.finish(j)
	return d, dropped
}

// Fail marks every anchor the job still owns as failed.
func (m *Manager) Fail(jobID string, err error) Delta {
	var d Delta
	j, ok := m.jobs[jobID]
	if !ok {
		return d
	}
	for _, s := range j.slots {
		if s.job != j {
			continue
		}
		m.fail(s, err, &d)
		s.job = nil
	}
	m.finish(j)
	return d
}

// Reset removes every annotation and cancels all jobs.
func (m *Manager) Reset() Delta {
	var d Delta
	for _, s := range m.sortedSlots() {
		m.clear(s, &d)
		m.drop(s)
	}
	m.slots = make(map[syntax.NodeRef]*slot)
	for _, j := range m.jobs {
		j.cancel()
	}
	m.jobs = make(map[string]*Job)
	m.outbox = nil
	return d
}

// Close is Reset followed by disabling the manager for good.
func (m *Manager) Close() Delta {
	d := m.Reset()
	m.enabled = false
	return d
}

// Annotations returns every live annotation ordered by anchor then kind.
func (m *Manager) Annotations() []Annotation {
	var out []Annotation
	for _, s := range m.sortedSlots() {
		for _, a := range s.sortedAnnotations() {
			out = append(out, *a)
		}
	}
	return out
}

// Anchors returns the tracked anchors in document order.
func (m *Manager) Anchors() []syntax.NodeRef {
	slots := m.sortedSlots()
	out := make([]syntax.NodeRef, len(slots))
	for i, s := range slots {
		out[i] = s.ref
	}
	return out
}

// PendingJobs is the number of live jobs.
func (m *Manager) PendingJobs() int { return len(m.jobs) }

func (m *Manager) newSlot(ref syntax.NodeRef) *slot {
	s := &slot{ref: ref, annotations: make(map[analysis.Feature]*Annotation)}
	m.slots[ref] = s
	return s
}

// rekey rebuilds the ref index after anchors moved. Two anchors can never
// land on the same ref because every new ref is claimed once.
func (m *Manager) rekey() {
	next := make(map[syntax.NodeRef]*slot, len(m.slots))
	for _, s := range m.slots {
		if s.annotations == nil {
			continue
		}
		next[s.ref] = s
	}
	m.slots = next
}

// clear removes a slot's annotations and releases its job.
func (m *Manager) clear(s *slot, d *Delta) {
	for _, a := range s.sortedAnnotations() {
		a.State = StateRemoved
		d.remove(a.ID)
	}
	s.annotations = make(map[analysis.Feature]*Annotation)
	m.release(s)
}

// drop forgets a slot entirely.
func (m *Manager) drop(s *slot) {
	m.release(s)
	s.annotations = nil
	delete(m.slots, s.ref)
}

// release detaches s from its job, cancelling the job once no anchor
// depends on it.
func (m *Manager) release(s *slot) {
	j := s.job
	if j == nil {
		return
	}
	s.job = nil
	j.live--
	if j.live <= 0 {
		j.cancel()
		delete(m.jobs, j.ID)
	}
}

// finish retires a job whose results were installed.
func (m *Manager) finish(j *Job) {
	j.cancel()
	delete(m.jobs, j.ID)
}

// dispatch creates jobs for slots, superseding their current jobs. More
// than one slot is batched into group jobs of at most groupSize anchors.
func (m *Manager) dispatch(slots []*slot) {
	if len(slots) == 0 {
		return
	}
	sort.Slice(slots, func(i, k int) bool { return refLess(slots[i].ref, slots[k].ref) })

	for start := 0; start < len(slots); start += m.groupSize {
		chunk := slots[start:min(start+m.groupSize, len(slots))]
		kind := JobGroup
		if len(chunk) == 1 {
			kind = JobSingle
		}
		ctx, cancel := context.WithCancel(context.Background())
		j := &Job{
			ID:         m.newID(),
			Kind:       kind,
			Generation: m.generation,
			ctx:        ctx,
			cancel:     cancel,
			slots:      append([]*slot(nil), chunk...),
		}
		for _, s := range chunk {
			m.release(s)
			s.job = j
			j.live++
		}
		m.jobs[j.ID] = j
		m.outbox = append(m.outbox, j)
	}
}

// install replaces a slot's annotations with the payload, keeping ids of
// kinds that survive.
func (m *Manager) install(s *slot, p analysis.Payload, d *Delta) {
	for _, f := range m.features {
		v := p.Get(f)
		a := s.annotations[f]
		switch {
		case v == nil && a != nil:
			a.State = StateRemoved
			d.remove(a.ID)
			delete(s.annotations, f)
		case v != nil && a == nil:
			a = &Annotation{ID: m.newID(), Anchor: s.ref, Kind: f, State: StateActive, Payload: v}
			s.annotations[f] = a
			d.add(a)
		case v != nil:
			a.Anchor = s.ref
			a.State = StateActive
			a.Payload = v
			a.Error = ""
			d.update(a)
		}
	}
}

func (m *Manager) fail(s *slot, err error, d *Delta) {
	for _, f := range m.features {
		a := s.annotations[f]
		if a == nil {
			a = &Annotation{ID: m.newID(), Anchor: s.ref, Kind: f, State: StateFailed, Error: err.Error()}
			s.annotations[f] = a
			d.add(a)
			continue
		}
		a.State = StateFailed
		a.Payload = nil
		a.Error = err.Error()
		d.update(a)
	}
}

func (m *Manager) sortedSlots() []*slot {
	out := make([]*slot, 0, len(m.slots))
	for _, s := range m.slots {
		out = append(out, s)
	}
	sort.Slice(out, func(i, k int) bool { return refLess(out[i].ref, out[k].ref) })
	return out
}

func (s *slot) sortedAnnotations() []*Annotation {
	out := make([]*Annotation, 0, len(s.annotations))
	for _, a := range s.annotations {
		out = append(out, a)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Kind < out[k].Kind })
	return out
}

func refLess(a, b syntax.NodeRef) bool {
	if a.Range.Start != b.Range.Start {
		return a.Range.Start < b.Range.Start
	}
	if a.Range.Length != b.Range.Length {
		return a.Range.Length > b.Range.Length
	}
	return a.Kind < b.Kind
}
