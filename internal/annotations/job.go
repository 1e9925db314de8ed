package annotations

import (
	"context"

	"codeoverlay/internal/analysis"
	"codeoverlay/internal/syntax"
)

// JobKind distinguishes single-anchor from batched jobs.
type JobKind string

const (
	JobSingle JobKind = "single"
	JobGroup  JobKind = "group"
)

// Job is a unit of deferred recomputation for one or more anchors. A job
// stays live while at least one of its anchors still points at it; once
// every anchor has been taken over by newer jobs its context is cancelled.
type Job struct {
	ID         string
	Kind       JobKind
	Generation uint64

	ctx    context.Context
	cancel context.CancelFunc
	slots  []*slot
	live   int
}

// Context is cancelled when the job is superseded, completed or dropped.
func (j *Job) Context() context.Context { return j.ctx }

// Size is the number of anchors the job was created for.
func (j *Job) Size() int { return len(j.slots) }

// JobResult is the outcome for one target of a job, aligned with Targets.
type JobResult struct {
	Payload analysis.Payload
	Err     error
}

// slot is the manager's record for one anchor node.
type slot struct {
	ref         syntax.NodeRef
	job         *Job
	annotations map[analysis.Feature]*Annotation
}
