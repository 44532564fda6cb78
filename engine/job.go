// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package engine

import (
	"errors"
	"regexp"
	"time"

	"github.com/hashicorp/smartwait/capture"
	"github.com/hashicorp/smartwait/state"
)

var (
	// ErrInvalidArg is returned when register or update arguments fail
	// validation.
	ErrInvalidArg = errors.New("invalid argument")

	// ErrNotFound is returned for operations on unknown wait ids.
	ErrNotFound = errors.New("wait not found")

	// ErrAlreadyTerminal is returned when update targets a finished wait.
	ErrAlreadyTerminal = errors.New("wait already terminal")
)

// Status of a wait job. A job is born watching and makes exactly one
// transition to a terminal status.
type Status string

const (
	StatusWatching  Status = "watching"
	StatusResolved  Status = "resolved"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// Terminal returns true for the four end states.
func (s Status) Terminal() bool {
	switch s {
	case StatusResolved, StatusTimeout, StatusCancelled, StatusError:
		return true
	default:
		return false
	}
}

// compiledPattern pairs an agent supplied pattern with its compiled form so
// match details can quote the original text.
type compiledPattern struct {
	raw string
	re  *regexp.Regexp
}

// waitJob is the in-memory record of a single wait. All fields are guarded
// by the engine lock; the diff gate and compiled patterns are additionally
// touched by the single in-flight evaluation for the job.
type waitJob struct {
	id       string
	target   capture.Target
	display  string
	criteria string
	taskID   string

	createdAt time.Time
	deadline  time.Time
	timeoutS  int
	interval  time.Duration

	nextCheckAt time.Time
	evaluating  bool

	// gen increments on every update so an in-flight evaluation can tell
	// its parameters went stale and schedule an immediate recheck.
	gen uint64

	status     Status
	lastDetail string
	resolvedAt time.Time

	notes []string

	// patterns drive the pty fast path and are unused for other targets.
	patterns []compiledPattern

	gate *DiffGate
}

// Snapshot is a point-in-time public view of a job.
type Snapshot struct {
	ID         string     `json:"id"`
	Status     Status     `json:"status"`
	ElapsedS   float64    `json:"elapsed_s"`
	Target     string     `json:"target"`
	Display    string     `json:"display,omitempty"`
	Criteria   string     `json:"criteria"`
	LastDetail string     `json:"last_detail"`
	TimeoutS   int        `json:"timeout_s"`
	TaskID     string     `json:"task_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	Notes      []string   `json:"notes,omitempty"`
}

func (j *waitJob) snapshot(now time.Time) *Snapshot {
	s := &Snapshot{
		ID:         j.id,
		Status:     j.status,
		ElapsedS:   now.Sub(j.createdAt).Seconds(),
		Target:     j.target.String(),
		Display:    j.display,
		Criteria:   j.criteria,
		LastDetail: j.lastDetail,
		TimeoutS:   j.timeoutS,
		TaskID:     j.taskID,
		CreatedAt:  j.createdAt,
	}
	if len(j.notes) > 0 {
		s.Notes = append([]string(nil), j.notes...)
	}
	if !j.resolvedAt.IsZero() {
		s.ElapsedS = j.resolvedAt.Sub(j.createdAt).Seconds()
		t := j.resolvedAt
		s.ResolvedAt = &t
	}
	return s
}

func (j *waitJob) record() *state.WaitRecord {
	rec := &state.WaitRecord{
		ID:        j.id,
		TaskID:    j.taskID,
		Target:    j.target.String(),
		Display:   j.display,
		Criteria:  j.criteria,
		TimeoutS:  j.timeoutS,
		PollS:     j.interval.Seconds(),
		Status:    string(j.status),
		Detail:    j.lastDetail,
		CreatedAt: j.createdAt,
	}
	if !j.resolvedAt.IsZero() {
		rec.ResolvedAt = j.resolvedAt
	}
	return rec
}

// snapshotFromRecord reconstructs the public view of a finished wait from
// its store record.
func snapshotFromRecord(rec *state.WaitRecord) *Snapshot {
	s := &Snapshot{
		ID:         rec.ID,
		Status:     Status(rec.Status),
		Target:     rec.Target,
		Display:    rec.Display,
		Criteria:   rec.Criteria,
		LastDetail: rec.Detail,
		TimeoutS:   rec.TimeoutS,
		TaskID:     rec.TaskID,
		CreatedAt:  rec.CreatedAt,
	}
	if !rec.ResolvedAt.IsZero() {
		s.ElapsedS = rec.ResolvedAt.Sub(rec.CreatedAt).Seconds()
		t := rec.ResolvedAt
		s.ResolvedAt = &t
	}
	return s
}
