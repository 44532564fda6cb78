// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package engine implements the smart-wait scheduler. The engine owns the
// set of in-flight wait jobs, drives the capture/evaluate/decide loop for
// each, serializes captures per display, enforces timeouts, and emits
// exactly-once terminal notifications through the wake and task seams.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/hashicorp/smartwait/capture"
	"github.com/hashicorp/smartwait/helper"
	"github.com/hashicorp/smartwait/helper/uuid"
	"github.com/hashicorp/smartwait/state"
	"github.com/hashicorp/smartwait/stream"
	"github.com/hashicorp/smartwait/tasks"
	"github.com/hashicorp/smartwait/vision"
	"github.com/hashicorp/smartwait/wake"
)

const (
	defaultDiffDownsampleWidth = 320
	defaultDiffPixelThreshold  = 10
	defaultDiffChangeRatio     = 0.01
	defaultMinPollS            = 0.5
	defaultMaxPollS            = 5.0
	defaultPollS               = 2.0
	defaultTimeoutS            = 300
	defaultWakeNotifyTimeoutS  = 10
	defaultWakeStatePrefix     = "smart_wait"

	// maxLoopSleep caps the scheduler's sleep so an empty engine still
	// wakes occasionally.
	maxLoopSleep = time.Hour
)

// Options are the engine's tunables. Zero values take defaults.
type Options struct {
	// DiffDownsampleWidth is the max width of the diff gate's working
	// copy of a frame.
	DiffDownsampleWidth int

	// DiffPixelThreshold is the per-channel delta (0-255) above which a
	// pixel counts as changed.
	DiffPixelThreshold int

	// DiffChangeRatio is the changed-pixel fraction (0-1) above which a
	// frame is worth evaluating.
	DiffChangeRatio float64

	// MinPollS and MaxPollS clamp requested poll intervals.
	MinPollS float64
	MaxPollS float64

	// DefaultTimeoutS applies when register omits a timeout.
	DefaultTimeoutS int

	// WakeNotifyTimeoutS bounds each wake notification.
	WakeNotifyTimeoutS int

	// WakeStatePrefix tags wake texts, e.g. "[smart_wait resolved]".
	WakeStatePrefix string
}

func DefaultOptions() *Options {
	return &Options{
		DiffDownsampleWidth: defaultDiffDownsampleWidth,
		DiffPixelThreshold:  defaultDiffPixelThreshold,
		DiffChangeRatio:     defaultDiffChangeRatio,
		MinPollS:            defaultMinPollS,
		MaxPollS:            defaultMaxPollS,
		DefaultTimeoutS:     defaultTimeoutS,
		WakeNotifyTimeoutS:  defaultWakeNotifyTimeoutS,
		WakeStatePrefix:     defaultWakeStatePrefix,
	}
}

// Canonicalize fills zero fields with defaults and repairs nonsense ranges.
func (o *Options) Canonicalize() {
	def := DefaultOptions()
	if o.DiffDownsampleWidth <= 0 {
		o.DiffDownsampleWidth = def.DiffDownsampleWidth
	}
	if o.DiffPixelThreshold <= 0 {
		o.DiffPixelThreshold = def.DiffPixelThreshold
	}
	if o.DiffChangeRatio <= 0 {
		o.DiffChangeRatio = def.DiffChangeRatio
	}
	if o.MinPollS <= 0 {
		o.MinPollS = def.MinPollS
	}
	if o.MaxPollS <= 0 {
		o.MaxPollS = def.MaxPollS
	}
	if o.MaxPollS < o.MinPollS {
		o.MaxPollS = o.MinPollS
	}
	if o.DefaultTimeoutS <= 0 {
		o.DefaultTimeoutS = def.DefaultTimeoutS
	}
	if o.WakeNotifyTimeoutS <= 0 {
		o.WakeNotifyTimeoutS = def.WakeNotifyTimeoutS
	}
	if o.WakeStatePrefix == "" {
		o.WakeStatePrefix = def.WakeStatePrefix
	}
}

// PtyTailer supplies recent terminal output for pty targets. The engine
// treats it as advisory; a missing session just skips the fast path.
type PtyTailer interface {
	Tail(sessionID string, lines int) (string, bool)
}

// Config is used to initialize a new Engine.
type Config struct {
	Logger hclog.Logger

	// Store persists job creation and terminal outcomes. Required.
	Store state.StateDB

	// Vision evaluates frames against criteria. Required.
	Vision vision.Adapter

	// Source captures frames. Required.
	Source capture.Source

	// Notifier delivers terminal wakes. Defaults to a noop.
	Notifier wake.Notifier

	// Tasks reports lifecycle changes to task boards. Defaults to a noop.
	Tasks tasks.Sink

	// Arbiter serializes captures per display. Defaults to a new arbiter.
	Arbiter *capture.Arbiter

	// Broker receives wait events. Optional.
	Broker *stream.Broker

	// Ptys supplies terminal output for the pty fast path. Optional.
	Ptys PtyTailer

	// Options tune the engine. Nil uses defaults.
	Options *Options
}

// Engine schedules wait jobs. All exported methods are safe for concurrent
// use.
type Engine struct {
	logger   hclog.Logger
	store    state.StateDB
	vision   vision.Adapter
	source   capture.Source
	notifier wake.Notifier
	tasks    tasks.Sink
	arbiter  *capture.Arbiter
	broker   *stream.Broker
	ptys     PtyTailer
	opts     *Options

	// l guards jobs and running. The first terminal writer claims a job
	// by flipping its status under l; the job stays in the map until its
	// store commit lands so the id never vanishes mid-transition.
	l    sync.RWMutex
	jobs map[string]*waitJob

	running bool

	// kickCh wakes the scheduler when jobs are added or changed.
	kickCh chan struct{}

	// wakeWG tracks in-flight wake notifications so Shutdown can drain
	// them.
	wakeWG sync.WaitGroup

	ctx    context.Context
	exitFn context.CancelFunc
	doneCh chan struct{}
}

func NewEngine(config *Config) (*Engine, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("engine requires a state store")
	}
	if config.Vision == nil {
		return nil, fmt.Errorf("engine requires a vision adapter")
	}
	if config.Source == nil {
		return nil, fmt.Errorf("engine requires a capture source")
	}

	logger := config.Logger
	if logger == nil {
		logger = hclog.Default()
	}

	opts := config.Options
	if opts == nil {
		opts = DefaultOptions()
	}
	opts.Canonicalize()

	notifier := config.Notifier
	if notifier == nil {
		notifier = wake.NewNoopNotifier()
	}
	sink := config.Tasks
	if sink == nil {
		sink = tasks.NewNoopSink()
	}
	arbiter := config.Arbiter
	if arbiter == nil {
		arbiter = capture.NewArbiter()
	}

	ctx, exitFn := context.WithCancel(context.Background())

	e := &Engine{
		logger:   logger.Named("engine"),
		store:    config.Store,
		vision:   config.Vision,
		source:   config.Source,
		notifier: notifier,
		tasks:    sink,
		arbiter:  arbiter,
		broker:   config.Broker,
		ptys:     config.Ptys,
		opts:     opts,
		jobs:     make(map[string]*waitJob),
		kickCh:   make(chan struct{}, 1),
		ctx:      ctx,
		exitFn:   exitFn,
		doneCh:   make(chan struct{}),
	}

	// Jobs active when a previous process died cannot be resumed; their
	// diff state and deadlines are gone. Mark them failed before
	// accepting new work. No wake fires for them.
	orphaned, err := e.store.OrphanActive("daemon restarted while watching")
	if err != nil {
		exitFn()
		return nil, fmt.Errorf("failed to recover wait store: %v", err)
	}
	if len(orphaned) > 0 {
		e.logger.Warn("marked orphaned waits from previous run", "count", len(orphaned), "wait_ids", orphaned)
	}

	return e, nil
}

// Run starts the scheduler loop. Safe to call once; later calls are no-ops.
func (e *Engine) Run() {
	e.l.Lock()
	defer e.l.Unlock()
	if e.running {
		return
	}
	e.running = true
	go e.run(e.ctx)
}

// Shutdown stops the scheduler and drains in-flight wake notifications.
// Active jobs are left in the store's active bucket for the next process to
// orphan.
func (e *Engine) Shutdown() {
	e.l.RLock()
	running := e.running
	e.l.RUnlock()

	e.exitFn()
	if running {
		<-e.doneCh
	}
	e.wakeWG.Wait()

	e.l.Lock()
	e.running = false
	e.l.Unlock()
}

// Running reports whether the scheduler loop has been started.
func (e *Engine) Running() bool {
	e.l.RLock()
	defer e.l.RUnlock()
	return e.running
}

// RegisterRequest are the caller-supplied parameters for a new wait.
type RegisterRequest struct {
	// Target in string form: screen, window:<id|name>, pty:<session-id>.
	Target string

	// Display the target lives on. Opaque; empty uses the capture
	// source's default.
	Display string

	// Criteria is the natural language condition to watch for.
	Criteria string

	// TimeoutS bounds the wait. Zero uses the engine default.
	TimeoutS int

	// PollS is the base polling period, clamped to the engine's range.
	// Zero uses the default.
	PollS float64

	// TaskID optionally links the wait to an external task.
	TaskID string

	// Patterns are optional regexes resolved against terminal output for
	// pty targets.
	Patterns []string
}

// Register creates a watching job and wakes the scheduler.
func (e *Engine) Register(req *RegisterRequest) (*Snapshot, error) {
	if strings.TrimSpace(req.Criteria) == "" {
		return nil, fmt.Errorf("%w: criteria required", ErrInvalidArg)
	}
	target, err := capture.ParseTarget(req.Target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArg, err)
	}
	if req.TimeoutS < 0 {
		return nil, fmt.Errorf("%w: timeout must be positive", ErrInvalidArg)
	}
	if req.PollS < 0 {
		return nil, fmt.Errorf("%w: poll interval must be positive", ErrInvalidArg)
	}

	timeoutS := req.TimeoutS
	if timeoutS == 0 {
		timeoutS = e.opts.DefaultTimeoutS
	}
	pollS := req.PollS
	if pollS == 0 {
		pollS = defaultPollS
	}
	if pollS < e.opts.MinPollS {
		pollS = e.opts.MinPollS
	}
	if pollS > e.opts.MaxPollS {
		pollS = e.opts.MaxPollS
	}

	now := time.Now()
	job := &waitJob{
		target:      target,
		display:     req.Display,
		criteria:    strings.TrimSpace(req.Criteria),
		taskID:      req.TaskID,
		createdAt:   now,
		deadline:    now.Add(time.Duration(timeoutS) * time.Second),
		timeoutS:    timeoutS,
		interval:    time.Duration(pollS * float64(time.Second)),
		nextCheckAt: now,
		status:      StatusWatching,
		patterns:    compilePatterns(e.logger, req.Patterns),
		gate: NewDiffGate(e.opts.DiffDownsampleWidth, e.opts.DiffPixelThreshold,
			e.opts.DiffChangeRatio),
	}

	e.l.Lock()
	id := uuid.Short()
	for _, exists := e.jobs[id]; exists; _, exists = e.jobs[id] {
		id = uuid.Short()
	}
	job.id = id
	e.jobs[id] = job
	snap := job.snapshot(now)
	rec := job.record()
	e.l.Unlock()

	e.logger.Info("registered wait", "wait_id", id, "target", rec.Target,
		"display", req.Display, "criteria", job.criteria, "timeout_s", timeoutS,
		"poll_s", pollS)

	// Creation records only matter for crash recovery, so persistence
	// failures do not fail the register.
	if err := e.store.PutActive(rec); err != nil {
		e.logger.Warn("failed to persist wait creation", "wait_id", id, "error", err)
	}

	if job.taskID != "" {
		if err := e.tasks.TrackWait(job.taskID, id); err != nil {
			e.logger.Warn("failed to track wait on task", "wait_id", id,
				"task_id", job.taskID, "error", err)
		}
	}

	e.broker.Publish(&stream.Event{
		Topic:   stream.TopicWait,
		Type:    stream.TypeWaitRegistered,
		Key:     id,
		Payload: snap,
	})

	e.kick()
	return snap, nil
}

// UpdateRequest refines a watching job. Zero-valued fields are untouched; at
// least one must be set.
type UpdateRequest struct {
	// Criteria replaces the watched condition and resets the diff gate.
	Criteria string

	// TimeoutS resets the deadline to now + TimeoutS.
	TimeoutS int

	// Note is appended to the job's history.
	Note string

	// Patterns replace the pty fast path patterns when non-nil.
	Patterns []string
}

// Update refines a watching job and schedules an immediate re-check.
func (e *Engine) Update(id string, req *UpdateRequest) (*Snapshot, error) {
	criteria := strings.TrimSpace(req.Criteria)
	note := strings.TrimSpace(req.Note)
	if criteria == "" && req.TimeoutS == 0 && note == "" && req.Patterns == nil {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidArg)
	}
	if req.TimeoutS < 0 {
		return nil, fmt.Errorf("%w: timeout must be positive", ErrInvalidArg)
	}

	var patterns []compiledPattern
	if req.Patterns != nil {
		patterns = compilePatterns(e.logger, req.Patterns)
	}

	e.l.Lock()
	if job, ok := e.jobs[id]; ok {
		// A terminal job can still be in the map while its store commit
		// is in flight; it must not look like it never existed.
		if job.status != StatusWatching {
			status := job.status
			e.l.Unlock()
			return nil, fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, id, status)
		}

		now := time.Now()
		if criteria != "" {
			job.criteria = criteria
			// New criteria means the next frame must be evaluated
			// even if pixels did not move.
			job.gate = NewDiffGate(e.opts.DiffDownsampleWidth,
				e.opts.DiffPixelThreshold, e.opts.DiffChangeRatio)
		}
		if req.TimeoutS > 0 {
			job.timeoutS = req.TimeoutS
			job.deadline = now.Add(time.Duration(req.TimeoutS) * time.Second)
		}
		if note != "" {
			job.notes = append(job.notes, note)
		}
		if req.Patterns != nil {
			job.patterns = patterns
		}
		job.gen++
		job.nextCheckAt = now
		snap := job.snapshot(now)
		e.l.Unlock()

		e.logger.Info("updated wait", "wait_id", id)
		e.broker.Publish(&stream.Event{
			Topic:   stream.TopicWait,
			Type:    stream.TypeWaitUpdated,
			Key:     id,
			Payload: snap,
		})
		e.kick()
		return snap, nil
	}
	e.l.Unlock()

	rec, err := e.store.GetTerminal(id)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, id, rec.Status)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Cancel transitions a watching job to cancelled. Cancelling an already
// terminal job is a no-op returning its final snapshot.
func (e *Engine) Cancel(id, reason string) (*Snapshot, error) {
	detail := strings.TrimSpace(reason)
	if detail == "" {
		detail = "(no reason)"
	}

	if snap, ok := e.finalize(id, StatusCancelled, detail); ok {
		return snap, nil
	}

	// An earlier terminal writer won but may still be committing, in which
	// case the job is in the map rather than the store.
	e.l.RLock()
	if job, ok := e.jobs[id]; ok {
		snap := job.snapshot(time.Now())
		e.l.RUnlock()
		return snap, nil
	}
	e.l.RUnlock()

	rec, err := e.store.GetTerminal(id)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return snapshotFromRecord(rec), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Status returns the snapshot for one wait, terminal or active.
func (e *Engine) Status(id string) (*Snapshot, error) {
	e.l.RLock()
	if job, ok := e.jobs[id]; ok {
		snap := job.snapshot(time.Now())
		e.l.RUnlock()
		return snap, nil
	}
	e.l.RUnlock()

	rec, err := e.store.GetTerminal(id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return snapshotFromRecord(rec), nil
}

// List returns snapshots of all active jobs, oldest first.
func (e *Engine) List() []*Snapshot {
	now := time.Now()

	e.l.RLock()
	snaps := make([]*Snapshot, 0, len(e.jobs))
	for _, job := range e.jobs {
		snaps = append(snaps, job.snapshot(now))
	}
	e.l.RUnlock()

	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].ID < snaps[j].ID
		}
		return snaps[i].CreatedAt.Before(snaps[j].CreatedAt)
	})
	return snaps
}

// ListTerminal returns snapshots of finished jobs from the store, most
// recently resolved last.
func (e *Engine) ListTerminal() ([]*Snapshot, error) {
	recs, err := e.store.ListTerminal()
	if err != nil {
		return nil, err
	}

	snaps := make([]*Snapshot, 0, len(recs))
	for _, rec := range recs {
		snaps = append(snaps, snapshotFromRecord(rec))
	}
	sort.Slice(snaps, func(i, j int) bool {
		a, b := snaps[i], snaps[j]
		at, bt := a.CreatedAt, b.CreatedAt
		if a.ResolvedAt != nil {
			at = *a.ResolvedAt
		}
		if b.ResolvedAt != nil {
			bt = *b.ResolvedAt
		}
		if at.Equal(bt) {
			return a.ID < b.ID
		}
		return at.Before(bt)
	})
	return snaps, nil
}

// Stats is a point in time summary of engine load.
type Stats struct {
	Active     int
	Evaluating int
}

func (e *Engine) Stats() *Stats {
	e.l.RLock()
	defer e.l.RUnlock()

	stats := &Stats{Active: len(e.jobs)}
	for _, job := range e.jobs {
		if job.evaluating {
			stats.Evaluating++
		}
	}
	return stats
}

// EmitStats publishes engine gauges until stopCh closes.
func (e *Engine) EmitStats(period time.Duration, stopCh <-chan struct{}) {
	timer, stop := helper.NewSafeTimer(period)
	defer stop()

	for {
		timer.Reset(period)
		select {
		case <-timer.C:
			stats := e.Stats()
			metrics.SetGauge([]string{"smartwait", "engine", "active"}, float32(stats.Active))
			metrics.SetGauge([]string{"smartwait", "engine", "evaluating"}, float32(stats.Evaluating))
		case <-stopCh:
			return
		}
	}
}

// kick wakes the scheduler without blocking.
func (e *Engine) kick() {
	select {
	case e.kickCh <- struct{}{}:
	default:
	}
}

// expiredJob carries a timeout decision out of the collect critical section.
type expiredJob struct {
	id     string
	detail string
}

// collect partitions active jobs into timed out and due-for-evaluation sets,
// marking due jobs as evaluating. Jobs with an evaluation already in flight
// are skipped entirely; a resolving in-flight call beats the timeout.
func (e *Engine) collect(now time.Time) (expired []expiredJob, due []string, nextWake time.Duration) {
	e.l.Lock()
	defer e.l.Unlock()

	nextWake = maxLoopSleep
	for id, job := range e.jobs {
		if job.status != StatusWatching || job.evaluating {
			continue
		}
		if !now.Before(job.deadline) {
			last := job.lastDetail
			if last == "" {
				last = "(none)"
			}
			expired = append(expired, expiredJob{
				id:     id,
				detail: fmt.Sprintf("Timeout after %ds. Last observation: %s", job.timeoutS, last),
			})
			continue
		}
		if !now.Before(job.nextCheckAt) {
			job.evaluating = true
			due = append(due, id)
			continue
		}
		if d := job.nextCheckAt.Sub(now); d < nextWake {
			nextWake = d
		}
		if d := job.deadline.Sub(now); d < nextWake {
			nextWake = d
		}
	}
	if nextWake < 0 {
		nextWake = 0
	}
	return expired, due, nextWake
}

// run is the scheduler loop.
func (e *Engine) run(ctx context.Context) {
	defer close(e.doneCh)

	e.logger.Info("wait engine started")
	defer e.logger.Info("wait engine stopped")

	timer, stop := helper.NewStoppedTimer()
	defer stop()

	for {
		if ctx.Err() != nil {
			return
		}

		now := time.Now()
		expired, due, nextWake := e.collect(now)

		for _, x := range expired {
			e.finalize(x.id, StatusTimeout, x.detail)
		}

		if len(due) > 0 {
			// Evaluate the whole batch in parallel and wait for it;
			// timeouts for these jobs are enforced on the next pass.
			var wg sync.WaitGroup
			for _, id := range due {
				wg.Add(1)
				go func(id string) {
					defer wg.Done()
					e.evaluateJob(ctx, id)
				}(id)
			}
			wg.Wait()
			continue
		}

		if len(expired) > 0 {
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(nextWake)

		select {
		case <-ctx.Done():
			return
		case <-e.kickCh:
		case <-timer.C:
		}
	}
}

// evaluateJob runs one capture/diff/vision pass for a job. Panics terminate
// the job, never the engine.
func (e *Engine) evaluateJob(ctx context.Context, id string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("evaluation panicked", "wait_id", id, "panic", r)
			e.finalize(id, StatusError, fmt.Sprintf("evaluation panicked: %v", r))
		}
	}()

	e.l.RLock()
	job, ok := e.jobs[id]
	if !ok || job.status != StatusWatching {
		e.l.RUnlock()
		return
	}
	target := job.target
	display := job.display
	criteria := job.criteria
	patterns := job.patterns
	gate := job.gate
	createdAt := job.createdAt
	gen := job.gen
	e.l.RUnlock()

	metrics.IncrCounter([]string{"smartwait", "engine", "evaluations"}, 1)

	// Terminal output can resolve a pty wait without a model call. The
	// session id is advisory; unknown sessions fall through to vision.
	if target.Kind == capture.TargetPty && e.ptys != nil {
		if output, ok := e.ptys.Tail(target.SessionID, ptyTailLines); ok {
			if detail := tryPtyMatch(output, criteria, patterns); detail != "" {
				e.logger.Debug("pty fast path matched", "wait_id", id, "detail", detail)
				e.finalize(id, StatusResolved, detail)
				return
			}
		}
	}

	var frame *capture.Frame
	err := e.arbiter.WithLock(display, func() error {
		var cerr error
		frame, cerr = e.source.Capture(ctx, display, target)
		return cerr
	})
	if err != nil {
		// Transient; the job keeps watching until its deadline.
		e.logger.Debug("capture failed", "wait_id", id, "error", err)
		e.rescheduleJob(id, gen, fmt.Sprintf("capture failed: %v", err))
		return
	}

	if !gate.ShouldEvaluate(frame) {
		metrics.IncrCounter([]string{"smartwait", "engine", "diff_skips"}, 1)
		e.rescheduleJob(id, gen, "no visible change")
		return
	}

	metrics.IncrCounter([]string{"smartwait", "engine", "vision_calls"}, 1)
	reply, err := e.vision.Evaluate(ctx, &vision.Request{
		Frame:    frame,
		Criteria: criteria,
		Elapsed:  time.Since(createdAt),
		WaitID:   id,
	})
	if err != nil {
		e.logger.Debug("vision call failed", "wait_id", id, "error", err)
		e.rescheduleJob(id, gen, err.Error())
		return
	}

	verdict := ParseVerdict(reply)
	e.logger.Debug("verdict", "wait_id", id, "resolved", verdict.Resolved, "detail", verdict.Detail)
	if verdict.Resolved {
		e.finalize(id, StatusResolved, verdict.Detail)
		return
	}
	e.rescheduleJob(id, gen, verdict.Detail)
}

// rescheduleJob records an observation and queues the next check. A job
// finalized while its evaluation was in flight is left alone; one updated
// mid-flight is rechecked immediately so the new parameters apply.
func (e *Engine) rescheduleJob(id string, gen uint64, detail string) {
	e.l.Lock()
	defer e.l.Unlock()

	job, ok := e.jobs[id]
	if !ok || job.status != StatusWatching {
		return
	}
	job.lastDetail = detail
	job.evaluating = false
	if job.gen != gen {
		job.nextCheckAt = time.Now()
		return
	}
	job.nextCheckAt = time.Now().Add(job.interval)
}

// finalize performs the one terminal transition for a job. The first caller
// writes the terminal status; later callers for the same id get ok=false.
// Store, task sink, event and wake side effects run only for the winner,
// after the terminal write. The job stays in the map until the store commit
// completes so the id is always in the active map or the terminal records,
// never neither.
func (e *Engine) finalize(id string, status Status, detail string) (*Snapshot, bool) {
	now := time.Now()

	e.l.Lock()
	job, ok := e.jobs[id]
	if !ok || job.status != StatusWatching {
		e.l.Unlock()
		return nil, false
	}
	job.status = status
	job.lastDetail = detail
	job.resolvedAt = now

	snap := job.snapshot(now)
	rec := job.record()
	taskID := job.taskID
	criteria := job.criteria
	e.l.Unlock()

	e.logger.Info("wait finished", "wait_id", id, "status", status, "detail", detail)

	if err := e.store.MarkTerminal(rec); err != nil {
		e.logger.Error("failed to persist terminal wait", "wait_id", id, "error", err)
	}

	e.l.Lock()
	delete(e.jobs, id)
	e.l.Unlock()

	if taskID != "" {
		content := fmt.Sprintf("Wait %s: %s → %s", status, criteria, detail)
		if err := e.tasks.PostWaitMessage(taskID, string(status), content); err != nil {
			e.logger.Warn("failed to post task message", "wait_id", id,
				"task_id", taskID, "error", err)
		}
		if err := e.tasks.UpdateWaitState(taskID, &tasks.WaitStateUpdate{
			RemoveID:    id,
			LastState:   string(status),
			LastEventAt: now,
		}); err != nil {
			e.logger.Warn("failed to update task wait state", "wait_id", id,
				"task_id", taskID, "error", err)
		}
	}

	e.broker.Publish(&stream.Event{
		Topic:   stream.TopicWait,
		Type:    eventTypeForStatus(status),
		Key:     id,
		Payload: snap,
	})

	metrics.IncrCounter([]string{"smartwait", "engine", counterForStatus(status)}, 1)

	e.dispatchWake(e.wakeText(snap))

	return snap, true
}

// dispatchWake delivers one wake notification without blocking the caller.
// The notification outlives engine context cancellation; Shutdown waits for
// it instead.
func (e *Engine) dispatchWake(text string) {
	e.wakeWG.Add(1)
	go func() {
		defer e.wakeWG.Done()

		timeout := time.Duration(e.opts.WakeNotifyTimeoutS) * time.Second
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := e.notifier.Notify(ctx, text); err != nil {
			e.logger.Error("wake notification failed", "error", err, "text", text)
		}
	}()
}

// wakeText renders the one-line terminal summary for a job.
func (e *Engine) wakeText(snap *Snapshot) string {
	head := fmt.Sprintf("[%s %s] %s: %s", e.opts.WakeStatePrefix, snap.Status, snap.ID, snap.Criteria)
	if snap.Status == StatusResolved {
		return head + " → " + snap.LastDetail
	}
	return head + " — " + snap.LastDetail
}

func eventTypeForStatus(status Status) string {
	switch status {
	case StatusResolved:
		return stream.TypeWaitResolved
	case StatusTimeout:
		return stream.TypeWaitTimeout
	case StatusCancelled:
		return stream.TypeWaitCancelled
	default:
		return stream.TypeWaitError
	}
}

func counterForStatus(status Status) string {
	switch status {
	case StatusResolved:
		return "resolved"
	case StatusTimeout:
		return "timeouts"
	case StatusCancelled:
		return "cancelled"
	default:
		return "errors"
	}
}
