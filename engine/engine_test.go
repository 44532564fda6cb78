// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shoenig/test/must"
	"go.uber.org/goleak"

	"github.com/hashicorp/smartwait/capture"
	"github.com/hashicorp/smartwait/ci"
	"github.com/hashicorp/smartwait/helper/testlog"
	"github.com/hashicorp/smartwait/state"
	"github.com/hashicorp/smartwait/stream"
	"github.com/hashicorp/smartwait/tasks"
	"github.com/hashicorp/smartwait/testutil"
	"github.com/hashicorp/smartwait/vision"
)

// mockVision scripts model replies. The default reply keeps jobs watching.
type mockVision struct {
	mu    sync.Mutex
	calls int
	reqs  []*vision.Request

	// replyFn receives the 1-based call number.
	replyFn func(ctx context.Context, call int, req *vision.Request) (string, error)
}

func (m *mockVision) Evaluate(ctx context.Context, req *vision.Request) (string, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.reqs = append(m.reqs, req)
	fn := m.replyFn
	m.mu.Unlock()

	if fn == nil {
		return "NO: nothing yet", nil
	}
	return fn(ctx, call, req)
}

func (m *mockVision) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockVision) requests() []*vision.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*vision.Request(nil), m.reqs...)
}

// frameSource scripts captures. The default produces a frame different
// enough from the last one to pass the diff gate every time.
type frameSource struct {
	mu       sync.Mutex
	captures int

	// next receives the 1-based capture number.
	next func(call int, display string, target capture.Target) (*capture.Frame, error)
}

func (s *frameSource) Capture(_ context.Context, display string, target capture.Target) (*capture.Frame, error) {
	s.mu.Lock()
	s.captures++
	call := s.captures
	fn := s.next
	s.mu.Unlock()

	if fn == nil {
		return changingFrame(call), nil
	}
	return fn(call, display, target)
}

func (s *frameSource) captureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captures
}

// solidFrame builds a frame with every channel set to v.
func solidFrame(w, h int, v byte) *capture.Frame {
	pix := make([]byte, w*h*4)
	for i := range pix {
		pix[i] = v
	}
	return &capture.Frame{Width: w, Height: h, Pix: pix}
}

// changingFrame returns a frame whose pixels jump far past the diff
// threshold on every call.
func changingFrame(call int) *capture.Frame {
	return solidFrame(8, 8, byte((call*40)%256))
}

type mockNotifier struct {
	mu    sync.Mutex
	texts []string
	delay time.Duration
}

func (m *mockNotifier) Notify(ctx context.Context, text string) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	return nil
}

func (m *mockNotifier) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

type mockTailer struct {
	mu   sync.Mutex
	outs map[string]string
}

func (m *mockTailer) Tail(sessionID string, lines int) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out, ok := m.outs[sessionID]
	return out, ok
}

type testHarness struct {
	t        *testing.T
	engine   *Engine
	store    *state.MemDB
	sink     *tasks.MemorySink
	notifier *mockNotifier
	vision   *mockVision
	source   *frameSource
	broker   *stream.Broker
	tailer   *mockTailer
}

// fastOptions polls as fast as the clamp allows so tests converge quickly.
func fastOptions() *Options {
	opts := DefaultOptions()
	opts.MinPollS = 0.01
	return opts
}

func newTestHarness(t *testing.T, opts *Options) *testHarness {
	logger := testlog.HCLogger(t)
	if opts == nil {
		opts = fastOptions()
	}

	h := &testHarness{
		t:        t,
		store:    state.NewMemDB(logger),
		sink:     tasks.NewMemorySink(),
		notifier: &mockNotifier{},
		vision:   &mockVision{},
		source:   &frameSource{},
		broker:   stream.NewBroker(logger, 0),
		tailer:   &mockTailer{outs: map[string]string{}},
	}

	eng, err := NewEngine(&Config{
		Logger:   logger,
		Store:    h.store,
		Vision:   h.vision,
		Source:   h.source,
		Notifier: h.notifier,
		Tasks:    h.sink,
		Broker:   h.broker,
		Ptys:     h.tailer,
		Options:  opts,
	})
	must.NoError(t, err)

	h.engine = eng
	return h
}

func (h *testHarness) run() {
	h.engine.Run()
	h.t.Cleanup(h.engine.Shutdown)
}

func (h *testHarness) register(req *RegisterRequest) *Snapshot {
	if req.Target == "" {
		req.Target = "screen"
	}
	if req.Criteria == "" {
		req.Criteria = "the build finished"
	}
	if req.PollS == 0 {
		req.PollS = 0.01
	}
	snap, err := h.engine.Register(req)
	must.NoError(h.t, err)
	return snap
}

// forceDeadline moves a job's deadline into the past and wakes the
// scheduler.
func (h *testHarness) forceDeadline(id string) {
	h.engine.l.Lock()
	if job, ok := h.engine.jobs[id]; ok {
		job.deadline = time.Now().Add(-time.Millisecond)
	}
	h.engine.l.Unlock()
	h.engine.kick()
}

func (h *testHarness) waitTerminal(id string) *Snapshot {
	var snap *Snapshot
	testutil.WaitForResult(func() (bool, error) {
		s, err := h.engine.Status(id)
		if err != nil {
			return false, err
		}
		if !s.Status.Terminal() {
			return false, fmt.Errorf("wait %s still %s", id, s.Status)
		}
		snap = s
		return true, nil
	}, func(err error) {
		h.t.Fatalf("wait never became terminal: %v", err)
	})
	return snap
}

func (h *testHarness) waitWakes(n int) []string {
	var texts []string
	testutil.WaitForResult(func() (bool, error) {
		texts = h.notifier.Texts()
		if len(texts) != n {
			return false, fmt.Errorf("have %d wakes, want %d", len(texts), n)
		}
		return true, nil
	}, func(err error) {
		h.t.Fatalf("wake notifications: %v", err)
	})
	return texts
}

func TestNewEngine_Validation(t *testing.T) {
	ci.Parallel(t)
	logger := testlog.HCLogger(t)

	base := func() *Config {
		return &Config{
			Logger: logger,
			Store:  state.NewMemDB(logger),
			Vision: &mockVision{},
			Source: &frameSource{},
		}
	}

	conf := base()
	conf.Store = nil
	_, err := NewEngine(conf)
	must.ErrorContains(t, err, "state store")

	conf = base()
	conf.Vision = nil
	_, err = NewEngine(conf)
	must.ErrorContains(t, err, "vision adapter")

	conf = base()
	conf.Source = nil
	_, err = NewEngine(conf)
	must.ErrorContains(t, err, "capture source")

	eng, err := NewEngine(base())
	must.NoError(t, err)
	eng.Shutdown()
}

func TestEngine_Register_Validation(t *testing.T) {
	ci.Parallel(t)
	h := newTestHarness(t, nil)

	cases := []struct {
		name string
		req  *RegisterRequest
	}{
		{"empty criteria", &RegisterRequest{Target: "screen", Criteria: "   "}},
		{"empty target", &RegisterRequest{Target: "", Criteria: "done"}},
		{"unknown target kind", &RegisterRequest{Target: "tab:3", Criteria: "done"}},
		{"negative timeout", &RegisterRequest{Target: "screen", Criteria: "done", TimeoutS: -1}},
		{"negative poll", &RegisterRequest{Target: "screen", Criteria: "done", PollS: -0.5}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.engine.Register(tc.req)
			must.ErrorIs(t, err, ErrInvalidArg)
		})
	}

	must.SliceEmpty(t, h.engine.List())
}

func TestEngine_Register_Defaults(t *testing.T) {
	ci.Parallel(t)
	h := newTestHarness(t, nil)

	snap, err := h.engine.Register(&RegisterRequest{
		Target:   "window:0xdeadbeef",
		Display:  ":1",
		Criteria: "  the dialog is gone  ",
	})
	must.NoError(t, err)

	must.Eq(t, StatusWatching, snap.Status)
	must.Eq(t, "window:0xdeadbeef", snap.Target)
	must.Eq(t, ":1", snap.Display)
	must.Eq(t, "the dialog is gone", snap.Criteria)
	must.Eq(t, defaultTimeoutS, snap.TimeoutS)
	must.Eq(t, 8, len(snap.ID))

	h.engine.l.RLock()
	job := h.engine.jobs[snap.ID]
	interval := job.interval
	deadline := job.deadline
	h.engine.l.RUnlock()
	must.Eq(t, 2*time.Second, interval)
	must.False(t, deadline.IsZero())

	recs, err := h.store.ListActive()
	must.NoError(t, err)
	must.Len(t, 1, recs)
	must.Eq(t, snap.ID, recs[0].ID)
	must.Eq(t, string(StatusWatching), recs[0].Status)
}

func TestEngine_Register_ClampsPoll(t *testing.T) {
	ci.Parallel(t)
	h := newTestHarness(t, DefaultOptions())

	for _, tc := range []struct {
		pollS float64
		want  time.Duration
	}{
		{0.1, 500 * time.Millisecond},
		{2.0, 2 * time.Second},
		{60, 5 * time.Second},
	} {
		snap := h.register(&RegisterRequest{PollS: tc.pollS})
		h.engine.l.RLock()
		interval := h.engine.jobs[snap.ID].interval
		h.engine.l.RUnlock()
		must.Eq(t, tc.want, interval, must.Sprintf("poll_s=%v", tc.pollS))
	}
}

func TestEngine_ResolveLifecycle(t *testing.T) {
	ci.Parallel(t)
	h := newTestHarness(t, nil)

	sub := h.broker.Subscribe(&stream.SubscribeRequest{
		Topics: map[stream.Topic][]string{stream.TopicWait: {"*"}},
	})
	defer sub.Unsubscribe()

	h.vision.replyFn = func(_ context.Context, call int, _ *vision.Request) (string, error) {
		if call < 3 {
			return "NO: the build is still running", nil
		}
		return "YES: Build completed successfully", nil
	}

	h.run()
	snap := h.register(&RegisterRequest{Criteria: "the build finished", TaskID: "task9"})
	id := snap.ID

	final := h.waitTerminal(id)
	must.Eq(t, StatusResolved, final.Status)
	must.Eq(t, "Build completed successfully", final.LastDetail)
	must.NotNil(t, final.ResolvedAt)
	must.True(t, final.ElapsedS >= 0)

	// Out of the active set, into the store.
	must.SliceEmpty(t, h.engine.List())
	rec, err := h.store.GetTerminal(id)
	must.NoError(t, err)
	must.NotNil(t, rec)
	must.Eq(t, string(StatusResolved), rec.Status)
	must.Eq(t, "Build completed successfully", rec.Detail)

	// Exactly one wake with the full summary line.
	texts := h.waitWakes(1)
	must.Eq(t, fmt.Sprintf("[smart_wait resolved] %s: the build finished → Build completed successfully", id), texts[0])

	// Task board saw the message and the state update.
	msgs := h.sink.Messages("task9")
	must.Len(t, 1, msgs)
	must.Eq(t, "resolved", msgs[0].State)
	must.Eq(t, "Wait resolved: the build finished → Build completed successfully", msgs[0].Content)

	updates := h.sink.Updates("task9")
	must.Len(t, 1, updates)
	must.Eq(t, id, updates[0].RemoveID)
	must.Eq(t, "resolved", updates[0].LastState)
	must.SliceEmpty(t, h.sink.PendingWaits("task9"))

	// Event stream carried registration and resolution, in order.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ev1, err := sub.Next(ctx)
	must.NoError(t, err)
	must.Eq(t, stream.TypeWaitRegistered, ev1.Type)
	must.Eq(t, id, ev1.Key)

	var resolvedEv *stream.Event
	for {
		ev, err := sub.Next(ctx)
		must.NoError(t, err)
		if ev.Type == stream.TypeWaitResolved {
			resolvedEv = ev
			break
		}
	}
	must.Eq(t, id, resolvedEv.Key)
	must.Greater(t, ev1.Index, resolvedEv.Index)
}

func TestEngine_Timeout_CarriesLastObservation(t *testing.T) {
	ci.Parallel(t)
	h := newTestHarness(t, nil)

	h.vision.replyFn = func(context.Context, int, *vision.Request) (string, error) {
		return "NO: still compiling", nil
	}

	h.run()
	snap := h.register(&RegisterRequest{Criteria: "compile finished", TimeoutS: 3})
	id := snap.ID

	testutil.WaitForResult(func() (bool, error) {
		s, err := h.engine.Status(id)
		if err != nil {
			return false, err
		}
		return s.LastDetail == "still compiling", fmt.Errorf("last detail %q", s.LastDetail)
	}, func(err error) {
		t.Fatalf("no observation recorded: %v", err)
	})

	h.forceDeadline(id)

	final := h.waitTerminal(id)
	must.Eq(t, StatusTimeout, final.Status)
	must.Eq(t, "Timeout after 3s. Last observation: still compiling", final.LastDetail)

	texts := h.waitWakes(1)
	must.Eq(t, fmt.Sprintf("[smart_wait timeout] %s: compile finished — Timeout after 3s. Last observation: still compiling", id), texts[0])
}

func TestEngine_Timeout_NoObservation(t *testing.T) {
	ci.Parallel(t)
	h := newTestHarness(t, nil)

	// Expire the job before the scheduler ever evaluates it.
	snap := h.register(&RegisterRequest{Criteria: "it happened", TimeoutS: 60})
	h.forceDeadline(snap.ID)
	h.run()

	final := h.waitTerminal(snap.ID)
	must.Eq(t, StatusTimeout, final.Status)
	must.Eq(t, "Timeout after 60s. Last observation: (none)", final.LastDetail)
	must.Zero(t, h.vision.callCount())
}

func TestEngine_Cancel(t *testing.T) {
	ci.Parallel(t)
	h := newTestHarness(t, nil)

	snap := h.register(&RegisterRequest{Criteria: "deploy is green"})
	id := snap.ID

	got, err := h.engine.Cancel(id, "superseded by new deploy")
	must.NoError(t, err)
	must.Eq(t, StatusCancelled, got.Status)
	must.Eq(t, "superseded by new deploy", got.LastDetail)

	// Cancelling a finished wait is a no-op that reports the outcome.
	again, err := h.engine.Cancel(id, "whatever")
	must.NoError(t, err)
	must.Eq(t, StatusCancelled, again.Status)
	must.Eq(t, "superseded by new deploy", again.LastDetail)

	_, err = h.engine.Cancel("nope1234", "")
	must.ErrorIs(t, err, ErrNotFound)

	texts := h.waitWakes(1)
	must.Eq(t, fmt.Sprintf("[smart_wait cancelled] %s: deploy is green — superseded by new deploy", id), texts[0])
}

func TestEngine_Cancel_NoReason(t *testing.T) {
	ci.Parallel(t)
	h := newTestHarness(t, nil)

	snap := h.register(&RegisterRequest{})
	got, err := h.engine.Cancel(snap.ID, "   ")
	must.NoError(t, err)
	must.Eq(t, "(no reason)", got.LastDetail)

	texts := h.waitWakes(1)
	must.StrContains(t, texts[0], "— (no reason)")
}

func TestEngine_Update(t *testing.T) {
	ci.Parallel(t)
	h := newTestHarness(t, nil)

	snap := h.register(&RegisterRequest{Criteria: "old condition", TimeoutS: 30})
	id := snap.ID

	h.engine.l.RLock()
	before := h.engine.jobs[id].deadline
	h.engine.l.RUnlock()

	got, err := h.engine.Update(id, &UpdateRequest{
		Criteria: "new condition",
		TimeoutS: 600,
		Note:     "operator extended the wait",
	})
	must.NoError(t, err)
	must.Eq(t, "new condition", got.Criteria)
	must.Eq(t, 600, got.TimeoutS)
	must.Len(t, 1, got.Notes)
	must.Eq(t, "operator extended the wait", got.Notes[0])

	h.engine.l.RLock()
	after := h.engine.jobs[id].deadline
	h.engine.l.RUnlock()
	must.True(t, after.After(before))

	// Nothing to change.
	_, err = h.engine.Update(id, &UpdateRequest{})
	must.ErrorIs(t, err, ErrInvalidArg)

	_, err = h.engine.Update(id, &UpdateRequest{TimeoutS: -5})
	must.ErrorIs(t, err, ErrInvalidArg)

	_, err = h.engine.Update("nope1234", &UpdateRequest{Note: "x"})
	must.ErrorIs(t, err, ErrNotFound)

	_, err = h.engine.Cancel(id, "")
	must.NoError(t, err)
	_, err = h.engine.Update(id, &UpdateRequest{Note: "too late"})
	must.ErrorIs(t, err, ErrAlreadyTerminal)
}

func TestEngine_Update_ResetsDiffGate(t *testing.T) {
	ci.Parallel(t)
	h := newTestHarness(t, nil)

	// The screen never changes, so after the first vision call the gate
	// suppresses the rest.
	h.source.next = func(int, string, capture.Target) (*capture.Frame, error) {
		return solidFrame(8, 8, 120), nil
	}

	h.run()
	snap := h.register(&RegisterRequest{Criteria: "old condition"})
	id := snap.ID

	testutil.WaitForResult(func() (bool, error) {
		if n := h.vision.callCount(); n != 1 {
			return false, fmt.Errorf("vision calls %d", n)
		}
		s, err := h.engine.Status(id)
		if err != nil {
			return false, err
		}
		return s.LastDetail == "no visible change", fmt.Errorf("last detail %q", s.LastDetail)
	}, func(err error) {
		t.Fatalf("gate never settled: %v", err)
	})

	_, err := h.engine.Update(id, &UpdateRequest{Criteria: "new condition"})
	must.NoError(t, err)

	// Same pixels, fresh gate: the new criteria gets one evaluation.
	testutil.WaitForResult(func() (bool, error) {
		return h.vision.callCount() == 2, fmt.Errorf("vision calls %d", h.vision.callCount())
	}, func(err error) {
		t.Fatalf("no re-evaluation after update: %v", err)
	})

	reqs := h.vision.requests()
	must.Eq(t, "old condition", reqs[0].Criteria)
	must.Eq(t, "new condition", reqs[1].Criteria)
}

func TestEngine_DiffGate_SuppressesVision(t *testing.T) {
	ci.Parallel(t)
	h := newTestHarness(t, nil)

	h.source.next = func(int, string, capture.Target) (*capture.Frame, error) {
		return solidFrame(8, 8, 200), nil
	}

	h.run()
	snap := h.register(&RegisterRequest{})
	id := snap.ID

	// Let plenty of polls happen.
	testutil.WaitForResult(func() (bool, error) {
		return h.source.captureCount() >= 8, fmt.Errorf("captures %d", h.source.captureCount())
	}, func(err error) {
		t.Fatalf("polling stalled: %v", err)
	})

	must.Eq(t, 1, h.vision.callCount())

	s, err := h.engine.Status(id)
	must.NoError(t, err)
	must.Eq(t, StatusWatching, s.Status)
	must.Eq(t, "no visible change", s.LastDetail)
}

func TestEngine_CaptureFailure_IsTransient(t *testing.T) {
	ci.Parallel(t)
	h := newTestHarness(t, nil)

	var failing atomic.Bool
	failing.Store(true)
	h.source.next = func(call int, _ string, _ capture.Target) (*capture.Frame, error) {
		if failing.Load() {
			return nil, errors.New("display offline")
		}
		return changingFrame(call), nil
	}
	h.vision.replyFn = func(context.Context, int, *vision.Request) (string, error) {
		return "YES: there it is", nil
	}

	h.run()
	snap := h.register(&RegisterRequest{})
	id := snap.ID

	testutil.WaitForResult(func() (bool, error) {
		s, err := h.engine.Status(id)
		if err != nil {
			return false, err
		}
		if s.Status != StatusWatching {
			return false, fmt.Errorf("status %s", s.Status)
		}
		return s.LastDetail == "capture failed: display offline", fmt.Errorf("last detail %q", s.LastDetail)
	}, func(err error) {
		t.Fatalf("capture failure not recorded: %v", err)
	})
	must.Zero(t, h.vision.callCount())

	failing.Store(false)

	final := h.waitTerminal(id)
	must.Eq(t, StatusResolved, final.Status)
	must.Eq(t, "there it is", final.LastDetail)
}

func TestEngine_VisionFailure_IsTransient(t *testing.T) {
	ci.Parallel(t)
	h := newTestHarness(t, nil)

	var failing atomic.Bool
	failing.Store(true)
	h.vision.replyFn = func(context.Context, int, *vision.Request) (string, error) {
		if failing.Load() {
			return "", errors.New("model unavailable")
		}
		return "YES: visible now", nil
	}

	h.run()
	snap := h.register(&RegisterRequest{})
	id := snap.ID

	testutil.WaitForResult(func() (bool, error) {
		s, err := h.engine.Status(id)
		if err != nil {
			return false, err
		}
		if s.Status != StatusWatching {
			return false, fmt.Errorf("status %s", s.Status)
		}
		return s.LastDetail == "model unavailable", fmt.Errorf("last detail %q", s.LastDetail)
	}, func(err error) {
		t.Fatalf("vision failure not recorded: %v", err)
	})

	failing.Store(false)

	final := h.waitTerminal(id)
	must.Eq(t, StatusResolved, final.Status)
}

func TestEngine_PtyFastPath_Pattern(t *testing.T) {
	ci.Parallel(t)
	h := newTestHarness(t, nil)

	h.tailer.outs["sess1"] = "compiling widgets\nlinking\nBUILD OK\n$"

	h.run()
	snap := h.register(&RegisterRequest{
		Target:   "pty:sess1",
		Criteria: "the build finished",
		Patterns: []string{`BUILD (OK|PASSED)`},
	})

	final := h.waitTerminal(snap.ID)
	must.Eq(t, StatusResolved, final.Status)
	must.StrContains(t, final.LastDetail, "Regex matched 'BUILD (OK|PASSED)': BUILD OK")
	must.StrContains(t, final.LastDetail, "Context:")

	// The terminal output answered; no pixels or model involved.
	must.Zero(t, h.source.captureCount())
	must.Zero(t, h.vision.callCount())
}

func TestEngine_PtyFastPath_Containment(t *testing.T) {
	ci.Parallel(t)
	h := newTestHarness(t, nil)

	h.tailer.outs["sess2"] = "ok\tgithub.com/acme/widgets\t0.42s\nAll Tests Passed\n$"

	h.run()
	snap := h.register(&RegisterRequest{
		Target:   "pty:sess2",
		Criteria: "tests passed",
	})

	final := h.waitTerminal(snap.ID)
	must.Eq(t, StatusResolved, final.Status)
	must.Eq(t, "Output matched 'tests passed'", final.LastDetail)
	must.Zero(t, h.vision.callCount())
}

func TestEngine_PtyFastPath_UnknownSessionFallsBack(t *testing.T) {
	ci.Parallel(t)
	h := newTestHarness(t, nil)

	h.vision.replyFn = func(context.Context, int, *vision.Request) (string, error) {
		return "YES: prompt is back", nil
	}

	h.run()
	snap := h.register(&RegisterRequest{Target: "pty:ghost", Criteria: "prompt is back"})

	final := h.waitTerminal(snap.ID)
	must.Eq(t, StatusResolved, final.Status)
	must.Eq(t, "prompt is back", final.LastDetail)

	// No session to read, so the job went through capture and vision.
	must.Greater(t, 0, h.source.captureCount())
	must.Greater(t, 0, h.vision.callCount())
}

func TestEngine_CancelBeatsInflightResolve(t *testing.T) {
	ci.Parallel(t)
	h := newTestHarness(t, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.vision.replyFn = func(ctx context.Context, _ int, _ *vision.Request) (string, error) {
		close(entered)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return "YES: resolved late", nil
	}

	h.run()
	snap := h.register(&RegisterRequest{Criteria: "window closed"})
	id := snap.ID

	<-entered
	got, err := h.engine.Cancel(id, "changed my mind")
	must.NoError(t, err)
	must.Eq(t, StatusCancelled, got.Status)
	close(release)

	// The late YES must not produce a second terminal record or wake.
	texts := h.waitWakes(1)
	must.StrContains(t, texts[0], "[smart_wait cancelled]")

	testutil.AssertUntil(300*time.Millisecond, func() (bool, error) {
		if n := len(h.notifier.Texts()); n != 1 {
			return false, fmt.Errorf("wakes %d", n)
		}
		rec, err := h.store.GetTerminal(id)
		if err != nil || rec == nil {
			return false, fmt.Errorf("terminal record missing")
		}
		if rec.Status != string(StatusCancelled) {
			return false, fmt.Errorf("terminal status %s", rec.Status)
		}
		return true, nil
	}, func(err error) {
		t.Fatalf("late resolve leaked through: %v", err)
	})
}

func TestEngine_SameDisplayCapturesSerialized(t *testing.T) {
	ci.Parallel(t)
	h := newTestHarness(t, nil)

	var inFlight, peak int64
	h.source.next = func(call int, _ string, _ capture.Target) (*capture.Frame, error) {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return changingFrame(call), nil
	}

	h.run()
	for i := 0; i < 3; i++ {
		h.register(&RegisterRequest{Display: ":7", Criteria: "anything"})
	}

	testutil.WaitForResult(func() (bool, error) {
		return h.source.captureCount() >= 6, fmt.Errorf("captures %d", h.source.captureCount())
	}, func(err error) {
		t.Fatalf("polling stalled: %v", err)
	})

	must.Eq(t, int64(1), atomic.LoadInt64(&peak))
}

func TestEngine_DistinctDisplaysCaptureInParallel(t *testing.T) {
	ci.Parallel(t)
	h := newTestHarness(t, nil)

	var inFlight, peak int64
	h.source.next = func(call int, _ string, _ capture.Target) (*capture.Frame, error) {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
				break
			}
		}
		time.Sleep(25 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return changingFrame(call), nil
	}

	h.run()
	h.register(&RegisterRequest{Display: ":1", Criteria: "anything"})
	h.register(&RegisterRequest{Display: ":2", Criteria: "anything"})

	testutil.WaitForResult(func() (bool, error) {
		return atomic.LoadInt64(&peak) >= 2, fmt.Errorf("peak %d", atomic.LoadInt64(&peak))
	}, func(err error) {
		t.Fatalf("displays never captured in parallel: %v", err)
	})
}

func TestEngine_EvaluationPanicFailsJob(t *testing.T) {
	ci.Parallel(t)
	h := newTestHarness(t, nil)

	h.vision.replyFn = func(_ context.Context, call int, _ *vision.Request) (string, error) {
		if call == 1 {
			panic("kaboom")
		}
		return "YES: recovered", nil
	}

	h.run()
	snap := h.register(&RegisterRequest{Criteria: "first"})

	final := h.waitTerminal(snap.ID)
	must.Eq(t, StatusError, final.Status)
	must.StrContains(t, final.LastDetail, "evaluation panicked")
	must.StrContains(t, final.LastDetail, "kaboom")

	texts := h.waitWakes(1)
	must.StrContains(t, texts[0], "[smart_wait error]")

	// The scheduler survived and keeps serving new jobs.
	snap2 := h.register(&RegisterRequest{Criteria: "second"})
	final2 := h.waitTerminal(snap2.ID)
	must.Eq(t, StatusResolved, final2.Status)
	must.Eq(t, "recovered", final2.LastDetail)
}

func TestEngine_OrphanedWaitsFailOnStartup(t *testing.T) {
	ci.Parallel(t)
	logger := testlog.HCLogger(t)

	store := state.NewMemDB(logger)
	must.NoError(t, store.PutActive(&state.WaitRecord{
		ID:        "stale123",
		Target:    "screen",
		Criteria:  "never finished",
		TimeoutS:  300,
		PollS:     2,
		Status:    string(StatusWatching),
		CreatedAt: time.Now().Add(-time.Hour),
	}))

	notifier := &mockNotifier{}
	eng, err := NewEngine(&Config{
		Logger:   logger,
		Store:    store,
		Vision:   &mockVision{},
		Source:   &frameSource{},
		Notifier: notifier,
	})
	must.NoError(t, err)
	defer eng.Shutdown()

	snap, err := eng.Status("stale123")
	must.NoError(t, err)
	must.Eq(t, StatusError, snap.Status)
	must.Eq(t, "daemon restarted while watching", snap.LastDetail)

	recs, err := store.ListActive()
	must.NoError(t, err)
	must.SliceEmpty(t, recs)

	// Stale jobs fail quietly; nobody gets woken for them.
	must.SliceEmpty(t, notifier.Texts())
}

func TestEngine_ShutdownDrainsWakes(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newTestHarness(t, nil)
	h.notifier.delay = 50 * time.Millisecond
	h.vision.replyFn = func(context.Context, int, *vision.Request) (string, error) {
		return "YES: done", nil
	}

	h.engine.Run()
	snap := h.register(&RegisterRequest{})
	h.waitTerminal(snap.ID)

	h.engine.Shutdown()
	must.Len(t, 1, h.notifier.Texts())
	h.broker.Shutdown()
}

func TestEngine_ListOrdering(t *testing.T) {
	ci.Parallel(t)
	h := newTestHarness(t, nil)

	var ids []string
	for i := 0; i < 3; i++ {
		snap := h.register(&RegisterRequest{Criteria: fmt.Sprintf("condition %d", i)})
		ids = append(ids, snap.ID)
		time.Sleep(2 * time.Millisecond)
	}

	list := h.engine.List()
	must.Len(t, 3, list)
	for i, snap := range list {
		must.Eq(t, ids[i], snap.ID)
	}

	_, err := h.engine.Cancel(ids[0], "")
	must.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = h.engine.Cancel(ids[2], "")
	must.NoError(t, err)

	must.Len(t, 1, h.engine.List())

	term, err := h.engine.ListTerminal()
	must.NoError(t, err)
	must.Len(t, 2, term)
	must.Eq(t, ids[0], term[0].ID)
	must.Eq(t, ids[2], term[1].ID)
}

func TestEngine_Status_NotFound(t *testing.T) {
	ci.Parallel(t)
	h := newTestHarness(t, nil)

	_, err := h.engine.Status("nope1234")
	must.ErrorIs(t, err, ErrNotFound)
}

func TestEngine_Stats(t *testing.T) {
	ci.Parallel(t)
	h := newTestHarness(t, nil)

	h.register(&RegisterRequest{})
	h.register(&RegisterRequest{})

	stats := h.engine.Stats()
	must.Eq(t, 2, stats.Active)
	must.Eq(t, 0, stats.Evaluating)
}

// stallingStore blocks terminal commits until released so tests can observe
// the engine while a store write is in flight.
type stallingStore struct {
	state.StateDB
	enterCh   chan struct{}
	releaseCh chan struct{}
}

func (s *stallingStore) MarkTerminal(rec *state.WaitRecord) error {
	s.enterCh <- struct{}{}
	<-s.releaseCh
	return s.StateDB.MarkTerminal(rec)
}

func TestEngine_TerminalCommit_KeepsIDVisible(t *testing.T) {
	ci.Parallel(t)
	logger := testlog.HCLogger(t)

	store := &stallingStore{
		StateDB:   state.NewMemDB(logger),
		enterCh:   make(chan struct{}),
		releaseCh: make(chan struct{}),
	}
	release := sync.OnceFunc(func() { close(store.releaseCh) })
	t.Cleanup(release)

	eng, err := NewEngine(&Config{
		Logger:   logger,
		Store:    store,
		Vision:   &mockVision{},
		Source:   &frameSource{},
		Notifier: &mockNotifier{},
		Options:  fastOptions(),
	})
	must.NoError(t, err)
	t.Cleanup(eng.Shutdown)

	snap, err := eng.Register(&RegisterRequest{
		Target:   "screen",
		Criteria: "the deploy finished",
		TimeoutS: 60,
		PollS:    1,
	})
	must.NoError(t, err)
	id := snap.ID

	cancelErrCh := make(chan error, 1)
	go func() {
		_, err := eng.Cancel(id, "user aborted")
		cancelErrCh <- err
	}()

	// The cancel is now stalled inside the store commit.
	<-store.enterCh

	// The id must stay visible throughout the commit.
	got, err := eng.Status(id)
	must.NoError(t, err)
	must.Eq(t, StatusCancelled, got.Status)

	// A second cancel is a terminal no-op returning the final snapshot,
	// not NotFound.
	again, err := eng.Cancel(id, "changed my mind")
	must.NoError(t, err)
	must.Eq(t, StatusCancelled, again.Status)
	must.Eq(t, "user aborted", again.LastDetail)

	// Updates report the terminal state rather than NotFound.
	_, err = eng.Update(id, &UpdateRequest{Note: "nudge"})
	must.ErrorIs(t, err, ErrAlreadyTerminal)

	release()
	must.NoError(t, <-cancelErrCh)

	// Once the commit lands the job leaves the active map and is served
	// from the store.
	testutil.WaitForResult(func() (bool, error) {
		eng.l.RLock()
		_, live := eng.jobs[id]
		eng.l.RUnlock()
		return !live, fmt.Errorf("wait %s still in active map", id)
	}, func(err error) {
		t.Fatalf("job never left the active map: %v", err)
	})

	got, err = eng.Status(id)
	must.NoError(t, err)
	must.Eq(t, StatusCancelled, got.Status)

	rec, err := store.GetTerminal(id)
	must.NoError(t, err)
	must.NotNil(t, rec)
	must.Eq(t, string(StatusCancelled), rec.Status)
}
