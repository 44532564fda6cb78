// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package ptys hosts pseudo-terminal sessions inside the agent. Waits on
// pty:<session-id> targets read session output through the registry, and
// clients can attach to sessions over the event stream endpoints.
package ptys

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/armon/circbuf"
	"github.com/creack/pty"
	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/hashicorp/smartwait/helper/uuid"
	"github.com/hashicorp/smartwait/stream"
)

const (
	defaultRows uint16 = 24
	defaultCols uint16 = 80

	// DefaultStopGrace is how long Stop waits after SIGTERM before
	// killing the process.
	DefaultStopGrace = 5 * time.Second
)

// StartOptions configure a new session.
type StartOptions struct {
	// Command is the argv to run. Required.
	Command []string

	// Dir is the working directory. Defaults to the agent's.
	Dir string

	// Env is the environment. Defaults to the agent's plus TERM.
	Env []string

	// Rows and Cols size the terminal. Zero values use 24x80.
	Rows, Cols uint16
}

// Registry tracks the agent's pty sessions.
type Registry struct {
	logger hclog.Logger
	broker *stream.Broker

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(logger hclog.Logger, broker *stream.Broker) *Registry {
	return &Registry{
		logger:   logger.Named("ptys"),
		broker:   broker,
		sessions: make(map[string]*Session),
	}
}

// Start launches a command under a new pty session.
func (r *Registry) Start(opts *StartOptions) (*Session, error) {
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("pty session requires a command")
	}

	rows, cols := opts.Rows, opts.Cols
	if rows == 0 {
		rows = defaultRows
	}
	if cols == 0 {
		cols = defaultCols
	}

	cmd := exec.Command(opts.Command[0], opts.Command[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = sessionEnv(opts.Env)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return nil, fmt.Errorf("failed to start pty session: %v", err)
	}

	ring, _ := circbuf.NewBuffer(ringSize)

	r.mu.Lock()
	id := uuid.Short()
	for _, exists := r.sessions[id]; exists; _, exists = r.sessions[id] {
		id = uuid.Short()
	}

	s := &Session{
		id:        id,
		command:   append([]string{}, opts.Command...),
		logger:    r.logger.With("session_id", id),
		startedAt: time.Now(),
		ptmx:      ptmx,
		cmd:       cmd,
		ring:      ring,
		attached:  make(map[int]chan []byte),
		waitCh:    make(chan struct{}),
	}
	r.sessions[id] = s
	r.mu.Unlock()

	go s.reader(r.onExit)

	metrics.IncrCounter([]string{"smartwait", "ptys", "started"}, 1)
	r.logger.Info("started pty session", "session_id", id, "command", strings.Join(opts.Command, " "))
	r.broker.Publish(&stream.Event{
		Topic:   stream.TopicPty,
		Type:    stream.TypePtyStarted,
		Key:     id,
		Payload: s.Info(),
	})

	return s, nil
}

func (r *Registry) onExit(s *Session) {
	info := s.Info()
	metrics.IncrCounter([]string{"smartwait", "ptys", "exited"}, 1)
	r.logger.Info("pty session exited", "session_id", s.ID(), "exit_code", info.ExitCode)
	r.broker.Publish(&stream.Event{
		Topic:   stream.TopicPty,
		Type:    stream.TypePtyExited,
		Key:     s.ID(),
		Payload: info,
	})
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns session infos sorted by start time, oldest first.
func (r *Registry) List() []*SessionInfo {
	r.mu.RLock()
	infos := make([]*SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, s.Info())
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].StartedAt.Equal(infos[j].StartedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// Tail returns the last n lines of a session's output. The bool reports
// whether the session exists.
func (r *Registry) Tail(id string, n int) (string, bool) {
	s, ok := r.Get(id)
	if !ok {
		return "", false
	}
	return s.Tail(n), true
}

// Stop terminates a session's process. The session stays listed so its final
// output remains readable.
func (r *Registry) Stop(id string, grace time.Duration) error {
	s, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("pty session %q not found", id)
	}
	return s.Stop(grace)
}

// Remove stops a session and drops it from the registry.
func (r *Registry) Remove(id string, grace time.Duration) error {
	s, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("pty session %q not found", id)
	}
	if err := s.Stop(grace); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	return nil
}

// Shutdown stops every session.
func (r *Registry) Shutdown(grace time.Duration) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.Stop(grace); err != nil {
				r.logger.Warn("failed to stop session during shutdown",
					"session_id", s.ID(), "error", err)
			}
		}(s)
	}
	wg.Wait()
}

func sessionEnv(env []string) []string {
	if env == nil {
		env = os.Environ()
	}
	for _, kv := range env {
		if strings.HasPrefix(kv, "TERM=") {
			return env
		}
	}
	return append(env, "TERM=xterm-256color")
}
