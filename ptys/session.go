// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package ptys

import (
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/armon/circbuf"
	"github.com/creack/pty"
	hclog "github.com/hashicorp/go-hclog"
)

const (
	// ringSize is how much recent output each session retains. Waits only
	// ever look at the tail, so a bounded ring is enough.
	ringSize = 64 * 1024

	// attachBufferLen is the channel depth for attached readers. Readers
	// that fall behind lose frames rather than stalling the session.
	attachBufferLen = 32
)

// ansiEscapes matches CSI and OSC escape sequences so tailed output can be
// pattern matched as plain text.
var ansiEscapes = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07\x1b]*(\x07|\x1b\\)`)

// SessionInfo is a point in time view of a session.
type SessionInfo struct {
	ID        string     `json:"id"`
	Command   []string   `json:"command"`
	Running   bool       `json:"running"`
	ExitCode  int        `json:"exit_code"`
	StartedAt time.Time  `json:"started_at"`
	ExitedAt  *time.Time `json:"exited_at,omitempty"`
}

// Session is one process running under a pseudo-terminal. Output is retained
// in a ring buffer and fanned out to attached readers.
type Session struct {
	id      string
	command []string
	logger  hclog.Logger

	startedAt time.Time

	mu         sync.Mutex
	ptmx       *os.File
	cmd        *exec.Cmd
	ring       *circbuf.Buffer
	attached   map[int]chan []byte
	nextAttach int
	exited     bool
	exitCode   int
	exitedAt   time.Time

	// waitCh is closed once the process has exited and its output has
	// been fully drained into the ring.
	waitCh chan struct{}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Info() *SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := &SessionInfo{
		ID:        s.id,
		Command:   append([]string{}, s.command...),
		Running:   !s.exited,
		ExitCode:  s.exitCode,
		StartedAt: s.startedAt,
	}
	if s.exited {
		exitedAt := s.exitedAt
		info.ExitedAt = &exitedAt
	}
	return info
}

// WaitCh returns a channel closed when the session's process has exited.
func (s *Session) WaitCh() <-chan struct{} { return s.waitCh }

// Write sends input to the terminal.
func (s *Session) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exited {
		return 0, fmt.Errorf("session %s has exited", s.id)
	}
	return s.ptmx.Write(p)
}

// Resize changes the terminal dimensions.
func (s *Session) Resize(rows, cols uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exited {
		return fmt.Errorf("session %s has exited", s.id)
	}
	return pty.Setsize(s.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

// Tail returns the last n lines of output with escape sequences stripped.
func (s *Session) Tail(n int) string {
	s.mu.Lock()
	raw := s.ring.String()
	s.mu.Unlock()

	text := ansiEscapes.ReplaceAllString(raw, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	lines := strings.Split(text, "\n")
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// Attach registers a reader for live output. The returned detach func must be
// called to release the reader.
func (s *Session) Attach() (<-chan []byte, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextAttach
	s.nextAttach++

	ch := make(chan []byte, attachBufferLen)
	if s.exited {
		close(ch)
		return ch, func() {}
	}
	s.attached[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.attached[id]; ok {
			delete(s.attached, id)
			close(c)
		}
	}
}

// Stop terminates the process, first gracefully then forcefully.
func (s *Session) Stop(grace time.Duration) error {
	s.mu.Lock()
	if s.exited {
		s.mu.Unlock()
		return nil
	}
	proc := s.cmd.Process
	s.mu.Unlock()

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		s.logger.Debug("failed to signal session", "error", err)
	}

	select {
	case <-s.waitCh:
		return nil
	case <-time.After(grace):
	}

	s.logger.Warn("session did not exit after SIGTERM, killing", "grace", grace)
	if err := proc.Kill(); err != nil && !s.hasExited() {
		return fmt.Errorf("failed to kill session %s: %v", s.id, err)
	}

	<-s.waitCh
	return nil
}

func (s *Session) hasExited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited
}

// reader drains terminal output into the ring until the process exits.
func (s *Session) reader(onExit func(*Session)) {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			s.mu.Lock()
			s.ring.Write(chunk)
			for _, ch := range s.attached {
				select {
				case ch <- chunk:
				default:
				}
			}
			s.mu.Unlock()
		}
		if err != nil {
			// Reads fail with EIO once the child side closes.
			break
		}
	}

	err := s.cmd.Wait()

	s.mu.Lock()
	s.exited = true
	s.exitedAt = time.Now()
	s.exitCode = exitCode(s.cmd, err)
	for id, ch := range s.attached {
		delete(s.attached, id)
		close(ch)
	}
	s.ptmx.Close()
	s.mu.Unlock()

	close(s.waitCh)
	onExit(s)
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}
