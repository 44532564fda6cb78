// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package capture reads frames from displays. The engine consumes it through
// the Source seam and serializes per-display access through the Arbiter.
package capture

import (
	"context"
	"fmt"
	"strings"
)

// TargetKind enumerates what on a display gets captured.
type TargetKind string

const (
	// TargetScreen captures the whole display.
	TargetScreen TargetKind = "screen"

	// TargetWindow captures a single window, by id or by title substring.
	TargetWindow TargetKind = "window"

	// TargetPty names a terminal session. The session identity is advisory;
	// capture falls back to the whole display.
	TargetPty TargetKind = "pty"
)

// Target is the parsed form of a register target string.
type Target struct {
	Kind TargetKind

	// WindowID is the X window id (0x-prefixed hex) when the target names
	// one directly.
	WindowID string

	// Name is the window title substring, resolved again at each capture.
	Name string

	// SessionID is the pty session the wait is about.
	SessionID string
}

// ParseTarget parses the register target syntax:
//
//	screen              whole display
//	window:0x1a2b3c     a window id
//	window:<name>       first window whose title contains <name>
//	pty:<session-id>    a terminal session (captured as the whole display)
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if s == "screen" {
		return Target{Kind: TargetScreen}, nil
	}

	kind, rest, found := strings.Cut(s, ":")
	if !found {
		return Target{}, fmt.Errorf("unknown target %q", s)
	}

	switch kind {
	case "window":
		if rest == "" {
			return Target{}, fmt.Errorf("window target missing id or name")
		}
		if isHexWindowID(rest) {
			return Target{Kind: TargetWindow, WindowID: rest}, nil
		}
		return Target{Kind: TargetWindow, Name: rest}, nil
	case "pty":
		if rest == "" {
			return Target{}, fmt.Errorf("pty target missing session id")
		}
		return Target{Kind: TargetPty, SessionID: rest}, nil
	default:
		return Target{}, fmt.Errorf("unknown target prefix %q", kind)
	}
}

func isHexWindowID(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) == 2 {
		return false
	}
	for _, r := range s[2:] {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// String renders the target back into register syntax.
func (t Target) String() string {
	switch t.Kind {
	case TargetScreen:
		return "screen"
	case TargetWindow:
		if t.WindowID != "" {
			return "window:" + t.WindowID
		}
		return "window:" + t.Name
	case TargetPty:
		return "pty:" + t.SessionID
	default:
		return string(t.Kind)
	}
}

// Frame is one captured image, RGBA order, four bytes per pixel.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// Source captures frames from a display. Implementations must be safe for
// concurrent calls on distinct displays; calls on the same display are
// serialized by the Arbiter, never by the Source.
type Source interface {
	Capture(ctx context.Context, display string, target Target) (*Frame, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, display string, target Target) (*Frame, error)

func (f SourceFunc) Capture(ctx context.Context, display string, target Target) (*Frame, error) {
	return f(ctx, display, target)
}
