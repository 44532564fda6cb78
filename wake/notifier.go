// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package wake delivers terminal wait notifications to the host agent. The
// engine fires notifications asynchronously and treats failures as log-only;
// a wait's stored outcome never depends on delivery.
package wake

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/armon/circbuf"
	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
)

// textPlaceholder marks where the wake text is substituted into the command
// argv. Commands without it get the text appended as a final argument.
const textPlaceholder = "{{text}}"

// maxOutputSize is the number of bytes of command output retained for error
// reporting.
const maxOutputSize = 4 * 1024

// DefaultCommand is the argv used when no wake command is configured.
func DefaultCommand() []string {
	return []string{"openclaw", "system", "event", "--text", textPlaceholder, "--mode", "now"}
}

// Notifier wakes the host agent with a line of text.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// NoopNotifier discards notifications. Used when no wake command is
// configured, e.g. in dev mode.
type NoopNotifier struct{}

func NewNoopNotifier() *NoopNotifier { return &NoopNotifier{} }

func (NoopNotifier) Notify(context.Context, string) error { return nil }

// ExecNotifier wakes the host agent by running a command.
type ExecNotifier struct {
	command []string
	logger  hclog.Logger
}

func NewExecNotifier(logger hclog.Logger, command []string) (*ExecNotifier, error) {
	if len(command) == 0 {
		command = DefaultCommand()
	}
	if command[0] == "" {
		return nil, fmt.Errorf("wake command must name a binary")
	}

	return &ExecNotifier{
		command: command,
		logger:  logger.Named("wake"),
	}, nil
}

func (e *ExecNotifier) Notify(ctx context.Context, text string) error {
	defer metrics.MeasureSince([]string{"smartwait", "wake", "notify"}, time.Now())

	argv := e.argv(text)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	buf, _ := circbuf.NewBuffer(maxOutputSize)
	cmd.Stdout = buf
	cmd.Stderr = buf

	start := time.Now()
	if err := cmd.Run(); err != nil {
		metrics.IncrCounter([]string{"smartwait", "wake", "errors"}, 1)
		if ctx.Err() != nil {
			return fmt.Errorf("wake command timed out after %v", time.Since(start).Round(time.Millisecond))
		}
		out := strings.TrimSpace(buf.String())
		if out != "" {
			return fmt.Errorf("wake command failed: %v: %s", err, out)
		}
		return fmt.Errorf("wake command failed: %v", err)
	}

	e.logger.Debug("wake delivered", "elapsed", time.Since(start), "text_len", len(text))
	return nil
}

// argv renders the command for one notification.
func (e *ExecNotifier) argv(text string) []string {
	argv := make([]string, len(e.command))
	substituted := false
	for i, arg := range e.command {
		if strings.Contains(arg, textPlaceholder) {
			arg = strings.ReplaceAll(arg, textPlaceholder, text)
			substituted = true
		}
		argv[i] = arg
	}
	if !substituted {
		argv = append(argv, text)
	}
	return argv
}
