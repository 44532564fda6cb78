// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/cli"

	"github.com/hashicorp/smartwait/api"
)

type PtyCommand struct {
	Meta
}

func (c *PtyCommand) Help() string {
	helpText := `
Usage: smartwait pty <subcommand> [options] [args]

  This command groups subcommands for interacting with hosted pty
  sessions. A session runs a command under a pseudo-terminal on the
  agent; its recent output can be tailed over the API and its id can
  be used as a wait target.

  Run a command under a new session:

      $ smartwait pty run -- make test

  List sessions:

      $ smartwait pty list

  Stop a session:

      $ smartwait pty stop <session-id>

  Please see the individual subcommand help for detailed usage
  information.
`
	return strings.TrimSpace(helpText)
}

func (c *PtyCommand) Synopsis() string {
	return "Interact with hosted pty sessions"
}

func (c *PtyCommand) Name() string { return "pty" }

func (c *PtyCommand) Run(args []string) int {
	return cli.RunResultHelp
}

// formatPtySession renders the one-screen summary shared by the pty
// subcommands.
func formatPtySession(s *api.PtySession) string {
	basic := []string{
		fmt.Sprintf("ID|%s", s.ID),
		fmt.Sprintf("Command|%s", strings.Join(s.Command, " ")),
		fmt.Sprintf("Running|%t", s.Running),
		fmt.Sprintf("Started|%s (%s)", formatTime(s.StartedAt), prettyTimeDiff(s.StartedAt, time.Now())),
	}
	if !s.Running {
		basic = append(basic, fmt.Sprintf("Exit Code|%d", s.ExitCode))
		if s.ExitedAt != nil {
			basic = append(basic,
				fmt.Sprintf("Exited|%s (%s)", formatTime(*s.ExitedAt), prettyTimeDiff(*s.ExitedAt, time.Now())))
		}
	}
	return formatKV(basic)
}
