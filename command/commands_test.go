// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"strings"
	"testing"

	"github.com/hashicorp/cli"
	"github.com/shoenig/test/must"

	"github.com/hashicorp/smartwait/ci"
)

func TestCommands(t *testing.T) {
	ci.Parallel(t)

	commands := Commands(nil, &cli.BasicUi{})
	must.MapContainsKeys(t, commands, []string{
		"agent", "agent-info", "cancel", "events",
		"pty", "pty list", "pty run", "pty stop",
		"register", "status", "update", "version",
	})

	for name, fn := range commands {
		cmd, err := fn()
		must.NoError(t, err, must.Sprintf("command %q failed to build", name))
		must.NotEq(t, "", cmd.Synopsis(), must.Sprintf("command %q has no synopsis", name))

		// Subcommand names must match their registration key.
		if nc, ok := cmd.(NamedCommand); ok {
			must.Eq(t, name, nc.Name())
		}
	}
}

func TestCommands_HelpRenders(t *testing.T) {
	ci.Parallel(t)

	commands := Commands(&Meta{Ui: cli.NewMockUi()}, &cli.BasicUi{})
	for name, fn := range commands {
		cmd, err := fn()
		must.NoError(t, err)

		// The version command intentionally has no help text; every other
		// command documents its usage line.
		if name == "version" {
			continue
		}
		must.StrContains(t, cmd.Help(), "Usage: smartwait "+strings.Fields(name)[0])
	}
}
