// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/posener/complete"
)

type PtyStopCommand struct {
	Meta
}

func (c *PtyStopCommand) Help() string {
	helpText := `
Usage: smartwait pty stop [options] <session-id>

  Stop a pty session's process. The session stays listed with its exit
  code and final output unless -remove is given. Stopping a session
  that already exited only has an effect together with -remove.

General Options:

  ` + generalOptionsUsage() + `
Stop Options:

  -remove
    Forget the session entirely after stopping it.
`
	return strings.TrimSpace(helpText)
}

func (c *PtyStopCommand) Synopsis() string {
	return "Stop a pty session"
}

func (c *PtyStopCommand) AutocompleteFlags() complete.Flags {
	return mergeAutocompleteFlags(c.Meta.AutocompleteFlags(FlagSetClient),
		complete.Flags{
			"-remove": complete.PredictNothing,
		})
}

func (c *PtyStopCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictNothing
}

func (c *PtyStopCommand) Name() string { return "pty stop" }

func (c *PtyStopCommand) Run(args []string) int {
	var remove bool

	flags := c.Meta.FlagSet(c.Name(), FlagSetClient)
	flags.Usage = func() { c.Ui.Output(c.Help()) }
	flags.BoolVar(&remove, "remove", false, "")

	if err := flags.Parse(args); err != nil {
		return 2
	}

	args = flags.Args()
	if len(args) != 1 {
		c.Ui.Error("This command takes one argument: <session-id>")
		c.Ui.Error(commandErrorText(c))
		return 2
	}

	client, err := c.Meta.Client()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error initializing client: %s", err))
		return 1
	}

	if err := client.Ptys().Stop(context.Background(), args[0], remove); err != nil {
		c.Ui.Error(fmt.Sprintf("Error stopping pty session: %s", err))
		return 1
	}

	if remove {
		c.Ui.Output(fmt.Sprintf("Stopped and removed pty session %q", args[0]))
	} else {
		c.Ui.Output(fmt.Sprintf("Stopped pty session %q", args[0]))
	}
	return 0
}
