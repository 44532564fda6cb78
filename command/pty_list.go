// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"context"
	"fmt"
	"strings"

	humanize "github.com/dustin/go-humanize"
	"github.com/posener/complete"
)

type PtyListCommand struct {
	Meta
}

func (c *PtyListCommand) Help() string {
	helpText := `
Usage: smartwait pty list [options]

  List pty sessions on the agent. Exited sessions stay listed, with
  their exit code and final output, until stopped with -remove.

General Options:

  ` + generalOptionsUsage() + `
List Options:

  -json
    Output the sessions in JSON format.

  -t
    Format and display the sessions using a Go template.
`
	return strings.TrimSpace(helpText)
}

func (c *PtyListCommand) Synopsis() string {
	return "List pty sessions"
}

func (c *PtyListCommand) AutocompleteFlags() complete.Flags {
	return mergeAutocompleteFlags(c.Meta.AutocompleteFlags(FlagSetClient),
		complete.Flags{
			"-json": complete.PredictNothing,
			"-t":    complete.PredictAnything,
		})
}

func (c *PtyListCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictNothing
}

func (c *PtyListCommand) Name() string { return "pty list" }

func (c *PtyListCommand) Run(args []string) int {
	var tmpl string
	var json bool

	flags := c.Meta.FlagSet(c.Name(), FlagSetClient)
	flags.Usage = func() { c.Ui.Output(c.Help()) }
	flags.BoolVar(&json, "json", false, "")
	flags.StringVar(&tmpl, "t", "", "")

	if err := flags.Parse(args); err != nil {
		return 2
	}

	if args = flags.Args(); len(args) > 0 {
		c.Ui.Error("This command takes no arguments")
		c.Ui.Error(commandErrorText(c))
		return 2
	}

	client, err := c.Meta.Client()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error initializing client: %s", err))
		return 1
	}

	sessions, err := client.Ptys().List(context.Background())
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error querying pty sessions: %s", err))
		return 1
	}

	if json || len(tmpl) > 0 {
		out, err := Format(json, tmpl, sessions)
		if err != nil {
			c.Ui.Error(err.Error())
			return 1
		}
		c.Ui.Output(out)
		return 0
	}

	if len(sessions) == 0 {
		c.Ui.Output("No pty sessions found")
		return 0
	}

	out := make([]string, len(sessions)+1)
	out[0] = "ID|Command|Running|Exit|Age"
	for i, sess := range sessions {
		exit := "-"
		if !sess.Running {
			exit = fmt.Sprintf("%d", sess.ExitCode)
		}
		out[i+1] = fmt.Sprintf("%s|%s|%t|%s|%s",
			limit(sess.ID, shortId),
			limit(strings.Join(sess.Command, " "), 40),
			sess.Running,
			exit,
			humanize.Time(sess.StartedAt))
	}
	c.Ui.Output(formatList(out))
	return 0
}
