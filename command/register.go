// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/posener/complete"

	"github.com/hashicorp/smartwait/api"
	flaghelper "github.com/hashicorp/smartwait/helper/flags"
)

type RegisterCommand struct {
	Meta

	// The fields below can be overwritten for tests
	testStdin io.Reader
}

func (c *RegisterCommand) Help() string {
	helpText := `
Usage: smartwait register [options] <criteria>

  Register a new wait job with the agent. The criteria is a natural language
  description of the screen state to wait for. If the criteria starts with
  "@" it is loaded from the given file; if it is "-", it is read from stdin.

  On success the new wait's status is printed. With -monitor the command
  stays attached and follows the wait until it reaches a terminal state,
  exiting 0 only if the wait resolved.

General Options:

  ` + generalOptionsUsage() + `
Register Options:

  -target=<target>
    What to capture while watching: "screen", "window:<id>",
    "region:<x,y,w,h>", or "pty:<session-id>". Defaults to "screen".

  -display=<display>
    X11 display to capture. Defaults to the agent's display.

  -timeout=<seconds>
    Seconds until the wait times out. Defaults to the agent's default
    timeout.

  -poll=<seconds>
    Base poll interval in seconds. The agent clamps this to its configured
    bounds.

  -task=<task-id>
    Task to associate the wait with. Terminal notifications are forwarded
    to the task sink.

  -pattern=<regex>
    Text pattern for pty targets, tried against recent terminal output
    before any capture. May be specified multiple times.

  -monitor
    Follow the wait until it reaches a terminal state.

  -json
    Output the wait in JSON format.

  -t
    Format and display the wait using a Go template.
`
	return strings.TrimSpace(helpText)
}

func (c *RegisterCommand) Synopsis() string {
	return "Register a new wait job"
}

func (c *RegisterCommand) AutocompleteFlags() complete.Flags {
	return mergeAutocompleteFlags(c.Meta.AutocompleteFlags(FlagSetClient),
		complete.Flags{
			"-target":  complete.PredictSet("screen"),
			"-display": complete.PredictAnything,
			"-timeout": complete.PredictAnything,
			"-poll":    complete.PredictAnything,
			"-task":    complete.PredictAnything,
			"-pattern": complete.PredictAnything,
			"-monitor": complete.PredictNothing,
			"-json":    complete.PredictNothing,
			"-t":       complete.PredictAnything,
		})
}

func (c *RegisterCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictAnything
}

func (c *RegisterCommand) Name() string { return "register" }

func (c *RegisterCommand) Run(args []string) int {
	var target, display, task, tmpl string
	var timeout int
	var poll float64
	var patterns flaghelper.StringFlag
	var monitor, json bool

	flags := c.Meta.FlagSet(c.Name(), FlagSetClient)
	flags.Usage = func() { c.Ui.Output(c.Help()) }
	flags.StringVar(&target, "target", "screen", "")
	flags.StringVar(&display, "display", "", "")
	flags.IntVar(&timeout, "timeout", 0, "")
	flags.Float64Var(&poll, "poll", 0, "")
	flags.StringVar(&task, "task", "", "")
	flags.Var(&patterns, "pattern", "")
	flags.BoolVar(&monitor, "monitor", false, "")
	flags.BoolVar(&json, "json", false, "")
	flags.StringVar(&tmpl, "t", "", "")

	if err := flags.Parse(args); err != nil {
		return 2
	}

	args = flags.Args()
	if len(args) != 1 {
		c.Ui.Error("This command takes one argument: <criteria>")
		c.Ui.Error(commandErrorText(c))
		return 2
	}

	criteria, err := loadDataSource(args[0], c.testStdin)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error loading criteria: %s", err))
		return 1
	}

	client, err := c.Meta.Client()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error initializing client: %s", err))
		return 1
	}

	wait, err := client.Waits().Register(context.Background(), &api.WaitRegisterRequest{
		Target:   target,
		Display:  display,
		Criteria: criteria,
		TimeoutS: timeout,
		PollS:    poll,
		TaskID:   task,
		Patterns: patterns,
	})
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error registering wait: %s", err))
		return 1
	}

	if json || len(tmpl) > 0 {
		out, err := Format(json, tmpl, wait)
		if err != nil {
			c.Ui.Error(err.Error())
			return 1
		}
		c.Ui.Output(out)
		return 0
	}

	c.Ui.Output(formatWait(wait))

	if !monitor {
		return 0
	}

	c.Ui.Output("")
	return c.monitorWait(client, wait.ID)
}

// monitorWait follows a wait until it goes terminal, reporting every status
// or detail change.
func (c *RegisterCommand) monitorWait(client *api.Client, waitID string) int {
	ch, err := client.Waits().Monitor(context.Background(), waitID, time.Second)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error monitoring wait: %s", err))
		return 1
	}

	var last *api.Wait
	for wait := range ch {
		last = wait
		c.Ui.Output(fmt.Sprintf("==> %s: %s", wait.Status, wait.LastDetail))
	}
	if last == nil {
		c.Ui.Error("Monitor ended without a status")
		return 1
	}

	elapsed := time.Duration(last.ElapsedS * float64(time.Second)).Round(time.Second)
	if last.Status == api.WaitStatusResolved {
		c.Ui.Output(c.Colorize().Color(fmt.Sprintf(
			"[bold][green]Wait %s resolved after %s[reset]", last.ID, elapsed)))
		return 0
	}
	c.Ui.Output(c.Colorize().Color(fmt.Sprintf(
		"[bold][red]Wait %s %s after %s: %s[reset]", last.ID, last.Status, elapsed, last.LastDetail)))
	return 1
}
