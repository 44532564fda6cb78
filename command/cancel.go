// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/posener/complete"
)

type CancelCommand struct {
	Meta
}

func (c *CancelCommand) Help() string {
	helpText := `
Usage: smartwait cancel [options] <wait-id>

  Cancel a watching wait. The wait settles as cancelled and its
  notification fires with the given reason. Cancelling a wait that
  already finished is not an error; the final snapshot is shown as-is.

General Options:

  ` + generalOptionsUsage() + `
Cancel Options:

  -reason=<text>
    Reason recorded on the cancelled wait.

  -json
    Output the cancelled wait in JSON format.

  -t
    Format and display the cancelled wait using a Go template.
`
	return strings.TrimSpace(helpText)
}

func (c *CancelCommand) Synopsis() string {
	return "Cancel a watching wait"
}

func (c *CancelCommand) AutocompleteFlags() complete.Flags {
	return mergeAutocompleteFlags(c.Meta.AutocompleteFlags(FlagSetClient),
		complete.Flags{
			"-reason": complete.PredictAnything,
			"-json":   complete.PredictNothing,
			"-t":      complete.PredictAnything,
		})
}

func (c *CancelCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictNothing
}

func (c *CancelCommand) Name() string { return "cancel" }

func (c *CancelCommand) Run(args []string) int {
	var reason, tmpl string
	var json bool

	flags := c.Meta.FlagSet(c.Name(), FlagSetClient)
	flags.Usage = func() { c.Ui.Output(c.Help()) }
	flags.StringVar(&reason, "reason", "", "")
	flags.BoolVar(&json, "json", false, "")
	flags.StringVar(&tmpl, "t", "", "")

	if err := flags.Parse(args); err != nil {
		return 2
	}

	args = flags.Args()
	if len(args) != 1 {
		c.Ui.Error("This command takes one argument: <wait-id>")
		c.Ui.Error(commandErrorText(c))
		return 2
	}

	client, err := c.Meta.Client()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error initializing client: %s", err))
		return 1
	}

	wait, err := client.Waits().Cancel(context.Background(), args[0], reason)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error cancelling wait: %s", err))
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
	return 0
}
