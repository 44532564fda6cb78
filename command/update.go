// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/posener/complete"

	"github.com/hashicorp/smartwait/api"
	flaghelper "github.com/hashicorp/smartwait/helper/flags"
)

type UpdateCommand struct {
	Meta
}

func (c *UpdateCommand) Help() string {
	helpText := `
Usage: smartwait update [options] <wait-id>

  Refine a watching wait in place. Only the given fields change; the
  elapsed clock keeps running. Updating a finished wait is an error.

General Options:

  ` + generalOptionsUsage() + `
Update Options:

  -criteria=<text>
    Replace the wait's success criteria.

  -timeout=<seconds>
    Replace the wait's timeout. The new value is measured from the
    wait's creation, not from now.

  -note=<text>
    Append a free-form note to the wait.

  -pattern=<glob>
    Replace the wait's window title patterns. May be given multiple
    times; passing it at all discards the previous set.

  -json
    Output the updated wait in JSON format.

  -t
    Format and display the updated wait using a Go template.
`
	return strings.TrimSpace(helpText)
}

func (c *UpdateCommand) Synopsis() string {
	return "Refine a watching wait in place"
}

func (c *UpdateCommand) AutocompleteFlags() complete.Flags {
	return mergeAutocompleteFlags(c.Meta.AutocompleteFlags(FlagSetClient),
		complete.Flags{
			"-criteria": complete.PredictAnything,
			"-timeout":  complete.PredictAnything,
			"-note":     complete.PredictAnything,
			"-pattern":  complete.PredictAnything,
			"-json":     complete.PredictNothing,
			"-t":        complete.PredictAnything,
		})
}

func (c *UpdateCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictNothing
}

func (c *UpdateCommand) Name() string { return "update" }

func (c *UpdateCommand) Run(args []string) int {
	var criteria, note, tmpl string
	var timeout int
	var patterns flaghelper.StringFlag
	var json bool

	flags := c.Meta.FlagSet(c.Name(), FlagSetClient)
	flags.Usage = func() { c.Ui.Output(c.Help()) }
	flags.StringVar(&criteria, "criteria", "", "")
	flags.IntVar(&timeout, "timeout", 0, "")
	flags.StringVar(&note, "note", "", "")
	flags.Var(&patterns, "pattern", "")
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

	wait, err := client.Waits().Update(context.Background(), args[0], &api.WaitUpdateRequest{
		Criteria: criteria,
		TimeoutS: timeout,
		Note:     note,
		Patterns: patterns,
	})
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error updating wait: %s", err))
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
