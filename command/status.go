// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/posener/complete"

	"github.com/hashicorp/smartwait/api"
)

type StatusCommand struct {
	Meta
}

func (c *StatusCommand) Help() string {
	helpText := `
Usage: smartwait status [options] [wait-id]

  Display status information about waits. If no wait id is given, all
  active waits are listed.

General Options:

  ` + generalOptionsUsage() + `
Status Options:

  -all
    Include terminal waits in the listing.

  -verbose
    Show full information. Without a wait id this also queries the agent
    for its health and version.

  -json
    Output the status in JSON format.

  -t
    Format and display the status using a Go template.
`
	return strings.TrimSpace(helpText)
}

func (c *StatusCommand) Synopsis() string {
	return "Display status information about waits"
}

func (c *StatusCommand) AutocompleteFlags() complete.Flags {
	return mergeAutocompleteFlags(c.Meta.AutocompleteFlags(FlagSetClient),
		complete.Flags{
			"-all":     complete.PredictNothing,
			"-verbose": complete.PredictNothing,
			"-json":    complete.PredictNothing,
			"-t":       complete.PredictAnything,
		})
}

func (c *StatusCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictNothing
}

func (c *StatusCommand) Name() string { return "status" }

func (c *StatusCommand) Run(args []string) int {
	var all, verbose, json bool
	var tmpl string

	flags := c.Meta.FlagSet(c.Name(), FlagSetClient)
	flags.Usage = func() { c.Ui.Output(c.Help()) }
	flags.BoolVar(&all, "all", false, "")
	flags.BoolVar(&verbose, "verbose", false, "")
	flags.BoolVar(&json, "json", false, "")
	flags.StringVar(&tmpl, "t", "", "")

	if err := flags.Parse(args); err != nil {
		return 2
	}

	// Check that we either got no waits or exactly one.
	args = flags.Args()
	if len(args) > 1 {
		c.Ui.Error("This command takes either no arguments or one: <wait-id>")
		c.Ui.Error(commandErrorText(c))
		return 2
	}

	client, err := c.Meta.Client()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error initializing client: %s", err))
		return 1
	}

	// Invoke list mode if no wait id.
	if len(args) == 0 {
		return c.listWaits(client, all, verbose, json, tmpl)
	}

	wait, err := client.Waits().Info(context.Background(), args[0])
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error querying wait: %s", err))
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
	if verbose {
		c.Ui.Output("")
		c.Ui.Output(formatWaitDetails(wait))
	}
	return 0
}

func (c *StatusCommand) listWaits(client *api.Client, all, verbose, json bool, tmpl string) int {
	waits, err := client.Waits().List(context.Background(), all)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error querying waits: %s", err))
		return 1
	}

	if json || len(tmpl) > 0 {
		out, err := Format(json, tmpl, waits)
		if err != nil {
			c.Ui.Error(err.Error())
			return 1
		}
		c.Ui.Output(out)
		return 0
	}

	if len(waits) == 0 {
		c.Ui.Output("No waits found")
	} else {
		out := make([]string, len(waits)+1)
		out[0] = "ID|Status|Target|Age|Criteria"
		for i, wait := range waits {
			out[i+1] = fmt.Sprintf("%s|%s|%s|%s|%s",
				limit(wait.ID, shortId),
				wait.Status,
				wait.Target,
				humanize.Time(wait.CreatedAt),
				limit(wait.Criteria, 50))
		}
		c.Ui.Output(formatList(out))
	}

	if verbose {
		c.Ui.Output("")
		return c.agentSummary(client)
	}
	return 0
}

// agentSummary appends the agent's health and identity to list output.
func (c *StatusCommand) agentSummary(client *api.Client) int {
	self, err := client.Agent().Self(context.Background())
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error querying agent: %s", err))
		return 1
	}
	health, err := client.Agent().Health(context.Background())
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error querying agent health: %s", err))
		return 1
	}

	c.Ui.Output(c.Colorize().Color("[bold]Agent[reset]"))
	c.Ui.Output(formatKV([]string{
		fmt.Sprintf("Version|%s", self.Version),
		fmt.Sprintf("Healthy|%t", health.Ok),
		fmt.Sprintf("Store|%s", health.Store),
		fmt.Sprintf("Vision|%s", health.Vision),
		fmt.Sprintf("Active Waits|%d", self.Stats.ActiveWaits),
		fmt.Sprintf("Pty Sessions|%d", self.Stats.PtySessions),
	}))
	return 0
}

// formatWait renders the one-screen summary shared by the wait commands.
func formatWait(w *api.Wait) string {
	elapsed := time.Duration(w.ElapsedS * float64(time.Second)).Round(time.Second)
	basic := []string{
		fmt.Sprintf("ID|%s", w.ID),
		fmt.Sprintf("Status|%s", w.Status),
		fmt.Sprintf("Target|%s", w.Target),
		fmt.Sprintf("Criteria|%s", w.Criteria),
		fmt.Sprintf("Elapsed|%s", elapsed),
		fmt.Sprintf("Timeout|%s", time.Duration(w.TimeoutS)*time.Second),
		fmt.Sprintf("Last Detail|%s", w.LastDetail),
	}
	return formatKV(basic)
}

// formatWaitDetails renders the slower-moving fields shown with -verbose.
func formatWaitDetails(w *api.Wait) string {
	details := []string{
		fmt.Sprintf("Display|%s", w.Display),
		fmt.Sprintf("Task|%s", w.TaskID),
		fmt.Sprintf("Created|%s (%s)", formatTime(w.CreatedAt), prettyTimeDiff(w.CreatedAt, time.Now())),
	}
	if w.ResolvedAt != nil {
		details = append(details,
			fmt.Sprintf("Resolved|%s (%s)", formatTime(*w.ResolvedAt), prettyTimeDiff(*w.ResolvedAt, time.Now())))
	}
	if len(w.Notes) > 0 {
		details = append(details, fmt.Sprintf("Notes|%s", strings.Join(w.Notes, "; ")))
	}
	return formatKV(details)
}
