// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/posener/complete"
)

type AgentInfoCommand struct {
	Meta
}

func (c *AgentInfoCommand) Help() string {
	helpText := `
Usage: smartwait agent-info [options]

  Display status information about the local agent: its health, its
  effective configuration with secrets redacted, and engine counters.

General Options:

  ` + generalOptionsUsage() + `
Agent Info Options:

  -json
    Output the agent information in JSON format.

  -t
    Format and display the agent information using a Go template.
`
	return strings.TrimSpace(helpText)
}

func (c *AgentInfoCommand) Synopsis() string {
	return "Display status information about the local agent"
}

func (c *AgentInfoCommand) AutocompleteFlags() complete.Flags {
	return mergeAutocompleteFlags(c.Meta.AutocompleteFlags(FlagSetClient),
		complete.Flags{
			"-json": complete.PredictNothing,
			"-t":    complete.PredictAnything,
		})
}

func (c *AgentInfoCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictNothing
}

func (c *AgentInfoCommand) Name() string { return "agent-info" }

func (c *AgentInfoCommand) Run(args []string) int {
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

	self, err := client.Agent().Self(context.Background())
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error querying agent info: %s", err))
		return 1
	}
	health, err := client.Agent().Health(context.Background())
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error querying agent health: %s", err))
		return 1
	}

	if json || len(tmpl) > 0 {
		out, err := Format(json, tmpl, self)
		if err != nil {
			c.Ui.Error(err.Error())
			return 1
		}
		c.Ui.Output(out)
		return 0
	}

	c.Ui.Output("agent")
	c.Ui.Output(fmt.Sprintf("  version = %s", self.Version))
	c.Ui.Output(fmt.Sprintf("  healthy = %t", health.Ok))
	c.Ui.Output(fmt.Sprintf("  store = %s", health.Store))
	c.Ui.Output(fmt.Sprintf("  vision = %s", health.Vision))

	c.Ui.Output("config")
	keys := make([]string, 0, len(self.Config))
	for k := range self.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c.Ui.Output(fmt.Sprintf("  %s = %s", k, self.Config[k]))
	}

	c.Ui.Output("stats")
	c.Ui.Output(fmt.Sprintf("  active_waits = %d", self.Stats.ActiveWaits))
	c.Ui.Output(fmt.Sprintf("  evaluating_waits = %d", self.Stats.EvaluatingWaits))
	c.Ui.Output(fmt.Sprintf("  pty_sessions = %d", self.Stats.PtySessions))
	c.Ui.Output(fmt.Sprintf("  subscriptions = %d", self.Stats.Subscriptions))
	return 0
}
