// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/posener/complete"

	"github.com/hashicorp/smartwait/api"
	flaghelper "github.com/hashicorp/smartwait/helper/flags"
)

type EventsCommand struct {
	Meta
}

func (c *EventsCommand) Help() string {
	helpText := `
Usage: smartwait events [options]

  Stream lifecycle events from the agent as line-delimited JSON. The
  stream starts at the current index and runs until interrupted or
  until the agent closes it.

General Options:

  ` + generalOptionsUsage() + `
Events Options:

  -topic=<topic>
    Subscribe to a topic, optionally filtered to one key as
    <topic>:<key>. May be given multiple times. Defaults to all
    topics. Available topics are Wait and Pty.
`
	return strings.TrimSpace(helpText)
}

func (c *EventsCommand) Synopsis() string {
	return "Stream lifecycle events from the agent"
}

func (c *EventsCommand) AutocompleteFlags() complete.Flags {
	return mergeAutocompleteFlags(c.Meta.AutocompleteFlags(FlagSetClient),
		complete.Flags{
			"-topic": complete.PredictSet("Wait", "Pty"),
		})
}

func (c *EventsCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictNothing
}

func (c *EventsCommand) Name() string { return "events" }

func (c *EventsCommand) Run(args []string) int {
	var topicFlags flaghelper.StringFlag

	flags := c.Meta.FlagSet(c.Name(), FlagSetClient)
	flags.Usage = func() { c.Ui.Output(c.Help()) }
	flags.Var(&topicFlags, "topic", "")

	if err := flags.Parse(args); err != nil {
		return 2
	}

	if args = flags.Args(); len(args) > 0 {
		c.Ui.Error("This command takes no arguments")
		c.Ui.Error(commandErrorText(c))
		return 2
	}

	topics, err := parseEventTopics(topicFlags)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error parsing topics: %s", err))
		return 2
	}

	client, err := c.Meta.Client()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error initializing client: %s", err))
		return 1
	}

	eventsCh, err := client.EventStream().Stream(context.Background(), topics)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error starting event stream: %s", err))
		return 1
	}

	for events := range eventsCh {
		if events.Err != nil {
			c.Ui.Error(fmt.Sprintf("Error from event stream: %s", events.Err))
			return 1
		}
		for _, event := range events.Events {
			out, err := json.Marshal(event)
			if err != nil {
				c.Ui.Error(fmt.Sprintf("Error marshaling event: %s", err))
				return 1
			}
			c.Ui.Output(string(out))
		}
	}
	return 0
}

// parseEventTopics turns repeated topic flags into a subscription map.
// A bare topic subscribes to every key under it.
func parseEventTopics(flags []string) (map[api.Topic][]string, error) {
	if len(flags) == 0 {
		return map[api.Topic][]string{api.TopicAll: {"*"}}, nil
	}

	topics := make(map[api.Topic][]string)
	for _, f := range flags {
		parts := strings.Split(f, ":")
		switch len(parts) {
		case 1:
			topics[api.Topic(parts[0])] = append(topics[api.Topic(parts[0])], "*")
		case 2:
			topics[api.Topic(parts[0])] = append(topics[api.Topic(parts[0])], parts[1])
		default:
			return nil, fmt.Errorf("topic %q must be <topic> or <topic>:<key>", f)
		}
	}
	return topics, nil
}
