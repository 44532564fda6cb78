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

type PtyRunCommand struct {
	Meta
}

func (c *PtyRunCommand) Help() string {
	helpText := `
Usage: smartwait pty run [options] <command> [args...]

  Run a command under a new pty session on the agent. The session's id
  is printed and can be passed to "smartwait register" as the target
  "pty:<id>". The session keeps running after this command returns.

General Options:

  ` + generalOptionsUsage() + `
Run Options:

  -dir=<path>
    Working directory for the command. Defaults to the agent's.

  -env=<key=value>
    Environment variable for the command, in addition to the agent's
    environment. May be given multiple times.

  -rows=<n>
    Initial terminal height. Defaults to 24.

  -cols=<n>
    Initial terminal width. Defaults to 80.

  -json
    Output the new session in JSON format.

  -t
    Format and display the new session using a Go template.
`
	return strings.TrimSpace(helpText)
}

func (c *PtyRunCommand) Synopsis() string {
	return "Run a command under a new pty session"
}

func (c *PtyRunCommand) AutocompleteFlags() complete.Flags {
	return mergeAutocompleteFlags(c.Meta.AutocompleteFlags(FlagSetClient),
		complete.Flags{
			"-dir":  complete.PredictDirs("*"),
			"-env":  complete.PredictAnything,
			"-rows": complete.PredictAnything,
			"-cols": complete.PredictAnything,
			"-json": complete.PredictNothing,
			"-t":    complete.PredictAnything,
		})
}

func (c *PtyRunCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictAnything
}

func (c *PtyRunCommand) Name() string { return "pty run" }

func (c *PtyRunCommand) Run(args []string) int {
	var dir, tmpl string
	var rows, cols int
	var env flaghelper.StringFlag
	var json bool

	flags := c.Meta.FlagSet(c.Name(), FlagSetClient)
	flags.Usage = func() { c.Ui.Output(c.Help()) }
	flags.StringVar(&dir, "dir", "", "")
	flags.Var(&env, "env", "")
	flags.IntVar(&rows, "rows", 0, "")
	flags.IntVar(&cols, "cols", 0, "")
	flags.BoolVar(&json, "json", false, "")
	flags.StringVar(&tmpl, "t", "", "")

	if err := flags.Parse(args); err != nil {
		return 2
	}

	args = flags.Args()
	if len(args) < 1 {
		c.Ui.Error("This command takes at least one argument: <command>")
		c.Ui.Error(commandErrorText(c))
		return 2
	}

	client, err := c.Meta.Client()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error initializing client: %s", err))
		return 1
	}

	sess, err := client.Ptys().Start(context.Background(), &api.PtyStartRequest{
		Command: args,
		Dir:     dir,
		Env:     env,
		Rows:    uint16(rows),
		Cols:    uint16(cols),
	})
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error starting pty session: %s", err))
		return 1
	}

	if json || len(tmpl) > 0 {
		out, err := Format(json, tmpl, sess)
		if err != nil {
			c.Ui.Error(err.Error())
			return 1
		}
		c.Ui.Output(out)
		return 0
	}

	c.Ui.Output(formatPtySession(sess))
	return 0
}
