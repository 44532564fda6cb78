// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"os"

	"github.com/hashicorp/cli"
	colorable "github.com/mattn/go-colorable"

	"github.com/hashicorp/smartwait/command/agent"
	"github.com/hashicorp/smartwait/version"
)

const (
	// EnvSmartWaitCLINoColor is an env var that toggles colored UI output.
	EnvSmartWaitCLINoColor = `SMARTWAIT_CLI_NO_COLOR`

	// EnvSmartWaitCLIForceColor is an env var that forces colored UI output.
	EnvSmartWaitCLIForceColor = `SMARTWAIT_CLI_FORCE_COLOR`
)

// NamedCommand is a interface to denote a commmand's name.
type NamedCommand interface {
	Name() string
}

// Commands returns the mapping of CLI commands for SmartWait. The meta
// parameter lets you set meta options for all commands.
func Commands(metaPtr *Meta, agentUi cli.Ui) map[string]cli.CommandFactory {
	if metaPtr == nil {
		metaPtr = new(Meta)
	}

	meta := *metaPtr
	if meta.Ui == nil {
		meta.Ui = &cli.BasicUi{
			Reader:      os.Stdin,
			Writer:      colorable.NewColorableStdout(),
			ErrorWriter: colorable.NewColorableStderr(),
		}
	}

	all := map[string]cli.CommandFactory{
		"agent": func() (cli.Command, error) {
			return &agent.Command{
				Version:    version.GetVersion(),
				Ui:         agentUi,
				ShutdownCh: make(chan struct{}),
			}, nil
		},
		"agent-info": func() (cli.Command, error) {
			return &AgentInfoCommand{
				Meta: meta,
			}, nil
		},
		"cancel": func() (cli.Command, error) {
			return &CancelCommand{
				Meta: meta,
			}, nil
		},
		"events": func() (cli.Command, error) {
			return &EventsCommand{
				Meta: meta,
			}, nil
		},
		"pty": func() (cli.Command, error) {
			return &PtyCommand{
				Meta: meta,
			}, nil
		},
		"pty list": func() (cli.Command, error) {
			return &PtyListCommand{
				Meta: meta,
			}, nil
		},
		"pty run": func() (cli.Command, error) {
			return &PtyRunCommand{
				Meta: meta,
			}, nil
		},
		"pty stop": func() (cli.Command, error) {
			return &PtyStopCommand{
				Meta: meta,
			}, nil
		},
		"register": func() (cli.Command, error) {
			return &RegisterCommand{
				Meta: meta,
			}, nil
		},
		"status": func() (cli.Command, error) {
			return &StatusCommand{
				Meta: meta,
			}, nil
		},
		"update": func() (cli.Command, error) {
			return &UpdateCommand{
				Meta: meta,
			}, nil
		},
		"version": func() (cli.Command, error) {
			return &VersionCommand{
				Version: version.GetVersion(),
				Ui:      meta.Ui,
			}, nil
		},
	}

	return all
}
