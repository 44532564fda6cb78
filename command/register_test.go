// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"context"
	"strings"
	"testing"

	"github.com/hashicorp/cli"
	"github.com/shoenig/test/must"

	"github.com/hashicorp/smartwait/ci"
)

func TestRegisterCommand_Implements(t *testing.T) {
	ci.Parallel(t)
	var _ cli.Command = &RegisterCommand{}
}

func TestRegisterCommand_Fails(t *testing.T) {
	ci.Parallel(t)
	ui := cli.NewMockUi()
	cmd := &RegisterCommand{Meta: Meta{Ui: ui}}

	// Fails on misuse
	code := cmd.Run([]string{"some", "bad", "args"})
	must.Eq(t, 2, code)
	must.StrContains(t, ui.ErrorWriter.String(), "This command takes one argument: <criteria>")
	ui.ErrorWriter.Reset()

	code = cmd.Run([]string{"-bad-flag"})
	must.Eq(t, 2, code)
	must.StrContains(t, ui.ErrorWriter.String(), "flag provided but not defined")
	ui.ErrorWriter.Reset()

	// Fails on unreachable agent
	code = cmd.Run([]string{"-address=nope", "the build finished"})
	must.Eq(t, 1, code)
	ui.ErrorWriter.Reset()
}

func TestRegisterCommand_Run(t *testing.T) {
	ci.Parallel(t)
	srv, client, url := testServer(t, nil)
	defer srv.Shutdown()

	ui := cli.NewMockUi()
	cmd := &RegisterCommand{Meta: Meta{Ui: ui, flagAddress: url}}

	code := cmd.Run([]string{"-address=" + url, "-timeout=120", "the error dialog is gone"})
	must.Zero(t, code)
	must.StrContains(t, ui.OutputWriter.String(), "watching")
	must.StrContains(t, ui.OutputWriter.String(), "the error dialog is gone")
	ui.OutputWriter.Reset()

	// The wait is registered on the agent.
	waits, err := client.Waits().List(context.Background(), false)
	must.NoError(t, err)
	must.Len(t, 1, waits)
	must.Eq(t, "the error dialog is gone", waits[0].Criteria)
	must.Eq(t, 120, waits[0].TimeoutS)
}

func TestRegisterCommand_Run_JSON(t *testing.T) {
	ci.Parallel(t)
	srv, _, url := testServer(t, nil)
	defer srv.Shutdown()

	ui := cli.NewMockUi()
	cmd := &RegisterCommand{Meta: Meta{Ui: ui, flagAddress: url}}

	code := cmd.Run([]string{"-address=" + url, "-json", "compile finished"})
	must.Zero(t, code)
	must.StrContains(t, ui.OutputWriter.String(), `"status": "watching"`)
}

func TestRegisterCommand_Run_Stdin(t *testing.T) {
	ci.Parallel(t)
	srv, client, url := testServer(t, nil)
	defer srv.Shutdown()

	ui := cli.NewMockUi()
	cmd := &RegisterCommand{
		Meta:      Meta{Ui: ui, flagAddress: url},
		testStdin: strings.NewReader("the progress bar says 100%"),
	}

	code := cmd.Run([]string{"-address=" + url, "-"})
	must.Zero(t, code)

	waits, err := client.Waits().List(context.Background(), false)
	must.NoError(t, err)
	must.Len(t, 1, waits)
	must.Eq(t, "the progress bar says 100%", waits[0].Criteria)
}
