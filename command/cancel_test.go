// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"context"
	"testing"

	"github.com/hashicorp/cli"
	"github.com/shoenig/test/must"

	"github.com/hashicorp/smartwait/api"
	"github.com/hashicorp/smartwait/ci"
)

func TestCancelCommand_Implements(t *testing.T) {
	ci.Parallel(t)
	var _ cli.Command = &CancelCommand{}
}

func TestCancelCommand_Fails(t *testing.T) {
	ci.Parallel(t)
	ui := cli.NewMockUi()
	cmd := &CancelCommand{Meta: Meta{Ui: ui}}

	// Fails on misuse
	code := cmd.Run([]string{})
	must.Eq(t, 2, code)
	must.StrContains(t, ui.ErrorWriter.String(), "This command takes one argument: <wait-id>")
	ui.ErrorWriter.Reset()

	// Fails on unreachable agent
	code = cmd.Run([]string{"-address=nope", "deadbeef"})
	must.Eq(t, 1, code)
	ui.ErrorWriter.Reset()
}

func TestCancelCommand_Run(t *testing.T) {
	ci.Parallel(t)
	srv, client, url := testServer(t, nil)
	defer srv.Shutdown()

	wait, err := client.Waits().Register(context.Background(), &api.WaitRegisterRequest{
		Target:   "screen",
		Criteria: "the deploy finished",
		TimeoutS: 300,
	})
	must.NoError(t, err)

	ui := cli.NewMockUi()
	cmd := &CancelCommand{Meta: Meta{Ui: ui, flagAddress: url}}

	// Unknown ids are an error.
	code := cmd.Run([]string{"-address=" + url, "feedface"})
	must.Eq(t, 1, code)
	must.StrContains(t, ui.ErrorWriter.String(), "Error cancelling wait")
	ui.ErrorWriter.Reset()

	code = cmd.Run([]string{"-address=" + url, "-reason", "no longer needed", wait.ID})
	must.Zero(t, code)
	must.StrContains(t, ui.OutputWriter.String(), "cancelled")
	must.StrContains(t, ui.OutputWriter.String(), "no longer needed")
	ui.OutputWriter.Reset()

	// Cancelling twice returns the stored snapshot without error.
	code = cmd.Run([]string{"-address=" + url, "-reason", "a different reason", wait.ID})
	must.Zero(t, code)
	must.StrContains(t, ui.OutputWriter.String(), "no longer needed")
	ui.OutputWriter.Reset()

	out, err := client.Waits().Info(context.Background(), wait.ID)
	must.NoError(t, err)
	must.Eq(t, api.WaitStatusCancelled, out.Status)
}
