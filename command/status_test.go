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

func TestStatusCommand_Implements(t *testing.T) {
	ci.Parallel(t)
	var _ cli.Command = &StatusCommand{}
}

func TestStatusCommand_Fails(t *testing.T) {
	ci.Parallel(t)
	ui := cli.NewMockUi()
	cmd := &StatusCommand{Meta: Meta{Ui: ui}}

	// Fails on misuse
	code := cmd.Run([]string{"some", "bad", "args"})
	must.Eq(t, 2, code)
	must.StrContains(t, ui.ErrorWriter.String(), "This command takes either no arguments or one: <wait-id>")
	ui.ErrorWriter.Reset()

	// Fails on unreachable agent
	code = cmd.Run([]string{"-address=nope"})
	must.Eq(t, 1, code)
	ui.ErrorWriter.Reset()
}

func TestStatusCommand_Run(t *testing.T) {
	ci.Parallel(t)
	srv, client, url := testServer(t, nil)
	defer srv.Shutdown()

	ui := cli.NewMockUi()
	cmd := &StatusCommand{Meta: Meta{Ui: ui, flagAddress: url}}

	// No waits yet.
	code := cmd.Run([]string{"-address=" + url})
	must.Zero(t, code)
	must.StrContains(t, ui.OutputWriter.String(), "No waits found")
	ui.OutputWriter.Reset()

	first, err := client.Waits().Register(context.Background(), &api.WaitRegisterRequest{
		Target:   "screen",
		Criteria: "the first dialog closed",
		TimeoutS: 300,
	})
	must.NoError(t, err)
	second, err := client.Waits().Register(context.Background(), &api.WaitRegisterRequest{
		Target:   "screen",
		Criteria: "the second dialog closed",
		TimeoutS: 300,
	})
	must.NoError(t, err)

	// Both waits show up in the listing.
	code = cmd.Run([]string{"-address=" + url})
	must.Zero(t, code)
	out := ui.OutputWriter.String()
	must.StrContains(t, out, first.ID)
	must.StrContains(t, out, second.ID)
	must.StrContains(t, out, "the first dialog closed")
	ui.OutputWriter.Reset()

	// A single wait can be inspected.
	code = cmd.Run([]string{"-address=" + url, first.ID})
	must.Zero(t, code)
	must.StrContains(t, ui.OutputWriter.String(), first.ID)
	must.StrContains(t, ui.OutputWriter.String(), "the first dialog closed")
	ui.OutputWriter.Reset()

	// Cancelled waits drop out of the plain listing but stay in -all.
	_, err = client.Waits().Cancel(context.Background(), second.ID, "test cleanup")
	must.NoError(t, err)

	code = cmd.Run([]string{"-address=" + url})
	must.Zero(t, code)
	must.StrNotContains(t, ui.OutputWriter.String(), second.ID)
	ui.OutputWriter.Reset()

	code = cmd.Run([]string{"-address=" + url, "-all"})
	must.Zero(t, code)
	must.StrContains(t, ui.OutputWriter.String(), second.ID)
	must.StrContains(t, ui.OutputWriter.String(), "cancelled")
	ui.OutputWriter.Reset()
}

func TestStatusCommand_Run_Verbose(t *testing.T) {
	ci.Parallel(t)
	srv, _, url := testServer(t, nil)
	defer srv.Shutdown()

	ui := cli.NewMockUi()
	cmd := &StatusCommand{Meta: Meta{Ui: ui, flagAddress: url}}

	// Verbose listing appends the agent summary.
	code := cmd.Run([]string{"-address=" + url, "-verbose"})
	must.Zero(t, code)
	out := ui.OutputWriter.String()
	must.StrContains(t, out, "Agent")
	must.StrContains(t, out, "memdb")
	must.StrContains(t, out, srv.Config.Version.VersionNumber())
}

func TestStatusCommand_Run_JSON(t *testing.T) {
	ci.Parallel(t)
	srv, client, url := testServer(t, nil)
	defer srv.Shutdown()

	_, err := client.Waits().Register(context.Background(), &api.WaitRegisterRequest{
		Target:   "screen",
		Criteria: "the upload completed",
		TimeoutS: 300,
	})
	must.NoError(t, err)

	ui := cli.NewMockUi()
	cmd := &StatusCommand{Meta: Meta{Ui: ui, flagAddress: url}}

	code := cmd.Run([]string{"-address=" + url, "-json"})
	must.Zero(t, code)
	must.StrContains(t, ui.OutputWriter.String(), `"criteria": "the upload completed"`)
}
