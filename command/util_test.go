// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"testing"

	"github.com/hashicorp/smartwait/api"
	"github.com/hashicorp/smartwait/command/agent"
)

// testServer starts an in-process agent for CLI tests and returns it along
// with an API client and the server's address.
func testServer(t *testing.T, cb func(*agent.Config)) (*agent.TestAgent, *api.Client, string) {
	a := agent.NewTestAgent(t, cb)
	c := a.Client()
	return a, c, a.HTTPAddr()
}
