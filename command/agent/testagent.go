// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"testing"
	"time"

	metrics "github.com/hashicorp/go-metrics"
	"github.com/shoenig/test/must"

	"github.com/hashicorp/smartwait/api"
	"github.com/hashicorp/smartwait/helper/testlog"
)

// TestAgent is an agent with a running HTTP server suitable for endpoint
// tests. It runs in dev mode: in-memory state, wake disabled, random port.
type TestAgent struct {
	T      testing.TB
	Config *Config
	Agent  *Agent
	Server *HTTPServer
}

// NewTestAgent builds and starts a TestAgent. The callback may adjust the
// config before the agent starts. Shutdown is registered as a test cleanup.
func NewTestAgent(t testing.TB, cb func(*Config)) *TestAgent {
	config := DevConfig()
	config.Port = 0
	if cb != nil {
		cb(config)
	}
	must.NoError(t, config.Validate())

	inm := metrics.NewInmemSink(10*time.Second, time.Minute)

	agent, err := NewAgent(config, testlog.HCLogger(t), testlog.NewWriter(t), inm)
	must.NoError(t, err)

	srv, err := NewHTTPServer(agent, config)
	if err != nil {
		agent.Shutdown()
		t.Fatalf("starting test http server: %v", err)
	}

	a := &TestAgent{
		T:      t,
		Config: config,
		Agent:  agent,
		Server: srv,
	}
	t.Cleanup(a.Shutdown)
	return a
}

// Shutdown stops the HTTP server and the agent. Safe to call more than once.
func (a *TestAgent) Shutdown() {
	a.Server.Shutdown()
	_ = a.Agent.Shutdown()
}

// HTTPAddr is the base URL of the test server.
func (a *TestAgent) HTTPAddr() string {
	return "http://" + a.Server.Addr
}

// Client returns an API client pointed at the test agent.
func (a *TestAgent) Client() *api.Client {
	conf := api.DefaultConfig()
	conf.Address = a.HTTPAddr()
	client, err := api.NewClient(conf)
	must.NoError(a.T, err)
	return client
}
