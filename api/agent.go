// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package api

import (
	"context"
)

// Agent encapsulates an API client which talks to the agent endpoints.
type Agent struct {
	client *Client
}

// Agent returns a handle to the agent endpoints.
func (c *Client) Agent() *Agent {
	return &Agent{client: c}
}

// AgentSelf represents the agent's view of itself.
type AgentSelf struct {
	Version string            `json:"version"`
	Config  map[string]string `json:"config"`
	Stats   AgentStats        `json:"stats"`
}

// AgentStats summarizes the engine's load.
type AgentStats struct {
	ActiveWaits     int `json:"active_waits"`
	EvaluatingWaits int `json:"evaluating_waits"`
	PtySessions     int `json:"pty_sessions"`
	Subscriptions   int `json:"subscriptions"`
}

// AgentHealth is the response to the health endpoint.
type AgentHealth struct {
	Ok     bool              `json:"ok"`
	Engine AgentHealthEngine `json:"engine"`
	Store  string            `json:"store"`
	Vision string            `json:"vision"`
}

// AgentHealthEngine reports the wait engine's side of a health check.
type AgentHealthEngine struct {
	Active  int  `json:"active"`
	Running bool `json:"running"`
}

// Self returns the agent's version, effective configuration, and stats.
func (a *Agent) Self(ctx context.Context) (*AgentSelf, error) {
	var out AgentSelf
	if err := a.client.query(ctx, "/v1/agent/self", &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health returns whether the agent is up.
func (a *Agent) Health(ctx context.Context) (*AgentHealth, error) {
	var out AgentHealth
	if err := a.client.query(ctx, "/v1/agent/health", &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}
