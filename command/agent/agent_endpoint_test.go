// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shoenig/test/must"

	"github.com/hashicorp/smartwait/ci"
)

func TestHTTP_AgentSelf(t *testing.T) {
	ci.Parallel(t)
	s := makeHTTPServer(t, nil)
	defer s.Shutdown()

	req, _ := http.NewRequest(http.MethodGet, "/v1/agent/self", nil)
	obj, err := s.Server.AgentSelfRequest(httptest.NewRecorder(), req)
	must.NoError(t, err)

	self := obj.(agentSelf)
	must.NotEq(t, "", self.Version)
	must.NotNil(t, self.Stats)
	must.Eq(t, "true", self.Config["dev_mode"])
	must.Eq(t, "DEBUG", self.Config["log_level"])
	must.Eq(t, "300", self.Config["default_timeout_s"])
	must.Eq(t, s.Config.Display, self.Config["display"])
}

func TestHTTP_AgentSelf_Redacted(t *testing.T) {
	ci.Parallel(t)
	s := makeHTTPServer(t, func(c *Config) {
		c.Vision.APIKey = "hunter2"
		c.Tasks.AuthToken = "tok-123"
	})
	defer s.Shutdown()

	req, _ := http.NewRequest(http.MethodGet, "/v1/agent/self", nil)
	obj, err := s.Server.AgentSelfRequest(httptest.NewRecorder(), req)
	must.NoError(t, err)

	self := obj.(agentSelf)
	for k, v := range self.Config {
		must.StrNotContains(t, v, "hunter2",
			must.Sprintf("credential leaked through config key %q", k))
		must.StrNotContains(t, v, "tok-123",
			must.Sprintf("credential leaked through config key %q", k))
	}

	// Credentials are dropped, not renamed.
	for k := range self.Config {
		lower := strings.ToLower(k)
		must.False(t, strings.Contains(lower, "key"),
			must.Sprintf("config key %q looks like a credential", k))
		must.False(t, strings.Contains(lower, "token"),
			must.Sprintf("config key %q looks like a credential", k))
	}
}

func TestHTTP_AgentSelf_InvalidMethod(t *testing.T) {
	ci.Parallel(t)
	s := makeHTTPServer(t, nil)
	defer s.Shutdown()

	req, _ := http.NewRequest(http.MethodPost, "/v1/agent/self", nil)
	obj, err := s.Server.AgentSelfRequest(httptest.NewRecorder(), req)
	must.Nil(t, obj)
	coded, ok := err.(HTTPCodedError)
	must.True(t, ok)
	must.Eq(t, 405, coded.Code())
}

func TestHTTP_AgentHealth(t *testing.T) {
	ci.Parallel(t)
	s := makeHTTPServer(t, nil)
	defer s.Shutdown()

	req, _ := http.NewRequest(http.MethodGet, "/v1/agent/health", nil)
	obj, err := s.Server.HealthRequest(httptest.NewRecorder(), req)
	must.NoError(t, err)

	health := obj.(*healthResponse)
	must.True(t, health.Ok)
	must.True(t, health.Engine.Running)
	must.Eq(t, "memdb", health.Store)
	must.NotEq(t, "", health.Vision)
}

func TestHTTP_AgentHealth_Unavailable(t *testing.T) {
	ci.Parallel(t)
	s := makeHTTPServer(t, nil)
	defer s.Shutdown()

	// Once the engine stops, probes see 503.
	s.Agent.Shutdown()

	req, _ := http.NewRequest(http.MethodGet, "/v1/agent/health", nil)
	obj, err := s.Server.HealthRequest(httptest.NewRecorder(), req)
	must.Nil(t, obj)
	coded, ok := err.(HTTPCodedError)
	must.True(t, ok)
	must.Eq(t, 503, coded.Code())
	must.StrContains(t, coded.Error(), `"ok":false`)
}

func TestHTTP_AgentMetrics(t *testing.T) {
	ci.Parallel(t)
	s := makeHTTPServer(t, nil)
	defer s.Shutdown()

	req, _ := http.NewRequest(http.MethodGet, "/v1/metrics", nil)
	obj, err := s.Server.MetricsRequest(httptest.NewRecorder(), req)
	must.NoError(t, err)
	must.NotNil(t, obj)
}

func TestHTTP_AgentMetrics_Prometheus(t *testing.T) {
	ci.Parallel(t)
	s := makeHTTPServer(t, func(c *Config) {
		c.Telemetry.PrometheusMetrics = true
	})
	defer s.Shutdown()

	req, _ := http.NewRequest(http.MethodGet, "/v1/metrics?format=prometheus", nil)
	respW := httptest.NewRecorder()
	obj, err := s.Server.MetricsRequest(respW, req)
	must.NoError(t, err)
	must.Nil(t, obj)

	body := respW.Body.String()
	must.StrContains(t, body, "smartwait_engine_active_waits")
	must.StrContains(t, body, "smartwait_pty_sessions")
	must.StrContains(t, body, "go_goroutines")
}

func TestHTTP_AgentMetrics_PrometheusDisabled(t *testing.T) {
	ci.Parallel(t)
	s := makeHTTPServer(t, nil)
	defer s.Shutdown()

	req, _ := http.NewRequest(http.MethodGet, "/v1/metrics?format=prometheus", nil)
	obj, err := s.Server.MetricsRequest(httptest.NewRecorder(), req)
	must.Nil(t, obj)
	coded, ok := err.(HTTPCodedError)
	must.True(t, ok)
	must.Eq(t, 415, coded.Code())
	must.StrContains(t, coded.Error(), "Prometheus")
}
