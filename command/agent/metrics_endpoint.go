// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *HTTPServer) MetricsRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, CodedError(405, ErrInvalidMethod)
	}

	if format := req.URL.Query().Get("format"); format == "prometheus" {
		if s.agent.promRegistry == nil {
			return nil, CodedError(415, "Prometheus is not enabled")
		}
		promhttp.HandlerFor(s.agent.promRegistry, promhttp.HandlerOpts{}).ServeHTTP(resp, req)
		return nil, nil
	}

	return s.agent.InmemSink.DisplayMetrics(resp, req)
}

var (
	activeWaitsDesc = prometheus.NewDesc(
		"smartwait_engine_active_waits",
		"Number of wait jobs currently owned by the engine.",
		nil, nil,
	)
	evaluatingWaitsDesc = prometheus.NewDesc(
		"smartwait_engine_evaluating_waits",
		"Number of wait jobs with an evaluation in flight.",
		nil, nil,
	)
	ptySessionsDesc = prometheus.NewDesc(
		"smartwait_pty_sessions",
		"Number of hosted pty sessions.",
		nil, nil,
	)
	streamSubscriptionsDesc = prometheus.NewDesc(
		"smartwait_stream_subscriptions",
		"Number of live event stream subscriptions.",
		nil, nil,
	)
)

// agentCollector exports agent gauges to the prometheus registry. It is
// registered after the engine is built, so the agent fields are always set
// when Collect runs.
type agentCollector struct {
	agent *Agent
}

func (c *agentCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- activeWaitsDesc
	ch <- evaluatingWaitsDesc
	ch <- ptySessionsDesc
	ch <- streamSubscriptionsDesc
}

func (c *agentCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.agent.Stats()
	ch <- prometheus.MustNewConstMetric(activeWaitsDesc, prometheus.GaugeValue, float64(stats.ActiveWaits))
	ch <- prometheus.MustNewConstMetric(evaluatingWaitsDesc, prometheus.GaugeValue, float64(stats.EvaluatingWaits))
	ch <- prometheus.MustNewConstMetric(ptySessionsDesc, prometheus.GaugeValue, float64(stats.PtySessions))
	ch <- prometheus.MustNewConstMetric(streamSubscriptionsDesc, prometheus.GaugeValue, float64(stats.Subscriptions))
}
