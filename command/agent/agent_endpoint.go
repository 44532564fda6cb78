// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

type agentSelf struct {
	Version string            `json:"version"`
	Config  map[string]string `json:"config"`
	Stats   *AgentStats       `json:"stats"`
}

type healthResponse struct {
	Ok     bool         `json:"ok"`
	Engine healthEngine `json:"engine"`
	Store  string       `json:"store"`
	Vision string       `json:"vision"`
}

type healthEngine struct {
	Active  int  `json:"active"`
	Running bool `json:"running"`
}

func (s *HTTPServer) AgentSelfRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, CodedError(405, ErrInvalidMethod)
	}

	conf := s.agent.GetConfig()

	self := agentSelf{
		Config: selfConfig(conf),
		Stats:  s.agent.Stats(),
	}
	if conf.Version != nil {
		self.Version = conf.Version.VersionNumber()
	}

	return self, nil
}

// selfConfig flattens the effective configuration for the self endpoint.
// Credentials never appear here.
func selfConfig(conf *Config) map[string]string {
	out := map[string]string{
		"log_level": conf.LogLevel,
		"log_json":  strconv.FormatBool(conf.LogJSON),
		"bind_addr": conf.BindAddr,
		"port":      strconv.Itoa(conf.Port),
		"data_dir":  conf.DataDir,
		"display":   conf.Display,
		"dev_mode":  strconv.FormatBool(conf.DevMode),
	}

	if engineConf := conf.Engine; engineConf != nil {
		out["diff_downsample_width"] = strconv.Itoa(engineConf.DiffDownsampleWidth)
		out["diff_pixel_threshold"] = strconv.Itoa(engineConf.DiffPixelThreshold)
		out["diff_change_ratio"] = strconv.FormatFloat(engineConf.DiffChangeRatio, 'g', -1, 64)
		out["min_poll_s"] = strconv.FormatFloat(engineConf.MinPollS, 'g', -1, 64)
		out["max_poll_s"] = strconv.FormatFloat(engineConf.MaxPollS, 'g', -1, 64)
		out["default_timeout_s"] = strconv.Itoa(engineConf.DefaultTimeoutS)
		out["wake_notify_timeout_s"] = strconv.Itoa(engineConf.WakeNotifyTimeoutS)
		out["wake_state_prefix"] = engineConf.WakeStatePrefix
	}

	if vision := conf.Vision; vision != nil {
		out["vision_base_url"] = vision.BaseURL
		out["vision_model"] = vision.Model
		out["vision_max_tokens"] = strconv.Itoa(vision.MaxTokens)
		out["vision_timeout_s"] = strconv.Itoa(vision.TimeoutS)
		out["vision_max_inflight"] = strconv.Itoa(vision.MaxInflight)
		out["vision_rps"] = strconv.FormatFloat(vision.RPS, 'g', -1, 64)
	}

	if wakeConf := conf.Wake; wakeConf != nil {
		out["wake_command"] = strings.Join(wakeConf.Command, " ")
		out["wake_disabled"] = strconv.FormatBool(wakeConf.Disabled)
	}

	if tasksConf := conf.Tasks; tasksConf != nil {
		out["tasks_base_url"] = tasksConf.BaseURL
		out["tasks_timeout_s"] = strconv.Itoa(tasksConf.TimeoutS)
	}

	return out
}

func (s *HTTPServer) HealthRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, CodedError(405, ErrInvalidMethod)
	}

	running := s.agent.Engine().Running()
	health := &healthResponse{
		Ok: running,
		Engine: healthEngine{
			Active:  s.agent.Engine().Stats().Active,
			Running: running,
		},
		Store:  s.agent.store.Name(),
		Vision: s.agent.vision.Model(),
	}

	if !health.Ok {
		jsonResp, err := json.Marshal(health)
		if err != nil {
			return nil, err
		}
		return nil, CodedError(503, string(jsonResp))
	}

	return health, nil
}
