// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package tasks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	hclog "github.com/hashicorp/go-hclog"
)

const (
	// defaultSinkTimeout bounds each report so a wedged task board cannot
	// stall wait finalization.
	defaultSinkTimeout = 10 * time.Second

	// authHeader carries the task board token when one is configured.
	authHeader = "X-SmartWait-Token"
)

// HTTPSinkConfig configures an HTTPSink.
type HTTPSinkConfig struct {
	// BaseURL is the task board address, e.g. http://127.0.0.1:8700
	BaseURL string

	// AuthToken is sent with every request when non-empty.
	AuthToken string

	// Timeout bounds each request. Defaults to 10s.
	Timeout time.Duration

	Logger hclog.Logger
}

// HTTPSink reports wait lifecycle changes to a task board over HTTP.
type HTTPSink struct {
	base   *url.URL
	token  string
	client *http.Client
	logger hclog.Logger
}

func NewHTTPSink(config *HTTPSinkConfig) (*HTTPSink, error) {
	base, err := url.Parse(strings.TrimSuffix(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid task board address %q: %v", config.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid task board address %q: unsupported scheme", config.BaseURL)
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultSinkTimeout
	}

	client := cleanhttp.DefaultPooledClient()
	client.Timeout = timeout

	return &HTTPSink{
		base:   base,
		token:  config.AuthToken,
		client: client,
		logger: config.Logger.Named("task_sink"),
	}, nil
}

func (h *HTTPSink) TrackWait(taskID, waitID string) error {
	body := map[string]string{"wait_id": waitID}
	return h.send(http.MethodPost, fmt.Sprintf("/v1/task/%s/waits", url.PathEscape(taskID)), body)
}

func (h *HTTPSink) PostWaitMessage(taskID, state, content string) error {
	body := map[string]string{"state": state, "content": content}
	return h.send(http.MethodPost, fmt.Sprintf("/v1/task/%s/messages", url.PathEscape(taskID)), body)
}

func (h *HTTPSink) UpdateWaitState(taskID string, update *WaitStateUpdate) error {
	return h.send(http.MethodPut, fmt.Sprintf("/v1/task/%s/wait-state", url.PathEscape(taskID)), update)
}

func (h *HTTPSink) send(method, path string, body interface{}) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode task report: %v", err)
	}

	req, err := http.NewRequest(method, h.base.String()+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set(authHeader, h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected response code: %d (%s)", resp.StatusCode, bytes.TrimSpace(msg))
	}

	h.logger.Trace("reported to task board", "method", method, "path", path)
	return nil
}
