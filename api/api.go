// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package api provides a client to the SmartWait agent HTTP API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
)

const (
	// DefaultAddress is where a local agent listens.
	DefaultAddress = "http://127.0.0.1:4680"

	// EnvAddress names the environment variable consulted for the agent
	// address.
	EnvAddress = "SMARTWAIT_ADDR"
)

// Config is used to configure the creation of a client.
type Config struct {
	// Address is the base URL of the SmartWait agent.
	Address string

	// HTTPClient is the client to use. Default is a cleanhttp pooled
	// client.
	HTTPClient *http.Client
}

// DefaultConfig returns a default configuration for the client, checking the
// environment for the agent address.
func DefaultConfig() *Config {
	config := &Config{
		Address: DefaultAddress,
	}
	if addr := os.Getenv(EnvAddress); addr != "" {
		config.Address = addr
	}
	return config
}

// Client provides a client to the SmartWait API.
type Client struct {
	config     Config
	baseURL    *url.URL
	httpClient *http.Client
}

// NewClient returns a new client. A nil config is equivalent to
// DefaultConfig.
func NewClient(config *Config) (*Client, error) {
	defConfig := DefaultConfig()
	if config == nil {
		config = defConfig
	}
	if config.Address == "" {
		config.Address = defConfig.Address
	}

	base, err := url.Parse(config.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %v", config.Address, err)
	}
	switch base.Scheme {
	case "http", "https":
	default:
		return nil, fmt.Errorf("invalid address scheme %q", base.Scheme)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
	}

	return &Client{
		config:     *config,
		baseURL:    base,
		httpClient: httpClient,
	}, nil
}

// Address returns the address of the agent this client talks to.
func (c *Client) Address() string {
	return c.baseURL.String()
}

// request is used to help build up an HTTP request.
type request struct {
	method string
	url    *url.URL
	params url.Values
	body   io.Reader
	obj    interface{}
}

func (c *Client) newRequest(method, path string) *request {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	return &request{
		method: method,
		url:    &u,
		params: make(url.Values),
	}
}

// toHTTP converts the request to an HTTP request.
func (r *request) toHTTP(ctx context.Context) (*http.Request, error) {
	r.url.RawQuery = r.params.Encode()

	if r.body == nil && r.obj != nil {
		b, err := encodeBody(r.obj)
		if err != nil {
			return nil, err
		}
		r.body = b
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url.String(), r.body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) doRequest(ctx context.Context, r *request) (*http.Response, error) {
	req, err := r.toHTTP(ctx)
	if err != nil {
		return nil, err
	}
	return c.httpClient.Do(req)
}

// query performs a GET and decodes the JSON response into out.
func (c *Client) query(ctx context.Context, path string, out interface{}, params url.Values) error {
	r := c.newRequest(http.MethodGet, path)
	if params != nil {
		r.params = params
	}
	resp, err := requireOK(c.doRequest(ctx, r))
	if err != nil {
		return err
	}
	defer closeResponseBody(resp)
	return decodeBody(resp, out)
}

// write performs a request carrying a JSON body and decodes the response
// into out when out is non-nil.
func (c *Client) write(ctx context.Context, method, path string, in, out interface{}, params url.Values) error {
	r := c.newRequest(method, path)
	if params != nil {
		r.params = params
	}
	r.obj = in
	resp, err := requireOK(c.doRequest(ctx, r))
	if err != nil {
		return err
	}
	defer closeResponseBody(resp)
	if out == nil {
		return nil
	}
	return decodeBody(resp, out)
}

// delete performs a DELETE and decodes the response into out when out is
// non-nil.
func (c *Client) delete(ctx context.Context, path string, out interface{}, params url.Values) error {
	r := c.newRequest(http.MethodDelete, path)
	if params != nil {
		r.params = params
	}
	resp, err := requireOK(c.doRequest(ctx, r))
	if err != nil {
		return err
	}
	defer closeResponseBody(resp)
	if out == nil {
		return nil
	}
	return decodeBody(resp, out)
}

// requireOK is used to verify a 2xx response and otherwise surface the body
// as the error text.
func requireOK(resp *http.Response, err error) (*http.Response, error) {
	if err != nil {
		if resp != nil {
			closeResponseBody(resp)
		}
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, resp.Body)
	closeResponseBody(resp)
	return nil, UnexpectedResponseError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(buf.String()),
	}
}

// UnexpectedResponseError is returned for API responses outside the 2xx
// range.
type UnexpectedResponseError struct {
	StatusCode int
	Body       string
}

func (e UnexpectedResponseError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("Unexpected response code: %d", e.StatusCode)
	}
	return fmt.Sprintf("Unexpected response code: %d (%s)", e.StatusCode, e.Body)
}

// closeResponseBody drains and closes so the connection can be reused.
func closeResponseBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}

func decodeBody(resp *http.Response, out interface{}) error {
	if out == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	return dec.Decode(out)
}

func encodeBody(obj interface{}) (io.Reader, error) {
	buf := bytes.NewBuffer(nil)
	enc := json.NewEncoder(buf)
	if err := enc.Encode(obj); err != nil {
		return nil, err
	}
	return buf, nil
}
