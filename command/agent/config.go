// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-envparse"
	"github.com/hashicorp/go-multierror"

	"github.com/hashicorp/smartwait/engine"
	"github.com/hashicorp/smartwait/version"
)

// Config is the configuration for the SmartWait agent.
type Config struct {
	// LogLevel is the level of the logs to put out
	LogLevel string `json:"log_level"`

	// LogJSON enables log output in a JSON format
	LogJSON bool `json:"log_json"`

	// BindAddr is the address the HTTP server binds to. Defaults to
	// 127.0.0.1; the daemon is a local service.
	BindAddr string `json:"bind_addr"`

	// Port is the HTTP port. Defaults to 4680.
	Port int `json:"port"`

	// DataDir is the directory to store our state in. Required unless
	// running in dev mode.
	DataDir string `json:"data_dir"`

	// Display is the X display captures default to when a wait does not
	// name one.
	Display string `json:"display"`

	// EnableDebug is used to enable debugging HTTP endpoints
	EnableDebug bool `json:"enable_debug"`

	// Engine holds the scheduler and diff gate knobs.
	Engine *EngineConfig `json:"engine"`

	// Vision configures the model backend evaluating captures.
	Vision *VisionConfig `json:"vision"`

	// Wake configures how terminal notifications reach the host agent.
	Wake *WakeConfig `json:"wake"`

	// Tasks configures the optional task board integration.
	Tasks *TasksConfig `json:"tasks"`

	// Telemetry is used to configure sending telemetry
	Telemetry *Telemetry `json:"telemetry"`

	// DevMode is set by the -dev CLI flag.
	DevMode bool `json:"-"`

	// Version information is set at compilation time
	Version *version.VersionInfo `json:"-"`

	// List of config files that have been loaded (in order)
	Files []string `json:"-"`
}

// EngineConfig carries the knobs that change wait scheduling semantics.
// Zero values mean "use the default".
type EngineConfig struct {
	// DiffDownsampleWidth is the max width frames are scaled to before
	// the change check.
	DiffDownsampleWidth int `json:"diff_downsample_width"`

	// DiffPixelThreshold is the per-channel delta above which a pixel
	// counts as changed.
	DiffPixelThreshold int `json:"diff_pixel_threshold"`

	// DiffChangeRatio is the changed-pixel fraction above which a frame
	// is evaluated.
	DiffChangeRatio float64 `json:"diff_change_ratio"`

	// MinPollS and MaxPollS clamp requested poll intervals.
	MinPollS float64 `json:"min_poll_s"`
	MaxPollS float64 `json:"max_poll_s"`

	// DefaultTimeoutS applies when a wait is registered without a
	// timeout.
	DefaultTimeoutS int `json:"default_timeout_s"`

	// WakeNotifyTimeoutS bounds each wake notification.
	WakeNotifyTimeoutS int `json:"wake_notify_timeout_s"`

	// WakeStatePrefix tags wake texts, e.g. "[smart_wait resolved]".
	WakeStatePrefix string `json:"wake_state_prefix"`
}

// VisionConfig points the agent at an OpenAI compatible vision endpoint.
type VisionConfig struct {
	// BaseURL of the chat completions API, e.g. http://127.0.0.1:11434/v1
	// for a local ollama.
	BaseURL string `json:"base_url"`

	// APIKey is sent as a bearer token when non-empty.
	APIKey string `json:"api_key"`

	// Model names the vision model to query.
	Model string `json:"model"`

	// MaxTokens bounds the model reply.
	MaxTokens int `json:"max_tokens"`

	// TimeoutS bounds a single evaluation round trip.
	TimeoutS int `json:"timeout_s"`

	// MaxInflight bounds concurrent model calls across all waits.
	MaxInflight int `json:"max_inflight"`

	// RPS rate limits calls to the endpoint. Zero means unlimited.
	RPS float64 `json:"rps"`
}

// WakeConfig controls the command run to wake the host agent.
type WakeConfig struct {
	// Command is the argv to run; the {{text}} element is replaced with
	// the wake text. Empty uses the built-in default.
	Command []string `json:"command"`

	// Disabled drops wake notifications entirely.
	Disabled bool `json:"disabled"`
}

// TasksConfig points the agent at a task board that tracks which waits
// belong to which task.
type TasksConfig struct {
	// BaseURL of the task board API. Empty disables the integration.
	BaseURL string `json:"base_url"`

	// AuthToken is sent with every request when non-empty.
	AuthToken string `json:"auth_token"`

	// TimeoutS bounds each request.
	TimeoutS int `json:"timeout_s"`
}

// Telemetry is the telemetry configuration for the server
type Telemetry struct {
	// CollectionInterval is how often runtime and engine gauges are
	// published, as a duration string.
	CollectionInterval string `json:"collection_interval"`

	// DisableHostname keeps the hostname out of metric keys.
	DisableHostname bool `json:"disable_hostname"`

	// PrometheusMetrics serves /v1/metrics?format=prometheus.
	PrometheusMetrics bool `json:"prometheus_metrics"`
}

// Interval returns the parsed collection interval, falling back to the
// default when unset or when telemetry is not configured at all. Validate
// reports malformed values.
func (t *Telemetry) Interval() time.Duration {
	if t == nil {
		return time.Second
	}
	d, err := time.ParseDuration(t.CollectionInterval)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// DevConfig is a Config for dev mode: in-memory state, no wake command,
// debug endpoints on.
func DevConfig() *Config {
	conf := DefaultConfig()
	conf.DevMode = true
	conf.LogLevel = "DEBUG"
	conf.EnableDebug = true
	conf.Wake.Disabled = true
	return conf
}

// DefaultConfig is the baseline configuration for SmartWait
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "INFO",
		BindAddr: "127.0.0.1",
		Port:     4680,
		Display:  defaultDisplay(),
		Engine: &EngineConfig{
			DiffDownsampleWidth: 320,
			DiffPixelThreshold:  10,
			DiffChangeRatio:     0.01,
			MinPollS:            0.5,
			MaxPollS:            5.0,
			DefaultTimeoutS:     300,
			WakeNotifyTimeoutS:  10,
			WakeStatePrefix:     "smart_wait",
		},
		Vision: &VisionConfig{
			BaseURL:     "http://127.0.0.1:11434/v1",
			MaxInflight: 2,
			RPS:         1.0,
		},
		Wake: &WakeConfig{},
		Tasks: &TasksConfig{
			TimeoutS: 10,
		},
		Telemetry: &Telemetry{
			CollectionInterval: "1s",
		},
		Version: version.GetVersion(),
	}
}

// defaultDisplay picks the display captures use when neither the wait nor
// the config names one.
func defaultDisplay() string {
	if d := os.Getenv("DISPLAY"); d != "" {
		return d
	}
	return ":0"
}

// HTTPAddr is the address the HTTP server listens on.
func (c *Config) HTTPAddr() string {
	return net.JoinHostPort(c.BindAddr, strconv.Itoa(c.Port))
}

// Listener can be used to get a new listener using a custom bind address.
// If the bind provided address is empty, the BindAddr is used instead.
func (c *Config) Listener(proto, addr string, port int) (net.Listener, error) {
	if addr == "" {
		addr = c.BindAddr
	}

	// Do our own range check to avoid bugs in package net.
	if 0 > port || port > 65535 {
		return nil, &net.OpError{
			Op:  "listen",
			Net: proto,
			Err: &net.AddrError{Err: "invalid port", Addr: fmt.Sprint(port)},
		}
	}
	return net.Listen(proto, net.JoinHostPort(addr, strconv.Itoa(port)))
}

// EngineOptions converts the config knobs into engine options. Zero fields
// stay zero; the engine canonicalizes them.
func (c *Config) EngineOptions() *engine.Options {
	e := c.Engine
	if e == nil {
		return nil
	}
	return &engine.Options{
		DiffDownsampleWidth: e.DiffDownsampleWidth,
		DiffPixelThreshold:  e.DiffPixelThreshold,
		DiffChangeRatio:     e.DiffChangeRatio,
		MinPollS:            e.MinPollS,
		MaxPollS:            e.MaxPollS,
		DefaultTimeoutS:     e.DefaultTimeoutS,
		WakeNotifyTimeoutS:  e.WakeNotifyTimeoutS,
		WakeStatePrefix:     e.WakeStatePrefix,
	}
}

// Validate returns every configuration problem at once.
func (c *Config) Validate() error {
	var mErr multierror.Error

	switch strings.ToUpper(c.LogLevel) {
	case "TRACE", "DEBUG", "INFO", "WARN", "ERROR":
	default:
		mErr.Errors = append(mErr.Errors, fmt.Errorf("invalid log level %q", c.LogLevel))
	}
	if c.Port < 0 || c.Port > 65535 {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("invalid port %d", c.Port))
	}
	if !c.DevMode && c.DataDir == "" {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("data_dir is required (or run with -dev)"))
	}

	if e := c.Engine; e != nil {
		if e.DiffDownsampleWidth < 0 {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("diff_downsample_width must not be negative"))
		}
		if e.DiffPixelThreshold < 0 || e.DiffPixelThreshold > 255 {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("diff_pixel_threshold must be within [0, 255]"))
		}
		if e.DiffChangeRatio < 0 || e.DiffChangeRatio > 1 {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("diff_change_ratio must be within [0, 1]"))
		}
		if e.MinPollS < 0 || e.MaxPollS < 0 {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("poll bounds must not be negative"))
		}
		if e.MinPollS > 0 && e.MaxPollS > 0 && e.MinPollS > e.MaxPollS {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("min_poll_s %v exceeds max_poll_s %v", e.MinPollS, e.MaxPollS))
		}
		if e.DefaultTimeoutS < 0 {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("default_timeout_s must not be negative"))
		}
		if e.WakeNotifyTimeoutS < 0 {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("wake_notify_timeout_s must not be negative"))
		}
	}

	if v := c.Vision; v != nil {
		if v.BaseURL == "" {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("vision base_url is required"))
		} else if u, err := url.Parse(v.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("invalid vision base_url %q", v.BaseURL))
		}
		if v.RPS < 0 {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("vision rps must not be negative"))
		}
		if v.MaxInflight < 0 {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("vision max_inflight must not be negative"))
		}
	}

	if w := c.Wake; w != nil && !w.Disabled && len(w.Command) > 0 && w.Command[0] == "" {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("wake command must name a binary"))
	}

	if tk := c.Tasks; tk != nil && tk.BaseURL != "" {
		if u, err := url.Parse(tk.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("invalid tasks base_url %q", tk.BaseURL))
		}
	}

	if t := c.Telemetry; t != nil && t.CollectionInterval != "" {
		if d, err := time.ParseDuration(t.CollectionInterval); err != nil || d <= 0 {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("invalid telemetry collection_interval %q", t.CollectionInterval))
		}
	}

	return mErr.ErrorOrNil()
}

// Merge merges two configurations.
func (c *Config) Merge(b *Config) *Config {
	result := *c

	if b.LogLevel != "" {
		result.LogLevel = b.LogLevel
	}
	if b.LogJSON {
		result.LogJSON = true
	}
	if b.BindAddr != "" {
		result.BindAddr = b.BindAddr
	}
	if b.Port != 0 {
		result.Port = b.Port
	}
	if b.DataDir != "" {
		result.DataDir = b.DataDir
	}
	if b.Display != "" {
		result.Display = b.Display
	}
	if b.EnableDebug {
		result.EnableDebug = true
	}
	if b.DevMode {
		result.DevMode = true
	}

	// Apply the engine config
	if result.Engine == nil && b.Engine != nil {
		engineConf := *b.Engine
		result.Engine = &engineConf
	} else if b.Engine != nil {
		result.Engine = result.Engine.Merge(b.Engine)
	}

	// Apply the vision config
	if result.Vision == nil && b.Vision != nil {
		vision := *b.Vision
		result.Vision = &vision
	} else if b.Vision != nil {
		result.Vision = result.Vision.Merge(b.Vision)
	}

	// Apply the wake config
	if result.Wake == nil && b.Wake != nil {
		wakeConf := *b.Wake
		result.Wake = &wakeConf
	} else if b.Wake != nil {
		result.Wake = result.Wake.Merge(b.Wake)
	}

	// Apply the tasks config
	if result.Tasks == nil && b.Tasks != nil {
		tasksConf := *b.Tasks
		result.Tasks = &tasksConf
	} else if b.Tasks != nil {
		result.Tasks = result.Tasks.Merge(b.Tasks)
	}

	// Apply the telemetry config
	if result.Telemetry == nil && b.Telemetry != nil {
		telemetry := *b.Telemetry
		result.Telemetry = &telemetry
	} else if b.Telemetry != nil {
		result.Telemetry = result.Telemetry.Merge(b.Telemetry)
	}

	if b.Version != nil {
		result.Version = b.Version
	}

	result.Files = append(result.Files, b.Files...)

	return &result
}

// Merge is used to merge two engine configs together
func (a *EngineConfig) Merge(b *EngineConfig) *EngineConfig {
	result := *a

	if b.DiffDownsampleWidth != 0 {
		result.DiffDownsampleWidth = b.DiffDownsampleWidth
	}
	if b.DiffPixelThreshold != 0 {
		result.DiffPixelThreshold = b.DiffPixelThreshold
	}
	if b.DiffChangeRatio != 0 {
		result.DiffChangeRatio = b.DiffChangeRatio
	}
	if b.MinPollS != 0 {
		result.MinPollS = b.MinPollS
	}
	if b.MaxPollS != 0 {
		result.MaxPollS = b.MaxPollS
	}
	if b.DefaultTimeoutS != 0 {
		result.DefaultTimeoutS = b.DefaultTimeoutS
	}
	if b.WakeNotifyTimeoutS != 0 {
		result.WakeNotifyTimeoutS = b.WakeNotifyTimeoutS
	}
	if b.WakeStatePrefix != "" {
		result.WakeStatePrefix = b.WakeStatePrefix
	}
	return &result
}

// Merge is used to merge two vision configs together
func (a *VisionConfig) Merge(b *VisionConfig) *VisionConfig {
	result := *a

	if b.BaseURL != "" {
		result.BaseURL = b.BaseURL
	}
	if b.APIKey != "" {
		result.APIKey = b.APIKey
	}
	if b.Model != "" {
		result.Model = b.Model
	}
	if b.MaxTokens != 0 {
		result.MaxTokens = b.MaxTokens
	}
	if b.TimeoutS != 0 {
		result.TimeoutS = b.TimeoutS
	}
	if b.MaxInflight != 0 {
		result.MaxInflight = b.MaxInflight
	}
	if b.RPS != 0 {
		result.RPS = b.RPS
	}
	return &result
}

// Merge is used to merge two wake configs together
func (a *WakeConfig) Merge(b *WakeConfig) *WakeConfig {
	result := *a

	if len(b.Command) > 0 {
		result.Command = b.Command
	}
	if b.Disabled {
		result.Disabled = true
	}
	return &result
}

// Merge is used to merge two tasks configs together
func (a *TasksConfig) Merge(b *TasksConfig) *TasksConfig {
	result := *a

	if b.BaseURL != "" {
		result.BaseURL = b.BaseURL
	}
	if b.AuthToken != "" {
		result.AuthToken = b.AuthToken
	}
	if b.TimeoutS != 0 {
		result.TimeoutS = b.TimeoutS
	}
	return &result
}

// Merge is used to merge two telemetry configs together
func (a *Telemetry) Merge(b *Telemetry) *Telemetry {
	result := *a

	if b.CollectionInterval != "" {
		result.CollectionInterval = b.CollectionInterval
	}
	if b.DisableHostname {
		result.DisableHostname = true
	}
	if b.PrometheusMetrics {
		result.PrometheusMetrics = true
	}
	return &result
}

// LoadConfig loads the configuration at the given path, regardless if its a
// file or directory.
func LoadConfig(path string) (*Config, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if fi.IsDir() {
		return LoadConfigDir(path)
	}

	cleaned := filepath.Clean(path)
	config, err := ParseConfigFile(cleaned)
	if err != nil {
		return nil, fmt.Errorf("error loading %s: %w", cleaned, err)
	}

	config.Files = append(config.Files, cleaned)
	return config, nil
}

// LoadConfigDir loads all the configurations in the given directory
// in alphabetical order.
func LoadConfigDir(dir string) (*Config, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("configuration path must be a directory: %s", dir)
	}

	var files []string
	err = nil
	for err != io.EOF {
		var fis []os.FileInfo
		fis, err = f.Readdir(128)
		if err != nil && err != io.EOF {
			return nil, err
		}

		for _, fi := range fis {
			// Ignore directories
			if fi.IsDir() {
				continue
			}

			// Only care about files that are valid to load.
			name := fi.Name()
			if !strings.HasSuffix(name, ".json") || isTemporaryFile(name) {
				continue
			}

			files = append(files, filepath.Join(dir, name))
		}
	}

	// Fast-path if we have no files
	if len(files) == 0 {
		return &Config{}, nil
	}

	sort.Strings(files)

	var result *Config
	for _, f := range files {
		config, err := ParseConfigFile(f)
		if err != nil {
			return nil, fmt.Errorf("error loading %s: %w", f, err)
		}
		config.Files = append(config.Files, f)

		if result == nil {
			result = config
		} else {
			result = result.Merge(config)
		}
	}

	return result, nil
}

// ParseConfigFile parses the given path as a JSON config file.
func ParseConfigFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	config := &Config{}
	dec := json.NewDecoder(f)
	if err := dec.Decode(config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadEnvFile parses a key=value env file with envparse and returns the
// partial config its SMARTWAIT_ variables describe.
func LoadEnvFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vars, err := envparse.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", path, err)
	}

	config, err := ConfigFromEnv(func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	})
	if err != nil {
		return nil, err
	}
	config.Files = append(config.Files, path)
	return config, nil
}

// EnvConfig returns the partial config described by the SMARTWAIT_
// variables of the process environment.
func EnvConfig() (*Config, error) {
	return ConfigFromEnv(os.LookupEnv)
}

// ConfigFromEnv builds a partial config from SMARTWAIT_ variables resolved
// through lookup. Malformed values are reported together.
func ConfigFromEnv(lookup func(string) (string, bool)) (*Config, error) {
	var mErr multierror.Error
	conf := &Config{
		Engine:    &EngineConfig{},
		Vision:    &VisionConfig{},
		Wake:      &WakeConfig{},
		Tasks:     &TasksConfig{},
		Telemetry: &Telemetry{},
	}

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("invalid %s %q", key, v))
			return
		}
		*dst = b
	}
	integer := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("invalid %s %q", key, v))
			return
		}
		*dst = n
	}
	float := func(key string, dst *float64) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("invalid %s %q", key, v))
			return
		}
		*dst = f
	}

	str("SMARTWAIT_LOG_LEVEL", &conf.LogLevel)
	boolean("SMARTWAIT_LOG_JSON", &conf.LogJSON)
	str("SMARTWAIT_BIND_ADDR", &conf.BindAddr)
	integer("SMARTWAIT_PORT", &conf.Port)
	str("SMARTWAIT_DATA_DIR", &conf.DataDir)
	str("SMARTWAIT_DISPLAY", &conf.Display)
	boolean("SMARTWAIT_ENABLE_DEBUG", &conf.EnableDebug)

	integer("SMARTWAIT_DIFF_DOWNSAMPLE_WIDTH", &conf.Engine.DiffDownsampleWidth)
	integer("SMARTWAIT_DIFF_PIXEL_THRESHOLD", &conf.Engine.DiffPixelThreshold)
	float("SMARTWAIT_DIFF_CHANGE_RATIO", &conf.Engine.DiffChangeRatio)
	float("SMARTWAIT_MIN_POLL_S", &conf.Engine.MinPollS)
	float("SMARTWAIT_MAX_POLL_S", &conf.Engine.MaxPollS)
	integer("SMARTWAIT_DEFAULT_TIMEOUT_S", &conf.Engine.DefaultTimeoutS)
	integer("SMARTWAIT_WAKE_NOTIFY_TIMEOUT_S", &conf.Engine.WakeNotifyTimeoutS)
	str("SMARTWAIT_WAKE_STATE_PREFIX", &conf.Engine.WakeStatePrefix)

	str("SMARTWAIT_VISION_BASE_URL", &conf.Vision.BaseURL)
	str("SMARTWAIT_VISION_API_KEY", &conf.Vision.APIKey)
	str("SMARTWAIT_VISION_MODEL", &conf.Vision.Model)
	integer("SMARTWAIT_VISION_MAX_TOKENS", &conf.Vision.MaxTokens)
	integer("SMARTWAIT_VISION_TIMEOUT_S", &conf.Vision.TimeoutS)
	integer("SMARTWAIT_VISION_MAX_INFLIGHT", &conf.Vision.MaxInflight)
	float("SMARTWAIT_VISION_RPS", &conf.Vision.RPS)

	// The wake command env form is whitespace separated; use a config
	// file for arguments that contain spaces.
	if v, ok := lookup("SMARTWAIT_WAKE_COMMAND"); ok {
		conf.Wake.Command = strings.Fields(v)
	}
	boolean("SMARTWAIT_WAKE_DISABLED", &conf.Wake.Disabled)

	str("SMARTWAIT_TASKS_URL", &conf.Tasks.BaseURL)
	str("SMARTWAIT_TASKS_TOKEN", &conf.Tasks.AuthToken)
	integer("SMARTWAIT_TASKS_TIMEOUT_S", &conf.Tasks.TimeoutS)

	str("SMARTWAIT_TELEMETRY_COLLECTION_INTERVAL", &conf.Telemetry.CollectionInterval)
	boolean("SMARTWAIT_TELEMETRY_DISABLE_HOSTNAME", &conf.Telemetry.DisableHostname)
	boolean("SMARTWAIT_TELEMETRY_PROMETHEUS", &conf.Telemetry.PrometheusMetrics)

	if err := mErr.ErrorOrNil(); err != nil {
		return nil, err
	}
	return conf, nil
}

// isTemporaryFile returns true or false depending on whether the
// provided file name is a temporary file for the following editors:
// emacs or vim.
func isTemporaryFile(name string) bool {
	return strings.HasSuffix(name, "~") || // vim
		strings.HasPrefix(name, ".#") || // emacs
		(strings.HasPrefix(name, "#") && strings.HasSuffix(name, "#")) // emacs
}
