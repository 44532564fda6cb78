// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shoenig/test/must"

	"github.com/hashicorp/smartwait/ci"
)

func TestConfig_Merge(t *testing.T) {
	ci.Parallel(t)

	c0 := DefaultConfig()

	c1 := &Config{
		LogLevel: "WARN",
		Port:     5000,
		DataDir:  "/var/lib/smartwait",
		Engine: &EngineConfig{
			DiffChangeRatio: 0.05,
			WakeStatePrefix: "watcher",
		},
		Vision: &VisionConfig{
			BaseURL: "http://vision.internal:8000/v1",
			Model:   "qwen2.5-vl",
		},
		Tasks: &TasksConfig{
			BaseURL: "http://tasks.internal:8700",
		},
	}

	c2 := &Config{
		LogJSON:  true,
		BindAddr: "0.0.0.0",
		Engine: &EngineConfig{
			DiffChangeRatio: 0.10,
		},
		Vision: &VisionConfig{
			APIKey: "secret",
		},
		Wake: &WakeConfig{
			Command: []string{"notify-send", "{{text}}"},
		},
		Telemetry: &Telemetry{
			PrometheusMetrics: true,
		},
	}

	result := c0.Merge(c1).Merge(c2)

	// Later layers override earlier ones.
	must.Eq(t, "WARN", result.LogLevel)
	must.True(t, result.LogJSON)
	must.Eq(t, "0.0.0.0", result.BindAddr)
	must.Eq(t, 5000, result.Port)
	must.Eq(t, "/var/lib/smartwait", result.DataDir)
	must.Eq(t, 0.10, result.Engine.DiffChangeRatio)
	must.Eq(t, "watcher", result.Engine.WakeStatePrefix)

	// Untouched knobs keep their defaults.
	must.Eq(t, 320, result.Engine.DiffDownsampleWidth)
	must.Eq(t, 300, result.Engine.DefaultTimeoutS)

	must.Eq(t, "http://vision.internal:8000/v1", result.Vision.BaseURL)
	must.Eq(t, "qwen2.5-vl", result.Vision.Model)
	must.Eq(t, "secret", result.Vision.APIKey)
	must.Eq(t, []string{"notify-send", "{{text}}"}, result.Wake.Command)
	must.Eq(t, "http://tasks.internal:8700", result.Tasks.BaseURL)
	must.True(t, result.Telemetry.PrometheusMetrics)
}

func TestConfig_Merge_NilSubConfigs(t *testing.T) {
	ci.Parallel(t)

	base := &Config{}
	overlay := &Config{
		Engine: &EngineConfig{MinPollS: 1.0},
		Vision: &VisionConfig{BaseURL: "http://127.0.0.1:11434/v1"},
	}

	result := base.Merge(overlay)
	must.NotNil(t, result.Engine)
	must.Eq(t, 1.0, result.Engine.MinPollS)
	must.NotNil(t, result.Vision)

	// Merging does not mutate the receiver.
	must.Nil(t, base.Engine)
}

func TestDefaultConfig(t *testing.T) {
	ci.Parallel(t)

	c := DefaultConfig()
	must.Eq(t, "127.0.0.1", c.BindAddr)
	must.Eq(t, 4680, c.Port)
	must.Eq(t, "INFO", c.LogLevel)

	must.Eq(t, 320, c.Engine.DiffDownsampleWidth)
	must.Eq(t, 10, c.Engine.DiffPixelThreshold)
	must.Eq(t, 0.01, c.Engine.DiffChangeRatio)
	must.Eq(t, 0.5, c.Engine.MinPollS)
	must.Eq(t, 5.0, c.Engine.MaxPollS)
	must.Eq(t, 300, c.Engine.DefaultTimeoutS)
	must.Eq(t, 10, c.Engine.WakeNotifyTimeoutS)
	must.Eq(t, "smart_wait", c.Engine.WakeStatePrefix)

	must.NotEq(t, "", c.Display)
	must.NotNil(t, c.Version)
}

func TestDevConfig(t *testing.T) {
	ci.Parallel(t)

	c := DevConfig()
	must.True(t, c.DevMode)
	must.True(t, c.EnableDebug)
	must.True(t, c.Wake.Disabled)
	must.Eq(t, "DEBUG", c.LogLevel)

	// Dev mode needs no data dir.
	must.NoError(t, c.Validate())
}

func TestConfig_Validate(t *testing.T) {
	ci.Parallel(t)

	cases := []struct {
		name     string
		mutate   func(*Config)
		contains string
	}{
		{
			name:     "missing data dir",
			mutate:   func(c *Config) { c.DataDir = "" },
			contains: "data_dir is required",
		},
		{
			name:     "bad log level",
			mutate:   func(c *Config) { c.LogLevel = "LOUD" },
			contains: `invalid log level "LOUD"`,
		},
		{
			name:     "bad port",
			mutate:   func(c *Config) { c.Port = 700000 },
			contains: "invalid port",
		},
		{
			name:     "ratio out of range",
			mutate:   func(c *Config) { c.Engine.DiffChangeRatio = 1.5 },
			contains: "diff_change_ratio",
		},
		{
			name: "poll bounds inverted",
			mutate: func(c *Config) {
				c.Engine.MinPollS = 6
				c.Engine.MaxPollS = 3
			},
			contains: "exceeds max_poll_s",
		},
		{
			name:     "bad vision url",
			mutate:   func(c *Config) { c.Vision.BaseURL = "ftp://model" },
			contains: "invalid vision base_url",
		},
		{
			name:     "negative rps",
			mutate:   func(c *Config) { c.Vision.RPS = -1 },
			contains: "rps must not be negative",
		},
		{
			name:     "bad tasks url",
			mutate:   func(c *Config) { c.Tasks.BaseURL = "not a url" },
			contains: "invalid tasks base_url",
		},
		{
			name:     "bad telemetry interval",
			mutate:   func(c *Config) { c.Telemetry.CollectionInterval = "soon" },
			contains: "collection_interval",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultConfig()
			c.DataDir = "/tmp/smartwait-test"
			tc.mutate(c)

			err := c.Validate()
			must.Error(t, err)
			must.ErrorContains(t, err, tc.contains)
		})
	}

	t.Run("reports every problem at once", func(t *testing.T) {
		c := DefaultConfig()
		c.DataDir = ""
		c.LogLevel = "LOUD"
		c.Port = -1

		err := c.Validate()
		must.Error(t, err)
		must.ErrorContains(t, err, "data_dir")
		must.ErrorContains(t, err, "log level")
		must.ErrorContains(t, err, "port")
	})

	t.Run("valid", func(t *testing.T) {
		c := DefaultConfig()
		c.DataDir = "/tmp/smartwait-test"
		must.NoError(t, c.Validate())
	})
}

func TestConfigFromEnv(t *testing.T) {
	ci.Parallel(t)

	vars := map[string]string{
		"SMARTWAIT_LOG_LEVEL":             "DEBUG",
		"SMARTWAIT_LOG_JSON":              "true",
		"SMARTWAIT_PORT":                  "4700",
		"SMARTWAIT_DIFF_CHANGE_RATIO":     "0.02",
		"SMARTWAIT_DEFAULT_TIMEOUT_S":     "120",
		"SMARTWAIT_WAKE_STATE_PREFIX":     "overnight",
		"SMARTWAIT_VISION_BASE_URL":       "http://127.0.0.1:8000/v1",
		"SMARTWAIT_VISION_RPS":            "0.5",
		"SMARTWAIT_WAKE_COMMAND":          "notify-send {{text}}",
		"SMARTWAIT_TASKS_URL":             "http://127.0.0.1:8700",
		"SMARTWAIT_TELEMETRY_PROMETHEUS":  "1",
		"IRRELEVANT_VARIABLE":             "ignored",
	}
	lookup := func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}

	conf, err := ConfigFromEnv(lookup)
	must.NoError(t, err)

	must.Eq(t, "DEBUG", conf.LogLevel)
	must.True(t, conf.LogJSON)
	must.Eq(t, 4700, conf.Port)
	must.Eq(t, 0.02, conf.Engine.DiffChangeRatio)
	must.Eq(t, 120, conf.Engine.DefaultTimeoutS)
	must.Eq(t, "overnight", conf.Engine.WakeStatePrefix)
	must.Eq(t, "http://127.0.0.1:8000/v1", conf.Vision.BaseURL)
	must.Eq(t, 0.5, conf.Vision.RPS)
	must.Eq(t, []string{"notify-send", "{{text}}"}, conf.Wake.Command)
	must.Eq(t, "http://127.0.0.1:8700", conf.Tasks.BaseURL)
	must.True(t, conf.Telemetry.PrometheusMetrics)

	// Untouched fields stay zero so merging keeps earlier layers.
	must.Eq(t, "", conf.BindAddr)
	must.Eq(t, 0, conf.Engine.DiffDownsampleWidth)
}

func TestConfigFromEnv_BadValues(t *testing.T) {
	ci.Parallel(t)

	vars := map[string]string{
		"SMARTWAIT_PORT":              "eighty",
		"SMARTWAIT_LOG_JSON":          "yep",
		"SMARTWAIT_DIFF_CHANGE_RATIO": "lots",
	}
	lookup := func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}

	_, err := ConfigFromEnv(lookup)
	must.Error(t, err)
	must.ErrorContains(t, err, `invalid SMARTWAIT_PORT "eighty"`)
	must.ErrorContains(t, err, `invalid SMARTWAIT_LOG_JSON "yep"`)
	must.ErrorContains(t, err, `invalid SMARTWAIT_DIFF_CHANGE_RATIO "lots"`)
}

func TestLoadEnvFile(t *testing.T) {
	ci.Parallel(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "smartwait.env")
	content := "SMARTWAIT_LOG_LEVEL=TRACE\nSMARTWAIT_MIN_POLL_S=1.5\n# comment\nSMARTWAIT_VISION_MODEL=llava\n"
	must.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	conf, err := LoadEnvFile(path)
	must.NoError(t, err)
	must.Eq(t, "TRACE", conf.LogLevel)
	must.Eq(t, 1.5, conf.Engine.MinPollS)
	must.Eq(t, "llava", conf.Vision.Model)
	must.Eq(t, []string{path}, conf.Files)
}

func TestLoadConfig_File(t *testing.T) {
	ci.Parallel(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "agent.json")
	content := `{"log_level": "WARN", "port": 5555, "engine": {"max_poll_s": 8}}`
	must.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	conf, err := LoadConfig(path)
	must.NoError(t, err)
	must.Eq(t, "WARN", conf.LogLevel)
	must.Eq(t, 5555, conf.Port)
	must.Eq(t, 8.0, conf.Engine.MaxPollS)
	must.Eq(t, []string{path}, conf.Files)
}

func TestLoadConfigDir_Ordering(t *testing.T) {
	ci.Parallel(t)

	dir := t.TempDir()
	must.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"),
		[]byte(`{"port": 1000, "log_level": "DEBUG"}`), 0o600))
	must.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"),
		[]byte(`{"port": 2000}`), 0o600))
	// Editor droppings and non-json files are skipped.
	must.NoError(t, os.WriteFile(filepath.Join(dir, "c.json~"),
		[]byte(`{"port": 3000}`), 0o600))
	must.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"),
		[]byte(`not json`), 0o600))

	conf, err := LoadConfig(dir)
	must.NoError(t, err)

	// b.json loads after a.json and wins.
	must.Eq(t, 2000, conf.Port)
	must.Eq(t, "DEBUG", conf.LogLevel)
	must.Len(t, 2, conf.Files)
}

func TestConfig_HTTPAddrAndListener(t *testing.T) {
	ci.Parallel(t)

	c := &Config{BindAddr: "127.0.0.1", Port: 4680}
	must.Eq(t, "127.0.0.1:4680", c.HTTPAddr())

	_, err := c.Listener("tcp", "", 700000)
	must.Error(t, err)

	ln, err := c.Listener("tcp", "127.0.0.1", 0)
	must.NoError(t, err)
	defer ln.Close()
}

func TestTelemetry_Interval(t *testing.T) {
	ci.Parallel(t)

	must.Eq(t, time.Second, (*Telemetry)(nil).Interval())
	must.Eq(t, time.Second, (&Telemetry{}).Interval())
	must.Eq(t, 5*time.Second, (&Telemetry{CollectionInterval: "5s"}).Interval())
	must.Eq(t, time.Second, (&Telemetry{CollectionInterval: "soon"}).Interval())
}

func TestConfig_EngineOptions(t *testing.T) {
	ci.Parallel(t)

	c := DefaultConfig()
	c.Engine.WakeStatePrefix = "night_shift"
	opts := c.EngineOptions()
	must.NotNil(t, opts)
	must.Eq(t, 320, opts.DiffDownsampleWidth)
	must.Eq(t, "night_shift", opts.WakeStatePrefix)

	must.Nil(t, (&Config{}).EngineOptions())
}
