// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/cli"
	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	colorable "github.com/mattn/go-colorable"
	"github.com/posener/complete"

	"github.com/hashicorp/smartwait/helper/flags"
	"github.com/hashicorp/smartwait/version"
)

// gracefulTimeout controls how long we wait before forcefully terminating
const gracefulTimeout = 10 * time.Second

// Command is a Command implementation that runs the SmartWait agent. The
// command will not end unless a shutdown message is sent on the ShutdownCh.
// If two messages are sent on the ShutdownCh it will forcibly exit.
type Command struct {
	Version    *version.VersionInfo
	Ui         cli.Ui
	ShutdownCh <-chan struct{}

	args       []string
	agent      *Agent
	httpServer *HTTPServer
	logger     hclog.Logger
	logOutput  io.Writer
}

func (c *Command) readConfig() *Config {
	var devMode bool
	var configPaths flags.StringFlag
	var envFile string

	// Make a new, empty config.
	cmdConfig := &Config{
		Engine: &EngineConfig{},
		Vision: &VisionConfig{},
		Wake:   &WakeConfig{},
		Tasks:  &TasksConfig{},
	}

	flagSet := flag.NewFlagSet("agent", flag.ContinueOnError)
	flagSet.Usage = func() { c.Ui.Error(c.Help()) }

	flagSet.BoolVar(&devMode, "dev", false, "")
	flagSet.Var(&configPaths, "config", "config file or directory")
	flagSet.StringVar(&envFile, "env-file", "", "")
	flagSet.StringVar(&cmdConfig.BindAddr, "bind", "", "")
	flagSet.IntVar(&cmdConfig.Port, "port", 0, "")
	flagSet.StringVar(&cmdConfig.DataDir, "data-dir", "", "")
	flagSet.StringVar(&cmdConfig.Display, "display", "", "")
	flagSet.StringVar(&cmdConfig.LogLevel, "log-level", "", "")
	flagSet.BoolVar(&cmdConfig.LogJSON, "log-json", false, "")
	flagSet.BoolVar(&cmdConfig.EnableDebug, "enable-debug", false, "")

	if err := flagSet.Parse(c.args); err != nil {
		return nil
	}

	// Load the base configuration.
	var config *Config
	if devMode {
		config = DevConfig()
	} else {
		config = DefaultConfig()
	}

	// Merge in config files, in order.
	for _, path := range configPaths {
		current, err := LoadConfig(path)
		if err != nil {
			c.Ui.Error(fmt.Sprintf("Error loading configuration from %s: %s", path, err))
			return nil
		}
		config = config.Merge(current)
	}

	// An env file overrides config files but not the live environment.
	if envFile == "" {
		envFile = os.Getenv("SMARTWAIT_ENV_FILE")
	}
	if envFile != "" {
		fileConfig, err := LoadEnvFile(envFile)
		if err != nil {
			c.Ui.Error(fmt.Sprintf("Error loading environment file %s: %s", envFile, err))
			return nil
		}
		config = config.Merge(fileConfig)
	}

	envConfig, err := EnvConfig()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error reading environment: %s", err))
		return nil
	}
	config = config.Merge(envConfig)

	// Command line flags win.
	config = config.Merge(cmdConfig)

	if err := config.Validate(); err != nil {
		c.Ui.Error(fmt.Sprintf("Invalid configuration: %s", err))
		return nil
	}

	return config
}

// setupLoggers builds the agent's logger from the merged config.
func (c *Command) setupLoggers(config *Config) (hclog.Logger, io.Writer) {
	logOutput := colorable.NewColorableStderr()
	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "agent",
		Level:      hclog.LevelFromString(config.LogLevel),
		Output:     logOutput,
		JSONFormat: config.LogJSON,
	})
	return logger, logOutput
}

// setupTelemetry is used to setup the telemetry sub-systems
func (c *Command) setupTelemetry(config *Config) (*metrics.InmemSink, error) {
	// Setup telemetry
	// Aggregate on 10 second intervals for 1 minute. Expose the
	// metrics over stderr when there is a SIGUSR1 received.
	inm := metrics.NewInmemSink(10*time.Second, time.Minute)
	metrics.DefaultInmemSignal(inm)

	metricsConf := metrics.DefaultConfig("smartwait")
	if config.Telemetry != nil {
		metricsConf.EnableHostname = !config.Telemetry.DisableHostname
	}

	if _, err := metrics.NewGlobal(metricsConf, inm); err != nil {
		return inm, err
	}
	return inm, nil
}

func (c *Command) setupAgent(config *Config, logger hclog.Logger, logOutput io.Writer, inmem *metrics.InmemSink) error {
	c.Ui.Output("Starting SmartWait agent...")
	agent, err := NewAgent(config, logger, logOutput, inmem)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error starting agent: %s", err))
		return err
	}
	c.agent = agent

	// Setup the HTTP server
	httpServer, err := NewHTTPServer(agent, config)
	if err != nil {
		agent.Shutdown()
		c.Ui.Error(fmt.Sprintf("Error starting http server: %s", err))
		return err
	}
	c.httpServer = httpServer

	return nil
}

func (c *Command) Run(args []string) int {
	c.Ui = &cli.PrefixedUi{
		OutputPrefix: "==> ",
		InfoPrefix:   "    ",
		ErrorPrefix:  "==> ",
		Ui:           c.Ui,
	}

	c.args = args
	config := c.readConfig()
	if config == nil {
		return 1
	}

	logger, logOutput := c.setupLoggers(config)
	c.logger = logger
	c.logOutput = logOutput

	inmem, err := c.setupTelemetry(config)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error initializing telemetry: %s", err))
		return 1
	}

	if err := c.setupAgent(config, logger, logOutput, inmem); err != nil {
		return 1
	}
	defer func() {
		c.httpServer.Shutdown()
		c.agent.Shutdown()
	}()

	// Compile agent information for output later
	info := make(map[string]string)
	info["version"] = config.Version.VersionNumber()
	info["bind addr"] = config.HTTPAddr()
	info["log level"] = config.LogLevel
	if config.DevMode {
		info["data dir"] = "<in-memory>"
	} else {
		info["data dir"] = config.DataDir
	}
	info["display"] = config.Display
	if config.Vision != nil {
		info["vision"] = config.Vision.BaseURL
	}

	// Sort the keys for output
	infoKeys := []string{"version", "bind addr", "log level", "data dir", "display", "vision"}

	// Agent configuration output
	padding := 0
	for _, k := range infoKeys {
		if n := len(k); n > padding {
			padding = n
		}
	}
	c.Ui.Output("SmartWait agent configuration:\n")
	for _, k := range infoKeys {
		c.Ui.Info(fmt.Sprintf(
			"%s%s: %s",
			strings.Repeat(" ", padding-len(k)),
			k,
			info[k]))
	}
	c.Ui.Output("")

	// Output the header that the server has started
	c.Ui.Output("SmartWait agent started! Log data will stream in below:\n")

	// Wait for exit
	return c.handleSignals()
}

// handleSignals blocks until we get an exit-causing signal
func (c *Command) handleSignals() int {
	signalCh := make(chan os.Signal, 4)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM, syscall.SIGPIPE)

	// Wait for a signal
WAIT:
	var sig os.Signal
	select {
	case s := <-signalCh:
		sig = s
	case <-c.ShutdownCh:
		sig = os.Interrupt
	}

	// Skip any SIGPIPE signal and don't try to log it
	if sig == syscall.SIGPIPE {
		goto WAIT
	}

	c.Ui.Output(fmt.Sprintf("Caught signal: %v", sig))

	// Attempt a graceful shutdown
	c.Ui.Output("Gracefully shutting down agent...")
	gracefulCh := make(chan struct{})
	go func() {
		c.httpServer.Shutdown()
		if err := c.agent.Shutdown(); err != nil {
			c.Ui.Error(fmt.Sprintf("Error during shutdown: %s", err))
		}
		close(gracefulCh)
	}()

	// Wait for shutdown or another signal
	select {
	case <-signalCh:
		return 1
	case <-time.After(gracefulTimeout):
		return 1
	case <-gracefulCh:
		return 0
	}
}

func (c *Command) AutocompleteFlags() complete.Flags {
	return complete.Flags{
		"-dev":          complete.PredictNothing,
		"-config":       complete.PredictOr(complete.PredictFiles("*.json"), complete.PredictDirs("*")),
		"-env-file":     complete.PredictFiles("*"),
		"-bind":         complete.PredictAnything,
		"-port":         complete.PredictAnything,
		"-data-dir":     complete.PredictDirs("*"),
		"-display":      complete.PredictAnything,
		"-log-level":    complete.PredictSet("TRACE", "DEBUG", "INFO", "WARN", "ERROR"),
		"-log-json":     complete.PredictNothing,
		"-enable-debug": complete.PredictNothing,
	}
}

func (c *Command) AutocompleteArgs() complete.Predictor {
	return complete.PredictNothing
}

func (c *Command) Synopsis() string {
	return "Runs the SmartWait agent"
}

func (c *Command) Help() string {
	helpText := `
Usage: smartwait agent [options]

  Starts the SmartWait agent and runs until an interrupt is received. The
  agent owns all in-flight waits: it polls capture targets, asks the
  configured vision endpoint whether each wait's condition holds, and
  publishes terminal notifications.

  The agent's configuration is layered: built-in defaults, then -config
  files in the order given, then the -env-file, then the process
  environment (SMARTWAIT_* variables), then command line flags.

Options:

  -dev
    Start the agent in development mode. State is kept in memory, wake
    notifications are disabled, and debug endpoints are enabled.

  -config=<path>
    Path to a configuration file or directory of .json configuration
    files. May be specified multiple times; later values override
    earlier ones.

  -env-file=<path>
    Path to a KEY=value environment file applied before the process
    environment. Defaults to the SMARTWAIT_ENV_FILE environment
    variable.

  -bind=<addr>
    The address the HTTP server binds to. Default = 127.0.0.1

  -port=<port>
    The port the HTTP server listens on. Default = 4680

  -data-dir=<path>
    The directory for durable state. Required unless running in
    development mode.

  -display=<display>
    The X11 display captured when a wait does not name one. Defaults to
    the DISPLAY environment variable, then ":0".

  -log-level=<level>
    The verbosity of logs: TRACE, DEBUG, INFO, WARN, or ERROR.
    Default = INFO

  -log-json
    Output logs in JSON format.

  -enable-debug
    Enable the pprof debug endpoints.
`
	return strings.TrimSpace(helpText)
}
