// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hashicorp/smartwait/capture"
	"github.com/hashicorp/smartwait/engine"
	"github.com/hashicorp/smartwait/ptys"
	"github.com/hashicorp/smartwait/state"
	"github.com/hashicorp/smartwait/stream"
	"github.com/hashicorp/smartwait/tasks"
	"github.com/hashicorp/smartwait/vision"
	"github.com/hashicorp/smartwait/wake"
)

// ptyStopGrace is how long a hosted session gets between SIGTERM and kill,
// both for individual stops and at agent shutdown.
const ptyStopGrace = 3 * time.Second

// Agent is the long running daemon owning the wait engine and the
// subsystems it is wired to: the state store, the event broker, the pty
// registry, and the capture, vision, wake, and task seams.
type Agent struct {
	config     *Config
	configLock sync.Mutex

	logger     hclog.Logger
	httpLogger hclog.Logger
	logOutput  io.Writer

	// store persists wait records across restarts.
	store state.StateDB

	// broker fans out wait and pty lifecycle events.
	broker *stream.Broker

	// ptys hosts the terminal sessions the daemon can watch.
	ptys *ptys.Registry

	// engine owns every in-flight wait.
	engine *engine.Engine

	// vision is the adapter the engine evaluates frames through.
	vision *vision.ChatAdapter

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	InmemSink *metrics.InmemSink

	// promRegistry is non-nil when prometheus telemetry is enabled.
	promRegistry *prometheus.Registry
}

// NewAgent is used to create a new agent with the given configuration.
// The config is expected to be complete, i.e. built on DefaultConfig.
func NewAgent(config *Config, logger hclog.Logger, logOutput io.Writer, inmem *metrics.InmemSink) (*Agent, error) {
	a := &Agent{
		config:     config,
		logOutput:  logOutput,
		shutdownCh: make(chan struct{}),
		InmemSink:  inmem,
	}

	a.logger = logger
	a.httpLogger = a.logger.ResetNamed("http")

	if config.Telemetry != nil && config.Telemetry.PrometheusMetrics {
		reg, err := newPrometheusRegistry()
		if err != nil {
			return nil, err
		}
		a.promRegistry = reg
	}

	if err := a.setupStore(); err != nil {
		return nil, err
	}

	a.broker = stream.NewBroker(a.logger, 0)
	a.ptys = ptys.NewRegistry(a.logger, a.broker)

	if err := a.setupEngine(); err != nil {
		// The engine owns nothing yet; release what we opened.
		a.store.Close()
		return nil, err
	}

	if a.promRegistry != nil {
		a.promRegistry.MustRegister(&agentCollector{agent: a})
	}

	a.engine.Run()
	go a.engine.EmitStats(config.Telemetry.Interval(), a.shutdownCh)

	return a, nil
}

// setupStore opens the wait record store: boltdb under the data dir, or the
// in-memory implementation in dev mode.
func (a *Agent) setupStore() error {
	factory := state.GetStateDBFactory(a.config.DevMode)
	store, err := factory(a.logger, a.config.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	a.store = store
	a.logger.Info("state store ready", "store", store.Name())
	return nil
}

// setupEngine builds the capture, vision, wake, and task seams and
// constructs the engine on top of them.
func (a *Agent) setupEngine() error {
	source, err := capture.NewX11Source(&capture.X11SourceConfig{
		Logger: a.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize capture source: %w", err)
	}

	v := a.config.Vision
	adapter, err := vision.NewChatAdapter(&vision.ChatAdapterConfig{
		BaseURL:        v.BaseURL,
		APIKey:         v.APIKey,
		Model:          v.Model,
		MaxTokens:      v.MaxTokens,
		RequestTimeout: time.Duration(v.TimeoutS) * time.Second,
		MaxInflight:    int64(v.MaxInflight),
		RPS:            v.RPS,
		Logger:         a.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize vision adapter: %w", err)
	}
	a.vision = adapter

	notifier, err := a.setupNotifier()
	if err != nil {
		return err
	}

	sink, err := a.setupTaskSink()
	if err != nil {
		return err
	}

	eng, err := engine.NewEngine(&engine.Config{
		Logger:   a.logger,
		Store:    a.store,
		Vision:   adapter,
		Source:   source,
		Notifier: notifier,
		Tasks:    sink,
		Broker:   a.broker,
		Ptys:     a.ptys,
		Options:  a.config.EngineOptions(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	a.engine = eng
	return nil
}

func (a *Agent) setupNotifier() (wake.Notifier, error) {
	if a.config.Wake == nil || a.config.Wake.Disabled {
		a.logger.Debug("wake notifications disabled")
		return wake.NewNoopNotifier(), nil
	}
	notifier, err := wake.NewExecNotifier(a.logger, a.config.Wake.Command)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize wake notifier: %w", err)
	}
	return notifier, nil
}

func (a *Agent) setupTaskSink() (tasks.Sink, error) {
	tc := a.config.Tasks
	if tc != nil && tc.BaseURL != "" {
		sink, err := tasks.NewHTTPSink(&tasks.HTTPSinkConfig{
			BaseURL:   tc.BaseURL,
			AuthToken: tc.AuthToken,
			Timeout:   time.Duration(tc.TimeoutS) * time.Second,
			Logger:    a.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize task sink: %w", err)
		}
		return sink, nil
	}
	if a.config.DevMode {
		// Dev agents keep task updates in memory so they can be inspected.
		return tasks.NewMemorySink(), nil
	}
	return tasks.NewNoopSink(), nil
}

// newPrometheusRegistry returns a registry pre-populated with the standard
// process and runtime collectors.
func newPrometheusRegistry() (*prometheus.Registry, error) {
	r := prometheus.NewRegistry()
	if err := r.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register go collector: %w", err)
	}
	if err := r.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}
	return r, nil
}

// Shutdown is used to terminate the agent.
func (a *Agent) Shutdown() error {
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()

	if a.shutdown {
		return nil
	}

	a.logger.Info("requesting shutdown")
	var mErr multierror.Error

	if a.engine != nil {
		a.engine.Shutdown()
	}
	if a.ptys != nil {
		a.ptys.Shutdown(ptyStopGrace)
	}
	if a.broker != nil {
		a.broker.Shutdown()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("failed to close state store: %w", err))
		}
	}

	a.logger.Info("shutdown complete")
	a.shutdown = true
	close(a.shutdownCh)
	return mErr.ErrorOrNil()
}

// Engine returns the wait engine.
func (a *Agent) Engine() *engine.Engine {
	return a.engine
}

// Ptys returns the hosted pty registry.
func (a *Agent) Ptys() *ptys.Registry {
	return a.ptys
}

// Broker returns the event broker.
func (a *Agent) Broker() *stream.Broker {
	return a.broker
}

// GetConfig returns the current agent configuration.
func (a *Agent) GetConfig() *Config {
	a.configLock.Lock()
	defer a.configLock.Unlock()
	return a.config
}

// AgentStats summarizes the load on the agent's sub-systems.
type AgentStats struct {
	ActiveWaits     int `json:"active_waits"`
	EvaluatingWaits int `json:"evaluating_waits"`
	PtySessions     int `json:"pty_sessions"`
	Subscriptions   int `json:"subscriptions"`
}

// Stats is used to return statistics for debugging and insight
// for various sub-systems.
func (a *Agent) Stats() *AgentStats {
	engineStats := a.engine.Stats()
	return &AgentStats{
		ActiveWaits:     engineStats.Active,
		EvaluatingWaits: engineStats.Evaluating,
		PtySessions:     len(a.ptys.List()),
		Subscriptions:   a.broker.SubscriptionCount(),
	}
}
