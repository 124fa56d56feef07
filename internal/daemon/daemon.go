package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/kskip310/luminous/internal/config"
	"github.com/kskip310/luminous/internal/logger"
	"github.com/kskip310/luminous/internal/observability"
	"github.com/kskip310/luminous/internal/tracing"
	"github.com/kskip310/luminous/pkg/agent"
	"github.com/kskip310/luminous/pkg/bus"
	"github.com/kskip310/luminous/pkg/commandqueue"
	"github.com/kskip310/luminous/pkg/coretools"
	"github.com/kskip310/luminous/pkg/cron"
	"github.com/kskip310/luminous/pkg/gateway"
	"github.com/kskip310/luminous/pkg/state"
	"github.com/kskip310/luminous/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// ResyncJobName names the scheduled continuity resync.
const ResyncJobName = "continuity-resync"

// Option customizes a Daemon.
type Option func(*Daemon)

// WithModel replaces the configured provider, e.g. with a scripted model.
func WithModel(m agent.Model) Option {
	return func(d *Daemon) { d.model = m }
}

// WithConfigPath enables hot reload of the file at path.
func WithConfigPath(path string) Option {
	return func(d *Daemon) { d.configPath = path }
}

// Daemon wires the agent runtime: storage, tools, orchestrator, worker,
// gateway and scheduled jobs.
type Daemon struct {
	configMu   sync.RWMutex
	config     *config.Config
	configPath string
	logger     *logger.Logger
	log        zerolog.Logger

	core      *Core
	bus       *bus.Bus
	mirror    *bus.Mirror
	queue     *commandqueue.CommandQueue
	tools     *toolexecutor.Executor
	model     agent.Model
	orch      *agent.Orchestrator
	worker    *agent.Worker
	gateway   *gateway.Server
	cron      *cron.Service
	watcher   *config.Watcher
	audit     *observability.AuditLogger
	lifecycle *LifecycleManager

	unsubscribeMirror func()

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracer *tracing.Provider
}

// New creates a daemon from a validated config.
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Daemon, error) {
	d := &Daemon{
		config: cfg,
		logger: log,
		log:    log.GetZerolog(),
	}
	for _, opt := range opts {
		opt(d)
	}

	observability.EnsureRegistered()
	if tracer, err := tracing.Setup("luminous"); err != nil {
		d.log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without spans")
	} else {
		d.tracer = tracer
	}

	log.AddSecret(cfg.Model.APIKey)
	log.AddSecret(cfg.Remote.Token)
	log.AddSecret(cfg.Gateway.SharedSecret)
	log.AddSecret(cfg.Tools.SearchKey)
	log.AddSecret(cfg.Memory.APIKey)

	if err := d.initialize(); err != nil {
		d.closeCore()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) component(name string) zerolog.Logger {
	return d.log.With().Str("component", name).Logger()
}

func (d *Daemon) initialize() error {
	cfg := d.config

	core, err := OpenCore(cfg, d.log)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	d.core = core

	audit, err := observability.OpenAuditLog(filepath.Join(cfg.DataDir, "audit.log"))
	if err != nil {
		d.log.Warn().Err(err).Msg("Audit log unavailable")
	}
	d.audit = audit

	d.bus = bus.New(bus.Config{Logger: d.component("bus")})
	d.queue = commandqueue.New(commandqueue.Config{Logger: d.component("queue")})
	d.tools = toolexecutor.New(toolexecutor.Config{
		Logger:      d.component("tools"),
		Timeout:     config.Millis(cfg.Tools.TimeoutMs),
		MaxParallel: cfg.Tools.MaxParallel,
	})

	vfsRoot := filepath.Join(cfg.DataDir, "vfs")
	if err := os.MkdirAll(vfsRoot, 0o700); err != nil {
		return fmt.Errorf("failed to create virtual filesystem root: %w", err)
	}
	if err := coretools.Register(d.tools, coretools.Options{
		KV:           core.Local,
		FS:           afero.NewBasePathFs(afero.NewOsFs(), vfsRoot),
		Memory:       core.Memory,
		Retry:        retryPolicy(cfg.Tools.Retry, "tool.http"),
		MaxBodyBytes: cfg.Tools.MaxBodyBytes,
		SearchURL:    cfg.Tools.SearchURL,
		SearchKey:    cfg.Tools.SearchKey,
		CodeTimeout:  config.Millis(cfg.Tools.CodeTimeoutMs),
		Logger:       d.component("coretools"),
	}); err != nil {
		return err
	}

	if d.model == nil {
		model, err := agent.NewModel(context.Background(), agent.ModelConfig{
			Provider:    cfg.Model.Provider,
			Model:       cfg.Model.Model,
			APIKey:      cfg.Model.APIKey,
			BaseURL:     cfg.Model.BaseURL,
			Temperature: cfg.Model.Temperature,
			MaxTokens:   cfg.Model.MaxTokens,
		})
		if err != nil {
			return fmt.Errorf("failed to create model: %w", err)
		}
		d.model = model
	}

	modelRetry := retryPolicy(cfg.Tools.Retry, "model.invoke")
	orch, err := agent.New(agent.Config{
		Identity:          cfg.Identity,
		Model:             d.model,
		Tools:             d.tools,
		Store:             core.Store,
		Sessions:          core.Sessions,
		Bus:               d.bus,
		Logger:            d.component("agent"),
		MaxLoops:          cfg.Model.MaxLoops,
		ContextWindow:     cfg.Model.ContextWindow,
		SystemInstruction: cfg.Model.SystemPrompt,
		ModelRetry:        &modelRetry,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	d.orch = orch
	d.worker = agent.NewWorker(orch, d.queue, d.component("worker"))

	d.mirror = bus.NewMirror(cfg.Identity, state.Default(), d.component("mirror"), nil)

	gw, err := gateway.NewServer(gateway.Config{
		Host:         cfg.Gateway.Host,
		Port:         cfg.Gateway.Port,
		SharedSecret: cfg.Gateway.SharedSecret,
		Worker:       d.worker,
		Reader:       orch,
		Bus:          d.bus,
		Limits: gateway.Limits{
			RequestsPerMinute: cfg.Gateway.RequestsPerMinute,
			MaxConcurrent:     cfg.Gateway.MaxConcurrent,
		},
		MaxUploadBytes: cfg.Gateway.MaxUploadBytes,
		Audit:          d.audit,
		Logger:         d.component("gateway"),
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	d.gateway = gw

	d.cron = cron.New(cron.Config{
		Logger:     d.component("cron"),
		JobTimeout: time.Minute,
	})
	d.lifecycle = NewLifecycleManager(d)

	return nil
}

func retryPolicy(cfg config.RetryConfig, operation string) toolexecutor.RetryPolicy {
	p := toolexecutor.DefaultRetryPolicy(operation)
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	p.BaseDelay = config.Millis(cfg.BaseDelayMs)
	p.MaxJitter = config.Millis(cfg.MaxJitterMs)
	return p
}

// Start loads the session and starts serving.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.log.With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Str("identity", d.config.Identity).Msg("Starting luminous")

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	d.unsubscribeMirror = d.bus.Subscribe(d.mirror.Handle)

	if err := d.orch.Start(ctx); err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	logger.Info().
		Str("cloud_status", string(d.worker.CloudStatus())).
		Msg("Session loaded")

	if err := d.gateway.Start(); err != nil {
		return fmt.Errorf("failed to start gateway server: %w", err)
	}

	cfg := d.Config()
	if cfg.Sync.Enabled {
		if _, err := d.cron.Add(ResyncJobName, cfg.Sync.Schedule, cron.ResyncJob(d.worker, d.component("resync"))); err != nil {
			return fmt.Errorf("failed to schedule resync: %w", err)
		}
	}
	d.cron.Start()

	if d.configPath != "" {
		w, err := config.NewWatcher(config.WatcherConfig{
			Path:     d.configPath,
			OnChange: d.applyConfig,
			Logger:   d.component("config"),
		})
		if err != nil {
			return err
		}
		if err := w.Start(); err != nil {
			logger.Warn().Err(err).Msg("Config hot reload disabled")
		} else {
			d.watcher = w
		}
	}

	logger.Info().Str("addr", d.gateway.Addr()).Msg("Luminous started")
	return nil
}

// Stop shuts everything down. ctx bounds the wait for in-flight work.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.log.With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping luminous")

	var errs []error
	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.cron.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("cron: %w", err))
	}
	if err := d.gateway.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("gateway: %w", err))
	}
	if err := d.queue.Close(); err != nil {
		errs = append(errs, fmt.Errorf("queue: %w", err))
	}
	if d.unsubscribeMirror != nil {
		d.unsubscribeMirror()
	}
	d.bus.Close()

	if err := d.lifecycle.Stop(); err != nil {
		errs = append(errs, err)
	}
	d.closeCore()

	if err := d.tracer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to shutdown tracing")
	}
	d.tracer = nil

	for _, err := range errs {
		logger.Error().Err(err).Msg("Shutdown error")
	}
	logger.Info().Msg("Luminous stopped")
	return errors.Join(errs...)
}

func (d *Daemon) closeCore() {
	if d.core != nil {
		if err := d.core.Close(); err != nil {
			d.log.Error().Err(err).Msg("Failed to close storage")
		}
	}
	if err := d.audit.Close(); err != nil {
		d.log.Error().Err(err).Msg("Failed to close audit log")
	}
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon.
func (d *Daemon) Wait(timeout time.Duration) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.log.Info().Str("signal", sig.String()).Msg("Received signal")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return d.Stop(ctx)
}

// Status is a point-in-time view of the daemon.
type Status struct {
	Running     bool
	Uptime      time.Duration
	StartTime   time.Time
	Identity    string
	Phase       agent.Phase
	CloudStatus state.CloudStatus
	Goals       int
	Addr        string
	Clients     int
}

// Status reports the daemon status. Session details come from the bus
// mirror so reading them never waits on a running turn.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{Running: d.running}
	if !d.running {
		return status
	}
	mirrored := d.mirror.State()
	status.Uptime = time.Since(d.startTime)
	status.StartTime = d.startTime
	status.Identity = d.mirror.Identity()
	status.Phase = d.orch.Phase()
	status.CloudStatus = mirrored.ContinuityState.CloudStatus
	status.Goals = len(mirrored.Goals)
	status.Addr = d.gateway.Addr()
	status.Clients = len(d.gateway.Clients())
	return status
}

// Config returns the current configuration.
func (d *Daemon) Config() *config.Config {
	d.configMu.RLock()
	defer d.configMu.RUnlock()
	return d.config
}

// Worker returns the single-writer worker.
func (d *Daemon) Worker() *agent.Worker {
	return d.worker
}

// Gateway returns the gateway server.
func (d *Daemon) Gateway() *gateway.Server {
	return d.gateway
}

// Core returns the persistence stack.
func (d *Daemon) Core() *Core {
	return d.core
}

// Bus returns the broadcast bus.
func (d *Daemon) Bus() *bus.Bus {
	return d.bus
}

// Cron returns the job scheduler.
func (d *Daemon) Cron() *cron.Service {
	return d.cron
}
