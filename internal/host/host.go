// Package host runs the plugin manager as a long-lived service: it wires
// the settings store, the command sandbox, metrics and audit observers, and
// keeps the registry in sync with the tier roots.
package host

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/harun/pluginhost/internal/config"
	"github.com/harun/pluginhost/internal/logger"
	"github.com/harun/pluginhost/internal/metrics"
	"github.com/harun/pluginhost/internal/observability"
	"github.com/harun/pluginhost/internal/tracing"
	"github.com/harun/pluginhost/pkg/builtin"
	"github.com/harun/pluginhost/pkg/plugin"
	"github.com/harun/pluginhost/pkg/pluginstore"
	"github.com/harun/pluginhost/pkg/sandbox"
	"github.com/harun/pluginhost/pkg/workspace"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var (
	// ErrAlreadyRunning is returned by Start on a running host
	ErrAlreadyRunning = errors.New("host is already running")
	// ErrNotRunning is returned by Stop on a stopped host
	ErrNotRunning = errors.New("host is not running")
)

// Host owns the plugin manager and everything that feeds it
type Host struct {
	config *config.Config
	logger *logger.Logger

	manager *plugin.Manager
	layout  workspace.Layout
	store   *pluginstore.Store
	sandbox *sandbox.HostSandbox
	metrics *metrics.Metrics
	audit   *observability.AuditLogger

	emitter       *workspace.Emitter
	watcher       *workspace.Watcher
	scheduler     *cron.Cron
	metricsServer *http.Server
	metricsAddr   string
	lifecycle     *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// serializes scans triggered by the watcher, the schedule and callers
	scanMu sync.Mutex

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status describes a running host
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
	Plugins   plugin.Stats
}

// New creates a host from cfg. Nothing is discovered until Start.
func New(cfg *config.Config, log *logger.Logger) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Host{
		config: cfg,
		logger: log,
		layout: layoutFromConfig(cfg),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(ctx, tracing.Config{ServiceName: cfg.Tracing.ServiceName}); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without spans")
		} else {
			h.tracingEnabled = true
			log.Info().Str("service", cfg.Tracing.ServiceName).Msg("Tracing initialized")
		}
	}

	if err := h.initialize(); err != nil {
		cancel()
		h.closeResources()
		return nil, fmt.Errorf("failed to initialize host: %w", err)
	}

	return h, nil
}

func (h *Host) initialize() error {
	zl := h.logger.GetZerolog()

	if h.config.StorePath != "" {
		store, err := pluginstore.Open(pluginstore.Config{DBPath: h.config.StorePath, Logger: zl})
		if err != nil {
			return err
		}
		h.store = store
	}

	if h.config.Sandbox.Enabled {
		sbCfg := sandbox.DefaultConfig()
		sbCfg.Timeout = h.config.Sandbox.Timeout
		sbCfg.FilesystemAccess.AllowedPaths = h.config.Sandbox.AllowedPaths
		sbCfg.FilesystemAccess.DeniedPaths = h.config.Sandbox.DeniedPaths
		sb, err := sandbox.NewHostSandbox(sbCfg)
		if err != nil {
			return err
		}
		h.sandbox = sb
	}

	h.metrics = metrics.NewMetrics()

	if h.config.DataDir != "" {
		audit, err := observability.OpenAuditLog(filepath.Join(h.config.DataDir, "audit.log"))
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		h.audit = audit
	} else {
		h.audit = observability.NewAuditLogger(zl.With().Str("component", "audit").Logger())
	}

	table := plugin.NewFactoryTable()
	if err := builtin.Register(table); err != nil {
		return err
	}

	mcfg := plugin.ManagerConfig{
		HookTimeout:        h.config.HookTimeout,
		MaxConcurrentLoads: h.config.MaxConcurrentLoads,
		PluginConfigs:      h.config.Plugins,
		ProcessAllowlist:   h.config.ProcessAllowlist,
		Observer: plugin.Observers{
			h.metrics,
			observability.NewAuditObserver(h.audit, auditActor()),
		},
	}
	// typed nils must not reach the interfaces
	if h.store != nil {
		mcfg.Store = h.store
	}
	if h.sandbox != nil {
		mcfg.Executor = h.sandbox
	}

	manager, err := plugin.NewManager(zl, table, mcfg)
	if err != nil {
		return err
	}
	h.manager = manager

	h.emitter = workspace.NewEmitter()
	h.emitter.On(workspace.EventPluginsChanged, h.handleChanges)
	h.emitter.On(workspace.EventError, h.handleWatchError)

	if h.config.Watch.Enabled {
		watcher, err := workspace.NewWatcher(workspace.WatcherConfig{
			Layout:   h.layout,
			Debounce: h.config.Watch.Debounce,
			Emitter:  h.emitter,
			Logger:   zl,
		})
		if err != nil {
			return err
		}
		h.watcher = watcher
	}

	if h.config.RescanSchedule != "" {
		h.scheduler = cron.New()
		if _, err := h.scheduler.AddFunc(h.config.RescanSchedule, h.scheduledRescan); err != nil {
			return fmt.Errorf("invalid rescan schedule: %w", err)
		}
	}

	if h.config.DataDir != "" {
		h.lifecycle = NewLifecycleManager(h.config.DataDir, zl)
	}

	return nil
}

// Start discovers and activates plugins, then starts watching for changes
func (h *Host) Start() error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrAlreadyRunning
	}
	h.running = true
	h.startTime = time.Now()
	h.mu.Unlock()

	ctx := tracing.NewOperationContext(h.ctx, tracing.TriggerStartup)
	log := tracing.PropagateToLogger(ctx, h.logger.GetZerolog())
	log.Info().Msg("Starting plugin host")

	if h.lifecycle != nil {
		if err := h.lifecycle.Start(); err != nil {
			return fmt.Errorf("failed to start lifecycle manager: %w", err)
		}
	}

	if h.sandbox != nil {
		if err := h.sandbox.Start(ctx); err != nil {
			return fmt.Errorf("failed to start sandbox: %w", err)
		}
	}

	if h.config.Metrics.Enabled {
		if err := h.startMetricsServer(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		log.Info().Str("address", h.MetricsAddr()).Msg("Metrics server started")
	}

	result, err := h.Rescan(ctx, false)
	if err != nil {
		log.Warn().Err(err).Msg("Some tier roots could not be scanned")
	}
	if result != nil {
		log.Info().
			Int("activated", len(result.Activated)).
			Int("failed", len(result.Failed)).
			Msg("Initial plugin scan completed")
	}

	if h.watcher != nil {
		if err := h.watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start plugin watcher")
		} else {
			log.Info().Msg("Plugin watcher started")
		}
	}

	if h.scheduler != nil {
		h.scheduler.Start()
		log.Info().Str("schedule", h.config.RescanSchedule).Msg("Rescan schedule started")
	}

	log.Info().Msg("Plugin host started")
	return nil
}

// Stop shuts every plugin down and releases the host's resources
func (h *Host) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrNotRunning
	}
	h.running = false
	h.mu.Unlock()

	log := h.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	log.Info().Msg("Stopping plugin host")

	if h.scheduler != nil {
		<-h.scheduler.Stop().Done()
	}

	if h.watcher != nil {
		if err := h.watcher.Stop(); err != nil {
			log.Error().Err(err).Msg("Failed to stop plugin watcher")
		}
	}

	// Cancel before waiting so in-flight reloads give up early
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Timeout waiting for reloads to stop")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout())
	defer cancel()
	h.scanMu.Lock()
	if err := h.manager.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shut down plugins")
	}
	h.scanMu.Unlock()

	if h.metricsServer != nil {
		if err := h.metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to stop metrics server")
		}
	}

	if h.sandbox != nil && h.sandbox.IsRunning() {
		if err := h.sandbox.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to stop sandbox")
		}
	}

	if h.lifecycle != nil {
		if err := h.lifecycle.Stop(); err != nil {
			log.Error().Err(err).Msg("Failed to stop lifecycle manager")
		}
	}

	h.emitter.RemoveAllListeners()
	h.closeResources()

	log.Info().Msg("Plugin host stopped")
	return nil
}

// Load runs a single discovery pass without watching, for one-shot use of
// the registry. Release the host with Close.
func (h *Host) Load(ctx context.Context) (*plugin.LoadResult, error) {
	if h.sandbox != nil && !h.sandbox.IsRunning() {
		if err := h.sandbox.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start sandbox: %w", err)
		}
	}
	return h.Rescan(ctx, false)
}

// Close releases a host that was never started; a running host is stopped
func (h *Host) Close() error {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if running {
		return h.Stop()
	}

	h.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout())
	defer cancel()

	h.scanMu.Lock()
	err := h.manager.Shutdown(ctx)
	h.scanMu.Unlock()

	if h.sandbox != nil && h.sandbox.IsRunning() {
		_ = h.sandbox.Stop(ctx)
	}
	h.emitter.RemoveAllListeners()
	h.closeResources()
	return err
}

// closeResources releases what New opened; safe on a partially built host
func (h *Host) closeResources() {
	if h.store != nil {
		if err := h.store.Close(); err != nil {
			h.logger.Error().Err(err).Msg("Failed to close settings store")
		}
		h.store = nil
	}
	if h.audit != nil {
		if err := h.audit.Close(); err != nil {
			h.logger.Error().Err(err).Msg("Failed to close audit log")
		}
		h.audit = nil
	}
	if h.tracingEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			h.logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		h.tracingEnabled = false
	}
}

// shutdownTimeout leaves every active plugin one hook timeout, bounded
func (h *Host) shutdownTimeout() time.Duration {
	timeout := h.config.HookTimeout
	if timeout <= 0 {
		timeout = plugin.DefaultHookTimeout
	}
	timeout *= 2
	if timeout > time.Minute {
		timeout = time.Minute
	}
	return timeout
}

func (h *Host) startMetricsServer() error {
	ln, err := net.Listen("tcp", h.config.Metrics.Address)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", h.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	h.metricsServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	h.mu.Lock()
	h.metricsAddr = ln.Addr().String()
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	return nil
}

// Status returns the host status
func (h *Host) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := Status{
		Running: h.running,
		Plugins: h.manager.Stats(),
	}

	if h.running {
		status.Uptime = time.Since(h.startTime)
		status.StartTime = h.startTime
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the host
func (h *Host) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	h.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := h.Stop(); err != nil {
		h.logger.Error().Err(err).Msg("Failed to stop host")
	}
}

// Manager returns the plugin manager
func (h *Host) Manager() *plugin.Manager {
	return h.manager
}

// Layout returns the tier roots the host scans
func (h *Host) Layout() workspace.Layout {
	return h.layout
}

// Config returns the host configuration
func (h *Host) Config() *config.Config {
	return h.config
}

// Metrics returns the Prometheus collectors fed by the manager
func (h *Host) Metrics() *metrics.Metrics {
	return h.metrics
}

// MetricsAddr returns the address the metrics server listens on, or "" if
// it is not serving
func (h *Host) MetricsAddr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.metricsAddr
}

// layoutFromConfig maps configured tier roots onto a workspace layout. An
// empty builtin root serves the plugins embedded in the binary.
func layoutFromConfig(cfg *config.Config) workspace.Layout {
	home := workspace.UserHome()
	l := workspace.Layout{
		BuiltinDir: workspace.ExpandHome(cfg.Tiers.Builtin, home),
		System:     workspace.ExpandHome(cfg.Tiers.System, home),
		User:       workspace.ExpandHome(cfg.Tiers.User, home),
		Workspace:  workspace.ExpandHome(cfg.Tiers.Workspace, home),
	}
	if l.BuiltinDir == "" {
		l.Builtin = builtin.FS()
	}
	return l
}

func auditActor() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s/%d", hostname, os.Getpid())
}

// logFor derives a logger carrying the ids stored in ctx
func (h *Host) logFor(ctx context.Context) zerolog.Logger {
	return tracing.PropagateToLogger(ctx, h.logger.GetZerolog())
}
