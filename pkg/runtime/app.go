// Package runtime hosts agent entrypoints behind the invocation HTTP
// contract: POST /invocations dispatches a JSON payload to the registered
// handler and GET /ping reports liveness. Results are returned as a single
// JSON document or streamed as server-sent events, task tracking feeds the
// busy status, and debug actions expose the internals during development.
package runtime

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/theumbrella1/agentcore/internal/observability"
	"github.com/theumbrella1/agentcore/pkg/health"
	"github.com/theumbrella1/agentcore/pkg/serialize"
	"github.com/theumbrella1/agentcore/pkg/tasks"
)

// DefaultPort is the port the runtime contract expects inside a container.
const DefaultPort = 8080

// Options configures an App.
type Options struct {
	// Host to bind. Empty selects 0.0.0.0 inside a container and
	// 127.0.0.1 elsewhere.
	Host string

	// Port to bind. Zero picks an ephemeral port.
	Port int

	// Logger used for runtime logs. The zero value discards everything.
	Logger zerolog.Logger

	// EnableDebugActions honors the debug control field in payloads.
	EnableDebugActions bool

	// InvocationTimeout bounds a single handler call. Zero means no limit.
	InvocationTimeout time.Duration

	// ShutdownTimeout bounds the graceful drain. Defaults to 30 seconds.
	ShutdownTimeout time.Duration

	// Workers caps concurrent background tasks. Defaults to 8.
	Workers int
}

// App is the runtime server. Create it with New, register an entrypoint,
// then Start or Run it.
type App struct {
	host              string
	port              int
	logger            zerolog.Logger
	tracker           *tasks.Tracker
	runner            *tasks.Runner
	monitor           *health.Monitor
	invocationTimeout time.Duration
	shutdownTimeout   time.Duration

	entryMu sync.RWMutex
	entry   *entrypoint

	debugActions atomic.Bool

	server         *http.Server
	listener       net.Listener
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// New creates an App from options.
func New(opts Options) (*App, error) {
	if opts.Port < 0 {
		return nil, fmt.Errorf("invalid port: %d", opts.Port)
	}
	if opts.Host == "" {
		opts.Host = DefaultHost()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}

	tracker := tasks.NewTracker(opts.Logger)
	a := &App{
		host:              opts.Host,
		port:              opts.Port,
		logger:            opts.Logger,
		tracker:           tracker,
		runner:            tasks.NewRunner(tracker, tasks.RunnerOptions{Workers: opts.Workers}, opts.Logger),
		monitor:           health.NewMonitor(tracker, opts.Logger),
		invocationTimeout: opts.InvocationTimeout,
		shutdownTimeout:   opts.ShutdownTimeout,
	}
	a.debugActions.Store(opts.EnableDebugActions)

	observability.EnsureRegistered()

	return a, nil
}

// DefaultHost picks the bind address. Containers need all interfaces so the
// platform can reach the runtime, local development stays on loopback.
func DefaultHost() string {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return "0.0.0.0"
	}
	return "127.0.0.1"
}

// RegisterEntrypoint installs the invocation handler. Only one entrypoint
// can be registered; a second registration fails.
func (a *App) RegisterEntrypoint(h Handler, opts ...EntrypointOption) error {
	if h == nil {
		return fmt.Errorf("entrypoint handler is nil")
	}

	entry, err := newEntrypoint(h, opts...)
	if err != nil {
		return err
	}

	a.entryMu.Lock()
	defer a.entryMu.Unlock()
	if a.entry != nil {
		return ErrEntrypointRegistered
	}
	a.entry = entry

	a.logger.Info().Str("entrypoint", entry.name).Msg("Entrypoint registered")
	return nil
}

// RegisterContextEntrypoint installs a handler that also receives the
// request context.
func (a *App) RegisterContextEntrypoint(h ContextHandler, opts ...EntrypointOption) error {
	if h == nil {
		return fmt.Errorf("entrypoint handler is nil")
	}
	return a.RegisterEntrypoint(func(ctx context.Context, payload Payload) (interface{}, error) {
		rc, _ := RequestFromContext(ctx)
		return h(ctx, payload, rc)
	}, opts...)
}

// RegisterPingProbe installs a custom health callback. See health.ProbeFunc
// for the fallthrough semantics.
func (a *App) RegisterPingProbe(p health.ProbeFunc) {
	a.monitor.SetProbe(p)
}

func (a *App) entrypointRef() *entrypoint {
	a.entryMu.RLock()
	defer a.entryMu.RUnlock()
	return a.entry
}

// Handler returns the HTTP handler serving the runtime contract.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/invocations", a.handleInvocations)
	mux.HandleFunc("/ping", a.handlePing)
	return mux
}

// Start binds the listener and serves in the background.
func (a *App) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", a.host, a.port))
	if err != nil {
		return fmt.Errorf("listen on %s:%d: %w", a.host, a.port, err)
	}
	a.listener = ln
	a.server = &http.Server{Handler: a.Handler()}

	a.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting AgentCore runtime")

	go func() {
		if err := a.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.logger.Error().Err(err).Msg("Runtime server error")
		}
	}()

	return nil
}

// Run starts the server and blocks until ctx is canceled, then drains.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return a.Stop()
}

// Stop drains in-flight invocations and background tasks, bounded by the
// shutdown timeout, then closes the server. /ping keeps answering while the
// drain runs; new invocations are rejected with 503.
func (a *App) Stop() error {
	a.shutdownMu.Lock()
	a.isShuttingDown = true
	a.shutdownMu.Unlock()

	if a.server == nil {
		return nil
	}

	a.logger.Info().Msg("Shutting down runtime")

	done := make(chan struct{})
	go func() {
		a.inFlightReqs.Wait()
		a.runner.Close()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info().Msg("All in-flight work completed")
	case <-time.After(a.shutdownTimeout):
		a.logger.Warn().
			Int("active_tasks", a.tracker.ActiveCount()).
			Msg("Shutdown timeout reached, forcing close")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	a.logger.Info().Msg("Runtime stopped")
	return nil
}

// Addr returns the bound address, useful with an ephemeral port.
func (a *App) Addr() string {
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return fmt.Sprintf("%s:%d", a.host, a.port)
}

// Tracker exposes the task tracker.
func (a *App) Tracker() *tasks.Tracker {
	return a.tracker
}

// AddTask registers a unit of background work and returns its id. While any
// task is active the automatic health status reports HealthyBusy.
func (a *App) AddTask(name string, metadata map[string]interface{}) string {
	return a.tracker.Register(name, metadata)
}

// CompleteTask marks a task finished. Unknown ids return false.
func (a *App) CompleteTask(id string) bool {
	return a.tracker.Complete(id)
}

// SubmitTask runs fn on the bounded worker pool with tracking around it.
func (a *App) SubmitTask(ctx context.Context, name string, metadata map[string]interface{}, fn tasks.TaskFunc) (string, error) {
	return a.runner.Submit(ctx, name, metadata, fn)
}

// ForceHealthy pins the health status to Healthy.
func (a *App) ForceHealthy() {
	a.monitor.Force(health.StatusHealthy)
}

// ForceHealthyBusy pins the health status to HealthyBusy.
func (a *App) ForceHealthyBusy() {
	a.monitor.Force(health.StatusHealthyBusy)
}

// ClearForcedStatus removes a pinned health status.
func (a *App) ClearForcedStatus() {
	a.monitor.ClearForced()
}

// SetDebugActions toggles the debug control field at runtime.
func (a *App) SetDebugActions(enabled bool) {
	a.debugActions.Store(enabled)
}

func (a *App) debugEnabled() bool {
	return a.debugActions.Load()
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *App) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(serialize.JSON(v)); err != nil {
		a.logger.Error().Err(err).Msg("Failed to write response")
	}
}

func (a *App) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, errorResponse{Error: msg})
}
