package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/theumbrella1/agentcore/internal/config"
	"github.com/theumbrella1/agentcore/internal/logger"
	"github.com/theumbrella1/agentcore/internal/observability"
	"github.com/theumbrella1/agentcore/internal/tracing"
	"github.com/theumbrella1/agentcore/pkg/runtime"
)

var (
	serveHost         string
	servePort         int
	serveMode         string
	serveDebugActions bool
	serveTimeout      int
	serveWorkers      int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the built-in development entrypoint",
	Long: `Serve hosts the runtime HTTP contract with a built-in development
entrypoint so the platform surface can be exercised without writing an agent.

Modes:
  echo    answer with the payload and the request context (default)
  stream  answer with a short SSE counter stream
  sleep   start a background task and answer with its id`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "host to bind (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to bind (default from config)")
	serveCmd.Flags().StringVar(&serveMode, "mode", "echo", "development entrypoint: echo, stream or sleep")
	serveCmd.Flags().BoolVar(&serveDebugActions, "debug-actions", false, "honor the debug control field in payloads")
	serveCmd.Flags().IntVar(&serveTimeout, "timeout", 0, "invocation timeout in seconds (0 disables)")
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 0, "background task workers (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyServeFlags(cmd, cfg)

	if errs := config.NewValidator().ValidateConfig(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(cmd.ErrOrStderr(), "config: %v\n", e)
		}
		return fmt.Errorf("invalid configuration (%d problems)", len(errs))
	}

	lg, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer lg.Close()

	if err := tracing.InitOpenTelemetry("agentcore-runtime"); err != nil {
		lg.Warn().Err(err).Msg("Tracing disabled")
	}
	defer tracing.ShutdownOpenTelemetry(context.Background())

	app, err := runtime.New(runtime.Options{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		Logger:             lg.GetZerolog(),
		EnableDebugActions: cfg.Debug.Actions,
		InvocationTimeout:  time.Duration(cfg.Invocation.Timeout) * time.Second,
		ShutdownTimeout:    time.Duration(cfg.Server.ShutdownTimeout) * time.Second,
		Workers:            cfg.Tasks.Workers,
	})
	if err != nil {
		return err
	}
	if err := registerDevEntrypoint(app, serveMode); err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		metricsServer := &http.Server{Addr: cfg.Metrics.Addr, Handler: observability.MetricsHandler()}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				lg.Warn().Err(err).Str("addr", cfg.Metrics.Addr).Msg("Metrics listener stopped")
			}
		}()
		defer metricsServer.Shutdown(context.Background())
		lg.Info().Str("addr", cfg.Metrics.Addr).Msg("Metrics listener started")
	}

	watcher, err := config.NewWatcher(config.WatcherConfig{
		Loader: loader,
		OnReload: func(next *config.Config) {
			applyReload(app, next)
		},
	})
	if err == nil {
		if err := watcher.Start(); err != nil {
			lg.Warn().Err(err).Msg("Config watcher disabled")
		} else {
			defer watcher.Stop()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx)
}

// applyServeFlags overlays explicitly set flags on the loaded configuration.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host = serveHost
	}
	if flags.Changed("port") {
		cfg.Server.Port = servePort
	}
	if flags.Changed("debug-actions") {
		cfg.Debug.Actions = serveDebugActions
	}
	if flags.Changed("timeout") {
		cfg.Invocation.Timeout = serveTimeout
	}
	if flags.Changed("workers") {
		cfg.Tasks.Workers = serveWorkers
	}
	if cmd.Root().PersistentFlags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
}

// applyReload carries the settings that can change while the process runs.
func applyReload(app *runtime.App, cfg *config.Config) {
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	app.SetDebugActions(cfg.Debug.Actions)
}

func registerDevEntrypoint(app *runtime.App, mode string) error {
	switch mode {
	case "echo":
		return app.RegisterContextEntrypoint(func(ctx context.Context, payload runtime.Payload, rc *runtime.RequestContext) (interface{}, error) {
			out := map[string]interface{}{
				"echo":       map[string]interface{}(payload),
				"request_id": rc.RequestID,
			}
			if rc.SessionID != "" {
				out["session_id"] = rc.SessionID
			}
			return out, nil
		}, runtime.WithEntrypointName("echo"))

	case "stream":
		return app.RegisterEntrypoint(func(ctx context.Context, payload runtime.Payload) (interface{}, error) {
			count := 5
			if v, ok := payload["count"].(float64); ok && v > 0 {
				count = int(v)
			}
			i := 0
			return runtime.FuncStream(func() (interface{}, error) {
				if i >= count {
					return nil, runtime.ErrStreamDone
				}
				i++
				return map[string]interface{}{"index": i}, nil
			}), nil
		}, runtime.WithEntrypointName("stream"))

	case "sleep":
		return app.RegisterEntrypoint(func(ctx context.Context, payload runtime.Payload) (interface{}, error) {
			seconds := 1.0
			if v, ok := payload["seconds"].(float64); ok && v > 0 {
				seconds = v
			}
			wait := time.Duration(seconds * float64(time.Second))
			id, err := app.SubmitTask(context.Background(), "sleep", nil, func(taskCtx context.Context) error {
				select {
				case <-time.After(wait):
				case <-taskCtx.Done():
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"task_id": id, "seconds": seconds}, nil
		}, runtime.WithEntrypointName("sleep"))

	default:
		return fmt.Errorf("unknown mode: %s", mode)
	}
}
