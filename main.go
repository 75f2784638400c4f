package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/chinmina/xert-bridge/internal/config"
	"github.com/chinmina/xert-bridge/internal/observe"
	"github.com/chinmina/xert-bridge/internal/poller"
	"github.com/chinmina/xert-bridge/internal/server"
	"github.com/chinmina/xert-bridge/internal/token"
	"github.com/chinmina/xert-bridge/internal/webhook"
	"github.com/chinmina/xert-bridge/internal/xert"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	configureLogging(config.LogConfig{})

	logBuildInfo()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		config.Usage(os.Stderr)
		stop()
		os.Exit(1)
	}

	configureLogging(cfg.Log)

	err = launchBridge(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("bridge failed to start")
	}
}

// launchBridge wires the components together and blocks until ctx is
// cancelled. Shutdown hooks run before it returns.
func launchBridge(ctx context.Context, cfg config.Config) error {
	hooks := &server.ShutdownHooks{}
	defer func() {
		if err := hooks.ExecuteWithTimeout(cfg.Server.ShutdownTimeout()); err != nil {
			log.Warn().Err(err).Msg("shutdown incomplete")
		}
	}()

	// configure telemetry, including wrapping the outbound HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}
	hooks.AddContext("telemetry", shutdownTelemetry)

	client := &http.Client{
		Transport: observe.HTTPTransport(configureHTTPTransport(cfg.Server), cfg.Observe),
		Timeout:   cfg.Server.RequestTimeout(),
	}
	hooks.AddFunc("http-idle-connections", client.CloseIdleConnections)

	store := token.NewFileStore(cfg.Token.File)
	tokens := token.New(cfg.Xert, cfg.Token.RefreshMargin(), store, token.WithHTTPClient(client))

	api, err := xert.New(cfg.Xert, xert.WithHTTPClient(client))
	if err != nil {
		return fmt.Errorf("xert client configuration failed: %w", err)
	}

	notifier := webhook.New(cfg.HomeAssistant, webhook.WithHTTPClient(client))

	p := poller.New(tokens, api, notifier, cfg.Poll)
	supervisor := poller.NewSupervisor(p, cfg.Poll, cfg.Server.ShutdownTimeout())

	log.Info().
		Str("api", cfg.Xert.APIURL).
		Str("token_file", store.Path()).
		Dur("training_info_interval", cfg.Poll.TrainingInfoInterval()).
		Dur("activities_interval", cfg.Poll.ActivitiesInterval()).
		Int("lookback_days", cfg.Poll.LookbackDays).
		Msg("starting xert bridge")

	err = supervisor.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("supervisor stopped unexpectedly")
	}

	log.Info().Msg("xert bridge shutting down")

	return nil
}

func configureLogging(cfg config.LogConfig) {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. Each logger carries its own level instead.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg.Format == "console" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	log.Logger = logger.Level(level)

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}
