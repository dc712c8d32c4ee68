package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"dario.cat/mergo"
	"github.com/alecthomas/kingpin/v2"
	"github.com/koscakluka/ema-gateway/core/gateway"
	"github.com/koscakluka/ema-gateway/internal/config"
	"github.com/koscakluka/ema-gateway/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

type flags struct {
	configFile string
	addr       string
	logLevel   string
}

// apply overrides cfg with the values set on the command line.
func (f flags) apply(cfg *config.Config) error {
	var overrides config.Config
	overrides.Server.Addr = f.addr
	overrides.Telemetry.LogLevel = f.logLevel
	return mergo.Merge(cfg, overrides, mergo.WithOverride)
}

func main() {
	var f flags

	app := kingpin.New("ema-gateway", "Real-time voice conversation gateway.").
		Action(func(*kingpin.ParseContext) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, f)
		})
	app.Flag("config", "Path to a YAML configuration file.").
		Short('c').
		Envar("EMA_CONFIG").
		StringVar(&f.configFile)
	app.Flag("addr", "Listen address, overrides the configuration.").
		StringVar(&f.addr)
	app.Flag("log.level", "Log level (debug, info, warn, error), overrides the configuration.").
		StringVar(&f.logLevel)

	kingpin.MustParse(app.Parse(os.Args[1:]))
}

func run(ctx context.Context, f flags) error {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := f.apply(&cfg); err != nil {
		return fmt.Errorf("apply flags: %w", err)
	}

	telemetry.SetupLogging(os.Stderr, cfg.Telemetry.LogLevel)

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownGracePeriod)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}()

	services, err := gateway.NewServices(cfg)
	if err != nil {
		return err
	}
	gw, err := gateway.NewServer(gateway.SettingsFromConfig(cfg), services)
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		slog.Info("starting gateway",
			"addr", cfg.Server.Addr,
			"speech_to_text", cfg.SpeechToText.Provider,
			"dialog", cfg.Dialog.Provider,
			"text_to_speech", cfg.TextToSpeech.Provider,
			"auth", cfg.Auth.Enabled(),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(groupCtx), cfg.Server.ShutdownGracePeriod)
		defer cancel()

		// Hijacked websocket connections are not tracked by the HTTP server.
		return errors.Join(
			httpSrv.Shutdown(shutdownCtx),
			gw.Shutdown(shutdownCtx),
		)
	})

	if err := group.Wait(); err != nil {
		return err
	}
	slog.Info("gateway stopped")
	return nil
}
