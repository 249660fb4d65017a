// Command supervisord runs a single supervisor instance. Grounded on
// cmd/oriond/main.go: stdlib flag parsing, a slog JSON handler installed as
// the default logger, signal.Notify driving graceful shutdown, non-zero
// exit on startup failure.
package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/care/supervisor/internal/config"
	"github.com/care/supervisor/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "config/supervisor.yaml", "Path to configuration file")
	name := flag.String("name", "default", "Supervisor instance name")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("starting supervisor", "name", *name, "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := attachFileSink(cfg, *name, logLevel); err != nil {
		slog.Warn("failed to attach log file sink, continuing with stdout only", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialer := buildDialer(cfg, *name)
	sup, err := supervisor.New(ctx, *name, cfg, dialer)
	if err != nil {
		slog.Error("failed to construct supervisor", "error", err)
		os.Exit(1)
	}

	installSignalHandlers()

	runErr := make(chan error, 1)
	go func() {
		runErr <- sup.Run(ctx, dialer)
	}()

	if err := <-runErr; err != nil {
		slog.Error("supervisor run failed", "error", err)
		os.Exit(1)
	}

	slog.Info("supervisor stopped cleanly")
}

// installSignalHandlers wires TERM to a cleaned shutdown and INT and HUP to
// an immediate shutdown, dispatching through the process-wide singleton
// (spec.md §5's Singleton, §6's signal table). No other signal is watched.
// os/signal.Notify itself cannot fail, so there is no installation error
// to report.
func installSignalHandlers() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	go func() {
		for sig := range sigCh {
			sup := supervisor.Instance()
			if sup == nil {
				continue
			}
			switch sig {
			case syscall.SIGTERM:
				slog.Info("received SIGTERM, starting cleaned shutdown")
				sup.CleanedShutdown()
			default:
				slog.Info("received signal, starting immediate shutdown", "signal", sig)
				sup.Shutdown()
			}
		}
	}()
}

func attachFileSink(cfg *config.Config, name string, level slog.Level) error {
	if cfg.LogsPath == "" {
		return nil
	}
	if err := os.MkdirAll(cfg.LogsPath, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(cfg.LogsPath, name+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(io.MultiWriter(os.Stdout, f), &slog.HandlerOptions{Level: level})))
	return nil
}

func buildDialer(cfg *config.Config, name string) supervisor.Dialer {
	if cfg.DatasocketType == "custom" {
		return &supervisor.MemoryDialer{}
	}
	return supervisor.NewMQTTDialer("supervisor-" + name)
}
