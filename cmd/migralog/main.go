// Command migralog is the voice-entry capture and extraction server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jhaensel/migralog/internal/config"
	"github.com/jhaensel/migralog/internal/observe"
	"github.com/jhaensel/migralog/internal/parse"
	"github.com/jhaensel/migralog/internal/pipeline"
	"github.com/jhaensel/migralog/internal/transcribe"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "migralog: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "migralog: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("migralog starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "migralog",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Pipeline wiring ───────────────────────────────────────────────────────
	transcriber, err := transcribe.New(cfg.Transcription)
	if err != nil {
		slog.Error("failed to build transcription adapter", "err", err)
		return 1
	}

	orch, err := pipeline.NewOrchestrator(pipeline.Config{
		Transcriber: transcriber,
		Parser:      parse.New(cfg.ParserOptions()...),
	})
	if err != nil {
		slog.Error("failed to build pipeline", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if !d.HotReloadable() {
			return
		}
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.ParserChanged || d.ReviewChanged || d.MedicationsChanged {
			orch.SetParser(parse.New(new.ParserOptions()...))
			slog.Info("parser configuration reloaded",
				"medications", len(new.Parser.Medications),
				"medication_changes", len(d.MedicationChanges),
			)
		}
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── HTTP server ───────────────────────────────────────────────────────────
	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           newHandler(orch, watcher),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg, listenAddr)
	slog.Info("server ready — press Ctrl+C to shut down")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, listenAddr string) {
	provider := string(cfg.Transcription.Provider)
	if provider == "" {
		provider = "(on-device only)"
	}
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         migralog — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Transcription   : %-19s║\n", provider)
	fmt.Printf("║  Medications     : %-19d║\n", len(cfg.Parser.Medications))
	fmt.Printf("║  Listen addr     : %-19s║\n", listenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
