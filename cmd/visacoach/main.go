// Command visacoach serves the mock visa interview coach: the session API,
// the browser audio bridge to the conversational agent, health probes and
// Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/visacoach/internal/agent"
	"github.com/MrWong99/visacoach/internal/config"
	"github.com/MrWong99/visacoach/internal/feedback"
	"github.com/MrWong99/visacoach/internal/health"
	"github.com/MrWong99/visacoach/internal/observe"
	"github.com/MrWong99/visacoach/internal/resilience"
	"github.com/MrWong99/visacoach/internal/server"
	"github.com/MrWong99/visacoach/internal/session"
	"github.com/MrWong99/visacoach/internal/transcript"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so config reloads can change it live.
	var level slog.LevelVar
	slog.SetDefault(newLogger(&level))

	// ── Load configuration ────────────────────────────────────────────────────
	var (
		cfg     *config.Config
		watcher *config.Watcher
		err     error
	)
	if *configPath == "" {
		cfg, err = config.Default()
	} else {
		watcher, err = config.NewWatcher(*configPath, func(old, new *config.Config) {
			applyReload(&level, config.Diff(old, new))
		})
		if err == nil {
			cfg = watcher.Current()
			defer watcher.Stop()
		}
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "visacoach: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "visacoach: %v\n", err)
		}
		return 1
	}
	level.Set(cfg.Server.LogLevel.SlogLevel())

	slog.Info("visacoach starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "visacoach",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Components ────────────────────────────────────────────────────────────
	registry := session.NewRegistry()

	signer := agent.NewSignedURLClient(cfg.ElevenLabs.APIKey, cfg.ElevenLabs.AgentID,
		agent.WithBaseURLs(cfg.ElevenLabs.BaseURLs...),
		agent.WithTimeout(cfg.ElevenLabs.Timeout),
		agent.WithMetrics(metrics),
		agent.WithBreaker(resilience.BreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("signed url endpoint breaker", "endpoint", name, "from", from, "to", to)
			},
		}),
	)

	checkers := []health.Checker{{Name: "agent", Check: signer.Check}}
	var store feedback.Store = feedback.NopStore{}
	if cfg.Reports.Path != "" {
		fs := feedback.NewFileStore(cfg.Reports.Path)
		store = fs
		checkers = append(checkers, health.Checker{Name: "reports", Check: fs.Check})
	}
	probes := health.New(checkers...)

	srv := server.New(registry,
		server.WithResolver(signer),
		server.WithStore(store),
		server.WithMetrics(metrics),
		server.WithTagger(transcript.NewHinglishTagger()),
		server.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
		server.WithStaticDir(cfg.Server.StaticDir),
		server.WithAgentBaseURL(agent.WebsocketBase(cfg.ElevenLabs.BaseURLs[0])),
		server.WithPromptOverride(cfg.ElevenLabs.OverrideSystemPrompt),
		server.WithAudio(server.AudioConfig{
			FrameSize:       cfg.Audio.FrameSize,
			SampleRate:      cfg.Audio.SampleRate,
			AgentSampleRate: cfg.Audio.AgentSampleRate,
			QueueCapacity:   cfg.Audio.QueueCapacity,
		}),
		server.WithHealth(probes),
		server.WithMetricsHandler(telemetry.Handler()),
	)

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	printStartupSummary(cfg)

	// ── Serve ─────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()

		// ── Graceful shutdown ─────────────────────────────────────────────
		slog.Info("shutdown signal received, stopping…")
		probes.Drain()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	slog.Info("server ready — press Ctrl+C to shut down", "listen_addr", cfg.Server.ListenAddr)

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("goodbye", "sessions_served", registry.Len())
	return 0
}

// applyReload applies the live-reloadable parts of a config change.
func applyReload(level *slog.LevelVar, d config.ConfigDiff) {
	if d.LogLevelChanged {
		level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func printStartupSummary(cfg *config.Config) {
	agentID := cfg.ElevenLabs.AgentID
	if agentID == "" {
		agentID = "(not set)"
	}
	signed := "disabled"
	if cfg.ElevenLabs.APIKey != "" {
		signed = "enabled"
	}
	reports := cfg.Reports.Path
	if reports == "" {
		reports = "(not archived)"
	}
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       Visa Coach — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Agent id        : %-19s ║\n", truncate(agentID, 19))
	fmt.Printf("║  Signed URLs     : %-19s ║\n", signed)
	fmt.Printf("║  Frame size      : %-19d ║\n", cfg.Audio.FrameSize)
	fmt.Printf("║  Sample rate     : %-19d ║\n", cfg.Audio.SampleRate)
	fmt.Printf("║  Reports         : %-19s ║\n", truncate(reports, 19))
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
