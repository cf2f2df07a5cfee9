// handlers.go contains the command handlers: the logic behind each cobra
// command, kept free of flag parsing so it can be tested directly.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/crewsight/crewsight/internal/config"
	"github.com/crewsight/crewsight/internal/monitor"
	"github.com/crewsight/crewsight/internal/observability"
)

// summaryInterval is how often the watch loop prints a state summary.
const summaryInterval = 10 * time.Second

type watchOptions struct {
	configPath string
	token      string
	pushToken  string
	debug      bool
}

// consoleNavigator stands in for the app's router: navigation intents are
// printed instead of changing screens.
type consoleNavigator struct {
	logger *slog.Logger
}

func (n *consoleNavigator) NavigateToNotifications() {
	n.logger.Info("navigate", "route", "notifications")
}

func (n *consoleNavigator) NavigateToEntry() {
	n.logger.Info("navigate", "route", "entry")
}

// runWatch runs a monitoring session until interrupted or until the server
// terminates the session.
func runWatch(ctx context.Context, opts watchOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := cfg.Logging.Level
	if opts.debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)

	token := opts.token
	if token == "" {
		token = os.Getenv("CREWSIGHT_SESSION")
	}
	if token == "" {
		return fmt.Errorf("no session token: pass --token or set CREWSIGHT_SESSION")
	}

	metrics := observability.NewMetrics()
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, logger)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := monitor.New(cfg, &consoleNavigator{logger: logger}, logger, metrics)
	m.Start()
	defer m.Close()

	if opts.pushToken != "" {
		m.SetPushToken(opts.pushToken)
	}
	m.Authenticate(token)

	logger.Info("monitoring session started",
		"socket_url", cfg.Server.SocketURL,
		"poll_interval", cfg.Session.PollInterval,
	)

	ticker := time.NewTicker(summaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("interrupted, closing session")
			return nil
		case <-ticker.C:
			if !m.SessionActive() {
				logger.Info("session ended by server")
				return nil
			}
			printSummary(m, logger)
		}
	}
}

// printSummary logs one line of live state.
func printSummary(m *monitor.Monitor, logger *slog.Logger) {
	snap := m.ClockSnapshot()
	logger.Info("session summary",
		"connection", m.ConnectionState().String(),
		"manager", m.DisplayName(),
		"online", len(m.OnlineMembers()),
		"notifications", m.BadgeCount(),
		"worker_locations", len(m.WorkerLocations()),
		"clocked_in", len(snap.In),
		"clocked_out", len(snap.Out),
	)
}

// serveMetrics exposes Prometheus metrics; failures are logged, not fatal.
func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}

// runConfigShow prints the effective configuration as YAML.
func runConfigShow(out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
