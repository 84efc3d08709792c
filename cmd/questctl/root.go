package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/ashureev/questline/internal/apiclient"
	"github.com/ashureev/questline/internal/auth"
	"github.com/ashureev/questline/internal/config"
	"github.com/ashureev/questline/internal/metrics"
	"github.com/ashureev/questline/internal/netcheck"
	"github.com/ashureev/questline/internal/session"
	"github.com/ashureev/questline/internal/store"
	"github.com/ashureev/questline/internal/transport"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	apiURL      string
	dbPath      string
	verbose     bool
	showMetrics bool
)

var rootCmd = &cobra.Command{
	Use:   "questctl",
	Short: "Command-line client for questline",
	Long: `questctl drives the questline client core from a terminal: it signs in,
keeps the session on disk, issues authenticated API requests and joins quest chats.

Environment Variables:
  API_BASE_URL      Backend API URL (default: http://localhost:8080)
  CHAT_BASE_URL     Realtime chat base URL (default: derived from API_BASE_URL)
  SESSION_DB_PATH   Session database path (default: ./data/session.db)
  LOG_LEVEL         debug, info, warn or error (default: info)`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "Backend API URL (overrides API_BASE_URL)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Session database path (overrides SESSION_DB_PATH)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&showMetrics, "metrics", false, "Print client counters on exit")
}

// app wires the client core for one command invocation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	kv       *store.SQLiteStore
	sessions *session.Store
	client   *apiclient.Client
	auth     *auth.Context
	watcher  *netcheck.Watcher
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	out      io.Writer
}

func newApp(ctx context.Context, out io.Writer) (*app, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}
	if apiURL != "" {
		_ = os.Setenv("API_BASE_URL", apiURL)
	}
	if dbPath != "" {
		_ = os.Setenv("SESSION_DB_PATH", dbPath)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	kv, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}

	probe, err := netcheck.NewDialProbe(cfg.APIBaseURL, cfg.Reach.Timeout)
	if err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("reachability probe: %w", err)
	}
	watcher := netcheck.NewWatcher(probe, cfg.Reach.Interval, logger)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	sessions := session.NewStore(kv, logger)
	client := apiclient.New(
		transport.New(cfg.APIBaseURL, transport.WithUserAgent("questctl")),
		sessions,
		apiclient.WithProbe(watcher),
		apiclient.WithMetrics(m),
		apiclient.WithLogger(logger),
	)
	authCtx := auth.New(client, sessions,
		auth.WithLogger(logger),
		auth.WithNotifier(func(notice string) { fmt.Fprintln(os.Stderr, notice) }),
	)
	watcher.OnChange(authCtx.SetConnected)
	watcher.Start(ctx)

	return &app{
		cfg:      cfg,
		logger:   logger,
		kv:       kv,
		sessions: sessions,
		client:   client,
		auth:     authCtx,
		watcher:  watcher,
		metrics:  m,
		registry: registry,
		out:      out,
	}, nil
}

func (a *app) Close() {
	if showMetrics {
		a.printMetrics(os.Stderr)
	}
	if err := a.kv.Close(); err != nil {
		a.logger.Error("Failed to close session database", "error", err)
	}
}

// requireSession restores the stored session and fails if there is none.
func (a *app) requireSession(ctx context.Context) error {
	if err := a.auth.Init(ctx); err != nil {
		return err
	}
	if !a.auth.Snapshot().Authenticated() {
		return fmt.Errorf("not logged in; run 'questctl login' first")
	}
	return nil
}

func (a *app) printMetrics(w io.Writer) {
	families, err := a.registry.Gather()
	if err != nil {
		return
	}
	var lines []string
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			name := mf.GetName()
			for _, label := range metric.GetLabel() {
				name += fmt.Sprintf("{%s=%q}", label.GetName(), label.GetValue())
			}
			lines = append(lines, fmt.Sprintf("%s %g", name, metric.GetCounter().GetValue()))
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
}

// withApp runs fn with a wired app bound to the command's context.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
