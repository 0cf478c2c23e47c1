package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/coachcall/edge"
	"github.com/coachcall/edge/internal/config"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		listenAddr string
		backendURL string
		logJSON    bool
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the edge server",
		Long: `Start the edge server.

Configuration is read from coachcall.json in the working directory
(or --config), with COACHCALL_* environment overrides. Flags win
over both.

Examples:
  coachcall-edge serve
  coachcall-edge serve --listen=:9000 --backend=https://api.internal
  COACHCALL_SERVER_REFRESH=true coachcall-edge serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, listenAddr, backendURL, logJSON, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to coachcall.json (default ./coachcall.json)")
	cmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "Bind address (default from config)")
	cmd.Flags().StringVarP(&backendURL, "backend", "b", "", "Backend API base URL (default from config)")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Log JSON instead of text")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	return cmd
}

func runServe(ctx context.Context, configPath, listenAddr, backendURL string, logJSON bool, logLevel string) error {
	logger := newLogger(logJSON, logLevel)

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load(".")
	}
	if err != nil {
		return err
	}

	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if backendURL != "" {
		cfg.BackendURL = backendURL
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	app, err := edge.New(cfg, edge.WithLogger(logger))
	if err != nil {
		return err
	}

	logger.Info("starting coachcall-edge",
		slog.String("version", version),
		slog.String("backend", cfg.BackendURL),
	)
	return app.Run(ctx)
}

func newLogger(logJSON bool, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if logJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
