package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/heimdex/vidcut/internal/backend"
	"github.com/heimdex/vidcut/internal/config"
	"github.com/heimdex/vidcut/internal/db"
	"github.com/heimdex/vidcut/internal/history"
	"github.com/heimdex/vidcut/internal/logging"
	"github.com/heimdex/vidcut/internal/session"
	"github.com/heimdex/vidcut/internal/timeline"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "vidcut",
	Short:        "Mark clip regions in a video and export them as one file",
	Version:      fmt.Sprintf("%s (%s, built %s)", config.Version, config.GitCommit, config.BuildTime),
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, cutCmd, edlCmd, doctorCmd, historyCmd, configCmd)
}

// app holds what every command needs. The caller must defer Close.
type app struct {
	cfg      *config.EnvConfig
	logger   *slog.Logger
	backend  backend.Backend
	database *db.DB
	repo     *history.SQLiteRepository
}

func newApp() (*app, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())

	b, err := backend.New(cfg.Backend(), backend.FFmpegConfig{
		FFmpegPath:  cfg.FFmpegPath(),
		FFprobePath: cfg.FFprobePath(),
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		backend:  b,
		database: database,
		repo:     history.NewRepository(database.Conn()),
	}, nil
}

func (a *app) controller() *session.Controller {
	return session.New(session.Config{
		Backend:         a.backend,
		Repository:      a.repo,
		Logger:          a.logger,
		TrimWorkers:     a.cfg.TrimWorkers(),
		StrictCleanup:   a.cfg.StrictCleanup(),
		ThumbnailOffset: timeline.Millis(a.cfg.ThumbnailOffsetMs()),
		ExportTimeout:   a.cfg.ExportTimeout(),
	})
}

func (a *app) Close() error {
	return a.database.Close()
}
