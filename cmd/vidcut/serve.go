package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/heimdex/vidcut/internal/api"
	"github.com/heimdex/vidcut/internal/backend"
	"github.com/heimdex/vidcut/internal/config"
	"github.com/heimdex/vidcut/internal/history"
	"github.com/heimdex/vidcut/internal/ui"
)

var (
	serveOpen     string
	serveHeadless bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the editing session with its local API and tray",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveOpen, "open", "", "video to load at startup")
	serveCmd.Flags().BoolVar(&serveHeadless, "headless", false, "run without the system tray")
}

func serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	startTime := time.Now()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	logger := a.logger
	logger.Info("starting vidcut", "version", config.Version, "data_dir", a.cfg.DataDir(), "backend", a.cfg.Backend())

	deviceID, err := history.EnsureSecret(ctx, a.repo, history.ConfigDeviceID, 16)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}
	authToken, err := history.EnsureSecret(ctx, a.repo, history.ConfigAuthToken, 32)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║  VIDCUT v%-49s║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", a.cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Device ID:  %-45s ║\n", deviceID[:16]+"...")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	doctor := backend.NewCachedDoctor(a.backend, logger)
	probeCtx, probeCancel := context.WithTimeout(ctx, 10*time.Second)
	if caps, err := doctor.Refresh(probeCtx); err != nil {
		logger.Warn("initial doctor probe failed", "error", err)
	} else if !caps.Ready() {
		logger.Warn("export backend not ready, exports will fail", "backend", caps.Backend)
	} else {
		logger.Info("export backend detected",
			"backend", caps.Backend,
			"ffmpeg", caps.FFmpeg.Version,
			"ffprobe", caps.FFprobe.Version,
		)
	}
	probeCancel()

	ctrl := a.controller()
	if serveOpen != "" {
		if err := ctrl.Open(ctx, serveOpen); err != nil {
			return fmt.Errorf("failed to open %s: %w", serveOpen, err)
		}
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:       a.cfg.Port(),
		Version:    config.Version,
		Controller: ctrl,
		Repository: a.repo,
		Doctor:     doctor,
		Logger:     logger,
		StartTime:  startTime,
		DeviceID:   deviceID,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	quitCh := make(chan struct{})
	var quitOnce sync.Once
	quit := func() { quitOnce.Do(func() { close(quitCh) }) }

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			quit()
		case <-quitCh:
		}
	}()

	if serveHeadless || a.cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Controller: ctrl,
			Logger:     logger,
			OnQuit:     quit,
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
