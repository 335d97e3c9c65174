package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/heimdex/vidcut/internal/backend"
	"github.com/heimdex/vidcut/internal/config"
)

var doctorJSON bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the export backend is usable",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}
		b, err := backend.New(cfg.Backend(), backend.FFmpegConfig{
			FFmpegPath:  cfg.FFmpegPath(),
			FFprobePath: cfg.FFprobePath(),
		})
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()
		caps, err := b.Doctor(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if doctorJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(caps)
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "backend\t%s\n", caps.Backend)
		for _, tool := range []struct {
			name string
			info backend.ToolInfo
		}{{"ffmpeg", caps.FFmpeg}, {"ffprobe", caps.FFprobe}} {
			status := "missing"
			if tool.info.Available {
				status = tool.info.Version
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", tool.name, status, tool.info.Path)
		}
		w.Flush()

		if !caps.Ready() {
			return fmt.Errorf("backend %s is not ready", caps.Backend)
		}
		return nil
	},
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent exports",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		exports, err := a.repo.ListExports(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCREATED\tSTATUS\tREGIONS\tLENGTH\tDESTINATION\tERROR")
		for _, e := range exports {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
				shortID(e.ID),
				e.CreatedAt.Local().Format("2006-01-02 15:04"),
				e.Status,
				e.RegionCount,
				e.TotalMs.Clock(),
				e.Destination,
				e.ErrorCode,
			)
		}
		return w.Flush()
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [PATH]",
	Short: "Write a config file with the default settings",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		if len(args) == 1 {
			path = args[0]
		} else {
			cfg, err := config.New()
			if err != nil {
				return err
			}
			path = filepath.Join(cfg.DataDir(), config.ConfigFilename)
		}

		if err := config.Init(path); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration initialized at %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		configFile := cfg.ConfigFile()
		if configFile == "" {
			configFile = "(none)"
		}
		fmt.Fprintf(w, "config file\t%s\n", configFile)
		fmt.Fprintf(w, "data dir\t%s\n", cfg.DataDir())
		fmt.Fprintf(w, "port\t%d\n", cfg.Port())
		fmt.Fprintf(w, "log level\t%s\n", cfg.LogLevel())
		fmt.Fprintf(w, "backend\t%s\n", cfg.Backend())
		fmt.Fprintf(w, "ffmpeg\t%s\n", cfg.FFmpegPath())
		fmt.Fprintf(w, "ffprobe\t%s\n", cfg.FFprobePath())
		fmt.Fprintf(w, "trim workers\t%d\n", cfg.TrimWorkers())
		fmt.Fprintf(w, "strict cleanup\t%t\n", cfg.StrictCleanup())
		fmt.Fprintf(w, "thumbnail offset\t%dms\n", cfg.ThumbnailOffsetMs())
		fmt.Fprintf(w, "export timeout\t%s\n", cfg.ExportTimeout())
		fmt.Fprintf(w, "headless\t%t\n", cfg.Headless())
		return w.Flush()
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "print capabilities as JSON")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of exports to show")
	configCmd.AddCommand(configInitCmd, configShowCmd)
}
