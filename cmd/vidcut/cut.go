package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/heimdex/vidcut/internal/export"
	"github.com/heimdex/vidcut/internal/session"
)

var (
	cutDest    string
	cutRegions []string
	cutEDLDir  string
	cutTitle   string
	cutFPS     float64
)

var cutCmd = &cobra.Command{
	Use:   "cut SOURCE",
	Short: "Export regions of a video as one file",
	Example: `  vidcut cut talk.mp4 -r 0:05-0:12 -r 1:30-2:00
  vidcut cut talk.mp4 -r 2-5,10-12.5 -o highlights.mp4 --edl .`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spans, err := parseSpans(cutRegions)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctrl := a.controller()
		if err := ctrl.Open(ctx, args[0]); err != nil {
			return err
		}
		for _, s := range spans {
			start, end := s.start, s.end
			if _, err := ctrl.MarkStart(ctx, &start); err != nil {
				return err
			}
			if _, err := ctrl.MarkEnd(&end); err != nil {
				return err
			}
		}

		out := cmd.ErrOrStderr()
		snapshots, unsubscribe := ctrl.Subscribe()
		defer unsubscribe()
		go func() {
			last := ""
			for s := range snapshots {
				line := progressLine(s)
				if line != "" && line != last {
					fmt.Fprintln(out, line)
					last = line
				}
			}
		}()

		tl := ctrl.Timeline()
		res, err := ctrl.Export(ctx, cutDest)
		if err != nil && res == nil {
			return err
		}
		if err != nil {
			fmt.Fprintf(out, "warning: %v\n", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d regions, %s) in %s\n",
			res.Destination, res.Regions, res.TotalMs.Clock(), res.Elapsed.Round(time.Millisecond))

		if cutEDLDir != "" {
			dir, err := filepath.Abs(cutEDLDir)
			if err != nil {
				return err
			}
			title := cutTitle
			if title == "" {
				title = trimExt(filepath.Base(res.Destination))
			}
			path, err := export.WriteEDL(dir, tl.Regions(), ctrl.Snapshot().Source, title, cutFPS)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		}

		if err != nil && !session.IsCleanupOnly(err) {
			return err
		}
		return nil
	},
}

func init() {
	cutCmd.Flags().StringVarP(&cutDest, "output", "o", "", "destination file (default SOURCE_EDIT with the same extension)")
	cutCmd.Flags().StringArrayVarP(&cutRegions, "region", "r", nil, "region START-END, repeatable or comma-separated")
	cutCmd.Flags().StringVar(&cutEDLDir, "edl", "", "also write an EDL sidecar into this directory")
	cutCmd.Flags().StringVar(&cutTitle, "title", "", "EDL title (default destination name)")
	cutCmd.Flags().Float64Var(&cutFPS, "fps", 30, "EDL frame rate")
	cutCmd.MarkFlagRequired("region")
}

func progressLine(s session.Snapshot) string {
	switch s.ExportState {
	case export.StateTrimming.String():
		if s.ExportStep > 0 {
			return fmt.Sprintf("trimming %d/%d", s.ExportStep, s.ExportTotal)
		}
		return "trimming"
	case export.StatePromotingSingle.String(), export.StateConcatenating.String():
		return s.ExportState
	}
	return ""
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}
