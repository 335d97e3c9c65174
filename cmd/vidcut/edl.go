package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/heimdex/vidcut/internal/export"
	"github.com/heimdex/vidcut/internal/timeline"
)

var (
	edlRegions []string
	edlOutDir  string
	edlTitle   string
	edlFPS     float64
)

var edlCmd = &cobra.Command{
	Use:   "edl SOURCE",
	Short: "Write a CMX3600 EDL for regions of a video without rendering",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spans, err := parseSpans(edlRegions)
		if err != nil {
			return err
		}
		tl, err := timeline.FromRegions(regions(spans)...)
		if err != nil {
			return err
		}
		source, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		if _, err := os.Stat(source); err != nil {
			return fmt.Errorf("source: %w", err)
		}

		dir := edlOutDir
		if dir == "" {
			dir = filepath.Dir(source)
		}
		if dir, err = filepath.Abs(dir); err != nil {
			return err
		}

		path, err := export.WriteEDL(dir, tl.Regions(), source, edlTitle, edlFPS)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d regions)\n", path, tl.Len())
		return nil
	},
}

func init() {
	edlCmd.Flags().StringArrayVarP(&edlRegions, "region", "r", nil, "region START-END, repeatable or comma-separated")
	edlCmd.Flags().StringVarP(&edlOutDir, "out-dir", "d", "", "directory for the .edl file (default next to SOURCE)")
	edlCmd.Flags().StringVar(&edlTitle, "title", "", "EDL title (default SOURCE name)")
	edlCmd.Flags().Float64Var(&edlFPS, "fps", 30, "frame rate")
	edlCmd.MarkFlagRequired("region")
}
