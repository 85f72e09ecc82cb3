package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/gatekeeper/internal/utils"
	"github.com/spf13/cobra"
)

var galleryOpts Options

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Build the face gallery from the dataset and print a summary",
	Long:  "Samples every Nth frame of each labeled video in the dataset directory, extracts face embeddings, and reports how many reference entries each label contributes. Nothing is persisted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		applyGalleryFlags(cmd, galleryOpts)
		return runGallery(cmd.Context())
	},
}

func init() {
	addGalleryFlags(galleryCmd, &galleryOpts)
	rootCmd.AddCommand(galleryCmd)
}

func runGallery(ctx context.Context) error {
	if err := cfg.Validate(); err != nil {
		utils.ShowError("Invalid configuration", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engines...")
	pool, err := startEngines(ctx)
	if err != nil {
		utils.ShowError("Failed to start AI worker", err, nil)
		return err
	}
	defer pool.Close()

	g, err := buildGallery(ctx, pool, os.Stderr)
	if err != nil {
		utils.ShowError("Failed to build gallery", err, nil)
		return err
	}
	printGallerySummary(os.Stdout, g)
	return nil
}
