package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/gatekeeper/internal/gallery"
	"github.com/andresmejia3/gatekeeper/internal/matcher"
	"github.com/andresmejia3/gatekeeper/internal/source"
	"github.com/andresmejia3/gatekeeper/internal/types"
	"github.com/andresmejia3/gatekeeper/internal/utils"
	"github.com/andresmejia3/gatekeeper/internal/worker"
	"github.com/spf13/cobra"
)

// startEngines spawns the worker pool and waits until every engine answers.
func startEngines(ctx context.Context) (*worker.Pool, error) {
	fmt.Fprintf(os.Stderr, "⚙️  Spawning %d Worker Engines...\n", cfg.Worker.Engines)
	pool := worker.NewPool(ctx, cfg.Worker.Engines, worker.PythonFactory(worker.Config{
		Python:      cfg.Worker.Python,
		Script:      cfg.Worker.Script,
		ReadTimeout: cfg.Worker.Timeout,
	}), logger)
	if err := pool.Warm(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// buildGallery runs the gallery builder over the configured dataset.
func buildGallery(ctx context.Context, ex types.Extractor, progress io.Writer) (*gallery.Gallery, error) {
	fmt.Fprintf(os.Stderr, "📼 Loading gallery from %s (every %d frames)...\n", cfg.Gallery.Dataset, cfg.Gallery.SampleInterval)
	b := &gallery.Builder{
		Extractor:      ex,
		Open:           source.FFmpegOpener(""),
		SampleInterval: cfg.Gallery.SampleInterval,
		Extensions:     cfg.Gallery.Extensions,
		Engines:        cfg.Worker.Engines,
		Progress:       progress,
		CountFrames:    utils.GetTotalFrames,
		Log:            logger,
	}
	return b.Build(ctx, cfg.Gallery.Dataset)
}

func newMatcher(g *gallery.Gallery, ex types.Extractor) *matcher.Matcher {
	opts := []matcher.Option{matcher.WithExtractor(ex)}
	if cfg.Match.Index == "hnsw" {
		opts = append(opts, matcher.WithIndex(matcher.NewHNSWIndex(g, cfg.Match.Candidates)))
	}
	return matcher.New(g, cfg.Match.Tolerance, opts...)
}

func printGallerySummary(w io.Writer, g *gallery.Gallery) {
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "📊 GALLERY SUMMARY\n")
	fmt.Fprintf(w, "---------------------------------------------------------\n")

	labels := g.Labels()
	if len(labels) == 0 {
		fmt.Fprintln(w, "❌ No faces found. Every live face will be unrecognized.")
	} else {
		tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
		fmt.Fprintln(tw, "LABEL\tENTRIES")
		fmt.Fprintln(tw, "-----\t-------")
		for _, lc := range labels {
			fmt.Fprintf(tw, "%s\t%d\n", lc.Label, lc.Count)
		}
		tw.Flush()
	}

	fmt.Fprintf(w, "---------------------------------------------------------\n")
	fmt.Fprintf(w, "👁️  Total Gallery Entries:   %d\n", g.Len())
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}

// Flag overrides only apply when the user set the flag, so the config file
// and environment keep their values otherwise.

func overrideString(cmd *cobra.Command, name string, dst *string, v string) {
	if cmd.Flags().Changed(name) {
		*dst = v
	}
}

func overrideInt(cmd *cobra.Command, name string, dst *int, v int) {
	if cmd.Flags().Changed(name) {
		*dst = v
	}
}

func overrideFloat(cmd *cobra.Command, name string, dst *float64, v float64) {
	if cmd.Flags().Changed(name) {
		*dst = v
	}
}

func overrideDuration(cmd *cobra.Command, name string, dst *time.Duration, v time.Duration) {
	if cmd.Flags().Changed(name) {
		*dst = v
	}
}
