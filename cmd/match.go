package cmd

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/gatekeeper/internal/compose"
	"github.com/andresmejia3/gatekeeper/internal/types"
	"github.com/andresmejia3/gatekeeper/internal/utils"
	"github.com/spf13/cobra"
)

var (
	matchOpts   Options
	matchOutput string
)

var matchCmd = &cobra.Command{
	Use:   "match <image_path>",
	Short: "Match the faces in a still JPEG against the gallery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		applyGalleryFlags(cmd, matchOpts)
		return runMatch(cmd.Context(), args[0])
	},
}

func init() {
	addGalleryFlags(matchCmd, &matchOpts)
	matchCmd.Flags().StringVarP(&matchOutput, "output", "o", "", "Write the annotated image to this path")
	rootCmd.AddCommand(matchCmd)
}

func runMatch(ctx context.Context, imagePath string) error {
	if _, err := os.Stat(imagePath); os.IsNotExist(err) {
		utils.ShowError("Input file does not exist", err, nil)
		return err
	}
	if err := cfg.Validate(); err != nil {
		utils.ShowError("Invalid configuration", err, nil)
		return err
	}
	imgData, err := os.ReadFile(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
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

	fmt.Fprintln(os.Stderr, "🔍 Analyzing faces...")
	results, err := newMatcher(g, pool).MatchFrame(ctx, imgData)
	if err != nil {
		utils.ShowError("AI processing failed", err, nil)
		return err
	}

	printMatches(os.Stdout, results)

	if matchOutput != "" && len(results) > 0 {
		annotated, err := compose.New(cfg.Camera.Quality).Render(imgData, results)
		if err != nil {
			utils.ShowError("Failed to annotate image", err, nil)
			return err
		}
		if err := os.WriteFile(matchOutput, annotated, 0644); err != nil {
			utils.ShowError("Failed to write annotated image", err, nil)
			return err
		}
		fmt.Fprintf(os.Stderr, "🖼️  Annotated image written to %s\n", matchOutput)
	}
	return nil
}

func printMatches(out io.Writer, results []types.MatchResult) {
	if len(results) == 0 {
		fmt.Fprintln(out, "❌ No faces detected in the provided image.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "FACE\tBOX (T,R,B,L)\tLABEL\tDISTANCE")
	fmt.Fprintln(w, "----\t-------------\t-----\t--------")
	for i, r := range results {
		b := r.Detection.Box
		label := r.Label
		if r.Matched {
			label = "✅ " + label
		} else {
			label = "❌ " + label
		}
		fmt.Fprintf(w, "%d\t%d,%d,%d,%d\t%s\t%s\n", i+1, b.Top, b.Right, b.Bottom, b.Left, label, fmtDistance(r.Distance))
	}
	w.Flush()
}

// fmtDistance renders +Inf (empty gallery) as a dash.
func fmtDistance(d float64) string {
	if math.IsInf(d, 1) {
		return "-"
	}
	return fmt.Sprintf("%.3f", d)
}
