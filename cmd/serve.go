package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/andresmejia3/gatekeeper/internal/compose"
	"github.com/andresmejia3/gatekeeper/internal/document"
	"github.com/andresmejia3/gatekeeper/internal/gate"
	"github.com/andresmejia3/gatekeeper/internal/source"
	"github.com/andresmejia3/gatekeeper/internal/utils"
	"github.com/andresmejia3/gatekeeper/internal/web"
	"github.com/spf13/cobra"
)

// Options holds flags shared by serve, gallery and match. They only override
// the configuration when set explicitly.
type Options struct {
	Dataset        string
	SampleInterval int
	NumEngines     int
	Tolerance      float64
	Index          string

	Camera         string
	CameraFormat   string
	Host           string
	Port           int
	Cooldown       time.Duration
	Granularity    string
	AbsenceTimeout time.Duration
	Release        string
	DocumentDir    string
	DocumentName   string
}

var serveOpts Options

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Build the gallery, then serve the live feed and the access gate",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		applyServeFlags(cmd, serveOpts)
		return runServe(cmd.Context())
	},
}

func init() {
	addServeFlags(serveCmd, &serveOpts)
	rootCmd.AddCommand(serveCmd)
}

func addServeFlags(cmd *cobra.Command, opts *Options) {
	addGalleryFlags(cmd, opts)
	cmd.Flags().StringVar(&opts.Camera, "camera", "/dev/video0", "Camera device or any ffmpeg input")
	cmd.Flags().StringVar(&opts.CameraFormat, "camera-format", "v4l2", "ffmpeg input format for the camera (empty to probe)")
	cmd.Flags().StringVar(&opts.Host, "host", "127.0.0.1", "Host to bind to")
	cmd.Flags().IntVarP(&opts.Port, "port", "p", 5000, "Port to listen on")
	cmd.Flags().DurationVar(&opts.Cooldown, "cooldown", gate.DefaultCooldown, "Minimum time between repeated unlocks")
	cmd.Flags().StringVar(&opts.Granularity, "granularity", string(gate.Global), "Cooldown granularity: global or per-label")
	cmd.Flags().DurationVar(&opts.AbsenceTimeout, "absence-timeout", 0, "Revoke access after no known face is seen for this long (0 disables)")
	cmd.Flags().StringVar(&opts.Release, "release", "pull", "Document release: pull (HTTP), push (open on host) or both")
	cmd.Flags().StringVar(&opts.DocumentDir, "document-dir", "document", "Directory holding the protected document")
	cmd.Flags().StringVar(&opts.DocumentName, "document", "document.pdf", "File name of the protected document")
}

func addGalleryFlags(cmd *cobra.Command, opts *Options) {
	cmd.Flags().StringVarP(&opts.Dataset, "dataset", "i", "dataset", "Directory of labeled videos (<name>.mp4, <name>.avi)")
	cmd.Flags().IntVarP(&opts.SampleInterval, "sample-interval", "n", 30, "Sample every Nth frame of each video")
	cmd.Flags().IntVarP(&opts.NumEngines, "engines", "e", 1, "Number of parallel engine workers")
	cmd.Flags().Float64VarP(&opts.Tolerance, "tolerance", "t", 0.6, "Match tolerance (lower is stricter)")
	cmd.Flags().StringVar(&opts.Index, "index", "linear", "Nearest-neighbour index: linear (exact) or hnsw (approximate)")
}

func applyGalleryFlags(cmd *cobra.Command, opts Options) {
	overrideString(cmd, "dataset", &cfg.Gallery.Dataset, opts.Dataset)
	overrideInt(cmd, "sample-interval", &cfg.Gallery.SampleInterval, opts.SampleInterval)
	overrideInt(cmd, "engines", &cfg.Worker.Engines, opts.NumEngines)
	overrideFloat(cmd, "tolerance", &cfg.Match.Tolerance, opts.Tolerance)
	overrideString(cmd, "index", &cfg.Match.Index, opts.Index)
}

func applyServeFlags(cmd *cobra.Command, opts Options) {
	applyGalleryFlags(cmd, opts)
	overrideString(cmd, "camera", &cfg.Camera.Device, opts.Camera)
	overrideString(cmd, "camera-format", &cfg.Camera.Format, opts.CameraFormat)
	overrideString(cmd, "host", &cfg.Web.Host, opts.Host)
	overrideInt(cmd, "port", &cfg.Web.Port, opts.Port)
	overrideDuration(cmd, "cooldown", &cfg.Gate.Cooldown, opts.Cooldown)
	overrideString(cmd, "granularity", &cfg.Gate.Granularity, opts.Granularity)
	overrideDuration(cmd, "absence-timeout", &cfg.Gate.AbsenceTimeout, opts.AbsenceTimeout)
	overrideString(cmd, "release", &cfg.Gate.Release, opts.Release)
	overrideString(cmd, "document-dir", &cfg.Document.Dir, opts.DocumentDir)
	overrideString(cmd, "document", &cfg.Document.Name, opts.DocumentName)
}

func runServe(ctx context.Context) error {
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
	printGallerySummary(os.Stderr, g)

	docs := document.NewStore(cfg.Document.Dir)
	if !docs.Exists(cfg.Document.Name) {
		logger.Warn("protected document not found, releases will fail until it exists", "dir", cfg.Document.Dir, "document", cfg.Document.Name)
	}

	var unlockers []gate.Unlocker
	if cfg.Gate.Push() {
		unlockers = append(unlockers, document.NewOpener(docs, cfg.Document.Name, logger))
	}
	switch err := connectDB(ctx); {
	case err == nil:
		fmt.Fprintln(os.Stderr, "🗄️  Recording unlocks to the audit log")
		unlockers = append(unlockers, DB)
	case errors.Is(err, errNoDatabase):
	default:
		utils.ShowError("Audit database unavailable", err, nil)
		return err
	}

	granularity, err := gate.ParseGranularity(cfg.Gate.Granularity)
	if err != nil {
		return err
	}
	gt := gate.New(gate.Config{
		Cooldown:       cfg.Gate.Cooldown,
		Granularity:    granularity,
		AbsenceTimeout: cfg.Gate.AbsenceTimeout,
	}, logger, unlockers...)

	server := web.NewServer(cfg.Web.Addr(), web.Deps{
		Matcher:       newMatcher(g, pool),
		Gate:          gt,
		Renderer:      compose.New(cfg.Camera.Quality),
		Documents:     docs,
		DocumentName:  cfg.Document.Name,
		ServeDocument: cfg.Gate.Pull(),
		OpenCamera: func(ctx context.Context) (source.Source, error) {
			src, err := source.OpenFFmpeg(ctx, cfg.Camera.Device, cfg.Camera.Format)
			if err != nil {
				return nil, err
			}
			return src, nil
		},
		Log: logger,
	})

	go func() {
		<-ctx.Done()
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	fmt.Fprintf(os.Stderr, "🔐 Gatekeeper listening on http://%s (cooldown %s, %s, release %s)\n",
		cfg.Web.Addr(), cfg.Gate.Cooldown, granularity, cfg.Gate.Release)
	fmt.Fprintln(os.Stderr, "Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		utils.ShowError("Web server failed", err, nil)
		return err
	}
	return nil
}
