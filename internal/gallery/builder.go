package gallery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/andresmejia3/gatekeeper/internal/source"
	"github.com/andresmejia3/gatekeeper/internal/types"
	"github.com/andresmejia3/gatekeeper/internal/utils"
	"github.com/schollz/progressbar/v3"
)

// DefaultSampleInterval submits every 30th frame, about one per second of 30fps video.
const DefaultSampleInterval = 30

// Builder extracts a Gallery from a directory of labeled videos.
type Builder struct {
	Extractor      types.Extractor
	Open           source.Opener
	SampleInterval int
	Extensions     []string // allow-list, defaults to utils.DefaultVideoExtensions
	Engines        int      // concurrent extraction calls per video, defaults to 1

	// Progress receives a progress bar per video when set.
	Progress    io.Writer
	CountFrames func(ctx context.Context, path string) int

	Log *slog.Logger
}

// sampleResult wraps the output of one sampled frame for re-sequencing.
type sampleResult struct {
	Seq   int
	Faces []types.Detection
}

// Build walks datasetDir in lexical order. Files that cannot be opened are skipped
// and reported; everything else contributes one entry per detected face.
func (b *Builder) Build(ctx context.Context, datasetDir string) (*Gallery, error) {
	if b.SampleInterval < 1 {
		return nil, fmt.Errorf("sample interval must be >= 1, got %d", b.SampleInterval)
	}
	if b.Extractor == nil || b.Open == nil {
		return nil, errors.New("builder needs an extractor and an opener")
	}
	log := b.logger()
	exts := b.Extensions
	if len(exts) == 0 {
		exts = utils.DefaultVideoExtensions
	}

	dirEntries, err := os.ReadDir(datasetDir)
	if err != nil {
		return nil, fmt.Errorf("reading dataset directory: %w", err)
	}

	var entries []Entry
	for _, de := range dirEntries {
		if de.IsDir() || !utils.IsVideoFile(de.Name(), exts) {
			continue
		}
		path := filepath.Join(datasetDir, de.Name())
		label := utils.LabelFromPath(path)

		fileEntries, sampled, err := b.buildFile(ctx, path, label)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err != nil {
			log.Warn("video skipped or truncated", "file", de.Name(), "label", label, "kept", len(fileEntries), "error", err)
		}
		log.Info("video processed", "file", de.Name(), "label", label, "sampled_frames", sampled, "entries", len(fileEntries))
		entries = append(entries, fileEntries...)
	}

	return New(entries), nil
}

// buildFile returns the entries for one video in sample order. On a mid-stream
// decode failure the entries gathered so far are returned along with the error.
func (b *Builder) buildFile(ctx context.Context, path, label string) ([]Entry, int, error) {
	src, err := b.Open(ctx, path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening video: %w", err)
	}
	defer src.Close()

	engines := b.Engines
	if engines < 1 {
		engines = 1
	}
	bar := b.newBar(ctx, path, label)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	taskChan := make(chan types.FrameTask, engines)
	resultsChan := make(chan sampleResult, engines*2)
	var wg sync.WaitGroup

	// Aggregator must run concurrently to prevent deadlock on resultsChan
	buffer := make(map[int][]types.Detection)
	aggDone := make(chan struct{})
	go func() {
		for res := range resultsChan {
			buffer[res.Seq] = res.Faces
		}
		close(aggDone)
	}()

	for i := 0; i < engines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskChan {
				faces, err := b.Extractor.Extract(ctx, task.Data)
				if err != nil {
					if ctx.Err() == nil {
						b.logger().Warn("extraction failed, frame counted as empty", "file", filepath.Base(path), "sample", task.Index, "error", err)
					}
					faces = nil
				}
				resultsChan <- sampleResult{Seq: task.Index, Faces: faces}
			}
		}()
	}

	var readErr error
	sampled := 0
read:
	for frameIdx := 0; ; frameIdx++ {
		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			readErr = err
			break
		}
		if bar != nil {
			bar.Add(1)
		}
		if frameIdx%b.SampleInterval != 0 {
			continue
		}
		select {
		case taskChan <- types.FrameTask{Index: sampled, Data: frame}:
			sampled++
		case <-ctx.Done():
			readErr = ctx.Err()
			break read
		}
	}

	close(taskChan)
	wg.Wait()
	close(resultsChan)
	<-aggDone
	if bar != nil {
		bar.Finish()
	}

	entries := make([]Entry, 0, sampled)
	for seq := 0; seq < sampled; seq++ {
		for _, face := range buffer[seq] {
			entries = append(entries, Entry{Vec: face.Vec, Label: label, Source: path})
		}
	}
	return entries, sampled, readErr
}

func (b *Builder) newBar(ctx context.Context, path, label string) *progressbar.ProgressBar {
	if b.Progress == nil {
		return nil
	}
	total := -1 // spinner when the frame count is unknown
	if b.CountFrames != nil {
		if n := b.CountFrames(ctx, path); n > 0 {
			total = n
		}
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("🎞️  "+label),
		progressbar.OptionSetWriter(b.Progress),
		progressbar.OptionShowCount(),
	)
}

func (b *Builder) logger() *slog.Logger {
	if b.Log != nil {
		return b.Log
	}
	return slog.Default()
}
