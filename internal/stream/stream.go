// Package stream runs the per-client processing loop: read a frame, match the
// faces in it, update the gate, annotate, emit.
package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/andresmejia3/gatekeeper/internal/gate"
	"github.com/andresmejia3/gatekeeper/internal/matcher"
	"github.com/andresmejia3/gatekeeper/internal/source"
	"github.com/andresmejia3/gatekeeper/internal/types"
	"github.com/google/uuid"
)

// Renderer annotates a frame with its match results.
type Renderer interface {
	Render(frame []byte, results []types.MatchResult) ([]byte, error)
}

// Loop wires one frame source to the shared matcher and gate.
type Loop struct {
	Matcher  *matcher.Matcher
	Gate     *gate.Gate
	Renderer Renderer
	Now      func() time.Time
	Log      *slog.Logger
}

// Stats summarizes a finished run.
type Stats struct {
	Frames  int
	Faces   int
	Unlocks int
}

// Run processes src in capture order until it is exhausted, ctx is cancelled,
// or emit fails. The source is always closed before Run returns. Exhaustion and
// cancellation are normal ends and return nil.
func (l *Loop) Run(ctx context.Context, src source.Source, emit func([]byte) error) (Stats, error) {
	defer src.Close()

	now := l.Now
	if now == nil {
		now = time.Now
	}
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("stream", uuid.NewString())
	log.Info("stream started")

	var stats Stats
	for {
		if ctx.Err() != nil {
			log.Info("stream stopped", "reason", "client gone", "frames", stats.Frames)
			return stats, nil
		}
		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			log.Info("stream stopped", "reason", "source exhausted", "frames", stats.Frames)
			return stats, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				log.Info("stream stopped", "reason", "client gone", "frames", stats.Frames)
				return stats, nil
			}
			return stats, err
		}
		stats.Frames++
		at := now()

		results, err := l.Matcher.MatchFrame(ctx, frame)
		if err != nil {
			if ctx.Err() != nil {
				return stats, nil
			}
			log.Warn("face extraction failed, frame treated as empty", "frame", stats.Frames, "error", err)
			results = nil
		}
		stats.Faces += len(results)

		for _, res := range results {
			if l.Gate.Observe(ctx, res, at) {
				stats.Unlocks++
			}
		}

		out := frame
		if l.Renderer != nil {
			rendered, err := l.Renderer.Render(frame, results)
			if err != nil {
				log.Warn("overlay failed, sending raw frame", "frame", stats.Frames, "error", err)
			} else {
				out = rendered
			}
		}
		if err := emit(out); err != nil {
			if ctx.Err() != nil {
				return stats, nil
			}
			return stats, err
		}
	}
}
