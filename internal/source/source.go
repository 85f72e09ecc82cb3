// Package source provides sequential JPEG frame sources backed by ffmpeg.
package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/andresmejia3/gatekeeper/internal/utils"
)

const megabyte = 1024 * 1024

// Source yields JPEG frames in capture order. Next returns io.EOF when the
// source is exhausted. Close must always be called and is idempotent.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Opener opens the source at path (a file, device or URL).
type Opener func(ctx context.Context, path string) (Source, error)

// FFmpegSource decodes any ffmpeg input into a stream of MJPEG frames.
type FFmpegSource struct {
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	out     io.ReadCloser
	scanner *bufio.Scanner
	stderr  bytes.Buffer
	frames  int

	closeOnce sync.Once
	closeErr  error
}

// FFmpegOpener returns an Opener passing inputFormat as ffmpeg's -f (empty for files).
func FFmpegOpener(inputFormat string) Opener {
	return func(ctx context.Context, path string) (Source, error) {
		return OpenFFmpeg(ctx, path, inputFormat)
	}
}

// OpenFFmpeg starts ffmpeg reading from input.
func OpenFFmpeg(ctx context.Context, input, inputFormat string) (*FFmpegSource, error) {
	// The process lives until Close, not until ctx is done, so callers control release.
	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd := utils.NewFFmpegCmd(procCtx, input, inputFormat)

	s := &FFmpegSource{cmd: cmd, cancel: cancel}
	cmd.Stderr = &s.stderr

	out, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create FFmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start FFmpeg: %w", err)
	}
	s.out = out

	s.scanner = bufio.NewScanner(out)
	s.scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	s.scanner.Split(utils.SplitJpeg)
	return s, nil
}

// Next returns a copy of the next frame.
func (s *FFmpegSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.scanner.Scan() {
		s.frames++
		return bytes.Clone(s.scanner.Bytes()), nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("frame scanner failed: %w", err)
	}

	// Stream ended. A non-zero exit means the input could not be decoded.
	if err := s.wait(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed after %d frames: %w: %s", s.frames, err, bytes.TrimSpace(s.stderr.Bytes()))
	}
	return nil, io.EOF
}

// Close kills ffmpeg if it is still running and reaps it.
func (s *FFmpegSource) Close() error {
	s.cancel()
	err := s.wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Killed on purpose or already reported by Next.
		return nil
	}
	return err
}

func (s *FFmpegSource) wait() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.cmd.Wait()
	})
	return s.closeErr
}
