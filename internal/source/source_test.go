package source

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"testing"
)

func TestMemory(t *testing.T) {
	m := NewMemory([]byte("a"), []byte("b"))
	ctx := context.Background()

	for _, want := range []string{"a", "b"} {
		got, err := m.Next(ctx)
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if string(got) != want {
			t.Errorf("Expected %q, got %q", want, got)
		}
	}
	if _, err := m.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF, got %v", err)
	}
	if m.Closed() {
		t.Error("Source should not be closed yet")
	}
	m.Close()
	if !m.Closed() {
		t.Error("Close was not recorded")
	}
}

func TestMemory_CancelledContext(t *testing.T) {
	m := NewMemory([]byte("a"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestOpenFFmpeg_BadInput(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}

	src, err := OpenFFmpeg(context.Background(), "/nonexistent/video.mp4", "")
	if err != nil {
		// Start can only fail if the binary is missing, which we checked.
		t.Fatalf("OpenFFmpeg failed: %v", err)
	}
	defer src.Close()

	if _, err := src.Next(context.Background()); err == nil || errors.Is(err, io.EOF) {
		t.Errorf("Expected a decode error for a missing file, got %v", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("Close after failure should be clean, got %v", err)
	}
}
