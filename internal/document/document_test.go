package document

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/gatekeeper/internal/gate"
	"github.com/google/uuid"
)

func TestRelease(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "document.pdf"), []byte("%PDF-1.4"), 0644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(dir)

	tests := []struct {
		name    string
		doc     string
		want    string
		wantErr error
	}{
		{"Present", "document.pdf", "%PDF-1.4", nil},
		{"Missing", "other.pdf", "", ErrNotFound},
		{"Traversal", "../etc/passwd", "", ErrInvalidName},
		{"Subdirectory", "a/document.pdf", "", ErrInvalidName},
		{"Hidden", ".env", "", ErrInvalidName},
		{"Empty", "", "", ErrInvalidName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := s.Release(tt.doc)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Release(%q) error = %v, want %v", tt.doc, err, tt.wantErr)
				}
				return
			}
			if err != nil || string(data) != tt.want {
				t.Errorf("Release(%q) = %q, %v", tt.doc, data, err)
			}
		})
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "document.pdf"), []byte("x"), 0644)
	os.Mkdir(filepath.Join(dir, "folder"), 0755)
	s := NewStore(dir)

	if !s.Exists("document.pdf") {
		t.Error("Expected document.pdf to exist")
	}
	if s.Exists("folder") {
		t.Error("Directories are not documents")
	}
	if s.Exists("nope.pdf") {
		t.Error("Missing file reported as present")
	}
}

func TestOpener_Unlock(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	var opened []string
	o := NewOpener(s, "document.pdf", nil)
	o.command = func(ctx context.Context, path string) *exec.Cmd {
		opened = append(opened, path)
		return exec.Command("true")
	}
	ev := gate.Event{ID: uuid.New(), Label: "alice"}

	if err := o.Unlock(context.Background(), ev); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for a missing document, got %v", err)
	}
	if len(opened) != 0 {
		t.Fatal("Viewer must not start for a missing document")
	}

	os.WriteFile(filepath.Join(dir, "document.pdf"), []byte("x"), 0644)
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true(1) not available")
	}
	if err := o.Unlock(context.Background(), ev); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if len(opened) != 1 || opened[0] != filepath.Join(dir, "document.pdf") {
		t.Errorf("Viewer invoked with %v", opened)
	}
}
