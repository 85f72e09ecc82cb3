// Package document releases the protected document once the gate is verified.
package document

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/andresmejia3/gatekeeper/internal/gate"
)

var (
	ErrNotFound    = errors.New("document not found")
	ErrInvalidName = errors.New("invalid document name")
)

// Store serves documents out of a single directory.
type Store struct {
	Dir string
}

// NewStore returns a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

// Path resolves name inside the store directory.
func (s *Store) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.Dir, name), nil
}

// Exists reports whether name is a regular file in the store.
func (s *Store) Exists(name string) bool {
	p, err := s.Path(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// Release returns the document bytes.
func (s *Store) Release(name string) ([]byte, error) {
	p, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	return data, nil
}

// Opener shows the document in the desktop viewer on every unlock.
type Opener struct {
	Store *Store
	Name  string
	Log   *slog.Logger

	// command builds the viewer invocation; swapped in tests.
	command func(ctx context.Context, path string) *exec.Cmd
}

// NewOpener returns an Opener using the platform viewer.
func NewOpener(s *Store, name string, log *slog.Logger) *Opener {
	if log == nil {
		log = slog.Default()
	}
	return &Opener{Store: s, Name: name, Log: log, command: viewerCommand}
}

func viewerCommand(ctx context.Context, path string) *exec.Cmd {
	switch runtime.GOOS {
	case "darwin":
		return exec.CommandContext(ctx, "open", path)
	case "windows":
		return exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", path)
	default:
		return exec.CommandContext(ctx, "xdg-open", path)
	}
}

// Unlock launches the viewer without waiting for it to exit.
func (o *Opener) Unlock(ctx context.Context, ev gate.Event) error {
	if !o.Store.Exists(o.Name) {
		o.Log.Warn("document to open is missing", "document", o.Name, "dir", o.Store.Dir, "label", ev.Label)
		return fmt.Errorf("%w: %s", ErrNotFound, o.Name)
	}
	path, err := o.Store.Path(o.Name)
	if err != nil {
		return err
	}
	// The viewer outlives the request that triggered it.
	cmd := o.command(context.WithoutCancel(ctx), path)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting document viewer: %w", err)
	}
	go cmd.Wait()
	o.Log.Info("document opened", "document", o.Name, "label", ev.Label, "event", ev.ID)
	return nil
}
