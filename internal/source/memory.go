package source

import (
	"context"
	"io"
	"sync/atomic"
)

// Memory serves a fixed list of frames. It backs still-image matching and tests.
type Memory struct {
	frames [][]byte
	pos    int
	closed atomic.Bool
}

// NewMemory returns a Source over frames.
func NewMemory(frames ...[]byte) *Memory {
	return &Memory{frames: frames}
}

func (m *Memory) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.closed.Load() || m.pos >= len(m.frames) {
		return nil, io.EOF
	}
	f := m.frames[m.pos]
	m.pos++
	return f, nil
}

func (m *Memory) Close() error {
	m.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (m *Memory) Closed() bool { return m.closed.Load() }
