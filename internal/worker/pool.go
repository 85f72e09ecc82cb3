package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/andresmejia3/gatekeeper/internal/types"
)

// Engine is a single extraction backend owned by the pool.
type Engine interface {
	types.Extractor
	Close()
}

// Factory starts the engine for slot id.
type Factory func(ctx context.Context, id int) (Engine, error)

// PythonFactory returns a Factory launching worker.py processes.
func PythonFactory(cfg Config) Factory {
	return func(ctx context.Context, id int) (Engine, error) {
		return NewPythonWorker(ctx, id, cfg)
	}
}

type slot struct {
	id     int
	engine Engine
}

// Pool lends engines to concurrent callers, one call at a time per engine.
// An engine that fails at the transport level is closed and respawned on next use.
type Pool struct {
	ctx     context.Context
	factory Factory
	slots   chan *slot
	size    int
	log     *slog.Logger

	closeOnce sync.Once
}

// NewPool creates a pool of size engines. Engines are started lazily or by Warm.
// ctx bounds the lifetime of every engine process.
func NewPool(ctx context.Context, size int, factory Factory, log *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Pool{
		ctx:     ctx,
		factory: factory,
		slots:   make(chan *slot, size),
		size:    size,
		log:     log,
	}
	for i := 0; i < size; i++ {
		p.slots <- &slot{id: i}
	}
	return p
}

// Size returns the number of engines.
func (p *Pool) Size() int { return p.size }

// Warm starts every engine up front so startup failures surface immediately.
func (p *Pool) Warm(ctx context.Context) error {
	taken := make([]*slot, 0, p.size)
	defer func() {
		for _, s := range taken {
			p.slots <- s
		}
	}()
	for i := 0; i < p.size; i++ {
		var s *slot
		select {
		case s = <-p.slots:
		case <-ctx.Done():
			return ctx.Err()
		}
		taken = append(taken, s)
		if s.engine != nil {
			continue
		}
		e, err := p.factory(p.ctx, s.id)
		if err != nil {
			return fmt.Errorf("engine %d: %w", s.id, err)
		}
		s.engine = e
	}
	return nil
}

// Extract implements types.Extractor.
func (p *Pool) Extract(ctx context.Context, frame []byte) ([]types.Detection, error) {
	var s *slot
	select {
	case s = <-p.slots:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { p.slots <- s }()

	if s.engine == nil {
		e, err := p.factory(p.ctx, s.id)
		if err != nil {
			return nil, fmt.Errorf("engine %d failed to start: %w", s.id, err)
		}
		s.engine = e
	}

	faces, err := s.engine.Extract(ctx, frame)
	if err != nil && !errors.Is(err, ErrWorker) && ctx.Err() == nil {
		// Transport failure: the process is gone or out of sync with the protocol.
		attrs := []any{"engine", s.id, "error", err}
		if pw, ok := s.engine.(*PythonWorker); ok && pw.Cmd != nil && pw.Cmd.Stderr.Len() > 0 {
			attrs = append(attrs, "stderr", pw.Cmd.Stderr.String())
		}
		p.log.Error("extraction engine crashed, respawning on next frame", attrs...)
		s.engine.Close()
		s.engine = nil
	}
	return faces, err
}

// Close stops every engine. It waits for in-flight calls to return their engines.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		for i := 0; i < p.size; i++ {
			s := <-p.slots
			if s.engine != nil {
				s.engine.Close()
				s.engine = nil
			}
		}
	})
}
