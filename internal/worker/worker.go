package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/andresmejia3/gatekeeper/internal/types"
	"github.com/andresmejia3/gatekeeper/internal/utils"
)

// ErrWorker wraps errors reported by the Python side (as opposed to pipe failures).
var ErrWorker = errors.New("python worker error")

const (
	statusOK    = 0
	statusError = 1

	// maxResponse caps a single response body.
	maxResponse = 16 * 1024 * 1024
)

// Config controls how a worker process is launched.
type Config struct {
	Python      string        // interpreter, default "python3"
	Script      string        // path to worker.py
	ReadTimeout time.Duration // per-frame response timeout, 0 disables
}

type PythonWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration
}

// NewPythonWorker starts worker.py with a side-channel pipe on FD 3 for results.
func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	python := cfg.Python
	if python == "" {
		python = "python3"
	}
	py := utils.NewSafeCommand(ctx, python, "-u", cfg.Script)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: cfg.ReadTimeout,
	}, nil
}

// Extract implements types.Extractor for a single worker. It is not safe for concurrent use;
// use Pool to share workers between goroutines.
func (w *PythonWorker) Extract(ctx context.Context, frame []byte) ([]types.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return w.ProcessFrame(frame)
}

// ProcessFrame sends one JPEG and decodes the detections.
// Protocol: [Length][Data] out, [Length][Status][...] back.
func (w *PythonWorker) ProcessFrame(data []byte) ([]types.Detection, error) {
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	if w.ReadTimeout > 0 {
		if d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok {
			_ = d.SetReadDeadline(time.Now().Add(w.ReadTimeout))
		}
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponse {
		return nil, fmt.Errorf("response too large: %d bytes", respLen)
	}
	respBody := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, respBody); err != nil {
		return nil, err
	}
	return decodeResponse(respBody)
}

// decodeResponse parses [Status] followed by either faces or an error message.
func decodeResponse(body []byte) ([]types.Detection, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("empty response")
	}
	r := bytes.NewReader(body[1:])

	switch body[0] {
	case statusOK:
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return nil, fmt.Errorf("reading face count: %w", err)
		}
		faces := make([]types.Detection, 0, n)
		for i := uint32(0); i < n; i++ {
			var box [4]int32
			if err := binary.Read(r, binary.BigEndian, &box); err != nil {
				return nil, fmt.Errorf("reading box %d: %w", i, err)
			}
			var vec [types.EmbeddingDim]float32
			if err := binary.Read(r, binary.BigEndian, &vec); err != nil {
				return nil, fmt.Errorf("reading vector %d: %w", i, err)
			}
			emb := make(types.Embedding, types.EmbeddingDim)
			for j, v := range vec {
				emb[j] = float64(v)
			}
			faces = append(faces, types.Detection{
				Box: types.Box{Top: int(box[0]), Right: int(box[1]), Bottom: int(box[2]), Left: int(box[3])},
				Vec: emb,
			})
		}
		return faces, nil

	case statusError:
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("reading error length: %w", err)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("reading error message: %w", err)
		}
		return nil, fmt.Errorf("%w: %s", ErrWorker, msg)

	default:
		return nil, fmt.Errorf("unknown status byte %d", body[0])
	}
}

func (w *PythonWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}
