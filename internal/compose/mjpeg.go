package compose

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strconv"
)

// Boundary separates frames in the multipart stream.
const Boundary = "frame"

// MJPEGWriter writes JPEG frames as parts of a multipart/x-mixed-replace body.
type MJPEGWriter struct {
	mw    *multipart.Writer
	flush func()
}

// NewMJPEGWriter wraps w. If w can flush (an http.ResponseWriter usually can),
// every frame is flushed as soon as it is written.
func NewMJPEGWriter(w io.Writer) *MJPEGWriter {
	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(Boundary); err != nil {
		panic(err) // constant boundary is always valid
	}
	m := &MJPEGWriter{mw: mw, flush: func() {}}
	if f, ok := w.(interface{ Flush() }); ok {
		m.flush = f.Flush
	}
	return m
}

// ContentType is the value for the response Content-Type header.
func (m *MJPEGWriter) ContentType() string {
	return "multipart/x-mixed-replace; boundary=" + m.mw.Boundary()
}

// WriteFrame emits one part.
func (m *MJPEGWriter) WriteFrame(jpeg []byte) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Type", "image/jpeg")
	h.Set("Content-Length", strconv.Itoa(len(jpeg)))
	part, err := m.mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("writing part header: %w", err)
	}
	if _, err := part.Write(jpeg); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	m.flush()
	return nil
}

// Close writes the closing boundary.
func (m *MJPEGWriter) Close() error {
	err := m.mw.Close()
	m.flush()
	return err
}
