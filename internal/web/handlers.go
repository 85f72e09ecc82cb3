package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/andresmejia3/gatekeeper/internal/compose"
	"github.com/andresmejia3/gatekeeper/internal/document"
	"github.com/andresmejia3/gatekeeper/internal/source"
	"github.com/andresmejia3/gatekeeper/internal/stream"
	"github.com/go-chi/chi/v5/middleware"
)

const documentPath = "/api/v1/document"

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

type statusResponse struct {
	Status   string `json:"status"`
	Document string `json:"document,omitempty"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Gate.Snapshot(s.deps.Now())
	if !snap.Verified {
		respondJSON(w, http.StatusOK, statusResponse{Status: "unverified"})
		return
	}
	resp := statusResponse{Status: "verified"}
	if s.deps.ServeDocument {
		resp.Document = documentPath
	}
	respondJSON(w, http.StatusOK, resp)
}

// document serves the protected file. A missing file is reported before
// anything else so the client can tell it apart from a denied request.
func (s *Server) document(w http.ResponseWriter, r *http.Request) {
	name := s.deps.DocumentName
	if s.deps.Documents == nil || !s.deps.Documents.Exists(name) {
		respondError(w, http.StatusNotFound, "document not found")
		return
	}
	if !s.deps.Gate.Verified(s.deps.Now()) {
		respondError(w, http.StatusForbidden, "access denied")
		return
	}

	data, err := s.deps.Documents.Release(name)
	if errors.Is(err, document.ErrNotFound) {
		respondError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		s.log.Error("document release failed", "document", name, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read document")
		return
	}

	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": name}))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"gallery_entries": s.deps.Matcher.Gallery().Len(),
	})
}

func (s *Server) videoFeed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := s.log.With("request_id", middleware.GetReqID(ctx))

	if s.deps.OpenCamera == nil {
		respondError(w, http.StatusServiceUnavailable, "camera not configured")
		return
	}
	src, err := s.deps.OpenCamera(ctx)
	if err != nil {
		log.Error("camera unavailable", "error", err)
		respondError(w, http.StatusServiceUnavailable, "camera unavailable")
		return
	}
	// ffmpeg starts even for a missing device, so wait for the first frame
	// before committing to a 200.
	first, err := src.Next(ctx)
	if err != nil && !errors.Is(err, io.EOF) {
		src.Close()
		if ctx.Err() != nil {
			return
		}
		log.Error("camera produced no frames", "error", err)
		respondError(w, http.StatusServiceUnavailable, "camera unavailable")
		return
	}
	if err == nil {
		src = &primedSource{Source: src, first: first}
	}

	mw := compose.NewMJPEGWriter(w)
	w.Header().Set("Content-Type", mw.ContentType())
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.WriteHeader(http.StatusOK)

	loop := &stream.Loop{
		Matcher:  s.deps.Matcher,
		Gate:     s.deps.Gate,
		Renderer: s.deps.Renderer,
		Now:      s.deps.Now,
		Log:      log,
	}
	stats, err := loop.Run(ctx, src, mw.WriteFrame)
	if err != nil {
		log.Warn("video feed ended with error", "frames", stats.Frames, "error", err)
		return
	}
	mw.Close()
	log.Info("video feed ended", "frames", stats.Frames, "faces", stats.Faces, "unlocks", stats.Unlocks)
}

// primedSource replays a frame that was read ahead before the stream started.
type primedSource struct {
	source.Source
	first []byte
}

func (p *primedSource) Next(ctx context.Context) ([]byte, error) {
	if p.first != nil {
		f := p.first
		p.first = nil
		return f, nil
	}
	return p.Source.Next(ctx)
}
