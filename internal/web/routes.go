package web

import (
	_ "embed"
	"net/http"

	"github.com/go-chi/chi/v5"
)

//go:embed index.html
var indexHTML []byte

func (s *Server) setupRoutes() {
	s.router.Get("/", s.index)
	s.router.Get("/video_feed", s.videoFeed)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.health)
		r.Get("/status", s.status)
		if s.deps.ServeDocument {
			r.Get("/document", s.document)
		}
	})
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}
