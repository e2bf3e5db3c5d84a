package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Get("/{id}", s.handleGetDevice)
		})

		r.Route("/cameras", func(r chi.Router) {
			r.Get("/", s.handleListCameras)
			r.Get("/{id}", s.handleGetCamera)
			r.Get("/{id}/snapshot", s.handleGetSnapshot)
			r.Post("/{id}/snapshot", s.handleRequestSnapshot)
			r.Get("/{id}/recordings", s.handleCameraRecordings)
		})

		r.Route("/bases", func(r chi.Router) {
			r.Get("/", s.handleListBases)
			r.Get("/{id}", s.handleGetBase)
			r.Post("/{id}/mode", s.handleSetBaseMode)
		})

		r.Route("/locations", func(r chi.Router) {
			r.Get("/", s.handleListLocations)
			r.Post("/{id}/mode", s.handleSetLocationMode)
		})

		r.Get("/recordings", s.handleListRecordings)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}
