package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-instruments/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeNotAllowed, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/auth/token", s.handleIssueToken)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			read := s.requirePermission(auth.PermInstrumentRead)
			operate := s.requirePermission(auth.PermInstrumentOperate)
			configure := s.requirePermission(auth.PermInstrumentConfigure)

			r.With(read).Get("/delegates", s.handleListDelegates)
			r.With(s.requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAudit)

			r.Route("/instruments", func(r chi.Router) {
				r.With(read).Get("/", s.handleListInstruments)

				r.Route("/{name}", func(r chi.Router) {
					r.With(read).Get("/", s.handleGetInstrument)
					r.With(read).Get("/snapshot", s.handleLiveSnapshot)
					r.With(read).Get("/snapshots", s.handleListSnapshots)
					r.With(operate).Post("/snapshots", s.handleCaptureSnapshot)
					r.With(read).Get("/metadata", s.handleGetMetadata)
					r.With(configure).Patch("/metadata", s.handlePatchMetadata)
					r.With(read).Get("/parameters/{param}", s.handleGetParameter)
					r.With(operate).Put("/parameters/{param}", s.handleSetParameter)
					r.With(operate).Post("/functions/{function}", s.handleCallFunction)
				})
			})
		})
	})

	return r
}
