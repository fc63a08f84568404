package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	nervis "github.com/ferro-labs/ner-visualizer"
	"github.com/ferro-labs/ner-visualizer/internal/admin"
	"github.com/ferro-labs/ner-visualizer/internal/extraargs"
	"github.com/ferro-labs/ner-visualizer/internal/logging"
	"github.com/ferro-labs/ner-visualizer/internal/ratelimit"
	"github.com/ferro-labs/ner-visualizer/internal/version"
	"github.com/ferro-labs/ner-visualizer/plugin"
)

// maxSubmitBytes bounds a submission body.
const maxSubmitBytes = 1 << 20

// newRouter builds the HTTP router.
func (s *Server) newRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(s.cfg.Server.CORSOrigins...))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, version.Get())
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(ratelimit.Middleware(s.limiter))
			}
			r.Post("/ner", s.submit)
		})
		r.Get("/compare", s.compare)
		r.Get("/last", s.last)
		r.Get("/models", s.listModels)
		r.With(admin.TokenAuth(s.cfg.Server.AdminToken)).Put("/models", admin.UpdateModels(s.models))
	})

	adminHandlers := &admin.Handlers{
		Cache:  s.vis,
		Models: s.models,
	}
	if s.logs != nil {
		adminHandlers.Logs = s.logs
		adminHandlers.LogAdmin = s.logs
	}
	r.Route("/admin", func(r chi.Router) {
		r.Use(admin.TokenAuth(s.cfg.Server.AdminToken))
		r.Mount("/", adminHandlers.Routes())
	})

	return r
}

type submitRequest struct {
	Model     string `json:"model"`
	Text      string `json:"text"`
	ExtraArgs string `json:"extra_args"`
}

// submit handles POST /api/ner.
func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request_error")
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required", "invalid_request_error")
		return
	}

	sid := s.sessions.ID(w, r)
	res, err := s.vis.Submit(r.Context(), nervis.Submission{
		SessionID: sid,
		Model:     req.Model,
		Text:      req.Text,
		ExtraArgs: req.ExtraArgs,
	})
	switch {
	case errors.Is(err, nervis.ErrUnknownModel):
		writeError(w, http.StatusNotFound, err.Error(), "not_found_error")
		return
	case errors.Is(err, extraargs.ErrMalformed):
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
		return
	case errors.Is(err, plugin.ErrRejected):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), "rejected_error")
		return
	case errors.Is(err, context.Canceled):
		// Client went away.
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error(), "server_error")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// compare handles GET /api/compare?text=.
func (s *Server) compare(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.vis.Compare(r.URL.Query().Get("text")))
}

// last handles GET /api/last. It answers 204 when the session has no
// submission on record.
func (s *Server) last(w http.ResponseWriter, r *http.Request) {
	sid := s.sessions.ID(w, r)
	restored, ok := s.vis.Restore(sid)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, restored)
}

// publicModel is the model view exposed without authentication.
type publicModel struct {
	Identity string `json:"identity"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	Kind     string `json:"kind"`
	Model    string `json:"model,omitempty"`
}

// listModels handles GET /api/models, in display order and without
// credentials.
func (s *Server) listModels(w http.ResponseWriter, _ *http.Request) {
	models := s.vis.Models()
	out := make([]publicModel, 0, len(models))
	for _, m := range models {
		out = append(out, publicModel{
			Identity: m.Identity(),
			Name:     m.DisplayName(),
			URL:      m.URL,
			Kind:     m.Kind,
			Model:    m.Model,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the JSON error envelope shared with the admin API.
func writeError(w http.ResponseWriter, status int, message, errType string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    errType,
		},
	})
}
