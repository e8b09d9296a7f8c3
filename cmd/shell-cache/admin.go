package main

import (
	"encoding/json"
	"errors"
	"net/http"

	shellcache "github.com/ericselin/shell-cache"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const adminPrefix = "/.shell-cache"

// newRouter serves the admin endpoints and proxies everything else
// through the cache manager.
func newRouter(m *shellcache.Manager) http.Handler {
	r := chi.NewRouter()
	r.Route(adminPrefix, func(r chi.Router) {
		r.Post("/install", func(w http.ResponseWriter, req *http.Request) {
			err := m.Install(req.Context(), nil)
			var installErr *shellcache.InstallError
			switch {
			case errors.As(err, &installErr):
				writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
			case err != nil:
				writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			default:
				writeJSON(w, http.StatusOK, map[string]any{"installed": true})
			}
		})
		r.Post("/activate", func(w http.ResponseWriter, req *http.Request) {
			deleted := m.Activate(req.Context())
			writeJSON(w, http.StatusOK, map[string]any{"current": m.Current(), "deleted": deleted})
		})
		r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
			status, err := m.Status()
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, status)
		})
	})
	r.Handle("/*", m)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Could not write admin response")
	}
}
