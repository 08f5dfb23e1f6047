// Package api provides the HTTP control surface for Fern: the single
// /api/guest resource a CLI or remote operator uses to create, update,
// list, and remove guests.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fern-network/fern/internal/domain"
	"github.com/fern-network/fern/internal/server"
)

// maxModuleBytes bounds the size of an uploaded guest module body.
const maxModuleBytes = 64 << 20 // 64MiB

// Server is Fern's HTTP API server, backed by the guest command core.
type Server struct {
	core           *server.Server
	metricsEnabled bool
}

// NewServer creates an API server bound to an already-running command core.
func NewServer(core *server.Server) *Server {
	return &Server{core: core}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/guest", s.handleListGuests)
	r.Post("/api/guest", s.handleCreateGuest)
	r.Put("/api/guest", s.handleUpdateGuest)
	r.Delete("/api/guest/{name}", s.handleRemoveGuest)

	r.Get("/api/node", s.handleNodeAddress)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

type createModuleRequest struct {
	GuestName string `json:"guest_name"`
	Module    []byte `json:"module"`
}

type updateModuleRequest struct {
	GuestName string `json:"guest_name"`
	Module    []byte `json:"module"`
}

func (s *Server) handleListGuests(w http.ResponseWriter, r *http.Request) {
	guests, err := s.core.Guests(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if guests == nil {
		guests = []domain.GuestInfo{}
	}
	writeJSON(w, http.StatusOK, guests)
}

func (s *Server) handleCreateGuest(w http.ResponseWriter, r *http.Request) {
	var req createModuleRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	result, err := s.core.CreateModule(r.Context(), req.GuestName, req.Module)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUpdateGuest(w http.ResponseWriter, r *http.Request) {
	var req updateModuleRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	result, err := s.core.UpdateModule(r.Context(), req.GuestName, req.Module)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRemoveGuest(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	result, err := s.core.RemoveModule(r.Context(), name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleNodeAddress(w http.ResponseWriter, r *http.Request) {
	addr, err := s.core.NodeAddress(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, addr)
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, maxModuleBytes)
	defer body.Close()

	if err := json.NewDecoder(body).Decode(dst); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return false
	}
	return true
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNameCollision):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
		},
	})
}

// corsMiddleware adds permissive CORS headers for local tooling.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
