package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vertextoedge/modelcache/internal/domain"
	"github.com/vertextoedge/modelcache/internal/service/loader"
)

const healthCheckTimeout = 5 * time.Second

type modelInfo struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

type loadRequest struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Digest string `json:"digest,omitempty"`
}

type loadResponse struct {
	ID    string              `json:"id"`
	Name  string              `json:"name"`
	State loader.SessionState `json:"state"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Error("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	infos, err := s.models.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list models", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list models")
		return
	}

	out := make([]modelInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, modelInfo{Name: info.Identity, Size: info.Size, CreatedAt: info.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetModel serves cached bytes only; it never triggers a download
func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	h, err := s.models.Open(r.Context(), name)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "model not cached")
			return
		}
		s.logger.Error("failed to open model", zap.String("name", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "model not available")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(w, r, name, time.Time{}, h.Reader())
}

func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	n, err := s.models.Evict(r.Context(), name)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("failed to evict model", zap.String("name", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to evict model")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"name":           name,
		"chunks_removed": n,
	})
}

func (s *Server) handleStartLoad(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	src, err := domain.ParseRemoteSource(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := s.models.Start(s.loadContext(), src, req.Name, loader.Options{Digest: req.Digest})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("failed to start load", zap.String("name", req.Name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start load")
		return
	}

	writeJSON(w, http.StatusAccepted, loadResponse{
		ID:    sess.ID,
		Name:  sess.Identity,
		State: sess.Status().State,
	})
}

func (s *Server) handleGetLoad(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.models.Session(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "load not found")
		return
	}
	writeJSON(w, http.StatusOK, sess.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
