package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/storage"
)

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	var req models.RecommendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("recommend request",
		zap.String("id", req.ID),
		zap.String("text", req.Text),
		zap.Int("top_k_retrieve", req.TopKRetrieve),
		zap.Int("top_k_final", req.TopKFinal))
	resp, err := s.composer.Recommend(r.Context(), req)
	if models.IsNoResults(err) {
		s.respondJSON(w, http.StatusOK, &models.RecommendResponse{
			Query:           req.Text,
			QueryID:         req.ID,
			Recommendations: []*models.Recommendation{},
			Reason:          "no recommendations: " + err.Error(),
		})
		return
	}
	if err != nil {
		s.respondErr(w, "recommend failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type addItemsRequest struct {
	models.ItemInput
	Items []models.ItemInput `json:"items,omitempty"`
}

func (s *Server) handleAddItems(w http.ResponseWriter, r *http.Request) {
	var req addItemsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	inputs := req.Items
	if len(inputs) == 0 {
		inputs = []models.ItemInput{req.ItemInput}
	}
	s.logger.Debug("add items request", zap.Int("items", len(inputs)))
	ids, err := s.indexer.AddItems(r.Context(), inputs)
	if err != nil {
		s.respondErr(w, "add items failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{"ids": ids, "status": "indexed"})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item, err := s.indexer.Registry().Get(id)
	if err != nil {
		s.respondErr(w, "get item failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, item)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete item request", zap.String("id", id))
	if err := s.indexer.RemoveItem(r.Context(), id); err != nil {
		s.respondErr(w, "deletion failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	if err := s.indexer.Build(r.Context()); err != nil {
		s.respondErr(w, "index build failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.indexer.Stats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"index": s.indexer.Stats(),
	}
	if s.storage != nil {
		count, err := s.storage.CountItems(r.Context())
		if err != nil {
			s.logger.Error("status: count items failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["stored_items"] = count
	}
	if s.config != nil {
		opts := s.composer.Options()
		resp["config"] = map[string]interface{}{
			"embedding_provider":        s.config.Embedding.Provider,
			"embedding_dimensions":      s.config.Embedding.Dimensions,
			"scorer":                    s.config.Scorer.Type,
			"index_type":                s.config.Vector.IndexType,
			"top_k_retrieve":            opts.TopKRetrieve,
			"top_k_final":               opts.TopKFinal,
			"self_exclusion":            opts.SelfExclusion,
			"degrade_on_scorer_failure": opts.DegradeOnScorerFailure,
			"database_path":             s.config.Storage.DatabasePath,
		}
		if diskBytes, err := storage.DiskUsageBytes(s.config.Storage.DatabasePath); err == nil {
			resp["disk_usage_bytes"] = diskBytes
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrDuplicateID), errors.Is(err, models.ErrEmptyCorpus):
		return http.StatusConflict
	case models.IsRetryable(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, io.ErrUnexpectedEOF):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondErr(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
