package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/nats-io/nats.go"

	"github.com/pavilion-app/pavilion-search/engine/domain"
	"github.com/pavilion-app/pavilion-search/engine/index"
	"github.com/pavilion-app/pavilion-search/engine/query"
	"github.com/pavilion-app/pavilion-search/pkg/docstore"
	"github.com/pavilion-app/pavilion-search/pkg/mid"
	"github.com/pavilion-app/pavilion-search/pkg/natsutil"
)

// searchPipeline is what handleSearch needs from the query pipeline.
type searchPipeline interface {
	Run(ctx context.Context, req query.Request) (*query.Result, error)
}

// statusReader is what handleIndexStatus needs from the docstore.
type statusReader interface {
	IndexStatus(ctx context.Context) ([]docstore.CollectionStatus, error)
}

func handleIndexStatus(store statusReader, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses, err := store.IndexStatus(r.Context())
		if err != nil {
			logger.Error("index status read failed", "err", err)
			writeError(w, http.StatusServiceUnavailable, "status unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"collections": statuses})
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SearchRequest is the JSON body for POST /api/search/query.
type SearchRequest struct {
	Query       string `json:"query"`
	BypassCache bool   `json:"bypass_cache,omitempty"`
}

func handleSearch(pipeline searchPipeline, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		res, err := pipeline.Run(r.Context(), query.Request{
			Query:       req.Query,
			ClientKey:   mid.ClientKey(r),
			BypassCache: req.BypassCache,
		})
		if err != nil {
			status, msg := classifyQueryError(err)
			if status >= 500 {
				logger.Error("search failed", "err", err)
			}
			writeError(w, status, msg)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// classifyQueryError maps pipeline errors onto stable status codes so clients
// can pick retry behavior: 400 invalid, 408 timeout, 429 rate-limited,
// 503 upstream down.
func classifyQueryError(err error) (int, string) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Wrapped.Error()
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "rate limit exceeded, slow down"
	case errors.Is(err, domain.ErrPipelineTimeout):
		return http.StatusRequestTimeout, "query timed out, try a simpler query"
	case errors.Is(err, domain.ErrEmbeddingUnavailable),
		errors.Is(err, domain.ErrVectorSearchUnavailable),
		domain.IsTransient(err):
		return http.StatusServiceUnavailable, "search is temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// ReindexRequest is the JSON body for POST /api/admin/reindex. An absent
// collection means every collection.
type ReindexRequest struct {
	Collection string `json:"collection,omitempty"`
	Force      bool   `json:"force,omitempty"`
}

func handleReindex(nc *nats.Conn, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReindexRequest
		// An empty body means "reindex everything".
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Collection != "" {
			if _, err := domain.ValidateCollection(req.Collection); err != nil {
				writeError(w, http.StatusBadRequest, "unknown collection")
				return
			}
		}

		err := natsutil.Publish(r.Context(), nc, natsutil.SubjectReindex, index.ReindexRequest{
			Collection: req.Collection,
			Force:      req.Force,
		})
		if err != nil {
			logger.Error("reindex publish failed", "err", err)
			writeError(w, http.StatusServiceUnavailable, "indexer unreachable")
			return
		}
		logger.Info("reindex queued", "collection", req.Collection, "force", req.Force)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
