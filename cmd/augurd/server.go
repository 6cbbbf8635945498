package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/augurhq/augur/pkg/cache"
	"github.com/augurhq/augur/pkg/core"
	"github.com/augurhq/augur/pkg/queue"
	"github.com/augurhq/augur/pkg/submit"
)

// newRouter mounts the submission, polling, and administrative endpoints.
// This layer only frames requests; all decisions live in the pipeline
// packages.
func newRouter(service *submit.Service, q *queue.Queue, resultCache *cache.Cache, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/v1/queries", handleSubmit(service, logger))
	r.Get("/v1/jobs/{jobID}", handleStatus(service, logger))

	r.Route("/v1/admin", func(r chi.Router) {
		r.Get("/jobs", handleListJobs(q, logger))
		r.Post("/jobs/{jobID}/retry", handleRetry(q, logger))
		r.Delete("/jobs/{jobID}", handleRemove(q, logger))
		r.Get("/cache/stats", handleCacheStats(resultCache, logger))
		r.Delete("/cache", handleCacheClear(resultCache, logger))
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

func handleSubmit(service *submit.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submit.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
			return
		}

		sub, err := service.Submit(r.Context(), req)
		if err != nil {
			respondError(w, err, logger)
			return
		}

		status := http.StatusAccepted
		if sub.Status == submit.StatusCached {
			status = http.StatusOK
		}
		respondJSON(w, status, sub)
	}
}

func handleStatus(service *submit.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := service.Status(r.Context(), chi.URLParam(r, "jobID"))
		if err != nil {
			respondError(w, err, logger)
			return
		}
		respondJSON(w, http.StatusOK, view)
	}
}

func handleListJobs(q *queue.Queue, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var statuses []core.JobStatus
		for _, s := range r.URL.Query()["state"] {
			statuses = append(statuses, core.JobStatus(s))
		}
		jobs, err := q.ListJobs(r.Context(), statuses, 100)
		if err != nil {
			respondError(w, err, logger)
			return
		}
		respondJSON(w, http.StatusOK, jobs)
	}
}

func handleRetry(q *queue.Queue, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := q.Retry(r.Context(), chi.URLParam(r, "jobID")); err != nil {
			respondError(w, err, logger)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "requeued"})
	}
}

func handleRemove(q *queue.Queue, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := q.Remove(r.Context(), chi.URLParam(r, "jobID")); err != nil {
			respondError(w, err, logger)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "removed"})
	}
}

func handleCacheStats(resultCache *cache.Cache, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := resultCache.Stats(r.Context())
		if err != nil {
			respondError(w, err, logger)
			return
		}
		respondJSON(w, http.StatusOK, stats)
	}
}

func handleCacheClear(resultCache *cache.Cache, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := resultCache.Clear(r.Context())
		if err != nil {
			respondError(w, err, logger)
			return
		}
		respondJSON(w, http.StatusOK, map[string]int64{"cleared": count})
	}
}

// respondError maps the pipeline error taxonomy onto HTTP statuses.
func respondError(w http.ResponseWriter, err error, logger *slog.Logger) {
	var (
		valErr   *core.ValidationError
		storeErr *core.StoreError
	)
	switch {
	case errors.As(err, &valErr):
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": valErr.Error()})
	case errors.Is(err, core.ErrDuplicateJobID):
		respondJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, core.ErrJobNotFound):
		respondJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, core.ErrJobNotRetryable):
		respondJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, core.ErrInvalidCallbackURL), errors.Is(err, core.ErrQueryTooLarge):
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.As(err, &storeErr):
		logger.Error("store unavailable", "error", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "backing store unavailable"})
	default:
		logger.Error("internal error", "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
