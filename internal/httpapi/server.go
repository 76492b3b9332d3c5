package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"soundd/pkg/types"
)

// Service defines the scheduler surface required by the HTTP API layer.
type Service interface {
	Submit(ctx context.Context, caller types.Caller, req types.SubmitRequest) (types.SubmitResponse, error)
	Status(jobID string) (types.JobSnapshot, error)
	Cancel(ctx context.Context, jobID string, caller types.Caller) error
	Skip(ctx context.Context, jobID string, caller types.Caller) (types.SkipResponse, error)
	QueueStats() types.QueueStatsResponse
	Ready() bool
}

// Options tunes the router. Zero value is usable.
type Options struct {
	Logger zerolog.Logger
	// Max request body for JSON endpoints; default 1 MiB.
	MaxBodyBytes int64
	CORSEnabled  bool
	CORSOrigins  []string
}

// NewMux builds the chi router for the job API.
func NewMux(svc Service, opts Options) http.Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	log := opts.Logger

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	if opts.CORSEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowedHeaders: []string{"Content-Type", "X-Owner-Id", "X-Device-Id"},
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Post("/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, opts.MaxBodyBytes)
		var req types.SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		caller := callerFrom(r)
		start := time.Now()
		resp, err := svc.Submit(r.Context(), caller, req)
		if err != nil {
			writeSchedulerError(w, err)
			logEnd(log, r, "submit", start, err)
			return
		}
		writeJSON(w, http.StatusAccepted, resp)
		logEnd(log, r, "submit", start, nil)
	})

	r.Get("/v1/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		snap, err := svc.Status(chi.URLParam(r, "id"))
		if err != nil {
			writeSchedulerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Delete("/v1/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		start := time.Now()
		if err := svc.Cancel(r.Context(), id, callerFrom(r)); err != nil {
			writeSchedulerError(w, err)
			logEnd(log, r, "cancel", start, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "cancelled": true})
		logEnd(log, r, "cancel", start, nil)
	})

	r.Post("/v1/jobs/{id}/skip", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		start := time.Now()
		resp, err := svc.Skip(r.Context(), id, callerFrom(r))
		if err != nil {
			writeSchedulerError(w, err)
			logEnd(log, r, "skip", start, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		logEnd(log, r, "skip", start, nil)
	})

	r.Get("/v1/queue/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.QueueStats())
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("stopped"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// callerFrom extracts the submitter identity. Authentication happens
// upstream; these headers are trusted as resolved identity.
func callerFrom(r *http.Request) types.Caller {
	return types.Caller{
		OwnerID:  strings.TrimSpace(r.Header.Get("X-Owner-Id")),
		DeviceID: strings.TrimSpace(r.Header.Get("X-Device-Id")),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func logEnd(log zerolog.Logger, r *http.Request, op string, start time.Time, err error) {
	ev := log.Info().Str("op", op).Dur("dur", time.Since(start))
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		ev = ev.Str("request_id", rid)
	}
	if err != nil {
		ev.Err(err).Msg(op + " rejected")
		return
	}
	ev.Msg(op + " ok")
}
