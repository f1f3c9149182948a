package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// DefaultBasePath is where the endpoint is mounted unless configured otherwise.
const DefaultBasePath = "/api/mcp"

// RequestIDHeader carries the id assigned to every inbound request.
const RequestIDHeader = "X-Request-Id"

type requestIDKey struct{}

// RequestIDFromContext returns the request id set by the router, if any.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// requestID keeps a client supplied X-Request-Id or assigns a new one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// requestLogger logs one line per request once it completes.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", RequestIDFromContext(r.Context()),
			)
		})
	}
}

// NewRouter mounts endpoint at basePath and at every path beneath it. The
// fixed path delegates to the catch-all handler.
func NewRouter(endpoint http.Handler, basePath string, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	base := strings.TrimRight(basePath, "/")

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(requestLogger(logger))

	catchAll := endpoint
	r.Handle(base+"/*", catchAll)
	if base == "" {
		r.Handle("/", catchAll)
	} else {
		r.Handle(base, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			catchAll.ServeHTTP(w, req)
		}))
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		setCORSHeaders(w.Header())
		if req.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Max-Age", corsMaxAge)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeErrorResponse(w, logger, http.StatusNotFound, errors.New("not found"))
	})

	return r
}
