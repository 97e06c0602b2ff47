// Package statusapi serves a local-only introspection endpoint for
// the health and status of a running client instance (spec.md §6),
// adapted from the teacher's internal/api router/middleware pair.
package statusapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vrlclient/ingest/internal/status"
	"github.com/vrlclient/ingest/pkg/logger"
)

// Router serves /healthz and /status on the configured local address.
type Router struct {
	status *status.Publisher
	logger *logger.Logger
}

// NewRouter builds a Router.
func NewRouter(pub *status.Publisher, log *logger.Logger) *Router {
	return &Router{status: pub, logger: log.Named("statusapi")}
}

// Routes returns the HTTP handler for the status endpoints.
func (rt *Router) Routes() http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(rt.requestLogger)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", rt.handleHealthz)
	router.Get("/status", rt.handleStatus)

	return router
}

// requestLogger logs each request the way the teacher's api.Middleware
// Logger does, at debug level since this surface is operator-only.
func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			rt.logger.Debug("status request",
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.Int("status", ww.Status()),
				logger.Duration("duration", time.Since(start)),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
