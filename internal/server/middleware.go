package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"piimask/internal/trace"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// requestContext attaches a request trace and a logger tagged with the
// request id. A client supplied X-Request-ID is reused.
func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tr := trace.NewRequestTraceWithID(r.Header.Get(RequestIDHeader), s.sampleRate)
		w.Header().Set(RequestIDHeader, tr.ID)

		logger := s.logger.With().Str("request_id", tr.ID).Logger()
		ctx := trace.WithContext(logger.WithContext(r.Context()), tr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// instrument counts requests by route and status and logs sampled traces.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		endpoint := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			endpoint = rc.RoutePattern()
		}
		s.metrics.RecordRequest(endpoint, status)

		if tr, ok := trace.FromContext(r.Context()); ok {
			logger := s.logger.With().Str("request_id", tr.ID).Logger()
			tr.LogAt(&logger, time.Now())
		}
	})
}
