// Package server exposes the masking pipeline over HTTP.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"piimask/internal/audit"
	"piimask/internal/classifier"
	"piimask/internal/metrics"
	"piimask/internal/sanitizer"
	"piimask/internal/trace"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 1 << 20
)

type Server struct {
	router       *chi.Mux
	sanitizer    *sanitizer.Sanitizer
	classifier   classifier.Classifier
	audit        audit.Logger
	auditPath    string
	metrics      *metrics.Metrics
	logger       zerolog.Logger
	sampleRate   float64
	maxBodyBytes int64
	addr         string
	startTime    time.Time
}

type Option func(*Server)

func WithClassifier(c classifier.Classifier) Option {
	return func(s *Server) { s.classifier = c }
}

// WithAudit sets the audit sink. path is read back by /api/stats; leave it
// empty when l does not write a JSONL file.
func WithAudit(l audit.Logger, path string) Option {
	return func(s *Server) {
		s.audit = l
		s.auditPath = path
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func WithTraceSampleRate(rate float64) Option {
	return func(s *Server) { s.sampleRate = rate }
}

func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) { s.maxBodyBytes = n }
}

// WithAddr records the listen address reported by /api/stats.
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

func New(san *sanitizer.Sanitizer, opts ...Option) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		sanitizer:    san,
		classifier:   classifier.NewKeywordClassifier(),
		audit:        audit.Nop{},
		logger:       zerolog.Nop(),
		sampleRate:   trace.DefaultSampleRate,
		maxBodyBytes: defaultMaxBodyBytes,
		startTime:    time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	return s
}

// Routes returns the chi router with middleware and every endpoint mounted.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestContext)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(defaultTimeout))
		r.Use(s.instrument)
		r.Post("/classify", s.handleClassify)
		r.Post("/v1/mask", s.handleMask)
		r.Get("/api/stats", s.handleStats)
	})
	return r
}
