// Package server exposes the memory engine over a chi REST API: engram
// CRUD and search, chronicle recording and queries, nexus links, decay,
// stats, and health.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/juspay/hippocampus/internal/config"
	"github.com/juspay/hippocampus/pkg/hippocampus"
)

// Server serves one Memory instance over HTTP.
type Server struct {
	memory *hippocampus.Memory
	logger *zap.Logger

	addr            string
	apiKeys         []string
	corsOrigins     []string
	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration

	defaultLimit  int
	minFinalScore float64
}

// New builds a server around an opened Memory. The search defaults from
// the configuration apply to requests that leave them unset.
func New(memory *hippocampus.Memory, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		memory:          memory,
		logger:          logger,
		addr:            cfg.Server.Addr,
		apiKeys:         cfg.Server.APIKeys,
		corsOrigins:     cfg.Server.CORSOrigins,
		readTimeout:     cfg.Server.ReadTimeout,
		writeTimeout:    cfg.Server.WriteTimeout,
		shutdownTimeout: cfg.Server.ShutdownTimeout,
		defaultLimit:    cfg.Search.DefaultLimit,
		minFinalScore:   cfg.Search.MinFinalScore,
	}
}

// Router assembles the middleware chain and the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)

	origins := s.corsOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(s.auth)

	r.Route("/engrams", func(r chi.Router) {
		r.Post("/", s.handleAddMemory)
		r.Get("/", s.handleListEngrams)
		r.Post("/search", s.handleSearch)
		r.Get("/{id}", s.handleGetEngram)
		r.Patch("/{id}", s.handleUpdateEngram)
		r.Delete("/{id}", s.handleDeleteEngram)
		r.Post("/{id}/reinforce", s.handleReinforce)
	})

	r.Route("/chronicles", func(r chi.Router) {
		r.Post("/", s.handleRecordFact)
		r.Get("/", s.handleQueryChronicles)
		r.Get("/current", s.handleCurrent)
		r.Get("/timeline", s.handleTimeline)
		r.Get("/{id}/related", s.handleRelated)
		r.Patch("/{id}", s.handleUpdateChronicle)
		r.Delete("/{id}", s.handleExpireChronicle)
	})

	r.Post("/nexuses", s.handleLink)
	r.Post("/decay/run", s.handleDecay)
	r.Get("/status", s.handleStats)
	r.Get("/health", s.handleHealth)
	return r
}

// Run serves until ctx is canceled, then drains in-flight requests
// within the shutdown timeout. Closing the Memory afterwards is the
// caller's job.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.Router(),
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down", zap.Duration("timeout", s.shutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
