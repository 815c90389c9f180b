// Package api serves the job protocol over HTTP. Every operation of the
// catalog gets the same four routes under /<op>.
package api

import (
	"context"
	"errors"
	"fmt"
	"gridjobs/internal/config"
	"gridjobs/internal/domain"
	"gridjobs/internal/usecase"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// Catalog resolves operation names.
type Catalog interface {
	Get(name string) (domain.Operation, error)
	All() []domain.Operation
}

type Server struct {
	router  *chi.Mux
	jobs    usecase.Jobs
	catalog Catalog
	cfg     config.Server
}

func NewServer(jobs usecase.Jobs, catalog Catalog, cfg config.Server) *Server {
	s := &Server{router: chi.NewRouter(), jobs: jobs, catalog: catalog, cfg: cfg}

	s.router.Get("/healthz", s.health)
	s.router.Get("/ops", s.listOps)
	s.router.Route("/{op}", func(r chi.Router) {
		r.Use(s.operation)
		r.Post("/", s.start)
		r.Get("/{id}", s.status)
		r.Delete("/{id}", s.stop)
		r.Get("/{id}/download", s.download)
	})
	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, domain.ErrNotFound)
	})
	return s
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return chainMiddleware(
		s.router,
		recoverHandler,
		loggerHandler(func(w http.ResponseWriter, r *http.Request) bool { return r.URL.Path == "/healthz" }),
		realIPHandler,
		requestIDHandler,
		corsHandler,
	)
}

// Run serves on the configured port until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	httpServer := http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		log.Info().Msg("Server is shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		done <- httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Msgf("server serving on port %d", s.cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	if err := <-done; err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info().Msg("Server stopped")
	return nil
}
