// Package dashboard serves the read-only web view over processed listings.
package dashboard

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"marketplace-elt/models"
	"marketplace-elt/services"
	"marketplace-elt/storage"
	"marketplace-elt/utils"
)

//go:embed templates/*.html
var templateFS embed.FS

// Source is the read side of the store. Nothing on this path writes.
type Source interface {
	storage.ListingReader
	ProcessedReady(ctx context.Context) (bool, error)
}

// Server renders the dashboard and its JSON API.
type Server struct {
	src      Source
	insights *services.InsightService
	logger   *utils.Logger
	page     *template.Template
}

// New parses the embedded templates and returns a Server reading from src.
func New(src Source, logger *utils.Logger) (*Server, error) {
	page, err := template.New("index.html").Funcs(templateFuncs).ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("dashboard: parse templates: %w", err)
	}
	return &Server{
		src:      src,
		insights: services.NewInsightService(logger),
		logger:   logger,
		page:     page,
	}, nil
}

// Handler returns the routed handler wrapped in request-id and access-log
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.indexHandler)
	mux.HandleFunc("GET /api/listings", s.listingsHandler)
	mux.HandleFunc("GET /api/stats", s.statsHandler)
	mux.HandleFunc("GET /healthz", s.healthHandler)
	return WithRequestID(WithLogging(s.logger, mux))
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Slog().Handler(), slog.LevelError),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("[http] Dashboard listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("dashboard: listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("[http] Shutdown signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("dashboard: shutdown: %w", err)
	}
	s.logger.Info("[http] Dashboard stopped")
	return nil
}

// load returns every processed listing, or ready=false when no transform
// has run yet.
func (s *Server) load(ctx context.Context) ([]*models.Listing, bool, error) {
	ready, err := s.src.ProcessedReady(ctx)
	if err != nil || !ready {
		return nil, false, err
	}
	listings, err := s.src.FetchListings(ctx)
	if err != nil {
		return nil, false, err
	}
	return listings, true, nil
}
