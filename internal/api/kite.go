package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/kite-relay/internal/config"
	"github.com/npezzotti/kite-relay/internal/database"
)

// KiteApp is the HTTP surface of the hub: health and channel lookups, the
// widget websocket and the telegram webhook.
type KiteApp struct {
	log *slog.Logger
	db  database.KiteRepository
	srv *http.Server
}

// NewKiteApp registers routes on mux. webhook may be nil when no telegram
// bot is configured.
func NewKiteApp(mux *http.ServeMux, logger *slog.Logger, db database.KiteRepository, widget http.Handler,
	webhook http.Handler, cfg *config.Config) *KiteApp {
	s := &KiteApp{
		log: logger,
		db:  db,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("GET /api/channels/{name}", s.getChannel)
	if widget != nil {
		mux.Handle("GET /ws", widget)
	}
	if webhook != nil {
		mux.Handle("POST /tg", webhook)
	}

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
	)(mux)

	h = s.requestLogger(h)
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *KiteApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *KiteApp) Start() error {
	s.log.Info("starting server", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *KiteApp) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
