package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/npezzotti/kite-relay/internal/config"
	"github.com/npezzotti/kite-relay/internal/database"
	"github.com/npezzotti/kite-relay/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewKiteApp(t *testing.T) {
	mux := http.NewServeMux()
	logger := testutil.TestLogger(t)
	db := &database.MockKiteRepository{}
	cfg := &config.Config{
		ServerAddr:     "localhost:8080",
		AllowedOrigins: []string{"http://localhost:3000"},
	}

	app := NewKiteApp(mux, logger, db, nil, nil, cfg)

	assert.NotNil(t, app, "expected app to be initialized")
	assert.NotNil(t, app.srv, "expected server to be initialized")
	assert.Equal(t, app.log, logger, "expected logger to be set")
	assert.Equal(t, app.db, db, "expected db to be set")
	assert.Equal(t, app.srv.Addr, cfg.ServerAddr, "expected server address to match config")
}

func TestNewKiteApp_Routes(t *testing.T) {
	widget := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusSwitchingProtocols)
	})
	webhook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	t.Run("providers mounted", func(t *testing.T) {
		app := NewKiteApp(http.NewServeMux(), testutil.TestLogger(t), &database.MockKiteRepository{}, widget, webhook,
			&config.Config{})

		rr := httptest.NewRecorder()
		app.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ws", nil))
		assert.Equal(t, http.StatusSwitchingProtocols, rr.Code)

		rr = httptest.NewRecorder()
		app.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/tg", nil))
		assert.Equal(t, http.StatusAccepted, rr.Code)
	})

	t.Run("no telegram bot", func(t *testing.T) {
		app := NewKiteApp(http.NewServeMux(), testutil.TestLogger(t), &database.MockKiteRepository{}, widget, nil,
			&config.Config{})

		rr := httptest.NewRecorder()
		app.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/tg", nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("cors preflight", func(t *testing.T) {
		app := NewKiteApp(http.NewServeMux(), testutil.TestLogger(t), &database.MockKiteRepository{}, widget, nil,
			&config.Config{AllowedOrigins: []string{"https://shop.example"}})

		req := httptest.NewRequest(http.MethodOptions, "/api/channels/support_team_1", nil)
		req.Header.Set("Origin", "https://shop.example")
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		rr := httptest.NewRecorder()
		app.Handler().ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "https://shop.example", rr.Header().Get("Access-Control-Allow-Origin"))
	})
}
