package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cuemby/castlehub/pkg/log"
	"github.com/cuemby/castlehub/pkg/metrics"
)

// StoreProbe is what readiness needs from the record store
type StoreProbe interface {
	Ping() error
}

// HealthServer provides HTTP health check endpoints
type HealthServer struct {
	store  StoreProbe
	mux    *http.ServeMux
	server *http.Server
}

// NewHealthServer creates a new health check HTTP server. store may be nil,
// in which case readiness relies on what components registered themselves.
func NewHealthServer(store StoreProbe) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		store: store,
		mux:   mux,
	}

	mux.HandleFunc("/health", getOnly(metrics.HealthHandler()))
	mux.HandleFunc("/ready", getOnly(hs.readyHandler))
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Start serves until Shutdown is called
func (hs *HealthServer) Start(addr string) error {
	hs.server = &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger := log.WithComponent("api")
	logger.Info().Str("addr", addr).Msg("Health server listening")
	if err := hs.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	if hs.server == nil {
		return nil
	}
	return hs.server.Shutdown(ctx)
}

// readyHandler probes the store before reporting readiness
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if hs.store != nil {
		if err := hs.store.Ping(); err != nil {
			metrics.UpdateComponent("store", false, err.Error())
		} else {
			metrics.UpdateComponent("store", true, "")
		}
	}
	metrics.ReadyHandler()(w, r)
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}

func getOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}
