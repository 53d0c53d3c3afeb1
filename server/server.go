// Package server is the coordination core's HTTP/WS API (spec component
// C7): a gorilla/mux router serving the REST surface plus a websocket
// push channel, grounded on the teacher's server/server.go route table
// (CORS middleware first, then routes) and its graceful-shutdown
// pattern.
package server

import (
	"context"
	"net/http"
	"time"

	"airadio/bus"
	"airadio/config"
	"airadio/djpipeline"
	"airadio/engine"
	"airadio/ingest"
	"airadio/logger"
	"airadio/metacache"
	"airadio/provider"
	"airadio/repository"
	"airadio/scheduler"

	"github.com/gorilla/mux"
)

// Deps bundles every collaborator the API surface talks to.
type Deps struct {
	Store    repository.Store
	Meta     *metacache.Cache
	Bus      *bus.Bus
	Sched    *scheduler.Scheduler
	Eng      engine.Adapter
	Ingestor *ingest.Ingestor
	Pipeline *djpipeline.Pipeline
	LLM      *provider.Registry
	TTS      *provider.Registry
	Cfg      *config.Config
}

// Server owns the HTTP listener and the websocket hub fed from the bus.
type Server struct {
	httpServer *http.Server
	hub        *hub
	deps       Deps
}

// New builds a Server ready to Start. It does not bind a socket yet.
func New(d Deps) *Server {
	h := newHub(d.Bus, d.Store, d.Cfg.WSWriteTimeout)

	router := mux.NewRouter()
	router.Use(corsMiddleware)

	api := &apiHandler{deps: d}
	router.HandleFunc("/api/now", api.getNow).Methods(http.MethodGet)
	router.HandleFunc("/api/next", api.getNext).Methods(http.MethodGet)
	router.HandleFunc("/api/history", api.getHistory).Methods(http.MethodGet)
	router.HandleFunc("/api/cover", api.getCover).Methods(http.MethodGet)
	router.HandleFunc("/api/event", api.postEvent).Methods(http.MethodPost)
	router.HandleFunc("/api/enqueue", api.postEnqueue).Methods(http.MethodPost)
	router.HandleFunc("/api/tts_queue", api.postTTSQueue).Methods(http.MethodPost)
	router.HandleFunc("/api/skip", api.postSkip).Methods(http.MethodPost)
	router.HandleFunc("/api/health", api.getHealth).Methods(http.MethodGet)
	router.HandleFunc("/ws", h.serveWS).Methods(http.MethodGet)

	return &Server{
		httpServer: &http.Server{
			Addr:         d.Cfg.HTTPAddr,
			Handler:      router,
			ReadTimeout:  d.Cfg.HTTPTimeout,
			WriteTimeout: d.Cfg.HTTPTimeout,
			IdleTimeout:  120 * time.Second,
		},
		hub:  h,
		deps: d,
	}
}

// corsMiddleware mirrors the teacher's blanket CORS policy: this API has
// no browser-facing auth surface to protect.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start blocks serving HTTP until ctx is cancelled, then shuts the
// listener down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", logger.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.hub.shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server forced shutdown", logger.ErrorField(err))
			return err
		}
		logger.Info("http server stopped")
		return nil
	case err := <-errCh:
		return err
	}
}
