package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/modwatch/modlog-listener/internal/ingest"
	"github.com/modwatch/modlog-listener/internal/notification"
	"github.com/modwatch/modlog-listener/internal/store"
	"github.com/modwatch/modlog-listener/pkg/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          int           `json:"port"`
	Host          string        `json:"host"`
	ReadTimeout   time.Duration `json:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout"`
	EnableMetrics bool          `json:"enable_metrics"`
	EnableHealth  bool          `json:"enable_health"`
}

// HTTPServer exposes health, status and metrics endpoints
type HTTPServer struct {
	config   *ServerConfig
	logger   *logrus.Logger
	store    store.Store
	engine   *ingest.Engine
	notifier notification.Notifier
	server   *http.Server
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(config *ServerConfig, st store.Store, engine *ingest.Engine, notifier notification.Notifier) *HTTPServer {
	s := &HTTPServer{
		config:   config,
		logger:   utils.GetLogger(),
		store:    st,
		engine:   engine,
		notifier: notifier,
	}

	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)

	if config.EnableHealth {
		router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	}
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	if config.EnableMetrics {
		router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return s
}

// Start starts serving in a background goroutine
func (s *HTTPServer) Start() error {
	s.logger.WithField("address", s.server.Addr).Info("Starting HTTP server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithField("error", err.Error()).Error("HTTP server failed")
		}
	}()

	return nil
}

// Stop shuts the server down gracefully
func (s *HTTPServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// handleHealth reports component health
func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]bool{
		"store":        s.store.Ping() == nil,
		"notification": s.notifier.IsHealthy(),
	}

	healthy := true
	for _, ok := range components {
		if !ok {
			healthy = false
			break
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"components": components,
		"timestamp":  time.Now(),
	})
}

// handleStatus reports engine, store and notification statistics
func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	storeStats, err := s.store.GetStats()
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"engine":       s.engine.GetStats(),
		"store":        storeStats,
		"notification": s.notifier.GetStats(),
		"timestamp":    time.Now(),
	})
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithField("error", err.Error()).Error("Failed to encode response")
	}
}
