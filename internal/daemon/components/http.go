package components

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ballee/spendguard/internal/config"
	"github.com/ballee/spendguard/internal/daemon"
)

// HTTPServerComponent exposes the daemon's health over HTTP so operators
// and monitoring can watch a running instance.
type HTTPServerComponent struct {
	mu          sync.RWMutex
	daemon      *daemon.Daemon
	cfg         *config.ServerConfig
	server      *http.Server
	shutdownTTL time.Duration
	started     bool
}

type componentStatus struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Uptime     string                     `json:"uptime"`
	Components map[string]componentStatus `json:"components"`
}

func NewHTTPServerComponent(d *daemon.Daemon, cfg *config.ServerConfig) *HTTPServerComponent {
	return &HTTPServerComponent{daemon: d, cfg: cfg}
}

func (h *HTTPServerComponent) Name() string {
	return "HTTPServer"
}

func (h *HTTPServerComponent) Dependencies() []string {
	return []string{"Stores", "Ingress", "Engine", "Scheduler"}
}

func (h *HTTPServerComponent) Init(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var firstErr error
	parse := func(name, value, defaultValue string) time.Duration {
		d, err := config.DurationOrDefault(value, defaultValue)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("parse server %s timeout: %w", name, err)
		}
		return d
	}

	read := parse("read", h.cfg.ReadTimeout, config.DefaultServerReadTO)
	write := parse("write", h.cfg.WriteTimeout, config.DefaultServerWriteTO)
	idle := parse("idle", h.cfg.IdleTimeout, config.DefaultServerIdleTO)
	shutdown := parse("shutdown", h.cfg.ShutdownTimeout, config.DefaultServerShutdown)
	if firstErr != nil {
		return firstErr
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)

	h.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", h.cfg.Port),
		Handler:      mux,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}
	h.shutdownTTL = shutdown

	slog.Info("HTTP server initialized", "port", h.cfg.Port)
	return nil
}

func (h *HTTPServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.server == nil {
		return fmt.Errorf("HTTP server not initialized")
	}

	go func() {
		slog.Info("HTTP server listening", "addr", h.server.Addr)
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "error", err)
		}
	}()

	h.started = true
	return nil
}

func (h *HTTPServerComponent) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, h.shutdownTTL)
	defer cancel()

	if err := h.server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
		return err
	}

	h.started = false
	slog.Info("HTTP server stopped")
	return nil
}

func (h *HTTPServerComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.server == nil {
		return &daemon.ComponentHealth{Name: h.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}
	if !h.started {
		return &daemon.ComponentHealth{Name: h.Name(), Healthy: false, Error: fmt.Errorf("not started")}, nil
	}
	return &daemon.ComponentHealth{Name: h.Name(), Healthy: true}, nil
}

func (h *HTTPServerComponent) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := healthResponse{
		Status:     "ok",
		Uptime:     h.daemon.Uptime().Round(time.Second).String(),
		Components: make(map[string]componentStatus),
	}
	for name, ch := range h.daemon.ComponentHealth() {
		status := componentStatus{Healthy: ch.Healthy}
		if ch.Error != nil {
			status.Error = ch.Error.Error()
		}
		if !ch.Healthy {
			resp.Status = "degraded"
		}
		resp.Components[name] = status
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
