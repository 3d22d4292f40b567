// Package handlers implements the REST monitoring surface: plugin status,
// per-server token state, and on-demand connectivity tests. Responses never
// contain token values or client secrets.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"dicomweb-oauth-proxy/internal/common/errors"
	"dicomweb-oauth-proxy/internal/common/logging"
	"dicomweb-oauth-proxy/internal/redis"
	"dicomweb-oauth-proxy/internal/tokens"
)

const (
	// PluginVersion is the release version reported by the status
	// endpoint.
	PluginVersion = "2.0.0"
	// APIVersion is the monitoring API contract version.
	APIVersion = "v1"
)

type Handlers struct {
	registry *tokens.Registry
	redis    *redis.Client
	logger   logging.Logger
	now      func() time.Time
}

func New(registry *tokens.Registry, redisClient *redis.Client, logger logging.Logger) *Handlers {
	return &Handlers{
		registry: registry,
		redis:    redisClient,
		logger:   logger,
		now:      time.Now,
	}
}

// RegisterRoutes mounts the monitoring endpoints on router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/dicomweb-oauth/status", h.GetStatus).Methods(http.MethodGet)
	router.HandleFunc("/dicomweb-oauth/servers", h.ListServers).Methods(http.MethodGet)
	router.HandleFunc("/dicomweb-oauth/servers/{name}/test", h.TestServer).Methods(http.MethodPost)
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
}

// envelope is the common response wrapper carrying version metadata.
type envelope struct {
	PluginVersion string      `json:"plugin_version"`
	APIVersion    string      `json:"api_version"`
	Timestamp     time.Time   `json:"timestamp"`
	Data          interface{} `json:"data"`
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{
		PluginVersion: PluginVersion,
		APIVersion:    APIVersion,
		Timestamp:     h.now().UTC(),
		Data:          data,
	})
}

// GetStatus reports overall plugin health: configured server count, how many
// hold fresh tokens, and shared-cache connectivity.
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	statuses := h.registry.StatusAll()

	freshCount := 0
	for _, s := range statuses {
		if s.TokenFresh {
			freshCount++
		}
	}

	status := map[string]interface{}{
		"servers_configured":  len(statuses),
		"servers_with_tokens": freshCount,
	}

	if h.redis != nil {
		if err := h.redis.Health(); err != nil {
			status["shared_cache"] = "unhealthy"
		} else {
			status["shared_cache"] = "healthy"
		}
	} else {
		status["shared_cache"] = "disabled"
	}

	h.writeJSON(w, http.StatusOK, status)
}

// ListServers returns each server's token state. Token values are never
// included, only presence and expiry.
func (h *Handlers) ListServers(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.registry.StatusAll())
}

// testResult is the outcome of an on-demand token acquisition.
type testResult struct {
	ServerName string     `json:"server_name"`
	Success    bool       `json:"success"`
	ErrorType  string     `json:"error_type,omitempty"`
	Error      string     `json:"error,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// TestServer forces a token acquisition for one server, exercising the full
// exchange path. Useful for verifying credentials after a configuration
// change without waiting for real traffic.
func (h *Handlers) TestServer(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	manager, err := h.registry.Lookup(name)
	if err != nil {
		h.writeJSON(w, http.StatusNotFound, testResult{
			ServerName: name,
			Success:    false,
			ErrorType:  string(errors.ErrTypeNotFound),
			Error:      "server not configured",
		})
		return
	}

	if _, err := manager.GetToken(r.Context()); err != nil {
		h.logger.Warn("token test failed",
			logging.String("server_name", name),
			logging.Err(err),
		)
		h.writeJSON(w, http.StatusServiceUnavailable, testResult{
			ServerName: name,
			Success:    false,
			ErrorType:  string(errors.GetType(err)),
			Error:      err.Error(),
		})
		return
	}

	status := manager.Status()
	h.writeJSON(w, http.StatusOK, testResult{
		ServerName: name,
		Success:    true,
		ExpiresAt:  status.ExpiresAt,
	})
}

// Health is a liveness probe.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
