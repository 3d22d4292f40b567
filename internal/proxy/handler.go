package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"dicomweb-oauth-proxy/internal/common/errors"
	"dicomweb-oauth-proxy/internal/common/logging"
	"dicomweb-oauth-proxy/internal/metrics"
	"dicomweb-oauth-proxy/internal/tokens"
)

// hopByHopHeaders must not be forwarded between hops.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Handler forwards DICOMweb requests to a configured upstream server with a
// managed bearer token attached. A token failure never reaches the upstream:
// it is translated to a 503 with the failure class, never the secret
// material.
type Handler struct {
	registry *tokens.Registry
	client   *http.Client
	logger   logging.Logger
	metrics  *metrics.Metrics
}

func NewHandler(registry *tokens.Registry, client *http.Client, logger logging.Logger, mx *metrics.Metrics) *Handler {
	if client == nil {
		client = http.DefaultClient
	}
	return &Handler{
		registry: registry,
		client:   client,
		logger:   logger,
		metrics:  mx,
	}
}

// Routes mounts the forwarding endpoint on router.
func (h *Handler) Routes(router *mux.Router) {
	router.PathPrefix("/servers/{server}/proxy/").HandlerFunc(h.Forward)
}

// Forward proxies one request to the named server.
func (h *Handler) Forward(w http.ResponseWriter, r *http.Request) {
	serverName := mux.Vars(r)["server"]
	logger := h.logger.WithFields(logging.String("server_name", serverName))

	manager, err := h.registry.Lookup(serverName)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown server")
		return
	}
	baseURL, err := h.registry.BaseURL(serverName)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown server")
		return
	}

	token, err := manager.GetToken(r.Context())
	if err != nil {
		logger.Error("token acquisition failed, refusing to forward", err,
			logging.String("error_type", string(errors.GetType(err))))
		h.recordProxy(serverName, http.StatusServiceUnavailable)
		writeTokenFailure(w, err)
		return
	}

	marker := "/servers/" + serverName + "/proxy/"
	idx := strings.Index(r.URL.Path, marker)
	if idx < 0 {
		writeError(w, http.StatusBadRequest, "malformed proxy path")
		return
	}
	upstreamURL := baseURL + "/" + r.URL.Path[idx+len(marker):]
	if r.URL.RawQuery != "" {
		upstreamURL += "?" + r.URL.RawQuery
	}

	outbound, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL, r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot build upstream request")
		return
	}
	copyHeaders(outbound.Header, r.Header)
	outbound.Header.Set("Authorization", "Bearer "+token)

	resp, err := h.client.Do(outbound)
	if err != nil {
		logger.Error("upstream request failed", err)
		h.recordProxy(serverName, http.StatusBadGateway)
		writeError(w, http.StatusBadGateway, "upstream unreachable")
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logger.Warn("copying upstream response failed", logging.Err(err))
	}
	h.recordProxy(serverName, resp.StatusCode)
}

func (h *Handler) recordProxy(server string, code int) {
	if h.metrics != nil {
		h.metrics.RecordProxyRequest(server, code)
	}
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopByHop(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func isHopByHop(key string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(key, h) {
			return true
		}
	}
	return false
}

// writeTokenFailure maps a token lifecycle failure to 503. The response names
// the failure class so operators can tell a provider outage from bad
// credentials, but carries no secret or raw provider output.
func writeTokenFailure(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]string{
		"error":      "token acquisition failed",
		"error_type": string(errors.GetType(err)),
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
