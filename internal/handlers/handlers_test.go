package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicomweb-oauth-proxy/internal/common/errors"
	"dicomweb-oauth-proxy/internal/common/logging"
	"dicomweb-oauth-proxy/internal/tokens"
)

type scriptedProvider struct {
	grant *tokens.Grant
	err   error
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) Acquire(ctx context.Context) (*tokens.Grant, error) {
	return s.grant, s.err
}

func testServer(t *testing.T, providers map[string]tokens.Provider) *httptest.Server {
	t.Helper()

	registry := tokens.NewRegistry()
	for name, provider := range providers {
		m := tokens.NewManager(tokens.Config{
			ServerName:     name,
			RefreshBuffer:  300 * time.Second,
			ExpiryFallback: time.Hour,
			MaxRetries:     1,
			RetryBaseDelay: time.Millisecond,
		}, provider, logging.NewDefaultLogger())
		registry.Register(name, "https://"+name+".example.com/dicom-web", m)
	}

	router := mux.NewRouter()
	New(registry, nil, logging.NewDefaultLogger()).RegisterRoutes(router)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts
}

func decodeEnvelope(t *testing.T, resp *http.Response) (envelope, []byte) {
	t.Helper()
	var env envelope
	raw := json.RawMessage{}
	env.Data = &raw
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env, raw
}

func TestGetStatus(t *testing.T) {
	ts := testServer(t, map[string]tokens.Provider{
		"pacs": &scriptedProvider{grant: &tokens.Grant{AccessToken: "tok", ExpiresIn: time.Hour}},
	})

	resp, err := http.Get(ts.URL + "/dicomweb-oauth/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	env, raw := decodeEnvelope(t, resp)
	assert.Equal(t, PluginVersion, env.PluginVersion)
	assert.Equal(t, APIVersion, env.APIVersion)
	assert.False(t, env.Timestamp.IsZero())

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &data))
	assert.Equal(t, float64(1), data["servers_configured"])
	assert.Equal(t, float64(0), data["servers_with_tokens"])
	assert.Equal(t, "disabled", data["shared_cache"])
}

func TestListServersHidesTokenValues(t *testing.T) {
	ts := testServer(t, map[string]tokens.Provider{
		"pacs": &scriptedProvider{grant: &tokens.Grant{AccessToken: "top-secret-token", ExpiresIn: time.Hour}},
	})

	// Populate the token first via the test endpoint.
	resp, err := http.Post(ts.URL+"/dicomweb-oauth/servers/pacs/test", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/dicomweb-oauth/servers")
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf strings.Builder
	_, raw := decodeEnvelope(t, resp)
	buf.Write(raw)

	assert.NotContains(t, buf.String(), "top-secret-token")

	var statuses []tokens.Status
	require.NoError(t, json.Unmarshal(raw, &statuses))
	require.Len(t, statuses, 1)
	assert.Equal(t, "pacs", statuses[0].ServerName)
	assert.True(t, statuses[0].HasToken)
	assert.NotNil(t, statuses[0].ExpiresAt)
}

func TestTestServerSuccess(t *testing.T) {
	ts := testServer(t, map[string]tokens.Provider{
		"pacs": &scriptedProvider{grant: &tokens.Grant{AccessToken: "tok", ExpiresIn: time.Hour}},
	})

	resp, err := http.Post(ts.URL+"/dicomweb-oauth/servers/pacs/test", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, raw := decodeEnvelope(t, resp)
	var result testResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.True(t, result.Success)
	assert.NotNil(t, result.ExpiresAt)
}

func TestTestServerFailureReportsErrorType(t *testing.T) {
	ts := testServer(t, map[string]tokens.Provider{
		"pacs": &scriptedProvider{err: errors.RejectionError(401, "bad credentials")},
	})

	resp, err := http.Post(ts.URL+"/dicomweb-oauth/servers/pacs/test", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	_, raw := decodeEnvelope(t, resp)
	var result testResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.False(t, result.Success)
	assert.Equal(t, string(errors.ErrTypeRejection), result.ErrorType)
}

func TestTestServerUnknownName(t *testing.T) {
	ts := testServer(t, map[string]tokens.Provider{})

	resp, err := http.Post(ts.URL+"/dicomweb-oauth/servers/nope/test", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	ts := testServer(t, map[string]tokens.Provider{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
