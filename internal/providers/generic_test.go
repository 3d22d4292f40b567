package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicomweb-oauth-proxy/internal/common/errors"
	"dicomweb-oauth-proxy/internal/common/logging"
)

func genericFor(url string) *GenericProvider {
	return NewGeneric(Credentials{
		TokenEndpoint:  url,
		ClientID:       "orthanc-client",
		ClientSecret:   "s3cret",
		Scope:          "dicomweb.read",
		TLSVerify:      true,
		RequestTimeout: 2 * time.Second,
	}, logging.NewDefaultLogger())
}

func TestAcquireSendsClientCredentialsForm(t *testing.T) {
	var captured *http.Request
	var form map[string][]string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token": "abc", "expires_in": 3600}`))
	}))
	defer ts.Close()

	grant, err := genericFor(ts.URL).Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, captured.Method)
	assert.Equal(t, "application/x-www-form-urlencoded", captured.Header.Get("Content-Type"))
	assert.Equal(t, []string{"client_credentials"}, form["grant_type"])
	assert.Equal(t, []string{"orthanc-client"}, form["client_id"])
	assert.Equal(t, []string{"s3cret"}, form["client_secret"])
	assert.Equal(t, []string{"dicomweb.read"}, form["scope"])

	assert.Equal(t, "abc", grant.AccessToken)
	assert.Equal(t, time.Hour, grant.ExpiresIn)
}

func TestAcquireOmitsEmptyScope(t *testing.T) {
	var form map[string][]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Write([]byte(`{"access_token": "abc"}`))
	}))
	defer ts.Close()

	p := NewGeneric(Credentials{
		TokenEndpoint:  ts.URL,
		ClientID:       "id",
		ClientSecret:   "s",
		RequestTimeout: 2 * time.Second,
	}, logging.NewDefaultLogger())

	_, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, form, "scope")
}

func TestAcquireMissingExpiresInYieldsZeroLifetime(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token": "abc"}`))
	}))
	defer ts.Close()

	grant, err := genericFor(ts.URL).Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), grant.ExpiresIn)
}

func TestAcquireStringExpiresIn(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token": "abc", "expires_in": "1800"}`))
	}))
	defer ts.Close()

	grant, err := genericFor(ts.URL).Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, grant.ExpiresIn)
}

func TestAcquireRejectionIsNotRetryableAndRedacted(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "invalid_client", "echo": "s3cret"}`))
	}))
	defer ts.Close()

	_, err := genericFor(ts.URL).Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeRejection))
	assert.False(t, errors.Retryable(err))
	assert.NotContains(t, err.Error(), "s3cret")
	assert.Contains(t, err.Error(), errors.RedactedPlaceholder)
}

func TestAcquireBadBodyIsProtocolError(t *testing.T) {
	cases := map[string]string{
		"not json":             `this is not json`,
		"missing access_token": `{"expires_in": 3600}`,
		"wrong type":           `{"access_token": 42}`,
		"bad expires_in":       `{"access_token": "abc", "expires_in": "soon"}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer ts.Close()

			_, err := genericFor(ts.URL).Acquire(context.Background())
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeProtocol))
			assert.False(t, errors.Retryable(err))
		})
	}
}

func TestAcquireTransportFailureIsRetryable(t *testing.T) {
	// Nothing listens here.
	p := genericFor("http://127.0.0.1:1/token")

	_, err := p.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeTransport))
	assert.True(t, errors.Retryable(err))
}

func TestAcquireTimeoutIsRetryable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"access_token": "abc"}`))
	}))
	defer ts.Close()

	p := NewGeneric(Credentials{
		TokenEndpoint:  ts.URL,
		ClientID:       "id",
		ClientSecret:   "s",
		RequestTimeout: 50 * time.Millisecond,
	}, logging.NewDefaultLogger())

	_, err := p.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Retryable(err))
}
