// Package providers implements the identity-provider strategies that perform
// the actual OAuth2 client-credentials exchange. A provider only varies how
// the HTTP exchange is built; the token lifecycle (caching, locking, retry)
// lives in the tokens package and never changes per provider.
package providers

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"dicomweb-oauth-proxy/internal/common/errors"
	"dicomweb-oauth-proxy/internal/common/logging"
	"dicomweb-oauth-proxy/internal/tokens"
)

// maxResponseBytes caps how much of a token response is read. Token endpoint
// responses are small; anything bigger is misbehavior.
const maxResponseBytes = 1 << 20

// Credentials is the immutable exchange configuration for one server.
type Credentials struct {
	TokenEndpoint  string
	ClientID       string
	ClientSecret   string
	Scope          string
	TLSVerify      bool
	RequestTimeout time.Duration
}

// GenericProvider performs a standard OAuth2 client-credentials exchange:
// form-encoded POST, JSON response with access_token and optional expires_in.
type GenericProvider struct {
	creds  Credentials
	client *http.Client
	logger logging.Logger
}

// NewGeneric creates a provider for any spec-compliant token endpoint.
func NewGeneric(creds Credentials, logger logging.Logger) *GenericProvider {
	return &GenericProvider{
		creds:  creds,
		client: newHTTPClient(creds),
		logger: logger,
	}
}

func newHTTPClient(creds Credentials) *http.Client {
	transport := &http.Transport{}
	if !creds.TLSVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{
		Timeout:   creds.RequestTimeout,
		Transport: transport,
	}
}

func (p *GenericProvider) Name() string { return "generic" }

// Acquire exchanges the client credentials for a token. Failure
// classification drives the caller's retry policy: only a transport-level
// failure is retryable. A non-2xx response means bad credentials or a
// malformed request, which retrying cannot fix.
func (p *GenericProvider) Acquire(ctx context.Context) (*tokens.Grant, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", p.creds.ClientID)
	form.Set("client_secret", p.creds.ClientSecret)
	if p.creds.Scope != "" {
		form.Set("scope", p.creds.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.creds.TokenEndpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.ProtocolError("invalid token endpoint", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.TransportError("token endpoint unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.TransportError("reading token response failed", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.RejectionError(resp.StatusCode,
			errors.Redact(string(body), p.creds.ClientSecret))
	}

	return parseGrant(body)
}

// tokenResponse tolerates expires_in arriving as either a JSON number or a
// numeric string; Azure's IMDS does the latter.
type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
}

func parseGrant(body []byte) (*tokens.Grant, error) {
	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.ProtocolError("token response is not valid JSON", err)
	}
	if parsed.AccessToken == "" {
		return nil, errors.ProtocolError("token response missing access_token", nil)
	}

	grant := &tokens.Grant{AccessToken: parsed.AccessToken}
	if parsed.ExpiresIn != "" {
		seconds, err := strconv.ParseInt(parsed.ExpiresIn.String(), 10, 64)
		if err != nil {
			return nil, errors.ProtocolError("token response has malformed expires_in", err)
		}
		grant.ExpiresIn = time.Duration(seconds) * time.Second
	}
	return grant, nil
}
