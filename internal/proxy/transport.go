// Package proxy attaches managed bearer tokens to outbound DICOMweb traffic.
// It offers two integration points: a Transport for embedding in an existing
// http.Client, and a Handler that forwards incoming requests to the upstream
// server on the caller's behalf.
package proxy

import (
	"net/http"

	"dicomweb-oauth-proxy/internal/tokens"
)

// Transport is an http.RoundTripper that injects an Authorization header for
// any request whose URL matches a configured server. Requests for unmatched
// URLs pass through untouched.
type Transport struct {
	// Base is the underlying RoundTripper; nil means
	// http.DefaultTransport.
	Base http.RoundTripper

	Registry *tokens.Registry
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	_, manager, ok := t.Registry.Match(req.URL.String())
	if !ok {
		return t.base().RoundTrip(req)
	}

	token, err := manager.GetToken(req.Context())
	if err != nil {
		return nil, err
	}

	// RoundTrippers must not mutate the caller's request.
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+token)
	return t.base().RoundTrip(clone)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}
