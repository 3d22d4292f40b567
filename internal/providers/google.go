package providers

import (
	"strings"

	"dicomweb-oauth-proxy/internal/common/logging"
)

const googleTokenEndpoint = "https://oauth2.googleapis.com/token"

// GoogleProvider targets Google Cloud Healthcare API endpoints.
type GoogleProvider struct {
	*GenericProvider
}

// NewGoogle creates a provider for Google OAuth2. An empty token endpoint
// falls back to Google's well-known one, and a scope that does not cover the
// Healthcare API gets a startup warning.
func NewGoogle(creds Credentials, logger logging.Logger) *GoogleProvider {
	if creds.TokenEndpoint == "" {
		creds.TokenEndpoint = googleTokenEndpoint
	}
	if creds.Scope != "" && !strings.Contains(creds.Scope, "googleapis.com/auth/cloud-healthcare") {
		logger.Warn("scope may not work with Google Healthcare API",
			logging.String("scope", creds.Scope),
			logging.String("recommended_scope", "https://www.googleapis.com/auth/cloud-healthcare"),
		)
	}

	return &GoogleProvider{GenericProvider: NewGeneric(creds, logger)}
}

func (p *GoogleProvider) Name() string { return "google" }
