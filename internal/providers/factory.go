package providers

import (
	"fmt"
	"strings"

	"dicomweb-oauth-proxy/internal/common/errors"
	"dicomweb-oauth-proxy/internal/common/logging"
	"dicomweb-oauth-proxy/internal/config"
	"dicomweb-oauth-proxy/internal/tokens"
)

// Detect infers the provider type from the token endpoint URL. Keycloak
// realms and AWS Cognito domains are detected but handled by the generic
// provider, since both speak the standard exchange.
func Detect(tokenEndpoint string) string {
	switch {
	case strings.Contains(tokenEndpoint, "login.microsoftonline.com"):
		return "azure"
	case strings.Contains(tokenEndpoint, "oauth2.googleapis.com"):
		return "google"
	case strings.Contains(tokenEndpoint, "/auth/realms/"):
		return "generic"
	case strings.Contains(tokenEndpoint, "amazonaws.com"):
		return "generic"
	default:
		return "generic"
	}
}

// New builds the provider for a server configuration, resolving "auto" via
// Detect.
func New(cfg *config.ServerConfig, logger logging.Logger) (tokens.Provider, error) {
	creds := Credentials{
		TokenEndpoint:  cfg.TokenEndpoint,
		ClientID:       cfg.ClientId,
		ClientSecret:   cfg.ClientSecret,
		Scope:          cfg.Scope,
		TLSVerify:      cfg.TLSVerify(),
		RequestTimeout: cfg.RequestTimeout(),
	}

	providerType := cfg.ProviderType
	if providerType == "" || providerType == "auto" {
		providerType = Detect(cfg.TokenEndpoint)
		logger.Debug("auto-detected provider type",
			logging.String("provider_type", providerType),
			logging.String("token_endpoint", cfg.TokenEndpoint),
		)
	}

	switch providerType {
	case "generic":
		return NewGeneric(creds, logger), nil
	case "azure":
		return NewAzure(creds, logger), nil
	case "google":
		return NewGoogle(creds, logger), nil
	case "managed_identity":
		return NewManagedIdentity(creds, logger), nil
	default:
		return nil, errors.ConfigError(fmt.Sprintf(
			"unknown provider type %q (supported: generic, azure, google, managed_identity)",
			providerType))
	}
}
