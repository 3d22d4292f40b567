package providers

import (
	"strings"

	"dicomweb-oauth-proxy/internal/common/logging"
)

// AzureProvider targets Azure AD (Entra ID). The exchange itself is the
// standard client-credentials flow; this type exists so the factory can apply
// Azure conventions and so logs name the provider accurately.
type AzureProvider struct {
	*GenericProvider
}

// NewAzure creates a provider for an Azure AD v2.0 token endpoint. Azure
// requires an application scope ending in /.default for the client
// credentials flow, so a missing or unusual scope gets a startup warning
// rather than a confusing 400 at first acquisition.
func NewAzure(creds Credentials, logger logging.Logger) *AzureProvider {
	if creds.Scope == "" {
		logger.Warn("Azure client credentials flow requires a scope ending in /.default",
			logging.String("token_endpoint", creds.TokenEndpoint))
	} else if !strings.HasSuffix(creds.Scope, "/.default") {
		logger.Warn("scope does not end in /.default, Azure may reject the exchange",
			logging.String("scope", creds.Scope))
	}

	return &AzureProvider{GenericProvider: NewGeneric(creds, logger)}
}

func (p *AzureProvider) Name() string { return "azure" }
