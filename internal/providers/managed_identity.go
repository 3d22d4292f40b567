package providers

import (
	"context"
	"io"
	"net/http"
	"strings"

	"dicomweb-oauth-proxy/internal/common/errors"
	"dicomweb-oauth-proxy/internal/common/logging"
	"dicomweb-oauth-proxy/internal/tokens"
)

const (
	// imdsEndpoint is Azure's instance metadata service, reachable only
	// from inside an Azure VM or container with a managed identity.
	imdsEndpoint      = "http://169.254.169.254/metadata/identity/oauth2/token"
	imdsAPIVersion    = "2018-02-01"
	defaultDicomScope = "https://dicom.healthcareapis.azure.com/.default"
)

// ManagedIdentityProvider acquires tokens from Azure IMDS without any client
// secret. The identity is attached to the compute resource itself, so the
// exchange is a plain GET with a marker header.
type ManagedIdentityProvider struct {
	endpoint string
	resource string
	client   *http.Client
	logger   logging.Logger
}

// NewManagedIdentity creates an IMDS-backed provider. The credentials' scope
// (defaulting to the Azure DICOM service) is converted to an IMDS resource by
// stripping the /.default suffix. A configured token endpoint overrides the
// IMDS address, which tests rely on.
func NewManagedIdentity(creds Credentials, logger logging.Logger) *ManagedIdentityProvider {
	scope := creds.Scope
	if scope == "" {
		scope = defaultDicomScope
	}
	endpoint := creds.TokenEndpoint
	if endpoint == "" {
		endpoint = imdsEndpoint
	}

	return &ManagedIdentityProvider{
		endpoint: endpoint,
		resource: strings.TrimSuffix(scope, "/.default"),
		client:   newHTTPClient(creds),
		logger:   logger,
	}
}

func (p *ManagedIdentityProvider) Name() string { return "managed_identity" }

func (p *ManagedIdentityProvider) Acquire(ctx context.Context) (*tokens.Grant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return nil, errors.ProtocolError("invalid IMDS endpoint", err)
	}

	q := req.URL.Query()
	q.Set("api-version", imdsAPIVersion)
	q.Set("resource", p.resource)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Metadata", "true")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.TransportError("IMDS unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.TransportError("reading IMDS response failed", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.RejectionError(resp.StatusCode, string(body))
	}

	return parseGrant(body)
}
