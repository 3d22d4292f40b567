package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicomweb-oauth-proxy/internal/common/errors"
)

const minimalConfig = `{
	"ConfigVersion": "2.0",
	"DicomWebOAuth": {
		"Servers": {
			"pacs": {
				"Url": "https://pacs.example.com/dicom-web",
				"TokenEndpoint": "https://idp.example.com/oauth2/token",
				"ClientId": "orthanc-client",
				"ClientSecret": "s3cret"
			}
		}
	}
}`

func TestParseServersAppliesDefaults(t *testing.T) {
	servers, err := ParseServers([]byte(minimalConfig))
	require.NoError(t, err)
	require.Contains(t, servers, "pacs")

	cfg := servers["pacs"]
	assert.Equal(t, 300, cfg.TokenRefreshBufferSeconds)
	assert.Equal(t, 30, cfg.RequestTimeoutSeconds)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 1, cfg.RetryBaseDelaySeconds)
	assert.Equal(t, 3600, cfg.TokenExpiryFallbackSeconds)
	assert.Equal(t, "auto", cfg.ProviderType)
	assert.True(t, cfg.TLSVerify())
	assert.False(t, cfg.ServeStaleOnFailure)

	assert.Equal(t, 5*time.Minute, cfg.RefreshBuffer())
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout())
	assert.Equal(t, time.Second, cfg.RetryBaseDelay())
	assert.Equal(t, time.Hour, cfg.TokenExpiryFallback())
}

func TestParseServersExplicitSettings(t *testing.T) {
	data := `{
		"ConfigVersion": "2.0",
		"DicomWebOAuth": {
			"Servers": {
				"research": {
					"Url": "https://research.example.com/dicom-web",
					"TokenEndpoint": "https://idp.example.com/oauth2/token",
					"ClientId": "research-client",
					"ClientSecret": "s3cret",
					"Scope": "dicomweb.read",
					"VerifySSL": false,
					"TokenRefreshBufferSeconds": 60,
					"MaxRetries": 5,
					"ProviderType": "generic",
					"ServeStaleOnFailure": true
				}
			}
		}
	}`

	servers, err := ParseServers([]byte(data))
	require.NoError(t, err)

	cfg := servers["research"]
	assert.Equal(t, "dicomweb.read", cfg.Scope)
	assert.False(t, cfg.TLSVerify())
	assert.Equal(t, time.Minute, cfg.RefreshBuffer())
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, "generic", cfg.ProviderType)
	assert.True(t, cfg.ServeStaleOnFailure)
}

func TestParseServersSubstitutesEnvVars(t *testing.T) {
	t.Setenv("PACS_CLIENT_SECRET", "from-env")

	data := `{
		"ConfigVersion": "2.0",
		"DicomWebOAuth": {
			"Servers": {
				"pacs": {
					"Url": "https://pacs.example.com/dicom-web",
					"TokenEndpoint": "https://idp.example.com/oauth2/token",
					"ClientId": "orthanc-client",
					"ClientSecret": "${PACS_CLIENT_SECRET}"
				}
			}
		}
	}`

	servers, err := ParseServers([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, "from-env", servers["pacs"].ClientSecret)
}

func TestParseServersFailsOnUnsetEnvVar(t *testing.T) {
	data := `{
		"ConfigVersion": "2.0",
		"DicomWebOAuth": {
			"Servers": {
				"pacs": {
					"Url": "https://pacs.example.com/dicom-web",
					"TokenEndpoint": "https://idp.example.com/oauth2/token",
					"ClientId": "orthanc-client",
					"ClientSecret": "${DEFINITELY_NOT_SET_VAR_12345}"
				}
			}
		}
	}`

	_, err := ParseServers([]byte(data))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
	assert.Contains(t, err.Error(), "DEFINITELY_NOT_SET_VAR_12345")
}

func TestParseServersMigratesV1(t *testing.T) {
	// No ConfigVersion field means a v1.0 file.
	data := `{
		"DicomWebOAuth": {
			"Servers": {
				"pacs": {
					"Url": "https://pacs.example.com/dicom-web",
					"TokenEndpoint": "https://idp.example.com/oauth2/token",
					"ClientId": "orthanc-client",
					"ClientSecret": "s3cret"
				}
			}
		}
	}`

	servers, err := ParseServers([]byte(data))
	require.NoError(t, err)

	cfg := servers["pacs"]
	assert.Equal(t, "auto", cfg.ProviderType)
	assert.Equal(t, 300, cfg.TokenRefreshBufferSeconds)
}

func TestParseServersMissingRequiredFields(t *testing.T) {
	cases := map[string]string{
		"missing Url": `{
			"DicomWebOAuth": {"Servers": {"pacs": {
				"TokenEndpoint": "https://idp.example.com/token",
				"ClientId": "id", "ClientSecret": "s"
			}}}
		}`,
		"missing TokenEndpoint": `{
			"DicomWebOAuth": {"Servers": {"pacs": {
				"Url": "https://pacs.example.com",
				"ClientId": "id", "ClientSecret": "s"
			}}}
		}`,
		"missing ClientId": `{
			"DicomWebOAuth": {"Servers": {"pacs": {
				"Url": "https://pacs.example.com",
				"TokenEndpoint": "https://idp.example.com/token",
				"ClientSecret": "s"
			}}}
		}`,
		"missing ClientSecret": `{
			"DicomWebOAuth": {"Servers": {"pacs": {
				"Url": "https://pacs.example.com",
				"TokenEndpoint": "https://idp.example.com/token",
				"ClientId": "id"
			}}}
		}`,
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseServers([]byte(data))
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
		})
	}
}

func TestParseServersStructuralErrors(t *testing.T) {
	_, err := ParseServers([]byte(`not json`))
	assert.Error(t, err)

	_, err = ParseServers([]byte(`{"ConfigVersion": "2.0"}`))
	assert.Error(t, err)

	_, err = ParseServers([]byte(`{"ConfigVersion": "2.0", "DicomWebOAuth": {}}`))
	assert.Error(t, err)

	_, err = ParseServers([]byte(`{"ConfigVersion": "2.0", "DicomWebOAuth": {"Servers": {}}}`))
	assert.Error(t, err)
}

func TestLoadServersFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.json")
	require.NoError(t, os.WriteFile(path, []byte(minimalConfig), 0o600))

	servers, err := LoadServers(path)
	require.NoError(t, err)
	assert.Contains(t, servers, "pacs")

	_, err = LoadServers(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
