package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"dicomweb-oauth-proxy/internal/common/errors"
	"dicomweb-oauth-proxy/internal/common/logging"
)

// CurrentConfigVersion is the server-config schema version this build writes
// and migrates older files to.
const CurrentConfigVersion = "2.0"

// ServerConfig is the OAuth configuration for one upstream DICOMweb server.
// Field names match the JSON configuration file.
type ServerConfig struct {
	// Url is the base URL of the protected DICOMweb endpoint.
	Url string `json:"Url"`
	// TokenEndpoint is the identity provider's token URL.
	TokenEndpoint string `json:"TokenEndpoint"`
	ClientId      string `json:"ClientId"`
	ClientSecret  string `json:"ClientSecret"`
	Scope         string `json:"Scope,omitempty"`

	// VerifySSL defaults to true; nil means unset.
	VerifySSL *bool `json:"VerifySSL,omitempty"`

	TokenRefreshBufferSeconds  int `json:"TokenRefreshBufferSeconds,omitempty"`
	RequestTimeoutSeconds      int `json:"RequestTimeoutSeconds,omitempty"`
	MaxRetries                 int `json:"MaxRetries,omitempty"`
	RetryBaseDelaySeconds      int `json:"RetryBaseDelaySeconds,omitempty"`
	TokenExpiryFallbackSeconds int `json:"TokenExpiryFallbackSeconds,omitempty"`

	// ProviderType selects the identity provider strategy: "auto",
	// "generic", "azure", "google", or "managed_identity".
	ProviderType string `json:"ProviderType,omitempty"`

	// ServeStaleOnFailure returns the last cached token when acquisition
	// fails and the token is past its refresh buffer but not hard-expired.
	ServeStaleOnFailure bool `json:"ServeStaleOnFailure,omitempty"`

	// Optional JWT validation of acquired tokens.
	JWTPublicKeyPEM string `json:"JWTPublicKeyPEM,omitempty"`
	JWTIssuer       string `json:"JWTIssuer,omitempty"`
	JWTAudience     string `json:"JWTAudience,omitempty"`
}

// RefreshBuffer returns the freshness safety margin as a duration.
func (s *ServerConfig) RefreshBuffer() time.Duration {
	return time.Duration(s.TokenRefreshBufferSeconds) * time.Second
}

// RequestTimeout returns the per-attempt HTTP timeout.
func (s *ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

// RetryBaseDelay returns the base backoff delay.
func (s *ServerConfig) RetryBaseDelay() time.Duration {
	return time.Duration(s.RetryBaseDelaySeconds) * time.Second
}

// TokenExpiryFallback returns the lifetime assumed when the provider omits
// expires_in.
func (s *ServerConfig) TokenExpiryFallback() time.Duration {
	return time.Duration(s.TokenExpiryFallbackSeconds) * time.Second
}

// TLSVerify resolves the VerifySSL tri-state to its effective value.
func (s *ServerConfig) TLSVerify() bool {
	return s.VerifySSL == nil || *s.VerifySSL
}

// Validate checks the required credential fields. It runs before any token
// manager is constructed, so a bad server entry fails startup instead of
// failing the first proxied request.
func (s *ServerConfig) Validate(name string) error {
	if s.Url == "" {
		return errors.ConfigError(fmt.Sprintf("server %q: missing required field Url", name))
	}

	// Managed identity gets its credentials from the Azure compute
	// resource, so the client fields do not apply.
	if s.ProviderType != "managed_identity" {
		if s.TokenEndpoint == "" {
			return errors.ConfigError(fmt.Sprintf("server %q: missing required field TokenEndpoint", name))
		}
		if s.ClientId == "" {
			return errors.ConfigError(fmt.Sprintf("server %q: missing required field ClientId", name))
		}
		if s.ClientSecret == "" {
			return errors.ConfigError(fmt.Sprintf("server %q: missing required field ClientSecret", name))
		}
	}
	if s.MaxRetries < 1 {
		return errors.ConfigError(fmt.Sprintf("server %q: MaxRetries must be at least 1", name))
	}
	return nil
}

func (s *ServerConfig) applyDefaults() {
	if s.TokenRefreshBufferSeconds == 0 {
		s.TokenRefreshBufferSeconds = 300
	}
	if s.RequestTimeoutSeconds == 0 {
		s.RequestTimeoutSeconds = 30
	}
	if s.MaxRetries == 0 {
		s.MaxRetries = 3
	}
	if s.RetryBaseDelaySeconds == 0 {
		s.RetryBaseDelaySeconds = 1
	}
	if s.TokenExpiryFallbackSeconds == 0 {
		s.TokenExpiryFallbackSeconds = 3600
	}
	if s.ProviderType == "" {
		s.ProviderType = "auto"
	}
}

// LoadServers reads and parses the JSON server configuration file at path.
func LoadServers(path string) (map[string]*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("cannot read server config %s: %v", path, err))
	}
	return ParseServers(data)
}

// ParseServers parses raw JSON server configuration. Older config versions
// are migrated in place, ${VAR} references are substituted from the
// environment, defaults are applied, and every server entry is validated.
func ParseServers(data []byte) (map[string]*ServerConfig, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.ConfigError("server config is not valid JSON: " + err.Error())
	}

	raw = migrateConfig(raw)

	section, ok := raw["DicomWebOAuth"].(map[string]interface{})
	if !ok {
		return nil, errors.ConfigError("missing DicomWebOAuth section in configuration")
	}
	serversRaw, ok := section["Servers"].(map[string]interface{})
	if !ok {
		return nil, errors.ConfigError("missing Servers section in DicomWebOAuth configuration")
	}
	if len(serversRaw) == 0 {
		return nil, errors.ConfigError("no servers configured under DicomWebOAuth.Servers")
	}

	servers := make(map[string]*ServerConfig, len(serversRaw))
	for name, value := range serversRaw {
		entry, ok := value.(map[string]interface{})
		if !ok {
			return nil, errors.ConfigError(fmt.Sprintf("server %q: entry must be an object", name))
		}

		substituted, err := substituteEnvVars(entry)
		if err != nil {
			return nil, err
		}

		encoded, err := json.Marshal(substituted)
		if err != nil {
			return nil, errors.ConfigError(fmt.Sprintf("server %q: %v", name, err))
		}

		var cfg ServerConfig
		if err := json.Unmarshal(encoded, &cfg); err != nil {
			return nil, errors.ConfigError(fmt.Sprintf("server %q: %v", name, err))
		}

		cfg.applyDefaults()
		if err := cfg.Validate(name); err != nil {
			return nil, err
		}

		servers[name] = &cfg
	}

	return servers, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR} references in string values. A reference
// to an unset variable is a hard configuration error, not an empty string: a
// silently empty client secret would fail much later with a confusing 401.
func substituteEnvVars(entry map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(entry))
	for key, value := range entry {
		str, ok := value.(string)
		if !ok {
			out[key] = value
			continue
		}

		var substErr error
		expanded := envVarPattern.ReplaceAllStringFunc(str, func(match string) string {
			varName := envVarPattern.FindStringSubmatch(match)[1]
			val, present := os.LookupEnv(varName)
			if !present {
				substErr = errors.ConfigError(fmt.Sprintf(
					"environment variable %q referenced in config but not set", varName))
				return match
			}
			return val
		})
		if substErr != nil {
			return nil, substErr
		}
		out[key] = expanded
	}
	return out, nil
}

// detectConfigVersion reads the explicit ConfigVersion field; files written
// before versioning count as 1.0.
func detectConfigVersion(raw map[string]interface{}) string {
	if v, ok := raw["ConfigVersion"].(string); ok {
		return v
	}
	return "1.0"
}

// migrateConfig upgrades older configuration layouts to the current version.
func migrateConfig(raw map[string]interface{}) map[string]interface{} {
	version := detectConfigVersion(raw)
	if version == CurrentConfigVersion {
		return raw
	}

	if version == "1.0" {
		raw = migrateV1ToV2(raw)
		logging.Info("migrated server configuration",
			logging.String("from_version", "1.0"),
			logging.String("to_version", CurrentConfigVersion),
		)
	}

	return raw
}

// migrateV1ToV2 adds the fields v2.0 introduced: the version marker, the
// ProviderType strategy selector, and an explicit refresh buffer.
func migrateV1ToV2(raw map[string]interface{}) map[string]interface{} {
	raw["ConfigVersion"] = "2.0"

	section, ok := raw["DicomWebOAuth"].(map[string]interface{})
	if !ok {
		return raw
	}
	servers, ok := section["Servers"].(map[string]interface{})
	if !ok {
		return raw
	}

	for _, value := range servers {
		entry, ok := value.(map[string]interface{})
		if !ok {
			continue
		}
		if _, present := entry["ProviderType"]; !present {
			entry["ProviderType"] = "auto"
		}
		if _, present := entry["TokenRefreshBufferSeconds"]; !present {
			entry["TokenRefreshBufferSeconds"] = 300
		}
	}

	return raw
}
