// Package config provides configuration management for the DICOMweb OAuth
// proxy. Process-level settings come from environment variables with sensible
// defaults; the per-server OAuth configuration comes from a JSON file
// (see servers.go) with environment-variable substitution for secrets.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - SERVERS_CONFIG_PATH: Path to the JSON server configuration file
//     (default: ./servers.json)
//
// Redis Configuration (optional shared token cache):
//   - REDIS_ADDRESS: Redis server address; empty disables the shared cache
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Security Configuration:
//   - SECRETS_ENCRYPTION_KEY: Passphrase for decrypting enc:-prefixed client
//     secrets in the server configuration file
//   - TLS_CERT_FILE, TLS_KEY_FILE: Serve the monitoring and proxy endpoints
//     over TLS when both are set
//
// Rate Limiting:
//   - RATE_LIMIT_ENABLED: Enable rate limiting (default: true)
//   - RATE_LIMIT_PER_MINUTE: Requests allowed per minute per key (default: 60)
//   - RATE_LIMIT_BURST: Burst size (default: 10)
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds process-level configuration loaded from the environment.
// Call Validate before use.
type Config struct {
	// Application settings
	Port              string // Server port number
	LogLevel          string // Logging level (debug, info, warn, error)
	ServersConfigPath string // Path to the JSON server configuration file

	// Redis configuration for the optional shared token cache
	RedisAddress  string // Redis server address (host:port); empty disables Redis
	RedisPassword string // Redis authentication password
	RedisDB       string // Redis database number (0-15)
	RedisPoolSize string // Redis connection pool size

	// Rate limiting configuration
	RateLimitEnabled   bool   // Whether rate limiting is enabled
	RateLimitPerMinute string // Requests allowed per minute per key
	RateLimitBurst     string // Burst size per key

	// Encryption configuration
	EncryptionKey string // Passphrase for decrypting enc:-prefixed client secrets

	// TLS configuration for the listener; both empty means plain HTTP
	TLSCertFile string
	TLSKeyFile  string
}

// Load creates a Config from environment variables, falling back to defaults
// for anything unset. It does not validate; call Validate on the result.
func Load() *Config {
	return &Config{
		Port:              getEnv("PORT", "8080"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ServersConfigPath: getEnv("SERVERS_CONFIG_PATH", "./servers.json"),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),

		RateLimitEnabled:   getBoolEnv("RATE_LIMIT_ENABLED", true),
		RateLimitPerMinute: getEnv("RATE_LIMIT_PER_MINUTE", "60"),
		RateLimitBurst:     getEnv("RATE_LIMIT_BURST", "10"),

		EncryptionKey: getEnv("SECRETS_ENCRYPTION_KEY", ""),

		TLSCertFile: getEnv("TLS_CERT_FILE", ""),
		TLSKeyFile:  getEnv("TLS_KEY_FILE", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate checks field formats and ranges. The application should call this
// after Load and before starting.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	if c.ServersConfigPath == "" {
		return fmt.Errorf("SERVERS_CONFIG_PATH cannot be empty")
	}

	if c.RedisAddress != "" {
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	}

	if c.RateLimitEnabled {
		if limit, err := strconv.Atoi(c.RateLimitPerMinute); err != nil || limit < 1 {
			return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be a positive number")
		}
		if burst, err := strconv.Atoi(c.RateLimitBurst); err != nil || burst < 1 {
			return fmt.Errorf("RATE_LIMIT_BURST must be a positive number")
		}
	}

	return nil
}
