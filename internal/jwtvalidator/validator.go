// Package jwtvalidator optionally verifies acquired access tokens before they
// are attached to outbound requests. Some identity providers issue opaque
// tokens, so validation only runs when a server is configured with the
// provider's signing key.
package jwtvalidator

import (
	"crypto/rsa"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"dicomweb-oauth-proxy/internal/common/errors"
)

type Config struct {
	// PublicKeyPEM is the RSA public key the provider signs tokens with.
	// Empty disables validation.
	PublicKeyPEM string `json:"public_key_pem"`
	Issuer       string `json:"issuer"`
	Audience     string `json:"audience"`
	// Leeway tolerates small clock skew in exp/nbf checks.
	Leeway time.Duration `json:"leeway"`
}

type Validator struct {
	key      *rsa.PublicKey
	issuer   string
	audience string
	leeway   time.Duration
}

// New builds a Validator from cfg. A nil result with nil error means
// validation is disabled.
func New(cfg Config) (*Validator, error) {
	if cfg.PublicKeyPEM == "" {
		return nil, nil
	}

	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
	if err != nil {
		return nil, errors.ConfigError("invalid JWT public key: " + err.Error())
	}

	leeway := cfg.Leeway
	if leeway == 0 {
		leeway = 30 * time.Second
	}

	return &Validator{
		key:      key,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		leeway:   leeway,
	}, nil
}

// Validate verifies signature, expiry, not-before, and the configured issuer
// and audience. It returns a protocol-class error on any mismatch, since a
// provider handing out invalid tokens is a provider misbehavior.
func (v *Validator) Validate(tokenValue string) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	_, err := jwt.Parse(tokenValue, func(token *jwt.Token) (interface{}, error) {
		return v.key, nil
	}, opts...)
	if err != nil {
		return errors.ProtocolError("token failed validation", err)
	}
	return nil
}
