package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// DefaultJWTIssuer is used when JWT_ISSUER is not set.
const DefaultJWTIssuer = "web2pdf"

// DefaultJWTExpirationHours is the token lifetime when JWT_EXPIRATION_HOURS is not set.
const DefaultJWTExpirationHours = 24

// JWTConfig holds the shared secret used to validate bearer tokens and to mint them with
// the token command.
type JWTConfig struct {
	Secret          string
	Issuer          string
	ExpirationHours int
}

// NewJWTConfig reads JWT_SECRET (required), JWT_ISSUER and JWT_EXPIRATION_HOURS from the
// process environment.
func NewJWTConfig() (*JWTConfig, error) {
	return LoadJWTConfig(os.Getenv)
}

// LoadJWTConfig is NewJWTConfig with the variables read through getenv.
func LoadJWTConfig(getenv func(string) string) (*JWTConfig, error) {
	cfg := &JWTConfig{
		Secret:          getenv("JWT_SECRET"),
		Issuer:          getenv("JWT_ISSUER"),
		ExpirationHours: DefaultJWTExpirationHours,
	}
	if cfg.Secret == "" {
		return nil, errors.New("JWT_SECRET is required but not set")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultJWTIssuer
	}

	if raw := getenv("JWT_EXPIRATION_HOURS"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid JWT_EXPIRATION_HOURS: %w", err)
		}
		if hours < 1 {
			return nil, fmt.Errorf("JWT_EXPIRATION_HOURS must be at least 1 hour, got: %d", hours)
		}
		cfg.ExpirationHours = hours
	}
	return cfg, nil
}

// Expiration returns the token lifetime.
func (c *JWTConfig) Expiration() time.Duration {
	return time.Duration(c.ExpirationHours) * time.Hour
}
