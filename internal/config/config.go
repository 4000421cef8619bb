package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

type Config interface {
	EnvConfig
	ProviderConfig
	StorageConfig
	NavigationConfig
	Validate() error
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

type mainConfig struct {
	EnvVars
	Provider
	Storage
	Navigation
}

// New reads the configuration from the environment.
func New() (Config, error) {
	c := mainConfig{}
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return c, nil
}

// Validate checks the combinations env tags cannot express.
func (c mainConfig) Validate() error {
	var problems []string
	if !c.GetOffline() {
		if c.GetIssuerURL() == "" {
			problems = append(problems, "AUTH_ISSUER_URL is required")
		}
		if c.GetClientID() == "" {
			problems = append(problems, "AUTH_CLIENT_ID is required")
		}
	}
	switch c.GetStorageBackend() {
	case StorageBackendMemory:
	case StorageBackendFile, StorageBackendSQLite:
		if c.GetDeviceSecret() == "" {
			problems = append(problems, "DEVICE_SECRET is required for persistent storage")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown STORAGE_BACKEND %q", c.GetStorageBackend()))
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
