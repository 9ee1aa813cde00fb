package backend

import (
	"fmt"

	"allowance/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}

	return Config{
		Type: backendType,

		UpstreamAPIURL:  appConfig.UpstreamAPIURL,
		UpstreamTimeout: appConfig.UpstreamTimeout,
		UpstreamRetries: appConfig.UpstreamRetries,

		SQLiteDBPath: appConfig.SQLiteDBPath,

		DataDirectory:   appConfig.DataDirectory,
		LocalAuthSecret: appConfig.LocalAuthSecret,
		TokenTTL:        appConfig.SessionTTL,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case RemoteBackend:
		if c.UpstreamAPIURL == "" {
			return fmt.Errorf("upstream API URL is required for remote backend")
		}
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("SQLite database path is required for sqlite backend")
		}
		fallthrough
	case MemoryBackend:
		if c.LocalAuthSecret == "" {
			return fmt.Errorf("local auth secret is required for %s backend", c.Type)
		}
	}
	return nil
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	return []string{RemoteBackend.String(), SQLiteBackend.String(), MemoryBackend.String()}
}
