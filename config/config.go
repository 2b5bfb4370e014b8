// Package config loads the proxy's process-wide settings and path-scoped
// rewrite rules. Both are read once at startup and held as immutable values
// for the process lifetime; a SIGHUP-driven reload swaps the rule set
// atomically (see main).
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/ddevcap/sso-adapter/proxyerr"
)

// UseMode selects which of the two operating modes the proxy runs under.
type UseMode string

const (
	ModeProxy  UseMode = "proxy"
	ModeNormal UseMode = "normal"
)

// AppSettings is the process-wide, read-only-after-load configuration.
// Each field's env var name is the SSO_ADAPTER_ prefix followed by its
// upper-case caarlos0/env struct tag (e.g. SSO_ADAPTER_DIFY_URL).
type AppSettings struct {
	// DifyURL is the absolute URL of the primary upstream.
	DifyURL string `env:"DIFY_URL"`
	// SSOURL is the absolute URL of the secondary upstream. Required iff Mode == Normal.
	SSOURL string `env:"SSO_URL"`
	// ConfigPath is the location of the rule file.
	ConfigPath string `env:"CONFIG_PATH" envDefault:"config.yaml"`
	// Mode selects Proxy or Normal operation.
	Mode UseMode `env:"USE_MODE" envDefault:"proxy"`
	// DifyHost is matched against the inbound URI host to distinguish
	// inbound from outbound requests in Proxy mode. Required iff Mode == Proxy.
	DifyHost string `env:"DIFY_HOST"`
	// SelfHost is the hostname this service advertises in Normal mode,
	// used to rewrite the Host response header.
	SelfHost string `env:"SELF_HOST"`
	// AuditDBPath is the embedded SQLite file the audit log writes to.
	AuditDBPath string `env:"AUDIT_DB_PATH" envDefault:"sso-adapter-audit.db"`
	// MetricsAddr is the address the Prometheus /metrics endpoint binds to.
	// Empty disables the metrics server.
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
	// ListenAddr is the address the proxy's single catch-all handler binds to.
	ListenAddr string `env:"LISTEN_ADDR" envDefault:"0.0.0.0:8080"`
}

// Load pre-loads a `.env` file from the working directory if present, parses
// AppSettings from the environment, and validates the fields required by the
// active mode.
func Load() (AppSettings, error) {
	_ = godotenv.Load() // best-effort: absent .env is not an error

	settings, err := env.ParseAsWithOptions[AppSettings](env.Options{Prefix: "SSO_ADAPTER_"})
	if err != nil {
		return AppSettings{}, fmt.Errorf("config: %w", err)
	}

	if err := settings.validate(); err != nil {
		return AppSettings{}, err
	}
	return settings, nil
}

func (s AppSettings) validate() error {
	switch s.Mode {
	case ModeNormal:
		if s.SSOURL == "" {
			return proxyerr.ConfigurationMissing("SSO URL must be provided in Normal mode")
		}
	case ModeProxy:
		if s.DifyHost == "" {
			return proxyerr.ConfigurationMissing("Dify Host must be provided in Proxy mode")
		}
	default:
		return proxyerr.ConfigurationMissing("use_mode must be %q or %q, got %q", ModeProxy, ModeNormal, s.Mode)
	}
	if s.DifyURL == "" {
		return proxyerr.ConfigurationMissing("Dify URL must always be provided")
	}
	return nil
}
