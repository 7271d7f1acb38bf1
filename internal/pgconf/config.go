// Package pgconf loads connection configuration the way libpq-derived
// clients do: defaults, overridden by a config file, overridden by
// PGFLOW_* environment variables, overridden by explicit flags — with
// a password that falls back to .pgpass/pg_service.conf when the
// config itself leaves it blank, exactly as §7's "Config & connection
// setup is an external collaborator, not part of either state
// machine" describes.
package pgconf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved set of parameters Connect needs to open and
// authenticate a connection. Field names mirror libpq's keyword/value
// connection parameters rather than the wire protocol's own names.
type Config struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	Database           string        `mapstructure:"database"`
	User               string        `mapstructure:"user"`
	Password           string        `mapstructure:"password"`
	SSLMode            string        `mapstructure:"sslmode"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	ApplicationName    string        `mapstructure:"application_name"`
}

// SSLMode values this client understands. "require"/"verify-ca"/
// "verify-full" all negotiate TLS; "disable" skips SSLRequest
// entirely. "prefer" (the default) is accepted, but Connect sends an
// SSLRequest only when RequireTLS is true, so under "prefer" no TLS is
// attempted and the connection is plaintext.
const (
	SSLDisable    = "disable"
	SSLPrefer     = "prefer"
	SSLRequire    = "require"
	SSLVerifyCA   = "verify-ca"
	SSLVerifyFull = "verify-full"
)

// DefaultConfig mirrors libpq's own defaults for the parameters it
// falls back on when nothing else supplies them.
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		User:            currentOSUser(),
		SSLMode:         SSLPrefer,
		ConnectTimeout:  10 * time.Second,
		ApplicationName: "pgflow",
	}
}

func currentOSUser() string {
	if u := os.Getenv("PGUSER"); u != "" {
		return u
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "postgres"
}

func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pgflow"
	}
	return filepath.Join(home, ".pgflow")
}

// DefaultConfigPath is where `pgflow connect --save` writes absent an
// explicit --config path.
func DefaultConfigPath() (string, error) {
	dir := defaultConfigDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("pgconf: creating %s: %w", dir, err)
	}
	return filepath.Join(dir, "pgflow.yaml"), nil
}

// Load resolves a Config from (in ascending priority) built-in
// defaults, a config file, and PGFLOW_* environment variables. A
// password left blank after all of that is filled in from .pgpass by
// ResolvePassword, which the caller runs last, since password
// resolution needs the other fields first (pg_service.conf entries are
// applied separately by ApplyService).
func Load(configPath string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("host", defaults.Host)
	v.SetDefault("port", defaults.Port)
	v.SetDefault("user", defaults.User)
	v.SetDefault("sslmode", defaults.SSLMode)
	v.SetDefault("connect_timeout", defaults.ConnectTimeout)
	v.SetDefault("application_name", defaults.ApplicationName)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("pgflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(defaultConfigDir())
		v.AddConfigPath("/etc/pgflow")
	}

	v.SetEnvPrefix("pgflow")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("pgconf: reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("pgconf: parsing config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the fields Connect can't do anything useful
// without.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("pgconf: host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("pgconf: port %d out of range", c.Port)
	}
	if c.User == "" {
		return fmt.Errorf("pgconf: user is required")
	}
	switch c.SSLMode {
	case SSLDisable, SSLPrefer, SSLRequire, SSLVerifyCA, SSLVerifyFull:
	default:
		return fmt.Errorf("pgconf: unrecognized sslmode %q", c.SSLMode)
	}
	return nil
}

// RequireTLS reports whether SSLMode demands a successful TLS
// negotiation rather than merely preferring one.
func (c *Config) RequireTLS() bool {
	switch c.SSLMode {
	case SSLRequire, SSLVerifyCA, SSLVerifyFull:
		return true
	default:
		return false
	}
}

// WantsTLS reports whether SSLMode is anything other than "disable".
// Connect does not consult it; it decides on SSLRequest by RequireTLS.
func (c *Config) WantsTLS() bool {
	return c.SSLMode != SSLDisable
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
