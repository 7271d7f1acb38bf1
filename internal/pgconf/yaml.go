package pgconf

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlConfig mirrors Config but with yaml tags, since mapstructure and
// yaml.v3 don't share a tag name and viper's own YAML path goes
// through mapstructure already — this is the explicit alternate
// loader for callers who want a Config without dragging viper's env
// var and multi-path search behavior along (cmd/pgflow's `--config`
// flag uses Load instead; nothing in cmd/pgflow calls LoadYAML).
type yamlConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Database        string `yaml:"database"`
	User            string `yaml:"user"`
	Password        string `yaml:"password,omitempty"`
	SSLMode         string `yaml:"sslmode"`
	ConnectTimeout  string `yaml:"connect_timeout"`
	ApplicationName string `yaml:"application_name"`
}

// LoadYAML reads a Config from a plain YAML file, independent of
// viper's config search path and env var layering.
func LoadYAML(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pgconf: reading %s: %w", path, err)
	}
	var y yamlConfig
	if err := yaml.Unmarshal(raw, &y); err != nil {
		return nil, fmt.Errorf("pgconf: parsing %s: %w", path, err)
	}
	cfg := &Config{
		Host:            y.Host,
		Port:            y.Port,
		Database:        y.Database,
		User:            y.User,
		Password:        y.Password,
		SSLMode:         y.SSLMode,
		ApplicationName: y.ApplicationName,
	}
	if y.ConnectTimeout != "" {
		d, err := time.ParseDuration(y.ConnectTimeout)
		if err != nil {
			return nil, fmt.Errorf("pgconf: connect_timeout: %w", err)
		}
		cfg.ConnectTimeout = d
	}
	return cfg, nil
}

// SaveYAML writes c out in the same shape LoadYAML reads, omitting
// the password so a checked-in export file doesn't leak a credential.
func SaveYAML(path string, c *Config) error {
	y := yamlConfig{
		Host:            c.Host,
		Port:            c.Port,
		Database:        c.Database,
		User:            c.User,
		SSLMode:         c.SSLMode,
		ConnectTimeout:  c.ConnectTimeout.String(),
		ApplicationName: c.ApplicationName,
	}
	out, err := yaml.Marshal(y)
	if err != nil {
		return fmt.Errorf("pgconf: marshaling config: %w", err)
	}
	return os.WriteFile(path, out, 0o600)
}
