package pgconf

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jackc/pgservicefile"
)

func defaultServicefilePath() string {
	if p := os.Getenv("PGSERVICEFILE"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".pg_service.conf")
}

// LoadServiceFile resolves a named [service] section from
// pg_service.conf into a partial Config, applying only the fields the
// section actually sets (an empty Config field means "not set here",
// so ApplyService never clobbers a value the caller already supplied).
func LoadServiceFile(path, service string) (*Config, error) {
	if path == "" {
		path = defaultServicefilePath()
	}
	if path == "" || service == "" {
		return &Config{}, nil
	}
	if _, err := os.Stat(path); err != nil {
		return &Config{}, nil
	}
	sf, err := pgservicefile.ReadServicefile(path)
	if err != nil {
		return nil, fmt.Errorf("pgconf: reading service file: %w", err)
	}
	svc, err := sf.GetService(service)
	if err != nil {
		return nil, fmt.Errorf("pgconf: service %q: %w", service, err)
	}

	cfg := &Config{}
	for key, value := range svc.Settings {
		switch key {
		case "host", "hostaddr":
			cfg.Host = value
		case "port":
			if p, err := strconv.Atoi(value); err == nil {
				cfg.Port = p
			}
		case "dbname":
			cfg.Database = value
		case "user":
			cfg.User = value
		case "password":
			cfg.Password = value
		case "sslmode":
			cfg.SSLMode = value
		case "application_name":
			cfg.ApplicationName = value
		}
	}
	return cfg, nil
}

// ApplyService merges non-empty fields from a service-file Config
// into c, leaving anything c already set untouched.
func (c *Config) ApplyService(svc *Config) {
	if svc == nil {
		return
	}
	if c.Host == "" {
		c.Host = svc.Host
	}
	if c.Port == 0 {
		c.Port = svc.Port
	}
	if c.Database == "" {
		c.Database = svc.Database
	}
	if c.User == "" {
		c.User = svc.User
	}
	if c.Password == "" {
		c.Password = svc.Password
	}
	if c.SSLMode == "" {
		c.SSLMode = svc.SSLMode
	}
	if c.ApplicationName == "" {
		c.ApplicationName = svc.ApplicationName
	}
}
