package pgconf

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/jackc/pgpassfile"
)

// defaultPassfilePath mirrors libpq's own search: $PGPASSFILE, else
// ~/.pgpass (%APPDATA%\postgresql\pgpass.conf on Windows, which this
// client does not target).
func defaultPassfilePath() string {
	if p := os.Getenv("PGPASSFILE"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".pgpass")
}

// LoadPassfile reads a .pgpass file and looks up the password for the
// given host/port/database/user, returning "" (not an error) if the
// file is absent or has no matching line — a missing passfile just
// means this fallback contributes nothing.
func LoadPassfile(path, host, port, database, user string) (string, error) {
	if path == "" {
		path = defaultPassfilePath()
	}
	if path == "" {
		return "", nil
	}
	if _, err := os.Stat(path); err != nil {
		return "", nil
	}
	pf, err := pgpassfile.ReadPassfile(path)
	if err != nil {
		return "", err
	}
	return pf.FindPassword(host, port, database, user), nil
}

// ResolvePassword fills in c.Password from .pgpass when the config
// left it blank, per libpq's PGPASSFILE fallback behavior.
func (c *Config) ResolvePassword(passfilePath string) error {
	if c.Password != "" {
		return nil
	}
	pw, err := LoadPassfile(passfilePath, c.Host, strconv.Itoa(c.Port), c.Database, c.User)
	if err != nil {
		return err
	}
	c.Password = pw
	return nil
}
