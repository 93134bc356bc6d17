// Package session manages per-account state on disk: directory layout,
// the persisted credentials, and account name resolution.
package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.chatbox.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatbox")
}

// Dir returns the account-specific directory.
func Dir(account string) string {
	return filepath.Join(BaseDir(), "accounts", account)
}

// CredentialsPath returns the account's credentials file path.
func CredentialsPath(account string) string {
	return filepath.Join(Dir(account), "credentials.toml")
}

// CacheDBPath returns the account's local history cache path.
func CacheDBPath(account string) string {
	return filepath.Join(Dir(account), "cache.db")
}

// LockPath returns the account's lock file path.
func LockPath(account string) string {
	return filepath.Join(Dir(account), "LOCK")
}

// LogDir returns the log directory for an account.
func LogDir(account string) string {
	return filepath.Join(Dir(account), "logs")
}

// LogPath returns the client log file path.
func LogPath(account string) string {
	return filepath.Join(LogDir(account), "chatbox.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the account directory tree with owner-only permissions.
func EnsureDir(account string) error {
	for _, d := range []string{Dir(account), LogDir(account)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
