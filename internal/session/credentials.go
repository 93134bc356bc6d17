package session

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Credentials are the only two values this client persists across
// restarts: the bearer token and the private key PEM issued at signup.
// The private key never leaves the local machine.
type Credentials struct {
	Token      string `toml:"token"`
	PrivateKey string `toml:"private_key"`
}

// LoadCredentials reads the account's stored credentials. A missing file
// is not an error; it yields empty credentials (signed out).
func LoadCredentials(path string) (*Credentials, error) {
	var creds Credentials
	if _, err := toml.DecodeFile(path, &creds); err != nil {
		if os.IsNotExist(err) {
			return &Credentials{}, nil
		}
		return nil, err
	}
	return &creds, nil
}

// SaveCredentials writes credentials with owner-only permissions.
func SaveCredentials(path string, creds *Credentials) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(creds)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// ClearCredentials removes the stored credentials (logout). Missing file
// is a no-op.
func ClearCredentials(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// SignedIn reports whether a usable token is present.
func (c *Credentials) SignedIn() bool {
	return c != nil && c.Token != ""
}
