package auth

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ibeckermayer/tootrank/internal/config"
)

// ErrNotLoggedIn is returned when no usable credentials are stored.
var ErrNotLoggedIn = errors.New("not logged in")

// Credentials is the persisted login for one Mastodon account.
type Credentials struct {
	Instance    string    `json:"instance"`
	AccessToken string    `json:"access_token"`
	AccountID   string    `json:"account_id"`
	Username    string    `json:"username"`
	SavedAt     time.Time `json:"saved_at"`
}

// Store handles storage of the access token on disk
type Store struct {
	path string
}

// NewStore creates a credential store at the given path
func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultStorePath returns the default path for credential storage
func DefaultStorePath() (string, error) {
	configDir, err := config.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "credentials.json"), nil
}

// Save persists credentials, readable only by the current user.
// TODO: keep the token in the OS keychain instead of a plain file
func (s *Store) Save(creds Credentials) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	if creds.SavedAt.IsZero() {
		creds.SavedAt = time.Now()
	}
	creds.Instance = strings.TrimRight(creds.Instance, "/")

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0600)
}

// Load retrieves credentials from disk. A missing file is ErrNotLoggedIn.
func (s *Store) Load() (*Credentials, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotLoggedIn
		}
		return nil, err
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// IsValid reports whether stored credentials carry everything needed to act.
func (s *Store) IsValid() bool {
	creds, err := s.Load()
	if err != nil {
		return false
	}
	return creds.Instance != "" && creds.AccessToken != "" && creds.AccountID != ""
}

// Clear removes stored credentials. Clearing twice is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
