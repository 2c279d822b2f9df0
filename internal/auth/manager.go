package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/ibeckermayer/tootrank/internal/types"
)

// Verifier confirms an access token and reports whose it is.
type Verifier interface {
	VerifyCredentials(ctx context.Context) (*types.Account, error)
}

// VerifierFunc builds a Verifier for an instance and token.
type VerifierFunc func(instance, token string) Verifier

// Manager handles Mastodon authentication
type Manager struct {
	store     *Store
	newClient VerifierFunc
}

// NewManager creates a new auth manager
func NewManager(store *Store, newClient VerifierFunc) *Manager {
	return &Manager{store: store, newClient: newClient}
}

// IsAuthenticated checks if we have valid stored credentials
func (m *Manager) IsAuthenticated() bool {
	return m.store.IsValid()
}

// Login checks token against the instance and stores it together with the
// account it belongs to.
func (m *Manager) Login(ctx context.Context, instance, token string) (*Credentials, error) {
	instance = strings.TrimRight(strings.TrimSpace(instance), "/")
	token = strings.TrimSpace(token)
	if instance == "" || token == "" {
		return nil, fmt.Errorf("instance and access token are required")
	}

	acct, err := m.newClient(instance, token).VerifyCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to verify credentials: %w", err)
	}

	creds := Credentials{
		Instance:    instance,
		AccessToken: token,
		AccountID:   acct.ID,
		Username:    acct.Acct,
	}
	if err := m.store.Save(creds); err != nil {
		return nil, fmt.Errorf("failed to save credentials: %w", err)
	}
	return m.store.Load()
}

// Logout forgets the stored credentials.
func (m *Manager) Logout() error {
	return m.store.Clear()
}

// Current returns the stored credentials or ErrNotLoggedIn.
func (m *Manager) Current() (*Credentials, error) {
	if !m.store.IsValid() {
		return nil, ErrNotLoggedIn
	}
	return m.store.Load()
}
