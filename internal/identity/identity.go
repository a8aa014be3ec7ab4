// Package identity manages the opaque client identity token that
// parameterizes the channel endpoint.
//
// The token is persisted per installation and regenerated on demand. The
// server enforces no uniqueness; the time component plus a random uuid
// suffix makes collisions negligible.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/catchat-dev/catchat/internal/kv"
)

// Provider issues and persists the client identity token.
type Provider struct {
	store kv.Store
}

// NewProvider creates a provider backed by the given store.
func NewProvider(store kv.Store) *Provider {
	return &Provider{store: store}
}

// Current returns the persisted identity token, generating and persisting a
// fresh one if none exists yet.
func (p *Provider) Current() (string, error) {
	var token string
	err := p.store.Get(kv.KeyClientIdentity, &token)
	if err == nil && token != "" {
		return token, nil
	}
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return "", fmt.Errorf("failed to read client identity: %w", err)
	}
	return p.Refresh()
}

// Refresh generates a new identity token, persists it, and returns it.
// A fresh token is issued for every physical connection attempt.
func (p *Provider) Refresh() (string, error) {
	token := generate()
	if err := p.store.Set(kv.KeyClientIdentity, token); err != nil {
		return "", fmt.Errorf("failed to persist client identity: %w", err)
	}
	return token, nil
}

// generate builds a token of the form user_<unix-ms>_<8 hex chars>.
func generate() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("user_%d_%s", time.Now().UnixMilli(), suffix)
}
