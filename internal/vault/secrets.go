package vault

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/mtzanidakis/relay/internal/config"
	"github.com/mtzanidakis/relay/internal/store"
)

// RefPrefix marks a configuration value stored in the vault.
const RefPrefix = "secret:"

var ErrSecretNotFound = errors.New("secret not found")

// Secrets stores named values in the store, sealed by the vault.
type Secrets struct {
	vault *Vault
	store *store.Store
}

func NewSecrets(v *Vault, s *store.Store) *Secrets {
	return &Secrets{vault: v, store: s}
}

// Set creates or replaces the secret called name.
func (s *Secrets) Set(name, description, value string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("secret name is required")
	}
	ciphertext, nonce, err := s.vault.Encrypt([]byte(value))
	if err != nil {
		return fmt.Errorf("encrypt %s: %w", name, err)
	}
	id := uuid.New().String()
	if existing, err := s.store.GetSecret(name); err != nil {
		return err
	} else if existing != nil {
		id = existing.ID
	}
	return s.store.SaveSecret(&store.Secret{
		ID:          id,
		Name:        name,
		Description: description,
		Value:       ciphertext,
		Nonce:       nonce,
	})
}

func (s *Secrets) Get(name string) (string, error) {
	sec, err := s.store.GetSecret(name)
	if err != nil {
		return "", err
	}
	if sec == nil {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	plain, err := s.vault.Decrypt(sec.Value, sec.Nonce)
	if err != nil {
		return "", fmt.Errorf("secret %s: %w", name, err)
	}
	return string(plain), nil
}

func (s *Secrets) List() ([]store.Secret, error) {
	return s.store.ListSecrets()
}

func (s *Secrets) Delete(name string) error {
	sec, err := s.store.GetSecret(name)
	if err != nil {
		return err
	}
	if sec == nil {
		return fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return s.store.DeleteSecret(name)
}

// Resolve returns value unchanged unless it is a secret:<name> reference.
func (s *Secrets) Resolve(value string) (string, error) {
	name, ok := strings.CutPrefix(strings.TrimSpace(value), RefPrefix)
	if !ok {
		return value, nil
	}
	return s.Get(strings.TrimSpace(name))
}

// ResolveConfig replaces secret references in the credential fields of cfg.
func (s *Secrets) ResolveConfig(cfg *config.Config) error {
	fields := []struct {
		name string
		ptr  *string
	}{
		{"llm.api_key", &cfg.LLM.APIKey},
		{"telegram.token", &cfg.Telegram.Token},
		{"web.auth", &cfg.Web.Auth},
		{"quotes.token", &cfg.Quotes.Token},
	}
	for _, f := range fields {
		if !strings.HasPrefix(strings.TrimSpace(*f.ptr), RefPrefix) {
			continue
		}
		v, err := s.Resolve(*f.ptr)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", f.name, err)
		}
		*f.ptr = v
		slog.Debug("resolved secret reference", "field", f.name)
	}
	return nil
}
