package config

import (
	"fmt"
	"os"

	"github.com/hashicorp/vault/api"
)

// SecretManager wraps the Vault API client for reading secrets. It is a
// no-op (returns an empty overlay) when VAULT_ADDR isn't set, so the
// environment-only configuration contract holds for deployments without a
// Vault instance.
type SecretManager struct {
	client *api.Client
}

// NewSecretManager creates a Vault client pointed at the given address and
// authenticated with the provided token.
func NewSecretManager(address, token string) (*SecretManager, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client initialization failed: %w", err)
	}
	client.SetToken(token)

	return &SecretManager{client: client}, nil
}

// GetSecret reads a secret at the given path and returns the raw data map.
// For KV v2 backends the caller must unwrap the nested "data" key.
func (s *SecretManager) GetSecret(path string) (map[string]interface{}, error) {
	secret, err := s.client.Logical().Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret at %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no data found at %s", path)
	}
	return secret.Data, nil
}

// GetKV2 reads from a KV v2 backend and returns the inner "data" map,
// unwrapping the v2 envelope automatically.
func (s *SecretManager) GetKV2(path string) (map[string]interface{}, error) {
	raw, err := s.GetSecret(path)
	if err != nil {
		return nil, err
	}
	data, ok := raw["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected data format at %s", path)
	}
	return data, nil
}

// loadVaultOverrides returns a string-keyed overlay of secret values when
// VAULT_ADDR is set, or an error (and the caller ignores it, keeping env-var
// defaults) when Vault isn't configured or reachable.
func loadVaultOverrides() (map[string]string, error) {
	addr := os.Getenv("VAULT_ADDR")
	if addr == "" {
		return nil, fmt.Errorf("vault not configured")
	}
	token := getenv("VAULT_TOKEN", "root")
	path := getenv("VAULT_SECRET_PATH", "secret/data/bonghwa-relay")

	sm, err := NewSecretManager(addr, token)
	if err != nil {
		return nil, err
	}
	kv, err := sm.GetKV2(path)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(kv))
	for k, v := range kv {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out, nil
}
