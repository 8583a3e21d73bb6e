// Package vault stores the mode-service credential in HashiCorp Vault.
// When Vault is disabled the client keeps secrets in an in-memory cache so
// local development works without a Vault server.
package vault

import (
	"context"
	"fmt"
	"sync"

	"trading-dashboard/config"

	"github.com/hashicorp/vault/api"
)

const credentialSecretName = "dashboard/mode-service"

// Client wraps the HashiCorp Vault client.
type Client struct {
	client *api.Client
	config config.VaultConfig

	mu    sync.RWMutex
	cache map[string]string
}

// NewClient creates a new Vault client. With Vault disabled the client
// operates against its local cache only.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg, cache: make(map[string]string)}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{CACert: cfg.CACert}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, config: cfg, cache: make(map[string]string)}, nil
}

// StoreModeServiceCredential writes the mode-service bearer credential.
func (c *Client) StoreModeServiceCredential(ctx context.Context, credential string) error {
	if !c.config.Enabled {
		c.mu.Lock()
		c.cache[credentialSecretName] = credential
		c.mu.Unlock()
		return nil
	}

	path := fmt.Sprintf("%s/data/%s", c.config.MountPath, credentialSecretName)
	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"credential": credential,
		},
	}

	if _, err := c.client.Logical().WriteWithContext(ctx, path, secretData); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

// ModeServiceCredential reads the stored mode-service bearer credential.
// Returns an empty string without error when nothing is stored.
func (c *Client) ModeServiceCredential(ctx context.Context) (string, error) {
	if !c.config.Enabled {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.cache[credentialSecretName], nil
	}

	path := fmt.Sprintf("%s/data/%s", c.config.MountPath, credentialSecretName)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to read credential: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", nil
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", nil
	}
	credential, _ := data["credential"].(string)
	return credential, nil
}
