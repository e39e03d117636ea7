package secrets

import (
	"context"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/addispay/telebirr-service/internal/domain/ports"
)

// VaultSecretManager retrieves secrets from HashiCorp Vault's KV v2 engine.
type VaultSecretManager struct {
	client *vault.Client
	mount  string
	logger *zap.Logger
}

// NewVaultSecretManager creates a Vault-backed secret manager.
func NewVaultSecretManager(address, token, mount string, logger *zap.Logger) (*VaultSecretManager, error) {
	cfg := vault.DefaultConfig()
	cfg.Address = address

	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(token)

	return &VaultSecretManager{client: client, mount: mount, logger: logger}, nil
}

// GetSecret reads a KV v2 secret. The secret's "value" key carries the
// material; when absent, a single-key secret is accepted as-is.
func (m *VaultSecretManager) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	path = strings.TrimPrefix(path, m.mount+"/data/")

	kv, err := m.client.KVv2(m.mount).Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("read vault secret %s: %w", path, err)
	}

	value, ok := kv.Data["value"].(string)
	if !ok {
		if len(kv.Data) == 1 {
			for _, v := range kv.Data {
				value, ok = v.(string)
			}
		}
		if !ok {
			return nil, fmt.Errorf("vault secret %s has no usable value", path)
		}
	}

	m.logger.Debug("secret loaded from vault",
		zap.String("path", path),
		zap.Int("version", kv.VersionMetadata.Version),
	)
	return &ports.Secret{
		Value:    value,
		Version:  fmt.Sprintf("%d", kv.VersionMetadata.Version),
		Metadata: map[string]string{"source": "vault"},
	}, nil
}
