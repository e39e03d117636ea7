package secrets

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/addispay/telebirr-service/internal/config"
	"github.com/addispay/telebirr-service/internal/domain/ports"
)

// New builds the configured secret manager backend. Backend "none" returns
// nil, which is valid as long as the config contains no secret:// references.
func New(ctx context.Context, cfg config.SecretsConfig, logger *zap.Logger) (ports.SecretManager, error) {
	switch cfg.Backend {
	case "none", "":
		return nil, nil
	case "local":
		return NewLocalSecretManager(cfg.LocalPath, logger)
	case "vault":
		return NewVaultSecretManager(cfg.VaultAddress, cfg.VaultToken, cfg.VaultMount, logger)
	case "aws":
		return NewAWSSecretManager(ctx, cfg.AWSRegion, cfg.AWSProfile, logger)
	default:
		return nil, fmt.Errorf("unknown secrets backend %q", cfg.Backend)
	}
}
